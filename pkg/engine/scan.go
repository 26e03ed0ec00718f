package engine

import (
	"sort"

	"github.com/spacetimedb/core/pkg/abi"
	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/bsatn"
	"github.com/spacetimedb/core/pkg/catalog"
)

// matched pairs a DataKey with its decoded row, in index order.
type matched struct {
	Key algebra.DataKey
	Row algebra.Row
}

// Iterator yields concatenated BSATN-encoded rows in chunks, implementing
// the buffer-too-small contract of §4.4. Rows are marked read (added to
// the owning transaction's read set) only as they are actually handed
// back by Advance.
type Iterator struct {
	tx     *Tx
	table  algebra.TableId
	schema algebra.Type
	rows   []matched
	pos    int
	closed bool
}

// Advance fills cap bytes with whole encoded rows. done=true means the
// iterator is exhausted and now destroyed. An empty, not-done result is
// never returned: that case instead yields BUFFER_TOO_SMALL(needed).
func (it *Iterator) Advance(cap int) (bool, []byte, error) {
	if it.closed {
		return false, nil, abi.New(abi.ErrNoSuchIter)
	}
	if it.pos >= len(it.rows) {
		it.closed = true
		return true, nil, nil
	}
	var buf []byte
	for it.pos < len(it.rows) {
		next := it.rows[it.pos]
		encoded := bsatn.EncodeRow(it.schema, next.Row)
		if len(buf)+len(encoded) > cap {
			if len(buf) == 0 {
				return false, nil, abi.BufferTooSmall(uint32(len(encoded)))
			}
			break
		}
		buf = append(buf, encoded...)
		it.tx.recordRead(it.table, next.Key)
		it.pos++
	}
	return false, buf, nil
}

// Close destroys the iterator early. Double-close is NO_SUCH_ITER.
func (it *Iterator) Close() error {
	if it.closed {
		return abi.New(abi.ErrNoSuchIter)
	}
	it.closed = true
	return nil
}

// RowCount implements row_count(table_id) (§4.4).
func (tx *Tx) RowCount(table algebra.TableId) (uint64, error) {
	if _, ok := tx.engine.cat.TableByID(table); !ok {
		return 0, abi.New(abi.ErrNoSuchTable)
	}
	return uint64(len(tx.visibleRows(table))), nil
}

// Scan implements scan(table_id): a full, key-ordered table scan.
func (tx *Tx) Scan(table algebra.TableId) (*Iterator, error) {
	def, ok := tx.engine.cat.TableByID(table)
	if !ok {
		return nil, abi.New(abi.ErrNoSuchTable)
	}
	visible := tx.visibleRows(table)
	rows := make([]matched, 0, len(visible))
	for k, r := range visible {
		rows = append(rows, matched{Key: k, Row: r})
	}
	sort.Slice(rows, func(i, j int) bool { return dataKeySortBytes(rows[i].Key) < dataKeySortBytes(rows[j].Key) })
	return &Iterator{tx: tx, table: table, schema: def.RowSchema, rows: rows}, nil
}

// ScanRows returns every visible row of table together with its key,
// key-ordered, without the BSATN round-trip Scan's Iterator imposes on
// callers outside the engine package. Used by replica startup to reseed
// the scheduler from a scheduled table's rows (§4.6) without having to
// re-decode what the transaction already holds decoded.
func (tx *Tx) ScanRows(table algebra.TableId) ([]algebra.DataKey, []algebra.Row, error) {
	if _, ok := tx.engine.cat.TableByID(table); !ok {
		return nil, nil, abi.New(abi.ErrNoSuchTable)
	}
	visible := tx.visibleRows(table)
	keys := make([]algebra.DataKey, 0, len(visible))
	for k := range visible {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return dataKeySortBytes(keys[i]) < dataKeySortBytes(keys[j])
	})
	rows := make([]algebra.Row, len(keys))
	for i, k := range keys {
		rows[i] = visible[k]
	}
	return keys, rows, nil
}

func dataKeySortBytes(k algebra.DataKey) string {
	if k.Inline {
		return k.Bytes
	}
	return string(k.Hash[:])
}

// collectRange resolves an index range scan to its matching rows, shared
// by IndexScanRange/IndexScanPoint and DeleteByIndexRange.
func (tx *Tx) collectRange(indexID algebra.IndexId, prefixBytes []byte, prefixLen int, rstartBytes, rendBytes []byte) (*catalog.TableDef, *catalog.IndexDef, []matched, error) {
	idx, def, ok := tx.engine.cat.IndexByID(indexID)
	if !ok {
		return nil, nil, nil, abi.New(abi.ErrNoSuchIndex)
	}
	if prefixLen < 0 || prefixLen >= len(idx.Columns) {
		return nil, nil, nil, abi.New(abi.ErrBsatnDecodeError)
	}

	prefixValues := make([]algebra.Value, prefixLen)
	off := 0
	for i := 0; i < prefixLen; i++ {
		t := columnType(def, idx.Columns[i])
		v, n, err := bsatn.Decode(prefixBytes[off:], t)
		if err != nil {
			return nil, nil, nil, abi.New(abi.ErrBsatnDecodeError)
		}
		prefixValues[i] = v
		off += n
	}

	boundType := columnType(def, idx.Columns[prefixLen])
	rstart, _, err := bsatn.DecodeBound(rstartBytes, boundType)
	if err != nil {
		return nil, nil, nil, abi.New(abi.ErrBsatnDecodeError)
	}
	rend, _, err := bsatn.DecodeBound(rendBytes, boundType)
	if err != nil {
		return nil, nil, nil, abi.New(abi.ErrBsatnDecodeError)
	}

	visible := tx.visibleRows(def.ID)
	var out []matched
	for key, row := range visible {
		ok := true
		for i := 0; i < prefixLen; i++ {
			if algebra.Compare(row.Field(idx.Columns[i]), prefixValues[i]) != 0 {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		v := row.Field(idx.Columns[prefixLen])
		if !algebra.SatisfiesLower(rstart, v) || !algebra.SatisfiesUpper(rend, v) {
			continue
		}
		out = append(out, matched{Key: key, Row: row})
	}
	sort.Slice(out, func(i, j int) bool {
		return indexKeyBytes(def, idx, out[i].Row) < indexKeyBytes(def, idx, out[j].Row)
	})
	return def, idx, out, nil
}

// IndexScanRange implements index_scan_range_bsatn (§4.4).
func (tx *Tx) IndexScanRange(indexID algebra.IndexId, prefixBytes []byte, prefixLen int, rstartBytes, rendBytes []byte) (*Iterator, error) {
	def, _, rows, err := tx.collectRange(indexID, prefixBytes, prefixLen, rstartBytes, rendBytes)
	if err != nil {
		return nil, err
	}
	return &Iterator{tx: tx, table: def.ID, schema: def.RowSchema, rows: rows}, nil
}

// IndexScanPoint implements index_scan_point_bsatn: prefix_len=0,
// rstart=rend=Included(key) over the index's leading column (§4.4).
func (tx *Tx) IndexScanPoint(indexID algebra.IndexId, keyBytes []byte) (*Iterator, error) {
	idx, def, ok := tx.engine.cat.IndexByID(indexID)
	if !ok {
		return nil, abi.New(abi.ErrNoSuchIndex)
	}
	t := columnType(def, idx.Columns[0])
	v, _, err := bsatn.Decode(keyBytes, t)
	if err != nil {
		return nil, abi.New(abi.ErrBsatnDecodeError)
	}
	boundBytes := bsatn.EncodeBound(nil, t, algebra.NewIncluded(v))
	return tx.IndexScanRange(idx.ID, nil, 0, boundBytes, boundBytes)
}

// DeleteByIndexRange implements delete_by_index_scan_range_bsatn /
// delete_by_index_scan_point_bsatn (the point case is prefix_len=0,
// rstart=rend=Included as above), returning the number of rows deleted.
func (tx *Tx) DeleteByIndexRange(indexID algebra.IndexId, prefixBytes []byte, prefixLen int, rstartBytes, rendBytes []byte) (int, error) {
	_, _, rows, err := tx.collectRange(indexID, prefixBytes, prefixLen, rstartBytes, rendBytes)
	if err != nil {
		return 0, err
	}
	_, def, _ := tx.engine.cat.IndexByID(indexID)
	for _, m := range rows {
		tx.stageDelete(def.ID, m.Key)
	}
	return len(rows), nil
}
