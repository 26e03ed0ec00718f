package engine

import (
	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/bsatn"
	"github.com/spacetimedb/core/pkg/cas"
	"github.com/spacetimedb/core/pkg/catalog"
	"github.com/spacetimedb/core/pkg/commitlog"
)

var systemTableIDs = []algebra.TableId{
	catalog.StTable,
	catalog.StColumns,
	catalog.StIndexes,
	catalog.StSequences,
	catalog.StConstraints,
	catalog.StModule,
}

// ExtractSystemRows replays the commit log's inserts and deletes to
// materialize the rows still present in the six system tables, decoded against their fixed
// schema (SystemRowSchema does not depend on a live Catalog). pkg/replica
// calls this, then catalog.Rebuild, before Open: the Engine needs a
// Catalog whose user-table schemas are already correct in order to
// replay user-table rows, so schema recovery has to happen ahead of
// engine replay rather than as part of it.
func ExtractSystemRows(store cas.Store, log *commitlog.Log) (map[algebra.TableId][]algebra.Row, error) {
	out := make(map[algebra.TableId][]algebra.Row, len(systemTableIDs))
	schemas := make(map[algebra.TableId]algebra.Type, len(systemTableIDs))
	for _, id := range systemTableIDs {
		out[id] = nil
		schemas[id] = catalog.SystemRowSchema(id)
	}

	last, err := log.LastOffset()
	if err != nil {
		return nil, err
	}
	if last == 0 {
		return out, nil
	}

	entries, err := log.Iter()
	if err != nil {
		return nil, err
	}
	for _, oc := range entries {
		for _, txn := range oc.Commit.Transactions {
			for _, w := range txn.Writes {
				schema, ok := schemas[w.Table]
				if !ok {
					continue
				}
				raw, ok := resolveWriteBytes(store, w.Key)
				if !ok {
					continue
				}
				row, _, err := bsatn.DecodeRow(raw, schema)
				if err != nil {
					continue
				}
				switch w.Op {
				case algebra.OpInsert:
					out[w.Table] = append(out[w.Table], row)
				case algebra.OpDelete:
					out[w.Table] = deleteMatchingRow(out[w.Table], schema, row)
				}
			}
		}
	}
	return out, nil
}

func resolveWriteBytes(store cas.Store, key algebra.DataKey) ([]byte, bool) {
	if key.Inline {
		return []byte(key.Bytes), true
	}
	b, found, err := store.Get(key.Hash)
	if err != nil || !found {
		return nil, false
	}
	return b, true
}

// deleteMatchingRow removes the first row byte-equal to row (a system
// table is never large enough for this linear scan to matter).
func deleteMatchingRow(rows []algebra.Row, schema algebra.Type, row algebra.Row) []algebra.Row {
	target := bsatn.EncodeRow(schema, row)
	for i, r := range rows {
		if string(bsatn.EncodeRow(schema, r)) == string(target) {
			return append(rows[:i], rows[i+1:]...)
		}
	}
	return rows
}
