package engine

import (
	"fmt"

	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/catalog"
	"github.com/spacetimedb/core/pkg/commitlog"
)

// readKey is (TableId, DataKey), the unit of read/write-set intersection
// tested at commit time (§4.4 "Conflict resolution at commit").
type readKey struct {
	Table algebra.TableId
	Key   algebra.DataKey
}

// Tx is one open transaction: a parent offset it forked from, a read set,
// and an ordered, collapsed write set, plus an overlay of not-yet-committed
// row content so reads observe the transaction's own writes.
type Tx struct {
	engine *Engine

	parentOffset uint64
	readSet      map[readKey]struct{}
	writeSet     []algebra.Write
	writeIndex   map[readKey]int // last index in writeSet for this key, for collapsing

	overlayRows    map[algebra.TableId]map[algebra.DataKey]algebra.Row
	overlayDeleted map[algebra.TableId]map[algebra.DataKey]struct{}

	done bool
}

// Begin opens a new transaction forked from the engine's latest committed
// offset (§4.4 "Model").
func (e *Engine) Begin() *Tx {
	e.mu.Lock()
	defer e.mu.Unlock()

	parent := e.lastOffset
	e.openParents[parent]++

	return &Tx{
		engine:         e,
		parentOffset:   parent,
		readSet:        make(map[readKey]struct{}),
		writeIndex:     make(map[readKey]int),
		overlayRows:    make(map[algebra.TableId]map[algebra.DataKey]algebra.Row),
		overlayDeleted: make(map[algebra.TableId]map[algebra.DataKey]struct{}),
	}
}

func (tx *Tx) recordRead(table algebra.TableId, key algebra.DataKey) {
	tx.readSet[readKey{Table: table, Key: key}] = struct{}{}
}

// recordWrite appends op to the write set, collapsing per §4.4: an insert
// followed by a delete of the same (table, key) is a no-op; a delete
// followed by an insert replaces the delete.
func (tx *Tx) recordWrite(op algebra.Operation, table algebra.TableId, key algebra.DataKey) {
	rk := readKey{Table: table, Key: key}
	if idx, ok := tx.writeIndex[rk]; ok {
		prev := tx.writeSet[idx].Op
		if prev == algebra.OpInsert && op == algebra.OpDelete {
			tx.writeSet[idx] = algebra.Write{}
			tx.writeSet = append(tx.writeSet[:idx], tx.writeSet[idx+1:]...)
			delete(tx.writeIndex, rk)
			for rk2, i2 := range tx.writeIndex {
				if i2 > idx {
					tx.writeIndex[rk2] = i2 - 1
				}
			}
			return
		}
		tx.writeSet[idx] = algebra.Write{Op: op, Table: table, Key: key}
		return
	}
	tx.writeIndex[rk] = len(tx.writeSet)
	tx.writeSet = append(tx.writeSet, algebra.Write{Op: op, Table: table, Key: key})
}

func (tx *Tx) stageInsert(table algebra.TableId, key algebra.DataKey, row algebra.Row) {
	m, ok := tx.overlayRows[table]
	if !ok {
		m = make(map[algebra.DataKey]algebra.Row)
		tx.overlayRows[table] = m
	}
	m[key] = row
	if del, ok := tx.overlayDeleted[table]; ok {
		delete(del, key)
	}
	tx.recordWrite(algebra.OpInsert, table, key)
}

func (tx *Tx) stageDelete(table algebra.TableId, key algebra.DataKey) {
	if m, ok := tx.overlayRows[table]; ok {
		delete(m, key)
	}
	del, ok := tx.overlayDeleted[table]
	if !ok {
		del = make(map[algebra.DataKey]struct{})
		tx.overlayDeleted[table] = del
	}
	del[key] = struct{}{}
	tx.recordWrite(algebra.OpDelete, table, key)
}

// visibleRows returns every row of table visible to tx: committed rows
// overlaid with this transaction's own pending writes (read-your-writes),
// minus anything this transaction has deleted.
func (tx *Tx) visibleRows(table algebra.TableId) map[algebra.DataKey]algebra.Row {
	tx.engine.mu.RLock()
	st := tx.engine.tables[table]
	out := make(map[algebra.DataKey]algebra.Row, len(st.rows))
	for k, v := range st.rows {
		out[k] = v
	}
	tx.engine.mu.RUnlock()

	if del, ok := tx.overlayDeleted[table]; ok {
		for k := range del {
			delete(out, k)
		}
	}
	if ins, ok := tx.overlayRows[table]; ok {
		for k, v := range ins {
			out[k] = v
		}
	}
	return out
}

func (tx *Tx) uniqueIndexLookup(table algebra.TableId, idx *catalog.IndexDef, keyBytes string) (algebra.DataKey, algebra.Row, bool) {
	tx.engine.mu.RLock()
	st := tx.engine.tables[table]
	key, found := st.uniqueIndex[idx.ID][keyBytes]
	var row algebra.Row
	if found {
		row = st.rows[key]
	}
	tx.engine.mu.RUnlock()

	if found {
		if del, ok := tx.overlayDeleted[table]; ok {
			if _, deleted := del[key]; deleted {
				found = false
			}
		}
	}
	def, _ := tx.engine.cat.TableByID(table)
	if ins, ok := tx.overlayRows[table]; ok {
		for k, r := range ins {
			if indexKeyBytes(def, idx, r) == keyBytes {
				return k, r, true
			}
		}
	}
	if found {
		return key, row, true
	}
	return algebra.DataKey{}, algebra.Row{}, false
}

// Commit implements the conflict-resolution algorithm of §4.4. A nil,nil
// result means the transaction conflicted (Ok(None)) and the caller must
// retry from scratch; a non-nil error is a fatal I/O failure.
func (tx *Tx) Commit() (*CommitResult, error) {
	if tx.done {
		return nil, fmt.Errorf("engine: transaction already finished")
	}
	e := tx.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	defer tx.finish()

	if tx.parentOffset != e.lastOffset {
		for _, h := range e.history {
			if h.offset <= tx.parentOffset {
				continue
			}
			for rk := range tx.readSet {
				if _, clash := h.keys[rk]; clash {
					return nil, nil
				}
			}
		}
	}

	offset := e.lastOffset + 1
	commit := algebra.Commit{
		ParentHash:   e.lastHash,
		CommitOffset: offset,
		MinTxOffset:  offset,
		Transactions: []algebra.Transaction{{Writes: tx.writeSet}},
	}

	result := &CommitResult{Offset: offset, Writes: tx.writeSet}

	for _, w := range tx.writeSet {
		st := e.tableOrCreate(w.Table)
		def, _ := e.cat.TableByID(w.Table)
		switch w.Op {
		case algebra.OpInsert:
			row := tx.overlayRows[w.Table][w.Key]
			st.rows[w.Key] = row
			e.indexRow(w.Table, st, w.Key, row)
			if def != nil && def.Schedule != nil {
				result.ScheduledInserts = append(result.ScheduledInserts, ScheduledInsert{
					Table: w.Table, Key: w.Key, Reducer: def.Schedule.ReducerName, Row: row,
				})
			}
		case algebra.OpDelete:
			if row, ok := st.rows[w.Key]; ok {
				e.unindexRow(w.Table, st, row)
			}
			delete(st.rows, w.Key)
			if def != nil && def.Schedule != nil {
				result.ScheduledDeletes = append(result.ScheduledDeletes, ScheduledDelete{Table: w.Table, Key: w.Key})
			}
		}
	}

	keys := make(map[readKey]struct{}, len(tx.writeSet))
	for _, w := range tx.writeSet {
		keys[readKey{Table: w.Table, Key: w.Key}] = struct{}{}
	}
	e.history = append(e.history, historyEntry{offset: offset, keys: keys})
	e.pruneHistory()

	e.buffer = append(e.buffer, commit)
	frame := commitlog.EncodeCommit(commit)
	h := commitlog.HashCommit(frame)
	e.lastHash = &h
	e.lastOffset = offset

	if len(e.buffer) >= maxInt(1, e.cfg.CommitBufferFlushThreshold) {
		if err := e.flushLocked(); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (e *Engine) pruneHistory() {
	minParent := e.lastOffset
	for p, refs := range e.openParents {
		if refs > 0 && p < minParent {
			minParent = p
		}
	}
	kept := e.history[:0]
	for _, h := range e.history {
		if h.offset > minParent {
			kept = append(kept, h)
		}
	}
	e.history = kept
}

func (e *Engine) flushLocked() error {
	for _, c := range e.buffer {
		if _, err := e.log.Append(c); err != nil {
			return fmt.Errorf("engine: flush: %w", err)
		}
	}
	e.buffer = nil
	return nil
}

// Flush forces any buffered commits out to the commit log.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushLocked()
}

// Rollback discards the transaction. Infallible (§4.4).
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.engine.mu.Lock()
	defer tx.engine.mu.Unlock()
	tx.finish()
}

func (tx *Tx) finish() {
	if tx.done {
		return
	}
	tx.done = true
	tx.engine.openParents[tx.parentOffset]--
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
