// Package engine implements the in-memory MVCC storage engine (§4.4):
// snapshot-level read isolation per transaction, deterministic
// commit-time conflict resolution, the catalog-bound DDL operations, and
// the row/iterator surface the module ABI drives. Command dispatch and
// the accept/reject bookkeeping are grounded in the teacher's
// raft.FSM.Apply pattern (pkg/manager/fsm.go), generalized from a single
// global mutex over cluster state to per-transaction read/write sets.
package engine

import (
	"fmt"
	"sync"

	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/bsatn"
	"github.com/spacetimedb/core/pkg/cas"
	"github.com/spacetimedb/core/pkg/catalog"
	"github.com/spacetimedb/core/pkg/commitlog"
)

// inlineThreshold is the largest encoded row size stored inline in a
// DataKey rather than spilled to the content store (§4.1: "short values
// ... never touch the store").
const inlineThreshold = 256

// tableState is the committed, in-memory state of one table: its decoded
// rows keyed by DataKey, plus one lookup map per unique index for O(1)
// uniqueness checks and point lookups. Range scans walk Rows directly;
// this is the "(new) internal detail" the spec leaves unspecified —
// see DESIGN.md for why a full B-tree was not built.
type tableState struct {
	rows        map[algebra.DataKey]algebra.Row
	uniqueIndex map[algebra.IndexId]map[string]algebra.DataKey
}

func newTableState() *tableState {
	return &tableState{
		rows:        make(map[algebra.DataKey]algebra.Row),
		uniqueIndex: make(map[algebra.IndexId]map[string]algebra.DataKey),
	}
}

// ScheduledInsert is reported on CommitResult for every row inserted into
// a scheduled table, so the replica layer can hand it to the scheduler
// without the engine importing pkg/scheduler (§4.6).
type ScheduledInsert struct {
	Table   algebra.TableId
	Key     algebra.DataKey
	Reducer string
	Row     algebra.Row
}

// ScheduledDelete is reported for every row deleted from a scheduled
// table, so the replica layer can cancel the corresponding queue entry.
type ScheduledDelete struct {
	Table algebra.TableId
	Key   algebra.DataKey
}

// CommitResult is returned by a successful Tx.Commit.
type CommitResult struct {
	Offset           uint64
	Writes           []algebra.Write
	ScheduledInserts []ScheduledInsert
	ScheduledDeletes []ScheduledDelete
}

// Config holds the engine's tunables, loaded by pkg/config (§9 Open
// Questions: these are configuration, not hard-coded).
type Config struct {
	CommitBufferFlushThreshold int
	MaxScheduleDelayNanos      int64
}

func DefaultConfig() Config {
	return Config{CommitBufferFlushThreshold: 1, MaxScheduleDelayNanos: 0}
}

// Engine is the in-memory MVCC store for one replica. It exclusively owns
// the catalog and all committed row data (§3 Ownership).
type Engine struct {
	mu sync.RWMutex

	cat *catalog.Catalog
	cas cas.Store
	log *commitlog.Log
	cfg Config

	tables map[algebra.TableId]*tableState

	lastOffset uint64
	lastHash   *algebra.Hash
	history    []historyEntry // committed write sets with offset > any open tx's parent

	buffer      []algebra.Commit
	bufferBytes int

	openParents map[uint64]int // refcounts of parentOffset values held by open transactions
}

type historyEntry struct {
	offset uint64
	keys   map[readKey]struct{}
}

// Open constructs an Engine bound to the given catalog, content store and
// commit log, replaying the log to rebuild committed table state.
func Open(cat *catalog.Catalog, store cas.Store, log *commitlog.Log, cfg Config) (*Engine, error) {
	e := &Engine{
		cat:         cat,
		cas:         store,
		log:         log,
		cfg:         cfg,
		tables:      make(map[algebra.TableId]*tableState),
		openParents: make(map[uint64]int),
	}
	for _, t := range cat.AllTables() {
		e.tables[t.ID] = newTableState()
	}
	if err := e.replay(); err != nil {
		return nil, fmt.Errorf("engine: replay: %w", err)
	}
	return e, nil
}

// replay rebuilds committed table state from every commit already durable
// in the commit log (crash recovery, §8).
func (e *Engine) replay() error {
	offset, err := e.log.LastOffset()
	if err != nil {
		return err
	}
	if offset == 0 {
		return nil
	}
	entries, err := e.log.Iter()
	if err != nil {
		return err
	}
	for _, oc := range entries {
		for _, txn := range oc.Commit.Transactions {
			e.applyWriteSet(txn.Writes)
		}
		e.lastOffset = oc.Offset
		frame := commitlog.EncodeCommit(oc.Commit)
		h := commitlog.HashCommit(frame)
		e.lastHash = &h
	}
	return nil
}

func (e *Engine) applyWriteSet(writes []algebra.Write) {
	for _, w := range writes {
		st := e.tableOrCreate(w.Table)
		switch w.Op {
		case algebra.OpInsert:
			row, ok := e.materialize(w.Table, w.Key)
			if !ok {
				continue
			}
			st.rows[w.Key] = row
			e.indexRow(w.Table, st, w.Key, row)
		case algebra.OpDelete:
			if row, ok := st.rows[w.Key]; ok {
				e.unindexRow(w.Table, st, row)
			}
			delete(st.rows, w.Key)
		}
	}
}

func (e *Engine) tableOrCreate(id algebra.TableId) *tableState {
	st, ok := e.tables[id]
	if !ok {
		st = newTableState()
		e.tables[id] = st
	}
	return st
}

// materialize decodes the row stored at key, fetching from the content
// store if the key is a hash reference.
func (e *Engine) materialize(table algebra.TableId, key algebra.DataKey) (algebra.Row, bool) {
	def, ok := e.cat.TableByID(table)
	if !ok {
		return algebra.Row{}, false
	}
	var raw []byte
	if key.Inline {
		raw = []byte(key.Bytes)
	} else {
		b, found, err := e.cas.Get(key.Hash)
		if err != nil || !found {
			return algebra.Row{}, false
		}
		raw = b
	}
	row, _, err := bsatn.DecodeRow(raw, def.RowSchema)
	if err != nil {
		return algebra.Row{}, false
	}
	return row, true
}

func (e *Engine) indexRow(table algebra.TableId, st *tableState, key algebra.DataKey, row algebra.Row) {
	def, ok := e.cat.TableByID(table)
	if !ok {
		return
	}
	for _, idx := range def.Indexes {
		if !idx.Unique {
			continue
		}
		m, ok := st.uniqueIndex[idx.ID]
		if !ok {
			m = make(map[string]algebra.DataKey)
			st.uniqueIndex[idx.ID] = m
		}
		m[indexKeyBytes(def, idx, row)] = key
	}
}

func (e *Engine) unindexRow(table algebra.TableId, st *tableState, row algebra.Row) {
	def, ok := e.cat.TableByID(table)
	if !ok {
		return
	}
	for _, idx := range def.Indexes {
		if !idx.Unique {
			continue
		}
		if m, ok := st.uniqueIndex[idx.ID]; ok {
			delete(m, indexKeyBytes(def, idx, row))
		}
	}
}

// indexKeyBytes encodes the indexed columns of row in index-column order,
// used both as the unique-index map key and as the index's BSATN key type
// for range comparisons.
func indexKeyBytes(def *catalog.TableDef, idx *catalog.IndexDef, row algebra.Row) string {
	var buf []byte
	for _, col := range idx.Columns {
		v := row.Field(col)
		t := columnType(def, col)
		buf = bsatn.Encode(buf, t, v)
	}
	return string(buf)
}

func columnType(def *catalog.TableDef, col algebra.ColId) algebra.Type {
	for _, c := range def.Columns {
		if c.ID == col {
			return c.Type
		}
	}
	return algebra.Type{}
}

// Catalog returns the engine's bound catalog, read-mostly after bootstrap.
func (e *Engine) Catalog() *catalog.Catalog { return e.cat }

// LastOffset returns the most recently committed offset.
func (e *Engine) LastOffset() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastOffset
}

// LastCommitOffset satisfies pkg/metrics.EngineStats.
func (e *Engine) LastCommitOffset() uint64 {
	return e.LastOffset()
}

// RowCounts reports the live row count of every table known to the
// catalog, keyed by table name, for periodic metrics collection.
func (e *Engine) RowCounts() map[string]uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	counts := make(map[string]uint64, len(e.tables))
	for _, def := range e.cat.AllTables() {
		st, ok := e.tables[def.ID]
		if !ok {
			continue
		}
		counts[def.Name] = uint64(len(st.rows))
	}
	return counts
}
