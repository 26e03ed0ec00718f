package engine

import (
	"testing"

	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/bsatn"
	"github.com/spacetimedb/core/pkg/cas"
	"github.com/spacetimedb/core/pkg/catalog"
	"github.com/spacetimedb/core/pkg/commitlog"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := cas.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log, err := commitlog.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	cfg := DefaultConfig()
	cfg.CommitBufferFlushThreshold = 1
	e, err := Open(catalog.New(), store, log, cfg)
	require.NoError(t, err)
	return e
}

// playerSchema returns the row schema and ColumnDef set for a table with
// an autoincrement id and a unique name column.
func playerSchema() (algebra.Type, []catalog.ColumnDef) {
	schema := algebra.Product(
		algebra.NamedType{Name: "id", Type: algebra.Primitive(algebra.KindU64)},
		algebra.NamedType{Name: "name", Type: algebra.Primitive(algebra.KindString)},
	)
	cols := []catalog.ColumnDef{
		{ID: 0, Name: "id", Type: algebra.Primitive(algebra.KindU64), IsAutoInc: true},
		{ID: 1, Name: "name", Type: algebra.Primitive(algebra.KindString)},
	}
	return schema, cols
}

func createPlayerTable(t *testing.T, e *Engine) (*catalog.TableDef, *catalog.IndexDef) {
	t.Helper()
	schema, cols := playerSchema()

	tx := e.Begin()
	def, err := tx.CreateTable("player", schema, catalog.Public, cols)
	require.NoError(t, err)
	_, err = tx.CreateSequence(def.ID, 0, 1, 1, 1, 1_000_000)
	require.NoError(t, err)
	idx, err := tx.CreateIndex(def.ID, "player_name_idx", []algebra.ColId{1}, true)
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)

	return def, idx
}

func encodePlayer(schema algebra.Type, id uint64, name string) []byte {
	row := algebra.Row{Values: []algebra.Value{
		algebra.Uint64(algebra.KindU64, id),
		algebra.Str(name),
	}}
	return bsatn.EncodeRow(schema, row)
}

func TestInsertAssignsAutoincrementAndIsVisibleAfterCommit(t *testing.T) {
	e := newTestEngine(t)
	def, _ := createPlayerTable(t, e)

	tx := e.Begin()
	generated, err := tx.Insert(def.ID, encodePlayer(def.RowSchema, 0, "alice"), 0)
	require.NoError(t, err)
	require.NotEmpty(t, generated)

	idType := algebra.Product(algebra.NamedType{Type: algebra.Primitive(algebra.KindU64)})
	decoded, _, err := bsatn.DecodeRow(generated, idType)
	require.NoError(t, err)
	require.Equal(t, uint64(1), decoded.Values[0].Int.(uint64))

	_, err = tx.Commit()
	require.NoError(t, err)

	tx2 := e.Begin()
	count, err := tx2.RowCount(def.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)
	tx2.Rollback()
}

func TestInsertRejectsDuplicateUniqueIndex(t *testing.T) {
	e := newTestEngine(t)
	def, _ := createPlayerTable(t, e)

	tx := e.Begin()
	_, err := tx.Insert(def.ID, encodePlayer(def.RowSchema, 0, "alice"), 0)
	require.NoError(t, err)
	_, err = tx.Insert(def.ID, encodePlayer(def.RowSchema, 0, "alice"), 0)
	require.Error(t, err)
	tx.Rollback()
}

func TestUpdateReplacesRowByUniqueIndex(t *testing.T) {
	e := newTestEngine(t)
	def, idx := createPlayerTable(t, e)

	tx := e.Begin()
	_, err := tx.Insert(def.ID, encodePlayer(def.RowSchema, 0, "alice"), 0)
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)

	tx2 := e.Begin()
	_, err = tx2.Update(def.ID, idx.ID, encodePlayer(def.RowSchema, 1, "alice"), 0)
	require.NoError(t, err)
	_, err = tx2.Commit()
	require.NoError(t, err)

	tx3 := e.Begin()
	it, err := tx3.Scan(def.ID)
	require.NoError(t, err)
	done, buf, err := it.Advance(4096)
	require.NoError(t, err)
	require.False(t, done)
	row, n, err := bsatn.DecodeRow(buf, def.RowSchema)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, uint64(1), row.Values[0].Int.(uint64))
	tx3.Rollback()
}

func TestUpdateMissingRowReturnsNoSuchRow(t *testing.T) {
	e := newTestEngine(t)
	def, idx := createPlayerTable(t, e)

	tx := e.Begin()
	_, err := tx.Update(def.ID, idx.ID, encodePlayer(def.RowSchema, 1, "nobody"), 0)
	require.Error(t, err)
	tx.Rollback()
}

func TestConcurrentTransactionsConflictOnOverlappingKeys(t *testing.T) {
	e := newTestEngine(t)
	def, idx := createPlayerTable(t, e)

	tx0 := e.Begin()
	_, err := tx0.Insert(def.ID, encodePlayer(def.RowSchema, 0, "alice"), 0)
	require.NoError(t, err)
	_, err = tx0.Commit()
	require.NoError(t, err)

	txA := e.Begin()
	txB := e.Begin()

	itA, err := txA.Scan(def.ID)
	require.NoError(t, err)
	_, _, err = itA.Advance(4096) // records a read of alice's current DataKey

	require.NoError(t, err)

	// txB replaces alice's row (same unique key "name", different id), which
	// deletes the exact DataKey txA just read.
	_, err = txB.Update(def.ID, idx.ID, encodePlayer(def.RowSchema, 99, "alice"), 0)
	require.NoError(t, err)
	resultB, err := txB.Commit()
	require.NoError(t, err)
	require.NotNil(t, resultB)

	_, err = txA.Insert(def.ID, encodePlayer(def.RowSchema, 0, "carol"), 0)
	require.NoError(t, err)
	resultA, err := txA.Commit()
	require.NoError(t, err)
	require.Nil(t, resultA, "expected conflicting transaction to be rejected as Ok(None)")
}

func TestNonOverlappingTransactionsBothCommit(t *testing.T) {
	e := newTestEngine(t)
	def, _ := createPlayerTable(t, e)

	txA := e.Begin()
	txB := e.Begin()

	_, err := txA.Insert(def.ID, encodePlayer(def.RowSchema, 0, "alice"), 0)
	require.NoError(t, err)
	resultA, err := txA.Commit()
	require.NoError(t, err)
	require.NotNil(t, resultA)

	_, err = txB.Insert(def.ID, encodePlayer(def.RowSchema, 0, "bob"), 0)
	require.NoError(t, err)
	resultB, err := txB.Commit()
	require.NoError(t, err)
	require.NotNil(t, resultB)

	tx := e.Begin()
	count, err := tx.RowCount(def.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)
	tx.Rollback()
}

func TestScanAdvanceBufferTooSmallOnFirstRow(t *testing.T) {
	e := newTestEngine(t)
	def, _ := createPlayerTable(t, e)

	tx := e.Begin()
	_, err := tx.Insert(def.ID, encodePlayer(def.RowSchema, 0, "alice-has-a-long-name-for-this-test"), 0)
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)

	tx2 := e.Begin()
	it, err := tx2.Scan(def.ID)
	require.NoError(t, err)
	done, buf, err := it.Advance(1)
	require.False(t, done)
	require.Nil(t, buf)
	require.Error(t, err)
	tx2.Rollback()
}

func TestScanAdvanceExhaustsThenClosesIterator(t *testing.T) {
	e := newTestEngine(t)
	def, _ := createPlayerTable(t, e)

	tx := e.Begin()
	_, err := tx.Insert(def.ID, encodePlayer(def.RowSchema, 0, "alice"), 0)
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)

	tx2 := e.Begin()
	it, err := tx2.Scan(def.ID)
	require.NoError(t, err)

	done, buf, err := it.Advance(4096)
	require.NoError(t, err)
	require.False(t, done)
	require.NotEmpty(t, buf)

	done, buf, err = it.Advance(4096)
	require.NoError(t, err)
	require.True(t, done)
	require.Nil(t, buf)

	_, _, err = it.Advance(4096)
	require.Error(t, err)
	tx2.Rollback()
}

func TestIndexScanPointFindsSingleMatch(t *testing.T) {
	e := newTestEngine(t)
	def, idx := createPlayerTable(t, e)

	tx := e.Begin()
	_, err := tx.Insert(def.ID, encodePlayer(def.RowSchema, 0, "alice"), 0)
	require.NoError(t, err)
	_, err = tx.Insert(def.ID, encodePlayer(def.RowSchema, 0, "bob"), 0)
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)

	keyBytes := bsatn.EncodeValue(algebra.Primitive(algebra.KindString), algebra.Str("bob"))

	tx2 := e.Begin()
	it, err := tx2.IndexScanPoint(idx.ID, keyBytes)
	require.NoError(t, err)
	_, buf, err := it.Advance(4096)
	require.NoError(t, err)
	row, _, err := bsatn.DecodeRow(buf, def.RowSchema)
	require.NoError(t, err)
	require.Equal(t, "bob", row.Values[1].Str)

	done, _, err := it.Advance(4096)
	require.NoError(t, err)
	require.True(t, done)
	tx2.Rollback()
}

func TestDeleteByIndexRangeRemovesMatchingRows(t *testing.T) {
	e := newTestEngine(t)
	def, idx := createPlayerTable(t, e)

	tx := e.Begin()
	_, err := tx.Insert(def.ID, encodePlayer(def.RowSchema, 0, "alice"), 0)
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)

	keyBytes := bsatn.EncodeBound(nil, algebra.Primitive(algebra.KindString), algebra.NewIncluded(algebra.Str("alice")))

	tx2 := e.Begin()
	n, err := tx2.DeleteByIndexRange(idx.ID, nil, 0, keyBytes, keyBytes)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = tx2.Commit()
	require.NoError(t, err)

	tx3 := e.Begin()
	count, err := tx3.RowCount(def.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(0), count)
	tx3.Rollback()
}

func TestScheduledTableReportsInsertAndDelete(t *testing.T) {
	e := newTestEngine(t)

	scheduleType := algebra.Sum(
		algebra.NamedType{Name: "Time", Type: algebra.Primitive(algebra.KindI64)},
		algebra.NamedType{Name: "Interval", Type: algebra.Primitive(algebra.KindI64)},
	)
	schema := algebra.Product(
		algebra.NamedType{Name: "id", Type: algebra.Primitive(algebra.KindU64)},
		algebra.NamedType{Name: "scheduled_at", Type: scheduleType},
	)
	cols := []catalog.ColumnDef{
		{ID: 0, Name: "id", Type: algebra.Primitive(algebra.KindU64), IsAutoInc: true},
		{ID: 1, Name: "scheduled_at", Type: scheduleType},
	}

	tx := e.Begin()
	def, err := tx.CreateTable("tick", schema, catalog.Public, cols)
	require.NoError(t, err)
	_, err = tx.CreateSequence(def.ID, 0, 1, 1, 1, 1_000_000)
	require.NoError(t, err)
	require.NoError(t, tx.SetSchedule(def.ID, 1, "on_tick"))
	_, err = tx.Commit()
	require.NoError(t, err)

	row := algebra.Row{Values: []algebra.Value{
		algebra.Uint64(algebra.KindU64, 0),
		{Kind: algebra.KindSum, Sum: &algebra.SumValue{Tag: 0, Inner: algebra.Int64(algebra.KindI64, 1000)}},
	}}
	rowBytes := bsatn.EncodeRow(def.RowSchema, row)

	tx2 := e.Begin()
	_, err = tx2.Insert(def.ID, rowBytes, 0)
	require.NoError(t, err)
	result, err := tx2.Commit()
	require.NoError(t, err)
	require.Len(t, result.ScheduledInserts, 1)
	require.Equal(t, "on_tick", result.ScheduledInserts[0].Reducer)

	committedRow := result.ScheduledInserts[0].Row

	tx3 := e.Begin()
	n, err := tx3.DeleteAllByEq(def.ID, []algebra.Row{committedRow})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	resultDel, err := tx3.Commit()
	require.NoError(t, err)
	require.Len(t, resultDel.ScheduledDeletes, 1)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	e := newTestEngine(t)
	def, _ := createPlayerTable(t, e)

	tx := e.Begin()
	_, err := tx.Insert(def.ID, encodePlayer(def.RowSchema, 0, "alice"), 0)
	require.NoError(t, err)
	tx.Rollback()

	tx2 := e.Begin()
	count, err := tx2.RowCount(def.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(0), count)
	tx2.Rollback()
}

func TestReplayRebuildsStateAfterReopen(t *testing.T) {
	storeDir := t.TempDir()
	logDir := t.TempDir()

	store, err := cas.Open(storeDir)
	require.NoError(t, err)

	log, err := commitlog.Open(logDir)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cat := catalog.New()
	e, err := Open(cat, store, log, cfg)
	require.NoError(t, err)

	def, _ := createPlayerTable(t, e)
	tx := e.Begin()
	_, err = tx.Insert(def.ID, encodePlayer(def.RowSchema, 0, "alice"), 0)
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)
	require.NoError(t, e.Flush())

	require.NoError(t, log.Close())
	require.NoError(t, store.Close())

	store2, err := cas.Open(storeDir)
	require.NoError(t, err)
	defer store2.Close()
	log2, err := commitlog.Open(logDir)
	require.NoError(t, err)
	defer log2.Close()

	systemRows, err := ExtractSystemRows(store2, log2)
	require.NoError(t, err)
	cat2 := catalog.Rebuild(systemRows)
	recreated, ok := cat2.TableByID(def.ID)
	require.True(t, ok)
	require.Equal(t, def.Name, recreated.Name)
	require.Len(t, recreated.Columns, len(def.Columns))

	e2, err := Open(cat2, store2, log2, cfg)
	require.NoError(t, err)
	require.Equal(t, e.LastOffset(), e2.LastOffset())

	tx2 := e2.Begin()
	count, err := tx2.RowCount(def.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)
	tx2.Rollback()
}
