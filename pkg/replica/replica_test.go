package replica

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spacetimedb/core/pkg/abi"
	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/bsatn"
	"github.com/spacetimedb/core/pkg/catalog"
	"github.com/spacetimedb/core/pkg/engine"
	"github.com/spacetimedb/core/pkg/host"
)

func counterProgram(reducers map[string]host.ReducerFunc, lifecycle map[string]abi.ReducerLifecycle) *host.Program {
	descs := make([]abi.ReducerDesc, 0, len(reducers))
	for name := range reducers {
		descs = append(descs, abi.ReducerDesc{Name: name, Lifecycle: lifecycle[name]})
	}
	return &host.Program{
		Hash:        algebra.Hash{0x42},
		Description: abi.ModuleDescription{Reducers: descs, Version: abi.Version{Major: 1}},
		Reducers:    reducers,
	}
}

func TestOpenCreatesDataLayoutAndRecoversEmptyCatalog(t *testing.T) {
	dir := t.TempDir()
	m := NewManager()
	_, err := m.Open(dir, 1, engine.DefaultConfig())
	require.NoError(t, err)
	defer m.CloseAll()

	require.DirExists(t, dir+"/snapshots")
	require.DirExists(t, dir+"/module_logs")
	require.FileExists(t, dir+"/lock")
}

func TestOpenRefusesASecondConcurrentOpenOfTheSameDirectory(t *testing.T) {
	dir := t.TempDir()
	m := NewManager()
	_, err := m.Open(dir, 1, engine.DefaultConfig())
	require.NoError(t, err)
	defer m.CloseAll()

	other := NewManager()
	_, err = other.Open(dir, 2, engine.DefaultConfig())
	require.Error(t, err)
	require.Contains(t, err.Error(), "already open")
}

func TestOpenRefusesTheSameReplicaIdTwiceOnOneManager(t *testing.T) {
	m := NewManager()
	_, err := m.Open(t.TempDir(), 1, engine.DefaultConfig())
	require.NoError(t, err)
	defer m.CloseAll()

	_, err = m.Open(t.TempDir(), 1, engine.DefaultConfig())
	require.Error(t, err)
	require.Contains(t, err.Error(), "already open")
}

func TestCloseReleasesTheLockForAFollowingOpen(t *testing.T) {
	dir := t.TempDir()
	m := NewManager()
	_, err := m.Open(dir, 1, engine.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, m.Close(1))

	m2 := NewManager()
	_, err = m2.Open(dir, 1, engine.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, m2.Close(1))
}

func TestCallReducerPublishesACommitToSubscribers(t *testing.T) {
	dir := t.TempDir()
	m := NewManager()
	rctx, err := m.Open(dir, 1, engine.DefaultConfig())
	require.NoError(t, err)
	defer m.CloseAll()

	rowSchema := algebra.Product(algebra.NamedType{Name: "n", Type: algebra.Primitive(algebra.KindI64)})
	tx := rctx.Engine.Begin()
	def, err := tx.CreateTable("counters", rowSchema, catalog.Public, []catalog.ColumnDef{
		{Name: "n", Type: algebra.Primitive(algebra.KindI64)},
	})
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)

	program := counterProgram(map[string]host.ReducerFunc{
		"bump": func(call *host.ReducerContext) error {
			row := algebra.Row{Values: []algebra.Value{algebra.Int64(algebra.KindI64, 7)}}
			_, err := call.Tx.Insert(def.ID, bsatn.EncodeRow(rowSchema, row), call.TimestampNs)
			return err
		},
	}, nil)

	_, err = m.PublishModule(context.Background(), 1, program, nil, nil, time.Now().UnixNano())
	require.NoError(t, err)

	conn := algebra.ConnectionId{9}
	sub, err := m.Subscribe(1, conn)
	require.NoError(t, err)
	defer m.Unsubscribe(1, conn)

	result, err := m.CallReducer(context.Background(), 1, "bump", nil, algebra.Identity{}, algebra.ConnectionId{}, time.Now().UnixNano())
	require.NoError(t, err)
	require.Equal(t, host.OutcomeCommitted, result.Outcome)

	select {
	case change := <-sub:
		require.Equal(t, def.ID, change.Table)
		require.Equal(t, algebra.OpInsert, change.Op)
	case <-time.After(time.Second):
		t.Fatal("no table change delivered to subscriber")
	}
}

func TestCallReducerEnqueuesScheduledInsertOnTheReplicaScheduler(t *testing.T) {
	dir := t.TempDir()
	m := NewManager()
	rctx, err := m.Open(dir, 1, engine.DefaultConfig())
	require.NoError(t, err)
	defer m.CloseAll()

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

	tx := rctx.Engine.Begin()
	def, err := tx.CreateTable("tick", schema, catalog.Public, cols)
	require.NoError(t, err)
	_, err = tx.CreateSequence(def.ID, 0, 1, 1, 1, 1_000_000)
	require.NoError(t, err)
	require.NoError(t, tx.SetSchedule(def.ID, 1, "on_tick"))
	_, err = tx.Commit()
	require.NoError(t, err)

	program := counterProgram(map[string]host.ReducerFunc{
		"on_tick": func(call *host.ReducerContext) error { return nil },
		"seed": func(call *host.ReducerContext) error {
			row := algebra.Row{Values: []algebra.Value{
				algebra.Uint64(algebra.KindU64, 0),
				{Kind: algebra.KindSum, Sum: &algebra.SumValue{Tag: 1, Inner: algebra.Int64(algebra.KindI64, int64(time.Hour))}},
			}}
			_, err := call.Tx.Insert(def.ID, bsatn.EncodeRow(def.RowSchema, row), call.TimestampNs)
			return err
		},
	}, nil)

	_, err = m.PublishModule(context.Background(), 1, program, nil, nil, time.Now().UnixNano())
	require.NoError(t, err)

	_, err = m.CallReducer(context.Background(), 1, "seed", nil, algebra.Identity{}, algebra.ConnectionId{}, time.Now().UnixNano())
	require.NoError(t, err)

	require.NotNil(t, rctx.Scheduler)
	require.Equal(t, 1, rctx.Scheduler.QueueDepth())
}

func TestLogsReturnsConsoleOutputFromReducerCalls(t *testing.T) {
	dir := t.TempDir()
	m := NewManager()
	_, err := m.Open(dir, 1, engine.DefaultConfig())
	require.NoError(t, err)
	defer m.CloseAll()

	program := counterProgram(map[string]host.ReducerFunc{
		"greet": func(call *host.ReducerContext) error {
			return call.ConsoleLog("info", "hello")
		},
	}, nil)

	_, err = m.PublishModule(context.Background(), 1, program, nil, nil, time.Now().UnixNano())
	require.NoError(t, err)
	_, err = m.CallReducer(context.Background(), 1, "greet", nil, algebra.Identity{}, algebra.ConnectionId{}, time.Now().UnixNano())
	require.NoError(t, err)

	lines, err := m.Logs(1, 0)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, "hello", lines[0].Message)
	require.Equal(t, "greet", lines[0].Reducer)
}
