package host

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spacetimedb/core/pkg/abi"
	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/bsatn"
	"github.com/spacetimedb/core/pkg/cas"
	"github.com/spacetimedb/core/pkg/catalog"
	"github.com/spacetimedb/core/pkg/commitlog"
	"github.com/spacetimedb/core/pkg/engine"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	store, err := cas.Open(t.TempDir())
	require.NoError(t, err)
	log, err := commitlog.Open(t.TempDir())
	require.NoError(t, err)
	eng, err := engine.Open(catalog.New(), store, log, engine.DefaultConfig())
	require.NoError(t, err)
	return eng
}

func counterProgram(reducers map[string]ReducerFunc, lifecycle map[string]abi.ReducerLifecycle) *Program {
	descs := make([]abi.ReducerDesc, 0, len(reducers))
	for name := range reducers {
		descs = append(descs, abi.ReducerDesc{Name: name, Lifecycle: lifecycle[name]})
	}
	return &Program{
		Hash:        algebra.Hash{0x01},
		Description: abi.ModuleDescription{Reducers: descs, Version: abi.Version{Major: 1}},
		Reducers:    reducers,
	}
}

func TestCallReducerCommitsInsertedRow(t *testing.T) {
	eng := newTestEngine(t)
	rowSchema := algebra.Product(algebra.NamedType{Name: "n", Type: algebra.Primitive(algebra.KindI64)})
	tx := eng.Begin()
	def, err := tx.CreateTable("counters", rowSchema, catalog.Public, []catalog.ColumnDef{
		{Name: "n", Type: algebra.Primitive(algebra.KindI64)},
	})
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)

	insertCalled := false
	program := counterProgram(map[string]ReducerFunc{
		"bump": func(call *ReducerContext) error {
			insertCalled = true
			row := algebra.Row{Values: []algebra.Value{algebra.Int64(algebra.KindI64, 1)}}
			_, err := call.Tx.Insert(def.ID, bsatn.EncodeRow(rowSchema, row), call.TimestampNs)
			return err
		},
	}, nil)

	h := New(1, NewNativeSandbox(), eng, DefaultConfig())
	_, err = h.InitDatabase(context.Background(), program, nil, time.Now().UnixNano())
	require.NoError(t, err)

	result := h.CallReducer(context.Background(), "bump", nil, algebra.Identity{}, algebra.ConnectionId{}, time.Now().UnixNano())
	require.True(t, insertCalled)
	require.Equal(t, OutcomeCommitted, result.Outcome)
	require.NotNil(t, result.Commit)

	count, err := eng.Begin().RowCount(def.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)
}

func TestCallReducerFailureRollsBack(t *testing.T) {
	eng := newTestEngine(t)
	program := counterProgram(map[string]ReducerFunc{
		"boom": func(call *ReducerContext) error {
			return errors.New("reducer says no")
		},
	}, nil)

	h := New(2, NewNativeSandbox(), eng, DefaultConfig())
	_, err := h.InitDatabase(context.Background(), program, nil, time.Now().UnixNano())
	require.NoError(t, err)

	result := h.CallReducer(context.Background(), "boom", nil, algebra.Identity{}, algebra.ConnectionId{}, time.Now().UnixNano())
	require.Equal(t, OutcomeFailed, result.Outcome)
	require.Contains(t, result.Message, "reducer says no")
}

func TestCallReducerBudgetExceededStopsTheCall(t *testing.T) {
	eng := newTestEngine(t)
	program := counterProgram(map[string]ReducerFunc{
		"spin": func(call *ReducerContext) error {
			for {
				if err := call.Charge(1); err != nil {
					return err
				}
			}
		},
	}, nil)

	cfg := DefaultConfig()
	cfg.EnergyQuotaPerCall = 10
	h := New(3, NewNativeSandbox(), eng, cfg)
	_, err := h.InitDatabase(context.Background(), program, nil, time.Now().UnixNano())
	require.NoError(t, err)

	result := h.CallReducer(context.Background(), "spin", nil, algebra.Identity{}, algebra.ConnectionId{}, time.Now().UnixNano())
	require.Equal(t, OutcomeBudgetExceeded, result.Outcome)
	require.Equal(t, int64(10), result.EnergyUsed)
}

func TestReducerPanicIsRecoveredAsFailure(t *testing.T) {
	eng := newTestEngine(t)
	program := counterProgram(map[string]ReducerFunc{
		"panics": func(call *ReducerContext) error {
			var rows []algebra.Row
			_ = rows[5] // deliberate out-of-range panic
			return nil
		},
	}, nil)

	h := New(4, NewNativeSandbox(), eng, DefaultConfig())
	_, err := h.InitDatabase(context.Background(), program, nil, time.Now().UnixNano())
	require.NoError(t, err)

	result := h.CallReducer(context.Background(), "panics", nil, algebra.Identity{}, algebra.ConnectionId{}, time.Now().UnixNano())
	require.Equal(t, OutcomeFailed, result.Outcome)
	require.Contains(t, result.Message, "panicked")
}

func TestInitDatabaseRunsLifecycleInitReducer(t *testing.T) {
	eng := newTestEngine(t)
	initRan := false
	program := counterProgram(map[string]ReducerFunc{
		"__init__": func(call *ReducerContext) error {
			initRan = true
			return nil
		},
	}, map[string]abi.ReducerLifecycle{"__init__": abi.LifecycleInit})

	h := New(5, NewNativeSandbox(), eng, DefaultConfig())
	result, err := h.InitDatabase(context.Background(), program, nil, time.Now().UnixNano())
	require.NoError(t, err)
	require.True(t, initRan)
	require.Equal(t, OutcomeCommitted, result.Outcome)
	require.Equal(t, StateReady, h.State())
}

func TestIdentityConnectedSkipsWhenNoHookDeclared(t *testing.T) {
	eng := newTestEngine(t)
	program := counterProgram(map[string]ReducerFunc{}, nil)

	h := New(6, NewNativeSandbox(), eng, DefaultConfig())
	_, err := h.InitDatabase(context.Background(), program, nil, time.Now().UnixNano())
	require.NoError(t, err)

	result, err := h.IdentityConnected(context.Background(), algebra.Identity{1}, algebra.ConnectionId{2}, time.Now().UnixNano())
	require.NoError(t, err)
	require.Equal(t, OutcomeCommitted, result.Outcome)
}

func TestExitRejectsFurtherCalls(t *testing.T) {
	eng := newTestEngine(t)
	program := counterProgram(map[string]ReducerFunc{
		"noop": func(call *ReducerContext) error { return nil },
	}, nil)

	h := New(7, NewNativeSandbox(), eng, DefaultConfig())
	_, err := h.InitDatabase(context.Background(), program, nil, time.Now().UnixNano())
	require.NoError(t, err)

	require.NoError(t, h.Exit())
	require.Equal(t, StateExited, h.State())

	result := h.CallReducer(context.Background(), "noop", nil, algebra.Identity{}, algebra.ConnectionId{}, time.Now().UnixNano())
	require.Equal(t, OutcomeFailed, result.Outcome)
}

func TestEnergyBalanceAccumulatesAcrossCalls(t *testing.T) {
	eng := newTestEngine(t)
	program := counterProgram(map[string]ReducerFunc{
		"spend": func(call *ReducerContext) error { return call.Charge(5) },
	}, nil)

	h := New(8, NewNativeSandbox(), eng, DefaultConfig())
	_, err := h.InitDatabase(context.Background(), program, nil, time.Now().UnixNano())
	require.NoError(t, err)

	h.CallReducer(context.Background(), "spend", nil, algebra.Identity{}, algebra.ConnectionId{}, time.Now().UnixNano())
	h.CallReducer(context.Background(), "spend", nil, algebra.Identity{}, algebra.ConnectionId{}, time.Now().UnixNano())
	require.Equal(t, int64(10), h.EnergyBalance())
}
