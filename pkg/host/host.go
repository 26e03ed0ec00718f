// Package host implements the module host (§4.7): a sandbox holding one
// loaded module, a lifecycle a module passes through from load to exit,
// and the reducer-call path that opens a transaction, runs a reducer
// body against it, and commits or rolls back. It is grounded in the
// teacher's pkg/worker.Worker, which binds one container runtime handle
// to a guarded map of live workloads behind a stopCh-based shutdown; here
// that shape binds one Sandbox to one storage engine, with reducer calls
// replacing containers as the unit of sandboxed work, and a worker pool
// of goroutines replacing the containerd task queue.
package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/spacetimedb/core/pkg/abi"
	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/bsatn"
	"github.com/spacetimedb/core/pkg/catalog"
	"github.com/spacetimedb/core/pkg/energy"
	"github.com/spacetimedb/core/pkg/engine"
	"github.com/spacetimedb/core/pkg/log"
	"github.com/spacetimedb/core/pkg/metrics"
)

// moduleKindNative is the st_module.kind value every program in this
// repository records: reducers are native Go closures, never a wasm or
// JS binary (§4.1 Non-goals).
const moduleKindNative = "native-reducer-set"

// State is one step of the module host lifecycle (§4.7: "loading →
// ready → running-reducer → updating → exited").
type State uint8

const (
	StateLoading State = iota
	StateReady
	StateRunningReducer
	StateUpdating
	StateExited
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateRunningReducer:
		return "running-reducer"
	case StateUpdating:
		return "updating"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Outcome classifies how a reducer call ended (§4.7 ReducerCallResult).
type Outcome uint8

const (
	OutcomeCommitted Outcome = iota
	OutcomeFailed
	OutcomeBudgetExceeded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeFailed:
		return "failed"
	case OutcomeBudgetExceeded:
		return "budget_exceeded"
	default:
		return "unknown"
	}
}

// ReducerCallResult is returned from every call into a reducer body,
// whether invoked directly, as a lifecycle hook, or from the scheduler.
type ReducerCallResult struct {
	Outcome       Outcome
	Message       string
	EnergyUsed    int64
	ExecutionTime time.Duration
	Commit        *engine.CommitResult
}

// UpdateOutcome classifies how update_database concluded (§4.7).
type UpdateOutcome uint8

const (
	UpdateNoUpdateNeeded UpdateOutcome = iota
	UpdatePerformed
	UpdateAutoMigrateError
	UpdateErrorExecutingMigration
)

func (o UpdateOutcome) String() string {
	switch o {
	case UpdateNoUpdateNeeded:
		return "no_update_needed"
	case UpdatePerformed:
		return "update_performed"
	case UpdateAutoMigrateError:
		return "auto_migrate_error"
	case UpdateErrorExecutingMigration:
		return "error_executing_migration"
	default:
		return "unknown"
	}
}

// UpdateDatabaseResult is returned from update_database (§4.7): the
// migration outcome, and, when the swap actually ran, the update-lifecycle
// reducer's own call result.
type UpdateDatabaseResult struct {
	Outcome UpdateOutcome
	Message string
	Call    *ReducerCallResult
}

// DefaultEnergyQuota is the energy budget granted to one reducer call
// when the caller does not override it (§9 leaves the concrete quota as
// configuration).
const DefaultEnergyQuota int64 = 1_000_000

// maxCommitRetries bounds how many times a reducer is re-run from
// scratch after a conflicting commit (§4.4 "Ok(None)") before the call
// gives up and reports failure; a conflict means some other transaction
// committed between this one's parent offset and now, touching a row
// this one read.
const maxCommitRetries = 8

// Config holds a Host's tunables (§9 Open Questions: configuration, not
// hard-coded).
type Config struct {
	EnergyQuotaPerCall int64
	EnergyCosts        energy.Table
	WorkerPoolSize     int
}

func DefaultConfig() Config {
	return Config{EnergyQuotaPerCall: DefaultEnergyQuota, EnergyCosts: energy.DefaultTable(), WorkerPoolSize: 1}
}

// Host binds one Sandbox to one storage engine for the lifetime of a
// replica (§4.7). At most one reducer body ever runs at a time: callMu
// serializes execution regardless of WorkerPoolSize, since the pool
// exists to keep reducer execution off request-handling goroutines, not
// to run reducers concurrently (§5 "single active reducer ... per
// replica").
type Host struct {
	replica algebra.ReplicaId
	sandbox Sandbox
	engine  *engine.Engine
	cfg     Config
	logger  zerolog.Logger

	jobs chan func()

	stateMu sync.Mutex
	state   State

	callMu      sync.Mutex
	energySpent int64

	console *consoleSink

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Host wrapping sandbox over eng. The host starts in
// StateLoading; call InitDatabase or UpdateDatabase to install a program
// and bring it to StateReady.
func New(replica algebra.ReplicaId, sandbox Sandbox, eng *engine.Engine, cfg Config) *Host {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 1
	}
	if cfg.EnergyQuotaPerCall <= 0 {
		cfg.EnergyQuotaPerCall = DefaultEnergyQuota
	}
	if cfg.EnergyCosts == nil {
		cfg.EnergyCosts = energy.DefaultTable()
	}
	h := &Host{
		replica: replica,
		sandbox: sandbox,
		engine:  eng,
		cfg:     cfg,
		logger:  log.WithReplica(replica),
		jobs:    make(chan func()),
		state:   StateLoading,
		console: newConsoleSink(),
		stopCh:  make(chan struct{}),
	}
	for i := 0; i < cfg.WorkerPoolSize; i++ {
		go h.runWorker()
	}
	return h
}

func (h *Host) runWorker() {
	for {
		select {
		case job := <-h.jobs:
			job()
		case <-h.stopCh:
			return
		}
	}
}

// State returns the host's current lifecycle state.
func (h *Host) State() State {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.state
}

func (h *Host) setState(s State) {
	h.stateMu.Lock()
	h.state = s
	h.stateMu.Unlock()
}

// EnergyBalance reports the energy this host has consumed across every
// reducer call so far, for pkg/controller's metrics.HostStats reporting.
func (h *Host) EnergyBalance() int64 {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.energySpent
}

func (h *Host) addEnergySpent(n int64) {
	h.stateMu.Lock()
	h.energySpent += n
	h.stateMu.Unlock()
}

// run offloads fn onto the worker pool and blocks for its result, giving
// reducer bodies a dedicated worker goroutine per §4.7 rather than
// running them on the caller's own goroutine.
func (h *Host) run(fn func()) {
	done := make(chan struct{})
	h.jobs <- func() {
		defer close(done)
		fn()
	}
	<-done
}

// invoke runs reducer through the sandbox inside a fresh transaction,
// retrying on commit conflict, and reports the outcome exactly like a
// module-driven call_reducer syscall would (§4.7, §4.4). now is the
// caller-supplied timestamp; the engine never reads the wall clock
// itself (§4.9 determinism).
func (h *Host) invoke(ctx context.Context, reducer string, args []byte, sender algebra.Identity, conn algebra.ConnectionId, now int64) *ReducerCallResult {
	h.callMu.Lock()
	defer h.callMu.Unlock()

	prev := h.State()
	if prev == StateExited {
		return &ReducerCallResult{Outcome: OutcomeFailed, Message: "host: exited"}
	}
	h.setState(StateRunningReducer)
	defer h.setState(prev)

	rlog := log.WithReducer(reducer)
	start := time.Now()
	budget := energy.NewBudget(energy.Units(h.cfg.EnergyQuotaPerCall), h.cfg.EnergyCosts)

	var result *ReducerCallResult
	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		tx := h.engine.Begin()
		call := &ReducerContext{
			Context: ctx, Tx: tx, Args: args,
			Sender: sender, Caller: conn, TimestampNs: now, Budget: budget,
			sink: h.console, reducerName: reducer,
		}

		err := runReducerBody(h.sandbox, call, reducer)
		if err != nil {
			tx.Rollback()
			if err == energy.ErrExceeded {
				result = &ReducerCallResult{Outcome: OutcomeBudgetExceeded, Message: err.Error(), EnergyUsed: int64(budget.Spent()), ExecutionTime: time.Since(start)}
			} else {
				if _, isPanic := err.(panicError); isPanic {
					metrics.ReducerPanicsTotal.WithLabelValues(reducer).Inc()
				}
				result = &ReducerCallResult{Outcome: OutcomeFailed, Message: err.Error(), EnergyUsed: int64(budget.Spent()), ExecutionTime: time.Since(start)}
			}
			break
		}

		commit, cerr := tx.Commit()
		if cerr != nil {
			result = &ReducerCallResult{Outcome: OutcomeFailed, Message: cerr.Error(), EnergyUsed: int64(budget.Spent()), ExecutionTime: time.Since(start)}
			break
		}
		if commit == nil {
			metrics.CommitConflictsTotal.Inc()
			continue // conflicting write set: retry the whole reducer from scratch
		}

		metrics.CommitsTotal.Inc()
		result = &ReducerCallResult{Outcome: OutcomeCommitted, EnergyUsed: int64(budget.Spent()), ExecutionTime: time.Since(start), Commit: commit}
		break
	}
	if result == nil {
		result = &ReducerCallResult{Outcome: OutcomeFailed, Message: "host: exhausted commit retries", EnergyUsed: int64(budget.Spent()), ExecutionTime: time.Since(start)}
	}

	h.addEnergySpent(result.EnergyUsed)
	metrics.ReducerCallsTotal.WithLabelValues(reducer, result.Outcome.String()).Inc()
	metrics.ReducerDuration.WithLabelValues(reducer).Observe(result.ExecutionTime.Seconds())
	metrics.EnergyConsumedTotal.WithLabelValues(reducer).Add(float64(result.EnergyUsed))
	if result.Outcome != OutcomeCommitted {
		rlog.Warn().Str("outcome", result.Outcome.String()).Str("message", result.Message).Msg("reducer call did not commit")
	}
	return result
}

// panicError wraps a recovered Go panic so the caller can tell it apart
// from an ordinary reducer error for metrics purposes.
type panicError struct{ value any }

func (p panicError) Error() string { return fmt.Sprintf("reducer panicked: %v", p.value) }

// runReducerBody calls into the sandbox with a recover guard: a native
// reducer is an ordinary Go function, and an out-of-bounds access or nil
// dereference in one must not take the whole host process down with it
// (§4.7 "a sandbox containing one loaded module").
func runReducerBody(sandbox Sandbox, call *ReducerContext, reducer string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{value: r}
		}
	}()
	return sandbox.CallReducer(call, reducer)
}

// CallReducer implements the module host's call_reducer operation
// (§4.7): the one path a control-plane RPC or the scheduler uses to run
// a reducer identified by name.
func (h *Host) CallReducer(ctx context.Context, reducer string, args []byte, sender algebra.Identity, conn algebra.ConnectionId, now int64) *ReducerCallResult {
	var result *ReducerCallResult
	h.run(func() { result = h.invoke(ctx, reducer, args, sender, conn, now) })
	return result
}

// CallScheduledReducer satisfies pkg/scheduler.ReducerCaller: the
// scheduler fires into the host exactly like any externally invoked
// reducer, using the row scheduled at insert time as the argument
// product and the host's own wall clock as the call's timestamp.
func (h *Host) CallScheduledReducer(reducer string, row algebra.Row) error {
	program := h.sandbox.Program()
	if program == nil {
		return errors.New("host: no module loaded")
	}
	desc, ok := program.Description.ReducerByName(reducer)
	if !ok {
		return errors.Errorf("host: no such reducer %q", reducer)
	}
	schema := program.Description.Typespace.Resolve(algebra.RefTo(desc.ArgsProductRef))
	args := bsatn.EncodeRow(schema, row)

	result := h.CallReducer(context.Background(), reducer, args, algebra.Identity{}, algebra.ConnectionId{}, time.Now().UnixNano())
	if result.Outcome != OutcomeCommitted {
		return errors.Errorf("host: scheduled reducer %q did not commit: %s", reducer, result.Message)
	}
	return nil
}

// InitDatabase implements init_database (§4.7): materialize program's
// declared tables/indexes/sequences/constraints/schedule bindings against
// the catalog, record the st_module row, load the program, run its
// __init__ lifecycle reducer if it declared one, and bring the host to
// StateReady. Schema materialization runs in its own committed
// transaction ahead of the sandbox load, so __init__ (and every reducer
// call after it) finds its tables already there instead of failing
// NO_SUCH_TABLE.
func (h *Host) InitDatabase(ctx context.Context, program *Program, args []byte, now int64) (*ReducerCallResult, error) {
	if err := h.commitSchema(program); err != nil {
		return nil, errors.Wrap(err, "host: materialize schema")
	}

	if err := h.sandbox.Load(program); err != nil {
		return nil, err
	}
	h.setState(StateReady)

	desc, ok := program.Description.LifecycleReducer(abi.LifecycleInit)
	if !ok {
		return &ReducerCallResult{Outcome: OutcomeCommitted}, nil
	}
	return h.CallReducer(ctx, desc.Name, args, algebra.Identity{}, algebra.ConnectionId{}, now), nil
}

// commitSchema materializes program's declared schema and bumps the
// st_module epoch in a single committed transaction.
func (h *Host) commitSchema(program *Program) error {
	tx := h.engine.Begin()
	if err := materializeSchema(tx, program.Description); err != nil {
		tx.Rollback()
		return err
	}
	rec := h.engine.Catalog().Module()
	rec.ProgramHash = program.Hash
	rec.Kind = moduleKindNative
	rec.Epoch++
	if err := tx.SetModule(rec); err != nil {
		tx.Rollback()
		return err
	}
	commit, err := tx.Commit()
	if err != nil {
		return err
	}
	if commit == nil {
		return errors.New("schema commit conflicted")
	}
	return nil
}

// UpdateDatabase implements update_database (§4.7): diff the new
// program's declared schema against what's currently running, apply any
// auto-migration the diff allows (today: @migrate add_column of a
// nullable trailing column, §8 scenario 2), swap in the new program, and
// invoke its update-lifecycle reducer against the migrated schema if it
// declared one.
func (h *Host) UpdateDatabase(ctx context.Context, program *Program, now int64) (*UpdateDatabaseResult, error) {
	if old := h.sandbox.Program(); old != nil && old.Hash == program.Hash {
		return &UpdateDatabaseResult{Outcome: UpdateNoUpdateNeeded}, nil
	}

	h.setState(StateUpdating)
	defer func() {
		if h.State() == StateUpdating {
			h.setState(StateReady)
		}
	}()

	plan, err := diffSchema(h.engine.Catalog(), program.Description)
	if err != nil {
		return &UpdateDatabaseResult{Outcome: UpdateAutoMigrateError, Message: err.Error()}, nil
	}
	if !plan.empty() {
		if err := h.runMigration(program, plan); err != nil {
			return &UpdateDatabaseResult{Outcome: UpdateErrorExecutingMigration, Message: err.Error()}, nil
		}
	} else if err := h.bumpModuleEpoch(program); err != nil {
		return &UpdateDatabaseResult{Outcome: UpdateErrorExecutingMigration, Message: err.Error()}, nil
	}

	desc, ok := program.Description.LifecycleReducer(abi.LifecycleUpdate)
	if !ok {
		if err := h.sandbox.Load(program); err != nil {
			return nil, err
		}
		return &UpdateDatabaseResult{Outcome: UpdatePerformed, Call: &ReducerCallResult{Outcome: OutcomeCommitted}}, nil
	}

	if err := h.sandbox.Load(program); err != nil {
		return nil, err
	}
	call := h.CallReducer(ctx, desc.Name, nil, algebra.Identity{}, algebra.ConnectionId{}, now)
	return &UpdateDatabaseResult{Outcome: UpdatePerformed, Call: call}, nil
}

// runMigration applies plan's new tables and column additions, then
// records the hot-swapped program hash and bumps the epoch, all in one
// committed transaction so a freshly published module never observes a
// partially migrated schema.
func (h *Host) runMigration(program *Program, plan *migrationPlan) error {
	tx := h.engine.Begin()
	for _, t := range plan.newTables {
		if _, err := materializeTable(tx, t, plan.desc); err != nil {
			tx.Rollback()
			return err
		}
	}
	for _, add := range plan.additions {
		if err := tx.AddColumnNullable(add.table, add.column); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := h.setModuleRecord(tx, program); err != nil {
		tx.Rollback()
		return err
	}
	commit, err := tx.Commit()
	if err != nil {
		return err
	}
	if commit == nil {
		return errors.New("migration commit conflicted")
	}
	return nil
}

// bumpModuleEpoch records the hot-swapped program's hash with no schema
// change of its own, the path taken when a new program hash carries
// identical table definitions (a code-only hot swap).
func (h *Host) bumpModuleEpoch(program *Program) error {
	tx := h.engine.Begin()
	if err := h.setModuleRecord(tx, program); err != nil {
		tx.Rollback()
		return err
	}
	commit, err := tx.Commit()
	if err != nil {
		return err
	}
	if commit == nil {
		return errors.New("module record commit conflicted")
	}
	return nil
}

func (h *Host) setModuleRecord(tx *engine.Tx, program *Program) error {
	rec := h.engine.Catalog().Module()
	rec.ProgramHash = program.Hash
	rec.Kind = moduleKindNative
	rec.Epoch++
	return tx.SetModule(rec)
}

// IdentityConnected implements identity_connected (§4.7): invoked when a
// client establishes a connection, if the module declared that hook.
func (h *Host) IdentityConnected(ctx context.Context, sender algebra.Identity, conn algebra.ConnectionId, now int64) (*ReducerCallResult, error) {
	return h.callLifecycleHook(ctx, abi.LifecycleClientConnected, sender, conn, now)
}

// IdentityDisconnected implements identity_disconnected (§4.7).
func (h *Host) IdentityDisconnected(ctx context.Context, sender algebra.Identity, conn algebra.ConnectionId, now int64) (*ReducerCallResult, error) {
	return h.callLifecycleHook(ctx, abi.LifecycleClientDisconnected, sender, conn, now)
}

func (h *Host) callLifecycleHook(ctx context.Context, hook abi.ReducerLifecycle, sender algebra.Identity, conn algebra.ConnectionId, now int64) (*ReducerCallResult, error) {
	program := h.sandbox.Program()
	if program == nil {
		return nil, errors.New("host: no module loaded")
	}
	desc, ok := program.Description.LifecycleReducer(hook)
	if !ok {
		return &ReducerCallResult{Outcome: OutcomeCommitted}, nil
	}
	return h.CallReducer(ctx, desc.Name, nil, sender, conn, now), nil
}

// Exit implements exit() (§4.7): aborts the host for good. Any reducer
// call in flight finishes (callMu is held for its duration); no further
// call is admitted afterward.
func (h *Host) Exit() error {
	h.callMu.Lock()
	h.setState(StateExited)
	h.callMu.Unlock()

	h.stopOnce.Do(func() { close(h.stopCh) })
	return h.sandbox.Close()
}

// ModuleHash returns the content hash of the currently loaded program,
// or the zero hash before one is loaded.
func (h *Host) ModuleHash() algebra.Hash {
	if p := h.sandbox.Program(); p != nil {
		return p.Hash
	}
	return algebra.Hash{}
}
