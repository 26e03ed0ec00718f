package replica

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/broadcast"
	"github.com/spacetimedb/core/pkg/controller"
	"github.com/spacetimedb/core/pkg/engine"
	"github.com/spacetimedb/core/pkg/host"
	"github.com/spacetimedb/core/pkg/scheduler"
)

// Manager is the process-wide object a spacetimed process constructs
// exactly once (§4.8: "a process-wide singleton owning ReplicaId ->
// Cell<Option<Host>> behind RWLock"): one shared host controller, and
// the set of replica directories currently open against it. Every
// control RPC (§6 publish/call/subscribe/logs) is keyed by ReplicaId
// and dispatches through this type.
type Manager struct {
	mu       sync.RWMutex
	contexts map[algebra.ReplicaId]*Context

	controller *controller.Controller
}

// NewManager builds an empty Manager. Call Open for each replica
// directory the process should serve.
func NewManager() *Manager {
	m := &Manager{contexts: make(map[algebra.ReplicaId]*Context)}
	m.controller = controller.New(m.launch)
	return m
}

// launch is the controller.Launcher the Manager's single Controller
// dispatches through. It only ever succeeds for a replica id Open has
// already registered; the controller's lazy get_or_launch protocol
// never invents a replica on its own.
func (m *Manager) launch(replica algebra.ReplicaId) (*host.Host, error) {
	m.mu.RLock()
	ctx, ok := m.contexts[replica]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("replica: %s was not opened on this process", replica)
	}

	h := host.New(replica, host.NewNativeSandbox(), ctx.Engine, host.DefaultConfig())
	ctx.Scheduler = scheduler.New(h)
	if err := ctx.reseedScheduler(ctx.Scheduler, time.Now().UnixNano()); err != nil {
		return nil, errors.Wrapf(err, "replica: %s", replica)
	}
	ctx.Scheduler.Start()
	return h, nil
}

// Open recovers replica id's on-disk state from dir and registers it
// with the Manager, ready to accept control RPCs. Opening the same
// replica id twice on one Manager is an error; opening the same
// directory from a second process fails at the lock file (§6).
func (m *Manager) Open(dir string, id algebra.ReplicaId, cfg engine.Config) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.contexts[id]; exists {
		return nil, errors.Errorf("replica: %s is already open on this process", id)
	}

	ctx, err := open(dir, id, cfg)
	if err != nil {
		return nil, err
	}
	m.contexts[id] = ctx
	return ctx, nil
}

// Context returns the open Context for replica id, if any.
func (m *Manager) Context(id algebra.ReplicaId) (*Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctx, ok := m.contexts[id]
	return ctx, ok
}

// PublishModule implements the publish control RPC (§6): init the
// module on first publish, no-op if the same program is already
// running, or hot-swap to it otherwise. expectedHash, when non-nil,
// makes the call fail instead of acting if it does not match the hash
// currently running (§4.8).
func (m *Manager) PublishModule(ctx context.Context, replica algebra.ReplicaId, program *host.Program, args []byte, expectedHash *algebra.Hash, now int64) (*host.UpdateDatabaseResult, error) {
	result, err := m.controller.InitMaybeUpdate(ctx, replica, program, args, expectedHash, now)
	if err != nil {
		return result, err
	}
	m.forward(replica, result.Call, now)
	return result, nil
}

// CallReducer implements the call control RPC (§6): run reducer against
// replica's currently loaded module, forwarding a successful commit's
// scheduled-table deltas to the scheduler and its writes to
// subscribers.
func (m *Manager) CallReducer(ctx context.Context, replica algebra.ReplicaId, reducer string, args []byte, sender algebra.Identity, conn algebra.ConnectionId, now int64) (*host.ReducerCallResult, error) {
	result, err := m.controller.CallReducer(ctx, replica, reducer, args, sender, conn, now)
	if err != nil {
		return result, err
	}
	m.forward(replica, result, now)
	return result, nil
}

// forward hands a committed call's scheduled-table deltas to replica's
// scheduler and its writes to its broadcaster. Called for every
// commit regardless of whether it came from an external call or a
// fired scheduled reducer, so a reducer chain-scheduling further calls
// keeps working.
func (m *Manager) forward(replica algebra.ReplicaId, result *host.ReducerCallResult, now int64) {
	if result == nil || result.Commit == nil {
		return
	}
	rctx, ok := m.Context(replica)
	if !ok {
		return
	}
	commit := result.Commit

	if rctx.Scheduler != nil {
		for _, ins := range commit.ScheduledInserts {
			scheduleAt := rctx.scheduleAtValue(ins.Table, ins.Row)
			rctx.Scheduler.Enqueue(ins.Table, ins.Key, ins.Reducer, ins.Row, scheduleAt, now)
		}
		for _, del := range commit.ScheduledDeletes {
			rctx.Scheduler.Cancel(del.Key)
		}
	}

	rows := make(map[algebra.DataKey][]byte, len(commit.Writes))
	for _, w := range commit.Writes {
		if w.Key.Inline {
			rows[w.Key] = []byte(w.Key.Bytes)
		}
	}
	rctx.Broadcast.PublishCommit(commit.Offset, algebra.Transaction{Writes: commit.Writes}, rows)
}

// Subscribe implements the subscribe control RPC (§6): registers conn
// against replica's broadcaster and returns the channel of table
// changes it should deliver to the subscribed connection.
func (m *Manager) Subscribe(replica algebra.ReplicaId, conn algebra.ConnectionId) (broadcast.Subscriber, error) {
	rctx, ok := m.Context(replica)
	if !ok {
		return nil, errors.Errorf("replica: %s is not open", replica)
	}
	return rctx.Broadcast.Subscribe(conn), nil
}

// Unsubscribe removes conn's subscription against replica, if any.
func (m *Manager) Unsubscribe(replica algebra.ReplicaId, conn algebra.ConnectionId) {
	if rctx, ok := m.Context(replica); ok {
		rctx.Broadcast.Unsubscribe(conn)
	}
}

// Logs implements the logs control RPC (§6): the most recent
// console_log output replica's host has produced, oldest first. limit
// <= 0 means no bound.
func (m *Manager) Logs(replica algebra.ReplicaId, limit int) ([]host.ConsoleLine, error) {
	h, ok := m.controller.Get(replica)
	if !ok {
		return nil, errors.Errorf("replica: %s has no running host", replica)
	}
	return h.RecentConsoleLogs(limit), nil
}

// Exit shuts replica's host down, if running, without closing its
// on-disk directory (§4.8 exit()).
func (m *Manager) Exit(replica algebra.ReplicaId) error {
	return m.controller.Exit(replica)
}

// Close shuts replica id's host down, tears down its engine-adjacent
// subsystems and releases its directory lock, then removes it from the
// Manager. A replica that was never opened is a no-op.
func (m *Manager) Close(replica algebra.ReplicaId) error {
	_ = m.controller.Exit(replica)

	m.mu.Lock()
	ctx, ok := m.contexts[replica]
	delete(m.contexts, replica)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return ctx.close()
}

// CloseAll closes every replica currently open on the Manager.
func (m *Manager) CloseAll() error {
	m.mu.RLock()
	ids := make([]algebra.ReplicaId, 0, len(m.contexts))
	for id := range m.contexts {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, id := range ids {
		if err := m.Close(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ActiveModules and EnergyBalance satisfy pkg/metrics.HostStats,
// delegating to the shared controller.
func (m *Manager) ActiveModules() int   { return m.controller.ActiveModules() }
func (m *Manager) EnergyBalance() int64 { return m.controller.EnergyBalance() }
