// Package replica binds one replica's storage engine, content store,
// commit log, scheduler and broadcaster to its on-disk directory (§6:
// commit_log/, object_store/, snapshots/, module_logs/, and a lock
// file guarding the directory against a second process opening it
// concurrently), and a Manager binding every locally open replica to
// one process-wide host controller (§4.8 "a process-wide singleton").
// It is grounded in the teacher's pkg/manager.Manager, which plays the
// same role for a cluster node: one long-lived struct that owns every
// subsystem bound to a single data directory and wires them together
// at Open time.
package replica

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/broadcast"
	"github.com/spacetimedb/core/pkg/cas"
	"github.com/spacetimedb/core/pkg/catalog"
	"github.com/spacetimedb/core/pkg/commitlog"
	"github.com/spacetimedb/core/pkg/engine"
	"github.com/spacetimedb/core/pkg/log"
	"github.com/spacetimedb/core/pkg/scheduler"
)

// dataSubdirs are created under the replica directory in addition to
// commit_log/ and object_store/, which pkg/commitlog and pkg/cas create
// for themselves. Snapshot and module-log writers land in these two but
// are not implemented by this package (§9 Open Questions).
var dataSubdirs = []string{"snapshots", "module_logs"}

// Context is one open replica directory: its engine and the subsystems
// an engine alone doesn't provide (content-addressed blobs, the
// durable commit log, scheduled-call firing, commit fan-out to
// subscribers). It holds no module host of its own — Manager owns the
// one process-wide controller every open Context's host is launched
// through.
type Context struct {
	ID  algebra.ReplicaId
	Dir string

	Engine    *engine.Engine
	Store     cas.Store
	Log       *commitlog.Log
	Scheduler *scheduler.Scheduler
	Broadcast *broadcast.Broker

	logger zerolog.Logger
	lock   *dirLock
}

// open recovers replica id's state from dir, creating dir and its
// subdirectories if this is the first time it has been opened.
//
// Schema recovery runs ahead of engine replay: engine.Open needs a
// Catalog whose user-table definitions are already correct in order to
// decode user-table rows as it replays the commit log, so this
// function first replays the system tables alone (engine.ExtractSystemRows)
// and rebuilds the Catalog from them (catalog.Rebuild) before handing
// both to engine.Open.
func open(dir string, id algebra.ReplicaId, cfg engine.Config) (*Context, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "replica: create data dir")
	}
	lock, err := acquireLock(dir)
	if err != nil {
		return nil, err
	}
	for _, sub := range dataSubdirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			lock.release()
			return nil, errors.Wrapf(err, "replica: create %s", sub)
		}
	}

	store, err := cas.Open(dir)
	if err != nil {
		lock.release()
		return nil, errors.Wrap(err, "replica: open object store")
	}
	clog, err := commitlog.Open(dir)
	if err != nil {
		store.Close()
		lock.release()
		return nil, errors.Wrap(err, "replica: open commit log")
	}

	systemRows, err := engine.ExtractSystemRows(store, clog)
	if err != nil {
		clog.Close()
		store.Close()
		lock.release()
		return nil, errors.Wrap(err, "replica: recover system catalog")
	}
	cat := catalog.Rebuild(systemRows)

	eng, err := engine.Open(cat, store, clog, cfg)
	if err != nil {
		clog.Close()
		store.Close()
		lock.release()
		return nil, errors.Wrap(err, "replica: open engine")
	}

	broker := broadcast.NewBroker()
	broker.Start()

	return &Context{
		ID:        id,
		Dir:       dir,
		Engine:    eng,
		Store:     store,
		Log:       clog,
		Broadcast: broker,
		logger:    log.WithReplica(id),
		lock:      lock,
	}, nil
}

// scheduleAtValue pulls the schedule_at column's value off a scheduled
// row, looking the column up from the table's ScheduleSpec rather than
// assuming a fixed position.
func (c *Context) scheduleAtValue(table algebra.TableId, row algebra.Row) algebra.Value {
	def, ok := c.Engine.Catalog().TableByID(table)
	if !ok || def.Schedule == nil || int(def.Schedule.Column) >= len(row.Values) {
		return algebra.Value{}
	}
	return row.Values[def.Schedule.Column]
}

// reseedScheduler rebuilds sched's priority queue from every row
// currently sitting in a scheduled table, so a scheduled reducer call
// queued before a host restart (or process restart) still fires instead
// of silently vanishing along with the in-memory scheduler that used to
// track it (§4.6). It opens a read-only transaction, scans each
// scheduled table once, and rolls the transaction back: this is pure
// recovery of already-committed state, not itself a write.
func (c *Context) reseedScheduler(sched *scheduler.Scheduler, now int64) error {
	tx := c.Engine.Begin()
	defer tx.Rollback()

	for _, def := range c.Engine.Catalog().AllTables() {
		if def.Schedule == nil {
			continue
		}
		keys, rows, err := tx.ScanRows(def.ID)
		if err != nil {
			return errors.Wrapf(err, "replica: reseed scheduler for table %q", def.Name)
		}
		for i, row := range rows {
			scheduleAt := c.scheduleAtValue(def.ID, row)
			sched.Enqueue(def.ID, keys[i], def.Schedule.ReducerName, row, scheduleAt, now)
		}
	}
	return nil
}

// close tears down everything open opened: the scheduler, the
// broadcaster, the commit log and object store, and the directory
// lock. It does not touch the module host; Manager.Exit does that
// first, through the shared controller.
func (c *Context) close() error {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	c.Broadcast.Stop()

	var firstErr error
	if err := c.Log.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	c.lock.release()
	return firstErr
}
