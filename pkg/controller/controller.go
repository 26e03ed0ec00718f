// Package controller implements the host controller (§4.8): a
// process-wide registry owning every replica's module host, launched on
// first use and torn down on exit or panic. It is grounded in the
// teacher's pkg/manager.TokenManager — a map guarded by a single
// sync.RWMutex with Generate/Validate/Revoke/List-shaped methods — here
// generalized from join tokens to module hosts, and in the teacher's
// wider Manager struct for the idea of one long-lived registry object
// bound to a single process.
package controller

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/host"
	"github.com/spacetimedb/core/pkg/log"
)

// Launcher builds a fresh Host for replica the first time the
// controller is asked for it. It is supplied by pkg/replica, which alone
// knows how to open that replica's engine, catalog, commit log and
// content store from its on-disk directory (§6).
type Launcher func(replica algebra.ReplicaId) (*host.Host, error)

type entry struct {
	host *host.Host
	done chan struct{}
}

// Controller owns every locally running replica's Host behind a single
// RWMutex (§4.8 "a process-wide singleton owning ReplicaId -> Cell
// <Option<Host>> behind RWLock").
type Controller struct {
	mu       sync.RWMutex
	hosts    map[algebra.ReplicaId]*entry
	launcher Launcher
	logger   zerolog.Logger
}

// New builds a Controller that launches hosts through launcher.
func New(launcher Launcher) *Controller {
	return &Controller{
		hosts:    make(map[algebra.ReplicaId]*entry),
		launcher: launcher,
		logger:   log.WithComponent("controller"),
	}
}

// GetOrLaunch returns replica's Host, launching it via Launcher if this
// is the first request for it (§4.8 "get_or_launch").
func (c *Controller) GetOrLaunch(replica algebra.ReplicaId) (*host.Host, error) {
	c.mu.RLock()
	e, ok := c.hosts[replica]
	c.mu.RUnlock()
	if ok {
		return e.host, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.hosts[replica]; ok { // another goroutine won the race while we waited for the write lock
		return e.host, nil
	}

	h, err := c.launcher(replica)
	if err != nil {
		return nil, errors.Wrapf(err, "controller: launch replica %s", replica)
	}
	c.hosts[replica] = &entry{host: h, done: make(chan struct{})}
	c.logger.Info().Str("replica", replica.String()).Msg("launched host")
	return h, nil
}

// Get returns replica's Host without launching it.
func (c *Controller) Get(replica algebra.ReplicaId) (*host.Host, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.hosts[replica]
	if !ok {
		return nil, false
	}
	return e.host, true
}

// Watch returns a channel closed when replica's host is removed from the
// controller, whether by Exit or by a panic eviction (§4.8 "watch"). The
// second return is false if no host is currently registered for replica.
func (c *Controller) Watch(replica algebra.ReplicaId) (<-chan struct{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.hosts[replica]
	if !ok {
		return nil, false
	}
	return e.done, true
}

// evict removes replica's entry and wakes any Watch callers. reason is
// logged if non-nil; a nil reason means a clean Exit.
func (c *Controller) evict(replica algebra.ReplicaId, reason error) {
	c.mu.Lock()
	e, ok := c.hosts[replica]
	delete(c.hosts, replica)
	c.mu.Unlock()

	if !ok {
		return
	}
	close(e.done)
	if reason != nil {
		c.logger.Error().Err(reason).Str("replica", replica.String()).Msg("host evicted after panic")
	}
}

// withHost dispatches fn against replica's host (launching it if
// necessary), recovering a panic from fn by evicting the host instead of
// taking the whole controller process down with it (§4.8 "Panic handling
// via on_panic callback removing the host from the map").
func withHost[T any](c *Controller, replica algebra.ReplicaId, fn func(*host.Host) (T, error)) (result T, err error) {
	h, launchErr := c.GetOrLaunch(replica)
	if launchErr != nil {
		return result, launchErr
	}
	defer func() {
		if r := recover(); r != nil {
			perr := errors.Errorf("controller: host %s panicked: %v", replica, r)
			c.evict(replica, perr)
			err = perr
		}
	}()
	return fn(h)
}

// CallReducer dispatches a reducer call to replica's host (launching it
// if necessary).
func (c *Controller) CallReducer(ctx context.Context, replica algebra.ReplicaId, reducer string, args []byte, sender algebra.Identity, conn algebra.ConnectionId, now int64) (*host.ReducerCallResult, error) {
	return withHost(c, replica, func(h *host.Host) (*host.ReducerCallResult, error) {
		return h.CallReducer(ctx, reducer, args, sender, conn, now), nil
	})
}

// UpdateModule implements update_module (§4.8): hot-swap replica's
// running module for a new program. No hash check happens here;
// host.UpdateDatabase reports no_update_needed when the hash is unchanged.
func (c *Controller) UpdateModule(ctx context.Context, replica algebra.ReplicaId, program *host.Program, now int64) (*host.UpdateDatabaseResult, error) {
	return withHost(c, replica, func(h *host.Host) (*host.UpdateDatabaseResult, error) {
		return h.UpdateDatabase(ctx, program, now)
	})
}

// InitMaybeUpdate implements init_maybe_update (§4.8): the path publish
// takes. A replica with no module loaded yet is initialized; one already
// running the same program hash is left alone; anything else is a
// hot-swap to the new program. When expectedHash is non-nil, the call
// fails rather than acting if it does not match the hash currently
// running — a publisher's guard against racing another publish to the
// same replica (§4.8 "init_maybe_update... expected_hash").
func (c *Controller) InitMaybeUpdate(ctx context.Context, replica algebra.ReplicaId, program *host.Program, args []byte, expectedHash *algebra.Hash, now int64) (*host.UpdateDatabaseResult, error) {
	return withHost(c, replica, func(h *host.Host) (*host.UpdateDatabaseResult, error) {
		current := h.ModuleHash()
		if expectedHash != nil && current != *expectedHash {
			return nil, errors.Errorf("controller: replica %s: expected module hash %s, found %s", replica, expectedHash, current)
		}
		switch {
		case current.IsZero():
			call, err := h.InitDatabase(ctx, program, args, now)
			if err != nil {
				return nil, err
			}
			return &host.UpdateDatabaseResult{Outcome: host.UpdatePerformed, Call: call}, nil
		case current == program.Hash:
			return &host.UpdateDatabaseResult{Outcome: host.UpdateNoUpdateNeeded}, nil
		default:
			return h.UpdateDatabase(ctx, program, now)
		}
	})
}

// Exit implements exit() (§4.8): shuts replica's host down and removes
// it from the registry. A replica with no live host is a no-op.
func (c *Controller) Exit(replica algebra.ReplicaId) error {
	c.mu.RLock()
	e, ok := c.hosts[replica]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	err := e.host.Exit()
	c.evict(replica, nil)
	return err
}

// ActiveModules satisfies pkg/metrics.HostStats: the number of replicas
// with a live host registered.
func (c *Controller) ActiveModules() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hosts)
}

// EnergyBalance satisfies pkg/metrics.HostStats: the sum of every live
// host's consumed energy, reported as a single process-wide gauge.
func (c *Controller) EnergyBalance() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total int64
	for _, e := range c.hosts {
		total += e.host.EnergyBalance()
	}
	return total
}
