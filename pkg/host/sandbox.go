package host

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/spacetimedb/core/pkg/abi"
	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/energy"
	"github.com/spacetimedb/core/pkg/engine"
)

// ReducerFunc is the body of one reducer: given an open transaction and
// the call's argument bytes, it stages writes through Tx and returns an
// error to abort and roll back. Wasm and JS module runtimes are out of
// scope; ReducerFunc is this repository's stand-in, wiring a reducer
// directly as a Go closure compiled into the host binary rather than
// loaded from a module binary at publish time.
type ReducerFunc func(call *ReducerContext) error

// ReducerContext is the per-call environment a ReducerFunc runs in,
// mirroring the arguments a real module ABI call carries across the
// host/module boundary (§4.9: sender identity, caller connection, the
// reducer's declared timestamp, and the argument bytes).
type ReducerContext struct {
	Context     context.Context
	Tx          *engine.Tx
	Args        []byte
	Sender      algebra.Identity
	Caller      algebra.ConnectionId
	TimestampNs int64
	Budget      *energy.Budget

	sink        *consoleSink
	reducerName string
}

// Charge deducts units from the call's energy budget, returning
// energy.ErrExceeded once it is exhausted (§4.7 "energy accounting").
func (c *ReducerContext) Charge(units int64) error {
	return c.Budget.Charge(energy.Units(units))
}

// ChargeSyscall charges whatever cost the call's energy Table assigns to
// the named syscall (§4.9).
func (c *ReducerContext) ChargeSyscall(syscall string) error {
	return c.Budget.ChargeSyscall(syscall)
}

// Program is one loaded module: its content hash (identifying it in
// st_module), its ABI description, and the native reducer bodies keyed
// by name.
type Program struct {
	Hash        algebra.Hash
	Description abi.ModuleDescription
	Reducers    map[string]ReducerFunc
}

func (p *Program) reducer(name string) (ReducerFunc, bool) {
	if _, ok := p.Description.ReducerByName(name); !ok {
		return nil, false
	}
	fn, ok := p.Reducers[name]
	return fn, ok
}

// Sandbox encapsulates one loaded module (§4.7: "a sandbox containing
// one loaded module"). nativeSandbox is this repository's only
// implementation: it runs reducers as in-process Go functions instead of
// inside a wasm or JS runtime, which the specification explicitly places
// out of scope.
type Sandbox interface {
	// Load installs program as the sandbox's current module, replacing
	// whatever was loaded before.
	Load(program *Program) error
	// Program returns the currently loaded module, or nil before Load.
	Program() *Program
	// CallReducer runs the named reducer's body against call. The
	// sandbox itself does not manage transactions or energy; it only
	// dispatches to the registered function.
	CallReducer(call *ReducerContext, reducer string) error
	// Close tears the sandbox down; further calls fail.
	Close() error
}

type nativeSandbox struct {
	mu      sync.Mutex
	program *Program
	closed  bool
}

// NewNativeSandbox builds a Sandbox that runs reducers as ordinary Go
// function calls within the host process.
func NewNativeSandbox() Sandbox {
	return &nativeSandbox{}
}

func (s *nativeSandbox) Load(program *Program) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("host: sandbox is closed")
	}
	s.program = program
	return nil
}

func (s *nativeSandbox) Program() *Program {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.program
}

func (s *nativeSandbox) CallReducer(call *ReducerContext, reducer string) error {
	s.mu.Lock()
	program, closed := s.program, s.closed
	s.mu.Unlock()

	if closed {
		return errors.New("host: sandbox is closed")
	}
	if program == nil {
		return errors.New("host: no module loaded")
	}
	fn, ok := program.reducer(reducer)
	if !ok {
		return errors.Errorf("host: no such reducer %q", reducer)
	}
	return fn(call)
}

func (s *nativeSandbox) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.program = nil
	return nil
}
