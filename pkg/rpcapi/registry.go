package rpcapi

import (
	"fmt"
	"sync"

	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/host"
)

// ProgramRegistry maps a module's content hash to its natively compiled
// host.Program. A host.Program's Reducers are Go closures and cannot be
// shipped over the wire, so unlike SpacetimeDB's wasm/JS module loading
// (out of scope per spec.md's Non-goals), publish does not carry module
// bytes: the spacetimed binary registers every module it was built with
// at startup, and PublishRequest.ModuleHash selects among them.
type ProgramRegistry struct {
	mu       sync.RWMutex
	programs map[algebra.Hash]*host.Program
}

// NewProgramRegistry returns an empty registry.
func NewProgramRegistry() *ProgramRegistry {
	return &ProgramRegistry{programs: make(map[algebra.Hash]*host.Program)}
}

// Register makes program callable by its own Hash. Registering the
// same hash twice overwrites the previous entry.
func (r *ProgramRegistry) Register(program *host.Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[program.Hash] = program
}

// Lookup returns the program registered under hash, if any.
func (r *ProgramRegistry) Lookup(hash algebra.Hash) (*host.Program, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.programs[hash]
	return p, ok
}

func (r *ProgramRegistry) byHexString(s string) (*host.Program, error) {
	hash, err := algebra.HashFromHex(s)
	if err != nil {
		return nil, fmt.Errorf("rpcapi: invalid module hash %q: %w", s, err)
	}
	program, ok := r.Lookup(hash)
	if !ok {
		return nil, fmt.Errorf("rpcapi: no module registered for hash %s", s)
	}
	return program, nil
}
