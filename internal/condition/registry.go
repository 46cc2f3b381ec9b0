package condition

import (
	"context"
	"sync"

	"keygate.org/internal/gateway"
)

// Registry maps condition contract addresses to their in-process checkers.
// It is the dispatch table the gateway consults when a grant points at an
// external condition.
type Registry struct {
	mu       sync.RWMutex
	checkers map[gateway.Address]gateway.Checker
}

var _ gateway.CheckerResolver = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[gateway.Address]gateway.Checker)}
}

// Register binds a checker to an address. Re-registering an address replaces
// the previous checker.
func (r *Registry) Register(addr gateway.Address, c gateway.Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[addr] = c
}

// Deploy assigns a fresh address to the checker and registers it.
func (r *Registry) Deploy(c gateway.Checker) gateway.Address {
	addr := gateway.RandomAddress()
	r.Register(addr, c)
	return addr
}

// Checker implements gateway.CheckerResolver.
func (r *Registry) Checker(addr gateway.Address) (gateway.Checker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checkers[addr]
	return c, ok
}

// Static is the simplest custom condition: a settable boolean that applies to
// every (user, document) pair. Useful for tests and kill-switch style gating.
type Static struct {
	mu        sync.RWMutex
	permitted bool
}

var _ gateway.Checker = (*Static)(nil)

// NewStatic creates a static condition with the given initial answer.
func NewStatic(permitted bool) *Static {
	return &Static{permitted: permitted}
}

// SetCondition flips the answer for all subsequent queries.
func (s *Static) SetCondition(permitted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permitted = permitted
}

func (s *Static) HasAccessControl(ctx context.Context, user gateway.Address, doc gateway.DocumentID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.permitted, nil
}
