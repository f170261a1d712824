package bond

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry tracks the bond engines hosted by a node. The issuance authority
// consults it to decide which callers may mint the secondary asset.
type Registry struct {
	mu    sync.RWMutex
	bonds map[common.Address]*Engine
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{bonds: make(map[common.Address]*Engine)}
}

// Register adds an opened engine. Registering the same address twice with a
// different engine fails.
func (r *Registry) Register(engine *Engine) error {
	if engine == nil {
		return errNilState
	}
	addr := engine.Address()
	if addr == (common.Address{}) {
		return fmt.Errorf("%w: engine not opened", ErrInvalidParams)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.bonds[addr]; ok && existing != engine {
		return fmt.Errorf("%w: bond %s already registered", ErrInvalidParams, addr.Hex())
	}
	r.bonds[addr] = engine
	return nil
}

// Get returns the engine for addr.
func (r *Registry) Get(addr common.Address) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	engine, ok := r.bonds[addr]
	return engine, ok
}

// IsBond reports whether addr belongs to a registered bond.
func (r *Registry) IsBond(addr common.Address) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bonds[addr]
	return ok
}

// List returns the registered bond addresses in byte order.
func (r *Registry) List() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, 0, len(r.bonds))
	for addr := range r.bonds {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
