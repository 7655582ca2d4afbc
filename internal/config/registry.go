package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/gitapractice/internal/docstore"
)

// ErrBackendNotRegistered is returned by [Registry.CreateStore] when no factory
// has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: store backend not registered")

// StoreFactory opens a document store from its configuration block.
type StoreFactory func(ctx context.Context, cfg StoreConfig) (docstore.Store, error)

// Registry maps store backend names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	stores map[Backend]StoreFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stores: make(map[Backend]StoreFactory),
	}
}

// RegisterStore registers a store factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterStore(name Backend, factory StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[name] = factory
}

// CreateStore instantiates the store selected by cfg.Backend.
// Returns [ErrBackendNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateStore(ctx context.Context, cfg StoreConfig) (docstore.Store, error) {
	r.mu.RLock()
	factory, ok := r.stores[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(ctx, cfg)
}

// Backends returns the registered backend names in sorted order.
func (r *Registry) Backends() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]Backend, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultRegistry returns a registry with the built-in backends registered:
// memory, postgres and sqlite.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterStore(BackendMemory, func(_ context.Context, cfg StoreConfig) (docstore.Store, error) {
		return docstore.NewMemStore(docstore.WithDefaultLimit(cfg.DefaultLimit)), nil
	})
	r.RegisterStore(BackendPostgres, func(ctx context.Context, cfg StoreConfig) (docstore.Store, error) {
		return docstore.OpenPostgres(ctx, cfg.PostgresDSN, docstore.WithDefaultLimit(cfg.DefaultLimit))
	})
	r.RegisterStore(BackendSQLite, func(ctx context.Context, cfg StoreConfig) (docstore.Store, error) {
		return docstore.OpenSQLite(ctx, cfg.SQLitePath, docstore.WithDefaultLimit(cfg.DefaultLimit))
	})
	return r
}
