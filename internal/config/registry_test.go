package config_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/gitapractice/internal/config"
	"github.com/MrWong99/gitapractice/internal/docstore"
)

func TestRegistry_CreateStore_NotRegistered(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	_, err := r.CreateStore(context.Background(), config.StoreConfig{Backend: "redis"})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Fatalf("expected ErrBackendNotRegistered, got %v", err)
	}
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	first := docstore.NewMemStore()
	second := docstore.NewMemStore()
	r.RegisterStore(config.BackendMemory, func(context.Context, config.StoreConfig) (docstore.Store, error) { return first, nil })
	r.RegisterStore(config.BackendMemory, func(context.Context, config.StoreConfig) (docstore.Store, error) { return second, nil })

	got, err := r.CreateStore(context.Background(), config.StoreConfig{Backend: config.BackendMemory})
	if err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	if got != second {
		t.Error("expected the most recent registration to win")
	}
}

func TestDefaultRegistry(t *testing.T) {
	t.Parallel()

	r := config.DefaultRegistry()
	want := []config.Backend{config.BackendMemory, config.BackendPostgres, config.BackendSQLite}
	if got := r.Backends(); !slices.Equal(got, want) {
		t.Errorf("Backends() = %v, want %v", got, want)
	}

	for _, sc := range []config.StoreConfig{
		{Backend: config.BackendMemory, DefaultLimit: 10},
		{Backend: config.BackendSQLite, SQLitePath: ":memory:", DefaultLimit: 10},
	} {
		t.Run(string(sc.Backend), func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			s, err := r.CreateStore(ctx, sc)
			if err != nil {
				t.Fatalf("CreateStore: %v", err)
			}
			defer s.Close()
			if err := s.Ping(ctx); err != nil {
				t.Errorf("Ping: %v", err)
			}
		})
	}
}
