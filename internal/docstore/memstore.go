package docstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Compile-time interface assertion.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store]. Documents are kept per collection in
// insertion order and lost when the process exits.
//
// All methods are safe for concurrent use.
type MemStore struct {
	opts options

	mu     sync.RWMutex
	docs   map[string][]Document
	closed bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore(opts ...Option) *MemStore {
	return &MemStore{
		opts: buildOptions(opts),
		docs: make(map[string][]Document),
	}
}

// Backend implements [Store].
func (s *MemStore) Backend() string { return "memory" }

// Create implements [Store].
func (s *MemStore) Create(_ context.Context, collection string, fields map[string]any) (Document, error) {
	if err := CheckCollection(collection); err != nil {
		return Document{}, err
	}
	normalized, _, err := normalizeFields(fields)
	if err != nil {
		return Document{}, err
	}
	id, err := s.opts.newID()
	if err != nil {
		return Document{}, fmt.Errorf("docstore: generate id: %w", err)
	}
	now := s.opts.now().UTC()
	doc := Document{
		ID:        id,
		Fields:    normalized,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Document{}, ErrClosed
	}
	s.docs[collection] = append(s.docs[collection], doc)
	return copyDocument(doc), nil
}

// Find implements [Store].
func (s *MemStore) Find(_ context.Context, collection string, filter Filter, limit int) ([]Document, error) {
	if err := CheckCollection(collection); err != nil {
		return nil, err
	}
	f, _, err := filter.normalize()
	if err != nil {
		return nil, err
	}
	limit = s.opts.limit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Document, 0)
	for _, doc := range s.docs[collection] {
		if len(out) >= limit {
			break
		}
		if f.matches(doc.Fields) {
			out = append(out, copyDocument(doc))
		}
	}
	return out, nil
}

// Count implements [Store].
func (s *MemStore) Count(_ context.Context, collection string, filter Filter) (int, error) {
	if err := CheckCollection(collection); err != nil {
		return 0, err
	}
	f, _, err := filter.normalize()
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := 0
	for _, doc := range s.docs[collection] {
		if f.matches(doc.Fields) {
			n++
		}
	}
	return n, nil
}

// Collections implements [Store].
func (s *MemStore) Collections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	names := make([]string, 0, len(s.docs))
	for name, docs := range s.docs {
		if len(docs) > 0 {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// Ping implements [Store].
func (s *MemStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close implements [Store]. Stored documents are discarded.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.docs = nil
	return nil
}

// copyDocument returns doc with a shallow copy of its field map so callers
// cannot mutate stored state.
func copyDocument(doc Document) Document {
	doc.Fields = maps.Clone(doc.Fields)
	return doc
}
