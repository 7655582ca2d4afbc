// Package docstore is a small document store: schemaless records grouped
// into named collections, inserted once and read back through equality
// filters on top-level fields.
//
// Three backends implement [Store]: [MemStore] for tests and single-process
// deployments, [PostgresStore] (one JSONB table) and [SQLiteStore] (one JSON
// text table). [Guarded] wraps any of them with a circuit breaker and
// metrics.
//
// Field values are normalised through JSON on the way in, so every backend
// hands back the same Go types: numbers as float64, objects as
// map[string]any, arrays as []any.
package docstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"time"
)

// Collection names accepted by every backend.
const (
	CollectionBookmark     = "bookmark"
	CollectionProgress     = "progress"
	CollectionPracticeItem = "practiceitem"
	CollectionHealth       = "health"
)

var knownCollections = []string{
	CollectionBookmark,
	CollectionHealth,
	CollectionPracticeItem,
	CollectionProgress,
}

var (
	// ErrUnknownCollection is returned for a collection name outside the
	// fixed set.
	ErrUnknownCollection = errors.New("docstore: unknown collection")

	// ErrInvalidFilter is returned when a filter key is malformed or a value
	// is not a scalar.
	ErrInvalidFilter = errors.New("docstore: invalid filter")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("docstore: store is closed")
)

// KnownCollections returns the accepted collection names in sorted order.
func KnownCollections() []string {
	return slices.Clone(knownCollections)
}

// CheckCollection returns [ErrUnknownCollection] when name is not accepted.
func CheckCollection(name string) error {
	if _, found := slices.BinarySearch(knownCollections, name); !found {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	return nil
}

// Document is a stored record.
type Document struct {
	ID        string
	Fields    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MarshalJSON flattens the document into one object: its fields plus _id,
// created_at and updated_at.
func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Fields)+3)
	maps.Copy(out, d.Fields)
	out["_id"] = d.ID
	out["created_at"] = d.CreatedAt.UTC()
	out["updated_at"] = d.UpdatedAt.UTC()
	return json.Marshal(out)
}

// Decode copies the document fields into v, which must be a pointer to a
// struct or map with JSON tags matching the field names.
func (d Document) Decode(v any) error {
	raw, err := json.Marshal(d.Fields)
	if err != nil {
		return fmt.Errorf("docstore: decode %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("docstore: decode %s: %w", d.ID, err)
	}
	return nil
}

// Filter selects documents whose top-level fields equal every given value.
// An empty filter matches everything. Values must be strings, numbers or
// booleans.
type Filter map[string]any

var filterKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// normalize validates f and returns it with values passed through JSON, plus
// its keys in sorted order.
func (f Filter) normalize() (Filter, []string, error) {
	out := make(Filter, len(f))
	keys := slices.Sorted(maps.Keys(f))
	for _, k := range keys {
		if !filterKey.MatchString(k) {
			return nil, nil, fmt.Errorf("%w: key %q", ErrInvalidFilter, k)
		}
		switch v := f[k].(type) {
		case string, bool:
			out[k] = v
		case float64:
			out[k] = v
		case float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			n, err := toFloat(v)
			if err != nil {
				return nil, nil, err
			}
			out[k] = n
		default:
			return nil, nil, fmt.Errorf("%w: %q has non-scalar value %T", ErrInvalidFilter, k, v)
		}
	}
	return out, keys, nil
}

func toFloat(v any) (float64, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return n, nil
}

// matches reports whether fields satisfy the normalised filter.
func (f Filter) matches(fields map[string]any) bool {
	for k, want := range f {
		got, ok := fields[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// normalizeFields round-trips fields through JSON.
func normalizeFields(fields map[string]any) (map[string]any, []byte, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, nil, fmt.Errorf("docstore: encode fields: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil, fmt.Errorf("docstore: encode fields: %w", err)
	}
	return out, raw, nil
}

// Store is the persistence interface shared by every backend. Inserts are
// visible to subsequent reads from the same process; there are no
// transactions and no updates.
type Store interface {
	// Backend names the implementation ("memory", "postgres", "sqlite").
	Backend() string

	// Create inserts fields into collection and returns the stored document
	// with its generated ID and timestamps.
	Create(ctx context.Context, collection string, fields map[string]any) (Document, error)

	// Find returns up to limit documents matching filter in insertion order.
	// A non-positive limit means the store's default limit.
	Find(ctx context.Context, collection string, filter Filter, limit int) ([]Document, error)

	// Count returns the number of documents matching filter.
	Count(ctx context.Context, collection string, filter Filter) (int, error)

	// Collections lists the collections that hold at least one document,
	// sorted by name.
	Collections(ctx context.Context) ([]string, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	defaultLimit int
	now          func() time.Time
	newID        func() (string, error)
}

// DefaultLimit is used when no [WithDefaultLimit] option is given.
const DefaultLimit = 100

// WithDefaultLimit sets the limit applied to Find calls without one.
// Non-positive values are ignored.
func WithDefaultLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.defaultLimit = n
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides how document IDs are generated.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(o *options) {
		if gen != nil {
			o.newID = gen
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		defaultLimit: DefaultLimit,
		now:          time.Now,
		newID:        generateID,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) limit(n int) int {
	if n <= 0 {
		return o.defaultLimit
	}
	return n
}

// generateID returns 12 random bytes hex-encoded, the size of a Mongo
// ObjectID.
func generateID() (string, error) {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
