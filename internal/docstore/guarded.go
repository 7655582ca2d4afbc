package docstore

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/gitapractice/internal/observe"
	"github.com/MrWong99/gitapractice/internal/resilience"
)

// Compile-time interface assertion.
var _ Store = (*Guarded)(nil)

// Guarded decorates a [Store] with a circuit breaker, a span per call and
// store metrics. Caller mistakes ([ErrUnknownCollection], [ErrInvalidFilter])
// never count against the breaker.
type Guarded struct {
	inner   Store
	breaker *resilience.CircuitBreaker
	metrics *observe.Metrics
}

// GuardOption configures a [Guarded] store.
type GuardOption func(*guardOptions)

type guardOptions struct {
	breaker resilience.Config
	metrics *observe.Metrics
}

// WithBreakerConfig sets the breaker tuning. Name, IsFailure and
// OnStateChange are filled in by [NewGuarded] when left empty.
func WithBreakerConfig(cfg resilience.Config) GuardOption {
	return func(o *guardOptions) { o.breaker = cfg }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) GuardOption {
	return func(o *guardOptions) { o.metrics = m }
}

// NewGuarded wraps inner.
func NewGuarded(inner Store, opts ...GuardOption) *Guarded {
	var o guardOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	cfg := o.breaker
	if cfg.Name == "" {
		cfg.Name = "docstore-" + inner.Backend()
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = IsBackendFailure
	}
	if cfg.OnStateChange == nil {
		m := o.metrics
		cfg.OnStateChange = func(name string, from, to resilience.State) {
			m.RecordBreakerTransition(context.Background(), name, from.String(), to.String())
		}
	}
	return &Guarded{
		inner:   inner,
		breaker: resilience.New(cfg),
		metrics: o.metrics,
	}
}

// IsBackendFailure reports whether err indicates the backend misbehaved, as
// opposed to a rejected request or a cancelled caller.
func IsBackendFailure(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ErrUnknownCollection),
		errors.Is(err, ErrInvalidFilter),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Breaker exposes the underlying circuit breaker.
func (g *Guarded) Breaker() *resilience.CircuitBreaker { return g.breaker }

// Unwrap returns the decorated store.
func (g *Guarded) Unwrap() Store { return g.inner }

// Backend implements [Store].
func (g *Guarded) Backend() string { return g.inner.Backend() }

// Create implements [Store].
func (g *Guarded) Create(ctx context.Context, collection string, fields map[string]any) (Document, error) {
	var doc Document
	err := g.do(ctx, collection, "create", func(ctx context.Context) error {
		var err error
		doc, err = g.inner.Create(ctx, collection, fields)
		return err
	})
	return doc, err
}

// Find implements [Store].
func (g *Guarded) Find(ctx context.Context, collection string, filter Filter, limit int) ([]Document, error) {
	var docs []Document
	err := g.do(ctx, collection, "find", func(ctx context.Context) error {
		var err error
		docs, err = g.inner.Find(ctx, collection, filter, limit)
		return err
	})
	return docs, err
}

// Count implements [Store].
func (g *Guarded) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	var n int
	err := g.do(ctx, collection, "count", func(ctx context.Context) error {
		var err error
		n, err = g.inner.Count(ctx, collection, filter)
		return err
	})
	return n, err
}

// Collections implements [Store].
func (g *Guarded) Collections(ctx context.Context) ([]string, error) {
	var names []string
	err := g.do(ctx, "", "collections", func(ctx context.Context) error {
		var err error
		names, err = g.inner.Collections(ctx)
		return err
	})
	return names, err
}

// Ping implements [Store]. Pings bypass the breaker so readiness checks see
// the backend's real state.
func (g *Guarded) Ping(ctx context.Context) error {
	return g.inner.Ping(ctx)
}

// Close implements [Store].
func (g *Guarded) Close() error { return g.inner.Close() }

func (g *Guarded) do(ctx context.Context, collection, op string, fn func(context.Context) error) error {
	ctx, span := observe.StartSpan(ctx, "docstore."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", g.inner.Backend()),
			attribute.String("docstore.collection", collection),
		),
	)
	defer span.End()

	err := g.breaker.Execute(ctx, fn)

	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, resilience.ErrCircuitOpen):
		status = "rejected"
	case IsBackendFailure(err):
		status = "error"
	default:
		status = "invalid"
	}
	g.metrics.RecordStoreRequest(ctx, g.inner.Backend(), collection, op, status)

	switch {
	case err == nil:
	case status == "invalid":
		span.RecordError(err)
	default:
		observe.Fail(span, err)
		observe.Logger(ctx).Warn("docstore call failed",
			"backend", g.inner.Backend(), "collection", collection, "op", op, "err", err)
	}
	return err
}
