// Package tracing provides OpenTelemetry spans for the infrastructure
// surfaces: event log appends and reads, and document store calls.
//
// Basic usage:
//
//	tp := sdktrace.NewTracerProvider(...)
//	otel.SetTracerProvider(tp)
//
//	tracer := tracing.NewTracer(tracing.WithServiceName("gamestore"))
//	adapter := tracing.WrapEventLog(pgAdapter, tracer)
//	store := tracing.WrapStore(esStore, tracer)
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/playvault/gamestore/docstore"
	"github.com/playvault/gamestore/eventlog"
)

const (
	// TracerName identifies this instrumentation.
	TracerName = "github.com/playvault/gamestore"

	// DefaultServiceName is the default service name for spans.
	DefaultServiceName = "gamestore"
)

// Tracer wraps an OpenTelemetry tracer.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name attached to spans.
func WithServiceName(name string) Option {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a Tracer from the global TracerProvider.
func NewTracer(opts ...Option) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("gamestore.service", t.serviceName))
	span.SetAttributes(attrs...)
	return ctx, span
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// EventLogMiddleware wraps an eventlog.Adapter with tracing.
type EventLogMiddleware struct {
	adapter eventlog.Adapter
	tracer  *Tracer
}

var _ eventlog.Adapter = (*EventLogMiddleware)(nil)

// WrapEventLog wraps an adapter so every operation opens a span.
func WrapEventLog(adapter eventlog.Adapter, tracer *Tracer) *EventLogMiddleware {
	return &EventLogMiddleware{adapter: adapter, tracer: tracer}
}

// Append stores events under an "eventlog.append" span.
func (em *EventLogMiddleware) Append(ctx context.Context, streamID string, events []eventlog.EventRecord, expectedVersion int64) ([]eventlog.StoredEvent, error) {
	ctx, span := em.tracer.start(ctx, "eventlog.append",
		attribute.String("gamestore.stream_id", streamID),
		attribute.Int("gamestore.event_count", len(events)),
	)
	stored, err := em.adapter.Append(ctx, streamID, events, expectedVersion)
	end(span, err)
	return stored, err
}

// Load reads a stream under an "eventlog.load" span.
func (em *EventLogMiddleware) Load(ctx context.Context, streamID string, fromVersion int64) ([]eventlog.StoredEvent, error) {
	ctx, span := em.tracer.start(ctx, "eventlog.load",
		attribute.String("gamestore.stream_id", streamID),
		attribute.Int64("gamestore.from_version", fromVersion),
	)
	events, err := em.adapter.Load(ctx, streamID, fromVersion)
	if err == nil {
		span.SetAttributes(attribute.Int("gamestore.event_count", len(events)))
	}
	end(span, err)
	return events, err
}

// LoadFromPosition reads the global log under a span.
func (em *EventLogMiddleware) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]eventlog.StoredEvent, error) {
	ctx, span := em.tracer.start(ctx, "eventlog.load_from_position",
		attribute.Int64("gamestore.from_position", int64(fromPosition)),
		attribute.Int("gamestore.limit", limit),
	)
	events, err := em.adapter.LoadFromPosition(ctx, fromPosition, limit)
	end(span, err)
	return events, err
}

// GetStreamInfo delegates under a span.
func (em *EventLogMiddleware) GetStreamInfo(ctx context.Context, streamID string) (*eventlog.StreamInfo, error) {
	ctx, span := em.tracer.start(ctx, "eventlog.stream_info",
		attribute.String("gamestore.stream_id", streamID),
	)
	info, err := em.adapter.GetStreamInfo(ctx, streamID)
	end(span, err)
	return info, err
}

// GetLastPosition delegates under a span.
func (em *EventLogMiddleware) GetLastPosition(ctx context.Context) (uint64, error) {
	ctx, span := em.tracer.start(ctx, "eventlog.last_position")
	pos, err := em.adapter.GetLastPosition(ctx)
	end(span, err)
	return pos, err
}

// Initialize delegates to the wrapped adapter.
func (em *EventLogMiddleware) Initialize(ctx context.Context) error {
	return em.adapter.Initialize(ctx)
}

// Close delegates to the wrapped adapter.
func (em *EventLogMiddleware) Close() error {
	return em.adapter.Close()
}

// Unwrap returns the wrapped adapter.
func (em *EventLogMiddleware) Unwrap() eventlog.Adapter {
	return em.adapter
}

// StoreMiddleware wraps a docstore.Store with tracing.
type StoreMiddleware struct {
	store  docstore.Store
	tracer *Tracer
}

var _ docstore.Store = (*StoreMiddleware)(nil)

// WrapStore wraps a document store so every operation opens a span.
func WrapStore(store docstore.Store, tracer *Tracer) *StoreMiddleware {
	return &StoreMiddleware{store: store, tracer: tracer}
}

func collectionAttr(collection string) attribute.KeyValue {
	return attribute.String("gamestore.collection", collection)
}

// Index delegates under a "docstore.index" span.
func (sm *StoreMiddleware) Index(ctx context.Context, collection, id string, doc interface{}) error {
	ctx, span := sm.tracer.start(ctx, "docstore.index", collectionAttr(collection))
	err := sm.store.Index(ctx, collection, id, doc)
	end(span, err)
	return err
}

// Get delegates under a "docstore.get" span.
func (sm *StoreMiddleware) Get(ctx context.Context, collection, id string, out interface{}) error {
	ctx, span := sm.tracer.start(ctx, "docstore.get", collectionAttr(collection))
	err := sm.store.Get(ctx, collection, id, out)
	end(span, err)
	return err
}

// Search delegates under a "docstore.search" span.
func (sm *StoreMiddleware) Search(ctx context.Context, collection string, q docstore.Query) ([]docstore.Hit, error) {
	ctx, span := sm.tracer.start(ctx, "docstore.search", collectionAttr(collection))
	hits, err := sm.store.Search(ctx, collection, q)
	if err == nil {
		span.SetAttributes(attribute.Int("gamestore.hit_count", len(hits)))
	}
	end(span, err)
	return hits, err
}

// Update delegates under a "docstore.update" span.
func (sm *StoreMiddleware) Update(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	ctx, span := sm.tracer.start(ctx, "docstore.update", collectionAttr(collection))
	err := sm.store.Update(ctx, collection, id, fields)
	end(span, err)
	return err
}

// UpdateWhere delegates under a "docstore.update_where" span.
func (sm *StoreMiddleware) UpdateWhere(ctx context.Context, collection, id string, cond docstore.Term, fields map[string]interface{}) error {
	ctx, span := sm.tracer.start(ctx, "docstore.update_where", collectionAttr(collection),
		attribute.String("gamestore.condition_field", cond.Field))
	err := sm.store.UpdateWhere(ctx, collection, id, cond, fields)
	end(span, err)
	return err
}

// Increment delegates under a "docstore.increment" span.
func (sm *StoreMiddleware) Increment(ctx context.Context, collection, id string, deltas map[string]int) error {
	ctx, span := sm.tracer.start(ctx, "docstore.increment", collectionAttr(collection))
	err := sm.store.Increment(ctx, collection, id, deltas)
	end(span, err)
	return err
}

// Aggregate delegates under a "docstore.aggregate" span.
func (sm *StoreMiddleware) Aggregate(ctx context.Context, collection string, req docstore.AggregationRequest) (*docstore.AggregationResult, error) {
	ctx, span := sm.tracer.start(ctx, "docstore.aggregate", collectionAttr(collection))
	result, err := sm.store.Aggregate(ctx, collection, req)
	end(span, err)
	return result, err
}

// Ping delegates under a "docstore.ping" span.
func (sm *StoreMiddleware) Ping(ctx context.Context) error {
	ctx, span := sm.tracer.start(ctx, "docstore.ping")
	err := sm.store.Ping(ctx)
	end(span, err)
	return err
}

// Close delegates to the wrapped store.
func (sm *StoreMiddleware) Close() error {
	return sm.store.Close()
}
