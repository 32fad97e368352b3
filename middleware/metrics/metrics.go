// Package metrics provides Prometheus instrumentation for the service.
//
// It wraps the event log adapter and the document store with timing
// and error counters, and supplies a gin middleware for the HTTP
// surface:
//
//	m := metrics.New(metrics.WithServiceName("gamestore"))
//	m.MustRegister()
//	adapter := m.WrapEventLog(pgAdapter)
//	store := m.WrapStore(esStore)
//	router.Use(m.GinMiddleware())
package metrics

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/playvault/gamestore"
	"github.com/playvault/gamestore/docstore"
	"github.com/playvault/gamestore/eventlog"
)

// Metric labels.
const (
	LabelService   = "service"
	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelEventType = "event_type"
	LabelErrorType = "error_type"
	LabelMethod    = "method"
	LabelPath      = "path"
	LabelCode      = "code"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics holds the Prometheus collectors for the service.
type Metrics struct {
	namespace   string
	serviceName string

	// Event log metrics
	eventLogOperationsTotal   *prometheus.CounterVec
	eventLogOperationDuration *prometheus.HistogramVec
	eventsAppendedTotal       *prometheus.CounterVec

	// Document store metrics
	docStoreOperationsTotal   *prometheus.CounterVec
	docStoreOperationDuration *prometheus.HistogramVec

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorsTotal *prometheus.CounterVec
}

// Option configures Metrics.
type Option func(*Metrics)

// WithNamespace sets the Prometheus namespace.
func WithNamespace(namespace string) Option {
	return func(m *Metrics) { m.namespace = namespace }
}

// WithServiceName sets the service name label.
func WithServiceName(name string) Option {
	return func(m *Metrics) { m.serviceName = name }
}

// New creates a Metrics instance.
func New(opts ...Option) *Metrics {
	m := &Metrics{
		namespace:   "gamestore",
		serviceName: "gamestore",
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initMetrics()
	return m
}

func (m *Metrics) initMetrics() {
	m.eventLogOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "eventlog_operations_total",
			Help:      "Total number of event log operations.",
		},
		[]string{LabelService, LabelOperation, LabelStatus},
	)

	m.eventLogOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      "eventlog_operation_duration_seconds",
			Help:      "Duration of event log operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelOperation},
	)

	m.eventsAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "events_appended_total",
			Help:      "Total number of events appended to streams.",
		},
		[]string{LabelService, LabelEventType},
	)

	m.docStoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "docstore_operations_total",
			Help:      "Total number of document store operations.",
		},
		[]string{LabelService, LabelOperation, LabelStatus},
	)

	m.docStoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      "docstore_operation_duration_seconds",
			Help:      "Duration of document store operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelOperation},
	)

	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{LabelService, LabelMethod, LabelPath, LabelCode},
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelMethod, LabelPath},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by type.",
		},
		[]string{LabelService, LabelErrorType},
	)
}

// Collectors returns all Prometheus collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.eventLogOperationsTotal,
		m.eventLogOperationDuration,
		m.eventsAppendedTotal,
		m.docStoreOperationsTotal,
		m.docStoreOperationDuration,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.errorsTotal,
	}
}

// MustRegister registers all collectors with the default registry.
// Panics if registration fails.
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(m.Collectors()...)
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, collector := range m.Collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) observe(total *prometheus.CounterVec, duration *prometheus.HistogramVec, op string, start time.Time, err error) {
	duration.WithLabelValues(m.serviceName, op).Observe(time.Since(start).Seconds())
	status := StatusSuccess
	if err != nil {
		status = StatusError
		m.errorsTotal.WithLabelValues(m.serviceName, errorTypeName(err)).Inc()
	}
	total.WithLabelValues(m.serviceName, op, status).Inc()
}

// errorTypeName maps an error onto its taxonomy bucket.
func errorTypeName(err error) string {
	switch {
	case errors.Is(err, gamestore.ErrValidation):
		return "validation"
	case errors.Is(err, gamestore.ErrReference):
		return "reference"
	case errors.Is(err, gamestore.ErrNotFound), errors.Is(err, docstore.ErrNotFound):
		return "not_found"
	case errors.Is(err, gamestore.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, gamestore.ErrConflict), errors.Is(err, docstore.ErrConflict):
		return "conflict"
	case errors.Is(err, eventlog.ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, eventlog.ErrStreamNotFound):
		return "stream_not_found"
	case errors.Is(err, eventlog.ErrAdapterClosed), errors.Is(err, docstore.ErrStoreClosed):
		return "closed"
	case errors.Is(err, gamestore.ErrInfrastructure):
		return "infrastructure"
	default:
		return "unknown"
	}
}

// EventLogMiddleware wraps an eventlog.Adapter with metrics.
type EventLogMiddleware struct {
	adapter eventlog.Adapter
	metrics *Metrics
}

var _ eventlog.Adapter = (*EventLogMiddleware)(nil)

// WrapEventLog wraps an adapter with metrics collection.
func (m *Metrics) WrapEventLog(adapter eventlog.Adapter) *EventLogMiddleware {
	return &EventLogMiddleware{adapter: adapter, metrics: m}
}

// Append stores events with metrics.
func (em *EventLogMiddleware) Append(ctx context.Context, streamID string, events []eventlog.EventRecord, expectedVersion int64) ([]eventlog.StoredEvent, error) {
	start := time.Now()
	stored, err := em.adapter.Append(ctx, streamID, events, expectedVersion)
	em.metrics.observe(em.metrics.eventLogOperationsTotal, em.metrics.eventLogOperationDuration, "append", start, err)
	if err == nil {
		for _, e := range events {
			em.metrics.eventsAppendedTotal.WithLabelValues(em.metrics.serviceName, e.Type).Inc()
		}
	}
	return stored, err
}

// Load reads a stream with metrics.
func (em *EventLogMiddleware) Load(ctx context.Context, streamID string, fromVersion int64) ([]eventlog.StoredEvent, error) {
	start := time.Now()
	events, err := em.adapter.Load(ctx, streamID, fromVersion)
	em.metrics.observe(em.metrics.eventLogOperationsTotal, em.metrics.eventLogOperationDuration, "load", start, err)
	return events, err
}

// LoadFromPosition reads the global log with metrics.
func (em *EventLogMiddleware) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]eventlog.StoredEvent, error) {
	start := time.Now()
	events, err := em.adapter.LoadFromPosition(ctx, fromPosition, limit)
	em.metrics.observe(em.metrics.eventLogOperationsTotal, em.metrics.eventLogOperationDuration, "load_from_position", start, err)
	return events, err
}

// GetStreamInfo delegates with metrics.
func (em *EventLogMiddleware) GetStreamInfo(ctx context.Context, streamID string) (*eventlog.StreamInfo, error) {
	start := time.Now()
	info, err := em.adapter.GetStreamInfo(ctx, streamID)
	em.metrics.observe(em.metrics.eventLogOperationsTotal, em.metrics.eventLogOperationDuration, "stream_info", start, err)
	return info, err
}

// GetLastPosition delegates with metrics.
func (em *EventLogMiddleware) GetLastPosition(ctx context.Context) (uint64, error) {
	start := time.Now()
	pos, err := em.adapter.GetLastPosition(ctx)
	em.metrics.observe(em.metrics.eventLogOperationsTotal, em.metrics.eventLogOperationDuration, "last_position", start, err)
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

// Unwrap returns the wrapped adapter, so checkpoint-capable adapters
// stay reachable behind the middleware.
func (em *EventLogMiddleware) Unwrap() eventlog.Adapter {
	return em.adapter
}

// StoreMiddleware wraps a docstore.Store with metrics.
type StoreMiddleware struct {
	store   docstore.Store
	metrics *Metrics
}

var _ docstore.Store = (*StoreMiddleware)(nil)

// WrapStore wraps a document store with metrics collection.
func (m *Metrics) WrapStore(store docstore.Store) *StoreMiddleware {
	return &StoreMiddleware{store: store, metrics: m}
}

// Index delegates with metrics.
func (sm *StoreMiddleware) Index(ctx context.Context, collection, id string, doc interface{}) error {
	start := time.Now()
	err := sm.store.Index(ctx, collection, id, doc)
	sm.metrics.observe(sm.metrics.docStoreOperationsTotal, sm.metrics.docStoreOperationDuration, "index", start, err)
	return err
}

// Get delegates with metrics.
func (sm *StoreMiddleware) Get(ctx context.Context, collection, id string, out interface{}) error {
	start := time.Now()
	err := sm.store.Get(ctx, collection, id, out)
	sm.metrics.observe(sm.metrics.docStoreOperationsTotal, sm.metrics.docStoreOperationDuration, "get", start, err)
	return err
}

// Search delegates with metrics.
func (sm *StoreMiddleware) Search(ctx context.Context, collection string, q docstore.Query) ([]docstore.Hit, error) {
	start := time.Now()
	hits, err := sm.store.Search(ctx, collection, q)
	sm.metrics.observe(sm.metrics.docStoreOperationsTotal, sm.metrics.docStoreOperationDuration, "search", start, err)
	return hits, err
}

// Update delegates with metrics.
func (sm *StoreMiddleware) Update(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	start := time.Now()
	err := sm.store.Update(ctx, collection, id, fields)
	sm.metrics.observe(sm.metrics.docStoreOperationsTotal, sm.metrics.docStoreOperationDuration, "update", start, err)
	return err
}

// UpdateWhere delegates with metrics.
func (sm *StoreMiddleware) UpdateWhere(ctx context.Context, collection, id string, cond docstore.Term, fields map[string]interface{}) error {
	start := time.Now()
	err := sm.store.UpdateWhere(ctx, collection, id, cond, fields)
	sm.metrics.observe(sm.metrics.docStoreOperationsTotal, sm.metrics.docStoreOperationDuration, "update_where", start, err)
	return err
}

// Increment delegates with metrics.
func (sm *StoreMiddleware) Increment(ctx context.Context, collection, id string, deltas map[string]int) error {
	start := time.Now()
	err := sm.store.Increment(ctx, collection, id, deltas)
	sm.metrics.observe(sm.metrics.docStoreOperationsTotal, sm.metrics.docStoreOperationDuration, "increment", start, err)
	return err
}

// Aggregate delegates with metrics.
func (sm *StoreMiddleware) Aggregate(ctx context.Context, collection string, req docstore.AggregationRequest) (*docstore.AggregationResult, error) {
	start := time.Now()
	result, err := sm.store.Aggregate(ctx, collection, req)
	sm.metrics.observe(sm.metrics.docStoreOperationsTotal, sm.metrics.docStoreOperationDuration, "aggregate", start, err)
	return result, err
}

// Ping delegates with metrics.
func (sm *StoreMiddleware) Ping(ctx context.Context) error {
	start := time.Now()
	err := sm.store.Ping(ctx)
	sm.metrics.observe(sm.metrics.docStoreOperationsTotal, sm.metrics.docStoreOperationDuration, "ping", start, err)
	return err
}

// Close delegates to the wrapped store.
func (sm *StoreMiddleware) Close() error {
	return sm.store.Close()
}

// GinMiddleware records request counts and latencies per route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		code := strconv.Itoa(c.Writer.Status())

		m.httpRequestDuration.WithLabelValues(m.serviceName, method, path).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(m.serviceName, method, path, code).Inc()
	}
}
