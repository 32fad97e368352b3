package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playvault/gamestore"
	"github.com/playvault/gamestore/docstore"
	docmemory "github.com/playvault/gamestore/docstore/memory"
	"github.com/playvault/gamestore/eventlog"
	logmemory "github.com/playvault/gamestore/eventlog/memory"
)

func TestMetrics_Register(t *testing.T) {
	m := New()
	registry := prometheus.NewRegistry()
	require.NoError(t, m.Register(registry))

	// Registering the same collectors twice fails.
	assert.Error(t, m.Register(registry))
}

func TestEventLogMiddleware(t *testing.T) {
	ctx := context.Background()

	t.Run("counts operations and appended events", func(t *testing.T) {
		m := New()
		wrapped := m.WrapEventLog(logmemory.NewAdapter())

		records := []eventlog.EventRecord{
			{Type: "GameCreated", Data: []byte(`{}`)},
			{Type: "GamePurchased", Data: []byte(`{}`)},
		}
		_, err := wrapped.Append(ctx, "game-1", records, eventlog.AnyVersion)
		require.NoError(t, err)

		assert.Equal(t, 1.0, testutil.ToFloat64(
			m.eventLogOperationsTotal.WithLabelValues("gamestore", "append", StatusSuccess)))
		assert.Equal(t, 1.0, testutil.ToFloat64(
			m.eventsAppendedTotal.WithLabelValues("gamestore", "GameCreated")))
		assert.Equal(t, 1.0, testutil.ToFloat64(
			m.eventsAppendedTotal.WithLabelValues("gamestore", "GamePurchased")))

		_, err = wrapped.Load(ctx, "game-1", 0)
		require.NoError(t, err)
		assert.Equal(t, 1.0, testutil.ToFloat64(
			m.eventLogOperationsTotal.WithLabelValues("gamestore", "load", StatusSuccess)))
	})

	t.Run("failed appends count as errors without event counts", func(t *testing.T) {
		m := New()
		adapter := logmemory.NewAdapter()
		require.NoError(t, adapter.Close())
		wrapped := m.WrapEventLog(adapter)

		_, err := wrapped.Append(ctx, "game-1", []eventlog.EventRecord{{Type: "GameCreated"}}, eventlog.AnyVersion)
		require.Error(t, err)

		assert.Equal(t, 1.0, testutil.ToFloat64(
			m.eventLogOperationsTotal.WithLabelValues("gamestore", "append", StatusError)))
		assert.Equal(t, 1.0, testutil.ToFloat64(
			m.errorsTotal.WithLabelValues("gamestore", "closed")))
		assert.Equal(t, 0.0, testutil.ToFloat64(
			m.eventsAppendedTotal.WithLabelValues("gamestore", "GameCreated")))
	})

	t.Run("unwrap exposes the inner adapter", func(t *testing.T) {
		adapter := logmemory.NewAdapter()
		wrapped := New().WrapEventLog(adapter)

		inner, ok := wrapped.Unwrap().(*logmemory.Adapter)
		require.True(t, ok)
		assert.Same(t, adapter, inner)
	})
}

func TestStoreMiddleware(t *testing.T) {
	ctx := context.Background()

	t.Run("counts store operations", func(t *testing.T) {
		m := New()
		wrapped := m.WrapStore(docmemory.NewStore())

		require.NoError(t, wrapped.Index(ctx, docstore.GamesCollection, "g-1", map[string]interface{}{"id": "g-1"}))

		var out map[string]interface{}
		require.NoError(t, wrapped.Get(ctx, docstore.GamesCollection, "g-1", &out))

		assert.Equal(t, 1.0, testutil.ToFloat64(
			m.docStoreOperationsTotal.WithLabelValues("gamestore", "index", StatusSuccess)))
		assert.Equal(t, 1.0, testutil.ToFloat64(
			m.docStoreOperationsTotal.WithLabelValues("gamestore", "get", StatusSuccess)))
	})

	t.Run("classifies lookup misses", func(t *testing.T) {
		m := New()
		wrapped := m.WrapStore(docmemory.NewStore())

		var out map[string]interface{}
		err := wrapped.Get(ctx, docstore.GamesCollection, "absent", &out)
		require.Error(t, err)

		assert.Equal(t, 1.0, testutil.ToFloat64(
			m.docStoreOperationsTotal.WithLabelValues("gamestore", "get", StatusError)))
		assert.Equal(t, 1.0, testutil.ToFloat64(
			m.errorsTotal.WithLabelValues("gamestore", "not_found")))
	})
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	m := New()
	router := gin.New()
	router.Use(m.GinMiddleware())
	router.GET("/games/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/games/g-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// The route template is the label, not the concrete path.
	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.httpRequestsTotal.WithLabelValues("gamestore", http.MethodGet, "/games/:id", "200")))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.httpRequestsTotal.WithLabelValues("gamestore", http.MethodGet, "unmatched", "404")))
}

func TestErrorTypeName(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"validation", gamestore.NewValidationError("title", "empty"), "validation"},
		{"reference", gamestore.NewReferenceError("game", []string{"g-1"}), "reference"},
		{"not found", gamestore.ErrNotFound, "not_found"},
		{"store not found", docstore.ErrNotFound, "not_found"},
		{"invalid state", gamestore.NewStateError("o-1", gamestore.StatusCompleted, gamestore.StatusCancelled), "invalid_state"},
		{"conflict", docstore.ErrConflict, "conflict"},
		{"concurrency", &eventlog.ConcurrencyError{StreamID: "game-1"}, "concurrency_conflict"},
		{"stream not found", eventlog.ErrStreamNotFound, "stream_not_found"},
		{"closed", eventlog.ErrAdapterClosed, "closed"},
		{"infrastructure", gamestore.NewInfrastructureError("ping", errors.New("down")), "infrastructure"},
		{"unknown", errors.New("mystery"), "unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, errorTypeName(tc.err))
		})
	}
}
