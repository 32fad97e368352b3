package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/playvault/gamestore/docstore"
	docmemory "github.com/playvault/gamestore/docstore/memory"
	"github.com/playvault/gamestore/eventlog"
	logmemory "github.com/playvault/gamestore/eventlog/memory"
)

func newTracer(t *testing.T) (*Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return NewTracer(WithTracerProvider(tp), WithServiceName("gamestore-test")), exporter
}

func spanNames(exporter *tracetest.InMemoryExporter) []string {
	spans := exporter.GetSpans()
	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name
	}
	return names
}

func TestEventLogMiddleware(t *testing.T) {
	ctx := context.Background()

	t.Run("spans cover append and load", func(t *testing.T) {
		tracer, exporter := newTracer(t)
		wrapped := WrapEventLog(logmemory.NewAdapter(), tracer)

		_, err := wrapped.Append(ctx, "game-1", []eventlog.EventRecord{
			{Type: "GameCreated", Data: []byte(`{}`)},
		}, eventlog.AnyVersion)
		require.NoError(t, err)

		_, err = wrapped.Load(ctx, "game-1", 0)
		require.NoError(t, err)

		assert.Equal(t, []string{"eventlog.append", "eventlog.load"}, spanNames(exporter))

		spans := exporter.GetSpans()
		assert.Equal(t, codes.Ok, spans[0].Status.Code)

		var stream string
		for _, attr := range spans[0].Attributes {
			if string(attr.Key) == "gamestore.stream_id" {
				stream = attr.Value.AsString()
			}
		}
		assert.Equal(t, "game-1", stream)
	})

	t.Run("failures mark the span", func(t *testing.T) {
		tracer, exporter := newTracer(t)
		adapter := logmemory.NewAdapter()
		require.NoError(t, adapter.Close())
		wrapped := WrapEventLog(adapter, tracer)

		_, err := wrapped.Append(ctx, "game-1", []eventlog.EventRecord{{Type: "GameCreated"}}, eventlog.AnyVersion)
		require.Error(t, err)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
		assert.NotEmpty(t, spans[0].Events)
	})
}

func TestStoreMiddleware(t *testing.T) {
	ctx := context.Background()
	tracer, exporter := newTracer(t)
	wrapped := WrapStore(docmemory.NewStore(), tracer)

	require.NoError(t, wrapped.Index(ctx, docstore.GamesCollection, "g-1", map[string]interface{}{"id": "g-1"}))

	_, err := wrapped.Search(ctx, docstore.GamesCollection, docstore.Query{IDs: []string{"g-1"}})
	require.NoError(t, err)

	require.NoError(t, wrapped.Ping(ctx))

	assert.Equal(t, []string{"docstore.index", "docstore.search", "docstore.ping"}, spanNames(exporter))
}
