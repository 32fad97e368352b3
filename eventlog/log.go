package eventlog

import (
	"context"
	"fmt"

	"github.com/playvault/gamestore"
)

// Log is the event log client. It encodes domain events with the
// configured codec and appends them in "any revision" mode: streams are
// append-only and this system never rebuilds state from them, so no
// expected-version check is made.
type Log struct {
	adapter Adapter
	codec   gamestore.Codec
	logger  gamestore.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithCodec sets a custom payload codec.
func WithCodec(c gamestore.Codec) Option {
	return func(l *Log) {
		l.codec = c
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger gamestore.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// New creates a Log over the given adapter. The default codec is JSON.
func New(adapter Adapter, opts ...Option) *Log {
	l := &Log{
		adapter: adapter,
		codec:   gamestore.JSONCodec{},
		logger:  gamestore.NopLogger{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Adapter returns the underlying adapter.
func (l *Log) Adapter() Adapter { return l.adapter }

// Append encodes and appends domain events to a stream.
func (l *Log) Append(ctx context.Context, streamID string, events ...gamestore.Event) error {
	return l.AppendWithMetadata(ctx, streamID, nil, events...)
}

// AppendWithMetadata is Append with contextual key-value metadata
// attached to every event in the batch.
func (l *Log) AppendWithMetadata(ctx context.Context, streamID string, metadata map[string]string, events ...gamestore.Event) error {
	if streamID == "" {
		return ErrEmptyStreamID
	}
	if len(events) == 0 {
		return ErrNoEvents
	}

	records := make([]EventRecord, len(events))
	for i, event := range events {
		data, err := l.codec.Marshal(event)
		if err != nil {
			return fmt.Errorf("eventlog: failed to encode %s: %w", event.EventType(), err)
		}
		records[i] = EventRecord{
			Type:     event.EventType(),
			Data:     data,
			Metadata: metadata,
		}
	}

	if _, err := l.adapter.Append(ctx, streamID, records, AnyVersion); err != nil {
		l.logger.Error("event append failed", "stream", streamID, "error", err)
		return gamestore.NewInfrastructureError("append to "+streamID, err)
	}
	l.logger.Debug("events appended", "stream", streamID, "count", len(events))
	return nil
}

// ReadForward reads events from a stream in order, starting at
// fromVersion (0 for the beginning), decoded into their concrete
// domain types. maxCount caps the result; 0 means no cap. An absent
// stream reads as an empty slice.
func (l *Log) ReadForward(ctx context.Context, streamID string, fromVersion int64, maxCount int) ([]gamestore.Event, error) {
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}

	stored, err := l.adapter.Load(ctx, streamID, fromVersion)
	if err != nil {
		return nil, gamestore.NewInfrastructureError("read "+streamID, err)
	}
	if maxCount > 0 && len(stored) > maxCount {
		stored = stored[:maxCount]
	}

	events := make([]gamestore.Event, len(stored))
	for i, s := range stored {
		event, err := gamestore.DecodeEvent(l.codec, s.Type, s.Data)
		if err != nil {
			return nil, err
		}
		events[i] = event
	}
	return events, nil
}

// Close releases the underlying adapter.
func (l *Log) Close() error {
	return l.adapter.Close()
}
