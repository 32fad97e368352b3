// Package relay tails the event log and fans events out to a message
// broker. It is the out-of-band process that catches external
// consumers (and a lagging read model) up with facts already durable
// in the log: it reads batches after a stored checkpoint, publishes
// them, and only then advances the checkpoint, giving at-least-once
// delivery.
package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playvault/gamestore"
	"github.com/playvault/gamestore/eventlog"
)

// DefaultCheckpoint names the relay's consumer checkpoint.
const DefaultCheckpoint = "relay"

// Message is one event on its way to the broker.
type Message struct {
	// Topic is derived from the stream's category.
	Topic string

	// Key is the stream id, so one aggregate's events stay ordered
	// within a partition.
	Key string

	// Type is the event type tag.
	Type string

	// Payload is the encoded event.
	Payload []byte

	// Headers carries the event metadata.
	Headers map[string]string
}

// Publisher delivers a batch of messages to the broker.
type Publisher interface {
	Publish(ctx context.Context, messages []Message) error
	Close() error
}

// Source is the slice of the event log the relay reads: positional
// batches plus checkpoint storage.
type Source interface {
	LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]eventlog.StoredEvent, error)
	GetCheckpoint(ctx context.Context, name string) (uint64, error)
	SetCheckpoint(ctx context.Context, name string, position uint64) error
}

// Option configures a Relay.
type Option func(*Relay)

// WithBatchSize sets the maximum number of events per poll.
func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithPollInterval sets how often the relay polls for new events.
func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithTopicPrefix sets the prefix for derived topic names.
func WithTopicPrefix(prefix string) Option {
	return func(r *Relay) { r.topicPrefix = prefix }
}

// WithCheckpointName overrides the checkpoint name, letting several
// relays tail the same log independently.
func WithCheckpointName(name string) Option {
	return func(r *Relay) {
		if name != "" {
			r.checkpoint = name
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger gamestore.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

// Relay is the background event pump.
type Relay struct {
	source    Source
	publisher Publisher
	logger    gamestore.Logger

	batchSize    int
	pollInterval time.Duration
	topicPrefix  string
	checkpoint   string

	running atomic.Bool
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

// New creates a Relay over an event source and a publisher.
func New(source Source, publisher Publisher, opts ...Option) *Relay {
	r := &Relay{
		source:       source,
		publisher:    publisher,
		logger:       gamestore.NopLogger{},
		batchSize:    100,
		pollInterval: time.Second,
		topicPrefix:  "gamestore",
		checkpoint:   DefaultCheckpoint,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins the background polling loop.
func (r *Relay) Start(ctx context.Context) error {
	if r.running.Swap(true) {
		return nil
	}
	r.stopCh = make(chan struct{})

	r.wg.Add(1)
	go r.loop(ctx)

	r.logger.Info("relay started", "checkpoint", r.checkpoint)
	return nil
}

// Stop drains the in-flight batch and stops the loop.
func (r *Relay) Stop(ctx context.Context) error {
	if !r.running.Load() {
		return nil
	}
	close(r.stopCh)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.running.Store(false)
		r.logger.Info("relay stopped")
		return nil
	case <-ctx.Done():
		r.running.Store(false)
		return ctx.Err()
	}
}

// IsRunning reports whether the loop is active.
func (r *Relay) IsRunning() bool { return r.running.Load() }

func (r *Relay) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Drain(ctx); err != nil {
				r.logger.Error("relay batch failed", "error", err)
			}
		}
	}
}

// Drain relays every event recorded after the checkpoint, batch by
// batch, until it catches up. Exposed so callers can force a flush.
func (r *Relay) Drain(ctx context.Context) error {
	for {
		n, err := r.relayBatch(ctx)
		if err != nil || n == 0 {
			return err
		}
	}
}

// relayBatch publishes one batch and advances the checkpoint past it.
// The checkpoint moves only after a successful publish: a crash in
// between re-delivers the batch.
func (r *Relay) relayBatch(ctx context.Context) (int, error) {
	position, err := r.source.GetCheckpoint(ctx, r.checkpoint)
	if err != nil {
		return 0, gamestore.NewInfrastructureError("read relay checkpoint", err)
	}

	events, err := r.source.LoadFromPosition(ctx, position, r.batchSize)
	if err != nil {
		return 0, gamestore.NewInfrastructureError("load events after checkpoint", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	messages := make([]Message, len(events))
	for i, event := range events {
		messages[i] = Message{
			Topic:   r.topicPrefix + "." + eventlog.ExtractCategory(event.StreamID),
			Key:     event.StreamID,
			Type:    event.Type,
			Payload: event.Data,
			Headers: event.Metadata,
		}
	}

	if err := r.publisher.Publish(ctx, messages); err != nil {
		return 0, gamestore.NewInfrastructureError("publish relay batch", err)
	}

	last := events[len(events)-1].GlobalPosition
	if err := r.source.SetCheckpoint(ctx, r.checkpoint, last); err != nil {
		return 0, gamestore.NewInfrastructureError("advance relay checkpoint", err)
	}

	r.logger.Debug("relay batch published", "events", len(events), "position", last)
	return len(events), nil
}
