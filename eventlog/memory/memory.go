// Package memory provides an in-memory event log adapter, used for
// tests and local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playvault/gamestore/eventlog"
)

// Ensure Adapter implements the required interfaces.
var (
	_ eventlog.Adapter           = (*Adapter)(nil)
	_ eventlog.CheckpointAdapter = (*Adapter)(nil)
)

// Adapter is an in-memory implementation of eventlog.Adapter.
// It is safe for concurrent use.
type Adapter struct {
	mu             sync.RWMutex
	streams        map[string]*streamData
	globalEvents   []eventlog.StoredEvent
	globalPosition uint64
	checkpoints    map[string]uint64
	closed         bool
}

type streamData struct {
	info   eventlog.StreamInfo
	events []eventlog.StoredEvent
}

// NewAdapter creates a new in-memory event log adapter.
func NewAdapter() *Adapter {
	return &Adapter{
		streams:     make(map[string]*streamData),
		checkpoints: make(map[string]uint64),
	}
}

// Initialize is a no-op for the memory adapter.
func (a *Adapter) Initialize(ctx context.Context) error {
	return nil
}

// Append stores events to the specified stream.
func (a *Adapter) Append(ctx context.Context, streamID string, events []eventlog.EventRecord, expectedVersion int64) ([]eventlog.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, eventlog.ErrAdapterClosed
	}
	if streamID == "" {
		return nil, eventlog.ErrEmptyStreamID
	}
	if len(events) == 0 {
		return nil, eventlog.ErrNoEvents
	}

	stream, exists := a.streams[streamID]
	currentVersion := int64(0)
	if exists {
		currentVersion = stream.info.Version
	}

	if err := eventlog.CheckVersion(streamID, expectedVersion, currentVersion, exists); err != nil {
		return nil, err
	}

	now := time.Now()
	if !exists {
		stream = &streamData{
			info: eventlog.StreamInfo{
				StreamID:  streamID,
				Category:  eventlog.ExtractCategory(streamID),
				CreatedAt: now,
				UpdatedAt: now,
			},
		}
		a.streams[streamID] = stream
	}

	stored := make([]eventlog.StoredEvent, len(events))
	for i, record := range events {
		a.globalPosition++
		stream.info.Version++
		stream.info.EventCount++

		event := eventlog.StoredEvent{
			ID:             uuid.NewString(),
			StreamID:       streamID,
			Type:           record.Type,
			Data:           record.Data,
			Metadata:       record.Metadata,
			Version:        stream.info.Version,
			GlobalPosition: a.globalPosition,
			Timestamp:      now,
		}
		stream.events = append(stream.events, event)
		a.globalEvents = append(a.globalEvents, event)
		stored[i] = event
	}
	stream.info.UpdatedAt = now

	return stored, nil
}

// Load retrieves events from a stream starting at fromVersion.
// An absent stream yields an empty slice.
func (a *Adapter) Load(ctx context.Context, streamID string, fromVersion int64) ([]eventlog.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, eventlog.ErrAdapterClosed
	}
	if streamID == "" {
		return nil, eventlog.ErrEmptyStreamID
	}

	stream, exists := a.streams[streamID]
	if !exists {
		return []eventlog.StoredEvent{}, nil
	}

	result := make([]eventlog.StoredEvent, 0, len(stream.events))
	for _, event := range stream.events {
		if event.Version > fromVersion {
			result = append(result, event)
		}
	}
	return result, nil
}

// LoadFromPosition retrieves events across all streams after the given
// global position, up to limit.
func (a *Adapter) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]eventlog.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, eventlog.ErrAdapterClosed
	}

	result := make([]eventlog.StoredEvent, 0, limit)
	for _, event := range a.globalEvents {
		if event.GlobalPosition <= fromPosition {
			continue
		}
		result = append(result, event)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// GetStreamInfo returns metadata about a stream.
func (a *Adapter) GetStreamInfo(ctx context.Context, streamID string) (*eventlog.StreamInfo, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, eventlog.ErrAdapterClosed
	}

	stream, exists := a.streams[streamID]
	if !exists {
		return nil, eventlog.ErrStreamNotFound
	}
	info := stream.info
	return &info, nil
}

// GetLastPosition returns the global position of the last stored event.
func (a *Adapter) GetLastPosition(ctx context.Context) (uint64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return 0, eventlog.ErrAdapterClosed
	}
	return a.globalPosition, nil
}

// GetCheckpoint returns the stored position for a consumer, or 0.
func (a *Adapter) GetCheckpoint(ctx context.Context, name string) (uint64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.checkpoints[name], nil
}

// SetCheckpoint stores the position for a consumer.
func (a *Adapter) SetCheckpoint(ctx context.Context, name string, position uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkpoints[name] = position
	return nil
}

// EventCount returns the total number of stored events.
func (a *Adapter) EventCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.globalEvents)
}

// StreamCount returns the number of streams.
func (a *Adapter) StreamCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.streams)
}

// Close marks the adapter as closed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}
