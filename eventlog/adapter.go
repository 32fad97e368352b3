// Package eventlog provides the append-only event log client: ordered,
// named events in per-aggregate streams, with pluggable storage
// backends (memory, postgres).
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version constants for optimistic append control. This system appends
// in "any revision" mode (AnyVersion); the other values exist for
// adapters and tests that need stricter checks.
const (
	// AnyVersion skips version checking.
	AnyVersion int64 = -1

	// NoStream requires the stream to not exist.
	NoStream int64 = 0

	// StreamExists requires the stream to exist.
	StreamExists int64 = -2
)

// Sentinel errors for adapter implementations. Adapters return these
// (or errors matching via errors.Is) for consistent handling across
// backends.
var (
	// ErrConcurrencyConflict is returned when an optimistic version check fails.
	ErrConcurrencyConflict = errors.New("eventlog: concurrency conflict")

	// ErrStreamNotFound is returned when an operation requires a stream that does not exist.
	ErrStreamNotFound = errors.New("eventlog: stream not found")

	// ErrEmptyStreamID is returned when an empty stream ID is provided.
	ErrEmptyStreamID = errors.New("eventlog: stream ID is required")

	// ErrNoEvents is returned when attempting to append zero events.
	ErrNoEvents = errors.New("eventlog: no events to append")

	// ErrInvalidVersion is returned when an invalid expected version is specified.
	ErrInvalidVersion = errors.New("eventlog: invalid version")

	// ErrAdapterClosed is returned when operations are attempted on a closed adapter.
	ErrAdapterClosed = errors.New("eventlog: adapter is closed")
)

// EventRecord is an event to be appended, already serialized.
type EventRecord struct {
	// Type is the event type tag.
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata contains optional contextual key-value pairs.
	Metadata map[string]string
}

// StoredEvent is a persisted event with its storage metadata.
type StoredEvent struct {
	// ID is the unique event identifier.
	ID string

	// StreamID is the stream this event belongs to.
	StreamID string

	// Type is the event type tag.
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata contains contextual key-value pairs.
	Metadata map[string]string

	// Version is the position within the stream (1-based).
	Version int64

	// GlobalPosition is the ordering position across all streams.
	GlobalPosition uint64

	// Timestamp is when the event was stored.
	Timestamp time.Time
}

// StreamInfo contains metadata about a stream.
type StreamInfo struct {
	StreamID   string
	Category   string
	Version    int64
	EventCount int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Adapter is the storage interface for the event log.
type Adapter interface {
	// Append stores events to a stream. expectedVersion follows the
	// version constants above; positive values require an exact match.
	Append(ctx context.Context, streamID string, events []EventRecord, expectedVersion int64) ([]StoredEvent, error)

	// Load retrieves events from a stream starting at fromVersion
	// (0 loads the whole stream). An absent stream yields an empty
	// slice, not an error.
	Load(ctx context.Context, streamID string, fromVersion int64) ([]StoredEvent, error)

	// LoadFromPosition retrieves events across all streams starting
	// after the given global position, up to limit. Used by the relay.
	LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]StoredEvent, error)

	// GetStreamInfo returns metadata about a stream.
	// Returns ErrStreamNotFound if the stream does not exist.
	GetStreamInfo(ctx context.Context, streamID string) (*StreamInfo, error)

	// GetLastPosition returns the global position of the last stored
	// event, or 0 if none exist.
	GetLastPosition(ctx context.Context) (uint64, error)

	// Initialize sets up required storage schema.
	Initialize(ctx context.Context) error

	// Close releases resources held by the adapter.
	Close() error
}

// CheckpointAdapter persists consumer positions, keyed by consumer name.
type CheckpointAdapter interface {
	// GetCheckpoint returns the last processed position, or 0 if no
	// checkpoint exists.
	GetCheckpoint(ctx context.Context, name string) (uint64, error)

	// SetCheckpoint stores the last processed position.
	SetCheckpoint(ctx context.Context, name string, position uint64) error
}

// ConcurrencyError provides details about a failed optimistic append.
type ConcurrencyError struct {
	StreamID        string
	ExpectedVersion int64
	ActualVersion   int64
}

// Error returns the error message.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("eventlog: concurrency conflict on stream %q: expected version %d, got %d",
		e.StreamID, e.ExpectedVersion, e.ActualVersion)
}

// Is reports whether this error matches ErrConcurrencyConflict.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// CheckVersion validates an expected version against the current one.
// Shared by all adapters.
func CheckVersion(streamID string, expected, current int64, exists bool) error {
	switch expected {
	case AnyVersion:
		return nil
	case NoStream:
		if exists {
			return &ConcurrencyError{StreamID: streamID, ExpectedVersion: expected, ActualVersion: current}
		}
		return nil
	case StreamExists:
		if !exists {
			return ErrStreamNotFound
		}
		return nil
	default:
		if expected < 0 {
			return ErrInvalidVersion
		}
		if current != expected {
			return &ConcurrencyError{StreamID: streamID, ExpectedVersion: expected, ActualVersion: current}
		}
		return nil
	}
}

// ExtractCategory returns the aggregate kind portion of a stream ID,
// the part before the first hyphen ("game-<id>" yields "game").
func ExtractCategory(streamID string) string {
	if streamID == "" {
		return ""
	}
	parts := strings.SplitN(streamID, "-", 2)
	return parts[0]
}

// GameStream returns the stream name for a game aggregate.
func GameStream(gameID string) string { return "game-" + gameID }

// OrderStream returns the stream name for an order aggregate.
func OrderStream(orderID string) string { return "order-" + orderID }
