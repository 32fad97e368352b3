// Package postgres provides a PostgreSQL event log adapter.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/playvault/gamestore/eventlog"
)

// Ensure Adapter implements the required interfaces.
var (
	_ eventlog.Adapter           = (*Adapter)(nil)
	_ eventlog.CheckpointAdapter = (*Adapter)(nil)
)

// Adapter is a PostgreSQL implementation of eventlog.Adapter.
type Adapter struct {
	db     *sql.DB
	schema string
	closed bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithSchema sets the database schema name.
func WithSchema(schema string) Option {
	return func(a *Adapter) {
		a.schema = schema
	}
}

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(a *Adapter) {
		a.db.SetMaxOpenConns(n)
	}
}

// WithConnectionMaxLifetime sets the maximum connection lifetime.
func WithConnectionMaxLifetime(d time.Duration) Option {
	return func(a *Adapter) {
		a.db.SetConnMaxLifetime(d)
	}
}

// NewAdapter creates a PostgreSQL event log adapter.
func NewAdapter(connStr string, opts ...Option) (*Adapter, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("eventlog/postgres: failed to open database: %w", err)
	}

	adapter := &Adapter{db: db, schema: "gamestore"}
	for _, opt := range opts {
		opt(adapter)
	}
	return adapter, nil
}

// NewAdapterWithDB creates an adapter over an existing connection pool.
func NewAdapterWithDB(db *sql.DB, opts ...Option) *Adapter {
	adapter := &Adapter{db: db, schema: "gamestore"}
	for _, opt := range opts {
		opt(adapter)
	}
	return adapter
}

// Initialize creates the schema and tables.
func (a *Adapter) Initialize(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, a.schema))
	if err != nil {
		return fmt.Errorf("eventlog/postgres: failed to create schema: %w", err)
	}

	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.streams (
				id              BIGSERIAL PRIMARY KEY,
				stream_id       VARCHAR(500) NOT NULL UNIQUE,
				category        VARCHAR(250) NOT NULL,
				version         BIGINT NOT NULL DEFAULT 0,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, a.schema),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.events (
				global_position BIGSERIAL PRIMARY KEY,
				stream_id       VARCHAR(500) NOT NULL,
				version         BIGINT NOT NULL,
				event_id        UUID NOT NULL DEFAULT gen_random_uuid(),
				event_type      VARCHAR(500) NOT NULL,
				data            JSONB NOT NULL,
				metadata        JSONB,
				timestamp       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE(stream_id, version)
			)`, a.schema),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.checkpoints (
				consumer_name   VARCHAR(500) PRIMARY KEY,
				position        BIGINT NOT NULL DEFAULT 0,
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, a.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_streams_category ON %s.streams(category)`, a.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_stream ON %s.events(stream_id, version)`, a.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_type ON %s.events(event_type)`, a.schema),
	}

	for _, stmt := range statements {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("eventlog/postgres: failed to initialize schema: %w", err)
		}
	}
	return nil
}

// Append stores events to a stream with optimistic concurrency control.
func (a *Adapter) Append(ctx context.Context, streamID string, events []eventlog.EventRecord, expectedVersion int64) ([]eventlog.StoredEvent, error) {
	if a.closed {
		return nil, eventlog.ErrAdapterClosed
	}
	if streamID == "" {
		return nil, eventlog.ErrEmptyStreamID
	}
	if len(events) == 0 {
		return nil, eventlog.ErrNoEvents
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("eventlog/postgres: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentVersion int64
	var streamExists bool

	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT version FROM %s.streams
		WHERE stream_id = $1
		FOR UPDATE`, a.schema), streamID).Scan(&currentVersion)

	switch {
	case err == sql.ErrNoRows:
		streamExists = false
	case err != nil:
		return nil, fmt.Errorf("eventlog/postgres: failed to get stream version: %w", err)
	default:
		streamExists = true
	}

	if err := eventlog.CheckVersion(streamID, expectedVersion, currentVersion, streamExists); err != nil {
		return nil, err
	}

	if !streamExists {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s.streams (stream_id, category, version)
			VALUES ($1, $2, 0)`, a.schema), streamID, eventlog.ExtractCategory(streamID))
		if err != nil {
			return nil, fmt.Errorf("eventlog/postgres: failed to create stream: %w", err)
		}
	}

	stored := make([]eventlog.StoredEvent, len(events))
	version := currentVersion

	for i, record := range events {
		version++

		metadataJSON, err := marshalMetadata(record.Metadata)
		if err != nil {
			return nil, fmt.Errorf("eventlog/postgres: failed to encode metadata: %w", err)
		}

		var (
			eventID        string
			globalPosition uint64
			timestamp      time.Time
		)
		err = tx.QueryRowContext(ctx, fmt.Sprintf(`
			INSERT INTO %s.events (stream_id, version, event_type, data, metadata)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING event_id, global_position, timestamp`, a.schema),
			streamID, version, record.Type, record.Data, metadataJSON,
		).Scan(&eventID, &globalPosition, &timestamp)
		if err != nil {
			return nil, fmt.Errorf("eventlog/postgres: failed to insert event: %w", err)
		}

		stored[i] = eventlog.StoredEvent{
			ID:             eventID,
			StreamID:       streamID,
			Type:           record.Type,
			Data:           record.Data,
			Metadata:       record.Metadata,
			Version:        version,
			GlobalPosition: globalPosition,
			Timestamp:      timestamp,
		}
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s.streams SET version = $1, updated_at = NOW()
		WHERE stream_id = $2`, a.schema), version, streamID)
	if err != nil {
		return nil, fmt.Errorf("eventlog/postgres: failed to update stream version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("eventlog/postgres: failed to commit: %w", err)
	}
	return stored, nil
}

// Load retrieves events from a stream starting at fromVersion.
// An absent stream yields an empty slice.
func (a *Adapter) Load(ctx context.Context, streamID string, fromVersion int64) ([]eventlog.StoredEvent, error) {
	if a.closed {
		return nil, eventlog.ErrAdapterClosed
	}
	if streamID == "" {
		return nil, eventlog.ErrEmptyStreamID
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT event_id, stream_id, version, event_type, data, metadata, global_position, timestamp
		FROM %s.events
		WHERE stream_id = $1 AND version > $2
		ORDER BY version`, a.schema), streamID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("eventlog/postgres: failed to load events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LoadFromPosition retrieves events across all streams after the given
// global position, up to limit.
func (a *Adapter) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]eventlog.StoredEvent, error) {
	if a.closed {
		return nil, eventlog.ErrAdapterClosed
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT event_id, stream_id, version, event_type, data, metadata, global_position, timestamp
		FROM %s.events
		WHERE global_position > $1
		ORDER BY global_position
		LIMIT $2`, a.schema), fromPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("eventlog/postgres: failed to load events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetStreamInfo returns metadata about a stream.
func (a *Adapter) GetStreamInfo(ctx context.Context, streamID string) (*eventlog.StreamInfo, error) {
	if a.closed {
		return nil, eventlog.ErrAdapterClosed
	}

	var info eventlog.StreamInfo
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT s.stream_id, s.category, s.version,
		       (SELECT COUNT(*) FROM %s.events e WHERE e.stream_id = s.stream_id),
		       s.created_at, s.updated_at
		FROM %s.streams s
		WHERE s.stream_id = $1`, a.schema, a.schema), streamID).Scan(
		&info.StreamID, &info.Category, &info.Version, &info.EventCount, &info.CreatedAt, &info.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eventlog.ErrStreamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("eventlog/postgres: failed to get stream info: %w", err)
	}
	return &info, nil
}

// GetLastPosition returns the global position of the last stored event.
func (a *Adapter) GetLastPosition(ctx context.Context) (uint64, error) {
	if a.closed {
		return 0, eventlog.ErrAdapterClosed
	}

	var position sql.NullInt64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT MAX(global_position) FROM %s.events`, a.schema)).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("eventlog/postgres: failed to get last position: %w", err)
	}
	if !position.Valid {
		return 0, nil
	}
	return uint64(position.Int64), nil
}

// GetCheckpoint returns the stored position for a consumer, or 0.
func (a *Adapter) GetCheckpoint(ctx context.Context, name string) (uint64, error) {
	var position int64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT position FROM %s.checkpoints WHERE consumer_name = $1`, a.schema), name).Scan(&position)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("eventlog/postgres: failed to get checkpoint: %w", err)
	}
	return uint64(position), nil
}

// SetCheckpoint stores the position for a consumer.
func (a *Adapter) SetCheckpoint(ctx context.Context, name string, position uint64) error {
	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.checkpoints (consumer_name, position, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (consumer_name)
		DO UPDATE SET position = $2, updated_at = NOW()`, a.schema), name, int64(position))
	if err != nil {
		return fmt.Errorf("eventlog/postgres: failed to set checkpoint: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close closes the database connection.
func (a *Adapter) Close() error {
	a.closed = true
	return a.db.Close()
}

func marshalMetadata(metadata map[string]string) ([]byte, error) {
	if len(metadata) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(metadata)
}

func scanEvents(rows *sql.Rows) ([]eventlog.StoredEvent, error) {
	events := []eventlog.StoredEvent{}
	for rows.Next() {
		var (
			event        eventlog.StoredEvent
			metadataJSON []byte
		)
		if err := rows.Scan(&event.ID, &event.StreamID, &event.Version, &event.Type,
			&event.Data, &metadataJSON, &event.GlobalPosition, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("eventlog/postgres: failed to scan event: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("eventlog/postgres: failed to decode metadata: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog/postgres: failed to read events: %w", err)
	}
	return events, nil
}
