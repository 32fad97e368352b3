package gamestore

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event type tags. Events are a closed set: decoding dispatches on the
// tag, never on reflection over arbitrary types.
const (
	EventGameCreated      = "GameCreated"
	EventGamePriceChanged = "GamePriceChanged"
	EventGamePurchased    = "GamePurchased"
	EventOrderCreated     = "OrderCreated"
	EventOrderCompleted   = "OrderCompleted"
	EventOrderCancelled   = "OrderCancelled"
	EventOrderFailed      = "OrderFailed"
)

// Event is a domain event: an immutable fact appended to exactly one
// per-aggregate stream and never mutated afterwards.
type Event interface {
	// EventType returns the serialization tag for this event.
	EventType() string
}

// Envelope carries the fields shared by every domain event.
type Envelope struct {
	EventID    string    `json:"eventId"`
	OccurredOn time.Time `json:"occurredOn"`
}

// NewEnvelope creates an Envelope with a fresh id and the current time.
func NewEnvelope() Envelope {
	return Envelope{
		EventID:    uuid.NewString(),
		OccurredOn: time.Now().UTC(),
	}
}

// GameCreated records a new game entering the catalog.
type GameCreated struct {
	Envelope
	GameID      string    `json:"gameId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Genre       string    `json:"genre"`
	Price       float64   `json:"price"`
	Publisher   string    `json:"publisher"`
	ReleaseDate time.Time `json:"releaseDate"`
	Tags        []string  `json:"tags"`
}

// EventType returns the serialization tag.
func (GameCreated) EventType() string { return EventGameCreated }

// GamePriceChanged records a catalog price change.
type GamePriceChanged struct {
	Envelope
	GameID   string  `json:"gameId"`
	OldPrice float64 `json:"oldPrice"`
	NewPrice float64 `json:"newPrice"`
}

// EventType returns the serialization tag.
func (GamePriceChanged) EventType() string { return EventGamePriceChanged }

// GamePurchased records one completed purchase of a game, appended to
// the game's own stream when an order containing it completes.
type GamePurchased struct {
	Envelope
	GameID  string  `json:"gameId"`
	UserID  string  `json:"userId"`
	OrderID string  `json:"orderId"`
	Price   float64 `json:"price"`
}

// EventType returns the serialization tag.
func (GamePurchased) EventType() string { return EventGamePurchased }

// OrderItemData is the item snapshot carried inside order events.
type OrderItemData struct {
	GameID    string  `json:"gameId"`
	GameTitle string  `json:"gameTitle"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

// OrderCreated records a new order with its full item snapshot and total.
type OrderCreated struct {
	Envelope
	OrderID     string          `json:"orderId"`
	UserID      string          `json:"userId"`
	Items       []OrderItemData `json:"items"`
	TotalAmount float64         `json:"totalAmount"`
}

// EventType returns the serialization tag.
func (OrderCreated) EventType() string { return EventOrderCreated }

// OrderCompleted records a successful fulfillment.
type OrderCompleted struct {
	Envelope
	OrderID     string    `json:"orderId"`
	UserID      string    `json:"userId"`
	CompletedAt time.Time `json:"completedAt"`
}

// EventType returns the serialization tag.
func (OrderCompleted) EventType() string { return EventOrderCompleted }

// OrderCancelled records a cancellation of a pending order.
type OrderCancelled struct {
	Envelope
	OrderID string `json:"orderId"`
	UserID  string `json:"userId"`
	Reason  string `json:"reason"`
}

// EventType returns the serialization tag.
func (OrderCancelled) EventType() string { return EventOrderCancelled }

// OrderFailed records a failed fulfillment attempt.
type OrderFailed struct {
	Envelope
	OrderID string `json:"orderId"`
	UserID  string `json:"userId"`
	Reason  string `json:"reason"`
}

// EventType returns the serialization tag.
func (OrderFailed) EventType() string { return EventOrderFailed }

// Codec encodes and decodes event payloads. The default is JSON; a
// MessagePack implementation lives in codec/msgpack.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// DecodeEvent decodes a payload into its concrete event type by
// dispatching on the type tag.
func DecodeEvent(codec Codec, eventType string, data []byte) (Event, error) {
	var (
		event Event
		err   error
	)
	switch eventType {
	case EventGameCreated:
		var e GameCreated
		err = codec.Unmarshal(data, &e)
		event = e
	case EventGamePriceChanged:
		var e GamePriceChanged
		err = codec.Unmarshal(data, &e)
		event = e
	case EventGamePurchased:
		var e GamePurchased
		err = codec.Unmarshal(data, &e)
		event = e
	case EventOrderCreated:
		var e OrderCreated
		err = codec.Unmarshal(data, &e)
		event = e
	case EventOrderCompleted:
		var e OrderCompleted
		err = codec.Unmarshal(data, &e)
		event = e
	case EventOrderCancelled:
		var e OrderCancelled
		err = codec.Unmarshal(data, &e)
		event = e
	case EventOrderFailed:
		var e OrderFailed
		err = codec.Unmarshal(data, &e)
		event = e
	default:
		return nil, fmt.Errorf("gamestore: unknown event type %q", eventType)
	}
	if err != nil {
		return nil, fmt.Errorf("gamestore: failed to decode %s: %w", eventType, err)
	}
	return event, nil
}

// NewID returns a new opaque unique identifier for aggregates and events.
func NewID() string {
	return uuid.NewString()
}
