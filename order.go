package gamestore

import "time"

// OrderStatus is the order state machine. Pending is the only
// non-terminal state; there is no transition out of Completed,
// Cancelled, or Failed.
type OrderStatus string

const (
	StatusPending   OrderStatus = "Pending"
	StatusCompleted OrderStatus = "Completed"
	StatusCancelled OrderStatus = "Cancelled"
	StatusFailed    OrderStatus = "Failed"
)

// String returns the status name as stored in order documents.
func (s OrderStatus) String() string { return string(s) }

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool { return s != StatusPending }

// OrderItem is a line item carrying a snapshot of the game's title and
// price taken when the order was created. Later price changes do not
// touch existing orders.
type OrderItem struct {
	GameID    string
	GameTitle string
	Price     float64
	Quantity  int
}

// Order is the fulfillment aggregate. TotalAmount is computed once at
// creation and never recomputed.
type Order struct {
	ID          string
	UserID      string
	Items       []OrderItem
	TotalAmount float64
	Status      OrderStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// NewOrder constructs a Pending order and fixes its total.
// Returns ErrValidation when there are no items or a quantity is not positive.
func NewOrder(id, userID string, items []OrderItem, now time.Time) (*Order, error) {
	if len(items) == 0 {
		return nil, NewValidationError("items", "must not be empty")
	}
	var total float64
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, NewValidationError("quantity", "must be positive")
		}
		total += item.Price * float64(item.Quantity)
	}
	return &Order{
		ID:          id,
		UserID:      userID,
		Items:       items,
		TotalAmount: total,
		Status:      StatusPending,
		CreatedAt:   now,
	}, nil
}

// Complete transitions Pending -> Completed and stamps CompletedAt.
func (o *Order) Complete(now time.Time) error {
	if o.Status != StatusPending {
		return NewStateError(o.ID, o.Status, StatusCompleted)
	}
	o.Status = StatusCompleted
	o.CompletedAt = &now
	return nil
}

// Cancel transitions Pending -> Cancelled.
func (o *Order) Cancel() error {
	if o.Status != StatusPending {
		return NewStateError(o.ID, o.Status, StatusCancelled)
	}
	o.Status = StatusCancelled
	return nil
}

// Fail transitions Pending -> Failed.
func (o *Order) Fail() error {
	if o.Status != StatusPending {
		return NewStateError(o.ID, o.Status, StatusFailed)
	}
	o.Status = StatusFailed
	return nil
}
