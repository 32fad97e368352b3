// Package orders implements order fulfillment: a Pending order is
// created against a snapshot of the catalog, then completed, cancelled,
// or failed exactly once. Completion fans out per-game side effects
// that are deliberately not transactional with each other; a partial
// failure leaves the log ahead of the read model until reconciled.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playvault/gamestore"
	"github.com/playvault/gamestore/docstore"
	"github.com/playvault/gamestore/eventlog"
)

const defaultPageSize = 10

// Service is the order fulfillment workflow.
type Service struct {
	events *eventlog.Log
	store  docstore.Store
	logger gamestore.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a custom logger.
func WithLogger(logger gamestore.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates an orders Service over an event log and a document store.
func New(events *eventlog.Log, store docstore.Store, opts ...Option) *Service {
	s := &Service{
		events: events,
		store:  store,
		logger: gamestore.NopLogger{},
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ItemRequest names a game and a quantity in a new order.
type ItemRequest struct {
	GameID   string
	Quantity int
}

// CreateOrder resolves the requested games against the read model,
// snapshots title, price, and genre per line item, appends OrderCreated,
// and indexes the Pending order document. Missing game ids reject with
// ErrReference before any write. Returns the new order id.
func (s *Service) CreateOrder(ctx context.Context, userID string, items []ItemRequest) (string, error) {
	if userID == "" {
		return "", gamestore.NewValidationError("userId", "must not be empty")
	}
	if len(items) == 0 {
		return "", gamestore.NewValidationError("items", "must not be empty")
	}

	ids := make([]string, len(items))
	for i, item := range items {
		if item.GameID == "" {
			return "", gamestore.NewValidationError("items.gameId", "must not be empty")
		}
		ids[i] = item.GameID
	}

	games, err := s.resolveGames(ctx, ids)
	if err != nil {
		return "", err
	}

	orderItems := make([]gamestore.OrderItem, len(items))
	genres := make(map[string]string, len(games))
	for i, item := range items {
		game := games[item.GameID]
		orderItems[i] = gamestore.OrderItem{
			GameID:    game.ID,
			GameTitle: game.Title,
			Price:     game.Price,
			Quantity:  item.Quantity,
		}
		genres[game.ID] = game.Genre
	}

	now := s.now()
	order, err := gamestore.NewOrder(gamestore.NewID(), userID, orderItems, now)
	if err != nil {
		return "", err
	}

	event := gamestore.OrderCreated{
		Envelope:    gamestore.NewEnvelope(),
		OrderID:     order.ID,
		UserID:      order.UserID,
		Items:       eventItems(order.Items),
		TotalAmount: order.TotalAmount,
	}
	if err := s.events.Append(ctx, eventlog.OrderStream(order.ID), event); err != nil {
		return "", err
	}

	doc := orderDocument(order, genres)
	if err := s.store.Index(ctx, docstore.OrdersCollection, order.ID, doc); err != nil {
		s.logger.Error("order index write failed after append", "order", order.ID, "error", err)
		return "", gamestore.NewInfrastructureError("index order "+order.ID, err)
	}

	s.logger.Info("order created", "order", order.ID, "user", userID, "total", order.TotalAmount)
	return order.ID, nil
}

// CompleteOrder transitions an order to Completed and applies the
// purchase side effects. The caller must own the order; an order owned
// by someone else reads as not found. The document transition is an
// atomic conditional update on Status=Pending, so a racing completion
// loses with ErrConflict instead of double-applying.
//
// Per line item the game's TotalSales is incremented by 1 and its
// PopularityScore by 10 — once per line, not per quantity unit — and a
// GamePurchased event is appended to the game's stream. These side
// effects are independent; a failure partway through propagates and
// leaves the remainder for reconciliation.
func (s *Service) CompleteOrder(ctx context.Context, orderID, userID string) error {
	doc, err := s.ownedOrder(ctx, orderID, userID)
	if err != nil {
		return err
	}
	if doc.Status != gamestore.StatusPending.String() {
		return gamestore.NewStateError(orderID, gamestore.OrderStatus(doc.Status), gamestore.StatusCompleted)
	}

	now := s.now()
	event := gamestore.OrderCompleted{
		Envelope:    gamestore.NewEnvelope(),
		OrderID:     orderID,
		UserID:      userID,
		CompletedAt: now,
	}
	if err := s.events.Append(ctx, eventlog.OrderStream(orderID), event); err != nil {
		return err
	}

	if err := s.transition(ctx, orderID, gamestore.StatusCompleted, map[string]interface{}{
		"status":      gamestore.StatusCompleted.String(),
		"completedAt": now,
	}); err != nil {
		return err
	}

	for _, item := range doc.Items {
		deltas := map[string]int{
			"totalSales":      1,
			"popularityScore": gamestore.PopularityPerSale,
		}
		if err := s.store.Increment(ctx, docstore.GamesCollection, item.GameID, deltas); err != nil {
			s.logger.Error("game counter increment failed", "order", orderID, "game", item.GameID, "error", err)
			return gamestore.NewInfrastructureError("increment game "+item.GameID, err)
		}

		purchased := gamestore.GamePurchased{
			Envelope: gamestore.NewEnvelope(),
			GameID:   item.GameID,
			UserID:   userID,
			OrderID:  orderID,
			Price:    item.Price,
		}
		if err := s.events.Append(ctx, eventlog.GameStream(item.GameID), purchased); err != nil {
			return err
		}
	}

	s.logger.Info("order completed", "order", orderID, "user", userID, "items", len(doc.Items))
	return nil
}

// CancelOrder transitions a pending order to Cancelled.
func (s *Service) CancelOrder(ctx context.Context, orderID, userID, reason string) error {
	return s.terminate(ctx, orderID, userID, gamestore.StatusCancelled, reason)
}

// FailOrder transitions a pending order to Failed.
func (s *Service) FailOrder(ctx context.Context, orderID, userID, reason string) error {
	return s.terminate(ctx, orderID, userID, gamestore.StatusFailed, reason)
}

func (s *Service) terminate(ctx context.Context, orderID, userID string, to gamestore.OrderStatus, reason string) error {
	doc, err := s.ownedOrder(ctx, orderID, userID)
	if err != nil {
		return err
	}
	if doc.Status != gamestore.StatusPending.String() {
		return gamestore.NewStateError(orderID, gamestore.OrderStatus(doc.Status), to)
	}

	var event gamestore.Event
	switch to {
	case gamestore.StatusCancelled:
		event = gamestore.OrderCancelled{
			Envelope: gamestore.NewEnvelope(),
			OrderID:  orderID,
			UserID:   userID,
			Reason:   reason,
		}
	case gamestore.StatusFailed:
		event = gamestore.OrderFailed{
			Envelope: gamestore.NewEnvelope(),
			OrderID:  orderID,
			UserID:   userID,
			Reason:   reason,
		}
	default:
		return gamestore.NewStateError(orderID, gamestore.OrderStatus(doc.Status), to)
	}

	if err := s.events.Append(ctx, eventlog.OrderStream(orderID), event); err != nil {
		return err
	}
	if err := s.transition(ctx, orderID, to, map[string]interface{}{
		"status": to.String(),
	}); err != nil {
		return err
	}

	s.logger.Info("order terminated", "order", orderID, "status", to.String())
	return nil
}

// transition applies the status change as a conditional update gated
// on the document still being Pending.
func (s *Service) transition(ctx context.Context, orderID string, to gamestore.OrderStatus, fields map[string]interface{}) error {
	cond := docstore.Term{Field: "status", Value: gamestore.StatusPending.String()}
	err := s.store.UpdateWhere(ctx, docstore.OrdersCollection, orderID, cond, fields)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, docstore.ErrConflict):
		return fmt.Errorf("orders: order %s already left Pending: %w", orderID, gamestore.ErrConflict)
	case errors.Is(err, docstore.ErrNotFound):
		return fmt.Errorf("orders: order %s: %w", orderID, gamestore.ErrNotFound)
	default:
		return gamestore.NewInfrastructureError("transition order "+orderID+" to "+to.String(), err)
	}
}

// GetByID returns an order document.
func (s *Service) GetByID(ctx context.Context, orderID string) (*gamestore.OrderDocument, error) {
	var doc gamestore.OrderDocument
	if err := s.store.Get(ctx, docstore.OrdersCollection, orderID, &doc); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("orders: order %s: %w", orderID, gamestore.ErrNotFound)
		}
		return nil, gamestore.NewInfrastructureError("get order "+orderID, err)
	}
	return &doc, nil
}

// GetUserOrders lists a user's orders, newest first.
func (s *Service) GetUserOrders(ctx context.Context, userID string, page, pageSize int) ([]gamestore.OrderDocument, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	q := docstore.Query{
		Filter: []docstore.Term{{Field: "userId", Value: userID}},
		Sort:   []docstore.SortField{{Field: "createdAt", Desc: true}},
		From:   (page - 1) * pageSize,
		Size:   pageSize,
	}
	hits, err := s.store.Search(ctx, docstore.OrdersCollection, q)
	if err != nil {
		return nil, gamestore.NewInfrastructureError("list orders for "+userID, err)
	}
	return docstore.DecodeHits[gamestore.OrderDocument](hits)
}

// ownedOrder loads an order and checks ownership. An order owned by a
// different user reads as not found so existence does not leak.
func (s *Service) ownedOrder(ctx context.Context, orderID, userID string) (*gamestore.OrderDocument, error) {
	doc, err := s.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, fmt.Errorf("orders: order %s: %w", orderID, gamestore.ErrNotFound)
	}
	return doc, nil
}

// resolveGames fetches the game documents for every distinct id and
// rejects with ErrReference when any are missing.
func (s *Service) resolveGames(ctx context.Context, ids []string) (map[string]gamestore.GameDocument, error) {
	distinct := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			distinct = append(distinct, id)
		}
	}

	q := docstore.Query{IDs: distinct, Size: len(distinct)}
	hits, err := s.store.Search(ctx, docstore.GamesCollection, q)
	if err != nil {
		return nil, gamestore.NewInfrastructureError("resolve games", err)
	}
	docs, err := docstore.DecodeHits[gamestore.GameDocument](hits)
	if err != nil {
		return nil, gamestore.NewInfrastructureError("resolve games", err)
	}

	found := make(map[string]gamestore.GameDocument, len(docs))
	for _, doc := range docs {
		found[doc.ID] = doc
	}

	var missing []string
	for _, id := range distinct {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, gamestore.NewReferenceError("game", missing)
	}
	return found, nil
}

func eventItems(items []gamestore.OrderItem) []gamestore.OrderItemData {
	out := make([]gamestore.OrderItemData, len(items))
	for i, item := range items {
		out[i] = gamestore.OrderItemData{
			GameID:    item.GameID,
			GameTitle: item.GameTitle,
			Price:     item.Price,
			Quantity:  item.Quantity,
		}
	}
	return out
}

func orderDocument(order *gamestore.Order, genres map[string]string) gamestore.OrderDocument {
	items := make([]gamestore.OrderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = gamestore.OrderItemDocument{
			GameID:    item.GameID,
			GameTitle: item.GameTitle,
			Genre:     genres[item.GameID],
			Price:     item.Price,
			Quantity:  item.Quantity,
		}
	}
	return gamestore.OrderDocument{
		ID:          order.ID,
		UserID:      order.UserID,
		Items:       items,
		TotalAmount: order.TotalAmount,
		Status:      order.Status.String(),
		CreatedAt:   order.CreatedAt,
	}
}
