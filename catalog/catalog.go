// Package catalog implements the game catalog workflow: game creation,
// lookups, search, and recommendation scoring. Writes append a domain
// event first and update the read model second; a document write
// failing after the append leaves the log ahead of the read model
// until the relay catches it up.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/playvault/gamestore"
	"github.com/playvault/gamestore/docstore"
	"github.com/playvault/gamestore/eventlog"
)

const (
	defaultPageSize = 10

	// purchaseHistoryWindow caps how many completed orders feed the
	// recommendation genre profile.
	purchaseHistoryWindow = 100

	// Boosts applied to the user's top genres in recommendation
	// queries: the most frequent genre weighs twice the runners-up.
	topGenreBoost    = 3.0
	runnerGenreBoost = 1.5
	topGenres        = 3
)

// searchFields are the weighted fields for full-text game search.
var searchFields = []docstore.WeightedField{
	{Name: "title", Boost: 3.0},
	{Name: "tags", Boost: 2.0},
	{Name: "description", Boost: 1.5},
	{Name: "genre"},
	{Name: "publisher"},
}

// Service is the catalog workflow.
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

// New creates a catalog Service over an event log and a document store.
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

// CreateGameInput is the set of externally supplied game fields.
type CreateGameInput struct {
	Title         string
	Description   string
	Genre         string
	Price         float64
	Publisher     string
	ReleaseDate   time.Time
	Tags          []string
	CoverImageURL string
}

// CreateGame validates the input, appends GameCreated to the game's
// stream, and indexes the projection document. Validation failures
// reject before any write. Returns the new game id.
func (s *Service) CreateGame(ctx context.Context, in CreateGameInput) (string, error) {
	game, err := gamestore.NewGame(gamestore.NewID(), in.Title, in.Description, in.Genre,
		in.Price, in.Publisher, in.ReleaseDate, in.Tags, in.CoverImageURL)
	if err != nil {
		return "", err
	}

	event := gamestore.GameCreated{
		Envelope:    gamestore.NewEnvelope(),
		GameID:      game.ID,
		Title:       game.Title,
		Description: game.Description,
		Genre:       game.Genre,
		Price:       game.Price,
		Publisher:   game.Publisher,
		ReleaseDate: game.ReleaseDate,
		Tags:        game.Tags,
	}
	if err := s.events.Append(ctx, eventlog.GameStream(game.ID), event); err != nil {
		return "", err
	}

	doc := gamestore.GameDocumentFrom(game, s.now())
	if err := s.store.Index(ctx, docstore.GamesCollection, game.ID, doc); err != nil {
		// The event is already durable; the read model is behind until
		// reconciled.
		s.logger.Error("game index write failed after append", "game", game.ID, "error", err)
		return "", gamestore.NewInfrastructureError("index game "+game.ID, err)
	}

	s.logger.Info("game created", "game", game.ID, "title", game.Title)
	return game.ID, nil
}

// GetByID returns the game projection document. The event log is not
// consulted.
func (s *Service) GetByID(ctx context.Context, id string) (*gamestore.GameDocument, error) {
	var doc gamestore.GameDocument
	if err := s.store.Get(ctx, docstore.GamesCollection, id, &doc); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("catalog: game %s: %w", id, gamestore.ErrNotFound)
		}
		return nil, gamestore.NewInfrastructureError("get game "+id, err)
	}
	return &doc, nil
}

// Search runs a fuzzy full-text query over active games, ranked by
// relevance then popularity.
func (s *Service) Search(ctx context.Context, term string, page, pageSize int) ([]gamestore.GameDocument, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	q := docstore.Query{
		MultiMatch: &docstore.MultiMatch{
			Term:   term,
			Fields: searchFields,
			Fuzzy:  true,
		},
		Filter: []docstore.Term{{Field: "isActive", Value: true}},
		Sort: []docstore.SortField{
			{Field: docstore.ScoreField, Desc: true},
			{Field: "popularityScore", Desc: true},
		},
		From: (page - 1) * pageSize,
		Size: pageSize,
	}
	return s.searchGames(ctx, q, "search games")
}

// ByGenre lists active games of one genre, most popular first.
func (s *Service) ByGenre(ctx context.Context, genre string, limit int) ([]gamestore.GameDocument, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}

	q := docstore.Query{
		Filter: []docstore.Term{
			{Field: "genre", Value: genre},
			{Field: "isActive", Value: true},
		},
		Sort: []docstore.SortField{
			{Field: "popularityScore", Desc: true},
			{Field: "totalSales", Desc: true},
		},
		Size: limit,
	}
	return s.searchGames(ctx, q, "games by genre")
}

// MostPopular lists active games by sales volume.
func (s *Service) MostPopular(ctx context.Context, limit int) ([]gamestore.GameDocument, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}

	q := docstore.Query{
		Filter: []docstore.Term{{Field: "isActive", Value: true}},
		Sort: []docstore.SortField{
			{Field: "totalSales", Desc: true},
			{Field: "popularityScore", Desc: true},
		},
		Size: limit,
	}
	return s.searchGames(ctx, q, "most popular games")
}

// Recommendations scores active games against the user's purchase
// history: the top three genres of the user's completed orders become
// boosted should-clauses, games already purchased are excluded, and at
// least one genre must match. A user with no completed orders, or whose
// history carries no genres, gets the most popular games instead.
func (s *Service) Recommendations(ctx context.Context, userID string, limit int) ([]gamestore.GameDocument, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}

	orders, err := s.completedOrders(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return s.MostPopular(ctx, limit)
	}

	genres, purchased := purchaseProfile(orders)
	if len(genres) == 0 {
		// Genre-less history gives the scorer nothing to match on.
		return s.MostPopular(ctx, limit)
	}

	should := make([]docstore.Term, 0, topGenres)
	for i, genre := range genres {
		if i == topGenres {
			break
		}
		boost := runnerGenreBoost
		if i == 0 {
			boost = topGenreBoost
		}
		should = append(should, docstore.Term{Field: "genre", Value: genre, Boost: boost})
	}

	q := docstore.Query{
		Should:             should,
		MinimumShouldMatch: 1,
		ExcludeIDs:         purchased,
		Filter:             []docstore.Term{{Field: "isActive", Value: true}},
		Sort: []docstore.SortField{
			{Field: docstore.ScoreField, Desc: true},
			{Field: "popularityScore", Desc: true},
		},
		Size: limit,
	}
	return s.searchGames(ctx, q, "recommendations")
}

// UpdatePrice changes a game's catalog price: appends GamePriceChanged
// and updates the projection. Snapshot prices on existing orders are
// unaffected.
func (s *Service) UpdatePrice(ctx context.Context, id string, newPrice float64) error {
	if newPrice < 0 {
		return gamestore.NewValidationError("price", "must not be negative")
	}

	doc, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if doc.Price == newPrice {
		return nil
	}

	event := gamestore.GamePriceChanged{
		Envelope: gamestore.NewEnvelope(),
		GameID:   id,
		OldPrice: doc.Price,
		NewPrice: newPrice,
	}
	if err := s.events.Append(ctx, eventlog.GameStream(id), event); err != nil {
		return err
	}

	fields := map[string]interface{}{
		"price":     newPrice,
		"indexedAt": s.now(),
	}
	if err := s.store.Update(ctx, docstore.GamesCollection, id, fields); err != nil {
		s.logger.Error("game price update failed after append", "game", id, "error", err)
		return gamestore.NewInfrastructureError("update game "+id, err)
	}
	return nil
}

func (s *Service) searchGames(ctx context.Context, q docstore.Query, op string) ([]gamestore.GameDocument, error) {
	hits, err := s.store.Search(ctx, docstore.GamesCollection, q)
	if err != nil {
		return nil, gamestore.NewInfrastructureError(op, err)
	}
	docs, err := docstore.DecodeHits[gamestore.GameDocument](hits)
	if err != nil {
		return nil, gamestore.NewInfrastructureError(op, err)
	}
	return docs, nil
}

func (s *Service) completedOrders(ctx context.Context, userID string) ([]gamestore.OrderDocument, error) {
	q := docstore.Query{
		Filter: []docstore.Term{
			{Field: "userId", Value: userID},
			{Field: "status", Value: gamestore.StatusCompleted.String()},
		},
		Size: purchaseHistoryWindow,
	}
	hits, err := s.store.Search(ctx, docstore.OrdersCollection, q)
	if err != nil {
		return nil, gamestore.NewInfrastructureError("load purchase history", err)
	}
	return docstore.DecodeHits[gamestore.OrderDocument](hits)
}

// purchaseProfile collects genre purchase frequencies (ranked by count
// descending, ties kept in encounter order) and the set of purchased
// game ids.
func purchaseProfile(orders []gamestore.OrderDocument) (genres []string, purchasedIDs []string) {
	counts := make(map[string]int)
	seenIDs := make(map[string]bool)

	for _, order := range orders {
		for _, item := range order.Items {
			if item.Genre != "" {
				if counts[item.Genre] == 0 {
					genres = append(genres, item.Genre)
				}
				counts[item.Genre]++
			}
			if !seenIDs[item.GameID] {
				seenIDs[item.GameID] = true
				purchasedIDs = append(purchasedIDs, item.GameID)
			}
		}
	}

	sort.SliceStable(genres, func(i, j int) bool {
		return counts[genres[i]] > counts[genres[j]]
	})
	return genres, purchasedIDs
}
