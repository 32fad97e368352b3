// Package analytics computes read-side metrics over the document
// store. Every value is a point-in-time snapshot of the read model;
// the event log is never consulted.
package analytics

import (
	"context"
	"time"

	"github.com/playvault/gamestore"
	"github.com/playvault/gamestore/docstore"
)

const (
	defaultTopGames = 10
	topBuyers       = 10
)

// Service is the metrics aggregation surface.
type Service struct {
	store docstore.Store
}

// New creates an analytics Service over a document store.
func New(store docstore.Store) *Service {
	return &Service{store: store}
}

// GameSales is one entry in the top-games ranking.
type GameSales struct {
	GameID     string  `json:"gameId"`
	Title      string  `json:"title"`
	TotalSales float64 `json:"totalSales"`
}

// GenreStats summarizes one genre of the catalog.
type GenreStats struct {
	Genre        string  `json:"genre"`
	GameCount    int64   `json:"gameCount"`
	TotalSales   float64 `json:"totalSales"`
	AveragePrice float64 `json:"averagePrice"`
}

// DailySales is one day of the revenue series.
type DailySales struct {
	Date    time.Time `json:"date"`
	Orders  int64     `json:"orders"`
	Revenue float64   `json:"revenue"`
}

// SalesMetrics summarizes completed orders over a date range.
type SalesMetrics struct {
	Start             time.Time    `json:"start"`
	End               time.Time    `json:"end"`
	OrderCount        int64        `json:"orderCount"`
	TotalRevenue      float64      `json:"totalRevenue"`
	AverageOrderValue float64      `json:"averageOrderValue"`
	Daily             []DailySales `json:"daily"`
}

// BuyerStats is one entry in the top-buyers ranking.
type BuyerStats struct {
	UserID     string  `json:"userId"`
	OrderCount int64   `json:"orderCount"`
	TotalSpent float64 `json:"totalSpent"`
}

// GenrePopularity is purchase volume per genre across order line items.
type GenrePopularity struct {
	Genre     string `json:"genre"`
	ItemCount int64  `json:"itemCount"`
}

// UserBehavior combines the top buyers with genre purchase popularity.
type UserBehavior struct {
	TopBuyers      []BuyerStats      `json:"topBuyers"`
	GenrePurchases []GenrePopularity `json:"genrePurchases"`
}

// Dashboard is the composite metrics view.
type Dashboard struct {
	TopGames     []GameSales  `json:"topGames"`
	GenreStats   []GenreStats `json:"genreStats"`
	SalesMetrics SalesMetrics `json:"salesMetrics"`
	UserBehavior UserBehavior `json:"userBehavior"`
}

// completedOrders matches only fulfilled orders.
func completedOrders() *docstore.Query {
	return &docstore.Query{
		Filter: []docstore.Term{
			{Field: "status", Value: gamestore.StatusCompleted.String()},
		},
	}
}

// TopGames ranks games by accumulated sales: the catalog index grouped
// by game id, ordered by summed totalSales. Titles come from the game
// documents themselves.
func (s *Service) TopGames(ctx context.Context, limit int) ([]GameSales, error) {
	if limit <= 0 {
		limit = defaultTopGames
	}

	req := docstore.AggregationRequest{
		GroupBy: &docstore.TermsGroup{
			Field:         "id",
			Size:          limit,
			OrderByMetric: "sales",
		},
		Metrics: []docstore.Metric{
			{Name: "sales", Kind: docstore.MetricSum, Field: "totalSales"},
		},
	}
	result, err := s.store.Aggregate(ctx, docstore.GamesCollection, req)
	if err != nil {
		return nil, gamestore.NewInfrastructureError("aggregate top games", err)
	}
	if len(result.Buckets) == 0 {
		return []GameSales{}, nil
	}

	ids := make([]string, len(result.Buckets))
	for i, b := range result.Buckets {
		ids[i] = b.Key
	}
	hits, err := s.store.Search(ctx, docstore.GamesCollection, docstore.Query{
		IDs:  ids,
		Size: len(ids),
	})
	if err != nil {
		return nil, gamestore.NewInfrastructureError("load top games", err)
	}
	docs, err := docstore.DecodeHits[gamestore.GameDocument](hits)
	if err != nil {
		return nil, gamestore.NewInfrastructureError("decode top games", err)
	}
	titles := make(map[string]string, len(docs))
	for _, d := range docs {
		titles[d.ID] = d.Title
	}

	out := make([]GameSales, len(result.Buckets))
	for i, b := range result.Buckets {
		out[i] = GameSales{
			GameID:     b.Key,
			Title:      titles[b.Key],
			TotalSales: b.Metrics["sales"],
		}
	}
	return out, nil
}

// GenreStats summarizes the catalog per genre: game count, accumulated
// sales, and average price. Inactive games are excluded.
func (s *Service) GenreStats(ctx context.Context) ([]GenreStats, error) {
	req := docstore.AggregationRequest{
		Query: &docstore.Query{
			Filter: []docstore.Term{{Field: "isActive", Value: true}},
		},
		GroupBy: &docstore.TermsGroup{Field: "genre"},
		Metrics: []docstore.Metric{
			{Name: "sales", Kind: docstore.MetricSum, Field: "totalSales"},
			{Name: "avgPrice", Kind: docstore.MetricAvg, Field: "price"},
		},
	}
	result, err := s.store.Aggregate(ctx, docstore.GamesCollection, req)
	if err != nil {
		return nil, gamestore.NewInfrastructureError("aggregate genre stats", err)
	}

	out := make([]GenreStats, len(result.Buckets))
	for i, b := range result.Buckets {
		out[i] = GenreStats{
			Genre:        b.Key,
			GameCount:    b.DocCount,
			TotalSales:   b.Metrics["sales"],
			AveragePrice: b.Metrics["avgPrice"],
		}
	}
	return out, nil
}

// SalesMetrics totals completed-order revenue over [start, end] and
// breaks it down into a daily series.
func (s *Service) SalesMetrics(ctx context.Context, start, end time.Time) (*SalesMetrics, error) {
	q := completedOrders()
	q.Range = &docstore.DateRange{Field: "createdAt", From: start, To: end}

	revenue := docstore.Metric{Name: "revenue", Kind: docstore.MetricSum, Field: "totalAmount"}
	req := docstore.AggregationRequest{
		Query: q,
		Metrics: []docstore.Metric{
			revenue,
			{Name: "avgOrder", Kind: docstore.MetricAvg, Field: "totalAmount"},
		},
		DateHistogram: &docstore.DateHistogram{
			Field:   "createdAt",
			Metrics: []docstore.Metric{revenue},
		},
	}
	result, err := s.store.Aggregate(ctx, docstore.OrdersCollection, req)
	if err != nil {
		return nil, gamestore.NewInfrastructureError("aggregate sales metrics", err)
	}

	metrics := &SalesMetrics{
		Start:             start,
		End:               end,
		OrderCount:        result.DocCount,
		TotalRevenue:      result.Totals["revenue"],
		AverageOrderValue: result.Totals["avgOrder"],
		Daily:             make([]DailySales, len(result.Series)),
	}
	for i, day := range result.Series {
		metrics.Daily[i] = DailySales{
			Date:    day.Date,
			Orders:  day.DocCount,
			Revenue: day.Metrics["revenue"],
		}
	}
	return metrics, nil
}

// UserBehavior ranks the top buyers by total spend and counts purchased
// line items per genre, both over completed orders.
func (s *Service) UserBehavior(ctx context.Context) (*UserBehavior, error) {
	buyersReq := docstore.AggregationRequest{
		Query: completedOrders(),
		GroupBy: &docstore.TermsGroup{
			Field:         "userId",
			Size:          topBuyers,
			OrderByMetric: "spent",
		},
		Metrics: []docstore.Metric{
			{Name: "spent", Kind: docstore.MetricSum, Field: "totalAmount"},
		},
	}
	buyers, err := s.store.Aggregate(ctx, docstore.OrdersCollection, buyersReq)
	if err != nil {
		return nil, gamestore.NewInfrastructureError("aggregate top buyers", err)
	}

	genresReq := docstore.AggregationRequest{
		Query:   completedOrders(),
		GroupBy: &docstore.TermsGroup{Field: "items.genre"},
	}
	genres, err := s.store.Aggregate(ctx, docstore.OrdersCollection, genresReq)
	if err != nil {
		return nil, gamestore.NewInfrastructureError("aggregate genre purchases", err)
	}

	behavior := &UserBehavior{
		TopBuyers:      make([]BuyerStats, len(buyers.Buckets)),
		GenrePurchases: make([]GenrePopularity, len(genres.Buckets)),
	}
	for i, b := range buyers.Buckets {
		behavior.TopBuyers[i] = BuyerStats{
			UserID:     b.Key,
			OrderCount: b.DocCount,
			TotalSpent: b.Metrics["spent"],
		}
	}
	for i, b := range genres.Buckets {
		behavior.GenrePurchases[i] = GenrePopularity{
			Genre:     b.Key,
			ItemCount: b.DocCount,
		}
	}
	return behavior, nil
}

// Dashboard composes the four metric views into one snapshot. The
// sales window defaults to the trailing 30 days.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)

	topGames, err := s.TopGames(ctx, defaultTopGames)
	if err != nil {
		return nil, err
	}
	genreStats, err := s.GenreStats(ctx)
	if err != nil {
		return nil, err
	}
	sales, err := s.SalesMetrics(ctx, start, end)
	if err != nil {
		return nil, err
	}
	behavior, err := s.UserBehavior(ctx)
	if err != nil {
		return nil, err
	}

	return &Dashboard{
		TopGames:     topGames,
		GenreStats:   genreStats,
		SalesMetrics: *sales,
		UserBehavior: *behavior,
	}, nil
}
