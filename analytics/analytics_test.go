package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playvault/gamestore"
	"github.com/playvault/gamestore/docstore"
	docmemory "github.com/playvault/gamestore/docstore/memory"
)

// seedStore indexes a small catalog and order history. Order dates are
// relative to now so the trailing dashboard window always covers them.
func seedStore(t *testing.T) (*docmemory.Store, time.Time, time.Time) {
	t.Helper()
	ctx := context.Background()
	store := docmemory.NewStore()

	games := []gamestore.GameDocument{
		{ID: "g-1", Title: "Dragon Quest", Genre: "RPG", Price: 40, TotalSales: 3, IsActive: true},
		{ID: "g-2", Title: "Dragon Saga", Genre: "RPG", Price: 60, TotalSales: 1, IsActive: true},
		{ID: "g-3", Title: "Space Race", Genre: "Racing", Price: 20, TotalSales: 2, IsActive: true},
		{ID: "g-4", Title: "Retired Relic", Genre: "RPG", Price: 100, TotalSales: 99, IsActive: false},
	}
	for _, g := range games {
		require.NoError(t, store.Index(ctx, docstore.GamesCollection, g.ID, g))
	}

	dayOne := time.Now().UTC().Add(-48 * time.Hour)
	dayTwo := dayOne.Add(24 * time.Hour)

	orders := []gamestore.OrderDocument{
		{
			ID: "o-1", UserID: "u-1", Status: gamestore.StatusCompleted.String(),
			TotalAmount: 100, CreatedAt: dayOne,
			Items: []gamestore.OrderItemDocument{
				{GameID: "g-1", GameTitle: "Dragon Quest", Genre: "RPG", Price: 40, Quantity: 2},
			},
		},
		{
			ID: "o-2", UserID: "u-2", Status: gamestore.StatusCompleted.String(),
			TotalAmount: 20, CreatedAt: dayOne,
			Items: []gamestore.OrderItemDocument{
				{GameID: "g-3", GameTitle: "Space Race", Genre: "Racing", Price: 20, Quantity: 1},
			},
		},
		{
			ID: "o-3", UserID: "u-1", Status: gamestore.StatusCompleted.String(),
			TotalAmount: 60, CreatedAt: dayTwo,
			Items: []gamestore.OrderItemDocument{
				{GameID: "g-2", GameTitle: "Dragon Saga", Genre: "RPG", Price: 60, Quantity: 1},
			},
		},
		{
			ID: "o-4", UserID: "u-3", Status: gamestore.StatusPending.String(),
			TotalAmount: 999, CreatedAt: dayTwo,
			Items: []gamestore.OrderItemDocument{
				{GameID: "g-1", GameTitle: "Dragon Quest", Genre: "RPG", Price: 40, Quantity: 9},
			},
		},
	}
	for _, o := range orders {
		require.NoError(t, store.Index(ctx, docstore.OrdersCollection, o.ID, o))
	}
	return store, dayOne, dayTwo
}

func TestService_TopGames(t *testing.T) {
	ctx := context.Background()
	store, _, _ := seedStore(t)
	svc := New(store)

	games, err := svc.TopGames(ctx, 10)
	require.NoError(t, err)
	require.Len(t, games, 4)

	// Ranked by the catalog's totalSales counters, highest first.
	assert.Equal(t, "g-4", games[0].GameID)
	assert.Equal(t, "Retired Relic", games[0].Title)
	assert.Equal(t, 99.0, games[0].TotalSales)

	assert.Equal(t, "g-1", games[1].GameID)
	assert.Equal(t, "Dragon Quest", games[1].Title)
	assert.Equal(t, 3.0, games[1].TotalSales)

	assert.Equal(t, "g-3", games[2].GameID)
	assert.Equal(t, "g-2", games[3].GameID)
}

func TestService_TopGames_Limit(t *testing.T) {
	ctx := context.Background()
	store, _, _ := seedStore(t)
	svc := New(store)

	games, err := svc.TopGames(ctx, 1)
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, "Retired Relic", games[0].Title)
}

func TestService_TopGames_MultiItemOrders(t *testing.T) {
	ctx := context.Background()
	store := docmemory.NewStore()
	svc := New(store)

	games := []gamestore.GameDocument{
		{ID: "g-a", Title: "Alpha", Genre: "RPG", Price: 10, TotalSales: 1, IsActive: true},
		{ID: "g-b", Title: "Beta", Genre: "RPG", Price: 20, TotalSales: 5, IsActive: true},
	}
	for _, g := range games {
		require.NoError(t, store.Index(ctx, docstore.GamesCollection, g.ID, g))
	}
	// One completed order carrying both titles. Its line items must not
	// bleed into each other's sales figures.
	order := gamestore.OrderDocument{
		ID: "o-ab", UserID: "u-1", Status: gamestore.StatusCompleted.String(),
		TotalAmount: 110, CreatedAt: time.Now().UTC(),
		Items: []gamestore.OrderItemDocument{
			{GameID: "g-a", GameTitle: "Alpha", Genre: "RPG", Price: 10, Quantity: 1},
			{GameID: "g-b", GameTitle: "Beta", Genre: "RPG", Price: 20, Quantity: 5},
		},
	}
	require.NoError(t, store.Index(ctx, docstore.OrdersCollection, order.ID, order))

	top, err := svc.TopGames(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)

	assert.Equal(t, "g-b", top[0].GameID)
	assert.Equal(t, 5.0, top[0].TotalSales)
	assert.Equal(t, "g-a", top[1].GameID)
	assert.Equal(t, 1.0, top[1].TotalSales)
}

func TestService_GenreStats(t *testing.T) {
	ctx := context.Background()
	store, _, _ := seedStore(t)
	svc := New(store)

	stats, err := svc.GenreStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	// The inactive RPG title is excluded from count, sales, and average.
	assert.Equal(t, "RPG", stats[0].Genre)
	assert.Equal(t, int64(2), stats[0].GameCount)
	assert.Equal(t, 4.0, stats[0].TotalSales)
	assert.Equal(t, 50.0, stats[0].AveragePrice)

	assert.Equal(t, "Racing", stats[1].Genre)
	assert.Equal(t, int64(1), stats[1].GameCount)
	assert.Equal(t, 20.0, stats[1].AveragePrice)
}

func TestService_SalesMetrics(t *testing.T) {
	ctx := context.Background()
	store, dayOne, dayTwo := seedStore(t)
	svc := New(store)

	t.Run("totals completed orders with a daily series", func(t *testing.T) {
		metrics, err := svc.SalesMetrics(ctx, dayOne.Add(-time.Hour), dayTwo.Add(time.Hour))
		require.NoError(t, err)

		assert.Equal(t, int64(3), metrics.OrderCount)
		assert.Equal(t, 180.0, metrics.TotalRevenue)
		assert.Equal(t, 60.0, metrics.AverageOrderValue)

		require.Len(t, metrics.Daily, 2)
		assert.Equal(t, int64(2), metrics.Daily[0].Orders)
		assert.Equal(t, 120.0, metrics.Daily[0].Revenue)
		assert.Equal(t, int64(1), metrics.Daily[1].Orders)
		assert.Equal(t, 60.0, metrics.Daily[1].Revenue)
		assert.True(t, metrics.Daily[0].Date.Before(metrics.Daily[1].Date))
	})

	t.Run("narrow range drops out-of-window orders", func(t *testing.T) {
		metrics, err := svc.SalesMetrics(ctx, dayTwo.Add(-time.Hour), dayTwo.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), metrics.OrderCount)
		assert.Equal(t, 60.0, metrics.TotalRevenue)
	})

	t.Run("empty range yields zeroes", func(t *testing.T) {
		metrics, err := svc.SalesMetrics(ctx, dayOne.AddDate(-1, 0, 0), dayOne.AddDate(0, 0, -7))
		require.NoError(t, err)
		assert.Equal(t, int64(0), metrics.OrderCount)
		assert.Equal(t, 0.0, metrics.TotalRevenue)
		assert.Empty(t, metrics.Daily)
	})
}

func TestService_UserBehavior(t *testing.T) {
	ctx := context.Background()
	store, _, _ := seedStore(t)
	svc := New(store)

	behavior, err := svc.UserBehavior(ctx)
	require.NoError(t, err)

	require.Len(t, behavior.TopBuyers, 2)
	assert.Equal(t, "u-1", behavior.TopBuyers[0].UserID)
	assert.Equal(t, int64(2), behavior.TopBuyers[0].OrderCount)
	assert.Equal(t, 160.0, behavior.TopBuyers[0].TotalSpent)
	assert.Equal(t, "u-2", behavior.TopBuyers[1].UserID)

	require.Len(t, behavior.GenrePurchases, 2)
	assert.Equal(t, "RPG", behavior.GenrePurchases[0].Genre)
	assert.Equal(t, int64(2), behavior.GenrePurchases[0].ItemCount)
	assert.Equal(t, "Racing", behavior.GenrePurchases[1].Genre)
}

func TestService_Dashboard(t *testing.T) {
	ctx := context.Background()
	store, _, _ := seedStore(t)
	svc := New(store)

	dash, err := svc.Dashboard(ctx)
	require.NoError(t, err)

	assert.Len(t, dash.TopGames, 4)
	assert.Len(t, dash.GenreStats, 2)
	assert.Equal(t, int64(3), dash.SalesMetrics.OrderCount)
	assert.Equal(t, 180.0, dash.SalesMetrics.TotalRevenue)
	assert.Len(t, dash.UserBehavior.TopBuyers, 2)
}
