package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playvault/gamestore/docstore"
)

type gameDoc struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Genre           string   `json:"genre"`
	Price           float64  `json:"price"`
	Publisher       string   `json:"publisher"`
	Tags            []string `json:"tags"`
	TotalSales      int      `json:"totalSales"`
	PopularityScore int      `json:"popularityScore"`
	IsActive        bool     `json:"isActive"`
	CreatedAt       string   `json:"createdAt,omitempty"`
}

func TestStore_IndexAndGet(t *testing.T) {
	ctx := context.Background()

	t.Run("round-trips a document", func(t *testing.T) {
		store := NewStore()
		doc := gameDoc{ID: "g-1", Title: "Starfall", Genre: "RPG", Price: 59.99, IsActive: true}
		require.NoError(t, store.Index(ctx, docstore.GamesCollection, "g-1", doc))

		var got gameDoc
		require.NoError(t, store.Get(ctx, docstore.GamesCollection, "g-1", &got))
		assert.Equal(t, doc, got)
	})

	t.Run("index replaces existing document", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.Index(ctx, docstore.GamesCollection, "g-1", gameDoc{ID: "g-1", Title: "Old"}))
		require.NoError(t, store.Index(ctx, docstore.GamesCollection, "g-1", gameDoc{ID: "g-1", Title: "New"}))

		var got gameDoc
		require.NoError(t, store.Get(ctx, docstore.GamesCollection, "g-1", &got))
		assert.Equal(t, "New", got.Title)
		assert.Equal(t, 1, store.DocCount(docstore.GamesCollection))
	})

	t.Run("missing document is not found", func(t *testing.T) {
		store := NewStore()
		var got gameDoc
		err := store.Get(ctx, docstore.GamesCollection, "absent", &got)
		assert.True(t, errors.Is(err, docstore.ErrNotFound))
	})

	t.Run("closed store rejects operations", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.Close())

		err := store.Index(ctx, docstore.GamesCollection, "g-1", gameDoc{ID: "g-1"})
		assert.True(t, errors.Is(err, docstore.ErrStoreClosed))
		assert.True(t, errors.Is(store.Ping(ctx), docstore.ErrStoreClosed))
	})
}

func TestStore_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("merges fields without touching others", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.Index(ctx, docstore.GamesCollection, "g-1", gameDoc{ID: "g-1", Title: "Starfall", Price: 59.99}))

		require.NoError(t, store.Update(ctx, docstore.GamesCollection, "g-1", map[string]interface{}{"price": 39.99}))

		var got gameDoc
		require.NoError(t, store.Get(ctx, docstore.GamesCollection, "g-1", &got))
		assert.Equal(t, 39.99, got.Price)
		assert.Equal(t, "Starfall", got.Title)
	})

	t.Run("missing document is not found", func(t *testing.T) {
		store := NewStore()
		err := store.Update(ctx, docstore.GamesCollection, "absent", map[string]interface{}{"price": 1.0})
		assert.True(t, errors.Is(err, docstore.ErrNotFound))
	})
}

func TestStore_UpdateWhere(t *testing.T) {
	ctx := context.Background()

	t.Run("applies while condition holds", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.Index(ctx, docstore.OrdersCollection, "o-1", map[string]interface{}{
			"id": "o-1", "status": "Pending",
		}))

		err := store.UpdateWhere(ctx, docstore.OrdersCollection, "o-1",
			docstore.Term{Field: "status", Value: "Pending"},
			map[string]interface{}{"status": "Completed"})
		require.NoError(t, err)

		var got map[string]interface{}
		require.NoError(t, store.Get(ctx, docstore.OrdersCollection, "o-1", &got))
		assert.Equal(t, "Completed", got["status"])
	})

	t.Run("conflicts once the condition fails", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.Index(ctx, docstore.OrdersCollection, "o-1", map[string]interface{}{
			"id": "o-1", "status": "Cancelled",
		}))

		err := store.UpdateWhere(ctx, docstore.OrdersCollection, "o-1",
			docstore.Term{Field: "status", Value: "Pending"},
			map[string]interface{}{"status": "Completed"})
		assert.True(t, errors.Is(err, docstore.ErrConflict))

		var got map[string]interface{}
		require.NoError(t, store.Get(ctx, docstore.OrdersCollection, "o-1", &got))
		assert.Equal(t, "Cancelled", got["status"])
	})

	t.Run("missing document is not found", func(t *testing.T) {
		store := NewStore()
		err := store.UpdateWhere(ctx, docstore.OrdersCollection, "absent",
			docstore.Term{Field: "status", Value: "Pending"},
			map[string]interface{}{"status": "Completed"})
		assert.True(t, errors.Is(err, docstore.ErrNotFound))
	})

	t.Run("exactly one of two concurrent transitions wins", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.Index(ctx, docstore.OrdersCollection, "o-1", map[string]interface{}{
			"id": "o-1", "status": "Pending",
		}))

		results := make(chan error, 2)
		var wg sync.WaitGroup
		for _, next := range []string{"Completed", "Cancelled"} {
			wg.Add(1)
			go func(status string) {
				defer wg.Done()
				results <- store.UpdateWhere(ctx, docstore.OrdersCollection, "o-1",
					docstore.Term{Field: "status", Value: "Pending"},
					map[string]interface{}{"status": status})
			}(next)
		}
		wg.Wait()
		close(results)

		var wins, conflicts int
		for err := range results {
			if err == nil {
				wins++
			} else if errors.Is(err, docstore.ErrConflict) {
				conflicts++
			}
		}
		assert.Equal(t, 1, wins)
		assert.Equal(t, 1, conflicts)
	})
}

func TestStore_Increment(t *testing.T) {
	ctx := context.Background()

	t.Run("adds deltas to counter fields", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.Index(ctx, docstore.GamesCollection, "g-1", gameDoc{ID: "g-1", TotalSales: 3, PopularityScore: 30}))

		require.NoError(t, store.Increment(ctx, docstore.GamesCollection, "g-1", map[string]int{
			"totalSales":      1,
			"popularityScore": 10,
		}))

		var got gameDoc
		require.NoError(t, store.Get(ctx, docstore.GamesCollection, "g-1", &got))
		assert.Equal(t, 4, got.TotalSales)
		assert.Equal(t, 40, got.PopularityScore)
	})

	t.Run("concurrent increments lose no updates", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.Index(ctx, docstore.GamesCollection, "g-1", gameDoc{ID: "g-1"}))

		const workers = 50
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, store.Increment(ctx, docstore.GamesCollection, "g-1", map[string]int{
					"totalSales":      1,
					"popularityScore": 10,
				}))
			}()
		}
		wg.Wait()

		var got gameDoc
		require.NoError(t, store.Get(ctx, docstore.GamesCollection, "g-1", &got))
		assert.Equal(t, workers, got.TotalSales)
		assert.Equal(t, workers*10, got.PopularityScore)
	})

	t.Run("missing document is not found", func(t *testing.T) {
		store := NewStore()
		err := store.Increment(ctx, docstore.GamesCollection, "absent", map[string]int{"totalSales": 1})
		assert.True(t, errors.Is(err, docstore.ErrNotFound))
	})
}
