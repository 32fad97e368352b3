package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playvault/gamestore"
	"github.com/playvault/gamestore/analytics"
	"github.com/playvault/gamestore/catalog"
	"github.com/playvault/gamestore/docstore"
	docmemory "github.com/playvault/gamestore/docstore/memory"
	"github.com/playvault/gamestore/eventlog"
	logmemory "github.com/playvault/gamestore/eventlog/memory"
	"github.com/playvault/gamestore/orders"
)

func newRouter(t *testing.T) (*gin.Engine, *docmemory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := docmemory.NewStore()
	events := eventlog.New(logmemory.NewAdapter())

	api := New(
		catalog.New(events, store),
		orders.New(events, store),
		analytics.New(store),
	)

	router := gin.New()
	api.Register(router.Group("/api"))
	return router, store
}

func seedGame(t *testing.T, store *docmemory.Store, doc gamestore.GameDocument) {
	t.Helper()
	require.NoError(t, store.Index(context.Background(), docstore.GamesCollection, doc.ID, doc))
}

func doJSON(t *testing.T, router *gin.Engine, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAPI_Games(t *testing.T) {
	t.Run("create then fetch", func(t *testing.T) {
		router, _ := newRouter(t)

		rec := doJSON(t, router, http.MethodPost, "/api/games", "", map[string]interface{}{
			"title":     "Dragon Quest",
			"genre":     "RPG",
			"price":     49.99,
			"publisher": "Square",
			"tags":      []string{"fantasy"},
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		id := decodeBody(t, rec)["id"].(string)
		require.NotEmpty(t, id)

		rec = doJSON(t, router, http.MethodGet, "/api/games/"+id, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Dragon Quest", decodeBody(t, rec)["title"])
	})

	t.Run("validation failure is a bad request", func(t *testing.T) {
		router, _ := newRouter(t)

		rec := doJSON(t, router, http.MethodPost, "/api/games", "", map[string]interface{}{
			"title": "",
			"price": 10,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing game is a 404", func(t *testing.T) {
		router, _ := newRouter(t)
		rec := doJSON(t, router, http.MethodGet, "/api/games/ghost", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("search and popular listings", func(t *testing.T) {
		router, store := newRouter(t)
		seedGame(t, store, gamestore.GameDocument{ID: "g-1", Title: "Dragon Quest", Genre: "RPG", TotalSales: 9, IsActive: true})
		seedGame(t, store, gamestore.GameDocument{ID: "g-2", Title: "Space Race", Genre: "Racing", TotalSales: 5, IsActive: true})

		rec := doJSON(t, router, http.MethodGet, "/api/games/search?q=dragon", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		games := decodeBody(t, rec)["games"].([]interface{})
		require.Len(t, games, 1)

		rec = doJSON(t, router, http.MethodGet, "/api/games/popular?limit=1", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		games = decodeBody(t, rec)["games"].([]interface{})
		require.Len(t, games, 1)
		assert.Equal(t, "g-1", games[0].(map[string]interface{})["id"])

		rec = doJSON(t, router, http.MethodGet, "/api/games/genre/Racing", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		games = decodeBody(t, rec)["games"].([]interface{})
		require.Len(t, games, 1)
		assert.Equal(t, "g-2", games[0].(map[string]interface{})["id"])
	})

	t.Run("recommendations require identity", func(t *testing.T) {
		router, store := newRouter(t)
		seedGame(t, store, gamestore.GameDocument{ID: "g-1", Title: "Dragon Quest", Genre: "RPG", IsActive: true})

		rec := doJSON(t, router, http.MethodGet, "/api/games/recommendations", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doJSON(t, router, http.MethodGet, "/api/games/recommendations", "u-1", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("price update", func(t *testing.T) {
		router, store := newRouter(t)
		seedGame(t, store, gamestore.GameDocument{ID: "g-1", Title: "Dragon Quest", Price: 49.99, IsActive: true})

		rec := doJSON(t, router, http.MethodPut, "/api/games/g-1/price", "", map[string]interface{}{"price": 29.99})
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = doJSON(t, router, http.MethodGet, "/api/games/g-1", "", nil)
		assert.Equal(t, 29.99, decodeBody(t, rec)["price"])

		rec = doJSON(t, router, http.MethodPut, "/api/games/g-1/price", "", map[string]interface{}{"price": -1})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAPI_Orders(t *testing.T) {
	seedAndOrder := func(t *testing.T) (*gin.Engine, string) {
		router, store := newRouter(t)
		seedGame(t, store, gamestore.GameDocument{ID: "g-1", Title: "Dragon Quest", Genre: "RPG", Price: 49.99, IsActive: true})

		rec := doJSON(t, router, http.MethodPost, "/api/orders", "u-1", map[string]interface{}{
			"items": []map[string]interface{}{{"gameId": "g-1", "quantity": 1}},
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		return router, decodeBody(t, rec)["id"].(string)
	}

	t.Run("create requires identity", func(t *testing.T) {
		router, _ := newRouter(t)
		rec := doJSON(t, router, http.MethodPost, "/api/orders", "", map[string]interface{}{
			"items": []map[string]interface{}{{"gameId": "g-1", "quantity": 1}},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown game is a bad request", func(t *testing.T) {
		router, _ := newRouter(t)
		rec := doJSON(t, router, http.MethodPost, "/api/orders", "u-1", map[string]interface{}{
			"items": []map[string]interface{}{{"gameId": "ghost", "quantity": 1}},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("complete happy path", func(t *testing.T) {
		router, orderID := seedAndOrder(t)

		rec := doJSON(t, router, http.MethodPost, "/api/orders/"+orderID+"/complete", "u-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Completed", decodeBody(t, rec)["status"])

		rec = doJSON(t, router, http.MethodGet, "/api/orders/"+orderID, "u-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Completed", decodeBody(t, rec)["status"])
	})

	t.Run("double completion is a bad request", func(t *testing.T) {
		router, orderID := seedAndOrder(t)
		doJSON(t, router, http.MethodPost, "/api/orders/"+orderID+"/complete", "u-1", nil)

		rec := doJSON(t, router, http.MethodPost, "/api/orders/"+orderID+"/complete", "u-1", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("foreign user sees a 404", func(t *testing.T) {
		router, orderID := seedAndOrder(t)

		rec := doJSON(t, router, http.MethodPost, "/api/orders/"+orderID+"/complete", "u-2", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("cancel with reason", func(t *testing.T) {
		router, orderID := seedAndOrder(t)

		rec := doJSON(t, router, http.MethodPost, "/api/orders/"+orderID+"/cancel", "u-1", map[string]interface{}{
			"reason": "changed my mind",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Cancelled", decodeBody(t, rec)["status"])
	})

	t.Run("fail transition", func(t *testing.T) {
		router, orderID := seedAndOrder(t)

		rec := doJSON(t, router, http.MethodPost, "/api/orders/"+orderID+"/fail", "u-1", map[string]interface{}{
			"reason": "payment declined",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Failed", decodeBody(t, rec)["status"])
	})

	t.Run("lists own orders", func(t *testing.T) {
		router, _ := seedAndOrder(t)

		rec := doJSON(t, router, http.MethodGet, "/api/orders", "u-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decodeBody(t, rec)["orders"].([]interface{}), 1)

		rec = doJSON(t, router, http.MethodGet, "/api/orders", "u-2", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, decodeBody(t, rec)["orders"])
	})
}

func TestAPI_Metrics(t *testing.T) {
	router, store := newRouter(t)
	seedGame(t, store, gamestore.GameDocument{ID: "g-1", Title: "Dragon Quest", Genre: "RPG", Price: 49.99, IsActive: true})

	rec := doJSON(t, router, http.MethodPost, "/api/orders", "u-1", map[string]interface{}{
		"items": []map[string]interface{}{{"gameId": "g-1", "quantity": 2}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := decodeBody(t, rec)["id"].(string)
	rec = doJSON(t, router, http.MethodPost, "/api/orders/"+orderID+"/complete", "u-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("top games", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/api/metrics/top-games", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		top := decodeBody(t, rec)["topGames"].([]interface{})
		require.Len(t, top, 1)
		entry := top[0].(map[string]interface{})
		assert.Equal(t, "g-1", entry["gameId"])
		assert.Equal(t, "Dragon Quest", entry["title"])
		assert.Equal(t, 1.0, entry["totalSales"])
	})

	t.Run("genre stats", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/api/metrics/genres", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		genres := decodeBody(t, rec)["genres"].([]interface{})
		require.Len(t, genres, 1)
		assert.Equal(t, "RPG", genres[0].(map[string]interface{})["genre"])
	})

	t.Run("sales metrics rejects malformed dates", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/api/metrics/sales?start=yesterday", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("sales metrics with explicit range", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/api/metrics/sales?start=2000-01-01&end=2999-01-01", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, 1.0, body["orderCount"])
	})

	t.Run("user behavior and dashboard", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/api/metrics/user-behavior", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, decodeBody(t, rec)["topBuyers"])

		rec = doJSON(t, router, http.MethodGet, "/api/metrics/dashboard", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, decodeBody(t, rec)["topGames"])
	})
}
