// Package httpapi exposes the service operations over HTTP. The
// transport is deliberately thin: it parses requests, calls the
// workflow services, and maps taxonomy errors onto status codes. User
// identity comes from the X-User-ID header; authentication itself is
// out of scope.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/playvault/gamestore"
	"github.com/playvault/gamestore/analytics"
	"github.com/playvault/gamestore/catalog"
	"github.com/playvault/gamestore/orders"
)

// UserHeader carries the caller's user id.
const UserHeader = "X-User-ID"

// API bundles the workflow services behind the HTTP surface.
type API struct {
	catalog   *catalog.Service
	orders    *orders.Service
	analytics *analytics.Service
	logger    gamestore.Logger
}

// Option configures the API.
type Option func(*API)

// WithLogger sets a custom logger.
func WithLogger(logger gamestore.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// New creates the API over the three workflow services.
func New(catalogSvc *catalog.Service, ordersSvc *orders.Service, analyticsSvc *analytics.Service, opts ...Option) *API {
	a := &API{
		catalog:   catalogSvc,
		orders:    ordersSvc,
		analytics: analyticsSvc,
		logger:    gamestore.NopLogger{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register attaches all routes to the router group.
func (a *API) Register(r gin.IRouter) {
	games := r.Group("/games")
	{
		games.POST("", a.createGame)
		games.GET("/search", a.searchGames)
		games.GET("/genre/:genre", a.gamesByGenre)
		games.GET("/popular", a.popularGames)
		games.GET("/recommendations", a.recommendations)
		games.GET("/:id", a.getGame)
		games.PUT("/:id/price", a.updatePrice)
	}

	ordersGroup := r.Group("/orders")
	{
		ordersGroup.POST("", a.createOrder)
		ordersGroup.GET("", a.myOrders)
		ordersGroup.GET("/:id", a.getOrder)
		ordersGroup.POST("/:id/complete", a.completeOrder)
		ordersGroup.POST("/:id/cancel", a.cancelOrder)
		ordersGroup.POST("/:id/fail", a.failOrder)
	}

	metrics := r.Group("/metrics")
	{
		metrics.GET("/top-games", a.topGames)
		metrics.GET("/genres", a.genreStats)
		metrics.GET("/sales", a.salesMetrics)
		metrics.GET("/user-behavior", a.userBehavior)
		metrics.GET("/dashboard", a.dashboard)
	}
}

type createGameRequest struct {
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Genre         string    `json:"genre"`
	Price         float64   `json:"price"`
	Publisher     string    `json:"publisher"`
	ReleaseDate   time.Time `json:"releaseDate"`
	Tags          []string  `json:"tags"`
	CoverImageURL string    `json:"coverImageUrl"`
}

func (a *API) createGame(c *gin.Context) {
	var req createGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	id, err := a.catalog.CreateGame(c.Request.Context(), catalog.CreateGameInput{
		Title:         req.Title,
		Description:   req.Description,
		Genre:         req.Genre,
		Price:         req.Price,
		Publisher:     req.Publisher,
		ReleaseDate:   req.ReleaseDate,
		Tags:          req.Tags,
		CoverImageURL: req.CoverImageURL,
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (a *API) getGame(c *gin.Context) {
	doc, err := a.catalog.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (a *API) searchGames(c *gin.Context) {
	page, pageSize := paging(c)
	docs, err := a.catalog.Search(c.Request.Context(), c.Query("q"), page, pageSize)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": docs, "page": page, "pageSize": pageSize})
}

func (a *API) gamesByGenre(c *gin.Context) {
	docs, err := a.catalog.ByGenre(c.Request.Context(), c.Param("genre"), intQuery(c, "limit", 0))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": docs})
}

func (a *API) popularGames(c *gin.Context) {
	docs, err := a.catalog.MostPopular(c.Request.Context(), intQuery(c, "limit", 0))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": docs})
}

func (a *API) recommendations(c *gin.Context) {
	userID, ok := a.userID(c)
	if !ok {
		return
	}
	docs, err := a.catalog.Recommendations(c.Request.Context(), userID, intQuery(c, "limit", 0))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": docs})
}

type updatePriceRequest struct {
	Price float64 `json:"price"`
}

func (a *API) updatePrice(c *gin.Context) {
	var req updatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if err := a.catalog.UpdatePrice(c.Request.Context(), c.Param("id"), req.Price); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createOrderRequest struct {
	Items []struct {
		GameID   string `json:"gameId"`
		Quantity int    `json:"quantity"`
	} `json:"items"`
}

func (a *API) createOrder(c *gin.Context) {
	userID, ok := a.userID(c)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	items := make([]orders.ItemRequest, len(req.Items))
	for i, item := range req.Items {
		items[i] = orders.ItemRequest{GameID: item.GameID, Quantity: item.Quantity}
	}

	id, err := a.orders.CreateOrder(c.Request.Context(), userID, items)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (a *API) getOrder(c *gin.Context) {
	doc, err := a.orders.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (a *API) myOrders(c *gin.Context) {
	userID, ok := a.userID(c)
	if !ok {
		return
	}
	page, pageSize := paging(c)
	docs, err := a.orders.GetUserOrders(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": docs, "page": page, "pageSize": pageSize})
}

func (a *API) completeOrder(c *gin.Context) {
	userID, ok := a.userID(c)
	if !ok {
		return
	}
	if err := a.orders.CompleteOrder(c.Request.Context(), c.Param("id"), userID); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": gamestore.StatusCompleted.String()})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (a *API) cancelOrder(c *gin.Context) {
	userID, ok := a.userID(c)
	if !ok {
		return
	}
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)

	if err := a.orders.CancelOrder(c.Request.Context(), c.Param("id"), userID, req.Reason); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": gamestore.StatusCancelled.String()})
}

func (a *API) failOrder(c *gin.Context) {
	userID, ok := a.userID(c)
	if !ok {
		return
	}
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)

	if err := a.orders.FailOrder(c.Request.Context(), c.Param("id"), userID, req.Reason); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": gamestore.StatusFailed.String()})
}

func (a *API) topGames(c *gin.Context) {
	out, err := a.analytics.TopGames(c.Request.Context(), intQuery(c, "limit", 0))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"topGames": out})
}

func (a *API) genreStats(c *gin.Context) {
	out, err := a.analytics.GenreStats(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"genres": out})
}

func (a *API) salesMetrics(c *gin.Context) {
	start, err := timeQuery(c, "start", time.Now().UTC().AddDate(0, 0, -30))
	if err != nil {
		badRequest(c, "invalid start date")
		return
	}
	end, err := timeQuery(c, "end", time.Now().UTC())
	if err != nil {
		badRequest(c, "invalid end date")
		return
	}

	out, err := a.analytics.SalesMetrics(c.Request.Context(), start, end)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) userBehavior(c *gin.Context) {
	out, err := a.analytics.UserBehavior(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) dashboard(c *gin.Context) {
	out, err := a.analytics.Dashboard(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// userID reads the caller identity header, rejecting the request when
// it is missing.
func (a *API) userID(c *gin.Context) (string, bool) {
	userID := c.GetHeader(UserHeader)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + UserHeader + " header"})
		return "", false
	}
	return userID, true
}

// fail maps a workflow error onto an HTTP status.
func (a *API) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, gamestore.ErrValidation),
		errors.Is(err, gamestore.ErrReference),
		errors.Is(err, gamestore.ErrInvalidState):
		status = http.StatusBadRequest
	case errors.Is(err, gamestore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, gamestore.ErrConflict):
		status = http.StatusConflict
	default:
		a.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func paging(c *gin.Context) (page, pageSize int) {
	return intQuery(c, "page", 1), intQuery(c, "pageSize", 10)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func timeQuery(c *gin.Context, name string, fallback time.Time) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
