package gamestore

import "time"

// Read-model documents stored in the document store. These are the
// only source of current readable state; the event log is the audit
// trail. Field names follow the document store's camelCase convention.

// GameDocument is the denormalized game projection in the "games" collection.
type GameDocument struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Genre           string    `json:"genre"`
	Price           float64   `json:"price"`
	Publisher       string    `json:"publisher"`
	ReleaseDate     time.Time `json:"releaseDate"`
	PopularityScore int       `json:"popularityScore"`
	TotalSales      int       `json:"totalSales"`
	Tags            []string  `json:"tags"`
	CoverImageURL   string    `json:"coverImageUrl"`
	IsActive        bool      `json:"isActive"`
	IndexedAt       time.Time `json:"indexedAt"`
}

// GameDocumentFrom builds the projection document for a game.
func GameDocumentFrom(g *Game, indexedAt time.Time) GameDocument {
	return GameDocument{
		ID:              g.ID,
		Title:           g.Title,
		Description:     g.Description,
		Genre:           g.Genre,
		Price:           g.Price,
		Publisher:       g.Publisher,
		ReleaseDate:     g.ReleaseDate,
		PopularityScore: g.PopularityScore,
		TotalSales:      g.TotalSales,
		Tags:            g.Tags,
		CoverImageURL:   g.CoverImageURL,
		IsActive:        g.IsActive,
		IndexedAt:       indexedAt,
	}
}

// OrderItemDocument is a line item inside an order document. Genre is
// carried alongside the snapshot so purchase history can be aggregated
// by genre without joining back to the games collection.
type OrderItemDocument struct {
	GameID    string  `json:"gameId"`
	GameTitle string  `json:"gameTitle"`
	Genre     string  `json:"genre"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

// OrderDocument is the denormalized order projection in the "orders" collection.
type OrderDocument struct {
	ID          string              `json:"id"`
	UserID      string              `json:"userId"`
	Items       []OrderItemDocument `json:"items"`
	TotalAmount float64             `json:"totalAmount"`
	Status      string              `json:"status"`
	CreatedAt   time.Time           `json:"createdAt"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
}
