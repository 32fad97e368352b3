package gamestore

import "time"

// Game is the catalog aggregate. Counters are derived state: they are
// only ever mutated by the purchase-completion path, and only upward.
// Games are never hard-deleted; Deactivate hides them from queries.
type Game struct {
	ID              string
	Title           string
	Description     string
	Genre           string
	Price           float64
	Publisher       string
	ReleaseDate     time.Time
	PopularityScore int
	TotalSales      int
	Tags            []string
	CoverImageURL   string
	IsActive        bool
}

// PopularityPerSale is how much each completed purchase adds to a
// game's popularity score.
const PopularityPerSale = 10

// NewGame constructs a Game with zeroed counters and IsActive set.
// Returns ErrValidation when the title is empty or the price is negative.
func NewGame(id, title, description, genre string, price float64, publisher string, releaseDate time.Time, tags []string, coverImageURL string) (*Game, error) {
	if title == "" {
		return nil, NewValidationError("title", "must not be empty")
	}
	if price < 0 {
		return nil, NewValidationError("price", "must not be negative")
	}
	if tags == nil {
		tags = []string{}
	}
	return &Game{
		ID:            id,
		Title:         title,
		Description:   description,
		Genre:         genre,
		Price:         price,
		Publisher:     publisher,
		ReleaseDate:   releaseDate,
		Tags:          tags,
		CoverImageURL: coverImageURL,
		IsActive:      true,
	}, nil
}

// UpdatePrice changes the catalog price. Orders already placed keep
// their snapshot price and are unaffected.
func (g *Game) UpdatePrice(newPrice float64) error {
	if newPrice < 0 {
		return NewValidationError("price", "must not be negative")
	}
	g.Price = newPrice
	return nil
}

// IncrementSales records one completed sale.
func (g *Game) IncrementSales() {
	g.TotalSales++
	g.PopularityScore += PopularityPerSale
}

// Deactivate hides the game from catalog queries.
func (g *Game) Deactivate() { g.IsActive = false }

// Activate makes the game visible again.
func (g *Game) Activate() { g.IsActive = true }
