// Package docstore provides the document store client: denormalized,
// queryable read-model documents with full-text search, filters,
// atomic field increments, and aggregations. Backends: memory (tests,
// development) and elastic (production).
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Logical collections used by the store.
const (
	// GamesCollection holds game projection documents.
	GamesCollection = "games"

	// OrdersCollection holds order projection documents, with nested
	// line items for per-item aggregation.
	OrdersCollection = "orders"
)

// Sentinel errors for store implementations.
var (
	// ErrNotFound is returned on a point-lookup miss.
	ErrNotFound = errors.New("docstore: document not found")

	// ErrConflict is returned when a conditional update matches zero
	// documents, i.e. the condition no longer holds.
	ErrConflict = errors.New("docstore: conditional update conflict")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("docstore: store is closed")
)

// ScoreField sorts by relevance score when used in a SortField.
const ScoreField = "_score"

// Term matches a field against an exact value. Boost only matters in
// should-clauses, where it weights the relevance contribution.
type Term struct {
	Field string
	Value interface{}
	Boost float64
}

// WeightedField names a document field and its relevance weight in a
// multi-field match.
type WeightedField struct {
	Name  string
	Boost float64
}

// MultiMatch is a fuzzy full-text match of one term across several
// weighted fields.
type MultiMatch struct {
	Term   string
	Fields []WeightedField

	// Fuzzy enables edit-distance tolerant matching, scaled to the
	// token length ("auto" fuzziness).
	Fuzzy bool
}

// DateRange restricts a time field to [From, To], inclusive.
type DateRange struct {
	Field string
	From  time.Time
	To    time.Time
}

// SortField orders results by a field, or by relevance via ScoreField.
type SortField struct {
	Field string
	Desc  bool
}

// Query is the search specification. All populated clauses combine
// conjunctively except Should, which is disjunctive and contributes
// relevance score per matching clause.
type Query struct {
	// MultiMatch is the scored full-text part of the query.
	MultiMatch *MultiMatch

	// Must are exact-match conditions that also contribute to scoring context.
	Must []Term

	// Filter are exact-match conditions that never affect scoring.
	Filter []Term

	// Should are optional boosted clauses; each match adds its boost
	// to the document score.
	Should []Term

	// MinimumShouldMatch requires at least this many Should clauses to
	// match when Should is non-empty.
	MinimumShouldMatch int

	// IDs restricts results to these document ids.
	IDs []string

	// ExcludeIDs removes these document ids from the results.
	ExcludeIDs []string

	// Range restricts a time field.
	Range *DateRange

	// Sort is applied in order; ties fall through to the next key.
	Sort []SortField

	// From and Size paginate the ranked results.
	From int
	Size int
}

// Hit is one ranked search result.
type Hit struct {
	ID     string
	Score  float64
	Source json.RawMessage
}

// DecodeHits unmarshals hit sources into a typed slice.
func DecodeHits[T any](hits []Hit) ([]T, error) {
	out := make([]T, len(hits))
	for i, hit := range hits {
		if err := json.Unmarshal(hit.Source, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Metric kinds for aggregations.
const (
	MetricSum   = "sum"
	MetricAvg   = "avg"
	MetricCount = "count"
)

// Metric computes one numeric value over matching documents.
type Metric struct {
	// Name keys the value in the result.
	Name string

	// Kind is one of MetricSum, MetricAvg, MetricCount.
	Kind string

	// Field is the numeric field the metric reads. Paths may traverse
	// nested arrays with dots ("items.price").
	Field string
}

// TermsGroup buckets documents by the distinct values of a field.
type TermsGroup struct {
	// Field to group by; dotted paths traverse nested arrays.
	Field string

	// Size caps the number of buckets returned.
	Size int

	// OrderByMetric sorts buckets by this metric name, descending.
	// Empty sorts by bucket document count, descending.
	OrderByMetric string
}

// DateHistogram buckets documents into calendar days.
type DateHistogram struct {
	Field   string
	Metrics []Metric
}

// AggregationRequest computes metrics over the documents matching
// Query (all documents when nil), optionally grouped.
type AggregationRequest struct {
	Query         *Query
	GroupBy       *TermsGroup
	Metrics       []Metric
	DateHistogram *DateHistogram
}

// Bucket is one group in an aggregation result.
type Bucket struct {
	Key      string
	DocCount int64
	Metrics  map[string]float64
}

// DateBucket is one day in a date-histogram series.
type DateBucket struct {
	Date     time.Time
	DocCount int64
	Metrics  map[string]float64
}

// AggregationResult holds top-level metric totals plus any requested
// group buckets and date series.
type AggregationResult struct {
	DocCount int64
	Totals   map[string]float64
	Buckets  []Bucket
	Series   []DateBucket
}

// Store is the document store client interface.
type Store interface {
	// Index stores a document under the given id, replacing any
	// existing document.
	Index(ctx context.Context, collection, id string, doc interface{}) error

	// Get unmarshals the document with the given id into out.
	// Returns ErrNotFound on a miss.
	Get(ctx context.Context, collection, id string, out interface{}) error

	// Search returns ranked, paginated hits for the query.
	Search(ctx context.Context, collection string, q Query) ([]Hit, error)

	// Update merges the given fields into a document.
	Update(ctx context.Context, collection, id string, fields map[string]interface{}) error

	// UpdateWhere merges fields only while cond still holds, as one
	// atomic check-and-set at the store. Returns ErrConflict when the
	// condition fails and ErrNotFound when the document is absent.
	UpdateWhere(ctx context.Context, collection, id string, cond Term, fields map[string]interface{}) error

	// Increment atomically adds the given deltas to integer fields.
	// Never read-modify-write: concurrent increments must not lose
	// updates.
	Increment(ctx context.Context, collection, id string, deltas map[string]int) error

	// Aggregate computes bucketed numeric results.
	Aggregate(ctx context.Context, collection string, req AggregationRequest) (*AggregationResult, error)

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
