// Package elastic provides an Elasticsearch document store adapter.
// Atomic increments and conditional updates are expressed as scripted
// updates so they execute on the shard, never as read-modify-write in
// the client.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/playvault/gamestore/docstore"
)

// Ensure Store implements the store interface.
var _ docstore.Store = (*Store)(nil)

// Store is an Elasticsearch implementation of docstore.Store.
// Collections map one-to-one onto indices.
type Store struct {
	client *elasticsearch.Client
}

// Option configures a Store.
type Option func(*config)

type config struct {
	addresses []string
	username  string
	password  string
}

// WithBasicAuth sets basic-auth credentials.
func WithBasicAuth(username, password string) Option {
	return func(c *config) {
		c.username = username
		c.password = password
	}
}

// NewStore creates an Elasticsearch document store for the given node
// addresses.
func NewStore(addresses []string, opts ...Option) (*Store, error) {
	cfg := &config{addresses: addresses}
	for _, opt := range opts {
		opt(cfg)
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.addresses,
		Username:  cfg.username,
		Password:  cfg.password,
	})
	if err != nil {
		return nil, fmt.Errorf("docstore/elastic: failed to create client: %w", err)
	}
	return &Store{client: client}, nil
}

// NewStoreWithClient creates a Store over an existing client.
func NewStoreWithClient(client *elasticsearch.Client) *Store {
	return &Store{client: client}
}

// indexMappings fixes the field types the query layer depends on:
// exact-match fields are keywords, searchable text stays text.
var indexMappings = map[string]string{
	docstore.GamesCollection: `{
		"mappings": {
			"properties": {
				"id":              {"type": "keyword"},
				"title":           {"type": "text"},
				"description":     {"type": "text"},
				"genre":           {"type": "keyword"},
				"price":           {"type": "double"},
				"publisher":       {"type": "keyword"},
				"releaseDate":     {"type": "date"},
				"popularityScore": {"type": "integer"},
				"totalSales":      {"type": "integer"},
				"tags":            {"type": "text"},
				"coverImageUrl":   {"type": "keyword", "index": false},
				"isActive":        {"type": "boolean"},
				"indexedAt":       {"type": "date"}
			}
		}
	}`,
	docstore.OrdersCollection: `{
		"mappings": {
			"properties": {
				"id":          {"type": "keyword"},
				"userId":      {"type": "keyword"},
				"totalAmount": {"type": "double"},
				"status":      {"type": "keyword"},
				"createdAt":   {"type": "date"},
				"completedAt": {"type": "date"},
				"items": {
					"type": "object",
					"properties": {
						"gameId":    {"type": "keyword"},
						"gameTitle": {"type": "keyword"},
						"genre":     {"type": "keyword"},
						"price":     {"type": "double"},
						"quantity":  {"type": "integer"}
					}
				}
			}
		}
	}`,
}

// Initialize creates the collection indices with their mappings when
// they do not exist yet.
func (s *Store) Initialize(ctx context.Context) error {
	for index, mapping := range indexMappings {
		exists, err := s.client.Indices.Exists([]string{index},
			s.client.Indices.Exists.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("docstore/elastic: failed to check index %s: %w", index, err)
		}
		drain(exists)
		if exists.StatusCode == 200 {
			continue
		}

		res, err := s.client.Indices.Create(index,
			s.client.Indices.Create.WithBody(bytes.NewReader([]byte(mapping))),
			s.client.Indices.Create.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("docstore/elastic: failed to create index %s: %w", index, err)
		}
		if err := checkResponse(res, "create index "+index); err != nil {
			return err
		}
	}
	return nil
}

// Index stores a document under the given id.
func (s *Store) Index(ctx context.Context, collection, id string, doc interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("docstore/elastic: failed to encode document: %w", err)
	}

	res, err := s.client.Index(collection,
		bytes.NewReader(body),
		s.client.Index.WithDocumentID(id),
		s.client.Index.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("docstore/elastic: index failed: %w", err)
	}
	return checkResponse(res, "index document")
}

// Get unmarshals the document with the given id into out.
func (s *Store) Get(ctx context.Context, collection, id string, out interface{}) error {
	res, err := s.client.Get(collection, id,
		s.client.Get.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("docstore/elastic: get failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		drainBody(res)
		return docstore.ErrNotFound
	}
	if res.IsError() {
		return responseError(res, "get document")
	}

	var envelope struct {
		Source json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("docstore/elastic: failed to decode get response: %w", err)
	}
	return json.Unmarshal(envelope.Source, out)
}

// Search returns ranked, paginated hits for the query.
func (s *Store) Search(ctx context.Context, collection string, q docstore.Query) ([]docstore.Hit, error) {
	body, err := json.Marshal(searchBody(q))
	if err != nil {
		return nil, fmt.Errorf("docstore/elastic: failed to encode query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithIndex(collection),
		s.client.Search.WithBody(bytes.NewReader(body)),
		s.client.Search.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("docstore/elastic: search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError(res, "search")
	}

	var envelope struct {
		Hits struct {
			Hits []struct {
				ID     string          `json:"_id"`
				Score  float64         `json:"_score"`
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("docstore/elastic: failed to decode search response: %w", err)
	}

	hits := make([]docstore.Hit, len(envelope.Hits.Hits))
	for i, h := range envelope.Hits.Hits {
		hits[i] = docstore.Hit{ID: h.ID, Score: h.Score, Source: h.Source}
	}
	return hits, nil
}

// Update merges the given fields into a document.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	return s.update(ctx, collection, id, map[string]interface{}{"doc": fields})
}

// UpdateWhere merges fields through a script that checks the condition
// on the shard; when the condition fails the update becomes a noop,
// reported back as ErrConflict.
func (s *Store) UpdateWhere(ctx context.Context, collection, id string, cond docstore.Term, fields map[string]interface{}) error {
	result, err := s.scriptedUpdate(ctx, collection, id, map[string]interface{}{
		"script": map[string]interface{}{
			"lang": "painless",
			"source": `
				if (ctx._source[params.condField] != params.condValue) {
					ctx.op = 'noop';
				} else {
					for (entry in params.fields.entrySet()) {
						ctx._source[entry.getKey()] = entry.getValue();
					}
				}`,
			"params": map[string]interface{}{
				"condField": cond.Field,
				"condValue": cond.Value,
				"fields":    fields,
			},
		},
	})
	if err != nil {
		return err
	}
	if result == "noop" {
		return docstore.ErrConflict
	}
	return nil
}

// Increment atomically adds deltas to integer fields via a script.
func (s *Store) Increment(ctx context.Context, collection, id string, deltas map[string]int) error {
	_, err := s.scriptedUpdate(ctx, collection, id, map[string]interface{}{
		"script": map[string]interface{}{
			"lang": "painless",
			"source": `
				for (entry in params.deltas.entrySet()) {
					ctx._source[entry.getKey()] += entry.getValue();
				}`,
			"params": map[string]interface{}{
				"deltas": deltas,
			},
		},
	})
	return err
}

func (s *Store) update(ctx context.Context, collection, id string, body map[string]interface{}) error {
	_, err := s.scriptedUpdate(ctx, collection, id, body)
	return err
}

// scriptedUpdate runs an update request and returns the reported
// result ("updated", "noop").
func (s *Store) scriptedUpdate(ctx context.Context, collection, id string, body map[string]interface{}) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("docstore/elastic: failed to encode update: %w", err)
	}

	res, err := s.client.Update(collection, id, bytes.NewReader(data),
		s.client.Update.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("docstore/elastic: update failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		drainBody(res)
		return "", docstore.ErrNotFound
	}
	if res.IsError() {
		return "", responseError(res, "update")
	}

	var envelope struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return "", fmt.Errorf("docstore/elastic: failed to decode update response: %w", err)
	}
	return envelope.Result, nil
}

// Aggregate computes bucketed numeric results with size 0, so only
// aggregation output crosses the wire.
func (s *Store) Aggregate(ctx context.Context, collection string, req docstore.AggregationRequest) (*docstore.AggregationResult, error) {
	body, err := json.Marshal(aggregationBody(req))
	if err != nil {
		return nil, fmt.Errorf("docstore/elastic: failed to encode aggregation: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithIndex(collection),
		s.client.Search.WithBody(bytes.NewReader(body)),
		s.client.Search.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("docstore/elastic: aggregate failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError(res, "aggregate")
	}
	return decodeAggregations(res.Body, req)
}

// Ping checks cluster connectivity.
func (s *Store) Ping(ctx context.Context) error {
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("docstore/elastic: ping failed: %w", err)
	}
	return checkResponse(res, "ping")
}

// Close is a no-op; the underlying transport has no close semantics.
func (s *Store) Close() error { return nil }

func checkResponse(res *esapi.Response, op string) error {
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res, op)
	}
	drainBody(res)
	return nil
}

func responseError(res *esapi.Response, op string) error {
	data, _ := io.ReadAll(res.Body)
	return fmt.Errorf("docstore/elastic: %s returned %s: %s", op, res.Status(), data)
}

func drain(res *esapi.Response) {
	if res != nil && res.Body != nil {
		drainBody(res)
		res.Body.Close()
	}
}

func drainBody(res *esapi.Response) {
	_, _ = io.Copy(io.Discard, res.Body)
}
