// Package memory provides an in-memory document store, used for tests
// and local development. Search scoring is deterministic: exact token
// matches and bounded-edit-distance fuzzy matches weighted by field
// boosts.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/playvault/gamestore/docstore"
)

// Ensure Store implements the store interface.
var _ docstore.Store = (*Store)(nil)

// Store is an in-memory implementation of docstore.Store.
// It is safe for concurrent use; Increment and UpdateWhere hold the
// store lock for the whole mutation, so they are atomic with respect
// to each other.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	closed      bool
}

type collection struct {
	docs  map[string]map[string]interface{}
	order []string // insertion order, for stable ranking ties
}

// NewStore creates a new in-memory document store.
func NewStore() *Store {
	return &Store{
		collections: make(map[string]*collection),
	}
}

func (s *Store) coll(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{docs: make(map[string]map[string]interface{})}
		s.collections[name] = c
	}
	return c
}

// toDoc normalizes an arbitrary document to the map form every other
// operation works on, going through JSON so field names and value
// types match what a real document store would hold.
func toDoc(doc interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("docstore/memory: failed to encode document: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("docstore/memory: document must be an object: %w", err)
	}
	return m, nil
}

// Index stores a document under the given id.
func (s *Store) Index(ctx context.Context, collectionName, id string, doc interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := toDoc(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return docstore.ErrStoreClosed
	}

	c := s.coll(collectionName)
	if _, exists := c.docs[id]; !exists {
		c.order = append(c.order, id)
	}
	c.docs[id] = m
	return nil
}

// Get unmarshals the document with the given id into out.
func (s *Store) Get(ctx context.Context, collectionName, id string, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return docstore.ErrStoreClosed
	}

	c, ok := s.collections[collectionName]
	if !ok {
		return docstore.ErrNotFound
	}
	doc, ok := c.docs[id]
	if !ok {
		return docstore.ErrNotFound
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("docstore/memory: failed to encode document: %w", err)
	}
	return json.Unmarshal(data, out)
}

// Update merges the given fields into a document.
func (s *Store) Update(ctx context.Context, collectionName, id string, fields map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	normalized, err := toDoc(fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return docstore.ErrStoreClosed
	}

	c, ok := s.collections[collectionName]
	if !ok {
		return docstore.ErrNotFound
	}
	doc, ok := c.docs[id]
	if !ok {
		return docstore.ErrNotFound
	}
	for k, v := range normalized {
		doc[k] = v
	}
	return nil
}

// UpdateWhere merges fields only while cond still holds on the
// document, checked and applied under one lock.
func (s *Store) UpdateWhere(ctx context.Context, collectionName, id string, cond docstore.Term, fields map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	normalized, err := toDoc(fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return docstore.ErrStoreClosed
	}

	c, ok := s.collections[collectionName]
	if !ok {
		return docstore.ErrNotFound
	}
	doc, ok := c.docs[id]
	if !ok {
		return docstore.ErrNotFound
	}
	if !termMatches(doc, cond) {
		return docstore.ErrConflict
	}
	for k, v := range normalized {
		doc[k] = v
	}
	return nil
}

// Increment atomically adds deltas to integer fields.
func (s *Store) Increment(ctx context.Context, collectionName, id string, deltas map[string]int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return docstore.ErrStoreClosed
	}

	c, ok := s.collections[collectionName]
	if !ok {
		return docstore.ErrNotFound
	}
	doc, ok := c.docs[id]
	if !ok {
		return docstore.ErrNotFound
	}
	for field, delta := range deltas {
		current, _ := doc[field].(float64)
		doc[field] = current + float64(delta)
	}
	return nil
}

// Ping reports whether the store is open.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return docstore.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// DocCount returns the number of documents in a collection.
func (s *Store) DocCount(collectionName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collectionName]
	if !ok {
		return 0
	}
	return len(c.docs)
}
