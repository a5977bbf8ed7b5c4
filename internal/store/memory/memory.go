// Package memory provides an in-process document store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"spendly/internal/store"
)

// Store keeps documents as encoded JSON so reads behave like the SQL backends.
type Store struct {
	mu   sync.RWMutex
	docs map[string]map[string][]byte // collection -> id -> data
	seq  []string                     // collection/id in insertion order

	// failWith, when set, is returned by every operation.
	failMu   sync.RWMutex
	failWith error
}

func New() *Store {
	return &Store{docs: make(map[string]map[string][]byte)}
}

// FailWith makes every subsequent call return err; nil restores normal behavior.
func (s *Store) FailWith(err error) {
	s.failMu.Lock()
	s.failWith = err
	s.failMu.Unlock()
}

func (s *Store) failure() error {
	s.failMu.RLock()
	defer s.failMu.RUnlock()
	return s.failWith
}

func (s *Store) Add(ctx context.Context, collection string, fields store.Fields) (string, error) {
	if err := s.failure(); err != nil {
		return "", err
	}
	if !store.ValidCollection(collection) {
		return "", fmt.Errorf("%w: collection %q", store.ErrInvalidQuery, collection)
	}
	data, err := store.EncodeFields(fields)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string][]byte)
	}
	s.docs[collection][id] = data
	s.seq = append(s.seq, collection+"/"+id)
	return id, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	if err := s.failure(); err != nil {
		return store.Document{}, err
	}
	s.mu.RLock()
	data, ok := s.docs[collection][id]
	s.mu.RUnlock()
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	f, err := store.DecodeFields(data)
	if err != nil {
		return store.Document{}, err
	}
	return store.Document{ID: id, Fields: f}, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields store.Fields) error {
	if err := s.failure(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.docs[collection][id]
	if !ok {
		return store.ErrNotFound
	}
	current, err := store.DecodeFields(data)
	if err != nil {
		return err
	}
	for k, v := range fields {
		current[k] = v
	}
	merged, err := store.EncodeFields(current)
	if err != nil {
		return err
	}
	s.docs[collection][id] = merged
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := s.failure(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[collection][id]; !ok {
		return store.ErrNotFound
	}
	delete(s.docs[collection], id)
	key := collection + "/" + id
	for i, k := range s.seq {
		if k == key {
			s.seq = append(s.seq[:i], s.seq[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	if err := s.failure(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	prefix := q.Collection + "/"
	var docs []store.Document
	for _, key := range s.seq {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		id := key[len(prefix):]
		f, err := store.DecodeFields(s.docs[q.Collection][id])
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		if store.Matches(f, q.Where) {
			docs = append(docs, store.Document{ID: id, Fields: f})
		}
	}
	s.mu.RUnlock()

	store.SortDocuments(docs, q.OrderBy, q.Descending)
	return docs, nil
}

func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)
