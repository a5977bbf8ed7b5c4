// Package store is the document-store port the rest of Spendly talks to.
//
// Documents are schemaless JSON objects grouped in named collections. Every
// backend keeps them in the same wire form (see EncodeFields), so a document
// read from memory, SQLite or Postgres decodes to identical Fields.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Fields is the untyped content of a document.
type Fields map[string]any

// Document is a stored record and its store-assigned id.
type Document struct {
	ID     string
	Fields Fields
}

// Condition is an equality filter on a top-level field.
type Condition struct {
	Field string
	Value any
}

// Query selects documents of one collection.
type Query struct {
	Collection string
	Where      []Condition
	OrderBy    string
	Descending bool
}

// Store is implemented by every document backend.
type Store interface {
	Add(ctx context.Context, collection string, fields Fields) (string, error)
	Get(ctx context.Context, collection, id string) (Document, error)
	// Update merges fields into the document; keys not named are kept.
	Update(ctx context.Context, collection, id string, fields Fields) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, q Query) ([]Document, error)
	Close() error
}

var (
	ErrNotFound         = errors.New("document not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidQuery     = errors.New("invalid query")
)

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks collection and field names so that backends can embed them
// in JSON paths safely.
func (q Query) Validate() error {
	if !fieldName.MatchString(q.Collection) {
		return fmt.Errorf("%w: collection %q", ErrInvalidQuery, q.Collection)
	}
	for _, c := range q.Where {
		if !fieldName.MatchString(c.Field) {
			return fmt.Errorf("%w: field %q", ErrInvalidQuery, c.Field)
		}
	}
	if q.OrderBy != "" && !fieldName.MatchString(q.OrderBy) {
		return fmt.Errorf("%w: order field %q", ErrInvalidQuery, q.OrderBy)
	}
	return nil
}

// Key identifies the query for coalescing and logging.
func (q Query) Key() string {
	k := q.Collection
	for _, c := range q.Where {
		k += fmt.Sprintf("|%s=%v", c.Field, c.Value)
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Descending {
			dir = "desc"
		}
		k += "|order=" + q.OrderBy + " " + dir
	}
	return k
}

// ValidCollection reports whether name is usable as a collection.
func ValidCollection(name string) bool {
	return fieldName.MatchString(name)
}

// StringFields returns the string-valued top-level fields of f.
func StringFields(f Fields) map[string]string {
	out := make(map[string]string)
	for k, v := range f {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
