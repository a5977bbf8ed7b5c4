// Package sqlite stores documents in a single SQLite table as JSON text.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"spendly/internal/log"
	"spendly/internal/store"
)

type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open creates the database file if needed, migrates it and returns a Store.
func Open(dbPath string, logger *log.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, logger: logger.WithComponent(log.ComponentStore)}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func (s *Store) Add(ctx context.Context, collection string, fields store.Fields) (string, error) {
	if !store.ValidCollection(collection) {
		return "", fmt.Errorf("%w: collection %q", store.ErrInvalidQuery, collection)
	}
	data, err := store.EncodeFields(fields)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	ts := now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, collection, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, collection, string(data), ts, ts)
	if err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	s.logger.DebugContext(ctx, "Document added", log.FieldCollection, collection, log.FieldDocumentID, id)
	return id, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, store.ErrNotFound
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("get document: %w", err)
	}
	f, err := store.DecodeFields([]byte(data))
	if err != nil {
		return store.Document{}, err
	}
	return store.Document{ID: id, Fields: f}, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields store.Fields) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	current, err := store.DecodeFields([]byte(data))
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

	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		string(merged), now(), collection, id); err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Query pushes string equality conditions into SQL; every condition is
// re-checked in Go and ordering is done by store.SortDocuments.
func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, data FROM documents WHERE collection = ?`)
	args := []any{q.Collection}
	for _, c := range q.Where {
		if v, ok := c.Value.(string); ok {
			// field names are validated identifiers
			fmt.Fprintf(&sb, ` AND json_extract(data, '$.%s') = ?`, c.Field)
			args = append(args, v)
		}
	}
	sb.WriteString(` ORDER BY created_at, rowid`)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		f, err := store.DecodeFields([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", id, err)
		}
		if store.Matches(f, q.Where) {
			docs = append(docs, store.Document{ID: id, Fields: f})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	store.SortDocuments(docs, q.OrderBy, q.Descending)
	return docs, nil
}

var _ store.Store = (*Store)(nil)
