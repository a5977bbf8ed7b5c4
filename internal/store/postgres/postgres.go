// Package postgres stores documents in a Postgres JSONB table through a pgx pool.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"spendly/internal/log"
	"spendly/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

// Open connects, migrates and returns a Store.
func Open(ctx context.Context, databaseURL string, logger *log.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runMigrations(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{pool: pool, logger: logger.WithComponent(log.ComponentStore)}, nil
}

func runMigrations(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("create pgx driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
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
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, collection, data) VALUES ($1, $2, $3::jsonb)`,
		id, collection, string(data)); err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	s.logger.DebugContext(ctx, "Document added", log.FieldCollection, collection, log.FieldDocumentID, id)
	return id, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	var data string
	err := s.pool.QueryRow(ctx,
		`SELECT data::text FROM documents WHERE collection = $1 AND id = $2`, collection, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
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

// Update merges top-level keys with the jsonb || operator in one statement.
func (s *Store) Update(ctx context.Context, collection, id string, fields store.Fields) error {
	patch, err := store.EncodeFields(fields)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET data = data || $1::jsonb, updated_at = now() WHERE collection = $2 AND id = $3`,
		string(patch), collection, id)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, data::text FROM documents WHERE collection = $1`)
	args := []any{q.Collection}
	for _, c := range q.Where {
		if v, ok := c.Value.(string); ok {
			args = append(args, c.Field, v)
			fmt.Fprintf(&sb, ` AND data->>($%d::text) = $%d`, len(args)-1, len(args))
		}
	}
	sb.WriteString(` ORDER BY created_at, id`)

	rows, err := s.pool.Query(ctx, sb.String(), args...)
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
