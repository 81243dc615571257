package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresStore implements DocumentStore using a single PostgreSQL table
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a new PostgreSQL document store
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
	}
}

// GetDB returns the underlying database connection
func (s *PostgresStore) GetDB() *sqlx.DB {
	return s.db
}

func (s *PostgresStore) Get(ctx context.Context, kind DocumentKind, key string) ([]byte, error) {
	query := `SELECT body FROM documents WHERE kind = $1 AND key = $2`

	var body []byte
	err := s.db.GetContext(ctx, &body, query, string(kind), key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return body, nil
}

func (s *PostgresStore) Put(ctx context.Context, kind DocumentKind, key string, body []byte) error {
	query := `
		INSERT INTO documents (kind, key, body, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (kind, key) DO UPDATE
		SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, string(kind), key, string(body), time.Now().UTC())
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, kind DocumentKind, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE kind = $1 AND key = $2`, string(kind), key)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStore) Keys(ctx context.Context, kind DocumentKind) ([]string, error) {
	query := `SELECT key FROM documents WHERE kind = $1 ORDER BY key`

	var keys []string
	err := s.db.SelectContext(ctx, &keys, query, string(kind))
	if err != nil {
		return nil, err
	}

	return keys, nil
}
