// Package cache persists resolved IPFS content in the relational store shared
// by the Content Resolver (writer) and the Indexer (reader). One row per
// content URI; the row either carries a decoded Edit payload or an is_errored
// marker so downstream readers can tell "missing" from "known-bad".
package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/geo-kg/indexer/db"
	"github.com/geo-kg/indexer/model"
)

// ErrNotFound is returned by Get when no row exists for a URI yet. Callers
// retry with backoff; the Resolver may simply not have caught up.
var ErrNotFound = errors.New("cache: uri not found")

// Repository reads and writes content cache rows. Implemented by Postgres;
// tests substitute in-memory fakes.
type Repository interface {
	// Get returns the row for uri, or ErrNotFound.
	Get(ctx context.Context, uri string) (*model.CacheRow, error)

	// GetMany returns the rows present for the given URIs, keyed by URI.
	// Missing URIs are simply absent from the result, not an error.
	GetMany(ctx context.Context, uris []string) (map[string]model.CacheRow, error)

	// Has reports whether a row exists for uri.
	Has(ctx context.Context, uri string) (bool, error)

	// Put inserts a row for the URI. An existing row is left untouched:
	// the first resolution wins and replays are no-ops.
	Put(ctx context.Context, row model.CacheRow) error
}

// Postgres implements Repository against the shared cache table.
type Postgres struct {
	db *db.PostgresDB
}

// NewPostgres creates a cache repository on the given pool.
func NewPostgres(database *db.PostgresDB) *Postgres {
	return &Postgres{db: database}
}

func (r *Postgres) Get(ctx context.Context, uri string) (*model.CacheRow, error) {
	row := model.CacheRow{URI: uri}
	err := r.db.QueryRow(ctx, `
		SELECT payload, block, space, is_errored FROM ipfs_cache WHERE uri = $1
	`, uri).Scan(&row.Payload, &row.BlockTimestamp, &row.SpaceID, &row.IsErrored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("cache get %s: %w", uri, err)
	}
	return &row, nil
}

func (r *Postgres) GetMany(ctx context.Context, uris []string) (map[string]model.CacheRow, error) {
	result := make(map[string]model.CacheRow, len(uris))
	if len(uris) == 0 {
		return result, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT uri, payload, block, space, is_errored FROM ipfs_cache WHERE uri = ANY($1)
	`, uris)
	if err != nil {
		return nil, fmt.Errorf("cache get many: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row model.CacheRow
		if err := rows.Scan(&row.URI, &row.Payload, &row.BlockTimestamp, &row.SpaceID, &row.IsErrored); err != nil {
			return nil, fmt.Errorf("cache scan: %w", err)
		}
		result[row.URI] = row
	}
	return result, rows.Err()
}

func (r *Postgres) Has(ctx context.Context, uri string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM ipfs_cache WHERE uri = $1)
	`, uri).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("cache has %s: %w", uri, err)
	}
	return exists, nil
}

func (r *Postgres) Put(ctx context.Context, row model.CacheRow) error {
	err := r.db.Exec(ctx, `
		INSERT INTO ipfs_cache (uri, payload, block, space, is_errored)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (uri) DO NOTHING
	`, row.URI, row.Payload, row.BlockTimestamp, row.SpaceID, row.IsErrored)
	if err != nil {
		return fmt.Errorf("cache put %s: %w", row.URI, err)
	}
	return nil
}
