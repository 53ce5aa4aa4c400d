// Package stream defines the contract between the substream transport and
// the two services built on it. The transport itself is an external
// collaborator; this package only models what the services consume from it
// (block-scoped payloads, the sink callbacks, durable cursor persistence)
// plus a small driver loop with reconnect backoff.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/geo-kg/indexer/common"
	"github.com/geo-kg/indexer/db"
	"github.com/geo-kg/indexer/model"
)

// Service ids under which the two independently-cursored services persist
// their stream positions.
const (
	ServiceContentResolver = "content-resolver"
	ServiceIndexer         = "indexer"
)

// BlockScopedData is one block's worth of stream output: the clock fields,
// the opaque cursor to persist once the block is handled, and the raw module
// payload (a GeoOutput protobuf, possibly zstd-compressed).
type BlockScopedData struct {
	BlockNumber uint64
	Timestamp   string
	Cursor      string
	Payload     []byte
}

// Sink is implemented by each service. The driver calls ProcessBlockScopedData
// once per block, strictly in order; cursor persistence is the sink's own
// responsibility so that it only ever advances after the block's work is done.
type Sink interface {
	LoadPersistedCursor(ctx context.Context) (cursor string, found bool, err error)
	ProcessBlockScopedData(ctx context.Context, block *BlockScopedData) error
}

// Source abstracts the substream transport. Stream delivers blocks to handle
// starting from the given cursor ("" means from the beginning) and returns
// when the context is cancelled or the transport fails.
type Source interface {
	Stream(ctx context.Context, cursor string, handle func(context.Context, *BlockScopedData) error) error
}

// CursorRepository persists one cursor row per service id.
type CursorRepository interface {
	Load(ctx context.Context, serviceID string) (*model.Cursor, error)
	Persist(ctx context.Context, serviceID, cursor string, blockNumber uint64) error
}

// ErrCursorNotFound is returned by Load when a service has never persisted
// a cursor; a fresh deployment starting from the beginning of the stream.
var ErrCursorNotFound = errors.New("stream: cursor not found")

// PostgresCursors implements CursorRepository against the shared cursors
// table. The block number is stored as text to match the cache store schema.
type PostgresCursors struct {
	db *db.PostgresDB
}

// NewPostgresCursors creates a cursor repository on the given pool.
func NewPostgresCursors(database *db.PostgresDB) *PostgresCursors {
	return &PostgresCursors{db: database}
}

func (r *PostgresCursors) Load(ctx context.Context, serviceID string) (*model.Cursor, error) {
	c := model.Cursor{ServiceID: serviceID}
	var blockNumber string
	err := r.db.QueryRow(ctx, `
		SELECT cursor, block_number FROM cursors WHERE id = $1
	`, serviceID).Scan(&c.Cursor, &blockNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCursorNotFound
		}
		return nil, fmt.Errorf("load cursor %s: %w", serviceID, err)
	}
	// Block numbers are stored as text in the shared schema; a malformed
	// stored value reads as 0 rather than failing a restart.
	c.BlockNumber, _ = strconv.ParseUint(blockNumber, 10, 64)
	return &c, nil
}

func (r *PostgresCursors) Persist(ctx context.Context, serviceID, cursor string, blockNumber uint64) error {
	err := r.db.Exec(ctx, `
		INSERT INTO cursors (id, cursor, block_number)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET cursor = EXCLUDED.cursor,
		    block_number = EXCLUDED.block_number
	`, serviceID, cursor, strconv.FormatUint(blockNumber, 10))
	if err != nil {
		return fmt.Errorf("persist cursor %s: %w", serviceID, err)
	}
	return nil
}

// Run drives a sink against a source until ctx is cancelled. Transport
// failures reconnect with exponential backoff from the last persisted cursor,
// so a block whose processing failed is redelivered rather than skipped.
func Run(ctx context.Context, src Source, sink Sink, logger *common.ContextLogger) error {
	backoff := time.Second

	for {
		cursor, found, err := sink.LoadPersistedCursor(ctx)
		if err != nil {
			return fmt.Errorf("load persisted cursor: %w", err)
		}
		if found {
			logger.WithField("cursor", common.MaskSecret(cursor)).Info("Resuming from persisted cursor")
		} else {
			logger.Info("No persisted cursor, starting from the beginning")
		}

		err = src.Stream(ctx, cursor, sink.ProcessBlockScopedData)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		logger.WithError(err).WithField("retry_in", backoff.String()).Warn("Stream disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
