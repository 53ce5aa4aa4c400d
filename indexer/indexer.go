// Package indexer assembles the Indexer service: a stream sink that decodes
// each block's module payload, preprocesses it against the content cache,
// dispatches the block handlers, and advances its cursor only after the
// whole block committed.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/geo-kg/indexer/common"
	"github.com/geo-kg/indexer/handlers"
	"github.com/geo-kg/indexer/preprocess"
	"github.com/geo-kg/indexer/properties"
	"github.com/geo-kg/indexer/storage"
	"github.com/geo-kg/indexer/stream"
	"github.com/geo-kg/indexer/wire"
)

// Service implements stream.Sink for the Indexer.
type Service struct {
	pre     *preprocess.Preprocessor
	blocks  *handlers.BlockHandler
	cursors stream.CursorRepository
	logger  *common.ContextLogger
}

// New wires an Indexer service. Hydrate must be called before streaming so
// pre-existing property schemas validate correctly on the first block.
func New(pre *preprocess.Preprocessor, blocks *handlers.BlockHandler, cursors stream.CursorRepository, logger *common.ContextLogger) *Service {
	return &Service{pre: pre, blocks: blocks, cursors: cursors, logger: logger}
}

// Hydrate loads the properties cache from storage.
func Hydrate(ctx context.Context, props *properties.Cache, store storage.Store, logger *common.ContextLogger) error {
	if err := props.Hydrate(ctx, store); err != nil {
		return err
	}
	logger.WithField("properties", props.Len()).Info("Properties cache hydrated")
	return nil
}

// LoadPersistedCursor implements stream.Sink.
func (s *Service) LoadPersistedCursor(ctx context.Context) (string, bool, error) {
	c, err := s.cursors.Load(ctx, stream.ServiceIndexer)
	if err != nil {
		if errors.Is(err, stream.ErrCursorNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return c.Cursor, true, nil
}

// ProcessBlockScopedData handles one block end to end. The cursor is
// persisted only after every handler committed; a failed block leaves the
// cursor in place so the driver redelivers it.
func (s *Service) ProcessBlockScopedData(ctx context.Context, block *stream.BlockScopedData) error {
	log := s.logger.WithField("block_number", block.BlockNumber)

	payload, err := wire.MaybeDecompress(block.Payload)
	if err != nil {
		return fmt.Errorf("block %d: %w", block.BlockNumber, err)
	}
	geo, err := wire.DecodeGeoOutput(payload)
	if err != nil {
		return fmt.Errorf("block %d: decode output: %w", block.BlockNumber, err)
	}

	decoded, err := s.pre.Process(ctx, geo, preprocess.BlockMeta{
		Number:    block.BlockNumber,
		Timestamp: parseBlockTimestamp(block.Timestamp),
	})
	if err != nil {
		return fmt.Errorf("block %d: preprocess: %w", block.BlockNumber, err)
	}

	if err := common.LogOperation(log, "handle block", func() error {
		return s.blocks.HandleBlock(ctx, decoded)
	}); err != nil {
		return err
	}

	if err := s.cursors.Persist(ctx, stream.ServiceIndexer, block.Cursor, block.BlockNumber); err != nil {
		return fmt.Errorf("block %d: persist cursor: %w", block.BlockNumber, err)
	}
	return nil
}

// parseBlockTimestamp reads the clock timestamp, carried as decimal seconds
// since epoch. Malformed clocks degrade to the epoch instead of failing the
// block.
func parseBlockTimestamp(raw string) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return time.Unix(secs, 0).UTC()
}
