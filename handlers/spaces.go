// Package handlers holds the per-block category handlers (spaces,
// membership, subspaces, proposals) and the orchestrator that fans them out
// alongside the edit handler. Each handler opens its own transaction, applies
// its slice of the block, and commits; the handlers touch disjoint tables so
// their commit order is not observable.
package handlers

import (
	"context"
	"fmt"

	"github.com/geo-kg/indexer/common"
	"github.com/geo-kg/indexer/preprocess"
	"github.com/geo-kg/indexer/storage"
)

// SpaceHandler persists spaces created in a block. Variant precedence
// (Public over Personal) is already resolved by preprocess; this handler
// only writes.
type SpaceHandler struct {
	store  storage.Store
	logger *common.ContextLogger
}

// NewSpaceHandler creates a space handler.
func NewSpaceHandler(store storage.Store, logger *common.ContextLogger) *SpaceHandler {
	return &SpaceHandler{store: store, logger: logger}
}

// HandleBlock writes the block's matched spaces in one transaction.
func (h *SpaceHandler) HandleBlock(ctx context.Context, decoded *preprocess.BlockDecoded) error {
	if len(decoded.Spaces) == 0 {
		return nil
	}

	tx, err := h.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin spaces transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := h.store.InsertSpaces(ctx, tx, decoded.Spaces); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit spaces: %w", err)
	}

	h.logger.WithFields(map[string]interface{}{
		"block_number": decoded.Block.Number,
		"spaces":       len(decoded.Spaces),
	}).Debug("Spaces indexed")
	return nil
}
