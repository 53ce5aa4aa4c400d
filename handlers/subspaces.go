package handlers

import (
	"context"
	"fmt"

	"github.com/geo-kg/indexer/common"
	"github.com/geo-kg/indexer/ids"
	"github.com/geo-kg/indexer/preprocess"
	"github.com/geo-kg/indexer/storage"
)

// SubspaceHandler applies parent→child space edges. Both addresses resolve
// to space ids here; referential integrity against the spaces table is the
// schema's job, not this layer's.
type SubspaceHandler struct {
	store   storage.Store
	network string
	logger  *common.ContextLogger
}

// NewSubspaceHandler creates a subspace handler.
func NewSubspaceHandler(store storage.Store, network string, logger *common.ContextLogger) *SubspaceHandler {
	return &SubspaceHandler{store: store, network: network, logger: logger}
}

// HandleBlock applies the block's subspace changes in one transaction,
// additions before removals.
func (h *SubspaceHandler) HandleBlock(ctx context.Context, decoded *preprocess.BlockDecoded) error {
	if len(decoded.SubspacesAdded) == 0 && len(decoded.SubspacesRemoved) == 0 {
		return nil
	}

	tx, err := h.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin subspaces transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range decoded.SubspacesAdded {
		parent := ids.DeriveSpaceID(h.network, e.DAOAddress)
		child := ids.DeriveSpaceID(h.network, e.Subspace)
		if err := h.store.AddSubspace(ctx, tx, parent, child); err != nil {
			return err
		}
	}
	for _, e := range decoded.SubspacesRemoved {
		parent := ids.DeriveSpaceID(h.network, e.DAOAddress)
		child := ids.DeriveSpaceID(h.network, e.Subspace)
		if err := h.store.RemoveSubspace(ctx, tx, parent, child); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit subspaces: %w", err)
	}
	return nil
}
