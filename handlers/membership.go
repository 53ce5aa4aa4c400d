package handlers

import (
	"context"
	"fmt"

	"github.com/geo-kg/indexer/common"
	"github.com/geo-kg/indexer/ids"
	"github.com/geo-kg/indexer/preprocess"
	"github.com/geo-kg/indexer/storage"
)

// MembershipHandler applies member and editor additions and removals.
// Additions run before removals so that a same-block add/remove conflict
// resolves to removed.
type MembershipHandler struct {
	store   storage.Store
	network string
	logger  *common.ContextLogger
}

// NewMembershipHandler creates a membership handler.
func NewMembershipHandler(store storage.Store, network string, logger *common.ContextLogger) *MembershipHandler {
	return &MembershipHandler{store: store, network: network, logger: logger}
}

// HandleBlock applies the block's membership changes in one transaction.
func (h *MembershipHandler) HandleBlock(ctx context.Context, decoded *preprocess.BlockDecoded) error {
	if len(decoded.MembersAdded) == 0 && len(decoded.MembersRemoved) == 0 &&
		len(decoded.EditorsAdded) == 0 && len(decoded.EditorsRemoved) == 0 {
		return nil
	}

	tx, err := h.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin membership transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range decoded.MembersAdded {
		spaceID := ids.DeriveSpaceID(h.network, e.DAOAddress)
		if err := h.store.AddMember(ctx, tx, spaceID, ids.ChecksumAddress(e.MemberAddress)); err != nil {
			return err
		}
	}
	for _, e := range decoded.EditorsAdded {
		spaceID := ids.DeriveSpaceID(h.network, e.DAOAddress)
		if err := h.store.AddEditor(ctx, tx, spaceID, ids.ChecksumAddress(e.EditorAddress)); err != nil {
			return err
		}
	}
	for _, e := range decoded.MembersRemoved {
		spaceID := ids.DeriveSpaceID(h.network, e.DAOAddress)
		if err := h.store.RemoveMember(ctx, tx, spaceID, ids.ChecksumAddress(e.MemberAddress)); err != nil {
			return err
		}
	}
	for _, e := range decoded.EditorsRemoved {
		spaceID := ids.DeriveSpaceID(h.network, e.DAOAddress)
		if err := h.store.RemoveEditor(ctx, tx, spaceID, ids.ChecksumAddress(e.EditorAddress)); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit membership: %w", err)
	}
	return nil
}
