package handlers

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/geo-kg/indexer/common"
	"github.com/geo-kg/indexer/edithandler"
	"github.com/geo-kg/indexer/preprocess"
	"github.com/geo-kg/indexer/properties"
	"github.com/geo-kg/indexer/storage"
)

// BlockHandler fans a decoded block out to the four category handlers
// (spaces, edits, membership, subspaces) concurrently, then indexes
// proposals. Blocks are strictly serial; concurrency lives only inside a
// block, across handlers that touch disjoint tables.
type BlockHandler struct {
	spaces     *SpaceHandler
	edits      *edithandler.Handler
	membership *MembershipHandler
	subspaces  *SubspaceHandler
	proposals  *ProposalHandler
}

// NewBlockHandler wires the five handlers over one store and one shared
// properties cache.
func NewBlockHandler(store storage.Store, props *properties.Cache, network string, logger *common.ContextLogger) *BlockHandler {
	return &BlockHandler{
		spaces:     NewSpaceHandler(store, logger),
		edits:      edithandler.New(store, props, network, logger),
		membership: NewMembershipHandler(store, network, logger),
		subspaces:  NewSubspaceHandler(store, network, logger),
		proposals:  NewProposalHandler(store, network, logger),
	}
}

// HandleBlock runs the four-way fan-out and then the proposal pass. Any
// handler error fails the block: the caller must not advance its cursor, and
// a replay is safe because every write is idempotent.
func (h *BlockHandler) HandleBlock(ctx context.Context, decoded *preprocess.BlockDecoded) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.spaces.HandleBlock(gctx, decoded) })
	g.Go(func() error { return h.edits.HandleBlock(gctx, decoded) })
	g.Go(func() error { return h.membership.HandleBlock(gctx, decoded) })
	g.Go(func() error { return h.subspaces.HandleBlock(gctx, decoded) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("block %d: %w", decoded.Block.Number, err)
	}

	// Proposals run after the fan-out so PublishEdit proposals are indexed
	// in the same pass as the edits they reference.
	if err := h.proposals.HandleBlock(ctx, decoded); err != nil {
		return fmt.Errorf("block %d proposals: %w", decoded.Block.Number, err)
	}
	return nil
}
