package handlers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/geo-kg/indexer/common"
	"github.com/geo-kg/indexer/ids"
	"github.com/geo-kg/indexer/model"
	"github.com/geo-kg/indexer/preprocess"
	"github.com/geo-kg/indexer/storage"
)

// ProposalHandler indexes created proposals and marks executed ones. Runs
// after the four-way category fan-out so that a PublishEdit proposal and the
// edit it proposes land in the same block pass.
type ProposalHandler struct {
	store   storage.Store
	network string
	logger  *common.ContextLogger
}

// NewProposalHandler creates a proposal handler.
func NewProposalHandler(store storage.Store, network string, logger *common.ContextLogger) *ProposalHandler {
	return &ProposalHandler{store: store, network: network, logger: logger}
}

// HandleBlock indexes the block's proposals in one transaction: created
// proposals first, then execution status updates.
func (h *ProposalHandler) HandleBlock(ctx context.Context, decoded *preprocess.BlockDecoded) error {
	proposals := h.collectProposals(decoded)
	executed := h.collectExecutedIDs(decoded)
	if len(proposals) == 0 && len(executed) == 0 {
		return nil
	}

	tx, err := h.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin proposals transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := h.store.InsertProposals(ctx, tx, proposals); err != nil {
		return err
	}
	if err := h.store.UpdateProposalStatus(ctx, tx, executed, model.ProposalStatusExecuted); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit proposals: %w", err)
	}
	return nil
}

func (h *ProposalHandler) collectProposals(decoded *preprocess.BlockDecoded) []model.Proposal {
	var proposals []model.Proposal

	for _, ep := range decoded.EditProposals {
		e := ep.Event
		uri := e.ContentURI
		proposals = append(proposals, model.Proposal{
			ID:             h.publishEditProposalID(ep),
			SpaceID:        ids.DeriveSpaceID(h.network, e.DAOAddress),
			ProposalType:   model.ProposalTypePublishEdit,
			Creator:        ids.ChecksumAddress(e.Creator),
			StartTime:      parseUnixSeconds(e.StartTime),
			EndTime:        parseUnixSeconds(e.EndTime),
			Status:         model.ProposalStatusCreated,
			ContentURI:     &uri,
			CreatedAtBlock: decoded.Block.Number,
		})
	}

	for _, gp := range decoded.GovernanceProposals {
		e := gp.Event
		target := e.Target
		proposals = append(proposals, model.Proposal{
			ID:             ids.DeriveProposalID(e.DAOAddress, e.ProposalID, e.PluginAddress),
			SpaceID:        ids.DeriveSpaceID(h.network, e.DAOAddress),
			ProposalType:   gp.Type,
			Creator:        ids.ChecksumAddress(e.Creator),
			StartTime:      parseUnixSeconds(e.StartTime),
			EndTime:        parseUnixSeconds(e.EndTime),
			Status:         model.ProposalStatusCreated,
			Address:        &target,
			CreatedAtBlock: decoded.Block.Number,
		})
	}

	return proposals
}

// publishEditProposalID picks the proposal id with the documented fallback
// chain: the cached edit's own id, then the on-chain proposal id when it
// parses as a UUID, then a fresh UUID as last resort.
func (h *ProposalHandler) publishEditProposalID(ep preprocess.EditProposal) uuid.UUID {
	if ep.EditID != nil {
		return *ep.EditID
	}
	if id, err := ids.ParseUUID(ep.Event.ProposalID); err == nil {
		return id
	}
	h.logger.WithFields(map[string]interface{}{
		"content_uri": ep.Event.ContentURI,
		"dao_address": ep.Event.DAOAddress,
	}).Warn("Publish edit proposal has no usable id, generating one")
	return uuid.New()
}

// collectExecutedIDs resolves executed proposal events to stored proposal
// ids. The on-chain id is tried as a UUID first; when that fails and the
// event carries a DAO address, the derived governance id is used instead so
// executions of derived-id proposals are not lost.
func (h *ProposalHandler) collectExecutedIDs(decoded *preprocess.BlockDecoded) []uuid.UUID {
	var executed []uuid.UUID
	for _, e := range decoded.ExecutedProposals {
		if id, err := ids.ParseUUID(e.ProposalID); err == nil {
			executed = append(executed, id)
			continue
		}
		if e.DAOAddress != "" {
			executed = append(executed, ids.DeriveProposalID(e.DAOAddress, e.ProposalID, e.PluginAddress))
			continue
		}
		h.logger.WithField("proposal_id", e.ProposalID).Debug("Executed proposal id is not resolvable, skipping")
	}
	return executed
}

// parseUnixSeconds parses a decimal seconds-since-epoch string; malformed
// input defaults to the epoch rather than failing the proposal.
func parseUnixSeconds(raw string) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return time.Unix(secs, 0).UTC()
}
