package handlers

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geo-kg/indexer/common"
	"github.com/geo-kg/indexer/ids"
	"github.com/geo-kg/indexer/model"
	"github.com/geo-kg/indexer/preprocess"
	"github.com/geo-kg/indexer/wire"
)

func testLogger() *common.ContextLogger {
	return common.NewContextLogger(nil, nil)
}

func TestParseUnixSeconds(t *testing.T) {
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), parseUnixSeconds("1700000000"))
	assert.Equal(t, time.Unix(0, 0).UTC(), parseUnixSeconds("not a number"), "parse failure defaults to 0")
	assert.Equal(t, time.Unix(0, 0).UTC(), parseUnixSeconds(""))
}

func TestPublishEditProposalID_FallbackChain(t *testing.T) {
	h := NewProposalHandler(nil, "testnet", testLogger())

	t.Run("edit id preferred", func(t *testing.T) {
		editID := uuid.New()
		got := h.publishEditProposalID(preprocess.EditProposal{
			Event:  wire.PublishEditProposalCreated{ProposalID: uuid.New().String()},
			EditID: &editID,
		})
		assert.Equal(t, editID, got)
	})

	t.Run("proposal id parsed as uuid", func(t *testing.T) {
		onChain := uuid.New()
		got := h.publishEditProposalID(preprocess.EditProposal{
			Event: wire.PublishEditProposalCreated{ProposalID: onChain.String()},
		})
		assert.Equal(t, onChain, got)
	})

	t.Run("fresh uuid as last resort", func(t *testing.T) {
		got := h.publishEditProposalID(preprocess.EditProposal{
			Event: wire.PublishEditProposalCreated{ProposalID: "42"},
		})
		assert.NotEqual(t, uuid.Nil, got)
	})
}

func TestCollectProposals_GovernanceDerivedIDs(t *testing.T) {
	h := NewProposalHandler(nil, "testnet", testLogger())

	decoded := &preprocess.BlockDecoded{
		Block: preprocess.BlockMeta{Number: 12},
		GovernanceProposals: []preprocess.GovernanceProposal{{
			Event: wire.GovernanceProposalEvent{
				ProposalID:    "7",
				Creator:       "0x1234567890123456789012345678901234567890",
				StartTime:     "1700000000",
				EndTime:       "1700003600",
				Target:        "0xtarget",
				DAOAddress:    "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd",
				PluginAddress: "0x1111111111111111111111111111111111111111",
			},
			Type: model.ProposalTypeAddMember,
		}},
	}

	proposals := h.collectProposals(decoded)
	require.Len(t, proposals, 1)
	p := proposals[0]

	assert.Equal(t, ids.DeriveProposalID(
		"0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", "7",
		"0x1111111111111111111111111111111111111111"), p.ID)
	assert.Equal(t, model.ProposalTypeAddMember, p.ProposalType)
	assert.Equal(t, model.ProposalStatusCreated, p.Status)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), p.StartTime)
	require.NotNil(t, p.Address)
	assert.Equal(t, "0xtarget", *p.Address)
	assert.Nil(t, p.ContentURI)
	assert.Equal(t, uint64(12), p.CreatedAtBlock)
}

func TestCollectProposals_PublishEditCarriesContentURI(t *testing.T) {
	h := NewProposalHandler(nil, "testnet", testLogger())
	editID := uuid.New()

	decoded := &preprocess.BlockDecoded{
		Block: preprocess.BlockMeta{Number: 3},
		EditProposals: []preprocess.EditProposal{{
			Event: wire.PublishEditProposalCreated{
				ProposalID: "1",
				Creator:    "0x1234567890123456789012345678901234567890",
				StartTime:  "100",
				EndTime:    "200",
				ContentURI: "ipfs://Qm1",
				DAOAddress: "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd",
			},
			EditID: &editID,
		}},
	}

	proposals := h.collectProposals(decoded)
	require.Len(t, proposals, 1)
	assert.Equal(t, editID, proposals[0].ID, "proposal shares the edit's id")
	assert.Equal(t, model.ProposalTypePublishEdit, proposals[0].ProposalType)
	require.NotNil(t, proposals[0].ContentURI)
	assert.Equal(t, "ipfs://Qm1", *proposals[0].ContentURI)
}

func TestCollectExecutedIDs(t *testing.T) {
	h := NewProposalHandler(nil, "testnet", testLogger())
	parseable := uuid.New()

	decoded := &preprocess.BlockDecoded{
		ExecutedProposals: []wire.ProposalExecuted{
			{ProposalID: parseable.String(), PluginAddress: "0xplugin"},
			{ProposalID: "7", PluginAddress: "0x1111111111111111111111111111111111111111",
				DAOAddress: "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"},
			{ProposalID: "not-resolvable", PluginAddress: "0xplugin"},
		},
	}

	executed := h.collectExecutedIDs(decoded)
	require.Len(t, executed, 2)
	assert.Equal(t, parseable, executed[0])
	assert.Equal(t, ids.DeriveProposalID(
		"0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", "7",
		"0x1111111111111111111111111111111111111111"), executed[1])
}
