package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeGeoOutput_MixedEvents(t *testing.T) {
	var space []byte
	space = appendStringField(space, 1, "0xdao1")
	space = appendStringField(space, 2, "0xspace1")

	var plugin []byte
	plugin = appendStringField(plugin, 1, "0xdao1")
	plugin = appendStringField(plugin, 2, "0xvoting")
	plugin = appendStringField(plugin, 3, "0xmember")

	var published []byte
	published = appendStringField(published, 1, "0xdao1")
	published = appendStringField(published, 2, "ipfs://Qm123")
	published = appendStringField(published, 3, "0xplugin")

	var executed []byte
	executed = appendStringField(executed, 1, "42")
	executed = appendStringField(executed, 2, "0xplugin")
	executed = appendStringField(executed, 3, "0xdao1")

	var buf []byte
	buf = appendBytesField(buf, fieldGeoSpacesCreated, space)
	buf = appendBytesField(buf, fieldGeoGovernancePlugins, plugin)
	buf = appendBytesField(buf, fieldGeoEditsPublished, published)
	buf = appendBytesField(buf, fieldGeoExecutedProposals, executed)

	out, err := DecodeGeoOutput(buf)
	require.NoError(t, err)

	require.Len(t, out.SpacesCreated, 1)
	assert.Equal(t, "0xdao1", out.SpacesCreated[0].DAOAddress)
	assert.Equal(t, "0xspace1", out.SpacesCreated[0].SpaceAddress)

	require.Len(t, out.GovernancePluginsCreated, 1)
	assert.Equal(t, "0xvoting", out.GovernancePluginsCreated[0].MainVotingAddress)
	assert.Equal(t, "0xmember", out.GovernancePluginsCreated[0].MemberAccessAddress)

	require.Len(t, out.EditsPublished, 1)
	assert.Equal(t, "ipfs://Qm123", out.EditsPublished[0].ContentURI)

	require.Len(t, out.ExecutedProposals, 1)
	assert.Equal(t, "42", out.ExecutedProposals[0].ProposalID)
	assert.Equal(t, "0xdao1", out.ExecutedProposals[0].DAOAddress)
}

func TestDecodeGeoOutput_Empty(t *testing.T) {
	out, err := DecodeGeoOutput(nil)
	require.NoError(t, err)
	assert.Empty(t, out.SpacesCreated)
	assert.Empty(t, out.EditsPublished)
}

func TestDecodeStrings_SkipsUnknownFieldNumbers(t *testing.T) {
	var buf []byte
	buf = appendStringField(buf, 1, "first")
	buf = appendStringField(buf, 7, "beyond the struct")

	var a, b string
	require.NoError(t, decodeStrings(buf, &a, &b))
	assert.Equal(t, "first", a)
	assert.Empty(t, b)
}
