package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// buildResponse assembles a Response envelope carrying one BlockScopedData.
func buildResponse(blockNumber uint64, tsSeconds int64, cursor string, payload []byte) []byte {
	var ts []byte
	ts = protowire.AppendTag(ts, 1, protowire.VarintType)
	ts = protowire.AppendVarint(ts, uint64(tsSeconds))

	var clock []byte
	clock = protowire.AppendTag(clock, fieldClockNumber, protowire.VarintType)
	clock = protowire.AppendVarint(clock, blockNumber)
	clock = protowire.AppendTag(clock, fieldClockTimestamp, protowire.BytesType)
	clock = protowire.AppendBytes(clock, ts)

	var anyMsg []byte
	anyMsg = protowire.AppendTag(anyMsg, 1, protowire.BytesType)
	anyMsg = protowire.AppendString(anyMsg, "type.googleapis.com/GeoOutput")
	anyMsg = protowire.AppendTag(anyMsg, fieldAnyValue, protowire.BytesType)
	anyMsg = protowire.AppendBytes(anyMsg, payload)

	var output []byte
	output = protowire.AppendTag(output, 1, protowire.BytesType)
	output = protowire.AppendString(output, "geo_out")
	output = protowire.AppendTag(output, fieldOutputMapOutput, protowire.BytesType)
	output = protowire.AppendBytes(output, anyMsg)

	var block []byte
	block = protowire.AppendTag(block, fieldBlockOutput, protowire.BytesType)
	block = protowire.AppendBytes(block, output)
	block = protowire.AppendTag(block, fieldBlockClock, protowire.BytesType)
	block = protowire.AppendBytes(block, clock)
	block = protowire.AppendTag(block, fieldBlockCursor, protowire.BytesType)
	block = protowire.AppendString(block, cursor)

	var resp []byte
	resp = protowire.AppendTag(resp, fieldResponseBlockScopedData, protowire.BytesType)
	resp = protowire.AppendBytes(resp, block)
	return resp
}

func TestDecodeResponse_BlockScopedData(t *testing.T) {
	payload := []byte{0x08, 0x01}
	block, err := decodeResponse(buildResponse(1234, 1700000000, "cursor-1", payload))
	require.NoError(t, err)
	require.NotNil(t, block)

	assert.Equal(t, uint64(1234), block.BlockNumber)
	assert.Equal(t, "1700000000", block.Timestamp)
	assert.Equal(t, "cursor-1", block.Cursor)
	assert.Equal(t, payload, block.Payload)
}

func TestDecodeResponse_NonBlockMessageSkipped(t *testing.T) {
	// a progress message on an unconsumed field number
	var resp []byte
	resp = protowire.AppendTag(resp, 2, protowire.BytesType)
	resp = protowire.AppendString(resp, "progress")

	block, err := decodeResponse(resp)
	require.NoError(t, err)
	assert.Nil(t, block)
}

func TestDecodeResponse_Malformed(t *testing.T) {
	_, err := decodeResponse([]byte{0xff, 0xff})
	assert.Error(t, err)
}
