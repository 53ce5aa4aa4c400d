package stream

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protowire"
)

// SubstreamSource implements Source over the substream provider's gRPC
// streaming endpoint. Requests and responses are encoded by hand against
// protowire, the same approach the wire package takes for module payloads;
// only the envelope fields this pipeline consumes are decoded; everything
// else (session init, progress, undo signals) is skipped.
type SubstreamSource struct {
	conn *grpc.ClientConn
}

// streamBlocksMethod is the fully-qualified streaming method the provider
// exposes for block delivery.
const streamBlocksMethod = "/sf.substreams.rpc.v2.Stream/Blocks"

// DialSubstream connects to the substream endpoint. The connection is lazy;
// transport errors surface on the first Stream call.
func DialSubstream(endpoint string) (*SubstreamSource, error) {
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})))
	if err != nil {
		return nil, fmt.Errorf("dial substream %s: %w", endpoint, err)
	}
	return &SubstreamSource{conn: conn}, nil
}

// Close tears down the underlying connection.
func (s *SubstreamSource) Close() error {
	return s.conn.Close()
}

// Request field numbers (sf.substreams.rpc.v2.Request).
const (
	fieldRequestStartCursor = 2
)

// Response envelope field numbers (sf.substreams.rpc.v2.Response). Only
// block_scoped_data is consumed; the other oneof members are skipped.
const (
	fieldResponseBlockScopedData = 1
)

// BlockScopedData field numbers.
const (
	fieldBlockOutput = 1
	fieldBlockClock  = 2
	fieldBlockCursor = 3
)

// MapModuleOutput / Any / Clock nested field numbers.
const (
	fieldOutputMapOutput = 2
	fieldAnyValue        = 2

	fieldClockNumber    = 2
	fieldClockTimestamp = 3
)

// Stream opens the Blocks call and delivers each block to handle in order.
// A non-nil error from handle aborts the stream so the driver reconnects
// from the last persisted cursor.
func (s *SubstreamSource) Stream(ctx context.Context, cursor string, handle func(context.Context, *BlockScopedData) error) error {
	desc := &grpc.StreamDesc{StreamName: "Blocks", ServerStreams: true}
	cs, err := s.conn.NewStream(ctx, desc, streamBlocksMethod)
	if err != nil {
		return fmt.Errorf("open block stream: %w", err)
	}

	var req []byte
	if cursor != "" {
		req = protowire.AppendTag(req, fieldRequestStartCursor, protowire.BytesType)
		req = protowire.AppendString(req, cursor)
	}
	if err := cs.SendMsg(rawMessage(req)); err != nil {
		return fmt.Errorf("send block request: %w", err)
	}
	if err := cs.CloseSend(); err != nil {
		return fmt.Errorf("close send: %w", err)
	}

	for {
		var msg rawMessage
		if err := cs.RecvMsg(&msg); err != nil {
			return fmt.Errorf("recv block: %w", err)
		}

		block, err := decodeResponse(msg)
		if err != nil {
			return fmt.Errorf("decode block response: %w", err)
		}
		if block == nil {
			continue // progress / session message
		}
		if err := handle(ctx, block); err != nil {
			return err
		}
	}
}

func decodeResponse(buf []byte) (*BlockScopedData, error) {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		if num == fieldResponseBlockScopedData && typ == protowire.BytesType {
			raw, m := protowire.ConsumeBytes(buf)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			return decodeBlockScopedData(raw)
		}

		m := protowire.ConsumeFieldValue(num, typ, buf)
		if m < 0 {
			return nil, protowire.ParseError(m)
		}
		buf = buf[m:]
	}
	return nil, nil
}

func decodeBlockScopedData(buf []byte) (*BlockScopedData, error) {
	block := &BlockScopedData{}

	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		switch {
		case num == fieldBlockOutput && typ == protowire.BytesType:
			raw, m := protowire.ConsumeBytes(buf)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			payload, err := decodeModuleOutput(raw)
			if err != nil {
				return nil, err
			}
			block.Payload = payload
			buf = buf[m:]
		case num == fieldBlockClock && typ == protowire.BytesType:
			raw, m := protowire.ConsumeBytes(buf)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			if err := decodeClock(raw, block); err != nil {
				return nil, err
			}
			buf = buf[m:]
		case num == fieldBlockCursor && typ == protowire.BytesType:
			raw, m := protowire.ConsumeBytes(buf)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			block.Cursor = string(raw)
			buf = buf[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, buf)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			buf = buf[m:]
		}
	}
	return block, nil
}

// decodeModuleOutput unwraps MapModuleOutput.map_output (a google.protobuf.Any)
// down to the raw module payload bytes.
func decodeModuleOutput(buf []byte) ([]byte, error) {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		if num == fieldOutputMapOutput && typ == protowire.BytesType {
			anyRaw, m := protowire.ConsumeBytes(buf)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			return decodeAnyValue(anyRaw)
		}

		m := protowire.ConsumeFieldValue(num, typ, buf)
		if m < 0 {
			return nil, protowire.ParseError(m)
		}
		buf = buf[m:]
	}
	return nil, nil
}

func decodeAnyValue(buf []byte) ([]byte, error) {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		if num == fieldAnyValue && typ == protowire.BytesType {
			v, m := protowire.ConsumeBytes(buf)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			return v, nil
		}

		m := protowire.ConsumeFieldValue(num, typ, buf)
		if m < 0 {
			return nil, protowire.ParseError(m)
		}
		buf = buf[m:]
	}
	return nil, nil
}

func decodeClock(buf []byte, block *BlockScopedData) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return protowire.ParseError(n)
		}
		buf = buf[n:]

		switch {
		case num == fieldClockNumber && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(buf)
			if m < 0 {
				return protowire.ParseError(m)
			}
			block.BlockNumber = v
			buf = buf[m:]
		case num == fieldClockTimestamp && typ == protowire.BytesType:
			raw, m := protowire.ConsumeBytes(buf)
			if m < 0 {
				return protowire.ParseError(m)
			}
			ts, err := decodeTimestamp(raw)
			if err != nil {
				return err
			}
			block.Timestamp = ts
			buf = buf[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, buf)
			if m < 0 {
				return protowire.ParseError(m)
			}
			buf = buf[m:]
		}
	}
	return nil
}

// decodeTimestamp reads a google.protobuf.Timestamp and renders it as the
// decimal seconds string the cache rows carry.
func decodeTimestamp(buf []byte) (string, error) {
	var seconds int64
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return "", protowire.ParseError(n)
		}
		buf = buf[n:]

		if num == 1 && typ == protowire.VarintType {
			v, m := protowire.ConsumeVarint(buf)
			if m < 0 {
				return "", protowire.ParseError(m)
			}
			seconds = int64(v)
			buf = buf[m:]
			continue
		}

		m := protowire.ConsumeFieldValue(num, typ, buf)
		if m < 0 {
			return "", protowire.ParseError(m)
		}
		buf = buf[m:]
	}
	return fmt.Sprintf("%d", seconds), nil
}

// rawMessage carries pre-encoded protobuf bytes through grpc without a
// generated message type.
type rawMessage []byte

// rawCodec is a pass-through grpc codec for rawMessage payloads.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	msg, ok := v.(rawMessage)
	if !ok {
		return nil, fmt.Errorf("rawCodec: unsupported message type %T", v)
	}
	return msg, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	msg, ok := v.(*rawMessage)
	if !ok {
		return fmt.Errorf("rawCodec: unsupported message type %T", v)
	}
	*msg = append((*msg)[:0], data...)
	return nil
}

func (rawCodec) Name() string { return "raw" }

// compile-time check that the gRPC client satisfies the Source contract.
var _ Source = (*SubstreamSource)(nil)
