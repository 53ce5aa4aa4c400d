// Package wire decodes the protobuf payloads carried by the block stream:
// the per-URI Edit content fetched from IPFS, and the GeoOutput envelope
// emitted by the substream module for each block. Decoding is hand-rolled
// against protowire's low-level tag/varint primitives rather than generated
// by protoc, since no .proto definitions ship with this pipeline; only the
// wire bytes do.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// DataType mirrors the property data-type enum carried on CreateProperty
// ops. Values match the wire encoding used by the upstream substream module.
type DataType int32

const (
	DataTypeString DataType = iota
	DataTypeNumber
	DataTypeBoolean
	DataTypeTime
	DataTypePoint
	DataTypeRelation
)

// Edit is the decoded form of one IPFS-pinned content payload: an ordered
// list of ops that mutate a space's knowledge graph.
type Edit struct {
	ID   []byte
	Name string
	Ops  []Op
}

// Op is one mutation within an Edit. Exactly one of the typed fields is
// populated, mirroring a proto3 oneof at the wire level (each alternative
// simply owns a distinct field number; nothing enforces exclusivity beyond
// convention, same as the oneof it stands in for).
type Op struct {
	UpdateEntity      *UpdateEntity
	UnsetEntityValues *UnsetEntityValues
	CreateProperty    *CreateProperty
	CreateRelation    *CreateRelation
	UpdateRelation    *UpdateRelation
	DeleteRelation    *DeleteRelation
}

type UpdateEntity struct {
	ID     []byte
	Values []ValueOp
}

type ValueOp struct {
	Property []byte
	Value    string
	Language string
	Unit     string
}

type UnsetEntityValues struct {
	ID         []byte
	Properties [][]byte
}

type CreateProperty struct {
	ID       []byte
	DataType DataType
}

type CreateRelation struct {
	ID          []byte
	Type        []byte
	FromEntity  []byte
	ToEntity    []byte
	FromSpace   []byte
	ToSpace     []byte
	FromVersion []byte
	ToVersion   []byte
	Position    string
	Verified    bool
	HasVerified bool
}

// OptionalBytes models a nullable bytes field inside UpdateRelation: Present
// distinguishes "this op carried a value for this field" (even if Clear is
// also set) from "this op never touched the field at all".
type OptionalBytes struct {
	Present bool
	Clear   bool
	Value   []byte
}

type OptionalString struct {
	Present bool
	Clear   bool
	Value   string
}

type OptionalBool struct {
	Present bool
	Clear   bool
	Value   bool
}

type UpdateRelation struct {
	ID          []byte
	FromSpace   OptionalBytes
	ToSpace     OptionalBytes
	FromVersion OptionalBytes
	ToVersion   OptionalBytes
	Position    OptionalString
	Verified    OptionalBool
}

type DeleteRelation struct {
	ID []byte
}

// Field numbers for the top-level Edit message.
const (
	fieldEditID   = 1
	fieldEditName = 2
	fieldEditOps  = 3
)

// Field numbers for Op's oneof members.
const (
	fieldOpUpdateEntity      = 1
	fieldOpUnsetEntityValues = 2
	fieldOpCreateProperty    = 3
	fieldOpCreateRelation    = 4
	fieldOpUpdateRelation    = 5
	fieldOpDeleteRelation    = 6
)

const (
	fieldUpdateEntityID     = 1
	fieldUpdateEntityValues = 2

	fieldValueOpProperty = 1
	fieldValueOpValue    = 2
	fieldValueOpLanguage = 3
	fieldValueOpUnit     = 4

	fieldUnsetID         = 1
	fieldUnsetProperties = 2

	fieldCreatePropertyID       = 1
	fieldCreatePropertyDataType = 2

	fieldRelationID          = 1
	fieldRelationType        = 2
	fieldRelationFromEntity  = 3
	fieldRelationToEntity    = 4
	fieldRelationFromSpace   = 5
	fieldRelationToSpace     = 6
	fieldRelationFromVersion = 7
	fieldRelationToVersion   = 8
	fieldRelationPosition    = 9
	fieldRelationVerified    = 10

	fieldUpdateRelationID          = 1
	fieldUpdateRelationFromSpace   = 2
	fieldUpdateRelationToSpace     = 3
	fieldUpdateRelationFromVersion = 4
	fieldUpdateRelationToVersion   = 5
	fieldUpdateRelationPosition    = 6
	fieldUpdateRelationVerified    = 7

	// Nested fields inside each Optional* wrapper message.
	fieldOptionalSet   = 1
	fieldOptionalClear = 2

	fieldDeleteRelationID = 1
)

// DecodeEdit parses a protobuf-encoded Edit message. Any malformation in the
// outer message or a nested op is surfaced as an error; callers treat a
// decode failure as an errored cache entry, never a partial Edit.
func DecodeEdit(buf []byte) (*Edit, error) {
	edit := &Edit{}

	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		switch num {
		case fieldEditID:
			v, m, err := consumeBytes(buf, typ)
			if err != nil {
				return nil, fmt.Errorf("edit.id: %w", err)
			}
			edit.ID = v
			buf = buf[m:]
		case fieldEditName:
			v, m, err := consumeString(buf, typ)
			if err != nil {
				return nil, fmt.Errorf("edit.name: %w", err)
			}
			edit.Name = v
			buf = buf[m:]
		case fieldEditOps:
			raw, m, err := consumeBytes(buf, typ)
			if err != nil {
				return nil, fmt.Errorf("edit.ops: %w", err)
			}
			op, err := decodeOp(raw)
			if err != nil {
				return nil, fmt.Errorf("edit.ops[]: %w", err)
			}
			edit.Ops = append(edit.Ops, *op)
			buf = buf[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, buf)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			buf = buf[m:]
		}
	}

	return edit, nil
}

func decodeOp(buf []byte) (*Op, error) {
	op := &Op{}

	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		raw, m, err := consumeBytes(buf, typ)
		if err != nil {
			return nil, err
		}
		buf = buf[m:]

		switch num {
		case fieldOpUpdateEntity:
			v, err := decodeUpdateEntity(raw)
			if err != nil {
				return nil, fmt.Errorf("update_entity: %w", err)
			}
			op.UpdateEntity = v
		case fieldOpUnsetEntityValues:
			v, err := decodeUnsetEntityValues(raw)
			if err != nil {
				return nil, fmt.Errorf("unset_entity_values: %w", err)
			}
			op.UnsetEntityValues = v
		case fieldOpCreateProperty:
			v, err := decodeCreateProperty(raw)
			if err != nil {
				return nil, fmt.Errorf("create_property: %w", err)
			}
			op.CreateProperty = v
		case fieldOpCreateRelation:
			v, err := decodeCreateRelation(raw)
			if err != nil {
				return nil, fmt.Errorf("create_relation: %w", err)
			}
			op.CreateRelation = v
		case fieldOpUpdateRelation:
			v, err := decodeUpdateRelation(raw)
			if err != nil {
				return nil, fmt.Errorf("update_relation: %w", err)
			}
			op.UpdateRelation = v
		case fieldOpDeleteRelation:
			v, err := decodeDeleteRelation(raw)
			if err != nil {
				return nil, fmt.Errorf("delete_relation: %w", err)
			}
			op.DeleteRelation = v
		}
	}

	return op, nil
}

func decodeUpdateEntity(buf []byte) (*UpdateEntity, error) {
	ue := &UpdateEntity{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		switch num {
		case fieldUpdateEntityID:
			v, m, err := consumeBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			ue.ID = v
			buf = buf[m:]
		case fieldUpdateEntityValues:
			raw, m, err := consumeBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			vop, err := decodeValueOp(raw)
			if err != nil {
				return nil, err
			}
			ue.Values = append(ue.Values, *vop)
			buf = buf[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, buf)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			buf = buf[m:]
		}
	}
	return ue, nil
}

func decodeValueOp(buf []byte) (*ValueOp, error) {
	v := &ValueOp{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		switch num {
		case fieldValueOpProperty:
			b, m, err := consumeBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			v.Property = b
			buf = buf[m:]
		case fieldValueOpValue:
			s, m, err := consumeString(buf, typ)
			if err != nil {
				return nil, err
			}
			v.Value = s
			buf = buf[m:]
		case fieldValueOpLanguage:
			s, m, err := consumeString(buf, typ)
			if err != nil {
				return nil, err
			}
			v.Language = s
			buf = buf[m:]
		case fieldValueOpUnit:
			s, m, err := consumeString(buf, typ)
			if err != nil {
				return nil, err
			}
			v.Unit = s
			buf = buf[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, buf)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			buf = buf[m:]
		}
	}
	return v, nil
}

func decodeUnsetEntityValues(buf []byte) (*UnsetEntityValues, error) {
	u := &UnsetEntityValues{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		switch num {
		case fieldUnsetID:
			b, m, err := consumeBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			u.ID = b
			buf = buf[m:]
		case fieldUnsetProperties:
			b, m, err := consumeBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			u.Properties = append(u.Properties, b)
			buf = buf[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, buf)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			buf = buf[m:]
		}
	}
	return u, nil
}

func decodeCreateProperty(buf []byte) (*CreateProperty, error) {
	c := &CreateProperty{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		switch num {
		case fieldCreatePropertyID:
			b, m, err := consumeBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			c.ID = b
			buf = buf[m:]
		case fieldCreatePropertyDataType:
			v, m, err := consumeVarint(buf, typ)
			if err != nil {
				return nil, err
			}
			c.DataType = DataType(v)
			buf = buf[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, buf)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			buf = buf[m:]
		}
	}
	return c, nil
}

func decodeCreateRelation(buf []byte) (*CreateRelation, error) {
	r := &CreateRelation{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		switch num {
		case fieldRelationID:
			b, m, err := consumeBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			r.ID = b
			buf = buf[m:]
		case fieldRelationType:
			b, m, err := consumeBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			r.Type = b
			buf = buf[m:]
		case fieldRelationFromEntity:
			b, m, err := consumeBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			r.FromEntity = b
			buf = buf[m:]
		case fieldRelationToEntity:
			b, m, err := consumeBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			r.ToEntity = b
			buf = buf[m:]
		case fieldRelationFromSpace:
			b, m, err := consumeBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			r.FromSpace = b
			buf = buf[m:]
		case fieldRelationToSpace:
			b, m, err := consumeBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			r.ToSpace = b
			buf = buf[m:]
		case fieldRelationFromVersion:
			b, m, err := consumeBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			r.FromVersion = b
			buf = buf[m:]
		case fieldRelationToVersion:
			b, m, err := consumeBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			r.ToVersion = b
			buf = buf[m:]
		case fieldRelationPosition:
			s, m, err := consumeString(buf, typ)
			if err != nil {
				return nil, err
			}
			r.Position = s
			buf = buf[m:]
		case fieldRelationVerified:
			v, m, err := consumeVarint(buf, typ)
			if err != nil {
				return nil, err
			}
			r.Verified = v != 0
			r.HasVerified = true
			buf = buf[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, buf)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			buf = buf[m:]
		}
	}
	return r, nil
}

func decodeUpdateRelation(buf []byte) (*UpdateRelation, error) {
	u := &UpdateRelation{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		switch num {
		case fieldUpdateRelationID:
			b, m, err := consumeBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			u.ID = b
			buf = buf[m:]
		case fieldUpdateRelationFromSpace:
			v, m, err := decodeOptionalBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			u.FromSpace = v
			buf = buf[m:]
		case fieldUpdateRelationToSpace:
			v, m, err := decodeOptionalBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			u.ToSpace = v
			buf = buf[m:]
		case fieldUpdateRelationFromVersion:
			v, m, err := decodeOptionalBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			u.FromVersion = v
			buf = buf[m:]
		case fieldUpdateRelationToVersion:
			v, m, err := decodeOptionalBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			u.ToVersion = v
			buf = buf[m:]
		case fieldUpdateRelationPosition:
			v, m, err := decodeOptionalString(buf, typ)
			if err != nil {
				return nil, err
			}
			u.Position = v
			buf = buf[m:]
		case fieldUpdateRelationVerified:
			v, m, err := decodeOptionalBool(buf, typ)
			if err != nil {
				return nil, err
			}
			u.Verified = v
			buf = buf[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, buf)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			buf = buf[m:]
		}
	}
	return u, nil
}

// decodeOptionalBytes reads a nested OptionalBytes wrapper message: its
// presence alone (any bytes at all, even zero-length) means Present=true;
// a `clear` sub-field means the caller asked to null the column out.
func decodeOptionalBytes(buf []byte, typ protowire.Type) (OptionalBytes, int, error) {
	raw, m, err := consumeBytes(buf, typ)
	if err != nil {
		return OptionalBytes{}, 0, err
	}
	opt := OptionalBytes{Present: true}
	for len(raw) > 0 {
		num, t, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return OptionalBytes{}, 0, protowire.ParseError(n)
		}
		raw = raw[n:]
		switch num {
		case fieldOptionalSet:
			b, k, err := consumeBytes(raw, t)
			if err != nil {
				return OptionalBytes{}, 0, err
			}
			opt.Value = b
			raw = raw[k:]
		case fieldOptionalClear:
			_, k, err := consumeVarint(raw, t)
			if err != nil {
				return OptionalBytes{}, 0, err
			}
			opt.Clear = true
			raw = raw[k:]
		default:
			k := protowire.ConsumeFieldValue(num, t, raw)
			if k < 0 {
				return OptionalBytes{}, 0, protowire.ParseError(k)
			}
			raw = raw[k:]
		}
	}
	return opt, m, nil
}

func decodeOptionalString(buf []byte, typ protowire.Type) (OptionalString, int, error) {
	raw, m, err := consumeBytes(buf, typ)
	if err != nil {
		return OptionalString{}, 0, err
	}
	opt := OptionalString{Present: true}
	for len(raw) > 0 {
		num, t, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return OptionalString{}, 0, protowire.ParseError(n)
		}
		raw = raw[n:]
		switch num {
		case fieldOptionalSet:
			s, k, err := consumeString(raw, t)
			if err != nil {
				return OptionalString{}, 0, err
			}
			opt.Value = s
			raw = raw[k:]
		case fieldOptionalClear:
			_, k, err := consumeVarint(raw, t)
			if err != nil {
				return OptionalString{}, 0, err
			}
			opt.Clear = true
			raw = raw[k:]
		default:
			k := protowire.ConsumeFieldValue(num, t, raw)
			if k < 0 {
				return OptionalString{}, 0, protowire.ParseError(k)
			}
			raw = raw[k:]
		}
	}
	return opt, m, nil
}

func decodeOptionalBool(buf []byte, typ protowire.Type) (OptionalBool, int, error) {
	raw, m, err := consumeBytes(buf, typ)
	if err != nil {
		return OptionalBool{}, 0, err
	}
	opt := OptionalBool{Present: true}
	for len(raw) > 0 {
		num, t, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return OptionalBool{}, 0, protowire.ParseError(n)
		}
		raw = raw[n:]
		switch num {
		case fieldOptionalSet:
			v, k, err := consumeVarint(raw, t)
			if err != nil {
				return OptionalBool{}, 0, err
			}
			opt.Value = v != 0
			raw = raw[k:]
		case fieldOptionalClear:
			_, k, err := consumeVarint(raw, t)
			if err != nil {
				return OptionalBool{}, 0, err
			}
			opt.Clear = true
			raw = raw[k:]
		default:
			k := protowire.ConsumeFieldValue(num, t, raw)
			if k < 0 {
				return OptionalBool{}, 0, protowire.ParseError(k)
			}
			raw = raw[k:]
		}
	}
	return opt, m, nil
}

func decodeDeleteRelation(buf []byte) (*DeleteRelation, error) {
	d := &DeleteRelation{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		switch num {
		case fieldDeleteRelationID:
			b, m, err := consumeBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			d.ID = b
			buf = buf[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, buf)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			buf = buf[m:]
		}
	}
	return d, nil
}

func consumeBytes(buf []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("wire: expected bytes-type field, got %v", typ)
	}
	v, n := protowire.ConsumeBytes(buf)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeString(buf []byte, typ protowire.Type) (string, int, error) {
	b, n, err := consumeBytes(buf, typ)
	if err != nil {
		return "", 0, err
	}
	return string(b), n, nil
}

func consumeVarint(buf []byte, typ protowire.Type) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("wire: expected varint-type field, got %v", typ)
	}
	v, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}
