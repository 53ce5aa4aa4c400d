// Package model defines the typed domain objects materialized by the
// indexing pipeline: spaces, properties, entities, values, relations,
// membership rows, subspace edges, proposals, content cache rows, and
// stream cursors. These are plain data carriers; validation and
// derivation logic live in ids, edithandler, and handlers.
package model

import (
	"time"

	"github.com/google/uuid"
)

// DataType enumerates the fixed set of typed columns a Value can populate.
// Immutable once assigned to a Property (first write wins).
type DataType string

const (
	DataTypeString   DataType = "String"
	DataTypeNumber   DataType = "Number"
	DataTypeBoolean  DataType = "Boolean"
	DataTypeTime     DataType = "Time"
	DataTypePoint    DataType = "Point"
	DataTypeRelation DataType = "Relation"
)

// SpaceVariant distinguishes a DAO-governed space from a personal-admin one.
// Fixed at creation; never changes for a given space id.
type SpaceVariant string

const (
	SpaceVariantPublic   SpaceVariant = "Public"
	SpaceVariantPersonal SpaceVariant = "Personal"
)

// Space is the top-level container for entities, properties, values,
// relations, and membership.
type Space struct {
	ID                      uuid.UUID
	DAOAddress              string
	Variant                 SpaceVariant
	SpaceAddress            string
	GovernancePluginAddress string // Public only
	MembershipPluginAddress string // Public only
	PersonalPluginAddress   string // Personal only
}

// Property is a typed schema element referenced by values and relations.
// DataType is immutable: the first successful CreateProperty for an id wins.
type Property struct {
	ID       uuid.UUID
	DataType DataType
}

// Entity is upserted on first mention and touched (updated_at*) on every
// subsequent mention within a block.
type Entity struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	CreatedAtBlock uint64
	UpdatedAt      time.Time
	UpdatedAtBlock uint64
}

// ValueChangeType distinguishes SET from UNSET ops materialized from an
// edit's UpdateEntity / UnsetEntityValues ops.
type ValueChangeType string

const (
	ValueChangeSet   ValueChangeType = "SET"
	ValueChangeUnset ValueChangeType = "UNSET"
)

// ValueOp is an intermediate representation of a single SET or UNSET
// produced while walking an edit's ops, before typed-column population.
type ValueOp struct {
	ChangeType ValueChangeType
	EntityID   uuid.UUID
	PropertyID uuid.UUID
	SpaceID    uuid.UUID
	// Raw is the string form of the value as carried by the edit, used for
	// SET ops only. Typed-column population happens in edithandler.
	Raw      string
	Language string
	Unit     string
}

// Value is a (property, entity, space) triple carrying exactly one typed
// payload. ID is a pure function of the triple (see ids.ValueID).
type Value struct {
	ID         uuid.UUID
	PropertyID uuid.UUID
	EntityID   uuid.UUID
	SpaceID    uuid.UUID
	Language   *string
	Unit       *string
	String     *string
	Number     *float64
	Boolean    *bool
	Time       *time.Time
	// Point is stored as the original "<x>,<y>" decimal string rather than
	// split columns; that is the format the property validator checks and
	// the format every downstream reader expects.
	Point *string
}

// OptionalField represents a tri-state for nullable Relation fields during
// an UpdateRelation: the field may be left alone, set to a new value, or
// explicitly cleared. A plain pointer can't distinguish "absent from this
// update" from "explicitly cleared", which the wire format requires.
type OptionalField[T any] struct {
	state optionalState
	value T
}

type optionalState int

const (
	optionalUnchanged optionalState = iota
	optionalSet
	optionalCleared
)

// Unchanged returns a field that leaves the current stored value alone.
func Unchanged[T any]() OptionalField[T] { return OptionalField[T]{state: optionalUnchanged} }

// SetField returns a field that assigns v.
func SetField[T any](v T) OptionalField[T] { return OptionalField[T]{state: optionalSet, value: v} }

// Cleared returns a field that explicitly nulls out the stored value.
func Cleared[T any]() OptionalField[T] { return OptionalField[T]{state: optionalCleared} }

// IsUnchanged reports whether this field should be left alone by an update.
func (f OptionalField[T]) IsUnchanged() bool { return f.state == optionalUnchanged }

// IsCleared reports whether this field should be nulled out.
func (f OptionalField[T]) IsCleared() bool { return f.state == optionalCleared }

// Value returns the field's value and whether it is in the Set state.
func (f OptionalField[T]) Value() (T, bool) { return f.value, f.state == optionalSet }

// Relation is a directed, typed edge between two entities, scoped to a space.
type Relation struct {
	ID            uuid.UUID
	EntityID      uuid.UUID
	TypeID        uuid.UUID
	FromEntityID  uuid.UUID
	ToEntityID    uuid.UUID
	FromSpaceID   *uuid.UUID
	ToSpaceID     *uuid.UUID
	FromVersionID *uuid.UUID
	ToVersionID   *uuid.UUID
	Position      *string
	SpaceID       uuid.UUID
	Verified      *bool
}

// RelationUpdate carries the tri-state optional fields for an UpdateRelation
// op. The caller resolves the wire op's presence flags into OptionalField:
// a field the op does not mention stays Unchanged (the zero value).
type RelationUpdate struct {
	ID            uuid.UUID
	FromSpaceID   OptionalField[uuid.UUID]
	ToSpaceID     OptionalField[uuid.UUID]
	FromVersionID OptionalField[uuid.UUID]
	ToVersionID   OptionalField[uuid.UUID]
	Position      OptionalField[string]
	Verified      OptionalField[bool]
}

// ProposalType enumerates the on-chain proposal kinds the indexer tracks.
type ProposalType string

const (
	ProposalTypePublishEdit    ProposalType = "PublishEdit"
	ProposalTypeAddMember      ProposalType = "AddMember"
	ProposalTypeRemoveMember   ProposalType = "RemoveMember"
	ProposalTypeAddEditor      ProposalType = "AddEditor"
	ProposalTypeRemoveEditor   ProposalType = "RemoveEditor"
	ProposalTypeAddSubspace    ProposalType = "AddSubspace"
	ProposalTypeRemoveSubspace ProposalType = "RemoveSubspace"
)

// ProposalStatus tracks a proposal's lifecycle.
type ProposalStatus string

const (
	ProposalStatusCreated  ProposalStatus = "Created"
	ProposalStatusExecuted ProposalStatus = "Executed"
	ProposalStatusFailed   ProposalStatus = "Failed"
	ProposalStatusExpired  ProposalStatus = "Expired"
)

// Proposal tracks a single on-chain governance proposal.
type Proposal struct {
	ID             uuid.UUID
	SpaceID        uuid.UUID
	ProposalType   ProposalType
	Creator        string
	StartTime      time.Time
	EndTime        time.Time
	Status         ProposalStatus
	ContentURI     *string
	Address        *string
	CreatedAtBlock uint64
}

// CacheRow is one row of the shared content cache, unique on URI.
type CacheRow struct {
	URI            string
	Payload        []byte // JSON-encoded decoded Edit, nil if errored
	BlockTimestamp string
	SpaceID        uuid.UUID
	IsErrored      bool
}

// Cursor tracks a single service's position in the substream.
type Cursor struct {
	ServiceID   string
	Cursor      string
	BlockNumber uint64
}
