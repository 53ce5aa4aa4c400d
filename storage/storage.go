// Package storage implements the transactional persistence contract the
// block handlers write through. Every mutating operation takes an in-flight
// pgx transaction so a handler can compose its per-block (or per-edit) writes
// and commit or roll back as a unit. All operations are idempotent by primary
// key so a block replay after a crash converges to the same state.
package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/geo-kg/indexer/model"
)

// Tx aliases the pgx transaction handle every mutating op is scoped to.
type Tx = pgx.Tx

// ValueRef addresses a single value row by its logical triple. Used by
// DeleteValues so UNSET ops never need to know the synthetic row id.
type ValueRef struct {
	EntityID   uuid.UUID
	PropertyID uuid.UUID
}

// Store is the storage contract consumed by the edit handler and the four
// category handlers. Implementations must make every op at-least-once safe:
// re-running a committed block must not change the final state.
type Store interface {
	// Begin opens a new transaction on the underlying pool.
	Begin(ctx context.Context) (pgx.Tx, error)

	// InsertProperties writes properties with first-write-wins semantics:
	// an existing row's data_type is never overwritten.
	InsertProperties(ctx context.Context, tx pgx.Tx, props []model.Property) error

	// ListProperties returns every persisted property. Used once at Indexer
	// startup to hydrate the in-memory schema cache.
	ListProperties(ctx context.Context) ([]model.Property, error)

	// InsertEntities upserts entities, advancing updated_at/updated_at_block
	// on rows that already exist.
	InsertEntities(ctx context.Context, tx pgx.Tx, entities []model.Entity) error

	// InsertValues batch-upserts value rows keyed by their synthetic id.
	InsertValues(ctx context.Context, tx pgx.Tx, values []model.Value) error

	// DeleteValues removes the rows addressed by refs within the given space.
	DeleteValues(ctx context.Context, tx pgx.Tx, spaceID uuid.UUID, refs []ValueRef) error

	InsertRelations(ctx context.Context, tx pgx.Tx, relations []model.Relation) error

	// UpdateRelation applies the Set fields of u to the relation row scoped
	// to spaceID. Cleared fields are handled by UnsetRelationFields.
	UpdateRelation(ctx context.Context, tx pgx.Tx, spaceID uuid.UUID, u model.RelationUpdate) error

	// UnsetRelationFields nulls out the named nullable columns of a relation.
	UnsetRelationFields(ctx context.Context, tx pgx.Tx, spaceID, relationID uuid.UUID, fields []string) error

	DeleteRelations(ctx context.Context, tx pgx.Tx, spaceID uuid.UUID, ids []uuid.UUID) error

	// InsertSpaces writes spaces idempotently; the variant recorded by the
	// first successful insert is final.
	InsertSpaces(ctx context.Context, tx pgx.Tx, spaces []model.Space) error

	AddMember(ctx context.Context, tx pgx.Tx, spaceID uuid.UUID, address string) error
	RemoveMember(ctx context.Context, tx pgx.Tx, spaceID uuid.UUID, address string) error
	AddEditor(ctx context.Context, tx pgx.Tx, spaceID uuid.UUID, address string) error
	RemoveEditor(ctx context.Context, tx pgx.Tx, spaceID uuid.UUID, address string) error

	AddSubspace(ctx context.Context, tx pgx.Tx, parentSpaceID, childSpaceID uuid.UUID) error
	RemoveSubspace(ctx context.Context, tx pgx.Tx, parentSpaceID, childSpaceID uuid.UUID) error

	InsertProposals(ctx context.Context, tx pgx.Tx, proposals []model.Proposal) error

	// UpdateProposalStatus moves every listed proposal to the given status.
	// Unknown ids are skipped silently.
	UpdateProposalStatus(ctx context.Context, tx pgx.Tx, ids []uuid.UUID, status model.ProposalStatus) error
}

// Relation column names accepted by UnsetRelationFields. Anything else is
// rejected to keep the dynamic SQL surface closed.
const (
	RelationFieldFromSpace   = "from_space_id"
	RelationFieldToSpace     = "to_space_id"
	RelationFieldFromVersion = "from_version_id"
	RelationFieldToVersion   = "to_version_id"
	RelationFieldPosition    = "position"
	RelationFieldVerified    = "verified"
)
