package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/geo-kg/indexer/db"
	"github.com/geo-kg/indexer/model"
)

// Postgres implements Store against a pgx connection pool. All batch writes
// go through pgx.Batch so a single round-trip carries a whole op family.
type Postgres struct {
	db *db.PostgresDB
}

// NewPostgres creates a Store backed by the given pgx pool wrapper.
func NewPostgres(database *db.PostgresDB) *Postgres {
	return &Postgres{db: database}
}

// Begin opens a new transaction on the pool.
func (s *Postgres) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.db.Pool().Begin(ctx)
}

// InsertProperties writes properties first-write-wins: ON CONFLICT DO NOTHING
// keeps the data_type recorded by the earliest successful insert.
func (s *Postgres) InsertProperties(ctx context.Context, tx pgx.Tx, props []model.Property) error {
	if len(props) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range props {
		batch.Queue(`
			INSERT INTO properties (id, data_type)
			VALUES ($1, $2)
			ON CONFLICT (id) DO NOTHING
		`, p.ID, p.DataType)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert properties: %w", err)
	}
	return nil
}

// ListProperties reads the full properties table for cache hydration.
func (s *Postgres) ListProperties(ctx context.Context) ([]model.Property, error) {
	rows, err := s.db.Query(ctx, `SELECT id, data_type FROM properties`)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	defer rows.Close()

	var props []model.Property
	for rows.Next() {
		var p model.Property
		if err := rows.Scan(&p.ID, &p.DataType); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		props = append(props, p)
	}
	return props, rows.Err()
}

// InsertEntities upserts entities. Existing rows keep their created_at* pair
// and advance updated_at*.
func (s *Postgres) InsertEntities(ctx context.Context, tx pgx.Tx, entities []model.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entities {
		batch.Queue(`
			INSERT INTO entities (id, created_at, created_at_block, updated_at, updated_at_block)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE
			SET updated_at = EXCLUDED.updated_at,
			    updated_at_block = EXCLUDED.updated_at_block
		`, e.ID, e.CreatedAt, e.CreatedAtBlock, e.UpdatedAt, e.UpdatedAtBlock)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert entities: %w", err)
	}
	return nil
}

// InsertValues batch-upserts value rows. A replayed SET overwrites the row
// with identical content, keeping replays convergent.
func (s *Postgres) InsertValues(ctx context.Context, tx pgx.Tx, values []model.Value) error {
	if len(values) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, v := range values {
		batch.Queue(`
			INSERT INTO "values" (id, property_id, entity_id, space_id, language, unit,
			                    string, number, boolean, time, point)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE
			SET language = EXCLUDED.language,
			    unit = EXCLUDED.unit,
			    string = EXCLUDED.string,
			    number = EXCLUDED.number,
			    boolean = EXCLUDED.boolean,
			    time = EXCLUDED.time,
			    point = EXCLUDED.point
		`, v.ID, v.PropertyID, v.EntityID, v.SpaceID, v.Language, v.Unit,
			v.String, v.Number, v.Boolean, v.Time, v.Point)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert values: %w", err)
	}
	return nil
}

// DeleteValues removes the addressed triples within one space.
func (s *Postgres) DeleteValues(ctx context.Context, tx pgx.Tx, spaceID uuid.UUID, refs []ValueRef) error {
	if len(refs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range refs {
		batch.Queue(`
			DELETE FROM "values"
			WHERE entity_id = $1 AND property_id = $2 AND space_id = $3
		`, r.EntityID, r.PropertyID, spaceID)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("delete values: %w", err)
	}
	return nil
}

func (s *Postgres) InsertRelations(ctx context.Context, tx pgx.Tx, relations []model.Relation) error {
	if len(relations) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range relations {
		batch.Queue(`
			INSERT INTO relations (id, entity_id, type_id, from_entity_id, to_entity_id,
			                       from_space_id, to_space_id, from_version_id, to_version_id,
			                       position, space_id, verified)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.EntityID, r.TypeID, r.FromEntityID, r.ToEntityID,
			r.FromSpaceID, r.ToSpaceID, r.FromVersionID, r.ToVersionID,
			r.Position, r.SpaceID, r.Verified)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert relations: %w", err)
	}
	return nil
}

// UpdateRelation applies only the Set fields of u. Fields left Unchanged or
// Cleared contribute nothing here; clears go through UnsetRelationFields so
// the two intents never race inside one statement.
func (s *Postgres) UpdateRelation(ctx context.Context, tx pgx.Tx, spaceID uuid.UUID, u model.RelationUpdate) error {
	var (
		assignments []string
		args        []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if v, ok := u.FromSpaceID.Value(); ok {
		assignments = append(assignments, "from_space_id = "+arg(v))
	}
	if v, ok := u.ToSpaceID.Value(); ok {
		assignments = append(assignments, "to_space_id = "+arg(v))
	}
	if v, ok := u.FromVersionID.Value(); ok {
		assignments = append(assignments, "from_version_id = "+arg(v))
	}
	if v, ok := u.ToVersionID.Value(); ok {
		assignments = append(assignments, "to_version_id = "+arg(v))
	}
	if v, ok := u.Position.Value(); ok {
		assignments = append(assignments, "position = "+arg(v))
	}
	if v, ok := u.Verified.Value(); ok {
		assignments = append(assignments, "verified = "+arg(v))
	}
	if len(assignments) == 0 {
		return nil
	}

	query := fmt.Sprintf(`UPDATE relations SET %s WHERE id = %s AND space_id = %s`,
		strings.Join(assignments, ", "), arg(u.ID), arg(spaceID))
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update relation %s: %w", u.ID, err)
	}
	return nil
}

// UnsetRelationFields nulls out the named nullable columns. Field names are
// checked against the closed set declared in storage.go before being spliced
// into SQL.
func (s *Postgres) UnsetRelationFields(ctx context.Context, tx pgx.Tx, spaceID, relationID uuid.UUID, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	assignments := make([]string, 0, len(fields))
	for _, f := range fields {
		switch f {
		case RelationFieldFromSpace, RelationFieldToSpace,
			RelationFieldFromVersion, RelationFieldToVersion,
			RelationFieldPosition, RelationFieldVerified:
			assignments = append(assignments, f+" = NULL")
		default:
			return fmt.Errorf("unset relation fields: unknown column %q", f)
		}
	}

	query := fmt.Sprintf(`UPDATE relations SET %s WHERE id = $1 AND space_id = $2`,
		strings.Join(assignments, ", "))
	if _, err := tx.Exec(ctx, query, relationID, spaceID); err != nil {
		return fmt.Errorf("unset relation fields %s: %w", relationID, err)
	}
	return nil
}

func (s *Postgres) DeleteRelations(ctx context.Context, tx pgx.Tx, spaceID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, id := range ids {
		batch.Queue(`DELETE FROM relations WHERE id = $1 AND space_id = $2`, id, spaceID)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("delete relations: %w", err)
	}
	return nil
}

// InsertSpaces writes spaces idempotently. A replayed creation is a no-op,
// so the variant fixed at creation time survives any number of replays.
func (s *Postgres) InsertSpaces(ctx context.Context, tx pgx.Tx, spaces []model.Space) error {
	if len(spaces) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, sp := range spaces {
		batch.Queue(`
			INSERT INTO spaces (id, dao_address, type, space_address,
			                    main_voting_address, membership_address, personal_address)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''))
			ON CONFLICT (id) DO NOTHING
		`, sp.ID, sp.DAOAddress, sp.Variant, sp.SpaceAddress,
			sp.GovernancePluginAddress, sp.MembershipPluginAddress, sp.PersonalPluginAddress)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert spaces: %w", err)
	}
	return nil
}

func (s *Postgres) AddMember(ctx context.Context, tx pgx.Tx, spaceID uuid.UUID, address string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO members (space_id, address)
		VALUES ($1, $2)
		ON CONFLICT (space_id, address) DO NOTHING
	`, spaceID, address)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (s *Postgres) RemoveMember(ctx context.Context, tx pgx.Tx, spaceID uuid.UUID, address string) error {
	_, err := tx.Exec(ctx, `DELETE FROM members WHERE space_id = $1 AND address = $2`, spaceID, address)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

func (s *Postgres) AddEditor(ctx context.Context, tx pgx.Tx, spaceID uuid.UUID, address string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO editors (space_id, address)
		VALUES ($1, $2)
		ON CONFLICT (space_id, address) DO NOTHING
	`, spaceID, address)
	if err != nil {
		return fmt.Errorf("add editor: %w", err)
	}
	return nil
}

func (s *Postgres) RemoveEditor(ctx context.Context, tx pgx.Tx, spaceID uuid.UUID, address string) error {
	_, err := tx.Exec(ctx, `DELETE FROM editors WHERE space_id = $1 AND address = $2`, spaceID, address)
	if err != nil {
		return fmt.Errorf("remove editor: %w", err)
	}
	return nil
}

func (s *Postgres) AddSubspace(ctx context.Context, tx pgx.Tx, parentSpaceID, childSpaceID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO subspaces (parent_space_id, child_space_id)
		VALUES ($1, $2)
		ON CONFLICT (parent_space_id, child_space_id) DO NOTHING
	`, parentSpaceID, childSpaceID)
	if err != nil {
		return fmt.Errorf("add subspace: %w", err)
	}
	return nil
}

func (s *Postgres) RemoveSubspace(ctx context.Context, tx pgx.Tx, parentSpaceID, childSpaceID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		DELETE FROM subspaces WHERE parent_space_id = $1 AND child_space_id = $2
	`, parentSpaceID, childSpaceID)
	if err != nil {
		return fmt.Errorf("remove subspace: %w", err)
	}
	return nil
}

func (s *Postgres) InsertProposals(ctx context.Context, tx pgx.Tx, proposals []model.Proposal) error {
	if len(proposals) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range proposals {
		batch.Queue(`
			INSERT INTO proposals (id, space_id, proposal_type, creator, start_time, end_time,
			                       status, content_uri, address, created_at_block)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING
		`, p.ID, p.SpaceID, p.ProposalType, p.Creator, p.StartTime, p.EndTime,
			p.Status, p.ContentURI, p.Address, p.CreatedAtBlock)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert proposals: %w", err)
	}
	return nil
}

func (s *Postgres) UpdateProposalStatus(ctx context.Context, tx pgx.Tx, ids []uuid.UUID, status model.ProposalStatus) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `UPDATE proposals SET status = $1 WHERE id = ANY($2)`, status, ids)
	if err != nil {
		return fmt.Errorf("update proposal status: %w", err)
	}
	return nil
}
