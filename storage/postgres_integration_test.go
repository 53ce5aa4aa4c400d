package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ipfscache "github.com/geo-kg/indexer/cache"
	containertesting "github.com/geo-kg/indexer/containers/testing"
	"github.com/geo-kg/indexer/db"
	"github.com/geo-kg/indexer/model"
	"github.com/geo-kg/indexer/stream"
)

// schema mirrors the migration tooling's output for the tables the storage
// layer writes. Kept inline so the integration test owns its whole fixture.
const schema = `
CREATE TABLE spaces (
	id uuid PRIMARY KEY,
	dao_address text NOT NULL,
	type text NOT NULL,
	space_address text NOT NULL,
	main_voting_address text,
	membership_address text,
	personal_address text
);
CREATE TABLE properties (
	id uuid PRIMARY KEY,
	data_type text NOT NULL
);
CREATE TABLE entities (
	id uuid PRIMARY KEY,
	created_at timestamptz NOT NULL,
	created_at_block bigint NOT NULL,
	updated_at timestamptz NOT NULL,
	updated_at_block bigint NOT NULL
);
CREATE TABLE "values" (
	id uuid PRIMARY KEY,
	property_id uuid NOT NULL,
	entity_id uuid NOT NULL,
	space_id uuid NOT NULL,
	language text,
	unit text,
	string text,
	number double precision,
	boolean boolean,
	time timestamptz,
	point text
);
CREATE TABLE relations (
	id uuid PRIMARY KEY,
	entity_id uuid NOT NULL,
	type_id uuid NOT NULL,
	from_entity_id uuid NOT NULL,
	to_entity_id uuid NOT NULL,
	from_space_id uuid,
	to_space_id uuid,
	from_version_id uuid,
	to_version_id uuid,
	position text,
	space_id uuid NOT NULL,
	verified boolean
);
CREATE TABLE members (
	space_id uuid NOT NULL,
	address text NOT NULL,
	PRIMARY KEY (space_id, address)
);
CREATE TABLE editors (
	space_id uuid NOT NULL,
	address text NOT NULL,
	PRIMARY KEY (space_id, address)
);
CREATE TABLE subspaces (
	parent_space_id uuid NOT NULL,
	child_space_id uuid NOT NULL,
	PRIMARY KEY (parent_space_id, child_space_id)
);
CREATE TABLE proposals (
	id uuid PRIMARY KEY,
	space_id uuid NOT NULL,
	proposal_type text NOT NULL,
	creator text NOT NULL,
	start_time timestamptz NOT NULL,
	end_time timestamptz NOT NULL,
	status text NOT NULL,
	content_uri text,
	address text,
	created_at_block bigint NOT NULL
);
CREATE TABLE ipfs_cache (
	uri text PRIMARY KEY,
	payload json,
	block text NOT NULL,
	space uuid NOT NULL,
	is_errored boolean NOT NULL DEFAULT false
);
CREATE TABLE cursors (
	id text PRIMARY KEY,
	cursor text NOT NULL,
	block_number text NOT NULL
);
`

func setupStore(t *testing.T) (*Postgres, *db.PostgresDB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	connStr, cleanup, err := containertesting.SetupPostgres(ctx, t, nil)
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(cleanup)

	database, err := db.NewPostgresDB(connStr)
	require.NoError(t, err)
	t.Cleanup(database.Close)

	// one statement per Exec: the extended protocol rejects multi-statement
	// strings
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		require.NoError(t, database.Exec(ctx, stmt))
	}
	return NewPostgres(database), database
}

func inTx(t *testing.T, store *Postgres, fn func(tx Tx) error) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, fn(tx))
	require.NoError(t, tx.Commit(ctx))
}

func TestPostgres_PropertyFirstWriteWins(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	id := uuid.New()

	// block A declares String, block B declares Number
	inTx(t, store, func(tx Tx) error {
		return store.InsertProperties(ctx, tx, []model.Property{{ID: id, DataType: model.DataTypeString}})
	})
	inTx(t, store, func(tx Tx) error {
		return store.InsertProperties(ctx, tx, []model.Property{{ID: id, DataType: model.DataTypeNumber}})
	})

	props, err := store.ListProperties(ctx)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, model.DataTypeString, props[0].DataType, "the first persisted data_type is immutable")
}

func TestPostgres_EntityUpsertTouchesTimestamps(t *testing.T) {
	store, database := setupStore(t)
	ctx := context.Background()
	id := uuid.New()

	first := time.Unix(1700000000, 0).UTC()
	second := time.Unix(1700000600, 0).UTC()

	inTx(t, store, func(tx Tx) error {
		return store.InsertEntities(ctx, tx, []model.Entity{{
			ID: id, CreatedAt: first, CreatedAtBlock: 1, UpdatedAt: first, UpdatedAtBlock: 1,
		}})
	})
	inTx(t, store, func(tx Tx) error {
		return store.InsertEntities(ctx, tx, []model.Entity{{
			ID: id, CreatedAt: second, CreatedAtBlock: 2, UpdatedAt: second, UpdatedAtBlock: 2,
		}})
	})

	var createdAtBlock, updatedAtBlock int64
	err := database.QueryRow(ctx,
		`SELECT created_at_block, updated_at_block FROM entities WHERE id = $1`, id).
		Scan(&createdAtBlock, &updatedAtBlock)
	require.NoError(t, err)
	assert.Equal(t, int64(1), createdAtBlock, "created_at_block is fixed at first mention")
	assert.Equal(t, int64(2), updatedAtBlock, "updated_at_block advances on every touch")
}

func TestPostgres_ValueSetThenDelete(t *testing.T) {
	store, database := setupStore(t)
	ctx := context.Background()

	spaceID := uuid.New()
	entityID := uuid.New()
	propertyID := uuid.New()
	n := 42.5

	value := model.Value{
		ID: uuid.New(), PropertyID: propertyID, EntityID: entityID, SpaceID: spaceID, Number: &n,
	}

	inTx(t, store, func(tx Tx) error {
		return store.InsertValues(ctx, tx, []model.Value{value})
	})
	// replay is idempotent
	inTx(t, store, func(tx Tx) error {
		return store.InsertValues(ctx, tx, []model.Value{value})
	})

	var count int
	require.NoError(t, database.QueryRow(ctx, `SELECT COUNT(*) FROM "values"`).Scan(&count))
	assert.Equal(t, 1, count)

	inTx(t, store, func(tx Tx) error {
		return store.DeleteValues(ctx, tx, spaceID, []ValueRef{{EntityID: entityID, PropertyID: propertyID}})
	})
	require.NoError(t, database.QueryRow(ctx, `SELECT COUNT(*) FROM "values"`).Scan(&count))
	assert.Zero(t, count)
}

func TestPostgres_RelationUpdateAndUnset(t *testing.T) {
	store, database := setupStore(t)
	ctx := context.Background()

	spaceID := uuid.New()
	relID := uuid.New()
	toSpace := uuid.New()
	pos := "a0"

	rel := model.Relation{
		ID: relID, EntityID: relID, TypeID: uuid.New(),
		FromEntityID: uuid.New(), ToEntityID: uuid.New(),
		Position: &pos, SpaceID: spaceID,
	}
	inTx(t, store, func(tx Tx) error {
		return store.InsertRelations(ctx, tx, []model.Relation{rel})
	})

	update := model.RelationUpdate{ID: relID, ToSpaceID: model.SetField(toSpace)}
	inTx(t, store, func(tx Tx) error {
		if err := store.UpdateRelation(ctx, tx, spaceID, update); err != nil {
			return err
		}
		return store.UnsetRelationFields(ctx, tx, spaceID, relID, []string{RelationFieldPosition})
	})

	var gotToSpace *uuid.UUID
	var gotPos *string
	err := database.QueryRow(ctx,
		`SELECT to_space_id, position FROM relations WHERE id = $1`, relID).
		Scan(&gotToSpace, &gotPos)
	require.NoError(t, err)
	require.NotNil(t, gotToSpace)
	assert.Equal(t, toSpace, *gotToSpace)
	assert.Nil(t, gotPos, "cleared field reads back as NULL")
}

func TestPostgres_MembershipIdempotent(t *testing.T) {
	store, database := setupStore(t)
	ctx := context.Background()
	spaceID := uuid.New()

	inTx(t, store, func(tx Tx) error {
		if err := store.AddMember(ctx, tx, spaceID, "0xAbC"); err != nil {
			return err
		}
		return store.AddMember(ctx, tx, spaceID, "0xAbC")
	})

	var count int
	require.NoError(t, database.QueryRow(ctx, `SELECT COUNT(*) FROM members`).Scan(&count))
	assert.Equal(t, 1, count)

	inTx(t, store, func(tx Tx) error {
		return store.RemoveMember(ctx, tx, spaceID, "0xAbC")
	})
	require.NoError(t, database.QueryRow(ctx, `SELECT COUNT(*) FROM members`).Scan(&count))
	assert.Zero(t, count)
}

func TestPostgres_ProposalStatusUpdate(t *testing.T) {
	store, database := setupStore(t)
	ctx := context.Background()

	known := uuid.New()
	unknown := uuid.New()
	inTx(t, store, func(tx Tx) error {
		return store.InsertProposals(ctx, tx, []model.Proposal{{
			ID: known, SpaceID: uuid.New(), ProposalType: model.ProposalTypeAddMember,
			Creator: "0xabc", StartTime: time.Unix(0, 0).UTC(), EndTime: time.Unix(0, 0).UTC(),
			Status: model.ProposalStatusCreated, CreatedAtBlock: 1,
		}})
	})

	// unknown ids are skipped silently
	inTx(t, store, func(tx Tx) error {
		return store.UpdateProposalStatus(ctx, tx, []uuid.UUID{known, unknown}, model.ProposalStatusExecuted)
	})

	var status string
	require.NoError(t, database.QueryRow(ctx,
		`SELECT status FROM proposals WHERE id = $1`, known).Scan(&status))
	assert.Equal(t, string(model.ProposalStatusExecuted), status)
}

func TestPostgres_SpaceVariantFixedAtCreation(t *testing.T) {
	store, database := setupStore(t)
	ctx := context.Background()
	id := uuid.New()

	public := model.Space{
		ID: id, DAOAddress: "0xdao", Variant: model.SpaceVariantPublic,
		SpaceAddress: "0xspace", GovernancePluginAddress: "0xvote",
	}
	personal := model.Space{
		ID: id, DAOAddress: "0xdao", Variant: model.SpaceVariantPersonal,
		SpaceAddress: "0xspace", PersonalPluginAddress: "0xadmin",
	}

	inTx(t, store, func(tx Tx) error {
		return store.InsertSpaces(ctx, tx, []model.Space{public})
	})
	inTx(t, store, func(tx Tx) error {
		return store.InsertSpaces(ctx, tx, []model.Space{personal})
	})

	var variant string
	require.NoError(t, database.QueryRow(ctx, `SELECT type FROM spaces WHERE id = $1`, id).Scan(&variant))
	assert.Equal(t, string(model.SpaceVariantPublic), variant)
}

func TestCacheRepository_RoundTrip(t *testing.T) {
	_, database := setupStore(t)
	ctx := context.Background()
	repo := ipfscache.NewPostgres(database)

	row := model.CacheRow{
		URI:            "ipfs://Qm1",
		Payload:        []byte(`{"ID":"AAECAwQFBgcICQoLDA0ODw=="}`),
		BlockTimestamp: "1700000000",
		SpaceID:        uuid.New(),
	}
	require.NoError(t, repo.Put(ctx, row))

	// first write wins
	dupe := row
	dupe.IsErrored = true
	require.NoError(t, repo.Put(ctx, dupe))

	got, err := repo.Get(ctx, "ipfs://Qm1")
	require.NoError(t, err)
	assert.False(t, got.IsErrored)
	assert.JSONEq(t, string(row.Payload), string(got.Payload))

	_, err = repo.Get(ctx, "ipfs://missing")
	assert.ErrorIs(t, err, ipfscache.ErrNotFound)

	many, err := repo.GetMany(ctx, []string{"ipfs://Qm1", "ipfs://missing"})
	require.NoError(t, err)
	require.Len(t, many, 1)

	has, err := repo.Has(ctx, "ipfs://Qm1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestCursorRepository_Monotonic(t *testing.T) {
	_, database := setupStore(t)
	ctx := context.Background()
	repo := stream.NewPostgresCursors(database)

	_, err := repo.Load(ctx, stream.ServiceIndexer)
	assert.ErrorIs(t, err, stream.ErrCursorNotFound)

	require.NoError(t, repo.Persist(ctx, stream.ServiceIndexer, "c1", 100))
	require.NoError(t, repo.Persist(ctx, stream.ServiceIndexer, "c2", 101))

	c, err := repo.Load(ctx, stream.ServiceIndexer)
	require.NoError(t, err)
	assert.Equal(t, "c2", c.Cursor)
	assert.Equal(t, uint64(101), c.BlockNumber)

	// the two services cursor independently
	require.NoError(t, repo.Persist(ctx, stream.ServiceContentResolver, "r1", 50))
	c, err = repo.Load(ctx, stream.ServiceIndexer)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), c.BlockNumber)
}
