package edithandler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geo-kg/indexer/common"
	"github.com/geo-kg/indexer/ids"
	"github.com/geo-kg/indexer/model"
	"github.com/geo-kg/indexer/preprocess"
	"github.com/geo-kg/indexer/properties"
	"github.com/geo-kg/indexer/storage"
	"github.com/geo-kg/indexer/wire"
)

func testLogger() *common.ContextLogger {
	return common.NewContextLogger(nil, nil)
}

func sixteen(b byte) []byte {
	id := make([]byte, 16)
	for i := range id {
		id[i] = b
	}
	return id
}

func mustUUID(t *testing.T, raw []byte) uuid.UUID {
	id, ok := ids.EditIDFromBytes(raw)
	require.True(t, ok)
	return id
}

// fakeTx satisfies pgx.Tx for the methods the handler touches; everything
// else panics through the embedded nil interface.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(ctx context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(ctx context.Context) error { t.rolledBack = true; return nil }

// fakeStore records every storage call.
type fakeStore struct {
	tx          *fakeTx
	properties  []model.Property
	entities    []model.Entity
	values      []model.Value
	deletedVals []storage.ValueRef
	relations   []model.Relation
	updates     []model.RelationUpdate
	unsets      map[uuid.UUID][]string
	deletedRels []uuid.UUID
	relSpaces   []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{tx: &fakeTx{}, unsets: make(map[uuid.UUID][]string)}
}

func (s *fakeStore) Begin(ctx context.Context) (pgx.Tx, error) { return s.tx, nil }

func (s *fakeStore) InsertProperties(ctx context.Context, tx pgx.Tx, props []model.Property) error {
	s.properties = append(s.properties, props...)
	return nil
}

func (s *fakeStore) ListProperties(ctx context.Context) ([]model.Property, error) {
	return s.properties, nil
}

func (s *fakeStore) InsertEntities(ctx context.Context, tx pgx.Tx, entities []model.Entity) error {
	s.entities = append(s.entities, entities...)
	return nil
}

func (s *fakeStore) InsertValues(ctx context.Context, tx pgx.Tx, values []model.Value) error {
	s.values = append(s.values, values...)
	return nil
}

func (s *fakeStore) DeleteValues(ctx context.Context, tx pgx.Tx, spaceID uuid.UUID, refs []storage.ValueRef) error {
	s.deletedVals = append(s.deletedVals, refs...)
	return nil
}

func (s *fakeStore) InsertRelations(ctx context.Context, tx pgx.Tx, relations []model.Relation) error {
	s.relations = append(s.relations, relations...)
	return nil
}

func (s *fakeStore) UpdateRelation(ctx context.Context, tx pgx.Tx, spaceID uuid.UUID, u model.RelationUpdate) error {
	s.updates = append(s.updates, u)
	return nil
}

func (s *fakeStore) UnsetRelationFields(ctx context.Context, tx pgx.Tx, spaceID, relationID uuid.UUID, fields []string) error {
	s.unsets[relationID] = append(s.unsets[relationID], fields...)
	return nil
}

func (s *fakeStore) DeleteRelations(ctx context.Context, tx pgx.Tx, spaceID uuid.UUID, relIDs []uuid.UUID) error {
	s.deletedRels = append(s.deletedRels, relIDs...)
	s.relSpaces = append(s.relSpaces, spaceID)
	return nil
}

func (s *fakeStore) InsertSpaces(ctx context.Context, tx pgx.Tx, spaces []model.Space) error {
	return nil
}
func (s *fakeStore) AddMember(ctx context.Context, tx pgx.Tx, spaceID uuid.UUID, address string) error {
	return nil
}
func (s *fakeStore) RemoveMember(ctx context.Context, tx pgx.Tx, spaceID uuid.UUID, address string) error {
	return nil
}
func (s *fakeStore) AddEditor(ctx context.Context, tx pgx.Tx, spaceID uuid.UUID, address string) error {
	return nil
}
func (s *fakeStore) RemoveEditor(ctx context.Context, tx pgx.Tx, spaceID uuid.UUID, address string) error {
	return nil
}
func (s *fakeStore) AddSubspace(ctx context.Context, tx pgx.Tx, parent, child uuid.UUID) error {
	return nil
}
func (s *fakeStore) RemoveSubspace(ctx context.Context, tx pgx.Tx, parent, child uuid.UUID) error {
	return nil
}
func (s *fakeStore) InsertProposals(ctx context.Context, tx pgx.Tx, proposals []model.Proposal) error {
	return nil
}
func (s *fakeStore) UpdateProposalStatus(ctx context.Context, tx pgx.Tx, proposalIDs []uuid.UUID, status model.ProposalStatus) error {
	return nil
}

var _ storage.Store = (*fakeStore)(nil)

func TestSquashProperties_LastOccurrenceWins(t *testing.T) {
	ops := []wire.Op{
		{CreateProperty: &wire.CreateProperty{ID: sixteen(1), DataType: wire.DataTypeString}},
		{CreateProperty: &wire.CreateProperty{ID: sixteen(1), DataType: wire.DataTypeNumber}},
		{CreateProperty: &wire.CreateProperty{ID: sixteen(1), DataType: wire.DataTypeBoolean}},
		{CreateProperty: &wire.CreateProperty{ID: sixteen(2), DataType: wire.DataTypeTime}},
	}

	squashed := squashProperties(ops, testLogger())
	require.Len(t, squashed, 2)
	assert.Equal(t, mustUUID(t, sixteen(1)), squashed[0].ID)
	assert.Equal(t, model.DataTypeBoolean, squashed[0].DataType)
	assert.Equal(t, model.DataTypeTime, squashed[1].DataType)
}

func TestSquashProperties_InvalidIDDropped(t *testing.T) {
	ops := []wire.Op{
		{CreateProperty: &wire.CreateProperty{ID: []byte{1, 2}, DataType: wire.DataTypeString}},
	}
	assert.Empty(t, squashProperties(ops, testLogger()))
}

func TestCollectEntities_DedupAndClock(t *testing.T) {
	block := preprocess.BlockMeta{Number: 42, Timestamp: time.Unix(1700000000, 0).UTC()}
	ops := []wire.Op{
		{UpdateEntity: &wire.UpdateEntity{ID: sixteen(1)}},
		{UnsetEntityValues: &wire.UnsetEntityValues{ID: sixteen(1)}},
		{UnsetEntityValues: &wire.UnsetEntityValues{ID: sixteen(2)}},
	}

	entities := collectEntities(ops, block, testLogger())
	require.Len(t, entities, 2)
	assert.Equal(t, uint64(42), entities[0].CreatedAtBlock)
	assert.Equal(t, uint64(42), entities[0].UpdatedAtBlock)
	assert.Equal(t, block.Timestamp, entities[0].UpdatedAt)
}

func newHandlerWithProps(store storage.Store) (*Handler, *properties.Cache) {
	props := properties.New()
	return New(store, props, "testnet", testLogger()), props
}

func TestCollectValueOps_SetThenUnsetCancels(t *testing.T) {
	h, _ := newHandlerWithProps(nil)
	spaceID := uuid.New()

	ops := []wire.Op{
		{UpdateEntity: &wire.UpdateEntity{
			ID:     sixteen(1),
			Values: []wire.ValueOp{{Property: sixteen(2), Value: "hello"}},
		}},
		{UnsetEntityValues: &wire.UnsetEntityValues{
			ID:         sixteen(1),
			Properties: [][]byte{sixteen(2)},
		}},
	}

	sets, unsets := h.collectValueOps(ops, spaceID, testLogger())
	assert.Empty(t, sets, "a set followed by an unset of the same triple leaves no row")
	require.Len(t, unsets, 1)
	assert.Equal(t, mustUUID(t, sixteen(1)), unsets[0].EntityID)
}

func TestCollectValueOps_UnsetThenSetRevives(t *testing.T) {
	h, _ := newHandlerWithProps(nil)
	spaceID := uuid.New()

	ops := []wire.Op{
		{UnsetEntityValues: &wire.UnsetEntityValues{
			ID:         sixteen(1),
			Properties: [][]byte{sixteen(2)},
		}},
		{UpdateEntity: &wire.UpdateEntity{
			ID:     sixteen(1),
			Values: []wire.ValueOp{{Property: sixteen(2), Value: "back"}},
		}},
	}

	sets, unsets := h.collectValueOps(ops, spaceID, testLogger())
	require.Len(t, sets, 1)
	assert.Empty(t, unsets)
	require.NotNil(t, sets[0].String)
	assert.Equal(t, "back", *sets[0].String)
}

func TestCollectValueOps_ValueIDIsPure(t *testing.T) {
	h, _ := newHandlerWithProps(nil)
	spaceID := uuid.New()

	ops := []wire.Op{
		{UpdateEntity: &wire.UpdateEntity{
			ID:     sixteen(1),
			Values: []wire.ValueOp{{Property: sixteen(2), Value: "first"}},
		}},
		{UpdateEntity: &wire.UpdateEntity{
			ID:     sixteen(1),
			Values: []wire.ValueOp{{Property: sixteen(2), Value: "second"}},
		}},
	}

	sets, _ := h.collectValueOps(ops, spaceID, testLogger())
	require.Len(t, sets, 1, "same triple squashes to one row")
	assert.Equal(t, "second", *sets[0].String, "the later set wins")
	assert.Equal(t,
		ids.ValueID(mustUUID(t, sixteen(2)), mustUUID(t, sixteen(1)), spaceID),
		sets[0].ID)
}

func TestBuildValue_TypedValidation(t *testing.T) {
	h, props := newHandlerWithProps(nil)
	spaceID := uuid.New()
	entity := mustUUID(t, sixteen(1))

	numberProp := mustUUID(t, sixteen(10))
	boolProp := mustUUID(t, sixteen(11))
	timeProp := mustUUID(t, sixteen(12))
	pointProp := mustUUID(t, sixteen(13))
	relationProp := mustUUID(t, sixteen(14))
	props.Set(numberProp, model.DataTypeNumber)
	props.Set(boolProp, model.DataTypeBoolean)
	props.Set(timeProp, model.DataTypeTime)
	props.Set(pointProp, model.DataTypePoint)
	props.Set(relationProp, model.DataTypeRelation)

	t.Run("valid number", func(t *testing.T) {
		v, ok := h.buildValue(model.ValueOp{EntityID: entity, PropertyID: numberProp, SpaceID: spaceID, Raw: "42.5"}, testLogger())
		require.True(t, ok)
		require.NotNil(t, v.Number)
		assert.Equal(t, 42.5, *v.Number)
		assert.Nil(t, v.String)
	})

	t.Run("invalid number dropped", func(t *testing.T) {
		_, ok := h.buildValue(model.ValueOp{EntityID: entity, PropertyID: numberProp, SpaceID: spaceID, Raw: "not_a_number"}, testLogger())
		assert.False(t, ok)
	})

	t.Run("boolean literals", func(t *testing.T) {
		v, ok := h.buildValue(model.ValueOp{EntityID: entity, PropertyID: boolProp, SpaceID: spaceID, Raw: "1"}, testLogger())
		require.True(t, ok)
		assert.True(t, *v.Boolean)

		_, ok = h.buildValue(model.ValueOp{EntityID: entity, PropertyID: boolProp, SpaceID: spaceID, Raw: "true"}, testLogger())
		assert.False(t, ok, `only "0" and "1" are booleans`)
	})

	t.Run("timestamp", func(t *testing.T) {
		v, ok := h.buildValue(model.ValueOp{EntityID: entity, PropertyID: timeProp, SpaceID: spaceID, Raw: "2024-01-15T10:30:00Z"}, testLogger())
		require.True(t, ok)
		require.NotNil(t, v.Time)

		_, ok = h.buildValue(model.ValueOp{EntityID: entity, PropertyID: timeProp, SpaceID: spaceID, Raw: "yesterday"}, testLogger())
		assert.False(t, ok)
	})

	t.Run("point", func(t *testing.T) {
		v, ok := h.buildValue(model.ValueOp{EntityID: entity, PropertyID: pointProp, SpaceID: spaceID, Raw: "1.5,-2.25"}, testLogger())
		require.True(t, ok)
		require.NotNil(t, v.Point)
		assert.Equal(t, "1.5,-2.25", *v.Point)

		_, ok = h.buildValue(model.ValueOp{EntityID: entity, PropertyID: pointProp, SpaceID: spaceID, Raw: "1.5"}, testLogger())
		assert.False(t, ok)
	})

	t.Run("relation-typed property not representable", func(t *testing.T) {
		_, ok := h.buildValue(model.ValueOp{EntityID: entity, PropertyID: relationProp, SpaceID: spaceID, Raw: "anything"}, testLogger())
		assert.False(t, ok)
	})

	t.Run("unknown property passes through as string", func(t *testing.T) {
		v, ok := h.buildValue(model.ValueOp{EntityID: entity, PropertyID: uuid.New(), SpaceID: spaceID, Raw: "hello", Language: "en"}, testLogger())
		require.True(t, ok)
		require.NotNil(t, v.String)
		assert.Equal(t, "hello", *v.String)
		require.NotNil(t, v.Language)
		assert.Equal(t, "en", *v.Language)
	})
}

func publishedEdit(t *testing.T, dao string, edit *wire.Edit) preprocess.PublishedEdit {
	t.Helper()
	return preprocess.PublishedEdit{
		Event: wire.EditPublished{DAOAddress: dao, ContentURI: "ipfs://test"},
		Row:   &model.CacheRow{URI: "ipfs://test"},
		Edit:  edit,
	}
}

func TestHandleBlock_FullEditPipeline(t *testing.T) {
	store := newFakeStore()
	h, props := newHandlerWithProps(store)

	edit := &wire.Edit{
		ID: sixteen(9),
		Ops: []wire.Op{
			{CreateProperty: &wire.CreateProperty{ID: sixteen(1), DataType: wire.DataTypeNumber}},
			{UpdateEntity: &wire.UpdateEntity{
				ID:     sixteen(2),
				Values: []wire.ValueOp{{Property: sixteen(1), Value: "3.14"}},
			}},
			{CreateRelation: &wire.CreateRelation{
				ID:         sixteen(3),
				Type:       sixteen(4),
				FromEntity: sixteen(2),
				ToEntity:   sixteen(5),
			}},
		},
	}

	decoded := &preprocess.BlockDecoded{
		Block:          preprocess.BlockMeta{Number: 10, Timestamp: time.Unix(1700000000, 0).UTC()},
		PublishedEdits: []preprocess.PublishedEdit{publishedEdit(t, "0xdao1", edit)},
	}

	require.NoError(t, h.HandleBlock(context.Background(), decoded))

	assert.True(t, store.tx.committed)

	require.Len(t, store.properties, 1)
	assert.Equal(t, model.DataTypeNumber, store.properties[0].DataType)

	dt, ok := props.Get(mustUUID(t, sixteen(1)))
	require.True(t, ok, "property creation must extend the in-memory cache")
	assert.Equal(t, model.DataTypeNumber, dt)

	require.Len(t, store.entities, 1)
	require.Len(t, store.values, 1)
	require.NotNil(t, store.values[0].Number, "the number declared in the same edit governs validation")

	require.Len(t, store.relations, 1)
	assert.Equal(t, ids.DeriveSpaceID("testnet", "0xdao1"), store.relations[0].SpaceID)
}

func TestHandleBlock_ErroredEditSkipped(t *testing.T) {
	store := newFakeStore()
	h, _ := newHandlerWithProps(store)

	decoded := &preprocess.BlockDecoded{
		Block: preprocess.BlockMeta{Number: 10},
		PublishedEdits: []preprocess.PublishedEdit{{
			Event: wire.EditPublished{DAOAddress: "0xdao1", ContentURI: "ipfs://bad"},
			Row:   &model.CacheRow{URI: "ipfs://bad", IsErrored: true},
		}},
	}

	require.NoError(t, h.HandleBlock(context.Background(), decoded))
	assert.False(t, store.tx.committed, "no transaction opens for an errored edit")
	assert.Empty(t, store.entities)
}

func TestApplyRelationUpdate_TriState(t *testing.T) {
	store := newFakeStore()
	h, _ := newHandlerWithProps(store)
	spaceID := uuid.New()

	ur := &wire.UpdateRelation{
		ID:       sixteen(1),
		ToSpace:  wire.OptionalBytes{Present: true, Value: sixteen(2)},
		Position: wire.OptionalString{Present: true, Clear: true},
		Verified: wire.OptionalBool{Present: true, Value: true},
		// FromSpace never mentioned: must stay untouched
	}

	require.NoError(t, h.applyRelationUpdate(context.Background(), store.tx, ur, spaceID, testLogger()))

	require.Len(t, store.updates, 1)
	u := store.updates[0]

	got, set := u.ToSpaceID.Value()
	require.True(t, set)
	assert.Equal(t, mustUUID(t, sixteen(2)), got)

	v, set := u.Verified.Value()
	require.True(t, set)
	assert.True(t, v)

	assert.True(t, u.FromSpaceID.IsUnchanged())
	assert.True(t, u.Position.IsCleared(), "cleared fields carry the cleared state")

	relID := mustUUID(t, sixteen(1))
	assert.Equal(t, []string{storage.RelationFieldPosition}, store.unsets[relID])
}

func TestApplyRelationOps_DeleteScopedToSpace(t *testing.T) {
	store := newFakeStore()
	h, _ := newHandlerWithProps(store)
	spaceID := uuid.New()

	ops := []wire.Op{
		{DeleteRelation: &wire.DeleteRelation{ID: sixteen(1)}},
		{DeleteRelation: &wire.DeleteRelation{ID: sixteen(2)}},
	}
	require.NoError(t, h.applyRelationOps(context.Background(), store.tx, ops, spaceID, testLogger()))
	assert.Equal(t, []uuid.UUID{mustUUID(t, sixteen(1)), mustUUID(t, sixteen(2))}, store.deletedRels)
	assert.Equal(t, []uuid.UUID{spaceID}, store.relSpaces, "both deletes go out in one call scoped to the edit's space")
}
