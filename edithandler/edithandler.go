// Package edithandler applies preprocessed edits to storage. Each edit runs
// in its own transaction with a fixed internal order (properties, entities,
// value SETs, value UNSETs, relations) so that a failure anywhere rolls the
// whole edit back without touching its neighbours.
package edithandler

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/geo-kg/indexer/common"
	"github.com/geo-kg/indexer/ids"
	"github.com/geo-kg/indexer/model"
	"github.com/geo-kg/indexer/preprocess"
	"github.com/geo-kg/indexer/properties"
	"github.com/geo-kg/indexer/storage"
	"github.com/geo-kg/indexer/wire"
)

// Handler processes the edits of one block sequentially.
type Handler struct {
	store   storage.Store
	props   *properties.Cache
	network string
	logger  *common.ContextLogger
}

// New creates an edit handler writing through store and consulting (and
// extending) the shared properties cache.
func New(store storage.Store, props *properties.Cache, network string, logger *common.ContextLogger) *Handler {
	return &Handler{store: store, props: props, network: network, logger: logger}
}

// HandleBlock applies every published edit of the block, one transaction per
// edit. A failed edit is logged and skipped; it never fails the block.
func (h *Handler) HandleBlock(ctx context.Context, decoded *preprocess.BlockDecoded) error {
	log := h.logger.WithField("block_number", decoded.Block.Number)

	for _, pe := range decoded.PublishedEdits {
		elog := log.WithFields(map[string]interface{}{
			"content_uri": pe.Event.ContentURI,
			"dao_address": pe.Event.DAOAddress,
		})

		if pe.Row == nil {
			elog.Warn("Skipping edit with no cache row")
			continue
		}
		if pe.Row.IsErrored || pe.Edit == nil {
			elog.Warn("Skipping errored edit")
			continue
		}

		spaceID := ids.DeriveSpaceID(h.network, pe.Event.DAOAddress)
		if err := h.applyEdit(ctx, pe.Edit, spaceID, decoded.Block, elog); err != nil {
			elog.WithError(err).Error("Edit failed, rolled back")
			continue
		}
	}
	return nil
}

// applyEdit runs the per-edit sub-pipeline inside one transaction.
func (h *Handler) applyEdit(ctx context.Context, edit *wire.Edit, spaceID uuid.UUID, block preprocess.BlockMeta, log *common.ContextLogger) error {
	tx, err := h.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin edit transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Properties first: later value validation depends on the types this
	// edit declares.
	props := squashProperties(edit.Ops, log)
	for _, p := range props {
		h.props.Set(p.ID, p.DataType)
	}
	if err := h.store.InsertProperties(ctx, tx, props); err != nil {
		return err
	}

	entities := collectEntities(edit.Ops, block, log)
	if err := h.store.InsertEntities(ctx, tx, entities); err != nil {
		return err
	}

	sets, unsets := h.collectValueOps(edit.Ops, spaceID, log)
	if err := h.store.InsertValues(ctx, tx, sets); err != nil {
		return err
	}
	if err := h.store.DeleteValues(ctx, tx, spaceID, unsets); err != nil {
		return err
	}

	if err := h.applyRelationOps(ctx, tx, edit.Ops, spaceID, log); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit edit: %w", err)
	}
	return nil
}

// squashProperties extracts every CreateProperty op and squashes by id: when
// the same property id appears more than once within one edit, the last
// occurrence's data type wins. First-mention order of distinct ids is kept so
// the result is deterministic.
func squashProperties(ops []wire.Op, log *common.ContextLogger) []model.Property {
	index := make(map[uuid.UUID]int)
	var squashed []model.Property

	for _, op := range ops {
		cp := op.CreateProperty
		if cp == nil {
			continue
		}
		id, ok := ids.EditIDFromBytes(cp.ID)
		if !ok {
			log.WithField("id_length", len(cp.ID)).Warn("Dropping create property with invalid id")
			continue
		}
		dt := dataTypeFromWire(cp.DataType)

		if i, seen := index[id]; seen {
			squashed[i].DataType = dt
			continue
		}
		index[id] = len(squashed)
		squashed = append(squashed, model.Property{ID: id, DataType: dt})
	}
	return squashed
}

// collectEntities gathers every entity id mentioned by UpdateEntity or
// UnsetEntityValues ops, deduplicated, stamped with the block clock.
func collectEntities(ops []wire.Op, block preprocess.BlockMeta, log *common.ContextLogger) []model.Entity {
	seen := make(map[uuid.UUID]struct{})
	var entities []model.Entity

	add := func(raw []byte) {
		id, ok := ids.EditIDFromBytes(raw)
		if !ok {
			log.WithField("id_length", len(raw)).Warn("Dropping entity mention with invalid id")
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		entities = append(entities, model.Entity{
			ID:             id,
			CreatedAt:      block.Timestamp,
			CreatedAtBlock: block.Number,
			UpdatedAt:      block.Timestamp,
			UpdatedAtBlock: block.Number,
		})
	}

	for _, op := range ops {
		if op.UpdateEntity != nil {
			add(op.UpdateEntity.ID)
		}
		if op.UnsetEntityValues != nil {
			add(op.UnsetEntityValues.ID)
		}
	}
	return entities
}

// materializeValueOps flattens UpdateEntity and UnsetEntityValues ops into
// the ordered SET/UNSET stream collectValueOps folds over. Ops with invalid
// ids are dropped with a log line.
func materializeValueOps(ops []wire.Op, spaceID uuid.UUID, log *common.ContextLogger) []model.ValueOp {
	var vops []model.ValueOp

	for _, op := range ops {
		switch {
		case op.UpdateEntity != nil:
			entityID, ok := ids.EditIDFromBytes(op.UpdateEntity.ID)
			if !ok {
				continue
			}
			for _, v := range op.UpdateEntity.Values {
				propertyID, ok := ids.EditIDFromBytes(v.Property)
				if !ok {
					log.WithField("entity_id", entityID).Warn("Dropping value with invalid property id")
					continue
				}
				vops = append(vops, model.ValueOp{
					ChangeType: model.ValueChangeSet,
					EntityID:   entityID,
					PropertyID: propertyID,
					SpaceID:    spaceID,
					Raw:        v.Value,
					Language:   v.Language,
					Unit:       v.Unit,
				})
			}

		case op.UnsetEntityValues != nil:
			entityID, ok := ids.EditIDFromBytes(op.UnsetEntityValues.ID)
			if !ok {
				continue
			}
			for _, rawProp := range op.UnsetEntityValues.Properties {
				propertyID, ok := ids.EditIDFromBytes(rawProp)
				if !ok {
					continue
				}
				vops = append(vops, model.ValueOp{
					ChangeType: model.ValueChangeUnset,
					EntityID:   entityID,
					PropertyID: propertyID,
					SpaceID:    spaceID,
				})
			}
		}
	}
	return vops
}

// collectValueOps folds the edit's value-op stream in order into SET rows
// and UNSET refs. A SET followed by an UNSET of the same triple within the
// edit cancels to nothing; the reverse order leaves the SET standing.
func (h *Handler) collectValueOps(ops []wire.Op, spaceID uuid.UUID, log *common.ContextLogger) ([]model.Value, []storage.ValueRef) {
	setIndex := make(map[uuid.UUID]int) // value id → position in sets
	var sets []model.Value
	unsetIndex := make(map[uuid.UUID]int)
	var unsets []storage.ValueRef

	for _, vop := range materializeValueOps(ops, spaceID, log) {
		valueID := ids.ValueID(vop.PropertyID, vop.EntityID, vop.SpaceID)

		switch vop.ChangeType {
		case model.ValueChangeSet:
			value, ok := h.buildValue(vop, log)
			if !ok {
				continue
			}

			// a later SET overrides an earlier one, and revives a triple
			// unset earlier in the same edit
			if i, dup := setIndex[valueID]; dup {
				sets[i] = value
			} else {
				setIndex[valueID] = len(sets)
				sets = append(sets, value)
			}
			if i, wasUnset := unsetIndex[valueID]; wasUnset {
				unsets = append(unsets[:i], unsets[i+1:]...)
				delete(unsetIndex, valueID)
				for id, j := range unsetIndex {
					if j > i {
						unsetIndex[id] = j - 1
					}
				}
			}

		case model.ValueChangeUnset:
			// UNSET cancels a SET from earlier in the same edit
			if i, wasSet := setIndex[valueID]; wasSet {
				sets = append(sets[:i], sets[i+1:]...)
				delete(setIndex, valueID)
				for id, j := range setIndex {
					if j > i {
						setIndex[id] = j - 1
					}
				}
			}
			if _, dup := unsetIndex[valueID]; !dup {
				unsetIndex[valueID] = len(unsets)
				unsets = append(unsets, storage.ValueRef{EntityID: vop.EntityID, PropertyID: vop.PropertyID})
			}
		}
	}
	return sets, unsets
}

// buildValue validates a SET op's raw string against the property's declared
// data type and populates the matching typed column. Values for properties
// unknown to the cache pass through as strings; values that fail validation
// are dropped with a log line.
func (h *Handler) buildValue(vop model.ValueOp, log *common.ContextLogger) (model.Value, bool) {
	value := model.Value{
		ID:         ids.ValueID(vop.PropertyID, vop.EntityID, vop.SpaceID),
		PropertyID: vop.PropertyID,
		EntityID:   vop.EntityID,
		SpaceID:    vop.SpaceID,
	}
	if vop.Language != "" {
		value.Language = &vop.Language
	}
	if vop.Unit != "" {
		value.Unit = &vop.Unit
	}

	dataType, known := h.props.Get(vop.PropertyID)
	if !known {
		// unknown property: accept the raw string as-is
		raw := vop.Raw
		value.String = &raw
		return value, true
	}

	switch dataType {
	case model.DataTypeString:
		raw := vop.Raw
		value.String = &raw
	case model.DataTypeNumber:
		n, ok := ParseNumber(vop.Raw)
		if !ok {
			log.WithFields(map[string]interface{}{
				"property_id": vop.PropertyID,
				"entity_id":   vop.EntityID,
			}).Warn("Dropping value that is not a valid number")
			return model.Value{}, false
		}
		value.Number = &n
	case model.DataTypeBoolean:
		b, ok := ParseBoolean(vop.Raw)
		if !ok {
			log.WithFields(map[string]interface{}{
				"property_id": vop.PropertyID,
				"entity_id":   vop.EntityID,
			}).Warn("Dropping value that is not a valid boolean")
			return model.Value{}, false
		}
		value.Boolean = &b
	case model.DataTypeTime:
		t, ok := ParseTime(vop.Raw)
		if !ok {
			log.WithFields(map[string]interface{}{
				"property_id": vop.PropertyID,
				"entity_id":   vop.EntityID,
			}).Warn("Dropping value that is not a valid timestamp")
			return model.Value{}, false
		}
		value.Time = &t
	case model.DataTypePoint:
		p, ok := ParsePoint(vop.Raw)
		if !ok {
			log.WithFields(map[string]interface{}{
				"property_id": vop.PropertyID,
				"entity_id":   vop.EntityID,
			}).Warn("Dropping value that is not a valid point")
			return model.Value{}, false
		}
		value.Point = &p
	case model.DataTypeRelation:
		// relations are not representable as values; relation ops carry them
		log.WithField("property_id", vop.PropertyID).Warn("Dropping value for relation-typed property")
		return model.Value{}, false
	default:
		return model.Value{}, false
	}
	return value, true
}

// applyRelationOps walks relation ops in order: creates insert, updates apply
// present fields and clear sentinel-absent ones, deletes remove by id scoped
// to the edit's space.
func (h *Handler) applyRelationOps(ctx context.Context, tx storage.Tx, ops []wire.Op, spaceID uuid.UUID, log *common.ContextLogger) error {
	var creates []model.Relation
	var deletes []uuid.UUID

	flushCreates := func() error {
		if len(creates) == 0 {
			return nil
		}
		if err := h.store.InsertRelations(ctx, tx, creates); err != nil {
			return err
		}
		creates = creates[:0]
		return nil
	}
	flushDeletes := func() error {
		if len(deletes) == 0 {
			return nil
		}
		if err := h.store.DeleteRelations(ctx, tx, spaceID, deletes); err != nil {
			return err
		}
		deletes = deletes[:0]
		return nil
	}

	for _, op := range ops {
		switch {
		case op.CreateRelation != nil:
			if err := flushDeletes(); err != nil {
				return err
			}
			rel, ok := buildRelation(op.CreateRelation, spaceID, log)
			if !ok {
				continue
			}
			creates = append(creates, rel)

		case op.UpdateRelation != nil:
			if err := flushCreates(); err != nil {
				return err
			}
			if err := flushDeletes(); err != nil {
				return err
			}
			if err := h.applyRelationUpdate(ctx, tx, op.UpdateRelation, spaceID, log); err != nil {
				return err
			}

		case op.DeleteRelation != nil:
			if err := flushCreates(); err != nil {
				return err
			}
			id, ok := ids.EditIDFromBytes(op.DeleteRelation.ID)
			if !ok {
				log.Warn("Dropping delete relation with invalid id")
				continue
			}
			deletes = append(deletes, id)
		}
	}

	if err := flushCreates(); err != nil {
		return err
	}
	return flushDeletes()
}

func buildRelation(cr *wire.CreateRelation, spaceID uuid.UUID, log *common.ContextLogger) (model.Relation, bool) {
	id, ok := ids.EditIDFromBytes(cr.ID)
	if !ok {
		log.Warn("Dropping create relation with invalid id")
		return model.Relation{}, false
	}
	typeID, ok := ids.EditIDFromBytes(cr.Type)
	if !ok {
		log.WithField("relation_id", id).Warn("Dropping create relation with invalid type id")
		return model.Relation{}, false
	}
	fromID, ok := ids.EditIDFromBytes(cr.FromEntity)
	if !ok {
		log.WithField("relation_id", id).Warn("Dropping create relation with invalid from entity")
		return model.Relation{}, false
	}
	toID, ok := ids.EditIDFromBytes(cr.ToEntity)
	if !ok {
		log.WithField("relation_id", id).Warn("Dropping create relation with invalid to entity")
		return model.Relation{}, false
	}

	rel := model.Relation{
		ID:           id,
		EntityID:     id,
		TypeID:       typeID,
		FromEntityID: fromID,
		ToEntityID:   toID,
		SpaceID:      spaceID,
	}
	if u, ok := ids.EditIDFromBytes(cr.FromSpace); ok {
		rel.FromSpaceID = &u
	}
	if u, ok := ids.EditIDFromBytes(cr.ToSpace); ok {
		rel.ToSpaceID = &u
	}
	if u, ok := ids.EditIDFromBytes(cr.FromVersion); ok {
		rel.FromVersionID = &u
	}
	if u, ok := ids.EditIDFromBytes(cr.ToVersion); ok {
		rel.ToVersionID = &u
	}
	if cr.Position != "" {
		pos := cr.Position
		rel.Position = &pos
	}
	if cr.HasVerified {
		v := cr.Verified
		rel.Verified = &v
	}
	return rel, true
}

// applyRelationUpdate splits an UpdateRelation into its set half and its
// clear half: present fields with values update, present fields flagged
// clear are nulled out.
func (h *Handler) applyRelationUpdate(ctx context.Context, tx storage.Tx, ur *wire.UpdateRelation, spaceID uuid.UUID, log *common.ContextLogger) error {
	id, ok := ids.EditIDFromBytes(ur.ID)
	if !ok {
		log.Warn("Dropping update relation with invalid id")
		return nil
	}

	update := model.RelationUpdate{ID: id}

	resolveUUID := func(opt wire.OptionalBytes) model.OptionalField[uuid.UUID] {
		if !opt.Present {
			return model.Unchanged[uuid.UUID]()
		}
		if opt.Clear {
			return model.Cleared[uuid.UUID]()
		}
		if u, ok := ids.EditIDFromBytes(opt.Value); ok {
			return model.SetField(u)
		}
		log.WithField("relation_id", id).Warn("Ignoring relation update field with invalid id")
		return model.Unchanged[uuid.UUID]()
	}

	update.FromSpaceID = resolveUUID(ur.FromSpace)
	update.ToSpaceID = resolveUUID(ur.ToSpace)
	update.FromVersionID = resolveUUID(ur.FromVersion)
	update.ToVersionID = resolveUUID(ur.ToVersion)

	if ur.Position.Present {
		if ur.Position.Clear {
			update.Position = model.Cleared[string]()
		} else {
			update.Position = model.SetField(ur.Position.Value)
		}
	}
	if ur.Verified.Present {
		if ur.Verified.Clear {
			update.Verified = model.Cleared[bool]()
		} else {
			update.Verified = model.SetField(ur.Verified.Value)
		}
	}

	if err := h.store.UpdateRelation(ctx, tx, spaceID, update); err != nil {
		return err
	}
	return h.store.UnsetRelationFields(ctx, tx, spaceID, id, clearedColumns(update))
}

// clearedColumns maps the update's Cleared fields to their column names for
// UnsetRelationFields.
func clearedColumns(u model.RelationUpdate) []string {
	var cols []string
	if u.FromSpaceID.IsCleared() {
		cols = append(cols, storage.RelationFieldFromSpace)
	}
	if u.ToSpaceID.IsCleared() {
		cols = append(cols, storage.RelationFieldToSpace)
	}
	if u.FromVersionID.IsCleared() {
		cols = append(cols, storage.RelationFieldFromVersion)
	}
	if u.ToVersionID.IsCleared() {
		cols = append(cols, storage.RelationFieldToVersion)
	}
	if u.Position.IsCleared() {
		cols = append(cols, storage.RelationFieldPosition)
	}
	if u.Verified.IsCleared() {
		cols = append(cols, storage.RelationFieldVerified)
	}
	return cols
}

func dataTypeFromWire(dt wire.DataType) model.DataType {
	switch dt {
	case wire.DataTypeNumber:
		return model.DataTypeNumber
	case wire.DataTypeBoolean:
		return model.DataTypeBoolean
	case wire.DataTypeTime:
		return model.DataTypeTime
	case wire.DataTypePoint:
		return model.DataTypePoint
	case wire.DataTypeRelation:
		return model.DataTypeRelation
	default:
		return model.DataTypeString
	}
}
