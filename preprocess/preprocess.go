// Package preprocess turns a raw decoded block into a typed BlockDecoded
// bundle ready for handler fan-out: blocklist filtering, content-cache
// fetching with retry, space↔plugin matching, initial-member derivation, and
// proposal↔edit correlation all happen here, before any transaction opens.
package preprocess

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/geo-kg/indexer/cache"
	"github.com/geo-kg/indexer/common"
	"github.com/geo-kg/indexer/ids"
	"github.com/geo-kg/indexer/model"
	"github.com/geo-kg/indexer/wire"
)

// BlockMeta carries the clock fields every handler stamps its writes with.
type BlockMeta struct {
	Number    uint64
	Timestamp time.Time
}

// Blocklist is a static set of DAO addresses whose events are dropped before
// any processing. Lookup is case-insensitive.
type Blocklist map[string]struct{}

// NewBlocklist builds a blocklist from raw address strings.
func NewBlocklist(addresses []string) Blocklist {
	bl := make(Blocklist, len(addresses))
	for _, a := range addresses {
		bl[strings.ToLower(a)] = struct{}{}
	}
	return bl
}

// Contains reports whether the DAO address is blocklisted.
func (bl Blocklist) Contains(daoAddress string) bool {
	_, ok := bl[strings.ToLower(daoAddress)]
	return ok
}

// CacheableEvent is the capability set shared by the two content-bearing
// event kinds. The Resolver ranges over these (see CollectCacheableEvents)
// without caring which concrete event carried the URI.
type CacheableEvent interface {
	ContentURI() string
	DAOAddress() string
	Description() string
}

// PublishedEditEvent adapts wire.EditPublished.
type PublishedEditEvent struct{ wire.EditPublished }

func (e PublishedEditEvent) ContentURI() string  { return e.EditPublished.ContentURI }
func (e PublishedEditEvent) DAOAddress() string  { return e.EditPublished.DAOAddress }
func (e PublishedEditEvent) Description() string { return "edit published" }

// EditProposalEvent adapts wire.PublishEditProposalCreated.
type EditProposalEvent struct {
	wire.PublishEditProposalCreated
}

func (e EditProposalEvent) ContentURI() string  { return e.PublishEditProposalCreated.ContentURI }
func (e EditProposalEvent) DAOAddress() string  { return e.PublishEditProposalCreated.DAOAddress }
func (e EditProposalEvent) Description() string { return "publish edit proposal" }

// CollectCacheableEvents gathers every content-bearing event of a block in
// on-chain order, dropping blocklisted DAOs. Shared by the Resolver (which
// fetches the URIs) and tests.
func CollectCacheableEvents(geo *wire.GeoOutput, blocklist Blocklist) []CacheableEvent {
	events := make([]CacheableEvent, 0, len(geo.EditsPublished)+len(geo.Edits))
	for _, e := range geo.EditsPublished {
		if blocklist.Contains(e.DAOAddress) {
			continue
		}
		events = append(events, PublishedEditEvent{e})
	}
	for _, e := range geo.Edits {
		if blocklist.Contains(e.DAOAddress) {
			continue
		}
		events = append(events, EditProposalEvent{e})
	}
	return events
}

// PublishedEdit pairs an EditPublished event with its cache row and the
// decoded payload. Row is nil when the fetch never succeeded; Edit is nil
// when the row is errored or the payload failed to decode.
type PublishedEdit struct {
	Event wire.EditPublished
	Row   *model.CacheRow
	Edit  *wire.Edit
}

// EditProposal pairs a PublishEdit proposal with its cache row and, when the
// cached payload carries a usable 16-byte id, the edit's UUID.
type EditProposal struct {
	Event  wire.PublishEditProposalCreated
	Row    *model.CacheRow
	EditID *uuid.UUID
}

// GovernanceProposal tags a governance proposal event with its proposal type.
type GovernanceProposal struct {
	Event wire.GovernanceProposalEvent
	Type  model.ProposalType
}

// BlockDecoded is the typed bundle the four category handlers consume.
// Event order within each slice matches the on-chain order of the block.
type BlockDecoded struct {
	Block BlockMeta

	Spaces          []model.Space
	SpacesUnmatched int

	PublishedEdits []PublishedEdit
	EditProposals  []EditProposal

	EditorsAdded     []wire.EditorAdded
	EditorsRemoved   []wire.EditorRemoved
	MembersAdded     []wire.MemberAdded
	MembersRemoved   []wire.MemberRemoved
	SubspacesAdded   []wire.SubspaceAdded
	SubspacesRemoved []wire.SubspaceRemoved

	ExecutedProposals   []wire.ProposalExecuted
	GovernanceProposals []GovernanceProposal
}

// Preprocessor builds BlockDecoded values. Safe for reuse across blocks.
type Preprocessor struct {
	cache     cache.Repository
	network   string
	blocklist Blocklist
	logger    *common.ContextLogger

	// retry schedule for cache fetches; overridable in tests
	retryBase     time.Duration
	retryMax      time.Duration
	retryAttempts int
}

// New creates a Preprocessor over the given cache repository.
func New(repo cache.Repository, network string, blocklist Blocklist, logger *common.ContextLogger) *Preprocessor {
	return &Preprocessor{
		cache:         repo,
		network:       network,
		blocklist:     blocklist,
		logger:        logger,
		retryBase:     10 * time.Millisecond,
		retryMax:      5 * time.Second,
		retryAttempts: 8,
	}
}

// Process transforms one block's GeoOutput into a BlockDecoded.
func (p *Preprocessor) Process(ctx context.Context, geo *wire.GeoOutput, block BlockMeta) (*BlockDecoded, error) {
	decoded := &BlockDecoded{Block: block}
	log := p.logger.WithField("block_number", block.Number)

	// Blocklist filter is a hard skip: such edits and their proposals are
	// never indexed.
	published := make([]wire.EditPublished, 0, len(geo.EditsPublished))
	for _, e := range geo.EditsPublished {
		if p.blocklist.Contains(e.DAOAddress) {
			log.WithField("dao_address", e.DAOAddress).Debug("Dropping blocklisted edit")
			continue
		}
		published = append(published, e)
	}
	proposals := make([]wire.PublishEditProposalCreated, 0, len(geo.Edits))
	for _, e := range geo.Edits {
		if p.blocklist.Contains(e.DAOAddress) {
			log.WithField("dao_address", e.DAOAddress).Debug("Dropping blocklisted edit proposal")
			continue
		}
		proposals = append(proposals, e)
	}

	// Collect and deduplicate every content URI the block mentions, fetch
	// each exactly once, then re-walk the original event lists to reattach
	// rows by URI. Output order stays deterministic regardless of fetch
	// completion order.
	uris := make([]string, 0, len(published)+len(proposals))
	seen := make(map[string]struct{})
	for _, e := range published {
		if _, ok := seen[e.ContentURI]; !ok {
			seen[e.ContentURI] = struct{}{}
			uris = append(uris, e.ContentURI)
		}
	}
	for _, e := range proposals {
		if _, ok := seen[e.ContentURI]; !ok {
			seen[e.ContentURI] = struct{}{}
			uris = append(uris, e.ContentURI)
		}
	}

	rows, err := p.fetchAll(ctx, uris, log)
	if err != nil {
		return nil, err
	}

	for _, e := range published {
		pe := PublishedEdit{Event: e}
		if row, ok := rows[e.ContentURI]; ok {
			pe.Row = &row
			pe.Edit = decodePayload(&row, log)
		} else {
			log.WithField("content_uri", e.ContentURI).Warn("No cache row for published edit")
		}
		decoded.PublishedEdits = append(decoded.PublishedEdits, pe)
	}

	for _, e := range proposals {
		ep := EditProposal{Event: e}
		if row, ok := rows[e.ContentURI]; ok {
			ep.Row = &row
			if edit := decodePayload(&row, log); edit != nil {
				if id, ok := ids.EditIDFromBytes(edit.ID); ok {
					ep.EditID = &id
				}
			}
		}
		decoded.EditProposals = append(decoded.EditProposals, ep)
	}

	p.matchSpaces(geo, decoded, log)
	p.deriveInitialMembers(geo, decoded)

	decoded.EditorsAdded = geo.EditorsAdded
	decoded.EditorsRemoved = geo.EditorsRemoved
	decoded.MembersRemoved = geo.MembersRemoved
	decoded.SubspacesAdded = geo.SubspacesAdded
	decoded.SubspacesRemoved = geo.SubspacesRemoved
	decoded.ExecutedProposals = geo.ExecutedProposals

	appendGovernance := func(events []wire.GovernanceProposalEvent, t model.ProposalType) {
		for _, e := range events {
			decoded.GovernanceProposals = append(decoded.GovernanceProposals, GovernanceProposal{Event: e, Type: t})
		}
	}
	appendGovernance(geo.ProposedAddedMembers, model.ProposalTypeAddMember)
	appendGovernance(geo.ProposedRemovedMembers, model.ProposalTypeRemoveMember)
	appendGovernance(geo.ProposedAddedEditors, model.ProposalTypeAddEditor)
	appendGovernance(geo.ProposedRemovedEditors, model.ProposalTypeRemoveEditor)
	appendGovernance(geo.ProposedAddedSubspaces, model.ProposalTypeAddSubspace)
	appendGovernance(geo.ProposedRemovedSubspaces, model.ProposalTypeRemoveSubspace)

	return decoded, nil
}

// fetchAll resolves each unique URI against the cache concurrently, retrying
// with exponential backoff and jitter. URIs that never resolve are dropped
// from the result; the caller treats a miss as informational.
func (p *Preprocessor) fetchAll(ctx context.Context, uris []string, log *common.ContextLogger) (map[string]model.CacheRow, error) {
	rows := make(map[string]model.CacheRow, len(uris))
	if len(uris) == 0 {
		return rows, nil
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for _, uri := range uris {
		g.Go(func() error {
			row, err := p.fetchWithRetry(ctx, uri)
			if err != nil {
				log.WithError(err).WithField("content_uri", uri).Warn("Cache fetch failed after retries")
				return nil // miss is not fatal for the block
			}
			mu.Lock()
			rows[uri] = *row
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (p *Preprocessor) fetchWithRetry(ctx context.Context, uri string) (*model.CacheRow, error) {
	delay := p.retryBase
	var lastErr error

	for attempt := 0; attempt < p.retryAttempts; attempt++ {
		if attempt > 0 {
			// full jitter on the current backoff step
			sleep := time.Duration(rand.Int63n(int64(delay)) + 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sleep):
			}
			delay *= 2
			if delay > p.retryMax {
				delay = p.retryMax
			}
		}

		row, err := p.cache.Get(ctx, uri)
		if err == nil {
			return row, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// matchSpaces pairs each created space with its plugin: a governance plugin
// for the same DAO yields a Public space, a personal-admin plugin yields a
// Personal one. Governance strictly wins when both are present. A space with
// no matching plugin yet is skipped; the plugin may arrive in a later block.
func (p *Preprocessor) matchSpaces(geo *wire.GeoOutput, decoded *BlockDecoded, log *common.ContextLogger) {
	governance := make(map[string]wire.GeoGovernancePluginCreated, len(geo.GovernancePluginsCreated))
	for _, g := range geo.GovernancePluginsCreated {
		governance[strings.ToLower(g.DAOAddress)] = g
	}
	personal := make(map[string]wire.GeoPersonalSpaceAdminPluginCreated, len(geo.PersonalPluginsCreated))
	for _, pp := range geo.PersonalPluginsCreated {
		personal[strings.ToLower(pp.DAOAddress)] = pp
	}

	for _, created := range geo.SpacesCreated {
		key := strings.ToLower(created.DAOAddress)
		space := model.Space{
			ID:           ids.DeriveSpaceID(p.network, created.DAOAddress),
			DAOAddress:   ids.ChecksumAddress(created.DAOAddress),
			SpaceAddress: created.SpaceAddress,
		}

		if g, ok := governance[key]; ok {
			space.Variant = model.SpaceVariantPublic
			space.GovernancePluginAddress = g.MainVotingAddress
			space.MembershipPluginAddress = g.MemberAccessAddress
			decoded.Spaces = append(decoded.Spaces, space)
			continue
		}
		if pp, ok := personal[key]; ok {
			space.Variant = model.SpaceVariantPersonal
			space.PersonalPluginAddress = pp.PersonalAdminAddress
			decoded.Spaces = append(decoded.Spaces, space)
			continue
		}

		decoded.SpacesUnmatched++
		log.WithField("dao_address", created.DAOAddress).Debug("Created space has no plugin yet, skipping")
	}
}

// deriveInitialMembers promotes editors of spaces created in this block to
// members of the same space: an editor of a brand-new space is an initial
// member even when no explicit MemberAdded event exists.
func (p *Preprocessor) deriveInitialMembers(geo *wire.GeoOutput, decoded *BlockDecoded) {
	createdDAOs := make(map[string]struct{}, len(geo.SpacesCreated))
	for _, s := range geo.SpacesCreated {
		createdDAOs[strings.ToLower(s.DAOAddress)] = struct{}{}
	}

	decoded.MembersAdded = append(decoded.MembersAdded, geo.MembersAdded...)
	for _, e := range geo.EditorsAdded {
		if _, ok := createdDAOs[strings.ToLower(e.DAOAddress)]; ok {
			decoded.MembersAdded = append(decoded.MembersAdded, wire.MemberAdded{
				DAOAddress:              e.DAOAddress,
				MemberAddress:           e.EditorAddress,
				MainVotingPluginAddress: e.MainVotingPluginAddress,
				ChangeType:              e.ChangeType,
			})
		}
	}
}

// decodePayload unmarshals a cache row's JSON payload back into a wire.Edit.
// Errored rows and malformed payloads yield nil.
func decodePayload(row *model.CacheRow, log *common.ContextLogger) *wire.Edit {
	if row.IsErrored || len(row.Payload) == 0 {
		return nil
	}
	var edit wire.Edit
	if err := json.Unmarshal(row.Payload, &edit); err != nil {
		log.WithError(err).WithField("content_uri", row.URI).Warn("Cached payload failed to decode")
		return nil
	}
	return &edit
}
