// Package resolver implements the Content Resolver service: it subscribes to
// the block stream, extracts content URIs from cacheable on-chain events,
// fetches each URI from IPFS under a bounded-concurrency semaphore, and
// writes exactly one cache row per URI; a decoded payload on success, an
// errored marker on any fetch or decode failure.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/geo-kg/indexer/common"
	"github.com/geo-kg/indexer/ids"
	"github.com/geo-kg/indexer/model"
	"github.com/geo-kg/indexer/preprocess"
	"github.com/geo-kg/indexer/stream"
	"github.com/geo-kg/indexer/wire"
)

// Fetcher is the content transport the resolver pulls URIs through.
// Implemented by IPFSClient; tests substitute fakes.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// LockRepository is the optional cross-replica single-flight guard. A nil
// repository degrades to "no locking": replicas may double-fetch, which is
// harmless because cache writes are first-write-wins on URI.
type LockRepository interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// lockTTL bounds how long an in-flight URI stays claimed when a replica
// dies mid-fetch.
const lockTTL = 2 * time.Minute

// Service implements stream.Sink for the Content Resolver.
type Service struct {
	cache     cacheWriter
	fetcher   Fetcher
	cursors   stream.CursorRepository
	locks     LockRepository
	network   string
	blocklist preprocess.Blocklist
	sem       *semaphore.Weighted
	logger    *common.ContextLogger

	// writeMu serializes cache writes so row ordering on a single pool
	// stays deterministic under the fan-out.
	writeMu sync.Mutex
}

// cacheWriter is the slice of the cache contract the resolver needs.
type cacheWriter interface {
	Has(ctx context.Context, uri string) (bool, error)
	Put(ctx context.Context, row model.CacheRow) error
}

// Config bundles the resolver's construction parameters.
type Config struct {
	Network     string
	Blocklist   preprocess.Blocklist
	Concurrency int64
}

// New wires a Content Resolver service. locks may be nil.
func New(cacheRepo cacheWriter, fetcher Fetcher, cursors stream.CursorRepository, locks LockRepository, cfg Config, logger *common.ContextLogger) *Service {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 20
	}
	return &Service{
		cache:     cacheRepo,
		fetcher:   fetcher,
		cursors:   cursors,
		locks:     locks,
		network:   cfg.Network,
		blocklist: cfg.Blocklist,
		sem:       semaphore.NewWeighted(concurrency),
		logger:    logger,
	}
}

// LoadPersistedCursor implements stream.Sink.
func (s *Service) LoadPersistedCursor(ctx context.Context) (string, bool, error) {
	c, err := s.cursors.Load(ctx, stream.ServiceContentResolver)
	if err != nil {
		if errors.Is(err, stream.ErrCursorNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return c.Cursor, true, nil
}

// ProcessBlockScopedData spawns one bounded fetch task per unique URI in the
// block, then persists the cursor once every task has been admitted. Task
// completion is not awaited before the cursor advances: on a crash mid-block
// some URIs are re-fetched by the next block that mentions them, and cache
// writes keyed on URI keep that idempotent.
func (s *Service) ProcessBlockScopedData(ctx context.Context, block *stream.BlockScopedData) error {
	log := s.logger.WithField("block_number", block.BlockNumber)

	payload, err := wire.MaybeDecompress(block.Payload)
	if err != nil {
		return fmt.Errorf("block %d: %w", block.BlockNumber, err)
	}
	geo, err := wire.DecodeGeoOutput(payload)
	if err != nil {
		return fmt.Errorf("block %d: decode output: %w", block.BlockNumber, err)
	}

	events := preprocess.CollectCacheableEvents(geo, s.blocklist)
	seen := make(map[string]struct{}, len(events))
	for _, event := range events {
		uri := event.ContentURI()
		if _, dup := seen[uri]; dup {
			continue
		}
		seen[uri] = struct{}{}

		if err := s.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		go func(event preprocess.CacheableEvent) {
			defer s.sem.Release(1)
			s.resolve(ctx, event, block.Timestamp, log)
		}(event)
	}

	if err := s.cursors.Persist(ctx, stream.ServiceContentResolver, block.Cursor, block.BlockNumber); err != nil {
		return fmt.Errorf("block %d: persist cursor: %w", block.BlockNumber, err)
	}
	return nil
}

// resolve produces the cache row for one event's URI. Failures are recorded
// as errored rows, never retried here; downstream retry lives in the
// Indexer's preprocess fetch.
func (s *Service) resolve(ctx context.Context, event preprocess.CacheableEvent, blockTimestamp string, log *common.ContextLogger) {
	uri := event.ContentURI()
	elog := log.WithFields(map[string]interface{}{
		"content_uri": uri,
		"dao_address": event.DAOAddress(),
	})

	if s.locks != nil {
		acquired, err := s.locks.AcquireLock(ctx, uri, lockTTL)
		if err != nil {
			elog.WithError(err).Warn("Lock acquire failed, fetching anyway")
		} else if !acquired {
			elog.Debug("Another replica is resolving this uri")
			return
		} else {
			defer func() {
				if err := s.locks.ReleaseLock(ctx, uri); err != nil {
					elog.WithError(err).Warn("Lock release failed")
				}
			}()
		}
	}

	exists, err := s.cache.Has(ctx, uri)
	if err != nil {
		elog.WithError(err).Error("Cache lookup failed, uri stays unresolved")
		return
	}
	if exists {
		return
	}

	row := model.CacheRow{
		URI:            uri,
		BlockTimestamp: blockTimestamp,
		SpaceID:        ids.DeriveSpaceID(s.network, event.DAOAddress()),
	}

	payload, err := s.fetchAndDecode(ctx, uri)
	if err != nil {
		elog.WithError(err).Warn("Recording errored cache row for " + event.Description())
		row.IsErrored = true
	} else {
		row.Payload = payload
	}

	s.writeMu.Lock()
	err = s.cache.Put(ctx, row)
	s.writeMu.Unlock()
	if err != nil {
		// uri stays unresolved; the next block referencing it retries
		elog.WithError(err).Error("Cache write failed")
	}
}

// fetchAndDecode pulls the URI from IPFS and decodes it as an Edit, returning
// the JSON form persisted in the cache row.
func (s *Service) fetchAndDecode(ctx context.Context, uri string) ([]byte, error) {
	raw, err := s.fetcher.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}

	raw, err = wire.MaybeDecompress(raw)
	if err != nil {
		return nil, err
	}

	edit, err := wire.DecodeEdit(raw)
	if err != nil {
		return nil, fmt.Errorf("decode edit %s: %w", uri, err)
	}

	payload, err := json.Marshal(edit)
	if err != nil {
		return nil, fmt.Errorf("encode edit %s: %w", uri, err)
	}
	return payload, nil
}
