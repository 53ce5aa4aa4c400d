// Package main is the Indexer entrypoint: it subscribes to the block stream
// independently of the Content Resolver, preprocesses each block against the
// shared content cache, and materializes spaces, entities, properties,
// values, relations, memberships, subspaces, and proposals into the
// relational store with per-block atomicity.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	ipfscache "github.com/geo-kg/indexer/cache"
	"github.com/geo-kg/indexer/common"
	"github.com/geo-kg/indexer/config"
	"github.com/geo-kg/indexer/db"
	"github.com/geo-kg/indexer/handlers"
	"github.com/geo-kg/indexer/indexer"
	"github.com/geo-kg/indexer/preprocess"
	"github.com/geo-kg/indexer/properties"
	"github.com/geo-kg/indexer/storage"
	"github.com/geo-kg/indexer/stream"
)

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "materializes knowledge-graph state from the block stream",
	Long: `Indexer

Subscribes to the substream block feed and, block by block, filters
blocklisted DAOs, batch-fetches cache rows for every referenced content URI,
matches newly created spaces to their plugins, correlates PublishEdit
proposals with their cached edits, and fans out the typed mutations to the
transactional storage layer. The cursor advances only after a block fully
commits, so replays after a crash are idempotent.

Configuration is environment-driven:
  DATABASE_URL              indexer storage and shared cache (required)
  SUBSTREAMS_ENDPOINT       block stream provider (required)
  DATABASE_MAX_CONNECTIONS  pool bound (default 20)
  DAO_BLOCKLIST             comma-separated DAO addresses to drop`,
	Run: runIndexer,
}

func init() {
	viper.AutomaticEnv()
}

func runIndexer(cmd *cobra.Command, args []string) {
	logger := common.ServiceLogger("indexer", "")

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Initialization failed: %v", r)
			os.Exit(1)
		}
	}()

	cfg := config.LoadIndexerConfig()
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	common.Logger.SetLevel(common.ParseLevel(cfg.LogLevel))

	// Bound the pool by DATABASE_MAX_CONNECTIONS unless the DSN already sets it.
	dsn := cfg.DatabaseURL
	if !strings.Contains(dsn, "pool_max_conns") {
		sep := " "
		if strings.Contains(dsn, "://") {
			sep = "&"
			if !strings.Contains(dsn, "?") {
				sep = "?"
			}
		}
		dsn += fmt.Sprintf("%spool_max_conns=%d", sep, cfg.MaxConnections)
	}
	database, err := db.NewPostgresDB(dsn)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer database.Close()

	source, err := stream.DialSubstream(cfg.SubstreamsEndpoint)
	if err != nil {
		logger.WithError(err).Fatal("Failed to dial substream endpoint")
	}
	defer source.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store := storage.NewPostgres(database)
	props := properties.New()
	if err := indexer.Hydrate(ctx, props, store, logger); err != nil {
		logger.WithError(err).Fatal("Failed to hydrate properties cache")
	}

	blocklist := preprocess.NewBlocklist(cfg.Blocklist)
	service := indexer.New(
		preprocess.New(ipfscache.NewPostgres(database), cfg.Network, blocklist, logger),
		handlers.NewBlockHandler(store, props, cfg.Network, logger),
		stream.NewPostgresCursors(database),
		logger,
	)

	logger.Info("Indexer starting")
	if err := stream.Run(ctx, source, service, logger); err != nil && ctx.Err() == nil {
		logger.WithError(err).Fatal("Stream terminated")
	}
	logger.Info("Indexer stopped")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
