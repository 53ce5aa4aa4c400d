// Package main is the Content Resolver entrypoint: it subscribes to the
// block stream, resolves every referenced content URI through the IPFS
// gateway, and materializes the shared content cache. Configuration is
// entirely environment-driven; the process exits non-zero when a required
// variable is missing or a backing service is unreachable at startup.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/geo-kg/indexer/common"
	"github.com/geo-kg/indexer/config"
	"github.com/geo-kg/indexer/db"
	"github.com/geo-kg/indexer/db/repository"
	"github.com/geo-kg/indexer/preprocess"
	"github.com/geo-kg/indexer/resolver"
	"github.com/geo-kg/indexer/stream"

	ipfscache "github.com/geo-kg/indexer/cache"
)

var rootCmd = &cobra.Command{
	Use:   "content-resolver",
	Short: "resolves on-chain content URIs into the shared IPFS cache",
	Long: `Content Resolver

Subscribes to the substream block feed, extracts content URIs from
EditPublished and PublishEditProposalCreated events, fetches each URI from
the configured IPFS gateway under bounded concurrency, and writes one cache
row per URI - a decoded edit payload on success, an errored marker on any
fetch or decode failure.

Configuration is environment-driven:
  DATABASE_URL          shared cache database (required)
  SUBSTREAMS_ENDPOINT   block stream provider (required)
  IPFS_GATEWAY          content gateway base URL (required)
  REDIS_URL             optional cross-replica fetch lock
  RESOLVER_CONCURRENCY  bounded fetch fan-out (default 20)
  DAO_BLOCKLIST         comma-separated DAO addresses to drop`,
	Run: runResolver,
}

func init() {
	viper.AutomaticEnv()
}

func runResolver(cmd *cobra.Command, args []string) {
	logger := common.ServiceLogger("content-resolver", "")

	// Required-var panics from config loading become a clean fatal exit.
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Initialization failed: %v", r)
			os.Exit(1)
		}
	}()

	cfg := config.LoadResolverConfig()
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	common.Logger.SetLevel(common.ParseLevel(cfg.LogLevel))

	database, err := db.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer database.Close()

	var locks resolver.LockRepository
	if cfg.RedisURL != "" {
		redisRepo, err := repository.NewRedisRepository(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisRepo.Close()
		locks = redisRepo
	}

	source, err := stream.DialSubstream(cfg.SubstreamsEndpoint)
	if err != nil {
		logger.WithError(err).Fatal("Failed to dial substream endpoint")
	}
	defer source.Close()

	service := resolver.New(
		ipfscache.NewPostgres(database),
		resolver.NewIPFSClient(cfg.IPFSGateway, cfg.FetchTimeout),
		stream.NewPostgresCursors(database),
		locks,
		resolver.Config{
			Network:     cfg.Network,
			Blocklist:   preprocess.NewBlocklist(cfg.Blocklist),
			Concurrency: int64(cfg.Concurrency),
		},
		logger,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("Content resolver starting")
	if err := stream.Run(ctx, source, service, logger); err != nil && ctx.Err() == nil {
		logger.WithError(err).Fatal("Stream terminated")
	}
	logger.Info("Content resolver stopped")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
