package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredVars(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/geo")
	t.Setenv("SUBSTREAMS_ENDPOINT", "substreams.example.com:443")
	t.Setenv("IPFS_GATEWAY", "https://gateway.example.com/ipfs")
}

func TestLoadPipelineConfig_Defaults(t *testing.T) {
	setRequiredVars(t)

	cfg := LoadPipelineConfig()
	assert.Equal(t, "postgres://localhost:5432/geo", cfg.DatabaseURL)
	assert.Equal(t, "geo", cfg.Network)
	assert.Empty(t, cfg.Blocklist)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadPipelineConfig_MissingRequiredPanics(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SUBSTREAMS_ENDPOINT", "substreams.example.com:443")

	assert.Panics(t, func() { LoadPipelineConfig() })
}

func TestLoadResolverConfig(t *testing.T) {
	setRequiredVars(t)
	t.Setenv("RESOLVER_CONCURRENCY", "8")
	t.Setenv("IPFS_FETCH_TIMEOUT", "10s")
	t.Setenv("DAO_BLOCKLIST", "0xaaa, 0xbbb ,0xccc")

	cfg := LoadResolverConfig()
	assert.Equal(t, "https://gateway.example.com/ipfs", cfg.IPFSGateway)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, []string{"0xaaa", "0xbbb", "0xccc"}, cfg.Blocklist)
	require.NoError(t, cfg.Validate())
}

func TestResolverConfig_ValidateRejectsBadGateway(t *testing.T) {
	setRequiredVars(t)
	t.Setenv("IPFS_GATEWAY", "gateway.example.com")

	cfg := LoadResolverConfig()
	assert.Error(t, cfg.Validate())
}

func TestLoadIndexerConfig(t *testing.T) {
	setRequiredVars(t)
	t.Setenv("DATABASE_MAX_CONNECTIONS", "32")

	cfg := LoadIndexerConfig()
	assert.Equal(t, 32, cfg.MaxConnections)
	require.NoError(t, cfg.Validate())
}

func TestEnvConfig_Prefix(t *testing.T) {
	t.Setenv("GEO_FOO", "bar")

	env := NewEnvConfig("GEO")
	assert.Equal(t, "bar", env.GetString("FOO", ""))
	assert.Equal(t, "fallback", env.GetString("MISSING", "fallback"))
}
