package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nutrify-app/offline-gateway/types"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoaderDefaults(t *testing.T) {
	cfg := NewLoader().Defaults()

	require.Equal(t, "offline-gateway", cfg.Name)
	require.Equal(t, "v1", cfg.Version)
	require.Equal(t, "nutrify", cfg.Store.Prefix)
	require.Equal(t, time.Hour, cfg.Store.APITTL)
	require.Zero(t, cfg.Store.StaticTTL)

	require.Contains(t, cfg.Routing.APIPrefixes, "/items")
	require.Contains(t, cfg.Routing.APIPrefixes, "/random-items")
	require.Equal(t, "/random-items", cfg.Routing.RecommendationsPath)
	require.Contains(t, cfg.Routing.StaticPrefixes, "/_next/static/")

	require.Contains(t, cfg.Precache.Essential, "/")
	require.Contains(t, cfg.Precache.Essential, "/offline.html")

	require.Len(t, cfg.Upstreams, 3)
	require.True(t, cfg.Upstreams["api"].CircuitBreaker.Enabled)
	require.Equal(t, "api", cfg.Connectivity.Upstream)
}

func TestLoaderOverlaysFileOnDefaults(t *testing.T) {
	path := writeConfigFile(t, `
name: my-gateway
version: v7
store:
  type: memory
  prefix: custom
  api_ttl: 30m
server:
  http:
    host: 0.0.0.0
    port: 9090
`)

	cfg, err := NewLoader().LoadFromFile(path)
	require.NoError(t, err)

	require.Equal(t, "my-gateway", cfg.Name)
	require.Equal(t, "v7", cfg.Version)
	require.Equal(t, "custom", cfg.Store.Prefix)
	require.Equal(t, 30*time.Minute, cfg.Store.APITTL)
	require.Equal(t, 9090, cfg.Server.HTTP.Port)

	// Untouched sections keep their defaults.
	require.Equal(t, "/random-items", cfg.Routing.RecommendationsPath)
	require.True(t, cfg.Health.Enabled)
}

func TestLoaderRejectsInvalidConfig(t *testing.T) {
	path := writeConfigFile(t, `
server:
  http:
    port: 99999
`)

	_, err := NewLoader().LoadFromFile(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "validation")
}

func TestLoaderRejectsMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "name: [unclosed")

	_, err := NewLoader().LoadFromFile(path)
	require.Error(t, err)
}

func TestLoaderMissingFile(t *testing.T) {
	_, err := NewLoader().LoadFromFile(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)

	_, err = NewLoader().LoadFromFile("")
	require.ErrorIs(t, err, types.ErrConfigNotFound)
}

func TestManagerLifecycle(t *testing.T) {
	path := writeConfigFile(t, "name: my-gateway\n")

	cm, err := NewConfigurationManager(context.Background(), path)
	require.NoError(t, err)

	require.NoError(t, cm.Start())
	require.True(t, cm.IsRunning())
	require.ErrorIs(t, cm.Start(), types.ErrServerAlreadyRunning)

	require.Equal(t, "my-gateway", cm.GetConfig().Name)

	require.NoError(t, cm.Stop())
	require.False(t, cm.IsRunning())
	require.Nil(t, cm.GetConfig())
}

func TestManagerGetValue(t *testing.T) {
	cm := NewStaticManager(NewLoader().Defaults())

	require.Equal(t, "offline-gateway", cm.GetValue("name", ""))
	require.Equal(t, "nutrify", cm.GetValue("store.prefix", ""))
	require.Equal(t, "fallback", cm.GetValue("no.such.path", "fallback"))

	var store types.StoreConfig
	require.NoError(t, cm.GetAs("store", &store))
	require.Equal(t, "memory", store.Type)

	require.ErrorIs(t, cm.GetAs("no.such.path", &store), types.ErrConfigNotFound)
}
