package cacheproxy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/always-cache/cacheproxy/cache"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	filename := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(content), 0644))
	return filename
}

func TestLoadConfig(t *testing.T) {
	filename := writeConfig(t, `
listen: ":9090"
upstream: "backend:3000"
max_clients: 4
cache_bytes: 1048576
item_bytes: 2048
provider: sqlite
client_timeout: 10s
upstream_timeout: 2s
admin_listen: ":9091"
stats_interval: 1m
`)
	config, err := LoadConfig(filename)
	require.NoError(t, err)
	require.Equal(t, ":9090", config.Listen)
	require.Equal(t, "backend:3000", config.Upstream)
	require.Equal(t, 4, config.MaxClients)
	require.Equal(t, int64(1048576), config.CacheBytes)
	require.Equal(t, 2048, config.ItemBytes)
	require.Equal(t, ProviderSQLite, config.Provider)
	require.Equal(t, 10*time.Second, config.ClientTimeout)
	require.Equal(t, 2*time.Second, config.UpstreamTimeout)
	require.Equal(t, DefaultRequestBufferBytes, config.RequestBufferBytes)
	require.Equal(t, time.Minute, config.StatsInterval)

	provider, err := config.NewCacheProvider()
	require.NoError(t, err)
	defer provider.Close()
	require.IsType(t, &cache.SQLiteCache{}, provider)
	require.Equal(t, int64(2048), provider.Stats().ItemLimit)
}

func TestConfigDefaults(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	require.Equal(t, ":8080", config.Listen)
	require.Equal(t, "localhost:3000", config.Upstream)
	require.Equal(t, 10, config.MaxClients)
	require.Equal(t, int64(200*1024*1024), config.CacheBytes)
	require.Equal(t, 10*1024, config.ItemBytes)
	require.Equal(t, ProviderMemory, config.Provider)
	require.Equal(t, 30*time.Second, config.ClientTimeout)
	require.Equal(t, 5*time.Second, config.UpstreamTimeout)

	pc := config.ProxyConfig(nil, nil)
	require.Equal(t, config.MaxClients, pc.MaxClients)
	require.Equal(t, config.ItemBytes, pc.ItemBytes)
}

func TestConfigRejectsInvalidValues(t *testing.T) {
	for _, content := range []string{
		"max_clients: -1",
		"item_bytes: 4096\ncache_bytes: 1024",
		"provider: redis",
		"unknown_field: 1",
		"client_timeout: -1s",
	} {
		_, err := LoadConfig(writeConfig(t, content))
		require.Error(t, err, content)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
