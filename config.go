package cacheproxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/always-cache/cacheproxy/cache"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	ProviderMemory = "memory"
	ProviderSQLite = "sqlite"
)

// FileConfig is the yaml configuration of the proxy binary.
type FileConfig struct {
	Listen             string        `yaml:"listen"`
	Upstream           string        `yaml:"upstream"`
	MaxClients         int           `yaml:"max_clients"`
	CacheBytes         int64         `yaml:"cache_bytes"`
	ItemBytes          int           `yaml:"item_bytes"`
	Provider           string        `yaml:"provider"`
	ClientTimeout      time.Duration `yaml:"client_timeout"`
	UpstreamTimeout    time.Duration `yaml:"upstream_timeout"`
	RequestBufferBytes int           `yaml:"request_buffer_bytes"`
	AdminListen        string        `yaml:"admin_listen"`
	StatsInterval      time.Duration `yaml:"stats_interval"`
}

// LoadConfig reads a yaml config file. Unknown fields are an error.
// Defaults are applied and the result is validated.
func LoadConfig(filename string) (FileConfig, error) {
	var config FileConfig
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	decoder := yaml.NewDecoder(bytes.NewReader(configBytes))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return config, fmt.Errorf("parsing %s: %w", filename, err)
	}
	return config, config.AdjustConfig()
}

// AdjustConfig fills in defaults and validates the values.
func (c *FileConfig) AdjustConfig() error {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Upstream == "" {
		c.Upstream = DefaultUpstream
	}
	if c.MaxClients == 0 {
		c.MaxClients = DefaultMaxClients
	}
	if c.CacheBytes == 0 {
		c.CacheBytes = DefaultCacheBytes
	}
	if c.ItemBytes == 0 {
		c.ItemBytes = DefaultItemBytes
	}
	if c.Provider == "" {
		c.Provider = ProviderMemory
	}
	if c.ClientTimeout == 0 {
		c.ClientTimeout = DefaultClientTimeout
	}
	if c.UpstreamTimeout == 0 {
		c.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if c.RequestBufferBytes == 0 {
		c.RequestBufferBytes = DefaultRequestBufferBytes
	}

	switch {
	case c.MaxClients < 1:
		return fmt.Errorf("max_clients must be at least 1, got %d", c.MaxClients)
	case c.CacheBytes < 1:
		return fmt.Errorf("cache_bytes must be positive, got %d", c.CacheBytes)
	case c.ItemBytes < 1 || int64(c.ItemBytes) > c.CacheBytes:
		return fmt.Errorf("item_bytes must be between 1 and cache_bytes (%d), got %d", c.CacheBytes, c.ItemBytes)
	case c.Provider != ProviderMemory && c.Provider != ProviderSQLite:
		return fmt.Errorf("unknown cache provider %q", c.Provider)
	case c.RequestBufferBytes < 64:
		return fmt.Errorf("request_buffer_bytes too small: %d", c.RequestBufferBytes)
	case c.ClientTimeout < 0 || c.UpstreamTimeout < 0 || c.StatsInterval < 0:
		return fmt.Errorf("timeouts and intervals must not be negative")
	}
	return nil
}

// NewCacheProvider creates the configured cache provider.
func (c FileConfig) NewCacheProvider() (cache.CacheProvider, error) {
	if c.Provider == ProviderSQLite {
		sqlite, err := cache.NewSQLiteCache(c.CacheBytes, int64(c.ItemBytes))
		if err != nil {
			return nil, err
		}
		return sqlite, nil
	}
	return cache.NewMemCache(c.CacheBytes, int64(c.ItemBytes)), nil
}

// ProxyConfig converts the file config into a Config for CreateProxy.
func (c FileConfig) ProxyConfig(provider cache.CacheProvider, logger *zerolog.Logger) Config {
	return Config{
		Cache:              provider,
		Upstream:           c.Upstream,
		Logger:             logger,
		MaxClients:         c.MaxClients,
		ItemBytes:          c.ItemBytes,
		ClientTimeout:      c.ClientTimeout,
		UpstreamTimeout:    c.UpstreamTimeout,
		RequestBufferBytes: c.RequestBufferBytes,
	}
}
