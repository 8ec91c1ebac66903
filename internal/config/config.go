package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"modnet/internal/common/logging"
)

type RedisConfig struct {
	Addr         string `json:"addr" toml:"addr"`
	Password     string `json:"password" toml:"password"`
	DB           int    `json:"db" toml:"db"`
	PoolSize     int    `json:"pool_size" toml:"pool_size"`
	MinIdleConns int    `json:"min_idle_conns" toml:"min_idle_conns"`
	// ManifestKey prefixes the keys manifests are published under.
	ManifestKey string `json:"manifest_key" toml:"manifest_key"`
}

// PerformanceConfig picks storage strategies. It is applied before the
// registry initializes and cannot change afterwards.
type PerformanceConfig struct {
	// IndexerMode is "cpu" (bitmap) or "ram" (map).
	IndexerMode string `json:"indexer_mode" toml:"indexer_mode"`
	// TableMode is "region" or "map".
	TableMode  string `json:"table_mode" toml:"table_mode"`
	RegionSize int    `json:"region_size" toml:"region_size"`
	TagBits    int    `json:"tag_bits" toml:"tag_bits"`
}

type ServerConfig struct {
	ListenAddr       string            `json:"listen_addr" toml:"listen_addr"`
	WebSocketAddr    string            `json:"websocket_addr" toml:"websocket_addr"`
	WebSocketPath    string            `json:"websocket_path" toml:"websocket_path"`
	MetricsAddr      string            `json:"metrics_addr" toml:"metrics_addr"`
	HomeModule       string            `json:"home_module" toml:"home_module"`
	IdleTimeoutSec   int               `json:"idle_timeout_sec" toml:"idle_timeout_sec"`
	SweepIntervalSec int               `json:"sweep_interval_sec" toml:"sweep_interval_sec"`
	Performance      PerformanceConfig `json:"performance" toml:"performance"`
	Redis            RedisConfig       `json:"redis" toml:"redis"`
	Log              logging.Options   `json:"log" toml:"log"`
}

type ClientConfig struct {
	ServerAddr        string            `json:"server_addr" toml:"server_addr"`
	HomeModule        string            `json:"home_module" toml:"home_module"`
	ReconnectDelayMs  int               `json:"reconnect_delay_ms" toml:"reconnect_delay_ms"`
	MaxReconnectDelay int               `json:"max_reconnect_delay_ms" toml:"max_reconnect_delay_ms"`
	Performance       PerformanceConfig `json:"performance" toml:"performance"`
	Log               logging.Options   `json:"log" toml:"log"`
}

func DefaultServer() ServerConfig {
	return ServerConfig{
		ListenAddr:       ":7000",
		WebSocketPath:    "/ws",
		HomeModule:       "netcore",
		IdleTimeoutSec:   60,
		SweepIntervalSec: 10,
		Performance:      PerformanceConfig{IndexerMode: "cpu", TableMode: "region", RegionSize: 32, TagBits: 2},
		Redis:            RedisConfig{Addr: "127.0.0.1:6379", ManifestKey: "modnet:manifest"},
	}
}

func DefaultClient() ClientConfig {
	return ClientConfig{
		ServerAddr:        "127.0.0.1:7000",
		HomeModule:        "netcore",
		ReconnectDelayMs:  500,
		MaxReconnectDelay: 10_000,
		Performance:       PerformanceConfig{IndexerMode: "cpu", TableMode: "region", RegionSize: 32, TagBits: 2},
	}
}

func (c ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}

func (c ServerConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

func (p PerformanceConfig) Validate() error {
	switch p.IndexerMode {
	case "", "cpu", "ram":
	default:
		return fmt.Errorf("performance.indexer_mode %q: want cpu or ram", p.IndexerMode)
	}
	switch p.TableMode {
	case "", "region", "map":
	default:
		return fmt.Errorf("performance.table_mode %q: want region or map", p.TableMode)
	}
	if p.RegionSize < 0 || p.RegionSize&(p.RegionSize-1) != 0 {
		return fmt.Errorf("performance.region_size %d: want a power of two", p.RegionSize)
	}
	if p.TagBits < 0 || p.TagBits > 8 {
		return fmt.Errorf("performance.tag_bits %d: want 0..8", p.TagBits)
	}
	return nil
}

func (c ServerConfig) Validate() error {
	if c.ListenAddr == "" && c.WebSocketAddr == "" {
		return fmt.Errorf("listen_addr or websocket_addr is required")
	}
	if c.HomeModule == "" {
		return fmt.Errorf("home_module is required")
	}
	return c.Performance.Validate()
}

func (c ClientConfig) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server_addr is required")
	}
	if c.HomeModule == "" {
		return fmt.Errorf("home_module is required")
	}
	return c.Performance.Validate()
}

// Load decodes path into out. Files ending in .toml are TOML, everything
// else is JSON. Fields missing from the file keep the values out already
// holds, so callers pass defaults in.
func Load(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, out)
	default:
		err = json.Unmarshal(data, out)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func LoadServer(path string) (ServerConfig, error) {
	cfg := DefaultServer()
	if path != "" {
		if err := Load(path, &cfg); err != nil {
			return ServerConfig{}, err
		}
	}
	return cfg, cfg.Validate()
}

func LoadClient(path string) (ClientConfig, error) {
	cfg := DefaultClient()
	if path != "" {
		if err := Load(path, &cfg); err != nil {
			return ClientConfig{}, err
		}
	}
	return cfg, cfg.Validate()
}
