package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadServerJSON(t *testing.T) {
	path := write(t, "server.json", `{
		"listen_addr": ":9100",
		"home_module": "core",
		"performance": {"indexer_mode": "ram", "table_mode": "map", "region_size": 64, "tag_bits": 3},
		"redis": {"addr": "redis:6379", "db": 2}
	}`)

	cfg, err := LoadServer(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.ListenAddr)
	assert.Equal(t, "core", cfg.HomeModule)
	assert.Equal(t, "ram", cfg.Performance.IndexerMode)
	assert.Equal(t, 64, cfg.Performance.RegionSize)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	// untouched defaults survive
	assert.Equal(t, "/ws", cfg.WebSocketPath)
	assert.Equal(t, "modnet:manifest", cfg.Redis.ManifestKey)
}

func TestLoadServerTOML(t *testing.T) {
	path := write(t, "server.toml", `
listen_addr = ":9200"
websocket_addr = ":9201"
idle_timeout_sec = 5

[performance]
table_mode = "map"

[log]
level = "debug"
`)

	cfg, err := LoadServer(path)
	require.NoError(t, err)
	assert.Equal(t, ":9200", cfg.ListenAddr)
	assert.Equal(t, ":9201", cfg.WebSocketAddr)
	assert.Equal(t, "map", cfg.Performance.TableMode)
	assert.Equal(t, "cpu", cfg.Performance.IndexerMode)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, int64(5), int64(cfg.IdleTimeout().Seconds()))
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"indexer": `{"performance": {"indexer_mode": "gpu"}}`,
		"table":   `{"performance": {"table_mode": "tree"}}`,
		"region":  `{"performance": {"region_size": 48}}`,
		"tagbits": `{"performance": {"tag_bits": 12}}`,
		"home":    `{"home_module": ""}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadServer(write(t, "c.json", body))
			assert.Error(t, err)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := LoadServer(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadClient(write(t, "c.toml", "server_addr = ["))
	assert.Error(t, err)
}

func TestLoadClientDefaults(t *testing.T) {
	cfg, err := LoadClient("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.ServerAddr)
	assert.Equal(t, 500, cfg.ReconnectDelayMs)
}

func TestShippedConfigsLoad(t *testing.T) {
	srv, err := LoadServer(filepath.Join("..", "..", "configs", "server.toml"))
	require.NoError(t, err)
	assert.Equal(t, ":7080", srv.WebSocketAddr)
	assert.Equal(t, "logs", srv.Log.Dir)

	cli, err := LoadClient(filepath.Join("..", "..", "configs", "client.toml"))
	require.NoError(t, err)
	assert.Equal(t, 2, cli.Performance.TagBits)
	assert.Equal(t, "warn", cli.Log.Level)
}
