package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "testhost")
	t.Setenv("CACHE_TTL", "30s")
	t.Setenv("POLL_MIN_SECONDS", "5")
	t.Setenv("POLL_MAX_SECONDS", "7")
	t.Setenv("STORAGE_DRIVER", "Memory")
	t.Setenv("TRACK_ITEMS", "ASI3|https://asi3.example/lot/1, asi3|https://asi3.example/lot/2|Clock")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "testhost", cfg.Database.Postgres.Host)
	assert.Equal(t, 30*time.Second, cfg.Storage.CacheTTL)
	assert.Equal(t, StorageDriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 5*time.Second, cfg.Polling.MinInterval)
	assert.Equal(t, 7*time.Second, cfg.Polling.MaxInterval)
	assert.Equal(t, 60*time.Second, cfg.Polling.EndGrace)
	assert.Equal(t, 10*time.Second, cfg.Network.RetryBackoff)

	require.Len(t, cfg.Items, 2)
	assert.Equal(t, "asi3", string(cfg.Items[0].Site))
	assert.Nil(t, cfg.Items[0].Title)
	require.NotNil(t, cfg.Items[1].Title)
	assert.Equal(t, "Clock", *cfg.Items[1].Title)
}

func TestLoadConfig_InvalidItems(t *testing.T) {
	t.Setenv("TRACK_ITEMS", "asi3-no-url")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Storage: StorageConfig{Driver: StorageDriverPostgres},
			Polling: PollingConfig{MinInterval: 30 * time.Second, MaxInterval: 60 * time.Second, EndGrace: time.Minute},
			Network: NetworkConfig{RetryBackoff: 10 * time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"min equals max", func(c *Config) { c.Polling.MaxInterval = c.Polling.MinInterval }, false},
		{"zero min", func(c *Config) { c.Polling.MinInterval = 0 }, true},
		{"max below min", func(c *Config) { c.Polling.MaxInterval = time.Second }, true},
		{"zero grace", func(c *Config) { c.Polling.EndGrace = 0 }, true},
		{"negative backoff", func(c *Config) { c.Network.RetryBackoff = -time.Second }, true},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "12")
	t.Setenv("TEST_BAD_INT", "twelve")
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_FLOAT", "2.5")
	t.Setenv("TEST_DURATION", "1m")

	assert.Equal(t, "default", getEnv("NONEXISTENT_KEY", "default"))
	assert.Equal(t, 12, getEnvAsInt("TEST_INT", 1))
	assert.Equal(t, 1, getEnvAsInt("TEST_BAD_INT", 1))
	assert.True(t, getEnvAsBool("TEST_BOOL", false))
	assert.False(t, getEnvAsBool("NONEXISTENT_KEY", false))
	assert.Equal(t, 2.5, getEnvAsFloat("TEST_FLOAT", 1))
	assert.Equal(t, time.Minute, getEnvAsDuration("TEST_DURATION", time.Second))
	assert.Equal(t, 12*time.Second, getEnvAsSeconds("TEST_INT", 1))
}

func TestRotator_Headers(t *testing.T) {
	r := NewRotator(NetworkConfig{RotateUserAgents: true})
	r.intn = func(n int) int { return n - 1 }

	h := r.Headers()
	assert.Equal(t, DefaultUserAgents[len(DefaultUserAgents)-1], h["User-Agent"])
	assert.Equal(t, "en-US,en;q=0.9", h["Accept-Language"])

	fixed := NewRotator(NetworkConfig{RotateUserAgents: false})
	fixed.intn = func(n int) int { return n - 1 }
	assert.Equal(t, DefaultUserAgents[0], fixed.Headers()["User-Agent"])
}

func TestRotator_Proxy(t *testing.T) {
	disabled := NewRotator(NetworkConfig{UseProxies: false, ProxyFile: "/does/not/exist"})
	proxy, err := disabled.Proxy()
	require.NoError(t, err)
	assert.Empty(t, proxy)

	path := filepath.Join(t.TempDir(), "proxies.txt")
	require.NoError(t, os.WriteFile(path, []byte("# pool\nhttp://p1:8080\n\n  http://p2:8080  \n"), 0o600))

	r := NewRotator(NetworkConfig{UseProxies: true, ProxyFile: path})
	r.intn = func(n int) int { return 1 }
	proxy, err = r.Proxy()
	require.NoError(t, err)
	assert.Equal(t, "http://p2:8080", proxy)

	missing := NewRotator(NetworkConfig{UseProxies: true, ProxyFile: filepath.Join(t.TempDir(), "none.txt")})
	_, err = missing.Proxy()
	assert.Error(t, err)
}
