package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_SERVICE_URL", "http://config.internal")

	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.RefreshInterval)
	assert.Equal(t, 30*time.Second, cfg.ForwardTimeout)
	assert.Equal(t, 5*time.Second, cfg.LogTimeout)
	assert.Equal(t, SinkHTTP, cfg.LogSink)
	assert.Equal(t, int64(10<<20), cfg.MaxBodyBytes)
	assert.Empty(t, cfg.WSOrigins)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("CONFIG_FILE", "/etc/mockgate/domains.yaml")
	t.Setenv("CONFIG_REFRESH_INTERVAL", "5")
	t.Setenv("FORWARD_TIMEOUT", "2s")
	t.Setenv("LOG_SINK", "sqlite")
	t.Setenv("DEBUG", "true")
	t.Setenv("MAX_BODY_BYTES", "1024")
	t.Setenv("WS_ALLOWED_ORIGINS", "admin.example.com, *.internal ,")

	cfg := Load()

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.RefreshInterval)
	assert.Equal(t, 2*time.Second, cfg.ForwardTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, int64(1024), cfg.MaxBodyBytes)
	assert.Equal(t, []string{"admin.example.com", "*.internal"}, cfg.WSOrigins)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "no config source",
			cfg:     Config{LogSink: SinkNone, RefreshInterval: time.Second, LogWorkers: 1, LogQueueSize: 1},
			wantErr: "CONFIG_SERVICE_URL or CONFIG_FILE",
		},
		{
			name:    "http sink without service",
			cfg:     Config{ConfigFile: "x.json", LogSink: SinkHTTP, RefreshInterval: time.Second, LogWorkers: 1, LogQueueSize: 1},
			wantErr: "LOG_SINK=http",
		},
		{
			name:    "unknown sink",
			cfg:     Config{ConfigFile: "x.json", LogSink: "kafka", RefreshInterval: time.Second, LogWorkers: 1, LogQueueSize: 1},
			wantErr: "unknown LOG_SINK",
		},
		{
			name:    "no workers",
			cfg:     Config{ConfigFile: "x.json", LogSink: SinkNone, RefreshInterval: time.Second, LogQueueSize: 1},
			wantErr: "LOG_WORKERS",
		},
		{
			name: "file source with sqlite sink",
			cfg:  Config{ConfigFile: "x.json", LogSink: SinkSQLite, RefreshInterval: time.Second, LogWorkers: 1, LogQueueSize: 1},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
