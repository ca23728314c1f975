package alerting

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("defaults", func(t *testing.T) {
		cfg := LoadConfig()
		assert.True(t, cfg.Enabled)
		assert.Equal(t, 3, cfg.Threshold)
		assert.Equal(t, 24*time.Hour, cfg.Cooldown)
		assert.Empty(t, cfg.Recipients)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("PROPSYNC_ALERT_ENABLED", "false")
		t.Setenv("PROPSYNC_ALERT_THRESHOLD", "5")
		t.Setenv("PROPSYNC_ALERT_COOLDOWN", "6h")
		t.Setenv("PROPSYNC_ALERT_RECIPIENTS", "a@example.com, b@example.com")

		cfg := LoadConfig()
		assert.False(t, cfg.Enabled)
		assert.Equal(t, 5, cfg.Threshold)
		assert.Equal(t, 6*time.Hour, cfg.Cooldown)
		assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Recipients)
	})
}

func TestConfigValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "defaults", cfg: DefaultConfig()},
		{name: "zero threshold", cfg: Config{Threshold: 0}, wantErr: ErrInvalidThreshold},
		{name: "negative cooldown", cfg: Config{Threshold: 1, Cooldown: -time.Second}, wantErr: ErrInvalidCooldown},
		{name: "zero cooldown allowed", cfg: Config{Threshold: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestMergeFile(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	dir := t.TempDir()

	t.Run("missing file keeps config", func(t *testing.T) {
		cfg := DefaultConfig().MergeFile(filepath.Join(dir, "missing.yaml"))
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("file overrides", func(t *testing.T) {
		path := filepath.Join(dir, "alerts.yaml")
		content := `
vocabulary:
  unit_status:
    aliases:
      "Down": not_ready
alerts:
  enabled: false
  threshold: 2
  cooldown: 12h
  recipients:
    - oncall@example.com
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg := DefaultConfig().MergeFile(path)
		assert.False(t, cfg.Enabled)
		assert.Equal(t, 2, cfg.Threshold)
		assert.Equal(t, 12*time.Hour, cfg.Cooldown)
		assert.Equal(t, []string{"oncall@example.com"}, cfg.Recipients)
	})

	t.Run("invalid yaml keeps config", func(t *testing.T) {
		path := filepath.Join(dir, "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("alerts: [unclosed"), 0o600))

		cfg := DefaultConfig().MergeFile(path)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("invalid cooldown ignored", func(t *testing.T) {
		path := filepath.Join(dir, "cooldown.yaml")
		require.NoError(t, os.WriteFile(path, []byte("alerts:\n  cooldown: soon\n  threshold: 4\n"), 0o600))

		cfg := DefaultConfig().MergeFile(path)
		assert.Equal(t, 24*time.Hour, cfg.Cooldown)
		assert.Equal(t, 4, cfg.Threshold)
	})
}
