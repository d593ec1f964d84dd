package internal_test

import (
	"testing"
	"time"

	"github.com/koopa0/auction-rooms/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadConfig 測試環境變數配置
func TestLoadConfig(t *testing.T) {
	t.Run("defaults without env", func(t *testing.T) {
		cfg, err := internal.LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, "text", cfg.LogFormat)
		assert.Equal(t, 30*time.Second, cfg.SweepInterval)
		assert.Equal(t, "public", cfg.StaticDir)
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("PORT", "9090")
		t.Setenv("SWEEP_INTERVAL", "5s")
		t.Setenv("STATIC_DIR", "")

		cfg, err := internal.LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Port)
		assert.Equal(t, 5*time.Second, cfg.SweepInterval)
		assert.Equal(t, "", cfg.StaticDir)
	})
}
