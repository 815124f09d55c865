package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/antonioqueb/stock-whole-lot-removal/internal/testing/guard"
)

func TestInTestMode(t *testing.T) {
	RefreshTestMode()
	require.True(t, InTestMode(), "guard import must force test mode")
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.InDelta(t, 0.01, cfg.UOMRounding, 0.0001)
	require.Equal(t, "30 1 * * *", cfg.BackorderSweepCron)
	require.False(t, cfg.IsProduction())
}
