package config

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerConfigFlags(t *testing.T) {
	cfg := NewDefaultSchedulerConfig()
	cmd := &cobra.Command{Use: "scheduler"}
	cfg.AddFlags(cmd)

	require.NoError(t, cmd.Flags().Parse([]string{"--placement=random", "--listen=:9999"}))
	assert.Equal(t, PlacementRandom, cfg.Placement)
	assert.Equal(t, ":9999", cfg.ListenAddr)
}

func TestWorkerConfigDefaults(t *testing.T) {
	cfg := NewDefaultWorkerConfig()
	assert.GreaterOrEqual(t, cfg.NCPUs, 2)
	assert.Equal(t, "127.0.0.1:8786", cfg.SchedulerAddr)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestGetOptimalWorkerCountNeverBelowTwo(t *testing.T) {
	assert.GreaterOrEqual(t, GetOptimalWorkerCount(), 2)
}
