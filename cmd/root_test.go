package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traffic-sim/traffic-sim/sim"
)

func TestApplyOverrides_OnlyChangedFlagsApply(t *testing.T) {
	// GIVEN a config and explicitly-set seed and duration flags
	cfg := sim.DefaultConfig()
	require.NoError(t, runCmd.Flags().Set("seed", "9"))
	require.NoError(t, runCmd.Flags().Set("duration", "120"))
	seed = 9
	duration = 120

	applyOverrides(runCmd, cfg)

	// THEN only those fields were overridden
	assert.Equal(t, int64(9), cfg.Simulation.RandomSeed)
	assert.Equal(t, 120.0, cfg.Simulation.Duration)
	assert.Equal(t, sim.DefaultConfig().Simulation.NumVehicles, cfg.Simulation.NumVehicles)
}

func TestScenarioOptions_NoneRequested(t *testing.T) {
	scenarios = ""
	opts, err := scenarioOptions(sim.DefaultConfig())
	require.NoError(t, err)
	assert.Empty(t, opts)
}

func TestScenarioOptions_BuildsConfiguredScenarios(t *testing.T) {
	// GIVEN config blocks for both scenario kinds
	cfg := sim.DefaultConfig()
	cfg.Scenarios = map[string]sim.ScenarioConfig{
		"rush_hour": {StartTime: 0, Duration: 100, GenerationRate: 0.5},
		"incident": {StartTime: 10, Duration: 60, BlockedRoad: sim.RoadSegment{
			Coordinates: [][]float64{{100, 100}, {300, 100}},
		}},
	}
	scenarios = "rush_hour, incident"

	opts, err := scenarioOptions(cfg)

	require.NoError(t, err)
	assert.Len(t, opts, 2)
}

func TestScenarioOptions_MissingBlockFails(t *testing.T) {
	cfg := sim.DefaultConfig()
	cfg.Scenarios = nil
	scenarios = "rush_hour"

	_, err := scenarioOptions(cfg)
	assert.ErrorContains(t, err, "no config block")
}

func TestScenarioOptions_UnknownNameFails(t *testing.T) {
	cfg := sim.DefaultConfig()
	cfg.Scenarios = map[string]sim.ScenarioConfig{"earthquake": {}}
	scenarios = "earthquake"

	_, err := scenarioOptions(cfg)
	assert.ErrorContains(t, err, "unknown scenario")
}
