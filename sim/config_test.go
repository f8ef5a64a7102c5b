package sim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidate_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero time step", func(c *Config) { c.Simulation.TimeStep = 0 }},
		{"negative duration", func(c *Config) { c.Simulation.Duration = -1 }},
		{"negative fleet", func(c *Config) { c.Simulation.NumVehicles = -5 }},
		{"zero width", func(c *Config) { c.Environment.Width = 0 }},
		{"zero cell size", func(c *Config) { c.Environment.CellSize = 0 }},
		{"unknown routing", func(c *Config) { c.Algorithms.Routing.Algorithm = "BFS" }},
		{"unknown light policy", func(c *Config) { c.Algorithms.TrafficLight.Algorithm = "FIXED" }},
		{"max green below min", func(c *Config) {
			c.Algorithms.TrafficLight.MinGreenTime = 30
			c.Algorithms.TrafficLight.MaxGreenTime = 10
		}},
		{"zero max speed", func(c *Config) { c.Vehicle.MaxSpeed = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig_MergesOverDefaults(t *testing.T) {
	// GIVEN a YAML file that only overrides a few fields
	doc := `
simulation:
  duration: 1200
  num_vehicles: 80
  random_seed: 9
algorithms:
  traffic_light:
    algorithm: Q_LEARNING
scenarios:
  rush_hour:
    start_time: 60
    duration: 300
    generation_rate: 0.5
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	// WHEN it is loaded
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	// THEN overridden fields apply and untouched fields keep defaults
	assert.Equal(t, 1200.0, cfg.Simulation.Duration)
	assert.Equal(t, 80, cfg.Simulation.NumVehicles)
	assert.Equal(t, LightQLearning, cfg.Algorithms.TrafficLight.Algorithm)
	assert.Equal(t, RoutingAStar, cfg.Algorithms.Routing.Algorithm)
	assert.Equal(t, 15.0, cfg.Algorithms.TrafficLight.MinGreenTime)
	assert.Contains(t, cfg.Scenarios, "rush_hour")
	assert.Equal(t, 0.5, cfg.Scenarios["rush_hour"].GenerationRate)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("simulation: ["), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
