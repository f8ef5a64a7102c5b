package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testConfig returns a small deterministic configuration for tests:
// a 1000x1000m map with a 100m grid and no initial fleet.
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Simulation.Duration = 100
	cfg.Simulation.NumVehicles = 0
	cfg.Simulation.RandomSeed = 7
	cfg.Environment.Width = 1000
	cfg.Environment.Height = 1000
	cfg.Environment.CellSize = 100
	return cfg
}

func newTestModel(t *testing.T, cfg *Config, opts ...ModelOption) *Model {
	t.Helper()
	m, err := NewModel(cfg, opts...)
	require.NoError(t, err)
	return m
}

// stubAgent is a minimal addressable agent for bus and scheduler tests.
type stubAgent struct {
	AgentCore
	pos   Position
	steps int
}

func newStubAgent(id string, pos Position) *stubAgent {
	return &stubAgent{AgentCore: newAgentCore(id, 1), pos: pos}
}

func (a *stubAgent) Position() Position { return a.pos }
func (a *stubAgent) Step(*Model)        { a.steps++ }

// stubDirectory is a standalone agent lookup for bus tests.
type stubDirectory struct {
	agents []Agent
}

func (d *stubDirectory) AgentByID(id string) Agent {
	for _, a := range d.agents {
		if a.ID() == id {
			return a
		}
	}
	return nil
}

func (d *stubDirectory) AgentList() []Agent { return d.agents }
