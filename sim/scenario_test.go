package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBellProfile(t *testing.T) {
	assert.InDelta(t, 0.0, bellProfile(0), 1e-9)
	assert.InDelta(t, 0.5, bellProfile(1.0/6), 1e-9)
	assert.InDelta(t, 1.0, bellProfile(0.5), 1e-9)
	assert.InDelta(t, 0.0, bellProfile(1.0), 1e-9)
}

func TestRushHour_GeneratesOnlyInsideWindow(t *testing.T) {
	// GIVEN a rush hour from t=10 to t=40
	cfg := testConfig()
	scenario := NewRushHourScenario(ScenarioConfig{
		StartTime:      10,
		Duration:       30,
		GenerationRate: 1.0,
		OriginZones: []Zone{
			{Name: "west", Weight: 1, Center: []float64{100, 500}, JitterX: 50, JitterY: 50},
		},
		DestinationZones: []Zone{
			{Name: "east", Weight: 1, Center: []float64{900, 500}, JitterX: 50, JitterY: 50},
		},
	})
	m := newTestModel(t, cfg, WithScenario(scenario))

	// WHEN the run crosses the window
	for i := 0; i < 60; i++ {
		before := scenario.Created
		m.Step()
		if m.Clock() <= 10 || m.Clock() > 40 {
			assert.Equal(t, before, scenario.Created,
				"no generation outside the window at t=%.0f", m.Clock())
		}
	}

	// THEN traffic appeared, concentrated around the peak
	assert.Greater(t, scenario.Created, 0)
	assert.Equal(t, scenario.Created, m.Metrics.VehiclesCreated)
	stats := scenario.Statistics()
	assert.Equal(t, scenario.Created, stats["vehicles_generated"])
}

func TestRushHour_SamplesWithinZoneJitter(t *testing.T) {
	cfg := testConfig()
	scenario := NewRushHourScenario(ScenarioConfig{
		StartTime: 0, Duration: 100, GenerationRate: 1,
		OriginZones: []Zone{{Name: "z", Weight: 1, Center: []float64{500, 500}, JitterX: 100, JitterY: 50}},
	})
	m := newTestModel(t, cfg, WithScenario(scenario))

	for i := 0; i < 50; i++ {
		p := scenario.samplePoint(m, scenario.cfg.OriginZones)
		assert.InDelta(t, 500, p.X, 100.01)
		assert.InDelta(t, 500, p.Y, 50.01)
	}
}

func TestRushHour_RejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	_, err := NewModel(cfg, WithScenario(NewRushHourScenario(ScenarioConfig{Duration: 0})))
	assert.Error(t, err)
}

func TestIncident_BlocksCorridorAndRestores(t *testing.T) {
	// GIVEN an incident on the central horizontal corridor, t=[5,25]
	cfg := testConfig()
	scenario := NewIncidentScenario(ScenarioConfig{
		StartTime: 5,
		Duration:  20,
		BlockedRoad: RoadSegment{
			Name:        "center road",
			Coordinates: [][]float64{{400, 500}, {600, 500}},
		},
	})
	m := newTestModel(t, cfg, WithScenario(scenario))
	baseEdges := m.Network.Stats().Edges

	// WHEN the start time passes (plus a tick for message delivery)
	for m.Clock() < 8 {
		m.Step()
	}

	// THEN edges are blocked and the crisis manager was notified
	assert.True(t, scenario.Active())
	assert.Greater(t, scenario.BlockedEdges, 0)
	assert.Equal(t, baseEdges-scenario.BlockedEdges, m.Network.Stats().Edges)
	require.Len(t, m.Crisis.Incidents(), 1)
	assert.Equal(t, "center road", m.Crisis.Incidents()[0].Report.RoadName)

	// WHEN the window ends
	for m.Clock() < 30 {
		m.Step()
	}

	// THEN the network is whole again
	assert.False(t, scenario.Active())
	assert.Equal(t, baseEdges, m.Network.Stats().Edges)
	assert.Zero(t, m.Network.Stats().ActiveBlockages)
}

func TestIncident_AlertsAgentsInRange(t *testing.T) {
	// GIVEN a vehicle near the corridor and one far away
	cfg := testConfig()
	scenario := NewIncidentScenario(ScenarioConfig{
		StartTime:    0,
		Duration:     50,
		NotifyRadius: 300,
		BlockedRoad: RoadSegment{
			Name:        "center road",
			Coordinates: [][]float64{{400, 500}, {600, 500}},
		},
	})
	m := newTestModel(t, cfg, WithScenario(scenario))
	near := m.SpawnVehicle(VehicleStandard, Position{X: 450, Y: 450}, Position{X: 900, Y: 900})
	far := m.SpawnVehicle(VehicleStandard, Position{X: 50, Y: 50}, Position{X: 900, Y: 900})

	// WHEN the incident triggers
	scenario.Step(m, 0)

	// THEN only the nearby vehicle was alerted with full severity
	require.Equal(t, 1, countCongestionAlerts(near.Mailbox().DrainInbox()))
	assert.Zero(t, countCongestionAlerts(far.Mailbox().DrainInbox()))
}

func countCongestionAlerts(msgs []Message) int {
	n := 0
	for _, msg := range msgs {
		if report, ok := msg.Content.(CongestionReport); ok && report.Reason == "incident" && report.Level == 1.0 {
			n++
		}
	}
	return n
}

func TestIncident_RebroadcastsToIntersections(t *testing.T) {
	cfg := testConfig()
	scenario := NewIncidentScenario(ScenarioConfig{
		StartTime:        0,
		Duration:         500,
		RebroadcastEvery: 60,
		BlockedRoad: RoadSegment{
			Name:        "center road",
			Coordinates: [][]float64{{400, 500}, {600, 500}},
		},
	})
	m := newTestModel(t, cfg, WithScenario(scenario))
	scenario.Step(m, 0)
	afterTrigger := scenario.AlertsSent
	require.Greater(t, afterTrigger, 0)

	// WHEN less than the rebroadcast period elapses THEN nothing new
	for i := 0; i < 59; i++ {
		m.clock++
		scenario.Step(m, i)
	}
	assert.Equal(t, afterTrigger, scenario.AlertsSent)

	// WHEN the period passes THEN intersections are re-alerted
	m.clock++
	scenario.Step(m, 60)
	assert.Greater(t, scenario.AlertsSent, afterTrigger)
}

func TestIncident_RejectsBadCorridor(t *testing.T) {
	cfg := testConfig()
	_, err := NewModel(cfg, WithScenario(NewIncidentScenario(ScenarioConfig{
		StartTime: 0, Duration: 10,
		BlockedRoad: RoadSegment{Coordinates: [][]float64{{1, 2}}},
	})))
	assert.Error(t, err)
}
