package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndToEnd_StraightRouteArrival(t *testing.T) {
	// GIVEN a single vehicle crossing the map west to east
	m := newTestModel(t, testConfig())
	v := m.SpawnVehicle(VehicleStandard, Position{X: 50, Y: 500}, Position{X: 950, Y: 500})
	require.NotEmpty(t, v.Route)

	// WHEN the simulation runs
	for tick := 0; tick < 200 && !v.Arrived; tick++ {
		m.Step()
	}

	// THEN it arrives and its trip is accounted for
	assert.True(t, v.Arrived, "vehicle should finish a 900m trip within 200s")
	assert.Equal(t, 1, m.Metrics.VehiclesArrived)
	assert.Greater(t, v.TravelTime, 60.0, "900m at 13.89 m/s takes over a minute")
	assert.Greater(t, v.Distance, 800.0)
	assert.Empty(t, m.ActiveVehicles())
}

func TestEndToEnd_EmergencyVehicleGetsPriority(t *testing.T) {
	// GIVEN an ambulance crossing the intersection lattice
	m := newTestModel(t, testConfig())
	amb := m.SpawnVehicle(VehicleAmbulance, Position{X: 50, Y: 400}, Position{X: 950, Y: 400})
	require.NotEmpty(t, amb.Route)

	// WHEN a few ticks pass so the request/grant round trip completes
	for i := 0; i < 5; i++ {
		m.Step()
	}

	// THEN the crisis manager asked intersections along the route
	assert.Greater(t, m.Crisis.GreenWavesCreated, 0)

	// AND at least one intersection granted emergency priority
	grants := 0
	for _, ix := range m.ActiveIntersections() {
		grants += ix.EmergencyPriorities
	}
	assert.Greater(t, grants, 0)
}

func TestEndToEnd_IncidentForcesReroute(t *testing.T) {
	// GIVEN a vehicle routed along the central corridor and an incident
	// that severs it shortly after departure
	cfg := testConfig()
	scenario := NewIncidentScenario(ScenarioConfig{
		StartTime: 5,
		Duration:  200,
		BlockedRoad: RoadSegment{
			Name:        "central corridor",
			Coordinates: [][]float64{{400, 500}, {600, 500}},
		},
	})
	m := newTestModel(t, cfg, WithScenario(scenario))
	v := m.SpawnVehicle(VehicleStandard, Position{X: 50, Y: 500}, Position{X: 950, Y: 500})
	require.NotEmpty(t, v.Route)

	// WHEN the incident triggers and the alert reaches the vehicle
	for m.Clock() < 10 {
		m.Step()
	}

	// THEN the vehicle abandoned the severed corridor
	require.GreaterOrEqual(t, v.RouteChanges, 1)
	reasons := make([]string, 0, len(v.RerouteLog))
	for _, rec := range v.RerouteLog {
		reasons = append(reasons, rec.Reason)
	}
	assert.Contains(t, reasons, RerouteIncidentAlert)

	// AND the replacement route avoids every blocked edge
	for i := 0; i+1 < len(v.Route); i++ {
		a := m.Network.NearestNode(v.Route[i])
		b := m.Network.NearestNode(v.Route[i+1])
		if a == nil || b == nil || a.ID == b.ID {
			continue
		}
		_, connected := a.Neighbors[b.ID]
		_, reverse := b.Neighbors[a.ID]
		assert.True(t, connected || reverse || Distance(a.Pos, b.Pos) > float64(cfg.Environment.CellSize),
			"route hops a severed edge %s-%s", a.ID, b.ID)
	}
}

func TestEndToEnd_FullRunStaysConsistent(t *testing.T) {
	// GIVEN a 60s run with a mixed fleet
	cfg := testConfig()
	cfg.Simulation.Duration = 60
	cfg.Simulation.NumVehicles = 20
	m := newTestModel(t, cfg)

	// WHEN it runs to completion
	m.Run()

	// THEN the aggregate accounting holds together
	assert.Equal(t, 60, m.Tick())
	assert.InDelta(t, 60.0, m.Clock(), 1e-9)
	assert.Equal(t, 20, m.Metrics.VehiclesCreated)
	assert.LessOrEqual(t, m.Metrics.VehiclesArrived, m.Metrics.VehiclesCreated)
	assert.Equal(t, m.Metrics.VehiclesArrived+len(m.ActiveVehicles()), 20)
	assert.Len(t, m.Metrics.Snapshots, 6)
	assert.Equal(t, m.Bus.TotalRouted, m.Metrics.MessagesRouted)
	assert.GreaterOrEqual(t, m.Metrics.CacheMisses, 1, "initial routing misses the cache")
	assert.Greater(t, m.Metrics.TotalDistance, 0.0)
}
