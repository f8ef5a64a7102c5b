package sim

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"
)

// Scenario is a pluggable run-time hook. Setup runs once during model
// construction; Step runs at the end of every tick.
type Scenario interface {
	Name() string
	Setup(m *Model) error
	Step(m *Model, tick int)
	Statistics() map[string]any
}

// === Rush hour ===

// rushHourTypeMix is the vehicle distribution during peak generation.
var rushHourTypeMix = []struct {
	t VehicleType
	p float64
}{
	{VehicleStandard, 0.80},
	{VehicleBus, 0.15},
	{VehicleAmbulance, 0.02},
	{VehicleFire, 0.02},
	{VehiclePolice, 0.01},
}

// RushHourScenario injects commuter traffic over a time window. The
// generation rate follows a bell profile: ramp up over the first
// third, hold at peak through the second, taper off in the last.
type RushHourScenario struct {
	cfg ScenarioConfig
	rng *rand.Rand

	carry    float64 // fractional vehicles accumulated between ticks
	Created  int
	finished bool
}

// NewRushHourScenario builds the scenario from its config block.
func NewRushHourScenario(cfg ScenarioConfig) *RushHourScenario {
	return &RushHourScenario{cfg: cfg}
}

// Name implements Scenario.
func (s *RushHourScenario) Name() string { return "rush_hour" }

// Setup implements Scenario.
func (s *RushHourScenario) Setup(m *Model) error {
	if s.cfg.Duration <= 0 {
		return fmt.Errorf("rush hour: duration must be > 0")
	}
	if s.cfg.GenerationRate <= 0 {
		return fmt.Errorf("rush hour: generation_rate must be > 0")
	}
	s.rng = m.RNG().ForSubsystem(SubsystemScenario)
	logrus.Infof("rush hour armed: t=[%.0f,%.0f] peak %.2f veh/s",
		s.cfg.StartTime, s.cfg.StartTime+s.cfg.Duration, s.cfg.GenerationRate)
	return nil
}

// Step implements Scenario.
func (s *RushHourScenario) Step(m *Model, tick int) {
	now := m.Clock()
	if now < s.cfg.StartTime || now >= s.cfg.StartTime+s.cfg.Duration {
		if !s.finished && now >= s.cfg.StartTime+s.cfg.Duration {
			s.finished = true
			logrus.Infof("rush hour over: %d vehicles generated", s.Created)
		}
		return
	}

	progress := (now - s.cfg.StartTime) / s.cfg.Duration
	s.carry += s.cfg.GenerationRate * bellProfile(progress) * m.TimeStep()
	for s.carry >= 1 {
		s.carry--
		origin := s.samplePoint(m, s.cfg.OriginZones)
		dest := s.samplePoint(m, s.cfg.DestinationZones)
		m.SpawnVehicle(sampleFromMix(s.rng, rushHourTypeMix), origin, dest)
		s.Created++
	}
}

// bellProfile maps window progress (0..1) to a rate factor: rising
// flank, plateau, falling flank.
func bellProfile(progress float64) float64 {
	switch {
	case progress < 1.0/3:
		return progress * 3
	case progress < 2.0/3:
		return 1
	default:
		return math.Max(0, (1-progress)*3)
	}
}

func sampleFromMix(rng *rand.Rand, mix []struct {
	t VehicleType
	p float64
}) VehicleType {
	r := rng.Float64()
	acc := 0.0
	for _, entry := range mix {
		acc += entry.p
		if r < acc {
			return entry.t
		}
	}
	return VehicleStandard
}

// samplePoint draws from the weighted zones with per-zone jitter, or
// uniformly over the map when no zones are configured.
func (s *RushHourScenario) samplePoint(m *Model, zones []Zone) Position {
	env := m.Config().Environment
	if len(zones) == 0 {
		return Position{X: s.rng.Float64() * env.Width, Y: s.rng.Float64() * env.Height}
	}

	totalWeight := 0.0
	for _, z := range zones {
		totalWeight += z.Weight
	}
	r := s.rng.Float64() * totalWeight
	zone := zones[len(zones)-1]
	for _, z := range zones {
		r -= z.Weight
		if r < 0 {
			zone = z
			break
		}
	}

	cx, cy := env.Width/2, env.Height/2
	if len(zone.Center) == 2 {
		cx, cy = zone.Center[0], zone.Center[1]
	}
	x := cx + (s.rng.Float64()*2-1)*zone.JitterX
	y := cy + (s.rng.Float64()*2-1)*zone.JitterY
	return Position{X: clamp(x, 0, env.Width), Y: clamp(y, 0, env.Height)}
}

// Statistics implements Scenario.
func (s *RushHourScenario) Statistics() map[string]any {
	return map[string]any{
		"vehicles_generated": s.Created,
		"finished":           s.finished,
	}
}

// === Incident ===

const (
	incidentZoneRadius      = 50.0   // meters around the corridor counted as affected
	defaultNotifyRadius     = 1000.0 // meters, congestion alert reach
	defaultRebroadcastEvery = 60.0   // seconds between reminders
	incidentSenderID        = "incident_scenario"
)

// IncidentScenario blocks a road corridor for a while: affected edges
// become temporary blockages, agents in the area get a full-severity
// congestion alert, and the crisis manager receives an incident
// report. While active, intersections in range are re-alerted
// periodically; the network restores the edges when the window ends.
type IncidentScenario struct {
	cfg ScenarioConfig

	active        bool
	resolved      bool
	BlockedEdges  int
	AlertsSent    int
	lastBroadcast float64
	corridorA     Position
	corridorB     Position
}

// NewIncidentScenario builds the scenario from its config block.
func NewIncidentScenario(cfg ScenarioConfig) *IncidentScenario {
	if cfg.NotifyRadius <= 0 {
		cfg.NotifyRadius = defaultNotifyRadius
	}
	if cfg.RebroadcastEvery <= 0 {
		cfg.RebroadcastEvery = defaultRebroadcastEvery
	}
	return &IncidentScenario{cfg: cfg}
}

// Name implements Scenario.
func (s *IncidentScenario) Name() string { return "incident" }

// Setup implements Scenario.
func (s *IncidentScenario) Setup(m *Model) error {
	coords := s.cfg.BlockedRoad.Coordinates
	if len(coords) != 2 || len(coords[0]) != 2 || len(coords[1]) != 2 {
		return fmt.Errorf("incident: blocked_road.coordinates must be two [x,y] points")
	}
	if s.cfg.Duration <= 0 {
		return fmt.Errorf("incident: duration must be > 0")
	}
	s.corridorA = Position{X: coords[0][0], Y: coords[0][1]}
	s.corridorB = Position{X: coords[1][0], Y: coords[1][1]}
	return nil
}

// Step implements Scenario.
func (s *IncidentScenario) Step(m *Model, tick int) {
	now := m.Clock()
	end := s.cfg.StartTime + s.cfg.Duration

	if !s.active && !s.resolved && now >= s.cfg.StartTime {
		s.trigger(m)
	}
	if s.active && now >= end {
		s.active = false
		s.resolved = true
		logrus.Infof("incident on %q resolved at t=%.0f", s.cfg.BlockedRoad.Name, now)
		return
	}
	if s.active && now-s.lastBroadcast >= s.cfg.RebroadcastEvery {
		s.remindIntersections(m)
	}
}

// trigger blocks every edge inside the corridor zone and alerts the
// neighborhood plus the crisis manager.
func (s *IncidentScenario) trigger(m *Model) {
	s.active = true
	now := m.Clock()
	expiry := s.cfg.StartTime + s.cfg.Duration

	affected := map[string]bool{}
	for _, id := range m.Network.NodeIDs() {
		node := m.Network.Node(id)
		if pointSegmentDistance(node.Pos, s.corridorA, s.corridorB) <= incidentZoneRadius {
			affected[id] = true
		}
	}
	for id := range affected {
		node := m.Network.Node(id)
		for nb := range node.Neighbors {
			if affected[nb] && id < nb {
				m.Network.AddTemporaryBlockage(id, nb, expiry)
				if err := m.microsim.BlockEdge(id, nb); err != nil {
					logrus.Debugf("microsim block %s-%s: %v", id, nb, err)
				}
				s.BlockedEdges++
			}
		}
	}

	center := Midpoint(s.corridorA, s.corridorB)
	alert := CongestionReport{Level: 1.0, Location: center, Reason: "incident"}
	for _, a := range m.AgentList() {
		if a.ID() == crisisManagerID || !a.Active() {
			continue
		}
		if Distance(center, a.Position()) > s.cfg.NotifyRadius {
			continue
		}
		m.Bus.Route(m, NewMessage(incidentSenderID, a.ID(), PerformativeInform, alert, now))
		s.AlertsSent++
	}

	m.Bus.Route(m, NewMessage(incidentSenderID, crisisManagerID, PerformativeInform, IncidentReport{
		IncidentType: "road_blockage",
		Location:     center,
		Severity:     1.0,
		RoadName:     s.cfg.BlockedRoad.Name,
	}, now))
	s.lastBroadcast = now

	logrus.Infof("incident on %q: %d edges blocked until t=%.0f, %d agents alerted",
		s.cfg.BlockedRoad.Name, s.BlockedEdges, expiry, s.AlertsSent)
}

// remindIntersections re-sends the congestion alert to intersections
// in range while the incident persists.
func (s *IncidentScenario) remindIntersections(m *Model) {
	now := m.Clock()
	center := Midpoint(s.corridorA, s.corridorB)
	alert := CongestionReport{Level: 1.0, Location: center, Reason: "incident"}
	for _, ix := range m.ActiveIntersections() {
		if Distance(center, ix.Pos) > s.cfg.NotifyRadius {
			continue
		}
		m.Bus.Route(m, NewMessage(incidentSenderID, ix.ID(), PerformativeInform, alert, now))
		s.AlertsSent++
	}
	s.lastBroadcast = now
}

// Active reports whether the blockage is currently in force.
func (s *IncidentScenario) Active() bool { return s.active }

// Statistics implements Scenario.
func (s *IncidentScenario) Statistics() map[string]any {
	return map[string]any{
		"blocked_edges": s.BlockedEdges,
		"alerts_sent":   s.AlertsSent,
		"active":        s.active,
		"resolved":      s.resolved,
	}
}

// pointSegmentDistance is the distance from p to segment ab.
func pointSegmentDistance(p, a, b Position) float64 {
	abx, aby := b.X-a.X, b.Y-a.Y
	lenSq := abx*abx + aby*aby
	if lenSq == 0 {
		return Distance(p, a)
	}
	t := ((p.X-a.X)*abx + (p.Y-a.Y)*aby) / lenSq
	t = clamp(t, 0, 1)
	return Distance(p, Position{X: a.X + t*abx, Y: a.Y + t*aby})
}
