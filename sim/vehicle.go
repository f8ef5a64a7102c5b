package sim

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// VehicleType distinguishes kinematics and emergency status.
type VehicleType string

const (
	VehicleStandard  VehicleType = "standard"
	VehicleBus       VehicleType = "bus"
	VehicleAmbulance VehicleType = "ambulance"
	VehicleFire      VehicleType = "fire_truck"
	VehiclePolice    VehicleType = "police"
)

// IsEmergency reports whether the type gets network-wide priority.
func (t VehicleType) IsEmergency() bool {
	switch t {
	case VehicleAmbulance, VehicleFire, VehiclePolice:
		return true
	}
	return false
}

// maxSpeedForType returns the type-specific speed cap in m/s.
// standardMax comes from config; service vehicles override it.
func maxSpeedForType(t VehicleType, standardMax float64) float64 {
	switch t {
	case VehicleAmbulance, VehiclePolice:
		return 22.22
	case VehicleFire:
		return 19.44
	case VehicleBus:
		return 11.11
	default:
		return standardMax
	}
}

// TrafficState classifies local traffic around a vehicle.
type TrafficState string

const (
	TrafficSmooth    TrafficState = "smooth"
	TrafficDense     TrafficState = "dense"
	TrafficCongested TrafficState = "congested"
)

const (
	arrivalTolerance    = 10.0 // meters to destination counted as arrived
	headwayDistance     = 20.0 // meters, following distance trigger
	nearbyCacheValidity = 10.0 // seconds between nearby-vehicle scans
)

// Reroute reasons recorded in the reroute log.
const (
	ReroutePeriodic        = "periodic_check"
	RerouteHighCongestion  = "high_congestion"
	RerouteCongestionAlert = "congestion_alert"
	RerouteIncidentAlert   = "incident_alert"
	RerouteNoRoute         = "no_route"
)

// RerouteRecord documents one route change.
type RerouteRecord struct {
	Time            float64
	Reason          string
	CongestionLevel float64
	OldWaypoints    int
	NewWaypoints    int
	At              Position
}

// VehicleStats is the end-of-run summary for one vehicle.
type VehicleStats struct {
	ID           string
	Type         VehicleType
	TravelTime   float64
	Distance     float64
	RouteChanges int
	Stops        int
	StuckTime    float64
	Arrived      bool
}

// Vehicle is a BDI agent driving from origin to destination along a
// routed waypoint sequence.
type Vehicle struct {
	AgentCore

	Type        VehicleType
	Pos         Position
	Origin      Position
	Destination Position

	Speed    float64 // m/s
	MaxSpeed float64 // m/s
	Accel    float64 // m/s^2
	Decel    float64 // m/s^2

	Route         []Position
	WaypointIndex int

	TravelTime   float64
	Distance     float64
	RouteChanges int
	Stops        int
	StuckTime    float64
	Arrived      bool

	RerouteLog []RerouteRecord

	rerouteInterval   float64
	rerouteTimer      float64 // seconds since last congestion reroute check
	perceptionRadius  float64
	waypointTolerance float64
	stopped           bool
	pendingAlert      string // reroute reason forced by a received inform

	nearby          []*Vehicle
	nearbyScannedAt float64
}

// NewVehicle creates a vehicle at its origin with an empty route.
func NewVehicle(id string, vtype VehicleType, origin, destination Position, cfg *Config) *Vehicle {
	v := &Vehicle{
		AgentCore:         newAgentCore(id, cfg.Simulation.TimeStep),
		Type:              vtype,
		Pos:               origin,
		Origin:            origin,
		Destination:       destination,
		MaxSpeed:          maxSpeedForType(vtype, cfg.Vehicle.MaxSpeed),
		Accel:             cfg.Vehicle.Acceleration,
		Decel:             cfg.Vehicle.Deceleration,
		rerouteInterval:   cfg.Vehicle.RerouteInterval,
		perceptionRadius:  cfg.Vehicle.PerceptionRadius,
		waypointTolerance: cfg.Vehicle.WaypointTolerance,
		nearbyScannedAt:   -nearbyCacheValidity,
	}
	// First congestion reroute is allowed as soon as congestion shows up.
	v.rerouteTimer = cfg.Vehicle.RerouteInterval
	return v
}

// Position implements Agent.
func (v *Vehicle) Position() Position { return v.Pos }

// Step implements Agent: one BDI cycle plus clock bookkeeping.
func (v *Vehicle) Step(m *Model) {
	if !v.Active() {
		return
	}
	dt := m.TimeStep()
	v.runCycle(m, v)
	if !v.Active() {
		return
	}
	v.TravelTime += dt
	v.rerouteTimer += dt
	if v.Speed < 0.1 && !v.stopped {
		v.StuckTime += dt
	}
}

// Perceive refreshes self-beliefs, scans nearby traffic (cached), and
// processes delivered messages.
func (v *Vehicle) Perceive(m *Model) {
	now := v.Clock()
	v.Beliefs().Update(BeliefPosition, v.Pos, 1.0, "perception", now)
	v.Beliefs().Update(BeliefSpeed, v.Speed, 1.0, "perception", now)
	v.Beliefs().Update(BeliefDestination, v.Destination, 1.0, "perception", now)

	if now-v.nearbyScannedAt >= nearbyCacheValidity {
		v.nearby = m.VehiclesNear(v.Pos, v.perceptionRadius, v.ID())
		v.nearbyScannedAt = now
	}
	v.Beliefs().Update(BeliefNearby, len(v.nearby), 0.9, "perception", now)
	v.Beliefs().Update(BeliefTrafficState, classifyTraffic(len(v.nearby)), 0.9, "perception", now)

	v.processMessages(m, v)
}

func classifyTraffic(nearbyCount int) TrafficState {
	switch {
	case nearbyCount > 10:
		return TrafficCongested
	case nearbyCount > 5:
		return TrafficDense
	default:
		return TrafficSmooth
	}
}

// GenerateDesires implements Behavior.
func (v *Vehicle) GenerateDesires(m *Model) []Desire {
	desires := []Desire{
		{Kind: DesireReachDestination, Priority: 1.0},
		{Kind: DesireMinimizeTravel, Priority: 0.8},
	}
	if state, _ := v.Beliefs().Value(BeliefTrafficState, v.Clock()).(TrafficState); state == TrafficCongested {
		desires = append(desires, Desire{Kind: DesireAvoidCongestion, Priority: 0.9})
	}
	return desires
}

// Deliberate implements Behavior. Exactly one movement intention is
// adopted per cycle, in strict priority order.
func (v *Vehicle) Deliberate(m *Model) []Intention {
	atDestination := Distance(v.Pos, v.Destination) < arrivalTolerance

	if len(v.Route) == 0 && !atDestination {
		return []Intention{{Kind: IntentChangeRoute, Status: StatusPending, Priority: 1.0, Reason: RerouteNoRoute}}
	}
	if atDestination {
		return []Intention{{Kind: IntentStop, Status: StatusPending, Priority: 1.0, Reason: "arrived"}}
	}

	if v.pendingAlert != "" {
		reason := v.pendingAlert
		v.pendingAlert = ""
		return []Intention{{Kind: IntentChangeRoute, Status: StatusPending, Priority: 1.0, Reason: reason}}
	}

	state, _ := v.Beliefs().Value(BeliefTrafficState, v.Clock()).(TrafficState)
	if state == TrafficCongested && v.rerouteTimer >= v.rerouteInterval {
		v.rerouteTimer = 0
		reason := ReroutePeriodic
		if lvl := v.congestionBeliefLevel(); lvl > 0.7 {
			reason = RerouteHighCongestion
		}
		return []Intention{{Kind: IntentChangeRoute, Status: StatusPending, Priority: 0.9, Reason: reason}}
	}

	if ahead := v.vehicleAhead(); ahead != nil && ahead.Speed < v.Speed {
		return []Intention{{
			Kind:    IntentDecelerate,
			Status:  StatusPending,
			Reason:  "slower vehicle ahead",
			Payload: v.Speed * 0.5,
		}}
	}

	return []Intention{{Kind: IntentMoveForward, Status: StatusPending, Priority: 0.5}}
}

func (v *Vehicle) congestionBeliefLevel() float64 {
	if report, ok := v.Beliefs().Value(BeliefCongestion, v.Clock()).(CongestionReport); ok {
		return report.Level
	}
	return 0
}

// vehicleAhead returns the closest cached vehicle within headway
// distance roughly in the direction of travel.
func (v *Vehicle) vehicleAhead() *Vehicle {
	target := v.currentWaypoint()
	if target == nil {
		return nil
	}
	dirX, dirY := UnitVector(v.Pos, *target)
	var closest *Vehicle
	closestDist := headwayDistance
	for _, other := range v.nearby {
		if !other.Active() {
			continue
		}
		d := Distance(v.Pos, other.Pos)
		if d >= closestDist {
			continue
		}
		// Dot product keeps only vehicles in front of us.
		ox, oy := UnitVector(v.Pos, other.Pos)
		if dirX*ox+dirY*oy <= 0 {
			continue
		}
		closest = other
		closestDist = d
	}
	return closest
}

func (v *Vehicle) currentWaypoint() *Position {
	if v.WaypointIndex < 0 || v.WaypointIndex >= len(v.Route) {
		return nil
	}
	return &v.Route[v.WaypointIndex]
}

// ExecuteIntention implements Behavior.
func (v *Vehicle) ExecuteIntention(m *Model, it *Intention) error {
	switch it.Kind {
	case IntentMoveForward:
		return v.moveForward(m.TimeStep())
	case IntentAccelerate:
		target, _ := it.Payload.(float64)
		v.Speed = clamp(target, 0, v.MaxSpeed)
		return nil
	case IntentDecelerate:
		target, _ := it.Payload.(float64)
		v.Speed = clamp(target, 0, v.MaxSpeed)
		return v.moveForward(m.TimeStep())
	case IntentChangeRoute:
		return v.recalculateRoute(m, it.Reason)
	case IntentStop:
		v.Speed = 0
		v.stopped = true
		v.Stops++
		v.Arrived = true
		v.Deactivate()
		return nil
	default:
		return fmt.Errorf("vehicle %s: unsupported intention %s", v.ID(), it.Kind)
	}
}

// moveForward accelerates toward the speed cap and translates along
// the route, consuming waypoints within tolerance.
func (v *Vehicle) moveForward(dt float64) error {
	target := v.currentWaypoint()
	if target == nil {
		return errors.New("move forward without a waypoint")
	}
	v.stopped = false
	v.Speed = clamp(v.Speed+v.Accel*dt, 0, v.MaxSpeed)

	step := v.Speed * dt
	remaining := Distance(v.Pos, *target)
	if step > remaining {
		step = remaining
	}
	dirX, dirY := UnitVector(v.Pos, *target)
	v.Pos.X += dirX * step
	v.Pos.Y += dirY * step
	v.Distance += step

	if Distance(v.Pos, *target) <= v.waypointTolerance {
		v.WaypointIndex++
	}
	return nil
}

var errNoRoute = errors.New("no route to destination")

// recalculateRoute asks the router for a fresh path. On failure the
// previous route is kept and the intention fails; the vehicle retries
// on a later cycle.
func (v *Vehicle) recalculateRoute(m *Model, reason string) error {
	path := m.Router().FindPath(v.Pos, v.Destination)
	if path == nil {
		logrus.Debugf("vehicle %s: no route from (%.0f,%.0f), keeping current", v.ID(), v.Pos.X, v.Pos.Y)
		return errNoRoute
	}
	oldLen := len(v.Route)
	v.Route = path
	v.WaypointIndex = 0
	if oldLen > 0 {
		v.RouteChanges++
	}
	v.RerouteLog = append(v.RerouteLog, RerouteRecord{
		Time:            v.Clock(),
		Reason:          reason,
		CongestionLevel: v.congestionBeliefLevel(),
		OldWaypoints:    oldLen,
		NewWaypoints:    len(path),
		At:              v.Pos,
	})
	return nil
}

// HandleMessage implements Behavior. Vehicles only act on congestion
// informs; everything else is counted and ignored.
func (v *Vehicle) HandleMessage(m *Model, msg Message) {
	if msg.Performative != PerformativeInform {
		v.UnknownMessages++
		return
	}
	report, ok := msg.Content.(CongestionReport)
	if !ok {
		v.UnknownMessages++
		return
	}
	now := v.Clock()
	v.Beliefs().Update(BeliefCongestion, report, 0.8, msg.Sender, now)

	// Severe congestion and incident alerts bypass the reroute cooldown.
	if report.Reason == "incident" {
		v.pendingAlert = RerouteIncidentAlert
	} else if report.Level >= 0.7 {
		v.pendingAlert = RerouteCongestionAlert
	}
}

// Stats returns the end-of-run summary.
func (v *Vehicle) Stats() VehicleStats {
	return VehicleStats{
		ID:           v.ID(),
		Type:         v.Type,
		TravelTime:   v.TravelTime,
		Distance:     v.Distance,
		RouteChanges: v.RouteChanges,
		Stops:        v.Stops,
		StuckTime:    v.StuckTime,
		Arrived:      v.Arrived,
	}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
