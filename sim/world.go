package sim

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	intersectionDivisions = 5   // grid divisions of the map edge
	neighborRadiusFactor  = 1.5 // times intersection spacing
	crisisManagerID       = "crisis_manager"
)

// Model owns the world state and drives the tick pipeline:
// activate agents in random order, drain their outboxes through the
// bus, harvest arrivals, run scenario hooks, restore expired
// blockages, refresh congestion weights, and snapshot KPIs.
type Model struct {
	cfg *Config
	rng *PartitionedRNG

	Network *RoadNetwork
	router  *DynamicRouter
	Bus     *MessageBus

	agents        []Agent // stable creation order
	agentIndex    map[string]Agent
	vehicles      []*Vehicle
	intersections []*Intersection
	Crisis        *CrisisManager

	scenarios []Scenario
	recorder  Recorder
	microsim  MicrosimSync
	obs       *Collector

	tick  int
	clock float64
	runID string

	Metrics *Metrics

	// previous cumulative values, for Prometheus counter deltas
	lastPhaseChanges int
	lastGreenWaves   int
	lastArrivals     int
	vehicleSeq       int
}

// ModelOption customizes construction.
type ModelOption func(*Model)

// WithRecorder attaches a persistence backend.
func WithRecorder(r Recorder) ModelOption {
	return func(m *Model) { m.recorder = r }
}

// WithMicrosim attaches an external microscopic simulator.
func WithMicrosim(ms MicrosimSync) ModelOption {
	return func(m *Model) { m.microsim = ms }
}

// WithCollector attaches Prometheus instrumentation.
func WithCollector(c *Collector) ModelOption {
	return func(m *Model) {
		m.obs = c
		m.Bus.SetCollector(c)
	}
}

// WithScenario registers a scenario hook. Setup runs during NewModel.
func WithScenario(s Scenario) ModelOption {
	return func(m *Model) { m.scenarios = append(m.scenarios, s) }
}

// NewModel builds the world: road grid, intersections with neighbor
// wiring, the crisis manager, and the initial vehicle fleet.
func NewModel(cfg *Config, opts ...ModelOption) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Model{
		cfg:        cfg,
		rng:        NewPartitionedRNG(NewSimulationKey(cfg.Simulation.RandomSeed)),
		Network:    NewRoadNetwork(),
		Bus:        NewMessageBus(DefaultBroadcastRadius),
		agentIndex: make(map[string]Agent),
		recorder:   NopRecorder{},
		microsim:   NopMicrosim{},
		Metrics:    &Metrics{},
	}

	env := cfg.Environment
	cols := int(env.Width/env.CellSize) + 1
	rows := int(env.Height/env.CellSize) + 1
	m.Network.BuildGrid(cols, rows, env.CellSize)

	m.router = NewDynamicRouter(
		m.Network,
		cfg.Algorithms.Routing.Algorithm == RoutingAStar,
		cfg.Algorithms.Routing.CacheSize,
		cfg.Algorithms.Routing.ConsiderTraffic,
	)

	m.buildIntersections()

	m.Crisis = NewCrisisManager(crisisManagerID, Position{X: env.Width / 2, Y: env.Height / 2}, cfg)
	m.register(m.Crisis)

	for _, opt := range opts {
		opt(m)
	}

	m.createInitialFleet()

	for _, s := range m.scenarios {
		if err := s.Setup(m); err != nil {
			return nil, fmt.Errorf("scenario setup: %w", err)
		}
	}

	names := make([]string, len(m.scenarios))
	for i, s := range m.scenarios {
		names[i] = s.Name()
	}
	m.runID = uuid.NewString()
	if err := m.recorder.Begin(RunHeader{
		RunID:    m.runID,
		Name:     "traffic-sim",
		Scenario: strings.Join(names, ","),
		Seed:     cfg.Simulation.RandomSeed,
	}); err != nil {
		logrus.Warnf("recorder begin: %v", err)
	}

	logrus.Infof("model ready: %d nodes, %d intersections, %d vehicles",
		m.Network.Stats().Nodes, len(m.intersections), len(m.vehicles))
	return m, nil
}

// buildIntersections places signalized junctions on an inner lattice
// and wires neighbors within 1.5x spacing.
func (m *Model) buildIntersections() {
	env := m.cfg.Environment
	spacingX := env.Width / intersectionDivisions
	spacingY := env.Height / intersectionDivisions
	policyRNG := m.rng.ForSubsystem(SubsystemPolicy)

	for i := 1; i < intersectionDivisions; i++ {
		for j := 1; j < intersectionDivisions; j++ {
			id := fmt.Sprintf("intersection_%d_%d", i, j)
			pos := Position{X: float64(i) * spacingX, Y: float64(j) * spacingY}
			var learner *QLearner
			if m.cfg.Algorithms.TrafficLight.Algorithm == LightQLearning {
				learner = NewQLearner(policyRNG)
			}
			ix := NewIntersection(id, pos, m.cfg, learner)
			m.intersections = append(m.intersections, ix)
			m.register(ix)
		}
	}

	neighborRadius := neighborRadiusFactor * spacingX
	if spacingY > spacingX {
		neighborRadius = neighborRadiusFactor * spacingY
	}
	for _, a := range m.intersections {
		for _, b := range m.intersections {
			if a.ID() == b.ID() {
				continue
			}
			if Distance(a.Pos, b.Pos) <= neighborRadius {
				a.Neighbors = append(a.Neighbors, b.ID())
			}
		}
	}
}

// vehicleTypeMix is the creation-time distribution of the initial
// fleet: mostly standard traffic with a service/emergency share.
var vehicleTypeMix = []struct {
	t VehicleType
	p float64
}{
	{VehicleStandard, 0.70},
	{VehicleBus, 0.10},
	{VehicleAmbulance, 0.05},
	{VehicleFire, 0.05},
	{VehiclePolice, 0.05},
	{VehicleStandard, 0.05},
}

func (m *Model) createInitialFleet() {
	rng := m.rng.ForSubsystem(SubsystemScenario)
	env := m.cfg.Environment
	for i := 0; i < m.cfg.Simulation.NumVehicles; i++ {
		origin := Position{X: rng.Float64() * env.Width, Y: rng.Float64() * env.Height}
		dest := Position{X: rng.Float64() * env.Width, Y: rng.Float64() * env.Height}
		m.SpawnVehicle(sampleFromMix(rng, vehicleTypeMix), origin, dest)
	}
}

// SpawnVehicle creates, routes, and registers one vehicle. A missing
// initial route is recoverable: the vehicle requests one on its first
// cycle.
func (m *Model) SpawnVehicle(vtype VehicleType, origin, destination Position) *Vehicle {
	m.vehicleSeq++
	id := fmt.Sprintf("vehicle_%d", m.vehicleSeq)
	v := NewVehicle(id, vtype, origin, destination, m.cfg)
	if path := m.router.FindPath(origin, destination); path != nil {
		v.Route = path
	}
	m.vehicles = append(m.vehicles, v)
	m.register(v)
	m.Metrics.VehiclesCreated++
	if err := m.microsim.AddVehicle(id, vtype, origin, destination); err != nil {
		logrus.Debugf("microsim add %s: %v", id, err)
	}
	return v
}

func (m *Model) register(a Agent) {
	m.agents = append(m.agents, a)
	m.agentIndex[a.ID()] = a
}

// === World accessors ===

// AgentByID returns a registered agent or nil.
func (m *Model) AgentByID(id string) Agent { return m.agentIndex[id] }

// AgentList returns all registered agents in creation order.
func (m *Model) AgentList() []Agent { return m.agents }

// ActiveVehicles returns vehicles still driving.
func (m *Model) ActiveVehicles() []*Vehicle {
	out := make([]*Vehicle, 0, len(m.vehicles))
	for _, v := range m.vehicles {
		if v.Active() {
			out = append(out, v)
		}
	}
	return out
}

// ActiveIntersections returns all intersections.
func (m *Model) ActiveIntersections() []*Intersection { return m.intersections }

// VehiclesNear returns active vehicles within radius of pos, excluding
// the given id.
func (m *Model) VehiclesNear(pos Position, radius float64, excludeID string) []*Vehicle {
	var out []*Vehicle
	for _, v := range m.vehicles {
		if !v.Active() || v.ID() == excludeID {
			continue
		}
		if Distance(pos, v.Pos) <= radius {
			out = append(out, v)
		}
	}
	return out
}

// Router returns the path finder vehicles use.
func (m *Model) Router() Router { return m.router }

// DynamicRouter returns the traffic-aware router for weight updates.
func (m *Model) DynamicRouter() *DynamicRouter { return m.router }

// Clock returns the simulated time in seconds.
func (m *Model) Clock() float64 { return m.clock }

// Tick returns the completed tick count.
func (m *Model) Tick() int { return m.tick }

// TimeStep returns the simulated seconds per tick.
func (m *Model) TimeStep() float64 { return m.cfg.Simulation.TimeStep }

// Config returns the run configuration.
func (m *Model) Config() *Config { return m.cfg }

// RNG returns the partitioned random source.
func (m *Model) RNG() *PartitionedRNG { return m.rng }

// === Tick pipeline ===

// Step advances the simulation by one tick.
func (m *Model) Step() {
	order := m.activationOrder()

	for _, idx := range order {
		m.agents[idx].Step(m)
	}

	// Outboxes drain in the same activation order, so messages sent
	// this tick are observable next tick.
	for _, idx := range order {
		a := m.agents[idx]
		for _, msg := range a.Mailbox().DrainOutbox() {
			m.Bus.Route(m, msg)
		}
	}

	m.harvestArrivals()

	for _, s := range m.scenarios {
		s.Step(m, m.tick)
	}

	m.Network.RestoreExpiredBlockages(m.clock)

	if m.tick%KPIInterval == 0 {
		m.refreshTrafficWeights()
		m.recordSnapshot()
	}

	if err := m.microsim.StepOnce(); err != nil {
		logrus.Debugf("microsim step: %v", err)
	}

	m.tick++
	m.clock += m.cfg.Simulation.TimeStep
}

// activationOrder returns a fresh uniformly random permutation of all
// agents from the activation RNG.
func (m *Model) activationOrder() []int {
	return m.rng.ForSubsystem(SubsystemActivation).Perm(len(m.agents))
}

// harvestArrivals retires vehicles that reached their destination.
// Their mailboxes stop being addressable, so stragglers addressed to
// them count as bus drops.
func (m *Model) harvestArrivals() {
	remaining := m.vehicles[:0]
	for _, v := range m.vehicles {
		if v.Active() {
			remaining = append(remaining, v)
			continue
		}
		if v.Arrived {
			m.Metrics.VehiclesArrived++
			m.Metrics.TotalTravelTime += v.TravelTime
		}
		m.Metrics.TotalDistance += v.Distance
		if err := m.recorder.RecordVehicle(v.Stats()); err != nil {
			logrus.Warnf("recorder vehicle %s: %v", v.ID(), err)
		}
		if err := m.microsim.RemoveVehicle(v.ID()); err != nil {
			logrus.Debugf("microsim remove %s: %v", v.ID(), err)
		}
		delete(m.agentIndex, v.ID())
		m.removeAgent(v.ID())
	}
	m.vehicles = remaining
}

func (m *Model) removeAgent(id string) {
	for i, a := range m.agents {
		if a.ID() == id {
			m.agents = append(m.agents[:i], m.agents[i+1:]...)
			return
		}
	}
}

// refreshTrafficWeights projects intersection congestion onto the
// router's edge factors. Edges incident to a strongly congested
// intersection cost up to 3x their base weight.
func (m *Model) refreshTrafficWeights() {
	m.router.ClearTrafficFactors()
	for _, ix := range m.intersections {
		if ix.LocalCongestion() != CongestionStrong {
			continue
		}
		node := m.Network.NearestNode(ix.Pos)
		if node == nil {
			continue
		}
		factor := 1 + float64(ix.TotalQueue())/10
		if factor > 3 {
			factor = 3
		}
		for nb := range node.Neighbors {
			m.router.SetTrafficFactor(node.ID, nb, factor)
		}
	}
}

// recordSnapshot computes one KPI observation.
func (m *Model) recordSnapshot() {
	active := m.ActiveVehicles()
	speedSum := 0.0
	for _, v := range active {
		speedSum += v.Speed
	}
	avgSpeed := 0.0
	if len(active) > 0 {
		avgSpeed = speedSum / float64(len(active))
	}

	queueSum := 0
	for _, ix := range m.intersections {
		queueSum += ix.TotalQueue()
	}
	avgQueue := 0.0
	if len(m.intersections) > 0 {
		avgQueue = float64(queueSum) / float64(len(m.intersections))
	}

	congestion := 0.0
	if len(active) > 0 {
		congestion = 1 - avgSpeed/m.cfg.Vehicle.MaxSpeed
		if congestion < 0 {
			congestion = 0
		}
	}

	s := Snapshot{
		Tick:            m.tick,
		Time:            m.clock,
		ActiveVehicles:  len(active),
		Arrivals:        m.Metrics.VehiclesArrived,
		AvgTravelTime:   m.Metrics.AvgTravelTime(),
		AvgSpeed:        avgSpeed,
		AvgQueueLength:  avgQueue,
		CongestionIndex: congestion,
		TotalMessages:   m.Bus.TotalRouted,
	}
	m.Metrics.Record(s)
	if err := m.recorder.RecordSnapshot(s); err != nil {
		logrus.Warnf("recorder snapshot: %v", err)
	}
	m.publishObservations(s)
}

// publishObservations syncs gauges and advances the delta counters.
func (m *Model) publishObservations(s Snapshot) {
	if m.obs == nil {
		return
	}
	m.obs.ObserveSnapshot(s)

	phaseChanges := 0
	greenWaves := 0
	for _, ix := range m.intersections {
		phaseChanges += ix.PhaseChanges
		greenWaves += ix.GreenWavesHonored
	}
	m.obs.PhaseChanges.Add(float64(phaseChanges - m.lastPhaseChanges))
	m.obs.GreenWaves.Add(float64(greenWaves - m.lastGreenWaves))
	m.obs.Arrivals.Add(float64(m.Metrics.VehiclesArrived - m.lastArrivals))
	m.lastPhaseChanges = phaseChanges
	m.lastGreenWaves = greenWaves
	m.lastArrivals = m.Metrics.VehiclesArrived
}

// Run executes the configured number of ticks and finalizes stats.
func (m *Model) Run() {
	maxTicks := int(m.cfg.Simulation.Duration / m.cfg.Simulation.TimeStep)
	logrus.Infof("starting run: %d ticks of %.1fs, seed %d",
		maxTicks, m.cfg.Simulation.TimeStep, m.cfg.Simulation.RandomSeed)

	for m.tick < maxTicks {
		m.Step()
		if m.tick%100 == 0 {
			logrus.Infof("[tick %07d] vehicles=%d arrived=%d messages=%d",
				m.tick, len(m.ActiveVehicles()), m.Metrics.VehiclesArrived, m.Bus.TotalRouted)
		}
	}
	m.finalize()
}

// finalize aggregates component counters into Metrics and flushes the
// recorder.
func (m *Model) finalize() {
	for _, ix := range m.intersections {
		m.Metrics.PhaseChanges += ix.PhaseChanges
		m.Metrics.GreenWaves += ix.GreenWavesHonored
		m.Metrics.EmergencyGrants += ix.EmergencyPriorities
		if err := m.recorder.RecordIntersection(ix.Stats()); err != nil {
			logrus.Warnf("recorder intersection %s: %v", ix.ID(), err)
		}
	}
	for _, v := range m.vehicles {
		m.Metrics.TotalDistance += v.Distance
		if err := m.recorder.RecordVehicle(v.Stats()); err != nil {
			logrus.Warnf("recorder vehicle %s: %v", v.ID(), err)
		}
	}
	m.Metrics.MessagesRouted = m.Bus.TotalRouted
	m.Metrics.MessagesDropped = m.Bus.DroppedUnknown
	m.Metrics.ContractsAwarded = m.Crisis.ContractsAwarded
	cache := m.router.AStar().Cache()
	m.Metrics.CacheHits = cache.Hits
	m.Metrics.CacheMisses = cache.Misses

	if err := m.recorder.End(m.runID, m.clock); err != nil {
		logrus.Warnf("recorder end: %v", err)
	}
	logrus.Infof("run complete: %d ticks, %d arrived of %d created",
		m.tick, m.Metrics.VehiclesArrived, m.Metrics.VehiclesCreated)
}
