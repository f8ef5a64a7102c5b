package sim

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// Direction is a compass approach into an intersection.
type Direction string

const (
	North Direction = "north"
	South Direction = "south"
	East  Direction = "east"
	West  Direction = "west"
)

// AllDirections is the fixed iteration order for approaches.
var AllDirections = []Direction{North, South, East, West}

// LightState is the signal shown to one approach.
type LightState string

const (
	LightRed    LightState = "red"
	LightYellow LightState = "yellow"
	LightGreen  LightState = "green"
)

// Phase names which opposing pair currently has green.
type Phase string

const (
	PhaseNS Phase = "NS"
	PhaseEW Phase = "EW"
)

// phaseDirections returns the approaches served by a phase.
func phaseDirections(p Phase) []Direction {
	if p == PhaseNS {
		return []Direction{North, South}
	}
	return []Direction{East, West}
}

// otherPhase returns the opposing phase.
func otherPhase(p Phase) Phase {
	if p == PhaseNS {
		return PhaseEW
	}
	return PhaseNS
}

// CongestionLevel is the local classification an intersection reports.
type CongestionLevel string

const (
	CongestionLow    CongestionLevel = "low"
	CongestionMedium CongestionLevel = "medium"
	CongestionStrong CongestionLevel = "strong"
)

const (
	detectionRadius   = 50.0   // meters, approach queue scan
	syncInterval      = 10.0   // seconds between neighbor snapshots
	snapshotValidity  = 30.0   // seconds before a neighbor snapshot goes stale
	corridorSpeed     = 8.33   // m/s assumed platoon speed between intersections
	saturationFlow    = 0.5    // vehicles per second per green approach (1800 veh/h)
	pressureSwitchGap = 5.0    // pressure advantage required to switch early
	pressureIdleFloor = 2.0    // below this, an elapsed green yields immediately
	greenWaveMinFlow  = 2.0    // expected vehicles required to arm a green wave
	maxApproachQueue  = 40     // vehicles the approaches can hold, CNP capacity
	cnpBidFloor       = 0.3    // minimum availability to bid on a CFP
)

// greenWaveState tracks a coordinated platoon commitment.
type greenWaveState struct {
	lockTimer float64 // seconds the current phase stays locked
	pending   bool    // apply target at the next admissible change
	target    Phase
}

// IntersectionStats is the end-of-run summary for one intersection.
type IntersectionStats struct {
	ID                   string
	PhaseChanges         int
	VehiclesProcessed    float64
	AvgWaitingTime       float64
	CoordinationMessages int
	GreenWavesHonored    int
	EmergencyPriorities  int
}

// Intersection is a BDI agent controlling a four-approach signalized
// junction.
type Intersection struct {
	AgentCore

	Pos    Position
	Phase  Phase
	Lights map[Direction]LightState

	queues  map[Direction]int
	virtual map[Direction]int // detector overrides fed by scenarios/tests

	phaseTimer    float64 // seconds in the current phase
	greenDuration float64 // target length of the current green

	minGreen            float64
	maxGreen            float64
	yellowTime          float64
	congestionThreshold int

	algorithm string
	learner   *QLearner
	prevWait  float64 // total waiting at the previous learning decision

	Neighbors []string // coordination partner ids
	snapshots map[string]NeighborState

	wave       greenWaveState
	lastSyncAt float64

	localCongestion CongestionLevel

	PhaseChanges         int
	VehiclesProcessed    float64
	CoordinationMessages int
	GreenWavesHonored    int
	EmergencyPriorities  int
	totalWaiting         float64
}

// NewIntersection creates an intersection with an NS green.
func NewIntersection(id string, pos Position, cfg *Config, learner *QLearner) *Intersection {
	tl := cfg.Algorithms.TrafficLight
	ix := &Intersection{
		AgentCore:           newAgentCore(id, cfg.Simulation.TimeStep),
		Pos:                 pos,
		Phase:               PhaseNS,
		Lights:              make(map[Direction]LightState, len(AllDirections)),
		queues:              make(map[Direction]int, len(AllDirections)),
		virtual:             make(map[Direction]int),
		minGreen:            tl.MinGreenTime,
		maxGreen:            tl.MaxGreenTime,
		yellowTime:          tl.YellowTime,
		congestionThreshold: tl.CongestionThreshold,
		algorithm:           tl.Algorithm,
		learner:             learner,
		snapshots:           make(map[string]NeighborState),
		lastSyncAt:          -syncInterval,
		localCongestion:     CongestionLow,
	}
	ix.greenDuration = tl.MinGreenTime
	ix.applyPhaseLights()
	return ix
}

// Position implements Agent.
func (ix *Intersection) Position() Position { return ix.Pos }

// Step implements Agent.
func (ix *Intersection) Step(m *Model) {
	ix.runCycle(m, ix)
}

// InjectQueue feeds a persistent virtual detector count for one
// approach, on top of vehicles observed in the world.
func (ix *Intersection) InjectQueue(dir Direction, count int) {
	ix.virtual[dir] = count
}

// QueueLength returns the latest observed queue for an approach.
func (ix *Intersection) QueueLength(dir Direction) int {
	return ix.queues[dir]
}

// TotalQueue returns the sum of all approach queues.
func (ix *Intersection) TotalQueue() int {
	total := 0
	for _, d := range AllDirections {
		total += ix.queues[d]
	}
	return total
}

// PhaseTimer returns seconds spent in the current phase.
func (ix *Intersection) PhaseTimer() float64 { return ix.phaseTimer }

// LocalCongestion returns the latest local classification.
func (ix *Intersection) LocalCongestion() CongestionLevel { return ix.localCongestion }

// applyPhaseLights sets green for the current phase and red elsewhere.
// Yellow is modeled as part of the inter-green handled by min-green
// accounting, not as a separate displayed state.
func (ix *Intersection) applyPhaseLights() {
	for _, d := range AllDirections {
		ix.Lights[d] = LightRed
	}
	for _, d := range phaseDirections(ix.Phase) {
		ix.Lights[d] = LightGreen
	}
}

// approachDirection classifies where `from` sits relative to the
// intersection, i.e. which approach its traffic enters on.
func (ix *Intersection) approachDirection(from Position) Direction {
	dx := from.X - ix.Pos.X
	dy := from.Y - ix.Pos.Y
	if math.Abs(dx) > math.Abs(dy) {
		if dx > 0 {
			return East
		}
		return West
	}
	if dy > 0 {
		return North
	}
	return South
}

// phaseForDirection returns the phase serving an approach.
func phaseForDirection(d Direction) Phase {
	if d == North || d == South {
		return PhaseNS
	}
	return PhaseEW
}

// Perceive implements Behavior: scan approach queues, classify local
// congestion, accumulate waiting, and process messages.
func (ix *Intersection) Perceive(m *Model) {
	now := ix.Clock()
	for _, d := range AllDirections {
		ix.queues[d] = ix.virtual[d]
	}
	for _, v := range m.VehiclesNear(ix.Pos, detectionRadius, "") {
		d := ix.approachDirection(v.Pos)
		ix.queues[d]++
	}

	maxQ := 0
	for _, d := range AllDirections {
		if ix.queues[d] > maxQ {
			maxQ = ix.queues[d]
		}
	}
	switch {
	case float64(maxQ) > 1.5*float64(ix.congestionThreshold):
		ix.localCongestion = CongestionStrong
	case maxQ > ix.congestionThreshold:
		ix.localCongestion = CongestionMedium
	default:
		ix.localCongestion = CongestionLow
	}
	ix.Beliefs().Update(BeliefQueues, ix.snapshotQueues(), 1.0, "perception", now)
	ix.Beliefs().Update(BeliefCongestion, ix.localCongestion, 1.0, "perception", now)

	dt := m.TimeStep()
	ix.totalWaiting += float64(ix.TotalQueue()) * dt
	for _, d := range phaseDirections(ix.Phase) {
		released := saturationFlow * dt
		if q := float64(ix.queues[d]); q < released {
			released = q
		}
		ix.VehiclesProcessed += released
	}

	ix.processMessages(m, ix)
}

func (ix *Intersection) snapshotQueues() map[Direction]int {
	out := make(map[Direction]int, len(AllDirections))
	for _, d := range AllDirections {
		out[d] = ix.queues[d]
	}
	return out
}

// GenerateDesires implements Behavior.
func (ix *Intersection) GenerateDesires(m *Model) []Desire {
	desires := []Desire{{Kind: DesireOptimizeFlow, Priority: 1.0}}
	if ix.localCongestion != CongestionLow {
		desires = append(desires, Desire{Kind: DesireAvoidCongestion, Priority: 0.9})
	}
	if len(ix.Neighbors) > 0 {
		desires = append(desires, Desire{Kind: DesireCoordinate, Priority: 0.7})
	}
	return desires
}

// Deliberate implements Behavior: advance the phase timer, decide on a
// switch, and schedule coordination work.
func (ix *Intersection) Deliberate(m *Model) []Intention {
	dt := m.TimeStep()
	ix.phaseTimer += dt
	if ix.wave.lockTimer > 0 {
		ix.wave.lockTimer -= dt
	}

	var intentions []Intention
	if target, change := ix.shouldChangePhase(); change {
		intentions = append(intentions, Intention{
			Kind:    IntentChangeLights,
			Status:  StatusPending,
			Reason:  string(ix.localCongestion),
			Payload: target,
		})
	}
	if ix.localCongestion == CongestionStrong {
		intentions = append(intentions, Intention{Kind: IntentBroadcastCongest, Status: StatusPending})
	}
	if len(ix.Neighbors) > 0 && ix.Clock()-ix.lastSyncAt >= syncInterval {
		ix.lastSyncAt = ix.Clock()
		intentions = append(intentions, Intention{Kind: IntentNegotiateNeighbor, Status: StatusPending})
	}
	return intentions
}

// shouldChangePhase applies the green-wave lock, then the configured
// control policy.
func (ix *Intersection) shouldChangePhase() (Phase, bool) {
	if ix.wave.lockTimer > 0 {
		return ix.Phase, false
	}
	target := otherPhase(ix.Phase)
	if ix.wave.pending {
		target = ix.wave.target
		if target == ix.Phase {
			ix.wave.pending = false
			target = otherPhase(ix.Phase)
		}
	}

	if ix.algorithm == LightQLearning && ix.learner != nil {
		return target, ix.qlearningDecision()
	}
	return target, ix.maxPressureDecision()
}

// maxPressureDecision switches when the opposing phase accumulates
// materially more pressure, the green has idled out, or the green hit
// its hard cap.
func (ix *Intersection) maxPressureDecision() bool {
	if ix.phaseTimer < ix.minGreen {
		return false
	}
	current := ix.phasePressure(ix.Phase)
	alternative := ix.phasePressure(otherPhase(ix.Phase))

	if alternative > current+pressureSwitchGap {
		return true
	}
	if ix.phaseTimer > ix.greenDuration && current < pressureIdleFloor {
		return true
	}
	return ix.phaseTimer > ix.maxGreen
}

// phasePressure is the served-queue total minus the estimated
// downstream queues those approaches feed into.
func (ix *Intersection) phasePressure(p Phase) float64 {
	pressure := 0.0
	for _, d := range phaseDirections(p) {
		pressure += float64(ix.queues[d]) - ix.downstreamEstimate(d)
	}
	return pressure
}

// downstreamEstimate guesses the queue beyond one approach: the mean
// queue of a fresh neighbor snapshot in that direction, or a default
// biased by our own light state.
func (ix *Intersection) downstreamEstimate(d Direction) float64 {
	for _, snap := range ix.snapshots {
		if ix.Clock()-snap.Timestamp > snapshotValidity {
			continue
		}
		if ix.approachDirection(snap.Location) != d {
			continue
		}
		total := 0
		for _, q := range snap.QueueLengths {
			total += q
		}
		if len(snap.QueueLengths) > 0 {
			return float64(total) / float64(len(snap.QueueLengths))
		}
	}
	if ix.Lights[d] == LightGreen {
		return 2
	}
	return 5
}

// qlearningDecision runs one learning step. The reward prefers falling
// total waiting, penalizes queues above the congestion threshold, and
// rewards throughput.
func (ix *Intersection) qlearningDecision() bool {
	nsQ := ix.queues[North] + ix.queues[South]
	ewQ := ix.queues[East] + ix.queues[West]
	state := QState(nsQ, ewQ, ix.Phase)

	curWait := float64(ix.TotalQueue())
	maxQ := math.Max(float64(nsQ), float64(ewQ))
	reward := (ix.prevWait - curWait) -
		0.5*math.Max(0, maxQ-float64(ix.congestionThreshold)) +
		0.1*ix.outflowEstimate()
	ix.prevWait = curWait

	change := ix.learner.Decide(state, reward)
	if change && ix.phaseTimer < ix.minGreen {
		return false
	}
	return change
}

// changePhase commits a switch and recomputes the green duration.
func (ix *Intersection) changePhase(target Phase) {
	if target == ix.Phase {
		return
	}
	ix.Phase = target
	ix.applyPhaseLights()
	ix.phaseTimer = 0
	ix.greenDuration = ix.dynamicGreenDuration(target)
	ix.PhaseChanges++
	if ix.wave.pending && ix.wave.target == target {
		ix.wave.pending = false
		ix.GreenWavesHonored++
	}
	logrus.Debugf("intersection %s: phase -> %s for %.0fs", ix.ID(), target, ix.greenDuration)
}

// dynamicGreenDuration sizes a green from the served queues plus a
// bonus for platoons announced by upstream neighbors.
func (ix *Intersection) dynamicGreenDuration(p Phase) float64 {
	maxQ := 0
	for _, d := range phaseDirections(p) {
		if ix.queues[d] > maxQ {
			maxQ = ix.queues[d]
		}
	}
	base := ix.minGreen + float64(maxQ)*2

	inflow := 0.0
	for _, snap := range ix.snapshots {
		if ix.Clock()-snap.Timestamp > snapshotValidity {
			continue
		}
		if phaseForDirection(ix.approachDirection(snap.Location)) == p {
			inflow += snap.OutflowEstimate
		}
	}
	bonus := math.Min(2*inflow, 20.0)
	return math.Min(base+bonus, ix.maxGreen)
}

// outflowEstimate is the expected discharge rate in vehicles/second
// given the current green approaches.
func (ix *Intersection) outflowEstimate() float64 {
	rate := 0.0
	for _, d := range phaseDirections(ix.Phase) {
		if ix.queues[d] > 0 {
			rate += saturationFlow
		}
	}
	return rate
}

// ExecuteIntention implements Behavior.
func (ix *Intersection) ExecuteIntention(m *Model, it *Intention) error {
	switch it.Kind {
	case IntentChangeLights:
		target, ok := it.Payload.(Phase)
		if !ok {
			return fmt.Errorf("intersection %s: change lights without a phase", ix.ID())
		}
		ix.changePhase(target)
		if err := m.microsim.SetPhase(ix.ID(), ix.Phase); err != nil {
			logrus.Debugf("microsim phase %s: %v", ix.ID(), err)
		}
		return nil
	case IntentBroadcastCongest:
		level := math.Min(1.0, float64(ix.TotalQueue())/float64(2*ix.congestionThreshold*len(AllDirections)))
		ix.send(NewMessage(ix.ID(), BroadcastReceiver, PerformativeInform, CongestionReport{
			Level:    level,
			Location: ix.Pos,
			Reason:   "congestion",
		}, ix.Clock()))
		return nil
	case IntentNegotiateNeighbor:
		ix.broadcastState()
		ix.applyNeighborCoordination()
		return nil
	default:
		return fmt.Errorf("intersection %s: unsupported intention %s", ix.ID(), it.Kind)
	}
}

// broadcastState unicasts the coordination snapshot to each neighbor.
func (ix *Intersection) broadcastState() {
	snap := NeighborState{
		Phase:               ix.Phase,
		PhaseTimerRemaining: math.Max(0, ix.greenDuration-ix.phaseTimer),
		QueueLengths:        ix.snapshotQueues(),
		OutflowEstimate:     ix.outflowEstimate(),
		Location:            ix.Pos,
		Timestamp:           ix.Clock(),
	}
	for _, id := range ix.Neighbors {
		msg := NewMessage(ix.ID(), id, PerformativeInform, snap, ix.Clock())
		msg.Protocol = ProtocolGreenWave
		ix.send(msg)
		ix.CoordinationMessages++
	}
}

// applyNeighborCoordination arms a green wave for the strongest fresh
// upstream platoon. If the platoon arrives within one min-green and our
// current green is old enough, the phase is forced and locked; if the
// matching phase is already shown, it is extended; otherwise the target
// is remembered for the next admissible change.
func (ix *Intersection) applyNeighborCoordination() {
	now := ix.Clock()
	bestFlow := 0.0
	var bestSnap NeighborState
	found := false
	for _, snap := range ix.snapshots {
		if now-snap.Timestamp > snapshotValidity {
			continue
		}
		expected := snap.OutflowEstimate * math.Max(snap.PhaseTimerRemaining, 1)
		if expected > bestFlow {
			bestFlow = expected
			bestSnap = snap
			found = true
		}
	}
	if !found || bestFlow < greenWaveMinFlow {
		return
	}

	wantPhase := phaseForDirection(ix.approachDirection(bestSnap.Location))
	arrivalIn := bestSnap.PhaseTimerRemaining + Distance(ix.Pos, bestSnap.Location)/corridorSpeed
	lock := math.Min(2*bestFlow, ix.maxGreen)

	switch {
	case wantPhase == ix.Phase:
		ix.wave.lockTimer = math.Max(ix.wave.lockTimer, lock)
		ix.GreenWavesHonored++
	case arrivalIn <= ix.minGreen && ix.phaseTimer >= ix.minGreen:
		ix.changePhase(wantPhase)
		ix.wave.lockTimer = lock
		ix.GreenWavesHonored++
	default:
		ix.wave.pending = true
		ix.wave.target = wantPhase
	}
}

// PendingGreenWave reports a stored (not yet applied) wave target.
func (ix *Intersection) PendingGreenWave() (Phase, bool) {
	return ix.wave.target, ix.wave.pending
}

// GreenWaveLockRemaining returns seconds the current phase is locked.
func (ix *Intersection) GreenWaveLockRemaining() float64 {
	return math.Max(0, ix.wave.lockTimer)
}

// forceGreen serves an approach immediately when the min-green floor
// allows it; otherwise the request is remembered for the next change.
// Returns whether the approach is green now.
func (ix *Intersection) forceGreen(d Direction) bool {
	target := phaseForDirection(d)
	// Priority requests trump an armed green wave.
	ix.wave.lockTimer = 0
	if target == ix.Phase {
		ix.phaseTimer = 0
		return true
	}
	if ix.phaseTimer >= ix.minGreen {
		ix.changePhase(target)
		return true
	}
	ix.wave.pending = true
	ix.wave.target = target
	return false
}

// HandleMessage implements Behavior.
func (ix *Intersection) HandleMessage(m *Model, msg Message) {
	now := ix.Clock()
	switch content := msg.Content.(type) {
	case NeighborState:
		ix.snapshots[msg.Sender] = content
	case CongestionReport:
		ix.Beliefs().Update(BeliefCongestion, content, 0.8, msg.Sender, now)
	case EmergencyPriority:
		ix.handleEmergencyPriority(msg, content)
	case CallForProposals:
		ix.handleCallForProposals(msg, content)
	case TaskAward:
		if msg.Performative == PerformativeAcceptProposal {
			ix.forceGreen(content.PriorityDirection)
			reply := msg.CreateReply(PerformativeAgree, content, now)
			ix.send(reply)
		}
	case StatusQuery:
		ix.send(msg.CreateReply(PerformativeInform, StatusReport{
			Subject:         content.Subject,
			CongestionLevel: string(ix.localCongestion),
			Lights:          ix.lightsCopy(),
			QueueLengths:    ix.snapshotQueues(),
		}, now))
	default:
		if msg.Performative == PerformativeRejectProposal {
			return // lost a CNP round, nothing to do
		}
		ix.UnknownMessages++
	}
}

func (ix *Intersection) lightsCopy() map[Direction]LightState {
	out := make(map[Direction]LightState, len(ix.Lights))
	for d, s := range ix.Lights {
		out[d] = s
	}
	return out
}

// handleEmergencyPriority clears a path for an approaching emergency
// vehicle and acknowledges.
func (ix *Intersection) handleEmergencyPriority(msg Message, content EmergencyPriority) {
	dir := ix.approachDirection(content.VehiclePosition)
	granted := ix.forceGreen(dir)
	ix.EmergencyPriorities++
	if granted {
		logrus.Debugf("intersection %s: emergency priority for %s via %s", ix.ID(), content.VehicleID, dir)
	}
	ix.send(msg.CreateReply(PerformativeInform, EmergencyAck{
		IntersectionID: ix.ID(),
		GreenPhase:     ix.Phase,
	}, ix.Clock()))
}

// handleCallForProposals bids when enough capacity is free, refuses
// otherwise.
func (ix *Intersection) handleCallForProposals(msg Message, content CallForProposals) {
	load := ix.TotalQueue()
	availability := 1 - float64(load)/float64(maxApproachQueue)
	if availability > cnpBidFloor {
		ix.send(msg.CreateReply(PerformativePropose, Proposal{
			Task:         content.Task,
			Availability: availability,
			CurrentLoad:  load,
			Location:     ix.Pos,
		}, ix.Clock()))
	} else {
		ix.send(msg.CreateReply(PerformativeRefuse, Proposal{
			Task:         content.Task,
			Availability: availability,
			CurrentLoad:  load,
			Location:     ix.Pos,
		}, ix.Clock()))
	}
}

// Stats returns the end-of-run summary.
func (ix *Intersection) Stats() IntersectionStats {
	avgWait := 0.0
	if ix.VehiclesProcessed > 0 {
		avgWait = ix.totalWaiting / ix.VehiclesProcessed
	}
	return IntersectionStats{
		ID:                   ix.ID(),
		PhaseChanges:         ix.PhaseChanges,
		VehiclesProcessed:    ix.VehiclesProcessed,
		AvgWaitingTime:       avgWait,
		CoordinationMessages: ix.CoordinationMessages,
		GreenWavesHonored:    ix.GreenWavesHonored,
		EmergencyPriorities:  ix.EmergencyPriorities,
	}
}
