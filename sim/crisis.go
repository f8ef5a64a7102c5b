package sim

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

const (
	greenWaveDispatchRadius = 300.0 // meters around an emergency route
	cnpQuorum               = 2     // proposals required before awarding
	criticalQueueAvg        = 15.0
	strongQueueAvg          = 8.0
	mediumQueueAvg          = 4.0
)

// EmergencySighting is one tracked emergency vehicle.
type EmergencySighting struct {
	VehicleID string
	Type      VehicleType
	Pos       Position
	Route     []Position
}

// CongestedSpot is one intersection flagged for Contract-Net relief.
type CongestedSpot struct {
	IntersectionID string
	Pos            Position
	QueueTotal     int
	WorstDirection Direction
	Neighbors      []string
}

// IncidentRecord is a received incident report.
type IncidentRecord struct {
	ReceivedAt float64
	Report     IncidentReport
	Sender     string
}

// CrisisStats is the end-of-run summary for the crisis manager.
type CrisisStats struct {
	Interventions     int
	GreenWavesCreated int
	ContractsAwarded  int
	ActiveIncidents   int
}

// cnpRound tracks one open Contract-Net conversation.
type cnpRound struct {
	direction Direction
	openedAt  float64
	proposals []Message
}

// CrisisManager is the network-level BDI agent: it tracks emergency
// vehicles, requests green waves along their routes, and delegates
// congestion relief through Contract-Net rounds.
type CrisisManager struct {
	AgentCore

	Pos Position

	emergencies []EmergencySighting
	congested   []CongestedSpot
	globalLevel CongestionLevel

	rounds    map[string]*cnpRound // conversation id -> round
	incidents []IncidentRecord

	// greenWaved de-duplicates per (vehicle, intersection) requests.
	greenWaved map[string]bool

	Interventions     int
	GreenWavesCreated int
	ContractsAwarded  int
}

// NewCrisisManager creates the crisis manager at a fixed position
// (conventionally the map center).
func NewCrisisManager(id string, pos Position, cfg *Config) *CrisisManager {
	return &CrisisManager{
		AgentCore:  newAgentCore(id, cfg.Simulation.TimeStep),
		Pos:        pos,
		rounds:     make(map[string]*cnpRound),
		greenWaved: make(map[string]bool),
	}
}

// Position implements Agent.
func (cm *CrisisManager) Position() Position { return cm.Pos }

// Step implements Agent.
func (cm *CrisisManager) Step(m *Model) {
	cm.runCycle(m, cm)
}

// GlobalCongestion returns the latest network-wide classification.
func (cm *CrisisManager) GlobalCongestion() CongestionLevel { return cm.globalLevel }

// Incidents returns the received incident reports.
func (cm *CrisisManager) Incidents() []IncidentRecord { return cm.incidents }

// Perceive implements Behavior: scan for emergency vehicles, rate the
// network-wide congestion, and collect relief candidates.
func (cm *CrisisManager) Perceive(m *Model) {
	now := cm.Clock()

	cm.emergencies = cm.emergencies[:0]
	for _, v := range m.ActiveVehicles() {
		if !v.Type.IsEmergency() {
			continue
		}
		cm.emergencies = append(cm.emergencies, EmergencySighting{
			VehicleID: v.ID(),
			Type:      v.Type,
			Pos:       v.Pos,
			Route:     v.Route,
		})
	}

	intersections := m.ActiveIntersections()
	totalQueue := 0
	cm.congested = cm.congested[:0]
	for _, ix := range intersections {
		q := ix.TotalQueue()
		totalQueue += q
		if ix.LocalCongestion() == CongestionStrong {
			cm.congested = append(cm.congested, CongestedSpot{
				IntersectionID: ix.ID(),
				Pos:            ix.Pos,
				QueueTotal:     q,
				WorstDirection: worstDirection(ix),
				Neighbors:      ix.Neighbors,
			})
		}
	}

	avg := 0.0
	if len(intersections) > 0 {
		avg = float64(totalQueue) / float64(len(intersections))
	}
	switch {
	case avg > criticalQueueAvg:
		cm.globalLevel = "critical"
	case avg > strongQueueAvg:
		cm.globalLevel = CongestionStrong
	case avg > mediumQueueAvg:
		cm.globalLevel = CongestionMedium
	default:
		cm.globalLevel = CongestionLow
	}
	cm.Beliefs().Update(BeliefCongestion, cm.globalLevel, 1.0, "perception", now)

	cm.processMessages(m, cm)
}

func worstDirection(ix *Intersection) Direction {
	worst := North
	for _, d := range AllDirections {
		if ix.QueueLength(d) > ix.QueueLength(worst) {
			worst = d
		}
	}
	return worst
}

// GenerateDesires implements Behavior.
func (cm *CrisisManager) GenerateDesires(m *Model) []Desire {
	desires := []Desire{{Kind: DesireOptimizeFlow, Priority: 0.5}}
	if len(cm.emergencies) > 0 {
		desires = append(desires, Desire{Kind: DesirePrioritizeEmerg, Priority: 1.0})
	}
	if len(cm.congested) > 0 {
		desires = append(desires, Desire{Kind: DesireCoordinate, Priority: 0.8})
	}
	return desires
}

// Deliberate implements Behavior.
func (cm *CrisisManager) Deliberate(m *Model) []Intention {
	var intentions []Intention
	for _, e := range cm.emergencies {
		intentions = append(intentions, Intention{
			Kind:    IntentCreateGreenWave,
			Status:  StatusPending,
			Reason:  string(e.Type),
			Payload: e,
		})
	}
	for _, spot := range cm.congested {
		intentions = append(intentions, Intention{
			Kind:    IntentDelegatePriority,
			Status:  StatusPending,
			Reason:  string(cm.globalLevel),
			Payload: spot,
		})
	}
	return intentions
}

// ExecuteIntention implements Behavior.
func (cm *CrisisManager) ExecuteIntention(m *Model, it *Intention) error {
	switch it.Kind {
	case IntentCreateGreenWave:
		e, ok := it.Payload.(EmergencySighting)
		if !ok {
			return fmt.Errorf("crisis: green wave without a sighting")
		}
		cm.requestGreenWave(m, e)
		return nil
	case IntentDelegatePriority:
		spot, ok := it.Payload.(CongestedSpot)
		if !ok {
			return fmt.Errorf("crisis: delegation without a target")
		}
		cm.openContractRound(spot)
		return nil
	default:
		return fmt.Errorf("crisis: unsupported intention %s", it.Kind)
	}
}

// requestGreenWave sends emergency-priority requests to intersections
// near the emergency vehicle's remaining route (or position when it
// has no route yet). Each (vehicle, intersection) pair is asked once.
func (cm *CrisisManager) requestGreenWave(m *Model, e EmergencySighting) {
	waypoints := e.Route
	if len(waypoints) == 0 {
		waypoints = []Position{e.Pos}
	}
	for _, ix := range m.ActiveIntersections() {
		if !nearAnyWaypoint(ix.Pos, waypoints, greenWaveDispatchRadius) {
			continue
		}
		dedup := e.VehicleID + "/" + ix.ID()
		if cm.greenWaved[dedup] {
			continue
		}
		cm.greenWaved[dedup] = true

		msg := NewMessage(cm.ID(), ix.ID(), PerformativeRequest, EmergencyPriority{
			VehicleID:       e.VehicleID,
			VehicleType:     e.Type,
			VehiclePosition: e.Pos,
		}, cm.Clock())
		msg.Protocol = ProtocolEmergency
		cm.send(msg)
		cm.GreenWavesCreated++
		cm.Interventions++
	}
}

func nearAnyWaypoint(pos Position, waypoints []Position, radius float64) bool {
	for _, wp := range waypoints {
		if Distance(pos, wp) <= radius {
			return true
		}
	}
	return false
}

// openContractRound starts a Contract-Net negotiation: a call for
// proposals to every neighbor of the congested intersection.
func (cm *CrisisManager) openContractRound(spot CongestedSpot) {
	if len(spot.Neighbors) == 0 {
		return
	}
	conversation := NewConversationID()
	cm.rounds[conversation] = &cnpRound{
		direction: spot.WorstDirection,
		openedAt:  cm.Clock(),
	}
	for _, id := range spot.Neighbors {
		msg := NewMessage(cm.ID(), id, PerformativeRequest, CallForProposals{
			Task:              "congestion-relief",
			CongestedID:       spot.IntersectionID,
			CongestedLocation: spot.Pos,
			QueueTotal:        spot.QueueTotal,
			PriorityDirection: spot.WorstDirection,
		}, cm.Clock())
		msg.Protocol = ProtocolContractNet
		msg.ConversationID = conversation
		cm.send(msg)
	}
	cm.Interventions++
}

// HandleMessage implements Behavior: collect bids and award rounds,
// record incident reports.
func (cm *CrisisManager) HandleMessage(m *Model, msg Message) {
	switch content := msg.Content.(type) {
	case Proposal:
		if msg.Performative != PerformativePropose {
			return // refusals carry no obligation
		}
		cm.collectProposal(msg)
	case IncidentReport:
		cm.incidents = append(cm.incidents, IncidentRecord{
			ReceivedAt: cm.Clock(),
			Report:     content,
			Sender:     msg.Sender,
		})
		logrus.Infof("crisis: incident %q reported at (%.0f,%.0f) severity %.2f",
			content.IncidentType, content.Location.X, content.Location.Y, content.Severity)
	case EmergencyAck:
		// Priority confirmed; nothing further to coordinate.
	default:
		cm.UnknownMessages++
	}
}

// collectProposal stores a bid and closes the round once a quorum of
// proposals arrived: one accept to the best availability, rejects to
// the rest, then the conversation is dropped.
func (cm *CrisisManager) collectProposal(msg Message) {
	round, ok := cm.rounds[msg.ConversationID]
	if !ok {
		cm.UnknownMessages++
		return
	}
	round.proposals = append(round.proposals, msg)
	if len(round.proposals) < cnpQuorum {
		return
	}

	sort.SliceStable(round.proposals, func(i, j int) bool {
		pi := round.proposals[i].Content.(Proposal)
		pj := round.proposals[j].Content.(Proposal)
		return pi.Availability > pj.Availability
	})
	winner := round.proposals[0]
	cm.send(winner.CreateReply(PerformativeAcceptProposal, TaskAward{
		Task:              "congestion-relief",
		PriorityDirection: round.direction,
	}, cm.Clock()))
	for _, loser := range round.proposals[1:] {
		cm.send(loser.CreateReply(PerformativeRejectProposal, TaskAward{
			Task:              "congestion-relief",
			PriorityDirection: round.direction,
		}, cm.Clock()))
	}
	cm.ContractsAwarded++
	delete(cm.rounds, msg.ConversationID)
}

// OpenRounds returns the number of Contract-Net rounds awaiting quorum.
func (cm *CrisisManager) OpenRounds() int { return len(cm.rounds) }

// Stats returns the end-of-run summary.
func (cm *CrisisManager) Stats() CrisisStats {
	return CrisisStats{
		Interventions:     cm.Interventions,
		GreenWavesCreated: cm.GreenWavesCreated,
		ContractsAwarded:  cm.ContractsAwarded,
		ActiveIncidents:   len(cm.incidents),
	}
}
