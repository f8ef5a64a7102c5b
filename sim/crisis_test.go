package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCrisis(t *testing.T, m *Model) *CrisisManager {
	t.Helper()
	return NewCrisisManager("cm_test", Position{X: 500, Y: 500}, m.Config())
}

func openRound(t *testing.T, cm *CrisisManager) (conversation string) {
	t.Helper()
	cm.openContractRound(CongestedSpot{
		IntersectionID: "ix_hot",
		Pos:            Position{X: 400, Y: 400},
		QueueTotal:     25,
		WorstDirection: East,
		Neighbors:      []string{"ix_a", "ix_b", "ix_c"},
	})
	out := cm.Mailbox().DrainOutbox()
	require.Len(t, out, 3, "one CFP per neighbor")
	for _, msg := range out {
		assert.Equal(t, PerformativeRequest, msg.Performative)
		assert.Equal(t, ProtocolContractNet, msg.Protocol)
		cfp, ok := msg.Content.(CallForProposals)
		require.True(t, ok)
		assert.Equal(t, East, cfp.PriorityDirection)
	}
	return out[0].ConversationID
}

func TestCrisis_CNPAwardsBestAvailability(t *testing.T) {
	// GIVEN an open round with two bids of different quality
	m := newTestModel(t, testConfig())
	cm := newTestCrisis(t, m)
	conv := openRound(t, cm)

	bidA := NewMessage("ix_a", "cm_test", PerformativePropose,
		Proposal{Task: "congestion-relief", Availability: 0.6}, 1)
	bidA.ConversationID = conv
	bidB := NewMessage("ix_b", "cm_test", PerformativePropose,
		Proposal{Task: "congestion-relief", Availability: 0.9}, 1)
	bidB.ConversationID = conv

	// WHEN both proposals arrive
	cm.HandleMessage(m, bidA)
	assert.Equal(t, 1, cm.OpenRounds(), "round stays open below quorum")
	cm.HandleMessage(m, bidB)

	// THEN the better bidder wins, the other is rejected, and the
	// round closes
	out := cm.Mailbox().DrainOutbox()
	require.Len(t, out, 2)

	byReceiver := map[string]Message{}
	for _, msg := range out {
		byReceiver[msg.Receiver] = msg
	}
	winner := byReceiver["ix_b"]
	assert.Equal(t, PerformativeAcceptProposal, winner.Performative)
	award, ok := winner.Content.(TaskAward)
	require.True(t, ok)
	assert.Equal(t, East, award.PriorityDirection, "award carries the congested direction")

	loser := byReceiver["ix_a"]
	assert.Equal(t, PerformativeRejectProposal, loser.Performative)

	assert.Zero(t, cm.OpenRounds())
	assert.Equal(t, 1, cm.ContractsAwarded)
}

func TestCrisis_RefusalsDoNotCountTowardQuorum(t *testing.T) {
	m := newTestModel(t, testConfig())
	cm := newTestCrisis(t, m)
	conv := openRound(t, cm)

	refusal := NewMessage("ix_a", "cm_test", PerformativeRefuse,
		Proposal{Task: "congestion-relief", Availability: 0.1}, 1)
	refusal.ConversationID = conv

	cm.HandleMessage(m, refusal)

	assert.Equal(t, 1, cm.OpenRounds())
	assert.Empty(t, cm.Mailbox().DrainOutbox())
}

func TestCrisis_StrayProposalIgnored(t *testing.T) {
	m := newTestModel(t, testConfig())
	cm := newTestCrisis(t, m)

	stray := NewMessage("ix_x", "cm_test", PerformativePropose,
		Proposal{Availability: 0.5}, 1)
	stray.ConversationID = "unknown-conv"

	cm.HandleMessage(m, stray)

	assert.Equal(t, 1, cm.UnknownMessages)
	assert.Empty(t, cm.Mailbox().DrainOutbox())
}

func TestCrisis_GreenWaveRequestsAlongEmergencyRoute(t *testing.T) {
	// GIVEN a model with intersections and an ambulance crossing it
	m := newTestModel(t, testConfig())
	amb := m.SpawnVehicle(VehicleAmbulance, Position{X: 50, Y: 200}, Position{X: 950, Y: 200})
	require.NotEmpty(t, amb.Route)

	// WHEN the crisis manager perceives and acts
	m.Crisis.Step(m)
	out := m.Crisis.Mailbox().DrainOutbox()

	// THEN every request targets an intersection near the route
	require.NotEmpty(t, out)
	for _, msg := range out {
		assert.Equal(t, PerformativeRequest, msg.Performative)
		assert.Equal(t, ProtocolEmergency, msg.Protocol)
		content, ok := msg.Content.(EmergencyPriority)
		require.True(t, ok)
		assert.Equal(t, amb.ID(), content.VehicleID)

		ix, isIx := m.AgentByID(msg.Receiver).(*Intersection)
		require.True(t, isIx)
		assert.True(t, nearAnyWaypoint(ix.Pos, amb.Route, greenWaveDispatchRadius))
	}

	// AND the same pair is never asked twice
	first := len(out)
	m.Crisis.Step(m)
	assert.Empty(t, m.Crisis.Mailbox().DrainOutbox(), "no duplicate requests, got %d first", first)
}

func TestCrisis_GlobalCongestionClassification(t *testing.T) {
	// GIVEN intersections with heavy injected queues
	m := newTestModel(t, testConfig())
	for _, ix := range m.ActiveIntersections() {
		ix.InjectQueue(North, 10)
		ix.Step(m) // perceive fills queue counts
	}

	// WHEN the crisis manager perceives
	m.Crisis.Perceive(m)

	// THEN the network-wide level reflects the average queue
	assert.Equal(t, CongestionStrong, m.Crisis.GlobalCongestion())
}

func TestCrisis_RecordsIncidentReports(t *testing.T) {
	m := newTestModel(t, testConfig())
	cm := newTestCrisis(t, m)

	cm.HandleMessage(m, NewMessage(incidentSenderID, "cm_test", PerformativeInform, IncidentReport{
		IncidentType: "road_blockage",
		Location:     Position{X: 300, Y: 300},
		Severity:     1.0,
		RoadName:     "main street",
	}, 5))

	require.Len(t, cm.Incidents(), 1)
	assert.Equal(t, "road_blockage", cm.Incidents()[0].Report.IncidentType)
	assert.Equal(t, 1, cm.Stats().ActiveIncidents)
}
