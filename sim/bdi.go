package sim

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// BeliefKind names a slot in an agent's belief store. One belief per
// kind; updating a kind replaces the previous belief.
type BeliefKind string

const (
	BeliefPosition     BeliefKind = "position"
	BeliefSpeed        BeliefKind = "speed"
	BeliefDestination  BeliefKind = "destination"
	BeliefRoute        BeliefKind = "route"
	BeliefTrafficState BeliefKind = "traffic_state"
	BeliefNearby       BeliefKind = "nearby_vehicles"
	BeliefCongestion   BeliefKind = "congestion"
	BeliefQueues       BeliefKind = "queue_lengths"
	BeliefLightState   BeliefKind = "light_state"
)

// DefaultBeliefValidity is how long a belief stays usable, in simulated
// seconds.
const DefaultBeliefValidity = 10.0

// Belief is one dated piece of knowledge. The Value payload is
// kind-specific; readers type-assert.
type Belief struct {
	Kind       BeliefKind
	Value      any
	Confidence float64 // 0..1
	Timestamp  float64 // simulated clock at update
	Source     string  // "perception" or a sender agent id
}

// BeliefStore holds an agent's current beliefs with expiry.
type BeliefStore struct {
	beliefs  map[BeliefKind]Belief
	validity float64
}

// NewBeliefStore creates a store with the given validity window.
// A window <= 0 falls back to DefaultBeliefValidity.
func NewBeliefStore(validity float64) *BeliefStore {
	if validity <= 0 {
		validity = DefaultBeliefValidity
	}
	return &BeliefStore{
		beliefs:  make(map[BeliefKind]Belief),
		validity: validity,
	}
}

// Update replaces the belief for a kind.
func (s *BeliefStore) Update(kind BeliefKind, value any, confidence float64, source string, now float64) {
	s.beliefs[kind] = Belief{
		Kind:       kind,
		Value:      value,
		Confidence: confidence,
		Timestamp:  now,
		Source:     source,
	}
}

// Get returns the belief for a kind if present and not expired.
func (s *BeliefStore) Get(kind BeliefKind, now float64) (Belief, bool) {
	b, ok := s.beliefs[kind]
	if !ok || now-b.Timestamp > s.validity {
		return Belief{}, false
	}
	return b, true
}

// Value returns the payload for a kind, or nil when absent/expired.
func (s *BeliefStore) Value(kind BeliefKind, now float64) any {
	b, ok := s.Get(kind, now)
	if !ok {
		return nil
	}
	return b.Value
}

// DropExpired removes beliefs older than the validity window.
func (s *BeliefStore) DropExpired(now float64) int {
	dropped := 0
	for k, b := range s.beliefs {
		if now-b.Timestamp > s.validity {
			delete(s.beliefs, k)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of live beliefs (including any not yet swept).
func (s *BeliefStore) Len() int {
	return len(s.beliefs)
}

// DesireKind names a goal an agent can pursue.
type DesireKind string

const (
	DesireReachDestination  DesireKind = "reach_destination"
	DesireMinimizeTravel    DesireKind = "minimize_travel_time"
	DesireAvoidCongestion   DesireKind = "avoid_congestion"
	DesireOptimizeFlow      DesireKind = "optimize_flow"
	DesireCoordinate        DesireKind = "coordinate_with_neighbors"
	DesirePrioritizeEmerg   DesireKind = "prioritize_emergency"
)

// Desire is a prioritized goal. Desires are regenerated from scratch
// every cycle and sorted by descending priority before deliberation.
type Desire struct {
	Kind     DesireKind
	Priority float64
}

// IntentionKind names a concrete committed action.
type IntentionKind string

const (
	IntentMoveForward       IntentionKind = "move_forward"
	IntentAccelerate        IntentionKind = "accelerate"
	IntentDecelerate        IntentionKind = "decelerate"
	IntentChangeRoute       IntentionKind = "change_route"
	IntentStop              IntentionKind = "stop"
	IntentChangeLights      IntentionKind = "change_light_timing"
	IntentBroadcastCongest  IntentionKind = "broadcast_congestion"
	IntentNegotiateNeighbor IntentionKind = "negotiate_with_neighbor"
	IntentCreateGreenWave   IntentionKind = "create_green_wave"
	IntentDelegatePriority  IntentionKind = "delegate_priority"
)

// IntentionStatus is the lifecycle state of an intention.
type IntentionStatus string

const (
	StatusPending   IntentionStatus = "pending"
	StatusExecuting IntentionStatus = "executing"
	StatusCompleted IntentionStatus = "completed"
	StatusFailed    IntentionStatus = "failed"
)

// Intention is one committed action, executed within the cycle that
// adopted it and purged afterwards. Payload carries kind-specific
// parameters; executors type-assert.
type Intention struct {
	Kind     IntentionKind
	Status   IntentionStatus
	Priority float64
	Reason   string // why the intention was adopted
	Payload  any
}

// ActionRecord is one entry in an agent's bounded action history.
type ActionRecord struct {
	Time    float64
	Kind    IntentionKind
	Success bool
	Reason  string
}

// actionHistoryCap bounds the per-agent action history ring.
const actionHistoryCap = 100

// Behavior is the variant part of the BDI cycle. Each agent type
// implements it; AgentCore drives the fixed cycle order around it.
type Behavior interface {
	// Perceive refreshes beliefs from the world and processes inbox
	// messages via HandleMessage.
	Perceive(m *Model)
	// GenerateDesires rebuilds the goal set for this cycle.
	GenerateDesires(m *Model) []Desire
	// Deliberate turns the sorted desires into new intentions.
	Deliberate(m *Model) []Intention
	// ExecuteIntention performs one intention. A returned error marks
	// the intention failed; it never aborts the cycle.
	ExecuteIntention(m *Model, it *Intention) error
	// HandleMessage reacts to one delivered message.
	HandleMessage(m *Model, msg Message)
}

// Agent is the scheduler's view of any simulated actor.
type Agent interface {
	ID() string
	Position() Position
	Active() bool
	Mailbox() *Mailbox
	Step(m *Model)
}

// AgentCore holds the state shared by all agent types and drives the
// perceive / desire / deliberate / execute cycle.
type AgentCore struct {
	id       string
	clock    float64 // this agent's simulated clock, seconds
	timeStep float64
	active   bool

	beliefs    *BeliefStore
	desires    []Desire
	intentions []Intention
	mailbox    *Mailbox
	history    []ActionRecord

	IntentionsCompleted int
	IntentionsFailed    int
	UnknownMessages     int
}

func newAgentCore(id string, timeStep float64) AgentCore {
	return AgentCore{
		id:       id,
		timeStep: timeStep,
		active:   true,
		beliefs:  NewBeliefStore(DefaultBeliefValidity),
		mailbox:  NewMailbox(DefaultInboxCapacity),
	}
}

// ID returns the agent id.
func (c *AgentCore) ID() string { return c.id }

// Active reports whether the agent still participates in the run.
func (c *AgentCore) Active() bool { return c.active }

// Deactivate removes the agent from future activations. Its mailbox
// stays addressable until the scheduler harvests it.
func (c *AgentCore) Deactivate() { c.active = false }

// Mailbox returns the agent's mailbox.
func (c *AgentCore) Mailbox() *Mailbox { return c.mailbox }

// Clock returns the agent's simulated clock.
func (c *AgentCore) Clock() float64 { return c.clock }

// Beliefs returns the agent's belief store.
func (c *AgentCore) Beliefs() *BeliefStore { return c.beliefs }

// Desires returns the current cycle's sorted desires.
func (c *AgentCore) Desires() []Desire { return c.desires }

// History returns the bounded action history, oldest first.
func (c *AgentCore) History() []ActionRecord { return c.history }

// send stamps and queues an outgoing message.
func (c *AgentCore) send(msg Message) {
	c.mailbox.Send(msg)
}

// runCycle executes one full BDI cycle. Inactive agents do nothing.
func (c *AgentCore) runCycle(m *Model, b Behavior) {
	if !c.active {
		return
	}

	b.Perceive(m)
	c.beliefs.DropExpired(c.clock)

	c.desires = b.GenerateDesires(m)
	sort.SliceStable(c.desires, func(i, j int) bool {
		return c.desires[i].Priority > c.desires[j].Priority
	})

	c.intentions = append(c.intentions, b.Deliberate(m)...)
	c.executeIntentions(m, b)

	c.clock += c.timeStep
}

// processMessages drains the inbox in FIFO order through the behavior's
// handler. Called from each Perceive implementation.
func (c *AgentCore) processMessages(m *Model, b Behavior) {
	for _, msg := range c.mailbox.DrainInbox() {
		b.HandleMessage(m, msg)
	}
}

// executeIntentions runs every pending intention to a terminal status
// and purges the list. A panic inside a handler is converted to a
// failed intention so one agent cannot take down the scheduler.
func (c *AgentCore) executeIntentions(m *Model, b Behavior) {
	for i := range c.intentions {
		it := &c.intentions[i]
		if it.Status != StatusPending {
			continue
		}
		it.Status = StatusExecuting
		err := c.safeExecute(m, b, it)
		if err != nil {
			it.Status = StatusFailed
			c.IntentionsFailed++
			logrus.Debugf("agent %s: intention %s failed: %v", c.id, it.Kind, err)
		} else {
			it.Status = StatusCompleted
			c.IntentionsCompleted++
		}
		c.recordAction(ActionRecord{
			Time:    c.clock,
			Kind:    it.Kind,
			Success: err == nil,
			Reason:  it.Reason,
		})
	}
	c.intentions = c.intentions[:0]
}

func (c *AgentCore) safeExecute(m *Model, b Behavior, it *Intention) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", it.Kind, r)
		}
	}()
	return b.ExecuteIntention(m, it)
}

func (c *AgentCore) recordAction(rec ActionRecord) {
	if len(c.history) >= actionHistoryCap {
		c.history = c.history[1:]
	}
	c.history = append(c.history, rec)
}
