package sim

import (
	"github.com/google/uuid"
)

// Performative is the FIPA speech-act label carried by every message.
type Performative string

const (
	PerformativeInform         Performative = "inform"
	PerformativeQueryRef       Performative = "query-ref"
	PerformativeRequest        Performative = "request"
	PerformativePropose        Performative = "propose"
	PerformativeAcceptProposal Performative = "accept-proposal"
	PerformativeRejectProposal Performative = "reject-proposal"
	PerformativeAgree          Performative = "agree"
	PerformativeRefuse         Performative = "refuse"
	PerformativeFailure        Performative = "failure"
)

// Protocol names used in the ConversationID/Protocol fields.
const (
	ProtocolGreenWave   = "green-wave-coordination"
	ProtocolContractNet = "contract-net"
	ProtocolEmergency   = "emergency-management"
)

// BroadcastReceiver addresses a message to every agent within the bus
// broadcast radius of the sender.
const BroadcastReceiver = "broadcast"

// Content is the typed payload of a message. It is a closed union:
// receivers dispatch on the concrete type and ignore payloads they do
// not understand.
type Content interface {
	contentKind() string
}

// CongestionReport announces observed congestion at a location.
type CongestionReport struct {
	Level    float64  // 0..1, 1 means fully blocked
	Location Position //
	Reason   string   // "congestion" or "incident"
}

// NeighborState is the periodic intersection snapshot used for
// green-wave coordination.
type NeighborState struct {
	Phase               Phase             //
	PhaseTimerRemaining float64           // seconds until a natural switch
	QueueLengths        map[Direction]int //
	OutflowEstimate     float64           // vehicles per second toward neighbors
	Location            Position          //
	Timestamp           float64           // sender's simulated clock
}

// EmergencyPriority asks an intersection to clear a path for an
// emergency vehicle.
type EmergencyPriority struct {
	VehicleID       string
	VehicleType     VehicleType
	VehiclePosition Position
}

// EmergencyAck confirms that priority was granted.
type EmergencyAck struct {
	IntersectionID string
	GreenPhase     Phase
}

// CallForProposals opens a Contract-Net round for congestion relief.
type CallForProposals struct {
	Task              string    // "congestion-relief"
	CongestedID       string    // intersection needing help
	CongestedLocation Position  //
	QueueTotal        int       //
	PriorityDirection Direction // approach that needs drainage
}

// Proposal is a contractor's bid in a Contract-Net round.
type Proposal struct {
	Task         string
	Availability float64 // 1 - load/capacity, higher is better
	CurrentLoad  int
	Location     Position
}

// TaskAward closes a Contract-Net round toward the winning contractor.
type TaskAward struct {
	Task              string
	PriorityDirection Direction
}

// IncidentReport notifies the crisis manager of a road incident.
type IncidentReport struct {
	IncidentType string
	Location     Position
	Severity     float64
	RoadName     string
}

// StatusQuery asks an intersection about its current state.
type StatusQuery struct {
	Subject string // "congestion" or "lights"
}

// StatusReport answers a StatusQuery.
type StatusReport struct {
	Subject         string
	CongestionLevel string
	Lights          map[Direction]LightState
	QueueLengths    map[Direction]int
}

func (CongestionReport) contentKind() string  { return "congestion" }
func (NeighborState) contentKind() string     { return "neighbor-state" }
func (EmergencyPriority) contentKind() string { return "emergency-priority" }
func (EmergencyAck) contentKind() string      { return "emergency-ack" }
func (CallForProposals) contentKind() string  { return "call-for-proposals" }
func (Proposal) contentKind() string          { return "proposal" }
func (TaskAward) contentKind() string         { return "task-award" }
func (IncidentReport) contentKind() string    { return "incident-report" }
func (StatusQuery) contentKind() string       { return "status-query" }
func (StatusReport) contentKind() string      { return "status-report" }

// Message is an immutable FIPA-style envelope. Once sent, a message is
// never mutated; replies are fresh envelopes derived via CreateReply.
type Message struct {
	ID             string       // unique message id
	Sender         string       // agent id
	Receiver       string       // agent id or BroadcastReceiver
	Performative   Performative //
	Content        Content      //
	Protocol       string       // interaction protocol, may be empty
	ConversationID string       // groups messages of one negotiation
	ReplyTo        string       // id of the message being answered
	ReplyBy        float64      // simulated deadline, 0 means none
	Timestamp      float64      // sender's simulated clock at send time
}

// NewMessage builds a message with a fresh unique id.
func NewMessage(sender, receiver string, perf Performative, content Content, now float64) Message {
	return Message{
		ID:           uuid.NewString(),
		Sender:       sender,
		Receiver:     receiver,
		Performative: perf,
		Content:      content,
		Timestamp:    now,
	}
}

// NewConversationID returns a fresh id for a multi-message negotiation.
func NewConversationID() string {
	return uuid.NewString()
}

// IsBroadcast reports whether the message targets every agent in range.
func (m Message) IsBroadcast() bool {
	return m.Receiver == BroadcastReceiver
}

// CreateReply derives an answer envelope: sender and receiver swap,
// the conversation and protocol carry over, and ReplyTo points at the
// original message id.
func (m Message) CreateReply(perf Performative, content Content, now float64) Message {
	return Message{
		ID:             uuid.NewString(),
		Sender:         m.Receiver,
		Receiver:       m.Sender,
		Performative:   perf,
		Content:        content,
		Protocol:       m.Protocol,
		ConversationID: m.ConversationID,
		ReplyTo:        m.ID,
		Timestamp:      now,
	}
}

// DefaultInboxCapacity bounds every agent inbox.
const DefaultInboxCapacity = 1000

// Mailbox holds an agent's bounded inbox and unbounded outbox.
// The scheduler drains outboxes after all agents have stepped, so a
// message sent at tick T is observable at tick T+1.
type Mailbox struct {
	inbox    []Message
	outbox   []Message
	capacity int

	Received  int // total messages delivered
	Evictions int // oldest-message drops due to a full inbox
}

// NewMailbox creates a mailbox with the given inbox capacity.
// A capacity <= 0 falls back to DefaultInboxCapacity.
func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	return &Mailbox{capacity: capacity}
}

// Deliver appends to the inbox, evicting the oldest message when full.
func (mb *Mailbox) Deliver(m Message) {
	if len(mb.inbox) >= mb.capacity {
		mb.inbox = mb.inbox[1:]
		mb.Evictions++
	}
	mb.inbox = append(mb.inbox, m)
	mb.Received++
}

// Send queues an outgoing message for the end-of-tick bus drain.
func (mb *Mailbox) Send(m Message) {
	mb.outbox = append(mb.outbox, m)
}

// DrainInbox returns and clears the pending messages in FIFO order.
func (mb *Mailbox) DrainInbox() []Message {
	msgs := mb.inbox
	mb.inbox = nil
	return msgs
}

// DrainOutbox returns and clears the queued outgoing messages in FIFO order.
func (mb *Mailbox) DrainOutbox() []Message {
	msgs := mb.outbox
	mb.outbox = nil
	return msgs
}

// InboxLen returns the number of undelivered messages.
func (mb *Mailbox) InboxLen() int {
	return len(mb.inbox)
}
