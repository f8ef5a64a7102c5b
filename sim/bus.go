package sim

import (
	"github.com/sirupsen/logrus"
)

// DefaultBroadcastRadius bounds spatial broadcast delivery, in meters.
const DefaultBroadcastRadius = 500.0

// agentDirectory is the view of the world the bus needs for delivery.
type agentDirectory interface {
	AgentByID(id string) Agent
	AgentList() []Agent
}

// MessageBus delivers messages between agents. Unicast messages go to
// the named receiver's mailbox; broadcasts fan out to every other agent
// within the broadcast radius of the sender. Delivery is synchronous
// and preserves the order in which messages are routed.
type MessageBus struct {
	radius float64
	obs    *Collector // optional, may be nil

	TotalRouted    int
	TotalDelivered int
	DroppedUnknown int // unicast to an unregistered receiver
	ByPerformative map[Performative]int
}

// NewMessageBus creates a bus with the given broadcast radius.
// A radius <= 0 falls back to DefaultBroadcastRadius.
func NewMessageBus(radius float64) *MessageBus {
	if radius <= 0 {
		radius = DefaultBroadcastRadius
	}
	return &MessageBus{
		radius:         radius,
		ByPerformative: make(map[Performative]int),
	}
}

// SetCollector attaches Prometheus instrumentation to the bus.
func (b *MessageBus) SetCollector(c *Collector) {
	b.obs = c
}

// Route delivers one message. Unknown unicast receivers are dropped
// silently apart from a debug log and a counter; this is the normal
// fate of replies addressed to vehicles that already arrived.
func (b *MessageBus) Route(dir agentDirectory, m Message) {
	b.TotalRouted++
	b.ByPerformative[m.Performative]++
	if b.obs != nil {
		b.obs.MessagesRouted.WithLabelValues(string(m.Performative)).Inc()
	}

	if m.IsBroadcast() {
		b.broadcast(dir, m)
		return
	}

	recv := dir.AgentByID(m.Receiver)
	if recv == nil || !recv.Active() {
		b.DroppedUnknown++
		if b.obs != nil {
			b.obs.MessagesDropped.Inc()
		}
		logrus.Debugf("bus: dropping message %s for unknown receiver %s", m.ID, m.Receiver)
		return
	}
	recv.Mailbox().Deliver(m)
	b.TotalDelivered++
}

// broadcast fans a message out to every active agent within radius of
// the sender. A broadcast from an unknown sender has no origin point
// and is dropped.
func (b *MessageBus) broadcast(dir agentDirectory, m Message) {
	sender := dir.AgentByID(m.Sender)
	if sender == nil {
		b.DroppedUnknown++
		if b.obs != nil {
			b.obs.MessagesDropped.Inc()
		}
		logrus.Debugf("bus: dropping broadcast %s from unknown sender %s", m.ID, m.Sender)
		return
	}
	origin := sender.Position()
	for _, a := range dir.AgentList() {
		if a.ID() == m.Sender || !a.Active() {
			continue
		}
		if Distance(origin, a.Position()) > b.radius {
			continue
		}
		a.Mailbox().Deliver(m)
		b.TotalDelivered++
	}
}

// Radius returns the broadcast radius in meters.
func (b *MessageBus) Radius() float64 {
	return b.radius
}
