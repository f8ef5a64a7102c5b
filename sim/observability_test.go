package sim

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_ObserveSnapshotSetsGauges(t *testing.T) {
	// GIVEN a collector on a private registry
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	// WHEN a snapshot is observed
	c.ObserveSnapshot(Snapshot{
		ActiveVehicles:  42,
		AvgQueueLength:  3.5,
		CongestionIndex: 0.25,
	})

	// THEN the gauges carry its values
	assert.Equal(t, 42.0, testutil.ToFloat64(c.ActiveVehicles))
	assert.Equal(t, 3.5, testutil.ToFloat64(c.AvgQueueLength))
	assert.Equal(t, 0.25, testutil.ToFloat64(c.CongestionIndex))
}

func TestCollector_DoubleRegistrationReusesInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewCollector(reg)
	first.MessagesDropped.Inc()

	// WHEN a second collector registers against the same registry
	second := NewCollector(reg)

	// THEN it shares the existing instruments instead of panicking
	assert.Equal(t, 1.0, testutil.ToFloat64(second.MessagesDropped))
}

func TestBus_FeedsCollectorCounters(t *testing.T) {
	// GIVEN a bus wired to a collector
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	bus := NewMessageBus(DefaultBroadcastRadius)
	bus.SetCollector(c)

	recv := newStubAgent("recv", Position{X: 0, Y: 0})
	dir := &stubDirectory{agents: []Agent{recv}}

	// WHEN messages are routed and dropped
	bus.Route(dir, NewMessage("ghost", "recv", PerformativeInform,
		CongestionReport{Level: 0.5}, 0))
	bus.Route(dir, NewMessage("recv", "nobody", PerformativeInform,
		CongestionReport{Level: 0.5}, 0))

	// THEN both routes counted and the failed one also counted as a drop
	routed, err := c.MessagesRouted.GetMetricWithLabelValues(string(PerformativeInform))
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(routed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.MessagesDropped))
}
