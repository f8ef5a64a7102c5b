package sim

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus instruments exported by a run.
// Construction registers every instrument against the given registerer;
// a nil registerer falls back to the default one.
type Collector struct {
	registry prometheus.Registerer

	MessagesRouted  *prometheus.CounterVec
	MessagesDropped prometheus.Counter
	PhaseChanges    prometheus.Counter
	GreenWaves      prometheus.Counter
	Arrivals        prometheus.Counter

	ActiveVehicles  prometheus.Gauge
	AvgQueueLength  prometheus.Gauge
	CongestionIndex prometheus.Gauge
}

// NewCollector creates and registers the simulation instruments.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{registry: reg}

	c.MessagesRouted = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_messages_routed_total",
		Help: "Messages routed by the bus, by performative.",
	}, []string{"performative"}))
	c.MessagesDropped = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traffic_messages_dropped_total",
		Help: "Messages dropped for unknown receivers or senders.",
	}))
	c.PhaseChanges = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traffic_phase_changes_total",
		Help: "Traffic light phase changes across all intersections.",
	}))
	c.GreenWaves = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traffic_green_waves_total",
		Help: "Green wave commitments honored by intersections.",
	}))
	c.Arrivals = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traffic_vehicle_arrivals_total",
		Help: "Vehicles that reached their destination.",
	}))

	c.ActiveVehicles = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "traffic_active_vehicles",
		Help: "Vehicles currently driving.",
	}))
	c.AvgQueueLength = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "traffic_avg_queue_length",
		Help: "Mean queue length across intersections.",
	}))
	c.CongestionIndex = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "traffic_congestion_index",
		Help: "Network congestion index, 0 (free flow) to 1 (standstill).",
	}))
	return c
}

// ObserveSnapshot pushes one KPI snapshot into the gauges.
func (c *Collector) ObserveSnapshot(s Snapshot) {
	c.ActiveVehicles.Set(float64(s.ActiveVehicles))
	c.AvgQueueLength.Set(s.AvgQueueLength)
	c.CongestionIndex.Set(s.CongestionIndex)
}

// Handler returns an HTTP handler serving the default registry in
// Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func registerCounter(reg prometheus.Registerer, col prometheus.Counter) prometheus.Counter {
	if err := reg.Register(col); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(prometheus.Counter)
		}
		panic(err)
	}
	return col
}

func registerCounterVec(reg prometheus.Registerer, col *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(col); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.CounterVec)
		}
		panic(err)
	}
	return col
}

func registerGauge(reg prometheus.Registerer, col prometheus.Gauge) prometheus.Gauge {
	if err := reg.Register(col); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(prometheus.Gauge)
		}
		panic(err)
	}
	return col
}
