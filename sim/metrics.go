package sim

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// KPIInterval is how many ticks pass between KPI snapshots.
const KPIInterval = 10

// Snapshot is one periodic KPI observation.
type Snapshot struct {
	Tick            int
	Time            float64 // simulated seconds
	ActiveVehicles  int
	Arrivals        int     // cumulative
	AvgTravelTime   float64 // seconds, over arrived vehicles
	AvgSpeed        float64 // m/s, over active vehicles
	AvgQueueLength  float64 // vehicles, over intersections
	CongestionIndex float64 // 1 - avgSpeed/maxSpeed, 0..1
	TotalMessages   int     // cumulative bus routes
}

// Metrics accumulates snapshots and end-of-run aggregates.
type Metrics struct {
	Snapshots []Snapshot

	VehiclesCreated  int
	VehiclesArrived  int
	TotalTravelTime  float64 // seconds, arrived vehicles
	TotalDistance    float64 // meters, all vehicles
	MessagesRouted   int
	MessagesDropped  int
	PhaseChanges     int
	GreenWaves       int
	EmergencyGrants  int
	ContractsAwarded int
	CacheHits        int
	CacheMisses      int
}

// Record appends one snapshot.
func (mt *Metrics) Record(s Snapshot) {
	mt.Snapshots = append(mt.Snapshots, s)
}

// Latest returns the most recent snapshot, if any.
func (mt *Metrics) Latest() (Snapshot, bool) {
	if len(mt.Snapshots) == 0 {
		return Snapshot{}, false
	}
	return mt.Snapshots[len(mt.Snapshots)-1], true
}

// AvgTravelTime is the mean travel time of arrived vehicles.
func (mt *Metrics) AvgTravelTime() float64 {
	if mt.VehiclesArrived == 0 {
		return 0
	}
	return mt.TotalTravelTime / float64(mt.VehiclesArrived)
}

// CacheHitRate is the fraction of route lookups served from the cache.
func (mt *Metrics) CacheHitRate() float64 {
	total := mt.CacheHits + mt.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(mt.CacheHits) / float64(total)
}

// MeanCongestion is the run-wide mean of the congestion index.
func (mt *Metrics) MeanCongestion() float64 {
	if len(mt.Snapshots) == 0 {
		return 0
	}
	vals := make([]float64, len(mt.Snapshots))
	for i, s := range mt.Snapshots {
		vals[i] = s.CongestionIndex
	}
	return stat.Mean(vals, nil)
}

// MeanQueueLength is the run-wide mean of the average queue length.
func (mt *Metrics) MeanQueueLength() float64 {
	if len(mt.Snapshots) == 0 {
		return 0
	}
	vals := make([]float64, len(mt.Snapshots))
	for i, s := range mt.Snapshots {
		vals[i] = s.AvgQueueLength
	}
	return stat.Mean(vals, nil)
}

// Print writes a human-readable summary to stdout.
func (mt *Metrics) Print() {
	fmt.Println("=== Simulation Results ===")
	fmt.Printf("  vehicles created:        %d\n", mt.VehiclesCreated)
	fmt.Printf("  vehicles arrived:        %d\n", mt.VehiclesArrived)
	fmt.Printf("  avg travel time:         %.1f s\n", mt.AvgTravelTime())
	fmt.Printf("  total distance:          %.0f m\n", mt.TotalDistance)
	fmt.Printf("  mean queue length:       %.2f vehicles\n", mt.MeanQueueLength())
	fmt.Printf("  mean congestion index:   %.3f\n", mt.MeanCongestion())
	fmt.Printf("  messages routed:         %d (dropped %d)\n", mt.MessagesRouted, mt.MessagesDropped)
	fmt.Printf("  phase changes:           %d\n", mt.PhaseChanges)
	fmt.Printf("  green waves:             %d\n", mt.GreenWaves)
	fmt.Printf("  emergency priorities:    %d\n", mt.EmergencyGrants)
	fmt.Printf("  contracts awarded:       %d\n", mt.ContractsAwarded)
	fmt.Printf("  route cache:             %d hits / %d misses (%.0f%% hit rate)\n",
		mt.CacheHits, mt.CacheMisses, 100*mt.CacheHitRate())
	fmt.Printf("  KPI snapshots:           %d\n", len(mt.Snapshots))
}
