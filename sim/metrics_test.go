package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_EmptyAggregatesAreZero(t *testing.T) {
	mt := &Metrics{}

	_, ok := mt.Latest()
	assert.False(t, ok)
	assert.Zero(t, mt.AvgTravelTime())
	assert.Zero(t, mt.MeanCongestion())
	assert.Zero(t, mt.MeanQueueLength())
}

func TestMetrics_MeansOverSnapshots(t *testing.T) {
	mt := &Metrics{}
	mt.Record(Snapshot{Tick: 0, CongestionIndex: 0.2, AvgQueueLength: 1})
	mt.Record(Snapshot{Tick: 10, CongestionIndex: 0.4, AvgQueueLength: 3})
	mt.Record(Snapshot{Tick: 20, CongestionIndex: 0.6, AvgQueueLength: 5})

	latest, ok := mt.Latest()
	assert.True(t, ok)
	assert.Equal(t, 20, latest.Tick)
	assert.InDelta(t, 0.4, mt.MeanCongestion(), 1e-9)
	assert.InDelta(t, 3.0, mt.MeanQueueLength(), 1e-9)
}

func TestMetrics_AvgTravelTime(t *testing.T) {
	mt := &Metrics{VehiclesArrived: 4, TotalTravelTime: 260}
	assert.InDelta(t, 65.0, mt.AvgTravelTime(), 1e-9)
}

func TestMetrics_CacheHitRate(t *testing.T) {
	mt := &Metrics{}
	assert.Zero(t, mt.CacheHitRate(), "no lookups yet")

	mt.CacheHits = 3
	mt.CacheMisses = 1
	assert.InDelta(t, 0.75, mt.CacheHitRate(), 1e-9)
}
