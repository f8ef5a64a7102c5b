package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoadNetwork_EdgesDefaultToEuclidean(t *testing.T) {
	// GIVEN two nodes 100m apart
	n := NewRoadNetwork()
	n.AddNode("a", Position{X: 0, Y: 0})
	n.AddNode("b", Position{X: 100, Y: 0})

	// WHEN connected without an explicit weight
	require.NoError(t, n.AddEdge("a", "b", 0))

	// THEN the weight is the distance, in both directions
	w, ok := n.EdgeWeight("a", "b")
	assert.True(t, ok)
	assert.InDelta(t, 100.0, w, 1e-9)
	w, ok = n.EdgeWeight("b", "a")
	assert.True(t, ok)
	assert.InDelta(t, 100.0, w, 1e-9)
}

func TestRoadNetwork_AddEdgeUnknownNode(t *testing.T) {
	n := NewRoadNetwork()
	n.AddNode("a", Position{})
	assert.Error(t, n.AddEdge("a", "ghost", 0))
}

func TestRoadNetwork_TemporaryBlockage(t *testing.T) {
	// GIVEN a connected pair blocked until t=60
	n := NewRoadNetwork()
	n.AddNode("a", Position{X: 0, Y: 0})
	n.AddNode("b", Position{X: 100, Y: 0})
	require.NoError(t, n.AddEdge("a", "b", 0))
	n.AddTemporaryBlockage("a", "b", 60)

	// THEN the edge is gone while blocked
	_, ok := n.EdgeWeight("a", "b")
	assert.False(t, ok)
	assert.Equal(t, 1, n.Stats().ActiveBlockages)

	// AND stays gone before expiry
	assert.Zero(t, n.RestoreExpiredBlockages(59))
	_, ok = n.EdgeWeight("a", "b")
	assert.False(t, ok)

	// WHEN the expiry passes THEN the edge returns with its old weight
	assert.Equal(t, 1, n.RestoreExpiredBlockages(60))
	w, ok := n.EdgeWeight("a", "b")
	assert.True(t, ok)
	assert.InDelta(t, 100.0, w, 1e-9)
	assert.Zero(t, n.Stats().ActiveBlockages)
}

func TestRoadNetwork_BlockingMissingEdgeIsNoop(t *testing.T) {
	n := NewRoadNetwork()
	n.AddNode("a", Position{})
	n.AddTemporaryBlockage("a", "ghost", 10)
	assert.Zero(t, n.Stats().ActiveBlockages)
}

func TestRoadNetwork_NearestNode(t *testing.T) {
	n := NewRoadNetwork()
	n.BuildGrid(3, 3, 100)

	nearest := n.NearestNode(Position{X: 110, Y: 95})
	require.NotNil(t, nearest)
	assert.Equal(t, "1_1", nearest.ID)

	empty := NewRoadNetwork()
	assert.Nil(t, empty.NearestNode(Position{}))
}

func TestBuildGrid_Topology(t *testing.T) {
	// GIVEN a 3x3 grid
	n := NewRoadNetwork()
	n.BuildGrid(3, 3, 100)

	// THEN it has 9 nodes and 12 edges
	stats := n.Stats()
	assert.Equal(t, 9, stats.Nodes)
	assert.Equal(t, 12, stats.Edges)

	// AND the center connects to its four neighbors
	center := n.Node("1_1")
	require.NotNil(t, center)
	assert.Len(t, center.Neighbors, 4)

	// AND a corner connects to two
	corner := n.Node("0_0")
	require.NotNil(t, corner)
	assert.Len(t, corner.Neighbors, 2)
}
