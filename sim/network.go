package sim

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
)

// Node is one junction in the road network.
type Node struct {
	ID        string
	Pos       Position
	Neighbors map[string]float64 // neighbor id -> edge weight (meters)
}

// blockage remembers a temporarily removed edge and when to restore it.
type blockage struct {
	u, v   string
	weight float64
	expiry float64 // absolute simulated time
}

// NetworkStats summarizes the road network.
type NetworkStats struct {
	Nodes            int
	Edges            int
	ActiveBlockages  int
	RestoredBlockage int
}

// RoadNetwork is an undirected weighted graph of road segments.
// Edge weights default to the Euclidean distance between endpoints.
type RoadNetwork struct {
	nodes    map[string]*Node
	blocked  []blockage
	restored int
}

// NewRoadNetwork creates an empty network.
func NewRoadNetwork() *RoadNetwork {
	return &RoadNetwork{nodes: make(map[string]*Node)}
}

// AddNode inserts or replaces a node.
func (n *RoadNetwork) AddNode(id string, pos Position) {
	if existing, ok := n.nodes[id]; ok {
		existing.Pos = pos
		return
	}
	n.nodes[id] = &Node{ID: id, Pos: pos, Neighbors: make(map[string]float64)}
}

// AddEdge connects two existing nodes in both directions. A weight <= 0
// is replaced by the Euclidean distance between the nodes.
func (n *RoadNetwork) AddEdge(u, v string, weight float64) error {
	nu, ok := n.nodes[u]
	if !ok {
		return fmt.Errorf("add edge: unknown node %s", u)
	}
	nv, ok := n.nodes[v]
	if !ok {
		return fmt.Errorf("add edge: unknown node %s", v)
	}
	if weight <= 0 {
		weight = Distance(nu.Pos, nv.Pos)
	}
	nu.Neighbors[v] = weight
	nv.Neighbors[u] = weight
	return nil
}

// RemoveEdge disconnects two nodes. Removing a missing edge is a no-op.
func (n *RoadNetwork) RemoveEdge(u, v string) {
	if nu, ok := n.nodes[u]; ok {
		delete(nu.Neighbors, v)
	}
	if nv, ok := n.nodes[v]; ok {
		delete(nv.Neighbors, u)
	}
}

// EdgeWeight returns the weight of edge (u,v) and whether it exists.
func (n *RoadNetwork) EdgeWeight(u, v string) (float64, bool) {
	nu, ok := n.nodes[u]
	if !ok {
		return 0, false
	}
	w, ok := nu.Neighbors[v]
	return w, ok
}

// Node returns a node by id, or nil.
func (n *RoadNetwork) Node(id string) *Node {
	return n.nodes[id]
}

// NodeIDs returns all node ids in sorted order for deterministic
// iteration.
func (n *RoadNetwork) NodeIDs() []string {
	ids := make([]string, 0, len(n.nodes))
	for id := range n.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NearestNode returns the node closest to a position, or nil when the
// network is empty.
func (n *RoadNetwork) NearestNode(pos Position) *Node {
	var best *Node
	bestDist := math.Inf(1)
	for _, id := range n.NodeIDs() {
		node := n.nodes[id]
		d := Distance(pos, node.Pos)
		if d < bestDist {
			best = node
			bestDist = d
		}
	}
	return best
}

// AddTemporaryBlockage removes edge (u,v) until the given absolute
// simulated time. Blocking a missing edge is a no-op.
func (n *RoadNetwork) AddTemporaryBlockage(u, v string, expiry float64) {
	w, ok := n.EdgeWeight(u, v)
	if !ok {
		logrus.Debugf("network: blockage on missing edge %s-%s ignored", u, v)
		return
	}
	n.RemoveEdge(u, v)
	n.blocked = append(n.blocked, blockage{u: u, v: v, weight: w, expiry: expiry})
}

// RestoreExpiredBlockages re-adds every blocked edge whose expiry is at
// or before now. Returns the number of restored edges.
func (n *RoadNetwork) RestoreExpiredBlockages(now float64) int {
	restored := 0
	remaining := n.blocked[:0]
	for _, b := range n.blocked {
		if b.expiry <= now {
			if err := n.AddEdge(b.u, b.v, b.weight); err != nil {
				logrus.Warnf("network: restoring edge %s-%s: %v", b.u, b.v, err)
			} else {
				restored++
			}
			continue
		}
		remaining = append(remaining, b)
	}
	n.blocked = remaining
	n.restored += restored
	return restored
}

// Stats returns a summary of the network.
func (n *RoadNetwork) Stats() NetworkStats {
	edges := 0
	for _, node := range n.nodes {
		edges += len(node.Neighbors)
	}
	return NetworkStats{
		Nodes:            len(n.nodes),
		Edges:            edges / 2,
		ActiveBlockages:  len(n.blocked),
		RestoredBlockage: n.restored,
	}
}

// BuildGrid populates the network with a rows x cols lattice of nodes
// spaced cellSize meters apart, connected to their four-neighbors.
// Node ids are "col_row".
func (n *RoadNetwork) BuildGrid(cols, rows int, cellSize float64) {
	for x := 0; x < cols; x++ {
		for y := 0; y < rows; y++ {
			n.AddNode(gridNodeID(x, y), Position{X: float64(x) * cellSize, Y: float64(y) * cellSize})
		}
	}
	for x := 0; x < cols; x++ {
		for y := 0; y < rows; y++ {
			if x+1 < cols {
				_ = n.AddEdge(gridNodeID(x, y), gridNodeID(x+1, y), 0)
			}
			if y+1 < rows {
				_ = n.AddEdge(gridNodeID(x, y), gridNodeID(x, y+1), 0)
			}
		}
	}
}

func gridNodeID(x, y int) string {
	return fmt.Sprintf("%d_%d", x, y)
}
