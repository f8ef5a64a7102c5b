package sim

import (
	"container/heap"
	"sort"
)

// Router finds a drivable waypoint sequence between two positions.
// The returned path starts at the exact origin and ends at the exact
// destination, with network node positions in between. A nil result
// means no route exists; callers treat that as recoverable.
type Router interface {
	FindPath(start, end Position) []Position
}

// DefaultRouteCacheSize is the LRU route cache capacity.
const DefaultRouteCacheSize = 200

type routeKey struct {
	start, end string
}

// RouteCache memoizes node-id paths keyed by (startNode, endNode).
// Eviction is oldest-inserted-first; hits do not refresh an entry.
type RouteCache struct {
	entries  map[routeKey][]string
	order    []routeKey
	capacity int

	Hits   int
	Misses int
}

// NewRouteCache creates a cache with the given capacity.
// A capacity <= 0 falls back to DefaultRouteCacheSize.
func NewRouteCache(capacity int) *RouteCache {
	if capacity <= 0 {
		capacity = DefaultRouteCacheSize
	}
	return &RouteCache{
		entries:  make(map[routeKey][]string),
		capacity: capacity,
	}
}

// Get returns the cached node path for a node pair.
func (c *RouteCache) Get(start, end string) ([]string, bool) {
	path, ok := c.entries[routeKey{start, end}]
	if ok {
		c.Hits++
	} else {
		c.Misses++
	}
	return path, ok
}

// Put stores a node path, evicting the oldest entry when full.
func (c *RouteCache) Put(start, end string, path []string) {
	k := routeKey{start, end}
	if _, exists := c.entries[k]; !exists {
		if len(c.order) >= c.capacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, k)
	}
	c.entries[k] = path
}

// HitRate is the fraction of lookups served from the cache.
func (c *RouteCache) HitRate() float64 {
	total := c.Hits + c.Misses
	if total == 0 {
		return 0
	}
	return float64(c.Hits) / float64(total)
}

// Len returns the number of cached routes.
func (c *RouteCache) Len() int {
	return len(c.entries)
}

// Contains reports whether a node pair is cached, without touching the
// hit/miss counters.
func (c *RouteCache) Contains(start, end string) bool {
	_, ok := c.entries[routeKey{start, end}]
	return ok
}

// edgeWeightFunc resolves the effective cost of edge (u,v) given its
// base weight. Used to overlay congestion factors without copying the
// graph.
type edgeWeightFunc func(u, v string, base float64) float64

func baseWeight(_, _ string, w float64) float64 { return w }

// searchNode is a frontier entry in the priority queue.
type searchNode struct {
	id    string
	fCost float64
	index int
}

type searchQueue []*searchNode

func (q searchQueue) Len() int            { return len(q) }
func (q searchQueue) Less(i, j int) bool  { return q[i].fCost < q[j].fCost }
func (q searchQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *searchQueue) Push(x interface{}) {
	n := x.(*searchNode)
	n.index = len(*q)
	*q = append(*q, n)
}
func (q *searchQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// osmCorrection scales the straight-line heuristic to approximate real
// road distance: short trips detour proportionally more.
func osmCorrection(straightLine float64) float64 {
	switch {
	case straightLine <= 5000:
		return 1.30
	case straightLine <= 10000:
		return 1.15
	default:
		return 1.10
	}
}

// aStarSearch runs A* over the network between two node ids.
// heuristic may be nil (degenerates to Dijkstra). Nodes are closed on
// pop and reopened on a strictly better g-score. Returns nil when no
// path exists.
func aStarSearch(net *RoadNetwork, startID, endID string, weight edgeWeightFunc, heuristic func(id string) float64) []string {
	if net.Node(startID) == nil || net.Node(endID) == nil {
		return nil
	}
	if heuristic == nil {
		heuristic = func(string) float64 { return 0 }
	}

	gScore := map[string]float64{startID: 0}
	cameFrom := map[string]string{}
	closed := map[string]bool{}

	frontier := &searchQueue{}
	heap.Init(frontier)
	heap.Push(frontier, &searchNode{id: startID, fCost: heuristic(startID)})

	for frontier.Len() > 0 {
		current := heap.Pop(frontier).(*searchNode)
		if closed[current.id] {
			continue
		}
		if current.id == endID {
			return reconstructPath(cameFrom, endID)
		}
		closed[current.id] = true

		node := net.Node(current.id)
		// Sorted neighbor order keeps tie-breaking deterministic.
		neighbors := make([]string, 0, len(node.Neighbors))
		for nb := range node.Neighbors {
			neighbors = append(neighbors, nb)
		}
		sort.Strings(neighbors)

		for _, nb := range neighbors {
			w := weight(current.id, nb, node.Neighbors[nb])
			tentative := gScore[current.id] + w
			if g, seen := gScore[nb]; seen && tentative >= g {
				continue
			}
			gScore[nb] = tentative
			cameFrom[nb] = current.id
			delete(closed, nb)
			heap.Push(frontier, &searchNode{id: nb, fCost: tentative + heuristic(nb)})
		}
	}
	return nil
}

func reconstructPath(cameFrom map[string]string, endID string) []string {
	path := []string{endID}
	for {
		prev, ok := cameFrom[path[len(path)-1]]
		if !ok {
			break
		}
		path = append(path, prev)
	}
	// reverse
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// nodePathToWaypoints converts a node-id path into drivable waypoints
// bracketed by the exact origin and destination.
func nodePathToWaypoints(net *RoadNetwork, start, end Position, nodePath []string) []Position {
	waypoints := make([]Position, 0, len(nodePath)+2)
	waypoints = append(waypoints, start)
	for _, id := range nodePath {
		waypoints = append(waypoints, net.Node(id).Pos)
	}
	waypoints = append(waypoints, end)
	return waypoints
}

// AStarRouter finds shortest paths with an OSM-corrected straight-line
// heuristic and memoizes node paths in an LRU cache.
type AStarRouter struct {
	network *RoadNetwork
	cache   *RouteCache

	PathsComputed int
}

// NewAStarRouter creates an A* router over the network.
func NewAStarRouter(network *RoadNetwork, cacheSize int) *AStarRouter {
	return &AStarRouter{
		network: network,
		cache:   NewRouteCache(cacheSize),
	}
}

// Cache exposes the route cache for inspection.
func (r *AStarRouter) Cache() *RouteCache { return r.cache }

// FindPath implements Router.
func (r *AStarRouter) FindPath(start, end Position) []Position {
	startNode := r.network.NearestNode(start)
	endNode := r.network.NearestNode(end)
	if startNode == nil || endNode == nil {
		return nil
	}
	if startNode.ID == endNode.ID {
		return []Position{start, end}
	}

	if nodePath, ok := r.cache.Get(startNode.ID, endNode.ID); ok {
		return nodePathToWaypoints(r.network, start, end, nodePath)
	}

	goal := endNode.Pos
	heuristic := func(id string) float64 {
		straight := Distance(r.network.Node(id).Pos, goal)
		return straight * osmCorrection(straight)
	}
	nodePath := aStarSearch(r.network, startNode.ID, endNode.ID, baseWeight, heuristic)
	r.PathsComputed++
	if nodePath == nil {
		return nil
	}
	r.cache.Put(startNode.ID, endNode.ID, nodePath)
	return nodePathToWaypoints(r.network, start, end, nodePath)
}

// DijkstraRouter finds shortest paths without a heuristic or cache.
type DijkstraRouter struct {
	network *RoadNetwork

	PathsComputed int
}

// NewDijkstraRouter creates a Dijkstra router over the network.
func NewDijkstraRouter(network *RoadNetwork) *DijkstraRouter {
	return &DijkstraRouter{network: network}
}

// FindPath implements Router.
func (r *DijkstraRouter) FindPath(start, end Position) []Position {
	startNode := r.network.NearestNode(start)
	endNode := r.network.NearestNode(end)
	if startNode == nil || endNode == nil {
		return nil
	}
	if startNode.ID == endNode.ID {
		return []Position{start, end}
	}
	nodePath := aStarSearch(r.network, startNode.ID, endNode.ID, baseWeight, nil)
	r.PathsComputed++
	if nodePath == nil {
		return nil
	}
	return nodePathToWaypoints(r.network, start, end, nodePath)
}

type edgeKey struct {
	u, v string
}

func normalizedEdge(u, v string) edgeKey {
	if u > v {
		u, v = v, u
	}
	return edgeKey{u, v}
}

// DynamicRouter overlays per-edge congestion factors on a base search.
// The scheduler writes factors between ticks; path queries read them.
// When traffic weighting is off or no factors are set, it behaves like
// the underlying algorithm (A* routes then also hit the cache).
type DynamicRouter struct {
	network         *RoadNetwork
	astar           *AStarRouter
	dijkstra        *DijkstraRouter
	useAStar        bool
	considerTraffic bool
	factors         map[edgeKey]float64
}

// NewDynamicRouter creates a traffic-aware router. useAStar selects the
// base algorithm.
func NewDynamicRouter(network *RoadNetwork, useAStar bool, cacheSize int, considerTraffic bool) *DynamicRouter {
	return &DynamicRouter{
		network:         network,
		astar:           NewAStarRouter(network, cacheSize),
		dijkstra:        NewDijkstraRouter(network),
		useAStar:        useAStar,
		considerTraffic: considerTraffic,
		factors:         make(map[edgeKey]float64),
	}
}

// AStar exposes the underlying A* router (cache inspection).
func (r *DynamicRouter) AStar() *AStarRouter { return r.astar }

// SetTrafficFactor scales the cost of edge (u,v). A factor <= 1 clears
// the override.
func (r *DynamicRouter) SetTrafficFactor(u, v string, factor float64) {
	k := normalizedEdge(u, v)
	if factor <= 1 {
		delete(r.factors, k)
		return
	}
	r.factors[k] = factor
}

// TrafficFactor returns the current factor for an edge (1 when unset).
func (r *DynamicRouter) TrafficFactor(u, v string) float64 {
	if f, ok := r.factors[normalizedEdge(u, v)]; ok {
		return f
	}
	return 1
}

// ClearTrafficFactors removes every congestion override.
func (r *DynamicRouter) ClearTrafficFactors() {
	r.factors = make(map[edgeKey]float64)
}

// FindPath implements Router. Congestion-weighted queries bypass the
// route cache because the weights change between ticks.
func (r *DynamicRouter) FindPath(start, end Position) []Position {
	if !r.considerTraffic || len(r.factors) == 0 {
		if r.useAStar {
			return r.astar.FindPath(start, end)
		}
		return r.dijkstra.FindPath(start, end)
	}

	startNode := r.network.NearestNode(start)
	endNode := r.network.NearestNode(end)
	if startNode == nil || endNode == nil {
		return nil
	}
	if startNode.ID == endNode.ID {
		return []Position{start, end}
	}

	weight := func(u, v string, base float64) float64 {
		return base * r.TrafficFactor(u, v)
	}
	var heuristic func(id string) float64
	if r.useAStar {
		goal := endNode.Pos
		heuristic = func(id string) float64 {
			straight := Distance(r.network.Node(id).Pos, goal)
			return straight * osmCorrection(straight)
		}
	}
	nodePath := aStarSearch(r.network, startNode.ID, endNode.ID, weight, heuristic)
	if nodePath == nil {
		return nil
	}
	return nodePathToWaypoints(r.network, start, end, nodePath)
}
