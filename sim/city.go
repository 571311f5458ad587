package sim

import (
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"
	"github.com/transitlab/dispatchsim/geometry"
	"github.com/transitlab/dispatchsim/sim/algo"
)

// Stop 站点。建图时创建，运行期间不增删
type Stop struct {
	ID    int
	Pos   geometry.Point
	Class StopClass
	Queue *RiderQueue
}

// Edge 有向道路。运行期间只有Closed可变
type Edge struct {
	From     int
	To       int
	BaseTime float64
	Closed   bool

	mid geometry.Point
}

type edgeKey struct {
	U, V int
}

// CityGraph 路网。站点与道路归其独占所有，
// 边权查询 = base_time × 路况系数，封路时为+Inf
type CityGraph struct {
	stops   map[int]*Stop
	stopIDs []int // 升序，所有遍历按此顺序
	edges   map[edgeKey]*Edge
	keys    []edgeKey // 升序(U,V)

	graph  *algo.SearchGraph[algo.StopNodeAttr, algo.RoadEdgeAttr]
	nodeOf map[int]int // 站点id -> 搜索图节点下标

	// 路况系数与当前时刻，由world在构建后注入
	trafficAt func(p geometry.Point, hour float64) float64
	nowHour   func() float64
}

type cityHeuristics struct {
	// 全图最快速度对应的单位距离耗时，保证启发可采纳
	minSecPerUnit float64
}

func (h cityHeuristics) HeuristicEuclidean(p1, p2 geometry.Point) float64 {
	return geometry.Distance(p1, p2) * h.minSecPerUnit
}

type cityWeight struct {
	city *CityGraph
}

func (w cityWeight) RuntimeEdgeWeight(attr algo.RoadEdgeAttr, base float64) float64 {
	e := w.city.edges[edgeKey{attr.From, attr.To}]
	if e.Closed {
		return math.Inf(0)
	}
	return base * w.city.trafficAt(attr.Mid, w.city.nowHour())
}

// NewCityGraph 由站点与边的输入构建路网。输入已通过Config.Validate
func NewCityGraph(stops []StopSpec, edges []EdgeSpec) *CityGraph {
	c := &CityGraph{
		stops:  make(map[int]*Stop, len(stops)),
		edges:  make(map[edgeKey]*Edge, len(edges)),
		nodeOf: make(map[int]int, len(stops)),
		// 注入前自由流
		trafficAt: func(geometry.Point, float64) float64 { return 1.0 },
		nowHour:   func() float64 { return 0 },
	}
	for _, s := range stops {
		c.stops[s.ID] = &Stop{
			ID:    s.ID,
			Pos:   geometry.Point{X: s.X, Y: s.Y},
			Class: s.Class,
			Queue: NewRiderQueue(s.ID),
		}
		c.stopIDs = append(c.stopIDs, s.ID)
	}
	sort.Ints(c.stopIDs)

	// 启发函数标定：全图最快的单位距离耗时
	minSecPerUnit := math.Inf(0)
	for _, e := range edges {
		d := geometry.Distance(c.stops[e.From].Pos, c.stops[e.To].Pos)
		if d > 0 && e.BaseTime/d < minSecPerUnit {
			minSecPerUnit = e.BaseTime / d
		}
	}
	if math.IsInf(minSecPerUnit, 0) {
		minSecPerUnit = 0
	}
	c.graph = algo.NewSearchGraph[algo.StopNodeAttr, algo.RoadEdgeAttr](
		cityHeuristics{minSecPerUnit: minSecPerUnit},
		cityWeight{city: c},
	)
	for _, id := range c.stopIDs {
		c.nodeOf[id] = c.graph.InitNode(c.stops[id].Pos, algo.StopNodeAttr{ID: id})
	}
	for _, e := range edges {
		mid := geometry.Midpoint(c.stops[e.From].Pos, c.stops[e.To].Pos)
		c.edges[edgeKey{e.From, e.To}] = &Edge{
			From:     e.From,
			To:       e.To,
			BaseTime: e.BaseTime,
			mid:      mid,
		}
		c.keys = append(c.keys, edgeKey{e.From, e.To})
		c.graph.InitEdge(
			c.nodeOf[e.From], c.nodeOf[e.To],
			e.BaseTime,
			algo.RoadEdgeAttr{From: e.From, To: e.To, Mid: mid},
		)
	}
	sort.Slice(c.keys, func(i, j int) bool {
		if c.keys[i].U != c.keys[j].U {
			return c.keys[i].U < c.keys[j].U
		}
		return c.keys[i].V < c.keys[j].V
	})
	return c
}

// EdgeCost 当前路况下u->v的通行时间，封路为+Inf
func (c *CityGraph) EdgeCost(u, v int, hour float64) (float64, error) {
	e, ok := c.edges[edgeKey{u, v}]
	if !ok {
		return 0, fmt.Errorf("%w: (%d,%d)", ErrUnknownEdge, u, v)
	}
	if e.Closed {
		return math.Inf(0), nil
	}
	return e.BaseTime * c.trafficAt(e.mid, hour), nil
}

// travelCost 车辆沿已进入的边行驶的瞬时耗时。封路不冻结已上路车辆以外的语义：
// 封闭的边通行时间为+Inf，车辆在边上原地等待直至重新开放
func (c *CityGraph) travelCost(u, v int) float64 {
	e := c.edges[edgeKey{u, v}]
	if e.Closed {
		return math.Inf(0)
	}
	return e.BaseTime * c.trafficAt(e.mid, c.nowHour())
}

// ShortestPath 当前路况下的最短路站点序列。
// 不跨tick缓存：边权随路况变化，按需重算。
// 运行时边权与启发不同标定，走Dijkstra入口
func (c *CityGraph) ShortestPath(start, end int) ([]int, float64, error) {
	su, ok := c.nodeOf[start]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnknownStop, start)
	}
	sv, ok := c.nodeOf[end]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnknownStop, end)
	}
	path, cost := c.graph.ShortestPathDijkstra(su, sv)
	if path == nil {
		return nil, 0, fmt.Errorf("%w: %d -> %d", ErrPathNotFound, start, end)
	}
	return lo.Map(path, func(p algo.PathItem[algo.StopNodeAttr, algo.RoadEdgeAttr], _ int) int {
		return p.NodeAttr.ID
	}), cost, nil
}

// Reachable 连通性检查，reset校验线路可达性用。
// 校验发生在注入路况之前，边权是自由流base，A Star启发可采纳
func (c *CityGraph) Reachable(start, end int) bool {
	su, ok := c.nodeOf[start]
	if !ok {
		return false
	}
	sv, ok := c.nodeOf[end]
	if !ok {
		return false
	}
	path, _ := c.graph.ShortestPathAStar(su, sv)
	return path != nil
}

// CloseEdge 封路。tick之间由外部扰动调用
func (c *CityGraph) CloseEdge(u, v int) error {
	e, ok := c.edges[edgeKey{u, v}]
	if !ok {
		return fmt.Errorf("%w: (%d,%d)", ErrUnknownEdge, u, v)
	}
	e.Closed = true
	return nil
}

// ReopenEdge 重新开放道路
func (c *CityGraph) ReopenEdge(u, v int) error {
	e, ok := c.edges[edgeKey{u, v}]
	if !ok {
		return fmt.Errorf("%w: (%d,%d)", ErrUnknownEdge, u, v)
	}
	e.Closed = false
	return nil
}

// getter

func (c *CityGraph) Stop(id int) (*Stop, bool) {
	s, ok := c.stops[id]
	return s, ok
}

// StopIDs 升序站点id
func (c *CityGraph) StopIDs() []int {
	return c.stopIDs
}

// Edges 按(U,V)升序返回全部边
func (c *CityGraph) Edges() []*Edge {
	return lo.Map(c.keys, func(k edgeKey, _ int) *Edge { return c.edges[k] })
}

func (c *CityGraph) HasEdge(u, v int) bool {
	_, ok := c.edges[edgeKey{u, v}]
	return ok
}

// PositionAlong u->v边上行驶进度frac处的坐标，用于状态导出
func (c *CityGraph) PositionAlong(u, v int, frac float64) geometry.Point {
	pu, pv := c.stops[u].Pos, c.stops[v].Pos
	return geometry.Point{
		X: pu.X + (pv.X-pu.X)*frac,
		Y: pu.Y + (pv.Y-pu.Y)*frac,
	}
}
