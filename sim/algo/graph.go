package algo

import (
	"container/heap"
	"log"
	"math"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/samber/lo"
	"github.com/transitlab/dispatchsim/geometry"
)

type node[T any] struct {
	p    geometry.Point
	attr T
}

type edge[T any] struct {
	base float64
	attr T
}

type SearchGraph[NT any, ET any] struct {
	// 邻接表，in node -> out node -> base cost
	// Runtime期间出边入边与base不变，边权通过w在查询时计算
	edges []map[int]edge[ET]
	// 出边目标，升序。搜索按此顺序松弛，等权路径的选取与map遍历顺序无关
	adj [][]int
	// 点的位置
	nodes []node[NT]
	// A Star距离预估函数
	h IHeuristics
	// edge运行时权值提取函数，nil则直接使用base
	w IEdgeWeight[ET]

	mu *xsync.RBMutex
}

type IHeuristics interface {
	HeuristicEuclidean(geometry.Point, geometry.Point) float64
}

// IEdgeWeight 运行时边权。返回+Inf表示边当前不可用
type IEdgeWeight[ET any] interface {
	RuntimeEdgeWeight(attr ET, base float64) float64
}

func NewSearchGraph[NT any, ET any](h IHeuristics, w IEdgeWeight[ET]) *SearchGraph[NT, ET] {
	return &SearchGraph[NT, ET]{
		edges: make([]map[int]edge[ET], 0),
		adj:   make([][]int, 0),
		nodes: make([]node[NT], 0),
		h:     h,
		w:     w,
		mu:    xsync.NewRBMutex(),
	}
}

func (g *SearchGraph[NT, ET]) InitNode(p geometry.Point, attr NT) int {
	g.nodes = append(g.nodes, node[NT]{p: p, attr: attr})
	g.edges = append(g.edges, make(map[int]edge[ET]))
	g.adj = append(g.adj, nil)
	return len(g.nodes) - 1
}

func (g *SearchGraph[NT, ET]) InitEdge(from, to int, base float64, attr ET) {
	if from >= len(g.edges) {
		log.Panicf("from node %d >= len(g.edges) %d", from, len(g.edges))
	}
	if to >= len(g.edges) {
		log.Panicf("to node %d >= len(g.edges) %d", to, len(g.edges))
	}
	if _, ok := g.edges[from][to]; !ok {
		i := sort.SearchInts(g.adj[from], to)
		g.adj[from] = append(g.adj[from], 0)
		copy(g.adj[from][i+1:], g.adj[from][i:])
		g.adj[from][i] = to
	}
	g.edges[from][to] = edge[ET]{
		base: base,
		attr: attr,
	}
}

func (g *SearchGraph[NT, ET]) NumNodes() int {
	return len(g.nodes)
}

func (g *SearchGraph[NT, ET]) GetEdgeBaseAndAttr(from, to int) (float64, ET) {
	edge := g.edges[from][to]
	return edge.base, edge.attr
}

func (g *SearchGraph[NT, ET]) GetEdgeBase(from, to int) float64 {
	edge := g.edges[from][to]
	return edge.base
}

// 运行时边权
func (g *SearchGraph[NT, ET]) weight(e edge[ET]) float64 {
	if g.w == nil {
		return e.base
	}
	return g.w.RuntimeEdgeWeight(e.attr, e.base)
}

type PathItem[NT any, ET any] struct {
	NodeAttr NT
	EdgeAttr ET
}

func (g *SearchGraph[NT, ET]) reconstructPath(cameFrom map[int]int, curNode int, cost float64) ([]PathItem[NT, ET], float64) {
	pathBeforeReversed := []PathItem[NT, ET]{{NodeAttr: g.nodes[curNode].attr}}
	for {
		if from, ok := cameFrom[curNode]; ok {
			_, attr := g.GetEdgeBaseAndAttr(from, curNode)
			curNode = from
			pathBeforeReversed = append(pathBeforeReversed, PathItem[NT, ET]{
				NodeAttr: g.nodes[curNode].attr,
				EdgeAttr: attr,
			})
		} else {
			break
		}
	}
	return lo.Reverse(pathBeforeReversed), cost
}

// ShortestPath 默认采用A Star
func (g *SearchGraph[NT, ET]) ShortestPath(start, end int) ([]PathItem[NT, ET], float64) {
	return g.ShortestPathAStar(start, end)
}

// A Star算法求最短路，不可达时返回(nil, +Inf)
func (g *SearchGraph[NT, ET]) ShortestPathAStar(start, end int) ([]PathItem[NT, ET], float64) {
	return g.search(start, end, true)
}

// Dijkstra算法求最短路（A Star的零启发退化），不可达时返回(nil, +Inf)
// 不依赖启发标定，任意非负运行时边权下都保证最优
func (g *SearchGraph[NT, ET]) ShortestPathDijkstra(start, end int) ([]PathItem[NT, ET], float64) {
	return g.search(start, end, false)
}

func (g *SearchGraph[NT, ET]) search(start, end int, useHeuristic bool) ([]PathItem[NT, ET], float64) {
	token := g.mu.RLock()
	defer g.mu.RUnlock(token)
	if start == end {
		return []PathItem[NT, ET]{{NodeAttr: g.nodes[start].attr}}, 0
	}
	h := func(n int) float64 {
		if !useHeuristic {
			return 0
		}
		return g.h.HeuristicEuclidean(g.nodes[n].p, g.nodes[end].p)
	}
	openSet := make(PriorityQueue, 1)
	openSetMap := make(map[int]*Item, 1) // openSet value -> openSet item
	cameFrom := make(map[int]int)
	gScore := make(map[int]float64)
	gScore[start] = .0
	openSet[0] = &Item{Value: start, Priority: h(start), Index: 0}
	openSetMap[start] = openSet[0]
	heap.Init(&openSet)
	for openSet.Len() > 0 {
		cur := heap.Pop(&openSet).(*Item).Value
		if cur == end {
			return g.reconstructPath(cameFrom, cur, gScore[cur])
		}
		for _, neighbor := range g.adj[cur] {
			edge := g.edges[cur][neighbor]
			gScoreTentative := gScore[cur] + g.weight(edge)
			var gScoreNeighbor float64
			s, ok := gScore[neighbor]
			if ok {
				gScoreNeighbor = s
			} else {
				gScoreNeighbor = math.Inf(0)
			}
			if gScoreTentative < gScoreNeighbor {
				cameFrom[neighbor] = cur
				gScore[neighbor] = gScoreTentative
				fScore := gScoreTentative + h(neighbor)
				if ok {
					// 已经访问过的节点，修改其在heap中的优先级
					openSetMap[neighbor].Priority = fScore
					heap.Fix(&openSet, openSetMap[neighbor].Index)
				} else {
					// 新访问的节点
					item := &Item{Value: neighbor, Priority: fScore}
					heap.Push(&openSet, item)
					openSetMap[neighbor] = item
				}
			}
		}
	}
	return nil, math.Inf(0)
}
