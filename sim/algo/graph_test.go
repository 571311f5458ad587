package algo_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/transitlab/dispatchsim/geometry"
	"github.com/transitlab/dispatchsim/sim/algo"
)

type testHeuristics struct{}

func (h testHeuristics) HeuristicEuclidean(p1 geometry.Point, p2 geometry.Point) float64 {
	return geometry.Distance(p1, p2)
}

func TestSearchGraph(t *testing.T) {
	g := algo.NewSearchGraph[int, int](testHeuristics{}, nil)

	// 初始化点
	n1 := g.InitNode(geometry.Point{X: 0, Y: 0}, 1)
	n2 := g.InitNode(geometry.Point{X: 0, Y: 1}, 2)
	n3 := g.InitNode(geometry.Point{X: 1, Y: 1}, 3)
	n4 := g.InitNode(geometry.Point{X: 2, Y: 1}, 4)

	// 初始化边
	g.InitEdge(n1, n2, 1, 12)
	g.InitEdge(n2, n3, 1, 23)
	g.InitEdge(n3, n4, 1, 34)

	assert.Equal(t, 1.0, g.GetEdgeBase(n1, n2))

	// 计算最短路
	path, cost := g.ShortestPath(n1, n4)
	assert.Len(t, path, 4)
	assert.Equal(t, 1, path[0].NodeAttr)
	assert.Equal(t, 12, path[0].EdgeAttr)
	assert.Equal(t, 2, path[1].NodeAttr)
	assert.Equal(t, 23, path[1].EdgeAttr)
	assert.Equal(t, 3, path[2].NodeAttr)
	assert.Equal(t, 34, path[2].EdgeAttr)
	assert.Equal(t, 4, path[3].NodeAttr)
	assert.Equal(t, 3.0, cost)

	path, cost = g.ShortestPath(n3, n3)
	assert.Len(t, path, 1)
	assert.Equal(t, 3, path[0].NodeAttr)
	assert.Equal(t, 0.0, cost)

	// 加入不可达的点
	n5 := g.InitNode(geometry.Point{X: 5, Y: 5}, 5)
	path, cost = g.ShortestPath(n1, n5)
	assert.Nil(t, path)
	assert.True(t, math.IsInf(cost, 1))
}

func TestSearchGraphDetour(t *testing.T) {
	g := algo.NewSearchGraph[int, int](testHeuristics{}, nil)

	n1 := g.InitNode(geometry.Point{X: 0, Y: 0}, 1)
	n2 := g.InitNode(geometry.Point{X: 0, Y: 1}, 2)
	n3 := g.InitNode(geometry.Point{X: 1, Y: 0}, 3)

	// 直达边比绕行更贵
	g.InitEdge(n1, n2, 10, 12)
	g.InitEdge(n1, n3, 2, 13)
	g.InitEdge(n3, n2, 1, 32)

	path, cost := g.ShortestPath(n1, n2)
	assert.Len(t, path, 3)
	assert.Equal(t, 1, path[0].NodeAttr)
	assert.Equal(t, 13, path[0].EdgeAttr)
	assert.Equal(t, 3, path[1].NodeAttr)
	assert.Equal(t, 32, path[1].EdgeAttr)
	assert.Equal(t, 2, path[2].NodeAttr)
	assert.Equal(t, 3.0, cost)
}

// 运行时边权：模拟拥堵系数与封路
type testWeight struct {
	factor map[int]float64 // edge attr -> 倍率，math.Inf(1)表示封路
}

func (w testWeight) RuntimeEdgeWeight(attr int, base float64) float64 {
	if f, ok := w.factor[attr]; ok {
		if math.IsInf(f, 1) {
			return f
		}
		return base * f
	}
	return base
}

func TestSearchGraphRuntimeWeight(t *testing.T) {
	w := testWeight{factor: map[int]float64{}}
	g := algo.NewSearchGraph[int, int](testHeuristics{}, w)

	n1 := g.InitNode(geometry.Point{X: 0, Y: 0}, 1)
	n2 := g.InitNode(geometry.Point{X: 1, Y: 0}, 2)
	n3 := g.InitNode(geometry.Point{X: 0, Y: 1}, 3)

	g.InitEdge(n1, n2, 1, 12)
	g.InitEdge(n1, n3, 2, 13)
	g.InitEdge(n3, n2, 2, 32)

	// 无拥堵走直达
	path, cost := g.ShortestPathDijkstra(n1, n2)
	assert.Len(t, path, 2)
	assert.Equal(t, 1.0, cost)

	// 直达边拥堵后改绕行
	w.factor[12] = 8.0
	path, cost = g.ShortestPathDijkstra(n1, n2)
	assert.Len(t, path, 3)
	assert.Equal(t, 3, path[1].NodeAttr)
	assert.Equal(t, 4.0, cost)

	// 全部封路则不可达
	w.factor[12] = math.Inf(1)
	w.factor[13] = math.Inf(1)
	path, cost = g.ShortestPathDijkstra(n1, n2)
	assert.Nil(t, path)
	assert.True(t, math.IsInf(cost, 1))
}
