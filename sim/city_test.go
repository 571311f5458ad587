package sim_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transitlab/dispatchsim/sim"
)

func buildCity(t *testing.T) *sim.CityGraph {
	t.Helper()
	stops := []sim.StopSpec{
		{ID: 0, X: 0, Y: 0, Class: sim.CLASS_HUB},
		{ID: 1, X: 1, Y: 0, Class: sim.CLASS_LOCAL},
		{ID: 2, X: 2, Y: 0, Class: sim.CLASS_ARTERIAL},
		{ID: 3, X: 1, Y: 1, Class: sim.CLASS_LOCAL},
	}
	edges := []sim.EdgeSpec{
		{From: 0, To: 1, BaseTime: 10},
		{From: 1, To: 2, BaseTime: 10},
		{From: 0, To: 2, BaseTime: 25},
		{From: 2, To: 0, BaseTime: 25},
		{From: 0, To: 3, BaseTime: 12},
	}
	return sim.NewCityGraph(stops, edges)
}

func TestCityShortestPath(t *testing.T) {
	city := buildCity(t)
	// 两跳10+10优于直达25
	path, cost, err := city.ShortestPath(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, path)
	assert.InDelta(t, 20.0, cost, 1e-9)

	// 起终点相同
	path, cost, err = city.ShortestPath(2, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, path)
	assert.Zero(t, cost)
}

func TestCityPathNotFound(t *testing.T) {
	city := buildCity(t)
	// 站3没有出边
	_, _, err := city.ShortestPath(3, 0)
	assert.ErrorIs(t, err, sim.ErrPathNotFound)
	assert.False(t, city.Reachable(3, 0))
	assert.True(t, city.Reachable(0, 3))

	_, _, err = city.ShortestPath(9, 0)
	assert.ErrorIs(t, err, sim.ErrUnknownStop)
	_, _, err = city.ShortestPath(0, 9)
	assert.ErrorIs(t, err, sim.ErrUnknownStop)
}

func TestCityEdgeCost(t *testing.T) {
	city := buildCity(t)
	c, err := city.EdgeCost(0, 1, 10)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, c, 1e-9)

	_, err = city.EdgeCost(1, 0, 10)
	assert.ErrorIs(t, err, sim.ErrUnknownEdge)

	require.NoError(t, city.CloseEdge(0, 1))
	c, err = city.EdgeCost(0, 1, 10)
	require.NoError(t, err)
	assert.True(t, math.IsInf(c, 1))

	// 封路后改走直达边
	path, cost, err := city.ShortestPath(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, path)
	assert.InDelta(t, 25.0, cost, 1e-9)

	require.NoError(t, city.ReopenEdge(0, 1))
	path, _, err = city.ShortestPath(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, path)

	assert.ErrorIs(t, city.CloseEdge(5, 6), sim.ErrUnknownEdge)
	assert.ErrorIs(t, city.ReopenEdge(5, 6), sim.ErrUnknownEdge)
}

func TestCityGetters(t *testing.T) {
	city := buildCity(t)
	assert.Equal(t, []int{0, 1, 2, 3}, city.StopIDs())

	edges := city.Edges()
	require.Len(t, edges, 5)
	// 按(from,to)升序
	assert.Equal(t, 0, edges[0].From)
	assert.Equal(t, 1, edges[0].To)
	last := edges[len(edges)-1]
	assert.Equal(t, 2, last.From)
	assert.Equal(t, 0, last.To)

	assert.True(t, city.HasEdge(0, 3))
	assert.False(t, city.HasEdge(3, 0))

	p := city.PositionAlong(0, 2, 0.5)
	assert.InDelta(t, 1.0, p.X, 1e-9)
	assert.InDelta(t, 0.0, p.Y, 1e-9)

	s, ok := city.Stop(3)
	require.True(t, ok)
	assert.Equal(t, sim.CLASS_LOCAL, s.Class)
	_, ok = city.Stop(42)
	assert.False(t, ok)
}
