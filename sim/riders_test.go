package sim

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCity() *CityGraph {
	stops := []StopSpec{
		{ID: 0, X: 0, Y: 0, Class: CLASS_HUB},
		{ID: 1, X: 1, Y: 0, Class: CLASS_LOCAL},
		{ID: 2, X: 1, Y: 1, Class: CLASS_ARTERIAL},
		{ID: 3, X: 0, Y: 1, Class: CLASS_LOCAL},
	}
	var edges []EdgeSpec
	ring := []int{0, 1, 2, 3}
	for i := range ring {
		u, v := ring[i], ring[(i+1)%len(ring)]
		edges = append(edges, EdgeSpec{From: u, To: v, BaseTime: 10})
		edges = append(edges, EdgeSpec{From: v, To: u, BaseTime: 10})
	}
	return NewCityGraph(stops, edges)
}

func saturatedDemandConfig() *Config {
	cfg := DefaultConfig()
	cfg.BaseRate = 1.0
	cfg.ClassFactors = map[StopClass]float64{CLASS_HUB: 1, CLASS_ARTERIAL: 1, CLASS_LOCAL: 1}
	cfg.DemandFactors = map[string]float64{
		BUCKET_MORNING: 1, BUCKET_MIDDAY: 1, BUCKET_EVENING: 1, BUCKET_NIGHT: 1,
	}
	cfg.LunchFactor = 0
	cfg.WeatherFactors = map[string]float64{WEATHER_CLEAR: 1}
	return &cfg
}

func TestRiderQueueFIFO(t *testing.T) {
	q := NewRiderQueue(0)
	for i := 1; i <= 5; i++ {
		q.Add(&Rider{ID: i, Origin: 0, Destination: 1})
	}
	got := q.PopUpTo(3)
	require.Len(t, got, 3)
	// 先到先上
	for i, r := range got {
		assert.Equal(t, i+1, r.ID)
	}
	rest := q.PopUpTo(10)
	require.Len(t, rest, 2)
	assert.Equal(t, 4, rest[0].ID)
	assert.Equal(t, 5, rest[1].ID)
	assert.Zero(t, q.Len())
	assert.Nil(t, q.PopUpTo(0))
}

func TestRiderQueueWaits(t *testing.T) {
	q := NewRiderQueue(0)
	q.Add(&Rider{ID: 1})
	q.Tick(1)
	q.Add(&Rider{ID: 2})
	q.Tick(1)
	assert.Equal(t, []float64{2, 1}, q.Waits())
	avg, p90 := q.WaitStats()
	assert.InDelta(t, 1.5, avg, 1e-9)
	assert.InDelta(t, 2.0, p90, 1e-9)
}

func TestGenerateDraws(t *testing.T) {
	city := testCity()
	gen := NewRiderGenerator(saturatedDemandConfig())
	rng := rand.New(rand.NewSource(7))

	draws := gen.Generate(rng, 0, 10, WEATHER_CLEAR, city)
	// 概率封顶为1：每站每tick必出一名乘客
	require.Len(t, draws, 4)
	for i, d := range draws {
		assert.Equal(t, i+1, d.id)
		assert.Equal(t, city.StopIDs()[i], d.origin)
		assert.NotEqual(t, d.origin, d.dest)
	}
	assert.Equal(t, 4, gen.Generated())
}

func TestGenerateDeterminism(t *testing.T) {
	city := testCity()
	cfg := DefaultConfig()
	cfg.BaseRate = 0.3

	run := func(seed int64) []riderDraw {
		gen := NewRiderGenerator(&cfg)
		rng := rand.New(rand.NewSource(seed))
		var all []riderDraw
		for tick := 0; tick < 50; tick++ {
			all = append(all, gen.Generate(rng, tick, 7.5, WEATHER_CLEAR, city)...)
		}
		return all
	}
	assert.Equal(t, run(42), run(42))
	assert.NotEqual(t, run(42), run(43))
}

func TestGenerateRespectsSurge(t *testing.T) {
	city := testCity()
	cfg := DefaultConfig()
	cfg.BaseRate = 0.05
	gen := NewRiderGenerator(&cfg)
	require.NoError(t, gen.AddSurge(2, 100, 1000))
	rng := rand.New(rand.NewSource(1))

	for tick := 0; tick < 20; tick++ {
		draws := gen.Generate(rng, tick, 10, WEATHER_CLEAR, city)
		found := false
		for _, d := range draws {
			if d.origin == 2 {
				found = true
			}
		}
		// 激增倍率把站2的概率推到封顶
		assert.True(t, found, "tick %d", tick)
	}
}

func TestSurgeLifecycle(t *testing.T) {
	gen := NewRiderGenerator(saturatedDemandConfig())
	require.NoError(t, gen.AddSurge(1, 10, 2))

	gen.Update(1)
	assert.InDelta(t, 10.0, gen.surgeFactor(1), 1e-9)
	gen.Update(1)
	assert.InDelta(t, 10.0, gen.surgeFactor(1), 1e-9)
	gen.Update(1)
	assert.InDelta(t, 1.0, gen.surgeFactor(1), 1e-9)
	assert.Empty(t, gen.Surges())

	assert.ErrorIs(t, gen.AddSurge(1, 0, 10), ErrConfiguration)
	assert.ErrorIs(t, gen.AddSurge(1, 2, 0), ErrConfiguration)
}

func TestTimeFactorLunch(t *testing.T) {
	cfg := DefaultConfig()
	gen := NewRiderGenerator(&cfg)
	// 午间小高峰叠加在平峰之上
	assert.InDelta(t, 1.0*1.3, gen.timeFactor(12.5), 1e-9)
	assert.InDelta(t, 1.0, gen.timeFactor(14), 1e-9)
	assert.InDelta(t, 2.5, gen.timeFactor(7), 1e-9)
	assert.InDelta(t, 0.3, gen.timeFactor(23), 1e-9)
}
