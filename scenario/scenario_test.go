package scenario_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitlab/dispatchsim/scenario"
	"github.com/transitlab/dispatchsim/sim"
)

func TestGridDeterminism(t *testing.T) {
	a, err := scenario.Grid(5, 5, 42)
	require.NoError(t, err)
	b, err := scenario.Grid(5, 5, 42)
	require.NoError(t, err)
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	assert.Equal(t, ja, jb)

	c, err := scenario.Grid(5, 5, 43)
	require.NoError(t, err)
	jc, _ := json.Marshal(c)
	assert.NotEqual(t, ja, jc)
}

func TestGridShape(t *testing.T) {
	s, err := scenario.Grid(4, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, "grid-4x5", s.Name)
	assert.Len(t, s.Stops, 20)
	// 横边(5-1)×4，纵边(4-1)×5，各双向
	assert.Len(t, s.Edges, 2*(4*4+3*5))
	assert.Len(t, s.Lines, 3)

	hubs, arterials := 0, 0
	for _, st := range s.Stops {
		switch st.Class {
		case sim.CLASS_HUB:
			hubs++
		case sim.CLASS_ARTERIAL:
			arterials++
		}
	}
	assert.Equal(t, 1, hubs)
	// 中行+中列去掉交点
	assert.Equal(t, 5+4-2, arterials)

	for _, e := range s.Edges {
		assert.GreaterOrEqual(t, e.BaseTime, 60.0)
		assert.LessOrEqual(t, e.BaseTime, 90.0)
	}

	_, err = scenario.Grid(2, 5, 1)
	assert.ErrorIs(t, err, sim.ErrConfiguration)
}

func TestGridRunsInEngine(t *testing.T) {
	s, err := scenario.Grid(5, 5, 7)
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	cfg := sim.DefaultConfig()
	cfg.EpisodeSeconds = 60
	s.Configure(&cfg)
	e, err := sim.NewEngine(&cfg)
	require.NoError(t, err)
	_, err = e.Run(30)
	require.NoError(t, err)
	assert.Equal(t, 30, e.Tick())
}

func TestLocatorParsing(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "net.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o644))

	loc, err := scenario.NewLocator(file)
	require.NoError(t, err)
	assert.Equal(t, file, loc.File)

	loc, err = scenario.NewLocator("simdb.scenarios")
	require.NoError(t, err)
	assert.Equal(t, "simdb", loc.DB)
	assert.Equal(t, "scenarios", loc.Coll)
	assert.Equal(t, "simdb.scenarios", loc.String())
	assert.Equal(t,
		filepath.Join(dir, "simdb.scenarios.downtown.json"),
		loc.CachePath(dir, "downtown"))

	loc, err = scenario.NewLocator("")
	require.NoError(t, err)
	assert.Nil(t, loc)

	_, err = scenario.NewLocator("a.b.c")
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	s, err := scenario.Grid(4, 4, 3)
	require.NoError(t, err)
	dir := t.TempDir()
	file := filepath.Join(dir, "grid.json")
	data, err := json.Marshal(s)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(file, data, 0o644))

	loc, err := scenario.NewLocator(file)
	require.NoError(t, err)
	got, err := scenario.Load("", loc, "", "")
	require.NoError(t, err)
	assert.Equal(t, s.Name, got.Name)
	assert.Equal(t, s.Stops, got.Stops)

	// 残缺文件要报错而不是静默空场景
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"name":"x"}`), 0o644))
	loc, err = scenario.NewLocator(bad)
	require.NoError(t, err)
	_, err = scenario.Load("", loc, "", "")
	assert.Error(t, err)
}

func TestLoadPrefersCache(t *testing.T) {
	s, err := scenario.Grid(4, 4, 9)
	require.NoError(t, err)
	dir := t.TempDir()
	loc := &scenario.Locator{DB: "simdb", Coll: "scenarios"}
	data, err := json.Marshal(s)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(loc.CachePath(dir, s.Name), data, 0o644))

	// 缓存命中时不应尝试连库：URI故意给错
	got, err := scenario.Load("mongodb://invalid:1", loc, s.Name, dir)
	require.NoError(t, err)
	assert.Equal(t, s.Name, got.Name)
}
