package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitlab/dispatchsim/scenario"
	"github.com/transitlab/dispatchsim/sim"
)

func FuzzEngine(f *testing.F) {
	sc, err := scenario.Grid(4, 4, 1)
	require.NoError(f, err)

	f.Add(int64(42), uint8(4), uint8(20), uint8(60), false, uint8(0))
	f.Add(int64(7), uint8(1), uint8(1), uint8(30), true, uint8(1))
	f.Add(int64(-3), uint8(0), uint8(0), uint8(10), false, uint8(2))

	// 构造随机配置与扰动
	f.Fuzz(func(t *testing.T, seed int64, buses, capacity, ticks uint8, closeEdge bool, stress uint8) {
		cfg := sim.DefaultConfig()
		sc.Configure(&cfg)
		cfg.Seed = seed
		cfg.Buses = int(buses)
		cfg.Capacity = int(capacity)
		cfg.EpisodeSeconds = 300

		engine, err := sim.NewEngine(&cfg)
		// 有且只有一个是nil
		assert.True(t, (engine == nil) != (err == nil))
		if err != nil {
			return
		}
		if closeEdge {
			edges := engine.Config().Edges
			_ = engine.CloseEdge(edges[0].From, edges[0].To)
		}
		switch stress % 3 {
		case 0:
			_ = engine.ApplyStress("gridlock")
		case 1:
			_ = engine.ApplyStress("surge")
		case 2:
			_ = engine.ApplyStress("closure")
		}
		for i := 0; i < int(ticks); i++ {
			res, err := engine.Step(0)
			assert.True(t, (res == nil) != (err == nil))
			if err != nil {
				break
			}
			for _, b := range engine.Export().Active.Buses {
				assert.LessOrEqual(t, b.Load, b.Capacity)
			}
			if res.Terminated {
				break
			}
		}
	})
}
