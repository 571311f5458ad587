package sim_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transitlab/dispatchsim/sim"
)

func obsTwoBusesAtStop(simTime float64) *sim.Observation {
	return &sim.Observation{
		SimTime: simTime,
		Buses: []sim.BusObs{
			{ID: 0, Mode: "idle", AtStop: 1, EdgeFrom: -1, EdgeTo: -1},
			{ID: 1, Mode: "idle", AtStop: 1, EdgeFrom: -1, EdgeTo: -1},
		},
		Stops: []sim.StopObs{{ID: 1}},
	}
}

func TestStaticPolicyHeadway(t *testing.T) {
	cfg := sim.DefaultConfig()
	cfg.MinHeadwaySeconds = 120
	p := sim.NewStaticSchedulePolicy(&cfg)
	assert.Equal(t, "static", p.Name())

	// 同站两车：先决策的发车，后决策的压住防止扎堆
	acts := p.Decide(obsTwoBusesAtStop(0))
	assert.Equal(t, sim.ActionContinue, acts[0].Kind)
	assert.Equal(t, sim.ActionHold, acts[1].Kind)

	// 间隔未满仍然压住
	acts = p.Decide(&sim.Observation{
		SimTime: 60,
		Buses:   []sim.BusObs{{ID: 1, Mode: "idle", AtStop: 1, EdgeFrom: -1, EdgeTo: -1}},
	})
	assert.Equal(t, sim.ActionHold, acts[1].Kind)

	// 间隔已满放行
	acts = p.Decide(&sim.Observation{
		SimTime: 120,
		Buses:   []sim.BusObs{{ID: 1, Mode: "idle", AtStop: 1, EdgeFrom: -1, EdgeTo: -1}},
	})
	assert.Equal(t, sim.ActionContinue, acts[1].Kind)

	// 行驶中的车永远CONTINUE
	acts = p.Decide(&sim.Observation{
		SimTime: 0,
		Buses:   []sim.BusObs{{ID: 2, Mode: "moving", AtStop: -1, EdgeFrom: 0, EdgeTo: 1}},
	})
	assert.Equal(t, sim.ActionContinue, acts[2].Kind)
}

func TestDemandPolicyReroutes(t *testing.T) {
	p := sim.NewDemandPolicy()
	assert.Equal(t, "demand", p.Name())

	obs := &sim.Observation{
		Buses: []sim.BusObs{
			{ID: 0, Mode: "idle", AtStop: 1, X: 1, Y: 0, Target: 1},
			{ID: 1, Mode: "moving", AtStop: -1, X: 5, Y: 5, Target: 2},
		},
		Stops: []sim.StopObs{
			{ID: 0, X: 0, Y: 0, QueueLen: 5},
			{ID: 1, X: 1, Y: 0, QueueLen: 0},
			{ID: 2, X: 2, Y: 0, QueueLen: 2},
		},
	}
	acts := p.Decide(obs)
	// 最热的站0召走唯一在站车辆，行驶中车辆不动
	assert.Equal(t, sim.ActionReroute, acts[0].Kind)
	assert.Equal(t, 0, acts[0].Target)
	assert.Equal(t, sim.ActionContinue, acts[1].Kind)
}

func TestDemandPolicySkipsCovered(t *testing.T) {
	p := sim.NewDemandPolicy()
	obs := &sim.Observation{
		Buses: []sim.BusObs{
			// 已在热点站：无需改道
			{ID: 0, Mode: "boarding", AtStop: 0, X: 0, Y: 0, Target: 0},
		},
		Stops: []sim.StopObs{
			{ID: 0, X: 0, Y: 0, QueueLen: 9},
		},
	}
	acts := p.Decide(obs)
	assert.Equal(t, sim.ActionContinue, acts[0].Kind)
}

func TestExternalAdapterFailure(t *testing.T) {
	p := sim.NewExternalPolicyAdapter("rl", func(obs *sim.Observation) (map[int]sim.DispatchAction, error) {
		return nil, errors.New("backend down")
	})
	assert.Equal(t, "rl", p.Name())

	obs := obsTwoBusesAtStop(0)
	acts := p.Decide(obs)
	require.Len(t, acts, 2)
	// 外部失败时全体HOLD，状态不受污染
	assert.Equal(t, sim.ActionHold, acts[0].Kind)
	assert.Equal(t, sim.ActionHold, acts[1].Kind)
}

func TestExternalAdapterSanitizes(t *testing.T) {
	p := sim.NewExternalPolicyAdapter("rl", func(obs *sim.Observation) (map[int]sim.DispatchAction, error) {
		return map[int]sim.DispatchAction{
			0:  {Kind: sim.ActionReroute, Target: 1},
			1:  {Kind: sim.ActionReroute, Target: 99},
			7:  {Kind: sim.ActionContinue},
			-1: {Kind: sim.ActionHold},
		}, nil
	})

	acts := p.Decide(obsTwoBusesAtStop(0))
	// 合法动作原样通过
	assert.Equal(t, sim.ActionReroute, acts[0].Kind)
	assert.Equal(t, 1, acts[0].Target)
	// 未知目标站降级HOLD
	assert.Equal(t, sim.ActionHold, acts[1].Kind)
	// 未知车辆id丢弃
	_, ok := acts[7]
	assert.False(t, ok)
	_, ok = acts[-1]
	assert.False(t, ok)
}

func TestParseActionKind(t *testing.T) {
	k, ok := sim.ParseActionKind("CONTINUE")
	assert.True(t, ok)
	assert.Equal(t, sim.ActionContinue, k)
	k, ok = sim.ParseActionKind("REROUTE_TO")
	assert.True(t, ok)
	assert.Equal(t, sim.ActionReroute, k)
	_, ok = sim.ParseActionKind("EXPLODE")
	assert.False(t, ok)
}
