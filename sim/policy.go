package sim

import "sort"

// BusObs 单车观测。at_stop为-1表示行驶中，此时edge_from/edge_to/progress有效
type BusObs struct {
	ID       int     `json:"id"`
	Mode     string  `json:"mode"`
	AtStop   int     `json:"at_stop"`
	EdgeFrom int     `json:"edge_from"`
	EdgeTo   int     `json:"edge_to"`
	Progress float64 `json:"progress"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Load     int     `json:"load"`
	Capacity int     `json:"capacity"`
	// 路线下一站与路线终点
	NextStop int `json:"next_stop"`
	Target   int `json:"target"`
}

// StopObs 单站观测
type StopObs struct {
	ID       int     `json:"id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Class    string  `json:"class"`
	QueueLen int     `json:"queue_len"`
}

// Observation 每tick喂给调度策略的完整观测，车与站均按id升序
type Observation struct {
	Tick    int       `json:"tick"`
	SimTime float64   `json:"sim_time"`
	Hour    float64   `json:"hour"`
	Bucket  string    `json:"bucket"`
	Weather string    `json:"weather"`
	Buses   []BusObs  `json:"buses"`
	Stops   []StopObs `json:"stops"`
}

// DispatchPolicy 调度策略。每tick输入观测，输出每辆车的动作，
// 缺失的车辆视为CONTINUE。实现持有自身状态，主副世界各用各的实例
type DispatchPolicy interface {
	Name() string
	Decide(obs *Observation) map[int]DispatchAction
}

// StaticSchedulePolicy 静态时刻表：车辆沿固定线路循环，无视需求。
// 仅在站间隔约束未满足时发HOLD，防止同站连发扎堆
type StaticSchedulePolicy struct {
	minHeadway float64
	// 站点 -> 最近一次发车的仿真时刻
	lastDeparture map[int]float64
}

func NewStaticSchedulePolicy(cfg *Config) *StaticSchedulePolicy {
	return &StaticSchedulePolicy{
		minHeadway:    cfg.MinHeadwaySeconds,
		lastDeparture: make(map[int]float64),
	}
}

func (p *StaticSchedulePolicy) Name() string { return "static" }

func (p *StaticSchedulePolicy) Decide(obs *Observation) map[int]DispatchAction {
	acts := make(map[int]DispatchAction, len(obs.Buses))
	for _, b := range obs.Buses {
		if b.AtStop < 0 {
			acts[b.ID] = DispatchAction{Kind: ActionContinue}
			continue
		}
		if last, ok := p.lastDeparture[b.AtStop]; ok && p.minHeadway > 0 &&
			obs.SimTime-last < p.minHeadway {
			acts[b.ID] = DispatchAction{Kind: ActionHold}
			continue
		}
		acts[b.ID] = DispatchAction{Kind: ActionContinue}
		p.lastDeparture[b.AtStop] = obs.SimTime
	}
	return acts
}

// DemandPolicy 需求导向：排队最长的前k个站各召一辆最近的空闲车改道，
// 其余车辆照常
type DemandPolicy struct {
	topK int
}

func NewDemandPolicy() *DemandPolicy {
	return &DemandPolicy{topK: 3}
}

func (p *DemandPolicy) Name() string { return "demand" }

func (p *DemandPolicy) Decide(obs *Observation) map[int]DispatchAction {
	acts := make(map[int]DispatchAction, len(obs.Buses))
	for _, b := range obs.Buses {
		acts[b.ID] = DispatchAction{Kind: ActionContinue}
	}
	// 热点站：队长降序，平队长时id小者优先
	hot := make([]StopObs, len(obs.Stops))
	copy(hot, obs.Stops)
	sort.SliceStable(hot, func(i, j int) bool {
		if hot[i].QueueLen != hot[j].QueueLen {
			return hot[i].QueueLen > hot[j].QueueLen
		}
		return hot[i].ID < hot[j].ID
	})
	assigned := make(map[int]bool, p.topK)
	for i := 0; i < p.topK && i < len(hot); i++ {
		s := hot[i]
		if s.QueueLen == 0 {
			break
		}
		// 最近的未分派非行驶车辆
		best, bestD := -1, 0.0
		for _, b := range obs.Buses {
			if b.AtStop < 0 || assigned[b.ID] {
				continue
			}
			if b.AtStop == s.ID || b.Target == s.ID {
				// 已在站或已在途，不再改道
				best = -1
				break
			}
			dx, dy := b.X-s.X, b.Y-s.Y
			d := dx*dx + dy*dy
			if best < 0 || d < bestD {
				best, bestD = b.ID, d
			}
		}
		if best >= 0 {
			acts[best] = DispatchAction{Kind: ActionReroute, Target: s.ID}
			assigned[best] = true
		}
	}
	return acts
}

// ExternalFunc 外部决策函数。返回错误时本tick所有车辆HOLD
type ExternalFunc func(obs *Observation) (map[int]DispatchAction, error)

// ExternalPolicyAdapter 外部策略适配。把观测转交外部决策方，
// 译码失败或越界输出一律降级为HOLD，绝不污染车辆状态
type ExternalPolicyAdapter struct {
	name string
	fn   ExternalFunc
}

func NewExternalPolicyAdapter(name string, fn ExternalFunc) *ExternalPolicyAdapter {
	return &ExternalPolicyAdapter{name: name, fn: fn}
}

func (p *ExternalPolicyAdapter) Name() string { return p.name }

func (p *ExternalPolicyAdapter) Decide(obs *Observation) map[int]DispatchAction {
	raw, err := p.fn(obs)
	if err != nil {
		log.Warnf("external policy %s failed, holding all buses: %v", p.name, err)
		acts := make(map[int]DispatchAction, len(obs.Buses))
		for _, b := range obs.Buses {
			acts[b.ID] = DispatchAction{Kind: ActionHold}
		}
		return acts
	}
	busKnown := make(map[int]bool, len(obs.Buses))
	for _, b := range obs.Buses {
		busKnown[b.ID] = true
	}
	stopKnown := make(map[int]bool, len(obs.Stops))
	for _, s := range obs.Stops {
		stopKnown[s.ID] = true
	}
	acts := make(map[int]DispatchAction, len(raw))
	for id, a := range raw {
		if !busKnown[id] {
			continue
		}
		switch a.Kind {
		case ActionContinue, ActionHold, ActionSkipStop:
			acts[id] = DispatchAction{Kind: a.Kind}
		case ActionReroute:
			if stopKnown[a.Target] {
				acts[id] = a
			} else {
				log.Debugf("external policy %s: reroute to unknown stop %d, bus %d holds", p.name, a.Target, id)
				acts[id] = DispatchAction{Kind: ActionHold}
			}
		default:
			acts[id] = DispatchAction{Kind: ActionHold}
		}
	}
	return acts
}
