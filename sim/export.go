package sim

// WorldState 单世界的完整可见状态
type WorldState struct {
	Name   string      `json:"name"`
	Policy string      `json:"policy"`
	Buses  []BusObs    `json:"buses"`
	Stops  []StopObs   `json:"stops"`
	KPI    KPISnapshot `json:"kpi"`
}

// Snapshot 引擎全量状态导出，供查询接口与实时数据转换使用
type Snapshot struct {
	State       string        `json:"state"`
	Seed        int64         `json:"seed"`
	Tick        int           `json:"tick"`
	SimTime     float64       `json:"sim_time"`
	Hour        float64       `json:"hour"`
	Bucket      string        `json:"bucket"`
	Weather     string        `json:"weather"`
	Zones       []TrafficZone `json:"zones"`
	Surges      []DemandSurge `json:"surges"`
	ClosedEdges [][2]int      `json:"closed_edges"`
	Generated   int           `json:"generated"`
	Active      WorldState    `json:"active"`
	Baseline    WorldState    `json:"baseline"`
}

// RunSummary episode汇总，终止前调用给出截至当前tick的累计值
type RunSummary struct {
	Seed        int64      `json:"seed"`
	State       string     `json:"state"`
	Ticks       int        `json:"ticks"`
	Generated   int        `json:"generated"`
	Active      KPISummary `json:"active"`
	Baseline    KPISummary `json:"baseline"`
	Improvement float64    `json:"improvement"`
}

// Export 当前引擎状态快照
func (e *Engine) Export() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	hour := e.hour()
	snap := &Snapshot{
		State:     e.state,
		Seed:      e.seed,
		Tick:      e.tick,
		SimTime:   e.simTime,
		Hour:      hour,
		Bucket:    TimeBucket(hour),
		Weather:   e.weather,
		Zones:     e.traffic.Zones(),
		Surges:    e.gen.Surges(),
		Generated: e.gen.Generated(),
	}
	// 封路集合两个世界恒一致，取主世界的即可
	for _, ed := range e.active.city.Edges() {
		if ed.Closed {
			snap.ClosedEdges = append(snap.ClosedEdges, [2]int{ed.From, ed.To})
		}
	}
	snap.Active = e.worldState(e.active, hour)
	snap.Baseline = e.worldState(e.baseline, hour)
	return snap
}

func (e *Engine) worldState(w *world, hour float64) WorldState {
	obs := e.observe(w, hour)
	return WorldState{
		Name:   w.name,
		Policy: w.policy.Name(),
		Buses:  obs.Buses,
		Stops:  obs.Stops,
		KPI:    w.lastKPI,
	}
}

// Summary episode汇总
func (e *Engine) Summary() *RunSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, b := e.active.kpi.Summary(), e.baseline.kpi.Summary()
	return &RunSummary{
		Seed:        e.seed,
		State:       e.state,
		Ticks:       e.tick,
		Generated:   e.gen.Generated(),
		Active:      a,
		Baseline:    b,
		Improvement: Improvement(b.MeanAvgWait, a.MeanAvgWait),
	}
}
