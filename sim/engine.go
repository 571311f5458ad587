package sim

import (
	"fmt"
	"math/rand"
	"sync"
)

// world 主/副仿真世界。路网与车队各持一份，路况模型与需求抽样共享，
// 双世界唯一的差别是调度策略
type world struct {
	name    string
	city    *CityGraph
	fleet   *BusFleet
	policy  DispatchPolicy
	kpi     *KPIRecorder
	lastKPI KPISnapshot
}

// timedClosure 限时封路，到期自动重开
type timedClosure struct {
	U, V      int
	Remaining float64
}

// StepResult 单tick的推进结果。Tick/SimTime/Hour均为tick开始时的值
type StepResult struct {
	Tick        int          `json:"tick"`
	SimTime     float64      `json:"sim_time"`
	Hour        float64      `json:"hour"`
	Bucket      string       `json:"bucket"`
	Weather     string       `json:"weather"`
	Active      KPISnapshot  `json:"active"`
	Baseline    KPISnapshot  `json:"baseline"`
	Improvement Improvements `json:"improvement"`
	Terminated  bool         `json:"terminated"`
}

// Engine 仿真引擎。持有唯一的随机源，同种子同配置下逐tick结果完全一致。
// 主世界跑可切换的调度策略，副世界恒跑静态时刻表作为对照基线，
// 两个世界消费同一条需求抽样流
type Engine struct {
	mu sync.Mutex

	cfg     *Config
	seed    int64
	rng     *rand.Rand
	state   string
	tick    int
	simTime float64
	weather string

	traffic  *TrafficModel
	gen      *RiderGenerator
	closures []*timedClosure

	active   *world
	baseline *world
}

func NewEngine(cfg *Config) (*Engine, error) {
	e := &Engine{}
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrConfiguration)
	}
	if err := e.reset(cfg.Seed, cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// Reset 以新种子重建双世界。cfg为nil时沿用当前配置。
// 校验失败时引擎保持原状态不动
func (e *Engine) Reset(seed int64, cfg *Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reset(seed, cfg)
}

func (e *Engine) reset(seed int64, cfg *Config) error {
	if cfg == nil {
		cfg = e.cfg
	}
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	active := buildWorld("active", cfg)
	baseline := buildWorld("baseline", cfg)
	// 静态时刻表的相邻站必须连通，否则车辆会永久卡死
	for _, l := range cfg.Lines {
		for i := range l.Stops {
			u, v := l.Stops[i], l.Stops[(i+1)%len(l.Stops)]
			if u != v && !active.city.Reachable(u, v) {
				return fmt.Errorf("%w: line %d leg %d -> %d is unreachable", ErrConfiguration, l.ID, u, v)
			}
		}
	}
	// 校验全部通过后才改动引擎状态
	e.cfg = cfg
	e.seed = seed
	e.rng = rand.New(rand.NewSource(seed))
	e.state = STATE_INITIALIZED
	e.tick = 0
	e.simTime = 0
	e.weather = cfg.Weather
	e.traffic = NewTrafficModel(cfg)
	e.gen = NewRiderGenerator(cfg)
	e.closures = nil
	e.active = active
	e.baseline = baseline
	for _, w := range []*world{e.active, e.baseline} {
		w.city.trafficAt = e.traffic.FactorAt
		w.city.nowHour = e.hour
	}
	log.Infof("engine reset: seed=%d stops=%d edges=%d lines=%d buses=%d",
		seed, len(cfg.Stops), len(cfg.Edges), len(cfg.Lines), cfg.Buses)
	return nil
}

func buildWorld(name string, cfg *Config) *world {
	city := NewCityGraph(cfg.Stops, cfg.Edges)
	return &world{
		name:   name,
		city:   city,
		fleet:  NewBusFleet(cfg, city),
		policy: NewStaticSchedulePolicy(cfg),
		kpi:    NewKPIRecorder(cfg),
	}
}

// 当前仿真时刻（小时计）
func (e *Engine) hour() float64 {
	return e.cfg.StartHour + e.simTime/3600
}

// Step 推进一个tick。dt<=0时取配置的tick长度。
// 固定顺序：路况衰减 -> 需求生成 -> 调度 -> 车辆推进 -> 到站下上客 -> KPI。
// episode时长耗尽后引擎终止，再step返回ErrState
func (e *Engine) Step(dt float64) (*StepResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == STATE_TERMINATED {
		return nil, fmt.Errorf("%w: episode terminated at tick %d, reset before stepping", ErrState, e.tick)
	}
	if dt <= 0 {
		dt = e.cfg.TickSeconds
	}
	e.state = STATE_RUNNING
	hour := e.hour()

	// 1 路况与扰动衰减
	e.traffic.Update(dt)
	e.gen.Update(dt)
	e.updateClosures(dt)

	// 2 需求：同一批抽样喂给两个世界
	draws := e.gen.Generate(e.rng, e.tick, hour, e.weather, e.active.city)
	for _, d := range draws {
		for _, w := range []*world{e.active, e.baseline} {
			stop, _ := w.city.Stop(d.origin)
			stop.Queue.Add(&Rider{ID: d.id, Origin: d.origin, Destination: d.dest, ArrivalTick: e.tick})
		}
	}

	// 3-5 调度、推进、到站
	for _, w := range []*world{e.active, e.baseline} {
		e.stepWorld(w, dt, hour)
	}

	// 6 KPI
	res := &StepResult{
		Tick:    e.tick,
		SimTime: e.simTime,
		Hour:    hour,
		Bucket:  TimeBucket(hour),
		Weather: e.weather,
	}
	res.Active = e.observeKPI(e.active)
	res.Baseline = e.observeKPI(e.baseline)
	res.Improvement = ImprovementsOf(res.Baseline, res.Active)

	e.tick++
	e.simTime += dt
	if e.simTime >= e.cfg.EpisodeSeconds {
		e.state = STATE_TERMINATED
		res.Terminated = true
		log.Infof("episode terminated after %d ticks: active avg wait %.1fs, baseline %.1fs, improvement %.1f%%",
			e.tick, res.Active.AvgWait, res.Baseline.AvgWait, res.Improvement.AvgWait*100)
	}
	return res, nil
}

// Run 连续推进至多n个tick，终止即停。返回最后一个tick的结果
func (e *Engine) Run(n int) (*StepResult, error) {
	var last *StepResult
	for i := 0; i < n; i++ {
		res, err := e.Step(0)
		if err != nil {
			return last, err
		}
		last = res
		if res.Terminated {
			break
		}
	}
	return last, nil
}

func (e *Engine) stepWorld(w *world, dt, hour float64) {
	obs := e.observe(w, hour)
	acts := w.policy.Decide(obs)
	// 按车辆id序施加动作，缺失的车辆视为CONTINUE
	for _, b := range w.fleet.Buses() {
		act, ok := acts[b.ID]
		if !ok {
			act = DispatchAction{Kind: ActionContinue}
		}
		e.apply(w, b, act)
	}
	arrivals := w.fleet.Advance(dt)
	// 先下后上：本tick腾出的容量供本tick上客
	for _, ar := range arrivals {
		for _, r := range w.fleet.ProcessArrival(ar.Bus, ar.Node) {
			w.kpi.RecordDelivery(r.Wait)
		}
	}
	// 上客：刚到站的与持续停站的车辆一并处理
	for _, b := range w.fleet.Buses() {
		if b.Mode == BusMoving {
			continue
		}
		boarded := w.fleet.ProcessBoarding(b, b.AtNode)
		if len(boarded) > 0 {
			b.Mode = BusBoarding
		} else if b.Mode == BusBoarding {
			b.Mode = BusIdle
		}
	}
	// 仍在等待的乘客累加等待时长
	for _, id := range w.city.StopIDs() {
		stop, _ := w.city.Stop(id)
		stop.Queue.Tick(dt)
	}
	e.checkConservation(w)
}

// observe 构造喂给策略的观测，车与站均按id升序
func (e *Engine) observe(w *world, hour float64) *Observation {
	obs := &Observation{
		Tick:    e.tick,
		SimTime: e.simTime,
		Hour:    hour,
		Bucket:  TimeBucket(hour),
		Weather: e.weather,
	}
	for _, b := range w.fleet.Buses() {
		bo := BusObs{
			ID:       b.ID,
			Mode:     b.Mode.String(),
			AtStop:   -1,
			EdgeFrom: -1,
			EdgeTo:   -1,
			Load:     b.Load(),
			Capacity: b.Capacity,
			NextStop: b.NextScheduled(),
			Target:   b.Target(),
		}
		if b.Mode == BusMoving {
			bo.EdgeFrom, bo.EdgeTo, bo.Progress = b.EdgeFrom, b.EdgeTo, b.Progress
			p := w.city.PositionAlong(b.EdgeFrom, b.EdgeTo, b.Progress)
			bo.X, bo.Y = p.X, p.Y
			bo.NextStop = b.EdgeTo
		} else {
			bo.AtStop = b.AtNode
			stop, _ := w.city.Stop(b.AtNode)
			bo.X, bo.Y = stop.Pos.X, stop.Pos.Y
			if len(b.route) > 0 {
				bo.NextStop = b.route[0]
			}
		}
		obs.Buses = append(obs.Buses, bo)
	}
	for _, id := range w.city.StopIDs() {
		s, _ := w.city.Stop(id)
		obs.Stops = append(obs.Stops, StopObs{
			ID:       id,
			X:        s.Pos.X,
			Y:        s.Pos.Y,
			Class:    string(s.Class),
			QueueLen: s.Queue.Len(),
		})
	}
	return obs
}

func (e *Engine) apply(w *world, b *Bus, act DispatchAction) {
	switch act.Kind {
	case ActionHold:
		// 行驶中HOLD无意义，照常行驶；在站则原地停留
	case ActionSkipStop:
		b.skipBoard = true
		if b.Mode != BusMoving {
			e.continueOn(w, b)
		}
	case ActionReroute:
		e.reroute(w, b, act.Target)
	default:
		if b.Mode != BusMoving {
			e.continueOn(w, b)
		}
	}
}

// continueOn 在站车辆沿既定路线发车，路线为空则按静态时刻表续一段
func (e *Engine) continueOn(w *world, b *Bus) {
	if len(b.route) == 0 {
		// 跳过与当前站重合的计划站
		for i := 0; i < len(b.Line) && b.NextScheduled() == b.AtNode; i++ {
			b.linePos = (b.linePos + 1) % len(b.Line)
		}
		next := b.NextScheduled()
		if next == b.AtNode {
			return
		}
		path, _, err := w.city.ShortestPath(b.AtNode, next)
		if err != nil {
			// 封路导致不可达：原地等待，下tick重试
			log.Warnf("%s world: bus %d cannot reach scheduled stop %d: %v", w.name, b.ID, next, err)
			return
		}
		b.setRoute(path[1:])
	}
	w.fleet.depart(b)
}

// reroute 改道去目标站。行驶中的改道在驶完当前边后生效
func (e *Engine) reroute(w *world, b *Bus, target int) {
	if _, ok := w.city.Stop(target); !ok {
		log.Warnf("%s world: bus %d reroute to unknown stop %d ignored", w.name, b.ID, target)
		return
	}
	anchor := b.AtNode
	if b.Mode == BusMoving {
		anchor = b.EdgeTo
	}
	if anchor == target {
		if b.Mode == BusMoving {
			b.setRoute(nil)
			b.Replans++
		}
		return
	}
	path, _, err := w.city.ShortestPath(anchor, target)
	if err != nil {
		log.Warnf("%s world: bus %d reroute to %d failed: %v", w.name, b.ID, target, err)
		return
	}
	b.setRoute(path[1:])
	b.Replans++
	if b.Mode != BusMoving {
		w.fleet.depart(b)
	}
}

func (e *Engine) observeKPI(w *world) KPISnapshot {
	var waits []float64
	for _, id := range w.city.StopIDs() {
		stop, _ := w.city.Stop(id)
		waits = append(waits, stop.Queue.Waits()...)
	}
	loads := make([]int, 0, len(w.fleet.Buses()))
	distance := 0.0
	replans := 0
	for _, b := range w.fleet.Buses() {
		loads = append(loads, b.Load())
		distance += b.Distance
		replans += b.Replans
	}
	snap := w.kpi.Observe(e.tick, waits, loads, distance, replans)
	w.lastKPI = snap
	return snap
}

// 乘客守恒：任一时刻 生成 = 等待 + 在车 + 已送达。破坏即编程错误
func (e *Engine) checkConservation(w *world) {
	waiting, onboard := 0, 0
	for _, id := range w.city.StopIDs() {
		stop, _ := w.city.Stop(id)
		waiting += stop.Queue.Len()
	}
	for _, b := range w.fleet.Buses() {
		onboard += b.Load()
	}
	if got := waiting + onboard + w.kpi.delivered; got != e.gen.Generated() {
		panic(fmt.Sprintf("%s world: rider conservation broken: waiting %d + onboard %d + delivered %d != generated %d",
			w.name, waiting, onboard, w.kpi.delivered, e.gen.Generated()))
	}
}

// 限时封路与拥堵区同规则：先重开到期的，再衰减剩余时长
func (e *Engine) updateClosures(dt float64) {
	kept := e.closures[:0]
	for _, c := range e.closures {
		if c.Remaining > 0 {
			kept = append(kept, c)
			continue
		}
		if err := e.reopenBoth(c.U, c.V); err == nil {
			log.Infof("timed closure (%d,%d) expired, road reopened", c.U, c.V)
		}
	}
	e.closures = kept
	for _, c := range e.closures {
		c.Remaining -= dt
	}
}

func (e *Engine) closeBoth(u, v int) error {
	if err := e.active.city.CloseEdge(u, v); err != nil {
		return err
	}
	return e.baseline.city.CloseEdge(u, v)
}

func (e *Engine) reopenBoth(u, v int) error {
	if err := e.active.city.ReopenEdge(u, v); err != nil {
		return err
	}
	return e.baseline.city.ReopenEdge(u, v)
}

// AddTrafficZone 投放拥堵区，两个世界同时生效
func (e *Engine) AddTrafficZone(z TrafficZone) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.traffic.AddZone(z); err != nil {
		return err
	}
	log.Infof("traffic zone %s severity=%.1f radius=%.1f for %.0fs", z.Kind, z.Severity, z.Radius, z.Remaining)
	return nil
}

// AddSurge 站点需求激增，两个世界共享同一条抽样流故天然同步
func (e *Engine) AddSurge(stopID int, factor, duration float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active.city.Stop(stopID); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownStop, stopID)
	}
	if err := e.gen.AddSurge(stopID, factor, duration); err != nil {
		return err
	}
	log.Infof("demand surge at stop %d factor=%.1f for %.0fs", stopID, factor, duration)
	return nil
}

// CloseEdge 封路直至显式重开
func (e *Engine) CloseEdge(u, v int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeBoth(u, v)
}

// CloseEdgeFor 限时封路，到期自动重开
func (e *Engine) CloseEdgeFor(u, v int, duration float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if duration <= 0 {
		return fmt.Errorf("%w: closure duration %v must be positive", ErrConfiguration, duration)
	}
	if err := e.closeBoth(u, v); err != nil {
		return err
	}
	e.closures = append(e.closures, &timedClosure{U: u, V: v, Remaining: duration})
	log.Infof("road (%d,%d) closed for %.0fs", u, v, duration)
	return nil
}

// ReopenEdge 重开道路，同时取消该边的限时封路
func (e *Engine) ReopenEdge(u, v int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.closures[:0]
	for _, c := range e.closures {
		if c.U != u || c.V != v {
			kept = append(kept, c)
		}
	}
	e.closures = kept
	return e.reopenBoth(u, v)
}

// SetWeather 切换天气，必须是配置中有倍率的天气
func (e *Engine) SetWeather(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.cfg.WeatherFactors[name]; !ok {
		return fmt.Errorf("%w: unknown weather %q", ErrConfiguration, name)
	}
	e.weather = name
	log.Infof("weather set to %s", name)
	return nil
}

// SetPolicy 切换主世界策略，副世界永远是静态时刻表
func (e *Engine) SetPolicy(p DispatchPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active.policy = p
	log.Infof("active policy switched to %s", p.Name())
}

// ApplyStress 施加预置压力场景
func (e *Engine) ApplyStress(kind string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch kind {
	case STRESS_GRIDLOCK:
		return e.traffic.AddZone(TrafficZone{
			Center:    e.cfg.BusinessCenter,
			Radius:    e.cfg.BusinessHalfWidth,
			Severity:  3.0,
			Remaining: 300,
			Kind:      STRESS_GRIDLOCK,
		})
	case STRESS_SURGE:
		// 第一个枢纽站，没有则第一个站
		target := e.active.city.StopIDs()[0]
		for _, id := range e.active.city.StopIDs() {
			if s, _ := e.active.city.Stop(id); s.Class == CLASS_HUB {
				target = id
				break
			}
		}
		return e.gen.AddSurge(target, 4.0, 600)
	case STRESS_CLOSURE:
		first := e.active.city.Edges()[0]
		if err := e.closeBoth(first.From, first.To); err != nil {
			return err
		}
		e.closures = append(e.closures, &timedClosure{U: first.From, V: first.To, Remaining: 600})
		log.Infof("stress closure: road (%d,%d) closed for 600s", first.From, first.To)
		return nil
	default:
		return fmt.Errorf("%w: unknown stress scenario %q", ErrConfiguration, kind)
	}
}

// getter

func (e *Engine) State() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Tick() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

func (e *Engine) Seed() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seed
}

// Config 当前配置，调用方只读
func (e *Engine) Config() *Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Engine) PolicyName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active.policy.Name()
}
