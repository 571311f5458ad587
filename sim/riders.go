package sim

import (
	"fmt"
	"math/rand"

	"github.com/montanaflynn/stats"
	"github.com/samber/lo"
)

// RiderQueue 站点等待队列，先到先上
type RiderQueue struct {
	stopID int
	riders []*Rider
}

func NewRiderQueue(stopID int) *RiderQueue {
	return &RiderQueue{stopID: stopID}
}

func (q *RiderQueue) Add(r *Rider) {
	q.riders = append(q.riders, r)
}

// PopUpTo 从队首取走至多n名乘客（最早到的优先）
func (q *RiderQueue) PopUpTo(n int) []*Rider {
	if n <= 0 {
		return nil
	}
	if n > len(q.riders) {
		n = len(q.riders)
	}
	out := q.riders[:n:n]
	q.riders = q.riders[n:]
	return out
}

func (q *RiderQueue) Len() int {
	return len(q.riders)
}

// Tick 所有仍在等待的乘客累加等待时长
func (q *RiderQueue) Tick(dt float64) {
	for _, r := range q.riders {
		r.Wait += dt
	}
}

// Waits 当前每名乘客的累计等待时长，队列顺序
func (q *RiderQueue) Waits() []float64 {
	return lo.Map(q.riders, func(r *Rider, _ int) float64 { return r.Wait })
}

// WaitStats 本站等待时长的均值与90分位
func (q *RiderQueue) WaitStats() (avg float64, p90 float64) {
	if len(q.riders) == 0 {
		return 0, 0
	}
	ws := q.Waits()
	avg, _ = stats.Mean(ws)
	p90, _ = stats.PercentileNearestRank(ws, 90)
	return avg, p90
}

// DemandSurge 站点需求激增。与拥堵区同样的衰减与移除规则
type DemandSurge struct {
	StopID    int     `json:"stop_id"`
	Factor    float64 `json:"factor"`
	Remaining float64 `json:"remaining"`
}

// riderDraw 一次需求抽样结果。主副世界消费同一批抽样，
// 各自实例化乘客，保证对照公平
type riderDraw struct {
	id     int
	origin int
	dest   int
}

// RiderGenerator 需求生成。自身不持有随机源，
// 一切随机数取自引擎唯一的种子生成器
type RiderGenerator struct {
	cfg    *Config
	seq    int
	surges []*DemandSurge
}

func NewRiderGenerator(cfg *Config) *RiderGenerator {
	return &RiderGenerator{cfg: cfg}
}

// 时段需求倍率，午间另有小高峰
func (g *RiderGenerator) timeFactor(hour float64) float64 {
	f := 1.0
	if v, ok := g.cfg.DemandFactors[TimeBucket(hour)]; ok {
		f = v
	}
	if hour >= LUNCH_START && hour < LUNCH_END && g.cfg.LunchFactor > 0 {
		f *= g.cfg.LunchFactor
	}
	return f
}

func (g *RiderGenerator) surgeFactor(stopID int) float64 {
	f := 1.0
	for _, s := range g.surges {
		if s.StopID == stopID {
			f *= s.Factor
		}
	}
	return f
}

// Generate 为每个站点做一次伯努利抽样，命中则生成乘客，
// 目的地在其余站点中均匀抽取。站点按id升序遍历，同种子结果逐位一致
func (g *RiderGenerator) Generate(rng *rand.Rand, tick int, hour float64, weather string, city *CityGraph) []riderDraw {
	ids := city.StopIDs()
	weatherF := 1.0
	if v, ok := g.cfg.WeatherFactors[weather]; ok {
		weatherF = v
	}
	timeF := g.timeFactor(hour)
	var draws []riderDraw
	for i, id := range ids {
		stop, _ := city.Stop(id)
		classF := 1.0
		if v, ok := g.cfg.ClassFactors[stop.Class]; ok {
			classF = v
		}
		p := g.cfg.BaseRate * classF * timeF * weatherF * g.surgeFactor(id)
		if p > 1 {
			p = 1
		}
		if rng.Float64() >= p {
			continue
		}
		// 目的地不为出发站
		j := rng.Intn(len(ids) - 1)
		if j >= i {
			j++
		}
		g.seq++
		draws = append(draws, riderDraw{id: g.seq, origin: id, dest: ids[j]})
	}
	return draws
}

// Update 衰减需求激增，与TrafficModel.Update同规则
func (g *RiderGenerator) Update(dt float64) {
	kept := g.surges[:0]
	for _, s := range g.surges {
		if s.Remaining > 0 {
			kept = append(kept, s)
		} else {
			log.Debugf("demand surge at stop %d expired", s.StopID)
		}
	}
	g.surges = kept
	for _, s := range g.surges {
		s.Remaining -= dt
	}
}

// AddSurge 加入需求激增
func (g *RiderGenerator) AddSurge(stopID int, factor, duration float64) error {
	if factor <= 0 {
		return fmt.Errorf("%w: surge factor %v must be positive", ErrConfiguration, factor)
	}
	if duration <= 0 {
		return fmt.Errorf("%w: surge duration %v must be positive", ErrConfiguration, duration)
	}
	g.surges = append(g.surges, &DemandSurge{StopID: stopID, Factor: factor, Remaining: duration})
	return nil
}

// Surges 活跃需求激增快照
func (g *RiderGenerator) Surges() []DemandSurge {
	out := make([]DemandSurge, len(g.surges))
	for i, s := range g.surges {
		out[i] = *s
	}
	return out
}

// Generated 累计生成的乘客数
func (g *RiderGenerator) Generated() int {
	return g.seq
}
