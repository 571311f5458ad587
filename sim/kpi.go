package sim

import (
	"math"

	"github.com/montanaflynn/stats"
)

// KPISnapshot 单世界单tick的指标快照
type KPISnapshot struct {
	Tick           int     `json:"tick"`
	AvgWait        float64 `json:"avg_wait"`
	P90Wait        float64 `json:"p90_wait"`
	LoadStd        float64 `json:"load_std"`
	OvercrowdRatio float64 `json:"overcrowd_ratio"`
	Replans        int     `json:"replans_count"`
	Waiting        int     `json:"waiting"`
	Delivered      int     `json:"delivered"`
	Reward         float64 `json:"reward"`
}

// Improvements 主世界相对基线的逐项改善率
type Improvements struct {
	AvgWait        float64 `json:"avg_wait"`
	P90Wait        float64 `json:"p90_wait"`
	LoadStd        float64 `json:"load_std"`
	OvercrowdRatio float64 `json:"overcrowd_ratio"`
}

// KPISummary 整个episode的汇总，均值方差用Welford在线算法累计
type KPISummary struct {
	Ticks       int     `json:"ticks"`
	MeanAvgWait float64 `json:"mean_avg_wait"`
	StdAvgWait  float64 `json:"std_avg_wait"`
	Delivered   int     `json:"delivered"`
	Distance    float64 `json:"distance"`
	Replans     int     `json:"replans"`
	Reward      float64 `json:"reward"`
}

// KPIRecorder 指标记录器，每个世界一份。
// 等待统计口径 = 在站未上车乘客的当前等待 + 最近window个已送达乘客的最终等待
type KPIRecorder struct {
	window    int
	threshold float64
	capacity  int
	weights   RewardWeights

	// 已送达等待的环形缓冲
	buf  []float64
	next int
	full bool

	delivered    int
	reward       float64
	lastDistance float64
	lastReplans  int

	// Welford累计avg_wait
	count int
	mean  float64
	m2    float64
}

func NewKPIRecorder(cfg *Config) *KPIRecorder {
	return &KPIRecorder{
		window:    cfg.KPIWindow,
		threshold: cfg.OvercrowdThreshold,
		capacity:  cfg.Capacity,
		weights:   cfg.RewardWeights,
		buf:       make([]float64, 0, cfg.KPIWindow),
	}
}

// RecordDelivery 乘客到站下车时记录其总等待
func (r *KPIRecorder) RecordDelivery(wait float64) {
	r.delivered++
	if len(r.buf) < r.window {
		r.buf = append(r.buf, wait)
		return
	}
	r.buf[r.next] = wait
	r.next = (r.next + 1) % r.window
	r.full = true
}

// Observe 汇总当前tick的指标并累计奖励。queueWaits为全体在站乘客的
// 当前等待，loads为各车载客数，distance/replans为全程累计值
func (r *KPIRecorder) Observe(tick int, queueWaits []float64, loads []int, distance float64, replans int) KPISnapshot {
	pool := make([]float64, 0, len(queueWaits)+len(r.buf))
	pool = append(pool, queueWaits...)
	pool = append(pool, r.buf...)

	var avg, p90 float64
	if len(pool) > 0 {
		avg, _ = stats.Mean(pool)
		p90, _ = stats.PercentileNearestRank(pool, 90)
	}

	var loadStd float64
	overcrowded := 0
	if len(loads) > 0 {
		fl := make([]float64, len(loads))
		for i, l := range loads {
			fl[i] = float64(l)
			if float64(l)/float64(r.capacity) > r.threshold {
				overcrowded++
			}
		}
		loadStd, _ = stats.StandardDeviationPopulation(fl)
	}
	ratio := 0.0
	if len(loads) > 0 {
		ratio = float64(overcrowded) / float64(len(loads))
	}

	r.reward -= r.weights.Wait*avg +
		r.weights.Overcrowd*ratio +
		r.weights.Distance*(distance-r.lastDistance) +
		r.weights.Replan*float64(replans-r.lastReplans)
	r.lastDistance = distance
	r.lastReplans = replans

	r.count++
	delta := avg - r.mean
	r.mean += delta / float64(r.count)
	r.m2 += delta * (avg - r.mean)

	return KPISnapshot{
		Tick:           tick,
		AvgWait:        avg,
		P90Wait:        p90,
		LoadStd:        loadStd,
		OvercrowdRatio: ratio,
		Replans:        replans,
		Waiting:        len(queueWaits),
		Delivered:      r.delivered,
		Reward:         r.reward,
	}
}

// Summary episode汇总
func (r *KPIRecorder) Summary() KPISummary {
	variance := 0.0
	if r.count > 1 {
		variance = r.m2 / float64(r.count)
	}
	return KPISummary{
		Ticks:       r.count,
		MeanAvgWait: r.mean,
		StdAvgWait:  math.Sqrt(variance),
		Delivered:   r.delivered,
		Distance:    r.lastDistance,
		Replans:     r.lastReplans,
		Reward:      r.reward,
	}
}

// Improvement 主世界相对基线的单项改善率，基线为零时记0
func Improvement(baseline, active float64) float64 {
	if baseline > 0 {
		return (baseline - active) / baseline
	}
	return 0
}

// ImprovementsOf 两世界快照逐项对比
func ImprovementsOf(baseline, active KPISnapshot) Improvements {
	return Improvements{
		AvgWait:        Improvement(baseline.AvgWait, active.AvgWait),
		P90Wait:        Improvement(baseline.P90Wait, active.P90Wait),
		LoadStd:        Improvement(baseline.LoadStd, active.LoadStd),
		OvercrowdRatio: Improvement(baseline.OvercrowdRatio, active.OvercrowdRatio),
	}
}
