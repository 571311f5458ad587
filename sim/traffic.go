package sim

import (
	"fmt"
	"math"

	"github.com/transitlab/dispatchsim/geometry"
)

// TimeBucket 时段离散化
func TimeBucket(hour float64) string {
	h := math.Mod(hour, 24)
	if h < 0 {
		h += 24
	}
	switch {
	case h >= MORNING_RUSH_START && h < MORNING_RUSH_END:
		return BUCKET_MORNING
	case h >= EVENING_RUSH_START && h < EVENING_RUSH_END:
		return BUCKET_EVENING
	case h >= MORNING_RUSH_END && h < EVENING_RUSH_START:
		return BUCKET_MIDDAY
	default:
		return BUCKET_NIGHT
	}
}

// TrafficZone 临时拥堵区。外部扰动创建，每tick衰减，时长耗尽后移除
type TrafficZone struct {
	Center    geometry.Point `json:"center"`
	Radius    float64        `json:"radius"`
	HalfWidth float64        `json:"half_width"`
	// 拥堵倍率，≥1
	Severity float64 `json:"severity"`
	// 剩余时长（s）
	Remaining float64 `json:"remaining"`
	Kind      string  `json:"kind"`
}

// 区内某点受到的倍率：中心最强，随距离指数衰减，区外无影响
func (z *TrafficZone) effectAt(p geometry.Point) float64 {
	d := geometry.Distance(p, z.Center)
	if d > z.Radius {
		return 1.0
	}
	return 1 + (z.Severity-1)*math.Exp(-d/z.HalfWidth)
}

// TrafficModel 路况：时段基数×商务区衰减×干线加成×活跃拥堵区乘积
type TrafficModel struct {
	cfg   *Config
	zones []*TrafficZone // 加入顺序
}

func NewTrafficModel(cfg *Config) *TrafficModel {
	return &TrafficModel{cfg: cfg}
}

// FactorAt 某点某时刻的路况系数
func (t *TrafficModel) FactorAt(p geometry.Point, hour float64) float64 {
	bucket := TimeBucket(hour)
	f := 1.0
	if v, ok := t.cfg.TrafficFactors[bucket]; ok {
		f = v
	}
	// 商务区：向中心指数增强
	if gain := t.cfg.BusinessGain[bucket]; gain > 0 && t.cfg.BusinessHalfWidth > 0 {
		d := geometry.Distance(p, t.cfg.BusinessCenter)
		f *= 1 + gain*math.Exp(-d/t.cfg.BusinessHalfWidth)
	}
	// 干线加成
	if t.cfg.ArterialGain > 0 {
		for _, row := range t.cfg.ArterialRows {
			if math.Abs(p.Y-row) <= t.cfg.ArterialBand {
				f *= 1 + t.cfg.ArterialGain
				break
			}
		}
	}
	// 拥堵区彼此叠乘
	for _, z := range t.zones {
		f *= z.effectAt(p)
	}
	return f
}

// Update 先移除时长耗尽的拥堵区，再衰减剩余时长。
// duration=2·dt的拥堵区恰好对两个tick的查询生效
func (t *TrafficModel) Update(dt float64) {
	kept := t.zones[:0]
	for _, z := range t.zones {
		if z.Remaining > 0 {
			kept = append(kept, z)
		} else {
			log.Debugf("traffic zone %s at (%.1f,%.1f) expired", z.Kind, z.Center.X, z.Center.Y)
		}
	}
	t.zones = kept
	for _, z := range t.zones {
		z.Remaining -= dt
	}
}

// AddZone 加入拥堵区。half width未给定时取半径的一半
func (t *TrafficModel) AddZone(z TrafficZone) error {
	if z.Radius <= 0 {
		return fmt.Errorf("%w: zone radius %v must be positive", ErrConfiguration, z.Radius)
	}
	if z.Severity < 1 {
		return fmt.Errorf("%w: zone severity %v must be >= 1", ErrConfiguration, z.Severity)
	}
	if z.Remaining <= 0 {
		return fmt.Errorf("%w: zone duration %v must be positive", ErrConfiguration, z.Remaining)
	}
	if z.HalfWidth <= 0 {
		z.HalfWidth = z.Radius / 2
	}
	if z.Kind == "" {
		z.Kind = "custom"
	}
	t.zones = append(t.zones, &z)
	return nil
}

// Zones 活跃拥堵区快照
func (t *TrafficModel) Zones() []TrafficZone {
	out := make([]TrafficZone, len(t.zones))
	for i, z := range t.zones {
		out[i] = *z
	}
	return out
}
