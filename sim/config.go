package sim

import (
	"fmt"

	"github.com/transitlab/dispatchsim/geometry"
)

// StopSpec 图构建输入：站点
type StopSpec struct {
	ID    int       `json:"id" bson:"id"`
	X     float64   `json:"x" bson:"x"`
	Y     float64   `json:"y" bson:"y"`
	Class StopClass `json:"class" bson:"class"`
}

// EdgeSpec 图构建输入：有向边，BaseTime为畅通时的通行时间（s）
type EdgeSpec struct {
	From     int     `json:"from" bson:"from"`
	To       int     `json:"to" bson:"to"`
	BaseTime float64 `json:"base_time" bson:"base_time"`
}

// LineSpec 线路：车辆静态时刻表循环经过的站点序列
type LineSpec struct {
	ID    int   `json:"id" bson:"id"`
	Stops []int `json:"stops" bson:"stops"`
}

// RewardWeights 回报加权，与KPI一起输出给外部训练器
type RewardWeights struct {
	Wait      float64 `json:"wait"`
	Overcrowd float64 `json:"overcrowd"`
	Distance  float64 `json:"distance"`
	Replan    float64 `json:"replan"`
}

// Config 引擎配置。Reset时整体校验，运行期间只读
type Config struct {
	Seed           int64   `json:"seed"`
	EpisodeSeconds float64 `json:"episode_seconds"`
	TickSeconds    float64 `json:"tick_seconds"`
	StartHour      float64 `json:"start_hour"`

	Buses             int     `json:"buses"`
	Capacity          int     `json:"capacity"`
	PickupRate        int     `json:"pickup_rate"`
	MinHeadwaySeconds float64 `json:"min_headway_seconds"`

	KPIWindow          int     `json:"kpi_window"`
	OvercrowdThreshold float64 `json:"overcrowd_threshold"`

	// 需求侧
	BaseRate      float64               `json:"base_rate"`
	ClassFactors  map[StopClass]float64 `json:"class_factors"`
	DemandFactors map[string]float64    `json:"demand_factors"`
	// 午间小高峰对需求的额外倍率
	LunchFactor float64 `json:"lunch_factor"`
	Weather     string  `json:"weather"`
	// 天气对需求的缩放
	WeatherFactors map[string]float64 `json:"weather_factors"`

	// 路况侧：时段基数与空间形态（商务区中心衰减+干线加成）
	TrafficFactors    map[string]float64 `json:"traffic_factors"`
	BusinessCenter    geometry.Point     `json:"business_center"`
	BusinessHalfWidth float64            `json:"business_half_width"`
	BusinessGain      map[string]float64 `json:"business_gain"`
	ArterialRows      []float64          `json:"arterial_rows"`
	ArterialBand      float64            `json:"arterial_band"`
	ArterialGain      float64            `json:"arterial_gain"`

	RewardWeights RewardWeights `json:"reward_weights"`

	Stops []StopSpec `json:"stops"`
	Edges []EdgeSpec `json:"edges"`
	Lines []LineSpec `json:"lines"`
}

// DefaultConfig 除图输入外的默认参数。需求倍率沿用参考实现的取值
func DefaultConfig() Config {
	return Config{
		Seed:               42,
		EpisodeSeconds:     3600,
		TickSeconds:        1.0,
		StartHour:          7.0,
		Buses:              6,
		Capacity:           50,
		PickupRate:         5,
		MinHeadwaySeconds:  120,
		KPIWindow:          100,
		OvercrowdThreshold: 0.9,
		BaseRate:           0.05,
		ClassFactors: map[StopClass]float64{
			CLASS_HUB:      2.5,
			CLASS_ARTERIAL: 1.5,
			CLASS_LOCAL:    1.0,
		},
		DemandFactors: map[string]float64{
			BUCKET_MORNING: 2.5,
			BUCKET_EVENING: 2.2,
			BUCKET_MIDDAY:  1.0,
			BUCKET_NIGHT:   0.3,
		},
		LunchFactor: 1.3,
		Weather:     WEATHER_CLEAR,
		WeatherFactors: map[string]float64{
			WEATHER_CLEAR: 1.0,
			WEATHER_RAIN:  1.15,
			WEATHER_SNOW:  0.7,
		},
		TrafficFactors: map[string]float64{
			BUCKET_MORNING: 1.8,
			BUCKET_EVENING: 1.6,
			BUCKET_MIDDAY:  1.2,
			BUCKET_NIGHT:   1.0,
		},
		BusinessHalfWidth: 5.0,
		BusinessGain: map[string]float64{
			BUCKET_MORNING: 0.5,
			BUCKET_EVENING: 0.4,
			BUCKET_MIDDAY:  0.25,
			BUCKET_NIGHT:   0.0,
		},
		ArterialBand: 0.5,
		ArterialGain: 0.3,
		RewardWeights: RewardWeights{
			Wait:      1.0,
			Overcrowd: 2.0,
			Distance:  0.1,
			Replan:    0.05,
		},
	}
}

// Validate 检查配置。出错一律包装ErrConfiguration，reset在任何状态修改前调用
func (c *Config) Validate() error {
	if c.Buses <= 0 {
		return fmt.Errorf("%w: bus count %d must be positive", ErrConfiguration, c.Buses)
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: bus capacity %d must be positive", ErrConfiguration, c.Capacity)
	}
	if c.PickupRate <= 0 {
		return fmt.Errorf("%w: pickup rate %d must be positive", ErrConfiguration, c.PickupRate)
	}
	if c.TickSeconds <= 0 {
		return fmt.Errorf("%w: tick seconds %v must be positive", ErrConfiguration, c.TickSeconds)
	}
	if c.EpisodeSeconds <= 0 {
		return fmt.Errorf("%w: episode seconds %v must be positive", ErrConfiguration, c.EpisodeSeconds)
	}
	if c.KPIWindow <= 0 {
		return fmt.Errorf("%w: kpi window %d must be positive", ErrConfiguration, c.KPIWindow)
	}
	if c.OvercrowdThreshold <= 0 || c.OvercrowdThreshold > 1 {
		return fmt.Errorf("%w: overcrowd threshold %v must be in (0,1]", ErrConfiguration, c.OvercrowdThreshold)
	}
	if c.BaseRate < 0 || c.BaseRate > 1 {
		return fmt.Errorf("%w: base rate %v must be in [0,1]", ErrConfiguration, c.BaseRate)
	}
	for bucket, f := range c.TrafficFactors {
		if f < 1 {
			return fmt.Errorf("%w: traffic factor %v for %s must be >= 1", ErrConfiguration, f, bucket)
		}
	}
	if len(c.Stops) == 0 {
		return fmt.Errorf("%w: stop count 0, graph is empty", ErrConfiguration)
	}
	if len(c.Stops) < 2 {
		return fmt.Errorf("%w: need at least 2 stops to sample destinations", ErrConfiguration)
	}
	ids := make(map[int]bool, len(c.Stops))
	for _, s := range c.Stops {
		if ids[s.ID] {
			return fmt.Errorf("%w: duplicated stop id %d", ErrConfiguration, s.ID)
		}
		ids[s.ID] = true
	}
	if len(c.Edges) == 0 {
		return fmt.Errorf("%w: edge count 0, graph is empty", ErrConfiguration)
	}
	for _, e := range c.Edges {
		if !ids[e.From] || !ids[e.To] {
			return fmt.Errorf("%w: edge (%d,%d) references unknown stop", ErrConfiguration, e.From, e.To)
		}
		if e.From == e.To {
			return fmt.Errorf("%w: edge (%d,%d) is a self loop", ErrConfiguration, e.From, e.To)
		}
		if e.BaseTime <= 0 {
			return fmt.Errorf("%w: edge (%d,%d) base time %v must be positive", ErrConfiguration, e.From, e.To, e.BaseTime)
		}
	}
	if len(c.Lines) == 0 {
		return fmt.Errorf("%w: no lines for the static schedule", ErrConfiguration)
	}
	for _, l := range c.Lines {
		if len(l.Stops) < 2 {
			return fmt.Errorf("%w: line %d has fewer than 2 stops", ErrConfiguration, l.ID)
		}
		for _, s := range l.Stops {
			if !ids[s] {
				return fmt.Errorf("%w: line %d references unknown stop %d", ErrConfiguration, l.ID, s)
			}
		}
	}
	return nil
}
