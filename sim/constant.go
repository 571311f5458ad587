package sim

import "errors"

const (
	// 时段划分（小时）
	MORNING_RUSH_START = 6.0
	MORNING_RUSH_END   = 9.0
	EVENING_RUSH_START = 17.0
	EVENING_RUSH_END   = 20.0
	LUNCH_START        = 12.0
	LUNCH_END          = 13.0

	// 时段名
	BUCKET_MORNING = "morning-rush"
	BUCKET_MIDDAY  = "midday"
	BUCKET_EVENING = "evening-rush"
	BUCKET_NIGHT   = "night"

	// 天气
	WEATHER_CLEAR = "clear"
	WEATHER_RAIN  = "rain"
	WEATHER_SNOW  = "snow"

	// 站点分级
	CLASS_HUB      StopClass = "hub"
	CLASS_ARTERIAL StopClass = "arterial"
	CLASS_LOCAL    StopClass = "local"

	// 引擎生命周期
	STATE_INITIALIZED = "initialized"
	STATE_RUNNING     = "running"
	STATE_TERMINATED  = "terminated"

	// 预置压力场景
	STRESS_GRIDLOCK = "gridlock"
	STRESS_SURGE    = "surge"
	STRESS_CLOSURE  = "closure"
)

var (
	// 错误：reset输入不合法（数量、容量、空图）
	ErrConfiguration = errors.New("invalid configuration")
	// 错误：当前封路情况下起终点不连通。内部吸收，降级为HOLD
	ErrPathNotFound = errors.New("no path between stops under current closures")
	// 错误：终止后继续step、外部策略输出不合法
	ErrState = errors.New("invalid engine state")
	// 错误：扰动接口指定了不存在的站点/道路
	ErrUnknownStop = errors.New("unknown stop")
	ErrUnknownEdge = errors.New("unknown edge")
)
