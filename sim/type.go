package sim

// StopClass 站点分级，决定需求基数
type StopClass string

// BusMode 车辆状态机
type BusMode uint8

const (
	BusIdle BusMode = iota
	BusMoving
	BusBoarding
)

func (m BusMode) String() string {
	switch m {
	case BusIdle:
		return "idle"
	case BusMoving:
		return "moving"
	case BusBoarding:
		return "boarding"
	default:
		return "unknown"
	}
}

// ActionKind 调度动作类型
type ActionKind uint8

const (
	ActionContinue ActionKind = iota
	ActionHold
	ActionReroute
	ActionSkipStop
)

func (k ActionKind) String() string {
	switch k {
	case ActionContinue:
		return "CONTINUE"
	case ActionHold:
		return "HOLD"
	case ActionReroute:
		return "REROUTE_TO"
	case ActionSkipStop:
		return "SKIP_STOP"
	default:
		return "unknown"
	}
}

// ParseActionKind 解析调度动作名，用于外部策略输出
func ParseActionKind(s string) (ActionKind, bool) {
	switch s {
	case "CONTINUE":
		return ActionContinue, true
	case "HOLD":
		return ActionHold, true
	case "REROUTE_TO":
		return ActionReroute, true
	case "SKIP_STOP":
		return ActionSkipStop, true
	default:
		return ActionHold, false
	}
}

// DispatchAction 单车单tick的调度决策，不持久化
type DispatchAction struct {
	Kind ActionKind
	// REROUTE_TO的目标站点
	Target int
}

// Rider 乘客。生成后要么在某个站点队列中等待，要么在某辆车上，
// 要么已送达，任一时刻只属于其中一处
type Rider struct {
	ID          int
	Origin      int
	Destination int
	ArrivalTick int
	// 累计等待时长（s），在队列中每tick累加
	Wait float64
}
