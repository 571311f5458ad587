// Package policyrpc 外部调度策略的RPC桥。引擎侧作为客户端把每tick观测
// 发给外部决策方（RL训练器等），外部侧用同一套类型起服务端。
// 消息走connect协议的JSON编码，无需proto定义
package policyrpc

import (
	"encoding/json"

	"github.com/transitlab/dispatchsim/sim"
)

// ProcedureDecide 决策过程的完整路由
const ProcedureDecide = "/dispatch.v1.DispatchService/Decide"

// ActionMsg 线上的单车动作
type ActionMsg struct {
	Kind   string `json:"kind"`
	Target int    `json:"target,omitempty"`
}

// DecideRequest 每tick一问
type DecideRequest struct {
	Observation *sim.Observation `json:"observation"`
}

// DecideResponse 每tick一答，缺失的车辆按CONTINUE处理
type DecideResponse struct {
	Actions map[int]ActionMsg `json:"actions"`
}

// ToActions 线上动作转引擎动作。非法动作名降级为HOLD，
// 越界校验由引擎侧的适配器完成
func (r *DecideResponse) ToActions() map[int]sim.DispatchAction {
	out := make(map[int]sim.DispatchAction, len(r.Actions))
	for id, a := range r.Actions {
		kind, ok := sim.ParseActionKind(a.Kind)
		if !ok {
			out[id] = sim.DispatchAction{Kind: sim.ActionHold}
			continue
		}
		out[id] = sim.DispatchAction{Kind: kind, Target: a.Target}
	}
	return out
}

// FromActions 引擎动作转线上动作
func FromActions(acts map[int]sim.DispatchAction) map[int]ActionMsg {
	out := make(map[int]ActionMsg, len(acts))
	for id, a := range acts {
		out[id] = ActionMsg{Kind: a.Kind.String(), Target: a.Target}
	}
	return out
}

// jsonCodec 纯JSON编码，替换connect默认的proto编码
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
