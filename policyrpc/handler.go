package policyrpc

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/transitlab/dispatchsim/sim"
)

// NewDecideHandler 把任意本地策略包装成决策服务端，
// 返回挂载路径与handler。测试与内置策略的远程暴露共用这一入口
func NewDecideHandler(policy sim.DispatchPolicy) (string, http.Handler) {
	h := connect.NewUnaryHandler(
		ProcedureDecide,
		func(ctx context.Context, req *connect.Request[DecideRequest]) (*connect.Response[DecideResponse], error) {
			obs := req.Msg.Observation
			if obs == nil {
				return nil, connect.NewError(connect.CodeInvalidArgument, sim.ErrState)
			}
			acts := policy.Decide(obs)
			return connect.NewResponse(&DecideResponse{Actions: FromActions(acts)}), nil
		},
		connect.WithCodec(jsonCodec{}),
	)
	return ProcedureDecide, h
}
