package policyrpc

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"

	"github.com/transitlab/dispatchsim/sim"
)

const defaultTimeout = 2 * time.Second

// Client 外部策略客户端。每tick一次阻塞调用，超时或出错由
// 引擎侧适配器降级为全体HOLD
type Client struct {
	inner   *connect.Client[DecideRequest, DecideResponse]
	timeout time.Duration
}

// NewClient baseURL形如 http://127.0.0.1:8080，httpClient为nil时用默认
func NewClient(baseURL string, httpClient connect.HTTPClient) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		inner: connect.NewClient[DecideRequest, DecideResponse](
			httpClient,
			baseURL+ProcedureDecide,
			connect.WithCodec(jsonCodec{}),
		),
		timeout: defaultTimeout,
	}
}

// SetTimeout 覆盖单次调用超时
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Decide 发送观测取回动作
func (c *Client) Decide(ctx context.Context, obs *sim.Observation) (map[int]sim.DispatchAction, error) {
	res, err := c.inner.CallUnary(ctx, connect.NewRequest(&DecideRequest{Observation: obs}))
	if err != nil {
		return nil, err
	}
	return res.Msg.ToActions(), nil
}

// Func 绑定成引擎可用的外部决策函数
func (c *Client) Func() sim.ExternalFunc {
	return func(obs *sim.Observation) (map[int]sim.DispatchAction, error) {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		return c.Decide(ctx, obs)
	}
}
