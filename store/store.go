// Package store 仿真运行与逐tick指标的持久化。
// 支持sqlite（本地单机）与postgres（共享部署），按DSN自动选择
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/transitlab/dispatchsim/sim"
)

var log = logrus.WithField("module", "store")

// RunRecord 一次仿真运行
type RunRecord struct {
	ID        string          `json:"id"`
	Scenario  string          `json:"scenario"`
	Seed      int64           `json:"seed"`
	Policy    string          `json:"policy"`
	StartedAt time.Time       `json:"started_at"`
	Summary   *sim.RunSummary `json:"summary,omitempty"`
}

// NewRunRecord 生成带uuid的新运行记录
func NewRunRecord(scenarioName string, seed int64, policy string) *RunRecord {
	return &RunRecord{
		ID:        uuid.NewString(),
		Scenario:  scenarioName,
		Seed:      seed,
		Policy:    policy,
		StartedAt: time.Now().UTC(),
	}
}

// Store 运行历史存储
type Store interface {
	// SaveRun 写入新运行
	SaveRun(ctx context.Context, rec *RunRecord) error
	// UpdateSummary 运行结束或中途刷新汇总
	UpdateSummary(ctx context.Context, id string, sum *sim.RunSummary) error
	// AppendSteps 追加逐tick结果，(run,tick)重复写入直接报错
	AppendSteps(ctx context.Context, runID string, steps []*sim.StepResult) error
	// Run 按id取运行
	Run(ctx context.Context, id string) (*RunRecord, error)
	// Runs 最近的运行，按开始时间倒序
	Runs(ctx context.Context, limit int) ([]*RunRecord, error)
	// Steps 从fromTick起最多limit个tick的结果
	Steps(ctx context.Context, runID string, fromTick, limit int) ([]*sim.StepResult, error)
	Close() error
}
