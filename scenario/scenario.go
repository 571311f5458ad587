// Package scenario 路网场景的定义、生成与装载。
// 场景可以来自JSON文件、mongo集合或内置的网格生成器
package scenario

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/transitlab/dispatchsim/geometry"
	"github.com/transitlab/dispatchsim/sim"
)

var log = logrus.WithField("module", "scenario")

// Scenario 一张路网及其线路。站点坐标是网格单位，边权是秒
type Scenario struct {
	Name         string         `json:"name" bson:"name"`
	Description  string         `json:"description,omitempty" bson:"description,omitempty"`
	Stops        []sim.StopSpec `json:"stops" bson:"stops"`
	Edges        []sim.EdgeSpec `json:"edges" bson:"edges"`
	Lines        []sim.LineSpec `json:"lines" bson:"lines"`
	Center       geometry.Point `json:"center" bson:"center"`
	ArterialRows []float64      `json:"arterial_rows,omitempty" bson:"arterial_rows,omitempty"`
}

// Configure 把场景写入引擎配置的图输入部分，其余字段不动
func (s *Scenario) Configure(cfg *sim.Config) {
	cfg.Stops = s.Stops
	cfg.Edges = s.Edges
	cfg.Lines = s.Lines
	cfg.BusinessCenter = s.Center
	if len(s.ArterialRows) > 0 {
		cfg.ArterialRows = s.ArterialRows
	}
}

// Validate 借配置校验检查场景完整性
func (s *Scenario) Validate() error {
	cfg := sim.DefaultConfig()
	s.Configure(&cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	return nil
}
