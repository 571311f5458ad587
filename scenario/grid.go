package scenario

import (
	"fmt"
	"math/rand"

	"github.com/transitlab/dispatchsim/geometry"
	"github.com/transitlab/dispatchsim/sim"
)

// 网格路网的边权基数与抖动幅度（s）
const (
	gridBaseSeconds   = 60.0
	gridJitterSeconds = 30.0
)

// Grid 生成rows×cols网格路网。站点间距为1个网格单位，
// 四邻接双向连边，边权 = 基数 + 种子抖动。
// 中心站为枢纽，中行中列为干线，其余为普通站。
// 线路三条：外环、中行往返、中列往返。同参数同种子输出完全一致
func Grid(rows, cols int, seed int64) (*Scenario, error) {
	if rows < 3 || cols < 3 {
		return nil, fmt.Errorf("%w: grid %dx%d too small, need at least 3x3", sim.ErrConfiguration, rows, cols)
	}
	rng := rand.New(rand.NewSource(seed))
	midRow, midCol := rows/2, cols/2
	id := func(r, c int) int { return r*cols + c }

	s := &Scenario{
		Name:         fmt.Sprintf("grid-%dx%d", rows, cols),
		Description:  fmt.Sprintf("generated %dx%d grid, seed %d", rows, cols, seed),
		Center:       geometry.Point{X: float64(midCol), Y: float64(midRow)},
		ArterialRows: []float64{float64(midRow)},
	}

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			class := sim.CLASS_LOCAL
			switch {
			case r == midRow && c == midCol:
				class = sim.CLASS_HUB
			case r == midRow || c == midCol:
				class = sim.CLASS_ARTERIAL
			}
			s.Stops = append(s.Stops, sim.StopSpec{
				ID:    id(r, c),
				X:     float64(c),
				Y:     float64(r),
				Class: class,
			})
		}
	}

	// 先横后纵，双向各自抖动
	addPair := func(u, v int) {
		s.Edges = append(s.Edges,
			sim.EdgeSpec{From: u, To: v, BaseTime: gridBaseSeconds + gridJitterSeconds*rng.Float64()},
			sim.EdgeSpec{From: v, To: u, BaseTime: gridBaseSeconds + gridJitterSeconds*rng.Float64()},
		)
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if c+1 < cols {
				addPair(id(r, c), id(r, c+1))
			}
			if r+1 < rows {
				addPair(id(r, c), id(r+1, c))
			}
		}
	}

	// 外环：上行右行下行左行一圈
	var ringStops []int
	for c := 0; c < cols; c++ {
		ringStops = append(ringStops, id(0, c))
	}
	for r := 1; r < rows; r++ {
		ringStops = append(ringStops, id(r, cols-1))
	}
	for c := cols - 2; c >= 0; c-- {
		ringStops = append(ringStops, id(rows-1, c))
	}
	for r := rows - 2; r >= 1; r-- {
		ringStops = append(ringStops, id(r, 0))
	}
	// 中行/中列往返
	var rowStops, colStops []int
	for c := 0; c < cols; c++ {
		rowStops = append(rowStops, id(midRow, c))
	}
	for c := cols - 2; c >= 1; c-- {
		rowStops = append(rowStops, id(midRow, c))
	}
	for r := 0; r < rows; r++ {
		colStops = append(colStops, id(r, midCol))
	}
	for r := rows - 2; r >= 1; r-- {
		colStops = append(colStops, id(r, midCol))
	}
	s.Lines = []sim.LineSpec{
		{ID: 0, Stops: ringStops},
		{ID: 1, Stops: rowStops},
		{ID: 2, Stops: colStops},
	}
	log.Debugf("generated %s: %d stops, %d edges, %d lines", s.Name, len(s.Stops), len(s.Edges), len(s.Lines))
	return s, nil
}
