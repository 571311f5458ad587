package sim

import (
	"fmt"
	"math"
)

// Bus 车辆。容量约束由上车逻辑构造性保证，越界视为编程错误直接panic
type Bus struct {
	ID       int
	Capacity int

	Mode BusMode
	// Mode != BusMoving时所在站点
	AtNode int
	// Mode == BusMoving时所在边与行驶进度[0,1)
	EdgeFrom int
	EdgeTo   int
	Progress float64

	// 车上乘客，上车顺序
	riders []*Rider
	// 剩余行驶路线，route[0]为下一个节点
	route []int

	// 静态时刻表：循环线路与下一个计划站下标
	Line    []int
	linePos int

	// 下次到站只下不上
	skipBoard bool

	// 累计行驶（以base_time为长度代理）与改道次数
	Distance float64
	Replans  int
}

func (b *Bus) Load() int {
	return len(b.riders)
}

func (b *Bus) FreeCapacity() int {
	return b.Capacity - len(b.riders)
}

// NextScheduled 静态时刻表上的下一站
func (b *Bus) NextScheduled() int {
	return b.Line[b.linePos]
}

// Target 当前路线终点；无路线时为计划下一站
func (b *Bus) Target() int {
	if len(b.route) > 0 {
		return b.route[len(b.route)-1]
	}
	return b.NextScheduled()
}

func (b *Bus) board(r *Rider) {
	if len(b.riders) >= b.Capacity {
		panic(fmt.Sprintf("bus %d: boarding over capacity %d", b.ID, b.Capacity))
	}
	b.riders = append(b.riders, r)
}

// alightAt 目的地为node的乘客全部下车，剩余乘客保持原顺序
func (b *Bus) alightAt(node int) []*Rider {
	var out []*Rider
	kept := b.riders[:0]
	for _, r := range b.riders {
		if r.Destination == node {
			out = append(out, r)
		} else {
			kept = append(kept, r)
		}
	}
	b.riders = kept
	return out
}

// Arrival 本tick到站事件
type Arrival struct {
	Bus  *Bus
	Node int
}

// BusFleet 车队
type BusFleet struct {
	cfg   *Config
	city  *CityGraph
	buses []*Bus // 按id升序
}

// NewBusFleet 按线路轮转分配车辆并沿线错开初始站位，防止出发即扎堆
func NewBusFleet(cfg *Config, city *CityGraph) *BusFleet {
	f := &BusFleet{cfg: cfg, city: city}
	numLines := len(cfg.Lines)
	perLine := make([]int, numLines)
	for i := 0; i < cfg.Buses; i++ {
		perLine[i%numLines]++
	}
	for i := 0; i < cfg.Buses; i++ {
		line := cfg.Lines[i%numLines]
		k := i / numLines // 同线路内的序号
		startIdx := 0
		if perLine[i%numLines] > 0 {
			startIdx = k * len(line.Stops) / perLine[i%numLines]
		}
		b := &Bus{
			ID:       i,
			Capacity: cfg.Capacity,
			Mode:     BusIdle,
			AtNode:   line.Stops[startIdx],
			Line:     line.Stops,
			linePos:  (startIdx + 1) % len(line.Stops),
		}
		f.buses = append(f.buses, b)
	}
	return f
}

func (f *BusFleet) Buses() []*Bus {
	return f.buses
}

// Advance 推进所有行驶中的车辆。通行时间按当前路况即时计算，
// 本tick能到达边终点的车辆吸附到节点并转入boarding。
// 所在边被封闭时通行时间为+Inf，车辆原地等待直至道路重新开放
func (f *BusFleet) Advance(dt float64) []Arrival {
	var arrivals []Arrival
	for _, b := range f.buses {
		if b.Mode != BusMoving {
			continue
		}
		cost := f.city.travelCost(b.EdgeFrom, b.EdgeTo)
		if math.IsInf(cost, 0) {
			continue
		}
		b.Progress += dt / cost
		if b.Progress >= 1 {
			b.Distance += f.city.edges[edgeKey{b.EdgeFrom, b.EdgeTo}].BaseTime
			b.AtNode = b.EdgeTo
			b.Progress = 0
			b.Mode = BusBoarding
			arrivals = append(arrivals, Arrival{Bus: b, Node: b.AtNode})
		}
	}
	return arrivals
}

// ProcessArrival 到站下客。必须先于上客执行：本tick腾出的容量要供本tick上客使用
func (f *BusFleet) ProcessArrival(b *Bus, node int) []*Rider {
	delivered := b.alightAt(node)
	// 到达计划站则时刻表前进一格
	if node == b.Line[b.linePos] {
		b.linePos = (b.linePos + 1) % len(b.Line)
	}
	return delivered
}

// ProcessBoarding 到站上客。人数 = min(空余容量, 等待人数, 单tick上客上限)，
// 从队首取走（先到先上）。SKIP_STOP只压制上客，下客总是发生
func (f *BusFleet) ProcessBoarding(b *Bus, node int) []*Rider {
	if b.skipBoard {
		b.skipBoard = false
		return nil
	}
	stop, ok := f.city.Stop(node)
	if !ok {
		return nil
	}
	n := b.FreeCapacity()
	if f.cfg.PickupRate < n {
		n = f.cfg.PickupRate
	}
	boarded := stop.Queue.PopUpTo(n)
	for _, r := range boarded {
		b.board(r)
	}
	return boarded
}

// depart 从当前节点沿路线驶出下一条边。路线为空时不动
func (f *BusFleet) depart(b *Bus) {
	if len(b.route) == 0 {
		return
	}
	next := b.route[0]
	if !f.city.HasEdge(b.AtNode, next) {
		// 路线与图不一致属于编程错误
		panic(fmt.Sprintf("bus %d: no edge (%d,%d) on planned route", b.ID, b.AtNode, next))
	}
	b.route = b.route[1:]
	b.EdgeFrom = b.AtNode
	b.EdgeTo = next
	b.Progress = 0
	b.Mode = BusMoving
}

// setRoute 替换剩余路线（不含当前节点）
func (b *Bus) setRoute(path []int) {
	b.route = path
}
