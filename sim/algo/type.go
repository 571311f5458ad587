package algo

import "github.com/transitlab/dispatchsim/geometry"

// StopNodeAttr 站点节点属性
type StopNodeAttr struct {
	ID int // 站点id
}

// RoadEdgeAttr 道路边属性
type RoadEdgeAttr struct {
	From int // 出发站点id
	To   int // 到达站点id
	// 边中点，运行时权值在此处取路况系数
	Mid geometry.Point
}
