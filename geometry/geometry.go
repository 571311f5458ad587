package geometry

import "math"

// Point 平面坐标点（网格单位）
type Point struct {
	X float64 `json:"x" bson:"x"`
	Y float64 `json:"y" bson:"y"`
}

// Distance 两点间欧氏距离
func Distance(p1, p2 Point) float64 {
	a, b := p1.X-p2.X, p1.Y-p2.Y
	return math.Sqrt(a*a + b*b)
}

// Midpoint 两点中点
func Midpoint(p1, p2 Point) Point {
	return Point{X: (p1.X + p2.X) / 2, Y: (p1.Y + p2.Y) / 2}
}
