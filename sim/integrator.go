package sim

import (
	"math"
	"time"
)

// Integrate 按速度推进所有玩家位置：position += velocity * speed * elapsed
// 结果保持有限且不超过 ±MaxCoordinate；NaN 结果保留原位置
func Integrate(s *Store, speed float64, elapsed time.Duration) {
	dt := elapsed.Seconds()
	s.move(func(pos *Vec2, vel Vec2) {
		pos.X = advanceAxis(pos.X, vel.X*speed*dt)
		pos.Y = advanceAxis(pos.Y, vel.Y*speed*dt)
	})
}

func advanceAxis(x, delta float64) float64 {
	next := x + delta
	switch {
	case math.IsNaN(next):
		return x
	case next > MaxCoordinate:
		return MaxCoordinate
	case next < -MaxCoordinate:
		return -MaxCoordinate
	}
	return next
}
