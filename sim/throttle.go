package sim

import "time"

// BroadcastThrottle 控制全量快照的发布频率，与 Tick 频率解耦
// 状态：Waiting（距上次发布不足 interval）/ Due（已达到 interval）
type BroadcastThrottle struct {
	interval time.Duration
	last     time.Duration // 上次发布时的模拟时间，单调不减
}

// NewBroadcastThrottle 创建节流器，last 从进程启动时的 0 开始；负的 interval 视为 0
func NewBroadcastThrottle(interval time.Duration) *BroadcastThrottle {
	t := &BroadcastThrottle{}
	t.SetInterval(interval)
	return t
}

// Due 是否到了发布快照的时间
func (t *BroadcastThrottle) Due(now time.Duration) bool {
	return now-t.last >= t.interval
}

// Last 上次发布的模拟时间
func (t *BroadcastThrottle) Last() time.Duration { return t.last }

// Interval 当前节流阈值
func (t *BroadcastThrottle) Interval() time.Duration { return t.interval }

// SetInterval 热更新节流阈值，负值截断为 0
func (t *BroadcastThrottle) SetInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.interval = d
}

// Publish 若已到期则按实体表顺序构造快照并广播，返回是否发布
// 投递失败不会重试，last 照常前移
func (t *BroadcastThrottle) Publish(now time.Duration, s *Store, out *EventQueue) (bool, error) {
	if !t.Due(now) {
		return false, nil
	}
	players := make([]PlayerState, 0, s.Len())
	s.Each(func(p Player) {
		players = append(players, PlayerState{PlayerID: p.ID, X: p.Position.X, Y: p.Position.Y})
	})
	if now > t.last {
		t.last = now
	}
	return true, out.Publish(Broadcast{Payload: PlayerStateSnapshot{Players: players}})
}
