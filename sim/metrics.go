package sim

import (
	"sync/atomic"
	"time"
)

// Metrics 记录引擎运行期的关键指标（Tick 线程写，HTTP 线程读）
type Metrics struct {
	TickCount       int64 // 已执行的 Tick 次数
	SimTimeNs       int64 // 累计模拟时间（纳秒）
	Players         int64 // 最近一次 Tick 结束时的玩家数
	CommandsApplied int64 // 生效的命令数
	CommandsIgnored int64 // 引用未知玩家而被忽略的命令数
	SnapshotsSent   int64 // 已发布的全量快照数
	EventsDropped   int64 // 出站投递失败的事件数
	TotalTickNs     int64 // Tick 累计耗时（纳秒）

	commandsDropped func() int64
	inboundBacklog  func() int
	outboundBacklog func() int
}

func (m *Metrics) incApplied() { atomic.AddInt64(&m.CommandsApplied, 1) }
func (m *Metrics) incIgnored() { atomic.AddInt64(&m.CommandsIgnored, 1) }
func (m *Metrics) incSnapshot() { atomic.AddInt64(&m.SnapshotsSent, 1) }
func (m *Metrics) incDropped() { atomic.AddInt64(&m.EventsDropped, 1) }
func (m *Metrics) setPlayers(n int) { atomic.StoreInt64(&m.Players, int64(n)) }
func (m *Metrics) advance(elapsed time.Duration) {
	atomic.AddInt64(&m.SimTimeNs, int64(elapsed))
}

// AddTick 记录一次 Tick 的实际耗时
func (m *Metrics) AddTick(d time.Duration) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, d.Nanoseconds())
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	out := map[string]any{
		"tick_count":       tick,
		"sim_time_s":       time.Duration(atomic.LoadInt64(&m.SimTimeNs)).Seconds(),
		"players":          atomic.LoadInt64(&m.Players),
		"commands_applied": atomic.LoadInt64(&m.CommandsApplied),
		"commands_ignored": atomic.LoadInt64(&m.CommandsIgnored),
		"snapshots_sent":   atomic.LoadInt64(&m.SnapshotsSent),
		"events_dropped":   atomic.LoadInt64(&m.EventsDropped),
		"avg_tick_ms":      avgMs,
	}
	if m.commandsDropped != nil {
		out["commands_dropped"] = m.commandsDropped()
	}
	if m.inboundBacklog != nil {
		out["inbound_backlog"] = m.inboundBacklog()
	}
	if m.outboundBacklog != nil {
		out["outbound_backlog"] = m.outboundBacklog()
	}
	return out
}
