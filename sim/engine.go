package sim

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Engine 权威世界：实体表与广播计时器只由 Tick 所在的单一协程访问
type Engine struct {
	cfg       Config
	store     *Store
	inbound   *CommandQueue
	outbound  *EventQueue
	processor *CommandProcessor
	throttle  *BroadcastThrottle
	speed     float64
	now       time.Duration // 模拟时间
	pending   atomic.Pointer[Tuning]
	current   atomic.Pointer[Tuning]
	metrics   *Metrics
	log       *zap.SugaredLogger
}

// NewEngine 创建引擎；实体表在此创建并归引擎独占，不会泄漏到外部
func NewEngine(cfg Config, inbound *CommandQueue, outbound *EventQueue, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	metrics := &Metrics{
		commandsDropped: inbound.Dropped,
		inboundBacklog:  inbound.Len,
		outboundBacklog: outbound.Len,
	}
	store := NewStore()
	e := &Engine{
		cfg:      cfg,
		store:    store,
		inbound:  inbound,
		outbound: outbound,
		processor: &CommandProcessor{
			store:   store,
			out:     outbound,
			metrics: metrics,
			log:     log,
		},
		throttle: NewBroadcastThrottle(cfg.BroadcastInterval),
		speed:    cfg.Speed,
		metrics:  metrics,
		log:      log,
	}
	e.current.Store(&Tuning{Speed: cfg.Speed, BroadcastInterval: e.throttle.Interval()})
	return e
}

// Metrics 运行指标（并发安全）
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Tune 提交新的规则参数，在下一个 Tick 开始时于 Tick 线程内生效
func (e *Engine) Tune(t Tuning) {
	e.pending.Store(&t)
}

// Tuning 当前生效（或待生效）的规则参数
func (e *Engine) Tuning() Tuning {
	if t := e.pending.Load(); t != nil {
		return *t
	}
	return *e.current.Load()
}

// Step 执行一次固定流水线：处理命令 → 推进移动 → 节流广播
// 返回 false 表示入站队列已关闭且排空，引擎应停止
func (e *Engine) Step(elapsed time.Duration) bool {
	if elapsed < 0 {
		elapsed = 0
	}
	if t := e.pending.Swap(nil); t != nil {
		e.speed = t.Speed
		e.throttle.SetInterval(t.BroadcastInterval)
		e.current.Store(t)
		e.log.Infow("tuning applied", "speed", t.Speed, "broadcast_interval", t.BroadcastInterval)
	}
	e.now += elapsed
	e.metrics.advance(elapsed)

	_, open := e.inbound.drain(e.processor.Apply)
	Integrate(e.store, e.speed, elapsed)
	published, err := e.throttle.Publish(e.now, e.store, e.outbound)
	if published {
		if err != nil {
			e.metrics.incDropped()
		} else {
			e.metrics.incSnapshot()
		}
	}
	e.metrics.setPlayers(e.store.Len())
	return open
}

// Run 以固定频率驱动 Step，直到 ctx 结束或入站队列关闭
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval())
	defer ticker.Stop()
	e.log.Infow("tick loop started", "tick_rate", e.cfg.TickRate, "speed", e.speed,
		"broadcast_interval", e.throttle.Interval())

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			e.log.Infow("tick loop stopped", "reason", ctx.Err())
			return ctx.Err()
		case now := <-ticker.C:
			// 核心循环：处理输入 → 更新世界 → 广播结果
			start := time.Now()
			running := e.Step(now.Sub(last))
			last = now
			e.metrics.AddTick(time.Since(start))
			if !running {
				e.log.Info("command queue closed, tick loop stopped")
				return nil
			}
		}
	}
}
