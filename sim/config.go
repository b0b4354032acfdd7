package sim

import "time"

const (
	// DefaultTickRate 世界推进频率（60 TPS）
	DefaultTickRate = 60
	// DefaultSpeed 速度向量到世界单位/秒的缩放系数
	DefaultSpeed = 300.0
	// DefaultBroadcastInterval 两次全量快照之间的最小模拟时间
	DefaultBroadcastInterval = 50 * time.Millisecond

	DefaultInboundCapacity  = 1024
	DefaultOutboundCapacity = 4096

	// MaxSpeed 允许热更新的最大 speed
	MaxSpeed = 10000.0
	// MaxCoordinate 坐标绝对值上限，积分结果超出时截断
	MaxCoordinate = 1e12
)

// Config 引擎启动配置
type Config struct {
	TickRate          int
	Speed             float64
	BroadcastInterval time.Duration
	InboundCapacity   int
	OutboundCapacity  int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		TickRate:          DefaultTickRate,
		Speed:             DefaultSpeed,
		BroadcastInterval: DefaultBroadcastInterval,
		InboundCapacity:   DefaultInboundCapacity,
		OutboundCapacity:  DefaultOutboundCapacity,
	}
}

// TickInterval 每个 Tick 的墙钟间隔
func (c Config) TickInterval() time.Duration {
	rate := c.TickRate
	if rate <= 0 {
		rate = DefaultTickRate
	}
	return time.Second / time.Duration(rate)
}

// Tuning 运行期可热更新的规则参数，在下一个 Tick 开始时生效
type Tuning struct {
	Speed             float64
	BroadcastInterval time.Duration
}
