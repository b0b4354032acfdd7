package sim

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrQueueClosed 队列已关闭（进程退出或消费端已离开）
	ErrQueueClosed = errors.New("sim: queue closed")
	// ErrQueueFull 出站队列已满，事件被丢弃
	ErrQueueFull = errors.New("sim: queue full")
)

// CommandQueue 入站命令队列：多生产者（每连接一个协程）单消费者（Tick）
// Close 返回后，所有投递成功的命令都已在缓冲区中，最终 drain 不会遗漏
type CommandQueue struct {
	ch        chan Command
	done      chan struct{}
	closeOnce sync.Once
	// 生产者投递期间持有读锁；Close 取写锁等待在途投递结束后才置 sealed
	mu      sync.RWMutex
	sealed  atomic.Bool
	dropped atomic.Int64
}

// NewCommandQueue 创建有界命令队列
func NewCommandQueue(capacity int) *CommandQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &CommandQueue{
		ch:   make(chan Command, capacity),
		done: make(chan struct{}),
	}
}

// Send 阻塞投递，直到有空位、ctx 结束或队列关闭
// 用于不能丢失的生命周期命令（加入/离开）
func (q *CommandQueue) Send(ctx context.Context, cmd Command) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.Closed() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- cmd:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend 非阻塞投递，满则丢弃并计数（为了实时性，避免背压影响读协程）
func (q *CommandQueue) TrySend(cmd Command) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.Closed() {
		return false
	}
	select {
	case q.ch <- cmd:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Close 通知 Tick 循环：不会再有新的生产者
// 先关闭 done 唤醒阻塞中的 Send，再等待在途投递结束
func (q *CommandQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
	q.mu.Lock()
	q.sealed.Store(true)
	q.mu.Unlock()
}

// Closed 队列是否已关闭
func (q *CommandQueue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Len 当前排队的命令数
func (q *CommandQueue) Len() int { return len(q.ch) }

// Dropped 因队列满被丢弃的命令数
func (q *CommandQueue) Dropped() int64 { return q.dropped.Load() }

// drain 非阻塞地取出本次开始时已排队的命令；期间新到的命令留给下一个 Tick
// 返回值 open=false 表示队列已关闭且已排空
func (q *CommandQueue) drain(fn func(Command)) (n int, open bool) {
	closed := q.sealed.Load()
	n = len(q.ch)
	for i := 0; i < n; i++ {
		fn(<-q.ch)
	}
	return n, !(closed && len(q.ch) == 0)
}

// EventQueue 出站事件队列：Tick 单生产者，网络层消费并扇出
type EventQueue struct {
	ch        chan OutboundEvent
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

// NewEventQueue 创建有界事件队列
func NewEventQueue(capacity int) *EventQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &EventQueue{
		ch:   make(chan OutboundEvent, capacity),
		done: make(chan struct{}),
	}
}

// Publish 非阻塞投递（尽力而为）：消费端离开或队列满时丢弃，模拟照常推进
func (q *EventQueue) Publish(ev OutboundEvent) error {
	select {
	case <-q.done:
		q.dropped.Add(1)
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- ev:
		return nil
	default:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// Events 供网络层读取的事件通道
func (q *EventQueue) Events() <-chan OutboundEvent { return q.ch }

// Close 消费端离开；之后的 Publish 均返回 ErrQueueClosed
func (q *EventQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Len 当前排队的事件数
func (q *EventQueue) Len() int { return len(q.ch) }

// Dropped 未能投递的事件数
func (q *EventQueue) Dropped() int64 { return q.dropped.Load() }
