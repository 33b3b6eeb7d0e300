// Package loop 提供单 goroutine 串行执行的任务循环。
//
// 拦截引擎不加锁，所有来自网络回调、CDP 事件流或定时器的工作都通过 Loop 投递到同一个 goroutine 上执行。
package loop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cdpblock/internal/logger"
)

const defaultCapacity = 256

// Loop 串行任务循环
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	once   sync.Once
	log    logger.Logger
	closed bool
	mu     sync.RWMutex
}

// New 创建任务循环，capacity 为排队任务上限
func New(capacity int, l logger.Logger) *Loop {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &Loop{
		tasks: make(chan func(), capacity),
		done:  make(chan struct{}),
		log:   l,
	}
}

// Run 在当前 goroutine 上执行任务，直到 ctx 结束或 Close 被调用
func (lp *Loop) Run(ctx context.Context) {
	lp.log.Debug("任务循环启动", "capacity", cap(lp.tasks))
	for {
		select {
		case <-ctx.Done():
			lp.log.Debug("任务循环退出", "reason", ctx.Err())
			return
		case <-lp.done:
			lp.log.Debug("任务循环已关闭")
			return
		case fn := <-lp.tasks:
			lp.exec(fn)
		}
	}
}

// Post 投递任务，队列满时阻塞；循环已关闭返回 false
func (lp *Loop) Post(fn func()) bool {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	if lp.closed {
		return false
	}
	select {
	case lp.tasks <- fn:
		return true
	case <-lp.done:
		return false
	}
}

// TrySubmit 非阻塞投递，队列已满或循环已关闭返回 false
func (lp *Loop) TrySubmit(fn func()) bool {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	if lp.closed {
		return false
	}
	select {
	case lp.tasks <- fn:
		return true
	default:
		return false
	}
}

// AfterFunc 在 d 之后把 fn 投递到循环
func (lp *Loop) AfterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() {
		if !lp.Post(fn) {
			lp.log.Debug("任务循环已关闭，丢弃定时任务", "delay", d)
		}
	})
}

// Pending 排队中的任务数
func (lp *Loop) Pending() int { return len(lp.tasks) }

// Close 停止接收任务并让 Run 返回，排队中的任务被丢弃
func (lp *Loop) Close() {
	lp.once.Do(func() {
		close(lp.done)
		lp.mu.Lock()
		lp.closed = true
		lp.mu.Unlock()
		if n := len(lp.tasks); n > 0 {
			lp.log.Warn("任务循环关闭，丢弃排队任务", "count", n)
		}
	})
}

// Done 循环关闭后可读
func (lp *Loop) Done() <-chan struct{} { return lp.done }

func (lp *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			lp.log.Error("任务执行发生 panic", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
