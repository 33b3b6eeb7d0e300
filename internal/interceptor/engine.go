// Package interceptor 实现按 URL 正则阻塞请求的拦截引擎。
//
// 处理器命中某个响应后，该正则进入阻塞状态，之后匹配任一阻塞正则的发送都会进入全局队列；
// 处理器调用 Continuation 后解除阻塞，并按 FIFO 执行队列中全部延迟发送。
//
// Engine 与其创建的 Request 不加锁，所有调用必须发生在同一个 goroutine 上
// （通常是 internal/loop 的事件循环）。
package interceptor

import (
	"errors"
	"time"

	"cdpblock/internal/logger"
	"cdpblock/pkg/model"
)

// Observer 接收引擎事件
type Observer interface {
	Observe(evt model.Event)
}

// ObserverFunc 函数形式的 Observer
type ObserverFunc func(evt model.Event)

func (f ObserverFunc) Observe(evt model.Event) { f(evt) }

// Option 引擎构建选项
type Option func(*Engine)

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// Engine 处理器表与全局队列的持有者，生命周期通常与进程一致
type Engine struct {
	registry  *Registry
	queue     *Queue
	log       logger.Logger
	observers []Observer
}

// New 创建拦截引擎
func New(opts ...Option) *Engine {
	e := &Engine{
		registry: &Registry{},
		queue:    &Queue{},
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddObserver 追加事件观察者
func (e *Engine) AddObserver(o Observer) {
	if o != nil {
		e.observers = append(e.observers, o)
	}
}

// RemoveObserver 移除事件观察者，o 的动态类型必须可比较（ObserverFunc 不行）
func (e *Engine) RemoveObserver(o Observer) {
	for i, cur := range e.observers {
		if cur == o {
			e.observers = append(e.observers[:i], e.observers[i+1:]...)
			return
		}
	}
}

// NewRequest 包装传输层对象
func (e *Engine) NewRequest(t Transport) *Request {
	return newRequest(e, t)
}

// Register 为 URL 正则注册处理器。正则已存在时保持原条目不变并返回 ErrDuplicatePattern
func (e *Engine) Register(pattern string, h Handler, opts ...RegisterOption) error {
	_, err := e.registry.add(pattern, h, e, opts...)
	if err != nil {
		if errors.Is(err, ErrDuplicatePattern) {
			e.log.Warn("重复注册处理器，已忽略", "pattern", pattern)
			e.emit(model.Event{Type: model.EventDuplicate, Pattern: pattern})
		} else {
			e.log.Err(err, "注册处理器失败", "pattern", pattern)
		}
		return err
	}
	e.log.Info("注册处理器", "pattern", pattern)
	e.emit(model.Event{Type: model.EventRegistered, Pattern: pattern})
	return nil
}

// Unregister 移除处理器，不存在时什么也不做
func (e *Engine) Unregister(pattern string) {
	if e.registry.remove(pattern) {
		e.log.Info("移除处理器", "pattern", pattern)
		e.emit(model.Event{Type: model.EventUnregistered, Pattern: pattern})
	}
}

// Clear 移除全部处理器
func (e *Engine) Clear() {
	for _, p := range e.registry.Patterns() {
		e.Unregister(p)
	}
}

// Reset 移除全部处理器并丢弃队列中的延迟发送
func (e *Engine) Reset() {
	e.Clear()
	if n := e.queue.Len(); n > 0 {
		e.log.Warn("重置引擎，丢弃排队中的请求", "count", n)
	}
	e.queue.reset()
}

// FindMatch 返回第一个命中 url 的条目
func (e *Engine) FindMatch(url string) *Entry {
	return e.registry.FindMatch(url)
}

// Pending 队列中等待发送的数量
func (e *Engine) Pending() int { return e.queue.Len() }

// Stats 引擎当前状态快照
func (e *Engine) Stats() model.EngineStats {
	return model.EngineStats{
		Patterns: e.registry.Patterns(),
		Blocked:  e.registry.Blocked(),
		Pending:  e.queue.Len(),
	}
}

func (e *Engine) enqueue(r *Request, entry *Entry, body []byte) {
	e.queue.push(func() {
		if err := r.transport.Send(body); err != nil {
			e.log.Err(err, "队列请求发送失败", "requestID", r.ID, "url", r.url)
		}
	})
	e.log.Debug("请求命中阻塞的处理器，加入队列", "pattern", entry.pattern, "requestID", r.ID, "pending", e.queue.Len())
	e.emit(model.Event{Type: model.EventQueued, RequestID: r.ID, Pattern: entry.pattern, URL: r.url, Method: r.method, Pending: e.queue.Len()})
}

func (e *Engine) drain() {
	if e.queue.Len() == 0 {
		return
	}
	n := e.queue.drain()
	e.log.Debug("队列已清空", "sent", n)
	e.emit(model.Event{Type: model.EventDrained, Pending: n})
}

func (e *Engine) emit(evt model.Event) {
	if len(e.observers) == 0 {
		return
	}
	evt.Timestamp = time.Now().UnixMilli()
	for _, o := range e.observers {
		o.Observe(evt)
	}
}
