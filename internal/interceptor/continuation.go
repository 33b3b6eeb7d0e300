package interceptor

import (
	"fmt"

	"cdpblock/pkg/model"
)

// Continuation 处理器完成异步工作后调用以释放阻塞。
// 只有第一次调用生效，之后的调用被忽略。
type Continuation struct {
	engine  *Engine
	entry   *Entry
	request *Request
	event   Event
	buffer  *eventBuffer
	done    bool
}

// Context 注册时指定的上下文
func (c *Continuation) Context() any { return c.entry.context }

func (c *Continuation) Pattern() string { return c.entry.pattern }

func (c *Continuation) Request() *Request { return c.request }

// Done 是否已被调用
func (c *Continuation) Done() bool { return c.done }

// Continue 把响应交付给调用方并释放阻塞
func (c *Continuation) Continue() { c.Resume(true) }

// Discard 不交付响应，仅释放阻塞
func (c *Continuation) Discard() { c.Resume(false) }

// Resume relay 为 true 时先交付终态通知再重放缓冲的 load 通知，
// 为 false 时两者都丢弃。随后解除条目阻塞并清空全局队列。
func (c *Continuation) Resume(relay bool) {
	e := c.engine
	r := c.request
	if c.done {
		e.log.Debug("continuation 已被调用，忽略重复调用", "pattern", c.entry.pattern, "requestID", r.ID)
		return
	}
	c.done = true

	if relay {
		r.deliver(c.event)
	}
	r.flushBuffer(c.buffer, relay)
	c.entry.blocked = false

	e.emit(model.Event{Type: model.EventResumed, RequestID: r.ID, Pattern: c.entry.pattern, URL: r.url, Method: r.method, StatusCode: c.event.Status, Relay: relay, Pending: e.queue.Len()})
	e.drain()
}

type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}
