package interceptor

import "cdpblock/pkg/model"

// readyStateChanged 传输层状态回调：
// Opened 时（未 Bypass）分配事件缓冲，中间状态直接转发，Done 时进入响应处理
func (r *Request) readyStateChanged() {
	ev := r.event()
	switch ev.State {
	case Opened:
		if r.Bypass {
			r.buffer = nil
		} else {
			r.buffer = &eventBuffer{}
		}
		r.deliver(ev)
	case Done:
		r.processed = true
		r.engine.processResponse(r, ev)
	default:
		// 中间状态必须同步转发，部分传输层依赖它继续派发事件
		r.deliver(ev)
	}
}

// loaded load 通道可能先于拦截窗口结束到达，缓冲存在时暂存
func (r *Request) loaded() {
	ev := r.event()
	if r.buffer != nil {
		r.buffer.push(func() { r.deliverLoad(ev) })
		return
	}
	r.deliverLoad(ev)
}

func (r *Request) event() Event {
	return Event{Request: r, State: r.transport.ReadyState(), Status: r.transport.Status()}
}

func (r *Request) deliver(ev Event) {
	if r.OnReadyStateChange != nil {
		r.OnReadyStateChange(ev)
	}
}

func (r *Request) deliverLoad(ev Event) {
	if r.OnLoad != nil {
		r.OnLoad(ev)
	}
}

// flushBuffer 清理属于本轮的缓冲。若期间请求被重新 Open，新一轮的缓冲保持不变。
// 丢弃时留下已关闭的缓冲，吞掉终态之后才到达的 load 通知
func (r *Request) flushBuffer(buf *eventBuffer, relay bool) {
	if r.buffer == buf {
		if relay {
			r.buffer = nil
		} else {
			r.buffer = &eventBuffer{closed: true}
		}
	}
	if buf != nil {
		buf.flush(relay)
	}
}

// processResponse 终态处理：放行、竞争重发或调用处理器
func (e *Engine) processResponse(r *Request, ev Event) {
	buf := r.buffer
	if r.Bypass {
		r.deliver(ev)
		r.flushBuffer(buf, true)
		return
	}

	entry := e.registry.FindMatch(r.url)
	if entry == nil {
		r.deliver(ev)
		r.flushBuffer(buf, true)
		e.emit(model.Event{Type: model.EventPassthrough, RequestID: r.ID, URL: r.url, Method: r.method, StatusCode: ev.Status})
		return
	}

	if entry.blocked {
		// 同一正则的另一个响应仍在处理中，丢弃本次响应并重新发送（会进入队列）
		e.log.Debug("未能及时拦截被阻塞的请求，忽略响应并重新入队", "pattern", entry.pattern, "requestID", r.ID, "url", r.url)
		e.emit(model.Event{Type: model.EventRace, RequestID: r.ID, Pattern: entry.pattern, URL: r.url, Method: r.method, StatusCode: ev.Status})
		if err := r.Resend(); err != nil {
			e.log.Err(err, "竞争响应重发失败", "pattern", entry.pattern, "requestID", r.ID)
		}
		return
	}

	entry.blocked = true
	c := &Continuation{engine: e, entry: entry, request: r, event: ev, buffer: buf}
	e.log.Debug("调用响应处理器", "pattern", entry.pattern, "requestID", r.ID, "status", ev.Status)
	e.emit(model.Event{Type: model.EventIntercepted, RequestID: r.ID, Pattern: entry.pattern, URL: r.url, Method: r.method, StatusCode: ev.Status})

	if err := invoke(entry.handler, c, r); err != nil {
		fault := &HandlerFault{Pattern: entry.pattern, RequestID: r.ID, Cause: err}
		e.log.Err(fault, "响应处理器执行失败，释放阻塞并丢弃响应", "pattern", entry.pattern, "requestID", r.ID)
		e.emit(model.Event{Type: model.EventFault, RequestID: r.ID, Pattern: entry.pattern, URL: r.url, Method: r.method, Error: err.Error()})
		c.Resume(false)
	}
}

func invoke(h Handler, c *Continuation, r *Request) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &panicError{value: p}
		}
	}()
	return h.HandleResponse(c, r)
}
