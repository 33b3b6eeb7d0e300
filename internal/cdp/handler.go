package cdp

import (
	"context"

	adapter "cdpblock/internal/adapter/cdp"
	"cdpblock/internal/interceptor"
	"cdpblock/pkg/model"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
)

// handle 在任务循环上处理一次暂停事件：请求阶段交给引擎发送，响应阶段推进到终态
func (m *Manager) handle(ts *targetSession, ev *fetch.RequestPausedReply) {
	if ts.ctx.Err() != nil {
		return
	}
	if isResponseStage(ev) {
		m.handleResponseStage(ts, ev)
		return
	}
	m.handleRequestStage(ts, ev)
}

// handleRequestStage 为暂停的请求创建引擎请求，是否立即放行由引擎根据阻塞状态决定
func (m *Manager) handleRequestStage(ts *targetSession, ev *fetch.RequestPausedReply) {
	neutral := adapter.ToNeutralRequest(ev)
	t := newTransport(m, ts, ev.RequestID)
	r := m.engine.NewRequest(t)
	t.req = r
	r.OnReadyStateChange = func(e interceptor.Event) {
		if e.State == interceptor.Done {
			m.release(t, true)
		}
	}
	ts.inflight[ev.RequestID] = t
	m.requests[r.ID] = t

	m.log.Debug("请求阶段暂停", "target", string(ts.id), "requestID", r.ID, "method", neutral.Method, "url", neutral.URL)
	if err := r.Open(neutral.Method, neutral.URL); err != nil {
		m.log.Err(err, "打开请求失败", "url", neutral.URL)
		return
	}
	neutral.Headers.Each(r.SetHeader)
	if err := r.Send(neutral.Body); err != nil {
		m.log.Err(err, "发送请求失败", "url", neutral.URL)
	}
}

// handleResponseStage 响应到达浏览器前暂停，驱动传输层进入终态
func (m *Manager) handleResponseStage(ts *targetSession, ev *fetch.RequestPausedReply) {
	t, ok := ts.inflight[ev.RequestID]
	if !ok || t.phase != phaseInflight {
		// 请求阶段未经过引擎（附加前发出或已降级），直接放行
		go m.continueResponse(ts, ev.RequestID)
		return
	}
	t.onResponse(ev)
}

// Observe 引擎事件回调：被丢弃且未重新发送的响应需要在浏览器侧终止
func (m *Manager) Observe(evt model.Event) {
	if evt.Type != model.EventResumed || evt.Relay {
		return
	}
	t, ok := m.requests[evt.RequestID]
	if !ok || t.state != interceptor.Done {
		return
	}
	m.release(t, false)
}

// release 结束浏览器侧的暂停：relay 为 false 时中止请求，
// 否则按传输层结果放行原响应、用重放结果应答或以失败结束
func (m *Manager) release(t *cdpTransport, relay bool) {
	if t.phase == phaseFinished {
		return
	}
	t.phase = phaseFinished
	delete(t.ts.inflight, t.id)
	if t.req != nil {
		delete(m.requests, t.req.ID)
	}

	ts, id := t.ts, t.id
	switch {
	case !relay:
		m.log.Debug("响应被丢弃，中止浏览器请求", "requestID", id)
		go m.failRequest(ts, id, network.ErrorReasonAborted)
	case t.errReason != "":
		go m.failRequest(ts, id, t.errReason)
	case t.replayed:
		args := &fetch.FulfillRequestArgs{
			RequestID:       id,
			ResponseCode:    t.status,
			ResponseHeaders: adapter.ToHeaderEntries(fulfillHeaders(t.respHeader)),
			Body:            t.body,
		}
		m.log.Debug("使用重放结果应答", "requestID", id, "status", t.status)
		go m.fulfillRequest(ts, args)
	default:
		go m.continueResponse(ts, id)
	}
}

func (m *Manager) continueRequest(ts *targetSession, id fetch.RequestID) {
	ctx, cancel := context.WithTimeout(ts.ctx, m.processTimeout())
	defer cancel()
	if err := ts.api.ContinueRequest(ctx, &fetch.ContinueRequestArgs{RequestID: id}); err != nil {
		m.log.Err(err, "放行请求失败", "requestID", id)
	}
}

func (m *Manager) continueResponse(ts *targetSession, id fetch.RequestID) {
	ctx, cancel := context.WithTimeout(ts.ctx, m.processTimeout())
	defer cancel()
	if err := ts.api.ContinueResponse(ctx, &fetch.ContinueResponseArgs{RequestID: id}); err != nil {
		m.log.Err(err, "放行响应失败", "requestID", id)
	}
}

func (m *Manager) fulfillRequest(ts *targetSession, args *fetch.FulfillRequestArgs) {
	ctx, cancel := context.WithTimeout(ts.ctx, m.processTimeout())
	defer cancel()
	if err := ts.api.FulfillRequest(ctx, args); err != nil {
		m.log.Err(err, "应答请求失败", "requestID", args.RequestID)
	}
}

func (m *Manager) failRequest(ts *targetSession, id fetch.RequestID, reason network.ErrorReason) {
	ctx, cancel := context.WithTimeout(ts.ctx, m.processTimeout())
	defer cancel()
	if err := ts.api.FailRequest(ctx, &fetch.FailRequestArgs{RequestID: id, ErrorReason: reason}); err != nil {
		m.log.Err(err, "中止请求失败", "requestID", id)
	}
}

// fetchBody 读取暂停响应的响应体，重定向等没有响应体的情况返回 nil
func (m *Manager) fetchBody(ts *targetSession, id fetch.RequestID) []byte {
	ctx, cancel := context.WithTimeout(ts.ctx, m.processTimeout())
	defer cancel()
	reply, err := ts.api.GetResponseBody(ctx, &fetch.GetResponseBodyArgs{RequestID: id})
	if err != nil {
		m.log.Debug("获取响应体失败", "requestID", id, "error", err)
		return nil
	}
	body, err := adapter.DecodeBody(reply)
	if err != nil {
		m.log.Err(err, "解码响应体失败", "requestID", id)
		return nil
	}
	return body
}
