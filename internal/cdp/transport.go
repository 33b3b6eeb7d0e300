package cdp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	adapter "cdpblock/internal/adapter/cdp"
	"cdpblock/internal/interceptor"
	"cdpblock/pkg/traffic"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
)

var (
	ErrRequestFinished = errors.New("paused request already released")
	ErrNotOpened       = errors.New("send before open")
	ErrAlreadySent     = errors.New("request already sent")
)

type phase int

const (
	// phaseRequest 浏览器请求暂停在请求阶段
	phaseRequest phase = iota
	// phaseInflight 已放行，等待响应阶段暂停
	phaseInflight
	// phaseResponse 暂停在响应阶段
	phaseResponse
	// phaseReplay 重新打开后通过 HTTP 客户端重放
	phaseReplay
	phaseFinished
)

// cdpTransport 把一个被 Fetch 暂停的浏览器请求适配为 interceptor.Transport。
// 首次发送通过 Fetch.continueRequest 放行原请求；
// 响应阶段之后的重新打开与发送由 HTTP 客户端完成，结果最终用 Fetch.fulfillRequest 交给浏览器。
type cdpTransport struct {
	m   *Manager
	ts  *targetSession
	id  fetch.RequestID
	req *interceptor.Request

	phase  phase
	gen    uint64
	sent   bool
	cancel context.CancelFunc

	method string
	url    string
	header *traffic.Header

	state      interceptor.ReadyState
	status     int
	respHeader *traffic.Header
	body       []byte
	errReason  network.ErrorReason
	replayed   bool

	onChange func()
	onLoad   func()
}

func newTransport(m *Manager, ts *targetSession, id fetch.RequestID) *cdpTransport {
	return &cdpTransport{
		m:          m,
		ts:         ts,
		id:         id,
		header:     traffic.NewHeader(),
		respHeader: traffic.NewHeader(),
	}
}

// Open 首次打开对应浏览器原请求；之后的打开意味着重放
func (t *cdpTransport) Open(method, url string) error {
	if t.phase == phaseFinished {
		return ErrRequestFinished
	}
	if t.state != interceptor.Unsent {
		if t.cancel != nil {
			t.cancel()
			t.cancel = nil
		}
		t.phase = phaseReplay
		t.replayed = true
	}
	t.gen++
	t.method = method
	t.url = url
	t.header = traffic.NewHeader()
	t.sent = false
	t.status = 0
	t.body = nil
	t.respHeader = traffic.NewHeader()
	t.errReason = ""
	t.setState(interceptor.Opened)
	return nil
}

func (t *cdpTransport) SetHeader(key, value string) {
	t.header.Add(key, value)
}

func (t *cdpTransport) Send(body []byte) error {
	if t.phase == phaseFinished {
		return ErrRequestFinished
	}
	if t.state != interceptor.Opened {
		return ErrNotOpened
	}
	if t.sent {
		return ErrAlreadySent
	}
	t.sent = true

	switch t.phase {
	case phaseRequest:
		t.phase = phaseInflight
		go t.m.continueRequest(t.ts, t.id)
		return nil
	case phaseReplay:
		return t.startReplay(body)
	default:
		return fmt.Errorf("unexpected phase %d", t.phase)
	}
}

// onResponse 响应阶段暂停事件，在任务循环上调用
func (t *cdpTransport) onResponse(ev *fetch.RequestPausedReply) {
	t.phase = phaseResponse
	gen := t.gen
	if ev.ResponseErrorReason != nil {
		t.complete(gen, 0, traffic.NewHeader(), nil, *ev.ResponseErrorReason)
		return
	}
	res := adapter.ToNeutralResponse(ev, nil)
	go func() {
		body := t.m.fetchBody(t.ts, ev.RequestID)
		if !t.m.loop.Post(func() { t.complete(gen, res.StatusCode, res.Headers, body, "") }) {
			t.m.log.Debug("任务循环已关闭，丢弃响应", "requestID", ev.RequestID)
		}
	}()
}

// startReplay 用 HTTP 客户端重放请求，完成后回到任务循环
func (t *cdpTransport) startReplay(body []byte) error {
	var rd io.Reader
	if len(body) > 0 {
		rd = bytes.NewReader(body)
	}
	ctx, cancel := context.WithTimeout(t.ts.ctx, t.m.replayTimeout())
	req, err := http.NewRequestWithContext(ctx, t.method, t.url, rd)
	if err != nil {
		cancel()
		return fmt.Errorf("build replay request: %w", err)
	}
	req.Header = replayHeaders(t.header)
	t.cancel = cancel
	gen := t.gen

	go func() {
		defer cancel()
		status, hdr, data, err := doReplay(t.m.replay, req)
		if err != nil && ctx.Err() == context.Canceled {
			return
		}
		posted := t.m.loop.Post(func() {
			if err != nil {
				t.m.log.Err(err, "重放请求失败", "url", req.URL.String())
				t.complete(gen, 0, traffic.NewHeader(), nil, network.ErrorReasonFailed)
				return
			}
			t.complete(gen, status, hdr, data, "")
		})
		if !posted {
			t.m.log.Debug("任务循环已关闭，丢弃重放结果", "url", req.URL.String())
		}
	}()
	return nil
}

func doReplay(client *http.Client, req *http.Request) (int, *traffic.Header, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read replay body: %w", err)
	}
	return resp.StatusCode, traffic.FromHTTP(resp.Header), data, nil
}

// complete 推进到终态。本轮已被重新打开时忽略
func (t *cdpTransport) complete(gen uint64, status int, hdr *traffic.Header, body []byte, reason network.ErrorReason) {
	if gen != t.gen || t.phase == phaseFinished {
		return
	}
	t.cancel = nil
	t.status = status
	t.respHeader = hdr
	t.errReason = reason
	if reason == "" {
		t.setState(interceptor.HeadersReceived)
		if gen != t.gen {
			return
		}
		t.setState(interceptor.Loading)
		if gen != t.gen {
			return
		}
	}
	t.body = body
	t.setState(interceptor.Done)
	if gen != t.gen || reason != "" {
		return
	}
	if t.onLoad != nil {
		t.onLoad()
	}
}

func (t *cdpTransport) setState(s interceptor.ReadyState) {
	t.state = s
	if t.onChange != nil {
		t.onChange()
	}
}

func (t *cdpTransport) ReadyState() interceptor.ReadyState { return t.state }

func (t *cdpTransport) Status() int { return t.status }

func (t *cdpTransport) Body() []byte { return t.body }

func (t *cdpTransport) ResponseHeader() *traffic.Header { return t.respHeader }

func (t *cdpTransport) OnReadyStateChange(fn func()) { t.onChange = fn }

func (t *cdpTransport) OnLoad(fn func()) { t.onLoad = fn }

// replayHeaders 去掉由 HTTP 客户端自行处理的头部。
// 不转发 Accept-Encoding，让客户端透明解压，应答浏览器时不再带压缩编码
func replayHeaders(h *traffic.Header) http.Header {
	out := h.ToHTTP()
	for _, k := range []string{"Accept-Encoding", "Content-Length", "Host", "Connection"} {
		out.Del(k)
	}
	return out
}

// fulfillHeaders 去掉与已解码响应体不符的头部
func fulfillHeaders(h *traffic.Header) *traffic.Header {
	out := h.Clone()
	for _, k := range []string{"content-encoding", "content-length", "transfer-encoding"} {
		out.Del(k)
	}
	return out
}
