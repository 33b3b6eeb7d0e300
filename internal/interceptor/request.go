package interceptor

import (
	"github.com/google/uuid"

	"cdpblock/pkg/traffic"
)

// Request 包装一个 Transport 的逻辑请求，跨 Resend 保持同一实例。
// 记录 Open 参数、最近一次 Send 的请求体与所有请求头，
// 并在 Send 时根据处理器表决定立即发送还是进入全局队列。
type Request struct {
	ID string

	// Bypass 为 true 时该请求跳过阻塞检查与响应拦截
	Bypass bool

	// OnReadyStateChange 调用方的状态回调
	OnReadyStateChange func(Event)
	// OnLoad 调用方的 load 回调
	OnLoad func(Event)

	engine    *Engine
	transport Transport
	header    *traffic.Header

	method string
	url    string
	body   []byte

	buffer    *eventBuffer
	processed bool
}

func newRequest(e *Engine, t Transport) *Request {
	r := &Request{
		ID:        uuid.NewString(),
		engine:    e,
		transport: t,
		header:    traffic.NewHeader(),
	}
	t.OnReadyStateChange(r.readyStateChanged)
	t.OnLoad(r.loaded)
	return r
}

// Open 清空已记录的请求头，保存 method/url 作为可重放参数后交给传输层
func (r *Request) Open(method, url string) error {
	r.header.Reset()
	r.method = method
	r.url = url
	return r.transport.Open(method, url)
}

// SetHeader 记录请求头（键不区分大小写，值追加不去重）后交给传输层
func (r *Request) SetHeader(key, value string) {
	r.header.Add(key, value)
	r.transport.SetHeader(key, value)
}

// Headers 返回该键已记录的值，未设置时为空切片
func (r *Request) Headers(key string) []string { return r.header.Values(key) }

func (r *Request) HasHeader(key string) bool { return r.header.Has(key) }

func (r *Request) HeaderContains(key, value string) bool { return r.header.Contains(key, value) }

// AllHeaders 返回已记录请求头的副本
func (r *Request) AllHeaders() *traffic.Header { return r.header.Clone() }

// AddHeaders 逐个通过 SetHeader 重新应用
func (r *Request) AddHeaders(h *traffic.Header) {
	h.Each(r.SetHeader)
}

// Send 若未 Bypass 且首个匹配条目处于阻塞状态，则把原始发送包装为闭包放入全局队列后返回；
// 否则立即交给传输层
func (r *Request) Send(body []byte) error {
	r.body = body
	if !r.Bypass {
		if entry := r.engine.registry.FindMatch(r.url); entry != nil && entry.blocked {
			r.engine.enqueue(r, entry, body)
			return nil
		}
	}
	return r.transport.Send(body)
}

// Resend 以最初的 Open 参数重新打开，恢复之前的请求头并重发最近一次的请求体
func (r *Request) Resend() error {
	snapshot := r.AllHeaders()
	if err := r.Open(r.method, r.url); err != nil {
		return err
	}
	r.AddHeaders(snapshot)
	return r.Send(r.body)
}

func (r *Request) Method() string { return r.method }

func (r *Request) URL() string { return r.url }

// LastBody 最近一次 Send 的请求体
func (r *Request) LastBody() []byte { return r.body }

func (r *Request) Transport() Transport { return r.transport }

func (r *Request) ReadyState() ReadyState { return r.transport.ReadyState() }

func (r *Request) Status() int { return r.transport.Status() }

func (r *Request) ResponseBody() []byte { return r.transport.Body() }

func (r *Request) ResponseHeader() *traffic.Header { return r.transport.ResponseHeader() }

// Processed 是否已到达过 Done 状态
func (r *Request) Processed() bool { return r.processed }
