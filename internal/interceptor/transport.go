package interceptor

import "cdpblock/pkg/traffic"

// ReadyState 传输层就绪状态，取值与 XMLHttpRequest.readyState 一致
type ReadyState int

const (
	Unsent ReadyState = iota
	Opened
	HeadersReceived
	Loading
	Done
)

func (s ReadyState) String() string {
	switch s {
	case Unsent:
		return "unsent"
	case Opened:
		return "opened"
	case HeadersReceived:
		return "headers_received"
	case Loading:
		return "loading"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Transport 底层请求对象。实现方在状态变化时调用 OnReadyStateChange 注册的回调，
// 在响应完整到达后（Done 之后）调用 OnLoad 注册的回调。
// 所有回调必须在引擎所在的 goroutine 上触发。
type Transport interface {
	Open(method, url string) error
	SetHeader(key, value string)
	Send(body []byte) error
	ReadyState() ReadyState
	Status() int
	Body() []byte
	ResponseHeader() *traffic.Header
	OnReadyStateChange(fn func())
	OnLoad(fn func())
}

// Event 交付给调用方回调的通知
type Event struct {
	Request *Request
	State   ReadyState
	Status  int
}
