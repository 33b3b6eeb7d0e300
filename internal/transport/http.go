// Package transport 提供基于 net/http 的 interceptor.Transport 实现。
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cdpblock/internal/interceptor"
	"cdpblock/internal/logger"
	"cdpblock/pkg/traffic"
)

var (
	ErrNotOpened = errors.New("transport: send before open")
	ErrSent      = errors.New("transport: request already sent")
)

// Poster 把回调投递到引擎所在的 goroutine，通常是 *loop.Loop
type Poster interface {
	Post(fn func()) bool
}

// HTTP 类 XMLHttpRequest 的传输对象。Open/SetHeader/Send 须在引擎 goroutine 上调用，
// 网络请求在独立 goroutine 中执行，完成后通过 Poster 回到引擎 goroutine 推进状态。
type HTTP struct {
	client *http.Client
	post   Poster
	log    logger.Logger

	method string
	url    string
	header http.Header
	sent   bool

	state      interceptor.ReadyState
	status     int
	body       []byte
	respHeader *traffic.Header
	err        error

	gen    uint64
	cancel context.CancelFunc

	onChange func()
	onLoad   func()
}

// NewHTTP 创建传输对象，client 为空时使用 http.DefaultClient
func NewHTTP(client *http.Client, p Poster, l logger.Logger) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &HTTP{
		client:     client,
		post:       p,
		log:        l,
		header:     http.Header{},
		respHeader: traffic.NewHeader(),
	}
}

// Open 重置状态并进入 Opened，进行中的请求被中止
func (t *HTTP) Open(method, url string) error {
	t.abort()
	t.gen++
	t.method = method
	t.url = url
	t.header = http.Header{}
	t.sent = false
	t.status = 0
	t.body = nil
	t.respHeader = traffic.NewHeader()
	t.err = nil
	t.setState(interceptor.Opened)
	return nil
}

func (t *HTTP) SetHeader(key, value string) {
	t.header.Add(key, value)
}

// Send 异步发送请求
func (t *HTTP) Send(body []byte) error {
	if t.state != interceptor.Opened {
		return ErrNotOpened
	}
	if t.sent {
		return ErrSent
	}
	var rd io.Reader
	if len(body) > 0 {
		rd = bytes.NewReader(body)
	}
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, t.method, t.url, rd)
	if err != nil {
		cancel()
		return fmt.Errorf("build request: %w", err)
	}
	req.Header = t.header.Clone()
	t.sent = true
	t.cancel = cancel
	gen := t.gen

	go t.roundTrip(ctx, cancel, gen, req)
	return nil
}

func (t *HTTP) roundTrip(ctx context.Context, cancel context.CancelFunc, gen uint64, req *http.Request) {
	defer cancel()
	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			t.deliverFailure(gen, err)
		}
		return
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() == nil {
			t.deliverFailure(gen, fmt.Errorf("read body: %w", err))
		}
		return
	}
	status := resp.StatusCode
	hdr := traffic.FromHTTP(resp.Header)
	if !t.post.Post(func() { t.complete(gen, status, hdr, data) }) {
		t.log.Debug("任务循环已关闭，丢弃响应", "url", req.URL.String())
	}
}

func (t *HTTP) deliverFailure(gen uint64, err error) {
	if !t.post.Post(func() { t.fail(gen, err) }) {
		t.log.Debug("任务循环已关闭，丢弃请求失败通知", "error", err)
	}
}

func (t *HTTP) complete(gen uint64, status int, hdr *traffic.Header, data []byte) {
	if gen != t.gen {
		return
	}
	t.cancel = nil
	t.status = status
	t.respHeader = hdr
	t.setState(interceptor.HeadersReceived)
	if gen != t.gen {
		return
	}
	t.setState(interceptor.Loading)
	if gen != t.gen {
		return
	}
	t.body = data
	t.setState(interceptor.Done)
	if gen != t.gen {
		return
	}
	if t.onLoad != nil {
		t.onLoad()
	}
}

func (t *HTTP) fail(gen uint64, err error) {
	if gen != t.gen {
		return
	}
	t.cancel = nil
	t.err = err
	t.status = 0
	t.log.Warn("请求失败", "method", t.method, "url", t.url, "error", err)
	t.setState(interceptor.Done)
}

func (t *HTTP) abort() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *HTTP) setState(s interceptor.ReadyState) {
	t.state = s
	if t.onChange != nil {
		t.onChange()
	}
}

func (t *HTTP) ReadyState() interceptor.ReadyState { return t.state }

func (t *HTTP) Status() int { return t.status }

func (t *HTTP) Body() []byte { return t.body }

func (t *HTTP) ResponseHeader() *traffic.Header { return t.respHeader }

// Err 最近一次请求的网络错误
func (t *HTTP) Err() error { return t.err }

func (t *HTTP) OnReadyStateChange(fn func()) { t.onChange = fn }

func (t *HTTP) OnLoad(fn func()) { t.onLoad = fn }
