package interceptor

import (
	"fmt"

	"cdpblock/pkg/model"
	"cdpblock/pkg/traffic"
)

// trace 记录传输层发送与调用方收到的通知，用于断言先后顺序
type trace struct {
	lines []string
}

func (t *trace) add(format string, args ...any) {
	t.lines = append(t.lines, fmt.Sprintf(format, args...))
}

func (t *trace) count(line string) int {
	n := 0
	for _, l := range t.lines {
		if l == line {
			n++
		}
	}
	return n
}

func (t *trace) index(line string) int {
	for i, l := range t.lines {
		if l == line {
			return i
		}
	}
	return -1
}

type autoResponse struct {
	status int
	body   string
}

type fakeTransport struct {
	name  string
	trace *trace

	state   ReadyState
	status  int
	body    []byte
	respHdr *traffic.Header

	method  string
	url     string
	headers *traffic.Header
	opens   int
	sends   [][]byte
	auto    *autoResponse

	onChange func()
	onLoad   func()
}

func newFake(name string, tr *trace) *fakeTransport {
	return &fakeTransport{name: name, trace: tr, headers: traffic.NewHeader(), respHdr: traffic.NewHeader()}
}

func (f *fakeTransport) Open(method, url string) error {
	f.opens++
	f.method, f.url = method, url
	f.headers = traffic.NewHeader()
	f.state = Opened
	f.status = 0
	f.body = nil
	f.fire()
	return nil
}

func (f *fakeTransport) SetHeader(key, value string) { f.headers.Add(key, value) }

func (f *fakeTransport) Send(body []byte) error {
	f.sends = append(f.sends, body)
	f.trace.add("send %s", f.name)
	if f.auto != nil {
		f.respond(f.auto.status, f.auto.body)
	}
	return nil
}

func (f *fakeTransport) ReadyState() ReadyState          { return f.state }
func (f *fakeTransport) Status() int                     { return f.status }
func (f *fakeTransport) Body() []byte                    { return f.body }
func (f *fakeTransport) ResponseHeader() *traffic.Header { return f.respHdr }
func (f *fakeTransport) OnReadyStateChange(fn func())    { f.onChange = fn }
func (f *fakeTransport) OnLoad(fn func())                { f.onLoad = fn }

func (f *fakeTransport) fire() {
	if f.onChange != nil {
		f.onChange()
	}
}

// respond 模拟一次完整的响应：HeadersReceived、Loading、Done，然后 load。
// 若 Done 处理期间请求被重新 Open，则旧一轮的 load 不再派发
func (f *fakeTransport) respond(status int, body string) {
	gen := f.opens
	f.status = status
	f.body = []byte(body)
	f.state = HeadersReceived
	f.fire()
	f.state = Loading
	f.fire()
	f.state = Done
	f.fire()
	if f.opens == gen && f.onLoad != nil {
		f.onLoad()
	}
}

// watch 把请求的回调写入 trace
func watch(r *Request, name string, tr *trace) {
	r.OnReadyStateChange = func(ev Event) {
		tr.add("%s:%s", name, ev.State)
	}
	r.OnLoad = func(ev Event) {
		tr.add("%s:load", name)
	}
}

type eventLog struct {
	events []model.Event
}

func (l *eventLog) Observe(evt model.Event) { l.events = append(l.events, evt) }

func (l *eventLog) types() []model.EventType {
	out := make([]model.EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

// holder 保存处理器收到的 continuation，模拟异步工作
type holder struct {
	calls int
	conts []*Continuation
}

func (h *holder) handler() Handler {
	return HandlerFunc(func(c *Continuation, r *Request) error {
		h.calls++
		h.conts = append(h.conts, c)
		return nil
	})
}

func (h *holder) last() *Continuation {
	return h.conts[len(h.conts)-1]
}
