package cdp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cdpblock/internal/interceptor"
	"cdpblock/internal/loop"
	"cdpblock/pkg/model"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
)

type call struct {
	method string
	id     fetch.RequestID
	status int
	body   string
	reason network.ErrorReason
}

type fakeFetch struct {
	calls chan call
	mu    sync.Mutex
	body  map[fetch.RequestID]string
}

func newFakeFetch() *fakeFetch {
	return &fakeFetch{calls: make(chan call, 16), body: make(map[fetch.RequestID]string)}
}

func (f *fakeFetch) ContinueRequest(_ context.Context, args *fetch.ContinueRequestArgs) error {
	f.calls <- call{method: "continueRequest", id: args.RequestID}
	return nil
}

func (f *fakeFetch) ContinueResponse(_ context.Context, args *fetch.ContinueResponseArgs) error {
	f.calls <- call{method: "continueResponse", id: args.RequestID}
	return nil
}

func (f *fakeFetch) FulfillRequest(_ context.Context, args *fetch.FulfillRequestArgs) error {
	f.calls <- call{method: "fulfillRequest", id: args.RequestID, status: args.ResponseCode, body: string(args.Body)}
	return nil
}

func (f *fakeFetch) FailRequest(_ context.Context, args *fetch.FailRequestArgs) error {
	f.calls <- call{method: "failRequest", id: args.RequestID, reason: args.ErrorReason}
	return nil
}

func (f *fakeFetch) GetResponseBody(_ context.Context, args *fetch.GetResponseBodyArgs) (*fetch.GetResponseBodyReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &fetch.GetResponseBodyReply{Body: f.body[args.RequestID]}, nil
}

func (f *fakeFetch) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("no fetch call")
		return call{}
	}
}

func (f *fakeFetch) none(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected fetch call %+v", c)
	case <-time.After(60 * time.Millisecond):
	}
}

type bridge struct {
	t      *testing.T
	lp     *loop.Loop
	engine *interceptor.Engine
	m      *Manager
	ts     *targetSession
	api    *fakeFetch
}

func newBridge(t *testing.T) *bridge {
	t.Helper()
	lp := loop.New(64, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go lp.Run(ctx)
	t.Cleanup(func() {
		cancel()
		lp.Close()
	})
	e := interceptor.New()
	m := New(Config{Engine: e, Loop: lp, Session: "s1"})
	api := newFakeFetch()
	tctx, tcancel := context.WithCancel(context.Background())
	t.Cleanup(tcancel)
	ts := &targetSession{id: "page-1", api: api, ctx: tctx, cancel: tcancel, inflight: make(map[fetch.RequestID]*cdpTransport)}
	return &bridge{t: t, lp: lp, engine: e, m: m, ts: ts, api: api}
}

func (b *bridge) do(fn func()) {
	b.t.Helper()
	done := make(chan struct{})
	b.lp.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		b.t.Fatalf("loop task timed out")
	}
}

func (b *bridge) request(id, url string) {
	b.do(func() {
		b.m.handle(b.ts, &fetch.RequestPausedReply{
			RequestID: fetch.RequestID(id),
			Request:   network.Request{URL: url, Method: "GET", Headers: []byte(`{"Accept":"*/*"}`)},
		})
	})
}

func (b *bridge) response(id, url string, status int, body string) {
	b.api.mu.Lock()
	b.api.body[fetch.RequestID(id)] = body
	b.api.mu.Unlock()
	b.do(func() {
		b.m.handle(b.ts, &fetch.RequestPausedReply{
			RequestID:          fetch.RequestID(id),
			Request:            network.Request{URL: url, Method: "GET"},
			ResponseStatusCode: &status,
			ResponseHeaders:    []fetch.HeaderEntry{{Name: "Content-Type", Value: "text/plain"}},
		})
	})
}

func TestBridgePassthrough(t *testing.T) {
	b := newBridge(t)
	b.request("1", "https://site.example/index.html")
	if c := b.api.next(t); c.method != "continueRequest" || c.id != "1" {
		t.Fatalf("call = %+v", c)
	}
	b.response("1", "https://site.example/index.html", 200, "<html>")
	if c := b.api.next(t); c.method != "continueResponse" || c.id != "1" {
		t.Fatalf("call = %+v", c)
	}
	b.do(func() {
		if len(b.m.requests) != 0 || len(b.ts.inflight) != 0 {
			t.Errorf("request not released: %d/%d", len(b.m.requests), len(b.ts.inflight))
		}
	})
}

func TestBridgeBlocksMatchingRequests(t *testing.T) {
	b := newBridge(t)
	held := make(chan *interceptor.Continuation, 2)
	b.do(func() {
		b.engine.Register(`/api/`, interceptor.HandlerFunc(func(c *interceptor.Continuation, r *interceptor.Request) error {
			if r.Status() == http.StatusUnauthorized {
				held <- c
				return nil
			}
			c.Continue()
			return nil
		}))
	})

	b.request("a", "https://site.example/api/a")
	b.api.next(t)
	b.response("a", "https://site.example/api/a", 401, "denied")
	var c *interceptor.Continuation
	select {
	case c = <-held:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler not called")
	}

	b.request("b", "https://site.example/api/b")
	b.request("c", "https://site.example/static/c.js")
	if got := b.api.next(t); got.method != "continueRequest" || got.id != "c" {
		t.Fatalf("unmatched request must pass, got %+v", got)
	}
	b.api.none(t)
	b.do(func() {
		if b.engine.Pending() != 1 {
			t.Errorf("pending = %d", b.engine.Pending())
		}
	})

	b.do(c.Continue)
	seen := map[string]fetch.RequestID{}
	for i := 0; i < 2; i++ {
		got := b.api.next(t)
		seen[got.method] = got.id
	}
	if seen["continueResponse"] != "a" || seen["continueRequest"] != "b" {
		t.Fatalf("calls after continue = %v", seen)
	}
}

func TestBridgeDiscardAbortsRequest(t *testing.T) {
	b := newBridge(t)
	b.do(func() {
		b.engine.Register(`/api/`, interceptor.HandlerFunc(func(c *interceptor.Continuation, r *interceptor.Request) error {
			c.Discard()
			return nil
		}))
	})
	b.request("a", "https://site.example/api/a")
	b.api.next(t)
	b.response("a", "https://site.example/api/a", 500, "")
	if c := b.api.next(t); c.method != "failRequest" || c.reason != network.ErrorReasonAborted {
		t.Fatalf("call = %+v", c)
	}
}

func TestBridgeReplayFulfills(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("X-Replayed", "1")
		io.WriteString(w, "ok:"+r.URL.Path)
	}))
	defer srv.Close()

	b := newBridge(t)
	b.do(func() {
		b.engine.Register(`/api/`, interceptor.HandlerFunc(func(c *interceptor.Continuation, r *interceptor.Request) error {
			if r.Status() != http.StatusUnauthorized {
				c.Continue()
				return nil
			}
			hdr := r.AllHeaders()
			hdr.Set("Authorization", "fresh")
			r.Open(r.Method(), r.URL())
			r.AddHeaders(hdr)
			r.Send(nil)
			c.Discard()
			return nil
		}))
	})

	url := srv.URL + "/api/me"
	b.request("a", url)
	b.api.next(t)
	b.response("a", url, 401, "")
	c := b.api.next(t)
	if c.method != "fulfillRequest" || c.status != 200 || c.body != "ok:/api/me" {
		t.Fatalf("call = %+v", c)
	}
	b.api.none(t)
}

func TestBridgeUntrackedResponseContinues(t *testing.T) {
	b := newBridge(t)
	b.response("ghost", "https://site.example/x", 200, "")
	if c := b.api.next(t); c.method != "continueResponse" || c.id != "ghost" {
		t.Fatalf("call = %+v", c)
	}
}

func TestSendEventIsNonBlocking(t *testing.T) {
	events := make(chan model.Event, 1)
	m := &Manager{session: "s1", events: events}
	m.sendEvent(model.Event{Type: model.EventDegraded})
	m.sendEvent(model.Event{Type: model.EventDegraded})
	evt := <-events
	if evt.Session != "s1" || evt.Timestamp == 0 {
		t.Fatalf("evt = %+v", evt)
	}
}

func TestBridgeResponseErrorFailsRequest(t *testing.T) {
	b := newBridge(t)
	b.request("a", "https://site.example/down")
	b.api.next(t)

	reason := network.ErrorReasonConnectionRefused
	ev := &fetch.RequestPausedReply{
		RequestID:           "a",
		Request:             network.Request{URL: "https://site.example/down", Method: "GET"},
		ResponseErrorReason: &reason,
	}
	if !isResponseStage(ev) {
		t.Fatalf("error reason must mark the response stage")
	}
	b.do(func() { b.m.handle(b.ts, ev) })
	if c := b.api.next(t); c.method != "failRequest" || c.id != "a" || c.reason != network.ErrorReasonConnectionRefused {
		t.Fatalf("call = %+v", c)
	}
	b.do(func() {
		if len(b.ts.inflight) != 0 {
			t.Errorf("inflight = %d", len(b.ts.inflight))
		}
	})
}
