package interceptor

import (
	"slices"
	"testing"

	"cdpblock/pkg/traffic"
)

func TestResendPreservesHeaders(t *testing.T) {
	e := New()
	ft := newFake("a", &trace{})
	r := e.NewRequest(ft)

	r.Open("POST", "data/x")
	r.SetHeader("Content-Type", "a")
	r.SetHeader("content-type", "b")
	r.SetHeader("X-Trace", "1")
	if err := r.Send([]byte("body")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := r.Resend(); err != nil {
		t.Fatalf("Resend: %v", err)
	}

	if got := r.Headers("content-type"); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("headers after resend = %v", got)
	}
	if got := ft.headers.Values("content-type"); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("transport headers after resend = %v", got)
	}
	if ft.opens != 2 || ft.method != "POST" || ft.url != "data/x" {
		t.Fatalf("re-open: opens=%d %s %s", ft.opens, ft.method, ft.url)
	}
	if len(ft.sends) != 2 || string(ft.sends[1]) != "body" {
		t.Fatalf("sends = %q", ft.sends)
	}
}

func TestOpenClearsHeaders(t *testing.T) {
	e := New()
	r := e.NewRequest(newFake("a", &trace{}))
	r.Open("GET", "x")
	r.SetHeader("Accept", "text/plain")
	r.Open("GET", "y")
	if r.HasHeader("accept") {
		t.Fatalf("Open must clear recorded headers")
	}
	if got := r.Headers("accept"); got == nil || len(got) != 0 {
		t.Fatalf("Headers on unset key = %#v", got)
	}
}

func TestHeaderAccessors(t *testing.T) {
	e := New()
	r := e.NewRequest(newFake("a", &trace{}))
	r.Open("GET", "x")
	r.SetHeader("Accept", "text/plain")
	r.SetHeader("ACCEPT", "text/plain")

	if !r.HasHeader("accept") || !r.HeaderContains("Accept", "text/plain") || r.HeaderContains("accept", "json") {
		t.Fatalf("accessor mismatch")
	}
	if got := r.Headers("accept"); len(got) != 2 {
		t.Fatalf("duplicates must be kept, got %v", got)
	}

	all := r.AllHeaders()
	all.Add("accept", "mutated")
	if len(r.Headers("accept")) != 2 {
		t.Fatalf("AllHeaders must return a copy")
	}

	extra := traffic.NewHeader()
	extra.Add("X-A", "1")
	extra.Add("x-b", "2")
	r.AddHeaders(extra)
	if got := r.AllHeaders().Keys(); !slices.Equal(got, []string{"accept", "x-a", "x-b"}) {
		t.Fatalf("keys = %v", got)
	}
}

func TestRequestAccessors(t *testing.T) {
	e := New()
	ft := newFake("a", &trace{})
	r := e.NewRequest(ft)
	if r.ID == "" {
		t.Fatalf("request id not assigned")
	}
	r.Open("PUT", "data/x")
	r.Send([]byte("b"))
	ft.respond(201, "created")

	if r.Method() != "PUT" || r.URL() != "data/x" || string(r.LastBody()) != "b" {
		t.Fatalf("open/send args not recorded")
	}
	if r.Status() != 201 || string(r.ResponseBody()) != "created" || r.ReadyState() != Done {
		t.Fatalf("transport accessors mismatch")
	}
	if r.Transport() != Transport(ft) {
		t.Fatalf("Transport() mismatch")
	}
}
