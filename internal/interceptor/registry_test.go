package interceptor

import (
	"errors"
	"slices"
	"testing"

	"cdpblock/pkg/model"
)

func TestRegisterDuplicateKeepsOriginal(t *testing.T) {
	log := &eventLog{}
	e := New(WithObserver(log))
	first := &holder{}
	second := &holder{}
	if err := e.Register("data", first.handler()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := e.Register("data", second.handler())
	if !errors.Is(err, ErrDuplicatePattern) {
		t.Fatalf("err = %v, want ErrDuplicatePattern", err)
	}

	tr := &trace{}
	ft := newFake("a", tr)
	r := e.NewRequest(ft)
	r.Open("GET", "data/x")
	r.Send(nil)
	ft.respond(200, "ok")

	if first.calls != 1 || second.calls != 0 {
		t.Fatalf("calls first=%d second=%d", first.calls, second.calls)
	}
	if got := log.types(); !slices.Equal(got[:2], []model.EventType{model.EventRegistered, model.EventDuplicate}) {
		t.Fatalf("events = %v", got)
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	e := New()
	if err := e.Register("(", (&holder{}).handler()); !errors.Is(err, ErrInvalidPattern) {
		t.Fatalf("err = %v, want ErrInvalidPattern", err)
	}
	if err := e.Register("data", nil); !errors.Is(err, ErrNilHandler) {
		t.Fatalf("err = %v, want ErrNilHandler", err)
	}
	if len(e.Stats().Patterns) != 0 {
		t.Fatalf("rejected registrations must not be stored")
	}
}

func TestFindMatchInsertionOrder(t *testing.T) {
	e := New()
	e.Register(`data/x`, (&holder{}).handler())
	e.Register(`data`, (&holder{}).handler())
	e.Register(`^https://api\.example\.com/`, (&holder{}).handler())

	tests := []struct {
		url  string
		want string
	}{
		{"data/x/1", "data/x"},
		{"data/y", "data"},
		{"https://api.example.com/v1", `^https://api\.example\.com/`},
		{"https://other.example.com/", ""},
	}
	for _, tt := range tests {
		got := ""
		if m := e.FindMatch(tt.url); m != nil {
			got = m.Pattern()
		}
		if got != tt.want {
			t.Errorf("FindMatch(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}

	e.Unregister("data/x")
	e.Unregister("missing")
	if m := e.FindMatch("data/x/1"); m == nil || m.Pattern() != "data" {
		t.Fatalf("after unregister got %v", m)
	}
	if got := e.Stats().Patterns; !slices.Equal(got, []string{"data", `^https://api\.example\.com/`}) {
		t.Fatalf("patterns = %v", got)
	}

	e.Clear()
	if e.FindMatch("data/y") != nil {
		t.Fatalf("clear left entries")
	}
}

func TestRegisterWithContext(t *testing.T) {
	e := New()
	type authFlow struct{ name string }
	flow := &authFlow{name: "sso"}
	var got any
	e.Register("data", HandlerFunc(func(c *Continuation, r *Request) error {
		got = c.Context()
		c.Continue()
		return nil
	}), WithContext(flow))

	ft := newFake("a", &trace{})
	r := e.NewRequest(ft)
	r.Open("GET", "data/x")
	r.Send(nil)
	ft.respond(200, "")

	if got != flow {
		t.Fatalf("context = %v, want %v", got, flow)
	}
	if entry, _ := e.registry.Lookup("data"); entry.Context() != flow {
		t.Fatalf("entry context = %v", entry.Context())
	}
}

func TestHandlerFaultUnwrap(t *testing.T) {
	cause := errors.New("cause")
	var err error = &HandlerFault{Pattern: "p", RequestID: "r", Cause: cause}
	if !errors.Is(err, cause) {
		t.Fatalf("HandlerFault must unwrap to its cause")
	}
	var hf *HandlerFault
	if !errors.As(err, &hf) || hf.Pattern != "p" {
		t.Fatalf("errors.As failed: %v", err)
	}
}
