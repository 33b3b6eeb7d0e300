package traffic

import (
	"net/http"
	"slices"
	"testing"
)

func TestHeaderMultiValueCaseFolding(t *testing.T) {
	h := NewHeader()
	h.Add("Content-Type", "a")
	h.Add("content-type", "b")
	h.Add("CONTENT-TYPE", "a")

	if got := h.Values("Content-Type"); !slices.Equal(got, []string{"a", "b", "a"}) {
		t.Fatalf("Values = %v", got)
	}
	if got := h.Get("content-TYPE"); got != "a" {
		t.Fatalf("Get = %q", got)
	}
	if !h.Contains("content-type", "b") || h.Contains("content-type", "c") {
		t.Fatalf("Contains mismatch")
	}
	if h.Has("x-missing") {
		t.Fatalf("Has on missing key")
	}
	if got := h.Values("x-missing"); got == nil || len(got) != 0 {
		t.Fatalf("Values on missing key = %#v, want empty", got)
	}
}

func TestHeaderKeyOrderAndDel(t *testing.T) {
	h := NewHeader()
	h.Add("B", "1")
	h.Add("a", "2")
	h.Add("b", "3")
	if got := h.Keys(); !slices.Equal(got, []string{"b", "a"}) {
		t.Fatalf("Keys = %v", got)
	}

	var pairs []string
	h.Each(func(k, v string) { pairs = append(pairs, k+"="+v) })
	if !slices.Equal(pairs, []string{"b=1", "b=3", "a=2"}) {
		t.Fatalf("Each = %v", pairs)
	}

	h.Set("b", "9")
	if got := h.Keys(); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("Keys after Set = %v", got)
	}
	h.Del("A")
	if h.Len() != 1 || h.Get("b") != "9" {
		t.Fatalf("after Del: len=%d b=%q", h.Len(), h.Get("b"))
	}
}

func TestHeaderCloneIsIndependent(t *testing.T) {
	h := NewHeader()
	h.Add("x", "1")
	c := h.Clone()
	c.Add("x", "2")
	h.Reset()
	if h.Len() != 0 {
		t.Fatalf("Reset left %d keys", h.Len())
	}
	if got := c.Values("x"); !slices.Equal(got, []string{"1", "2"}) {
		t.Fatalf("clone values = %v", got)
	}
}

func TestHeaderHTTPConversion(t *testing.T) {
	src := http.Header{}
	src.Add("X-Token", "t1")
	src.Add("X-Token", "t2")
	src.Add("Accept", "*/*")

	h := FromHTTP(src)
	if got := h.Keys(); !slices.Equal(got, []string{"accept", "x-token"}) {
		t.Fatalf("Keys = %v", got)
	}
	back := h.ToHTTP()
	if got := back.Values("X-Token"); !slices.Equal(got, []string{"t1", "t2"}) {
		t.Fatalf("round trip = %v", got)
	}
}
