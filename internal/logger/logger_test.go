package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestZeroLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "debug")
	l.With("component", "engine").Info("注册处理器", "pattern", "data", "count", 2)

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if got["message"] != "注册处理器" {
		t.Fatalf("message = %v", got["message"])
	}
	if got["component"] != "engine" || got["pattern"] != "data" {
		t.Fatalf("missing fields: %v", got)
	}
	if got["count"] != float64(2) {
		t.Fatalf("count = %v", got["count"])
	}
}

func TestZeroLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "warn")
	l.Debug("dropped")
	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}
	l.Err(errors.New("boom"), "失败")
	if !bytes.Contains(buf.Bytes(), []byte("boom")) {
		t.Fatalf("error not logged: %q", buf.String())
	}
}

func TestOddArgs(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "info").Info("odd", "lonely")
	if !bytes.Contains(buf.Bytes(), []byte("!BADKEY")) {
		t.Fatalf("expected !BADKEY marker, got %q", buf.String())
	}
}

func TestNopDoesNotPanic(t *testing.T) {
	l := NewNop()
	l.Info("x", "k", "v")
	l.With("a", 1).Err(errors.New("e"), "y")
}
