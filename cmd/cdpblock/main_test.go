package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cdpblock/internal/storage"
	"cdpblock/pkg/model"
)

func executeRootCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestTargetsCommand(t *testing.T) {
	devtools := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"id":"T1","type":"page","title":"Home","url":"https://site.example/","webSocketDebuggerUrl":"ws://127.0.0.1/devtools/page/T1"}]`)
	}))
	defer devtools.Close()

	out, err := executeRootCommand(t, "targets", "--devtools", devtools.URL)
	if err != nil {
		t.Fatalf("targets failed: %v", err)
	}
	if !strings.Contains(out, "T1") || !strings.Contains(out, "https://site.example/") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestJournalCommand(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "events.sqlite3")
	j, err := storage.OpenJournal(storage.JournalOptions{DSN: dsn, Prefix: "cdpblock_"})
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	j.Observe(model.Event{Type: model.EventQueued, Pattern: "/api/", URL: "https://x/api/1", Method: "GET", Pending: 2})
	j.Observe(model.Event{Type: model.EventResumed, Pattern: "/api/", Relay: true})
	j.Close()

	cfgPath := filepath.Join(dir, "config.yaml")
	os.WriteFile(cfgPath, []byte("sqlite:\n  dsn: "+dsn+"\n  prefix: cdpblock_\n"), 0o600)

	out, err := executeRootCommand(t, "journal", "--config", cfgPath, "-n", "5")
	if err != nil {
		t.Fatalf("journal failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "queued") || !strings.Contains(lines[1], "relay=true") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestFormatEvent(t *testing.T) {
	got := formatEvent(model.Event{Type: model.EventFault, Pattern: "data", Error: "boom"})
	if got != "fault        pattern=data error=boom" {
		t.Fatalf("formatEvent = %q", got)
	}
}
