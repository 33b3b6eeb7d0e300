package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Sqlite.Prefix != "cdpblock_" || c.Interception.LoopCapacity != 256 {
		t.Fatalf("defaults = %+v", c)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
log:
  level: info
  writer: [console]
interception:
  devtoolsURL: http://localhost:9333
rules:
  - id: r1
    pattern: /api/
    action:
      type: discard
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Log.Level != "info" || !slices.Equal(c.Log.Writer, []string{"console"}) {
		t.Fatalf("log = %+v", c.Log)
	}
	if c.Interception.DevToolsURL != "http://localhost:9333" || c.Interception.ProcessTimeoutMS != 3000 {
		t.Fatalf("interception = %+v", c.Interception)
	}
	if c.Sqlite.Dsn != "db.sqlite3" {
		t.Fatalf("untouched default lost: %q", c.Sqlite.Dsn)
	}
	if got := c.RuleSet().Patterns(); !slices.Equal(got, []string{"/api/"}) {
		t.Fatalf("patterns = %v", got)
	}
}

func TestLoadRejectsInvalidRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("rules:\n  - id: bad\n    pattern: \"(\"\n    action:\n      type: relay\n"), 0o600)
	if _, err := Load(path); err == nil {
		t.Fatalf("invalid rule pattern accepted")
	}
}
