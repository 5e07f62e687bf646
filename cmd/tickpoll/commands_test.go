package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tickpoll/internal/storage"
	logx "tickpoll/pkg/logx"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := newCLI()
	a.Writer = &out
	a.ErrWriter = &out
	err := a.Run(append([]string{"tickpoll"}, args...))
	return out.String(), err
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestPlanCommand(t *testing.T) {
	t.Parallel()
	cfg := filepath.Join(t.TempDir(), "tickpoll.yaml")
	writeFile(t, cfg, `
periods:
  - name: fast
    every: 1s
  - name: slow
    every: "@every 3s"
    delay: 1500ms
`)
	out, err := runCLI(t, "--config", cfg, "plan")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	for _, want := range []string{
		"Minimum:    1.000 - polling:    0.500",
		"fast - PER:1.000, DLAY:0.000",
		"slow - PER:3.000, DLAY:1.500",
		"derivation: exact",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("plan output missing %q:\n%s", want, out)
		}
	}
}

func TestHistoryCommand(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	storePath := filepath.Join(dir, "history")
	cfg := filepath.Join(dir, "tickpoll.json")
	writeFile(t, cfg, `{
  "storage": {"driver": "file", "path": "`+storePath+`"},
  "periods": [{"name": "fast", "every": "1s", "action": "record"}]
}`)

	st, err := storage.Open(storage.Config{Driver: "file", Path: storePath}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	base := time.Unix(1_700_000_000, 0).UTC()
	for i := 0; i < 3; i++ {
		e := storage.FireEntry{At: base.Add(time.Duration(i) * time.Second), Name: "fast", Period: time.Second, Action: "record"}
		if err := st.AppendFire(context.Background(), e); err != nil {
			t.Fatalf("AppendFire: %v", err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out, err := runCLI(t, "-c", cfg, "history", "-n", "2", "-p", "fast")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("want header + 2 rows, got:\n%s", out)
	}
	if !strings.HasPrefix(lines[1], "2023-11-14T22:13:22Z") {
		t.Fatalf("newest entry not first:\n%s", out)
	}
}

func TestHistoryWithoutStorage(t *testing.T) {
	t.Parallel()
	cfg := filepath.Join(t.TempDir(), "tickpoll.json")
	writeFile(t, cfg, `{"periods": [{"name": "fast", "every": "1s"}]}`)
	if _, err := runCLI(t, "-c", cfg, "history"); err == nil || !strings.Contains(err.Error(), "storage is not configured") {
		t.Fatalf("history = %v", err)
	}
}
