package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"tickpoll/internal/actions"
	"tickpoll/internal/config"
	"tickpoll/internal/eventbus"
	"tickpoll/internal/storage"
	"tickpoll/pkg/clock"
	logx "tickpoll/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) Notify(state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) has(state string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s == state {
			return true
		}
	}
	return false
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "tickpoll.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestAppRecordsFiresAndReloads(t *testing.T) {
	g := NewWithT(t)
	dir := t.TempDir()
	store := filepath.Join(dir, "history")
	base := `
logging:
  level: error
storage:
  driver: file
  path: ` + store + `
runner:
  watchdog: true
periods:
  - name: fast
    every: 20ms
    action: record,event
`
	path := writeConfig(t, dir, base)

	notify := &recorder{}
	a, err := NewApp(path, WithNotifier(notify))
	g.Expect(err).NotTo(HaveOccurred())

	events, unsub := a.Bus().Subscribe(256)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Expect(a.Start(ctx)).To(Succeed())

	g.Eventually(func() uint64 { return a.Runner().Stats().Dispatched }, 5*time.Second).Should(BeNumerically(">=", 3))
	g.Eventually(events).Should(Receive(WithTransform(func(e eventbus.Event) string { return e.Type }, Equal(eventbus.TypePeriodFired))))
	g.Expect(notify.has("READY=1")).To(BeTrue())
	g.Expect(notify.has("WATCHDOG=1")).To(BeTrue())

	// Hot reload: add a delayed period.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, base+`  - name: slow
    every: 40ms
    delay: 10ms
`)
	g.Eventually(a.Poller().Len, 5*time.Second).Should(Equal(2))
	g.Expect(a.Poller().Polling()).To(Equal(10 * time.Millisecond))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	g.Expect(a.Stop(stopCtx, StopAppStop)).To(Succeed())
	g.Expect(notify.has("STOPPING=1")).To(BeTrue())

	// The history survives the app.
	cfg, err := config.NewConfigManager(path).Load()
	g.Expect(err).NotTo(HaveOccurred())
	st, err := OpenHistory(cfg, logx.Nop())
	g.Expect(err).NotTo(HaveOccurred())
	defer st.Close()
	fires, err := st.LastFires(context.Background(), "fast", 3)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(fires).To(HaveLen(3))
	g.Expect(fires[0].Period).To(Equal(20 * time.Millisecond))
}

func TestAppServesStatus(t *testing.T) {
	g := NewWithT(t)
	path := writeConfig(t, t.TempDir(), `
logging:
  level: error
debug:
  enabled: true
  addr: 127.0.0.1:0
periods:
  - name: a
    every: 2s
  - name: b
    every: 3s
    delay: 500ms
`)
	a, err := NewApp(path, WithNotifier(&recorder{}))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(a.Start(context.Background())).To(Succeed())
	defer func() { _ = a.Stop(context.Background(), StopAppStop) }()

	g.Eventually(a.DebugAddr, 5*time.Second).ShouldNot(BeEmpty())
	resp, err := http.Get("http://" + a.DebugAddr() + "/status")
	g.Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	var st Status
	g.Expect(json.NewDecoder(resp.Body).Decode(&st)).To(Succeed())
	g.Expect(st.Polling).To(Equal("500ms"))
	g.Expect(st.Periods).To(HaveLen(2))
	g.Expect(st.Periods[1]).To(And(
		HaveField("Name", "b"),
		HaveField("Delay", "500ms"),
		HaveField("Attached", true),
	))
}

func TestNewAppRejectsUnavailableAction(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, t.TempDir(), `
logging:
  level: error
periods:
  - name: p
    every: 1s
    action: record
`)
	_, err := NewApp(path, WithNotifier(&recorder{}))
	if !errors.Is(err, actions.ErrNoStore) {
		t.Fatalf("NewApp = %v, want ErrNoStore", err)
	}
}

func TestPlan(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	cfg, err := config.ParseBytes("plan.yaml", []byte(`
periods:
  - name: a
    every: 2s
  - name: b
    every: 3s
    delay: 1500ms
  - name: c
    every: 3s
    delay: 500ms
`))
	g.Expect(err).NotTo(HaveOccurred())

	p, err := Plan(cfg, clock.NewFake(time.Unix(0, 0)), logx.Nop())
	g.Expect(err).NotTo(HaveOccurred())
	snap := p.Snapshot()
	g.Expect(snap.Minimum).To(Equal(2 * time.Second))
	g.Expect(snap.Polling).To(Equal(500 * time.Millisecond))
	g.Expect(snap.Exact).To(BeTrue())

	c, ok := p.Record("c")
	g.Expect(ok).To(BeTrue())
	g.Expect(c.Upper).To(Equal(1500 * time.Millisecond))
}

func TestOpenHistoryDisabled(t *testing.T) {
	t.Parallel()
	_, err := OpenHistory(&config.Config{}, logx.Nop())
	if !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("OpenHistory = %v, want ErrDisabled", err)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      *config.StorageConfig
		want    storage.Config
		enabled bool
		wantErr bool
	}{
		{name: "omitted"},
		{name: "none", in: &config.StorageConfig{Driver: "none"}},
		{name: "file default path", in: &config.StorageConfig{Driver: "FILE"}, want: storage.Config{Driver: "file", Path: "./tickpoll_store"}, enabled: true},
		{name: "sqlite", in: &config.StorageConfig{Driver: "sqlite3", Path: "x.db"}, want: storage.Config{Driver: "sqlite", Path: "x.db", BusyTimeout: time.Second}, enabled: true},
		{name: "sqlite busy", in: &config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "3s"}, want: storage.Config{Driver: "sqlite", Path: "x.db", BusyTimeout: 3 * time.Second}, enabled: true},
		{name: "sqlite no path", in: &config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "unknown", in: &config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, enabled, err := mapStorageConfig(&config.Config{Storage: tt.in})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want || enabled != tt.enabled {
				t.Fatalf("got %+v enabled=%v, want %+v enabled=%v", got, enabled, tt.want, tt.enabled)
			}
		})
	}
}
