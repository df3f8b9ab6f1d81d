package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncSpawn("bridge")
	IncSpawnFailure("bridge")
	IncExit("bridge")
	SetWorkerUp("bridge", true)
	IncSignal("worker")
	IncSignal("descendant")
	SetHealthState("running", []string{"running", "waiting", "stopped"})
	RecordHealthTransition("stopped", "running")
	ObserveProbe(0.01, true)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"sidekeeper_worker_spawns_total":            false,
		"sidekeeper_worker_spawn_failures_total":    false,
		"sidekeeper_worker_exits_total":             false,
		"sidekeeper_worker_up":                      false,
		"sidekeeper_worker_terminate_signals_total": false,
		"sidekeeper_health_state":                   false,
		"sidekeeper_health_transitions_total":       false,
		"sidekeeper_health_probe_duration_seconds":  false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestRegisterWithSecondRegistry(t *testing.T) {
	first, second := prometheus.NewRegistry(), prometheus.NewRegistry()
	if err := Register(first); err != nil {
		t.Fatalf("register first: %v", err)
	}
	if err := Register(second); err != nil {
		t.Fatalf("register second: %v", err)
	}
	IncSpawn("second-app")

	for name, reg := range map[string]*prometheus.Registry{"first": first, "second": second} {
		n, err := testutil.GatherAndCount(reg, "sidekeeper_worker_spawns_total")
		if err != nil {
			t.Fatalf("%s gather: %v", name, err)
		}
		if n == 0 {
			t.Errorf("%s registry has no sidekeeper_worker_spawns_total series", name)
		}
	}
}

func TestSetHealthStateIsOneHot(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	all := []string{"running", "waiting", "stopped"}
	SetHealthState("waiting", all)
	if v := testutil.ToFloat64(healthState.WithLabelValues("waiting")); v != 1 {
		t.Fatalf("waiting gauge = %v, want 1", v)
	}
	for _, s := range []string{"running", "stopped"} {
		if v := testutil.ToFloat64(healthState.WithLabelValues(s)); v != 0 {
			t.Fatalf("%s gauge = %v, want 0", s, v)
		}
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	// Reset regOK gate to allow registration in this test regardless of previous tests.
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncSpawn("x")

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "sidekeeper_worker_spawns_total") {
		t.Fatalf("metrics output missing spawns_total: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentIncrements(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncSpawn("c")
			IncExit("c")
			ObserveProbe(0.002, false)
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	// These should be no-ops and not panic when called before Register
	IncSpawn("test")
	IncSpawnFailure("test")
	IncExit("test")
	SetWorkerUp("test", false)
	IncSignal("worker")
	SetHealthState("stopped", []string{"stopped"})
	RecordHealthTransition("running", "stopped")
	ObserveProbe(1.0, false)
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(&errorRegisterer{shouldError: true})
	if err == nil {
		t.Fatal("Register should return error from failing registerer")
	}
	if err.Error() != "test registration error" {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Custom registerer for testing error handling
type errorRegisterer struct {
	shouldError bool
}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	if e.shouldError {
		return errors.New("test registration error")
	}
	return nil
}

func (e *errorRegisterer) MustRegister(...prometheus.Collector) {}
func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }

func TestSampleWorkerSelf(t *testing.T) {
	s, err := SampleWorker(int32(os.Getpid()))
	if err != nil {
		t.Fatalf("SampleWorker: %v", err)
	}
	if s.PID != int32(os.Getpid()) || s.MemoryRSS == 0 {
		t.Fatalf("unexpected sample: %+v", s)
	}
}

func TestResourceCollectorSamplesAndClears(t *testing.T) {
	var mu sync.Mutex
	pid := os.Getpid()
	c := NewResourceCollector(ResourceConfig{Enabled: true, Interval: 20 * time.Millisecond}, "self", func() int {
		mu.Lock()
		defer mu.Unlock()
		return pid
	})
	reg := prometheus.NewRegistry()
	if err := c.RegisterMetrics(reg); err != nil {
		t.Fatalf("RegisterMetrics: %v", err)
	}
	c.Start(t.Context())
	defer c.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := c.Latest(); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := c.Latest(); !ok {
		t.Fatalf("collector produced no sample")
	}

	mu.Lock()
	pid = 0
	mu.Unlock()
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := c.Latest(); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("sample should be cleared once the worker is gone")
}

func TestResourceCollectorDisabled(t *testing.T) {
	c := NewResourceCollector(ResourceConfig{}, "off", func() int { return os.Getpid() })
	if err := c.RegisterMetrics(prometheus.NewRegistry()); err != nil {
		t.Fatal(err)
	}
	c.Start(t.Context())
	c.Stop()
	if _, ok := c.Latest(); ok {
		t.Fatalf("disabled collector must not sample")
	}
}
