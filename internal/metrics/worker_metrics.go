package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// WorkerSample holds CPU and memory figures for the worker process.
type WorkerSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// ResourceConfig holds configuration for worker resource sampling.
type ResourceConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// ResourceCollector periodically samples the worker pid with gopsutil and
// exports the figures as gauges.
type ResourceCollector struct {
	enabled  bool
	interval time.Duration
	name     string
	pid      func() int

	mu     sync.RWMutex
	latest *WorkerSample

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

// NewResourceCollector creates a collector for the named worker. pid reports
// the live worker pid, or 0 when there is none.
func NewResourceCollector(cfg ResourceConfig, name string, pid func() int) *ResourceCollector {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	gauge := func(n, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sidekeeper",
			Subsystem: "worker",
			Name:      n,
			Help:      help,
		}, []string{"name"})
	}
	return &ResourceCollector{
		enabled:    cfg.Enabled,
		interval:   interval,
		name:       name,
		pid:        pid,
		stopCh:     make(chan struct{}),
		cpuPercent: gauge("cpu_percent", "CPU usage percentage of the worker."),
		memoryMB:   gauge("memory_mb", "Resident memory of the worker in MB."),
		numThreads: gauge("num_threads", "Number of threads of the worker."),
		numFDs:     gauge("num_fds", "Open file descriptors of the worker (Unix only)."),
	}
}

// RegisterMetrics registers the resource gauges with the provided registerer.
func (c *ResourceCollector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.enabled {
		return nil
	}
	collectors := []prometheus.Collector{c.cpuPercent, c.memoryMB, c.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, c.numFDs)
	}
	for _, collector := range collectors {
		if err := r.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic sampling until ctx is done or Stop is called.
func (c *ResourceCollector) Start(ctx context.Context) {
	if !c.enabled {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.collect()
			}
		}
	}()
}

// Stop stops sampling and waits for the sampler goroutine.
func (c *ResourceCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Latest returns the most recent sample, if any.
func (c *ResourceCollector) Latest() (WorkerSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest == nil {
		return WorkerSample{}, false
	}
	return *c.latest, true
}

func (c *ResourceCollector) collect() {
	pid := c.pid()
	if pid <= 0 {
		c.clear()
		return
	}
	s, err := SampleWorker(int32(pid))
	if err != nil {
		slog.Debug("sample worker resources", "pid", pid, "error", err)
		c.clear()
		return
	}
	c.mu.Lock()
	c.latest = s
	c.mu.Unlock()

	c.cpuPercent.WithLabelValues(c.name).Set(s.CPUPercent)
	c.memoryMB.WithLabelValues(c.name).Set(s.MemoryMB)
	c.numThreads.WithLabelValues(c.name).Set(float64(s.NumThreads))
	if runtime.GOOS != "windows" && s.NumFDs > 0 {
		c.numFDs.WithLabelValues(c.name).Set(float64(s.NumFDs))
	}
}

func (c *ResourceCollector) clear() {
	c.mu.Lock()
	c.latest = nil
	c.mu.Unlock()
	c.cpuPercent.DeleteLabelValues(c.name)
	c.memoryMB.DeleteLabelValues(c.name)
	c.numThreads.DeleteLabelValues(c.name)
	c.numFDs.DeleteLabelValues(c.name)
}

// SampleWorker reads CPU and memory figures for a single pid.
func SampleWorker(pid int32) (*WorkerSample, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to create process handle: %w", err)
	}
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		cpuPercent = 0
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to get memory info: %w", err)
	}
	numThreads, err := proc.NumThreads()
	if err != nil {
		numThreads = 0
	}
	s := &WorkerSample{
		PID:        pid,
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		NumThreads: numThreads,
		Timestamp:  time.Now(),
	}
	if runtime.GOOS != "windows" {
		if n, err := proc.NumFDs(); err == nil {
			s.NumFDs = n
		}
	}
	return s, nil
}
