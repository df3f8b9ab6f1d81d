// Package sidekeeper supervises a single local worker process, watches its
// HTTP health endpoint and tears the worker tree down on shutdown.
package sidekeeper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/sidekeeper/internal/config"
	"github.com/loykin/sidekeeper/internal/health"
	"github.com/loykin/sidekeeper/internal/history"
	"github.com/loykin/sidekeeper/internal/history/factory"
	"github.com/loykin/sidekeeper/internal/logger"
	"github.com/loykin/sidekeeper/internal/metrics"
	"github.com/loykin/sidekeeper/internal/process"
	"github.com/loykin/sidekeeper/internal/server"
	"github.com/loykin/sidekeeper/internal/shutdown"
	"github.com/loykin/sidekeeper/internal/tray"
)

// Re-export the types embedders need.

type (
	Config    = config.Config
	State     = health.State
	Status    = server.Status
	Presenter = tray.Presenter
	Icon      = tray.Icon
)

const (
	Stopped = health.Stopped
	Waiting = health.Waiting
	Running = health.Running
)

// ErrShuttingDown is returned by Start once Shutdown has been requested.
var ErrShuttingDown = errors.New("sidekeeper: shutdown already requested")

// LoadConfig reads a TOML config file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// DefaultConfig returns a config with every default applied and no worker command.
func DefaultConfig() *Config { return config.Default() }

// Options customizes an App. Every field is optional.
type Options struct {
	// Logger overrides the logger built from Config.Log.
	Logger *slog.Logger
	// Presenter displays tray updates. Defaults to a LogPresenter.
	Presenter Presenter
	// Registry receives the metrics. Defaults to the Prometheus default
	// registry. The collectors are process-wide, so Apps sharing a process
	// report into every registry they were given.
	Registry *prometheus.Registry
	// Prober replaces the HTTP health prober.
	Prober health.Prober
	// Sinks are history sinks used in addition to Config.History.DSN.
	Sinks []history.Sink
}

// App wires the supervisor, the health monitor, the shutdown coordinator and
// the optional status API for one worker.
type App struct {
	cfg       *Config
	log       *slog.Logger
	logCloser io.Closer
	theme     tray.Theme
	presenter Presenter
	opts      Options

	sup   *process.Supervisor
	coord *shutdown.Coordinator
	mon   *health.Monitor
	rec   *history.Recorder
	res   *metrics.ResourceCollector
	srv   *server.Server

	mu      sync.RWMutex
	icon    Icon
	tooltip string
	spawn   error

	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

// New builds an App from cfg. Nothing is started until Start.
func New(cfg *Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("sidekeeper: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, opts: opts, theme: tray.Theme{Title: cfg.Tray.Title}}

	if opts.Logger != nil {
		a.log, a.logCloser = opts.Logger, nopCloser{}
	} else {
		a.log, a.logCloser = logger.New(cfg.Log, nil)
	}
	a.presenter = opts.Presenter
	if a.presenter == nil {
		a.presenter = tray.LogPresenter{Log: a.log}
	}
	a.icon, a.tooltip = a.theme.Initial()

	a.sup = process.NewSupervisor(process.Options{
		Logger:   a.log.With("component", "supervisor"),
		Listener: a.onWorkerEvent,
	})
	a.coord = shutdown.New(a.sup, a.log.With("component", "shutdown"))
	return a, nil
}

// Start spawns the worker and begins health polling. A worker that cannot be
// launched is logged and the app keeps running in degraded mode; only setup
// errors are returned. Start runs at most once and never spawns after
// Shutdown: the supervisor is closed by the first teardown.
func (a *App) Start(ctx context.Context) error {
	err := errors.New("sidekeeper: already started")
	a.startOnce.Do(func() { err = a.start(ctx) })
	return err
}

func (a *App) start(ctx context.Context) error {
	if a.coord.ShuttingDown() {
		return ErrShuttingDown
	}
	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	if a.opts.Registry != nil {
		reg = a.opts.Registry
	}
	if a.cfg.Metrics.Enabled {
		if err := metrics.Register(reg); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	sinks := append([]history.Sink(nil), a.opts.Sinks...)
	if a.cfg.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(a.cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if len(sinks) > 0 {
		a.rec = history.NewRecorder(a.log.With("component", "history"), sinks...)
	}

	spec, err := a.cfg.WorkerSpec()
	if err != nil {
		return fmt.Errorf("worker spec: %w", err)
	}
	a.present(a.icon, a.tooltip)
	if _, err := a.sup.Spawn(spec); errors.Is(err, process.ErrClosed) {
		// Shutdown ran between the check above and the spawn
		return ErrShuttingDown
	} else if err != nil {
		// degraded: keep polling so the tray reports the server as stopped
		a.log.Error("worker failed to start", "name", spec.DisplayName(), "error", err)
		a.mu.Lock()
		a.spawn = err
		a.mu.Unlock()
	}

	prober := a.opts.Prober
	if prober == nil {
		prober = health.NewHTTPProber(a.cfg.Health.URL, a.cfg.Health.Timeout)
	}
	a.mon, err = health.NewMonitor(health.Options{
		Prober:   prober,
		Interval: a.cfg.Health.Interval,
		Timeout:  a.cfg.Health.Timeout,
		OnChange: a.theme.Callback(tray.PresenterFunc(a.present)),
		Shutdown: a.coord,
		Logger:   a.log.With("component", "health"),
		Recorder: a.rec,
		Name:     spec.DisplayName(),
		PID:      a.sup.PID,
	})
	if err != nil {
		a.coord.RequestShutdown()
		return err
	}
	a.coord.Go(func() { a.mon.Run(ctx) })

	if a.cfg.Metrics.Enabled {
		a.res = metrics.NewResourceCollector(a.cfg.Metrics.Resources, spec.DisplayName(), a.sup.PID)
		if err := a.res.RegisterMetrics(reg); err != nil {
			a.log.Warn("register resource metrics", "error", err)
		}
		a.res.Start(ctx)
	}

	if a.cfg.Server.Listen != "" {
		var mh http.Handler
		if a.cfg.Metrics.Enabled {
			mh = metrics.Handler()
			if a.opts.Registry != nil {
				mh = metrics.HandlerFor(a.opts.Registry)
			}
		}
		a.srv, err = server.Start(a.cfg.Server.Listen, server.NewRouter(a, "", mh), a.log.With("component", "api"))
		if err != nil {
			a.coord.RequestShutdown()
			return fmt.Errorf("status api: %w", err)
		}
	}
	return nil
}

// Shutdown stops health polling and terminates the worker tree. It is
// idempotent and safe to call from any goroutine, including signal handlers.
func (a *App) Shutdown() { a.coord.RequestShutdown() }

// ShuttingDown reports whether Shutdown has been requested.
func (a *App) ShuttingDown() bool { return a.coord.ShuttingDown() }

// Done is closed once Shutdown has been requested.
func (a *App) Done() <-chan struct{} { return a.coord.Done() }

// Close requests shutdown if needed, waits for the monitor to stop and
// releases the status API, the samplers and the history sinks.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.coord.RequestShutdown()
		var errs []error
		if err := a.coord.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
		if a.srv != nil {
			sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := a.srv.Shutdown(sctx); err != nil {
				errs = append(errs, err)
			}
			cancel()
		}
		if a.res != nil {
			a.res.Stop()
		}
		if err := a.rec.Close(); err != nil {
			errs = append(errs, err)
		}
		_ = a.logCloser.Close()
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

// Addr returns the status API address or "" when it is disabled.
func (a *App) Addr() string {
	if a.srv == nil {
		return ""
	}
	return a.srv.Addr()
}

// Status returns the current health and worker status.
func (a *App) Status() Status {
	a.mu.RLock()
	st := Status{Icon: string(a.icon), Tooltip: a.tooltip}
	spawnErr := a.spawn
	a.mu.RUnlock()

	st.ShuttingDown = a.coord.ShuttingDown()
	st.State = health.Stopped.String()
	if a.mon != nil {
		snap := a.mon.Current()
		st.State = snap.State.String()
		st.CheckedAt = snap.CheckedAt
		if s := snap.Sample; s != nil {
			st.PluginConnected = s.PluginConnected
			st.PendingCommands = s.PendingCommands
			st.ServerVersion = s.ServerVersion
			st.ProtocolVersion = s.ProtocolVersion
		}
	}

	ws := a.sup.Snapshot()
	st.Worker = ws.Name
	if st.Worker == "" {
		st.Worker = a.cfg.Worker.Name
	}
	st.Running = ws.Running
	if ws.Running {
		st.PID = ws.PID
	}
	if !ws.StartedAt.IsZero() {
		t := ws.StartedAt
		st.StartedAt = &t
	}
	switch {
	case ws.ExitErr != nil:
		st.ExitError = ws.ExitErr.Error()
	case spawnErr != nil:
		st.ExitError = spawnErr.Error()
	}

	if a.res != nil {
		if s, ok := a.res.Latest(); ok {
			st.Resources = &s
		}
	}
	return st
}

func (a *App) present(icon Icon, tooltip string) {
	a.mu.Lock()
	a.icon, a.tooltip = icon, tooltip
	a.mu.Unlock()
	a.presenter.Present(icon, tooltip)
}

func (a *App) onWorkerEvent(e process.Event) {
	rec := history.Record{Name: e.Name, PID: e.PID, UpdatedAt: e.At}
	var typ history.EventType
	switch e.Type {
	case process.EventSpawned:
		typ, rec.LastStatus = history.EventWorkerSpawned, "running"
	case process.EventExited:
		typ, rec.LastStatus = history.EventWorkerExited, "stopped"
		if e.Err != nil {
			rec.Error = e.Err.Error()
		}
	case process.EventTerminated:
		typ, rec.LastStatus = history.EventWorkerTerminated, "stopped"
		rec.Descendants = e.Descendants
	default:
		return
	}
	a.rec.Record(history.Event{Type: typ, OccurredAt: e.At, Record: rec})
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
