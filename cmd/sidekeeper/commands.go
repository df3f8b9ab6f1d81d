package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loykin/sidekeeper"
	"github.com/loykin/sidekeeper/internal/health"
	"github.com/loykin/sidekeeper/pkg/client"
)

func loadConfig(path string) (*sidekeeper.Config, error) {
	if path == "" {
		return sidekeeper.DefaultConfig(), nil
	}
	return sidekeeper.LoadConfig(path)
}

func applyRunFlags(cfg *sidekeeper.Config, f RunFlags) {
	if f.Command != "" {
		cfg.Worker.Command = f.Command
		cfg.Worker.Args = f.Args
	} else if len(f.Args) > 0 {
		cfg.Worker.Args = f.Args
	}
	if f.Listen != "" {
		cfg.Server.Listen = f.Listen
	}
}

func runSupervisor(ctx context.Context, out io.Writer, configPath string, f RunFlags) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	applyRunFlags(cfg, f)

	app, err := sidekeeper.New(cfg, sidekeeper.Options{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		_ = app.Close(context.Background())
		return err
	}
	if addr := app.Addr(); addr != "" {
		_, _ = fmt.Fprintf(out, "status api on http://%s\n", addr)
	}

	select {
	case <-ctx.Done():
	case <-app.Done():
	}
	app.Shutdown()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.Close(closeCtx)
}

func runProbe(ctx context.Context, out io.Writer, f ProbeFlags) error {
	url := f.URL
	if url == "" {
		url = health.DefaultURL
	}
	p := health.NewHTTPProber(url, f.Timeout)
	sample, err := p.Probe(ctx)
	if err != nil {
		_, _ = fmt.Fprintln(out, health.Classify(nil))
		return fmt.Errorf("probe %s: %w", url, err)
	}
	state := health.Classify(&sample)
	_, _ = fmt.Fprintf(out, "%s\n", state)
	if sample.HasServerVersion {
		_, _ = fmt.Fprintf(out, "server_version=%s\n", sample.ServerVersion)
	}
	if sample.HasProtocolVersion {
		_, _ = fmt.Fprintf(out, "protocol_version=%d\n", sample.ProtocolVersion)
	}
	_, _ = fmt.Fprintf(out, "pending_commands=%d\n", sample.PendingCommands)
	return nil
}

func newClient(f APIFlags) *client.Client {
	cfg := client.DefaultConfig()
	if f.APIUrl != "" {
		cfg.BaseURL = strings.TrimRight(f.APIUrl, "/")
	}
	if f.APITimeout > 0 {
		cfg.Timeout = f.APITimeout
	}
	cfg.Insecure = f.Insecure
	return client.New(cfg)
}

func showStatus(ctx context.Context, out io.Writer, f APIFlags) error {
	st, err := newClient(f).Status(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "state:    %s\n", st.State)
	_, _ = fmt.Fprintf(out, "tooltip:  %s\n", st.Tooltip)
	if st.Running {
		_, _ = fmt.Fprintf(out, "worker:   %s (pid %d)\n", st.Worker, st.PID)
	} else {
		_, _ = fmt.Fprintf(out, "worker:   %s (not running)\n", st.Worker)
	}
	if st.ExitError != "" {
		_, _ = fmt.Fprintf(out, "error:    %s\n", st.ExitError)
	}
	if st.ShuttingDown {
		_, _ = fmt.Fprintln(out, "shutting down")
	}
	return nil
}

func requestStop(ctx context.Context, out io.Writer, f APIFlags) error {
	err := newClient(f).Shutdown(ctx)
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		_, _ = fmt.Fprintln(out, "already shutting down")
		return nil
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, "shutdown requested")
	return nil
}
