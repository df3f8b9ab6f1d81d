package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/sidekeeper/internal/metrics"
)

// Status is the payload of GET {basePath}/status.
type Status struct {
	State        string    `json:"state"`
	Icon         string    `json:"icon"`
	Tooltip      string    `json:"tooltip"`
	CheckedAt    time.Time `json:"checked_at"`
	ShuttingDown bool      `json:"shutting_down"`

	Worker    string     `json:"worker"`
	PID       int        `json:"pid,omitempty"`
	Running   bool       `json:"running"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	ExitError string     `json:"exit_error,omitempty"`

	PluginConnected bool   `json:"plugin_connected"`
	PendingCommands int    `json:"pending_commands"`
	ServerVersion   string `json:"server_version,omitempty"`
	ProtocolVersion int    `json:"protocol_version,omitempty"`

	Resources *metrics.WorkerSample `json:"resources,omitempty"`
}

// Source supplies the status and accepts shutdown requests.
type Source interface {
	Status() Status
	Shutdown()
}

// Router provides embeddable HTTP handlers for the supervisor.
// Endpoints:
//
//	GET  {basePath}/status    current health and worker status
//	POST {basePath}/shutdown  stop polling and terminate the worker tree
//	GET  {basePath}/metrics   Prometheus metrics (when enabled)
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	src      Source
	basePath string
	metrics  http.Handler
}

// NewRouter constructs a new Router with configurable basePath.
// metricsHandler may be nil to leave /metrics unmounted.
func NewRouter(src Source, basePath string, metricsHandler http.Handler) *Router {
	return &Router{src: src, basePath: sanitizeBase(basePath), metrics: metricsHandler}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/shutdown", r.handleShutdown)
	if r.metrics != nil {
		group.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// Server is a running status API listener.
type Server struct {
	http *http.Server
	ln   net.Listener
	log  *slog.Logger
}

// Start listens on addr and serves r in the background.
func Start(addr string, r *Router, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		http: &http.Server{
			Handler:           r.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		ln:  ln,
		log: log,
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("status api stopped", "error", err)
		}
	}()
	log.Info("status api listening", "addr", ln.Addr().String())
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Shutdown stops the listener and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error { return s.http.Shutdown(ctx) }

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.src.Status())
}

func (r *Router) handleShutdown(c *gin.Context) {
	if r.src.Status().ShuttingDown {
		writeJSON(c, http.StatusConflict, errorResp{Error: "shutdown already in progress"})
		return
	}
	// respond before the tree is torn down; the caller only needs the ack
	writeJSON(c, http.StatusAccepted, okResp{OK: true})
	go r.src.Shutdown()
}
