package client

import (
	"fmt"
	"time"
)

// Status mirrors the GET /status payload.
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

	Resources *Resources `json:"resources,omitempty"`
}

// Resources is the last resource sample of the worker.
type Resources struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for any non-2xx reply.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}
