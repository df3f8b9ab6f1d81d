package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultURL      = "http://127.0.0.1:4001/health"
	DefaultInterval = 3 * time.Second
	DefaultTimeout  = 2 * time.Second

	maxBodyBytes = 1 << 20
)

// Prober performs a single health request.
type Prober interface {
	Probe(ctx context.Context) (Sample, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) (Sample, error)

func (f ProberFunc) Probe(ctx context.Context) (Sample, error) { return f(ctx) }

// HTTPProber GETs a health URL and decodes the JSON body.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// NewHTTPProber returns a prober whose requests are bounded by timeout.
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPProber{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProber) Probe(ctx context.Context) (Sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return Sample{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return Sample{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return Sample{}, fmt.Errorf("health endpoint status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Sample{}, fmt.Errorf("read health body: %w", err)
	}
	return ParseSample(body)
}
