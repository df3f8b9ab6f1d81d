// Package opensearch indexes history events as OpenSearch documents.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/loykin/sidekeeper/internal/history"
)

// Sink POSTs each event to <baseURL>/<index>/_doc.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	return &Sink{client: &http.Client{Timeout: 5 * time.Second}, baseURL: baseURL, index: index}
}

func (s *Sink) endpoint() (string, error) {
	u, err := url.JoinPath(s.baseURL, s.index, "_doc")
	if err != nil {
		return "", fmt.Errorf("opensearch endpoint: %w", err)
	}
	return u, nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	u, err := s.endpoint()
	if err != nil {
		return err
	}
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(doc))
	if err != nil {
		return fmt.Errorf("opensearch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
	}
	return nil
}
