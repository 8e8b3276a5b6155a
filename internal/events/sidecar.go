package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Sidecar publishes through a sidecar's HTTP publish API:
// POST {baseURL}/v1.0/publish/{pubsub}/{topic}.
type Sidecar struct {
	baseURL string
	pubsub  string
	http    *http.Client
}

// NewSidecar returns a publisher for the named pubsub component.
func NewSidecar(baseURL, pubsub string, hc *http.Client) *Sidecar {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Sidecar{baseURL: strings.TrimRight(baseURL, "/"), pubsub: pubsub, http: hc}
}

func (s *Sidecar) Publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	url := fmt.Sprintf("%s/v1.0/publish/%s/%s", s.baseURL, s.pubsub, topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("publish %s: unexpected status code: %d", topic, resp.StatusCode)
	}
	return nil
}
