// Package specialist calls downstream specialist services through a
// sidecar-style service invocation address.
package specialist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/comigor/triage-go/internal/logger"
)

// maxResponseBytes bounds how much of a specialist response is read.
const maxResponseBytes = 4 << 20

// Invoker is the subset of Client the dispatcher depends on; it is easy to
// mock in tests.
type Invoker interface {
	Invoke(ctx context.Context, service, method string, payload any, timeout time.Duration) (json.RawMessage, error)
}

// Client sends JSON to {baseURL}/v1.0/invoke/{service}/method/{method}. It
// holds no per-call state and is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given invocation base URL, e.g.
// http://localhost:3500.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// NewClientWithHTTP is NewClient with a caller supplied http.Client.
func NewClientWithHTTP(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// Invoke performs a single POST bounded by timeout. There is no retry: the
// execute method is not idempotent. Every error is an *InvocationError.
func (c *Client) Invoke(ctx context.Context, service, method string, payload any, timeout time.Duration) (json.RawMessage, error) {
	fail := func(kind Kind, err error) *InvocationError {
		return &InvocationError{Kind: kind, Service: service, Method: method, Err: err}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fail(KindUnreachable, fmt.Errorf("encode payload: %w", err))
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1.0/invoke/%s/method/%s", c.baseURL, service, method)
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fail(KindUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fail(transportKind(callCtx, err), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fail(transportKind(callCtx, err), fmt.Errorf("read response: %w", err))
	}

	logger.L.Debug("specialist responded", "service", service, "method", method, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &InvocationError{
			Kind:    KindRemote,
			Service: service,
			Method:  method,
			Status:  resp.StatusCode,
			Body:    truncate(string(data), maxBodyInError),
		}
	}
	if !json.Valid(data) {
		return nil, &InvocationError{
			Kind:    KindRemote,
			Service: service,
			Method:  method,
			Status:  resp.StatusCode,
			Body:    truncate(string(data), maxBodyInError),
			Err:     errors.New("response is not valid JSON"),
		}
	}
	return json.RawMessage(data), nil
}

func transportKind(ctx context.Context, err error) Kind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindUnreachable
}
