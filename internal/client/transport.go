package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Request is what the user submits.
type Request struct {
	URL      string `json:"url"`
	MaxPages int    `json:"maxPages"`
}

// Transport opens one analysis stream. The returned body carries
// server-sent events and must be closed by the caller.
type Transport interface {
	Open(ctx context.Context, req Request) (io.ReadCloser, error)
}

// errorBodyLimit caps how much of a rejection body is read.
const errorBodyLimit = 4 << 10

// GatewayError is returned when the gateway rejects a request before
// streaming. Its message is the gateway's error text.
type GatewayError struct {
	Code    int
	Message string
}

func (e *GatewayError) Error() string {
	return e.Message
}

// HTTPTransport posts to {BaseURL}/analyze.
type HTTPTransport struct {
	BaseURL string
	Client  *http.Client
	// Logger is optional.
	Logger *zap.Logger
}

// Open implements Transport.
func (t *HTTPTransport) Open(ctx context.Context, req Request) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal analysis request: %w", err)
	}
	endpoint := strings.TrimRight(t.BaseURL, "/") + "/analyze"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analysis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() {
			if cerr := resp.Body.Close(); cerr != nil {
				t.logger().Debug("close gateway response body", zap.Error(cerr))
			}
		}()
		return nil, gatewayError(resp)
	}
	return resp.Body, nil
}

func (t *HTTPTransport) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}

func gatewayError(resp *http.Response) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	if err != nil && !errors.Is(err, io.EOF) {
		return &GatewayError{Code: resp.StatusCode, Message: resp.Status}
	}
	var payload struct {
		Error string `json:"error"`
	}
	msg := resp.Status
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	} else if text := strings.TrimSpace(string(data)); text != "" {
		msg = text
	}
	return &GatewayError{Code: resp.StatusCode, Message: msg}
}
