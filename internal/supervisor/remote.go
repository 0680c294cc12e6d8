package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit-bridge/internal/event"
	"github.com/JakeFAU/siteaudit-bridge/internal/frame"
	"github.com/JakeFAU/siteaudit-bridge/internal/metrics"
)

const errorBodyLimit = 4 << 10

// RemoteSupervisor calls an analysis service whose response body is already
// framed as server-sent events and relays the events unchanged. Each event
// payload keeps its bytes; the stream itself is re-framed by the gateway, so
// comment and keepalive blocks are dropped and "data:" spacing is normalized.
type RemoteSupervisor struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

type remoteRequest struct {
	URL      string `json:"url"`
	MaxPages int    `json:"maxPages"`
}

// NewRemote returns a RemoteSupervisor posting to endpoint. A nil client uses
// a client without a timeout; streams may legitimately run for minutes.
func NewRemote(endpoint string, client *http.Client, logger *zap.Logger) (*RemoteSupervisor, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse worker endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("worker endpoint must be http or https, got %q", endpoint)
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteSupervisor{endpoint: endpoint, client: client, logger: logger}, nil
}

// Start implements Supervisor.
func (s *RemoteSupervisor) Start(ctx context.Context, req Request) iter.Seq[event.Event] {
	return func(yield func(event.Event) bool) {
		runCtx, cancel := context.WithCancel(ctx)
		// Cancelling aborts the connection if the body is still streaming.
		defer cancel()

		logger := s.logger.With(zap.String("url", req.URL), zap.Int("max_pages", req.MaxPages))
		resp, err := s.open(runCtx, req)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("analysis request cancelled before the service answered")
				return
			}
			metrics.ObserveWorkerStartFailure(ModeRemote)
			logger.Error("analysis service unreachable", zap.Error(err))
			yield(event.NewError(fmt.Sprintf("analysis service unreachable: %v", err)))
			return
		}
		defer func() {
			if cerr := resp.Body.Close(); cerr != nil {
				logger.Debug("close analysis response body", zap.Error(cerr))
			}
		}()

		if resp.StatusCode != http.StatusOK {
			msg := errorMessage(resp)
			metrics.ObserveWorkerStartFailure(ModeRemote)
			logger.Error("analysis service rejected request",
				zap.Int("status", resp.StatusCode),
				zap.String("message", msg),
			)
			yield(event.NewError(fmt.Sprintf("analysis service returned %d: %s", resp.StatusCode, msg)))
			return
		}
		logger.Info("analysis service stream opened")

		terminal := false
		for f, err := range frame.Read(resp.Body, frame.SSE) {
			if err != nil {
				if ctx.Err() != nil {
					logger.Info("analysis stream cancelled")
					return
				}
				logger.Warn("analysis stream interrupted", zap.Error(err))
				if !terminal {
					yield(event.NewError(fmt.Sprintf("analysis service stream interrupted: %v", err)))
				}
				return
			}
			if f.Done {
				logger.Info("analysis service stream finished", zap.Bool("terminal_event", terminal))
				return
			}
			evt, ok := decodeEvent(f, logger)
			if !ok {
				continue
			}
			terminal = terminal || evt.Terminal()
			if !yield(evt) {
				logger.Info("analysis stream abandoned by consumer")
				return
			}
		}
		logger.Info("analysis service closed the stream without a sentinel", zap.Bool("terminal_event", terminal))
	}
}

func (s *RemoteSupervisor) open(ctx context.Context, req Request) (*http.Response, error) {
	body, err := json.Marshal(remoteRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal analysis request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analysis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post analysis request: %w", err)
	}
	return resp, nil
}

// errorMessage extracts a short diagnostic from a non-streaming error reply.
func errorMessage(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	if err != nil && !errors.Is(err, io.EOF) {
		return resp.Status
	}
	var body struct {
		Error  string `json:"error"`
		Detail any    `json:"detail"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Detail != nil {
			return fmt.Sprint(body.Detail)
		}
	}
	if text := strings.TrimSpace(string(data)); text != "" {
		return text
	}
	return resp.Status
}
