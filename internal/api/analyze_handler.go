package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit-bridge/internal/event"
	"github.com/JakeFAU/siteaudit-bridge/internal/frame"
	"github.com/JakeFAU/siteaudit-bridge/internal/metrics"
	"github.com/JakeFAU/siteaudit-bridge/internal/progress"
	"github.com/JakeFAU/siteaudit-bridge/internal/supervisor"
)

const maxRequestBody = 64 << 10

// Analysis outcomes reported to metrics.
const (
	outcomeSuccess    = "success"
	outcomeError      = "error"
	outcomeIncomplete = "incomplete"
	outcomeCancelled  = "cancelled"
	outcomeRejected   = "rejected"
)

type analyzeRequest struct {
	URL      string `json:"url" validate:"required"`
	MaxPages *int   `json:"maxPages" validate:"omitempty,min=0"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAnalyzeRequest parses and validates the body, applying the page
// default. The returned error text is safe to show to clients.
func (s *Server) decodeAnalyzeRequest(r *http.Request) (supervisor.Request, error) {
	var body analyzeRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(&body); err != nil {
		return supervisor.Request{}, errors.New("invalid JSON body")
	}
	body.URL = strings.TrimSpace(body.URL)
	if err := s.validate.Struct(body); err != nil {
		return supervisor.Request{}, validationMessage(err)
	}
	req := supervisor.Request{URL: body.URL, MaxPages: s.cfg.Worker.MaxPagesDefault}
	if body.MaxPages != nil {
		req.MaxPages = *body.MaxPages
	}
	return req, nil
}

func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("invalid request: %w", err)
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "min":
		return fmt.Errorf("%s must be >= %s", fe.Field(), fe.Param())
	default:
		return fmt.Errorf("%s is invalid", fe.Field())
	}
}

// analyze handles POST /analyze. Validation failures answer 400 with a JSON
// error and never start a worker. Otherwise the response is an event stream:
// every worker event is written and flushed in receipt order, followed by the
// [DONE] sentinel. A client disconnect cancels the request context, which
// stops the worker.
func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeAnalyzeRequest(r)
	if err != nil {
		metrics.ObserveAnalysis(outcomeRejected)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.supervisor == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis worker not configured")
		return
	}
	runID, err := s.idGen.NewRunID()
	if err != nil {
		s.logger.Error("allocate run id failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start analysis")
		return
	}

	ctx := r.Context()
	logger := s.logger.With(
		zap.String("run_id", runID.String()),
		zap.String("site", metrics.SanitizeSite(req.URL)),
		zap.String("request_id", RequestIDFromContext(ctx)),
	)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set(runIDHeader, runID.String())
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		logger.Debug("response does not support flushing", zap.Error(err))
	}

	metrics.IncActiveStreams()
	defer metrics.DecActiveStreams()
	tracker := progress.StartRun(s.emitter, runID, req.URL, req.MaxPages, s.clock.Now)
	logger.Info("analysis started", zap.Int("max_pages", req.MaxPages))

	outcome := outcomeIncomplete
	disconnected := false
	for evt := range s.supervisor.Start(ctx, req) {
		tracker.Observe(evt)
		metrics.ObserveStreamEvent(string(evt.Kind))
		switch evt.Kind {
		case event.KindResult:
			outcome = outcomeSuccess
		case event.KindError:
			outcome = outcomeError
		}
		data, err := frame.SSE.Encode(evt)
		if err != nil {
			logger.Error("encode event failed", zap.Error(err))
			continue
		}
		if err := writeFrame(w, rc, data); err != nil {
			logger.Debug("client stream write failed", zap.Error(err))
			disconnected = true
			break
		}
	}

	cancelled := disconnected || ctx.Err() != nil
	tracker.Finish(cancelled)
	if cancelled && outcome == outcomeIncomplete {
		outcome = outcomeCancelled
	}
	metrics.ObserveAnalysis(outcome)
	logger.Info("analysis finished",
		zap.String("outcome", outcome),
		zap.Int("stages", tracker.Stages()),
	)
	if cancelled {
		return
	}
	if err := writeFrame(w, rc, frame.SSE.EncodeDone()); err != nil {
		logger.Debug("write stream sentinel failed", zap.Error(err))
	}
}

func writeFrame(w http.ResponseWriter, rc *http.ResponseController, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("flush frame: %w", err)
	}
	return nil
}
