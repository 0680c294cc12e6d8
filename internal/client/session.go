package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit-bridge/internal/event"
	"github.com/JakeFAU/siteaudit-bridge/internal/frame"
	"github.com/JakeFAU/siteaudit-bridge/internal/metrics"
)

// StreamEndedMessage is the error shown when a stream closes while the job is
// still loading.
const StreamEndedMessage = "stream ended before a result was received"

// Session runs at most one analysis job at a time. Starting a new job
// supersedes the previous one; events from a superseded or reset job are
// discarded. All methods are safe for concurrent use.
type Session struct {
	transport Transport
	logger    *zap.Logger
	reduce    func(State, event.Event) State

	mu     sync.Mutex
	epoch  uint64
	cancel context.CancelFunc
	state  State
	// settled is closed when the current job leaves Loading or is replaced.
	settled chan struct{}
	subs    map[chan State]struct{}
}

// NewSession returns an idle session reading streams from transport.
func NewSession(transport Transport, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	settled := make(chan struct{})
	close(settled)
	return &Session{
		transport: transport,
		logger:    logger,
		reduce:    Reduce,
		state:     State{Status: StatusIdle, ProgressSteps: []Step{}},
		settled:   settled,
		subs:      make(map[chan State]struct{}),
	}
}

// Analyze starts a job for req, superseding any job in flight. It returns
// immediately; the stream is consumed on a background goroutine.
func (s *Session) Analyze(req Request) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.stopLocked()
	s.epoch++
	epoch := s.epoch
	s.cancel = cancel
	s.settled = make(chan struct{})
	s.setLocked(loadingState())
	s.mu.Unlock()

	s.logger.Debug("analysis started", zap.Uint64("epoch", epoch), zap.String("url", req.URL))
	go s.run(ctx, epoch, req)
}

// Reset abandons the current job and returns to Idle with an empty history.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.epoch++
	s.cancel = nil
	s.setLocked(State{Status: StatusIdle, ProgressSteps: []Step{}})
}

// State returns a snapshot of the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Subscribe returns a channel receiving state snapshots after every change.
// A slow reader only sees the latest snapshot. The returned func unsubscribes
// and closes the channel.
func (s *Session) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- s.state.Clone()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			close(ch)
			s.mu.Unlock()
		})
	}
}

// Wait blocks until the current job is no longer loading and returns the
// resulting state.
func (s *Session) Wait(ctx context.Context) (State, error) {
	for {
		s.mu.Lock()
		if s.state.Status != StatusLoading {
			st := s.state.Clone()
			s.mu.Unlock()
			return st, nil
		}
		settled := s.settled
		s.mu.Unlock()

		select {
		case <-settled:
		case <-ctx.Done():
			return s.State(), fmt.Errorf("wait for analysis: %w", ctx.Err())
		}
	}
}

// Close abandons the current job. A job still loading returns to Idle with
// its history kept; a settled state is left as is.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.epoch++
	if s.state.Status == StatusLoading {
		next := s.state.Clone()
		next.Status = StatusIdle
		next.CurrentStageLabel = ""
		s.setLocked(next)
	}
}

func (s *Session) run(ctx context.Context, epoch uint64, req Request) {
	body, err := s.transport.Open(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("analysis request failed", zap.Uint64("epoch", epoch), zap.Error(err))
		s.apply(epoch, event.NewError(err.Error()))
		return
	}
	defer func() {
		if cerr := body.Close(); cerr != nil {
			s.logger.Debug("close analysis stream", zap.Error(cerr))
		}
	}()

	for f, err := range frame.Read(body, frame.SSE) {
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Warn("analysis stream interrupted", zap.Uint64("epoch", epoch), zap.Error(err))
			s.apply(epoch, event.NewError(fmt.Sprintf("analysis stream interrupted: %v", err)))
			return
		}
		if f.Done {
			break
		}
		evt, perr := event.Parse(f.Payload)
		if perr != nil {
			metrics.ObserveFrameDropped(metrics.BoundaryTransport)
			s.logger.Debug("skipping unparseable stream frame", zap.Error(perr))
			continue
		}
		if !s.apply(epoch, evt) {
			return
		}
	}
	s.finish(epoch)
}

// apply reduces evt into the state if epoch is still current. It reports
// whether the job is still loading afterwards.
func (s *Session) apply(epoch uint64, evt event.Event) (loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("applying analysis event panicked", zap.Any("panic", r))
			s.setLocked(fail(s.state, fmt.Sprintf("failed to process analysis event: %v", r)))
			loading = false
		}
	}()
	s.setLocked(s.reduce(s.state, evt))
	return s.state.Status == StatusLoading
}

func (s *Session) finish(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || s.state.Status != StatusLoading {
		return
	}
	s.setLocked(fail(s.state, StreamEndedMessage))
}

// stopLocked cancels the in-flight stream and wakes waiters.
func (s *Session) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.settleLocked()
}

func (s *Session) settleLocked() {
	select {
	case <-s.settled:
	default:
		close(s.settled)
	}
}

func (s *Session) setLocked(next State) {
	s.state = next
	if next.Status != StatusLoading {
		s.settleLocked()
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
	}
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- next.Clone()
	}
}
