package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit-bridge/internal/event"
	"github.com/JakeFAU/siteaudit-bridge/internal/frame"
	"github.com/JakeFAU/siteaudit-bridge/internal/metrics"
)

const (
	jsonFlag        = "--json"
	stderrLineLimit = 1 << 20
	// pipeWaitDelay bounds how long Wait keeps pipes open after the worker
	// exits, in case a grandchild inherited them.
	pipeWaitDelay = 2 * time.Second
)

// ProcessConfig describes how to launch the local analysis worker.
type ProcessConfig struct {
	// Command is the executable, e.g. "python3".
	Command string
	// Args are placed before the positional "<url> <maxPages> --json" arguments,
	// e.g. ["seo_analyzer.py"].
	Args []string
	// Env entries are appended to the gateway's own environment.
	Env []string
	// Dir is the working directory; empty means the gateway's.
	Dir string
}

// ProcessSupervisor runs the worker as a child process and reads one JSON
// record per line from its standard output. Standard error is logged only.
type ProcessSupervisor struct {
	cfg    ProcessConfig
	logger *zap.Logger
}

// NewProcess validates cfg and returns a ProcessSupervisor.
func NewProcess(cfg ProcessConfig, logger *zap.Logger) (*ProcessSupervisor, error) {
	if cfg.Command == "" {
		return nil, errors.New("worker command is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessSupervisor{cfg: cfg, logger: logger}, nil
}

// Start implements Supervisor.
func (s *ProcessSupervisor) Start(ctx context.Context, req Request) iter.Seq[event.Event] {
	return func(yield func(event.Event) bool) {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		logger := s.logger.With(zap.String("url", req.URL), zap.Int("max_pages", req.MaxPages))
		cmd, stdout, stderr, err := s.spawn(runCtx, req)
		if err != nil {
			metrics.ObserveWorkerStartFailure(ModeProcess)
			logger.Error("analysis worker failed to start", zap.Error(err))
			yield(event.NewError(fmt.Sprintf("failed to start analysis worker: %v", err)))
			return
		}
		logger = logger.With(zap.Int("pid", cmd.Process.Pid))
		logger.Info("analysis worker started")

		stderrDone := make(chan struct{})
		go func() {
			defer close(stderrDone)
			drainStderr(stderr, logger)
		}()

		terminal, stopped, failed := relay(stdout, logger, yield)
		if stopped || failed {
			// Nobody reads stdout any more: kill the worker before reaping it.
			cancel()
		}
		waitErr := cmd.Wait()
		<-stderrDone

		switch {
		case stopped || ctx.Err() != nil:
			logger.Info("analysis worker cancelled", zap.NamedError("exit", waitErr))
		case waitErr != nil:
			logger.Warn("analysis worker exited with error", zap.Error(waitErr))
			if !terminal {
				yield(event.NewError(fmt.Sprintf("analysis worker exited: %v", waitErr)))
			}
		default:
			logger.Info("analysis worker finished", zap.Bool("terminal_event", terminal))
		}
	}
}

func (s *ProcessSupervisor) spawn(ctx context.Context, req Request) (*exec.Cmd, io.ReadCloser, io.ReadCloser, error) {
	args := append(slices.Clone(s.cfg.Args), req.URL, strconv.Itoa(req.MaxPages), jsonFlag)
	cmd := exec.CommandContext(ctx, s.cfg.Command, args...)
	cmd.Dir = s.cfg.Dir
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	cmd.WaitDelay = pipeWaitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, fmt.Errorf("start %s: %w", s.cfg.Command, err)
	}
	return cmd, stdout, stderr, nil
}

// relay forwards every parseable stdout record, flushing the trailing
// fragment at EOF. It reports whether a terminal event was seen, whether the
// consumer stopped pulling and whether reading stdout failed.
func relay(stdout io.Reader, logger *zap.Logger, yield func(event.Event) bool) (terminal, stopped, failed bool) {
	for f, err := range frame.Read(stdout, frame.Lines) {
		if err != nil {
			logger.Warn("reading worker output failed", zap.Error(err))
			return terminal, false, true
		}
		evt, ok := decodeEvent(f, logger)
		if !ok {
			continue
		}
		terminal = terminal || evt.Terminal()
		if !yield(evt) {
			return terminal, true, false
		}
	}
	return terminal, false, false
}

// drainStderr logs the worker's diagnostic channel until it closes. It keeps
// reading after an over-long line so the worker never blocks on a full pipe.
func drainStderr(r io.Reader, logger *zap.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), stderrLineLimit)
	for scanner.Scan() {
		logger.Debug("worker stderr", zap.String("line", scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		logger.Debug("worker stderr scan stopped", zap.Error(err))
		_, _ = io.Copy(io.Discard, r)
	}
}
