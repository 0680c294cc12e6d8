package api

import (
	"context"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit-bridge/internal/clock/system"
	"github.com/JakeFAU/siteaudit-bridge/internal/config"
	"github.com/JakeFAU/siteaudit-bridge/internal/event"
	iduuid "github.com/JakeFAU/siteaudit-bridge/internal/id/uuid"
	"github.com/JakeFAU/siteaudit-bridge/internal/progress"
	"github.com/JakeFAU/siteaudit-bridge/internal/store"
	"github.com/JakeFAU/siteaudit-bridge/internal/supervisor"
)

// fakeSupervisor replays a fixed script. With hold set it keeps the run open
// after the script until ctx is cancelled.
type fakeSupervisor struct {
	events []event.Event
	hold   bool

	mu      sync.Mutex
	calls   []supervisor.Request
	stopped chan struct{}
}

func newFakeSupervisor(events ...event.Event) *fakeSupervisor {
	return &fakeSupervisor{events: events, stopped: make(chan struct{}, 8)}
}

func (f *fakeSupervisor) Start(ctx context.Context, req supervisor.Request) iter.Seq[event.Event] {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return func(yield func(event.Event) bool) {
		defer func() { f.stopped <- struct{}{} }()
		for _, evt := range f.events {
			if !yield(evt) {
				return
			}
		}
		if f.hold {
			<-ctx.Done()
		}
	}
}

func (f *fakeSupervisor) requests() []supervisor.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]supervisor.Request(nil), f.calls...)
}

type recordingEmitter struct {
	mu      sync.Mutex
	records []progress.Record
}

func (e *recordingEmitter) Emit(rec progress.Record) {
	e.mu.Lock()
	e.records = append(e.records, rec)
	e.mu.Unlock()
}

func (e *recordingEmitter) kinds() []progress.Kind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Kind, len(e.records))
	for i, rec := range e.records {
		out[i] = rec.Kind
	}
	return out
}

var testRunID = uuid.MustParse("0190b6a0-1111-7000-8000-000000000001")

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{
			Port:               8000,
			CORSAllowedOrigins: []string{"*"},
		},
		Worker: config.WorkerConfig{
			Mode:            config.WorkerModeProcess,
			Command:         "python3",
			MaxPagesDefault: 5,
		},
	}
}

type serverOption func(*serverDeps)

type serverDeps struct {
	sup     supervisor.Supervisor
	emitter progress.Emitter
	runs    store.RunRepository
	idGen   IDGenerator
	cfg     config.Config
}

func withRuns(repo store.RunRepository) serverOption {
	return func(d *serverDeps) { d.runs = repo }
}

func withConfig(mutate func(*config.Config)) serverOption {
	return func(d *serverDeps) { mutate(&d.cfg) }
}

func withEmitter(e progress.Emitter) serverOption {
	return func(d *serverDeps) { d.emitter = e }
}

func newTestServer(t *testing.T, sup supervisor.Supervisor, opts ...serverOption) *Server {
	t.Helper()
	deps := serverDeps{
		sup:     sup,
		emitter: &recordingEmitter{},
		idGen:   iduuid.NewSequence(testRunID, uuid.MustParse("0190b6a0-1111-7000-8000-000000000002")),
		cfg:     testConfig(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	clk := system.NewManual(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	return NewServer(deps.sup, deps.emitter, deps.runs, deps.idGen, clk, deps.cfg, zap.NewNop())
}
