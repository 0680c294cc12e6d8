package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit-bridge/internal/event"
	"github.com/JakeFAU/siteaudit-bridge/internal/frame"
)

// pipeTransport hands every opened stream to the test through opened. When
// ignoreCancel is set, streams keep delivering after their job is abandoned so
// the epoch guard is the only thing discarding stale events.
type pipeTransport struct {
	opened       chan *io.PipeWriter
	ignoreCancel bool
}

func newPipeTransport(ignoreCancel bool) *pipeTransport {
	return &pipeTransport{opened: make(chan *io.PipeWriter, 4), ignoreCancel: ignoreCancel}
}

func (p *pipeTransport) Open(ctx context.Context, _ Request) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	if !p.ignoreCancel {
		context.AfterFunc(ctx, func() { _ = pr.CloseWithError(ctx.Err()) })
	}
	p.opened <- pw
	return pr, nil
}

func (p *pipeTransport) next(t *testing.T) *io.PipeWriter {
	t.Helper()
	select {
	case pw := <-p.opened:
		return pw
	case <-time.After(5 * time.Second):
		t.Fatal("transport was not opened")
		return nil
	}
}

type staticTransport struct {
	body string
	err  error
}

func (s staticTransport) Open(context.Context, Request) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.body)), nil
}

func sse(t *testing.T, events ...event.Event) string {
	t.Helper()
	var b strings.Builder
	for _, evt := range events {
		data, err := frame.SSE.Encode(evt)
		require.NoError(t, err)
		b.Write(data)
	}
	return b.String()
}

func send(t *testing.T, pw *io.PipeWriter, events ...event.Event) {
	t.Helper()
	_, err := io.WriteString(pw, sse(t, events...))
	require.NoError(t, err)
}

func waitState(t *testing.T, s *Session) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := s.Wait(ctx)
	require.NoError(t, err)
	return st
}

func stages(st State) []string {
	out := make([]string, len(st.ProgressSteps))
	for i, step := range st.ProgressSteps {
		out[i] = step.Stage
	}
	return out
}

func TestSessionHappyPath(t *testing.T) {
	t.Parallel()

	body := sse(t,
		event.NewProgress(event.StageDomain, ""),
		event.NewProgress(event.StageRobots, ""),
		event.NewResult(json.RawMessage(`{"score":77}`)),
	) + string(frame.SSE.EncodeDone())
	s := NewSession(staticTransport{body: body}, zap.NewNop())
	require.Equal(t, StatusIdle, s.State().Status)

	s.Analyze(Request{URL: "https://x.com", MaxPages: 5})
	st := waitState(t, s)
	require.Equal(t, StatusComplete, st.Status)
	require.Equal(t, []string{event.StageDomain, event.StageRobots}, stages(st))
	require.Equal(t, "Fetching robots.txt", st.CurrentStageLabel)
	require.JSONEq(t, `{"score":77}`, string(st.Result))
}

func TestSessionSkipsMalformedFrames(t *testing.T) {
	t.Parallel()

	body := "data: {\"type\":\"progress\",\"stage\":\"domain\"}\n\n" +
		"data: {not json\n\n" +
		"data: {\"type\":\"mystery\"}\n\n" +
		"data: {\"type\":\"error\",\"message\":\"site unreachable\"}\n\n" +
		"data: [DONE]\n\n"
	s := NewSession(staticTransport{body: body}, nil)
	s.Analyze(Request{URL: "https://x.com"})
	st := waitState(t, s)
	require.Equal(t, StatusError, st.Status)
	require.Equal(t, "site unreachable", st.Error)
	require.Equal(t, []string{event.StageDomain}, stages(st))
	require.Nil(t, st.Result)
}

func TestSessionStreamEndsWithoutResult(t *testing.T) {
	t.Parallel()

	for name, body := range map[string]string{
		"sentinel": "data: {\"type\":\"progress\",\"stage\":\"domain\"}\n\ndata: [DONE]\n\n",
		"eof":      "data: {\"type\":\"progress\",\"stage\":\"domain\"}\n\n",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := NewSession(staticTransport{body: body}, nil)
			s.Analyze(Request{URL: "https://x.com"})
			st := waitState(t, s)
			require.Equal(t, StatusError, st.Status)
			require.Equal(t, StreamEndedMessage, st.Error)
		})
	}
}

func TestSessionTransportFailure(t *testing.T) {
	t.Parallel()

	s := NewSession(staticTransport{err: errors.New("connection refused")}, nil)
	s.Analyze(Request{URL: "https://x.com"})
	st := waitState(t, s)
	require.Equal(t, StatusError, st.Status)
	require.Equal(t, "connection refused", st.Error)
	require.Empty(t, st.ProgressSteps)
}

func TestSessionWorkerStartFailure(t *testing.T) {
	t.Parallel()

	body := sse(t, event.NewError("failed to start analysis worker: exec: not found")) + string(frame.SSE.EncodeDone())
	s := NewSession(staticTransport{body: body}, nil)
	s.Analyze(Request{URL: "https://x.com"})
	st := waitState(t, s)
	require.Equal(t, StatusError, st.Status)
	require.Contains(t, st.Error, "failed to start analysis worker")
	require.Empty(t, st.ProgressSteps)
}

// TestSessionSupersession starts a second job while the first is still
// streaming and checks nothing from the first job reaches the state.
func TestSessionSupersession(t *testing.T) {
	t.Parallel()

	tr := newPipeTransport(true)
	s := NewSession(tr, nil)

	s.Analyze(Request{URL: "https://a.com"})
	first := tr.next(t)
	send(t, first, event.NewProgress(event.StageDomain, ""))
	require.Eventually(t, func() bool { return len(s.State().ProgressSteps) == 1 }, 5*time.Second, 5*time.Millisecond)

	s.Analyze(Request{URL: "https://b.com"})
	second := tr.next(t)
	st := s.State()
	require.Equal(t, StatusLoading, st.Status)
	require.Empty(t, st.ProgressSteps)

	send(t, first, event.NewProgress(event.StageRobots, ""), event.NewResult(json.RawMessage(`{"site":"a"}`)))
	require.NoError(t, first.Close())
	require.Never(t, func() bool {
		cur := s.State()
		return cur.Status != StatusLoading || len(cur.ProgressSteps) != 0
	}, 200*time.Millisecond, 10*time.Millisecond)

	send(t, second, event.NewProgress(event.StageSitemap, ""), event.NewResult(json.RawMessage(`{"site":"b"}`)))
	st = waitState(t, s)
	require.Equal(t, StatusComplete, st.Status)
	require.Equal(t, []string{event.StageSitemap}, stages(st))
	require.JSONEq(t, `{"site":"b"}`, string(st.Result))
	_ = second.Close()
}

func TestSessionResetDuringLoad(t *testing.T) {
	t.Parallel()

	tr := newPipeTransport(true)
	s := NewSession(tr, nil)
	s.Analyze(Request{URL: "https://x.com"})
	pw := tr.next(t)
	send(t, pw, event.NewProgress(event.StageDomain, ""))
	require.Eventually(t, func() bool { return len(s.State().ProgressSteps) == 1 }, 5*time.Second, 5*time.Millisecond)

	s.Reset()
	st := s.State()
	require.Equal(t, StatusIdle, st.Status)
	require.Empty(t, st.ProgressSteps)
	require.Nil(t, st.Result)
	require.Empty(t, st.Error)

	send(t, pw, event.NewResult(json.RawMessage(`{}`)))
	require.NoError(t, pw.Close())
	require.Never(t, func() bool { return s.State().Status != StatusIdle }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestSessionResetCancelsStream(t *testing.T) {
	t.Parallel()

	tr := newPipeTransport(false)
	s := NewSession(tr, nil)
	s.Analyze(Request{URL: "https://x.com"})
	pw := tr.next(t)
	s.Reset()

	require.Eventually(t, func() bool {
		_, err := pw.Write([]byte("data: {}\n\n"))
		return err != nil
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, StatusIdle, s.State().Status)
}

func TestSessionRecoversReducerPanic(t *testing.T) {
	t.Parallel()

	body := sse(t, event.NewProgress(event.StageDomain, ""), event.NewResult(json.RawMessage(`{}`)))
	s := NewSession(staticTransport{body: body}, nil)
	s.reduce = func(st State, evt event.Event) State {
		if evt.Kind == event.KindResult {
			panic("bad result shape")
		}
		return Reduce(st, evt)
	}

	s.Analyze(Request{URL: "https://x.com"})
	st := waitState(t, s)
	require.Equal(t, StatusError, st.Status)
	require.Contains(t, st.Error, "bad result shape")

	// The session keeps working for the next job.
	s.reduce = Reduce
	s.Analyze(Request{URL: "https://x.com"})
	require.Equal(t, StatusComplete, waitState(t, s).Status)
}

func TestSessionSubscribeSeesLatestState(t *testing.T) {
	t.Parallel()

	tr := newPipeTransport(false)
	s := NewSession(tr, nil)
	updates, unsubscribe := s.Subscribe()
	defer unsubscribe()
	require.Equal(t, StatusIdle, (<-updates).Status)

	s.Analyze(Request{URL: "https://x.com"})
	pw := tr.next(t)
	send(t, pw, event.NewProgress(event.StageDomain, ""), event.NewResult(json.RawMessage(`{"ok":true}`)))

	require.Eventually(t, func() bool {
		select {
		case st := <-updates:
			return st.Status == StatusComplete
		default:
			return false
		}
	}, 5*time.Second, 5*time.Millisecond)
}

func TestSessionWaitHonorsContext(t *testing.T) {
	t.Parallel()

	tr := newPipeTransport(false)
	s := NewSession(tr, nil)
	defer s.Close()
	s.Analyze(Request{URL: "https://x.com"})
	tr.next(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	st, err := s.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, StatusLoading, st.Status)
}

func TestHTTPTransportReportsGatewayError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/analyze", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"URL is required"}`))
	}))
	t.Cleanup(srv.Close)

	tr := &HTTPTransport{BaseURL: srv.URL + "/", Client: srv.Client()}
	_, err := tr.Open(context.Background(), Request{})
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	require.Equal(t, http.StatusBadRequest, gwErr.Code)
	require.Equal(t, "URL is required", err.Error())
}

func TestHTTPTransportUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	s := NewSession(&HTTPTransport{BaseURL: base}, nil)
	s.Analyze(Request{URL: "https://x.com"})
	st := waitState(t, s)
	require.Equal(t, StatusError, st.Status)
	require.Contains(t, st.Error, "analysis request failed")
}

func TestHTTPTransportTruncatedRejection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":`))
	}))
	t.Cleanup(srv.Close)

	tr := &HTTPTransport{BaseURL: srv.URL, Client: srv.Client(), Logger: zap.NewNop()}
	_, err := tr.Open(context.Background(), Request{URL: "https://x.com"})
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	require.Equal(t, http.StatusBadGateway, gwErr.Code)
	require.Equal(t, "502 Bad Gateway", gwErr.Message)
}

func TestSessionCloseReleasesWaiters(t *testing.T) {
	t.Parallel()

	tr := newPipeTransport(true)
	s := NewSession(tr, nil)
	s.Analyze(Request{URL: "https://x.com"})
	pw := tr.next(t)
	send(t, pw, event.NewProgress(event.StageDomain, ""))
	require.Eventually(t, func() bool { return len(s.State().ProgressSteps) == 1 }, 5*time.Second, 5*time.Millisecond)

	s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := s.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusIdle, st.Status)
	require.Equal(t, []string{event.StageDomain}, stages(st))

	send(t, pw, event.NewResult(json.RawMessage(`{}`)))
	require.NoError(t, pw.Close())
	require.Never(t, func() bool { return s.State().Status != StatusIdle }, 200*time.Millisecond, 10*time.Millisecond)
}
