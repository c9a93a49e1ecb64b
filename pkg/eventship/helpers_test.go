package eventship_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/eventship/pkg/eventship"
	"github.com/bft-labs/eventship/pkg/plugin"
	"github.com/bft-labs/eventship/pkg/task"
)

// testLogger implements eventship.Logger for capturing log output in tests.
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func newTestLogger() *testLogger {
	return &testLogger{messages: make([]string, 0)}
}

func (l *testLogger) Debug(msg string, fields ...eventship.LogField) { l.log("DEBUG", msg) }
func (l *testLogger) Info(msg string, fields ...eventship.LogField)  { l.log("INFO", msg) }
func (l *testLogger) Warn(msg string, fields ...eventship.LogField)  { l.log("WARN", msg) }
func (l *testLogger) Error(msg string, fields ...eventship.LogField) { l.log("ERROR", msg) }

func (l *testLogger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("[%s] %s", level, msg))
}

func (l *testLogger) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make([]string, len(l.messages))
	copy(cp, l.messages)
	return cp
}

// sentRequest is a request received by fakeHTTP.
type sentRequest struct {
	Method string
	URL    string
	Body   string
}

// fakeHTTP serves settings fetches and collector posts without a network.
type fakeHTTP struct {
	mu       sync.Mutex
	requests []sentRequest

	settingsBody string
	settingsErr  error
	postStatus   int
	blockPosts   bool
}

func (f *fakeHTTP) Do(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		body = string(b)
	}

	f.mu.Lock()
	f.requests = append(f.requests, sentRequest{Method: req.Method, URL: req.URL.String(), Body: body})
	settingsBody, settingsErr := f.settingsBody, f.settingsErr
	status, block := f.postStatus, f.blockPosts
	f.mu.Unlock()

	if req.Method == http.MethodGet {
		if settingsErr != nil {
			return nil, settingsErr
		}
		if settingsBody == "" {
			settingsBody = `{"integrations":{}}`
		}
		return response(http.StatusOK, settingsBody), nil
	}

	if block {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}
	if status == 0 {
		status = http.StatusOK
	}
	return response(status, ""), nil
}

func (f *fakeHTTP) Requests(method string) []sentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentRequest
	for _, r := range f.requests {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeHTTP) setPostStatus(status int) {
	f.mu.Lock()
	f.postStatus = status
	f.mu.Unlock()
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

// recordingDestination is an engine destination plugin.
type recordingDestination struct {
	name string

	mu    sync.Mutex
	tasks []*task.Task
}

func (d *recordingDestination) Name() string                               { return d.name }
func (d *recordingDestination) Load(context.Context, plugin.Context) error { return nil }
func (d *recordingDestination) Unload(context.Context) error               { return nil }

func (d *recordingDestination) Deliver(_ context.Context, t *task.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, t.Clone())
	return nil
}

func (d *recordingDestination) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

// gate blocks the engine loader until released.
type gate struct {
	ch chan struct{}
}

func newGate() *gate { return &gate{ch: make(chan struct{})} }

func (g *gate) release() { close(g.ch) }

func (g *gate) loader(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// createTestConfig creates a config with fast delivery timings.
func createTestConfig(t *testing.T) eventship.Config {
	t.Helper()
	return eventship.Config{
		WriteKey:       "foo",
		CDN:            "http://cdn.test",
		APIHost:        "http://api.test",
		StateDir:       t.TempDir(),
		PollInterval:   5 * time.Millisecond,
		BackoffBase:    time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

func install(t *testing.T, cfg eventship.Config, opts ...eventship.Option) *eventship.Handle {
	t.Helper()
	h, err := eventship.Install(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("Install() failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.Close(ctx)
	})
	return h
}

func waitReady(t *testing.T, h *eventship.Handle) eventship.Loaded {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	loaded, err := h.Ready().Wait(ctx)
	if err != nil {
		t.Fatalf("Ready() failed: %v", err)
	}
	return loaded
}

func flush(t *testing.T, h *eventship.Handle) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errBoom = errors.New("boom")
