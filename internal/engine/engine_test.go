package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/eventship/pkg/backoff"
	"github.com/bft-labs/eventship/pkg/event"
	"github.com/bft-labs/eventship/pkg/plugin"
	"github.com/bft-labs/eventship/pkg/queue"
	"github.com/bft-labs/eventship/pkg/settings"
	"github.com/bft-labs/eventship/pkg/storage/memory"
	"github.com/bft-labs/eventship/pkg/store"
	"github.com/bft-labs/eventship/pkg/task"
)

type sink struct {
	mu    sync.Mutex
	tasks []*task.Task
	err   error
}

func (s *sink) Deliver(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.tasks = append(s.tasks, t.Clone())
	return nil
}

func (s *sink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

type destinationPlugin struct {
	sink
	name    string
	loadErr error
}

func (d *destinationPlugin) Name() string                               { return d.name }
func (d *destinationPlugin) Load(context.Context, plugin.Context) error { return d.loadErr }
func (d *destinationPlugin) Unload(context.Context) error               { return nil }

type tagEnricher struct{}

func (tagEnricher) Name() string                               { return "tagger" }
func (tagEnricher) Load(context.Context, plugin.Context) error { return nil }
func (tagEnricher) Unload(context.Context) error               { return nil }

func (tagEnricher) Enrich(_ context.Context, e *event.Event) (*event.Event, error) {
	if e.Properties == nil {
		e.Properties = event.Properties{}
	}
	e.Properties["tagged"] = true
	return e, nil
}

func newEngine(t *testing.T, collector queue.Deliverer) (*Engine, store.Repository) {
	t.Helper()
	repo := store.NewKVRepository(memory.New())
	e := New(Config{
		WriteKey:       "foo",
		LibraryVersion: "test",
		QueueOptions: []queue.Option{
			queue.WithPollInterval(5 * time.Millisecond),
			queue.WithBackoff(backoff.Exponential{Base: time.Millisecond, Max: 2 * time.Millisecond}),
		},
	}, repo, collector, nil)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.Close(ctx)
	})
	return e, repo
}

func TestBuild_StampsIdentity(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, &sink{})

	e.SetAnonymousID("anon-1")
	ev, err := e.Build(ctx, event.Call{Type: event.TypeIdentify, UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "anon-1", ev.AnonymousID)
	assert.Equal(t, "user-1", ev.UserID)
	assert.NotEmpty(t, ev.MessageID)

	ev, err = e.Build(ctx, event.Call{Type: event.TypeTrack, Event: "Clicked"})
	require.NoError(t, err)
	assert.Equal(t, "user-1", ev.UserID)
	assert.Equal(t, map[string]any{"name": "eventship", "version": "test"}, ev.Context["library"])
}

func TestBuild_GeneratesAnonymousID(t *testing.T) {
	e, _ := newEngine(t, &sink{})
	id := e.AnonymousID()
	assert.NotEmpty(t, id)
	assert.Equal(t, id, e.AnonymousID())
}

func TestBuild_AliasDefaultsPreviousID(t *testing.T) {
	e, _ := newEngine(t, &sink{})
	e.SetAnonymousID("anon-1")

	ev, err := e.Build(context.Background(), event.Call{Type: event.TypeAlias, UserID: "user-2"})
	require.NoError(t, err)
	assert.Equal(t, "anon-1", ev.PreviousID)
	assert.Equal(t, "user-2", e.UserID())
}

func TestBuild_MiddlewareThenEnrichers(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, &sink{})
	require.NoError(t, e.Register(ctx, tagEnricher{}))

	var sawTag bool
	e.AddSourceMiddleware(func(_ context.Context, ev *event.Event) (*event.Event, error) {
		_, sawTag = ev.Properties["tagged"]
		return ev, nil
	})

	ev, err := e.Build(ctx, event.Call{Type: event.TypeTrack, Event: "x"})
	require.NoError(t, err)
	assert.False(t, sawTag)
	assert.Equal(t, true, ev.Properties["tagged"])
}

func TestBuild_MiddlewareDrops(t *testing.T) {
	e, _ := newEngine(t, &sink{})
	e.AddSourceMiddleware(func(context.Context, *event.Event) (*event.Event, error) { return nil, nil })

	ev, err := e.Dispatch(context.Background(), event.Call{Type: event.TypeTrack, Event: "x"})
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestBuild_DoesNotMutateCallContext(t *testing.T) {
	e, _ := newEngine(t, &sink{})
	callCtx := map[string]any{"ip": "0.0.0.0"}

	_, err := e.Build(context.Background(), event.Call{Type: event.TypeTrack, Context: callCtx})
	require.NoError(t, err)
	assert.Len(t, callCtx, 1)
}

func TestDispatch_DeliversToCollector(t *testing.T) {
	ctx := context.Background()
	collector := &sink{}
	e, _ := newEngine(t, collector)

	var heard []string
	e.On(event.TypeTrack, func(args ...any) {
		heard = append(heard, args[0].(*event.Event).Event)
	})

	_, err := e.Dispatch(ctx, event.Call{Type: event.TypeTrack, Event: "Signed Up"})
	require.NoError(t, err)
	require.NoError(t, e.Flush(ctx))

	require.Equal(t, 1, collector.len())
	got := collector.tasks[0]
	assert.Equal(t, CollectorChannel, got.Channel)
	assert.Equal(t, event.TypeTrack, got.Kind)

	var ev event.Event
	require.NoError(t, json.Unmarshal(got.Payload, &ev))
	assert.Equal(t, "Signed Up", ev.Event)
	assert.Equal(t, []string{"Signed Up"}, heard)
}

func TestDestinations_WaitForSettings(t *testing.T) {
	ctx := context.Background()
	e, repo := newEngine(t, &sink{})

	amp := &destinationPlugin{name: "amplitude"}
	require.NoError(t, e.Register(ctx, amp))

	_, err := e.Dispatch(ctx, event.Call{Type: event.TypeTrack, Event: "x"})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, amp.len())
	pending, err := repo.ListPending(ctx, "amplitude")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	e.ApplySettings(ctx, &settings.Settings{Integrations: map[string]json.RawMessage{
		"amplitude": json.RawMessage(`{"apiKey":"k"}`),
	}})
	require.NoError(t, e.Flush(ctx))
	assert.Equal(t, 1, amp.len())
}

func TestDestinations_DisabledAreWithdrawn(t *testing.T) {
	ctx := context.Background()
	e, repo := newEngine(t, &sink{})

	amp := &destinationPlugin{name: "amplitude"}
	ga := &destinationPlugin{name: "google-analytics"}
	require.NoError(t, e.Register(ctx, amp, ga))

	_, err := e.Dispatch(ctx, event.Call{Type: event.TypeTrack, Event: "x"})
	require.NoError(t, err)

	e.ApplySettings(ctx, &settings.Settings{Integrations: map[string]json.RawMessage{
		"google-analytics": json.RawMessage(`false`),
	}})
	require.NoError(t, e.Flush(ctx))

	pending, err := repo.ListPending(ctx, "google-analytics")
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Zero(t, ga.len())
	assert.Equal(t, 1, amp.len())

	_, err = e.Dispatch(ctx, event.Call{Type: event.TypeTrack, Event: "y"})
	require.NoError(t, err)
	pending, err = repo.ListPending(ctx, "google-analytics")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDestinations_ReenabledAfterDisable(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, &sink{})
	amp := &destinationPlugin{name: "amplitude"}
	require.NoError(t, e.Register(ctx, amp))

	e.ApplySettings(ctx, settings.Empty(""))
	e.ApplySettings(ctx, &settings.Settings{Integrations: map[string]json.RawMessage{
		"amplitude": json.RawMessage(`false`),
	}})
	e.ApplySettings(ctx, settings.Empty(""))

	_, err := e.Dispatch(ctx, event.Call{Type: event.TypeTrack, Event: "x"})
	require.NoError(t, err)
	require.NoError(t, e.Flush(ctx))
	assert.Equal(t, 1, amp.len())
}

func TestRegister_LateDestinationStartsWhenEnabled(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, &sink{})
	e.ApplySettings(ctx, settings.Empty(""))

	amp := &destinationPlugin{name: "amplitude"}
	require.NoError(t, e.Register(ctx, amp))

	_, err := e.Dispatch(ctx, event.Call{Type: event.TypeTrack, Event: "x"})
	require.NoError(t, err)
	require.NoError(t, e.Flush(ctx))
	assert.Equal(t, 1, amp.len())
}

func TestRegister_FailedPluginGetsNoQueue(t *testing.T) {
	ctx := context.Background()
	e, repo := newEngine(t, &sink{})

	broken := &destinationPlugin{name: "broken", loadErr: errors.New("no api key")}
	err := e.Register(ctx, broken)
	require.Error(t, err)

	_, err = e.Dispatch(ctx, event.Call{Type: event.TypeTrack, Event: "x"})
	require.NoError(t, err)
	pending, err := repo.ListPending(ctx, "broken")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDeadLetter_EmitsDeliveryFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("collector down")
	e, _ := newEngine(t, &sink{err: boom})

	failures := make(chan queue.DeadLetter, 1)
	e.On(EventDeliveryFailure, func(args ...any) {
		failures <- args[0].(queue.DeadLetter)
	})

	_, err := e.Dispatch(ctx, event.Call{Type: event.TypeTrack, Event: "x"})
	require.NoError(t, err)

	select {
	case dl := <-failures:
		assert.ErrorIs(t, dl, boom)
		assert.Equal(t, CollectorChannel, dl.Task.Channel)
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery_failure emitted")
	}
}

func TestClose_RejectsEnqueue(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, &sink{})
	require.NoError(t, e.Close(ctx))
	require.NoError(t, e.Close(ctx))

	_, err := e.Dispatch(ctx, event.Call{Type: event.TypeTrack, Event: "x"})
	assert.ErrorIs(t, err, ErrClosed)
}

// stuckDestination blocks every delivery until its attempt is cancelled.
type stuckDestination struct {
	name    string
	started chan struct{}
	once    sync.Once
}

func (d *stuckDestination) Name() string                               { return d.name }
func (d *stuckDestination) Load(context.Context, plugin.Context) error { return nil }
func (d *stuckDestination) Unload(context.Context) error               { return nil }

func (d *stuckDestination) Deliver(ctx context.Context, _ *task.Task) error {
	d.once.Do(func() { close(d.started) })
	<-ctx.Done()
	return ctx.Err()
}

func TestApplySettings_EnqueueNotBlockedByDisable(t *testing.T) {
	ctx := context.Background()
	repo := store.NewKVRepository(memory.New())
	e := New(Config{
		WriteKey: "foo",
		QueueOptions: []queue.Option{
			queue.WithPollInterval(5 * time.Millisecond),
			queue.WithAttemptTimeout(5 * time.Second),
		},
	}, repo, &sink{}, nil)
	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_ = e.Close(closeCtx)
	})

	slow := &stuckDestination{name: "slow", started: make(chan struct{})}
	require.NoError(t, e.Register(ctx, slow))
	e.ApplySettings(ctx, settings.Empty(""))
	_, err := e.Dispatch(ctx, event.Call{Type: event.TypeTrack, Event: "x"})
	require.NoError(t, err)

	select {
	case <-slow.started:
	case <-time.After(2 * time.Second):
		t.Fatal("destination never received the task")
	}

	applyCtx, cancelApply := context.WithCancel(ctx)
	applied := make(chan struct{})
	go func() {
		defer close(applied)
		e.ApplySettings(applyCtx, &settings.Settings{Integrations: map[string]json.RawMessage{
			"slow": json.RawMessage(`false`),
		}})
	}()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	_, err = e.Dispatch(ctx, event.Call{Type: event.TypeTrack, Event: "y"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Len(t, e.Queues(), 2)

	cancelApply()
	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatal("ApplySettings did not return after cancellation")
	}
}

func TestApplyOverride_TakesPrecedenceOverRemote(t *testing.T) {
	ctx := context.Background()
	e, repo := newEngine(t, &sink{})
	amp := &destinationPlugin{name: "amplitude"}
	require.NoError(t, e.Register(ctx, amp))

	e.ApplyOverride(ctx, &settings.Settings{Integrations: map[string]json.RawMessage{
		"amplitude": json.RawMessage(`false`),
	}})
	e.ApplySettings(ctx, &settings.Settings{Integrations: map[string]json.RawMessage{
		"amplitude": json.RawMessage(`{"apiKey":"k"}`),
	}})
	assert.False(t, e.Settings().Enabled("amplitude"))

	_, err := e.Dispatch(ctx, event.Call{Type: event.TypeTrack, Event: "x"})
	require.NoError(t, err)
	require.NoError(t, e.Flush(ctx))
	assert.Zero(t, amp.len())
	pending, err := repo.ListPending(ctx, "amplitude")
	require.NoError(t, err)
	assert.Empty(t, pending)

	e.ApplyOverride(ctx, nil)
	assert.True(t, e.Settings().Enabled("amplitude"))
	_, err = e.Dispatch(ctx, event.Call{Type: event.TypeTrack, Event: "y"})
	require.NoError(t, err)
	require.NoError(t, e.Flush(ctx))
	assert.Equal(t, 1, amp.len())
}
