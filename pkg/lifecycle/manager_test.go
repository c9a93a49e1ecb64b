package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transition struct {
	from, to State
	reason   string
}

type recordingEmitter struct {
	mu   sync.Mutex
	seen []transition
}

func (r *recordingEmitter) OnStateChange(previous, current State, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, transition{previous, current, reason})
}

func (r *recordingEmitter) transitions() []transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transition(nil), r.seen...)
}

func TestCanTransition(t *testing.T) {
	all := []State{StateStopped, StateStarting, StateRunning, StateStopping, StateCrashed}
	allowed := map[transition]bool{
		{from: StateStopped, to: StateStarting}:  true,
		{from: StateStarting, to: StateRunning}:  true,
		{from: StateStarting, to: StateStopping}: true,
		{from: StateStarting, to: StateCrashed}:  true,
		{from: StateRunning, to: StateStopping}:  true,
		{from: StateRunning, to: StateCrashed}:   true,
		{from: StateStopping, to: StateStopped}:  true,
		{from: StateStopping, to: StateCrashed}:  true,
		{from: StateCrashed, to: StateStarting}:  true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[transition{from: from, to: to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Running", StateRunning.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func TestTransitionTo_RejectsInvalid(t *testing.T) {
	m := NewManager(nil, nil)
	err := m.TransitionTo(StateRunning, "skip starting")

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StateStopped, te.From)
	assert.Equal(t, StateRunning, te.To)
	assert.Equal(t, StateStopped, m.State())
}

func TestManager_InstallBindClose(t *testing.T) {
	rec := &recordingEmitter{}
	m := NewManager(nil, rec)

	require.NoError(t, m.Start(context.Background(), "install"))
	require.NoError(t, m.TransitionTo(StateRunning, "bound"))
	assert.True(t, m.Stop("close"))
	require.NoError(t, m.Wait(context.Background()))
	require.NoError(t, m.TransitionTo(StateStopped, "closed"))

	assert.Equal(t, []transition{
		{StateStopped, StateStarting, "install"},
		{StateStarting, StateRunning, "bound"},
		{StateRunning, StateStopping, "close"},
		{StateStopping, StateStopped, "closed"},
	}, rec.transitions())
}

func TestManager_StartTwiceFails(t *testing.T) {
	m := NewManager(nil, nil)
	require.NoError(t, m.Start(context.Background(), "install"))
	assert.Error(t, m.Start(context.Background(), "again"))
}

func TestManager_StopCancelsWorkers(t *testing.T) {
	m := NewManager(nil, nil)
	require.NoError(t, m.Start(context.Background(), "install"))

	exited := make(chan struct{})
	m.Go(func(ctx context.Context) {
		<-ctx.Done()
		close(exited)
	})

	assert.True(t, m.Stop("close"))
	require.NoError(t, m.Wait(context.Background()))
	select {
	case <-exited:
	default:
		t.Fatal("worker still running after Wait")
	}
}

func TestManager_WaitHonoursContext(t *testing.T) {
	m := NewManager(nil, nil)
	require.NoError(t, m.Start(context.Background(), "install"))

	release := make(chan struct{})
	m.Go(func(context.Context) { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Wait(ctx), context.DeadlineExceeded)
}

func TestManager_StopWhenCrashed(t *testing.T) {
	m := NewManager(nil, nil)
	require.NoError(t, m.Start(context.Background(), "install"))

	var runCtx context.Context
	ran := make(chan struct{})
	m.Go(func(ctx context.Context) {
		runCtx = ctx
		close(ran)
	})
	<-ran
	require.NoError(t, m.TransitionTo(StateCrashed, "load failed"))

	assert.False(t, m.Stop("close"))
	assert.Equal(t, StateCrashed, m.State())
	assert.Error(t, runCtx.Err())
}

func TestManager_RestartAfterCrash(t *testing.T) {
	m := NewManager(nil, nil)
	require.NoError(t, m.Start(context.Background(), "install"))
	require.NoError(t, m.TransitionTo(StateCrashed, "load failed"))
	require.NoError(t, m.Start(context.Background(), "reinstall"))
	assert.Equal(t, StateStarting, m.State())
}

func TestManager_ParentContextCancelsRun(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	m := NewManager(nil, nil)
	require.NoError(t, m.Start(parent, "install"))

	done := make(chan struct{})
	m.Go(func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	})
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run context not derived from parent")
	}
}
