// Package storetest holds the behaviour every store.Repository backend must
// share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/eventship/pkg/store"
	"github.com/bft-labs/eventship/pkg/task"
)

// Factory returns a fresh, empty repository. Reopen, when non-nil, returns a
// second repository over the same persisted data, simulating a restart.
type Factory struct {
	New    func(t *testing.T) store.Repository
	Reopen func(t *testing.T, prev store.Repository) store.Repository
}

// Run exercises the Repository contract.
func Run(t *testing.T, f Factory) {
	t.Run("ClaimOrder", func(t *testing.T) { testClaimOrder(t, f) })
	t.Run("ClaimSkipsNotReady", func(t *testing.T) { testClaimSkipsNotReady(t, f) })
	t.Run("ClaimIsExclusive", func(t *testing.T) { testClaimIsExclusive(t, f) })
	t.Run("CompleteRemoves", func(t *testing.T) { testCompleteRemoves(t, f) })
	t.Run("Withdraw", func(t *testing.T) { testWithdraw(t, f) })
	t.Run("RequeueAndDeadLetter", func(t *testing.T) { testRequeueAndDeadLetter(t, f) })
	t.Run("PurgeDeadLetters", func(t *testing.T) { testPurge(t, f) })
	if f.Reopen != nil {
		t.Run("SurvivesRestart", func(t *testing.T) { testSurvivesRestart(t, f) })
	}
}

func newTask(channel string, priority int, enqueuedAt time.Time) *task.Task {
	tk := task.New(channel, "track", []byte(`{"event":"x"}`), priority, 3)
	tk.EnqueuedAt = enqueuedAt
	return tk
}

func testClaimOrder(t *testing.T, f Factory) {
	ctx := context.Background()
	repo := f.New(t)
	base := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)

	first := newTask("c", task.PriorityNormal, base)
	second := newTask("c", task.PriorityNormal, base.Add(time.Second))
	urgent := newTask("c", task.PriorityHigh, base.Add(2*time.Second))
	other := newTask("other", task.PriorityHigh, base)
	for _, tk := range []*task.Task{second, first, urgent, other} {
		require.NoError(t, repo.Put(ctx, tk))
	}

	var got []string
	for {
		tk, err := repo.Claim(ctx, "c", time.Now())
		if errors.Is(err, store.ErrEmpty) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, task.StatusInFlight, tk.Status)
		got = append(got, tk.ID)
	}
	assert.Equal(t, []string{urgent.ID, first.ID, second.ID}, got)
}

func testClaimSkipsNotReady(t *testing.T, f Factory) {
	ctx := context.Background()
	repo := f.New(t)
	now := time.Now().UTC()

	later := newTask("c", task.PriorityHigh, now.Add(-time.Second))
	later.NotBefore = now.Add(time.Hour)
	ready := newTask("c", task.PriorityLow, now.Add(-time.Second))
	require.NoError(t, repo.Put(ctx, later))
	require.NoError(t, repo.Put(ctx, ready))

	tk, err := repo.Claim(ctx, "c", now)
	require.NoError(t, err)
	assert.Equal(t, ready.ID, tk.ID)

	_, err = repo.Claim(ctx, "c", now)
	assert.ErrorIs(t, err, store.ErrEmpty)

	tk, err = repo.Claim(ctx, "c", now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, later.ID, tk.ID)
}

func testClaimIsExclusive(t *testing.T, f Factory) {
	ctx := context.Background()
	repo := f.New(t)
	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, repo.Put(ctx, newTask("c", 0, time.Now().UTC())))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				tk, err := repo.Claim(ctx, "c", time.Now().Add(time.Second))
				if err != nil {
					return
				}
				mu.Lock()
				seen[tk.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, "task %s claimed %d times", id, count)
	}
}

func testCompleteRemoves(t *testing.T, f Factory) {
	ctx := context.Background()
	repo := f.New(t)
	tk := newTask("c", 0, time.Now().UTC())
	require.NoError(t, repo.Put(ctx, tk))

	claimed, err := repo.Claim(ctx, "c", time.Now().Add(time.Second))
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, "c", claimed.ID))

	pending, err := repo.ListPending(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.ErrorIs(t, repo.Complete(ctx, "c", claimed.ID), store.ErrNotFound)
}

func testWithdraw(t *testing.T, f Factory) {
	ctx := context.Background()
	repo := f.New(t)
	a := newTask("c", task.PriorityHigh, time.Now().UTC())
	b := newTask("c", task.PriorityLow, time.Now().UTC())
	require.NoError(t, repo.Put(ctx, a))
	require.NoError(t, repo.Put(ctx, b))

	claimed, err := repo.Claim(ctx, "c", time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, a.ID, claimed.ID)

	assert.ErrorIs(t, repo.Withdraw(ctx, "c", a.ID), store.ErrInFlight)
	assert.NoError(t, repo.Withdraw(ctx, "c", b.ID))
	assert.ErrorIs(t, repo.Withdraw(ctx, "c", b.ID), store.ErrNotFound)

	pending, err := repo.ListPending(ctx, "c")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)
}

func testRequeueAndDeadLetter(t *testing.T, f Factory) {
	ctx := context.Background()
	repo := f.New(t)
	require.NoError(t, repo.Put(ctx, newTask("c", 0, time.Now().UTC())))

	claimed, err := repo.Claim(ctx, "c", time.Now().Add(time.Second))
	require.NoError(t, err)

	claimed.Attempts = 1
	claimed.LastError = "503"
	claimed.NotBefore = time.Now().UTC().Add(time.Hour)
	require.NoError(t, repo.Requeue(ctx, claimed))

	_, err = repo.Claim(ctx, "c", time.Now())
	assert.ErrorIs(t, err, store.ErrEmpty)

	again, err := repo.Claim(ctx, "c", time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, again.Attempts)
	assert.Equal(t, "503", again.LastError)

	again.Attempts = 3
	require.NoError(t, repo.DeadLetter(ctx, again))

	pending, err := repo.ListPending(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, pending)

	dead, err := repo.ListDeadLetters(ctx, "c")
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, again.ID, dead[0].ID)
	assert.Equal(t, task.StatusDead, dead[0].Status)
	assert.False(t, dead[0].DeadAt.IsZero())
}

func testPurge(t *testing.T, f Factory) {
	ctx := context.Background()
	repo := f.New(t)
	for _, ch := range []string{"a", "b"} {
		require.NoError(t, repo.Put(ctx, newTask(ch, 0, time.Now().UTC())))
		tk, err := repo.Claim(ctx, ch, time.Now().Add(time.Second))
		require.NoError(t, err)
		tk.DeadAt = time.Now().UTC().Add(-48 * time.Hour)
		require.NoError(t, repo.DeadLetter(ctx, tk))
	}
	require.NoError(t, repo.Put(ctx, newTask("a", 0, time.Now().UTC())))

	channels, err := repo.Channels(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, channels)

	n, err := repo.PurgeDeadLetters(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dead, err := repo.ListDeadLetters(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, dead)
	pending, err := repo.ListPending(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func testSurvivesRestart(t *testing.T, f Factory) {
	ctx := context.Background()
	repo := f.New(t)

	done := newTask("c", task.PriorityHigh, time.Now().UTC().Add(-time.Second))
	interrupted := newTask("c", task.PriorityNormal, time.Now().UTC())
	waiting := newTask("c", task.PriorityLow, time.Now().UTC())
	for _, tk := range []*task.Task{done, interrupted, waiting} {
		require.NoError(t, repo.Put(ctx, tk))
	}

	c1, err := repo.Claim(ctx, "c", time.Now().Add(time.Second))
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, "c", c1.ID))
	_, err = repo.Claim(ctx, "c", time.Now().Add(time.Second))
	require.NoError(t, err)

	restarted := f.Reopen(t, repo)

	pending, err := restarted.ListPending(ctx, "c")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, interrupted.ID, pending[0].ID)
	assert.Equal(t, task.StatusInFlight, pending[0].Status)

	n, err := restarted.Recover(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tk, err := restarted.Claim(ctx, "c", time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, interrupted.ID, tk.ID)
	assert.Equal(t, 0, tk.Attempts)
}
