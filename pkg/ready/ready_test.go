package ready

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture_ResolveOnce(t *testing.T) {
	f := New[string]()

	require.True(t, f.Resolve("engine"))
	assert.False(t, f.Resolve("second"))
	assert.False(t, f.Reject(errors.New("late")))

	v, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, "engine", v)
}

func TestFuture_ResultBeforeCompletion(t *testing.T) {
	f := New[int]()
	_, err := f.Result()
	assert.ErrorIs(t, err, ErrPending)
	assert.False(t, f.Completed())
}

func TestFuture_AllWaitersObserveSameOutcome(t *testing.T) {
	f := New[int]()
	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := f.Wait(context.Background())
			if err == nil {
				results[i] = v
			}
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	f.Resolve(42)
	wg.Wait()

	for i, v := range results {
		assert.Equal(t, 42, v, "waiter %d", i)
	}

	late, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, late)
}

func TestFuture_ThenRunsExactlyOnce(t *testing.T) {
	f := New[int]()
	var before, after atomic.Int32

	f.Then(func(int, error) { before.Add(1) })
	f.Resolve(1)
	f.Resolve(2)
	f.Then(func(v int, _ error) {
		assert.Equal(t, 1, v)
		after.Add(1)
	})

	assert.Equal(t, int32(1), before.Load())
	assert.Equal(t, int32(1), after.Load())
}

func TestFuture_Reject(t *testing.T) {
	boom := errors.New("load failed")
	f := New[struct{}]()
	f.Reject(boom)

	_, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestFuture_WaitHonoursContext(t *testing.T) {
	f := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
