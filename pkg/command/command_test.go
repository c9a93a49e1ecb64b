package command

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func methods(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Method)
	}
	return out
}

func TestLog_DrainOrdersByPrecedence(t *testing.T) {
	l := NewLog()
	_, _ = l.Capture(KindOperation, "track", "Button Clicked")
	_, _ = l.Capture(KindIdentity, "setAnonymousId", "anon-1")
	_, _ = l.Capture(KindListener, "on", "track")
	_, _ = l.Capture(KindPlugin, "register", "amplitude")

	var got []Record
	require.NoError(t, l.Drain(func(r Record) error {
		got = append(got, r)
		return nil
	}))

	assert.Equal(t, []string{"setAnonymousId", "on", "register", "track"}, methods(got))
	assert.True(t, l.Closed())
}

func TestLog_MiddlewareBeforeOperations(t *testing.T) {
	l := NewLog()
	_, _ = l.Capture(KindOperation, "page")
	_, _ = l.Capture(KindMiddleware, "addSourceMiddleware", "mw")
	_, _ = l.Capture(KindOperation, "track", "a")

	assert.Equal(t, []string{"addSourceMiddleware", "page", "track"}, methods(l.Records()))
}

func TestLog_SequenceWithinKind(t *testing.T) {
	l := NewLog()
	for _, m := range []string{"track", "identify", "page", "track"} {
		_, _ = l.Capture(KindOperation, m)
	}
	var got []Record
	require.NoError(t, l.Drain(func(r Record) error {
		got = append(got, r)
		return nil
	}))

	assert.Equal(t, []string{"track", "identify", "page", "track"}, methods(got))
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Seq, got[i].Seq)
	}
}

func TestLog_DuplicatesPreserved(t *testing.T) {
	l := NewLog()
	_, _ = l.Capture(KindOperation, "track", "same")
	_, _ = l.Capture(KindOperation, "track", "same")

	n := 0
	require.NoError(t, l.Drain(func(Record) error {
		n++
		return nil
	}))
	assert.Equal(t, 2, n)
}

func TestLog_EmptyDrainCloses(t *testing.T) {
	l := NewLog()
	called := false
	require.NoError(t, l.Drain(func(Record) error {
		called = true
		return nil
	}))
	assert.False(t, called)
	assert.True(t, l.Closed())

	_, err := l.Capture(KindOperation, "track")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, l.Drain(func(Record) error { return nil }), ErrAlreadyDrained)
}

func TestLog_CaptureDuringDrainIsReplayed(t *testing.T) {
	l := NewLog()
	_, _ = l.Capture(KindOperation, "track", "first")

	var got []string
	require.NoError(t, l.Drain(func(r Record) error {
		got = append(got, r.Method)
		if r.Method == "track" {
			_, err := l.Capture(KindIdentity, "setAnonymousId", "late")
			require.NoError(t, err)
		}
		return nil
	}))
	assert.Equal(t, []string{"track", "setAnonymousId"}, got)
}

func TestLog_ErrorsDoNotHaltDrain(t *testing.T) {
	l := NewLog()
	_, _ = l.Capture(KindOperation, "track", "a")
	_, _ = l.Capture(KindOperation, "bogus")
	_, _ = l.Capture(KindOperation, "page")

	bad := errors.New("bad record")
	n := 0
	err := l.Drain(func(r Record) error {
		n++
		if r.Method == "bogus" {
			return bad
		}
		return nil
	})
	assert.ErrorIs(t, err, bad)
	assert.Equal(t, 3, n)
}

func TestLog_ArgsAreCopied(t *testing.T) {
	l := NewLog()
	args := []any{"a", 1}
	rec, err := l.Capture(KindOperation, "track", args...)
	require.NoError(t, err)
	args[0] = "mutated"
	assert.Equal(t, "a", rec.Args[0])
}

func TestLog_ConcurrentCaptureDuringDrain(t *testing.T) {
	l := NewLog()
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := l.Capture(KindOperation, "track"); err == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}
		}()
	}

	drained := 0
	require.NoError(t, l.Drain(func(Record) error {
		drained++
		return nil
	}))
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, accepted, drained)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "identity", KindIdentity.String())
	assert.Equal(t, "operation", KindOperation.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
