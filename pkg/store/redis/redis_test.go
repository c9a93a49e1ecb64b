package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/eventship/pkg/store"
	"github.com/bft-labs/eventship/pkg/store/storetest"
	"github.com/bft-labs/eventship/pkg/task"
)

// testClient connects to EVENTSHIP_TEST_REDIS_ADDR or skips the test.
func testClient(t *testing.T) goredis.UniversalClient {
	t.Helper()
	addr := os.Getenv("EVENTSHIP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("EVENTSHIP_TEST_REDIS_ADDR not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func uniquePrefix() string {
	return "eventship-test:" + task.NewID() + ":"
}

func TestStore_Repository(t *testing.T) {
	client := testClient(t)
	storetest.Run(t, storetest.Factory{
		New: func(t *testing.T) store.Repository {
			return New(client, WithPrefix(uniquePrefix()))
		},
		Reopen: func(t *testing.T, prev store.Repository) store.Repository {
			prefix := prev.(*Store).keys.prefix
			require.NoError(t, prev.Close())
			return New(client, WithPrefix(prefix))
		},
	})
}

func TestClaimScore_Ordering(t *testing.T) {
	low := task.New("c", "track", nil, task.PriorityLow, 3)
	high := task.New("c", "track", nil, task.PriorityHigh, 3)
	later := task.New("c", "track", nil, task.PriorityHigh, 3)
	later.EnqueuedAt = high.EnqueuedAt.Add(1000)

	require.Less(t, claimScore(high), claimScore(low))
	require.LessOrEqual(t, claimScore(high), claimScore(later))
}

func TestClaimScore_ExtremePriorities(t *testing.T) {
	top := task.New("c", "track", nil, task.PriorityMax, 3)
	next := task.New("c", "track", nil, task.PriorityMax-1, 3)
	older := task.New("c", "track", nil, task.PriorityMin, 3)
	newer := task.New("c", "track", nil, task.PriorityMin, 3)
	newer.EnqueuedAt = older.EnqueuedAt.Add(time.Millisecond)

	require.Less(t, claimScore(top), claimScore(next))
	require.Less(t, claimScore(older), claimScore(newer))

	// Out-of-range priorities set after New score like the bound.
	raw := top.Clone()
	raw.Priority = 1 << 20
	require.Equal(t, claimScore(top), claimScore(raw))
}

func TestKeys(t *testing.T) {
	k := keys{prefix: defaultPrefix}
	require.Equal(t, "eventship:channels", k.channels())
	require.Equal(t, "eventship:event-queue:task:abc", k.task("event-queue", "abc"))
	require.Equal(t, "eventship:event-queue:pending", k.pending("event-queue"))
	require.Equal(t, "eventship:event-queue:dead", k.dead("event-queue"))
}
