package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/eventship/pkg/storage/file"
	"github.com/bft-labs/eventship/pkg/storage/memory"
	"github.com/bft-labs/eventship/pkg/store"
	"github.com/bft-labs/eventship/pkg/store/storetest"
	"github.com/bft-labs/eventship/pkg/task"
)

func TestKVRepository_Memory(t *testing.T) {
	kvs := map[store.Repository]*memory.KV{}
	storetest.Run(t, storetest.Factory{
		New: func(t *testing.T) store.Repository {
			kv := memory.New()
			r := store.NewKVRepository(kv)
			kvs[r] = kv
			return r
		},
		Reopen: func(t *testing.T, prev store.Repository) store.Repository {
			return store.NewKVRepository(kvs[prev])
		},
	})
}

func TestKVRepository_File(t *testing.T) {
	dirs := map[store.Repository]string{}
	storetest.Run(t, storetest.Factory{
		New: func(t *testing.T) store.Repository {
			dir := t.TempDir()
			r := store.NewKVRepository(file.New(dir))
			dirs[r] = dir
			return r
		},
		Reopen: func(t *testing.T, prev store.Repository) store.Repository {
			return store.NewKVRepository(file.New(dirs[prev]))
		},
	})
}

func TestKVRepository_SkipsCorruptRecords(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	require.NoError(t, kv.Set(ctx, "eventship:queue:c:task:broken", []byte("{not json")))

	r := store.NewKVRepository(kv)
	require.NoError(t, r.Put(ctx, task.New("c", "track", nil, 0, 1)))

	pending, err := r.ListPending(ctx, "c")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	_, err = r.Claim(ctx, "c", time.Now().Add(time.Second))
	assert.NoError(t, err)
}
