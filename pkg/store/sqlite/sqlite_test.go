package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bft-labs/eventship/pkg/store"
	"github.com/bft-labs/eventship/pkg/store/storetest"
)

func TestStore_Repository(t *testing.T) {
	storetest.Run(t, storetest.Factory{
		New: func(t *testing.T) store.Repository {
			s, err := Open(filepath.Join(t.TempDir(), "queue.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		Reopen: func(t *testing.T, prev store.Repository) store.Repository {
			path := prev.(*Store).Path()
			require.NoError(t, prev.Close())
			s, err := Open(path)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	})
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}
