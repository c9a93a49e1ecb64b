package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/eventship/pkg/event"
	"github.com/bft-labs/eventship/pkg/task"
)

type mockPlugin struct {
	name    string
	loadErr error

	mu       sync.Mutex
	loaded   bool
	options  json.RawMessage
	unloaded *[]string
}

func (m *mockPlugin) Name() string { return m.name }

func (m *mockPlugin) Load(_ context.Context, pctx Context) error {
	if m.loadErr != nil {
		return m.loadErr
	}
	m.mu.Lock()
	m.loaded = true
	m.options = pctx.Options
	m.mu.Unlock()
	return nil
}

func (m *mockPlugin) Unload(context.Context) error {
	if m.unloaded != nil {
		*m.unloaded = append(*m.unloaded, m.name)
	}
	return nil
}

type mockDestination struct{ mockPlugin }

func (*mockDestination) Deliver(context.Context, *task.Task) error { return nil }

type mockEnricher struct{ mockPlugin }

func (*mockEnricher) Enrich(_ context.Context, e *event.Event) (*event.Event, error) { return e, nil }

func noContext(string) Context { return Context{} }

func TestRegistry_LoadKeepsOrder(t *testing.T) {
	r := NewRegistry(nil)
	a := &mockPlugin{name: "a"}
	b := &mockDestination{mockPlugin{name: "b"}}
	c := &mockEnricher{mockPlugin{name: "c"}}

	require.NoError(t, r.Load(context.Background(), noContext, a, b, c))

	var names []string
	for _, p := range r.Plugins() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
	assert.Len(t, r.Destinations(), 1)
	assert.Len(t, r.Enrichers(), 1)
	assert.True(t, a.loaded)
}

func TestRegistry_FailedPluginNotRegistered(t *testing.T) {
	r := NewRegistry(nil)
	boom := errors.New("boom")
	good := &mockPlugin{name: "good"}
	bad := &mockPlugin{name: "bad", loadErr: boom}

	err := r.Load(context.Background(), noContext, good, bad)
	assert.ErrorIs(t, err, boom)

	_, ok := r.Get("bad")
	assert.False(t, ok)
	_, ok = r.Get("good")
	assert.True(t, ok)
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Load(context.Background(), noContext, &mockPlugin{name: "x"}))
	err := r.Load(context.Background(), noContext, &mockPlugin{name: "x"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestRegistry_PassesOptions(t *testing.T) {
	r := NewRegistry(nil)
	p := &mockPlugin{name: "amplitude"}
	opts := json.RawMessage(`{"apiKey":"k"}`)
	require.NoError(t, r.Load(context.Background(), func(name string) Context {
		if name == "amplitude" {
			return Context{Options: opts}
		}
		return Context{}
	}, p))
	assert.JSONEq(t, `{"apiKey":"k"}`, string(p.options))
}

func TestRegistry_UnloadReverseOrder(t *testing.T) {
	r := NewRegistry(nil)
	var order []string
	require.NoError(t, r.Load(context.Background(), noContext,
		&mockPlugin{name: "first", unloaded: &order},
		&mockPlugin{name: "second", unloaded: &order},
		&mockPlugin{name: "third", unloaded: &order},
	))

	require.NoError(t, r.Unload(context.Background()))
	assert.Equal(t, []string{"third", "second", "first"}, order)
	assert.Empty(t, r.Plugins())
}
