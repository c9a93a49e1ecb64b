package event

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StampsIdentifiers(t *testing.T) {
	e := New(Call{Type: TypeTrack, Event: "Clicked", Properties: Properties{"k": "v"}})
	assert.Equal(t, TypeTrack, e.Type)
	assert.NotEmpty(t, e.MessageID)
	assert.False(t, e.Timestamp.IsZero())

	other := New(Call{Type: TypeTrack})
	assert.NotEqual(t, e.MessageID, other.MessageID)
}

func TestEvent_CloneCopiesMaps(t *testing.T) {
	e := New(Call{Type: TypeIdentify, Traits: Traits{"plan": "free"}})
	c := e.Clone()
	c.Traits["plan"] = "pro"
	assert.Equal(t, "free", e.Traits["plan"])
}

func TestEmitter_OrderAndDuplicates(t *testing.T) {
	em := NewEmitter()
	var got []string
	a := func(...any) { got = append(got, "a") }
	em.On("track", a)
	em.On("track", func(...any) { got = append(got, "b") })
	em.On("track", a)

	em.Emit("track")
	assert.Equal(t, []string{"a", "b", "a"}, got)
	assert.Equal(t, 3, em.Count("track"))
}

func TestEmitter_OffAndUnsubscribe(t *testing.T) {
	em := NewEmitter()
	n := 0
	off := em.On("page", func(...any) { n++ })
	em.On("page", func(...any) { n += 10 })

	off()
	em.Emit("page")
	assert.Equal(t, 10, n)

	em.Off("page")
	em.Emit("page")
	assert.Equal(t, 10, n)
}

func TestEmitter_PassesArgs(t *testing.T) {
	em := NewEmitter()
	var got []any
	em.On("delivery_failure", func(args ...any) { got = args })
	em.Emit("delivery_failure", "x", 1)
	assert.Equal(t, []any{"x", 1}, got)
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	addProp := func(k string) Middleware {
		return func(_ context.Context, e *Event) (*Event, error) {
			if e.Properties == nil {
				e.Properties = Properties{}
			}
			e.Properties[k] = true
			return e, nil
		}
	}
	drop := func(context.Context, *Event) (*Event, error) { return nil, nil }
	boom := errors.New("boom")
	fail := func(context.Context, *Event) (*Event, error) { return nil, boom }

	out, err := Chain(ctx, New(Call{Type: TypePage}), addProp("a"), addProp("b"))
	require.NoError(t, err)
	assert.Equal(t, Properties{"a": true, "b": true}, out.Properties)

	out, err = Chain(ctx, New(Call{Type: TypePage}), drop, addProp("a"))
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = Chain(ctx, New(Call{Type: TypePage}), fail)
	assert.ErrorIs(t, err, boom)
}
