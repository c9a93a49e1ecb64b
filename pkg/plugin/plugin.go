// Package plugin defines engine plugins and the registry that loads them.
//
// Plugins are registered through the client's Register call. Destinations
// receive their own delivery queue; enrichers run on every built event after
// source middleware.
package plugin

import (
	"context"
	"encoding/json"

	"github.com/bft-labs/eventship/pkg/event"
	"github.com/bft-labs/eventship/pkg/log"
	"github.com/bft-labs/eventship/pkg/task"
)

// Context is handed to a plugin when it loads.
type Context struct {
	// WriteKey identifies the source the plugin runs for.
	WriteKey string

	// Options holds the plugin's entry from the remote integrations
	// settings, or nil when the settings do not mention it.
	Options json.RawMessage

	// Logger is scoped to the plugin.
	Logger log.Logger
}

// Plugin is the base contract of every engine plugin.
type Plugin interface {
	// Name identifies the plugin. It is also the key looked up in the
	// integrations settings and the name of a destination's queue channel.
	Name() string

	// Load prepares the plugin. A plugin that fails to load is not registered.
	Load(ctx context.Context, pctx Context) error

	// Unload releases resources held by the plugin.
	Unload(ctx context.Context) error
}

// Destination is a plugin that receives events through its own queue.
type Destination interface {
	Plugin
	Deliver(ctx context.Context, t *task.Task) error
}

// Enricher is a plugin that modifies events before they are enqueued.
// Returning a nil event drops it.
type Enricher interface {
	Plugin
	Enrich(ctx context.Context, e *event.Event) (*event.Event, error)
}
