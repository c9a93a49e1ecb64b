package eventship

import (
	"context"

	"github.com/bft-labs/eventship/pkg/log"
	"github.com/bft-labs/eventship/pkg/settings"
	"github.com/bft-labs/eventship/pkg/store"
)

// Plugin extends the client process. Plugins are initialized in
// registration order once the engine has loaded, and shut down in reverse
// order on Close. Engine plugins (destinations and enrichers) are a
// separate contract: see Handle.Register.
type Plugin interface {
	// Name returns the plugin identifier.
	Name() string

	// Initialize starts the plugin. A failure crashes the client.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown releases plugin resources.
	Shutdown(ctx context.Context) error
}

// PluginConfig is handed to Plugin.Initialize.
type PluginConfig struct {
	WriteKey string
	CDN      string
	StateDir string

	// Repository is the client's task store.
	Repository store.Repository

	// ApplySettings replaces the local override layer. Integrations it names
	// take precedence over the fetched settings.
	ApplySettings func(ctx context.Context, s *settings.Settings)

	Logger log.Logger
}

// BasePlugin provides no-op Initialize and Shutdown. Embed it to implement
// only the hooks you need.
type BasePlugin struct {
	PluginName string
}

// NewBasePlugin returns a BasePlugin reporting name.
func NewBasePlugin(name string) BasePlugin {
	return BasePlugin{PluginName: name}
}

func (b BasePlugin) Name() string                                 { return b.PluginName }
func (BasePlugin) Initialize(context.Context, PluginConfig) error { return nil }
func (BasePlugin) Shutdown(context.Context) error                 { return nil }
