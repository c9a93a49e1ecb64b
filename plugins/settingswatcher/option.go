package settingswatcher

import "github.com/bft-labs/eventship/pkg/eventship"

// WithSettingsWatcher returns an eventship Option that enables local
// settings overrides. When enabled, the plugin applies the settings file
// on startup and again whenever it changes.
//
// Usage:
//
//	h, err := eventship.Install(ctx, cfg,
//	    settingswatcher.WithSettingsWatcher(settingswatcher.Config{
//	        Path:          "/etc/eventship/settings.json",
//	        DebounceDelay: 100 * time.Millisecond,
//	    }),
//	)
func WithSettingsWatcher(cfg Config) eventship.Option {
	plugin := New(cfg)
	return eventship.WithPlugin(plugin)
}

// WithDefaultSettingsWatcher returns an eventship Option that watches
// StateDir/settings.json with the default debounce (100ms).
//
// Usage:
//
//	h, err := eventship.Install(ctx, cfg, settingswatcher.WithDefaultSettingsWatcher())
func WithDefaultSettingsWatcher() eventship.Option {
	return WithSettingsWatcher(DefaultConfig())
}
