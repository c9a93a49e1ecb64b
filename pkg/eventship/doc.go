// Package eventship provides an embeddable client that forwards telemetry
// events to a collection service.
//
// Install returns a Handle immediately. While the engine loads, the handle
// captures every call into a command log; once the engine is ready the log
// is replayed in precedence order (identity, listeners, middleware,
// plugins, then operations) and the handle delegates directly to the
// engine. Events are persisted in a durable priority queue and delivered
// with retries until they succeed or are dead-lettered.
//
// # Basic Usage
//
//	cfg := eventship.Config{
//	    WriteKey: "your-write-key",
//	    Store:    eventship.StoreSQLite,
//	}
//
//	h, err := eventship.Install(ctx, cfg, eventship.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err) // only a ConfigurationError or an invalid Config
//	}
//	defer h.Close(context.Background())
//
//	_ = h.Track(ctx, "Signed Up", event.Properties{"plan": "pro"})
//
// # Configuration
//
// A [Config] needs no fields: the write key can be resolved from an
// environment source ([WithEnvironment]) or a pre-existing global handle
// ([WithGlobalHandle]). Other fields have defaults set via
// [Config.SetDefaults].
//
// # Readiness
//
// [Handle.Ready] completes once the engine is bound and reports how many
// buffered calls were replayed or skipped. [Handle.Settings] completes once
// the remote settings are applied. A failed settings fetch is recoverable:
// the client continues with empty integrations.
//
// # Delivery Outcomes
//
// Register a listener for "delivery_failure" to receive a [DeadLetter] for
// every task that exhausted its attempts, or pass a [Reporter] via
// [WithReporter]. Queue metrics and spans are exported through
// OpenTelemetry ([WithMeterProvider], [WithTracerProvider]).
//
// # Lifecycle States
//
// A Handle is in one of five states: [StateStopped], [StateStarting],
// [StateRunning], [StateStopping], or [StateCrashed]. Use [Handle.Status] to
// query the current state.
//
// # Plugins
//
// Process plugins ([Plugin]) run alongside the client:
//
//	import "github.com/bft-labs/eventship/plugins/settingswatcher"
//	import "github.com/bft-labs/eventship/plugins/deadletterpurge"
//
//	h, err := eventship.Install(ctx, cfg,
//	    settingswatcher.WithSettingsWatcher(settingswatcher.DefaultConfig()),
//	    deadletterpurge.WithDefaultDeadLetterPurge(),
//	    eventship.WithResourceGatingConfig(eventship.DefaultResourceGatingConfig()),
//	)
//
// Engine plugins (destinations and enrichers from pkg/plugin) are added
// with [Handle.Register] and may be registered before the engine loads.
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
//
// Use [ModuleVersions] to get versions of all sub-modules and [CompatibilityMatrix]
// to check minimum compatible versions. See version.go for details.
package eventship
