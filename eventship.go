// Package eventship forwards telemetry events to a collection service.
//
// It re-exports the embeddable client from pkg/eventship for callers that
// only need the defaults.
//
// Example usage:
//
//	h, err := eventship.Install(ctx, eventship.Config{WriteKey: "your-write-key"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Close(context.Background())
//	_ = h.Track(ctx, "Signed Up", nil)
package eventship

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/bft-labs/eventship/internal/cliconfig"
	client "github.com/bft-labs/eventship/pkg/eventship"
)

// Config holds the client configuration.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config = client.Config

// Handle is the client returned by Install.
type Handle = client.Handle

// Option configures Install.
type Option = client.Option

// Install validates cfg, resolves the write key and starts loading the
// engine. Calls on the returned Handle are buffered until it is ready.
func Install(ctx context.Context, cfg Config, opts ...Option) (*Handle, error) {
	return client.Install(ctx, cfg, opts...)
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return client.DefaultConfig()
}

// Logger returns a zerolog console logger at the given level, as used by
// the eventship command. Wrap it with log.NewZerologAdapterWithLogger to
// pass it to WithLogger.
func Logger(level string) zerolog.Logger {
	return cliconfig.Logger(level)
}

// DefaultAPIHost is the default collection service.
const DefaultAPIHost = client.DefaultAPIHost
