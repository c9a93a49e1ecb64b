// Package log provides the logging abstraction used by eventship components.
//
// The Logger interface can be backed by any logging library. A zerolog
// adapter is provided for applications and the CLI, and a no-op logger is
// the library default so that embedding eventship never writes to stderr
// unless asked to.
//
// # Usage
//
//	logger := log.NewZerologAdapter()
//	queueLogger := log.With(logger, log.String("channel", "event-queue"))
//
// Or, in tests:
//
//	logger := log.NewNoopLogger()
//
// # Version
//
// Current version: 1.1.0
// Minimum compatible version: 1.0.0
package log
