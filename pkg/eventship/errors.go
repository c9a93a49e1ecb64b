package eventship

import (
	"errors"

	"github.com/bft-labs/eventship/pkg/queue"
	"github.com/bft-labs/eventship/pkg/replay"
	"github.com/bft-labs/eventship/pkg/settings"
)

var (
	// ErrInvalidConfig is wrapped by every Config.Validate failure.
	ErrInvalidConfig = errors.New("eventship: invalid config")

	// ErrClosed is returned by calls on a closed handle.
	ErrClosed = errors.New("eventship: closed")

	// ErrNoWriteKey is wrapped by the ConfigurationError Install returns
	// when no write key can be resolved.
	ErrNoWriteKey = settings.ErrNoWriteKey
)

// Error taxonomy.
type (
	// ConfigurationError aborts Install: no write key could be resolved.
	ConfigurationError = settings.ConfigurationError

	// RecoverableError reports a failed settings fetch. The client keeps
	// running with empty integrations.
	RecoverableError = settings.RecoverableError

	// DeliveryError reports one failed delivery attempt.
	DeliveryError = queue.DeliveryError

	// DeadLetter reports a task that exhausted its attempts.
	DeadLetter = queue.DeadLetter

	// ReplayDiagnostic reports a buffered call that could not be replayed.
	ReplayDiagnostic = replay.Diagnostic
)
