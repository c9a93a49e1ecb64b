package settings

import (
	"errors"
	"fmt"
)

// ErrNoWriteKey is the cause of the ConfigurationError returned when no
// write key can be resolved.
var ErrNoWriteKey = errors.New("eventship/settings: no write key configured or discoverable")

// ConfigurationError aborts installation.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// RecoverableError reports a failure the client continues past, such as an
// unreachable settings endpoint.
type RecoverableError struct {
	Op  string
	URL string
	Err error
}

func (e *RecoverableError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *RecoverableError) Unwrap() error { return e.Err }
