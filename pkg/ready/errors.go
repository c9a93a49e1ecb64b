package ready

import "errors"

// ErrPending is returned by Result before the future has completed.
var ErrPending = errors.New("eventship/ready: not completed")
