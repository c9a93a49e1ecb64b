package event

import "context"

// Middleware transforms an event before it is enqueued. Returning a nil
// event drops it.
type Middleware func(ctx context.Context, e *Event) (*Event, error)

// Chain applies middleware in order. It stops at the first error or at the
// first middleware that drops the event.
func Chain(ctx context.Context, e *Event, mws ...Middleware) (*Event, error) {
	for _, mw := range mws {
		var err error
		e, err = mw(ctx, e)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, nil
		}
	}
	return e, nil
}
