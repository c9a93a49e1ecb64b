package sender

import (
	"context"
	"net/http"

	"github.com/bft-labs/eventship/pkg/task"
)

// HTTPClient abstracts HTTP request execution for testing and custom transports.
// The standard *http.Client satisfies this interface.
type HTTPClient interface {
	// Do sends an HTTP request and returns an HTTP response.
	Do(req *http.Request) (*http.Response, error)
}

// Sender transmits one event payload to a remote service.
type Sender interface {
	// Send transmits the payload of an event of the given type.
	// Returns nil on success, error on failure. Retries are left to the
	// caller.
	Send(ctx context.Context, eventType string, payload []byte, metadata Metadata) error
}

// Deliverer adapts a Sender to the delivery queue.
type Deliverer struct {
	sender   Sender
	metadata Metadata
}

// NewDeliverer returns a Deliverer sending every task with metadata.
func NewDeliverer(s Sender, metadata Metadata) *Deliverer {
	return &Deliverer{sender: s, metadata: metadata}
}

// Deliver sends the task payload, using the task kind as the event type.
func (d *Deliverer) Deliver(ctx context.Context, t *task.Task) error {
	return d.sender.Send(ctx, t.Kind, t.Payload, d.metadata)
}
