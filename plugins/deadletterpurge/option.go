package deadletterpurge

import "github.com/bft-labs/eventship/pkg/eventship"

// WithDeadLetterPurge returns an eventship Option that enables scheduled
// dead-letter retention. It fails if the schedule does not parse.
//
// Usage:
//
//	opt, err := deadletterpurge.WithDeadLetterPurge(deadletterpurge.Config{
//	    Schedule:  "@daily",
//	    Retention: 72 * time.Hour,
//	})
//	if err != nil {
//	    return err
//	}
//	h, err := eventship.Install(ctx, cfg, opt)
func WithDeadLetterPurge(cfg Config) (eventship.Option, error) {
	plugin, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return eventship.WithPlugin(plugin), nil
}

// WithDefaultDeadLetterPurge returns an eventship Option that purges dead
// letters older than 7 days every hour.
//
// Usage:
//
//	h, err := eventship.Install(ctx, cfg, deadletterpurge.WithDefaultDeadLetterPurge())
func WithDefaultDeadLetterPurge() eventship.Option {
	opt, err := WithDeadLetterPurge(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return opt
}
