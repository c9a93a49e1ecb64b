// Package replay turns captured command records into calls on the live
// engine.
//
// Registration records (identity, listeners, middleware, plugins) are
// applied directly. Operation records are decoded, built into events by the
// engine and enqueued for delivery. A record that cannot be applied yields
// a Diagnostic; it is logged and skipped and never stops the replay.
package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/bft-labs/eventship/pkg/command"
	"github.com/bft-labs/eventship/pkg/event"
	"github.com/bft-labs/eventship/pkg/log"
	"github.com/bft-labs/eventship/pkg/plugin"
)

// Engine is the registration side of the live engine.
type Engine interface {
	SetAnonymousID(id string)
	On(name string, fn event.Listener)
	AddSourceMiddleware(mw event.Middleware)
	Register(ctx context.Context, plugins ...plugin.Plugin) error

	// Build stamps identity onto the call and runs middleware. A nil event
	// with a nil error means middleware dropped it.
	Build(ctx context.Context, c event.Call) (*event.Event, error)
}

// Enqueuer persists built events for delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, e *event.Event) error
}

// Diagnostic reports a record that was skipped during replay.
type Diagnostic struct {
	Record command.Record
	Err    error
}

func (d *Diagnostic) Error() string {
	return fmt.Sprintf("replay %s #%d (%s): %v", d.Record.Method, d.Record.Seq, d.Record.Kind, d.Err)
}

func (d *Diagnostic) Unwrap() error { return d.Err }

// Result summarises a replay.
type Result struct {
	Replayed    int
	Skipped     int
	Diagnostics []*Diagnostic
}

// Dispatcher applies records to an engine.
type Dispatcher struct {
	engine   Engine
	enqueuer Enqueuer
	logger   log.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(engine Engine, enqueuer Enqueuer, logger log.Logger) *Dispatcher {
	return &Dispatcher{
		engine:   engine,
		enqueuer: enqueuer,
		logger:   log.OrNoop(logger),
	}
}

// Dispatch applies one record. Any failure is returned as a *Diagnostic.
func (d *Dispatcher) Dispatch(ctx context.Context, rec command.Record) error {
	if err := d.dispatch(ctx, rec); err != nil {
		var diag *Diagnostic
		if errors.As(err, &diag) {
			return diag
		}
		return &Diagnostic{Record: rec, Err: err}
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, rec command.Record) error {
	switch rec.Method {
	case MethodSetAnonymousID:
		if len(rec.Args) != 1 {
			return fmt.Errorf("setAnonymousId takes 1 argument, got %d", len(rec.Args))
		}
		id, ok := rec.Args[0].(string)
		if !ok {
			return fmt.Errorf("anonymous id must be a string, got %T", rec.Args[0])
		}
		d.engine.SetAnonymousID(id)
		return nil

	case MethodOn:
		if len(rec.Args) != 2 {
			return fmt.Errorf("on takes 2 arguments, got %d", len(rec.Args))
		}
		name, ok := rec.Args[0].(string)
		if !ok || name == "" {
			return fmt.Errorf("event name must be a non-empty string, got %T", rec.Args[0])
		}
		fn, ok := asListener(rec.Args[1])
		if !ok {
			return fmt.Errorf("listener must be a function, got %T", rec.Args[1])
		}
		d.engine.On(name, fn)
		return nil

	case MethodAddSourceMiddleware:
		if len(rec.Args) != 1 {
			return fmt.Errorf("addSourceMiddleware takes 1 argument, got %d", len(rec.Args))
		}
		mw, ok := asMiddleware(rec.Args[0])
		if !ok {
			return fmt.Errorf("middleware must be an event.Middleware, got %T", rec.Args[0])
		}
		d.engine.AddSourceMiddleware(mw)
		return nil

	case MethodRegister:
		plugins, err := asPlugins(rec.Args)
		if err != nil {
			return err
		}
		return d.engine.Register(ctx, plugins...)
	}

	call, err := DecodeCall(rec.Method, rec.Args)
	if err != nil {
		return err
	}
	e, err := d.engine.Build(ctx, call)
	if err != nil {
		return fmt.Errorf("build %s: %w", rec.Method, err)
	}
	if e == nil {
		d.logger.Debug("replayed event dropped by middleware",
			log.String("method", rec.Method),
			log.Uint64("seq", rec.Seq),
		)
		return nil
	}
	if err := d.enqueuer.Enqueue(ctx, e); err != nil {
		return fmt.Errorf("enqueue %s: %w", rec.Method, err)
	}
	return nil
}

// Replay drains the log through the dispatcher. The log is closed when
// Replay returns, unless it had already been drained.
func (d *Dispatcher) Replay(ctx context.Context, l *command.Log) (Result, error) {
	var res Result
	err := l.Drain(func(rec command.Record) error {
		if err := d.Dispatch(ctx, rec); err != nil {
			diag := err.(*Diagnostic)
			res.Skipped++
			res.Diagnostics = append(res.Diagnostics, diag)
			d.logger.Warn("skipping buffered call",
				log.String("method", rec.Method),
				log.String("kind", rec.Kind.String()),
				log.Uint64("seq", rec.Seq),
				log.Err(diag.Err),
			)
			return nil
		}
		res.Replayed++
		return nil
	})
	if err != nil {
		return res, err
	}
	if res.Replayed+res.Skipped > 0 {
		d.logger.Info("replayed buffered calls",
			log.Int("replayed", res.Replayed),
			log.Int("skipped", res.Skipped),
		)
	}
	return res, nil
}
