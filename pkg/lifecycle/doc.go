// Package lifecycle is the state machine behind a client handle.
//
// A handle goes Stopped -> Starting on install, Starting -> Running once
// the engine is bound, and Starting -> Crashed when it cannot load. Close
// moves it to Stopping and, once background work has returned, to Stopped.
//
//	m := lifecycle.NewManager(logger, emitter)
//	if err := m.Start(ctx, "install"); err != nil {
//	    return err
//	}
//	m.Go(load)
//	// ...
//	m.Stop("close")
//	if err := m.Wait(ctx); err != nil {
//	    return err
//	}
//	_ = m.TransitionTo(lifecycle.StateStopped, "closed")
//
// Valid transitions:
//   - Stopped -> Starting
//   - Starting -> Running, Stopping, Crashed
//   - Running -> Stopping, Crashed
//   - Stopping -> Stopped, Crashed
//   - Crashed -> Starting
package lifecycle
