package engine

import "github.com/bft-labs/eventship/pkg/queue"

// failureReporter emits EventDeliveryFailure for dead letters.
type failureReporter struct {
	queue.BaseReporter
	e *Engine
}

func (r failureReporter) OnDeadLetter(dl queue.DeadLetter) {
	r.e.emitter.Emit(EventDeliveryFailure, dl)
}

func (e *Engine) reporter() queue.Reporter {
	rs := queue.Reporters{failureReporter{e: e}}
	if e.cfg.Reporter != nil {
		rs = append(rs, e.cfg.Reporter)
	}
	return rs
}
