// Package command captures API calls made before the engine is ready.
//
// Records are appended synchronously and never block. Drain replays them
// once, ordered by precedence class and then by capture sequence, and closes
// the log so later calls go straight to the engine.
package command

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrClosed is returned by Capture once the log has been drained.
	ErrClosed = errors.New("eventship/command: log closed")

	// ErrAlreadyDrained is returned by a second call to Drain.
	ErrAlreadyDrained = errors.New("eventship/command: log already drained")
)

// Kind is the precedence class of a record. Lower kinds replay first.
type Kind int

// Kinds in replay order.
const (
	KindIdentity Kind = iota
	KindListener
	KindMiddleware
	KindPlugin
	KindOperation
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindIdentity:
		return "identity"
	case KindListener:
		return "listener"
	case KindMiddleware:
		return "middleware"
	case KindPlugin:
		return "plugin"
	case KindOperation:
		return "operation"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Record is one captured call. Records are never modified after capture.
type Record struct {
	Kind       Kind
	Method     string
	Args       []any
	Seq        uint64
	CapturedAt time.Time
}

// Log is an append-only, single-drain command log. It is safe for
// concurrent use.
type Log struct {
	mu       sync.Mutex
	records  []Record
	seq      uint64
	closed   bool
	draining bool
}

// NewLog returns an empty, open log.
func NewLog() *Log {
	return &Log{}
}

// Capture appends a record and returns it.
func (l *Log) Capture(kind Kind, method string, args ...any) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return Record{}, ErrClosed
	}
	l.seq++
	rec := Record{
		Kind:       kind,
		Method:     method,
		Args:       append([]any(nil), args...),
		Seq:        l.seq,
		CapturedAt: time.Now(),
	}
	l.records = append(l.records, rec)
	return rec, nil
}

// Len returns the number of records waiting to be drained.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Closed reports whether the log has been drained.
func (l *Log) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Records returns the waiting records in replay order.
func (l *Log) Records() []Record {
	l.mu.Lock()
	out := append([]Record(nil), l.records...)
	l.mu.Unlock()
	Sort(out)
	return out
}

// Drain hands every record to fn in replay order and closes the log.
//
// Records captured while fn runs (including by fn itself) are drained in a
// following pass; the log closes in the same critical section that observes
// an empty batch, so no record can be captured after the last pass and
// still be lost. Errors from fn are collected and returned joined; they never
// stop the drain.
func (l *Log) Drain(fn func(Record) error) error {
	l.mu.Lock()
	if l.draining || l.closed {
		l.mu.Unlock()
		return ErrAlreadyDrained
	}
	l.draining = true
	l.mu.Unlock()

	var errs []error
	for {
		batch := l.take()
		if batch == nil {
			break
		}
		Sort(batch)
		for _, rec := range batch {
			if err := fn(rec); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// take removes and returns the waiting records, or closes the log and
// returns nil when there are none.
func (l *Log) take() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) == 0 {
		l.closed = true
		return nil
	}
	batch := l.records
	l.records = nil
	return batch
}

// Sort orders records by kind, then by capture sequence.
func Sort(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Kind != records[j].Kind {
			return records[i].Kind < records[j].Kind
		}
		return records[i].Seq < records[j].Seq
	})
}
