// Package sqlite implements store.Repository on SQLite.
//
// The database runs in WAL mode with synchronous=FULL over a single
// connection, so every committed state change survives a crash. Claims run
// in a transaction that selects the best ready task and flips its status
// only if it is still pending.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bft-labs/eventship/pkg/backoff"
	"github.com/bft-labs/eventship/pkg/store"
	"github.com/bft-labs/eventship/pkg/task"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	channel      TEXT NOT NULL,
	kind         TEXT NOT NULL,
	payload      BLOB,
	priority     INTEGER NOT NULL,
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	enqueued_at  INTEGER NOT NULL,
	not_before   INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL,
	last_error   TEXT NOT NULL DEFAULT '',
	dead_at      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tasks_claim
	ON tasks (channel, status, priority DESC, enqueued_at ASC, id ASC);
`

const taskColumns = `id, channel, kind, payload, priority, attempts, max_attempts,
	enqueued_at, not_before, status, last_error, dead_at`

// Store is a SQLite-backed Repository.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("eventship/sqlite: empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, path: path}
	ctx := context.Background()
	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=FULL;"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Put inserts t as pending.
func (s *Store) Put(ctx context.Context, t *task.Task) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (`+taskColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			t.ID, t.Channel, t.Kind, t.Payload, t.Priority, t.Attempts, t.MaxAttempts,
			nanos(t.EnqueuedAt), nanos(t.NotBefore), task.StatusPending, t.LastError, nanos(t.DeadAt),
		)
		if err != nil {
			return fmt.Errorf("insert task %s: %w", t.ID, err)
		}
		return nil
	})
}

// Claim selects the best ready task and marks it in-flight in one transaction.
func (s *Store) Claim(ctx context.Context, channel string, now time.Time) (*task.Task, error) {
	var claimed *task.Task
	err := retryOnBusy(ctx, 5, func() error {
		claimed = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin claim tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			WHERE channel = ? AND status = ? AND not_before <= ?
			ORDER BY priority DESC, enqueued_at ASC, id ASC
			LIMIT 1;`,
			channel, task.StatusPending, nanos(now),
		)
		t, err := scanTask(row.Scan)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("select pending task: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ? WHERE id = ? AND status = ?;`,
			task.StatusInFlight, t.ID, task.StatusPending,
		)
		if err != nil {
			return fmt.Errorf("mark task in flight: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return nil
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit claim tx: %w", err)
		}
		t.Status = task.StatusInFlight
		claimed = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		return nil, store.ErrEmpty
	}
	return claimed, nil
}

// Complete deletes a delivered task.
func (s *Store) Complete(ctx context.Context, channel, id string) error {
	return s.execOne(ctx, `DELETE FROM tasks WHERE channel = ? AND id = ?;`, channel, id)
}

// Requeue stores t back as pending.
func (s *Store) Requeue(ctx context.Context, t *task.Task) error {
	return s.execOne(ctx, `
		UPDATE tasks SET status = ?, attempts = ?, not_before = ?, last_error = ?
		WHERE channel = ? AND id = ?;`,
		task.StatusPending, t.Attempts, nanos(t.NotBefore), t.LastError, t.Channel, t.ID,
	)
}

// DeadLetter moves t to the dead-letter set.
func (s *Store) DeadLetter(ctx context.Context, t *task.Task) error {
	deadAt := t.DeadAt
	if deadAt.IsZero() {
		deadAt = time.Now().UTC()
	}
	return s.execOne(ctx, `
		UPDATE tasks SET status = ?, attempts = ?, last_error = ?, dead_at = ?
		WHERE channel = ? AND id = ?;`,
		task.StatusDead, t.Attempts, t.LastError, nanos(deadAt), t.Channel, t.ID,
	)
}

// Withdraw deletes a pending task.
func (s *Store) Withdraw(ctx context.Context, channel, id string) error {
	return retryOnBusy(ctx, 5, func() error {
		var status task.Status
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM tasks WHERE channel = ? AND id = ?;`, channel, id,
		).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) || status == task.StatusDead {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lookup task %s: %w", id, err)
		}

		res, err := s.db.ExecContext(ctx,
			`DELETE FROM tasks WHERE channel = ? AND id = ? AND status = ?;`,
			channel, id, task.StatusPending,
		)
		if err != nil {
			return fmt.Errorf("withdraw task %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrInFlight
		}
		return nil
	})
}

// ListPending returns pending and in-flight tasks in claim order.
func (s *Store) ListPending(ctx context.Context, channel string) ([]*task.Task, error) {
	return s.query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE channel = ? AND status != ?
		ORDER BY priority DESC, enqueued_at ASC, id ASC;`,
		channel, task.StatusDead,
	)
}

// ListDeadLetters returns dead letters, oldest first.
func (s *Store) ListDeadLetters(ctx context.Context, channel string) ([]*task.Task, error) {
	return s.query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE channel = ? AND status = ?
		ORDER BY dead_at ASC, id ASC;`,
		channel, task.StatusDead,
	)
}

// Recover flips in-flight tasks back to pending.
func (s *Store) Recover(ctx context.Context, channel string) (int, error) {
	var n int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE tasks SET status = ? WHERE channel = ? AND status = ?;`,
			task.StatusPending, channel, task.StatusInFlight,
		)
		if err != nil {
			return fmt.Errorf("recover in-flight tasks: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return int(n), err
}

// PurgeDeadLetters deletes dead letters older than before.
func (s *Store) PurgeDeadLetters(ctx context.Context, before time.Time) (int, error) {
	var n int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM tasks WHERE status = ? AND dead_at < ?;`,
			task.StatusDead, nanos(before),
		)
		if err != nil {
			return fmt.Errorf("purge dead letters: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return int(n), err
}

// Channels lists channels with stored tasks.
func (s *Store) Channels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT channel FROM tasks ORDER BY channel;`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ch string
		if err := rows.Scan(&ch); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(scan func(dest ...any) error) (*task.Task, error) {
	var t task.Task
	var enqueued, notBefore, deadAt int64
	if err := scan(&t.ID, &t.Channel, &t.Kind, &t.Payload, &t.Priority, &t.Attempts, &t.MaxAttempts,
		&enqueued, &notBefore, &t.Status, &t.LastError, &deadAt); err != nil {
		return nil, err
	}
	t.EnqueuedAt = fromNanos(enqueued)
	t.NotBefore = fromNanos(notBefore)
	t.DeadAt = fromNanos(deadAt)
	return &t, nil
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// busyBackoff spaces retries of statements that hit SQLITE_BUSY.
var busyBackoff = backoff.Jitter{
	Strategy: backoff.Exponential{Base: 50 * time.Millisecond, Max: 500 * time.Millisecond},
	Fraction: 0.25,
}

// retryOnBusy retries f while SQLite reports BUSY or LOCKED, backing off
// from 50ms up to 500ms with jitter.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil || !isBusy(err) || attempt == maxRetries {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(busyBackoff.Delay(attempt)):
		}
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

var _ store.Repository = (*Store)(nil)
