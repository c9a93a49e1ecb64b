package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bft-labs/eventship/pkg/log"
	"github.com/bft-labs/eventship/pkg/storage"
	"github.com/bft-labs/eventship/pkg/task"
)

const (
	kvPrefix  = "eventship:queue:"
	kvTaskSep = ":task:"
)

// taskKey returns the key for a task: eventship:queue:{channel}:task:{id}
func taskKey(channel, id string) string { return kvPrefix + channel + kvTaskSep + id }

// channelPrefix returns the key prefix shared by every task of channel.
func channelPrefix(channel string) string { return kvPrefix + channel + kvTaskSep }

// KVRepository implements Repository on top of a storage.KV.
//
// Each channel is loaded from the KV once and then served from an in-memory
// index; every mutation is written to the KV before the index changes, so
// a new KVRepository over the same KV reconstructs all unfinished work.
// Claims are atomic within one process.
type KVRepository struct {
	kv     storage.KV
	logger log.Logger

	mu       sync.Mutex
	channels map[string]map[string]*task.Task
}

// KVOption configures a KVRepository.
type KVOption func(*KVRepository)

// WithKVLogger sets the logger used to report unreadable records.
func WithKVLogger(l log.Logger) KVOption {
	return func(r *KVRepository) { r.logger = l }
}

// NewKVRepository creates a repository persisting into kv.
func NewKVRepository(kv storage.KV, opts ...KVOption) *KVRepository {
	r := &KVRepository{
		kv:       kv,
		logger:   log.NewNoopLogger(),
		channels: make(map[string]map[string]*task.Task),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// load returns the index for channel, reading it from the KV on first use.
// Callers hold r.mu.
func (r *KVRepository) load(ctx context.Context, channel string) (map[string]*task.Task, error) {
	if idx, ok := r.channels[channel]; ok {
		return idx, nil
	}

	keys, err := r.kv.Keys(ctx, channelPrefix(channel))
	if err != nil {
		return nil, fmt.Errorf("list channel %s: %w", channel, err)
	}

	idx := make(map[string]*task.Task, len(keys))
	for _, key := range keys {
		data, err := r.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		var t task.Task
		if err := json.Unmarshal(data, &t); err != nil || t.ID == "" {
			r.logger.Warn("skipping unreadable task record",
				log.String("key", key),
				log.Any("decode_error", err),
			)
			continue
		}
		idx[t.ID] = &t
	}
	r.channels[channel] = idx
	return idx, nil
}

func (r *KVRepository) write(ctx context.Context, t *task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	if err := r.kv.Set(ctx, taskKey(t.Channel, t.ID), data); err != nil {
		return fmt.Errorf("persist task %s: %w", t.ID, err)
	}
	return nil
}

// Put persists a new pending task.
func (r *KVRepository) Put(ctx context.Context, t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.load(ctx, t.Channel)
	if err != nil {
		return err
	}
	stored := t.Clone()
	stored.Status = task.StatusPending
	if err := r.write(ctx, stored); err != nil {
		return err
	}
	idx[stored.ID] = stored
	return nil
}

// Claim moves the best ready pending task to in-flight.
func (r *KVRepository) Claim(ctx context.Context, channel string, now time.Time) (*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.load(ctx, channel)
	if err != nil {
		return nil, err
	}

	var best *task.Task
	for _, t := range idx {
		if t.Status != task.StatusPending || !t.Ready(now) {
			continue
		}
		if best == nil || task.Less(t, best) {
			best = t
		}
	}
	if best == nil {
		return nil, ErrEmpty
	}

	claimed := best.Clone()
	claimed.Status = task.StatusInFlight
	if err := r.write(ctx, claimed); err != nil {
		return nil, err
	}
	idx[claimed.ID] = claimed
	return claimed.Clone(), nil
}

// Complete removes a delivered task.
func (r *KVRepository) Complete(ctx context.Context, channel, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.load(ctx, channel)
	if err != nil {
		return err
	}
	if _, ok := idx[id]; !ok {
		return ErrNotFound
	}
	if err := r.kv.Remove(ctx, taskKey(channel, id)); err != nil {
		return fmt.Errorf("remove task %s: %w", id, err)
	}
	delete(idx, id)
	return nil
}

// Requeue stores t back as pending.
func (r *KVRepository) Requeue(ctx context.Context, t *task.Task) error {
	return r.replace(ctx, t, task.StatusPending)
}

// DeadLetter moves t to the dead-letter set.
func (r *KVRepository) DeadLetter(ctx context.Context, t *task.Task) error {
	return r.replace(ctx, t, task.StatusDead)
}

func (r *KVRepository) replace(ctx context.Context, t *task.Task, status task.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.load(ctx, t.Channel)
	if err != nil {
		return err
	}
	if _, ok := idx[t.ID]; !ok {
		return ErrNotFound
	}

	stored := t.Clone()
	stored.Status = status
	if status == task.StatusDead && stored.DeadAt.IsZero() {
		stored.DeadAt = time.Now().UTC()
	}
	if err := r.write(ctx, stored); err != nil {
		return err
	}
	idx[stored.ID] = stored
	return nil
}

// Withdraw removes a pending task.
func (r *KVRepository) Withdraw(ctx context.Context, channel, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.load(ctx, channel)
	if err != nil {
		return err
	}
	t, ok := idx[id]
	if !ok || t.Status == task.StatusDead {
		return ErrNotFound
	}
	if t.Status == task.StatusInFlight {
		return ErrInFlight
	}
	if err := r.kv.Remove(ctx, taskKey(channel, id)); err != nil {
		return fmt.Errorf("remove task %s: %w", id, err)
	}
	delete(idx, id)
	return nil
}

// ListPending returns pending and in-flight tasks in claim order.
func (r *KVRepository) ListPending(ctx context.Context, channel string) ([]*task.Task, error) {
	return r.list(ctx, channel, func(t *task.Task) bool { return t.Status != task.StatusDead }, task.Less)
}

// ListDeadLetters returns dead letters, oldest first.
func (r *KVRepository) ListDeadLetters(ctx context.Context, channel string) ([]*task.Task, error) {
	return r.list(ctx, channel,
		func(t *task.Task) bool { return t.Status == task.StatusDead },
		func(a, b *task.Task) bool { return a.DeadAt.Before(b.DeadAt) },
	)
}

func (r *KVRepository) list(ctx context.Context, channel string, keep func(*task.Task) bool, less func(a, b *task.Task) bool) ([]*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.load(ctx, channel)
	if err != nil {
		return nil, err
	}
	out := make([]*task.Task, 0, len(idx))
	for _, t := range idx {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

// Recover returns in-flight tasks to pending.
func (r *KVRepository) Recover(ctx context.Context, channel string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.load(ctx, channel)
	if err != nil {
		return 0, err
	}
	n := 0
	for id, t := range idx {
		if t.Status != task.StatusInFlight {
			continue
		}
		recovered := t.Clone()
		recovered.Status = task.StatusPending
		if err := r.write(ctx, recovered); err != nil {
			return n, err
		}
		idx[id] = recovered
		n++
	}
	return n, nil
}

// PurgeDeadLetters deletes dead letters that died before the given time.
func (r *KVRepository) PurgeDeadLetters(ctx context.Context, before time.Time) (int, error) {
	channels, err := r.Channels(ctx)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, ch := range channels {
		idx, err := r.load(ctx, ch)
		if err != nil {
			return n, err
		}
		for id, t := range idx {
			if t.Status != task.StatusDead || !t.DeadAt.Before(before) {
				continue
			}
			if err := r.kv.Remove(ctx, taskKey(ch, id)); err != nil {
				return n, fmt.Errorf("remove dead letter %s: %w", id, err)
			}
			delete(idx, id)
			n++
		}
	}
	return n, nil
}

// Channels lists channels with persisted tasks.
func (r *KVRepository) Channels(ctx context.Context) ([]string, error) {
	keys, err := r.kv.Keys(ctx, kvPrefix)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}

	seen := make(map[string]struct{})
	for _, key := range keys {
		rest := strings.TrimPrefix(key, kvPrefix)
		i := strings.LastIndex(rest, kvTaskSep)
		if i <= 0 {
			continue
		}
		seen[rest[:i]] = struct{}{}
	}

	r.mu.Lock()
	for ch, idx := range r.channels {
		if len(idx) > 0 {
			seen[ch] = struct{}{}
		}
	}
	r.mu.Unlock()

	out := make([]string, 0, len(seen))
	for ch := range seen {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out, nil
}

// Close is a no-op; the KV owns its resources.
func (r *KVRepository) Close() error {
	return nil
}

var _ Repository = (*KVRepository)(nil)
