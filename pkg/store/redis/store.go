// Package redis implements store.Repository on Redis.
//
// Ready tasks live in a per-channel sorted set scored by claim preference,
// backed-off tasks in a second sorted set scored by NotBefore. Claiming is a
// single Lua script that promotes due tasks and pops the best one into the
// in-flight set, so workers in any number of processes never share a task.
// Task bodies are stored MessagePack-encoded.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/bft-labs/eventship/pkg/store"
	"github.com/bft-labs/eventship/pkg/task"
)

// claimScript promotes due delayed ids, pops the best pending id and marks
// it in flight.
//
// KEYS: pending, delayed, inflight, score. ARGV: now (unix ms).
var claimScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[2], id)
	redis.call('ZADD', KEYS[1], redis.call('HGET', KEYS[4], id), id)
end
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
	return false
end
redis.call('SADD', KEYS[3], popped[1])
return popped[1]
`)

// withdrawScript removes a pending id unless it has been claimed.
//
// KEYS: pending, delayed, inflight, score, task. ARGV: id.
var withdrawScript = goredis.NewScript(`
if redis.call('SISMEMBER', KEYS[3], ARGV[1]) == 1 then
	return 'inflight'
end
local removed = redis.call('ZREM', KEYS[1], ARGV[1]) + redis.call('ZREM', KEYS[2], ARGV[1])
if removed == 0 then
	return 'missing'
end
redis.call('HDEL', KEYS[4], ARGV[1])
redis.call('DEL', KEYS[5])
return 'ok'
`)

// recoverScript moves every in-flight id back to pending.
//
// KEYS: inflight, pending, score.
var recoverScript = goredis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
for _, id in ipairs(ids) do
	redis.call('SREM', KEYS[1], id)
	redis.call('ZADD', KEYS[2], redis.call('HGET', KEYS[3], id), id)
end
return #ids
`)

// Store is a Redis-backed Repository.
type Store struct {
	client goredis.UniversalClient
	keys   keys
	owned  bool
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix. Default "eventship:".
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.keys.prefix = prefix }
}

// New wraps an existing client. Close does not close a client passed here.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, keys: keys{prefix: defaultPrefix}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the Redis server at addr and pings it.
func Open(ctx context.Context, addr string, opts ...Option) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("eventship/redis: ping %s: %w", addr, err)
	}
	s := New(client, opts...)
	s.owned = true
	return s, nil
}

// Close closes the client if Open created it.
func (s *Store) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

// claimScore orders by priority descending, then enqueue time ascending.
// Equal scores fall back to member order, and member ids are time-ordered.
// With the priority clamped the score stays below 2^53, so every
// component is exact in a float64.
func claimScore(t *task.Task) float64 {
	return float64(-task.ClampPriority(t.Priority))*1e13 + float64(t.EnqueuedAt.UnixMilli())
}

func millis(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Put stores the body and indexes the task as ready or delayed.
func (s *Store) Put(ctx context.Context, t *task.Task) error {
	stored := t.Clone()
	stored.Status = task.StatusPending
	body, err := msgpack.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}

	ch := t.Channel
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.keys.channels(), ch)
	pipe.Set(ctx, s.keys.task(ch, t.ID), body, 0)
	pipe.HSet(ctx, s.keys.score(ch), t.ID, claimScore(t))
	s.schedule(ctx, pipe, stored, time.Now())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("eventship/redis: put task: %w", err)
	}
	return nil
}

// schedule adds t to the pending or delayed set depending on NotBefore.
func (s *Store) schedule(ctx context.Context, pipe goredis.Pipeliner, t *task.Task, now time.Time) {
	if t.Ready(now) {
		pipe.ZAdd(ctx, s.keys.pending(t.Channel), goredis.Z{Score: claimScore(t), Member: t.ID})
		return
	}
	pipe.ZAdd(ctx, s.keys.delayed(t.Channel), goredis.Z{Score: millis(t.NotBefore), Member: t.ID})
}

// Claim runs the claim script and loads the claimed body.
func (s *Store) Claim(ctx context.Context, channel string, now time.Time) (*task.Task, error) {
	id, err := claimScript.Run(ctx, s.client,
		[]string{s.keys.pending(channel), s.keys.delayed(channel), s.keys.inflight(channel), s.keys.score(channel)},
		now.UnixMilli(),
	).Text()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, store.ErrEmpty
		}
		return nil, fmt.Errorf("eventship/redis: claim: %w", err)
	}

	t, err := s.get(ctx, channel, id)
	if err != nil {
		return nil, err
	}
	t.Status = task.StatusInFlight
	return t, nil
}

func (s *Store) get(ctx context.Context, channel, id string) (*task.Task, error) {
	body, err := s.client.Get(ctx, s.keys.task(channel, id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("eventship/redis: get task %s: %w", id, err)
	}
	var t task.Task
	if err := msgpack.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &t, nil
}

func (s *Store) exists(ctx context.Context, channel, id string) error {
	n, err := s.client.Exists(ctx, s.keys.task(channel, id)).Result()
	if err != nil {
		return fmt.Errorf("eventship/redis: exists %s: %w", id, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Complete deletes the task and its index entries.
func (s *Store) Complete(ctx context.Context, channel, id string) error {
	if err := s.exists(ctx, channel, id); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keys.task(channel, id))
	pipe.HDel(ctx, s.keys.score(channel), id)
	pipe.SRem(ctx, s.keys.inflight(channel), id)
	pipe.ZRem(ctx, s.keys.pending(channel), id)
	pipe.ZRem(ctx, s.keys.delayed(channel), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("eventship/redis: complete: %w", err)
	}
	return nil
}

// Requeue rewrites the body and schedules the task again.
func (s *Store) Requeue(ctx context.Context, t *task.Task) error {
	if err := s.exists(ctx, t.Channel, t.ID); err != nil {
		return err
	}
	stored := t.Clone()
	stored.Status = task.StatusPending
	body, err := msgpack.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keys.task(t.Channel, t.ID), body, 0)
	pipe.SRem(ctx, s.keys.inflight(t.Channel), t.ID)
	s.schedule(ctx, pipe, stored, time.Now())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("eventship/redis: requeue: %w", err)
	}
	return nil
}

// DeadLetter rewrites the body and moves the id into the dead set.
func (s *Store) DeadLetter(ctx context.Context, t *task.Task) error {
	if err := s.exists(ctx, t.Channel, t.ID); err != nil {
		return err
	}
	stored := t.Clone()
	stored.Status = task.StatusDead
	if stored.DeadAt.IsZero() {
		stored.DeadAt = time.Now().UTC()
	}
	body, err := msgpack.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}

	ch := t.Channel
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keys.task(ch, t.ID), body, 0)
	pipe.SRem(ctx, s.keys.inflight(ch), t.ID)
	pipe.ZRem(ctx, s.keys.pending(ch), t.ID)
	pipe.ZRem(ctx, s.keys.delayed(ch), t.ID)
	pipe.ZAdd(ctx, s.keys.dead(ch), goredis.Z{Score: millis(stored.DeadAt), Member: t.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("eventship/redis: dead-letter: %w", err)
	}
	return nil
}

// Withdraw removes a task that no worker has claimed.
func (s *Store) Withdraw(ctx context.Context, channel, id string) error {
	res, err := withdrawScript.Run(ctx, s.client,
		[]string{
			s.keys.pending(channel), s.keys.delayed(channel), s.keys.inflight(channel),
			s.keys.score(channel), s.keys.task(channel, id),
		},
		id,
	).Text()
	if err != nil {
		return fmt.Errorf("eventship/redis: withdraw: %w", err)
	}
	switch res {
	case "inflight":
		return store.ErrInFlight
	case "missing":
		return store.ErrNotFound
	}
	return nil
}

// ListPending returns ready, delayed and in-flight tasks in claim order.
func (s *Store) ListPending(ctx context.Context, channel string) ([]*task.Task, error) {
	ready, err := s.client.ZRange(ctx, s.keys.pending(channel), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("eventship/redis: list pending: %w", err)
	}
	delayed, err := s.client.ZRange(ctx, s.keys.delayed(channel), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("eventship/redis: list delayed: %w", err)
	}
	inflight, err := s.client.SMembers(ctx, s.keys.inflight(channel)).Result()
	if err != nil {
		return nil, fmt.Errorf("eventship/redis: list in-flight: %w", err)
	}

	out := make([]*task.Task, 0, len(ready)+len(delayed)+len(inflight))
	for _, group := range []struct {
		ids    []string
		status task.Status
	}{
		{ready, task.StatusPending},
		{delayed, task.StatusPending},
		{inflight, task.StatusInFlight},
	} {
		for _, id := range group.ids {
			t, err := s.get(ctx, channel, id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			t.Status = group.status
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return task.Less(out[i], out[j]) })
	return out, nil
}

// ListDeadLetters returns dead letters, oldest first.
func (s *Store) ListDeadLetters(ctx context.Context, channel string) ([]*task.Task, error) {
	ids, err := s.client.ZRange(ctx, s.keys.dead(channel), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("eventship/redis: list dead letters: %w", err)
	}
	out := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.get(ctx, channel, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Recover moves in-flight tasks back to pending.
func (s *Store) Recover(ctx context.Context, channel string) (int, error) {
	n, err := recoverScript.Run(ctx, s.client,
		[]string{s.keys.inflight(channel), s.keys.pending(channel), s.keys.score(channel)},
	).Int()
	if err != nil {
		return 0, fmt.Errorf("eventship/redis: recover: %w", err)
	}
	return n, nil
}

// PurgeDeadLetters deletes dead letters older than before on every channel.
func (s *Store) PurgeDeadLetters(ctx context.Context, before time.Time) (int, error) {
	channels, err := s.Channels(ctx)
	if err != nil {
		return 0, err
	}

	upper := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	total := 0
	for _, ch := range channels {
		ids, err := s.client.ZRangeByScore(ctx, s.keys.dead(ch), &goredis.ZRangeBy{Min: "-inf", Max: upper}).Result()
		if err != nil {
			return total, fmt.Errorf("eventship/redis: purge range: %w", err)
		}
		if len(ids) == 0 {
			continue
		}
		pipe := s.client.TxPipeline()
		for _, id := range ids {
			pipe.Del(ctx, s.keys.task(ch, id))
			pipe.HDel(ctx, s.keys.score(ch), id)
			pipe.ZRem(ctx, s.keys.dead(ch), id)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return total, fmt.Errorf("eventship/redis: purge: %w", err)
		}
		total += len(ids)
	}
	return total, nil
}

// Channels lists channels that still index at least one task.
func (s *Store) Channels(ctx context.Context) ([]string, error) {
	all, err := s.client.SMembers(ctx, s.keys.channels()).Result()
	if err != nil {
		return nil, fmt.Errorf("eventship/redis: list channels: %w", err)
	}
	out := make([]string, 0, len(all))
	for _, ch := range all {
		n, err := s.client.HLen(ctx, s.keys.score(ch)).Result()
		if err != nil {
			return nil, fmt.Errorf("eventship/redis: channel size: %w", err)
		}
		if n > 0 {
			out = append(out, ch)
		}
	}
	sort.Strings(out)
	return out, nil
}

var _ store.Repository = (*Store)(nil)
