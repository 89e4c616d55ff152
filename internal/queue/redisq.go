package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/SirClappington/delayq/internal/domain"
)

const DefaultNamespace = "resque:"

// popDelayed removes one record from a timestamp bucket and, once the bucket
// is empty, drops both the list and its schedule entry in the same step.
var popDelayed = r.NewScript(`
local item = redis.call('LPOP', KEYS[1])
if redis.call('LLEN', KEYS[1]) == 0 then
	redis.call('DEL', KEYS[1])
	redis.call('ZREM', KEYS[2], ARGV[1])
end
return item
`)

// RedisQ keeps the deferred index and the ready queues in Redis using the
// resque-scheduler key layout.
type RedisQ struct {
	mu   sync.RWMutex
	rdb  *r.Client
	opts *r.Options

	ns  string
	now func() time.Time
}

type Option func(*RedisQ)

// WithNamespace sets the key prefix. Defaults to "resque:".
func WithNamespace(ns string) Option { return func(q *RedisQ) { q.ns = ns } }

// WithClock overrides the clock used to decide what is due.
func WithClock(now func() time.Time) Option { return func(q *RedisQ) { q.now = now } }

func New(rdb *r.Client, opts ...Option) *RedisQ {
	q := &RedisQ{rdb: rdb, opts: rdb.Options(), ns: DefaultNamespace, now: time.Now}
	for _, o := range opts {
		o(q)
	}
	return q
}

func (q *RedisQ) client() *r.Client {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.rdb
}

func (q *RedisQ) scheduleKey() string                  { return q.ns + "delayed_queue_schedule" }
func (q *RedisQ) delayedKey(ts domain.Timestamp) string { return q.ns + "delayed:" + ts.String() }
func (q *RedisQ) malformedKey() string                  { return q.ns + "delayed:malformed" }
func (q *RedisQ) queueKey(name string) string           { return q.ns + "queue:" + name }
func (q *RedisQ) queuesKey() string                     { return q.ns + "queues" }

func (q *RedisQ) NextDueTimestamp(ctx context.Context) (domain.Timestamp, bool, error) {
	now := domain.TimestampOf(q.now())
	items, err := q.client().ZRangeByScore(ctx, q.scheduleKey(), &r.ZRangeBy{
		Min: "-inf", Max: now.String(), Offset: 0, Count: 1,
	}).Result()
	if err != nil {
		return 0, false, classify(errors.Wrap(err, "zrangebyscore"))
	}
	if len(items) == 0 {
		return 0, false, nil
	}
	ts, err := strconv.ParseInt(items[0], 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(domain.ErrIntegrity, "schedule member %q is not a timestamp", items[0])
	}
	return domain.Timestamp(ts), true, nil
}

func (q *RedisQ) NextItemForTimestamp(ctx context.Context, ts domain.Timestamp) (*domain.Record, error) {
	raw, err := popDelayed.Run(ctx, q.client(), []string{q.delayedKey(ts), q.scheduleKey()}, ts.String()).Text()
	if err == r.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, classify(errors.Wrapf(err, "pop delayed:%d", ts))
	}
	return decodeRecord([]byte(raw)), nil
}

// decodeRecord never fails. Each field is decoded on its own so a bad args
// payload still reports which job it belonged to; the first problem is kept
// in DecodeErr and the drainer reports the record as malformed.
func decodeRecord(raw []byte) *domain.Record {
	rec := &domain.Record{Raw: raw}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		rec.DecodeErr = err
		return rec
	}
	for _, f := range []struct {
		name string
		dst  any
	}{
		{"queue", &rec.Queue},
		{"class", &rec.Class},
		{"args", &rec.Args},
	} {
		v, ok := fields[f.name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, f.dst); err != nil && rec.DecodeErr == nil {
			rec.DecodeErr = errors.Wrap(err, f.name)
		}
	}
	return rec
}

type readyJob struct {
	Class string         `json:"class"`
	Args  map[string]any `json:"args"`
}

func (q *RedisQ) Enqueue(ctx context.Context, queue, class string, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	payload, err := json.Marshal(readyJob{Class: class, Args: args})
	if err != nil {
		return errors.Wrapf(err, "encode %s", class)
	}
	pipe := q.client().TxPipeline()
	pipe.SAdd(ctx, q.queuesKey(), queue)
	pipe.RPush(ctx, q.queueKey(queue), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return classify(errors.Wrapf(err, "push %s", q.queueKey(queue)))
	}
	return nil
}

// Reconnect drops the current client and dials a fresh one with the same
// options.
func (q *RedisQ) Reconnect(ctx context.Context) error {
	fresh := r.NewClient(q.opts)
	if err := fresh.Ping(ctx).Err(); err != nil {
		_ = fresh.Close()
		return classify(errors.Wrap(err, "reconnect"))
	}
	q.mu.Lock()
	old := q.rdb
	q.rdb = fresh
	q.mu.Unlock()
	_ = old.Close()
	return nil
}

func (q *RedisQ) Ping(ctx context.Context) error {
	return classify(errors.Wrap(q.client().Ping(ctx).Err(), "ping"))
}

func (q *RedisQ) Close() error { return q.client().Close() }

// Reject parks a malformed record under delayed:malformed for inspection.
func (q *RedisQ) Reject(ctx context.Context, ts domain.Timestamp, rec *domain.Record, reason string) error {
	raw := rec.Raw
	if len(raw) == 0 {
		var err error
		if raw, err = json.Marshal(rec); err != nil {
			return errors.Wrap(err, "encode rejected record")
		}
	}
	entry, err := json.Marshal(map[string]any{
		"timestamp": int64(ts),
		"reason":    reason,
		"payload":   string(raw),
	})
	if err != nil {
		return errors.Wrap(err, "encode rejected record")
	}
	return classify(errors.Wrap(q.client().RPush(ctx, q.malformedKey(), entry).Err(), "reject"))
}
