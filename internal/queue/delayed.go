package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/SirClappington/delayq/internal/domain"
)

// Producer-side operations on the deferred index.

func encodeRecord(rec domain.Record) ([]byte, error) {
	rec.Args = rec.ArgsOrEmpty()
	b, err := json.Marshal(rec)
	return b, errors.Wrap(err, "encode delayed record")
}

// EnqueueAt schedules rec to be promoted once ts has passed.
func (q *RedisQ) EnqueueAt(ctx context.Context, ts domain.Timestamp, rec domain.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	pipe := q.client().TxPipeline()
	pipe.RPush(ctx, q.delayedKey(ts), payload)
	pipe.ZAdd(ctx, q.scheduleKey(), r.Z{Score: float64(ts), Member: ts.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		return classify(errors.Wrapf(err, "schedule at %d", ts))
	}
	return nil
}

// EnqueueIn schedules rec to be promoted after d has elapsed.
func (q *RedisQ) EnqueueIn(ctx context.Context, d time.Duration, rec domain.Record) error {
	return q.EnqueueAt(ctx, domain.TimestampOf(q.now().Add(d)), rec)
}

// removeDelayed drops every copy of ARGV[2] from every bucket and clears
// buckets it empties, in one step so no reader sees an empty due bucket.
var removeDelayed = r.NewScript(`
local removed = 0
for _, ts in ipairs(redis.call('ZRANGE', KEYS[1], 0, -1)) do
	local key = ARGV[1] .. ts
	local n = redis.call('LREM', key, 0, ARGV[2])
	if n > 0 then
		removed = removed + n
		if redis.call('LLEN', key) == 0 then
			redis.call('DEL', key)
			redis.call('ZREM', KEYS[1], ts)
		end
	end
end
return removed
`)

// RemoveDelayed deletes every scheduled copy of rec and returns how many
// were removed. Buckets left empty are dropped from the schedule.
func (q *RedisQ) RemoveDelayed(ctx context.Context, rec domain.Record) (int, error) {
	payload, err := encodeRecord(rec)
	if err != nil {
		return 0, err
	}
	n, err := removeDelayed.Run(ctx, q.client(), []string{q.scheduleKey()}, q.ns+"delayed:", payload).Int()
	if err != nil {
		return 0, classify(errors.Wrap(err, "remove delayed"))
	}
	return n, nil
}

// DelayedScheduleSize is the number of distinct timestamps holding records.
func (q *RedisQ) DelayedScheduleSize(ctx context.Context) (int64, error) {
	n, err := q.client().ZCard(ctx, q.scheduleKey()).Result()
	return n, classify(errors.Wrap(err, "zcard"))
}

// DelayedTimestampSize is the number of records waiting at ts.
func (q *RedisQ) DelayedTimestampSize(ctx context.Context, ts domain.Timestamp) (int64, error) {
	n, err := q.client().LLen(ctx, q.delayedKey(ts)).Result()
	return n, classify(errors.Wrap(err, "llen"))
}

// QueueSize is the number of ready jobs in the named queue.
func (q *RedisQ) QueueSize(ctx context.Context, queue string) (int64, error) {
	n, err := q.client().LLen(ctx, q.queueKey(queue)).Result()
	return n, classify(errors.Wrap(err, "llen"))
}
