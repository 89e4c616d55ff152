// Package drain moves due records out of the deferred index and into their
// destination queues.
package drain

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/SirClappington/delayq/internal/domain"
)

// Result summarises one DrainAll pass.
type Result struct {
	Enqueued   int
	Malformed  int
	Timestamps int
}

type Drainer struct {
	store domain.DelayedStore
	log   *zap.Logger
}

func New(store domain.DelayedStore, log *zap.Logger) *Drainer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Drainer{store: store, log: log.Named("drain")}
}

// DrainAll promotes every record whose timestamp has passed. Each bucket is
// exhausted before the next due timestamp is looked up.
//
// Malformed records are skipped and returned combined in the error; the pass
// keeps going. Any store error ends the pass and is returned as is.
func (d *Drainer) DrainAll(ctx context.Context) (Result, error) {
	var (
		res       Result
		malformed error
	)
	for {
		ts, ok, err := d.store.NextDueTimestamp(ctx)
		if err != nil {
			return res, multierr.Append(malformed, fmt.Errorf("next due timestamp: %w", err))
		}
		if !ok {
			return res, malformed
		}

		n, bad, err := d.drainTimestamp(ctx, ts)
		res.Enqueued += n
		res.Malformed += len(bad)
		malformed = multierr.Append(malformed, multierr.Combine(bad...))
		if err != nil {
			return res, multierr.Append(malformed, err)
		}
		res.Timestamps++
	}
}

func (d *Drainer) drainTimestamp(ctx context.Context, ts domain.Timestamp) (int, []error, error) {
	var (
		enqueued, popped int
		bad              []error
		rechecked        bool
	)
	for {
		rec, err := d.store.NextItemForTimestamp(ctx, ts)
		if err != nil {
			return enqueued, bad, fmt.Errorf("next item for %d: %w", ts, err)
		}
		if rec == nil {
			if popped > 0 {
				return enqueued, bad, nil
			}
			if rechecked {
				return enqueued, bad, fmt.Errorf("%w: timestamp %d is due but holds no records", domain.ErrIntegrity, ts)
			}
			// A concurrent remover may have taken the whole bucket since the
			// lookup. Only a timestamp that is still indexed is a violation.
			again, ok, err := d.store.NextDueTimestamp(ctx)
			if err != nil {
				return enqueued, bad, fmt.Errorf("next due timestamp: %w", err)
			}
			if !ok || again != ts {
				return enqueued, bad, nil
			}
			rechecked = true
			continue
		}
		popped++

		if verr := rec.Validate(); verr != nil {
			d.reject(ctx, ts, rec, verr)
			bad = append(bad, verr)
			continue
		}

		d.log.Info("adding delayed job to queue",
			zap.String("queue", rec.Queue),
			zap.String("class", rec.Class),
			zap.Int64("timestamp", int64(ts)))
		if err := d.store.Enqueue(ctx, rec.Queue, rec.Class, rec.ArgsOrEmpty()); err != nil {
			return enqueued, bad, fmt.Errorf("enqueue %s: %w", rec, err)
		}
		enqueued++
	}
}

func (d *Drainer) reject(ctx context.Context, ts domain.Timestamp, rec *domain.Record, verr error) {
	reason := verr.Error()
	if me, ok := verr.(*domain.MalformedError); ok {
		reason = me.Reason
	}
	d.log.Error("skipping malformed delayed job",
		zap.Int64("timestamp", int64(ts)),
		zap.ByteString("raw", rec.Raw),
		zap.Error(verr))

	r, ok := d.store.(domain.Rejecter)
	if !ok {
		return
	}
	if err := r.Reject(ctx, ts, rec, reason); err != nil {
		d.log.Warn("could not quarantine malformed job", zap.Error(err))
	}
}
