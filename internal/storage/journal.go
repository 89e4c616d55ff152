package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/SirClappington/delayq/internal/domain"
)

// Recorder persists promotions. *Store implements it.
type Recorder interface {
	RecordPromotion(ctx context.Context, p *PromotionParams) (string, error)
}

// JournaledQueue wraps a delayed store and records every successful enqueue.
// A failed journal write is logged and never fails the enqueue.
type JournaledQueue struct {
	domain.DelayedStore
	rec        Recorder
	instanceID string
	log        *zap.Logger
	now        func() time.Time
}

func NewJournaledQueue(inner domain.DelayedStore, rec Recorder, instanceID string, log *zap.Logger) *JournaledQueue {
	if log == nil {
		log = zap.NewNop()
	}
	return &JournaledQueue{
		DelayedStore: inner,
		rec:          rec,
		instanceID:   instanceID,
		log:          log.Named("journal"),
		now:          time.Now,
	}
}

func (j *JournaledQueue) Enqueue(ctx context.Context, queue, class string, args map[string]any) error {
	if err := j.DelayedStore.Enqueue(ctx, queue, class, args); err != nil {
		return err
	}
	if _, err := j.rec.RecordPromotion(ctx, &PromotionParams{
		InstanceID: j.instanceID,
		Queue:      queue,
		Class:      class,
		Args:       args,
		PromotedAt: j.now().UTC(),
	}); err != nil {
		j.log.Warn("journal write failed", zap.String("queue", queue), zap.String("class", class), zap.Error(err))
	}
	return nil
}

// Reject forwards to the wrapped store when it can quarantine records.
func (j *JournaledQueue) Reject(ctx context.Context, ts domain.Timestamp, rec *domain.Record, reason string) error {
	if r, ok := j.DelayedStore.(domain.Rejecter); ok {
		return r.Reject(ctx, ts, rec, reason)
	}
	return nil
}
