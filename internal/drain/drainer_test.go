package drain

import (
	"context"
	"fmt"
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/SirClappington/delayq/internal/domain"
)

type enqueued struct {
	queue, class string
	args         map[string]any
}

// memStore is an in-memory deferred index with a fixed clock. calls records
// every store call in order.
type memStore struct {
	now      domain.Timestamp
	buckets  map[domain.Timestamp][]*domain.Record
	enqueued []enqueued
	rejected []*domain.Record
	calls    []string

	// failures injected by tests
	dueErr     error
	enqueueErr error
	emptyDue   bool
	staleDue   int // due lookups that report now although the bucket is gone
}

func newMemStore(now domain.Timestamp) *memStore {
	return &memStore{now: now, buckets: map[domain.Timestamp][]*domain.Record{}}
}

func (m *memStore) add(ts domain.Timestamp, rec *domain.Record) {
	m.buckets[ts] = append(m.buckets[ts], rec)
}

func (m *memStore) NextDueTimestamp(context.Context) (domain.Timestamp, bool, error) {
	m.calls = append(m.calls, "due")
	if m.dueErr != nil {
		return 0, false, m.dueErr
	}
	if m.emptyDue {
		return m.now, true, nil
	}
	if m.staleDue > 0 {
		m.staleDue--
		return m.now, true, nil
	}
	var keys []domain.Timestamp
	for ts, recs := range m.buckets {
		if ts <= m.now && len(recs) > 0 {
			keys = append(keys, ts)
		}
	}
	if len(keys) == 0 {
		return 0, false, nil
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys[0], true, nil
}

func (m *memStore) NextItemForTimestamp(_ context.Context, ts domain.Timestamp) (*domain.Record, error) {
	m.calls = append(m.calls, fmt.Sprintf("pop:%d", ts))
	recs := m.buckets[ts]
	if len(recs) == 0 {
		delete(m.buckets, ts)
		return nil, nil
	}
	rec := recs[0]
	m.buckets[ts] = recs[1:]
	return rec, nil
}

func (m *memStore) Enqueue(_ context.Context, queue, class string, args map[string]any) error {
	m.calls = append(m.calls, "enqueue:"+class)
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.enqueued = append(m.enqueued, enqueued{queue, class, args})
	return nil
}

func (m *memStore) Reconnect(context.Context) error { return nil }

func (m *memStore) Reject(_ context.Context, _ domain.Timestamp, rec *domain.Record, _ string) error {
	m.rejected = append(m.rejected, rec)
	return nil
}

func job(queue, class string) *domain.Record {
	return &domain.Record{Queue: queue, Class: class}
}

func TestDrainAllEnqueuesEveryDueRecord(t *testing.T) {
	st := newMemStore(1000)
	for i := 0; i < 25; i++ {
		st.add(domain.Timestamp(900+i%5), job("work", fmt.Sprintf("Job%d", i)))
	}

	res, err := New(st, nil).DrainAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, res.Enqueued)
	assert.Equal(t, 5, res.Timestamps)
	assert.Len(t, st.enqueued, 25)

	_, ok, err := st.NextDueTimestamp(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDrainAllLeavesFutureRecords(t *testing.T) {
	st := newMemStore(100)
	st.add(101, job("work", "Later"))
	st.add(5000, job("work", "MuchLater"))

	res, err := New(st, nil).DrainAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Enqueued)
	assert.Empty(t, st.enqueued)
	assert.Len(t, st.buckets[101], 1)
	assert.Len(t, st.buckets[5000], 1)
}

func TestDrainAllIsIdempotent(t *testing.T) {
	st := newMemStore(100)
	st.add(50, job("a", "A"))
	st.add(60, job("b", "B"))
	d := New(st, nil)

	first, err := d.DrainAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Enqueued)

	second, err := d.DrainAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Enqueued)
	assert.Len(t, st.enqueued, 2)
}

func TestDrainAllExhaustsBucketBeforeNextTimestamp(t *testing.T) {
	st := newMemStore(100)
	st.add(10, job("q", "A1"))
	st.add(10, job("q", "A2"))
	st.add(20, job("q", "B1"))

	_, err := New(st, nil).DrainAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"due",
		"pop:10", "enqueue:A1",
		"pop:10", "enqueue:A2",
		"pop:10",
		"due",
		"pop:20", "enqueue:B1",
		"pop:20",
		"due",
	}, st.calls)
}

func TestDrainAllScenario(t *testing.T) {
	st := newMemStore(150)
	st.add(100, job("queueX", "jobA"))
	st.add(100, job("queueY", "jobB"))
	st.add(200, job("queueZ", "jobC"))

	_, err := New(st, nil).DrainAll(context.Background())
	require.NoError(t, err)

	got := map[string]string{}
	for _, e := range st.enqueued {
		got[e.class] = e.queue
	}
	assert.Equal(t, map[string]string{"jobA": "queueX", "jobB": "queueY"}, got)

	ts, ok, err := st.NextDueTimestamp(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "200 is still in the future, got %d", ts)

	st.now = 250
	ts, ok, err = st.NextDueTimestamp(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Timestamp(200), ts)
}

func TestDrainAllEmptyIndex(t *testing.T) {
	st := newMemStore(100)
	res, err := New(st, nil).DrainAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, st.enqueued)
}

func TestDrainAllDefaultsArgsToEmptyMap(t *testing.T) {
	st := newMemStore(100)
	st.add(1, job("q", "NoArgs"))
	st.add(1, &domain.Record{Queue: "q", Class: "WithArgs", Args: map[string]any{"id": 1}})

	_, err := New(st, nil).DrainAll(context.Background())
	require.NoError(t, err)
	require.Len(t, st.enqueued, 2)
	assert.NotNil(t, st.enqueued[0].args)
	assert.Empty(t, st.enqueued[0].args)
	assert.Equal(t, map[string]any{"id": 1}, st.enqueued[1].args)
}

func TestDrainAllSkipsMalformedRecords(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	st := newMemStore(100)
	st.add(10, job("q", "Good1"))
	st.add(10, &domain.Record{Class: "NoQueue", Raw: []byte(`{"class":"NoQueue"}`)})
	st.add(10, job("", ""))
	st.add(10, job("q", "Good2"))

	res, err := New(st, zap.New(core)).DrainAll(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsMalformed(err))
	assert.Equal(t, 2, res.Enqueued)
	assert.Equal(t, 2, res.Malformed)
	assert.Len(t, st.rejected, 2)
	assert.Equal(t, 2, logs.FilterMessage("skipping malformed delayed job").Len())
	assert.Equal(t, 2, logs.FilterMessage("adding delayed job to queue").Len())
}

func TestDrainAllIntegrityViolation(t *testing.T) {
	st := newMemStore(100)
	st.emptyDue = true

	_, err := New(st, nil).DrainAll(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsIntegrity(err))
	assert.Equal(t, []string{"due", "pop:100", "due", "pop:100"}, st.calls)
}

func TestDrainAllBucketTakenAfterLookup(t *testing.T) {
	st := newMemStore(100)
	st.staleDue = 1
	st.add(200, &domain.Record{Queue: "q", Class: "Later"})

	res, err := New(st, nil).DrainAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Enqueued)
	assert.Equal(t, []string{"due", "pop:100", "due", "due"}, st.calls)
}

func TestDrainAllSurfacesStoreErrors(t *testing.T) {
	st := newMemStore(100)
	st.dueErr = domain.Unavailable(io.EOF)

	_, err := New(st, nil).DrainAll(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsUnavailable(err))

	st = newMemStore(100)
	st.add(1, job("q", "A"))
	st.add(1, job("q", "B"))
	st.enqueueErr = io.ErrClosedPipe

	res, err := New(st, nil).DrainAll(context.Background())
	require.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Zero(t, res.Enqueued)
	// extract-then-enqueue: the record was taken before the failing enqueue
	assert.Equal(t, []string{"due", "pop:1", "enqueue:A"}, st.calls)
}
