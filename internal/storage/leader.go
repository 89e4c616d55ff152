package storage

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// LeaderLock elects one scheduler across processes with a session-level
// postgres advisory lock. The lock lives as long as the held connection.
type LeaderLock struct {
	pool *pgxpool.Pool
	key  int64
	log  *zap.Logger

	mu   sync.Mutex
	conn *pgxpool.Conn
}

func NewLeaderLock(pool *pgxpool.Pool, key int64, log *zap.Logger) *LeaderLock {
	if log == nil {
		log = zap.NewNop()
	}
	return &LeaderLock{pool: pool, key: key, log: log.Named("leader")}
}

// Acquire reports whether this process holds the lock, trying to take it
// when it does not. Safe to call every tick.
func (l *LeaderLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		if err := l.conn.Ping(ctx); err == nil {
			return true, nil
		}
		l.log.Warn("lost leader connection")
		l.conn.Release()
		l.conn = nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, errors.Wrap(err, "acquire connection")
	}
	var ok bool
	if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", l.key).Scan(&ok); err != nil {
		conn.Release()
		return false, errors.Wrap(err, "try advisory lock")
	}
	if !ok {
		conn.Release()
		return false, nil
	}
	l.log.Info("became leader", zap.Int64("key", l.key))
	l.conn = conn
	return true, nil
}

// Release gives up leadership.
func (l *LeaderLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.Exec(ctx, "select pg_advisory_unlock($1)", l.key)
	l.conn.Release()
	l.conn = nil
	return errors.Wrap(err, "advisory unlock")
}
