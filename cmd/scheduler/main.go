package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SirClappington/delayq/internal/api"
	"github.com/SirClappington/delayq/internal/config"
	"github.com/SirClappington/delayq/internal/daemon"
	"github.com/SirClappington/delayq/internal/domain"
	"github.com/SirClappington/delayq/internal/drain"
	"github.com/SirClappington/delayq/internal/logging"
	"github.com/SirClappington/delayq/internal/queue"
	"github.com/SirClappington/delayq/internal/recurring"
	"github.com/SirClappington/delayq/internal/storage"
)

func main() {
	cfg := config.Load()
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("scheduler exited", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx := context.Background()
	instanceID := uuid.NewString()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	q := queue.New(rdb, queue.WithNamespace(cfg.RedisNamespace))
	defer q.Close()
	if err := q.Ping(ctx); err != nil {
		// the loop reconnects on its own once redis is back
		log.Warn("redis not reachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}

	var store domain.DelayedStore = q
	opts := []daemon.Option{
		daemon.WithInterval(cfg.Interval()),
		daemon.WithLogger(log),
		daemon.WithSignals(true),
		daemon.WithInstanceID(instanceID),
	}

	if cfg.PostgresDSN != "" {
		db, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		pg := storage.New(db)
		if err := pg.Migrate(ctx, cfg.MigrationsDir); err != nil {
			return err
		}
		store = storage.NewJournaledQueue(q, pg, instanceID, log)

		lock := storage.NewLeaderLock(db, cfg.LeaderLockKey, log)
		defer func() { _ = lock.Release(context.Background()) }()
		opts = append(opts, daemon.WithLeaderGate(lock))
	}

	if cfg.ScheduleFile != "" {
		sched, err := recurring.Load(cfg.ScheduleFile)
		if err != nil {
			return err
		}
		log.Info("loaded recurring schedule", zap.Int("entries", len(sched.Entries())))
		opts = append(opts, daemon.WithRecurring(recurring.NewRunner(sched, store, log)))
	}

	d := daemon.New(drain.New(store, log), store, opts...)

	var srv *http.Server
	if cfg.SchedAddr != "" {
		srv = &http.Server{Addr: cfg.SchedAddr, Handler: api.NewControlRouter(d, log)}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := d.Run(gctx)
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}
		return err
	})
	if srv != nil {
		g.Go(func() error {
			log.Info("control api listening", zap.String("addr", cfg.SchedAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}
