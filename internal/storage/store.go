package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose"
)

type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

// Migrate applies the SQL migrations found in dir.
func (s *Store) Migrate(ctx context.Context, dir string) error {
	if err := s.db.Ping(ctx); err != nil {
		return errors.Wrap(err, "ping postgres")
	}
	db := stdlib.OpenDBFromPool(s.db)
	defer db.Close()
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return errors.Wrapf(goose.Up(db, dir), "migrate %s", dir)
}

// RecordPromotion appends one row to the promotion journal.
func (s *Store) RecordPromotion(ctx context.Context, p *PromotionParams) (string, error) {
	args, err := json.Marshal(p.Args)
	if err != nil {
		return "", errors.Wrap(err, "encode args")
	}
	id := uuid.NewString()
	_, err = s.db.Exec(ctx, `insert into promotions(
id, instance_id, queue, class, args, promoted_at
) values ($1,$2,$3,$4,$5,$6)`,
		id, p.InstanceID, p.Queue, p.Class, args, p.PromotedAt,
	)
	return id, errors.Wrap(err, "insert promotion")
}

type PromotionParams struct {
	InstanceID   string
	Queue, Class string
	Args         map[string]any
	PromotedAt   time.Time
}
