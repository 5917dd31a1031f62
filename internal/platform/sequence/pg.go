package sequence

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

// PGStore keeps counters in the sequence_counters table. Each call is a
// single atomic UPDATE .. RETURNING, so concurrent callers never share a value.
type PGStore struct {
	pool *pgxpool.Pool
	seed SeedFunc
}

func NewPGStore(pool *pgxpool.Pool, seed SeedFunc) *PGStore {
	return &PGStore{pool: pool, seed: seed}
}

func (s *PGStore) Next(ctx context.Context, scope string) (int64, error) {
	q := db.Conn(ctx, s.pool)

	var v int64
	err := q.QueryRow(ctx, `
		UPDATE sequence_counters SET last_value = last_value + 1, updated_at = NOW()
		WHERE scope = $1
		RETURNING last_value`, scope).Scan(&v)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, errors.Wrapf(err, "advance sequence %s", scope)
	}

	var start int64
	if s.seed != nil {
		if start, err = s.seed(ctx, scope); err != nil {
			return 0, errors.Wrapf(err, "seed sequence %s", scope)
		}
	}
	err = q.QueryRow(ctx, `
		INSERT INTO sequence_counters (scope, last_value) VALUES ($1, $2)
		ON CONFLICT (scope) DO UPDATE
		SET last_value = sequence_counters.last_value + 1, updated_at = NOW()
		RETURNING last_value`, scope, start+1).Scan(&v)
	if err != nil {
		return 0, errors.Wrapf(err, "create sequence %s", scope)
	}
	return v, nil
}
