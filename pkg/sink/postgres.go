package sink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"inbound-forecaster/pkg/forecast"
)

// DefaultTable receives forecast rows.
const DefaultTable = "reserve_forecast_daily"

// Postgres upserts forecast rows keyed by date.
type Postgres struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgres connects and creates the target table if needed.
func NewPostgres(ctx context.Context, dsn, table string) (*Postgres, error) {
	if table == "" {
		table = DefaultTable
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := &Postgres{pool: pool, table: pgx.Identifier{table}.Sanitize()}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+p.table+` (
			date          DATE PRIMARY KEY,
			reserve_count DOUBLE PRECISION NOT NULL,
			reserve_sum   DOUBLE PRECISION NOT NULL,
			fixed_ratio   DOUBLE PRECISION NOT NULL,
			run_id        TEXT NOT NULL,
			method        TEXT NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create %s: %w", p.table, err)
	}
	return nil
}

func (p *Postgres) Name() string { return "postgres" }

// Write upserts every row in one transaction.
func (p *Postgres) Write(ctx context.Context, res *forecast.Result) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, r := range res.Rows {
		_, err := tx.Exec(ctx, `
			INSERT INTO `+p.table+` (date, reserve_count, reserve_sum, fixed_ratio, run_id, method, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			ON CONFLICT (date) DO UPDATE SET
				reserve_count = EXCLUDED.reserve_count,
				reserve_sum = EXCLUDED.reserve_sum,
				fixed_ratio = EXCLUDED.fixed_ratio,
				run_id = EXCLUDED.run_id,
				method = EXCLUDED.method,
				updated_at = now()
		`, r.Date, r.ReserveCount, r.ReserveSum, r.FixedRatio, res.RunID, string(res.Method))
		if err != nil {
			return fmt.Errorf("upsert %s: %w", r.Date.Format("2006-01-02"), err)
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) Close() { p.pool.Close() }
