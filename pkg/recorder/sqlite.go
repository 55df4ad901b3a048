package recorder

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"inbound-forecaster/pkg/features"
	"inbound-forecaster/pkg/logger"
)

// SQLiteRecorder persists run history to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log *logger.Logger
}

// NewSQLiteRecorder opens (or creates) the database and runs migrations.
func NewSQLiteRecorder(dbPath string, log *logger.Logger) (*SQLiteRecorder, error) {
	if log == nil {
		log = logger.NewNop()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets dashboards read while a scheduled run writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: log}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Infow("SQLite recorder opened", "path", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS forecast_runs (
			run_id        TEXT PRIMARY KEY,
			started_at    INTEGER NOT NULL,
			duration_ms   INTEGER,
			status        TEXT NOT NULL,
			error         TEXT,
			source        TEXT,
			method        TEXT,
			input_rows    INTEGER,
			dropped_dates INTEGER,
			train_start   TEXT,
			train_end     TEXT,
			horizon_start TEXT,
			horizon_end   TEXT,
			train_rows    INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON forecast_runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS forecast_alphas (
			run_id    TEXT NOT NULL,
			target    TEXT NOT NULL,
			model     TEXT,
			alpha     REAL,
			defaulted INTEGER,
			model_mae REAL,
			naive_mae REAL,
			blend_mae REAL,
			PRIMARY KEY (run_id, target)
		)`,

		`CREATE TABLE IF NOT EXISTS forecast_rows (
			run_id        TEXT NOT NULL,
			date          TEXT NOT NULL,
			reserve_count REAL,
			reserve_sum   REAL,
			fixed_ratio   REAL,
			PRIMARY KEY (run_id, date)
		)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordRun stores the run, its per-target blend weights and its rows in
// one transaction.
func (r *SQLiteRecorder) RecordRun(evt *RunEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	status, errText := "ok", ""
	if evt.Err != nil {
		status, errText = "error", evt.Err.Error()
	}
	res := evt.Result
	runID := uuid.NewString()
	var method, trainStart, trainEnd, start, end string
	trainRows := 0
	if res != nil {
		runID = res.RunID
		method = string(res.Method)
		trainStart = res.TrainStart.Format(time.DateOnly)
		trainEnd = res.TrainEnd.Format(time.DateOnly)
		start = res.Start.Format(time.DateOnly)
		end = res.End.Format(time.DateOnly)
		trainRows = res.TrainRows
	}

	_, err = tx.Exec(`INSERT INTO forecast_runs
		(run_id, started_at, duration_ms, status, error, source, method, input_rows, dropped_dates,
		 train_start, train_end, horizon_start, horizon_end, train_rows)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, evt.StartedAt.Unix(), evt.Duration.Milliseconds(), status, errText, evt.Source, method,
		evt.InputRows, evt.DroppedDates, trainStart, trainEnd, start, end, trainRows)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if res != nil {
		for _, t := range features.Targets {
			s, ok := res.Targets[t]
			if !ok {
				continue
			}
			_, err := tx.Exec(`INSERT INTO forecast_alphas
				(run_id, target, model, alpha, defaulted, model_mae, naive_mae, blend_mae)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, string(t), s.Model, s.Blend.Alpha, s.Blend.Defaulted,
				s.Blend.ModelMAE, s.Blend.NaiveMAE, s.Blend.BlendMAE)
			if err != nil {
				return fmt.Errorf("insert alpha %s: %w", t, err)
			}
		}
		for _, row := range res.Rows {
			_, err := tx.Exec(`INSERT INTO forecast_rows
				(run_id, date, reserve_count, reserve_sum, fixed_ratio)
				VALUES (?, ?, ?, ?, ?)`,
				runID, row.Date.Format(time.DateOnly), row.ReserveCount, row.ReserveSum, row.FixedRatio)
			if err != nil {
				return fmt.Errorf("insert row: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	r.log.Debugw("Run recorded", "run_id", runID, "status", status)
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (r *SQLiteRecorder) RecentRuns(limit int) ([]RunSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT r.run_id, r.started_at, COALESCE(r.method, ''), r.status,
			(SELECT COUNT(*) FROM forecast_rows fr WHERE fr.run_id = r.run_id)
		FROM forecast_runs r ORDER BY r.started_at DESC, r.rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		var ts int64
		if err := rows.Scan(&s.RunID, &ts, &s.Method, &s.Status, &s.Days); err != nil {
			rows.Close()
			return nil, err
		}
		s.StartedAt = time.Unix(ts, 0)
		out = append(out, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		alphas, err := r.db.Query(`SELECT target, alpha FROM forecast_alphas WHERE run_id = ?`, out[i].RunID)
		if err != nil {
			return nil, err
		}
		out[i].Alphas = make(map[string]float64)
		for alphas.Next() {
			var target string
			var alpha float64
			if err := alphas.Scan(&target, &alpha); err != nil {
				alphas.Close()
				return nil, err
			}
			out[i].Alphas[target] = alpha
		}
		alphas.Close()
	}
	return out, nil
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
