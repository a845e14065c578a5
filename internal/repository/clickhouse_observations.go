package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"PriceSim/internal/domain/models"
	pkgch "PriceSim/pkg/clickhouse"
	applogger "PriceSim/pkg/logger"
)

const DefaultObservationsTable = "pricesim_observations"

// Execer is the slice of *sql.DB the exporter writes through.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CHObservationStore exports run observations into a MergeTree table.
type CHObservationStore struct {
	db        Execer
	table     string
	chunkSize int
	l         *applogger.Logger
}

func NewCHObservationStore(ch *pkgch.Client, table string) *CHObservationStore {
	return NewCHObservationStoreWithExecer(ch.DB(), table)
}

func NewCHObservationStoreWithExecer(db Execer, table string) *CHObservationStore {
	if table == "" {
		table = DefaultObservationsTable
	}
	return &CHObservationStore{db: db, table: table, chunkSize: 2000, l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *CHObservationStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHObservationStore) Name() string { return "clickhouse" }

// Schema returns the DDL for the observations table.
func (s *CHObservationStore) Schema() []string {
	return []string{fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            run_id   String,
            seed     UInt64,
            step     UInt32,
            interval LowCardinality(String),
            price    Float64,
            ts       DateTime64(3, 'UTC'),
            state    LowCardinality(String)
        )
        ENGINE = MergeTree
        ORDER BY (run_id, step, interval)
    `, s.table)}
}

func (s *CHObservationStore) Export(ctx context.Context, rec *models.RunRecord) error {
	if rec.Result == nil || len(rec.Result.Observations) == 0 {
		return nil
	}
	obs := rec.Result.Observations
	state := rec.Result.State.String()
	start := time.Now()
	for lo := 0; lo < len(obs); lo += s.chunkSize {
		hi := min(lo+s.chunkSize, len(obs))
		values := make([]string, 0, hi-lo)
		args := make([]any, 0, (hi-lo)*7)
		for _, o := range obs[lo:hi] {
			values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, rec.RunID, rec.Params.Seed, uint32(o.Step), o.Interval.String(), o.Price, o.Timestamp.UTC(), state)
		}
		q := fmt.Sprintf("INSERT INTO %s (run_id, seed, step, interval, price, ts, state) VALUES %s", s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse insert observations error",
				applogger.String("table", s.table),
				applogger.String("run_id", rec.RunID),
				applogger.Int("offset", lo),
				applogger.Error(err),
			)
			return fmt.Errorf("insert observations: %w", err)
		}
	}
	s.l.Debug("clickhouse observations stored",
		applogger.String("run_id", rec.RunID),
		applogger.Int("rows", len(obs)),
		applogger.Duration("took", time.Since(start)),
	)
	return nil
}
