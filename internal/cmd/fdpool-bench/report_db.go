package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
)

const createRunsTableSQL = `CREATE TABLE IF NOT EXISTS fdpool_bench_runs (
	ID BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
	RunID CHAR(36) NOT NULL UNIQUE,
	StartAt DATETIME(6) NOT NULL,
	DurationUs BIGINT NOT NULL,
	Workers INT NOT NULL,
	PoolCapacity INT NOT NULL,
	StrictCapacity BOOLEAN NOT NULL,
	ReadCount BIGINT NOT NULL,
	Mismatches BIGINT NOT NULL,
	Errors BIGINT NOT NULL,
	LatP50 DOUBLE NOT NULL,
	LatP95 DOUBLE NOT NULL,
	LatP99 DOUBLE NOT NULL,
	Hits BIGINT NOT NULL,
	Materializations BIGINT NOT NULL,
	Evictions BIGINT NOT NULL,
	Report JSON NOT NULL
)`

const insertRunSQL = `INSERT INTO fdpool_bench_runs
	(RunID, StartAt, DurationUs, Workers, PoolCapacity, StrictCapacity, ReadCount, Mismatches, Errors,
	 LatP50, LatP95, LatP99, Hits, Materializations, Evictions, Report)
	VALUES
	(:RunID, :StartAt, :DurationUs, :Workers, :PoolCapacity, :StrictCapacity, :ReadCount, :Mismatches, :Errors,
	 :LatP50, :LatP95, :LatP99, :Hits, :Materializations, :Evictions, :Report)`

type runRow struct {
	RunID            string  `db:"RunID"`
	StartAt          string  `db:"StartAt"`
	DurationUs       int64   `db:"DurationUs"`
	Workers          int     `db:"Workers"`
	PoolCapacity     int     `db:"PoolCapacity"`
	StrictCapacity   bool    `db:"StrictCapacity"`
	ReadCount        int     `db:"ReadCount"`
	Mismatches       int     `db:"Mismatches"`
	Errors           int     `db:"Errors"`
	LatP50           float64 `db:"LatP50"`
	LatP95           float64 `db:"LatP95"`
	LatP99           float64 `db:"LatP99"`
	Hits             int     `db:"Hits"`
	Materializations int     `db:"Materializations"`
	Evictions        int     `db:"Evictions"`
	Report           string  `db:"Report"`
}

func newRunRow(r *Report) (*runRow, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return &runRow{
		RunID:            r.RunID,
		StartAt:          r.StartAt.UTC().Format("2006-01-02 15:04:05.000000"),
		DurationUs:       r.Total.Microseconds(),
		Workers:          r.Workers,
		PoolCapacity:     r.PoolCapacity,
		StrictCapacity:   r.StrictCapacity,
		ReadCount:        r.Reads,
		Mismatches:       r.Mismatches,
		Errors:           r.Errors,
		LatP50:           r.Latency.P50,
		LatP95:           r.Latency.P95,
		LatP99:           r.Latency.P99,
		Hits:             r.Pool.Hits,
		Materializations: r.Pool.Materializations,
		Evictions:        r.Pool.Evictions,
		Report:           string(raw),
	}, nil
}

func storeReport(ctx context.Context, cfg *ReportDBConfig, r *Report) error {
	row, err := newRunRow(r)
	if err != nil {
		return err
	}

	db, err := sqlx.ConnectContext(ctx, "mysql", cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	// DDL commits implicitly in MySQL, so it stays out of the transaction.
	if _, err := db.ExecContext(ctx, createRunsTableSQL); err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if cfg.Truncate {
		if _, err := tx.ExecContext(ctx, "DELETE FROM fdpool_bench_runs"); err != nil {
			return fmt.Errorf("failed to truncate runs table: %w", err)
		}
	}
	if _, err := tx.NamedExecContext(ctx, insertRunSQL, row); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	return tx.Commit()
}
