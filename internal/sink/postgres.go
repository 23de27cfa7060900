// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sink

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/relabs-tech/balance_screen/internal/session"
)

//go:embed migrations/*.sql
var migrations embed.FS

const insertResult = `
INSERT INTO balance_results (
    session_id, user_id, started_at, completed_at, duration_seconds,
    total_readings, abnormal_readings, outcome, source, reason,
    abnormal_pct, result, readings
) VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12, $13)
ON CONFLICT (session_id) DO NOTHING`

// Postgres archives every record in balance_results.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres migrates the schema and opens a pool.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if err := Migrate(ctx, dsn); err != nil {
		return nil, err
	}
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Deliver(ctx context.Context, rec session.Record) error {
	args, err := insertArgs(rec)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, insertResult, args...)
	return err
}

func insertArgs(rec session.Record) ([]any, error) {
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	readings, err := json.Marshal(rec.Readings)
	if err != nil {
		return nil, fmt.Errorf("marshal readings: %w", err)
	}
	return []any{
		rec.SessionID,
		rec.UserID,
		rec.StartedAt,
		rec.CompletedAt,
		rec.DurationSeconds,
		rec.TotalReadings,
		rec.AbnormalReadings,
		string(rec.Result.Outcome),
		string(rec.Result.Source),
		rec.Result.Reason,
		rec.Result.Metrics.AbnormalPercentage,
		string(result),
		string(readings),
	}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
