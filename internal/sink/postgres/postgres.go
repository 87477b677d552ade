// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package postgres implements the Postgres sink adapter: it drives a
// translator.Translator to project records into per-mapping CSV files
// and, once a mapping's write interval elapses, bulk-loads the file
// into its target table with COPY FROM STDIN CSV HEADER over pgx/v5.
// Connection parameters come from DB_HOST/DB_PORT/DB_NAME/DB_USER/
// DB_PASS, matching the original adapter's environment-variable
// contract.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nishisan-dev/loutd/internal/record"
	"github.com/nishisan-dev/loutd/internal/translator"
)

// Config holds the per-output settings recognized by the Postgres
// adapter.
type Config struct {
	Schema         string `toml:"db_schema"`
	SchemaFile     string `toml:"json_schema"`
	BatchDirectory string `toml:"batch_directory"`
	BatchSecs      int    `toml:"batch_secs"`
	RetrySecs      int    `toml:"retry_secs"`

	DBHost string `toml:"-"`
	DBPort string `toml:"-"`
	DBName string `toml:"-"`
	DBUser string `toml:"-"`
	DBPass string `toml:"-"`
}

// DefaultConfig mirrors the original adapter's defaults. DBName/DBUser/
// DBPass have no default: the original requires them as environment
// variables and panics without them; callers here surface that as an
// error instead.
func DefaultConfig() Config {
	return Config{
		Schema:         "import",
		SchemaFile:     "/etc/loutd/schema.json",
		BatchDirectory: "/loutd_postgres",
		BatchSecs:      300,
		RetrySecs:      30,
		DBHost:         "localhost",
		DBPort:         "5432",
	}
}

// Shipper implements sink.Shipper for Postgres. Unlike the other
// adapters it does not stage raw records itself: every Stage call is
// handed straight to an internal Translator, which ships each mapping on
// its own schedule. ShouldFlush always reports false, Pending always
// reports 0, and Flush does nothing.
type Shipper struct {
	cfg    Config
	conn   *pgx.Conn
	logger *slog.Logger
	tr     *translator.Translator

	dueMappings map[string]bool
}

// New connects to Postgres and constructs the Translator that backs
// this shipper's CSV staging.
func New(ctx context.Context, cfg Config, schema translator.Schema, logger *slog.Logger) (*Shipper, error) {
	if cfg.DBName == "" || cfg.DBUser == "" || cfg.DBPass == "" {
		return nil, fmt.Errorf("postgres: DB_NAME, DB_USER and DB_PASS must be set")
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s", cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connecting: %w", err)
	}
	if err := os.MkdirAll(cfg.BatchDirectory, 0o755); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("postgres: creating batch directory: %w", err)
	}

	s := &Shipper{cfg: cfg, conn: conn, logger: logger, dueMappings: make(map[string]bool)}
	tr, err := translator.New(cfg.BatchDirectory, time.Duration(cfg.BatchSecs)*time.Second, time.Duration(cfg.RetrySecs)*time.Second, schema, s.copyIn)
	if err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("postgres: building translator: %w", err)
	}
	s.tr = tr
	return s, nil
}

func (s *Shipper) Stage(rec *record.Record) error {
	if shipped, did := s.tr.Process(rec); did {
		s.logger.Info("batch inserted", "records", shipped)
	}
	return nil
}

// ShouldFlush always reports false: the Translator ships each mapping
// on its own write_interval from within Process/Stage, so the generic
// Sink Worker's interval-driven Flush has nothing additional to do.
func (s *Shipper) ShouldFlush() bool { return false }

func (s *Shipper) Pending() int { return 0 }

func (s *Shipper) Flush(ctx context.Context) error { return nil }

func (s *Shipper) Close() error {
	if err := s.tr.Close(); err != nil {
		s.logger.Error("closing translator", "error", err)
	}
	return s.conn.Close(context.Background())
}

// copyIn is the Translator's write callback: it opens the staged CSV
// file at path and COPYs it into schema.<mapping> (with mappingName
// sanitized into a safe SQL identifier first). Matching the original
// adapter's asymmetry, a COPY failure is logged but the callback still
// returns true (the file is truncated and the batch is not retried) —
// only an unsafe table or schema name, or a failure to open the staged
// file itself, returns false and leaves it intact for retry. See
// DESIGN.md.
func (s *Shipper) copyIn(path string, mappingName string, count int) bool {
	table, err := sanitizeTableName(mappingName)
	if err != nil {
		s.logger.Error("rejecting unsafe mapping name", "mapping", mappingName, "error", err)
		return false
	}
	schema, err := validIdent(s.cfg.Schema)
	if err != nil {
		s.logger.Error("rejecting unsafe schema name", "schema", s.cfg.Schema, "error", err)
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		s.logger.Error("opening batch file for db upload", "path", path, "error", err)
		return false
	}
	defer f.Close()

	ctx := context.Background()
	sql := fmt.Sprintf("COPY %s.%s FROM STDIN WITH (FORMAT csv, HEADER true)", schema, table)
	start := time.Now()

	tag, err := s.conn.PgConn().CopyFrom(ctx, f, sql)
	dur := time.Since(start)
	if err != nil {
		if pgErr, ok := asPgError(err); ok {
			s.logger.Error("failed to insert batch", "table", table, "pg_code", pgErr.Code, "error", pgErr.Message)
		} else {
			s.logger.Error("failed to insert batch", "table", table, "error", err)
		}
		return true
	}
	s.logger.Info("batch inserted", "table", table, "records", count, "rows_affected", tag.RowsAffected(), "duration", dur)

	if dur > time.Duration(s.cfg.BatchSecs)*time.Second {
		s.logger.Warn("bulk insert took longer than batch_secs", "table", table, "duration", dur)
	}
	return true
}

func asPgError(err error) (*pgconn.PgError, bool) {
	pgErr, ok := err.(*pgconn.PgError)
	return pgErr, ok
}
