/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Registers the pgx database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// DefaultPostgresTable is the table bulk inserts target unless
// configured otherwise.
const DefaultPostgresTable = "audit_entries"

// postgresColumns is the storage row shape, one row per entry.
// "values" is quoted because it collides with the SQL keyword.
var postgresColumns = []string{
	"id", "actor_id", "source_address", "source_agent", "action",
	"entity_name", "record_id", `"values"`, "metadata", "group_id",
	"created_at", "deleted_at",
}

// PostgresSinkConfig configures a PostgresSink.
type PostgresSinkConfig struct {
	// DSN is the connection string. Never logged; it contains secrets.
	DSN string

	// Table is the target table. Default: audit_entries.
	Table string

	// MaxOpenConns bounds the connection pool. Default: 10.
	MaxOpenConns int

	// PingTimeout bounds the startup health check. Default: 5s.
	PingTimeout time.Duration
}

// PostgresSink bulk-inserts each flushed batch into a Postgres table
// with a single multi-row INSERT.
type PostgresSink struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

// NewPostgresSink opens the database, verifies connectivity and
// returns the sink.
func NewPostgresSink(ctx context.Context, cfg PostgresSinkConfig, logger *zap.Logger) (*PostgresSink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: postgres sink requires a DSN", ErrInvalidConfig)
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	sink := newPostgresSink(db, cfg.Table, logger)
	sink.logger.Info("postgres audit sink created",
		zap.String("table", sink.table),
		zap.Int("max_open_conns", maxOpen))
	return sink, nil
}

// NewPostgresSinkWithDB wraps an existing database handle; the caller
// keeps ownership of the handle's lifecycle in that case.
func NewPostgresSinkWithDB(db *sql.DB, table string, logger *zap.Logger) *PostgresSink {
	return newPostgresSink(db, table, logger)
}

func newPostgresSink(db *sql.DB, table string, logger *zap.Logger) *PostgresSink {
	if table == "" {
		table = DefaultPostgresTable
	}
	return &PostgresSink{
		db:     db,
		table:  table,
		logger: logger.Named("postgres-sink"),
	}
}

// WriteBatch inserts the whole batch with one statement so a flush is
// all-or-nothing at the storage layer too.
func (s *PostgresSink) WriteBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	query, args := s.buildInsert(entries)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert audit entries: %w", err)
	}
	return nil
}

func (s *PostgresSink) buildInsert(entries []*Entry) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ",
		s.table, strings.Join(postgresColumns, ", "))

	args := make([]any, 0, len(entries)*len(postgresColumns))
	for i, entry := range entries {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * len(postgresColumns)
		placeholders := make([]string, len(postgresColumns))
		for j := range postgresColumns {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		fmt.Fprintf(&b, "(%s)", strings.Join(placeholders, ", "))

		var metadata any
		if len(entry.Metadata) > 0 {
			metadata = []byte(entry.Metadata)
		}
		args = append(args,
			entry.ID,
			nullableString(entry.ActorID),
			nullableString(entry.SourceAddress),
			nullableString(entry.SourceAgent),
			entry.Action,
			entry.EntityName,
			entry.RecordID,
			[]byte(entry.Values),
			metadata,
			nullableString(entry.GroupID),
			entry.CreatedAt,
			entry.DeletedAt,
		)
	}
	return b.String(), args
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Close closes the database handle.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

// Name returns the sink identifier.
func (s *PostgresSink) Name() string {
	return "postgres"
}
