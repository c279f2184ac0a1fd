package output

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PostgresSink inserts one row per element and record into a table with
// columns output, rank, timestep, date, element and one double precision
// column per variable.
type PostgresSink struct {
	db        *sql.DB
	table     string
	variables []string
	ownsDB    bool
}

// OpenPostgres opens and pings a PostgreSQL connection through lib/pq.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// NewPostgresSink creates the target table if needed. When ownsDB is true,
// Close also closes db.
func NewPostgresSink(ctx context.Context, db *sql.DB, table string, variables []string, ownsDB bool) (*PostgresSink, error) {
	s := &PostgresSink{db: db, table: table, variables: append([]string(nil), variables...), ownsDB: ownsDB}
	if _, err := db.ExecContext(ctx, s.createTableSQL()); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return s, nil
}

func (s *PostgresSink) createTableSQL() string {
	cols := []string{
		"output text NOT NULL",
		"rank integer NOT NULL",
		"timestep bigint NOT NULL",
		"date timestamptz NOT NULL",
		"element bigint NOT NULL",
	}
	for _, v := range s.variables {
		cols = append(cols, pq.QuoteIdentifier(v)+" double precision")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", pq.QuoteIdentifier(s.table), strings.Join(cols, ", "))
}

func (s *PostgresSink) insertSQL() string {
	cols := []string{"output", "rank", "timestep", "date", "element"}
	for _, v := range s.variables {
		cols = append(cols, pq.QuoteIdentifier(v))
	}
	placeholders := make([]string, len(cols))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pq.QuoteIdentifier(s.table), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
}

// rows expands a record into insert arguments, one slice per element.
func (s *PostgresSink) rows(rec Record) [][]any {
	n := rec.Len()
	out := make([][]any, n)
	for i := range n {
		args := []any{rec.Output, rec.Rank, rec.Timestep, rec.Date, rec.Offset + i}
		for _, v := range s.variables {
			if values, ok := rec.Values[v]; ok {
				args = append(args, values[i])
			} else {
				args = append(args, nil)
			}
		}
		out[i] = args
	}
	return out
}

func (s *PostgresSink) Write(ctx context.Context, rec Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, s.insertSQL())
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, args := range s.rows(rec) {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
