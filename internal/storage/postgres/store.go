// Package postgres provides the Postgres-backed monitor.Storage.
package postgres

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/channel-monitor/internal/monitor"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the store relies on. pgxmock satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

// Storage implements monitor.Storage on Postgres.
type Storage struct {
	pool Pool
}

// NewStorage connects a pool using cfg.
func NewStorage(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Storage{pool: pool}, nil
}

// NewStorageWithPool wraps an existing pool.
func NewStorageWithPool(pool Pool) (*Storage, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Storage{pool: pool}, nil
}

// Ping verifies connectivity.
func (s *Storage) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return &monitor.StorageError{Op: "ping", Err: err}
	}
	return nil
}

// Close releases the pool.
func (s *Storage) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Select returns the requested columns of every row matching all where clauses.
func (s *Storage) Select(ctx context.Context, table string, columns []string, where ...monitor.Where) ([]monitor.Row, error) {
	if err := monitor.ValidateSelect(table, columns, where); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		columns = monitor.Schema[table]
	}
	query, args := buildSelect(table, columns, where)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &monitor.StorageError{Op: "select", Table: table, Err: err}
	}
	defer rows.Close()

	var out []monitor.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, &monitor.StorageError{Op: "select", Table: table, Err: err}
		}
		row := make(monitor.Row, len(columns))
		for i, col := range columns {
			if i < len(values) {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &monitor.StorageError{Op: "select", Table: table, Err: err}
	}
	return out, nil
}

// Insert writes rows into table. A single row into an entity table returns its generated id;
// multi-row inserts go through COPY and return 0.
func (s *Storage) Insert(ctx context.Context, table string, rows ...monitor.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	for _, row := range rows {
		if err := monitor.ValidateColumns(table, row); err != nil {
			return 0, err
		}
	}
	columns := sortedColumns(rows[0])
	if len(rows) == 1 {
		return s.insertOne(ctx, table, columns, rows[0])
	}

	values := make([][]any, 0, len(rows))
	for _, row := range rows {
		vals, err := rowValues(table, columns, row)
		if err != nil {
			return 0, err
		}
		values = append(values, vals)
	}
	if _, err := s.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(values)); err != nil {
		return 0, &monitor.StorageError{Op: "insert", Table: table, Err: err}
	}
	return 0, nil
}

func (s *Storage) insertOne(ctx context.Context, table string, columns []string, row monitor.Row) (int64, error) {
	args, err := rowValues(table, columns, row)
	if err != nil {
		return 0, err
	}
	query := buildInsert(table, columns)
	idCol := monitor.IDColumn(table)
	if idCol == "" {
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return 0, &monitor.StorageError{Op: "insert", Table: table, Err: err}
		}
		return 0, nil
	}
	var id int64
	if err := s.pool.QueryRow(ctx, query+" RETURNING "+pgx.Identifier{idCol}.Sanitize(), args...).Scan(&id); err != nil {
		return 0, &monitor.StorageError{Op: "insert", Table: table, Err: err}
	}
	return id, nil
}

func buildSelect(table string, columns []string, where []monitor.Where) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(joinIdentifiers(columns))
	b.WriteString(" FROM ")
	b.WriteString(pgx.Identifier{table}.Sanitize())
	args := make([]any, 0, len(where))
	for i, w := range where {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s = $%d", pgx.Identifier{w.Column}.Sanitize(), i+1)
		args = append(args, w.Value)
	}
	return b.String(), args
}

func buildInsert(table string, columns []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{table}.Sanitize(), joinIdentifiers(columns), strings.Join(placeholders, ", "))
}

func joinIdentifiers(columns []string) string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = pgx.Identifier{col}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

func sortedColumns(row monitor.Row) []string {
	columns := make([]string, 0, len(row))
	for col := range row {
		columns = append(columns, col)
	}
	slices.Sort(columns)
	return columns
}

// rowValues orders row by columns, rejecting rows whose column set differs.
func rowValues(table string, columns []string, row monitor.Row) ([]any, error) {
	if len(row) != len(columns) {
		for col := range row {
			if !slices.Contains(columns, col) {
				return nil, &monitor.SchemaError{Table: table, Column: col}
			}
		}
	}
	values := make([]any, len(columns))
	for i, col := range columns {
		v, ok := row[col]
		if !ok {
			return nil, &monitor.SchemaError{Table: table, Column: col}
		}
		values[i] = v
	}
	return values, nil
}
