package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/JakeFAU/channel-monitor/internal/monitor"
)

// Store is an in-memory monitor.Storage used for dry runs and tests.
type Store struct {
	mu     sync.RWMutex
	tables map[string][]monitor.Row
	nextID map[string]int64
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		tables: make(map[string][]monitor.Row),
		nextID: make(map[string]int64),
	}
}

// Select returns copies of the rows of table matching every where clause. An empty column
// list selects all columns.
func (s *Store) Select(_ context.Context, table string, columns []string, where ...monitor.Where) ([]monitor.Row, error) {
	if err := monitor.ValidateSelect(table, columns, where); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []monitor.Row
	for _, row := range s.tables[table] {
		if !matches(row, where) {
			continue
		}
		if len(columns) == 0 {
			out = append(out, maps.Clone(row))
			continue
		}
		projected := make(monitor.Row, len(columns))
		for _, col := range columns {
			projected[col] = row[col]
		}
		out = append(out, projected)
	}
	return out, nil
}

// Insert validates and appends rows, assigning the table's id column when it has one.
func (s *Store) Insert(_ context.Context, table string, rows ...monitor.Row) (int64, error) {
	for _, row := range rows {
		if err := monitor.ValidateColumns(table, row); err != nil {
			return 0, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idCol := monitor.IDColumn(table)
	var lastID int64
	for _, row := range rows {
		stored := maps.Clone(row)
		if idCol != "" {
			s.nextID[table]++
			lastID = s.nextID[table]
			stored[idCol] = lastID
		}
		s.tables[table] = append(s.tables[table], stored)
	}
	if len(rows) != 1 {
		return 0, nil
	}
	return lastID, nil
}

// Rows returns a copy of every row stored in table.
func (s *Store) Rows(table string) []monitor.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.Row, 0, len(s.tables[table]))
	for _, row := range s.tables[table] {
		out = append(out, maps.Clone(row))
	}
	return out
}

func matches(row monitor.Row, where []monitor.Where) bool {
	for _, w := range where {
		if row[w.Column] != w.Value {
			return false
		}
	}
	return true
}
