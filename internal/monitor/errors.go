package monitor

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrQueueEmpty reports that a queue had nothing to hand out before its timeout.
	ErrQueueEmpty = errors.New("queue empty")
	// ErrQueueClosed reports that a queue was closed and fully drained.
	ErrQueueClosed = errors.New("queue closed")
	// ErrUnknownResource is returned by StatsAPI implementations for unrecognised resource names.
	ErrUnknownResource = errors.New("unknown resource")
)

// APIError wraps any failure of a StatsAPI call. All of them are treated as transient.
type APIError struct {
	Resource   string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("api %s (status %d): %v", e.Resource, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("api %s: %v", e.Resource, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// ResolutionError reports API metadata that is missing or malformed for an entity.
type ResolutionError struct {
	Kind       string
	ExternalID string
	Reason     string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s %s: %s", e.Kind, e.ExternalID, e.Reason)
}

// SchemaError reports columns that are not part of a table's configured schema.
type SchemaError struct {
	Table  string
	Column string
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("unknown table %q", e.Table)
	}
	return fmt.Sprintf("column %q is not part of table %q", e.Column, e.Table)
}

// StorageError wraps a connection or write failure raised by Storage.
type StorageError struct {
	Op    string
	Table string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ValidateColumns checks that every column of row belongs to table.
func ValidateColumns(table string, row Row) error {
	allowed, ok := Schema[table]
	if !ok {
		return &SchemaError{Table: table}
	}
	for col := range row {
		if !slices.Contains(allowed, col) {
			return &SchemaError{Table: table, Column: col}
		}
	}
	return nil
}

// ValidateSelect checks that table and every requested column are known.
func ValidateSelect(table string, columns []string, where []Where) error {
	allowed, ok := Schema[table]
	if !ok {
		return &SchemaError{Table: table}
	}
	for _, col := range columns {
		if !slices.Contains(allowed, col) {
			return &SchemaError{Table: table, Column: col}
		}
	}
	for _, w := range where {
		if !slices.Contains(allowed, w.Column) {
			return &SchemaError{Table: table, Column: w.Column}
		}
	}
	return nil
}
