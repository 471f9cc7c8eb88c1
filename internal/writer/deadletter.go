package writer

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/channel-monitor/internal/monitor"
)

// DeadLetter appends dropped records to a JSON-lines file.
type DeadLetter struct {
	mu   sync.Mutex
	path string
}

// NewDeadLetter returns a DeadLetter writing to path.
func NewDeadLetter(path string) *DeadLetter {
	return &DeadLetter{path: path}
}

// Path returns the file location.
func (d *DeadLetter) Path() string { return d.path }

// Write appends one line per record.
func (d *DeadLetter) Write(records []monitor.PersistenceRecord) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(d.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open dead-letter file: %w", err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode dead-letter record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush dead-letter file: %w", err)
	}
	return nil
}

// ReadDeadLetter loads records previously written to path so they can be replayed.
// Numbers come back as int64 and *_at columns as time.Time.
func ReadDeadLetter(path string) ([]monitor.PersistenceRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dead-letter file: %w", err)
	}
	defer f.Close()

	var out []monitor.PersistenceRecord
	dec := json.NewDecoder(f)
	dec.UseNumber()
	for dec.More() {
		var rec monitor.PersistenceRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode dead-letter record %d: %w", len(out)+1, err)
		}
		if err := restoreTypes(rec.Columns); err != nil {
			return nil, fmt.Errorf("dead-letter record %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func restoreTypes(row monitor.Row) error {
	for col, v := range row {
		switch val := v.(type) {
		case json.Number:
			n, err := val.Int64()
			if err != nil {
				return fmt.Errorf("column %s: %w", col, err)
			}
			row[col] = n
		case string:
			if !strings.HasSuffix(col, "_at") {
				continue
			}
			t, err := time.Parse(time.RFC3339Nano, val)
			if err != nil {
				return fmt.Errorf("column %s: %w", col, err)
			}
			row[col] = t
		}
	}
	return nil
}
