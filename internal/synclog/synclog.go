// Package synclog keeps an append-only CSV of per-record sync outcomes for
// operators.
package synclog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cleared-dev/bcsync/internal/state"
)

// Status values written to the log.
const (
	StatusCreated  = "created"
	StatusUpdated  = "updated"
	StatusExisting = "existing"
	StatusFailed   = "failed"
)

// Entry is one row in the sync log.
type Entry struct {
	Timestamp time.Time
	RunID     string
	Stream    string
	RecordID  string
	Status    string
	Hash      string
	Error     string
}

// Header is the CSV header for sync-log.csv.
const Header = "timestamp,run_id,stream,record_id,status,hash,error"

const (
	numFields    = 7
	colTimestamp = 0
	colRunID     = 1
	colStream    = 2
	colRecordID  = 3
	colStatus    = 4
	colHash      = 5
	colError     = 6
)

// FromUpdate turns a record outcome into a log entry.
func FromUpdate(runID string, at time.Time, u state.Update) Entry {
	e := Entry{
		Timestamp: at,
		RunID:     runID,
		Stream:    u.Stream,
		RecordID:  u.ID,
		Hash:      u.Hash,
	}
	switch {
	case !u.Success:
		e.Status = StatusFailed
		e.Error = u.Error
	case u.Existing:
		e.Status = StatusExisting
	case u.IsUpdated:
		e.Status = StatusUpdated
	default:
		e.Status = StatusCreated
	}
	return e
}

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTimestamp] = e.Timestamp.Format(time.RFC3339)
	row[colRunID] = e.RunID
	row[colStream] = e.Stream
	row[colRecordID] = e.RecordID
	row[colStatus] = e.Status
	row[colHash] = e.Hash
	row[colError] = e.Error
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}
	ts, err := time.Parse(time.RFC3339, record[colTimestamp])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTimestamp], err)
	}
	return Entry{
		Timestamp: ts,
		RunID:     record[colRunID],
		Stream:    record[colStream],
		RecordID:  record[colRecordID],
		Status:    record[colStatus],
		Hash:      record[colHash],
		Error:     record[colError],
	}, nil
}

// Append writes entries to the log at path, creating the file, its
// directory and the header if needed.
func Append(path string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}

	needsHeader := false
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening sync log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if needsHeader {
		if err := cw.Write(strings.Split(Header, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	for i, e := range entries {
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read returns all entries of the log at path. A missing file yields none.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening sync log: %w", err)
	}
	defer f.Close()
	return readEntries(f)
}

func readEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading sync log CSV: %w", err)
	}
	if len(records) <= 1 {
		return nil, nil
	}

	var entries []Entry
	for i, rec := range records[1:] {
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
