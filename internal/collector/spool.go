// Package collector receives lab records over HTTP, spools them to disk as
// one JSON file per lab and date, and relays spooled files to the manager.
package collector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/epimonitor/manager/internal/errors"
)

// sentDir holds files that were relayed successfully, per lab.
const sentDir = "sent"

// Spool is the on-disk queue of record files awaiting relay.
//
// Layout:
//
//	{dir}/{lab}/{lab}_{YYYY-MM-DD}.json
//	{dir}/{lab}/sent/{lab}_{YYYY-MM-DD}.json
type Spool struct {
	dir       string
	dateField string

	mu sync.Mutex
}

// NewSpool creates the spool directory if needed.
func NewSpool(dir, dateField string) (*Spool, error) {
	if dateField == "" {
		return nil, fmt.Errorf("date field is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	return &Spool{dir: dir, dateField: dateField}, nil
}

// Dir returns the spool root.
func (s *Spool) Dir() string {
	return s.dir
}

// FileName returns the spool file name for lab on date.
func FileName(lab string, date time.Time) string {
	return fmt.Sprintf("%s_%s.json", lab, date.Format(time.DateOnly))
}

// Write groups records by their date field and writes one file per date,
// replacing any pending file for the same lab and date. Records are written
// verbatim. It returns the written paths in date order.
func (s *Spool) Write(lab string, records []json.RawMessage) ([]string, error) {
	groups := make(map[time.Time][]json.RawMessage)
	for i, rec := range records {
		date, err := s.recordDate(rec)
		if err != nil {
			return nil, apperrors.NewValidationError(apperrors.CodeInvalidBody,
				fmt.Sprintf("record %d: %v", i, err))
		}
		groups[date] = append(groups[date], rec)
	}

	dates := make([]time.Time, 0, len(groups))
	for d := range groups {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	s.mu.Lock()
	defer s.mu.Unlock()

	labDir := filepath.Join(s.dir, lab)
	if err := os.MkdirAll(labDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lab directory: %w", err)
	}

	paths := make([]string, 0, len(dates))
	for _, d := range dates {
		path := filepath.Join(labDir, FileName(lab, d))
		if err := writeJSONFile(path, groups[d]); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// recordDate extracts the date field. ISO dates are accepted with or
// without a time part.
func (s *Spool) recordDate(rec json.RawMessage) (time.Time, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(rec, &fields); err != nil {
		return time.Time{}, fmt.Errorf("not a JSON object")
	}
	raw, ok := fields[s.dateField]
	if !ok {
		return time.Time{}, fmt.Errorf("missing %s", s.dateField)
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return time.Time{}, fmt.Errorf("%s must be a string", s.dateField)
	}
	if len(value) > len(time.DateOnly) && value[len(time.DateOnly)] == 'T' {
		value = value[:len(time.DateOnly)]
	}
	date, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q", s.dateField, value)
	}
	return date, nil
}

func writeJSONFile(path string, records []json.RawMessage) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".spool-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(bytes.TrimRight(buf.Bytes(), "\n")); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}

// Pending returns the files of lab awaiting relay, sorted by name.
func (s *Spool) Pending(lab string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, lab))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read spool for %s: %w", lab, err)
	}

	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, lab, name))
	}
	return paths, nil
}

// MarkSent moves a relayed file into its lab's sent directory.
func (s *Spool) MarkSent(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dest := filepath.Join(filepath.Dir(path), sentDir)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("failed to create sent directory: %w", err)
	}
	if err := os.Rename(path, filepath.Join(dest, filepath.Base(path))); err != nil {
		return fmt.Errorf("failed to move %s: %w", path, err)
	}
	return nil
}
