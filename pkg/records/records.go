// Package records implements the append-only document record store: one row
// per discovered document, persisted per case and merged per group.
package records

import (
	"encoding/csv"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"archivecrawl/pkg/faults"
)

// FilePrefix marks every file the tool writes itself. Prefixed files are
// excluded from directory counts and set differences.
const FilePrefix = "crawl_"

// DocumentsFileName is the per-group merged record table
const DocumentsFileName = FilePrefix + "documents.csv"

// CaseFileName returns the per-case record store file name
func CaseFileName(caseID string) string {
	return FilePrefix + "case_" + caseID + ".csv"
}

// IsToolFile reports whether a file name belongs to the tool rather than to
// the downloaded document set.
func IsToolFile(name string) bool {
	return strings.HasPrefix(filepath.Base(name), FilePrefix)
}

// columns is the fixed record schema. Loading fails fast when a column is
// missing or renamed.
var columns = []string{
	"group",
	"gush",
	"chelka",
	"multi_parcel",
	"address",
	"case_id",
	"page",
	"row",
	"date",
	"type",
	"request",
	"permit",
	"size",
	"document",
}

// Record is one immutable row per discovered document
type Record struct {
	Group       string
	Gush        string
	Chelka      string
	MultiParcel string
	Address     string
	CaseID      string
	Page        int
	Row         int
	Date        string
	Type        string
	Request     string
	Permit      string
	Size        string
	Document    string // file path the source materializes the document at
}

// Store accumulates the document records of one case
type Store struct {
	path string

	mu      sync.Mutex
	records []Record
}

// NewStore creates a record store persisting to path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Append adds a record. Records are never mutated or removed.
func (s *Store) Append(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

// Len returns the number of records appended so far
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Documents returns the file paths of all recorded documents
func (s *Store) Documents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.records))
	for i, r := range s.records {
		out[i] = r.Document
	}
	return out
}

// Save persists the store atomically (tmp file + rename)
func (s *Store) Save() error {
	s.mu.Lock()
	recs := make([]Record, len(s.records))
	copy(recs, s.records)
	s.mu.Unlock()

	return write(s.path, recs)
}

// LoadTable reads a record table with the fixed schema, failing fast on
// missing or renamed columns and on malformed integer cells. A missing file
// yields an empty table.
func LoadTable(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open record table: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse record table: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[name] = i
	}
	for _, name := range columns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("record table %s: missing required column %q", path, name)
		}
	}

	out := make([]Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		page, err := count(row[col["page"]])
		if err != nil {
			return nil, fmt.Errorf("record table %s: row %d: column \"page\": %w", path, i+1, err)
		}
		rowNum, err := count(row[col["row"]])
		if err != nil {
			return nil, fmt.Errorf("record table %s: row %d: column \"row\": %w", path, i+1, err)
		}
		out = append(out, Record{
			Group:       row[col["group"]],
			Gush:        row[col["gush"]],
			Chelka:      row[col["chelka"]],
			MultiParcel: row[col["multi_parcel"]],
			Address:     row[col["address"]],
			CaseID:      row[col["case_id"]],
			Page:        page,
			Row:         rowNum,
			Date:        row[col["date"]],
			Type:        row[col["type"]],
			Request:     row[col["request"]],
			Permit:      row[col["permit"]],
			Size:        row[col["size"]],
			Document:    row[col["document"]],
		})
	}
	return out, nil
}

// MergeGroup collects every per-case record table under the group directory
// into the group's merged documents table. It returns the merged records.
func MergeGroup(groupDir string) ([]Record, error) {
	var caseFiles []string
	err := filepath.WalkDir(groupDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, FilePrefix+"case_") && strings.HasSuffix(name, ".csv") {
			caseFiles = append(caseFiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan group directory: %w", err)
	}

	var merged []Record
	for _, path := range caseFiles {
		recs, err := LoadTable(path)
		if err != nil {
			return nil, err
		}
		merged = append(merged, recs...)
	}

	if err := write(filepath.Join(groupDir, DocumentsFileName), merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// write persists a record table atomically
func write(path string, recs []Record) error {
	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return faults.Wrap(faults.TypePersistence, err, "failed to create record temp file")
	}

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		f.Close()
		os.Remove(tempPath)
		return faults.Wrap(faults.TypePersistence, err, "failed to write record header")
	}
	for _, r := range recs {
		row := []string{
			r.Group, r.Gush, r.Chelka, r.MultiParcel, r.Address, r.CaseID,
			strconv.Itoa(r.Page), strconv.Itoa(r.Row),
			r.Date, r.Type, r.Request, r.Permit, r.Size, r.Document,
		}
		if err := w.Write(row); err != nil {
			f.Close()
			os.Remove(tempPath)
			return faults.Wrap(faults.TypePersistence, err, "failed to write record row")
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return faults.Wrap(faults.TypePersistence, err, "failed to flush record table")
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return faults.Wrap(faults.TypePersistence, err, "failed to close record table")
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return faults.Wrap(faults.TypePersistence, err, "failed to replace record table")
	}
	return nil
}

// count parses an integer cell. An empty cell reads as zero; anything else
// that fails to parse is a corrupt table, not a zero.
func count(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("malformed integer value %q", s)
	}
	return n, nil
}
