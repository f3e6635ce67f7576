// Package ledger implements the per-group durable status table that crawl
// jobs read and write and that resume is seeded from.
package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"archivecrawl/pkg/faults"
	"archivecrawl/pkg/logger"
)

// Case status values persisted in the ledger
const (
	StatusPending   = ""
	StatusCompleted = "completed"
	StatusMismatch  = "mismatch"
)

// noResultsMarker is the value persisted in the no_results column
const noResultsMarker = "no_results"

// columns is the fixed ledger schema. Loading fails fast when a column is
// missing or renamed.
var columns = []string{
	"group",
	"gush",
	"chelka",
	"case_id",
	"status",
	"no_results",
	"docs_in_csv",
	"docs_in_directory",
	"docs_in_web",
	"docs_in_csv_not_in_dir",
	"docs_in_dir_not_in_csv",
}

// Record is one ledger row tracking a (parcel, case) pair
type Record struct {
	Group     string
	Gush      string
	Chelka    string
	CaseID    string
	Status    string
	NoResults bool

	DocsInCSV       int
	DocsInDirectory int
	DocsInWeb       int
	CSVNotInDir     int
	DirNotInCSV     int
}

// Key returns the composite lookup key for the record
func (r Record) Key() string {
	return Key(r.Gush, r.Chelka, r.CaseID)
}

// Key builds the composite index key for a (parcel, case) pair within a group
func Key(gush, chelka, caseID string) string {
	return gush + "_" + chelka + "_" + caseID
}

// Ledger is the per-group status table. It owns the records, the composite
// key index and the active-set behind a single mutex; there is no shared
// state across groups.
type Ledger struct {
	group string
	path  string

	mu      sync.Mutex
	records []Record
	index   map[string]int
	active  map[string]struct{}

	logger logger.Logger
}

// Open loads the group's ledger from path, or starts an empty one when no
// file exists yet.
func Open(group, path string) (*Ledger, error) {
	l := &Ledger{
		group:  group,
		path:   path,
		index:  make(map[string]int),
		active: make(map[string]struct{}),
		logger: logger.ForGroup(group),
	}

	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

// Group returns the group this ledger belongs to
func (l *Ledger) Group() string {
	return l.group
}

// Len returns the number of ledger rows
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Records returns a copy of all ledger rows
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Lookup returns the record for an exact (parcel, case) key
func (l *Ledger) Lookup(gush, chelka, caseID string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[Key(gush, chelka, caseID)]
	if !ok {
		return Record{}, false
	}
	return l.records[i], true
}

// PendingCases returns the case ids recorded for a parcel that are not yet
// completed. The second return reports whether the parcel is known at all.
func (l *Ledger) PendingCases(gush, chelka string) ([]string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	known := false
	seen := make(map[string]struct{})
	var pending []string
	for _, r := range l.records {
		if r.Gush != gush || r.Chelka != chelka {
			continue
		}
		known = true
		if r.Status == StatusCompleted || r.CaseID == "" {
			continue
		}
		if _, dup := seen[r.CaseID]; dup {
			continue
		}
		seen[r.CaseID] = struct{}{}
		pending = append(pending, r.CaseID)
	}
	return pending, known
}

// CaseCompleted reports whether the exact (parcel, case) key is already
// marked completed. This is the idempotent-resume check.
func (l *Ledger) CaseCompleted(gush, chelka, caseID string) bool {
	r, ok := l.Lookup(gush, chelka, caseID)
	return ok && r.Status == StatusCompleted
}

// Claim atomically test-and-sets the case in the group's active-set.
// It returns false when another worker already holds the case.
func (l *Ledger) Claim(caseID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[caseID]; busy {
		return false
	}
	l.active[caseID] = struct{}{}
	return true
}

// Release removes the case from the active-set
func (l *Ledger) Release(caseID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, caseID)
}

// Append adds new rows and persists the ledger
func (l *Ledger) Append(recs ...Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, r := range recs {
		r.Group = l.group
		if _, dup := l.index[r.Key()]; dup {
			continue
		}
		l.index[r.Key()] = len(l.records)
		l.records = append(l.records, r)
	}
	return l.save()
}

// MarkNoResults records a parcel whose search gave no results: a single
// completed row with the no_results flag and no case id.
func (l *Ledger) MarkNoResults(gush, chelka string) error {
	return l.Append(Record{
		Gush:      gush,
		Chelka:    chelka,
		Status:    StatusCompleted,
		NoResults: true,
	})
}

// SetDeclared stores the web-declared document count for a (parcel, case)
// key and persists the ledger.
func (l *Ledger) SetDeclared(gush, chelka, caseID string, declared int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[Key(gush, chelka, caseID)]
	if !ok {
		return faults.New(faults.TypePersistence, "no ledger row for case %s", caseID)
	}
	l.records[i].DocsInWeb = declared
	return l.save()
}

// SetRecorded stores the running recorded-document count for a (parcel,
// case) key and persists the ledger.
func (l *Ledger) SetRecorded(gush, chelka, caseID string, recorded int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[Key(gush, chelka, caseID)]
	if !ok {
		return faults.New(faults.TypePersistence, "no ledger row for case %s", caseID)
	}
	l.records[i].DocsInCSV = recorded
	return l.save()
}

// Counts is the per-case tally fed into the completion rule
type Counts struct {
	Declared    int // documents the source declares for the case
	Recorded    int // documents appended to the record store
	InDirectory int // files actually present in the case directory
	Missing     int // recorded but absent on disk
	Unrecorded  int // on disk but never recorded
}

// FinalizeCase applies the per-case completion rule to every ledger row
// carrying the case id (a case reachable from several parcels has one row
// per parcel). A row becomes completed only when recorded, declared and
// directory counts match exactly with no discrepancies; an already
// completed row is never demoted.
func (l *Ledger) FinalizeCase(caseID string, c Counts) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	found := false
	for i := range l.records {
		r := &l.records[i]
		if r.CaseID != caseID {
			continue
		}
		found = true

		if r.DocsInWeb == 0 && c.Declared > 0 {
			r.DocsInWeb = c.Declared
		}
		r.DocsInCSV = c.Recorded
		r.DocsInDirectory = c.InDirectory
		r.CSVNotInDir = c.Missing
		r.DirNotInCSV = c.Unrecorded

		if c.Recorded > 0 &&
			c.Recorded == c.Declared &&
			c.Declared == c.InDirectory &&
			c.Missing == 0 && c.Unrecorded == 0 {
			r.Status = StatusCompleted
		} else if r.Status != StatusCompleted {
			r.Status = StatusMismatch
		}
	}

	if !found {
		return faults.New(faults.TypePersistence, "no ledger row for case %s", caseID)
	}
	return l.save()
}

// Flush persists the current ledger state. Jobs call it when handing a
// faulted job back to the queue so a restart resumes from what was seen.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.save()
}

// load reads the persisted ledger with the fixed schema, failing fast on
// missing or renamed columns and on malformed counter values.
func (l *Ledger) load() error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // first run for this group
		}
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("failed to parse ledger: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	col, err := columnIndex(rows[0], columns)
	if err != nil {
		return fmt.Errorf("ledger %s: %w", l.path, err)
	}

	for i, row := range rows[1:] {
		var parseErr error
		count := func(name string) int {
			if parseErr != nil {
				return 0
			}
			cell := row[col[name]]
			if cell == "" {
				return 0
			}
			n, err := strconv.Atoi(cell)
			if err != nil {
				parseErr = fmt.Errorf("ledger %s: row %d: column %q: malformed integer value %q",
					l.path, i+1, name, cell)
			}
			return n
		}
		rec := Record{
			Group:           row[col["group"]],
			Gush:            row[col["gush"]],
			Chelka:          row[col["chelka"]],
			CaseID:          row[col["case_id"]],
			Status:          row[col["status"]],
			NoResults:       row[col["no_results"]] != "",
			DocsInCSV:       count("docs_in_csv"),
			DocsInDirectory: count("docs_in_directory"),
			DocsInWeb:       count("docs_in_web"),
			CSVNotInDir:     count("docs_in_csv_not_in_dir"),
			DirNotInCSV:     count("docs_in_dir_not_in_csv"),
		}
		if parseErr != nil {
			return parseErr
		}
		l.index[rec.Key()] = len(l.records)
		l.records = append(l.records, rec)
	}

	l.logger.InfoWithFields("Ledger loaded", map[string]interface{}{
		"path": l.path,
		"rows": len(l.records),
	})
	return nil
}

// save writes the ledger atomically (tmp file + rename). Callers hold l.mu.
func (l *Ledger) save() error {
	tempPath := l.path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return faults.Wrap(faults.TypePersistence, err, "failed to create ledger temp file")
	}

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		f.Close()
		os.Remove(tempPath)
		return faults.Wrap(faults.TypePersistence, err, "failed to write ledger header")
	}
	for _, r := range l.records {
		noResults := ""
		if r.NoResults {
			noResults = noResultsMarker
		}
		row := []string{
			r.Group, r.Gush, r.Chelka, r.CaseID, r.Status, noResults,
			strconv.Itoa(r.DocsInCSV),
			strconv.Itoa(r.DocsInDirectory),
			strconv.Itoa(r.DocsInWeb),
			strconv.Itoa(r.CSVNotInDir),
			strconv.Itoa(r.DirNotInCSV),
		}
		if err := w.Write(row); err != nil {
			f.Close()
			os.Remove(tempPath)
			return faults.Wrap(faults.TypePersistence, err, "failed to write ledger row")
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return faults.Wrap(faults.TypePersistence, err, "failed to flush ledger")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return faults.Wrap(faults.TypePersistence, err, "failed to sync ledger")
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return faults.Wrap(faults.TypePersistence, err, "failed to close ledger")
	}
	if err := os.Rename(tempPath, l.path); err != nil {
		os.Remove(tempPath)
		return faults.Wrap(faults.TypePersistence, err, "failed to replace ledger")
	}
	return nil
}

// columnIndex maps required column names to their positions in the header,
// erroring on any missing column.
func columnIndex(header, required []string) (map[string]int, error) {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, name := range required {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}
	return col, nil
}
