// Package report reconciles each crawl group's ledger, merged record table
// and output directory into a verification report, and aggregates the group
// reports into a master run report.
package report

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"archivecrawl/pkg/faults"
	"archivecrawl/pkg/ledger"
	"archivecrawl/pkg/records"
)

// ReportFileName is written into the group directory and, for the master
// report, into the output root.
const ReportFileName = records.FilePrefix + "report.txt"

// CaseLine is one case's reconciliation outcome
type CaseLine struct {
	Gush        string
	Chelka      string
	CaseID      string
	Declared    int
	Recorded    int
	InDirectory int
	Missing     int
	Unrecorded  int
}

// Group is the reconciliation result of one crawl group
type Group struct {
	Name      string
	Generated time.Time

	Parcels   int
	NoResults int

	Completed []CaseLine
	Mismatch  []CaseLine
	Waiting   []CaseLine

	DocsDeclared    int
	DocsRecorded    int
	DocsInDirectory int

	// MissingOnDisk holds recorded document paths absent from the group
	// directory; UnrecordedOnDisk the reverse.
	MissingOnDisk    []string
	UnrecordedOnDisk []string
}

// Reconcile verifies a finished group: it lists every non-tool file under
// the group directory, diffs it against the merged record table, and buckets
// the ledger's cases by their persisted status. It never mutates the ledger.
func Reconcile(led *ledger.Ledger, recs []records.Record, groupDir string) (*Group, error) {
	g := &Group{Name: led.Group(), Generated: time.Now()}

	onDisk, err := listGroupFiles(groupDir)
	if err != nil {
		return nil, err
	}

	recorded := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		recorded[filepath.ToSlash(r.Document)] = struct{}{}
	}

	for path := range recorded {
		if _, ok := onDisk[path]; !ok {
			g.MissingOnDisk = append(g.MissingOnDisk, path)
		}
	}
	for path := range onDisk {
		if _, ok := recorded[path]; !ok {
			g.UnrecordedOnDisk = append(g.UnrecordedOnDisk, path)
		}
	}
	sort.Strings(g.MissingOnDisk)
	sort.Strings(g.UnrecordedOnDisk)

	g.DocsRecorded = len(recorded)
	g.DocsInDirectory = len(onDisk)

	parcels := make(map[string]struct{})
	declaredByCase := make(map[string]int)
	for _, r := range led.Records() {
		parcels[r.Gush+"_"+r.Chelka] = struct{}{}

		if r.NoResults {
			g.NoResults++
			continue
		}
		if r.CaseID != "" {
			declaredByCase[r.CaseID] = r.DocsInWeb
		}

		line := CaseLine{
			Gush:        r.Gush,
			Chelka:      r.Chelka,
			CaseID:      r.CaseID,
			Declared:    r.DocsInWeb,
			Recorded:    r.DocsInCSV,
			InDirectory: r.DocsInDirectory,
			Missing:     r.CSVNotInDir,
			Unrecorded:  r.DirNotInCSV,
		}
		switch r.Status {
		case ledger.StatusCompleted:
			g.Completed = append(g.Completed, line)
		case ledger.StatusMismatch:
			g.Mismatch = append(g.Mismatch, line)
		default:
			g.Waiting = append(g.Waiting, line)
		}
	}
	g.Parcels = len(parcels)

	for _, declared := range declaredByCase {
		g.DocsDeclared += declared
	}
	return g, nil
}

// listGroupFiles walks the group directory and returns every non-tool file
// keyed by its slash-separated path relative to the directory
func listGroupFiles(groupDir string) (map[string]struct{}, error) {
	onDisk := make(map[string]struct{})
	err := filepath.WalkDir(groupDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || records.IsToolFile(path) {
			return nil
		}
		rel, err := filepath.Rel(groupDir, path)
		if err != nil {
			return err
		}
		onDisk[filepath.ToSlash(rel)] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, faults.Wrap(faults.TypePersistence, err, "failed to list group directory")
	}
	return onDisk, nil
}

// Write renders the group report to path
func (g *Group) Write(path string) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Group: %s\n", g.Name)
	fmt.Fprintf(&b, "Generated: %s\n", g.Generated.Format(time.RFC3339))
	fmt.Fprintf(&b, "Parcels: %d (no results: %d)\n", g.Parcels, g.NoResults)
	fmt.Fprintf(&b, "Cases: %d completed, %d mismatch, %d waiting\n",
		len(g.Completed), len(g.Mismatch), len(g.Waiting))
	fmt.Fprintf(&b, "Documents: declared %d, recorded %d, on disk %d\n",
		g.DocsDeclared, g.DocsRecorded, g.DocsInDirectory)

	writeCaseSection(&b, "Mismatched cases", g.Mismatch)
	writeCaseSection(&b, "Waiting cases", g.Waiting)
	writePathSection(&b, "Recorded but missing on disk", g.MissingOnDisk)
	writePathSection(&b, "On disk but unrecorded", g.UnrecordedOnDisk)

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return faults.Wrap(faults.TypePersistence, err, "failed to write group report")
	}
	return nil
}

func writeCaseSection(b *strings.Builder, title string, lines []CaseLine) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, l := range lines {
		fmt.Fprintf(b, "  gush %s chelka %s case %s: declared %d, recorded %d, on disk %d, missing %d, unrecorded %d\n",
			l.Gush, l.Chelka, l.CaseID, l.Declared, l.Recorded, l.InDirectory, l.Missing, l.Unrecorded)
	}
}

func writePathSection(b *strings.Builder, title string, paths []string) {
	if len(paths) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, p := range paths {
		fmt.Fprintf(b, "  %s\n", p)
	}
}

// Master aggregates the group reports of one run
type Master struct {
	Generated time.Time
	Groups    []*Group

	Parcels   int
	NoResults int
	Completed int
	Mismatch  int
	Waiting   int

	DocsDeclared    int
	DocsRecorded    int
	DocsInDirectory int
}

// Merge folds group reports into a master report. Groups are sorted by name
// so the report is stable across runs.
func Merge(groups []*Group) *Master {
	m := &Master{Generated: time.Now(), Groups: groups}
	sort.Slice(m.Groups, func(i, j int) bool { return m.Groups[i].Name < m.Groups[j].Name })

	for _, g := range m.Groups {
		m.Parcels += g.Parcels
		m.NoResults += g.NoResults
		m.Completed += len(g.Completed)
		m.Mismatch += len(g.Mismatch)
		m.Waiting += len(g.Waiting)
		m.DocsDeclared += g.DocsDeclared
		m.DocsRecorded += g.DocsRecorded
		m.DocsInDirectory += g.DocsInDirectory
	}
	return m
}

// Write renders the master report to path
func (m *Master) Write(path string) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Crawl report\n")
	fmt.Fprintf(&b, "Generated: %s\n", m.Generated.Format(time.RFC3339))
	fmt.Fprintf(&b, "Groups: %d\n", len(m.Groups))
	fmt.Fprintf(&b, "Parcels: %d (no results: %d)\n", m.Parcels, m.NoResults)
	fmt.Fprintf(&b, "Cases: %d completed, %d mismatch, %d waiting\n", m.Completed, m.Mismatch, m.Waiting)
	fmt.Fprintf(&b, "Documents: declared %d, recorded %d, on disk %d\n",
		m.DocsDeclared, m.DocsRecorded, m.DocsInDirectory)

	for _, g := range m.Groups {
		fmt.Fprintf(&b, "\n%s: %d completed, %d mismatch, %d waiting, %d no-result parcels, %d documents on disk\n",
			g.Name, len(g.Completed), len(g.Mismatch), len(g.Waiting), g.NoResults, g.DocsInDirectory)
	}

	if len(m.Groups) > 0 {
		fmt.Fprintf(&b, "\nMerged reports:\n")
		for _, g := range m.Groups {
			fmt.Fprintf(&b, "  %s\n", g.Name+"/"+ReportFileName)
		}
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return faults.Wrap(faults.TypePersistence, err, "failed to write master report")
	}
	return nil
}
