package crawler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"archivecrawl/internal/dispatcher"
	"archivecrawl/pkg/config"
	"archivecrawl/pkg/faults"
	"archivecrawl/pkg/ledger"
	"archivecrawl/pkg/logger"
	"archivecrawl/pkg/records"
	"archivecrawl/pkg/retry"
	"archivecrawl/pkg/source"
)

// maxBlindRestarts caps consecutive requeues that made no recording
// progress. Requeues that do make progress reset the cap.
const maxBlindRestarts = 3

// Group bundles the per-group collaborators shared by every job of one
// crawl group. Groups are fully independent of each other.
type Group struct {
	Name   string
	Dir    string
	Source source.Source
	Ledger *ledger.Ledger
	Queue  *dispatcher.Queue
	Crawl  config.CrawlConfig
	Logger logger.Logger
}

// ParcelJob resolves one parcel reference into its case jobs. A parcel the
// ledger already knows is resumed from ledger state without a new search.
type ParcelJob struct {
	g        *Group
	ref      source.ParcelRef
	restarts int
}

// NewParcelJob creates a job for one parcel of the group
func NewParcelJob(g *Group, ref source.ParcelRef) *ParcelJob {
	return &ParcelJob{g: g, ref: ref}
}

// Execute discovers the parcel's cases and fans them out onto the queue
func (j *ParcelJob) Execute(ctx context.Context) error {
	log := j.g.Logger.WithFields(j.Describe())

	pending, known := j.g.Ledger.PendingCases(j.ref.Gush, j.ref.Chelka)
	if known {
		if len(pending) == 0 {
			log.Debug("Parcel already settled, skipping")
			return nil
		}
		log.InfoWithFields("Resuming parcel from ledger", map[string]interface{}{
			"pending_cases": len(pending),
		})
		for _, id := range pending {
			j.g.Queue.Push(NewCaseJob(j.g, j.ref, id))
		}
		return nil
	}

	cases, err := j.g.Source.DiscoverCases(ctx, j.ref)
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		log.Info("No cases found for parcel")
		return j.g.Ledger.MarkNoResults(j.ref.Gush, j.ref.Chelka)
	}

	recs := make([]ledger.Record, 0, len(cases))
	for _, id := range cases {
		recs = append(recs, ledger.Record{
			Gush:   j.ref.Gush,
			Chelka: j.ref.Chelka,
			CaseID: id,
		})
	}
	if err := j.g.Ledger.Append(recs...); err != nil {
		return err
	}

	log.InfoWithFields("Discovered cases", map[string]interface{}{
		"cases": len(cases),
	})
	for _, id := range cases {
		j.g.Queue.Push(NewCaseJob(j.g, j.ref, id))
	}
	return nil
}

// OnFault requeues transient parcel failures a bounded number of times.
// Discovery faults are terminal: the search result cannot be trusted.
func (j *ParcelJob) OnFault(err error) bool {
	if !faults.IsRequeueable(faults.TypeOf(err)) {
		return false
	}
	j.restarts++
	return j.restarts <= maxBlindRestarts
}

// Describe returns log fields identifying the parcel
func (j *ParcelJob) Describe() map[string]interface{} {
	return map[string]interface{}{
		"group":  j.g.Name,
		"gush":   j.ref.Gush,
		"chelka": j.ref.Chelka,
	}
}

// CaseJob walks one case page by page, recording each document row and
// requesting its download. The job carries an explicit (page, row) cursor so
// a requeued job resumes where it faulted instead of starting over.
type CaseJob struct {
	g      *Group
	ref    source.ParcelRef
	caseID string

	page int // next page to open, 1-based
	row  int // next row index within the page, reset on page turn

	store        *records.Store
	seen         map[string]struct{} // page_row keys already recorded
	declared     int
	restarts     int
	lastRecorded int // progress watermark for the requeue decision

	multiParcel string
	address     string

	waits []pendingWait // deferred download waits when wait_all is off
}

type pendingWait struct {
	path       string
	multiplier float64
}

// NewCaseJob creates a job for one case reached from ref
func NewCaseJob(g *Group, ref source.ParcelRef, caseID string) *CaseJob {
	return &CaseJob{g: g, ref: ref, caseID: caseID, page: 1}
}

func (j *CaseJob) caseDir() string {
	return filepath.Join(j.g.Dir, j.caseID)
}

func cursorKey(page, row int) string {
	return fmt.Sprintf("%d_%d", page, row)
}

// init loads the persisted per-case record table so rows recorded by an
// earlier run are skipped, then claims ownership of the case directory.
func (j *CaseJob) init() error {
	if j.store != nil {
		return nil
	}

	dir := j.caseDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return faults.Wrap(faults.TypePersistence, err, "failed to create case directory")
	}

	path := filepath.Join(dir, records.CaseFileName(j.caseID))
	existing, err := records.LoadTable(path)
	if err != nil {
		return err
	}

	j.store = records.NewStore(path)
	j.seen = make(map[string]struct{}, len(existing))
	for _, r := range existing {
		j.store.Append(r)
		j.seen[cursorKey(r.Page, r.Row)] = struct{}{}
	}
	return nil
}

// Execute runs the case walk. Any returned fault leaves the cursor, the
// record store and the ledger persisted, so the requeued job or a fresh
// process picks up exactly where this one stopped.
func (j *CaseJob) Execute(ctx context.Context) error {
	log := j.g.Logger.WithFields(j.Describe())

	if j.g.Ledger.CaseCompleted(j.ref.Gush, j.ref.Chelka, j.caseID) {
		log.Debug("Case already completed, skipping")
		return nil
	}
	if !j.g.Ledger.Claim(j.caseID) {
		// Another worker holds the case, usually because a second parcel
		// reaches the same case. The holder finalizes every ledger row.
		log.Debug("Case claimed by another worker, skipping")
		return nil
	}
	defer j.g.Ledger.Release(j.caseID)

	if err := j.init(); err != nil {
		return err
	}

	for {
		pg, err := j.g.Source.OpenCase(ctx, j.caseID, j.page)
		if err != nil {
			// Restart the faulted page from its first row on requeue.
			j.row = 0
			j.persist()
			return err
		}

		if pg.Number == 1 {
			j.declared = pg.Declared
			j.multiParcel = pg.MultiParcel
			j.address = pg.Address
			if err := j.g.Ledger.SetDeclared(j.ref.Gush, j.ref.Chelka, j.caseID, pg.Declared); err != nil {
				return err
			}
		}

		if err := j.walkRows(ctx, pg, log); err != nil {
			j.persist()
			return err
		}

		j.row = 0
		if !pg.HasNext {
			break
		}
		j.page = pg.Number + 1
	}

	if err := j.drainWaits(ctx, log); err != nil {
		j.persist()
		return err
	}

	if err := j.store.Save(); err != nil {
		return err
	}
	return j.finalize(log)
}

// walkRows records and downloads the page's rows from the current cursor
func (j *CaseJob) walkRows(ctx context.Context, pg *source.Page, log logger.Logger) error {
	for ; j.row < len(pg.Rows); j.row++ {
		r := pg.Rows[j.row]

		key := cursorKey(pg.Number, j.row)
		if _, ok := j.seen[key]; ok {
			continue
		}

		docRel := filepath.Join(j.caseID, r.Document)
		docAbs := filepath.Join(j.g.Dir, docRel)

		if !fileExists(docAbs) {
			if err := j.g.Source.RequestDownload(ctx, j.caseID, r); err != nil {
				return err
			}
			mult := source.SizeWaitMultiplier(r.Size)
			if j.g.Crawl.WaitAll {
				if err := j.waitForFile(ctx, docAbs, mult); err != nil {
					if ctx.Err() != nil {
						return err
					}
					// The row is still recorded; the missing file shows up
					// as a discrepancy at finalization.
					logger.LogDownload(j.g.Name, j.caseID, r.Document, false, err)
				} else {
					logger.LogDownload(j.g.Name, j.caseID, r.Document, true, nil)
				}
			} else {
				j.waits = append(j.waits, pendingWait{path: docAbs, multiplier: mult})
			}
		}

		j.record(pg, r, docRel)
	}
	return nil
}

// record appends a document row to the store and pushes the running count
// into the ledger
func (j *CaseJob) record(pg *source.Page, r source.Row, docRel string) {
	rec := records.Record{
		Group:       j.g.Name,
		Gush:        j.ref.Gush,
		Chelka:      j.ref.Chelka,
		MultiParcel: j.multiParcel,
		Address:     j.address,
		CaseID:      j.caseID,
		Page:        pg.Number,
		Row:         j.row,
		Date:        r.Date,
		Type:        r.Type,
		Request:     r.Request,
		Permit:      r.Permit,
		Size:        r.Size,
		Document:    docRel,
	}
	j.store.Append(rec)
	j.seen[cursorKey(pg.Number, j.row)] = struct{}{}

	if err := j.g.Ledger.SetRecorded(j.ref.Gush, j.ref.Chelka, j.caseID, j.store.Len()); err != nil {
		j.g.Logger.ErrorWithFields("Failed to update recorded count", map[string]interface{}{
			"case_id": j.caseID,
			"error":   err.Error(),
		})
	}
}

// waitForFile polls for the downloaded file until it materializes or the
// size-scaled wait window closes
func (j *CaseJob) waitForFile(ctx context.Context, path string, multiplier float64) error {
	deadline := time.Now().Add(time.Duration(float64(j.g.Crawl.WaitTimeout) * multiplier))
	for {
		if fileExists(path) && !fileExists(path+".crdownload") {
			return nil
		}
		if time.Now().After(deadline) {
			return faults.New(faults.TypeDownloadTimeout, "download of %s did not finish in time", filepath.Base(path))
		}
		if err := retry.Wait(ctx, j.g.Crawl.PollInterval); err != nil {
			return err
		}
	}
}

// drainWaits waits for the downloads deferred by wait_all=false. A download
// that never arrives is logged and left for finalization to count.
func (j *CaseJob) drainWaits(ctx context.Context, log logger.Logger) error {
	for len(j.waits) > 0 {
		w := j.waits[0]
		j.waits = j.waits[1:]
		if err := j.waitForFile(ctx, w.path, w.multiplier); err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.WarnWithFields("Download did not arrive", map[string]interface{}{
				"document": filepath.Base(w.path),
				"error":    err.Error(),
			})
			continue
		}
		log.DebugWithFields("Download finished", map[string]interface{}{
			"document": filepath.Base(w.path),
		})
	}
	return nil
}

// finalize reconciles the case directory against the record store and
// applies the completion rule to every ledger row of the case
func (j *CaseJob) finalize(log logger.Logger) error {
	inDir, missing, unrecorded, err := j.caseDirCounts()
	if err != nil {
		return err
	}

	counts := ledger.Counts{
		Declared:    j.declared,
		Recorded:    j.store.Len(),
		InDirectory: inDir,
		Missing:     missing,
		Unrecorded:  unrecorded,
	}
	if err := j.g.Ledger.FinalizeCase(j.caseID, counts); err != nil {
		return err
	}

	log.InfoWithFields("Case finished", map[string]interface{}{
		"declared":     counts.Declared,
		"recorded":     counts.Recorded,
		"in_directory": counts.InDirectory,
		"missing":      counts.Missing,
		"unrecorded":   counts.Unrecorded,
	})

	// Fewer rows recorded than the site declares means whole rows were never
	// seen. Surface it so the job goes back on the queue while it can still
	// make progress.
	if counts.Recorded < counts.Declared {
		// Rescan from the first page on requeue; recorded rows are skipped.
		j.page = 1
		j.row = 0
		return faults.New(faults.TypeDownloadTimeout,
			"case incomplete: recorded %d of %d declared documents",
			counts.Recorded, counts.Declared).
			At(j.g.Name, j.ref.Gush, j.ref.Chelka, j.caseID, 0, 0)
	}
	return nil
}

// caseDirCounts compares the record store against the files actually in
// the case directory, ignoring the tool's own files
func (j *CaseJob) caseDirCounts() (inDir, missing, unrecorded int, err error) {
	onDisk := make(map[string]struct{})
	entries, err := os.ReadDir(j.caseDir())
	if err != nil {
		return 0, 0, 0, faults.Wrap(faults.TypePersistence, err, "failed to read case directory")
	}
	for _, e := range entries {
		if e.IsDir() || records.IsToolFile(e.Name()) {
			continue
		}
		onDisk[e.Name()] = struct{}{}
	}

	recorded := make(map[string]struct{})
	for _, doc := range j.store.Documents() {
		recorded[filepath.Base(doc)] = struct{}{}
	}

	for name := range recorded {
		if _, ok := onDisk[name]; !ok {
			missing++
		}
	}
	for name := range onDisk {
		if _, ok := recorded[name]; !ok {
			unrecorded++
		}
	}
	return len(onDisk), missing, unrecorded, nil
}

// persist flushes store and ledger before the job is handed back to the
// queue, so a process restart resumes from what was already seen
func (j *CaseJob) persist() {
	if j.store != nil {
		if err := j.store.Save(); err != nil {
			j.g.Logger.ErrorWithFields("Failed to persist record store", map[string]interface{}{
				"case_id": j.caseID,
				"error":   err.Error(),
			})
		}
	}
	if err := j.g.Ledger.Flush(); err != nil {
		j.g.Logger.ErrorWithFields("Failed to persist ledger", map[string]interface{}{
			"case_id": j.caseID,
			"error":   err.Error(),
		})
	}
}

// OnFault decides whether a faulted case job goes back on the queue. A job
// that recorded everything the site declares is done arguing with the site.
// Otherwise each requeue must have made progress since the previous fault;
// attempts that record nothing are capped.
func (j *CaseJob) OnFault(err error) bool {
	if !faults.IsRequeueable(faults.TypeOf(err)) {
		return false
	}

	recorded := 0
	if j.store != nil {
		recorded = j.store.Len()
	}
	if j.declared > 0 && recorded >= j.declared {
		return false
	}
	if recorded > j.lastRecorded {
		j.lastRecorded = recorded
		j.restarts = 0
		return true
	}
	j.restarts++
	return j.restarts <= maxBlindRestarts
}

// Describe returns log fields identifying the case
func (j *CaseJob) Describe() map[string]interface{} {
	return map[string]interface{}{
		"group":   j.g.Name,
		"gush":    j.ref.Gush,
		"chelka":  j.ref.Chelka,
		"case_id": j.caseID,
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
