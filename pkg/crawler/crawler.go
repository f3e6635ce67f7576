// Package crawler contains the crawl engine: parcel and case jobs executed
// by the dispatcher pool, and the orchestrator that runs the crawl phase and
// the reconciliation phase over every group.
package crawler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"archivecrawl/internal/dispatcher"
	"archivecrawl/pkg/config"
	"archivecrawl/pkg/ledger"
	"archivecrawl/pkg/logger"
	"archivecrawl/pkg/records"
	"archivecrawl/pkg/report"
	"archivecrawl/pkg/source"
)

// StatusFileName is the per-group ledger file inside the group directory
const StatusFileName = records.FilePrefix + "status.csv"

// SourceFactory builds a document source for one group. The source receives
// the group directory so it can materialize downloads under the per-case
// subdirectories.
type SourceFactory func(groupDir string) (source.Source, error)

// Crawler orchestrates a full run: crawl every parcel of every group to a
// drained queue, then reconcile each group and aggregate the master report.
type Crawler struct {
	cfg       *config.Config
	newSource SourceFactory
	logger    logger.Logger
}

// New creates a Crawler
func New(cfg *config.Config, factory SourceFactory) *Crawler {
	return &Crawler{
		cfg:       cfg,
		newSource: factory,
		logger:    logger.GetLogger(),
	}
}

// Run executes the crawl and reconciliation phases. It is safe to rerun
// after an interruption: settled parcels and completed cases are skipped
// based on the persisted ledgers.
func (c *Crawler) Run(ctx context.Context) error {
	parcels, err := LoadParcels(c.cfg.Input.Files)
	if err != nil {
		return err
	}

	groups, order, err := c.openGroups(parcels)
	if err != nil {
		return err
	}
	defer closeGroups(groups)

	c.logger.InfoWithFields("Starting crawl", map[string]interface{}{
		"groups":  len(order),
		"parcels": len(parcels),
		"workers": c.cfg.Crawl.Workers,
	})

	queue := dispatcher.NewQueue()
	pool := dispatcher.NewPool(c.cfg.Crawl.Workers, queue, c.logger)

	for _, g := range groups {
		g.Queue = queue
	}
	for _, p := range parcels {
		queue.Push(NewParcelJob(groups[p.Group], p.Ref))
	}

	pool.Start(ctx)
	if err := joinOrCancel(ctx, queue); err != nil {
		pool.Stop()
		return err
	}
	pool.Stop()

	return c.reconcile(ctx, groups, order)
}

// openGroups prepares the per-group directory, ledger and source for every
// group named in the input, preserving input order
func (c *Crawler) openGroups(parcels []Parcel) (map[string]*Group, []string, error) {
	groups := make(map[string]*Group)
	var order []string

	for _, p := range parcels {
		if _, ok := groups[p.Group]; ok {
			continue
		}

		dir := filepath.Join(c.cfg.Output.BaseDirectory, p.Group)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create group directory: %w", err)
		}

		led, err := ledger.Open(p.Group, filepath.Join(dir, StatusFileName))
		if err != nil {
			return nil, nil, err
		}

		src, err := c.newSource(dir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open source for group %s: %w", p.Group, err)
		}

		groups[p.Group] = &Group{
			Name:   p.Group,
			Dir:    dir,
			Source: src,
			Ledger: led,
			Crawl:  c.cfg.Crawl,
			Logger: logger.ForGroup(p.Group),
		}
		order = append(order, p.Group)
	}
	return groups, order, nil
}

func closeGroups(groups map[string]*Group) {
	for _, g := range groups {
		if closer, ok := g.Source.(io.Closer); ok {
			closer.Close()
		}
	}
}

// joinOrCancel waits for the queue to drain, bailing out when the context
// is cancelled with work still pending
func joinOrCancel(ctx context.Context, queue *dispatcher.Queue) error {
	done := make(chan struct{})
	go func() {
		queue.Join()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reconcile merges each group's record tables and verifies them against the
// group directory, then writes the per-group and master reports. Groups are
// independent, so they reconcile concurrently.
func (c *Crawler) reconcile(ctx context.Context, groups map[string]*Group, order []string) error {
	reports := make([]*report.Group, len(order))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.cfg.Crawl.Workers)
	for i, name := range order {
		i := i
		g := groups[name]
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			recs, err := records.MergeGroup(g.Dir)
			if err != nil {
				return err
			}

			rep, err := report.Reconcile(g.Ledger, recs, g.Dir)
			if err != nil {
				return err
			}
			if err := rep.Write(filepath.Join(g.Dir, report.ReportFileName)); err != nil {
				return err
			}

			g.Logger.InfoWithFields("Group reconciled", map[string]interface{}{
				"completed": len(rep.Completed),
				"mismatch":  len(rep.Mismatch),
				"waiting":   len(rep.Waiting),
			})
			reports[i] = rep
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	master := report.Merge(reports)
	if err := master.Write(filepath.Join(c.cfg.Output.BaseDirectory, report.ReportFileName)); err != nil {
		return err
	}

	c.logger.InfoWithFields("Crawl finished", map[string]interface{}{
		"completed":    master.Completed,
		"mismatch":     master.Mismatch,
		"waiting":      master.Waiting,
		"docs_on_disk": master.DocsInDirectory,
	})
	return nil
}
