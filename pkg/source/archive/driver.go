// Package archive drives the municipal building-archive site with a headless
// browser. It implements source.Source: case discovery by parcel search,
// page-by-page case reading, and download triggering into per-case
// directories. Pages are rendered with chromedp and parsed offline.
package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"

	"archivecrawl/pkg/faults"
	"archivecrawl/pkg/logger"
	"archivecrawl/pkg/ratelimit"
	"archivecrawl/pkg/retry"
	"archivecrawl/pkg/source"
)

// navAttempts is how often a navigation is retried in place before the
// failure is handed to the job layer
const navAttempts = 2

// Config controls the browser driver
type Config struct {
	Homepage          string
	ChromePath        string
	Headless          bool
	UserAgent         string
	NavigationTimeout time.Duration

	// DownloadDir is the group directory; downloads land in per-case
	// subdirectories under it.
	DownloadDir string
}

// Driver is a headless-browser document source for one crawl group. Every
// operation runs in its own browser tab off a shared allocator, so the
// driver is safe for concurrent use by the worker pool.
type Driver struct {
	cfg         Config
	limiter     ratelimit.Limiter
	backoff     retry.BackoffStrategy
	logger      logger.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a driver backed by a headless Chrome allocator
func New(cfg Config, limiter ratelimit.Limiter) (*Driver, error) {
	if cfg.Homepage == "" {
		return nil, fmt.Errorf("archive homepage is required")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-software-rasterizer", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Driver{
		cfg:         cfg,
		limiter:     limiter,
		backoff:     &retry.ConstantBackoff{Delay: 2 * time.Second},
		logger:      logger.GetLogger().WithField("component", "archive"),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// render runs the action sequence in a fresh tab, retrying the whole tab on
// navigation failure
func (d *Driver) render(ctx context.Context, build func() []chromedp.Action) error {
	return retry.Do(ctx, navAttempts, d.backoff, func() error {
		tab, cancel := d.newTab(ctx)
		defer cancel()
		return chromedp.Run(tab, build()...)
	})
}

// Close shuts down the browser allocator
func (d *Driver) Close() error {
	d.allocCancel()
	return nil
}

// newTab opens a fresh browser tab bounded by the navigation timeout
func (d *Driver) newTab(ctx context.Context) (context.Context, context.CancelFunc) {
	taskCtx, taskCancel := chromedp.NewContext(d.allocator)
	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, d.cfg.NavigationTimeout)

	stop := func() {
		timeoutCancel()
		taskCancel()
	}

	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-taskCtx.Done():
		}
	}()
	return taskCtx, stop
}

// caseURL is the direct results URL of a case. page is 1-based; the site
// counts pages from zero.
func (d *Driver) caseURL(caseID string, page int) string {
	url := fmt.Sprintf("%s/pages/results.aspx?owstikid=%s", d.cfg.Homepage, caseID)
	if page > 1 {
		url = fmt.Sprintf("%s&PageIndex=%d", url, page-1)
	}
	return url
}

// openAndSettle navigates to url and clicks through the policy and security
// interstitials the site sometimes shows
func (d *Driver) openAndSettle(url string) []chromedp.Action {
	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		clickIfPresent(`//a[@class='arc-button-big']`),
		clickIfPresent(`//button[@id='proceed-button']`),
		chromedp.Sleep(500 * time.Millisecond),
	}
	if d.cfg.UserAgent != "" {
		actions = append([]chromedp.Action{
			chromedp.ActionFunc(func(ctx context.Context) error {
				return emulation.SetUserAgentOverride(d.cfg.UserAgent).Do(ctx)
			}),
		}, actions...)
	}
	return actions
}

// clickIfPresent clicks the first match of the XPath expression and is a
// no-op when the page has none
func clickIfPresent(xpath string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var clicked bool
		script := fmt.Sprintf(`(function() {
			var n = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
			if (n) { n.click(); return true; }
			return false;
		})()`, xpath)
		return chromedp.Evaluate(script, &clicked).Do(ctx)
	})
}

// DiscoverCases searches the archive by parcel and returns the reachable
// case ids. An empty slice with a nil error means the site confirmed there
// are no cases; an unconfirmed empty result is a discovery fault.
func (d *Driver) DiscoverCases(ctx context.Context, ref source.ParcelRef) ([]string, error) {
	d.limiter.Wait()

	var html string
	err := d.render(ctx, func() []chromedp.Action {
		html = ""
		actions := d.openAndSettle(d.cfg.Homepage)
		return append(actions,
			chromedp.Click(`//select[@class='search-methods']/option[text()='גוש חלקה']`),
			chromedp.SetValue(`//input[@id='search_blocks_input']`, ref.Gush),
			chromedp.SetValue(`//input[@id='search_parcels_input']`, ref.Chelka),
			chromedp.Click(`//a[@class='benefits btn_general']`),
			chromedp.Sleep(2*time.Second),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		)
	})
	if err != nil {
		return nil, navFault(err, "parcel search failed").At("", ref.Gush, ref.Chelka, "", 0, 0)
	}

	cases, confirmedEmpty, err := parseSearchResults(html)
	if err != nil {
		return nil, err
	}
	if len(cases) == 0 && !confirmedEmpty {
		return nil, faults.New(faults.TypeDiscovery,
			"search returned no cases and no no-results message").
			At("", ref.Gush, ref.Chelka, "", 0, 0)
	}

	d.logger.DebugWithFields("Parcel search finished", map[string]interface{}{
		"gush":   ref.Gush,
		"chelka": ref.Chelka,
		"cases":  len(cases),
	})
	return cases, nil
}

// OpenCase renders one results page of a case and parses its rows
func (d *Driver) OpenCase(ctx context.Context, caseID string, page int) (*source.Page, error) {
	d.limiter.Wait()

	var html string
	err := d.render(ctx, func() []chromedp.Action {
		html = ""
		actions := d.openAndSettle(d.caseURL(caseID, page))
		return append(actions,
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		)
	})
	if err != nil {
		return nil, navFault(err, "failed to open case page").At("", "", "", caseID, page, 0)
	}

	pg, err := parseCasePage(html, page)
	if err != nil {
		return nil, err
	}

	d.logger.DebugWithFields("Case page read", map[string]interface{}{
		"case_id": caseID,
		"page":    page,
		"rows":    len(pg.Rows),
	})
	return pg, nil
}

// RequestDownload reopens the row's results page and clicks its download
// cell. The browser materializes the file into the per-case directory; the
// caller polls for it.
func (d *Driver) RequestDownload(ctx context.Context, caseID string, row source.Row) error {
	d.limiter.Wait()

	tab, cancel := d.newTab(ctx)
	defer cancel()

	downloadDir, err := filepath.Abs(filepath.Join(d.cfg.DownloadDir, caseID))
	if err != nil {
		return faults.Wrap(faults.TypePersistence, err, "failed to resolve case download directory")
	}

	actions := d.openAndSettle(d.caseURL(caseID, row.Page))
	actions = append(actions,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(downloadDir),
		chromedp.Click(fmt.Sprintf(`//td[@documentid=%q]`, row.Document)),
		// Give the browser a moment to commit the download before the tab
		// closes; the caller does the real waiting against the filesystem.
		chromedp.Sleep(2*time.Second),
	)
	if err := chromedp.Run(tab, actions...); err != nil {
		return navFault(err, "failed to trigger download of %s", row.Document).
			At("", "", "", caseID, row.Page, row.Number)
	}
	return nil
}

// navFault classifies a chromedp failure. Deadline expiry while a download
// was requested reads as a timeout elsewhere; everything out of the browser
// is a navigation fault here.
func navFault(err error, format string, args ...interface{}) *faults.Fault {
	return faults.Wrap(faults.TypeNavigation, err, fmt.Sprintf(format, args...))
}
