package archive

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"archivecrawl/pkg/faults"
	"archivecrawl/pkg/source"
)

// The site speaks Hebrew: the no-results banner, the case breadcrumb and
// the result-count heading are all matched on their fixed phrases.
const (
	noResultsText  = "לא נמצאו תיקי בניין"
	caseCrumbText  = "תיק מספר"
	resultCountCue = "נמצאו"
)

var caseIDRe = regexp.MustCompile(`(\d+)`)

// Document table cell layout of a case results page
const (
	cellDate    = 0
	cellType    = 1
	cellRequest = 3
	cellPermit  = 4
	cellSize    = 5
	cellPDF     = 7
)

// parseSearchResults extracts the case ids from a rendered parcel-search
// result. confirmedEmpty reports whether the site explicitly showed its
// no-results banner, distinguishing a true empty result from a broken page.
func parseSearchResults(html string) (cases []string, confirmedEmpty bool, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, false, faults.Wrap(faults.TypeNavigation, err, "failed to parse search result page")
	}

	// Several cases render as a folder-link list
	doc.Find("a[countlinkstblfolderlink][href]").Each(func(_ int, s *goquery.Selection) {
		if id := strings.TrimSpace(s.Text()); id != "" {
			cases = append(cases, id)
		}
	})
	if len(cases) > 0 {
		return cases, false, nil
	}

	// A single case jumps straight to its page; the id sits in the breadcrumb
	crumb := strings.TrimSpace(doc.Find("li.bread_last").First().Text())
	if strings.Contains(crumb, caseCrumbText) {
		if m := caseIDRe.FindStringSubmatch(crumb); m != nil {
			return []string{m[1]}, false, nil
		}
	}

	doc.Find("strong").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(s.Text(), noResultsText) {
			confirmedEmpty = true
			return false
		}
		return true
	})
	return nil, confirmedEmpty, nil
}

// parseCasePage extracts the document rows and page metadata from a
// rendered case results page
func parseCasePage(html string, page int) (*source.Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, faults.Wrap(faults.TypeNavigation, err, "failed to parse case page")
	}

	pg := &source.Page{Number: page}

	doc.Find("h3 span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if !strings.Contains(text, resultCountCue) {
			return true
		}
		parts := strings.Fields(text)
		if len(parts) > 1 {
			if n, err := strconv.Atoi(parts[1]); err == nil {
				pg.Declared = n
			}
		}
		return false
	})

	pg.MultiParcel = joinListItems(doc, "div.blocks ul li")
	pg.Address = joinListItems(doc, "div.addresses ul li")

	doc.Find("tr.row.draggable").Each(func(i int, tr *goquery.Selection) {
		row := source.Row{Number: i, Page: page}
		tr.Find("td").Each(func(j int, td *goquery.Selection) {
			switch j {
			case cellDate:
				row.Date = strings.TrimSpace(td.Text())
			case cellType:
				row.Type = strings.TrimSpace(td.Text())
			case cellRequest:
				row.Request = strings.TrimSpace(td.Text())
			case cellPermit:
				row.Permit = strings.TrimSpace(td.Text())
			case cellSize:
				row.Size = strings.TrimSpace(td.Text())
			case cellPDF:
				row.Document, _ = td.Attr("documentid")
			}
		})
		if row.Document != "" {
			pg.Rows = append(pg.Rows, row)
		}
	})

	pg.HasNext = doc.Find(`li[aria-label='לעמוד הבא']`).Length() > 0

	if page == 1 && pg.Declared == 0 && len(pg.Rows) == 0 {
		return nil, faults.New(faults.TypeNavigation, "case page rendered without a result count or rows")
	}
	return pg, nil
}

// joinListItems returns the comma-joined texts of a list selection when it
// holds more than one entry, mirroring how the site presents multi-parcel
// cases and address lists
func joinListItems(doc *goquery.Document, selector string) string {
	var items []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			items = append(items, t)
		}
	})
	if len(items) > 1 {
		return strings.Join(items, ", ")
	}
	return ""
}
