// Package source abstracts the external archive site behind a small
// collaborator interface. The crawl engine only sees these types; the
// browser automation lives in the archive subpackage.
package source

import (
	"context"
	"regexp"
	"strconv"
)

// ParcelRef identifies a land parcel within a group
type ParcelRef struct {
	Gush   string
	Chelka string
}

// Row describes one document row of a case results page
type Row struct {
	Number   int
	Page     int // results page the row was found on, 1-based
	Date     string
	Type     string
	Request  string
	Permit   string
	Size     string
	Document string // document identifier; also the file name on disk
}

// Page is one retrieved results page of a case
type Page struct {
	Number      int
	Rows        []Row
	Declared    int    // web-declared total document count, populated on page 1
	MultiParcel string // comma-joined parcel list when the case spans several parcels
	Address     string
	HasNext     bool
}

// Source is the document source collaborator driven by crawl jobs.
type Source interface {
	// DiscoverCases searches the archive for a parcel and returns the case
	// ids reachable from it. An empty slice means the search gave no results.
	DiscoverCases(ctx context.Context, ref ParcelRef) ([]string, error)

	// OpenCase navigates to one results page of a case.
	OpenCase(ctx context.Context, caseID string, page int) (*Page, error)

	// RequestDownload triggers asynchronous materialization of a row's
	// document at its deterministic path. The caller polls for the file.
	RequestDownload(ctx context.Context, caseID string, row Row) error
}

var sizeRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*MB`)

// SizeWaitMultiplier converts a row's declared size ("12.5MB") into a wait
// multiplier for the download poll window. Unparseable or small sizes get 1;
// larger documents get proportionally more time.
func SizeWaitMultiplier(size string) float64 {
	m := sizeRe.FindStringSubmatch(size)
	if m == nil {
		return 1
	}
	mb, err := strconv.ParseFloat(m[1], 64)
	if err != nil || mb <= 1 {
		return 1
	}
	return mb/10 + 1
}
