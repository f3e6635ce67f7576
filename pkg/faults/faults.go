// Package faults defines the crawl fault taxonomy.
package faults

import (
	"errors"
	"fmt"
)

// Type classifies a crawl fault
type Type string

const (
	// TypeDiscovery marks an unparseable or unexpected structure during case discovery
	TypeDiscovery Type = "discovery"
	// TypeDownloadTimeout marks a declared document that never materialized in its wait window
	TypeDownloadTimeout Type = "download_timeout"
	// TypeNavigation marks a mid-page automation error
	TypeNavigation Type = "navigation"
	// TypePersistence marks a ledger or record-store write failure
	TypePersistence Type = "persistence"
)

// Fault is a crawl error carrying full job context
type Fault struct {
	Type    Type
	Group   string
	Gush    string
	Chelka  string
	CaseID  string
	Page    int
	Row     int
	Message string
	Err     error
}

func (f *Fault) Error() string {
	msg := fmt.Sprintf("%s fault (group %s, gush %s, chelka %s, case %s, page %d, row %d): %s",
		f.Type, f.Group, f.Gush, f.Chelka, f.CaseID, f.Page, f.Row, f.Message)
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// New creates a fault of the given type with a formatted message
func New(t Type, msg string, args ...interface{}) *Fault {
	return &Fault{Type: t, Message: fmt.Sprintf(msg, args...)}
}

// Wrap creates a fault of the given type wrapping an underlying error
func Wrap(t Type, err error, msg string) *Fault {
	return &Fault{Type: t, Message: msg, Err: err}
}

// At attaches job position context and returns the fault
func (f *Fault) At(group, gush, chelka, caseID string, page, row int) *Fault {
	f.Group = group
	f.Gush = gush
	f.Chelka = chelka
	f.CaseID = caseID
	f.Page = page
	f.Row = row
	return f
}

// TypeOf returns the fault type of err, or TypeNavigation for plain errors.
// Plain errors come from the automation layer mid-job, which is exactly the
// navigation case.
func TypeOf(err error) Type {
	var f *Fault
	if errors.As(err, &f) {
		return f.Type
	}
	return TypeNavigation
}

// IsRequeueable checks if a fault type may be retried via job re-queue
func IsRequeueable(t Type) bool {
	switch t {
	case TypeNavigation, TypeDownloadTimeout, TypePersistence:
		return true
	case TypeDiscovery:
		return false
	default:
		return true
	}
}
