package model

import (
	"time"
)

// FilingRecord is one index row that survived filtering.
// Filename is the provider-assigned path (edgar/data/<cik>/<accession>.txt)
// from which every derived resource is computed.
type FilingRecord struct {
	CIK         string
	CompanyName string
	FormType    string
	DateFiled   time.Time
	Filename    string

	// Period is the quarterly index the row was read from.
	Period Period
}

// WorkingSet is the filtered collection of filings produced by one filter call.
// It is replaced wholesale on every call and never patched.
type WorkingSet struct {
	ID         string
	CreatedAt  time.Time
	Predicates map[string][]string
	Records    []FilingRecord
}

// Len returns the number of records, treating a nil set as empty.
func (ws *WorkingSet) Len() int {
	if ws == nil {
		return 0
	}
	return len(ws.Records)
}

// Empty reports whether the set holds no records.
func (ws *WorkingSet) Empty() bool {
	return ws.Len() == 0
}

// FormCounts tallies records by form type.
func (ws *WorkingSet) FormCounts() map[string]int {
	counts := make(map[string]int)
	if ws == nil {
		return counts
	}
	for _, r := range ws.Records {
		counts[r.FormType]++
	}
	return counts
}

// ResourceKind distinguishes the per-filing secondary resources.
type ResourceKind uint8

const (
	KindHeader ResourceKind = iota
	KindArchive
)

// String returns the kind name.
func (k ResourceKind) String() string {
	switch k {
	case KindHeader:
		return "header"
	case KindArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// DerivedRef is a per-filing resource computed from FilingRecord.Filename.
// It is recomputed whenever needed and never stored on its own.
type DerivedRef struct {
	Kind      ResourceKind
	URL       string
	LocalPath string
	Cached    bool
}
