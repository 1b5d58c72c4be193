// Package model defines core data structures for secflow.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period identifies one quarterly index resource.
// Periods are ordered by (Year, Quarter) and are plain values.
type Period struct {
	Year    int
	Quarter int
}

// String returns the period as "2019Q4".
func (p Period) String() string {
	return fmt.Sprintf("%dQ%d", p.Year, p.Quarter)
}

// Valid reports whether the quarter is within 1..4 and the year is positive.
func (p Period) Valid() bool {
	return p.Year > 0 && p.Quarter >= 1 && p.Quarter <= 4
}

// Compare returns -1, 0 or +1 depending on whether p is before, equal to or after o.
func (p Period) Compare(o Period) int {
	switch {
	case p.Year < o.Year:
		return -1
	case p.Year > o.Year:
		return 1
	case p.Quarter < o.Quarter:
		return -1
	case p.Quarter > o.Quarter:
		return 1
	}
	return 0
}

// Before reports whether p sorts before o.
func (p Period) Before(o Period) bool {
	return p.Compare(o) < 0
}

// Next returns the period immediately after p.
func (p Period) Next() Period {
	if p.Quarter >= 4 {
		return Period{Year: p.Year + 1, Quarter: 1}
	}
	return Period{Year: p.Year, Quarter: p.Quarter + 1}
}

// PeriodOf returns the calendar quarter containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Quarter: (int(t.Month())-1)/3 + 1}
}

// PeriodRange enumerates every period from start to end inclusive, in chronological order.
// It returns nil when end is before start.
func PeriodRange(start, end Period) []Period {
	if end.Before(start) {
		return nil
	}
	var out []Period
	for p := start; !end.Before(p); p = p.Next() {
		out = append(out, p)
	}
	return out
}

// ParsePeriod parses "2019Q4" (case-insensitive, "2019-Q4" also accepted).
func ParsePeriod(s string) (Period, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "")
	idx := strings.IndexByte(s, 'Q')
	if idx <= 0 || idx == len(s)-1 {
		return Period{}, fmt.Errorf("invalid period %q: want YYYYQn", s)
	}
	year, err := strconv.Atoi(s[:idx])
	if err != nil {
		return Period{}, fmt.Errorf("invalid period year %q: %w", s[:idx], err)
	}
	quarter, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return Period{}, fmt.Errorf("invalid period quarter %q: %w", s[idx+1:], err)
	}
	p := Period{Year: year, Quarter: quarter}
	if !p.Valid() {
		return Period{}, fmt.Errorf("invalid period %q: quarter must be 1..4", s)
	}
	return p, nil
}

// IndexFileRef is one catalog entry for a quarterly index file.
type IndexFileRef struct {
	Period    Period
	URL       string
	LocalPath string
	Cached    bool
}
