// Package generators provides test data generation utilities.
package generators

import (
	"bytes"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/encoding/charmap"
)

// MasterRow is one row of a quarterly master index.
type MasterRow struct {
	CIK         string
	CompanyName string
	FormType    string
	DateFiled   string
	Filename    string
}

// Line renders the row in pipe-separated form.
func (r MasterRow) Line() string {
	return strings.Join([]string{r.CIK, r.CompanyName, r.FormType, r.DateFiled, r.Filename}, "|")
}

const masterPreamble = `Description:           Master Index of EDGAR Dissemination Feed
Last Data Received:    %s
Comments:              webmaster@sec.gov
Anonymous FTP:         ftp://ftp.sec.gov/edgar/
Cloud HTTP:            https://www.sec.gov/Archives/




CIK|Company Name|Form Type|Date Filed|Filename
--------------------------------------------------------------------------------
`

// MasterGenerator produces master index rows.
type MasterGenerator struct {
	rng *rand.Rand

	// Forms is the pool form types are drawn from.
	Forms []string

	// Companies is the pool company names are drawn from.
	Companies []string
}

// NewMasterGenerator creates a generator with a fixed seed.
func NewMasterGenerator(seed int64) *MasterGenerator {
	return &MasterGenerator{
		rng:       rand.New(rand.NewSource(seed)),
		Forms:     []string{"10-K", "10-Q", "8-K", "SC 13D", "SC 13G", "4"},
		Companies: []string{"ACME CORP", "GLOBEX INC", "INITECH LLC", "SOCIÉTÉ GÉNÉRALE", "UMBRELLA CO"},
	}
}

// Rows generates n rows filed within the given quarter.
func (g *MasterGenerator) Rows(year, quarter, n int) []MasterRow {
	start := time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	rows := make([]MasterRow, n)
	for i := range rows {
		cik := fmt.Sprintf("%d", 1000000+g.rng.Intn(9000000))
		filed := start.AddDate(0, 0, g.rng.Intn(89))
		acc := fmt.Sprintf("%010d-%02d-%06d", g.rng.Intn(1_000_000_000), year%100, i)
		rows[i] = MasterRow{
			CIK:         cik,
			CompanyName: g.Companies[g.rng.Intn(len(g.Companies))],
			FormType:    g.Forms[g.rng.Intn(len(g.Forms))],
			DateFiled:   filed.Format("2006-01-02"),
			Filename:    "edgar/data/" + cik + "/" + acc + ".txt",
		}
	}
	return rows
}

// MasterFile renders rows as a gzip-compressed, Latin-1 encoded master
// index. Extra raw lines are appended verbatim after the rows, which lets
// tests inject malformed input.
func MasterFile(rows []MasterRow, extra ...string) ([]byte, error) {
	var text strings.Builder
	fmt.Fprintf(&text, masterPreamble, "March 31, 2020")
	for _, r := range rows {
		text.WriteString(r.Line())
		text.WriteByte('\n')
	}
	for _, line := range extra {
		text.WriteString(line)
		text.WriteByte('\n')
	}

	encoded, err := charmap.ISO8859_1.NewEncoder().String(text.String())
	if err != nil {
		return nil, fmt.Errorf("encoding master index: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(encoded)); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
