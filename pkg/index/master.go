package index

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/encoding/charmap"

	"github.com/secflow/secflow/internal/model"
)

// Column names of the quarterly master index, in file order.
const (
	ColumnCIK         = "CIK"
	ColumnCompanyName = "Company Name"
	ColumnFormType    = "Form Type"
	ColumnDateFiled   = "Date Filed"
	ColumnFilename    = "Filename"
)

// Columns lists the master index columns in file order.
var Columns = []string{ColumnCIK, ColumnCompanyName, ColumnFormType, ColumnDateFiled, ColumnFilename}

// DateLayout is the layout of the Date Filed column.
const DateLayout = "2006-01-02"

const (
	fieldSeparator = "|"
	maxLineSize    = 1 << 20
)

// ScanMaster reads a gzip-compressed, Latin-1 encoded master index and
// calls fn with the raw fields of every data row. The preamble, the header
// row and the dashed rule under it are skipped. Returning a non-nil error
// from fn stops the scan and returns that error.
func ScanMaster(r io.Reader, fn func(fields []string) error) error {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer zr.Close()

	scanner := bufio.NewScanner(charmap.ISO8859_1.NewDecoder().Reader(zr))
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	inData := false
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if !inData {
			if strings.HasPrefix(line, ColumnCIK+fieldSeparator) {
				inData = true
			}
			continue
		}
		if line == "" || strings.HasPrefix(line, "---") {
			continue
		}
		if err := fn(strings.Split(line, fieldSeparator)); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading index: %w", err)
	}
	if !inData {
		return fmt.Errorf("index has no %q header row", strings.Join(Columns, fieldSeparator))
	}
	return nil
}

// ScanMasterFile opens path and scans it with ScanMaster.
func ScanMasterFile(path string, fn func(fields []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening index file: %w", err)
	}
	defer f.Close()
	return ScanMaster(f, fn)
}

// ParseRecord converts raw fields into a record. It reports false for rows
// that do not have exactly five fields, have an empty field or carry an
// unparsable date; such rows are dropped. A row with extra fields has a
// stray separator, so its columns cannot be trusted.
func ParseRecord(fields []string, period model.Period) (model.FilingRecord, bool) {
	if len(fields) != len(Columns) {
		return model.FilingRecord{}, false
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
		if fields[i] == "" {
			return model.FilingRecord{}, false
		}
	}
	filed, err := time.Parse(DateLayout, fields[3])
	if err != nil {
		return model.FilingRecord{}, false
	}
	return model.FilingRecord{
		CIK:         fields[0],
		CompanyName: fields[1],
		FormType:    fields[2],
		DateFiled:   filed,
		Filename:    fields[4],
		Period:      period,
	}, true
}

// Value returns the record's value for a master index column.
func Value(r *model.FilingRecord, column string) string {
	switch column {
	case ColumnCIK:
		return r.CIK
	case ColumnCompanyName:
		return r.CompanyName
	case ColumnFormType:
		return r.FormType
	case ColumnDateFiled:
		return r.DateFiled.Format(DateLayout)
	case ColumnFilename:
		return r.Filename
	default:
		return ""
	}
}
