// Package export writes working sets to analysis formats.
package export

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/secflow/secflow/internal/model"
	"github.com/secflow/secflow/pkg/errors"
)

// Config holds export configuration.
type Config struct {
	// BatchSize is the number of records per Arrow record batch.
	BatchSize int

	// Compression for Parquet output.
	Compression CompressionType
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:   8192,
		Compression: CompressionSnappy,
	}
}

// CompressionType represents Parquet compression options.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionGzip
	CompressionZstd
)

// String returns the compression type name.
func (c CompressionType) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	default:
		return "uncompressed"
	}
}

// ParseCompression parses a compression type string.
func ParseCompression(s string) CompressionType {
	switch strings.ToLower(s) {
	case "snappy":
		return CompressionSnappy
	case "gzip":
		return CompressionGzip
	case "zstd":
		return CompressionZstd
	default:
		return CompressionNone
	}
}

// Format identifies an output format.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatXLSX    Format = "xlsx"
	FormatDuckDB  Format = "duckdb"
)

// FormatOf infers the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return FormatParquet, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".duckdb", ".db":
		return FormatDuckDB, nil
	default:
		return "", errors.Newf(errors.CodeExport, "unsupported export format %q", filepath.Ext(path)).
			WithContext("path", path)
	}
}

// ToFile writes ws to path in the format implied by its extension.
func ToFile(ctx context.Context, path string, ws *model.WorkingSet, cfg Config) error {
	if ws.Empty() {
		return errors.Precondition("export", "working set is empty; run a filter first")
	}
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, errors.CodeExport, "failed to create output directory")
		}
	}

	switch format {
	case FormatParquet:
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrap(err, errors.CodeExport, "failed to create output file").WithContext("path", path)
		}
		if err := Parquet(ctx, f, ws, cfg); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	case FormatXLSX:
		return XLSX(path, ws)
	default:
		return DuckDB(ctx, path, ws)
	}
}

// columns is the exported column order shared by every format.
var columns = []string{"cik", "company_name", "form_type", "date_filed", "filename", "period"}
