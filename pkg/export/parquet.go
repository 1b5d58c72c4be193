package export

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/secflow/secflow/internal/model"
	"github.com/secflow/secflow/pkg/errors"
)

// filingSchema returns the Arrow schema for filing records.
func filingSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: columns[0], Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: columns[1], Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: columns[2], Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: columns[3], Type: arrow.FixedWidthTypes.Date32, Nullable: false},
		{Name: columns[4], Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: columns[5], Type: arrow.BinaryTypes.String, Nullable: false},
	}, nil)
}

// writerOnly hides Close so the Parquet writer leaves the caller's
// writer open.
type writerOnly struct{ io.Writer }

// Parquet writes ws to w as a Parquet file. w is not closed.
func Parquet(ctx context.Context, w io.Writer, ws *model.WorkingSet, cfg Config) error {
	if ws.Empty() {
		return errors.Precondition("export parquet", "working set is empty; run a filter first")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}

	var codec compress.Compression
	switch cfg.Compression {
	case CompressionSnappy:
		codec = compress.Codecs.Snappy
	case CompressionGzip:
		codec = compress.Codecs.Gzip
	case CompressionZstd:
		codec = compress.Codecs.Zstd
	default:
		codec = compress.Codecs.Uncompressed
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithDictionaryDefault(true),
		parquet.WithDataPageSize(1024*1024), // 1MB
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	schema := filingSchema()
	fw, err := pqarrow.NewFileWriter(schema, writerOnly{w}, writerProps, arrowProps)
	if err != nil {
		return errors.Wrap(err, errors.CodeExport, "failed to create parquet writer")
	}

	builder := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer builder.Release()

	flush := func() error {
		rec := builder.NewRecord()
		defer rec.Release()
		if rec.NumRows() == 0 {
			return nil
		}
		if err := fw.Write(rec); err != nil {
			return fmt.Errorf("failed to write record batch: %w", err)
		}
		return nil
	}

	for i := range ws.Records {
		if i%cfg.BatchSize == 0 {
			if err := ctx.Err(); err != nil {
				fw.Close()
				return err
			}
		}
		appendRecord(builder, &ws.Records[i])
		if (i+1)%cfg.BatchSize == 0 {
			if err := flush(); err != nil {
				fw.Close()
				return errors.Wrap(err, errors.CodeExport, "parquet export failed")
			}
		}
	}
	if err := flush(); err != nil {
		fw.Close()
		return errors.Wrap(err, errors.CodeExport, "parquet export failed")
	}
	if err := fw.Close(); err != nil {
		return errors.Wrap(err, errors.CodeExport, "failed to close parquet writer")
	}
	return nil
}

func appendRecord(b *array.RecordBuilder, r *model.FilingRecord) {
	b.Field(0).(*array.StringBuilder).Append(r.CIK)
	b.Field(1).(*array.StringBuilder).Append(r.CompanyName)
	b.Field(2).(*array.StringBuilder).Append(r.FormType)
	b.Field(3).(*array.Date32Builder).Append(arrow.Date32FromTime(r.DateFiled))
	b.Field(4).(*array.StringBuilder).Append(r.Filename)
	b.Field(5).(*array.StringBuilder).Append(r.Period.String())
}
