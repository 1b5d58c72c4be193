package orchestrate

import (
	"context"

	"github.com/secflow/secflow/internal/model"
	"github.com/secflow/secflow/pkg/errors"
	"github.com/secflow/secflow/pkg/fetch"
)

// HeaderParser converts a raw SGML header into structured fields.
type HeaderParser interface {
	Parse(raw string) (map[string]any, error)
}

// Segmenter splits a submission archive into named sections.
type Segmenter interface {
	Segment(text string) (map[string]string, error)
}

// HeaderParserFunc adapts a function to HeaderParser.
type HeaderParserFunc func(raw string) (map[string]any, error)

// Parse calls f.
func (f HeaderParserFunc) Parse(raw string) (map[string]any, error) { return f(raw) }

// SegmenterFunc adapts a function to Segmenter.
type SegmenterFunc func(text string) (map[string]string, error)

// Segment calls f.
func (f SegmenterFunc) Segment(text string) (map[string]string, error) { return f(text) }

// Header returns the structured header of one filing, fetching it first if
// it is not cached.
func (o *Orchestrator) Header(ctx context.Context, rec model.FilingRecord, parser HeaderParser) (map[string]any, error) {
	if parser == nil {
		return nil, errors.New(errors.CodeInvalidInput, "no header parser configured")
	}
	raw, err := o.text(ctx, rec, model.KindHeader)
	if err != nil {
		return nil, err
	}
	fields, err := parser.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDecode, "failed to parse header").
			WithContext("filename", rec.Filename)
	}
	return fields, nil
}

// Document returns the sections of one filing's submission archive,
// fetching the archive first if it is not cached.
func (o *Orchestrator) Document(ctx context.Context, rec model.FilingRecord, segmenter Segmenter) (map[string]string, error) {
	if segmenter == nil {
		return nil, errors.New(errors.CodeInvalidInput, "no segmenter configured")
	}
	text, err := o.text(ctx, rec, model.KindArchive)
	if err != nil {
		return nil, err
	}
	sections, err := segmenter.Segment(text)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDecode, "failed to segment document").
			WithContext("filename", rec.Filename)
	}
	return sections, nil
}

// text returns the UTF-8 content of a derived resource. A cached file that
// cannot be read is treated as a miss and fetched again.
func (o *Orchestrator) text(ctx context.Context, rec model.FilingRecord, kind model.ResourceKind) (string, error) {
	ref, err := o.layout.Derive(kind, rec.Filename)
	if err != nil {
		return "", err
	}
	if o.store.Exists(ref.LocalPath) {
		text, err := o.store.ReadText(ref.LocalPath)
		if err == nil {
			return text, nil
		}
		o.logger.Warn("cached file unreadable, fetching again", "path", ref.LocalPath, "error", err)
	}
	res, err := o.fetcher.Fetch(ctx, ref.URL, ref.LocalPath, fetch.WithContent())
	if err != nil {
		return "", err
	}
	return string(res.Content), nil
}
