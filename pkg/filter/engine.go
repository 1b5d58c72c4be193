// Package filter builds working sets by scanning cached index files in
// parallel.
package filter

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/secflow/secflow/internal/model"
	"github.com/secflow/secflow/pkg/errors"
	"github.com/secflow/secflow/pkg/index"
	"github.com/secflow/secflow/pkg/telemetry"
)

// Options configures an Engine.
type Options struct {
	// MaxWorkers caps the worker pool; 0 uses every available CPU.
	MaxWorkers int

	Now    func() time.Time
	Logger *slog.Logger
}

// Engine filters index files into a working set.
type Engine struct {
	maxWorkers int
	now        func() time.Time
	logger     *slog.Logger
}

// New creates an Engine.
func New(opts *Options) *Engine {
	if opts == nil {
		opts = &Options{}
	}
	e := &Engine{
		maxWorkers: opts.MaxWorkers,
		now:        opts.Now,
		logger:     opts.Logger,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Workers returns the pool size used for n files.
func (e *Engine) Workers(n int) int {
	workers := runtime.GOMAXPROCS(0)
	if e.maxWorkers > 0 && e.maxWorkers < workers {
		workers = e.maxWorkers
	}
	if n < workers {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// Failure records an index file that could not be filtered.
type Failure struct {
	Path   string
	Period model.Period
	Err    error
}

// Result is the outcome of one Filter call.
type Result struct {
	WorkingSet *model.WorkingSet
	Failures   []Failure

	// Files is the number of files that contributed at least one record.
	Files int

	// Scanned is the number of valid rows read across all files.
	Scanned int
	Elapsed time.Duration
}

// fileResult is the tagged outcome of one worker task.
type fileResult struct {
	records []model.FilingRecord
	scanned int
	err     error
}

// Filter scans files concurrently and keeps the rows matching preds.
//
// A file that fails to read is logged and reported in Result.Failures;
// the remaining files still contribute. Records are ordered by period and
// then by position within their file.
func (e *Engine) Filter(ctx context.Context, files []model.IndexFileRef, preds Predicates) (res *Result, err error) {
	if len(files) == 0 {
		return nil, errors.Precondition("filter", "no index files are cached; run an update first")
	}
	m, err := preds.compile()
	if err != nil {
		return nil, err
	}

	begin := e.now()
	workers := e.Workers(len(files))

	ctx, span := telemetry.Start(ctx, "filter",
		attribute.Int("files", len(files)),
		attribute.Int("workers", workers),
	)
	defer func() { telemetry.End(span, err) }()

	ordered := make([]model.IndexFileRef, len(files))
	copy(ordered, files)
	sortByPeriod(ordered)

	// Each task owns one slot; slots are read only after Wait.
	slots := make([]fileResult, len(ordered))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range ordered {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			slots[i] = filterFile(ordered[i], m)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res = &Result{}
	var records []model.FilingRecord
	for i, slot := range slots {
		if slot.err != nil {
			e.logger.Warn("skipping unreadable index file",
				"path", ordered[i].LocalPath,
				"period", ordered[i].Period.String(),
				"error", slot.err)
			res.Failures = append(res.Failures, Failure{
				Path:   ordered[i].LocalPath,
				Period: ordered[i].Period,
				Err:    slot.err,
			})
			continue
		}
		res.Scanned += slot.scanned
		if len(slot.records) == 0 {
			continue
		}
		res.Files++
		records = append(records, slot.records...)
	}

	res.WorkingSet = &model.WorkingSet{
		ID:         uuid.NewString(),
		CreatedAt:  begin,
		Predicates: preds.Normalized(),
		Records:    records,
	}
	res.Elapsed = e.now().Sub(begin)

	e.logger.Info("filter complete",
		"files", len(files),
		"failed", len(res.Failures),
		"scanned", res.Scanned,
		"records", len(records),
		"workers", workers,
		"elapsed", res.Elapsed.Round(time.Millisecond))
	return res, nil
}

func filterFile(ref model.IndexFileRef, m *matcher) fileResult {
	var out fileResult
	err := index.ScanMasterFile(ref.LocalPath, func(fields []string) error {
		rec, ok := index.ParseRecord(fields, ref.Period)
		if !ok {
			return nil
		}
		out.scanned++
		if m.match(&rec) {
			out.records = append(out.records, rec)
		}
		return nil
	})
	if err != nil {
		return fileResult{err: errors.Wrap(err, errors.CodeCacheInconsistent, "failed to read index file").
			WithContext("path", ref.LocalPath)}
	}
	return out
}

func sortByPeriod(refs []model.IndexFileRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].Period.Before(refs[j].Period)
	})
}
