// Package orchestrate fetches the per-filing resources of a working set.
package orchestrate

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/secflow/secflow/internal/model"
	"github.com/secflow/secflow/pkg/edgarpath"
	"github.com/secflow/secflow/pkg/errors"
	"github.com/secflow/secflow/pkg/index"
	"github.com/secflow/secflow/pkg/storage/cache"
	"github.com/secflow/secflow/pkg/telemetry"
)

// Options configures an Orchestrator.
type Options struct {
	Progress index.ProgressFunc
	Now      func() time.Time
	Logger   *slog.Logger
}

// Orchestrator downloads missing header and archive files one at a time.
type Orchestrator struct {
	layout   edgarpath.Layout
	store    *cache.Store
	fetcher  index.Fetcher
	progress index.ProgressFunc
	now      func() time.Time
	logger   *slog.Logger
}

// New creates an Orchestrator.
func New(layout edgarpath.Layout, store *cache.Store, fetcher index.Fetcher, opts *Options) *Orchestrator {
	if opts == nil {
		opts = &Options{}
	}
	o := &Orchestrator{
		layout:   layout,
		store:    store,
		fetcher:  fetcher,
		progress: opts.Progress,
		now:      opts.Now,
		logger:   opts.Logger,
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Stats counts the outcome of one fetch pass.
type Stats struct {
	Kind    model.ResourceKind
	Total   int
	Present int
	Fetched int
	Failed  int
	Elapsed time.Duration
}

// FetchHeaders downloads the SGML header of every filing in ws that is not
// cached yet.
func (o *Orchestrator) FetchHeaders(ctx context.Context, ws *model.WorkingSet) (Stats, error) {
	return o.fetchMissing(ctx, ws, model.KindHeader)
}

// FetchArchives downloads the full submission of every filing in ws that
// is not cached yet.
func (o *Orchestrator) FetchArchives(ctx context.Context, ws *model.WorkingSet) (Stats, error) {
	return o.fetchMissing(ctx, ws, model.KindArchive)
}

// Refs derives the resources of the given kind for every record in ws,
// with Cached read from the filesystem.
func (o *Orchestrator) Refs(ws *model.WorkingSet, kind model.ResourceKind) ([]model.DerivedRef, error) {
	if ws.Empty() {
		return nil, errors.Precondition("derive "+kind.String()+" refs", "working set is empty; run a filter first")
	}
	refs := make([]model.DerivedRef, 0, ws.Len())
	for _, rec := range ws.Records {
		ref, err := o.layout.Derive(kind, rec.Filename)
		if err != nil {
			return nil, err
		}
		ref.Cached = o.store.Exists(ref.LocalPath)
		refs = append(refs, ref)
	}
	return refs, nil
}

// fetchMissing walks ws in order and fetches each resource absent from the
// cache. Presence is checked on disk right before each fetch, so a filing
// listed twice is downloaded once. Failures are collected and the pass
// continues; the returned error joins them.
func (o *Orchestrator) fetchMissing(ctx context.Context, ws *model.WorkingSet, kind model.ResourceKind) (stats Stats, err error) {
	stats.Kind = kind
	if ws.Empty() {
		return stats, errors.Precondition("fetch "+kind.String()+"s", "working set is empty; run a filter first")
	}

	begin := o.now()
	ctx, span := telemetry.Start(ctx, "orchestrate.fetch",
		attribute.String("kind", kind.String()),
		attribute.Int("records", ws.Len()),
	)
	defer func() { telemetry.End(span, err) }()

	var bar index.Progress
	if o.progress != nil {
		bar = o.progress(ws.Len(), "Fetching "+kind.String()+" files")
	}

	var errs errors.MultiError
	for _, rec := range ws.Records {
		if err := ctx.Err(); err != nil {
			errs.Add(err)
			break
		}
		stats.Total++
		o.fetchOne(ctx, rec, kind, &stats, &errs)
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	stats.Elapsed = o.now().Sub(begin)

	o.logger.Info(kind.String()+" files updated",
		"records", stats.Total,
		"present", stats.Present,
		"fetched", stats.Fetched,
		"failed", stats.Failed,
		"elapsed", stats.Elapsed.Round(time.Millisecond))
	return stats, errs.Combined()
}

func (o *Orchestrator) fetchOne(ctx context.Context, rec model.FilingRecord, kind model.ResourceKind, stats *Stats, errs *errors.MultiError) {
	ref, err := o.layout.Derive(kind, rec.Filename)
	if err != nil {
		stats.Failed++
		errs.Add(err)
		o.logger.Warn("cannot derive resource", "filename", rec.Filename, "error", err)
		return
	}
	if o.store.Exists(ref.LocalPath) {
		stats.Present++
		return
	}
	if _, err := o.fetcher.Fetch(ctx, ref.URL, ref.LocalPath); err != nil {
		stats.Failed++
		errs.Add(err)
		o.logger.Warn("fetch failed", "url", ref.URL, "path", ref.LocalPath, "error", err)
		return
	}
	stats.Fetched++
}

// ClearHeaders deletes every cached header file.
func (o *Orchestrator) ClearHeaders() (int, error) {
	return o.store.Clear(o.layout.HeaderDir(), "")
}

// ClearArchives deletes every cached archive file.
func (o *Orchestrator) ClearArchives() (int, error) {
	return o.store.Clear(o.layout.FilingsDir(), "")
}
