// Package workspace wires the limiter, cache, index catalog, filter engine
// and fetch orchestrator into one session that owns the current working
// set.
package workspace

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/secflow/secflow/internal/model"
	"github.com/secflow/secflow/pkg/config"
	"github.com/secflow/secflow/pkg/edgarpath"
	"github.com/secflow/secflow/pkg/errors"
	"github.com/secflow/secflow/pkg/export"
	"github.com/secflow/secflow/pkg/fetch"
	"github.com/secflow/secflow/pkg/filter"
	"github.com/secflow/secflow/pkg/flow"
	"github.com/secflow/secflow/pkg/index"
	"github.com/secflow/secflow/pkg/orchestrate"
	"github.com/secflow/secflow/pkg/storage/cache"
)

// Options configures a Workspace. Only Config is required.
type Options struct {
	Config *config.Config

	HTTPClient *http.Client
	Clock      flow.Clock
	Now        func() time.Time
	Mirror     fetch.Mirror
	Progress   index.ProgressFunc
	Logger     *slog.Logger
}

// Workspace is one retrieval session.
type Workspace struct {
	cfg *config.Config

	limiter *flow.Limiter
	fetcher *fetch.Fetcher
	catalog *index.Catalog
	engine  *filter.Engine
	orch    *orchestrate.Orchestrator

	mu sync.RWMutex
	ws *model.WorkingSet
}

// New builds a Workspace from configuration.
func New(opts Options) (*Workspace, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := cache.NewStore(cfg.Cache.DataDir)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConfig, "invalid data directory").
			WithContext("path", cfg.Cache.DataDir)
	}
	layout := edgarpath.NewLayout(cfg.Provider.BaseURL, store.Root())

	limiterOpts := []flow.Option{flow.WithLogger(logger)}
	if opts.Clock != nil {
		limiterOpts = append(limiterOpts, flow.WithClock(opts.Clock))
	}
	limiter := flow.NewLimiter(cfg.Rate.Limit, cfg.Rate.Interval, limiterOpts...)

	fetcher := fetch.New(limiter, store, &fetch.Options{
		Client:      opts.HTTPClient,
		Timeout:     cfg.Provider.Timeout,
		UserAgent:   cfg.Provider.UserAgent,
		Host:        cfg.Provider.Host,
		BinaryTypes: cfg.Provider.BinaryTypes,
		Mirror:      opts.Mirror,
		Logger:      logger,
	})

	catalog, err := index.New(layout, store, fetcher, &index.Options{
		Start:      model.Period{Year: cfg.Range.StartYear, Quarter: cfg.Range.StartQuarter},
		EndYear:    cfg.Range.EndYear,
		EndQuarter: cfg.Range.EndQuarter,
		Now:        opts.Now,
		Progress:   opts.Progress,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &Workspace{
		cfg:     cfg,
		limiter: limiter,
		fetcher: fetcher,
		catalog: catalog,
		engine: filter.New(&filter.Options{
			MaxWorkers: cfg.Filter.MaxWorkers,
			Now:        opts.Now,
			Logger:     logger,
		}),
		orch: orchestrate.New(layout, store, fetcher, &orchestrate.Options{
			Progress: opts.Progress,
			Now:      opts.Now,
			Logger:   logger,
		}),
	}, nil
}

// Limiter returns the session's shared rate limiter.
func (w *Workspace) Limiter() *flow.Limiter { return w.limiter }

// Fetcher returns the session's fetcher.
func (w *Workspace) Fetcher() *fetch.Fetcher { return w.fetcher }

// UpdateIndex refreshes the cached index files for the configured range.
func (w *Workspace) UpdateIndex(ctx context.Context) ([]model.IndexFileRef, error) {
	return w.catalog.Refresh(ctx)
}

// Filter replaces the working set with the rows of every cached index file
// in range that satisfy preds. On error the previous working set is kept.
func (w *Workspace) Filter(ctx context.Context, preds filter.Predicates) (*filter.Result, error) {
	refs, err := w.catalog.Refs()
	if err != nil {
		return nil, err
	}
	cached := refs[:0]
	for _, r := range refs {
		if r.Cached {
			cached = append(cached, r)
		}
	}

	res, err := w.engine.Filter(ctx, cached, preds)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.ws = res.WorkingSet
	w.mu.Unlock()
	return res, nil
}

// WorkingSet returns the current working set, or nil before any filter.
func (w *Workspace) WorkingSet() *model.WorkingSet {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ws
}

// FetchHeaders caches the header of every filing in the working set.
func (w *Workspace) FetchHeaders(ctx context.Context) (orchestrate.Stats, error) {
	return w.orch.FetchHeaders(ctx, w.WorkingSet())
}

// FetchFilings caches the full submission of every filing in the working set.
func (w *Workspace) FetchFilings(ctx context.Context) (orchestrate.Stats, error) {
	return w.orch.FetchArchives(ctx, w.WorkingSet())
}

// HeaderRefs derives the header resources of the working set.
func (w *Workspace) HeaderRefs() ([]model.DerivedRef, error) {
	return w.orch.Refs(w.WorkingSet(), model.KindHeader)
}

// FilingRefs derives the archive resources of the working set.
func (w *Workspace) FilingRefs() ([]model.DerivedRef, error) {
	return w.orch.Refs(w.WorkingSet(), model.KindArchive)
}

// Header returns the structured header of one filing.
func (w *Workspace) Header(ctx context.Context, rec model.FilingRecord, parser orchestrate.HeaderParser) (map[string]any, error) {
	return w.orch.Header(ctx, rec, parser)
}

// Document returns the sections of one filing.
func (w *Workspace) Document(ctx context.Context, rec model.FilingRecord, segmenter orchestrate.Segmenter) (map[string]string, error) {
	return w.orch.Document(ctx, rec, segmenter)
}

// Export writes the working set to path; the format follows the extension.
func (w *Workspace) Export(ctx context.Context, path string) error {
	return export.ToFile(ctx, path, w.WorkingSet(), export.Config{
		BatchSize:   w.cfg.Export.BatchSize,
		Compression: export.ParseCompression(w.cfg.Export.Compression),
	})
}

// Fields lists the index column names.
func (w *Workspace) Fields() []string {
	return w.catalog.Fields()
}

// Peek returns the last n rows of the newest cached index file.
func (w *Workspace) Peek(n int) ([]model.FilingRecord, error) {
	return w.catalog.Peek(n)
}

// ClearIndex deletes every cached index file.
func (w *Workspace) ClearIndex() (int, error) {
	return w.catalog.Clear()
}

// ClearHeaders deletes every cached header file.
func (w *Workspace) ClearHeaders() (int, error) {
	return w.orch.ClearHeaders()
}

// ClearFilings deletes every cached submission archive.
func (w *Workspace) ClearFilings() (int, error) {
	return w.orch.ClearArchives()
}
