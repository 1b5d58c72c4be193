// Package index maintains the local collection of quarterly master index files.
package index

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/secflow/secflow/internal/model"
	"github.com/secflow/secflow/pkg/edgarpath"
	"github.com/secflow/secflow/pkg/errors"
	"github.com/secflow/secflow/pkg/fetch"
	"github.com/secflow/secflow/pkg/storage/cache"
	"github.com/secflow/secflow/pkg/telemetry"
)

// FirstPeriod is the first quarter of the provider's online collection.
var FirstPeriod = model.Period{Year: 1993, Quarter: 1}

// Fetcher downloads one resource into the cache.
type Fetcher interface {
	Fetch(ctx context.Context, url, localPath string, opts ...fetch.FetchOption) (*fetch.Result, error)
}

// Progress receives one Add per processed period.
type Progress interface {
	Add(n int) error
	Finish() error
}

// ProgressFunc creates a Progress for total steps.
type ProgressFunc func(total int, description string) Progress

// Options configures a Catalog.
type Options struct {
	// Start is the first quarter of the range; zero means FirstPeriod.
	Start model.Period

	// EndYear 0 means "through the current quarter". EndQuarter 0 means 4.
	// Either way the end is never later than the current quarter.
	EndYear    int
	EndQuarter int

	// Now overrides the wall clock used to resolve the open end.
	Now func() time.Time

	Progress ProgressFunc
	Logger   *slog.Logger
}

// Catalog reconciles the configured quarter range against the cache.
type Catalog struct {
	layout  edgarpath.Layout
	store   *cache.Store
	fetcher Fetcher

	start      model.Period
	endYear    int
	endQuarter int

	now      func() time.Time
	progress ProgressFunc
	logger   *slog.Logger
}

// New creates a Catalog and validates its range.
func New(layout edgarpath.Layout, store *cache.Store, fetcher Fetcher, opts *Options) (*Catalog, error) {
	if opts == nil {
		opts = &Options{}
	}
	c := &Catalog{
		layout:     layout,
		store:      store,
		fetcher:    fetcher,
		start:      opts.Start,
		endYear:    opts.EndYear,
		endQuarter: opts.EndQuarter,
		now:        opts.Now,
		progress:   opts.Progress,
		logger:     opts.Logger,
	}
	if c.start == (model.Period{}) {
		c.start = FirstPeriod
	}
	if c.endQuarter == 0 {
		c.endQuarter = 4
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if _, _, err := c.Range(); err != nil {
		return nil, err
	}
	return c, nil
}

// Range resolves the configured bounds against the current quarter.
func (c *Catalog) Range() (start, end model.Period, err error) {
	current := model.PeriodOf(c.now())

	end = model.Period{Year: c.endYear, Quarter: c.endQuarter}
	if c.endYear == 0 {
		end.Year = current.Year
	}
	if current.Before(end) {
		end = current
	}

	if !c.start.Valid() {
		return start, end, errors.Newf(errors.CodeConfig, "invalid start period %v", c.start)
	}
	if !end.Valid() {
		return start, end, errors.Newf(errors.CodeConfig, "invalid end period %v", end)
	}
	if end.Before(c.start) {
		return start, end, errors.Newf(errors.CodeConfig, "start period %v is after end period %v", c.start, end)
	}
	return c.start, end, nil
}

// Refs returns the catalog entries for the configured range in
// chronological order, with Cached read from the filesystem. It performs
// no network access.
func (c *Catalog) Refs() ([]model.IndexFileRef, error) {
	start, end, err := c.Range()
	if err != nil {
		return nil, err
	}
	periods := model.PeriodRange(start, end)
	refs := make([]model.IndexFileRef, 0, len(periods))
	for _, p := range periods {
		ref := c.layout.Index(p)
		ref.Cached = c.store.Exists(ref.LocalPath)
		refs = append(refs, ref)
	}
	return refs, nil
}

// Refresh brings the cached index files for the range up to date.
//
// The chronologically newest cached index file is always deleted and
// fetched again because its quarter may still have been accumulating
// filings when it was downloaded. Every other missing quarter is fetched
// once. The first transfer failure stops the refresh; calling Refresh
// again resumes from whatever is cached.
func (c *Catalog) Refresh(ctx context.Context) (refs []model.IndexFileRef, err error) {
	begin := c.now()
	start, end, err := c.Range()
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.Start(ctx, "index.refresh",
		attribute.String("start", start.String()),
		attribute.String("end", end.String()),
	)
	defer func() { telemetry.End(span, err) }()

	present, err := c.cachedIndexFiles()
	if err != nil {
		return nil, err
	}

	if len(present) == 0 {
		c.logger.Info("no index files cached yet; the initial download may take several minutes",
			"dir", c.layout.IndexDir())
	} else {
		latest := present[len(present)-1]
		if err := c.store.Remove(latest.path); err != nil {
			return nil, errors.Wrap(err, errors.CodeCacheInconsistent, "failed to drop latest index file").
				WithContext("path", latest.path)
		}
		c.logger.Debug("dropped latest cached index file", "period", latest.period.String(), "path", latest.path)
		present = present[:len(present)-1]
	}

	cached := make(map[string]bool, len(present))
	for _, f := range present {
		cached[f.path] = true
	}

	periods := model.PeriodRange(start, end)
	var bar Progress
	if c.progress != nil {
		bar = c.progress(len(periods), "Updating index files")
	}

	fetched := 0
	refs = make([]model.IndexFileRef, 0, len(periods))
	for _, p := range periods {
		ref := c.layout.Index(p)
		if !cached[ref.LocalPath] || !c.store.Exists(ref.LocalPath) {
			// Index files grow until their quarter closes, so a mirrored
			// copy may be stale.
			if _, err := c.fetcher.Fetch(ctx, ref.URL, ref.LocalPath, fetch.FromProvider()); err != nil {
				return nil, err
			}
			fetched++
		}
		ref.Cached = true
		refs = append(refs, ref)
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	c.logger.Info("index files updated",
		"files", len(refs),
		"fetched", fetched,
		"elapsed", c.now().Sub(begin).Round(time.Millisecond))
	return refs, nil
}

type cachedFile struct {
	path   string
	period model.Period
}

// cachedIndexFiles lists cached index files in chronological order.
func (c *Catalog) cachedIndexFiles() ([]cachedFile, error) {
	paths, err := c.store.Catalog(c.layout.IndexDir(), ".gz")
	if err != nil {
		return nil, err
	}
	files := make([]cachedFile, 0, len(paths))
	for _, p := range paths {
		period, ok := edgarpath.PeriodOfIndexPath(p)
		if !ok {
			continue
		}
		files = append(files, cachedFile{path: p, period: period})
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].period.Before(files[j].period)
	})
	return files, nil
}

// Latest returns the newest cached index file within the range.
func (c *Catalog) Latest() (model.IndexFileRef, error) {
	refs, err := c.Refs()
	if err != nil {
		return model.IndexFileRef{}, err
	}
	for i := len(refs) - 1; i >= 0; i-- {
		if refs[i].Cached {
			return refs[i], nil
		}
	}
	return model.IndexFileRef{}, errors.Precondition("latest index", "no index files are cached; run an update first")
}

// Fields returns the master index column names.
func (c *Catalog) Fields() []string {
	out := make([]string, len(Columns))
	copy(out, Columns)
	return out
}

// Peek returns the last n valid rows of the newest cached index file.
func (c *Catalog) Peek(n int) ([]model.FilingRecord, error) {
	if n <= 0 {
		n = 5
	}
	ref, err := c.Latest()
	if err != nil {
		return nil, err
	}
	// ring holds the last n rows; head is the oldest once it is full.
	ring := make([]model.FilingRecord, 0, n)
	head := 0
	err = ScanMasterFile(ref.LocalPath, func(fields []string) error {
		rec, ok := ParseRecord(fields, ref.Period)
		if !ok {
			return nil
		}
		if len(ring) < n {
			ring = append(ring, rec)
			return nil
		}
		ring[head] = rec
		head = (head + 1) % n
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeCacheInconsistent, "failed to read index file").
			WithContext("path", ref.LocalPath)
	}
	out := make([]model.FilingRecord, 0, len(ring))
	out = append(out, ring[head:]...)
	return append(out, ring[:head]...), nil
}

// Clear deletes every cached index file and returns how many were removed.
func (c *Catalog) Clear() (int, error) {
	return c.store.Clear(c.layout.IndexDir(), "")
}
