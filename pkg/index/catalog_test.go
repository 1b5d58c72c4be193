package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/secflow/secflow/internal/model"
	"github.com/secflow/secflow/pkg/edgarpath"
	"github.com/secflow/secflow/pkg/errors"
	"github.com/secflow/secflow/pkg/fetch"
	"github.com/secflow/secflow/pkg/flow"
	"github.com/secflow/secflow/pkg/storage/cache"
	"github.com/secflow/secflow/pkg/testing/fakeedgar"
	"github.com/secflow/secflow/pkg/testing/generators"
)

func fixedNow(year int, month time.Month, day int) func() time.Time {
	return func() time.Time { return time.Date(year, month, day, 12, 0, 0, 0, time.UTC) }
}

func publish(t *testing.T, srv *fakeedgar.Server, year, quarter, rows int) {
	t.Helper()
	gen := generators.NewMasterGenerator(int64(year*10 + quarter))
	data, err := generators.MasterFile(gen.Rows(year, quarter, rows))
	if err != nil {
		t.Fatalf("MasterFile: %v", err)
	}
	srv.Set(fmt.Sprintf("edgar/full-index/%d/QTR%d/master.gz", year, quarter), data)
}

func newTestCatalog(t *testing.T, srv *fakeedgar.Server, opts *Options) (*Catalog, edgarpath.Layout) {
	t.Helper()
	root := t.TempDir()
	store, err := cache.NewStore(root)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	layout := edgarpath.NewLayout(srv.BaseURL(), store.Root())
	fetcher := fetch.New(flow.NewLimiter(100, time.Second), store, &fetch.Options{UserAgent: "Test test@example.com"})
	c, err := New(layout, store, fetcher, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, layout
}

func TestRangeResolution(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantStart model.Period
		wantEnd   model.Period
	}{
		{
			name:      "open end uses current quarter",
			opts:      Options{Start: model.Period{Year: 2019, Quarter: 4}},
			wantStart: model.Period{Year: 2019, Quarter: 4},
			wantEnd:   model.Period{Year: 2020, Quarter: 2},
		},
		{
			name:      "future end is clamped",
			opts:      Options{Start: model.Period{Year: 2019, Quarter: 4}, EndYear: 2030, EndQuarter: 1},
			wantStart: model.Period{Year: 2019, Quarter: 4},
			wantEnd:   model.Period{Year: 2020, Quarter: 2},
		},
		{
			name:      "end quarter defaults to four",
			opts:      Options{Start: model.Period{Year: 2018, Quarter: 1}, EndYear: 2018},
			wantStart: model.Period{Year: 2018, Quarter: 1},
			wantEnd:   model.Period{Year: 2018, Quarter: 4},
		},
		{
			name:      "zero start uses first period",
			opts:      Options{EndYear: 1993, EndQuarter: 2},
			wantStart: FirstPeriod,
			wantEnd:   model.Period{Year: 1993, Quarter: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			opts.Now = fixedNow(2020, time.May, 10)
			c, err := New(edgarpath.NewLayout("", t.TempDir()), nil, nil, &opts)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			start, end, err := c.Range()
			if err != nil {
				t.Fatalf("Range: %v", err)
			}
			if start != tt.wantStart || end != tt.wantEnd {
				t.Errorf("Range() = %v..%v, want %v..%v", start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestNewRejectsInvertedRange(t *testing.T) {
	_, err := New(edgarpath.NewLayout("", t.TempDir()), nil, nil, &Options{
		Start:   model.Period{Year: 2021, Quarter: 1},
		EndYear: 2020,
		Now:     fixedNow(2022, time.January, 1),
	})
	if !errors.IsCode(err, errors.CodeConfig) {
		t.Fatalf("New() error = %v, want %s", err, errors.CodeConfig)
	}
}

func TestRefreshFetchesRangeInOrder(t *testing.T) {
	srv := fakeedgar.New()
	defer srv.Close()
	publish(t, srv, 2020, 1, 10)
	publish(t, srv, 2020, 2, 10)

	c, layout := newTestCatalog(t, srv, &Options{
		Start:      model.Period{Year: 2020, Quarter: 1},
		EndYear:    2020,
		EndQuarter: 2,
		Now:        fixedNow(2020, time.May, 10),
	})

	refs, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("Refresh() returned %d refs, want 2", len(refs))
	}
	want := []string{
		filepath.Join(layout.IndexDir(), "2020", "QTR1", "master.gz"),
		filepath.Join(layout.IndexDir(), "2020", "QTR2", "master.gz"),
	}
	for i, ref := range refs {
		if ref.LocalPath != want[i] {
			t.Errorf("refs[%d].LocalPath = %q, want %q", i, ref.LocalPath, want[i])
		}
		if !ref.Cached {
			t.Errorf("refs[%d].Cached = false", i)
		}
		if info, err := os.Stat(ref.LocalPath); err != nil || info.Size() == 0 {
			t.Errorf("refs[%d] not on disk: %v", i, err)
		}
	}
}

func TestRefreshRefetchesOnlyNewest(t *testing.T) {
	srv := fakeedgar.New()
	defer srv.Close()
	publish(t, srv, 2020, 1, 5)
	publish(t, srv, 2020, 2, 5)

	c, _ := newTestCatalog(t, srv, &Options{
		Start:      model.Period{Year: 2020, Quarter: 1},
		EndYear:    2020,
		EndQuarter: 2,
		Now:        fixedNow(2020, time.May, 10),
	})

	for i := 0; i < 3; i++ {
		if _, err := c.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh #%d: %v", i+1, err)
		}
	}

	if got := srv.Hits("edgar/full-index/2020/QTR1/master.gz"); got != 1 {
		t.Errorf("QTR1 fetched %d times, want 1", got)
	}
	if got := srv.Hits("edgar/full-index/2020/QTR2/master.gz"); got != 3 {
		t.Errorf("QTR2 fetched %d times, want 3", got)
	}
}

func TestRefreshRefetchesEmptyCachedFile(t *testing.T) {
	srv := fakeedgar.New()
	defer srv.Close()
	publish(t, srv, 2020, 1, 5)
	publish(t, srv, 2020, 2, 5)

	c, layout := newTestCatalog(t, srv, &Options{
		Start:      model.Period{Year: 2020, Quarter: 1},
		EndYear:    2020,
		EndQuarter: 2,
		Now:        fixedNow(2020, time.May, 10),
	})

	// A zero-length 2020Q1 left by an interrupted run, next to a complete
	// 2020Q2 that is the newest cached file.
	q1 := layout.Index(model.Period{Year: 2020, Quarter: 1}).LocalPath
	q2 := layout.Index(model.Period{Year: 2020, Quarter: 2}).LocalPath
	data, err := generators.MasterFile(generators.NewMasterGenerator(1).Rows(2020, 2, 5))
	if err != nil {
		t.Fatalf("MasterFile: %v", err)
	}
	for path, content := range map[string][]byte{q1: nil, q2: data} {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, content, 0644); err != nil {
			t.Fatal(err)
		}
	}

	refs, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := srv.Hits("edgar/full-index/2020/QTR1/master.gz"); got != 1 {
		t.Errorf("empty QTR1 fetched %d times, want 1", got)
	}
	if got := srv.Hits("edgar/full-index/2020/QTR2/master.gz"); got != 1 {
		t.Errorf("newest QTR2 fetched %d times, want 1", got)
	}
	if info, err := os.Stat(q1); err != nil || info.Size() == 0 {
		t.Errorf("QTR1 not restored: %v", err)
	}
	for _, ref := range refs {
		if !ref.Cached {
			t.Errorf("%s not cached after refresh", ref.Period)
		}
	}
}

func TestRefreshStopsOnFirstFailure(t *testing.T) {
	srv := fakeedgar.New()
	defer srv.Close()
	publish(t, srv, 2020, 1, 5)
	// 2020Q2 is missing and answers 404.

	c, _ := newTestCatalog(t, srv, &Options{
		Start:      model.Period{Year: 2020, Quarter: 1},
		EndYear:    2020,
		EndQuarter: 2,
		Now:        fixedNow(2020, time.May, 10),
	})

	_, err := c.Refresh(context.Background())
	if !errors.IsCode(err, errors.CodeTransfer) {
		t.Fatalf("Refresh() error = %v, want %s", err, errors.CodeTransfer)
	}

	refs, err := c.Refs()
	if err != nil {
		t.Fatalf("Refs: %v", err)
	}
	if !refs[0].Cached || refs[1].Cached {
		t.Errorf("cached = [%v %v], want [true false]", refs[0].Cached, refs[1].Cached)
	}
}

func TestLatestAndPeek(t *testing.T) {
	srv := fakeedgar.New()
	defer srv.Close()

	rows := []generators.MasterRow{
		{CIK: "1", CompanyName: "ALPHA", FormType: "10-K", DateFiled: "2019-10-01", Filename: "edgar/data/1/0000000001-19-000001.txt"},
		{CIK: "2", CompanyName: "BETA", FormType: "8-K", DateFiled: "2019-10-02", Filename: "edgar/data/2/0000000002-19-000002.txt"},
		{CIK: "3", CompanyName: "SOCIÉTÉ", FormType: "SC 13D", DateFiled: "2019-10-03", Filename: "edgar/data/3/0000000003-19-000003.txt"},
	}
	data, err := generators.MasterFile(rows, "4|BROKEN ROW|8-K")
	if err != nil {
		t.Fatalf("MasterFile: %v", err)
	}
	srv.Set("edgar/full-index/2019/QTR4/master.gz", data)

	c, _ := newTestCatalog(t, srv, &Options{
		Start:      model.Period{Year: 2019, Quarter: 4},
		EndYear:    2019,
		EndQuarter: 4,
		Now:        fixedNow(2020, time.May, 10),
	})

	if _, err := c.Peek(2); !errors.Is(err, errors.ErrPrecondition) {
		t.Fatalf("Peek before refresh error = %v, want precondition", err)
	}

	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	latest, err := c.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Period != (model.Period{Year: 2019, Quarter: 4}) {
		t.Errorf("Latest().Period = %v", latest.Period)
	}

	got, err := c.Peek(2)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Peek(2) returned %d rows", len(got))
	}
	if got[0].CIK != "2" || got[1].CompanyName != "SOCIÉTÉ" {
		t.Errorf("Peek(2) = %+v", got)
	}

	for n, want := range map[int]string{1: "3", 3: "123", 10: "123"} {
		got, err := c.Peek(n)
		if err != nil {
			t.Fatalf("Peek(%d): %v", n, err)
		}
		ciks := ""
		for _, r := range got {
			ciks += r.CIK
		}
		if ciks != want {
			t.Errorf("Peek(%d) CIKs = %q, want %q", n, ciks, want)
		}
	}
}

func TestClear(t *testing.T) {
	srv := fakeedgar.New()
	defer srv.Close()
	publish(t, srv, 2020, 1, 3)

	c, layout := newTestCatalog(t, srv, &Options{
		Start:      model.Period{Year: 2020, Quarter: 1},
		EndYear:    2020,
		EndQuarter: 1,
		Now:        fixedNow(2020, time.May, 10),
	})
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	n, err := c.Clear()
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n != 1 {
		t.Errorf("Clear() removed %d files, want 1", n)
	}
	if _, err := os.Stat(filepath.Join(layout.IndexDir(), "2020")); !os.IsNotExist(err) {
		t.Errorf("empty period directory left behind: %v", err)
	}

	if got := c.Fields(); len(got) != 5 || got[0] != ColumnCIK {
		t.Errorf("Fields() = %v", got)
	}
}
