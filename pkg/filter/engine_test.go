package filter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/secflow/secflow/internal/model"
	"github.com/secflow/secflow/pkg/errors"
	"github.com/secflow/secflow/pkg/testing/generators"
)

// writeIndex writes a generated master index for the period under dir.
func writeIndex(t *testing.T, dir string, p model.Period, rows []generators.MasterRow, extra ...string) model.IndexFileRef {
	t.Helper()
	data, err := generators.MasterFile(rows, extra...)
	if err != nil {
		t.Fatalf("MasterFile: %v", err)
	}
	path := filepath.Join(dir, p.String()+".gz")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return model.IndexFileRef{Period: p, LocalPath: path, Cached: true}
}

func fixture(t *testing.T) ([]model.IndexFileRef, map[model.Period][]generators.MasterRow) {
	t.Helper()
	dir := t.TempDir()
	gen := generators.NewMasterGenerator(7)
	rows := map[model.Period][]generators.MasterRow{}
	var refs []model.IndexFileRef
	// Listed newest first so ordering is exercised.
	for _, p := range []model.Period{{Year: 2020, Quarter: 2}, {Year: 2019, Quarter: 4}, {Year: 2020, Quarter: 1}} {
		rows[p] = gen.Rows(p.Year, p.Quarter, 40)
		refs = append(refs, writeIndex(t, dir, p, rows[p], "bad|row", "1|X|8-K|not-a-date|edgar/data/1/x.txt"))
	}
	return refs, rows
}

func TestFilterEmptyPredicatesKeepsEveryValidRow(t *testing.T) {
	refs, rows := fixture(t)

	res, err := New(&Options{MaxWorkers: 2}).Filter(context.Background(), refs, nil)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}

	want := 0
	for _, r := range rows {
		want += len(r)
	}
	if got := res.WorkingSet.Len(); got != want {
		t.Errorf("Len() = %d, want %d", got, want)
	}
	if res.Scanned != want {
		t.Errorf("Scanned = %d, want %d", res.Scanned, want)
	}
	if res.WorkingSet.ID == "" {
		t.Error("working set has no ID")
	}

	for i := 1; i < len(res.WorkingSet.Records); i++ {
		if res.WorkingSet.Records[i].Period.Before(res.WorkingSet.Records[i-1].Period) {
			t.Fatalf("record %d out of period order", i)
		}
	}
	first := res.WorkingSet.Records[0]
	if first.Filename != rows[model.Period{Year: 2019, Quarter: 4}][0].Filename {
		t.Errorf("first record = %+v, want first row of 2019Q4", first)
	}
}

func TestFilterByFormType(t *testing.T) {
	refs, rows := fixture(t)

	want := 0
	for _, rs := range rows {
		for _, r := range rs {
			if r.FormType == "SC 13D" {
				want++
			}
		}
	}

	for _, column := range []string{"formType", "Form Type", "form"} {
		t.Run(column, func(t *testing.T) {
			res, err := New(nil).Filter(context.Background(), refs, Predicates{column: {"SC 13D"}})
			if err != nil {
				t.Fatalf("Filter: %v", err)
			}
			if res.WorkingSet.Len() != want {
				t.Errorf("Len() = %d, want %d", res.WorkingSet.Len(), want)
			}
			for _, r := range res.WorkingSet.Records {
				if r.FormType != "SC 13D" {
					t.Errorf("FormType = %q", r.FormType)
				}
			}
		})
	}
}

func TestFilterConjunction(t *testing.T) {
	dir := t.TempDir()
	p := model.Period{Year: 2019, Quarter: 4}
	ref := writeIndex(t, dir, p, []generators.MasterRow{
		{CIK: "1", CompanyName: "ALPHA", FormType: "SC 13D", DateFiled: "2019-10-01", Filename: "edgar/data/1/0000000001-19-000001.txt"},
		{CIK: "2", CompanyName: "BETA", FormType: "SC 13D", DateFiled: "2019-10-02", Filename: "edgar/data/2/0000000002-19-000002.txt"},
		{CIK: "1", CompanyName: "ALPHA", FormType: "10-K", DateFiled: "2019-10-03", Filename: "edgar/data/1/0000000001-19-000003.txt"},
	})

	res, err := New(nil).Filter(context.Background(), []model.IndexFileRef{ref},
		Predicates{"form": {"SC 13D"}, "cik": {"1", "3"}})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if res.WorkingSet.Len() != 1 || res.WorkingSet.Records[0].Filename != "edgar/data/1/0000000001-19-000001.txt" {
		t.Errorf("Records = %+v", res.WorkingSet.Records)
	}
	if got := res.WorkingSet.Predicates["Form Type"]; len(got) != 1 || got[0] != "SC 13D" {
		t.Errorf("Predicates = %v", res.WorkingSet.Predicates)
	}
}

func TestFilterAliasesUnionValues(t *testing.T) {
	dir := t.TempDir()
	p := model.Period{Year: 2019, Quarter: 4}
	ref := writeIndex(t, dir, p, []generators.MasterRow{
		{CIK: "1", CompanyName: "ALPHA", FormType: "10-K", DateFiled: "2019-10-01", Filename: "edgar/data/1/0000000001-19-000001.txt"},
		{CIK: "1", CompanyName: "ALPHA", FormType: "10-Q", DateFiled: "2019-10-02", Filename: "edgar/data/1/0000000001-19-000002.txt"},
		{CIK: "1", CompanyName: "ALPHA", FormType: "8-K", DateFiled: "2019-10-03", Filename: "edgar/data/1/0000000001-19-000003.txt"},
	})
	files := []model.IndexFileRef{ref}

	tests := []struct {
		name  string
		preds Predicates
	}{
		{"one key", Predicates{"form": {"10-K", "10-Q"}}},
		{"alias and column", Predicates{"form": {"10-K"}, "Form Type": {"10-Q"}}},
		{"two aliases", Predicates{"formType": {"10-K"}, "form_type": {"10-Q", "10-K"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := New(nil).Filter(context.Background(), files, tt.preds)
			if err != nil {
				t.Fatalf("Filter: %v", err)
			}
			if res.WorkingSet.Len() != 2 {
				t.Fatalf("Len() = %d, want 2", res.WorkingSet.Len())
			}
			for _, r := range res.WorkingSet.Records {
				if r.FormType == "8-K" {
					t.Errorf("unexpected record %+v", r)
				}
			}
		})
	}
}

func TestFilterIsIdempotent(t *testing.T) {
	refs, _ := fixture(t)
	eng := New(&Options{MaxWorkers: 3})
	preds := Predicates{"formType": {"8-K", "4"}}

	a, err := eng.Filter(context.Background(), refs, preds)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	b, err := eng.Filter(context.Background(), refs, preds)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if a.WorkingSet.Len() != b.WorkingSet.Len() {
		t.Fatalf("lengths differ: %d vs %d", a.WorkingSet.Len(), b.WorkingSet.Len())
	}
	for i := range a.WorkingSet.Records {
		if a.WorkingSet.Records[i] != b.WorkingSet.Records[i] {
			t.Fatalf("record %d differs", i)
		}
	}
	if a.WorkingSet.ID == b.WorkingSet.ID {
		t.Error("each filter call should produce a new working set")
	}
}

func TestFilterIsolatesFailingFiles(t *testing.T) {
	refs, rows := fixture(t)

	broken := filepath.Join(t.TempDir(), "broken.gz")
	if err := os.WriteFile(broken, []byte("not gzip"), 0644); err != nil {
		t.Fatal(err)
	}
	refs = append(refs,
		model.IndexFileRef{Period: model.Period{Year: 2018, Quarter: 1}, LocalPath: broken, Cached: true},
		model.IndexFileRef{Period: model.Period{Year: 2018, Quarter: 2}, LocalPath: filepath.Join(t.TempDir(), "missing.gz")},
	)

	res, err := New(nil).Filter(context.Background(), refs, nil)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(res.Failures) != 2 {
		t.Fatalf("Failures = %d, want 2", len(res.Failures))
	}
	for _, f := range res.Failures {
		if !errors.IsCode(f.Err, errors.CodeCacheInconsistent) {
			t.Errorf("failure %s: code = %s", f.Path, errors.GetCode(f.Err))
		}
	}
	want := 0
	for _, r := range rows {
		want += len(r)
	}
	if res.WorkingSet.Len() != want {
		t.Errorf("Len() = %d, want %d", res.WorkingSet.Len(), want)
	}
}

func TestFilterDiscardsEmptyResults(t *testing.T) {
	refs, _ := fixture(t)
	res, err := New(nil).Filter(context.Background(), refs, Predicates{"cik": {"no-such-cik"}})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if !res.WorkingSet.Empty() || res.Files != 0 {
		t.Errorf("Len() = %d, Files = %d", res.WorkingSet.Len(), res.Files)
	}
}

func TestFilterRejectsBadInput(t *testing.T) {
	refs, _ := fixture(t)

	if _, err := New(nil).Filter(context.Background(), refs, Predicates{"ticker": {"AAPL"}}); !errors.IsCode(err, errors.CodeFilter) {
		t.Errorf("unknown column error = %v", err)
	}
	if _, err := New(nil).Filter(context.Background(), nil, nil); !errors.Is(err, errors.ErrPrecondition) {
		t.Errorf("no files error = %v", err)
	}
}

func TestWorkers(t *testing.T) {
	e := New(&Options{MaxWorkers: 1})
	if got := e.Workers(10); got != 1 {
		t.Errorf("Workers(10) = %d, want 1", got)
	}
	if got := New(nil).Workers(1); got != 1 {
		t.Errorf("Workers(1) = %d, want 1", got)
	}
	if got := New(nil).Workers(0); got != 1 {
		t.Errorf("Workers(0) = %d, want 1", got)
	}
}

func TestResolveColumn(t *testing.T) {
	tests := map[string]string{
		"CIK":          "CIK",
		"cik":          "CIK",
		"company":      "Company Name",
		"Company Name": "Company Name",
		"form_type":    "Form Type",
		"dateFiled":    "Date Filed",
		"filename":     "Filename",
	}
	for in, want := range tests {
		got, ok := ResolveColumn(in)
		if !ok || got != want {
			t.Errorf("ResolveColumn(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if _, ok := ResolveColumn("ticker"); ok {
		t.Error("ResolveColumn(ticker) should fail")
	}
}
