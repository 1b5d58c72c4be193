package main

import (
	"reflect"
	"testing"

	"github.com/secflow/secflow/pkg/config"
)

func TestPredicatesFromFlags(t *testing.T) {
	formTypes = []string{"10-K", "10-Q"}
	ciks = []string{"320193"}
	companies, dates = nil, nil
	whereFlags = []string{"Company Name=APPLE INC", "form=8-K", "Form Type=SC 13D"}
	defer func() { formTypes, ciks, whereFlags = nil, nil, nil }()

	preds, err := predicates()
	if err != nil {
		t.Fatalf("predicates() error = %v", err)
	}
	if got, want := preds["Form Type"], []string{"10-K", "10-Q", "8-K", "SC 13D"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Form Type = %v, want %v", got, want)
	}
	if _, ok := preds["form"]; ok {
		t.Error("alias key should be resolved to its column")
	}
	if got := preds["Company Name"]; len(got) != 1 || got[0] != "APPLE INC" {
		t.Errorf("Company Name = %v", got)
	}
	if got := preds["CIK"]; len(got) != 1 || got[0] != "320193" {
		t.Errorf("CIK = %v", got)
	}
	if _, ok := preds["Date Filed"]; ok {
		t.Error("unset flag should not produce a predicate")
	}
}

func TestPredicatesRejectsBadWhere(t *testing.T) {
	whereFlags = []string{"formType"}
	defer func() { whereFlags = nil }()

	if _, err := predicates(); err == nil {
		t.Error("expected error for --where without '='")
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"update", "filter", "fetch", "fields", "peek", "clear", "export", "config"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd == rootCmd {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestApplyRange(t *testing.T) {
	cfg := config.Default()
	if err := applyRange(cfg, "2019Q4", "2019-q4"); err != nil {
		t.Fatalf("applyRange() error = %v", err)
	}
	r := cfg.Range
	if r.StartYear != 2019 || r.StartQuarter != 4 || r.EndYear != 2019 || r.EndQuarter != 4 {
		t.Errorf("Range = %+v, want 2019Q4..2019Q4", r)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	cfg = config.Default()
	if err := applyRange(cfg, "", ""); err != nil || cfg.Range != config.Default().Range {
		t.Errorf("empty flags changed range: %+v, %v", cfg.Range, err)
	}
	for _, bad := range [][2]string{{"2019Q5", ""}, {"", "Q4"}} {
		if err := applyRange(config.Default(), bad[0], bad[1]); err == nil {
			t.Errorf("applyRange(%q, %q) expected error", bad[0], bad[1])
		}
	}
}
