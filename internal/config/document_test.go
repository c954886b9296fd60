package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bakkerme/culler/internal/core"
)

const exampleDocument = `
jobs:
  - name: tabs
    scope:
      scope: page
      match: "https://*"
    dedupe:
      key: location
      policy: most_recent
      min_size: 2
      normalize:
        ignore_fragment: true
    trigger:
      - cron:
          schedule: "*/15 * * * *"
    output:
      - email:
          to: "ops@example.com"
          subject: "Tab cleanup"
  - name: stale-docs
    filter:
      rule: 'host == "docs.example.com"'
    dry_run: true
`

type stubFactory struct {
	calls []string
}

func (f *stubFactory) NewKeyExtractor(cfg *DedupeConfig) (core.KeyExtractor, error) {
	f.calls = append(f.calls, "key:"+cfg.Key)
	return nil, nil
}

func (f *stubFactory) NewSelectionPolicy(cfg *DedupeConfig) (core.SelectionPolicy, error) {
	f.calls = append(f.calls, "policy:"+cfg.Policy)
	return nil, nil
}

func (f *stubFactory) NewPredicate(cfg *FilterConfig) (core.Predicate, error) {
	f.calls = append(f.calls, "filter")
	return nil, nil
}

func (f *stubFactory) NewCronTrigger(cfg *CronTrigger) (core.TriggerProcessor, error) {
	f.calls = append(f.calls, "cron:"+cfg.Schedule)
	return nil, nil
}

func (f *stubFactory) NewEmailOutput(cfg *EmailOutput) (core.OutputProcessor, error) {
	f.calls = append(f.calls, "email:"+cfg.To)
	return nil, nil
}

func TestParseExampleDocument(t *testing.T) {
	doc, err := Decode([]byte(exampleDocument))
	if err != nil {
		t.Fatalf("Failed to decode YAML: %v", err)
	}
	if err := doc.Validate(); err != nil {
		t.Fatalf("Document validation failed: %v", err)
	}

	factory := &stubFactory{}
	jobs, err := doc.ParseJobs(factory)
	if err != nil {
		t.Fatalf("Failed to parse document: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}

	tabs := jobs[0]
	if tabs.Name != "tabs" || tabs.Scope != "page" || tabs.Match != "https://*" {
		t.Fatalf("unexpected job %+v", tabs)
	}
	if tabs.Dedupe == nil || tabs.Dedupe.MinSize != 2 {
		t.Fatalf("expected dedupe with min size 2, got %+v", tabs.Dedupe)
	}
	if len(tabs.Triggers) != 1 || len(tabs.Outputs) != 1 {
		t.Fatalf("expected one trigger and one output, got %d/%d", len(tabs.Triggers), len(tabs.Outputs))
	}
	if !jobs[1].DryRun || jobs[1].Dedupe != nil {
		t.Fatalf("unexpected second job %+v", jobs[1])
	}

	want := "key:location,policy:most_recent,cron:*/15 * * * *,email:ops@example.com,filter"
	if got := strings.Join(factory.calls, ","); got != want {
		t.Fatalf("factory calls = %q, want %q", got, want)
	}
}

func TestParseJobsWithoutFactory(t *testing.T) {
	doc, err := Decode([]byte(exampleDocument))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	jobs, err := doc.ParseJobs(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if jobs[0].Dedupe.Extractor != nil {
		t.Fatalf("expected no concrete extractor without a factory")
	}
}

func TestParseJobsWrapsFactoryErrors(t *testing.T) {
	doc, err := Decode([]byte(exampleDocument))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	_, err = doc.ParseJobs(&failingFactory{})
	if err == nil || !strings.Contains(err.Error(), `job "tabs": dedupe key: bad key`) {
		t.Fatalf("expected wrapped factory error, got %v", err)
	}
}

type failingFactory struct{ stubFactory }

func (failingFactory) NewKeyExtractor(*DedupeConfig) (core.KeyExtractor, error) {
	return nil, errors.New("bad key")
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode([]byte("jobs:\n  - name: a\n    dedupe:\n      keyy: location\n"))
	if err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	doc := &CullerDocument{Jobs: []JobConfig{
		{Name: "a"},
		{Name: "a", Dedupe: &DedupeConfig{MinSize: -1}},
		{Filter: &FilterConfig{Rule: "true", Contains: &ContainsFilter{Substring: "x"}}},
		{Name: "d", Filter: &FilterConfig{OlderThan: "soon"}},
		{Name: "e", Filter: &FilterConfig{Contains: &ContainsFilter{}}},
		{
			Name:     "f",
			Dedupe:   &DedupeConfig{Key: "location"},
			Snapshot: &core.SnapshotConfig{Snapshot: true, Restore: true, Path: "x"},
			Trigger:  []TriggerConfig{{}, {Cron: &CronTrigger{}}},
			Output:   []OutputConfig{{Email: &EmailOutput{To: "not-an-address"}}, {}},
		},
	}}

	err := doc.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	msg := err.Error()
	for _, want := range []string{
		"job 0 (a): dedupe or filter is required",
		"job 1 (a): duplicate name, first used by job 0",
		"job 1 (a): dedupe key is required",
		"job 1 (a): dedupe min_size must be >= 0",
		"job 2: name is required",
		"job 2: filter rule, contains and older_than are mutually exclusive",
		"job 3 (d): filter older_than",
		"job 4 (e): filter contains substring is required",
		"job 5 (f): snapshot and restore cannot both be true",
		"job 5 (f): trigger 0: unsupported trigger type",
		"job 5 (f): trigger 1: cron schedule is required",
		"job 5 (f): output 0: invalid to address",
		"job 5 (f): output 1: unsupported output type",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected error %q in:\n%s", want, msg)
		}
	}
}

func TestValidateRequiresJobs(t *testing.T) {
	if err := (&CullerDocument{}).Validate(); err == nil {
		t.Fatalf("expected error for empty document")
	}
}

func TestValidateSnapshotPathRequired(t *testing.T) {
	doc := &CullerDocument{Jobs: []JobConfig{{
		Name:     "a",
		Dedupe:   &DedupeConfig{Key: "title"},
		Snapshot: &core.SnapshotConfig{Restore: true},
	}}}
	if err := doc.Validate(); err == nil || !strings.Contains(err.Error(), "snapshot path is required") {
		t.Fatalf("expected snapshot path error, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "culler.yaml")
	if err := os.WriteFile(path, []byte(exampleDocument), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(doc.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(doc.Jobs))
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadEnvDefaults(t *testing.T) {
	t.Setenv("CULLER_AUDIT_DRIVER", "SQLite")
	t.Setenv("CULLER_HTTP_TIMEOUT", "1w")
	t.Setenv("CULLER_REMOVAL_CONCURRENCY", "not-a-number")
	t.Setenv("OTEL_TRACES_SAMPLE_RATIO", "3")

	env := LoadEnv()
	if env.ConfigPath != "culler.yaml" {
		t.Fatalf("ConfigPath = %q", env.ConfigPath)
	}
	if env.Audit.Driver != "sqlite" || env.Audit.DSN != "data/culler.db" {
		t.Fatalf("unexpected audit config %+v", env.Audit)
	}
	if env.DevTools.HTTPTimeout.Hours() != 7*24 {
		t.Fatalf("HTTPTimeout = %v", env.DevTools.HTTPTimeout)
	}
	if env.Removal.Concurrency != 4 {
		t.Fatalf("Concurrency = %d, want fallback 4", env.Removal.Concurrency)
	}
	if env.OTel.SampleRatio != 1 {
		t.Fatalf("SampleRatio = %v, want clamp to 1", env.OTel.SampleRatio)
	}
}
