package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bakkerme/culler/internal/core"
)

// CullerDocument represents the top-level structure of a culler.yaml file
type CullerDocument struct {
	Jobs []JobConfig `yaml:"jobs"`
}

// JobConfig describes one cleanup job
type JobConfig struct {
	Name     string               `yaml:"name"`
	Scope    ScopeConfig          `yaml:"scope,omitempty"`
	Dedupe   *DedupeConfig        `yaml:"dedupe,omitempty"`
	Filter   *FilterConfig        `yaml:"filter,omitempty"`
	DryRun   bool                 `yaml:"dry_run,omitempty"`
	Snapshot *core.SnapshotConfig `yaml:"snapshot,omitempty"`
	Trigger  []TriggerConfig      `yaml:"trigger,omitempty"`
	Output   []OutputConfig       `yaml:"output,omitempty"`
}

// ScopeConfig restricts which resources are enumerated
type ScopeConfig struct {
	Scope string `yaml:"scope,omitempty"`
	// Match is a glob matched against the resource location.
	Match string `yaml:"match,omitempty"`
}

// DedupeConfig configures duplicate detection
type DedupeConfig struct {
	Key       string          `yaml:"key"`
	Policy    string          `yaml:"policy,omitempty"`
	MinSize   int             `yaml:"min_size,omitempty"`
	Normalize NormalizeConfig `yaml:"normalize,omitempty"`
}

// NormalizeConfig controls how locations are normalized before comparison
type NormalizeConfig struct {
	IgnoreFragment      bool `yaml:"ignore_fragment,omitempty"`
	IgnoreQuery         bool `yaml:"ignore_query,omitempty"`
	IgnoreTrailingSlash bool `yaml:"ignore_trailing_slash,omitempty"`
	FoldCase            bool `yaml:"fold_case,omitempty"`
}

// FilterConfig selects resources for removal independently of grouping.
// Exactly one of Rule, Contains or OlderThan must be set.
type FilterConfig struct {
	Name     string          `yaml:"name,omitempty"`
	Rule     string          `yaml:"rule,omitempty"`
	Contains *ContainsFilter `yaml:"contains,omitempty"`
	// OlderThan selects resources not used for at least this long, e.g. "7d".
	OlderThan string `yaml:"older_than,omitempty"`
}

type ContainsFilter struct {
	Field     string `yaml:"field,omitempty"`
	Substring string `yaml:"substring"`
}

// TriggerConfig wraps different trigger types
type TriggerConfig struct {
	Cron *CronTrigger `yaml:"cron,omitempty"`
}

// CronTrigger defines a scheduled trigger
type CronTrigger struct {
	Schedule string `yaml:"schedule"`
	Timezone string `yaml:"timezone,omitempty"`
}

type OutputConfig struct {
	Email *EmailOutput `yaml:"email,omitempty"`
}

// EmailOutput defines run report delivery by email
type EmailOutput struct {
	To           string `yaml:"to"`
	From         string `yaml:"from,omitempty"`
	Subject      string `yaml:"subject,omitempty"`
	SMTPHost     string `yaml:"smtp_host,omitempty"`
	SMTPPort     int    `yaml:"smtp_port,omitempty"`
	SMTPUser     string `yaml:"smtp_user,omitempty"`
	SMTPPassword string `yaml:"smtp_password,omitempty"`
	UseTLS       *bool  `yaml:"use_tls,omitempty"`
	// OnlyWithRemovals skips delivery for runs that planned nothing.
	OnlyWithRemovals bool `yaml:"only_with_removals,omitempty"`
}

// JobFactory constructs concrete processor implementations for a parsed document.
type JobFactory interface {
	NewKeyExtractor(config *DedupeConfig) (core.KeyExtractor, error)
	NewSelectionPolicy(config *DedupeConfig) (core.SelectionPolicy, error)
	NewPredicate(config *FilterConfig) (core.Predicate, error)
	NewCronTrigger(config *CronTrigger) (core.TriggerProcessor, error)
	NewEmailOutput(config *EmailOutput) (core.OutputProcessor, error)
}

// Load reads and decodes a document. Unknown fields are rejected.
func Load(path string) (*CullerDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Decode(data)
}

func Decode(data []byte) (*CullerDocument, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc CullerDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &doc, nil
}

// Validate checks every job and reports all problems at once.
func (d *CullerDocument) Validate() error {
	if len(d.Jobs) == 0 {
		return fmt.Errorf("at least one job is required")
	}

	var errs []error
	seen := map[string]int{}
	for i, job := range d.Jobs {
		label := fmt.Sprintf("job %d", i)
		if job.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", label))
		} else {
			label = fmt.Sprintf("job %d (%s)", i, job.Name)
			if prev, ok := seen[job.Name]; ok {
				errs = append(errs, fmt.Errorf("%s: duplicate name, first used by job %d", label, prev))
			}
			seen[job.Name] = i
		}
		errs = append(errs, job.validate(label)...)
	}
	return errors.Join(errs...)
}

func (j JobConfig) validate(label string) []error {
	var errs []error
	if j.Dedupe == nil && j.Filter == nil {
		errs = append(errs, fmt.Errorf("%s: dedupe or filter is required", label))
	}
	if j.Dedupe != nil {
		if strings.TrimSpace(j.Dedupe.Key) == "" {
			errs = append(errs, fmt.Errorf("%s: dedupe key is required", label))
		}
		if j.Dedupe.MinSize < 0 {
			errs = append(errs, fmt.Errorf("%s: dedupe min_size must be >= 0", label))
		}
	}
	if f := j.Filter; f != nil {
		set := 0
		if strings.TrimSpace(f.Rule) != "" {
			set++
		}
		if f.Contains != nil {
			set++
			if f.Contains.Substring == "" {
				errs = append(errs, fmt.Errorf("%s: filter contains substring is required", label))
			}
		}
		if f.OlderThan != "" {
			set++
			if d, err := ParseDuration(f.OlderThan); err != nil {
				errs = append(errs, fmt.Errorf("%s: filter older_than: %w", label, err))
			} else if d <= 0 {
				errs = append(errs, fmt.Errorf("%s: filter older_than must be positive", label))
			}
		}
		switch {
		case set == 0:
			errs = append(errs, fmt.Errorf("%s: filter needs one of rule, contains or older_than", label))
		case set > 1:
			errs = append(errs, fmt.Errorf("%s: filter rule, contains and older_than are mutually exclusive", label))
		}
	}
	if err := validateSnapshotConfig(label, j.Snapshot); err != nil {
		errs = append(errs, err)
	}
	for i, trigger := range j.Trigger {
		if trigger.Cron == nil {
			errs = append(errs, fmt.Errorf("%s: trigger %d: unsupported trigger type", label, i))
			continue
		}
		if trigger.Cron.Schedule == "" {
			errs = append(errs, fmt.Errorf("%s: trigger %d: cron schedule is required", label, i))
		}
	}
	for i, output := range j.Output {
		if output.Email == nil {
			errs = append(errs, fmt.Errorf("%s: output %d: unsupported output type", label, i))
			continue
		}
		if output.Email.To == "" {
			errs = append(errs, fmt.Errorf("%s: output %d: email 'to' field is required", label, i))
		} else if _, err := mail.ParseAddress(output.Email.To); err != nil {
			errs = append(errs, fmt.Errorf("%s: output %d: invalid to address", label, i))
		}
		if output.Email.From != "" {
			if _, err := mail.ParseAddress(output.Email.From); err != nil {
				errs = append(errs, fmt.Errorf("%s: output %d: invalid from address", label, i))
			}
		}
	}
	return errs
}

func validateSnapshotConfig(label string, cfg *core.SnapshotConfig) error {
	if cfg == nil {
		return nil
	}
	if cfg.Snapshot && cfg.Restore {
		return fmt.Errorf("%s: snapshot and restore cannot both be true", label)
	}
	if (cfg.Snapshot || cfg.Restore) && cfg.Path == "" {
		return fmt.Errorf("%s: snapshot path is required", label)
	}
	return nil
}

// ParseJobs validates the document and converts it into runnable jobs.
// When factory is nil, jobs are created without concrete processors.
func (d *CullerDocument) ParseJobs(factory JobFactory) ([]*core.Job, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	jobs := make([]*core.Job, 0, len(d.Jobs))
	for i := range d.Jobs {
		cfg := &d.Jobs[i]
		job, err := cfg.build(factory)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", cfg.Name, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (j *JobConfig) build(factory JobFactory) (*core.Job, error) {
	job := &core.Job{
		Name:     j.Name,
		Scope:    j.Scope.Scope,
		Match:    j.Scope.Match,
		DryRun:   j.DryRun,
		Snapshot: j.Snapshot,
	}

	if j.Dedupe != nil {
		job.Dedupe = &core.Dedupe{MinSize: j.Dedupe.MinSize}
		if factory != nil {
			extractor, err := factory.NewKeyExtractor(j.Dedupe)
			if err != nil {
				return nil, fmt.Errorf("dedupe key: %w", err)
			}
			policy, err := factory.NewSelectionPolicy(j.Dedupe)
			if err != nil {
				return nil, fmt.Errorf("dedupe policy: %w", err)
			}
			job.Dedupe.Extractor = extractor
			job.Dedupe.Policy = policy
		}
	}

	if j.Filter != nil && factory != nil {
		predicate, err := factory.NewPredicate(j.Filter)
		if err != nil {
			return nil, fmt.Errorf("filter: %w", err)
		}
		job.Predicate = predicate
	}

	for _, trigger := range j.Trigger {
		if trigger.Cron == nil {
			continue
		}
		var processor core.TriggerProcessor
		if factory != nil {
			var err error
			processor, err = factory.NewCronTrigger(trigger.Cron)
			if err != nil {
				return nil, err
			}
		}
		job.Triggers = append(job.Triggers, processor)
	}

	for _, output := range j.Output {
		if output.Email == nil {
			continue
		}
		var processor core.OutputProcessor
		if factory != nil {
			var err error
			processor, err = factory.NewEmailOutput(output.Email)
			if err != nil {
				return nil, err
			}
		}
		job.Outputs = append(job.Outputs, processor)
	}

	return job, nil
}
