package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bakkerme/culler/internal/audit"
	"github.com/bakkerme/culler/internal/core"
	"github.com/bakkerme/culler/internal/filter"
	"github.com/bakkerme/culler/internal/grouping"
	"github.com/bakkerme/culler/internal/observability/metrics"
	"github.com/bakkerme/culler/internal/observability/otelx"
	"github.com/bakkerme/culler/internal/removal"
	"github.com/bakkerme/culler/internal/selection"
	"github.com/bakkerme/culler/internal/snapshot"
)

// Request describes one run: which resources to look at, how to pick what
// goes, and whether to actually remove anything.
type Request struct {
	Job       string
	Filter    snapshot.Filter
	Dedupe    *core.Dedupe
	Predicate core.Predicate
	DryRun    bool
	Snapshot  *core.SnapshotConfig
}

// RequestFor converts a configured job into a run request.
func RequestFor(job *core.Job) Request {
	return Request{
		Job:       job.Name,
		Filter:    snapshot.Filter{Scope: job.Scope, Match: job.Match},
		Dedupe:    job.Dedupe,
		Predicate: job.Predicate,
		DryRun:    job.DryRun,
		Snapshot:  job.Snapshot,
	}
}

func (r Request) validate() error {
	if r.Dedupe == nil && r.Predicate == nil {
		return fmt.Errorf("a key extractor or a predicate is required")
	}
	if r.Dedupe != nil && r.Dedupe.Extractor == nil {
		return fmt.Errorf("dedupe requires a key extractor")
	}
	if s := r.Snapshot; s != nil && (s.Snapshot || s.Restore) && s.Path == "" {
		return fmt.Errorf("snapshot path is required")
	}
	return nil
}

type Runner struct {
	logger   *slog.Logger
	source   core.Enumerator
	executor *removal.Executor
	audit    audit.Store
	metrics  *metrics.Collector
	now      func() time.Time
}

type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithAuditStore records every finished run.
func WithAuditStore(store audit.Store) Option {
	return func(r *Runner) {
		r.audit = store
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(r *Runner) {
		r.metrics = collector
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// New builds a runner over source. A nil executor restricts the runner to dry runs.
func New(source core.Enumerator, executor *removal.Executor, opts ...Option) (*Runner, error) {
	if source == nil {
		return nil, fmt.Errorf("resource source is required")
	}
	r := &Runner{
		logger:   slog.Default(),
		source:   source,
		executor: executor,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RunOnce captures a snapshot, plans removals and, unless the request is a dry
// run, executes them. The returned run is non-nil whenever the request was valid,
// including on failure. Per-item errors never fail the run; a collection-level
// failure, an invariant breach or cancellation before removal does.
func (r *Runner) RunOnce(ctx context.Context, req Request) (*core.Run, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if !req.DryRun && r.executor == nil {
		return nil, fmt.Errorf("runner has no removal executor; only dry runs are possible")
	}

	start := r.now()
	run := &core.Run{
		ID:        uuid.NewString(),
		Job:       req.Job,
		StartedAt: start.UTC(),
		Status:    core.RunStatusRunning,
		Summary: core.Summary{
			DryRun:           req.DryRun,
			RemovalsFailed:   []core.ItemError{},
			ExtractionErrors: []core.ItemError{},
			PredicateErrors:  []core.ItemError{},
		},
	}

	logger := r.logger.With("run_id", run.ID)
	if req.Job != "" {
		logger = logger.With("job", req.Job)
	}
	ctx = core.WithLogger(core.WithRunID(core.WithJob(ctx, req.Job), run.ID), logger)
	ctx, span := otelx.Tracer().Start(ctx, "culler.run", trace.WithAttributes(
		attribute.String("culler.run_id", run.ID),
		attribute.String("culler.job", req.Job),
		attribute.Bool("culler.dry_run", req.DryRun),
	))

	err := r.execute(ctx, req, run)
	r.finish(ctx, run, err, start)
	span.SetAttributes(
		attribute.Int("culler.resources_seen", run.Summary.ResourcesSeen),
		attribute.Int("culler.removals_planned", run.Summary.RemovalsPlanned),
		attribute.Int("culler.removals_succeeded", run.Summary.RemovalsSucceeded),
	)
	otelx.EndSpan(span, err)
	return run, err
}

func (r *Runner) execute(ctx context.Context, req Request, run *core.Run) error {
	logger := core.LoggerFromContext(ctx)

	snap, err := r.capture(ctx, req)
	if err != nil {
		return err
	}
	run.Summary.ResourcesSeen = snap.Len()
	logger.Info("snapshot captured", "phase", "capture", "resources", snap.Len())

	set, protected, err := r.plan(ctx, req, snap, run)
	if err != nil {
		return err
	}
	run.RemovalSet = set
	run.Summary.RemovalsPlanned = set.Len()
	logger.Info("removal plan ready", "phase", "plan",
		"groups", run.Summary.GroupsFound,
		"removals", set.Len(),
		"extraction_errors", len(run.Summary.ExtractionErrors),
		"predicate_errors", len(run.Summary.PredicateErrors),
	)

	// Everything up to here is side-effect free; this is the last point where
	// cancellation aborts cleanly.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run cancelled before removal: %w", err)
	}
	if req.DryRun || set.Len() == 0 {
		return nil
	}

	phaseCtx, span := otelx.StartPhase(ctx, "remove", attribute.Int("culler.removals", set.Len()))
	outcomes := r.executor.Remove(phaseCtx, set, protected...)
	otelx.EndSpan(span, nil)

	run.Outcomes = outcomes
	for _, o := range outcomes {
		if o.Attempts > 0 {
			run.Summary.RemovalsIssued++
		}
		switch o.Status {
		case core.OutcomeSucceeded:
			run.Summary.RemovalsSucceeded++
		case core.OutcomeSkipped:
			run.Summary.RemovalsSkipped++
		default:
			run.Summary.RemovalsFailed = append(run.Summary.RemovalsFailed, core.ItemError{ID: o.ID, Phase: core.PhaseRemoval, Reason: o.Reason})
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run cancelled during removal: %w", err)
	}
	return nil
}

func (r *Runner) capture(ctx context.Context, req Request) (snap *core.Snapshot, err error) {
	ctx, span := otelx.StartPhase(ctx, "capture")
	defer func() { otelx.EndSpan(span, err) }()

	if cfg := req.Snapshot; cfg != nil && cfg.Restore {
		saved, err := snapshot.Load(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: restore %s: %w", core.ErrSnapshotUnavailable, cfg.Path, err)
		}
		snap, err = snapshot.Narrow(saved, req.Filter)
		if err != nil {
			return nil, fmt.Errorf("%w: restore %s: %w", core.ErrSnapshotUnavailable, cfg.Path, err)
		}
		core.LoggerFromContext(ctx).Info("snapshot restored", "path", cfg.Path, "saved", saved.Len(), "in_filter", snap.Len())
		return snap, nil
	}

	snap, err = snapshot.Capture(ctx, r.source, req.Filter)
	if err != nil {
		return nil, err
	}
	if cfg := req.Snapshot; cfg != nil && cfg.Snapshot {
		if err := snapshot.Save(cfg.Path, snap); err != nil {
			core.LoggerFromContext(ctx).Warn("failed to save snapshot", "path", cfg.Path, "error", err)
		}
	}
	return snap, nil
}

// plan runs grouping, selection and the predicate filter and returns the
// combined removal set plus the survivors that must never be removed.
func (r *Runner) plan(ctx context.Context, req Request, snap *core.Snapshot, run *core.Run) (_ core.RemovalSet, _ []string, err error) {
	ctx, span := otelx.StartPhase(ctx, "plan")
	defer func() { otelx.EndSpan(span, err) }()
	logger := core.LoggerFromContext(ctx)

	var (
		set       core.RemovalSet
		survivors []string
	)
	if d := req.Dedupe; d != nil {
		groups, extractionErrors := grouping.Group(snap, d.Extractor)
		run.Summary.ExtractionErrors = append(run.Summary.ExtractionErrors, extractionErrors...)
		duplicates := grouping.SelectGroups(groups, d.MinSize)
		plans, dedupeSet, err := selection.Plan(duplicates, d.Policy)
		if err != nil {
			return core.RemovalSet{}, nil, err
		}
		run.Groups = plans
		run.Summary.GroupsFound = len(duplicates)
		run.Summary.SurvivorsKept = len(plans)
		survivors = selection.Survivors(plans)
		set = dedupeSet
	}

	if req.Predicate != nil {
		matched, predicateErrors := filter.Filter(snap, req.Predicate)
		run.Summary.PredicateErrors = append(run.Summary.PredicateErrors, predicateErrors...)
		if len(survivors) > 0 {
			for _, id := range survivors {
				if matched.Has(id) {
					logger.Info("predicate matched a group survivor, keeping it", "id", id, "predicate", req.Predicate.Name())
				}
			}
			matched = matched.Without(survivors...)
		}
		set = set.Union(matched)
	}

	for _, id := range survivors {
		if set.Has(id) {
			return core.RemovalSet{}, nil, fmt.Errorf("%w: survivor %s planned for removal", core.ErrInvariant, id)
		}
	}
	return set, survivors, nil
}

func (r *Runner) finish(ctx context.Context, run *core.Run, err error, start time.Time) {
	logger := core.LoggerFromContext(ctx)
	completedAt := r.now().UTC()
	run.CompletedAt = &completedAt

	switch {
	case err == nil:
		run.Status = core.RunStatusCompleted
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		run.Status = core.RunStatusCancelled
		run.Error = err.Error()
	default:
		run.Status = core.RunStatusFailed
		run.Error = err.Error()
	}

	s := run.Summary
	attrs := []any{
		"status", run.Status,
		"dry_run", s.DryRun,
		"resources_seen", s.ResourcesSeen,
		"groups_found", s.GroupsFound,
		"survivors_kept", s.SurvivorsKept,
		"removals_planned", s.RemovalsPlanned,
		"removals_issued", s.RemovalsIssued,
		"removals_succeeded", s.RemovalsSucceeded,
		"removals_skipped", s.RemovalsSkipped,
		"removals_failed", len(s.RemovalsFailed),
		"duration", completedAt.Sub(start.UTC()),
	}
	if err != nil {
		logger.Error("run failed", append(attrs, "error", err)...)
	} else {
		logger.Info("run finished", attrs...)
	}

	r.metrics.ObserveRun(run, completedAt.Sub(start.UTC()))
	if r.audit != nil {
		// Record even if the caller's context is already done.
		if auditErr := r.audit.Record(context.WithoutCancel(ctx), run); auditErr != nil {
			logger.Warn("failed to record run", "error", auditErr)
		}
	}
}

// RunJob runs a configured job once and hands the finished run to its outputs.
// Output failures are logged and do not change the run's result.
func (r *Runner) RunJob(ctx context.Context, job *core.Job) (*core.Run, error) {
	if job == nil {
		return nil, fmt.Errorf("job is required")
	}
	run, err := r.RunOnce(ctx, RequestFor(job))
	if run == nil {
		return nil, err
	}
	for _, output := range job.Outputs {
		if output == nil {
			continue
		}
		if deliverErr := output.Deliver(context.WithoutCancel(ctx), run); deliverErr != nil {
			r.logger.Error("output delivery failed", "job", job.Name, "run_id", run.ID, "output", output.Name(), "error", deliverErr)
		}
	}
	return run, err
}

// Start wires every job's triggers to RunJob. It returns once all triggers are
// started; runs happen in the background until ctx is done.
func (r *Runner) Start(ctx context.Context, jobs []*core.Job) error {
	started := 0
	for _, job := range jobs {
		if job == nil {
			continue
		}
		for _, trigger := range job.Triggers {
			if trigger == nil {
				continue
			}
			events, err := trigger.Start(ctx, job.Name)
			if err != nil {
				return fmt.Errorf("job %s: start %s trigger: %w", job.Name, trigger.Name(), err)
			}
			started++
			go r.listen(ctx, job, events)
		}
	}
	if started == 0 {
		return fmt.Errorf("no job has a trigger")
	}
	return nil
}

func (r *Runner) listen(ctx context.Context, job *core.Job, events <-chan core.TriggerEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			r.logger.Info("trigger event", "job", event.Job, "time", event.Timestamp)
			if _, err := r.RunJob(ctx, job); err != nil {
				r.logger.Error("job run failed", "job", job.Name, "error", err)
			}
		}
	}
}
