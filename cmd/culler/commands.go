package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bakkerme/culler/internal/api"
	"github.com/bakkerme/culler/internal/config"
	"github.com/bakkerme/culler/internal/core"
	"github.com/bakkerme/culler/internal/report"
)

func newRunCommand(env config.EnvConfig, flags *globalFlags) *cobra.Command {
	var jobName string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every job in the culler document once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), env, flags)
			if err != nil {
				return err
			}
			defer a.close()

			jobs, err := a.loadJobs(flags.configPath, jobName)
			if err != nil {
				return err
			}
			var errs []error
			for _, job := range jobs {
				if err := a.runAndReport(cmd, job, flags.output); err != nil {
					errs = append(errs, fmt.Errorf("job %s: %w", job.Name, err))
					if isCancelled(err) {
						break
					}
				}
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringVar(&jobName, "job", "", "run only the named job")
	return cmd
}

// adhocFlags are the flags dedupe and filter share.
type adhocFlags struct {
	scope        string
	match        string
	dryRun       bool
	saveSnapshot string
	rule         string
	contains     string
	field        string
	olderThan    string
}

func (f *adhocFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.scope, "scope", "", "resource scope, e.g. the target type (default page)")
	cmd.Flags().StringVar(&f.match, "match", "", "glob matched against resource locations")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "plan removals without issuing them")
	cmd.Flags().StringVar(&f.saveSnapshot, "save-snapshot", "", "write the captured snapshot to this file")
	cmd.Flags().StringVar(&f.rule, "rule", "", "expr rule selecting resources to remove")
	cmd.Flags().StringVar(&f.contains, "contains", "", "remove resources whose field contains this substring")
	cmd.Flags().StringVar(&f.field, "field", "", "field for --contains: location, title or any")
	cmd.Flags().StringVar(&f.olderThan, "older-than", "", "remove resources unused for this long, e.g. 7d")
}

func (f *adhocFlags) jobConfig(name string) config.JobConfig {
	cfg := config.JobConfig{
		Name:   name,
		Scope:  config.ScopeConfig{Scope: f.scope, Match: f.match},
		DryRun: f.dryRun,
	}
	if f.saveSnapshot != "" {
		cfg.Snapshot = &core.SnapshotConfig{Snapshot: true, Path: f.saveSnapshot}
	}
	if f.rule != "" || f.contains != "" || f.olderThan != "" {
		cfg.Filter = &config.FilterConfig{Rule: f.rule, OlderThan: f.olderThan}
		if f.contains != "" {
			cfg.Filter.Contains = &config.ContainsFilter{Field: f.field, Substring: f.contains}
		}
	}
	return cfg
}

func newDedupeCommand(env config.EnvConfig, flags *globalFlags) *cobra.Command {
	adhoc := &adhocFlags{}
	var (
		key       string
		policy    string
		minSize   int
		normalize config.NormalizeConfig
	)
	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Remove duplicates, keeping one survivor per group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), env, flags)
			if err != nil {
				return err
			}
			defer a.close()

			cfg := adhoc.jobConfig("dedupe")
			cfg.Dedupe = &config.DedupeConfig{Key: key, Policy: policy, MinSize: minSize, Normalize: normalize}
			job, err := a.buildJob(cfg)
			if err != nil {
				return err
			}
			return a.runAndReport(cmd, job, flags.output)
		},
	}
	adhoc.register(cmd)
	cmd.Flags().StringVar(&key, "key", "location", "grouping key: location, title, attribute:<name>, or a+b")
	cmd.Flags().StringVar(&policy, "policy", "first", "survivor policy: first, most_recent or priority:<attr>")
	cmd.Flags().IntVar(&minSize, "min-size", 2, "smallest group treated as duplicates")
	cmd.Flags().BoolVar(&normalize.IgnoreFragment, "ignore-fragment", false, "ignore #fragments when comparing locations")
	cmd.Flags().BoolVar(&normalize.IgnoreQuery, "ignore-query", false, "ignore query strings when comparing locations")
	cmd.Flags().BoolVar(&normalize.IgnoreTrailingSlash, "ignore-trailing-slash", false, "ignore a trailing slash when comparing locations")
	cmd.Flags().BoolVar(&normalize.FoldCase, "fold-case", false, "compare keys case-insensitively")
	return cmd
}

func newFilterCommand(env config.EnvConfig, flags *globalFlags) *cobra.Command {
	adhoc := &adhocFlags{}
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Remove every resource matching a predicate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), env, flags)
			if err != nil {
				return err
			}
			defer a.close()

			cfg := adhoc.jobConfig("filter")
			if cfg.Filter == nil {
				return fmt.Errorf("one of --rule, --contains or --older-than is required")
			}
			job, err := a.buildJob(cfg)
			if err != nil {
				return err
			}
			return a.runAndReport(cmd, job, flags.output)
		},
	}
	adhoc.register(cmd)
	return cmd
}

func newScheduleCommand(env config.EnvConfig, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the document's jobs on their cron triggers until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), env, flags)
			if err != nil {
				return err
			}
			defer a.close()

			jobs, err := a.loadJobs(flags.configPath, "")
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := a.runner.Start(ctx, jobs); err != nil {
				return err
			}
			a.logger.Info("scheduler started", "jobs", len(jobs))
			<-ctx.Done()
			stopTriggers(a, jobs)
			return nil
		},
	}
}

func newServeCommand(env config.EnvConfig, flags *globalFlags) *cobra.Command {
	var (
		addr     string
		schedule bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), env, flags)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			var jobs []*core.Job
			if _, statErr := os.Stat(flags.configPath); statErr == nil {
				if jobs, err = a.loadJobs(flags.configPath, ""); err != nil {
					return err
				}
			} else {
				a.logger.Info("no culler document, serving ad hoc runs only", "path", flags.configPath)
			}
			if schedule && len(jobs) > 0 {
				if err := a.runner.Start(ctx, jobs); err != nil {
					return err
				}
				defer stopTriggers(a, jobs)
			}

			server := api.NewServer(api.Options{
				Logger:  a.logger,
				Runner:  a.runner,
				Factory: a.factory,
				Jobs:    jobs,
				Audit:   a.audit,
				Metrics: a.metrics,
			})
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("starting culler server", "addr", addr)
				errCh <- server.Start(addr)
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", env.ListenAddr, "listen address")
	cmd.Flags().BoolVar(&schedule, "schedule", false, "also run the document's jobs on their triggers")
	return cmd
}

func stopTriggers(a *app, jobs []*core.Job) {
	for _, job := range jobs {
		for _, trigger := range job.Triggers {
			if trigger == nil {
				continue
			}
			if err := trigger.Stop(); err != nil {
				a.logger.Warn("failed to stop trigger", "job", job.Name, "trigger", trigger.Name(), "error", err)
			}
		}
	}
}

// runAndReport runs job once and writes its report to stdout. The report is
// written even when the run failed.
func (a *app) runAndReport(cmd *cobra.Command, job *core.Job, format string) error {
	run, err := a.runner.RunJob(cmd.Context(), job)
	if run != nil {
		if encErr := report.Encode(cmd.OutOrStdout(), format, run); encErr != nil {
			return errors.Join(err, encErr)
		}
	}
	return err
}
