package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bakkerme/culler/internal/audit"
	"github.com/bakkerme/culler/internal/config"
	"github.com/bakkerme/culler/internal/core"
	"github.com/bakkerme/culler/internal/observability/metrics"
	"github.com/bakkerme/culler/internal/observability/otelx"
	"github.com/bakkerme/culler/internal/removal"
	"github.com/bakkerme/culler/internal/retry"
	"github.com/bakkerme/culler/internal/runner"
	"github.com/bakkerme/culler/internal/runner/factory"
	"github.com/bakkerme/culler/internal/sources/devtools"
	"github.com/bakkerme/culler/internal/sources/memory"
)

// collection is an external resource collection the engine can both list and prune.
type collection interface {
	core.Enumerator
	core.Remover
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	inventory  string
	output     string
}

// app bundles everything a command needs once flags and env are resolved.
type app struct {
	env     config.EnvConfig
	logger  *slog.Logger
	factory *factory.Factory
	runner  *runner.Runner
	audit   audit.Store
	metrics *metrics.Collector
	closers []func(context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	env := config.LoadEnv()
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:          "culler",
		Short:        "Find and remove duplicate or unwanted resources",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", env.ConfigPath, "path to culler document")
	root.PersistentFlags().StringVar(&flags.inventory, "inventory", "", "use a snapshot file as the resource collection instead of the browser")
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", "table", "report format: table, json, yaml or markdown")

	root.AddCommand(
		newRunCommand(env, flags),
		newDedupeCommand(env, flags),
		newFilterCommand(env, flags),
		newScheduleCommand(env, flags),
		newServeCommand(env, flags),
	)
	return root
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	// Reports go to stdout; keep logs on stderr.
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func newApp(ctx context.Context, env config.EnvConfig, flags *globalFlags) (*app, error) {
	logger := newLogger(env.LogLevel)
	slog.SetDefault(logger)
	a := &app{
		env:     env,
		logger:  logger,
		factory: factory.NewFromEnvConfig(logger, env),
		metrics: metrics.NewCollector("culler"),
	}

	shutdown, err := otelx.Init(ctx, logger, env.OTel)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	if shutdown != nil {
		a.closers = append(a.closers, shutdown)
	}

	source, err := openCollection(env, flags.inventory)
	if err != nil {
		a.close()
		return nil, err
	}

	var breaker *removal.BreakerConfig
	if env.Removal.Breaker {
		cfg := removal.DefaultBreakerConfig("culler-remove")
		breaker = &cfg
	}
	exec, err := removal.NewExecutor(source, removal.Config{
		Concurrency: env.Removal.Concurrency,
		Retry:       retry.Config{Attempts: env.Removal.Retries},
		Breaker:     breaker,
	}, removal.WithRecorder(a.metrics))
	if err != nil {
		a.close()
		return nil, err
	}

	store, err := audit.Open(env.Audit.Driver, env.Audit.DSN)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	if store != nil {
		a.audit = store
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	}

	a.runner, err = runner.New(source, exec,
		runner.WithLogger(logger),
		runner.WithAuditStore(a.audit),
		runner.WithMetrics(a.metrics),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func openCollection(env config.EnvConfig, inventory string) (collection, error) {
	if inventory != "" {
		c, err := memory.FromFile(inventory)
		if err != nil {
			return nil, fmt.Errorf("load inventory: %w", err)
		}
		return c, nil
	}
	return devtools.NewClient(env.DevTools.HTTPTimeout, env.DevTools.BaseURL), nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown failed", "error", err)
		}
	}
}

// loadJobs reads the culler document and builds its jobs. A non-empty name
// keeps only that job.
func (a *app) loadJobs(path, name string) ([]*core.Job, error) {
	doc, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	jobs, err := doc.ParseJobs(a.factory)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return jobs, nil
	}
	for _, job := range jobs {
		if job.Name == name {
			return []*core.Job{job}, nil
		}
	}
	return nil, fmt.Errorf("job %q not found in %s", name, path)
}

// buildJob turns ad hoc flags into a single job, validated like a document job.
func (a *app) buildJob(cfg config.JobConfig) (*core.Job, error) {
	doc := config.CullerDocument{Jobs: []config.JobConfig{cfg}}
	jobs, err := doc.ParseJobs(a.factory)
	if err != nil {
		return nil, err
	}
	return jobs[0], nil
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
