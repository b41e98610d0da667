package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/morphos-dev/morphos/internal/agents"
	"github.com/morphos-dev/morphos/internal/engine"
	"github.com/morphos-dev/morphos/internal/evolution"
	"github.com/morphos-dev/morphos/internal/expressions"
	"github.com/morphos-dev/morphos/internal/logging"
	"github.com/morphos-dev/morphos/internal/store"
	"github.com/morphos-dev/morphos/internal/streaming"
	"github.com/morphos-dev/morphos/internal/trigger"
	"github.com/morphos-dev/morphos/internal/validation"
	morphosmcp "github.com/morphos-dev/morphos/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "morphos:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	validator, err := validation.NewWorkflowValidator()
	if err != nil {
		return fmt.Errorf("build validator: %w", err)
	}

	history, err := evolution.NewHistoryLog(cfg.HistoryDir)
	if err != nil {
		return fmt.Errorf("open history log: %w", err)
	}
	applier := evolution.NewApplier(st, history, validator, logger)

	registry := agents.NewRegistry()
	registry.Register(agents.NewCLIAdapter(agents.CLIAdapterConfig{
		Command:   cfg.AgentCommand,
		Args:      cfg.AgentArgs,
		ModelFlag: cfg.ModelFlag,
	}))

	hub := streaming.NewMemoryHub()

	cel, err := expressions.NewCELEngine()
	if err != nil {
		return fmt.Errorf("build CEL engine: %w", err)
	}

	scheduler := engine.NewScheduler(engine.SchedulerConfig{
		Validator:     validator,
		Store:         st,
		Hub:           hub,
		Registry:      registry,
		Applier:       applier,
		CEL:           cel,
		Expr:          expressions.NewExprEngine(),
		JQ:            expressions.NewGoJQEngine(),
		Logger:        logger,
		MaxConcurrent: cfg.MaxConcurrent,
	})

	srv := morphosmcp.NewMorphosServer(morphosmcp.MorphosServerDeps{
		Scheduler: scheduler,
		Store:     st,
		Applier:   applier,
		Validator: validator,
		Hub:       hub,
		Logger:    logger,
	})

	grp, grpCtx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		return srv.Serve(grpCtx)
	})
	grp.Go(func() error {
		return srv.StartEventBridge(grpCtx)
	})

	if cfg.CronEnabled {
		cronTrigger := trigger.NewCronTrigger(st, &triggerRunner{scheduler: scheduler, store: st}, logger)
		if err := cronTrigger.Start(grpCtx); err != nil {
			return err
		}
		defer cronTrigger.Stop()
	}

	logger.Info("morphos started", "db_path", cfg.DBPath, "history_dir", cfg.HistoryDir)
	return grp.Wait()
}

// triggerRunner adapts the scheduler to the trigger's runner contract.
type triggerRunner struct {
	scheduler *engine.Scheduler
	store     store.Store
}

func (r *triggerRunner) RunWorkflow(ctx context.Context, workflowID string) error {
	wf, err := r.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	events, err := r.scheduler.Execute(ctx, wf, engine.RunOptions{})
	if err != nil {
		return err
	}
	for range events {
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(handler))
}
