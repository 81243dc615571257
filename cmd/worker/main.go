package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rongwang/groupledger/internal/app"
	"github.com/rongwang/groupledger/internal/config"
	"github.com/rongwang/groupledger/internal/jobs"
	"github.com/rongwang/groupledger/internal/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.LogFormat)
	slog.SetDefault(logger)

	deps, err := app.New(ctx, cfg, logger, true)
	if err != nil {
		logger.Error("bootstrap", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("close dependencies", slog.Any("error", err))
		}
	}()

	// Groups configured after startup are scheduled on the next restart
	groups, err := deps.Service.ListGroups(ctx)
	if err != nil {
		logger.Error("list groups", slog.Any("error", err))
		os.Exit(1)
	}
	schedule, skipped := jobs.RolloverSchedule(groups)
	for groupID, err := range skipped {
		logger.Warn("rollover not scheduled", slog.String("group", groupID), slog.Any("error", err))
	}

	ledgerJobs := jobs.NewLedgerJobs(deps.Service, cfg.Ledger.ReportDir, logger)
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.AsynqRedisOpt(),
		Logger:      logger,
		Concurrency: 5,
		Handlers:    ledgerJobs.Handlers(),
		Cron:        schedule,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.Int("groups", len(schedule)))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
