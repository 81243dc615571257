package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"github.com/rongwang/groupledger/internal/api"
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

	deps, err := app.New(ctx, cfg, logger, false)
	if err != nil {
		logger.Error("bootstrap", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("close dependencies", slog.Any("error", err))
		}
	}()

	handler := api.NewHandler(deps.Service, logger)

	if cfg.Server.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		api.Recovery(logger),
		api.RequestLogger(logger),
		api.SecureHeaders(cfg.Server.Production, logger),
		api.RateLimit(cfg.Server.RateLimit, time.Minute),
		api.AdapterAuth([]byte(cfg.Auth.JWTSecret), cfg.Auth.ClientID),
	)

	// The job queue shares the Redis used for storage or locking
	if deps.Redis != nil {
		redisOpts := cfg.AsynqRedisOpt()
		client := jobs.NewClient(redisOpts)
		defer client.Close()
		handler.WithExportQueue(client)

		inspector := asynq.NewInspector(redisOpts)
		defer inspector.Close()
		jobs.NewHandler(inspector, logger).MountRoutes(router)
	}

	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("starting server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("error", err))
	}
}
