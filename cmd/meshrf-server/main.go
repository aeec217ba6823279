package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"meshrf/internal/api"
	"meshrf/internal/cache"
	"meshrf/internal/config"
	"meshrf/internal/jobs"
	"meshrf/internal/logging"
	"meshrf/internal/sampler"
	"meshrf/internal/tilestore"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := cache.NewRedisClient(ctx, cfg.RedisAddr(), log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	store, err := tilestore.New(tilestore.Config{
		MemCacheSize:     cfg.TileMemCacheSize,
		RedisTTL:         cfg.TileCacheTTL,
		UpstreamURLFmt:   cfg.TileUpstreamURL,
		FetchTimeout:     cfg.TileFetchTimeout,
		FetchConcurrency: cfg.TileFetchConcurrency,
	}, redisClient, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build tile store")
	}

	elevSampler := sampler.New(store, cfg.TileZoom)

	orch := jobs.New(elevSampler, jobs.Config{
		WorkerPoolSize:   cfg.WorkerPoolSize,
		MasterGridMaxDim: cfg.MasterGridMaxDim,
		TargetResM:       cfg.MasterGridTargetRes,
		WallClockBudget:  cfg.JobWallClockBudget,
		PathLossBudgetDB: cfg.PathLossBudgetDB,
	}, log)

	handler := api.NewHandler(orch, elevSampler, redisClient, log,
		cfg.DefaultRxHeight, cfg.DefaultFreqMHz, cfg.DefaultKFactor, cfg.PathLossBudgetDB)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	api.RegisterRoutes(e, handler)

	addr := fmt.Sprintf(":%s", cfg.ServerPort)

	go func() {
		log.Info().Str("addr", addr).Msg("meshrf server starting")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
}
