// Package main wires together the review extraction service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/reviewgrab/reviewgrab/internal/api"
	"github.com/reviewgrab/reviewgrab/internal/config"
	"github.com/reviewgrab/reviewgrab/internal/extract"
	"github.com/reviewgrab/reviewgrab/internal/extract/dynamic"
	"github.com/reviewgrab/reviewgrab/internal/extract/static"
	"github.com/reviewgrab/reviewgrab/internal/gate"
	"github.com/reviewgrab/reviewgrab/internal/logging"
	"github.com/reviewgrab/reviewgrab/internal/metrics"
	"github.com/reviewgrab/reviewgrab/internal/review"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	admission, err := gate.New(gate.Config{
		Window:        cfg.Window(),
		Capacity:      cfg.Limits.MaxRequests,
		SweepInterval: cfg.SweepInterval(),
	}, logger.Named("gate"))
	if err != nil {
		logger.Fatal("admission gate init failed", zap.Error(err))
	}

	browserCfg := dynamic.Config{
		UserAgent:         cfg.Browser.UserAgent,
		NavigationTimeout: time.Duration(cfg.Browser.NavTimeoutSec) * time.Second,
		SettleDelay:       time.Duration(cfg.Browser.SettleDelayMs) * time.Millisecond,
		RevealSettleDelay: time.Duration(cfg.Browser.RevealSettleMs) * time.Millisecond,
		ChallengeWaitMax:  time.Duration(cfg.Browser.ChallengeWaitMs) * time.Millisecond,
		ChallengePoll:     time.Duration(cfg.Browser.ChallengePollMs) * time.Millisecond,
		RevealMaxIters:    cfg.Browser.RevealMaxIters,
		PerHostQPS:        cfg.Browser.PerHostQPS,
	}

	staticTier := static.New(static.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
	}, logger.Named("static"))

	var dynamicTier extract.Tier = disabledTier{}
	if !cfg.Browser.DisableDynamicTier {
		browser, err := dynamic.NewBrowser(browserCfg, logger.Named("browser"))
		if err != nil {
			logger.Warn("browser init failed, running static-only", zap.Error(err))
		} else {
			defer browser.Close()
			dynamicTier = dynamic.New(browser, browserCfg, logger.Named("dynamic"))
		}
	}

	orchestrator := extract.NewOrchestrator(dynamicTier, staticTier, logger.Named("orchestrator"))
	apiServer := api.NewServer(admission, orchestrator, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go admission.Run(ctx)

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// disabledTier stands in for the dynamic tier when no browser is
// available; an empty result sends every request down the static path.
type disabledTier struct{}

func (disabledTier) Extract(context.Context, string) ([]review.Review, error) {
	return nil, nil
}
