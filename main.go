package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"sales-pulse/internal/api"
	"sales-pulse/internal/bus"
	"sales-pulse/internal/cache"
	"sales-pulse/internal/config"
	"sales-pulse/internal/forecast"
	"sales-pulse/internal/keycrm"
	"sales-pulse/internal/logger"
	"sales-pulse/internal/metrics"
	"sales-pulse/internal/query"
	"sales-pulse/internal/scheduler"
	"sales-pulse/internal/store"
	"sales-pulse/internal/syncer"
)

var version = "dev"

func main() {
	port := flag.Int("port", 0, "HTTP server port (overrides PORT)")
	flag.Parse()

	logger.Banner(version)

	cfg := config.FromEnv()
	if cfg.KeyCRMAPIKey == "" {
		logger.Error("Config", "KEYCRM_API_KEY is not set")
		os.Exit(1)
	}
	if *port == 0 {
		if v, err := strconv.Atoi(os.Getenv("PORT")); err == nil && v > 0 {
			cfg.Port = v
		}
	} else {
		cfg.Port = *port
	}

	os.MkdirAll(cfg.DataDir, 0755)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("DB", fmt.Sprintf("Failed to open %s: %v", cfg.DBPath, err))
		os.Exit(1)
	}
	defer st.Close()

	b := bus.New()
	c := cache.New(cache.DefaultTTL, cache.SweepInterval)
	m := metrics.New()
	crm := keycrm.NewClient(cfg.KeyCRMBaseURL, cfg.KeyCRMAPIKey)
	sy := syncer.New(st, crm, b, c, m)
	q := query.New(st)

	fc := forecast.New(st, cfg.DataDir)
	defer fc.Close()
	fc.Observe = func(result string) {
		m.TrainingRuns.WithLabelValues(result).Inc()
	}

	srv := api.NewServer(st, q, sy, fc, b, c, m)

	sched, err := scheduler.New(st, b, c, q, sy, fc, srv.Conversations())
	if err != nil {
		logger.Error("Scheduler", fmt.Sprintf("Failed to build job table: %v", err))
		os.Exit(1)
	}
	sched.Start()

	// A fresh database gets the deep crawl; the adaptive loop covers the rest.
	if stats, err := st.GetStats(); err == nil && stats.Orders == 0 {
		go func() {
			logger.Info("Sync", "Empty store, starting full historical sync")
			if err := sy.FullSync(context.Background()); err != nil {
				logger.Error("Sync", fmt.Sprintf("Full sync failed: %v", err))
				return
			}
			logger.Success("Sync", "Full historical sync complete")
		}()
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	logger.Server(addr)
	if err := server.ListenAndServe(); err != nil {
		logger.Error("Server", fmt.Sprintf("Failed: %v", err))
		os.Exit(1)
	}
}
