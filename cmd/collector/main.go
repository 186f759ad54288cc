package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/cliproxy-dash/usage-collector/internal/attribution"
	"github.com/cliproxy-dash/usage-collector/internal/collector"
	"github.com/cliproxy-dash/usage-collector/internal/config"
	"github.com/cliproxy-dash/usage-collector/internal/delta"
	"github.com/cliproxy-dash/usage-collector/internal/fetcher"
	"github.com/cliproxy-dash/usage-collector/internal/logging"
	"github.com/cliproxy-dash/usage-collector/internal/pricing"
	"github.com/cliproxy-dash/usage-collector/internal/ratelimit"
	"github.com/cliproxy-dash/usage-collector/internal/scheduler"
	"github.com/cliproxy-dash/usage-collector/internal/server"
	"github.com/cliproxy-dash/usage-collector/internal/store/postgres"
	"github.com/cliproxy-dash/usage-collector/internal/telemetry"
	"github.com/cliproxy-dash/usage-collector/internal/utils"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if *debug {
		cfg.Security.Debug = true
	}

	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}

	watcher, err := config.Watch(*configPath, func(reloaded *config.Config) {
		if *debug {
			reloaded.Security.Debug = true
		}
		if err := logging.Setup(reloaded); err != nil {
			log.WithError(err).Warn("failed to apply reloaded logging configuration")
			return
		}
		log.Info("logging configuration reloaded")
	})
	if err != nil {
		log.WithError(err).Warn("config file watch failed, continuing without hot-reload")
	}
	if watcher != nil {
		defer watcher.Close()
	}

	traceShutdown, err := telemetry.Init(context.Background())
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	}
	if traceShutdown != nil {
		defer func() {
			if err := traceShutdown(context.Background()); err != nil {
				log.WithError(err).Warn("failed to shutdown tracing")
			}
		}()
	}

	log.Info("starting usage-collector")

	st, err := postgres.New(cfg.Supabase.URL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		log.WithError(err).Fatal("failed to apply migrations")
	}

	var l2 *pricing.RedisCache
	if cfg.Collector.PricingCacheURL != "" {
		opts, err := redis.ParseURL(cfg.Collector.PricingCacheURL)
		if err != nil {
			log.WithError(err).Warn("invalid pricing cache URL, continuing without L2 cache")
		} else {
			l2 = pricing.NewRedisCache(redis.NewClient(opts))
		}
	}
	resolver := pricing.NewResolver(l2)

	location, err := utils.ParseLocation(fmt.Sprintf("UTC%+d", cfg.Collector.TimezoneOffsetHrs))
	if err != nil {
		log.WithError(err).Fatal("invalid timezone offset")
	}

	f := fetcher.New(cfg.CLIProxy.URL, cfg.CLIProxy.ManagementKey)
	deltaEngine := delta.New(st, resolver, location)
	rlEngine := ratelimit.New(st, location)
	attrib := attribution.New()

	coll := collector.New(f, resolver, deltaEngine, rlEngine, attrib, st, location)

	interval := time.Duration(cfg.Collector.IntervalSeconds) * time.Second
	sched := scheduler.New(coll, interval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	httpSrv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Collector.TriggerPort),
		Handler: server.New(server.Dependencies{Collector: coll, ManagementKey: cfg.CLIProxy.ManagementKey}),
	}

	go func() {
		log.Infof("admin API listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("admin server stopped unexpectedly")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown signal received")

	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("admin server shutdown did not complete cleanly")
	}

	log.Info("usage-collector stopped")
}
