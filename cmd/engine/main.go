package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/evofunk/internal/alerts"
	"github.com/ajitpratap0/evofunk/internal/api"
	"github.com/ajitpratap0/evofunk/internal/config"
	"github.com/ajitpratap0/evofunk/internal/engine"
	"github.com/ajitpratap0/evofunk/internal/events"
	"github.com/ajitpratap0/evofunk/internal/evolution"
	"github.com/ajitpratap0/evofunk/internal/feed"
	"github.com/ajitpratap0/evofunk/internal/fitness"
	"github.com/ajitpratap0/evofunk/internal/lifecycle"
	"github.com/ajitpratap0/evofunk/internal/metrics"
	"github.com/ajitpratap0/evofunk/internal/scheduler"
	"github.com/ajitpratap0/evofunk/internal/store"
	"github.com/ajitpratap0/evofunk/internal/strategy"
	"github.com/ajitpratap0/evofunk/internal/validation"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not configured yet, fall back to stderr.
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logFormat := "json"
	if cfg.App.Environment == "development" {
		logFormat = "console"
	}
	config.InitLogger(cfg.App.LogLevel, logFormat)

	log.Info().
		Str("name", cfg.App.Name).
		Str("version", cfg.App.Version).
		Str("mode", cfg.App.Mode).
		Msg("Starting EvoFunk engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Secrets from Vault override file/env values when available.
	vaultCfg := config.GetVaultConfigFromEnv()
	if vaultCfg.Enabled {
		if err := config.LoadSecretsFromVault(ctx, cfg, vaultCfg); err != nil {
			log.Warn().Err(err).Msg("Vault secret loading failed, using file/env values")
		}
	}

	// Persistence backend: paper mode runs on the in-memory store, live
	// mode requires PostgreSQL.
	var backing store.Store
	if cfg.App.Mode == "paper" {
		backing = store.NewMemoryStore()
		log.Info().Msg("Paper mode: using in-memory store")
	} else {
		pg, err := store.NewPostgresStore(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		backing = pg
	}

	layer := store.NewLayer(backing, cfg.Protection)
	if err := layer.Restore(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to restore strategy registry")
	}
	defer layer.Close()

	// Performance feed and capital source.
	var (
		perfFeed scheduler.PerformanceFeed
		capital  lifecycle.CapitalSource
	)
	if cfg.App.Mode == "paper" {
		perfFeed = feed.NewPaperFeed(cfg.Evolution.Seed)
		capital = feed.NewPaperCapitalSource(cfg.Exchange.PaperEquity)
		seedPaperPopulation(ctx, layer)
	} else {
		redisFeed, err := feed.NewRedisFeed(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisFeed.Close() //nolint:errcheck
		perfFeed = redisFeed
		capital = feed.NewBinanceCapitalSource(cfg)
	}

	// Alerting fan-out: log alerter always, Telegram when configured.
	alertMgr := alerts.NewManager()
	alertMgr.Register(alerts.NewLogAlerter())
	if cfg.Alerts.TelegramEnabled {
		tg, err := alerts.NewTelegramAlerter(cfg.Alerts.TelegramToken, cfg.Alerts.TelegramChatID)
		if err != nil {
			log.Error().Err(err).Msg("Telegram alerter unavailable")
		} else {
			alertMgr.Register(tg)
		}
	}

	goals := fitness.Goals{
		TargetScore:        cfg.Fitness.TargetScore,
		TargetWinRate:      cfg.Fitness.TargetWinRate,
		TargetReturn:       cfg.Fitness.TargetReturn,
		TargetHoldTime:     cfg.Fitness.TargetHoldTime,
		TargetTradeCount:   cfg.Fitness.TargetTradeCount,
		TargetProfitFactor: cfg.Fitness.TargetProfitFactor,
		TargetMaxDrawdown:  cfg.Fitness.TargetMaxDrawdown,
		TargetSharpe:       cfg.Fitness.TargetSharpe,
	}

	lcManager := lifecycle.NewManager(layer, capital, alertMgr, cfg.Lifecycle)

	generator := evolution.NewGenerator(cfg.Evolution.Seed)
	estimator := validation.NewHeuristicEstimator(cfg.Evolution.Seed)
	runner := validation.NewRunner(estimator, goals)

	sched := scheduler.New(layer, generator, runner, perfFeed, lcManager, goals, cfg.Evolution)
	sched.AddSink(alertMgr)
	sched.SetProtectionNotifier(alertMgr)

	// Optional NATS fan-out of committed evolutions.
	if cfg.NATS.Enabled {
		publisher, err := events.NewPublisher(cfg.NATS.URL, cfg.NATS.EventSubject)
		if err != nil {
			log.Error().Err(err).Msg("NATS unavailable, event publication disabled")
		} else {
			defer publisher.Close()
			sched.AddSink(publisher)
		}
	}

	hub := api.NewHub()
	go hub.Run()
	sched.AddSink(hub)

	eng := engine.New(layer, sched)

	apiServer := api.NewServer(api.Config{
		Host:   cfg.API.Host,
		Port:   cfg.API.Port,
		Engine: eng,
		Hub:    hub,
	})

	var metricsServer *metrics.Server
	if cfg.Monitoring.EnableMetrics {
		metricsServer = metrics.NewServer(cfg.Monitoring.PrometheusPort)
		if err := metricsServer.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start metrics server")
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return lcManager.Run(gctx) })
	g.Go(func() error { return apiServer.Start() })
	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			cancel()
		case <-gctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := apiServer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to stop API server gracefully")
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to stop metrics server gracefully")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Component failed")
	}

	log.Info().Msg("Engine stopped")
}

// seedPaperPopulation registers a starter population when the registry is
// empty so paper mode has something to evolve from a cold start.
func seedPaperPopulation(ctx context.Context, layer *store.Layer) {
	if len(layer.List()) > 0 {
		return
	}

	seeds := []struct {
		name   string
		symbol string
		family strategy.Family
		genome strategy.Genome
	}{
		{"momentum-btc", "BTCUSDT", strategy.FamilyMomentum, strategy.Genome{
			"lookback_period":    20,
			"momentum_threshold": 0.02,
			"stop_loss_pct":      0.02,
			"take_profit_pct":    0.06,
			"position_size_pct":  0.05,
		}},
		{"meanrev-eth", "ETHUSDT", strategy.FamilyMeanReversion, strategy.Genome{
			"bollinger_period": 20,
			"bollinger_std":    2.0,
			"entry_deviation":  1.5,
			"exit_deviation":   0.5,
			"stop_loss_pct":    0.02,
		}},
		{"breakout-sol", "SOLUSDT", strategy.FamilyBreakout, strategy.Genome{
			"channel_period":     30,
			"breakout_threshold": 0.01,
			"confirmation_bars":  2,
			"stop_loss_pct":      0.025,
			"trailing_stop_pct":  0.03,
		}},
		{"trend-btc", "BTCUSDT", strategy.FamilyTrendFollow, strategy.Genome{
			"fast_ema_period": 12,
			"slow_ema_period": 50,
			"adx_threshold":   25,
			"stop_loss_pct":   0.03,
			"trail_stop_pct":  0.04,
		}},
	}

	for _, seed := range seeds {
		s := strategy.New(seed.name, seed.symbol, seed.family, seed.genome)
		if err := layer.Register(ctx, s); err != nil {
			log.Error().Err(err).Str("name", seed.name).Msg("Failed to seed strategy")
			continue
		}
		log.Info().
			Str("strategy_id", s.ID).
			Str("name", seed.name).
			Str("family", string(seed.family)).
			Msg("Seeded paper strategy")
	}
}
