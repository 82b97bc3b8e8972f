package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	appAlert "alert-scanner/internal/application/alert"
	"alert-scanner/internal/application/scanner"
	"alert-scanner/internal/domain/signal"
	"alert-scanner/internal/infra/memory"
	authinfra "alert-scanner/internal/infrastructure/auth"
	"alert-scanner/internal/infrastructure/config"
	"alert-scanner/internal/infrastructure/db"
	"alert-scanner/internal/infrastructure/external/binance"
	"alert-scanner/internal/infrastructure/lease"
	"alert-scanner/internal/infrastructure/logger"
	"alert-scanner/internal/infrastructure/marketdata"
	"alert-scanner/internal/infrastructure/metrics"
	"alert-scanner/internal/infrastructure/notify"
	"alert-scanner/internal/infrastructure/persistence/postgres"
	"alert-scanner/internal/infrastructure/persistence/sqlite"
	httpapi "alert-scanner/internal/interface/http"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	issueToken := flag.String("issue-token", "", "print an operator access token for the given subject and exit")
	flag.Parse()

	cfg, err := config.LoadFromFile(*cfgPath)
	if err != nil {
		log.Fatalf("CRITICAL: load config failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("CRITICAL: %v", err)
	}

	base, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		log.Fatalf("CRITICAL: init logger failed: %v", err)
	}

	tokens := authinfra.NewJWTIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if *issueToken != "" {
		token, exp, err := tokens.Issue(*issueToken)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Printf("%s\n# expires %s\n", token, exp.Format(time.RFC3339))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, base, tokens); err != nil {
		base.Fatal().Err(err).Msg("scanner exited")
	}
}

func run(ctx context.Context, cfg config.Config, base zerolog.Logger, tokens *authinfra.JWTIssuer) error {
	base.Info().Strs("symbols", cfg.Market.Symbols).Str("timeframe", cfg.Market.Timeframe).Msg("configuration loaded")

	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)

	store, closeStore, err := openStore(ctx, cfg.DB, logger.Component(base, "store"))
	if err != nil {
		return err
	}
	defer closeStore()

	dispatcher := notify.NewDispatcher(newTransport(cfg.Notifier.Telegram, base), logger.Component(base, "notify"), rec)
	defer dispatcher.Wait()

	poller := marketdata.NewPoller(
		binance.NewClient(cfg.Binance.BaseURL),
		cfg.Market.Timeframe,
		cfg.Market.HistoryLength,
		cfg.Market.PollInterval,
		logger.Component(base, "marketdata"),
	)
	if err := poller.Initialize(ctx, cfg.Market.Symbols); err != nil {
		return fmt.Errorf("initialize market data: %w", err)
	}
	defer poller.StopAll()

	generator := signal.NewGenerator(cfg.Scanner.RiskRewardTarget)

	sc := scanner.New(poller, generator, dispatcher, cfg.Market.Symbols, scanner.Options{
		Interval:              cfg.Scanner.Interval,
		Concurrency:           cfg.Scanner.Concurrency,
		Cooldown:              cfg.Scanner.Cooldown,
		Jitter:                cfg.Scanner.Jitter,
		Retries:               cfg.Scanner.Retries,
		HeartbeatEvery:        cfg.Scanner.HeartbeatEvery,
		RequireATRFeasibility: cfg.Scanner.RequireATRFeasibility,
	}, logger.Component(base, "scanner"), rec)

	l, closeLease, err := lease.Open(ctx, lease.Options{
		Backend:   cfg.Lease.Backend,
		Path:      cfg.Lease.Path,
		RedisAddr: cfg.Lease.RedisAddr,
		Key:       cfg.Lease.Key,
	})
	if err != nil {
		return fmt.Errorf("open lease: %w", err)
	}
	defer func() {
		if err := closeLease(); err != nil {
			base.Warn().Err(err).Msg("close lease backend")
		}
	}()

	reconciler := appAlert.NewReconciler(l, store, poller, generator, dispatcher, cfg.Market.Symbols,
		logger.Component(base, "reconciler"),
		appAlert.WithLeaseTTL(cfg.Lease.TTL),
		appAlert.WithMinCandles(cfg.Reconciler.MinCandles),
		appAlert.WithMetrics(rec),
	)

	var schedule *appAlert.Schedule
	if cfg.Reconciler.Enabled {
		schedule, err = appAlert.NewSchedule(ctx, cfg.Reconciler.Cron, reconciler, logger.Component(base, "reconciler"))
		if err != nil {
			return err
		}
		schedule.Start()
	}

	if cfg.Scanner.Enabled {
		sc.Start(ctx)
	}
	dispatcher.GoText(ctx, fmt.Sprintf("✅ Scanner started: %s on %s", strings.Join(cfg.Market.Symbols, ", "), cfg.Market.Timeframe))

	var srv *http.Server
	if cfg.HTTP.Enabled {
		api := httpapi.NewServer(httpapi.Deps{
			RunCtx:     ctx,
			Alerts:     appAlert.NewService(store),
			Scanner:    sc,
			Reconciler: reconciler,
			Tokens:     tokens,
			Metrics:    rec.Handler(),
			DBDriver:   cfg.DB.ResolvedDriver(),
			Log:        logger.Component(base, "http"),
		})
		srv = &http.Server{Addr: cfg.HTTP.Addr, Handler: api.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			base.Info().Str("addr", cfg.HTTP.Addr).Msg("starting HTTP server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				base.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	<-ctx.Done()
	base.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// 排程與手動觸發的對帳都結束後才釋放租約，避免新程序與仍在寫入的舊程序重疊。
	drained := true
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			drained = false
			base.Warn().Err(err).Msg("http shutdown")
		}
	}
	if schedule != nil {
		if err := schedule.Stop(shutdownCtx); err != nil {
			drained = false
			base.Warn().Err(err).Msg("reconcile run still in flight at shutdown; lease left to expire")
		}
	}
	sc.Stop()
	if drained {
		if err := reconciler.Close(shutdownCtx); err != nil {
			base.Warn().Err(err).Msg("release reconcile lease on shutdown")
		}
	}
	return nil
}

func openStore(ctx context.Context, cfg config.DBConfig, log zerolog.Logger) (appAlert.Store, func(), error) {
	noop := func() {}
	closer := func(conn *sql.DB) func() {
		return func() {
			if err := conn.Close(); err != nil {
				log.Warn().Err(err).Msg("close database")
			}
		}
	}

	switch driver := cfg.ResolvedDriver(); driver {
	case "postgres":
		conn, err := db.Connect(ctx, cfg)
		if err != nil {
			return nil, noop, fmt.Errorf("connect postgres: %w", err)
		}
		log.Info().Msg("using postgres alert store")
		return postgres.NewAlertRepo(conn), closer(conn), nil
	case "sqlite":
		conn, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, noop, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
		}
		log.Info().Str("path", cfg.Path).Msg("using sqlite alert store")
		return sqlite.NewAlertRepo(conn), closer(conn), nil
	default:
		log.Warn().Msg("using in-memory alert store; alerts are lost on restart")
		return memory.NewAlertStore(), noop, nil
	}
}

func newTransport(cfg config.TelegramConfig, base zerolog.Logger) notify.Transport {
	if cfg.Enabled {
		return notify.NewTelegramClient(cfg.Token, cfg.ChatID, cfg.Prefix)
	}
	base.Warn().Msg("telegram disabled; notifications are written to the log")
	return notify.NewLogTransport(logger.Component(base, "notify"))
}
