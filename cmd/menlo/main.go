package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"menlo/internal/api"
	"menlo/internal/config"
	"menlo/internal/engine"
	"menlo/internal/events"
	"menlo/internal/google"
	"menlo/internal/lock"
	"menlo/internal/metrics"
	"menlo/internal/notify"
	"menlo/internal/reminders"
	"menlo/internal/report"
	"menlo/internal/store"
	"menlo/internal/telemetry"
)

func main() {
	cfg, err := config.Load(os.Getenv("MENLO_CONFIG_PATH"))
	if err != nil {
		bootLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}

	fb := store.NewFirebaseClient(store.FirebaseOptions{
		BaseURL:      cfg.Store.BaseURL,
		AuthToken:    cfg.Store.AuthToken,
		BookingsPath: cfg.Store.BookingsPath,
		StatusPath:   cfg.Store.StatusPath,
		Timeout:      cfg.StoreTimeout(),
	})
	if rdb != nil && cfg.StatusCacheTTL() > 0 {
		fb.UseRedisCache(rdb, cfg.StatusCacheTTL())
	}

	sender := buildSender(cfg, &logger)
	confirmations := notify.NewRetrying(sender, notify.RetryConfig{MaxRetries: 1, RetryDelays: []time.Duration{time.Second}}, &logger)

	eng := engine.New(fb, confirmations, engine.Config{
		Resource:       cfg.Engine.Resource,
		Location:       cfg.Location(),
		StoreTimeout:   cfg.StoreTimeout(),
		MaxHorizonDays: cfg.Engine.MaxHorizonDays,
	}, &logger)

	switch cfg.Lock.Driver {
	case "redis":
		eng.UseLocker(lock.NewFailover(lock.NewRedis(rdb, cfg.LockTTL(), cfg.LockWait(), &logger), lock.NewLocal(), &logger))
	case "local":
		eng.UseLocker(lock.NewLocal())
	default:
		logger.Warn().Msg("booking lock disabled: concurrent submissions may double-book")
	}

	bus := events.NewEventBus(&logger)
	bus.SubscribeMetrics(engine.EventBookingCreated, engine.EventBookingRejected)
	eng.UseEvents(bus)

	if cfg.Google.SheetsEnabled {
		sheetsSvc, err := google.NewSheetsService(ctx, google.SheetsConfig{
			CredentialsFile: cfg.Google.CredentialsFile,
			SpreadsheetID:   cfg.Google.SpreadsheetID,
			SheetName:       cfg.Google.SheetName,
			Location:        cfg.Location(),
		}, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("sheets mirror disabled")
		} else {
			if err := sheetsSvc.EnsureHeader(ctx); err != nil {
				logger.Warn().Err(err).Msg("could not prepare sheet header")
			}
			sheetsSvc.Subscribe(bus, engine.EventBookingCreated)
			go sheetsSvc.Run(ctx)
		}
	}

	if cfg.Telemetry.Enabled {
		tb := telemetry.NewThingsBoard(telemetry.ThingsBoardOptions{
			BaseURL:     cfg.Telemetry.BaseURL,
			DeviceToken: cfg.Telemetry.DeviceToken,
			QueueSize:   cfg.Telemetry.QueueSize,
		}, &logger)
		eng.UseTelemetry(tb)
		go tb.Run(ctx)
		go telemetry.NewStatusReporter(eng, tb, cfg.StatusInterval(), &logger).Run(ctx)
	}

	if cfg.Reminders.Enabled {
		ledger, closeLedger, err := buildLedger(cfg, rdb)
		if err != nil {
			logger.Fatal().Err(err).Msg("reminder ledger")
		}
		defer closeLedger()

		retry := notify.DefaultRetryConfig()
		if cfg.Reminders.MaxRetries > 0 {
			retry.MaxRetries = cfg.Reminders.MaxRetries
		}
		var reg prometheus.Registerer
		if cfg.Monitoring.PrometheusEnabled {
			reg = prometheus.DefaultRegisterer
		}
		scheduler := reminders.NewScheduler(reminders.SchedulerConfig{
			Location:         cfg.Location(),
			DailyHour:        cfg.Reminders.DailyHour,
			DailyMinute:      cfg.Reminders.DailyMinute,
			CheckInterval:    time.Minute,
			RetryInterval:    cfg.ReminderRetryInterval(),
			CleanupRetention: cfg.ReminderCleanupRetention(),
		}, eng, notify.NewRetrying(sender, retry, &logger), ledger, reminders.NewMetrics(reg), &logger)
		go scheduler.Start(ctx)
	}

	if cfg.Report.Enabled {
		snapshots := report.NewSnapshotService(eng, report.SnapshotConfig{
			Enabled:       true,
			Interval:      cfg.ReportInterval(),
			StoragePath:   cfg.Report.Path,
			RetentionDays: cfg.Report.RetentionDays,
		}, &logger)
		go snapshots.Start(ctx)
	}

	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, fb, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	logger.Info().
		Str("resource", cfg.Engine.Resource).
		Str("status_path", cfg.Store.StatusPath).
		Msg("Menlo booking service started")

	if err := api.NewHTTPServer(cfg.HTTP.Port, eng, &logger).Start(ctx); err != nil {
		logger.Error().Err(err).Msg("api server error")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Logging.Format == "json" {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// buildSender delivers by e-mail when SMTP is configured and copies every
// message to the operator chat when Telegram is configured.
func buildSender(cfg *config.Config, logger *zerolog.Logger) notify.Sender {
	var primary notify.Sender = notify.NewLog(logger)
	if cfg.SMTP.Host != "" {
		primary = notify.NewRateLimited(notify.NewSMTP(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}), cfg.SMTP.RatePerSecond, 1)
	} else {
		logger.Warn().Msg("smtp not configured, notifications are only logged")
	}

	if cfg.Telegram.BotToken == "" || cfg.Telegram.ChatID == 0 {
		return primary
	}
	tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	if err != nil {
		logger.Error().Err(err).Msg("telegram mirror disabled")
		return primary
	}
	return notify.NewMirror(primary, logger, tg)
}

func buildLedger(cfg *config.Config, rdb *redis.Client) (reminders.Ledger, func(), error) {
	switch cfg.Reminders.Ledger {
	case "redis":
		return reminders.NewRedisLedger(rdb, 0), func() {}, nil
	case "sqlite":
		l, err := reminders.NewSQLiteLedger(cfg.Reminders.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return l, func() { _ = l.Close() }, nil
	default:
		return reminders.NewMemoryLedger(), func() {}, nil
	}
}

func startHealthServer(ctx context.Context, port int, fb *store.FirebaseClient, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := fb.HealthCheck(ctxPing); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
