// Command gatekeep runs the delayed-execution authorizer as an HTTP
// daemon: a timelock state machine in front of an in-process dispatch
// registry, with a durable pending-set journal and notification fan-out.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/gatekeep-labs/gatekeep/pkg/api"
	"github.com/gatekeep-labs/gatekeep/pkg/audit"
	"github.com/gatekeep-labs/gatekeep/pkg/auth"
	"github.com/gatekeep-labs/gatekeep/pkg/clock"
	"github.com/gatekeep-labs/gatekeep/pkg/config"
	"github.com/gatekeep-labs/gatekeep/pkg/dispatch"
	"github.com/gatekeep-labs/gatekeep/pkg/events"
	"github.com/gatekeep-labs/gatekeep/pkg/metrics"
	"github.com/gatekeep-labs/gatekeep/pkg/minter"
	"github.com/gatekeep-labs/gatekeep/pkg/store"
	"github.com/gatekeep-labs/gatekeep/pkg/timelock"
)

func main() {
	if err := run(); err != nil {
		slog.Error("gatekeep exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	profilePath := flag.String("profile", "", "path to a YAML configuration profile")
	flag.Parse()

	cfg := config.Load()
	if *profilePath != "" {
		if err := cfg.ApplyProfile(*profilePath); err != nil {
			return err
		}
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.Admin == "" {
		return fmt.Errorf("no admin configured (TIMELOCK_ADMIN)")
	}

	meterProvider := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(meterProvider)
	defer func() { _ = meterProvider.Shutdown(context.Background()) }()

	journal, cleanup, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Warm restart: surviving journal records re-seed the pending set.
	var pending []timelock.ActionHash
	if journal != nil {
		pending, err = journal.PendingHashes(ctx)
		if err != nil {
			return fmt.Errorf("load pending actions: %w", err)
		}
	}

	recorder, err := metrics.NewRecorder()
	if err != nil {
		return err
	}

	sinks := events.Multi{
		events.NewLog(),
		events.NewAuditSink(audit.NewLogger()),
		recorder,
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = client.Close() }()
		sinks = append(sinks, events.NewRedisSink(client, cfg.RedisChannel))
	}

	registry := dispatch.NewRegistry()

	opts := []timelock.Option{
		timelock.WithClock(clock.Wall{}),
		timelock.WithDispatcher(registry),
		timelock.WithSink(sinks),
		timelock.WithLogger(logger),
		timelock.WithPendingHashes(pending...),
	}
	if journal != nil {
		opts = append(opts, timelock.WithJournal(journal))
	}

	tl, err := timelock.New(cfg.TimelockID, cfg.Admin, cfg.Delay, opts...)
	if err != nil {
		return err
	}

	// The authorizer's own privileged mutations route through its own
	// dispatch identity; the minting collaborator rides alongside.
	if err := registry.Register(tl.ID(), tl.SelfDispatchHandler()); err != nil {
		return err
	}
	if err := registry.Register("minter", minter.New().Handler()); err != nil {
		return err
	}

	server := api.NewServer(tl, logger)
	server.RecordError = func(kind string) { recorder.RecordError(context.Background(), kind) }

	handler := chain(server.Handler(),
		auth.RateLimitMiddleware(auth.NewLimiter(cfg.RateRPS, cfg.RateBurst)),
		auth.Middleware(auth.NewJWTValidator([]byte(cfg.JWTSecret))),
	)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gatekeep listening", "addr", cfg.ListenAddr, "admin", cfg.Admin, "delay", cfg.Delay.String())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openJournal(cfg *config.Config) (store.Journal, func(), error) {
	noop := func() {}
	switch strings.ToLower(cfg.JournalDriver) {
	case "memory":
		return store.NewMemoryJournal(), noop, nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("open sqlite journal: %w", err)
		}
		j, err := store.NewSQLiteJournal(db)
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		return j, func() { _ = db.Close() }, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("open postgres journal: %w", err)
		}
		j, err := store.NewPostgresJournal(db)
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		return j, func() { _ = db.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unknown journal driver %q", cfg.JournalDriver)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func chain(h http.Handler, middleware ...func(http.Handler) http.Handler) http.Handler {
	// Applied outermost-last: auth runs before rate limiting so limits
	// key on the authenticated actor.
	for _, mw := range middleware {
		h = mw(h)
	}
	return h
}
