package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	goruntime "runtime"
	"syscall"

	"chat-sync/auth"
	"chat-sync/infrastructure/http/server"
	"chat-sync/infrastructure/storage"
	"chat-sync/internal"
	"chat-sync/moderation"
	"chat-sync/observability"
	"chat-sync/runtime"
	"chat-sync/runtime/workers"
	"chat-sync/services"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/im7mortal/kmutex"
	"github.com/joho/godotenv"
	"github.com/juju/clock"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until a termination signal or a server failure.
// Deferred cleanups run before main exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Metrics
	metrics := observability.NewMetricsCollector()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		metrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 4. Domain components
	clk := clock.WallClock
	locks := kmutex.New()
	identity := auth.NewJWTIdentity(config.JWTSecret, config.AuthTokenDuration)
	gate := moderation.NewGate(identity)
	dispatcher := runtime.NewDispatcher(log, clk, config.SubscriptionBacklog, metrics)
	defer dispatcher.Close()
	presence := runtime.NewPresenceTracker(log, clk, config.PresenceTTL, config.PresenceBacklog, metrics)
	defer presence.Stop()

	censor, err := newCensor(config, log)
	if err != nil {
		return err
	}

	rooms := services.NewRoomRegistry(log, clk, storage.NewRoomRepository(db, log), gate, dispatcher, locks,
		config.MaxRoomNameLength, dispatcher, presence)
	store := services.NewMessageStore(log, clk, storage.NewMessageRepository(db, log, config.LimitMessages),
		rooms, gate, dispatcher, locks, censor, metrics, services.MessageStoreOptions{
			MaxContentLength: config.MaxContentLength,
			IdempotencyTTL:   config.IdempotencyTTL,
		})
	chatService := services.NewChatService(gate, rooms, store, dispatcher, presence)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := rooms.EnsureGeneral(ctx); err != nil {
		return fmt.Errorf("general room bootstrap failed: %w", err)
	}

	// 5. Supervised background workers
	health := workers.NewHealthMonitoringWorker(log, clk, config.MetricInterval, goruntime.NumGoroutine)
	sup := workers.NewSupervisor(log, config.RestartInterval, metrics)
	sup.Add(
		workers.NewSubscriptionReaperWorker(log, clk, dispatcher, config.ReaperInterval, config.SubscriptionIdleTimeout),
		health,
	)

	// 6. HTTP server
	chatServer := server.NewChatServer(log, chatService, health, registry, server.Options{
		RateLimit:      rate.Limit(config.RateLimitPerSecond),
		RateLimitBurst: config.RateLimitBurst,
	})
	httpServer := &http.Server{Addr: config.Address(), Handler: chatServer.Router()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sup.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("Starting HTTP server", "address", config.Address())
		if err := httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Program stopped cleanly")
	return nil
}

// newCensor returns nil when censoring is disabled.
func newCensor(config internal.Config, log *slog.Logger) (services.Censor, error) {
	if !config.EnableCensor {
		return nil, nil
	}
	char, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	data, err := runtime.DefaultCensoredLoader().LoadAll("censored")
	if err != nil {
		return nil, fmt.Errorf("censored words loading failed: %w", err)
	}
	log.Info("Censor enabled", "languages", data.Languages, "words", len(data.Words))
	moderator, err := moderation.NewModerator(data.Words, char, log)
	if err != nil {
		return nil, err
	}
	return moderator, nil
}
