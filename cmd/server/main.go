package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"chat-relay/internal/auth"
	"chat-relay/internal/bridge"
	"chat-relay/internal/config"
	"chat-relay/internal/database"
	"chat-relay/internal/handlers"
	"chat-relay/internal/notify"
	"chat-relay/internal/presence"
	"chat-relay/internal/relay"
	"chat-relay/internal/websocket"
	"chat-relay/pkg/logger"

	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		logger.Fatal("%v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	authService := auth.NewService(db, cfg.JWT)
	chatRelay := relay.New(
		websocket.NewManager(),
		presence.NewTracker(),
		notify.NewRouter(),
		db,
		relay.Options{HistoryLimit: cfg.WebSocket.HistoryLimit},
	)

	if cfg.NATS.URL != "" {
		b, err := bridge.Connect(cfg.NATS)
		if err != nil {
			return err
		}
		defer b.Close()
		if err := b.Subscribe(chatRelay); err != nil {
			return err
		}
		chatRelay.SetPublisher(b)
	}

	router := handlers.NewRouter(
		handlers.NewAuthHandlers(authService),
		handlers.NewWebSocketHandlers(authService, db, chatRelay, cfg.WebSocket),
		handlers.NewAPIHandlers(authService, chatRelay, db),
	)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("🚀 Server started on http://localhost%s", cfg.Server.Port)
		printAPIEndpoints()
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Server shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown: %v", err)
		}
		return chatRelay.Close(shutdownCtx)
	})

	return g.Wait()
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (database.Database, error) {
	if cfg.URL == "" {
		logger.Warn("DATABASE_URL not set, keeping all data in memory")
		return database.NewMemoryDB(), nil
	}

	db, err := database.NewPostgresDB(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

func printAPIEndpoints() {
	logger.Info("🔗 API endpoints:")
	for _, e := range handlers.Endpoints() {
		logger.Info("   %s", e)
	}
}
