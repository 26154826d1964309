package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/seimmuc/family-tree/backend/internal/api"
	"github.com/seimmuc/family-tree/backend/internal/auth"
	"github.com/seimmuc/family-tree/backend/internal/graph"
	"github.com/seimmuc/family-tree/backend/internal/media"
	"github.com/seimmuc/family-tree/backend/pkg/config"
	"github.com/seimmuc/family-tree/backend/pkg/logger"
)

// sessionPurgeInterval is how often expired sessions are swept
const sessionPurgeInterval = time.Hour

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting family tree server...", zap.String("env", cfg.Env))

	// Connect to Neo4j; a failure here is final
	ctx := context.Background()
	conn := graph.NewConnection(connectionConfig(cfg))
	if _, err := conn.Driver(ctx); err != nil {
		log.Fatal("Failed to connect to Neo4j", zap.Error(err))
	}
	defer conn.Close(context.Background())

	if err := conn.EnsureIndexes(ctx); err != nil {
		log.Fatal("Failed to create indexes", zap.Error(err))
	}

	// Media storage
	store, err := media.NewLocalStorage(cfg.MediaRoot)
	if err != nil {
		log.Fatal("Failed to prepare media root", zap.Error(err))
	}
	processor := media.NewProcessor(store, media.ProcessorConfig{
		AllowedMIMETypes: cfg.MediaImageMIMETypes,
		MaxBytes:         cfg.MediaMaxUploadBytes,
		PortraitMaxSize:  cfg.PortraitMaxSize,
	})

	authService := auth.NewService(conn, auth.Config{
		Admins:         cfg.UsersAdmins,
		MakeFirstAdmin: cfg.UsersMakeFirstAdmin,
		SessionTTL:     cfg.SessionTTL,
	})

	server := api.NewServer(api.Options{
		Config: cfg,
		Conn:   conn,
		Auth:   authService,
		Media:  processor,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	purgeCtx, stopPurge := context.WithCancel(context.Background())
	go purgeSessions(purgeCtx, authService, log)

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	stopPurge()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

func connectionConfig(cfg *config.Config) graph.ConnectionConfig {
	return graph.ConnectionConfig{
		URI:            cfg.Neo4jURI,
		User:           cfg.Neo4jUser,
		Password:       cfg.Neo4jPassword,
		Database:       cfg.Neo4jDatabase,
		MaxTxRetryTime: cfg.Neo4jTxRetryTime,
	}
}

// purgeSessions deletes expired sessions until ctx is cancelled
func purgeSessions(ctx context.Context, svc *auth.Service, log *zap.Logger) {
	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.PurgeExpired(ctx)
			if err != nil {
				log.Warn("Failed to purge expired sessions", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("Purged expired sessions", zap.Int64("count", n))
			}
		}
	}
}
