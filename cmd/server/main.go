package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collab-sync/internal/api"
	"collab-sync/internal/collab"
	"collab-sync/internal/config"
	"collab-sync/internal/crdt"
	"collab-sync/internal/db"
	"collab-sync/internal/repository"
	"collab-sync/internal/telemetry"

	"github.com/google/uuid"
)

func main() {
	log.Println("🚀 Starting collaborative document sync server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	jaegerShutdown, err := telemetry.InitJaeger("collab-sync", cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	// Documents are in-memory only unless update persistence is turned on.
	var store collab.UpdateStore
	if cfg.PersistUpdates {
		database, err := db.NewGorm(cfg)
		if err != nil {
			log.Fatalf("❌ Failed to connect to database: %v", err)
		}
		defer database.Close()
		store = repository.NewUpdateRepository(database.DB)
		log.Println("✓ Update persistence enabled")
	}

	registry := collab.NewConnectionRegistry(cfg.MaxSessionsPerUser)
	directory := collab.NewDirectory(crdt.NewAutomergeDocument, store)
	directory.StartReaper(cfg.ReaperInterval, cfg.SessionTimeout)

	wsHandler := collab.NewWebSocketHandler(directory, registry, cfg)

	serverID := uuid.NewString()
	handler := api.NewHandler(directory, registry, wsHandler, serverID)
	router := api.SetupRoutes(handler)

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Server %s listening on http://%s", serverID, addr)
		log.Printf("   WS   /ws/documents/{id}?userId=... - Join a document")
		log.Printf("   GET  /api/stats                    - Session stats")
		log.Printf("   GET  /api/health                   - Health check")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	// Duplicate signals are harmless: the directory shutdown is idempotent
	// and the process exits after the first pass completes.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	directory.Shutdown()

	log.Println("✓ Server shutdown complete")
}
