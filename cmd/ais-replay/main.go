// AIS Replay Server
// Serves exported dataset snapshots over the AIS data service API
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unklstewy/ais-scope/internal/auth"
	"github.com/unklstewy/ais-scope/internal/replay"
	"github.com/unklstewy/ais-scope/pkg/config"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	addr       = flag.String("addr", "", "Listen address (overrides replay.addr)")
	dir        = flag.String("dir", "", "Snapshot directory (overrides replay.snapshot_dir)")
	issueToken = flag.String("issue-token", "", "Print a bearer token for this subject and exit")
	role       = flag.String("role", auth.RoleReader, "Role of the issued token")
	tokenTTL   = flag.Duration("token-ttl", 24*time.Hour, "Lifetime of the issued token")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Replay.Addr = *addr
	}
	if *dir != "" {
		cfg.Replay.SnapshotDir = *dir
	}

	var authSvc *auth.Service
	if cfg.Replay.JWTSecret != "" {
		authSvc = auth.NewService(auth.Config{
			Secret:        cfg.Replay.JWTSecret,
			TokenDuration: *tokenTTL,
		})
	}

	if *issueToken != "" {
		if authSvc == nil {
			log.Fatal("Cannot issue tokens: replay.jwt_secret (or AIS_SCOPE_JWT_SECRET) is not set")
		}
		token, err := authSvc.GenerateToken(*issueToken, *role)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	log.Println("🚀 Starting AIS replay server...")

	catalog := replay.NewCatalog(cfg.Replay.SnapshotDir)
	files, err := catalog.Files()
	if err != nil {
		log.Fatalf("Failed to read snapshot directory: %v", err)
	}
	log.Printf("📁 Serving %d snapshot(s) from %s", len(files), catalog.Dir())

	srv := replay.NewServer(catalog, replay.Options{
		RowDelay: time.Duration(cfg.Replay.RowDelayMillis) * time.Millisecond,
		Auth:     authSvc,
	})
	if authSvc == nil {
		log.Println("⚠️  No JWT secret configured, data endpoints are open")
	}

	// No write timeout: row streams run as long as the requested range
	httpServer := &http.Server{
		Addr:              cfg.Replay.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("📡 Server listening on %s", cfg.Replay.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("👋 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("✅ Server stopped")
}
