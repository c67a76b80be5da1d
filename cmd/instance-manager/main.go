package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	apiserver "github.com/botforge-cloud/instance-manager/internal/api_server"
	"github.com/botforge-cloud/instance-manager/internal/auth"
	"github.com/botforge-cloud/instance-manager/internal/config"
	"github.com/botforge-cloud/instance-manager/internal/gateway"
	"github.com/botforge-cloud/instance-manager/internal/handlers"
	"github.com/botforge-cloud/instance-manager/internal/healthcheck"
	"github.com/botforge-cloud/instance-manager/internal/orchestrator"
	"github.com/botforge-cloud/instance-manager/internal/railway"
	"github.com/botforge-cloud/instance-manager/internal/secrets"
	"github.com/botforge-cloud/instance-manager/internal/store"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := store.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	dataStore := store.NewStore(db)
	defer dataStore.Close()

	codec, err := secrets.NewCodec(cfg.Service.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize secrets codec: %v", err)
	}

	railwayClient, err := railway.NewClient(cfg.Railway)
	if err != nil {
		log.Fatalf("Failed to initialize Railway client: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := railwayClient.VerifyAccess(ctx); err != nil {
		log.Fatalf("Railway access check failed: %v", err)
	}

	orch := orchestrator.New(dataStore, railwayClient, codec, cfg.Deploy)

	resolver := &auth.TokenResolver{Lookup: sessionLookup()}
	handler := handlers.NewHandler(dataStore, orch, codec, gateway.NewClient(), resolver)

	if cfg.HealthCheck.Enabled {
		monitor := healthcheck.NewMonitor(dataStore, orch, cfg.HealthCheck)
		monitor.Start(ctx)
		defer monitor.Stop()
	}

	// Start server
	listener, err := net.Listen("tcp", cfg.Service.Address)
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}

	srv := apiserver.New(cfg, listener, handler)

	log.Printf("Starting server on %s", listener.Addr().String())
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// sessionLookup wires the external session system. The dashboard issues an
// opaque session token; in single-tenant development the DASHBOARD_TOKEN /
// DASHBOARD_USER_ID pair stands in for it.
func sessionLookup() func(token string) (string, bool) {
	staticToken := os.Getenv("DASHBOARD_TOKEN")
	staticUser := os.Getenv("DASHBOARD_USER_ID")
	return func(token string) (string, bool) {
		if staticToken != "" && token == staticToken && staticUser != "" {
			return staticUser, true
		}
		return "", false
	}
}
