/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the credit ledger server: configuration,
  store selection, dependency wiring, graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load .env / environment
  2. Open the store (PostgreSQL when DATABASE_URL is set, else SQLite)
  3. Load the action cost table
  4. Wire the ledger service, optional Kafka publisher, handlers, router
  5. Start the server; shut down gracefully on SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8000)
  -db      SQLite database path when no DATABASE_URL is configured
           (default: credits.db; ":memory:" for ephemeral)

ENVIRONMENT (see config package):
  ADMIN_TOKEN, DATABASE_URL, APP_ID, KAFKA_BROKERS, COSTS_FILE

EXAMPLES:
  ./server -db=./data/credits.db
  DATABASE_URL=postgres://app@localhost/credits ./server -port=8000
*/
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

	"github.com/warp/credit-engine/api"
	"github.com/warp/credit-engine/config"
	"github.com/warp/credit-engine/credit"
	"github.com/warp/credit-engine/events/kafka"
	"github.com/warp/credit-engine/store/postgres"
	"github.com/warp/credit-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 8000, "HTTP server port")
	dbPath := flag.String("db", "credits.db", "SQLite database path (ignored when DATABASE_URL is set)")
	flag.Parse()

	cfg := config.Load()
	if cfg.AdminToken == "" {
		log.Println("Warning: ADMIN_TOKEN not set, admin endpoints are disabled")
	}

	var (
		store credit.Store
		err   error
	)
	if cfg.DatabaseURL != "" {
		store, err = postgres.New(cfg.DatabaseURL)
	} else {
		store, err = sqlite.New(*dbPath)
	}
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer store.Close()

	costs, err := config.LoadCosts(cfg.CostsFile)
	if err != nil {
		log.Fatalf("Failed to load cost table: %v", err)
	}

	opts := []credit.Option{credit.WithDefaultAppID(cfg.AppID)}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers)
		defer publisher.Close()
		opts = append(opts, credit.WithPublisher(publisher))
		log.Printf("Publishing ledger entries to %v", cfg.KafkaBrokers)
	}

	ledger := credit.NewLedger(store, costs, opts...)
	handler := api.NewHandler(ledger)
	router := api.NewRouter(handler, cfg.AdminToken)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Credit ledger listening on :%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
