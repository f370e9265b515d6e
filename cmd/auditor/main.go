package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/quickcart/order-engine/internal/audit"
	"github.com/quickcart/order-engine/internal/config"
	kafkax "github.com/quickcart/order-engine/internal/kafka"
	"github.com/quickcart/order-engine/internal/postgres"

	"github.com/joho/godotenv"
)

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()
	if err := postgres.RunMigrations(ctx, db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	writer := &audit.Writer{DB: db}

	group := getenv("AUDITOR_GROUP", "audit-writer")
	workers := mustAtoi(os.Getenv("AUDITOR_WORKERS"), "4")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, audit.TopicAuditEvents, workers)

	go func() {
		log.Printf("audit writer started: group=%s topic=%s workers=%d", group, audit.TopicAuditEvents, workers)
		if err := cons.Start(ctx, writer.HandleMessage); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down audit writer...")
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
