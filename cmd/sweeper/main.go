package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/quickcart/order-engine/internal/audit"
	"github.com/quickcart/order-engine/internal/config"
	kafkax "github.com/quickcart/order-engine/internal/kafka"
	"github.com/quickcart/order-engine/internal/order"
	"github.com/quickcart/order-engine/internal/postgres"
	"github.com/quickcart/order-engine/internal/stock"
	"github.com/quickcart/order-engine/internal/sweeper"

	"github.com/joho/godotenv"
)

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

	events := kafkax.NewProducer(cfg.KafkaBrokers, order.TopicOrderEvents, 1024)
	events.Start()
	auditP := kafkax.NewProducer(cfg.KafkaBrokers, audit.TopicAuditEvents, 1024)
	auditP.Start()

	store := &order.PgxStore{DB: db}
	svc := &order.Service{
		Store:    store,
		Stock:    &stock.PgxPool{DB: db},
		Events:   events,
		Audit:    &audit.KafkaSink{Producer: auditP},
		FeeRate:  cfg.FeeRate,
		FeeFixed: cfg.FeeFixed,
		Expiry:   cfg.OrderExpiry,
		Producer: cfg.ServiceName + "-sweeper",
	}

	sw := &sweeper.Sweeper{
		Store:    store,
		Engine:   svc,
		Interval: cfg.SweepInterval,
		Batch:    cfg.SweepBatch,
	}

	done := make(chan struct{})
	go func() {
		log.Printf("expiry sweeper started: interval=%s batch=%d", cfg.SweepInterval, cfg.SweepBatch)
		sw.Run(ctx)
		close(done)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down sweeper...")

	// Stop the sweep loop before closing its producers.
	cancel()
	<-done
	events.Close()
	auditP.Close()
	events.WaitClosed()
	auditP.WaitClosed()
}
