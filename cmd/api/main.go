package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quickcart/order-engine/internal/audit"
	"github.com/quickcart/order-engine/internal/config"
	"github.com/quickcart/order-engine/internal/fraud"
	"github.com/quickcart/order-engine/internal/gateway"
	"github.com/quickcart/order-engine/internal/httpx"
	kafkax "github.com/quickcart/order-engine/internal/kafka"
	"github.com/quickcart/order-engine/internal/order"
	"github.com/quickcart/order-engine/internal/postgres"
	"github.com/quickcart/order-engine/internal/redisx"
	"github.com/quickcart/order-engine/internal/stock"
	"github.com/quickcart/order-engine/internal/voucher"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()
	if err := postgres.RunMigrations(ctx, db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers
	events := kafkax.NewProducer(cfg.KafkaBrokers, order.TopicOrderEvents, 1024)
	events.Start()
	review := kafkax.NewProducer(cfg.KafkaBrokers, fraud.TopicManualReview, 256)
	review.Start()
	auditP := kafkax.NewProducer(cfg.KafkaBrokers, audit.TopicAuditEvents, 1024)
	auditP.Start()

	// Engine wiring
	store := &order.PgxStore{DB: db}
	pool := &stock.PgxPool{DB: db}
	ledger := &voucher.PgxLedger{DB: db, Cooldown: cfg.VoucherCooldown}
	gate := &fraud.Gate{History: store}
	sink := &audit.KafkaSink{Producer: auditP}

	svc := &order.Service{
		Store:    store,
		Stock:    pool,
		Vouchers: ledger,
		Fraud:    gate,
		Events:   events,
		Review:   review,
		Audit:    sink,
		FeeRate:  cfg.FeeRate,
		FeeFixed: cfg.FeeFixed,
		Expiry:   cfg.OrderExpiry,
		Producer: cfg.ServiceName,
	}

	gw := &gateway.Client{
		BaseURL: cfg.GatewayBaseURL,
		Project: cfg.GatewayProject,
		APIKey:  cfg.GatewayAPIKey,
		Redis:   rdb,
	}
	intents := &gateway.PgxIntentStore{DB: db}
	processor := &gateway.WebhookProcessor{
		Secret:  cfg.GatewayWebhookSecret,
		Intents: intents,
		Orders:  svc,
		Audit:   sink,
		Cache:   &redisx.Cache{R: rdb},
	}

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Svc:     svc,
		Repo:    store,
		Gateway: gw,
		Intents: intents,
		Redis:   rdb,
	}
	oh.Register(router)
	wh := &httpx.WebhookHandler{Processor: processor}
	wh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	// Server is drained, so nothing publishes anymore; flush and exit.
	events.Close()
	review.Close()
	auditP.Close()
	events.WaitClosed()
	review.WaitClosed()
	auditP.WaitClosed()
}
