package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukapay/go-shop-backend/internal/config"
	"github.com/dukapay/go-shop-backend/internal/events"
	kafkax "github.com/dukapay/go-shop-backend/internal/kafka"
	"github.com/dukapay/go-shop-backend/internal/logging"
	"github.com/dukapay/go-shop-backend/internal/metrics"
	"github.com/dukapay/go-shop-backend/internal/mpesa"
	"github.com/dukapay/go-shop-backend/internal/postgres"
	"github.com/dukapay/go-shop-backend/internal/reconciler"
	"github.com/dukapay/go-shop-backend/internal/redisx"
	"github.com/dukapay/go-shop-backend/internal/shop"
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

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(cfg.ServiceName + "-reconciler")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producers: settled outcomes only, order.created belongs to the api
	pPaid := kafkax.NewProducer(cfg.KafkaBrokers, shop.TopicOrderPaid, 1024, log)
	pPaid.Start(ctx)
	pFailed := kafkax.NewProducer(cfg.KafkaBrokers, shop.TopicOrderFailed, 1024, log)
	pFailed.Start(ctx)

	sink := &events.Sink{
		Paid:    pPaid,
		Failed:  pFailed,
		Redis:   rdb,
		Metrics: metrics.NewShop("reconciler"),
		Service: cfg.ServiceName + "-reconciler",
	}

	svc := &reconciler.Service{
		Store:   &reconciler.RedisStore{Redis: rdb, Service: cfg.ServiceName + "-reconciler"},
		Recon:   &shop.Reconciler{DB: db, LockTimeout: cfg.LockTimeout, Log: log},
		Gateway: mpesa.NewClient(cfg.Mpesa),
		Sink:    sink,
		Log:     log,
	}

	// Consumer
	group := getenv("RECONCILER_GROUP", "payment-reconciler")
	workers := mustAtoi(os.Getenv("RECONCILER_WORKERS"), "4")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, shop.TopicOrderCreated, workers, log)

	go func() {
		log.Info("consumer started", "group", group, "topic", shop.TopicOrderCreated, "workers", workers)
		if err := cons.Start(ctx, svc.HandleOrderCreated); err != nil {
			log.Error("consumer exit", "err", err)
			cancel()
		}
	}()

	go func() {
		if err := svc.Run(ctx); err != nil {
			log.Error("verify loop exit", "err", err)
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	cancel()
	time.Sleep(500 * time.Millisecond)
	pPaid.Close()
	pFailed.Close()
	pPaid.WaitClosed()
	pFailed.WaitClosed()
}
