package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukapay/go-shop-backend/internal/config"
	"github.com/dukapay/go-shop-backend/internal/events"
	"github.com/dukapay/go-shop-backend/internal/httpx"
	kafkax "github.com/dukapay/go-shop-backend/internal/kafka"
	"github.com/dukapay/go-shop-backend/internal/logging"
	"github.com/dukapay/go-shop-backend/internal/metrics"
	"github.com/dukapay/go-shop-backend/internal/mpesa"
	"github.com/dukapay/go-shop-backend/internal/postgres"
	"github.com/dukapay/go-shop-backend/internal/redisx"
	"github.com/dukapay/go-shop-backend/internal/shop"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.ServiceName)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Error("db migrate", "err", err)
		os.Exit(1)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per lifecycle topic
	pCreated := kafkax.NewProducer(cfg.KafkaBrokers, shop.TopicOrderCreated, 1024, log)
	pCreated.Start(ctx)
	pPaid := kafkax.NewProducer(cfg.KafkaBrokers, shop.TopicOrderPaid, 1024, log)
	pPaid.Start(ctx)
	pFailed := kafkax.NewProducer(cfg.KafkaBrokers, shop.TopicOrderFailed, 1024, log)
	pFailed.Start(ctx)

	shopMetrics := metrics.NewShop("api")
	sink := &events.Sink{
		Created: pCreated,
		Paid:    pPaid,
		Failed:  pFailed,
		Redis:   rdb,
		Metrics: shopMetrics,
		Service: cfg.ServiceName,
	}

	gateway := mpesa.NewClient(cfg.Mpesa)

	// Repos & services
	catalog := &shop.CatalogRepo{DB: db}
	carts := &shop.CartRepo{DB: db}
	ordersRepo := &shop.OrderRepo{DB: db}
	checkout := &shop.CheckoutService{DB: db, Gateway: gateway, LockTimeout: cfg.LockTimeout, Log: log}
	recon := &shop.Reconciler{DB: db, LockTimeout: cfg.LockTimeout, Log: log}

	router := httpx.NewRouter()
	(&httpx.CatalogHandler{Catalog: catalog}).Register(router)
	(&httpx.CartHandler{Cart: carts}).Register(router)
	(&httpx.CheckoutHandler{Checkout: checkout, Cart: carts, Sink: sink}).Register(router)
	(&httpx.PaymentHandler{Recon: recon, Gateway: gateway, Sink: sink, Log: log}).Register(router)
	(&httpx.OrdersHandler{Repo: ordersRepo, Recon: recon, Redis: rdb, Sink: sink}).Register(router)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	pCreated.Close() // close inbox -> flush & close writer
	pPaid.Close()
	pFailed.Close()
	cancel()
	pCreated.WaitClosed()
	pPaid.WaitClosed()
	pFailed.WaitClosed()
}
