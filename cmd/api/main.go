package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/bloom-orders/internal/config"
	"github.com/ariefcatur/bloom-orders/internal/httpx"
	kafkax "github.com/ariefcatur/bloom-orders/internal/kafka"
	"github.com/ariefcatur/bloom-orders/internal/memstore"
	"github.com/ariefcatur/bloom-orders/internal/notify"
	"github.com/ariefcatur/bloom-orders/internal/orders"
	"github.com/ariefcatur/bloom-orders/internal/postgres"
	"github.com/ariefcatur/bloom-orders/internal/redisx"
	"github.com/ariefcatur/bloom-orders/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := config.NewLogger(cfg.LogJSON, cfg.LogLevel, cfg.ServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OtelEndpoint, cfg.ServiceName, cfg.OtelInsecure)
	if err != nil {
		log.WithError(err).Fatal("tracing")
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// Store
	var store orders.UnitOfWork
	switch cfg.Store {
	case "memory":
		ms := memstore.New()
		ms.AddProducts(orders.StarterCatalog()...)
		store = ms
		log.Warn("using in-memory store, data is lost on restart")
	default:
		if cfg.AutoMigrate {
			if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
				log.WithError(err).Fatal("migrate")
			}
		}
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolConfig{MaxConns: cfg.PGMaxConns})
		if err != nil {
			log.WithError(err).Fatal("db connect")
		}
		defer db.Close()
		store = &postgres.Store{DB: db}
	}

	// Notifications go through Kafka when brokers are configured.
	var (
		notifier orders.Notifier = &notify.LogNotifier{Log: log}
		prod     *kafkax.Producer
	)
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderPlaced, 1024, log)
		prod.Start(ctx)
		notifier = &notify.KafkaNotifier{Producer: prod, Service: cfg.ServiceName}
	}

	svc := orders.NewService(store, notifier, log)
	svc.NotifyTimeout = cfg.NotifyTimeout

	router := httpx.NewRouter(log)
	oh := &httpx.OrdersHandler{
		Orders: svc,
		Auth:   httpx.Auth{Secret: []byte(cfg.JWTSecret)},
		Log:    log,
	}
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		oh.Cache = &redisx.Cache{RDB: rdb}
	}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	svc.Wait() // pending notifications still publish
	if prod != nil {
		prod.Close()
		cancel()
		prod.WaitClosed()
	}
}
