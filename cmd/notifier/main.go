package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/bloom-orders/internal/config"
	kafkax "github.com/ariefcatur/bloom-orders/internal/kafka"
	"github.com/ariefcatur/bloom-orders/internal/notify"
	"github.com/ariefcatur/bloom-orders/internal/orders"
	"github.com/ariefcatur/bloom-orders/internal/redisx"
	"github.com/ariefcatur/bloom-orders/internal/telemetry"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.LoadNotifier()
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

	svc := &notify.Service{
		Mailer: &notify.Mailer{
			Sender: &notify.SMTPSender{
				Addr:     cfg.SMTPAddr,
				From:     cfg.MailFrom,
				Username: cfg.SMTPUser,
				Password: cfg.SMTPPassword,
			},
			To:       cfg.AdminEmails,
			AdminURL: cfg.AdminURL,
		},
		ServiceName: cfg.ServiceName,
		Log:         log,
	}
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		svc.Dedup = &redisx.Cache{RDB: rdb}
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.Group, orders.TopicOrderPlaced, cfg.Workers, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.WithFields(logrus.Fields{
			"group":   cfg.Group,
			"topic":   orders.TopicOrderPlaced,
			"workers": cfg.Workers,
		}).Info("notifier consumer started")
		if err := cons.Start(ctx, svc.HandleOrderPlaced); err != nil {
			log.WithError(err).Error("consumer exit")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer...")
	cancel()
	<-done
}
