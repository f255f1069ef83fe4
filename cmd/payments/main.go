package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/stockd/internal/app"
	"github.com/ariefcatur/stockd/internal/config"
	kafkax "github.com/ariefcatur/stockd/internal/kafka"
	"github.com/ariefcatur/stockd/internal/logging"
	"github.com/ariefcatur/stockd/internal/orders"
	"github.com/ariefcatur/stockd/internal/payments"
	"github.com/ariefcatur/stockd/internal/redisx"
	"github.com/ariefcatur/stockd/internal/tracing"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	name := cfg.ServiceName + "-payments"

	logger, err := logging.New(cfg.LogLevel, name)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if len(cfg.KafkaBrokers) == 0 {
		logger.Fatal("KAFKA_BROKERS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.OTLPEndpoint, name)
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	store, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store", zap.Error(err))
	}
	defer closeStore()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger)
	prod.Start()
	pubs := orders.Publishers{prod}

	svc := &payments.Service{Name: name, Logger: logger}
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		svc.Redis = rdb
		pubs = append(pubs, &redisx.OrderCache{Redis: rdb, Logger: logger})
	}
	svc.Orders = orders.NewManager(store, orders.Options{
		LockTimeout: cfg.LockTimeout,
		Logger:      logger,
		Publisher:   pubs,
		Producer:    name,
	})

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.PaymentsGroup, payments.Topics, cfg.PaymentsWorkers, logger)
	logger.Info("payments consumer started",
		zap.String("group", cfg.PaymentsGroup), zap.Strings("topics", payments.Topics), zap.Int("workers", cfg.PaymentsWorkers))
	if err := cons.Start(ctx, svc.HandlePayment); err != nil {
		logger.Error("consumer exit", zap.Error(err))
	}

	logger.Info("shutting down consumer")
	prod.Close()
	prod.WaitClosed()
}
