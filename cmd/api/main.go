package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/stockd/internal/app"
	"github.com/ariefcatur/stockd/internal/config"
	"github.com/ariefcatur/stockd/internal/httpx"
	kafkax "github.com/ariefcatur/stockd/internal/kafka"
	"github.com/ariefcatur/stockd/internal/logging"
	"github.com/ariefcatur/stockd/internal/orders"
	"github.com/ariefcatur/stockd/internal/redisx"
	"github.com/ariefcatur/stockd/internal/tracing"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}

	// Store
	store, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store", zap.Error(err))
	}
	defer closeStore()

	var pubs orders.Publishers

	// Redis
	var cache *redisx.OrderCache
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		cache = &redisx.OrderCache{Redis: rdb, Logger: logger}
		pubs = append(pubs, cache)
	}

	// Kafka producer
	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger)
		prod.Start()
		pubs = append(pubs, prod)
	}

	mgr := orders.NewManager(store, orders.Options{
		LockTimeout: cfg.LockTimeout,
		Logger:      logger,
		Publisher:   pubs,
		Producer:    cfg.ServiceName,
	})

	router := httpx.NewRouter(logger, cfg.APIKey)
	(&httpx.ProductsHandler{Manager: mgr, Logger: logger}).Register(router)
	(&httpx.OrdersHandler{Manager: mgr, Cache: cache, Logger: logger}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	if prod != nil {
		prod.Close() // tutup inbox -> flush & close writer
		prod.WaitClosed()
	}
	if err := shutdownTracing(ctx2); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
