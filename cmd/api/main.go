package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/assistant"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/llm"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "api:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, logCloser, err := logging.New(cfg.Log, cfg.ServiceName)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Stores
	var (
		orderStore   orders.Store
		productStore catalog.Store
	)
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()
		if cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, db, logging.For(log, "migrate")); err != nil {
				return err
			}
		}
		orderStore = &orders.Repo{DB: db}
		productStore = &catalog.Repo{DB: db}
	default:
		log.Warn().Msg("using in-memory store; data is lost on restart")
		orderStore = orders.NewMemoryStore()
		productStore = catalog.NewMemoryStore()
	}

	// Redis backs the mirror plus the idempotency and status caches
	var kv redisx.KV
	switch cfg.MirrorDriver {
	case config.DriverRedis:
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := redisx.Ping(ctx, rdb); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		kv = redisx.NewRedisKV(rdb)
	default:
		kv = redisx.NewMemoryKV()
	}

	statusCache := redisx.NewStatusCache(kv)
	opts := []orders.Option{
		orders.WithMirror(redisx.NewMirror(kv)),
		orders.WithStatusCache(statusCache),
		orders.WithStrictVerify(cfg.Orders.StrictVerify),
		orders.WithLogger(logging.For(log, "orders")),
		orders.WithMetrics(orders.NewMetrics(reg)),
	}
	if cfg.Orders.StrictTransitions {
		opts = append(opts, orders.WithPolicy(orders.Strict))
	}

	var prod *kafkax.Producer
	if cfg.EventsEnabled {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, logging.For(log, "kafka"))
		prod.Start()
		opts = append(opts, orders.WithPublisher(orders.KafkaPublisher{Producer: prod}, cfg.ServiceName))
	}
	mgr := orders.NewManager(orderStore, opts...)

	chat := assistant.NewService(
		llm.New(cfg.LLM),
		assistant.DefaultPersonas(),
		assistant.NewCounters(reg),
		logging.For(log, "assistant"),
	)
	if cfg.LLM.APIKey == "" {
		log.Warn().Msg("LLM_API_KEY is empty; chat requests will be rejected upstream")
	}

	router := httpx.NewRouter(logging.For(log, "http"), reg)
	(&httpx.OrdersHandler{
		Manager: mgr,
		Idem:    redisx.NewIdempotency(kv),
		Status:  statusCache,
		Timeout: cfg.Orders.RequestTimeout,
		Log:     logging.For(log, "http"),
	}).Register(router)
	(&httpx.ProductsHandler{Catalog: catalog.NewService(productStore)}).Register(router)
	(&httpx.ChatHandler{Assistant: chat}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if prod != nil {
			prod.Close() // flushes queued events
			prod.WaitClosed()
		}
		return err
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("exit")
		return err
	}
	return nil
}
