package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-storefront-orders/internal/config"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/mirrorsync"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"golang.org/x/sync/errgroup"
)

// mirrorsync keeps the Redis mirror in line with the order store by
// consuming order events. It needs the real backends.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mirrorsync:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	service := cfg.ServiceName + "-mirrorsync"
	log, logCloser, err := logging.New(cfg.Log, service)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	kv := redisx.NewRedisKV(rdb)

	svc := &mirrorsync.Service{
		Orders: &orders.Repo{DB: db},
		Mirror: redisx.NewMirror(kv),
		Dedup:  redisx.NewDedup(kv, "mirrorsync"),
		Log:    logging.For(log, "mirrorsync"),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range []string{orders.TopicOrderCreated, orders.TopicOrderStatusChanged} {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.MirrorSync.Group, topic, cfg.MirrorSync.Workers,
			logging.For(log, "kafka").With().Str(logging.Topic, topic).Logger())
		g.Go(func() error {
			log.Info().Str(logging.Topic, topic).Str("group", cfg.MirrorSync.Group).
				Int("workers", cfg.MirrorSync.Workers).Msg("consumer started")
			return cons.Start(gctx, svc.HandleOrderEvent)
		})
	}
	err = g.Wait()
	log.Info().Err(err).Msg("consumers stopped")
	return err
}
