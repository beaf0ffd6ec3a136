package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vinchx/chitchat/pkg/backend"
	"github.com/vinchx/chitchat/pkg/config"
	"github.com/vinchx/chitchat/pkg/logging"
	"github.com/vinchx/chitchat/pkg/responder"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		log.Fatal(err)
	}
	var backendCfg backend.Config
	if err := config.Load(&backendCfg); err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, backendCfg, logger); err != nil {
		logger.Fatal("Messaging service stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg Config, backendCfg backend.Config, logger *zap.Logger) error {
	b, err := backend.Open(ctx, backendCfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.RequireShared(); err != nil {
		return err
	}

	svc := b.Service()
	r := responder.New(responder.Config{
		Prefix:    cfg.AIPrefix,
		Workers:   cfg.AIWorkers,
		QueueSize: cfg.AIQueueSize,
		History:   cfg.AIHistory,
		Timeout:   cfg.AITimeout,
	}, responder.NewHTTPGenerator(cfg.AIEndpoint, cfg.AIKey), b.Messages, svc, logger.Named("responder"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.Run(ctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("Starting Kafka Consumer", zap.String("group", cfg.ConsumerGroup))
		return b.Kafka.Consume(ctx, cfg.ConsumerGroup, false, NewConsumer(r, logger))
	})
	err = g.Wait()

	// Replies posted just before shutdown still go out.
	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if ferr := svc.Flush(flushCtx); ferr != nil {
		logger.Warn("Events left unpublished at shutdown", zap.Error(ferr))
	}
	return err
}
