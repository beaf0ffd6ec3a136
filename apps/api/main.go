package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vinchx/chitchat/pkg/auth"
	"github.com/vinchx/chitchat/pkg/backend"
	"github.com/vinchx/chitchat/pkg/config"
	"github.com/vinchx/chitchat/pkg/logging"
	"github.com/vinchx/chitchat/pkg/presence"
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
		logger.Fatal("API service stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg Config, backendCfg backend.Config, logger *zap.Logger) error {
	b, err := backend.Open(ctx, backendCfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	svc := b.Service()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.InlineResponder {
		r := responder.New(responder.Config{
			Prefix:    cfg.AIPrefix,
			Workers:   cfg.AIWorkers,
			QueueSize: cfg.AIQueueSize,
			History:   cfg.AIHistory,
			Timeout:   cfg.AITimeout,
		}, responder.NewHTTPGenerator(cfg.AIEndpoint, cfg.AIKey), b.Messages, svc, logger.Named("responder"))
		svc.SetObserver(r)
		g.Go(func() error {
			r.Run(ctx)
			return nil
		})
	}

	g.Go(func() error {
		svc.RunReceiptNotifier(ctx, cfg.ReceiptInterval)
		return nil
	})

	var presenceStore presence.Store
	if b.Redis != nil {
		presenceStore = presence.NewRedis(b.Redis)
	}
	authn := auth.NewAuthenticator(cfg.JWTSecret, cfg.TokenTTL)
	handler, release, err := routes(cfg, b, svc, authn, presenceStore, logger)
	if err != nil {
		return err
	}
	defer release()
	srv := &http.Server{Addr: cfg.Addr, Handler: handler}

	g.Go(func() error {
		logger.Info("API Service Starting", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if ferr := svc.Flush(shutdownCtx); ferr != nil {
			logger.Warn("Events left unpublished at shutdown", zap.Error(ferr))
		}
		return err
	})

	return g.Wait()
}
