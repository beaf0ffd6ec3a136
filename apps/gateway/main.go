package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/vinchx/chitchat/pkg/auth"
	"github.com/vinchx/chitchat/pkg/backend"
	"github.com/vinchx/chitchat/pkg/bus"
	"github.com/vinchx/chitchat/pkg/config"
	"github.com/vinchx/chitchat/pkg/gateway"
	"github.com/vinchx/chitchat/pkg/logging"
	"github.com/vinchx/chitchat/pkg/metrics"
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
		logger.Fatal("Gateway stopped", zap.Error(err))
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

	h := b.Hub(cfg.TypingTTL, logger.Named("hub"))
	defer h.Close()

	// Read frames are recorded through the chat service so that receipt
	// updates are published like those from the api.
	svc := b.Service()
	g, ctx := errgroup.WithContext(ctx)

	group := bus.FanoutGroup(cfg.ConsumerPrefix)
	g.Go(func() error {
		return b.Kafka.Consume(ctx, group, true, h)
	})

	g.Go(func() error {
		svc.RunReceiptNotifier(ctx, cfg.ReceiptInterval)
		return nil
	})

	authn := auth.NewAuthenticator(cfg.JWTSecret, 0)
	ws := gateway.NewHandler(h, authn, b.Rooms, b.Bus, svc, gateway.Config{
		SendBuffer:         cfg.SendBuffer,
		FrameRate:          cfg.FrameRate,
		FrameBurst:         cfg.FrameBurst,
		MembershipInterval: cfg.MembershipInterval,
	}, logger.Named("gateway"))

	r := mux.NewRouter()
	r.Handle("/ws", ws).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	srv := &http.Server{Addr: cfg.Addr, Handler: r}
	g.Go(func() error {
		logger.Info("Gateway Service Starting", zap.String("addr", cfg.Addr))
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
