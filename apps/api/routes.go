package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/vinchx/chitchat/pkg/api"
	"github.com/vinchx/chitchat/pkg/auth"
	"github.com/vinchx/chitchat/pkg/backend"
	"github.com/vinchx/chitchat/pkg/chat"
	"github.com/vinchx/chitchat/pkg/gateway"
	"github.com/vinchx/chitchat/pkg/presence"
	"go.uber.org/zap"
)

// routes builds the api handler. Without a broker the api is the only
// process that sees its events, so it also serves /ws from a hub fed by
// the in-process bus. The returned func releases that hub.
func routes(cfg Config, b *backend.Backend, svc *chat.Service, authn *auth.Authenticator, ps presence.Store, logger *zap.Logger) (http.Handler, func(), error) {
	handler := api.NewServer(svc, authn, ps, logger).Routes()
	if b.Kafka != nil {
		if err := b.RequireShared(); err != nil {
			return nil, nil, err
		}
		return handler, func() {}, nil
	}

	logger.Info("Single-process mode, serving /ws from the api")
	h := b.Hub(cfg.TypingTTL, logger.Named("hub"))
	b.Local.Subscribe(h)
	ws := gateway.NewHandler(h, authn, b.Rooms, b.Bus, svc, gateway.Config{
		SendBuffer:         cfg.SendBuffer,
		FrameRate:          cfg.FrameRate,
		FrameBurst:         cfg.FrameBurst,
		MembershipInterval: cfg.MembershipInterval,
	}, logger.Named("gateway"))

	r := mux.NewRouter()
	r.Handle("/ws", ws).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(handler)
	return r, h.Close, nil
}
