// Package api serves the HTTP message API.
package api

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/vinchx/chitchat/pkg/auth"
	"github.com/vinchx/chitchat/pkg/chat"
	"github.com/vinchx/chitchat/pkg/metrics"
	"github.com/vinchx/chitchat/pkg/presence"
	"go.uber.org/zap"
)

type Server struct {
	chat     *chat.Service
	auth     *auth.Authenticator
	presence presence.Store
	validate *validator.Validate
	log      *zap.Logger
}

// NewServer wires the handlers. presenceStore may be nil, in which case
// presence queries report nobody online.
func NewServer(svc *chat.Service, authn *auth.Authenticator, presenceStore presence.Store, log *zap.Logger) *Server {
	return &Server{
		chat:     svc,
		auth:     authn,
		presence: presenceStore,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(recoverMiddleware(s.log), loggingMiddleware(s.log))

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/login", s.login).Methods(http.MethodPost)

	protected := r.NewRoute().Subrouter()
	protected.Use(s.auth.Middleware)
	protected.HandleFunc("/rooms/{roomId}/messages", s.createMessage).Methods(http.MethodPost)
	protected.HandleFunc("/rooms/{roomId}/messages", s.listMessages).Methods(http.MethodGet)
	protected.HandleFunc("/rooms/{roomId}/read", s.markRead).Methods(http.MethodPost)
	protected.HandleFunc("/rooms/{roomId}/receipts", s.receipts).Methods(http.MethodGet)
	protected.HandleFunc("/rooms/{roomId}/presence", s.presenceOf).Methods(http.MethodGet)
	protected.HandleFunc("/messages/{messageId}", s.getMessage).Methods(http.MethodGet)
	protected.HandleFunc("/messages/{messageId}", s.editMessage).Methods(http.MethodPatch)
	protected.HandleFunc("/messages/{messageId}", s.deleteMessage).Methods(http.MethodDelete)

	return CORSMiddleware(r)
}
