package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"whatslog/internal/constants"
	apperrors "whatslog/internal/errors"
	"whatslog/internal/httputil"
	"whatslog/internal/middleware"
	"whatslog/internal/models"
	"whatslog/internal/service"
	"whatslog/internal/tracing"
	"whatslog/internal/validation"
	"whatslog/pkg/evolution"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// WebhookIngester turns a raw gateway callback into an acknowledgement.
type WebhookIngester interface {
	Handle(ctx context.Context, raw []byte) (*service.IngestResult, error)
}

// InstanceManager drives the lifecycle of the caller's gateway instance.
type InstanceManager interface {
	Get(ctx context.Context, accountID string) (*models.Account, error)
	Create(ctx context.Context, accountID, name string) (*models.Account, error)
	Refresh(ctx context.Context, accountID string) (*models.Account, error)
	Disconnect(ctx context.Context, accountID string) error
	SendMessage(ctx context.Context, accountID string, req validation.SendMessageRequest) (*evolution.SendTextResponse, error)
}

type StatusSubscriber interface {
	Subscribe(accountID string) (<-chan models.InstanceState, func())
}

type HealthChecker interface {
	Ping(ctx context.Context) error
}

// ServerDeps are the services behind the HTTP API.
type ServerDeps struct {
	Ingest    WebhookIngester
	Instances InstanceManager
	Messages  service.MessageReader
	Status    StatusSubscriber
	Health    HealthChecker
	// Accounts resolves the caller; defaults to the configured account header.
	Accounts AccountResolver
}

type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	config   *models.Config
	deps     ServerDeps
	clientIP *httputil.ClientIPResolver
	verbose  bool
	server   *http.Server
}

func NewServer(cfg *models.Config, deps ServerDeps, logger *logrus.Logger, verbose bool) (*Server, error) {
	clientIP, err := httputil.NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	if deps.Accounts == nil {
		deps.Accounts = NewHeaderAccountResolver(cfg.Server.AccountHeader)
	}

	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		config:   cfg,
		deps:     deps,
		clientIP: clientIP,
		verbose:  verbose,
	}

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger, s.clientIP))
	s.router.Use(middleware.DetailedLoggingMiddleware(s.logger, s.clientIP, middleware.DefaultDetailedLoggingConfig()))
	s.router.Use(s.withVerbose)

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	// Evolution webhook
	webhook := s.router.PathPrefix(constants.DefaultWebhookPath).Subrouter()
	webhook.Use(middleware.WebhookObservabilityMiddleware(s.logger, "evolution"))
	webhook.HandleFunc("", s.handleWebhook()).Methods(http.MethodPost)
	webhook.HandleFunc("", s.handleWebhookStatus()).Methods(http.MethodGet)

	// Account-scoped API
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.requireAccount)
	api.HandleFunc("/instance", s.handleGetInstance()).Methods(http.MethodGet)
	api.HandleFunc("/instance", s.handleCreateInstance()).Methods(http.MethodPost)
	api.HandleFunc("/instance", s.handleRefreshInstance()).Methods(http.MethodPut)
	api.HandleFunc("/instance", s.handleDisconnectInstance()).Methods(http.MethodDelete)
	api.HandleFunc("/instance/stream", s.handleInstanceStream()).Methods(http.MethodGet)
	api.HandleFunc("/messages/send", s.handleSendMessage()).Methods(http.MethodPost)
	api.HandleFunc("/messages/contacts", s.handleListContacts()).Methods(http.MethodGet)
	api.HandleFunc("/messages/dates", s.handleListDates()).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.handleListMessages()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.config.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.config.Server.Port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// withVerbose marks every request context so services log unmasked values.
func (s *Server) withVerbose(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(service.WithVerbose(r.Context(), s.verbose)))
	})
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Health != nil {
			if err := s.deps.Health.Ping(r.Context()); err != nil {
				s.logger.WithError(err).Error("Health check failed")
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// maxBodyBytes bounds every request body the server reads.
func (s *Server) maxBodyBytes() int64 {
	kb := s.config.Webhook.MaxBodyKB
	if kb <= 0 {
		kb = constants.DefaultWebhookMaxBodyKB
	}
	return int64(kb) * 1024
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

// writeError renders err with the standard error envelope. A zero status
// derives the status from the error code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = apperrors.HTTPStatusCode(err)
	}
	requestID := tracing.RequestID(r.Context())
	if status >= http.StatusInternalServerError {
		s.logger.WithFields(apperrors.LogFields(err)).
			WithField(service.LogFieldRequestID, requestID).
			Error("Request failed")
	}
	s.writeJSON(w, status, apperrors.ToHTTPResponse(err, requestID))
}
