package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/datavault/internal/audit"
	"github.com/org/datavault/internal/auth"
	"github.com/org/datavault/internal/blob"
	"github.com/org/datavault/internal/consent"
	"github.com/org/datavault/internal/crypto"
	"github.com/org/datavault/internal/notify"
	"github.com/org/datavault/internal/storage"
	"github.com/org/datavault/internal/vault"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string

	MasterKey string
	BlobDir   string

	UserSessionSecret    string
	CompanySessionSecret string
	SessionTTL           time.Duration

	MailServiceURL     string
	WhatsAppServiceURL string

	RateLimitRPS   float64
	RateLimitBurst int
}

// Server is the API server.
type Server struct {
	store    storage.Store
	envelope *crypto.Envelope
	sessions *auth.Sessions
	keys     *auth.APIKeyService
	consent  *consent.Service
	vault    *vault.Service
	auditor  *audit.Logger
	notifier *notify.Dispatcher
	cfg      Config

	httpSrv    *http.Server
	stopGauges context.CancelFunc
}

// NewServer creates a fully wired Server.
func NewServer(store storage.Store, cfg Config) (*Server, error) {
	envelope, err := crypto.NewEnvelope(cfg.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("initializing crypto envelope: %w", err)
	}
	sessions, err := auth.NewSessions(cfg.UserSessionSecret, cfg.CompanySessionSecret, cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("initializing sessions: %w", err)
	}
	blobs, err := blob.NewFileStore(cfg.BlobDir)
	if err != nil {
		return nil, fmt.Errorf("initializing blob store: %w", err)
	}

	keys := auth.NewAPIKeyService(store)
	auditor := audit.NewLogger(store)
	notifier := notify.NewDispatcher(notify.Config{
		MailServiceURL:     cfg.MailServiceURL,
		WhatsAppServiceURL: cfg.WhatsAppServiceURL,
	})

	return &Server{
		store:    store,
		envelope: envelope,
		sessions: sessions,
		keys:     keys,
		consent:  consent.NewService(store, keys, auditor, notifier),
		vault:    vault.NewService(store, envelope, blobs, auditor, notifier),
		auditor:  auditor,
		notifier: notifier,
		cfg:      cfg,
	}, nil
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	rps, burst := s.cfg.RateLimitRPS, s.cfg.RateLimitBurst
	if rps <= 0 {
		rps = 100
	}
	if burst <= 0 {
		burst = 200
	}

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(requestLogMiddleware)
	r.Use(newIPRateLimiter(rps, burst).middleware)

	r.Handle("/metrics", MetricsHandler())

	// Public routes
	r.Group(func(r chi.Router) {
		r.Get("/v1/sys/health", s.HealthHandler)
		r.Post("/v1/user/signup", s.UserSignupHandler)
		r.Post("/v1/user/login", s.UserLoginHandler)
		r.Post("/v1/company/register", s.CompanyRegisterHandler)
		r.Post("/v1/company/login", s.CompanyLoginHandler)
	})

	// Company API-key routes (clientID/secret, no dashboard session)
	r.Group(func(r chi.Router) {
		r.Post("/v1/authorize/token", s.TokenExchangeHandler)
		r.Get("/v1/data", s.DataReadHandler)
	})

	// Subject session routes
	r.Group(func(r chi.Router) {
		r.Use(sessionMiddleware(s.sessions, auth.SessionUser))

		r.Get("/v1/user/me", s.UserMeHandler)

		r.Get("/v1/authorize", s.AuthorizePreviewHandler)
		r.Post("/v1/authorize/consent", s.ConsentHandler)
		r.Post("/v1/authorize/deny", s.DenyHandler)

		r.Get("/v1/vault/data", s.VaultOverviewHandler)
		r.Post("/v1/vault/data", s.PersonalDataWriteHandler)
		r.Post("/v1/vault/documents", s.DocumentUploadHandler)
		r.Get("/v1/vault/active-access", s.ActiveAccessHandler)
		r.Get("/v1/vault/access-logs", s.AccessLogsHandler)
		r.Post("/v1/vault/revoke-access", s.RevokeAccessHandler)
	})

	// Company session routes
	r.Group(func(r chi.Router) {
		r.Use(sessionMiddleware(s.sessions, auth.SessionCompany))

		r.Get("/v1/company/me", s.CompanyMeHandler)
		r.Put("/v1/company/data", s.CompanyUpdateHandler)
		r.Post("/v1/company/keys", s.APIKeyCreateHandler)
		r.Get("/v1/company/keys", s.APIKeyListHandler)
		r.Delete("/v1/company/keys/{keyID}", s.APIKeyDeleteHandler)
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	gaugeCtx, cancel := context.WithCancel(context.Background())
	s.stopGauges = cancel
	go s.runGaugeLoop(gaugeCtx)

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server and drains pending notifications.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stopGauges != nil {
		s.stopGauges()
	}
	defer s.notifier.Close()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
