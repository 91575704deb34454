package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/org/datavault/internal/api"
	"github.com/org/datavault/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type config struct {
	ListenAddr    string `yaml:"listen_addr"`
	TLSCertFile   string `yaml:"tls_cert"`
	TLSKeyFile    string `yaml:"tls_key"`
	DBUrl         string `yaml:"db_url"`
	MigrationsDir string `yaml:"migrations_dir"`
	LogLevel      string `yaml:"log_level"`

	MasterKey string `yaml:"master_key"`
	BlobDir   string `yaml:"blob_dir"`

	UserSessionSecret    string `yaml:"user_session_secret"`
	CompanySessionSecret string `yaml:"company_session_secret"`
	SessionTTLHours      int    `yaml:"session_ttl_hours"`

	MailServiceURL     string `yaml:"mail_service_url"`
	WhatsAppServiceURL string `yaml:"whatsapp_service_url"`

	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfgFile := "config.yaml"
	if v := os.Getenv("DATAVAULT_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr:      ":8300",
		MigrationsDir:   "migrations",
		BlobDir:         "blobs",
		SessionTTLHours: 24,
		LogLevel:        "info",
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("DATAVAULT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}
	if v := os.Getenv("DATAVAULT_MASTER_KEY"); v != "" {
		cfg.MasterKey = v
	}
	if v := os.Getenv("DATAVAULT_USER_SESSION_SECRET"); v != "" {
		cfg.UserSessionSecret = v
	}
	if v := os.Getenv("DATAVAULT_COMPANY_SESSION_SECRET"); v != "" {
		cfg.CompanySessionSecret = v
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.MasterKey == "" {
		log.Fatal().Msg("master_key must be configured (or DATAVAULT_MASTER_KEY env var)")
	}

	ctx := context.Background()

	var store storage.Store
	if cfg.DBUrl == "" {
		log.Warn().Msg("db_url not configured, using in-memory storage (data is lost on restart)")
		store = storage.NewMemoryStore()
	} else {
		pg, err := storage.NewPostgresStore(ctx, cfg.DBUrl)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		store = pg

		if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Msg("migrations applied")
	}
	defer store.Close()

	srv, err := api.NewServer(store, api.Config{
		ListenAddr:           cfg.ListenAddr,
		TLSCertFile:          cfg.TLSCertFile,
		TLSKeyFile:           cfg.TLSKeyFile,
		MasterKey:            cfg.MasterKey,
		BlobDir:              cfg.BlobDir,
		UserSessionSecret:    cfg.UserSessionSecret,
		CompanySessionSecret: cfg.CompanySessionSecret,
		SessionTTL:           time.Duration(cfg.SessionTTLHours) * time.Hour,
		MailServiceURL:       cfg.MailServiceURL,
		WhatsAppServiceURL:   cfg.WhatsAppServiceURL,
		RateLimitRPS:         cfg.RateLimitRPS,
		RateLimitBurst:       cfg.RateLimitBurst,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build server")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}
