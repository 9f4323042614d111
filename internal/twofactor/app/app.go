package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/authkit-dev/twostep/internal/twofactor/http"
	"github.com/authkit-dev/twostep/internal/twofactor/mail"
	"github.com/authkit-dev/twostep/internal/twofactor/provider"
	"github.com/authkit-dev/twostep/internal/twofactor/service"
	"github.com/authkit-dev/twostep/internal/twofactor/store"
	"github.com/authkit-dev/twostep/internal/twofactor/store/drivers/sqlite"
	"github.com/authkit-dev/twostep/pkg/jwtx"
	"github.com/authkit-dev/twostep/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the two-factor service together: store, providers,
// services, and the HTTP surface.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db        store.Store
	signer    *jwtx.Signer
	registry  *provider.Registry
	directory *service.StoredDirectory

	loginService        *service.LoginService
	enrollmentService   *service.EnrollmentService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "twostep",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if cfg.APIKey == "" {
		return nil, errors.New("TWOSTEP_API_KEY is required")
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	signer, err := initSigner(cfg, app.logger)
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("initialize assertion signer: %w", err)
	}
	app.signer = signer

	if err := app.initServices(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("twostep service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully stops the HTTP server, the housekeeping loop,
// and the store.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down twostep service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("twostep service stopped")
	return nil
}

func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initServices() error {
	attrs := app.db.Attributes()
	app.directory = &service.StoredDirectory{Attrs: attrs}

	mailer, err := app.buildMailer()
	if err != nil {
		return err
	}

	totp := provider.NewTOTP(attrs, app.cfg.Issuer)
	email := provider.NewEmail(attrs, app.directory, mailer, app.cfg.Issuer)
	codes := provider.NewBackupCodes(attrs)
	keys := provider.NewSecurityKey(attrs, app.cfg.AppID, app.cfg.SecureTransport)

	registry := provider.NewRegistry(app.db.AllowList(), attrs)
	for _, p := range []provider.Provider{keys, totp, email, codes} {
		if err := registry.Register(p); err != nil {
			return fmt.Errorf("register provider: %w", err)
		}
	}
	app.registry = registry

	nonceSecret, err := initNonceSecret(app.cfg, app.logger)
	if err != nil {
		return err
	}
	nonces := service.NewNonceManager(attrs, nonceSecret,
		service.WithNonceWindow(app.cfg.NonceWindow))

	app.loginService = &service.LoginService{
		Registry: registry,
		Nonces:   nonces,
		Signer:   app.signer,
		Issuer:   app.cfg.Issuer,
		Audience: app.cfg.Audience,
	}

	app.enrollmentService = &service.EnrollmentService{
		Registry:     registry,
		TOTP:         totp,
		BackupCodes:  codes,
		SecurityKeys: keys,
		Directory:    app.directory,
	}

	app.housekeepingService = service.NewHousekeepingService(
		attrs,
		app.logger,
		app.cfg.HousekeepingInterval,
	)

	return nil
}

// buildMailer returns the SMTP mailer, or the log mailer when no relay
// is configured. Dev setups get codes in the log.
func (app *Application) buildMailer() (mail.Mailer, error) {
	if app.cfg.SMTPHost == "" {
		app.logger.Warn("no SMTP relay configured, email codes go to the log")
		return &mail.LogMailer{Logger: app.logger}, nil
	}

	mailer, err := mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     app.cfg.SMTPHost,
		Port:     app.cfg.SMTPPort,
		Username: app.cfg.SMTPUsername,
		Password: app.cfg.SMTPPassword,
		From:     app.cfg.SMTPFrom,
		TLS:      app.cfg.SMTPTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize mailer: %w", err)
	}
	return mailer, nil
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.cfg.APIKey,
		app.signer,
		BuildVersion,
		app.db,
		app.logger,
	)

	router.Login = app.loginService
	router.Enrollment = app.enrollmentService
	router.Directory = app.directory
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
