package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"case-mail-router/internal/classifier"
	"case-mail-router/internal/config"
	"case-mail-router/internal/database"
	"case-mail-router/internal/handler"
	"case-mail-router/internal/historysync"
	"case-mail-router/internal/matcher"
	"case-mail-router/internal/metrics"
	"case-mail-router/internal/notifier"
	"case-mail-router/internal/provider"
	"case-mail-router/internal/reminder"
	"case-mail-router/internal/repository"
	"case-mail-router/internal/router"
	"case-mail-router/internal/scheduler"
	"case-mail-router/internal/service"
)

// Mailbox is a provider usable for both live polling and history search
type Mailbox interface {
	provider.EmailFetcher
	provider.HistorySource
}

// Options select which external connections New opens
type Options struct {
	// Mailbox connects to Gmail or IMAP when enabled in the configuration
	Mailbox bool
}

// App holds the wired services of one process
type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Repo      *repository.Repository
	Metrics   *metrics.Metrics
	Pipeline  *service.Pipeline
	Mailbox   Mailbox
	Sync      *historysync.Manager
	Reminders *reminder.Escalator
	Scheduler *scheduler.Scheduler
}

// ConfigureLogging sets up the global logrus logger
func ConfigureLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		logrus.Warnf("Unknown log level %q, using info", level)
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

// New opens the database and wires every service. Metrics are registered on reg.
func New(cfg *config.Config, reg prometheus.Registerer, opts Options) (*App, error) {
	dbConn, err := database.Init(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &App{
		Config:  cfg,
		DB:      dbConn,
		Repo:    repository.New(dbConn),
		Metrics: metrics.NewMetrics(reg),
	}

	m := matcher.New(cfg.Classification.PublicDomains)
	rules := classifier.DefaultRules(cfg.Classification.CourtDomains)
	a.Pipeline = service.NewPipeline(a.Repo, classifier.NewRouter(a.Repo, m, rules), a.Metrics)

	if opts.Mailbox && cfg.Gmail.Enabled {
		mb, err := openMailbox(&cfg.Gmail)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Mailbox = mb
		a.Sync = historysync.NewManager(a.Repo, mb, cfg.HistorySync, a.Metrics)
	}

	sender, err := notifier.New(cfg.Notifier, cfg.Gmail)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create notifier: %w", err)
	}
	from := cfg.Notifier.From
	if from == "" {
		from = cfg.Gmail.UserEmail
	}
	a.Reminders, err = reminder.New(a.Repo, sender, cfg.Reminders, from, a.Metrics)
	if err != nil {
		a.Close()
		return nil, err
	}
	logrus.Infof("Using %s notifier for document requests", sender.Name())

	loc, _ := cfg.Reminders.Location()
	jobs := scheduler.Jobs{
		Pipeline:  a.Pipeline,
		Reminders: a.Reminders,
	}
	if a.Mailbox != nil {
		jobs.Fetcher = a.Mailbox
		jobs.Sync = a.Sync
	}
	a.Scheduler = scheduler.NewScheduler(&cfg.Scheduler, loc, jobs, a.Metrics)
	return a, nil
}

func openMailbox(cfg *config.GmailConfig) (Mailbox, error) {
	if cfg.UseIMAP {
		c, err := provider.NewIMAPClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create IMAP client: %w", err)
		}
		logrus.Info("Using IMAP for mailbox access")
		return c, nil
	}
	c, err := provider.NewGmailClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail API client: %w", err)
	}
	logrus.Info("Using Gmail API for mailbox access")
	return c, nil
}

// Handlers builds the HTTP handlers over the wired services
func (a *App) Handlers(gatherer prometheus.Gatherer) *handler.Handlers {
	return handler.NewHandlers(handler.Deps{
		Repo:           a.Repo,
		Pipeline:       a.Pipeline,
		Sync:           a.Sync,
		Reminders:      a.Reminders,
		Scheduler:      a.Scheduler,
		Metrics:        a.Metrics,
		Gatherer:       gatherer,
		MailboxEnabled: a.Mailbox != nil,
	})
}

// Close releases the mailbox connection and the database
func (a *App) Close() {
	if a.Mailbox != nil {
		if err := a.Mailbox.Close(); err != nil {
			logrus.Errorf("Failed to close mailbox: %v", err)
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
}

// Run initializes and starts the application, blocking until SIGINT or SIGTERM
func Run(cfg *config.Config) error {
	logrus.Info("Starting Case Mail Router")

	a, err := New(cfg, prometheus.DefaultRegisterer, Options{Mailbox: true})
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.SetupRouter(a.Handlers(prometheus.DefaultGatherer)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if a.Sync != nil {
		if err := a.Sync.Start(); err != nil {
			return fmt.Errorf("failed to start history sync workers: %w", err)
		}
		// pick up jobs left pending by a previous process
		if _, err := a.Sync.Sweep(context.Background()); err != nil {
			logrus.Errorf("Initial history sync sweep failed: %v", err)
		}
	}

	if cfg.Scheduler.AutoStart {
		if err := a.Scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	if err := a.Scheduler.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	a.Scheduler.Wait()

	if a.Sync != nil {
		a.Sync.Stop()
	}

	logrus.Info("Server stopped gracefully")
	return nil
}
