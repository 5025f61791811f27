package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mpetkov/fuel-registry/internal/autosend"
	"github.com/mpetkov/fuel-registry/internal/config"
	"github.com/mpetkov/fuel-registry/internal/document"
	"github.com/mpetkov/fuel-registry/internal/email"
	"github.com/mpetkov/fuel-registry/internal/entry"
	"github.com/mpetkov/fuel-registry/internal/export"
	httpserver "github.com/mpetkov/fuel-registry/internal/interfaces/http"
	"github.com/mpetkov/fuel-registry/internal/lookup"
	"github.com/mpetkov/fuel-registry/internal/ratelimit"
	"github.com/mpetkov/fuel-registry/internal/repository"
	"github.com/mpetkov/fuel-registry/internal/storage"
	"github.com/mpetkov/fuel-registry/internal/worker"
	"github.com/mpetkov/fuel-registry/pkg/database"
	"github.com/mpetkov/fuel-registry/pkg/logging"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fuel-registry: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting fuel registry server")

	region, err := time.LoadLocation(cfg.Region.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load timezone: %w", err)
	}

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Repositories
	entryRepo := repository.NewEntryRepository(db, logger)
	batchRepo := repository.NewBatchRepository(db, logger)
	recipientRepo := repository.NewRecipientRepository(db, logger)
	settingsRepo := repository.NewSettingsRepository(db, logger)
	auditRepo := repository.NewAuditRepository(db, logger)
	lookupRepo := repository.NewLookupRepository(db, logger)

	// Certificate storage and inspection
	certStorage, err := storage.NewLocalFileStorage(cfg.Certificate.StorageDir, logger)
	if err != nil {
		return fmt.Errorf("failed to init certificate storage: %w", err)
	}
	inspector := document.NewCertificateInspector(cfg.Certificate.MaxPages, logger)

	// Statement rendering and delivery
	renderer := document.NewPDFRenderer(document.Config{
		IssuerName: cfg.Document.IssuerName,
		IssuerEIK:  cfg.Document.IssuerEIK,
	}, certStorage, logger)

	sender := email.NewSMTPSender(email.SMTPConfig{
		Host:        cfg.SMTP.Host,
		Port:        cfg.SMTP.Port,
		Username:    cfg.SMTP.Username,
		Password:    cfg.SMTP.Password,
		From:        cfg.SMTP.From,
		SenderName:  cfg.SMTP.SenderName,
		SendTimeout: cfg.SMTP.SendTimeout,
	}, logger)

	branding := loadBrandingImage(cfg.AutoSend.BrandingImagePath, logger)

	// Services
	autosendSvc := autosend.NewService(autosend.Config{
		BatchSize:           cfg.AutoSend.BatchSize,
		MaxEntriesPerRun:    cfg.AutoSend.MaxEntriesPerRun,
		IncludeCertificates: cfg.AutoSend.IncludeCertificates,
		Timezone:            region,
		BrandingImage:       branding,
		RenderTimeout:       cfg.Document.RenderTimeout,
	}, entryRepo, batchRepo, recipientRepo, renderer, sender, auditRepo, logger)

	entrySvc := entry.NewService(entry.Config{
		MaxCertificateSize: int64(cfg.Certificate.MaxSizeMB) << 20,
	}, entryRepo, certStorage, inspector, auditRepo, logger)

	exporter := export.NewExporter(entryRepo, region, logger)
	lookupRegistry := lookup.NewRegistry(lookupRepo)

	// Background workers
	dispatchWorker := worker.NewDispatchWorker(
		autosendSvc, batchRepo,
		cfg.AutoSend.QueueSize, cfg.AutoSend.PollInterval, logger)
	scheduleWorker := worker.NewScheduleWorker(
		cfg.AutoSend.ScheduleHour, region, repository.SettingAutoSendEnabled,
		autosendSvc, settingsRepo, dispatchWorker, logger)

	manager := worker.NewManager(logger)
	manager.Register(dispatchWorker)
	manager.Register(scheduleWorker)

	// HTTP surface
	limiter := ratelimit.NewLimiter(
		ratelimit.NewMemoryStore(10000),
		cfg.Verify.RateLimit, cfg.Verify.RateWindow)

	handlers := httpserver.NewHandlers(
		entrySvc, entryRepo, autosendSvc, dispatchWorker,
		exporter, lookupRegistry, settingsRepo, auditRepo,
		region, logger)

	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, handlers, limiter, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	defer manager.StopAll()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Fuel registry server stopped")
	return nil
}

// loadBrandingImage reads the inline email branding image. A missing
// image is not fatal; digests simply go out without it.
func loadBrandingImage(path string, logger *zap.Logger) []byte {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Branding image not loaded", zap.String("path", path), zap.Error(err))
		return nil
	}
	return data
}
