package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mwilkes/clinicdesk/cmd/mainconfig"
	"github.com/mwilkes/clinicdesk/internal/ai"
	"github.com/mwilkes/clinicdesk/internal/api/router"
	"github.com/mwilkes/clinicdesk/internal/app/bootstrap"
	"github.com/mwilkes/clinicdesk/internal/appointments"
	"github.com/mwilkes/clinicdesk/internal/billing"
	appconfig "github.com/mwilkes/clinicdesk/internal/config"
	"github.com/mwilkes/clinicdesk/internal/consultations"
	"github.com/mwilkes/clinicdesk/internal/dashboard"
	"github.com/mwilkes/clinicdesk/internal/documents"
	"github.com/mwilkes/clinicdesk/internal/events"
	"github.com/mwilkes/clinicdesk/internal/http/handlers"
	"github.com/mwilkes/clinicdesk/internal/livequery"
	"github.com/mwilkes/clinicdesk/internal/notify"
	"github.com/mwilkes/clinicdesk/internal/observability/metrics"
	"github.com/mwilkes/clinicdesk/internal/patients"
	"github.com/mwilkes/clinicdesk/internal/records"
	"github.com/mwilkes/clinicdesk/internal/users"
	"github.com/mwilkes/clinicdesk/internal/writer"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinicdesk API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(rootCtx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	// Data plane.
	pool, err := bootstrap.BuildPgxPool(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}
	sqlDB, err := bootstrap.BuildSQLDB(cfg)
	if err != nil {
		logger.Error("failed to open sql handle", "error", err)
		os.Exit(1)
	}
	if sqlDB != nil {
		defer func() { _ = sqlDB.Close() }()
	}

	store := bootstrap.BuildRecordStore(pool, logger)
	redisClient := bootstrap.BuildRedisClient(rootCtx, cfg, logger, true)
	bus := bootstrap.BuildLiveBus(redisClient, logger)

	// Metrics.
	reg := prometheus.DefaultRegisterer
	writerMetrics := metrics.NewWriterMetrics(reg)
	liveMetrics := metrics.NewLiveQueryMetrics(reg)
	aiMetrics := metrics.NewAIMetrics(reg)

	// Error relay and the non-blocking write pipeline.
	relay := events.NewRelay()
	defer relay.Close()

	w, worker, opStore := bootstrap.BuildWritePipeline(cfg, awsCfg, store, bus, relay, writerMetrics, logger)
	worker.Start(rootCtx)

	// Live query hub.
	hub := livequery.NewHub(store, bus, relay, logger, livequery.WithHubMetrics(liveMetrics))
	if err := hub.Start(rootCtx); err != nil {
		logger.Error("failed to start live query hub", "error", err)
		os.Exit(1)
	}
	defer hub.Close()

	// Outbox, processed-event ledger, and notifications (database-backed).
	var (
		outboxStore    *events.OutboxStore
		processedStore *events.ProcessedStore
	)
	patientStore := patients.NewStore(store)
	if pool != nil {
		outboxStore = events.NewOutboxStore(pool)
		processedStore = events.NewProcessedStore(pool)

		sender := buildEmailSender(cfg, awsCfg, logger)
		notifySvc := notify.NewService(sender, patientStore, notify.Config{
			ClinicName:      cfg.ClinicName,
			StaffRecipients: cfg.StaffNotifyEmails,
		}, logger)
		dispatcher := events.NewDispatcher(outboxStore, notifySvc, cfg.OutboxInterval, logger)
		go dispatcher.Run(rootCtx)
	} else {
		logger.Warn("no database configured; outbox delivery and payment webhooks disabled")
	}

	// AI flows.
	var flows *ai.Flows
	llmClient, err := bootstrap.BuildLLMClient(rootCtx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build LLM client", "error", err)
		os.Exit(1)
	}
	if llmClient != nil {
		flows = ai.NewFlows(llmClient, logger, ai.WithMetrics(aiMetrics))
	}

	// Document storage.
	var docActions *documents.Actions
	if cfg.DocumentsBucket != "" {
		blobs := documents.NewBlobStore(s3.NewFromConfig(awsCfg), cfg.DocumentsBucket, cfg.DocumentsBaseURL, logger)
		docActions = documents.NewActions(store, blobs, bus, logger)
	} else {
		logger.Warn("no documents bucket configured; uploads disabled")
	}

	// Domain services.
	apptSvc := buildAppointmentService(store, w, outboxStore, logger)
	consultSvc := consultations.NewService(store, w, logger)
	invoiceSvc := billing.NewService(store, w, logger)

	var billingActions *billing.Actions
	if cfg.PaymentAccessToken != "" && cfg.PaymentLocationID != "" {
		provider := billing.NewSquareCheckoutService(cfg.PaymentAccessToken, cfg.PaymentLocationID, cfg.PaymentSuccessURL, logger)
		if cfg.PaymentBaseURL != "" {
			provider = provider.WithBaseURL(cfg.PaymentBaseURL)
		}
		billingActions = billing.NewActions(store, provider, bus, logger)
	} else {
		logger.Warn("payment provider not configured; payment links disabled")
	}

	var paymentWebhook *billing.WebhookHandler
	if processedStore != nil && outboxStore != nil && cfg.PaymentWebhookKey != "" {
		paymentWebhook = billing.NewWebhookHandler(cfg.PaymentWebhookKey, store, processedStore, outboxStore, bus, logger)
	}

	// Handlers and router.
	routerCfg := &router.Config{
		Logger:             logger,
		AuthSecret:         cfg.AuthJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MetricsHandler:     promhttp.Handler(),
		Users:              handlers.NewUsersHandler(users.NewStore(store), logger),
		Patients:           handlers.NewPatientsHandler(patientStore, w, logger),
		Appointments:       handlers.NewAppointmentsHandler(apptSvc, logger),
		Consultations:      handlers.NewConsultationsHandler(consultSvc, logger),
		Invoices:           handlers.NewInvoicesHandler(invoiceSvc, billingActions, logger),
		Live:               handlers.NewLiveHandler(hub, logger),
		PaymentWebhook:     paymentWebhook,
	}
	if docActions != nil {
		routerCfg.Documents = handlers.NewDocumentsHandler(docActions, logger)
	}
	if flows != nil {
		routerCfg.AI = handlers.NewAIHandler(flows, logger)
	}
	if opStore != nil {
		routerCfg.Ops = handlers.NewOpsHandler(opStore, logger)
	}
	if sqlDB != nil {
		routerCfg.Dashboard = dashboard.NewHandler(sqlDB, nil, logger)
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// Stop accepting new work, then drain the write pipeline.
	cancel()
	worker.Wait()

	logger.Info("server stopped")
}

// buildAppointmentService keeps the outbox optional: a typed nil store must
// not become a non-nil interface inside the service.
func buildAppointmentService(store records.Store, w *writer.Writer, outbox *events.OutboxStore, logger *logging.Logger) *appointments.Service {
	if outbox != nil {
		return appointments.NewService(store, w, outbox, logger)
	}
	return appointments.NewService(store, w, nil, logger)
}

func buildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			return sender
		}
	case "ses":
		if cfg.SESFromEmail != "" {
			if sender := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
				FromEmail: cfg.SESFromEmail,
				FromName:  cfg.SESFromName,
			}, logger); sender != nil {
				return sender
			}
		}
	}
	logger.Warn("email provider not configured; notifications will be logged only")
	return notify.NewStubEmailSender(logger)
}
