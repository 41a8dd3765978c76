package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vipul43/invoice-intake/internal/classifier"
	"github.com/vipul43/invoice-intake/internal/config"
	"github.com/vipul43/invoice-intake/internal/database"
	"github.com/vipul43/invoice-intake/internal/docai"
	"github.com/vipul43/invoice-intake/internal/gmail"
	"github.com/vipul43/invoice-intake/internal/httpapi"
	"github.com/vipul43/invoice-intake/internal/notification"
	"github.com/vipul43/invoice-intake/internal/repository"
	"github.com/vipul43/invoice-intake/internal/service"
	"github.com/vipul43/invoice-intake/internal/storage"
	"github.com/vipul43/invoice-intake/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	log.Println("Database connected successfully")

	// Run migrations
	log.Println("Running database migrations...")
	if err := database.RunMigrations(db); err != nil {
		return err
	}
	log.Println("Migrations completed successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize repositories
	stateRepo := repository.NewMailboxStateRepository(db)
	queueRepo := repository.NewQueuedEventRepository(db)
	accountRepo := repository.NewMailboxAccountRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	patternRepo := repository.NewClassificationPatternRepository(db)
	vendorRepo := repository.NewVendorProfileRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Initialize external clients
	gmailClient := gmail.NewClient(cfg.GmailClientID, cfg.GmailClientSecret, cfg.GmailPubSubTopic,
		time.Duration(cfg.DefaultRetryAfter)*time.Second)

	docClient, err := docai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	if err != nil {
		return err
	}

	blobStore, err := storage.NewGCSStore(ctx, cfg.BlobBucket, cfg.BlobPublicBaseURL)
	if err != nil {
		return err
	}
	defer blobStore.Close()

	// Initialize services
	engine := classifier.NewEngine(invoiceRepo, patternRepo, vendorRepo, docClient)
	classification := service.NewClassificationService(engine, invoiceRepo, vendorRepo, auditRepo)
	extractor := service.NewAttachmentExtractor(gmailClient, invoiceRepo, blobStore, docClient, auditRepo, classification)
	credentials := service.NewCredentials(accountRepo, gmailClient)

	lock := service.NewLockController(stateRepo, queueRepo, service.LockSettings{
		StaleAfter:       time.Duration(cfg.StaleLockTimeout) * time.Second,
		MinQueryInterval: time.Duration(cfg.MinQueryInterval) * time.Second,
	})
	worker := service.NewSyncWorker(lock, queueRepo, gmailClient, credentials, extractor,
		time.Duration(cfg.WorkerBudget)*time.Second)

	dispatcher := service.NewDispatcher(worker, 64)
	intake := service.NewIntakeService(stateRepo, queueRepo, dispatcher)
	drain := service.NewDrainService(stateRepo, worker, service.DefaultDrainBatch)
	approvals := service.NewApprovalService(invoiceRepo, patternRepo, auditRepo)
	renewer := service.NewWatchRenewer(accountRepo, credentials, gmailClient, stateRepo)

	// Initialize watcher
	w := watcher.New(drain, renewer, watcher.Schedules{
		Drain:       cfg.DrainSchedule,
		WatchRenew:  cfg.WatchRenewSchedule,
		RenewOnBoot: cfg.GmailPubSubTopic != "",
	})

	// Initialize HTTP server
	api := httpapi.NewServer(intake, drain, invoiceRepo, auditRepo, approvals, httpapi.Options{
		WebhookToken: cfg.WebhookToken,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 3)

	go dispatcher.Start(ctx)

	watcherDone := make(chan error, 1)
	go func() {
		watcherDone <- w.Start(ctx)
	}()

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if cfg.PubSubSubscription != "" {
		subscriber, err := notification.NewSubscriber(ctx, cfg.PubSubProjectID, cfg.PubSubSubscription,
			cfg.CredentialsFile, intake)
		if err != nil {
			return err
		}
		defer subscriber.Close()

		go func() {
			if err := subscriber.Start(ctx); err != nil {
				errChan <- err
			}
		}()
	}

	// Wait for shutdown signal or error
	var runErr error
	select {
	case <-sigChan:
		log.Println("Shutdown signal received")
	case runErr = <-errChan:
		log.Printf("Component failed: %v", runErr)
	case runErr = <-watcherDone:
		watcherDone <- runErr
	}
	cancel()

	// Wait for graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	select {
	case <-shutdownCtx.Done():
		log.Println("Shutdown timeout exceeded")
	case err := <-watcherDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Watcher error: %v", err)
		}
	}

	log.Println("Application stopped")
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
