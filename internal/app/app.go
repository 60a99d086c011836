package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/gradehub/submission-service/internal/config"
	"github.com/gradehub/submission-service/internal/delivery/httpd"
	"github.com/gradehub/submission-service/internal/repository"
	"github.com/gradehub/submission-service/internal/service/extractor"
	"github.com/gradehub/submission-service/internal/service/processing"
	"github.com/gradehub/submission-service/internal/worker"
	"github.com/gradehub/submission-service/internal/worker/queue"
)

type App struct {
	server           *http.Server
	logger           zerolog.Logger
	config           *config.Config
	db               *sql.DB
	submissionWorker worker.SubmissionWorker
	reconciler       *processing.Reconciler
	rabbitMQRepo     repository.RabbitMQRepository
}

func New(cfg *config.Config, log zerolog.Logger, db *sql.DB) (*App, error) {
	rabbitMQRepo, err := repository.NewRabbitMQRepository(cfg.RabbitMQ.URL, log)
	if err != nil {
		return nil, err
	}

	if err := rabbitMQRepo.SetupQueue(
		cfg.RabbitMQ.Exchange,
		cfg.RabbitMQ.QueueName,
		cfg.RabbitMQ.RoutingKey,
	); err != nil {
		return nil, err
	}

	rabbitMQPublisher := queue.NewRabbitMQPublisher(rabbitMQRepo.Channel(), log)
	rabbitMQConsumer := queue.NewRabbitMQConsumer(
		rabbitMQRepo.Channel(),
		cfg.RabbitMQ.QueueName,
		cfg.RabbitMQ.ConsumerTag,
		cfg.RabbitMQ.PrefetchCount,
		log,
	)

	submissionRepo := repository.NewSubmissionRepository(db, log)

	documentStore, err := repository.NewMinIODocumentStore(
		cfg.Storage.Endpoint,
		cfg.Storage.AccessKey,
		cfg.Storage.SecretKey,
		cfg.Storage.Bucket,
		cfg.Storage.Region,
		cfg.Storage.UseSSL,
		cfg.Storage.ConnectTimeout,
		log,
	)
	if err != nil {
		return nil, err
	}

	pdfProvider := extractor.NewPDFProvider()
	ocrProvider := extractor.NewOCRProvider(
		cfg.Extraction.OCRServiceURL,
		cfg.Extraction.Timeout,
		log,
	)

	textExtractor := extractor.NewAdapter(
		pdfProvider,
		ocrProvider,
		extractor.AdapterConfig{
			MinConfidence: cfg.Extraction.MinConfidence,
			MaxAttempts:   cfg.Extraction.MaxAttempts,
			RetryDelay:    cfg.Extraction.RetryDelay,
		},
		log,
	)

	processingService := processing.NewService(
		submissionRepo,
		documentStore,
		textExtractor,
		rabbitMQPublisher,
		processing.Config{
			ExtractTimeout:   cfg.Extraction.Timeout,
			ScoreTimeout:     cfg.Processing.ScoreTimeout,
			Exchange:         cfg.RabbitMQ.Exchange,
			RoutingKey:       cfg.RabbitMQ.RoutingKey,
			ResultRoutingKey: cfg.RabbitMQ.ResultRoutingKey,
		},
		log,
	)

	reconciler := processing.NewReconciler(
		submissionRepo,
		processingService,
		cfg.Processing.ReconcileEvery,
		cfg.Processing.StaleAfter,
		cfg.Processing.ReconcileBatch,
		log,
	)

	workerPool := worker.NewWorkerPool(cfg.Processing.MaxWorkers, log)

	submissionWorker := worker.NewSubmissionWorker(
		workerPool,
		rabbitMQConsumer,
		processingService,
		log,
	)

	handler := httpd.NewHandler(
		processingService,
		submissionRepo,
		documentStore,
		rabbitMQRepo,
		submissionWorker,
		cfg.Server.MaxUploadSize,
		log,
	)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		server:           server,
		logger:           log,
		config:           cfg,
		db:               db,
		submissionWorker: submissionWorker,
		reconciler:       reconciler,
		rabbitMQRepo:     rabbitMQRepo,
	}, nil
}

func (a *App) Run() error {
	ctx := context.Background()
	if err := a.submissionWorker.Start(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to start submission worker")
		return err
	}

	a.reconciler.Start(ctx)

	a.logger.Info().Msgf("Starting submission service on %s", a.config.Server.Address)
	return a.server.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down submission service...")

	a.reconciler.Stop()

	if err := a.submissionWorker.Stop(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to stop submission worker")
	}

	if a.rabbitMQRepo != nil {
		if err := a.rabbitMQRepo.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to shutdown HTTP server")
		return err
	}

	a.logger.Info().Msg("Submission service stopped")
	return nil
}
