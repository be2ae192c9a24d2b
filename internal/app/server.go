// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"audiotricks-service/internal/catalog"
	"audiotricks-service/internal/config"
	"audiotricks-service/internal/db"
	adminHandler "audiotricks-service/internal/handlers/admin"
	authHandler "audiotricks-service/internal/handlers/auth"
	jobHandler "audiotricks-service/internal/handlers/job"
	paymentHandler "audiotricks-service/internal/handlers/payment"
	planHandler "audiotricks-service/internal/handlers/plan"
	uploadHandler "audiotricks-service/internal/handlers/upload"
	wsHandler "audiotricks-service/internal/handlers/websocket"
	workspaceHandler "audiotricks-service/internal/handlers/workspace"
	"audiotricks-service/internal/middleware"
	xerrors "audiotricks-service/internal/pkg/errors"
	"audiotricks-service/internal/pkg/jwt"
	"audiotricks-service/internal/pkg/metrics"
	"audiotricks-service/internal/pkg/response"
	"audiotricks-service/internal/pkg/session"
	"audiotricks-service/internal/repository/postgres"
	adminUsecase "audiotricks-service/internal/service/admin"
	"audiotricks-service/internal/service/ai"
	authUsecase "audiotricks-service/internal/service/auth"
	"audiotricks-service/internal/service/email"
	jobUsecase "audiotricks-service/internal/service/job"
	paymentUsecase "audiotricks-service/internal/service/payment"
	planUsecase "audiotricks-service/internal/service/plan"
	"audiotricks-service/internal/service/quota"
	uploadUsecase "audiotricks-service/internal/service/upload"
	workspaceUsecase "audiotricks-service/internal/service/workspace"
	"audiotricks-service/internal/storage"
	"audiotricks-service/internal/websocket"
	wsHandlers "audiotricks-service/internal/websocket/handler"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

type Server struct {
	cfg    config.AppConfig
	engine *gin.Engine
	logger *zap.Logger
}

func NewServer(cfg config.AppConfig, logger *zap.Logger) *Server {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	response.SetDebug(cfg.IsDevelopment())

	return &Server{
		cfg:    cfg,
		engine: gin.New(),
		logger: logger,
	}
}

// Start wires every component, serves HTTP and runs the job worker until ctx
// is cancelled, then drains both.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfg
	logger := s.logger

	// ----- Migrations -----
	if cfg.Database.RunMigrations {
		if err := db.Migrate(cfg.Database.URL, "up"); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	// ----- PostgreSQL -----
	pool, err := db.ConnectDB(ctx, db.PostgresConfig{URL: cfg.Database.URL, MaxConns: cfg.Database.MaxConns})
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	// ----- Redis -----
	redisClient, err := db.NewRedisClient(ctx, db.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisClient.Close()

	// ----- JWT -----
	jwtManager, err := jwt.LoadAndBuild(cfg.JWT)
	if err != nil {
		return fmt.Errorf("failed to load JWT keys: %w", err)
	}

	// ----- Storage -----
	driver, err := storage.New(ctx, storage.Config{
		Driver:          cfg.Storage.Driver,
		RootDir:         cfg.Storage.RootDir,
		Bucket:          cfg.Storage.Bucket,
		CredentialsFile: cfg.Storage.CredentialsFile,
	})
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Driver, err)
	}
	defer driver.Close()

	var m *metrics.Registry
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// ----- Repositories -----
	dbWrapper := postgres.NewDB(pool)
	userRepo := postgres.NewUserRepository(pool)
	workspaceRepo := postgres.NewWorkspaceRepository(pool)
	planRepo := postgres.NewPlanRepository(pool)
	ruleRepo := postgres.NewRuleRepository(pool)
	subscriptionRepo := postgres.NewSubscriptionRepository(pool)
	currencyRepo := postgres.NewCurrencyRepository(pool)
	usageRepo := postgres.NewUsageRepository(pool)
	uploadRepo := postgres.NewUploadRepository(pool)
	jobRepo := postgres.NewJobRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)

	if err := seedIfEmpty(ctx, cfg.Catalog.Path, planRepo, ruleRepo, currencyRepo, logger); err != nil {
		return err
	}

	// ----- Sessions & realtime -----
	sessionManager := session.NewManager(redisClient, userRepo, logger)
	rateLimiter := session.NewRateLimiter(redisClient)

	hub := websocket.NewHub(jwtManager.Verifier, sessionManager, logger)

	// ----- Email -----
	emailSender := email.NewEmailSender(
		cfg.SMTP.Host,
		cfg.SMTP.Port,
		cfg.SMTP.User,
		cfg.SMTP.Pass,
		cfg.SMTP.FromName,
		cfg.SMTP.Secure,
	)
	mailer := email.NewHelper(emailSender, logger, cfg.App.BaseURL)

	// ----- Services (Usecases) -----
	planCache := planUsecase.NewRedisCache(redisClient, cfg.PlanCacheTTL)
	planService := planUsecase.NewPlanService(
		planUsecase.NewPostgresStore(dbWrapper),
		planCache,
		hub,
		logger,
	)
	planAdmin := planUsecase.NewAdminService(dbWrapper, planRepo, ruleRepo, planCache, logger)
	quotaService := quota.NewQuotaService(planService, usageRepo, m, logger)

	authService := authUsecase.NewAuthService(
		authUsecase.NewPostgresStore(dbWrapper),
		jwtManager.Generator,
		cfg.JWT.TTL,
		sessionManager,
		rateLimiter,
		planService,
		mailer,
		hub,
		logger,
	)
	workspaceService := workspaceUsecase.NewWorkspaceService(
		workspaceUsecase.NewPostgresStore(dbWrapper),
		planService,
		quotaService,
		mailer,
		logger,
	)
	uploadService := uploadUsecase.NewUploadService(
		uploadRepo,
		workspaceRepo,
		quotaService,
		driver,
		hub,
		m,
		uploadUsecase.Config{ChunkSize: cfg.Upload.ChunkSize, MaxFileSize: cfg.Upload.MaxFileSize},
		logger,
	)

	openAI := ai.NewOpenAIClient(ai.OpenAIConfig{
		APIKey:             cfg.OpenAI.APIKey,
		BaseURL:            cfg.OpenAI.BaseURL,
		TranscriptionModel: cfg.OpenAI.TranscriptionModel,
		ChatModel:          cfg.OpenAI.ChatModel,
	}, logger)
	var speaker jobUsecase.Speaker
	if cfg.ElevenLabs.APIKey != "" {
		speaker = ai.NewElevenLabsClient(ai.ElevenLabsConfig{
			APIKey:  cfg.ElevenLabs.APIKey,
			BaseURL: cfg.ElevenLabs.BaseURL,
			VoiceID: cfg.ElevenLabs.VoiceID,
		})
	} else {
		logger.Warn("ELEVENLABS_API_KEY not set, speech synthesis disabled")
	}

	jobService := jobUsecase.NewJobService(jobRepo, uploadRepo, workspaceRepo, quotaService, speaker, hub, logger)
	pipeline := jobUsecase.NewPipeline(jobRepo, uploadRepo, uploadService, openAI, quotaService, hub, m, logger)
	worker := jobUsecase.NewWorker(jobRepo, pipeline, jobUsecase.WorkerConfig{
		ID:                workerID(),
		Concurrency:       cfg.Worker.Concurrency,
		PollInterval:      cfg.Worker.PollInterval,
		VisibilityTimeout: cfg.Worker.VisibilityTimeout,
		MaxDeliveries:     cfg.Worker.MaxDeliveries,
	}, m, logger)
	jobService.OnEnqueue(worker.Wake)

	paymentService := paymentUsecase.NewPaymentService(
		paymentUsecase.NewStripeGateway(paymentUsecase.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			SuccessURL:    cfg.Stripe.SuccessURL,
			CancelURL:     cfg.Stripe.CancelURL,
		}),
		subscriptionRepo,
		currencyRepo,
		planRepo,
		workspaceRepo,
		userRepo,
		planService,
		logger,
	)
	adminService := adminUsecase.NewAdminService(userRepo, planService, usageRepo, auditRepo, logger)

	if err := hub.RegisterHandler(wsHandlers.NewJobStatusHandler(jobService)); err != nil {
		return err
	}

	// ----- Super admin -----
	if err := s.initializeSuperAdmin(ctx, authService); err != nil {
		logger.Error("failed to initialize super admin", zap.Error(err))
	}

	// ----- Middlewares -----
	authMiddleware := middleware.NewAuthMiddleware(jwtManager.Verifier, sessionManager)

	s.engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger, m),
		middleware.CORSMiddleware(),
	)

	// ----- Router -----
	SetupRouter(s.engine, &Handlers{
		AuthHandler:      authHandler.NewAuthHandler(authService, logger),
		WorkspaceHandler: workspaceHandler.NewWorkspaceHandler(workspaceService),
		UploadHandler:    uploadHandler.NewUploadHandler(uploadService, logger),
		JobHandler:       jobHandler.NewJobHandler(jobService, logger),
		PaymentHandler:   paymentHandler.NewPaymentHandler(paymentService, logger),
		PlanHandler:      planHandler.NewPlanHandler(planAdmin),
		AdminHandler:     adminHandler.NewAdminHandler(adminService),
		WSHandler:        wsHandler.NewWebSocketHandler(hub, logger),
		AuthMiddleware:   authMiddleware,
		Metrics:          m,
	})

	// ----- Background -----
	go hub.Run(ctx)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(ctx)
	}()

	// ----- HTTP -----
	srv := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.App.HTTPAddr), zap.String("env", cfg.App.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}

	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("worker did not stop in time; leased jobs will be redelivered")
	}
	return nil
}

// initializeSuperAdmin creates the configured super admin if it is missing.
func (s *Server) initializeSuperAdmin(ctx context.Context, authService *authUsecase.AuthService) error {
	sa := s.cfg.SuperAdmin
	if sa.Password == "" {
		s.logger.Warn("SUPER_ADMIN_PASSWORD not set, skipping super admin bootstrap")
		return nil
	}
	if len(sa.Password) < 8 {
		return fmt.Errorf("super admin password must be at least 8 characters")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return authService.EnsureSuperAdminExists(ctx, sa.Email, sa.Password, sa.Name)
}

// seedIfEmpty loads the catalog on first boot, when no default plan exists yet.
func seedIfEmpty(ctx context.Context, path string, plans *postgres.PlanRepository, rules *postgres.RuleRepository,
	currencies *postgres.CurrencyRepository, logger *zap.Logger) error {
	if _, err := plans.FindDefault(ctx); err == nil {
		return nil
	} else if !xerrors.Is(err, xerrors.ErrNotFound) {
		return fmt.Errorf("failed to look up default plan: %w", err)
	}

	cat, err := catalog.Load(path)
	if err != nil {
		return err
	}
	return catalog.NewSeeder(plans, rules, currencies, logger).Seed(ctx, cat)
}

func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return host + "-" + ulid.Make().String()
}
