package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rotisserie/eris"

	"caseflow-backend/internal/analysis"
	"caseflow-backend/internal/cases"
	"caseflow-backend/internal/documents"
	"caseflow-backend/internal/ingestion"
	"caseflow-backend/internal/ledger"
	"caseflow-backend/internal/llm"
	"caseflow-backend/internal/llm/anthropic"
	"caseflow-backend/internal/provider"
	"caseflow-backend/internal/queue"
	"caseflow-backend/internal/services/health"
	"caseflow-backend/internal/shared/config"
	"caseflow-backend/internal/shared/server"
	"caseflow-backend/internal/shared/storage/db"
	"caseflow-backend/internal/shared/storage/object"
	localstore "caseflow-backend/internal/shared/storage/object/local"
	s3store "caseflow-backend/internal/shared/storage/object/s3"
	"caseflow-backend/internal/shared/telemetry"
	"caseflow-backend/internal/timeline"
)

// App holds shared dependencies and the wired router.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.ObjectStore
	Queue  queue.Client

	CasesService     *cases.Service
	TimelineService  *timeline.Service
	DocumentsService *documents.Service
	Gateway          *ingestion.Gateway
	Ledger           *ledger.Service
	AnalysisService  *analysis.Service
	AnalysisRepo     analysis.Repo
	Reconciler       *analysis.Reconciler
}

// Options tune Build for callers other than the HTTP server.
type Options struct {
	// DB overrides the connection Build would open.
	DB *sql.DB
	// Analyzer overrides the configured AI client.
	Analyzer llm.Analyzer
	// Migrate runs pending migrations after connecting.
	Migrate bool
}

// Build wires every service and the router.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}

	sqlDB := opts.DB
	if sqlDB == nil {
		var err error
		sqlDB, err = buildDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}
	if sqlDB != nil && opts.Migrate {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			return nil, eris.Wrap(err, "bootstrap: run migrations")
		}
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueClient, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
		Queue:  queueClient,
	}
	if err := buildServices(ctx, app, opts); err != nil {
		return nil, err
	}
	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if cfg.DatabaseURL == "" {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.memory_repositories", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, eris.New("bootstrap: DATABASE_URL is required")
	}

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
	if err != nil {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.memory_repositories", map[string]any{
				"reason": "database connect failed",
				"error":  err.Error(),
			})
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, eris.New("bootstrap: OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if strings.TrimSpace(cfg.Reconcile.QueueURL) == "" {
		return queue.NewLogClient(), nil
	}
	return queue.NewSQSClient(ctx, cfg.AWSRegion, cfg.Reconcile.QueueURL)
}

// buildAI returns a nil Normalizer without an API key so timeline
// enrichment is skipped instead of failing per entry.
func buildAI(cfg config.Config) (llm.Analyzer, llm.Normalizer, error) {
	if cfg.LLM.Provider != "anthropic" || strings.TrimSpace(cfg.LLM.APIKey) == "" {
		telemetry.Warn("bootstrap.llm_placeholder", map[string]any{"provider": cfg.LLM.Provider})
		return llm.PlaceholderClient{}, nil, nil
	}
	client, err := anthropic.NewClient(anthropic.Config{
		APIKey:          cfg.LLM.APIKey,
		Model:           cfg.LLM.Model,
		NormalizerModel: cfg.LLM.NormalizerModel,
		MaxTokens:       cfg.LLM.MaxTokens,
		Timeout:         cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, client, nil
}

func buildProvider(ctx context.Context, cfg config.Config) (ingestion.Provider, error) {
	client, err := provider.New(ctx, provider.Config{
		BaseURL:      cfg.Provider.BaseURL,
		TokenURL:     cfg.Provider.TokenURL,
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		Timeout:      cfg.Provider.Timeout,
	})
	if errors.Is(err, provider.ErrNotConfigured) {
		telemetry.Warn("bootstrap.provider_disabled", map[string]any{"reason": "PROVIDER_BASE_URL empty"})
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

func buildServices(ctx context.Context, app *App, opts Options) error {
	cfg := app.Config

	var (
		caseRepo      cases.Repo
		timelineRepo  timeline.Repo
		documentRepo  documents.Repo
		requestRepo   ingestion.Repo
		analysisRepo  analysis.Repo
		ledgerService *ledger.Service
	)
	if app.DB != nil {
		caseRepo = &cases.PGRepo{DB: app.DB}
		timelineRepo = &timeline.PGRepo{DB: app.DB}
		documentRepo = &documents.PGRepo{DB: app.DB}
		requestRepo = &ingestion.PGRepo{DB: app.DB}
		analysisRepo = &analysis.PGRepo{DB: app.DB}
		ledgerService = ledger.NewPostgresService(ledger.NewPGStore(app.DB))
	} else {
		caseRepo = cases.NewMemoryRepo()
		timelineRepo = timeline.NewMemoryRepo()
		documentRepo = documents.NewMemoryRepo()
		requestRepo = ingestion.NewMemoryRepo()
		analysisRepo = analysis.NewMemoryRepo()
		ledgerService = ledger.NewService()
	}

	analyzer, normalizer, err := buildAI(cfg)
	if err != nil {
		return err
	}
	if opts.Analyzer != nil {
		analyzer = opts.Analyzer
	}

	providerClient, err := buildProvider(ctx, cfg)
	if err != nil {
		return err
	}

	caseSvc := cases.NewService(caseRepo)
	timelineSvc := timeline.NewService(timelineRepo, normalizer)
	documentSvc := documents.NewService(app.Store, documentRepo, timelineSvc)

	gateway := ingestion.NewGateway(ingestion.Deps{
		Requests:  requestRepo,
		Cases:     caseRepo,
		Timeline:  timelineSvc,
		Documents: documentSvc,
		Provider:  providerClient,
	}, ingestion.Options{
		ProcessingTimeout:     cfg.Webhook.ProcessingTimeout,
		AttachmentConcurrency: cfg.Webhook.AttachmentConcurrency,
	})
	if cfg.Webhook.Secret == "" {
		telemetry.Warn("bootstrap.webhook_unsigned", map[string]any{"reason": "WEBHOOK_SECRET empty; signatures are not verified"})
	}

	analysisSvc := analysis.NewService(analysis.Deps{
		Repo:      analysisRepo,
		Cases:     caseSvc,
		Ledger:    ledgerService,
		Timeline:  timelineSvc,
		Analyzer:  analyzer,
		Queue:     app.Queue,
		Costs:     costsFrom(cfg.Credits),
		Unlimited: cfg.Credits.UnlimitedWorkspaces,
	})

	app.CasesService = caseSvc
	app.TimelineService = timelineSvc
	app.DocumentsService = documentSvc
	app.Gateway = gateway
	app.Ledger = ledgerService
	app.AnalysisService = analysisSvc
	app.AnalysisRepo = analysisRepo
	app.Reconciler = analysis.NewReconciler(ledgerService, analysisRepo, app.Queue, cfg.Reconcile.GraceWindow)
	app.Reconciler.InFlightWindow = analysis.MaxModelCall(cfg.LLM.Timeout)

	app.Router = server.NewRouter(server.RouterDeps{
		Config:           cfg,
		Health:           health.NewService(app.DB),
		CaseHandler:      cases.NewHandler(caseSvc),
		DocumentHandler:  documents.NewHandler(documentSvc, caseSvc),
		TimelineHandler:  timeline.NewHandler(timelineSvc, caseSvc),
		IngestionHandler: ingestion.NewHandler(gateway, cfg.Webhook.Secret),
		LedgerHandler:    ledger.NewHandler(ledgerService),
		AnalysisHandler:  analysis.NewHandler(analysisSvc),
	})
	return nil
}

func costsFrom(c config.CreditsConfig) analysis.CostTable {
	costs := analysis.DefaultCosts()
	if c.FullAnalysisFullCredits > 0 {
		costs[analysis.TypeFull] = ledger.Balance{FullCredits: c.FullAnalysisFullCredits}
	}
	if c.ReportAnalysisReportCredits > 0 {
		costs[analysis.TypeReport] = ledger.Balance{ReportCredits: c.ReportAnalysisReportCredits}
	}
	return costs
}
