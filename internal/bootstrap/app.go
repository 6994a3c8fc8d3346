package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"finsight-backend/internal/datasets"
	"finsight-backend/internal/docstore"
	"finsight-backend/internal/enrich"
	"finsight-backend/internal/identity"
	"finsight-backend/internal/llm"
	"finsight-backend/internal/llm/claude"
	"finsight-backend/internal/llm/openai"
	"finsight-backend/internal/prompts"
	"finsight-backend/internal/queue"
	"finsight-backend/internal/sandbox"
	"finsight-backend/internal/services/health"
	"finsight-backend/internal/shared/config"
	"finsight-backend/internal/shared/metrics"
	"finsight-backend/internal/shared/server"
	"finsight-backend/internal/shared/storage/db"
	"finsight-backend/internal/shared/storage/object"
	localstore "finsight-backend/internal/shared/storage/object/local"
	miniostore "finsight-backend/internal/shared/storage/object/minio"
	s3store "finsight-backend/internal/shared/storage/object/s3"
	"finsight-backend/internal/shared/telemetry"
	"finsight-backend/internal/shared/tracing"
	"finsight-backend/internal/tasks"
	"finsight-backend/internal/teams"
	"finsight-backend/internal/usage"
	"finsight-backend/internal/users"
)

const sandboxBinaryName = "finsight-sandbox"

// App holds shared dependencies for every entry point.
type App struct {
	Config  config.Config
	Logger  *telemetry.Logger
	Metrics *metrics.Registry
	Tracing *tracing.Provider
	Router  *gin.Engine

	DB       *sql.DB
	DocStore docstore.Store
	Blobs    object.BlobStore
	Queue    queue.Client

	Verifier    identity.Verifier
	Signer      *identity.JWTSigner
	Revocations identity.RevocationList

	Users    *users.Service
	Teams    *teams.Service
	Datasets *datasets.Service
	Usage    *usage.Service
	Enricher *enrich.Enricher
	LLM      *llm.Client
	Sandbox  sandbox.Runner
	Tasks    *tasks.Runner
	Prompts  *prompts.Service
	Health   *health.Service
}

// Build wires every dependency from cfg.
func Build(cfg config.Config) (*App, error) {
	return BuildContext(context.Background(), cfg)
}

// BuildContext is Build with a caller-supplied context for connection setup.
func BuildContext(ctx context.Context, cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}

	logger, err := telemetry.New(telemetry.Options{Format: cfg.LogFormat, Debug: config.IsDevLike(cfg.Env)})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewRegistry(),
	}

	app.Tracing, err = tracing.Init(ctx, tracing.Options{
		Exporter:    cfg.OTelExporter,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
		Environment: cfg.Env,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	if err := app.buildDocStore(ctx); err != nil {
		return nil, err
	}
	if err := app.buildBlobs(ctx); err != nil {
		return nil, err
	}
	if err := app.buildIdentity(); err != nil {
		return nil, err
	}
	if err := app.buildQueue(ctx); err != nil {
		return nil, err
	}
	if err := app.buildServices(); err != nil {
		return nil, err
	}

	var blobHandler gin.HandlerFunc
	if local, ok := app.Blobs.(*localstore.Store); ok {
		blobHandler = local.Handler()
	}
	app.Router = server.NewRouter(server.RouterDeps{
		Config:         cfg,
		Logger:         logger,
		Metrics:        app.Metrics,
		Verifier:       app.Verifier,
		Health:         app.Health,
		Blobs:          blobHandler,
		PromptHandler:  prompts.NewHandler(app.Prompts, app.Users),
		DatasetHandler: datasets.NewHandler(app.Datasets, app.Users),
		UserHandler:    users.NewHandler(app.Users),
		TeamHandler:    teams.NewHandler(app.Teams, app.Users),
		UsageHandler:   usage.NewHandler(app.Usage),
	})

	logger.Info("bootstrap.ready", map[string]any{
		"env":          cfg.Env,
		"docstore":     cfg.DocStore,
		"object_store": app.Blobs.Backend(),
		"llm":          cfg.LLMProvider,
		"sandbox":      cfg.Sandbox.Mode,
		"queue":        cfg.QueueBackend,
	})
	return app, nil
}

// Close drains in-flight stages and releases connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Tasks != nil {
		if err := a.Tasks.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tasks: %w", err))
		}
	}
	if a.Tracing != nil {
		if err := a.Tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
	}
	if a.DB != nil && !db.IsLambdaRuntime() {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("db: %w", err))
		}
	}
	a.Logger.Sync()
	return errors.Join(errs...)
}

func (a *App) buildDocStore(ctx context.Context) error {
	cfg := a.Config
	switch cfg.DocStore {
	case "postgres":
		var (
			conn *sql.DB
			err  error
		)
		if db.IsLambdaRuntime() {
			opts := db.DefaultLambdaOptions()
			opts.Logger = a.Logger
			conn, err = db.GetSingleton(ctx, cfg.DatabaseURL, db.OptionsFromEnv(opts))
		} else {
			opts := db.DefaultServerOptions()
			opts.Logger = a.Logger
			conn, err = db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(opts))
		}
		if err == nil && config.IsDevLike(cfg.Env) {
			err = db.RunMigrations(ctx, conn, db.DialectPostgres)
		}
		if err != nil {
			return a.memoryFallback("postgres", err)
		}
		a.DB = conn
		a.DocStore = &docstore.PGStore{DB: conn}
	case "sqlite":
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err == nil {
			err = db.RunMigrations(ctx, conn, db.DialectSQLite)
		}
		if err != nil {
			return a.memoryFallback("sqlite", err)
		}
		a.DB = conn
		a.DocStore = &docstore.SQLiteStore{DB: conn}
	default:
		a.DocStore = docstore.NewMemoryStore()
	}
	return nil
}

func (a *App) memoryFallback(backend string, cause error) error {
	if !config.IsDevLike(a.Config.Env) {
		return fmt.Errorf("%s docstore: %w", backend, cause)
	}
	a.Logger.Warn("bootstrap.docstore.fallback", map[string]any{
		"backend": backend,
		"error":   cause.Error(),
	})
	a.Config.DocStore = "memory"
	a.DocStore = docstore.NewMemoryStore()
	return nil
}

func (a *App) buildBlobs(ctx context.Context) error {
	cfg := a.Config
	switch cfg.ObjectStoreType {
	case "s3":
		store, err := s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
		if err != nil {
			return fmt.Errorf("s3 store: %w", err)
		}
		a.Blobs = store
	case "minio":
		store, err := miniostore.New(ctx, miniostore.Options{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return fmt.Errorf("minio store: %w", err)
		}
		a.Blobs = store
	default:
		if err := os.MkdirAll(cfg.LocalStoreDir, 0o755); err != nil {
			return fmt.Errorf("local store dir: %w", err)
		}
		a.Blobs = localstore.New(cfg.LocalStoreDir, object.URLSigner{
			BaseURL: cfg.PublicBaseURL + "/api/v1/blobs",
			Key:     []byte(cfg.BlobSigningKey),
		})
	}
	return nil
}

func (a *App) buildIdentity() error {
	cfg := a.Config
	a.Revocations = identity.DocstoreRevocations{Store: a.DocStore}
	secret, err := identity.SecretFor(cfg.Env, cfg.JWTSecret)
	if err != nil {
		return err
	}
	a.Signer = &identity.JWTSigner{Secret: secret, Issuer: cfg.JWTIssuer}

	switch cfg.IdentityProvider {
	case "google":
		a.Verifier = &identity.GoogleVerifier{}
	default:
		a.Verifier = &identity.JWTVerifier{
			Secret:      secret,
			Issuer:      cfg.JWTIssuer,
			Revocations: a.Revocations,
		}
	}
	return nil
}

func (a *App) buildQueue(ctx context.Context) error {
	if a.Config.QueueBackend != "sqs" {
		return nil
	}
	client, err := queue.NewSQSClient(ctx, a.Config.AWSRegion, a.Config.SQSQueueURL)
	if err != nil {
		return fmt.Errorf("sqs client: %w", err)
	}
	a.Queue = client
	return nil
}

func (a *App) buildServices() error {
	cfg := a.Config
	tracer := a.Tracing.Tracer()

	a.Users = users.NewService(&users.DocRepo{Store: a.DocStore})
	a.Teams = &teams.Service{Store: a.DocStore, Members: a.Users}
	a.Datasets = &datasets.Service{
		Blobs:  a.Blobs,
		Repo:   &datasets.DocRepo{Store: a.DocStore},
		Logger: a.Logger,
	}

	a.Usage = usage.NewDocService(&usage.DocStore{Store: a.DocStore})
	a.Usage.Plans = func(ctx context.Context, userID string) (string, error) {
		u, err := a.Users.GetByID(ctx, userID)
		if errors.Is(err, users.ErrNotFound) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return u.Plan, nil
	}

	a.Enricher = &enrich.Enricher{
		Users:     a.Users,
		Teams:     a.Teams,
		Datasets:  a.Datasets,
		Logger:    a.Logger,
		Tracer:    tracer,
		MaxTokens: cfg.EnrichMaxTokens,
	}

	completer, err := buildCompleter(cfg)
	if err != nil {
		return err
	}
	a.LLM = llm.NewClient(completer, a.Logger, a.Metrics)

	a.Sandbox, err = a.buildSandbox()
	if err != nil {
		return err
	}

	a.Tasks = tasks.NewRunner(a.Logger)
	a.Prompts = &prompts.Service{
		Repo:     &prompts.DocRepo{Store: a.DocStore},
		Enricher: a.Enricher,
		LLM:      a.LLM,
		Sandbox:  a.Sandbox,
		Datasets: a.Datasets,
		Usage:    a.Usage,
		Tasks:    a.Tasks,
		Logger:   a.Logger,
		Metrics:  a.Metrics,
		Tracer:   tracer,
	}
	if a.Queue != nil {
		a.Prompts.Dispatcher = &prompts.QueueDispatcher{Client: a.Queue}
	}

	checks := []health.Check{{Name: "docstore", Ping: a.DocStore.Ping}}
	if p, ok := a.Blobs.(object.Pinger); ok {
		checks = append(checks, health.Check{Name: "blobs", Ping: p.Ping})
	}
	if runner, ok := a.Sandbox.(*sandbox.ProcessRunner); ok {
		binary := runner.Binary
		checks = append(checks, health.Check{Name: "sandbox", Ping: func(ctx context.Context) error {
			_, err := os.Stat(binary)
			return err
		}})
	}
	a.Health = health.NewService(checks...)
	return nil
}

func buildCompleter(cfg config.Config) (llm.Completer, error) {
	switch cfg.LLMProvider {
	case "claude", "anthropic":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" && config.IsDevLike(cfg.Env) {
			return llm.PlaceholderCompleter{}, nil
		}
		return claude.NewClient(cfg.AnthropicAPIKey, cfg.LLMModel, cfg.LLMTimeout)
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" && config.IsDevLike(cfg.Env) {
			return llm.PlaceholderCompleter{}, nil
		}
		return openai.NewClient(cfg.OpenAIAPIKey, cfg.LLMModel, "")
	case "none", "placeholder":
		return llm.PlaceholderCompleter{}, nil
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

func (a *App) buildSandbox() (sandbox.Runner, error) {
	sc := a.Config.Sandbox
	limits := sandbox.Limits{
		Timeout:           sc.Timeout,
		MemoryMB:          sc.MemoryMB,
		CPUSeconds:        sc.CPUSeconds,
		MaxOutputBytes:    sc.MaxOutputBytes,
		MaxVisualizations: sc.MaxVisualizations,
		MaxInsights:       sc.MaxInsights,
	}
	if sc.Mode == "inprocess" {
		// Stack exhaustion in interpreted code aborts the whole process;
		// only the child-process runner contains it.
		if !config.IsDevLike(a.Config.Env) {
			return nil, fmt.Errorf("SANDBOX_MODE=inprocess is only allowed when ENV is dev, local or test (got %q)", a.Config.Env)
		}
		return &sandbox.InProcessRunner{Limits: limits, Metrics: a.Metrics}, nil
	}
	binary, err := resolveSandboxBinary(sc.Binary)
	if err != nil {
		if !config.IsDevLike(a.Config.Env) {
			return nil, err
		}
		a.Logger.Warn("bootstrap.sandbox.fallback", map[string]any{"error": err.Error(), "mode": "inprocess"})
		return &sandbox.InProcessRunner{Limits: limits, Metrics: a.Metrics}, nil
	}
	return &sandbox.ProcessRunner{Binary: binary, Limits: limits, Logger: a.Logger, Metrics: a.Metrics}, nil
}

// resolveSandboxBinary finds the sandbox executable: the configured path,
// a sibling of the running binary, then PATH.
func resolveSandboxBinary(configured string) (string, error) {
	if p := strings.TrimSpace(configured); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("sandbox binary: %w", err)
		}
		return p, nil
	}
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), sandboxBinaryName)
		if _, err := os.Stat(sibling); err == nil {
			return sibling, nil
		}
	}
	p, err := exec.LookPath(sandboxBinaryName)
	if err != nil {
		return "", fmt.Errorf("sandbox binary %s not found; set SANDBOX_BINARY or SANDBOX_MODE=inprocess: %w", sandboxBinaryName, err)
	}
	return p, nil
}

// ShutdownTimeout bounds graceful shutdown in the long-running binaries.
const ShutdownTimeout = 30 * time.Second
