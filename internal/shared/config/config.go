package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration. It is loaded once in main and
// passed to bootstrap.Build.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string
	PublicBaseURL   string
	LogFormat       string

	DocStore    string
	DatabaseURL string
	SQLitePath  string

	ObjectStoreType string
	LocalStoreDir   string
	BlobSigningKey  string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string
	MinIOEndpoint   string
	MinIOAccessKey  string
	MinIOSecretKey  string
	MinIOBucket     string
	MinIOUseSSL     bool

	IdentityProvider string
	JWTSecret        string
	JWTIssuer        string

	LLMProvider     string
	LLMModel        string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	LLMTimeout      time.Duration

	Sandbox SandboxConfig

	EnrichMaxTokens int

	QueueBackend      string
	SQSQueueURL       string
	WorkerConcurrency int

	OTelExporter    string
	OTelEndpoint    string
	OTelServiceName string

	RateLimitSubmitPerMin int
}

// SandboxConfig carries the execution limits handed to the sandbox runner.
type SandboxConfig struct {
	Mode              string
	Binary            string
	Timeout           time.Duration
	MemoryMB          int
	CPUSeconds        int
	MaxOutputBytes    int
	MaxVisualizations int
	MaxInsights       int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadYAMLFile(path); err != nil {
			log.Printf("config: %v", err)
		}
	}

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	docStore := normalizeDocStore(getEnv("DOCSTORE", ""))
	if docStore == "" {
		docStore = "memory"
		if dbURL != "" {
			docStore = "postgres"
		}
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		PublicBaseURL:   strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),

		DocStore:    docStore,
		DatabaseURL: dbURL,
		SQLitePath:  getEnv("SQLITE_PATH", "./data/finsight.db"),

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data/blobs"),
		BlobSigningKey:  getEnv("BLOB_SIGNING_KEY", "dev-blob-signing-key"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),
		MinIOEndpoint:   getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:  getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:  getEnv("MINIO_SECRET_KEY", ""),
		MinIOBucket:     getEnv("MINIO_BUCKET", ""),
		MinIOUseSSL:     getEnvBool("MINIO_USE_SSL", false),

		IdentityProvider: strings.ToLower(getEnv("IDENTITY_PROVIDER", "jwt")),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTIssuer:        getEnv("JWT_ISSUER", "finsight"),

		LLMProvider:     strings.ToLower(getEnv("LLM_PROVIDER", "claude")),
		LLMModel:        getEnv("LLM_MODEL", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		LLMTimeout:      getEnvDuration("LLM_TIMEOUT", 60*time.Second),

		Sandbox: SandboxConfig{
			Mode:              normalizeSandboxMode(getEnv("SANDBOX_MODE", "process")),
			Binary:            getEnv("SANDBOX_BINARY", ""),
			Timeout:           getEnvDuration("SANDBOX_TIMEOUT", 30*time.Second),
			MemoryMB:          getEnvInt("SANDBOX_MEMORY_MB", 256),
			CPUSeconds:        getEnvInt("SANDBOX_CPU_SECONDS", 30),
			MaxOutputBytes:    getEnvInt("SANDBOX_MAX_OUTPUT_BYTES", 1<<20),
			MaxVisualizations: getEnvInt("SANDBOX_MAX_VISUALIZATIONS", 20),
			MaxInsights:       getEnvInt("SANDBOX_MAX_INSIGHTS", 20),
		},

		EnrichMaxTokens: getEnvInt("ENRICH_MAX_TOKENS", 12000),

		QueueBackend:      strings.ToLower(getEnv("QUEUE_BACKEND", "local")),
		SQSQueueURL:       getEnv("SQS_QUEUE_URL", ""),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),

		OTelExporter:    strings.ToLower(getEnv("OTEL_EXPORTER", "none")),
		OTelEndpoint:    getEnv("OTEL_ENDPOINT", ""),
		OTelServiceName: getEnv("OTEL_SERVICE_NAME", "finsight-backend"),

		RateLimitSubmitPerMin: getEnvInt("RATE_LIMIT_SUBMIT_PER_MIN", 20),
	}
}

// IsDevLike reports whether env allows in-memory fallbacks.
func IsDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config: %s invalid int %q, using %d", key, raw, def)
		return def
	}
	return val
}

func getEnvBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return val
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("config: %s invalid duration %q, using %s", key, raw, def)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "test":
		return "test"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	case "minio":
		return "minio"
	default:
		return "local"
	}
}

func normalizeDocStore(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "pg":
		return "postgres"
	case "sqlite":
		return "sqlite"
	case "memory":
		return "memory"
	default:
		return ""
	}
}

func normalizeSandboxMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "inprocess", "in-process":
		return "inprocess"
	default:
		return "process"
	}
}
