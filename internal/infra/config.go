package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	StorageDriverFile  = "file"
	StorageDriverMinio = "minio"
)

// ProviderEndpoint is the URL and bearer token of one generation run endpoint.
// Either may be empty; executors report that as a configuration error when the
// job first needs the endpoint.
type ProviderEndpoint struct {
	URL   string
	Token string
}

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	StoreDriver      string
	JWTSecret        string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string

	WorkerVersion             int
	WorkerPollInterval        time.Duration
	ReferenceImageConcurrency int
	RequestTimeout            time.Duration
	VideoRequestTimeout       time.Duration
	// MaxReplyBytes caps one provider reply body, MaxDownloadBytes one
	// fetched binary.
	MaxReplyBytes    int64
	MaxDownloadBytes int64

	OutlineAPI        ProviderEndpoint
	StoryboardTextAPI ProviderEndpoint
	ScriptBodyAPI     ProviderEndpoint
	VideoAPI          ProviderEndpoint
	ImageAPI          ProviderEndpoint

	StorageDriver  string
	StoragePath    string
	StorageBaseURL string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	SignedURLTTL   time.Duration

	RedisURL string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             port,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:      splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),

		WorkerVersion:             getEnvInt("WORKER_VERSION", 1),
		WorkerPollInterval:        time.Second * time.Duration(getEnvInt("WORKER_POLL_INTERVAL_SECONDS", 5)),
		ReferenceImageConcurrency: getEnvInt("REFERENCE_IMAGE_CONCURRENCY", 3),
		RequestTimeout:            time.Millisecond * time.Duration(getEnvInt("REQUEST_TIMEOUT_MS", 60000)),
		VideoRequestTimeout:       time.Millisecond * time.Duration(getEnvInt("VIDEO_REQUEST_TIMEOUT_MS", 120000)),
		MaxReplyBytes:             int64(getEnvInt("PROVIDER_MAX_REPLY_MB", 16)) << 20,
		MaxDownloadBytes:          int64(getEnvInt("MAX_DOWNLOAD_MB", 512)) << 20,

		OutlineAPI:        endpointFromEnv("OUTLINE_API_URL", "OUTLINE_API_TOKEN"),
		StoryboardTextAPI: endpointFromEnv("CREATE_STORYBOARD_TEXT_URL", "CREATE_STORYBOARD_TEXT_TOKEN"),
		ScriptBodyAPI:     endpointFromEnv("SHORT_DRAMA_SCRIPT_BODY_API_URL", "SHORT_DRAMA_SCRIPT_BODY_API_TOKEN"),
		VideoAPI:          endpointFromEnv("VIDEO_GENERATE_API_URL", "VIDEO_GENERATE_API_TOKEN"),
		ImageAPI:          endpointFromEnv("IMAGE_GENERATE_API_URL", "IMAGE_GENERATE_API_TOKEN"),

		StorageDriver:  strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverFile)),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "generated"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		SignedURLTTL:   time.Second * time.Duration(getEnvInt("SIGNED_URL_TTL_SECONDS", 86400)),

		RedisURL: os.Getenv("REDIS_URL"),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER %q is not supported", cfg.StoreDriver)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	switch cfg.StorageDriver {
	case StorageDriverFile:
	case StorageDriverMinio:
		if cfg.MinioEndpoint == "" {
			return nil, fmt.Errorf("MINIO_ENDPOINT is required when STORAGE_DRIVER=minio")
		}
	default:
		return nil, fmt.Errorf("STORAGE_DRIVER %q is not supported", cfg.StorageDriver)
	}

	if cfg.ReferenceImageConcurrency < 1 {
		cfg.ReferenceImageConcurrency = 1
	}
	if cfg.MaxReplyBytes <= 0 {
		return nil, fmt.Errorf("PROVIDER_MAX_REPLY_MB must be positive")
	}
	if cfg.MaxDownloadBytes <= 0 {
		return nil, fmt.Errorf("MAX_DOWNLOAD_MB must be positive")
	}

	return cfg, nil
}

func endpointFromEnv(urlKey, tokenKey string) ProviderEndpoint {
	return ProviderEndpoint{
		URL:   strings.TrimSpace(os.Getenv(urlKey)),
		Token: strings.TrimSpace(os.Getenv(tokenKey)),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
