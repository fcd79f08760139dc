package config

import (
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"
)

// Dedup strategies. StrategyFile hashes the merged object end-to-end;
// StrategyChunk additionally records a per-chunk hash during ingest.
const (
	StrategyFile  = "file"
	StrategyChunk = "chunk"
)

// Config is one immutable snapshot of the runtime configuration. Components
// never mutate it; Provider.Reload swaps the whole snapshot atomically.
type Config struct {
	JWTSecret string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPass     string
	DBName     string
	DBNameTest string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	MinioHost     string
	MinioPort     string
	MinioUsername string
	MinioPassword string
	MinioUseSSL   bool
	BucketName    string

	RabbitMQURL      string
	RabbitMQPrefetch int

	// Upload policy.
	MaxFileSize       int64
	UserQuota         int64
	AllowedExtensions []string
	ChunkSize         int64
	SessionTimeout    time.Duration
	ChunkRetryMax     int
	ChunkRetryDelay   time.Duration
	DedupStrategy     string

	// Admission control; zero or negative disables the bound.
	MaxConcurrentUploads int

	ReaperInterval time.Duration

	CleanupWorkerConcurrency int
	CleanupRetryMax          int
	CleanupRetryDelays       []time.Duration

	UploadRate  float64
	UploadBurst int
}

// AllowAllTypes reports whether the extension allow-list is disabled.
func (c *Config) AllowAllTypes() bool {
	for _, ext := range c.AllowedExtensions {
		if ext == "*" {
			return true
		}
	}
	return len(c.AllowedExtensions) == 0
}

// ExtensionAllowed checks a file name against the allow-list.
func (c *Config) ExtensionAllowed(fileName string) bool {
	if c.AllowAllTypes() {
		return true
	}
	idx := strings.LastIndex(fileName, ".")
	if idx < 0 || idx == len(fileName)-1 {
		return false
	}
	ext := strings.ToLower(fileName[idx+1:])
	for _, allowed := range c.AllowedExtensions {
		if strings.ToLower(strings.TrimPrefix(allowed, ".")) == ext {
			return true
		}
	}
	return false
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("JWT_SECRET", "l=ax+b")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "3306")
	v.SetDefault("DB_USER", "root")
	v.SetDefault("DB_PASS", "root")
	v.SetDefault("DB_NAME", "chunk_vault")
	v.SetDefault("DB_NAME_TEST", "chunk_vault_test")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("MINIO_HOST", "localhost")
	v.SetDefault("MINIO_PORT", "9000")
	v.SetDefault("MINIO_USERNAME", "minioadmin")
	v.SetDefault("MINIO_PASSWORD", "minioadmin")
	v.SetDefault("MINIO_USE_SSL", false)
	v.SetDefault("BUCKET_NAME", "chunkvault")
	v.SetDefault("RABBITMQ_HOST", "localhost")
	v.SetDefault("RABBITMQ_PORT", "5672")
	v.SetDefault("RABBITMQ_USER", "guest")
	v.SetDefault("RABBITMQ_PASSWORD", "guest")
	v.SetDefault("RABBITMQ_VHOST", "/")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("RABBITMQ_PREFETCH", 8)
	v.SetDefault("UPLOAD_MAX_FILE_SIZE", int64(10)<<30)
	v.SetDefault("UPLOAD_USER_QUOTA", int64(100)<<30)
	v.SetDefault("UPLOAD_ALLOWED_EXTENSIONS", "*")
	v.SetDefault("UPLOAD_CHUNK_SIZE", int64(4)<<20)
	v.SetDefault("UPLOAD_SESSION_TIMEOUT", 24*time.Hour)
	v.SetDefault("UPLOAD_CHUNK_RETRY_MAX", 3)
	v.SetDefault("UPLOAD_CHUNK_RETRY_DELAY", 500*time.Millisecond)
	v.SetDefault("UPLOAD_DEDUP_STRATEGY", StrategyFile)
	v.SetDefault("UPLOAD_MAX_CONCURRENT", 64)
	v.SetDefault("REAPER_INTERVAL", 10*time.Minute)
	v.SetDefault("CLEANUP_WORKER_CONCURRENCY", 4)
	v.SetDefault("CLEANUP_RETRY_MAX", 5)
	v.SetDefault("CLEANUP_RETRY_DELAYS", "10s,30s,2m,10m,30m")
	v.SetDefault("UPLOAD_RATE", float64(0))
	v.SetDefault("UPLOAD_BURST", 16)

	return v
}

func parseDurationList(raw string, defaultValue []time.Duration) []time.Duration {
	parts := strings.Split(raw, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		parsed, err := time.ParseDuration(part)
		if err != nil {
			return defaultValue
		}
		out = append(out, parsed)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func parseExtensionList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// Load builds a configuration snapshot from the environment.
func Load() *Config {
	v := newViper()

	rabbitURL := v.GetString("RABBITMQ_URL")
	if rabbitURL == "" {
		rabbitURL = fmt.Sprintf(
			"amqp://%s:%s@%s:%s/%s",
			url.PathEscape(v.GetString("RABBITMQ_USER")),
			url.PathEscape(v.GetString("RABBITMQ_PASSWORD")),
			v.GetString("RABBITMQ_HOST"),
			v.GetString("RABBITMQ_PORT"),
			url.PathEscape(v.GetString("RABBITMQ_VHOST")),
		)
	}

	cfg := &Config{
		JWTSecret:                v.GetString("JWT_SECRET"),
		DBHost:                   v.GetString("DB_HOST"),
		DBPort:                   v.GetString("DB_PORT"),
		DBUser:                   v.GetString("DB_USER"),
		DBPass:                   v.GetString("DB_PASS"),
		DBName:                   v.GetString("DB_NAME"),
		DBNameTest:               v.GetString("DB_NAME_TEST"),
		RedisHost:                v.GetString("REDIS_HOST"),
		RedisPort:                v.GetString("REDIS_PORT"),
		RedisPassword:            v.GetString("REDIS_PASSWORD"),
		RedisDB:                  v.GetInt("REDIS_DB"),
		MinioHost:                v.GetString("MINIO_HOST"),
		MinioPort:                v.GetString("MINIO_PORT"),
		MinioUsername:            v.GetString("MINIO_USERNAME"),
		MinioPassword:            v.GetString("MINIO_PASSWORD"),
		MinioUseSSL:              v.GetBool("MINIO_USE_SSL"),
		BucketName:               v.GetString("BUCKET_NAME"),
		RabbitMQURL:              rabbitURL,
		RabbitMQPrefetch:         v.GetInt("RABBITMQ_PREFETCH"),
		MaxFileSize:              v.GetInt64("UPLOAD_MAX_FILE_SIZE"),
		UserQuota:                v.GetInt64("UPLOAD_USER_QUOTA"),
		AllowedExtensions:        parseExtensionList(v.GetString("UPLOAD_ALLOWED_EXTENSIONS")),
		ChunkSize:                v.GetInt64("UPLOAD_CHUNK_SIZE"),
		SessionTimeout:           v.GetDuration("UPLOAD_SESSION_TIMEOUT"),
		ChunkRetryMax:            v.GetInt("UPLOAD_CHUNK_RETRY_MAX"),
		ChunkRetryDelay:          v.GetDuration("UPLOAD_CHUNK_RETRY_DELAY"),
		DedupStrategy:            v.GetString("UPLOAD_DEDUP_STRATEGY"),
		MaxConcurrentUploads:     v.GetInt("UPLOAD_MAX_CONCURRENT"),
		ReaperInterval:           v.GetDuration("REAPER_INTERVAL"),
		CleanupWorkerConcurrency: v.GetInt("CLEANUP_WORKER_CONCURRENCY"),
		CleanupRetryMax:          v.GetInt("CLEANUP_RETRY_MAX"),
		CleanupRetryDelays: parseDurationList(
			v.GetString("CLEANUP_RETRY_DELAYS"),
			[]time.Duration{10 * time.Second, 30 * time.Second, 2 * time.Minute, 10 * time.Minute, 30 * time.Minute},
		),
		UploadRate:  v.GetFloat64("UPLOAD_RATE"),
		UploadBurst: v.GetInt("UPLOAD_BURST"),
	}
	if cfg.DedupStrategy != StrategyChunk {
		cfg.DedupStrategy = StrategyFile
	}
	return cfg
}

// Provider hands out the current configuration snapshot. Reload swaps the
// snapshot wholesale so readers never observe a half-updated config.
type Provider struct {
	current atomic.Pointer[Config]
}

// NewProvider creates a provider seeded with the given snapshot.
func NewProvider(cfg *Config) *Provider {
	p := &Provider{}
	p.current.Store(cfg)
	return p
}

// Snapshot returns the current immutable configuration.
func (p *Provider) Snapshot() *Config {
	return p.current.Load()
}

// Reload re-reads the environment and atomically installs the new snapshot.
func (p *Provider) Reload() *Config {
	cfg := Load()
	p.current.Store(cfg)
	return cfg
}

// Swap installs a prepared snapshot. Used by tests and admin tooling.
func (p *Provider) Swap(cfg *Config) {
	p.current.Store(cfg)
}
