package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	AWS        AWSConfig
	Monitor    MonitorConfig
	Corpus     CorpusConfig
	Classifier ClassifierConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	ShutdownTimeout    int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
}

// DatabaseConfig holds PostgreSQL connection settings. An empty URL keeps
// summaries in memory.
type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MaxConnLifetime int // minutes
}

// Enabled reports whether a database is configured.
func (c DatabaseConfig) Enabled() bool { return c.URL != "" }

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

// JWTConfig holds operator token settings. Required gates the control
// surface and push channel behind a bearer token.
type JWTConfig struct {
	Secret      string
	ExpireHours int
	Required    bool
}

// AWSConfig holds AWS credentials and the session archive bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ExportsBucket        string
	PresignExpireMinutes int
}

// Enabled reports whether session archives should be exported.
func (c AWSConfig) Enabled() bool { return c.ExportsBucket != "" }

// MonitorConfig paces sessions and the push channel.
type MonitorConfig struct {
	EpochIntervalMs      int
	RecordedIntervalMs   int
	MaxSyntheticEpochs   int
	ApneaScale           float64
	Seed                 uint64
	SampleRate           int
	ClassifyTimeoutMs    int
	HeartbeatIntervalSec int
	HeartbeatTimeoutSec  int
	SendBuffer           int
	LiveTTLSec           int
}

// EpochInterval is the synthetic tick period.
func (c MonitorConfig) EpochInterval() time.Duration {
	return time.Duration(c.EpochIntervalMs) * time.Millisecond
}

// RecordedInterval is the replay tick period.
func (c MonitorConfig) RecordedInterval() time.Duration {
	return time.Duration(c.RecordedIntervalMs) * time.Millisecond
}

// ClassifyTimeout bounds one classifier call.
func (c MonitorConfig) ClassifyTimeout() time.Duration {
	return time.Duration(c.ClassifyTimeoutMs) * time.Millisecond
}

// CorpusConfig locates recorded subjects in the NSRR layout
// (<root>/edfs, <root>/annotations-events-nsrr) or through a YAML manifest.
type CorpusConfig struct {
	Root          string
	EDFDir        string
	AnnotationDir string
	Manifest      string
	MaxSubjects   int
}

// ClassifierConfig points at a remote stage classifier. An empty Addr uses
// the reference labels carried by each window.
type ClassifierConfig struct {
	Addr      string
	TimeoutMs int
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	corpusRoot := getEnv("CORPUS_ROOT", "")
	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			ShutdownTimeout:    getEnvInt("SHUTDOWN_TIMEOUT_SEC", 15),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvInt("DB_MAX_CONNS", 10),
			MaxConnLifetime: getEnvInt("DB_MAX_CONN_LIFETIME_MIN", 30),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Enabled:  getEnvBool("REDIS_ENABLED", false),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
			Required:    getEnvBool("JWT_REQUIRED", false),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ExportsBucket:        getEnv("AWS_S3_EXPORTS_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Monitor: MonitorConfig{
			EpochIntervalMs:      getEnvInt("EPOCH_INTERVAL_MS", 2000),
			RecordedIntervalMs:   getEnvInt("RECORDED_INTERVAL_MS", 2000),
			MaxSyntheticEpochs:   getEnvInt("MAX_SYNTHETIC_EPOCHS", 200),
			ApneaScale:           getEnvFloat("APNEA_SCALE", 1),
			Seed:                 uint64(getEnvInt("SYNTHETIC_SEED", 0)),
			SampleRate:           getEnvInt("SAMPLE_RATE_HZ", 128),
			ClassifyTimeoutMs:    getEnvInt("CLASSIFY_TIMEOUT_MS", 1000),
			HeartbeatIntervalSec: getEnvInt("HEARTBEAT_INTERVAL_SEC", 30),
			HeartbeatTimeoutSec:  getEnvInt("HEARTBEAT_TIMEOUT_SEC", 60),
			SendBuffer:           getEnvInt("WS_SEND_BUFFER", 64),
			LiveTTLSec:           getEnvInt("LIVE_TTL_SEC", 300),
		},
		Corpus: CorpusConfig{
			Root:          corpusRoot,
			EDFDir:        getEnv("CORPUS_EDF_DIR", joinIf(corpusRoot, "edfs")),
			AnnotationDir: getEnv("CORPUS_ANNOTATION_DIR", joinIf(corpusRoot, "annotations-events-nsrr")),
			Manifest:      getEnv("CORPUS_MANIFEST", ""),
			MaxSubjects:   getEnvInt("CORPUS_MAX_SUBJECTS", 10),
		},
		Classifier: ClassifierConfig{
			Addr:      getEnv("CLASSIFIER_ADDR", ""),
			TimeoutMs: getEnvInt("CLASSIFIER_TIMEOUT_MS", 1000),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Monitor.EpochIntervalMs <= 0 || c.Monitor.RecordedIntervalMs <= 0 {
		return fmt.Errorf("epoch intervals must be positive")
	}
	if c.Monitor.HeartbeatTimeoutSec <= c.Monitor.HeartbeatIntervalSec {
		return fmt.Errorf("HEARTBEAT_TIMEOUT_SEC (%d) must exceed HEARTBEAT_INTERVAL_SEC (%d)",
			c.Monitor.HeartbeatTimeoutSec, c.Monitor.HeartbeatIntervalSec)
	}
	if c.Monitor.ApneaScale < 0 {
		return fmt.Errorf("APNEA_SCALE must not be negative")
	}
	if c.JWT.Required && c.JWT.Secret == "" {
		return fmt.Errorf("JWT_REQUIRED set without JWT_SECRET")
	}
	return nil
}

func joinIf(root, dir string) string {
	if root == "" {
		return ""
	}
	return filepath.Join(root, dir)
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
