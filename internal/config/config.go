package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Workflow  WorkflowConfig
	Streaming StreamingConfig
	Inference InferenceConfig
	Exporter  ExporterConfig
}

type AppConfig struct {
	Port               string
	BaseURL            string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
}

type DatabaseConfig struct {
	Connection string
}

type WorkflowConfig struct {
	ValidationTimeoutSec int // per-gate budget for external collaborator calls
	SuggestionThreshold  int // confidence at/above which a decision is mandatory
	MaxDispatchAttempts  int
	DispatchBackoffSec   int
}

type StreamingConfig struct {
	ReplayWindow   int // retained events per (session, channel)
	GracePeriodSec int // cursor retention after disconnect
}

type InferenceConfig struct {
	BaseURL string
	Model   string
}

type ExporterConfig struct {
	EHRBaseURL     string
	BillingBaseURL string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			BaseURL:            getEnv("APP_BASE_URL", "http://localhost:3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "app.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Workflow: WorkflowConfig{
			ValidationTimeoutSec: getEnvAsInt("WORKFLOW_VALIDATION_TIMEOUT_SEC", 10),
			SuggestionThreshold:  getEnvAsInt("WORKFLOW_SUGGESTION_THRESHOLD", 90),
			MaxDispatchAttempts:  getEnvAsInt("WORKFLOW_MAX_DISPATCH_ATTEMPTS", 3),
			DispatchBackoffSec:   getEnvAsInt("WORKFLOW_DISPATCH_BACKOFF_SEC", 5),
		},
		Streaming: StreamingConfig{
			ReplayWindow:   getEnvAsInt("STREAM_REPLAY_WINDOW", 500),
			GracePeriodSec: getEnvAsInt("STREAM_GRACE_PERIOD_SEC", 60),
		},
		Inference: InferenceConfig{
			BaseURL: getEnv("INFERENCE_BASE_URL", "http://localhost:11434"),
			Model:   getEnv("INFERENCE_MODEL", "clinical-coder"),
		},
		Exporter: ExporterConfig{
			EHRBaseURL:     getEnv("EHR_EXPORT_BASE_URL", ""),
			BillingBaseURL: getEnv("BILLING_EXPORT_BASE_URL", ""),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}
