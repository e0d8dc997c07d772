package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	RecognitionBaseURL string
	RecognitionAPIKey  string
	RecognitionTimeout time.Duration
	RetryAttempts      int

	ScoringBaseURL string
	ScoringAPIKey  string

	PipelineConcurrency int
	PipelineGroupDelay  time.Duration

	JobRetention     time.Duration
	JobSweepInterval time.Duration

	MaxUploadBytes int64

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:              getEnv("APP_ENV", "development"),
		Port:                getEnv("PORT", "8080"),
		RecognitionBaseURL:  os.Getenv("RECOGNITION_BASE_URL"),
		RecognitionAPIKey:   os.Getenv("RECOGNITION_API_KEY"),
		RecognitionTimeout:  time.Second * time.Duration(getEnvInt("RECOGNITION_TIMEOUT_SECONDS", 60)),
		RetryAttempts:       getEnvInt("RECOGNITION_RETRY_ATTEMPTS", 3),
		ScoringBaseURL:      os.Getenv("SCORING_BASE_URL"),
		ScoringAPIKey:       os.Getenv("SCORING_API_KEY"),
		PipelineConcurrency: getEnvInt("PIPELINE_CONCURRENCY", 3),
		PipelineGroupDelay:  time.Millisecond * time.Duration(getEnvInt("PIPELINE_GROUP_DELAY_MS", 1000)),
		JobRetention:        time.Minute * time.Duration(getEnvInt("JOB_RETENTION_MINUTES", 30)),
		JobSweepInterval:    time.Minute * time.Duration(getEnvInt("JOB_SWEEP_INTERVAL_MINUTES", 5)),
		MaxUploadBytes:      int64(getEnvInt("MAX_UPLOAD_MB", 50)) << 20,
		HTTPReadTimeout:     time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 60)),
		HTTPWriteTimeout:    time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:     time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:     getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:      splitCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	if cfg.RecognitionBaseURL == "" {
		return nil, fmt.Errorf("RECOGNITION_BASE_URL is required")
	}

	if cfg.PipelineConcurrency < 1 {
		return nil, fmt.Errorf("PIPELINE_CONCURRENCY must be at least 1")
	}

	if cfg.RetryAttempts < 1 {
		return nil, fmt.Errorf("RECOGNITION_RETRY_ATTEMPTS must be at least 1")
	}

	return cfg, nil
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

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
