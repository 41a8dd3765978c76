package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL        string
	HTTPAddr           string
	ShutdownTimeout    int // seconds
	DrainSchedule      string
	WatchRenewSchedule string

	WorkerBudget      int // seconds
	StaleLockTimeout  int // seconds
	MinQueryInterval  int // seconds
	DefaultRetryAfter int // seconds

	GmailClientID     string
	GmailClientSecret string
	GmailPubSubTopic  string

	PubSubProjectID    string
	PubSubSubscription string // Pull mode is enabled when set
	CredentialsFile    string
	WebhookToken       string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	BlobBucket        string
	BlobPublicBaseURL string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		DatabaseURL:        dbURL,
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		ShutdownTimeout:    30,
		DrainSchedule:      getEnv("DRAIN_SCHEDULE", "@every 1m"),
		WatchRenewSchedule: getEnv("WATCH_RENEW_SCHEDULE", "0 3 * * *"),
		GmailClientID:      os.Getenv("GMAIL_CLIENT_ID"),
		GmailClientSecret:  os.Getenv("GMAIL_CLIENT_SECRET"),
		GmailPubSubTopic:   os.Getenv("GMAIL_PUBSUB_TOPIC"),
		PubSubProjectID:    os.Getenv("PUBSUB_PROJECT_ID"),
		PubSubSubscription: os.Getenv("PUBSUB_SUBSCRIPTION"),
		CredentialsFile:    os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		WebhookToken:       os.Getenv("WEBHOOK_TOKEN"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:      os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o"),
		BlobBucket:         os.Getenv("BLOB_BUCKET"),
		BlobPublicBaseURL:  os.Getenv("BLOB_PUBLIC_BASE_URL"),
	}

	ints := []struct {
		key    string
		target *int
		def    int
	}{
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout, 30},
		{"WORKER_BUDGET_SECONDS", &cfg.WorkerBudget, 50},
		{"STALE_LOCK_SECONDS", &cfg.StaleLockTimeout, 300},
		{"MIN_QUERY_INTERVAL_SECONDS", &cfg.MinQueryInterval, 60},
		{"DEFAULT_RETRY_AFTER_SECONDS", &cfg.DefaultRetryAfter, 60},
	}
	for _, v := range ints {
		n, err := getEnvInt(v.key, v.def)
		if err != nil {
			return nil, err
		}
		*v.target = n
	}

	if cfg.GmailClientID == "" || cfg.GmailClientSecret == "" {
		fmt.Println("Warning: GMAIL_CLIENT_ID or GMAIL_CLIENT_SECRET not set, Gmail API will not work")
	}
	if cfg.GmailPubSubTopic == "" {
		fmt.Println("Warning: GMAIL_PUBSUB_TOPIC not set, mailbox watches cannot be renewed")
	}
	if cfg.OpenAIAPIKey == "" {
		fmt.Println("Warning: OPENAI_API_KEY not set, invoices will get the fallback classification")
	}
	if cfg.BlobBucket == "" {
		return nil, fmt.Errorf("BLOB_BUCKET is required")
	}
	if cfg.PubSubSubscription != "" && cfg.PubSubProjectID == "" {
		return nil, fmt.Errorf("PUBSUB_PROJECT_ID is required when PUBSUB_SUBSCRIPTION is set")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}
