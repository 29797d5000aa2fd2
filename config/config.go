package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// This function will Load the ENVIORNMENT VARIABLES from .env if GO_ENV variable is not set
func LoadENV() error {
	goEnv := os.Getenv("GO_ENV")

	if goEnv == "" || goEnv == "development" {
		err := godotenv.Load()
		if err != nil {
			return err
		}
	}

	return nil
}

type EnviornmentVariable struct {
	GO_ENV       string
	DB_USER_NAME string
	DB_PASSWORD  string
	DB_NAME      string
	DB_HOST      string
	DB_PORT      string
	DB_SSL_MODE  string
	PORT         int
	// Redis Configuration
	REDIS_URL string
	// AWS Configuration
	AWS_REGION            string
	AWS_ACCESS_KEY_ID     string
	AWS_SECRET_ACCESS_KEY string
	AWS_ENDPOINT          string
	BUCKET_NAME           string
	// Queues and topics
	UPLOAD_QUEUE_URL      string
	OCR_QUEUE_URL         string
	EXTRACTION_QUEUE_URL  string
	DEAD_LETTER_QUEUE_URL string
	SYNC_QUEUE_URL        string
	SYNC_TOPIC_ARN        string
	// Knowledge base / Bedrock
	BEDROCK_MODEL_ID  string
	KNOWLEDGE_BASE_ID string
	DATA_SOURCE_ID    string
	// OpenAI-compatible inference (LLM_PROVIDER=openai)
	LLM_PROVIDER       string
	INFERENCE_BASE_URL string
	INFERENCE_API_KEY  string
	INFERENCE_MODEL    string
	// Pipeline tuning
	OCR_PROVIDER       string
	PAGES_PER_CHUNK    int
	WORKER_POOL_SIZE   int
	MAX_RECEIVE_COUNT  int
	VISIBILITY_TIMEOUT time.Duration
	OCR_POLL_DEADLINE  time.Duration
	BATCH_STALE_AFTER  time.Duration
	CRON_ENABLED       bool
	EMBED_WORKERS      bool
	DELETE_CONCURRENCY int
	OCR_CHUNK_PARALLEL int
}

func Get() (*EnviornmentVariable, error) {

	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err != nil {
		port = 8080
	}

	// Database defaults
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}

	dbPort := os.Getenv("DB_PORT")
	if dbPort == "" {
		dbPort = "5432"
	}

	envVariables := &EnviornmentVariable{
		GO_ENV:       os.Getenv("GO_ENV"),
		DB_USER_NAME: os.Getenv("DB_USER_NAME"),
		DB_PASSWORD:  os.Getenv("DB_PASSWORD"),
		DB_NAME:      os.Getenv("DB_NAME"),
		DB_HOST:      dbHost,
		DB_PORT:      dbPort,
		DB_SSL_MODE:  getString("DB_SSL_MODE", "disable"),
		PORT:         port,
		// Redis
		REDIS_URL: os.Getenv("REDIS_URL"),
		// AWS
		AWS_REGION:            getString("AWS_REGION", "us-east-1"),
		AWS_ACCESS_KEY_ID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		AWS_SECRET_ACCESS_KEY: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		AWS_ENDPOINT:          os.Getenv("AWS_ENDPOINT"),
		BUCKET_NAME:           os.Getenv("BUCKET_NAME"),
		// Queues
		UPLOAD_QUEUE_URL:      os.Getenv("UPLOAD_QUEUE_URL"),
		OCR_QUEUE_URL:         os.Getenv("OCR_QUEUE_URL"),
		EXTRACTION_QUEUE_URL:  os.Getenv("EXTRACTION_QUEUE_URL"),
		DEAD_LETTER_QUEUE_URL: os.Getenv("DEAD_LETTER_QUEUE_URL"),
		SYNC_QUEUE_URL:        os.Getenv("SYNC_QUEUE_URL"),
		SYNC_TOPIC_ARN:        os.Getenv("SYNC_TOPIC_ARN"),
		// Bedrock
		BEDROCK_MODEL_ID:  getString("BEDROCK_MODEL_ID", "anthropic.claude-3-sonnet-20240229-v1:0"),
		KNOWLEDGE_BASE_ID: os.Getenv("KNOWLEDGE_BASE_ID"),
		DATA_SOURCE_ID:    os.Getenv("DATA_SOURCE_ID"),
		// Inference
		LLM_PROVIDER:       getString("LLM_PROVIDER", "bedrock"),
		INFERENCE_BASE_URL: os.Getenv("INFERENCE_BASE_URL"),
		INFERENCE_API_KEY:  os.Getenv("INFERENCE_API_KEY"),
		INFERENCE_MODEL:    os.Getenv("INFERENCE_MODEL"),
		// Pipeline
		OCR_PROVIDER:       getString("OCR_PROVIDER", "textract"),
		PAGES_PER_CHUNK:    getInt("PAGES_PER_CHUNK", 2),
		WORKER_POOL_SIZE:   getInt("WORKER_POOL_SIZE", 8),
		MAX_RECEIVE_COUNT:  getInt("MAX_RECEIVE_COUNT", 5),
		VISIBILITY_TIMEOUT: getDuration("VISIBILITY_TIMEOUT", 300*time.Second),
		OCR_POLL_DEADLINE:  getDuration("OCR_POLL_DEADLINE", 4*time.Minute),
		BATCH_STALE_AFTER:  getDuration("BATCH_STALE_AFTER", 2*time.Hour),
		CRON_ENABLED:       os.Getenv("CRON_ENABLED") != "false", // Default to enabled
		EMBED_WORKERS:      os.Getenv("EMBED_WORKERS") == "true",
		DELETE_CONCURRENCY: getInt("DELETE_CONCURRENCY", 8),
		OCR_CHUNK_PARALLEL: getInt("OCR_CHUNK_PARALLEL", 4),
	}

	return envVariables, nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// getDuration accepts Go duration strings ("90s") or plain seconds ("90").
func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
