package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries everything the binaries read from the environment.
// Load .env first (godotenv) in main, then call FromEnv.
type Config struct {
	// Object store
	Bucket    string
	AWSRegion string

	// Workflow scheduler (Airflow REST API)
	AirflowBaseURL  string
	AirflowUser     string
	AirflowPassword string
	AdhocDagID      string
	BatchDagID      string
	TranscribeTask  string

	// OpenAI
	OpenAIKey       string
	OpenAIBaseURL   string
	ChatModel       string
	TranscribeModel string

	// HTTP server
	Port string

	// Interactive poll loop
	PollInitialDelay time.Duration
	PollInterval     time.Duration

	// Presigned playback URLs
	SignedURLTTL time.Duration
}

func FromEnv() (*Config, error) {
	c := &Config{
		Bucket:    os.Getenv("S3_BUCKET_NAME"),
		AWSRegion: envOr("AWS_REGION", "us-east-1"),

		AirflowBaseURL:  os.Getenv("AIRFLOW_BASE_URL"),
		AirflowUser:     os.Getenv("AIRFLOW_USER"),
		AirflowPassword: os.Getenv("AIRFLOW_PASSWORD"),
		AdhocDagID:      envOr("ADHOC_DAG_ID", "transcribe_dag"),
		BatchDagID:      envOr("BATCH_DAG_ID", "transcribe_all_audio_daily"),
		TranscribeTask:  envOr("TRANSCRIBE_TASK_ID", "transcribe_and_upload_s3"),

		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:   envOr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		ChatModel:       envOr("CHAT_MODEL", "gpt-3.5-turbo"),
		TranscribeModel: envOr("TRANSCRIBE_MODEL", "whisper-1"),

		Port: envOr("PORT", "8080"),

		PollInitialDelay: envDurationOr("POLL_INITIAL_DELAY_SEC", 5) * time.Second,
		PollInterval:     envDurationOr("POLL_INTERVAL_SEC", 10) * time.Second,

		SignedURLTTL: envDurationOr("SIGNED_URL_TTL_SEC", 3600) * time.Second,
	}
	if c.Bucket == "" {
		return nil, fmt.Errorf("config: S3_BUCKET_NAME not set")
	}
	return c, nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envDurationOr(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n)
		}
	}
	return time.Duration(def)
}
