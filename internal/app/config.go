package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr           string
	MongoURI           string
	MongoDatabase      string
	LogLevel           string
	LogFormat          string
	CORSAllowedOrigins []string

	CookieSecure bool

	PublicSeedDuration  time.Duration
	PrivateSeedDuration time.Duration
	AutoPauseSeeding    bool
	MaintenanceInterval time.Duration
	StatusRetentionDays int
	MaxStatusGap        time.Duration

	PollIdleInterval   time.Duration
	PollActiveInterval time.Duration

	FanoutTimeout time.Duration

	TransferMaxConcurrent int
	TransferMaxRetries    int

	FFMPEGPath       string
	FFProbePath      string
	StreamScratchDir string
	StreamIdle       time.Duration
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		MongoURI:           getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:      getEnv("MONGO_DB", "torrentgate"),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		CORSAllowedOrigins: splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),

		CookieSecure: getEnvBool("COOKIE_SECURE", true),

		PublicSeedDuration:  getEnvSeconds("PUBLIC_SEED_DURATION", 24*3600),
		PrivateSeedDuration: getEnvSeconds("PRIVATE_SEED_DURATION", 7*24*3600),
		AutoPauseSeeding:    getEnvBool("AUTO_PAUSE_SEEDING", false),
		MaintenanceInterval: getEnvSeconds("MAINTENANCE_INTERVAL_SECONDS", 300),
		StatusRetentionDays: int(getEnvInt64("STATUS_RETENTION_DAYS", 30)),
		MaxStatusGap:        getEnvSeconds("MAX_STATUS_GAP_SECONDS", 300),

		PollIdleInterval:   getEnvSeconds("POLL_IDLE_INTERVAL_SECONDS", 60),
		PollActiveInterval: getEnvSeconds("POLL_ACTIVE_INTERVAL_SECONDS", 15),

		FanoutTimeout: getEnvSeconds("FANOUT_TIMEOUT_SECONDS", 10),

		TransferMaxConcurrent: int(getEnvInt64("TRANSFER_MAX_CONCURRENT", 2)),
		TransferMaxRetries:    int(getEnvInt64("TRANSFER_MAX_RETRIES", 3)),

		FFMPEGPath:       getEnv("FFMPEG_PATH", "ffmpeg"),
		FFProbePath:      getEnv("FFPROBE_PATH", "ffprobe"),
		StreamScratchDir: getEnv("STREAM_SCRATCH_DIR", ""),
		StreamIdle:       getEnvSeconds("STREAM_IDLE_SECONDS", 600),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvSeconds(key string, fallback int64) time.Duration {
	return time.Duration(getEnvInt64(key, fallback)) * time.Second
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "":
		return fallback
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func splitCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
