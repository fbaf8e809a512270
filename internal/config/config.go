package config

import (
	"os"
	"strconv"
	"strings"
)

// Storage backends selectable through STORE_DRIVER.
const (
	StoreSQLite = "sqlite"
	StoreDynamo = "dynamo"
	StoreMemory = "memory"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort  string
	AppEnv   string
	LogLevel string

	BotToken            string
	TelegramWorkers     int
	TelegramPollTimeout int // seconds

	StoreDriver    string
	SQLitePath     string
	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables

	KeysFile  string // optional bootstrap list: .yaml/.yml or one key per line
	KeysS3URI string // optional bootstrap list at s3://bucket/object; wins over KeysFile

	SMTPHost     string // empty disables receipt e-mails
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	SNSRegion   string
	SNSTopicARN string // empty disables pool alerts

	AllowedOrigins []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Keys        string
	Registrants string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:  getEnv("APP_PORT", "3000"),
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		BotToken:            getEnv("BOT_TOKEN", ""),
		TelegramWorkers:     getEnvInt("TELEGRAM_WORKERS", 8),
		TelegramPollTimeout: getEnvInt("TELEGRAM_POLL_TIMEOUT", 60),

		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", StoreSQLite)),
		SQLitePath:     getEnv("SQLITE_PATH", "airdrop.db"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Keys:        getEnv("DYNAMO_TABLE_KEYS", "airdrop_keys"),
			Registrants: getEnv("DYNAMO_TABLE_REGISTRANTS", "airdrop_registrants"),
		},

		KeysFile:  getEnv("KEYS_FILE", ""),
		KeysS3URI: getEnv("KEYS_S3_URI", ""),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "1025"),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		SNSRegion:   getEnv("SNS_REGION", "us-east-1"),
		SNSTopicARN: getEnv("SNS_TOPIC_ARN", ""),

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
