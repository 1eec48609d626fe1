package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisPrefix     string
	PendingQueue    string
	ProcessingQueue string
	WorkerCount     int
	HeartbeatTTL    time.Duration
	RecoveryEvery   time.Duration

	DBDriver    string
	DatabaseURL string
	SQLitePath  string

	StorageDriver  string
	UploadDir      string
	OutputDir      string
	WorkDir        string
	S3Bucket       string
	S3Region       string
	AWSS3AccessKey string
	AWSS3SecretKey string
	S3Endpoint     string
	S3UsePathStyle bool

	GotenbergURL string

	TTSBaseURL      string
	TTSAPIKey       string
	TTSModel        string
	TTSDefaultVoice string
	TTSTimeout      time.Duration
	TTSHealthCheck  bool

	ChunkMaxChars      int
	OCRMinCharsPerPage int
	OCRDPI             float64
	OCRLanguage        string
	TesseractPath      string
	FFmpegPath         string
	AudioBitrate       string

	ConversionTimeout int
	ActiveJobsLimit   int

	LogLevel  string
	LogFormat string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first when present; real environment
// variables win over it.
func Load() *Config {
	_ = godotenv.Load()

	redisPrefix := getEnv("REDIS_PREFIX", "")

	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8000"),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_CONVERSION_DB", 3),
		RedisPrefix:   redisPrefix,
		PendingQueue:  applyPrefix(getEnv("CONVERSION_PENDING_QUEUE", "conversion:pending"), redisPrefix),
		ProcessingQueue: applyPrefix(
			getEnv("CONVERSION_PROCESSING_QUEUE", "conversion:processing"),
			redisPrefix,
		),
		WorkerCount:   getEnvInt("CONVERSION_WORKER_COUNT", 3),
		HeartbeatTTL:  getEnvDuration("WORKER_HEARTBEAT_TTL", 30*time.Second),
		RecoveryEvery: getEnvDuration("RECOVERY_INTERVAL", time.Minute),

		DBDriver:    getEnv("DB_DRIVER", "postgres"),
		DatabaseURL: postgresDSN(),
		SQLitePath:  getEnv("SQLITE_PATH", "voynich.db"),

		StorageDriver: getEnv("STORAGE_DRIVER", "local"),
		UploadDir:     getEnv("UPLOAD_DIR", "uploads"),
		OutputDir:     getEnv("OUTPUT_DIR", "outputs"),
		WorkDir:       getEnv("WORK_DIR", os.TempDir()),
		S3Bucket:      getEnv("AWS_BUCKET", "voynich"),
		// Prefer unified S3_* vars, fall back to legacy AWS_* vars for compatibility
		S3Region:       getEnvWithFallback("S3_REGION", "AWS_DEFAULT_REGION", "us-east-1"),
		AWSS3AccessKey: getEnvWithFallback("S3_KEY", "AWS_ACCESS_KEY_ID", ""),
		AWSS3SecretKey: getEnvWithFallback("S3_SECRET", "AWS_SECRET_ACCESS_KEY", ""),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3UsePathStyle: getEnvBool("S3_USE_PATH_STYLE_ENDPOINT", false),

		GotenbergURL: getEnv("GOTENBERG_URL", "http://gotenberg:3000"),

		TTSBaseURL:      getEnv("TTS_BASE_URL", "https://api.openai.com/v1"),
		TTSAPIKey:       getEnv("TTS_API_KEY", ""),
		TTSModel:        getEnv("TTS_MODEL", "tts-1"),
		TTSDefaultVoice: getEnv("TTS_DEFAULT_VOICE", "alloy"),
		TTSTimeout:      getEnvDuration("TTS_TIMEOUT", 2*time.Minute),
		TTSHealthCheck:  getEnvBool("TTS_HEALTH_CHECK", false),

		ChunkMaxChars:      getEnvInt("CHUNK_MAX_CHARS", 500),
		OCRMinCharsPerPage: getEnvInt("OCR_MIN_CHARS_PER_PAGE", 50),
		OCRDPI:             getEnvFloat("OCR_DPI", 300),
		OCRLanguage:        getEnv("OCR_LANGUAGE", "eng"),
		TesseractPath:      getEnv("TESSERACT_PATH", "tesseract"),
		FFmpegPath:         getEnv("FFMPEG_PATH", "ffmpeg"),
		AudioBitrate:       getEnv("AUDIO_BITRATE", "128k"),

		ConversionTimeout: getEnvInt("CONVERSION_TIMEOUT", 3600),
		ActiveJobsLimit:   getEnvInt("ACTIVE_JOBS_LIMIT", 50),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// UsesS3 reports whether documents and outputs live in the S3 bucket.
func (c *Config) UsesS3() bool {
	return strings.EqualFold(c.StorageDriver, "s3")
}

// DataSource returns the driver name and DSN for database/sql.
func (c *Config) DataSource() (string, string) {
	if c.DBDriver == "sqlite3" || c.DBDriver == "sqlite" {
		return "sqlite3", c.SQLitePath
	}
	return "postgres", c.DatabaseURL
}

func postgresDSN() string {
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_DATABASE", "voynich")
	dbUser := getEnv("DB_USERNAME", "voynich")
	dbPassword := getEnv("DB_PASSWORD", "")
	dbSSLMode := getEnv("DB_SSLMODE", "disable")
	dbSSLCert := getEnv("DB_SSLCERT", "")
	dbSSLKey := getEnv("DB_SSLKEY", "")
	dbSSLRootCert := getEnv("DB_SSLROOTCERT", "")

	// lib/pq supports "key=value" connection strings and this avoids
	// URI escaping issues for special characters in passwords.
	var dbURL string
	if dbPassword != "" {
		dbURL = fmt.Sprintf(
			"host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
			dbHost, dbPort, dbName, dbUser, dbPassword, dbSSLMode,
		)
	} else {
		dbURL = fmt.Sprintf(
			"host=%s port=%s dbname=%s user=%s sslmode=%s",
			dbHost, dbPort, dbName, dbUser, dbSSLMode,
		)
	}

	if dbSSLCert != "" {
		dbURL += fmt.Sprintf(" sslcert=%s", dbSSLCert)
	}
	if dbSSLKey != "" {
		dbURL += fmt.Sprintf(" sslkey=%s", dbSSLKey)
	}
	if dbSSLRootCert != "" {
		dbURL += fmt.Sprintf(" sslrootcert=%s", dbSSLRootCert)
	}

	return dbURL
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvWithFallback(primaryKey, secondaryKey, fallback string) string {
	if value := os.Getenv(primaryKey); value != "" {
		return value
	}
	if value := os.Getenv(secondaryKey); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func applyPrefix(key string, prefix string) string {
	if prefix == "" {
		return key
	}
	return prefix + key
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
