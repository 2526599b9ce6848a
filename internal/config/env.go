package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	StorageLocal = "local"
	StorageS3    = "s3"

	EventsMemory = "memory"
	EventsRedis  = "redis"
)

type Config struct {
	Port string

	DBDriver      string
	MongoURI      string
	MongoDatabase string
	DatabaseURL   string

	JWTSecret string
	JWTTTL    time.Duration

	StorageBackend string
	UploadDir      string
	AwsAccessKey   string
	AwsSecretKey   string
	AwsRegion      string
	BucketName     string
	FileMaxAge     time.Duration

	RedisURL      string
	TextCacheTTL  time.Duration
	EventsBackend string

	InferenceURL       string
	ModelEndpointsFile string
	InferenceTimeout   time.Duration
	DefaultModel       string
	GeminiAPIKey       string
	MaxContextChars    int

	CORSOrigins []string
	LogLevel    string
	LogFormat   string
}

// LoadConfig loads the environment variables and returns the config.
// envFiles are optional dotenv files; a missing .env is not an error.
func LoadConfig(envFiles ...string) *Config {

	_ = godotenv.Load(envFiles...)

	cfg := &Config{
		Port: getEnv("PORT", "5000"),

		DBDriver:      strings.ToLower(getEnv("DB_DRIVER", DriverMongo)),
		MongoURI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGODB_DATABASE", "lawgpt"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTTTL:    getEnvDuration("JWT_TTL", time.Hour),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", StorageLocal)),
		UploadDir:      getEnv("UPLOAD_DIR", "./uploads"),
		AwsAccessKey:   getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:   getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:      getEnv("AWS_REGION", "us-east-2"),
		BucketName:     getEnv("BUCKET_NAME", "lawgpt-uploads"),
		FileMaxAge:     getEnvDuration("FILE_MAX_AGE", 30*24*time.Hour),

		RedisURL:      getEnv("REDIS_URL", ""),
		TextCacheTTL:  getEnvDuration("TEXT_CACHE_TTL", 24*time.Hour),
		EventsBackend: strings.ToLower(getEnv("EVENTS_BACKEND", EventsMemory)),

		InferenceURL:       getEnv("INFERENCE_URL", ""),
		ModelEndpointsFile: getEnv("MODEL_ENDPOINTS_FILE", ""),
		InferenceTimeout:   getEnvDuration("INFERENCE_TIMEOUT", 60*time.Second),
		DefaultModel:       getEnv("DEFAULT_MODEL", "LAWGPT-4"),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		MaxContextChars:    getEnvInt("MAX_CONTEXT_CHARS", 20000),

		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "console"),
	}

	return cfg
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverMongo:
		if c.MongoURI == "" {
			return errors.New("MONGODB_URI not set")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL not set")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}

	if c.JWTSecret == "" && c.DBDriver != DriverMemory {
		return errors.New("JWT_SECRET not set")
	}

	switch c.StorageBackend {
	case StorageLocal:
		if c.UploadDir == "" {
			return errors.New("UPLOAD_DIR not set")
		}
	case StorageS3:
		if c.AwsAccessKey == "" || c.AwsSecretKey == "" {
			return errors.New("AWS credentials not set")
		}
		if c.BucketName == "" {
			return errors.New("BUCKET_NAME not set")
		}
	default:
		return errors.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	switch c.EventsBackend {
	case EventsMemory:
	case EventsRedis:
		if c.RedisURL == "" {
			return errors.New("EVENTS_BACKEND=redis needs REDIS_URL")
		}
	default:
		return errors.Errorf("unknown EVENTS_BACKEND %q", c.EventsBackend)
	}

	if c.MaxContextChars <= 0 {
		return errors.New("MAX_CONTEXT_CHARS must be positive")
	}
	return nil
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Int("default", def).Msg("not an int, using default")
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Dur("default", def).Msg("not a duration, using default")
		return def
	}
	return d
}

func getEnvList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
