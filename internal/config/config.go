package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// ErrInvalid marks malformed or missing configuration
var ErrInvalid = errors.New("invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the full process configuration
type Config struct {
	Server ServerConfig
	AI     *AIConfig
	Survey SurveyConfig
}

// ServerConfig holds transport and storage settings for cmd/server
type ServerConfig struct {
	Port         string
	MongoURI     string
	MongoDB      string
	RedisURI     string
	KafkaBrokers []string
	KafkaTopic   string
	LogLevel     string
	OTLPEndpoint string
	OTLPProtocol string
	OTLPInsecure bool
	RunHistory   int
	Auth         AuthConfig
	CORS         CORSConfig
}

// CORSConfig holds the cross-origin headers sent by the REST API
type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

// AuthConfig holds the single operator account and token signing settings
type AuthConfig struct {
	Username  string
	Password  string
	JWTSecret string
	TokenTTL  time.Duration
}

// SurveyConfig holds the options recognized for a survey run
type SurveyConfig struct {
	PersonaCount      int           `json:"personaCount" validate:"min=1,max=10000"`
	ConcurrencyLimit  int           `json:"concurrencyLimit" validate:"min=1,max=256"`
	ModelName         string        `json:"modelName" validate:"required"`
	MaxTokens         int           `json:"maxTokens" validate:"min=1,max=32768"`
	SearchEnabled     bool          `json:"searchEnabled"`
	SearchMaxResults  int           `json:"searchMaxResults" validate:"min=1,max=25"`
	SearchConcurrency int           `json:"searchConcurrency" validate:"min=1,max=512"`
	SearchTimeout     time.Duration `json:"searchTimeout" validate:"gt=0"`
	SearchSummarize   bool          `json:"searchSummarize"`
	RetryLimit        int           `json:"retryLimit" validate:"min=1,max=10"`
	RetryBackoffBase  time.Duration `json:"retryBackoffBase" validate:"gte=0"`
	RetryBackoffMax   time.Duration `json:"retryBackoffMax" validate:"gte=0"`
	GracePeriod       time.Duration `json:"gracePeriod" validate:"gte=0"`
	Seed              *int64        `json:"seed,omitempty"`
	DistributionsFile string        `json:"distributionsFile,omitempty"`
}

// Load reads .env (if present) and the process environment
func Load() (*Config, error) {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	ai := DefaultAIConfig()
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvOrDefault("PORT", "8080"),
			MongoURI:     os.Getenv("MONGO_URI"),
			MongoDB:      getEnvOrDefault("MONGO_DB", "social_listening"),
			RedisURI:     os.Getenv("REDIS_URI"),
			KafkaBrokers: getEnvList("KAFKA_BROKERS"),
			KafkaTopic:   getEnvOrDefault("KAFKA_TOPIC", "survey-runs"),
			LogLevel:     getEnvOrDefault("LOG_LEVEL", "info"),
			OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			OTLPProtocol: getEnvOrDefault("OTEL_EXPORTER_OTLP_PROTOCOL", "http"),
			OTLPInsecure: getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			RunHistory:   getEnvInt("RUN_HISTORY", 50),
			Auth: AuthConfig{
				Username:  getEnvOrDefault("OPERATOR_USERNAME", "admin"),
				Password:  getEnvOrDefault("OPERATOR_PASSWORD", "password123"),
				JWTSecret: getEnvOrDefault("JWT_SECRET", "super-secret-key-change-in-production"),
				TokenTTL:  getEnvDuration("JWT_TTL", 24*time.Hour),
			},
			CORS: CORSConfig{
				AllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"),
				AllowedMethods: getEnvOrDefault("CORS_ALLOWED_METHODS", "GET, POST, OPTIONS"),
				AllowedHeaders: getEnvOrDefault("CORS_ALLOWED_HEADERS", "Content-Type, Authorization"),
			},
		},
		AI:     ai,
		Survey: DefaultSurveyConfig(ai),
	}

	if err := cfg.Survey.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultSurveyConfig returns the survey options resolved from the environment
func DefaultSurveyConfig(ai *AIConfig) SurveyConfig {
	cfg := SurveyConfig{
		PersonaCount:      getEnvInt("PERSONA_COUNT", 100),
		ConcurrencyLimit:  getEnvInt("CONCURRENCY_LIMIT", 10),
		ModelName:         ai.Model,
		MaxTokens:         ai.MaxTokens,
		SearchEnabled:     getEnvBool("SEARCH_ENABLED", true),
		SearchMaxResults:  getEnvInt("SEARCH_MAX_RESULTS", 5),
		SearchConcurrency: getEnvInt("SEARCH_CONCURRENCY", 32),
		SearchTimeout:     getEnvDuration("SEARCH_TIMEOUT", 3*time.Second),
		SearchSummarize:   getEnvBool("SEARCH_SUMMARIZE", false),
		RetryLimit:        getEnvInt("RETRY_LIMIT", 3),
		RetryBackoffBase:  getEnvDuration("RETRY_BACKOFF_BASE", 500*time.Millisecond),
		RetryBackoffMax:   getEnvDuration("RETRY_BACKOFF_MAX", 10*time.Second),
		GracePeriod:       getEnvDuration("RUN_GRACE_PERIOD", 5*time.Second),
		DistributionsFile: os.Getenv("PERSONA_DISTRIBUTIONS_FILE"),
	}
	if v := os.Getenv("PERSONA_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Seed = &seed
		}
	}
	return cfg
}

// Validate checks every option against its allowed range
func (c SurveyConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return describeValidation(err)
	}
	return nil
}

// ValidateStruct checks any struct carrying validate tags
func ValidateStruct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return describeValidation(err)
	}
	return nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
