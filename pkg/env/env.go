package env

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// minContextTokenBytes matches the smallest budget the call context codec
// accepts.
const minContextTokenBytes = 256

type Config struct {
	AppEnv  string
	AppPort string
	TZ      string

	// Public URL the telephony provider uses to reach the webhooks
	PublicBaseURL string

	JWTSecret    string
	JWTIssuer    string
	AccessTTLMin int

	// Optional stores; empty disables the feature that needs them
	RedisURL string
	MongoURI string
	DBName   string

	// Dialog engine
	PersonasFile         string
	TransferNumber       string
	TransferTimeoutSec   int
	GatherTimeoutSec     int
	SpeechTimeoutSec     int
	ContextTokenMaxBytes int
	MaxTurns             int
	HistoryWindow        int
	GenerationTimeoutMs  int
	TurnBudgetMs         int
	SayVoice             string

	// Generation providers, tried in this order
	AnthropicApiKey    string
	AnthropicModel     string
	AnthropicMaxTokens int
	AnthropicBaseURL   string

	OpenAIApiKey    string
	OpenAIModel     string
	OpenAIMaxTokens int
	OpenAIBaseURL   string

	GeminiApiKey    string
	GeminiModel     string
	GeminiMaxTokens int

	TwilioAccountSID        string
	TwilioAuthToken         string
	TwilioFromNumber        string
	TwilioValidateSignature bool
	RingTimeoutSec          int

	SummaryWebhookToken string

	APIRateLimitRPM int

	LogLevel           string
	CORSAllowedOrigins string

	OTELEndpoint string
	OTELEnabled  bool
}

func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// A missing file is fine; production sets variables directly.
		if err := godotenv.Load(envFile); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		AppEnv:  getEnv("APP_ENV", "development"),
		AppPort: getEnv("APP_PORT", "8080"),
		TZ:      getEnv("TZ", "America/Chicago"),

		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		JWTSecret:    getEnv("JWT_SECRET", ""),
		JWTIssuer:    getEnv("JWT_ISSUER", "phonehub"),
		AccessTTLMin: getEnvInt("ACCESS_TTL_MIN", 60),

		RedisURL: getEnv("REDIS_URL", ""),
		MongoURI: getEnv("MONGO_URI", ""),
		DBName:   getEnv("DB_NAME", "phonehub"),

		PersonasFile:         getEnv("PERSONAS_FILE", ""),
		TransferNumber:       getEnv("TRANSFER_NUMBER", "+15551234567"),
		TransferTimeoutSec:   getEnvInt("TRANSFER_TIMEOUT_SEC", 30),
		GatherTimeoutSec:     getEnvInt("GATHER_TIMEOUT_SEC", 10),
		SpeechTimeoutSec:     getEnvInt("SPEECH_TIMEOUT_SEC", 3),
		ContextTokenMaxBytes: getEnvInt("CONTEXT_TOKEN_MAX_BYTES", 1800),
		MaxTurns:             getEnvInt("MAX_TURNS", 30),
		HistoryWindow:        getEnvInt("HISTORY_WINDOW", 3),
		GenerationTimeoutMs:  getEnvInt("GENERATION_TIMEOUT_MS", 6000),
		TurnBudgetMs:         getEnvInt("TURN_BUDGET_MS", 12000),
		SayVoice:             getEnv("SAY_VOICE", "Polly.Joanna"),

		AnthropicApiKey:    getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:     getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
		AnthropicMaxTokens: getEnvInt("ANTHROPIC_MAX_TOKENS", 300),
		AnthropicBaseURL:   getEnv("ANTHROPIC_BASE_URL", ""),

		OpenAIApiKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIMaxTokens: getEnvInt("OPENAI_MAX_TOKENS", 300),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),

		GeminiApiKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiMaxTokens: getEnvInt("GEMINI_MAX_TOKENS", 300),

		TwilioAccountSID:        getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:         getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:        getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioValidateSignature: getEnvBool("TWILIO_VALIDATE_SIGNATURE", true),
		RingTimeoutSec:          getEnvInt("RING_TIMEOUT_SEC", 30),

		SummaryWebhookToken: getEnv("SUMMARY_WEBHOOK_TOKEN", ""),

		APIRateLimitRPM: getEnvInt("API_RATE_LIMIT_RPM", 60),

		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),

		OTELEndpoint: getEnv("OTEL_ENDPOINT", ""),
		OTELEnabled:  getEnvBool("OTEL_ENABLED", false),
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("required environment variable JWT_SECRET is not set")
	}
	if cfg.ContextTokenMaxBytes < minContextTokenBytes {
		return nil, fmt.Errorf("CONTEXT_TOKEN_MAX_BYTES must be at least %d, got %d", minContextTokenBytes, cfg.ContextTokenMaxBytes)
	}

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", cfg.TZ, err)
	}
	time.Local = loc

	return cfg, nil
}

// GenerationTimeout is the per-attempt bound on a generation call.
func (c *Config) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutMs) * time.Millisecond
}

// TurnBudget is the overall bound on one turn webhook, retries included.
func (c *Config) TurnBudget() time.Duration {
	return time.Duration(c.TurnBudgetMs) * time.Millisecond
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(strValue)
	if err != nil {
		return defaultValue
	}
	return value
}
