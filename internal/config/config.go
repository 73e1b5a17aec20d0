package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppName  string `mapstructure:"APP_NAME"`
	Env      string `mapstructure:"ENV"`
	Port     string `mapstructure:"PORT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "json" or "console".
	LogFormat string `mapstructure:"LOG_FORMAT"`

	StoreDriver    string `mapstructure:"STORE_DRIVER"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	DBMaxConns     int    `mapstructure:"DB_MAX_CONNS"`
	MigrationsPath string `mapstructure:"MIGRATIONS_PATH"`
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int    `mapstructure:"REDIS_DB"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`

	AIAPIKey            string        `mapstructure:"AI_API_KEY"`
	AIBaseURL           string        `mapstructure:"AI_BASE_URL"`
	AIDefaultBaseURL    string        `mapstructure:"AI_DEFAULT_BASE_URL"`
	AIPremiumModel      string        `mapstructure:"AI_PREMIUM_MODEL"`
	AIDefaultModel      string        `mapstructure:"AI_DEFAULT_MODEL"`
	AIUsePremium        bool          `mapstructure:"AI_USE_PREMIUM"`
	AITurnTimeout       time.Duration `mapstructure:"AI_TURN_TIMEOUT"`
	AISynthesisTimeout  time.Duration `mapstructure:"AI_SYNTHESIS_TIMEOUT"`
	AIRateLimitRPS      float64       `mapstructure:"AI_RATE_LIMIT_RPS"`
	AIRateLimitBurst    int           `mapstructure:"AI_RATE_LIMIT_BURST"`
	AIBreakerFailures   uint32        `mapstructure:"AI_BREAKER_FAILURES"`
	AIBreakerCooldown   time.Duration `mapstructure:"AI_BREAKER_COOLDOWN"`
	MinSynthesisMessage int           `mapstructure:"MIN_SYNTHESIS_MESSAGES"`

	TelegramBotToken string   `mapstructure:"TELEGRAM_BOT_TOKEN"`
	DoctorChatID     int64    `mapstructure:"DOCTOR_CHAT_ID"`
	ReportFontPaths  []string `mapstructure:"REPORT_FONT_PATHS"`

	PaymentSuccessRate float64       `mapstructure:"PAYMENT_SUCCESS_RATE"`
	PaymentDelay       time.Duration `mapstructure:"PAYMENT_DELAY"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	TracingEnabled    bool    `mapstructure:"TRACING_ENABLED"`
	TracingEndpoint   string  `mapstructure:"TRACING_ENDPOINT"`
	TracingSampleRate float64 `mapstructure:"TRACING_SAMPLE_RATE"`
}

var defaults = map[string]any{
	"APP_NAME":               "medicia",
	"ENV":                    "development",
	"PORT":                   "8080",
	"LOG_LEVEL":              "info",
	"LOG_FORMAT":             "json",
	"STORE_DRIVER":           "memory",
	"DATABASE_URL":           "",
	"DB_MAX_CONNS":           20,
	"MIGRATIONS_PATH":        "file://migrations",
	"REDIS_ADDR":             "localhost:6379",
	"REDIS_PASSWORD":         "",
	"REDIS_DB":               0,
	"REDIS_KEY_PREFIX":       "medicia",
	"AI_API_KEY":             "",
	"AI_BASE_URL":            "https://api.openai.com/v1",
	"AI_DEFAULT_BASE_URL":    "http://localhost:11434/v1",
	"AI_PREMIUM_MODEL":       "gpt-4o",
	"AI_DEFAULT_MODEL":       "llama3.1",
	"AI_USE_PREMIUM":         true,
	"AI_TURN_TIMEOUT":        "60s",
	"AI_SYNTHESIS_TIMEOUT":   "120s",
	"AI_RATE_LIMIT_RPS":      2.0,
	"AI_RATE_LIMIT_BURST":    4,
	"AI_BREAKER_FAILURES":    5,
	"AI_BREAKER_COOLDOWN":    "30s",
	"MIN_SYNTHESIS_MESSAGES": 4,
	"TELEGRAM_BOT_TOKEN":     "",
	"DOCTOR_CHAT_ID":         0,
	"REPORT_FONT_PATHS": []string{
		"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
		"/usr/share/fonts/dejavu/DejaVuSans.ttf",
		"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	},
	"PAYMENT_SUCCESS_RATE": 0.9,
	"PAYMENT_DELAY":        "3s",
	"CORS_ORIGINS":         []string{"http://localhost:3000"},
	"TRACING_ENABLED":      false,
	"TRACING_ENDPOINT":     "localhost:4318",
	"TRACING_SAMPLE_RATE":  0.1,
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// PremiumAvailable reports whether the premium model can actually be used.
func (c *Config) PremiumAvailable() bool {
	return c.AIUsePremium && c.AIAPIKey != ""
}

func validate(cfg *Config) error {
	var errs []string

	switch cfg.StoreDriver {
	case "memory":
	case "postgres":
		if cfg.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case "redis":
		if cfg.RedisAddr == "" {
			errs = append(errs, "REDIS_ADDR is required when STORE_DRIVER=redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORE_DRIVER %q is not one of memory, postgres, redis", cfg.StoreDriver))
	}

	if cfg.MinSynthesisMessage < 4 {
		errs = append(errs, "MIN_SYNTHESIS_MESSAGES must be at least 4")
	}
	if cfg.PaymentSuccessRate < 0 || cfg.PaymentSuccessRate > 1 {
		errs = append(errs, "PAYMENT_SUCCESS_RATE must be between 0 and 1")
	}
	if cfg.AITurnTimeout <= 0 || cfg.AISynthesisTimeout <= 0 {
		errs = append(errs, "AI_TURN_TIMEOUT and AI_SYNTHESIS_TIMEOUT must be positive")
	}
	if cfg.TelegramBotToken != "" && cfg.DoctorChatID == 0 {
		errs = append(errs, "DOCTOR_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
