package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL      string   `mapstructure:"REDIS_URL"`
	AuthIssuer    string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL   string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience  string   `mapstructure:"AUTH_AUDIENCE"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	MigrationsDir string   `mapstructure:"MIGRATIONS_DIR"`
	StorageDir    string   `mapstructure:"STORAGE_DIR"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	// Outbound collaborators. Empty keys switch the platform to mock
	// senders so development works offline.
	AIBaseURL   string `mapstructure:"AI_BASE_URL"`
	AIAPIKey    string `mapstructure:"AI_API_KEY"`
	AIModel     string `mapstructure:"AI_MODEL"`
	EmailAPIURL string `mapstructure:"EMAIL_API_URL"`
	EmailAPIKey string `mapstructure:"EMAIL_API_KEY"`
	EmailFrom   string `mapstructure:"EMAIL_FROM"`
	VoiceAPIURL string `mapstructure:"VOICE_API_URL"`
	VoiceAPIKey string `mapstructure:"VOICE_API_KEY"`
	VoicePhone  string `mapstructure:"VOICE_PHONE_NUMBER_ID"`
	VoiceAgent  string `mapstructure:"VOICE_ASSISTANT_ID"`

	ClinicName string `mapstructure:"CLINIC_NAME"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("STORAGE_DIR", "data/uploads")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("AI_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("AI_MODEL", "gpt-4o")
	v.SetDefault("CLINIC_NAME", "BacklineMD")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"REDIS_URL", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE",
		"DEFAULT_TENANT", "MIGRATIONS_DIR", "STORAGE_DIR", "CORS_ORIGINS",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"AI_BASE_URL", "AI_API_KEY", "AI_MODEL",
		"EMAIL_API_URL", "EMAIL_API_KEY", "EMAIL_FROM",
		"VOICE_API_URL", "VOICE_API_KEY", "VOICE_PHONE_NUMBER_ID", "VOICE_ASSISTANT_ID",
		"CLINIC_NAME",
	} {
		v.BindEnv(key)
	}

	// Try reading .env, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active; all requests get admin access.")
		log.Println("WARNING: set ENV=production and configure AUTH_ISSUER before deploying.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate refuses configurations that would run without authentication
// outside development.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf(
			"AUTH_ISSUER or AUTH_JWKS_URL must be set when ENV=%q; refusing to start without authentication", c.Env)
	}
	if c.IsProduction() && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required in production")
	}
	return nil
}
