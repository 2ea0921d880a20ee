package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Agent    AgentConfig
	Trust    TrustConfig
	Security SecurityConfig
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
	// APIKey protects the trace inspection and admin surfaces.
	APIKey string //nolint:gosec // G117: admin API key config
}

// AgentConfig holds execution-loop settings.
type AgentConfig struct {
	Model         string
	GeminiAPIKey  string //nolint:gosec // G117: provider credential config
	MaxIterations int
	HistoryTurns  int
	CallTimeout   time.Duration
}

// TrustConfig holds anonymous-client trust settings.
type TrustConfig struct {
	RateLimitEnabled     bool
	RateLimitRPM         int
	RateLimitRPH         int
	FingerprintThreshold float64
	FingerprintStrict    bool
}

// SecurityConfig holds at-rest encryption settings.
type SecurityConfig struct {
	// EncryptionKey is a base64-encoded 32-byte key for the at-rest codec.
	EncryptionKey string //nolint:gosec // G117: encryption key config
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("GLASSBOX_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("GLASSBOX_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("GLASSBOX_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("GLASSBOX_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("GLASSBOX_SERVER_WRITE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxIterations, err := getEnvInt("GLASSBOX_AGENT_MAX_ITERATIONS", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	historyTurns, err := getEnvInt("GLASSBOX_AGENT_HISTORY_TURNS", 5)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	callTimeout, err := getEnvDuration("GLASSBOX_AGENT_CALL_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateLimitEnabled, err := getEnvBool("GLASSBOX_RATE_LIMIT_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateLimitRPM, err := getEnvInt("GLASSBOX_RATE_LIMIT_RPM", 60)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateLimitRPH, err := getEnvInt("GLASSBOX_RATE_LIMIT_RPH", 1000)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	fpThreshold, err := getEnvFloat("GLASSBOX_FINGERPRINT_THRESHOLD", 0.7)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	fpStrict, err := getEnvBool("GLASSBOX_FINGERPRINT_STRICT", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("GLASSBOX_CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("GLASSBOX_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("GLASSBOX_DB_USER", "glassbox"),
			Password: getEnv("GLASSBOX_DB_PASSWORD", ""),
			DBName:   getEnv("GLASSBOX_DB_NAME", "glassbox_dev"),
			SSLMode:  getEnv("GLASSBOX_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("GLASSBOX_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("GLASSBOX_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Server: ServerConfig{
			Addr:         getEnv("GLASSBOX_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  corsOrigins,
			APIKey:       getEnv("GLASSBOX_API_KEY", ""),
		},
		Agent: AgentConfig{
			Model:         getEnv("GLASSBOX_LLM_MODEL", "gemini-2.0-flash"),
			GeminiAPIKey:  getEnv("GLASSBOX_GEMINI_API_KEY", ""),
			MaxIterations: maxIterations,
			HistoryTurns:  historyTurns,
			CallTimeout:   callTimeout,
		},
		Trust: TrustConfig{
			RateLimitEnabled:     rateLimitEnabled,
			RateLimitRPM:         rateLimitRPM,
			RateLimitRPH:         rateLimitRPH,
			FingerprintThreshold: fpThreshold,
			FingerprintStrict:    fpStrict,
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("GLASSBOX_ENCRYPTION_KEY", ""),
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.Security.EncryptionKey == "" {
		return errors.New("GLASSBOX_ENCRYPTION_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(c.Security.EncryptionKey)
	if err != nil {
		return fmt.Errorf("GLASSBOX_ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("GLASSBOX_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}

	if c.Server.APIKey == "" {
		return errors.New("GLASSBOX_API_KEY is required")
	}

	if c.Database.SSLMode == "disable" {
		log.Warn().Msg("GLASSBOX_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("GLASSBOX_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("GLASSBOX_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("GLASSBOX_AGENT_MAX_ITERATIONS must be >= 1, got %d", c.Agent.MaxIterations)
	}
	if c.Agent.HistoryTurns < 0 {
		return fmt.Errorf("GLASSBOX_AGENT_HISTORY_TURNS must be >= 0, got %d", c.Agent.HistoryTurns)
	}
	if c.Agent.CallTimeout <= 0 {
		return fmt.Errorf("GLASSBOX_AGENT_CALL_TIMEOUT must be positive, got %s", c.Agent.CallTimeout)
	}
	if c.Trust.RateLimitRPM < 1 {
		return fmt.Errorf("GLASSBOX_RATE_LIMIT_RPM must be >= 1, got %d", c.Trust.RateLimitRPM)
	}
	if c.Trust.RateLimitRPH < 1 {
		return fmt.Errorf("GLASSBOX_RATE_LIMIT_RPH must be >= 1, got %d", c.Trust.RateLimitRPH)
	}
	if c.Trust.FingerprintThreshold < 0 || c.Trust.FingerprintThreshold > 1 {
		return fmt.Errorf("GLASSBOX_FINGERPRINT_THRESHOLD must be in [0,1], got %g", c.Trust.FingerprintThreshold)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("GLASSBOX_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("GLASSBOX_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// EncryptionKeyBytes returns the decoded at-rest encryption key.
// Load has already validated the encoding and length.
func (c *SecurityConfig) EncryptionKeyBytes() []byte {
	key, _ := base64.StdEncoding.DecodeString(c.EncryptionKey)
	return key
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
