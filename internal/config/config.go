// Package config assembles runtime settings from defaults, an optional
// YAML file and environment variables, in that order.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/clipscribe/backend/internal/chunk"
	"github.com/clipscribe/backend/internal/transcribe"
)

type Config struct {
	Port          int
	DataPath      string
	DBPath        string
	JWTSecret     string
	AdminUsername string
	AdminPassword string
	CORSOrigins   []string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string
	OpenAIAPIKey  string

	ChunkMaxBytes   uint64
	InlineMaxBytes  uint64
	PollInterval    time.Duration
	PollMaxAttempts int
	CallTimeout     time.Duration

	MaxUploadBytes int64
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Println("[config] loaded environment from .env")
	}

	cfg := &Config{
		Port:            8080,
		DataPath:        "/data",
		AdminUsername:   "admin",
		AdminPassword:   "admin",
		CORSOrigins:     []string{"*"},
		ChunkMaxBytes:   chunk.DefaultMaxUnitBytes,
		InlineMaxBytes:  transcribe.DefaultInlineMaxBytes,
		PollInterval:    transcribe.DefaultPollInterval,
		PollMaxAttempts: transcribe.DefaultPollMaxAttempts,
		CallTimeout:     transcribe.DefaultCallTimeout,
		MaxUploadBytes:  2 << 30,
	}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if cfg.DBPath == "" {
		cfg.DBPath = cfg.DataPath + "/clipscribe.db"
	}

	// JWT secret: require explicit setting or generate random
	if cfg.JWTSecret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			log.Fatalf("Failed to generate random JWT secret: %v", err)
		}
		cfg.JWTSecret = hex.EncodeToString(b)
		log.Println("WARNING: JWT_SECRET not set, using random secret. Sessions will not survive restarts. Set JWT_SECRET env var for persistent sessions.")
	}

	return cfg, nil
}

// Transcribe returns the pipeline tuning carried by this config.
func (c *Config) Transcribe() transcribe.Config {
	return transcribe.Config{
		MaxUnitBytes:    c.ChunkMaxBytes,
		InlineMaxBytes:  c.InlineMaxBytes,
		PollInterval:    c.PollInterval,
		PollMaxAttempts: c.PollMaxAttempts,
		CallTimeout:     c.CallTimeout,
	}
}

type fileConfig struct {
	Port            int      `yaml:"port"`
	DataPath        string   `yaml:"data_path"`
	DBPath          string   `yaml:"db_path"`
	JWTSecret       string   `yaml:"jwt_secret"`
	AdminUsername   string   `yaml:"admin_username"`
	AdminPassword   string   `yaml:"admin_password"`
	CORSOrigins     []string `yaml:"cors_origins"`
	GeminiAPIKey    string   `yaml:"gemini_api_key"`
	GeminiModel     string   `yaml:"gemini_model"`
	GeminiBaseURL   string   `yaml:"gemini_base_url"`
	OpenAIAPIKey    string   `yaml:"openai_api_key"`
	ChunkMaxBytes   uint64   `yaml:"chunk_max_bytes"`
	InlineMaxBytes  uint64   `yaml:"inline_max_bytes"`
	PollInterval    string   `yaml:"poll_interval"`
	PollMaxAttempts int      `yaml:"poll_max_attempts"`
	CallTimeout     string   `yaml:"call_timeout"`
	MaxUploadBytes  int64    `yaml:"max_upload_bytes"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Port != 0 {
		c.Port = fc.Port
	}
	if fc.DataPath != "" {
		c.DataPath = fc.DataPath
	}
	if fc.DBPath != "" {
		c.DBPath = fc.DBPath
	}
	if fc.JWTSecret != "" {
		c.JWTSecret = fc.JWTSecret
	}
	if fc.AdminUsername != "" {
		c.AdminUsername = fc.AdminUsername
	}
	if fc.AdminPassword != "" {
		c.AdminPassword = fc.AdminPassword
	}
	if fc.CORSOrigins != nil {
		c.CORSOrigins = fc.CORSOrigins
	}
	if fc.GeminiAPIKey != "" {
		c.GeminiAPIKey = fc.GeminiAPIKey
	}
	if fc.GeminiModel != "" {
		c.GeminiModel = fc.GeminiModel
	}
	if fc.GeminiBaseURL != "" {
		c.GeminiBaseURL = fc.GeminiBaseURL
	}
	if fc.OpenAIAPIKey != "" {
		c.OpenAIAPIKey = fc.OpenAIAPIKey
	}
	if fc.ChunkMaxBytes != 0 {
		c.ChunkMaxBytes = fc.ChunkMaxBytes
	}
	if fc.InlineMaxBytes != 0 {
		c.InlineMaxBytes = fc.InlineMaxBytes
	}
	if fc.PollInterval != "" {
		d, err := time.ParseDuration(fc.PollInterval)
		if err != nil {
			return fmt.Errorf("parse poll_interval: %w", err)
		}
		c.PollInterval = d
	}
	if fc.PollMaxAttempts != 0 {
		c.PollMaxAttempts = fc.PollMaxAttempts
	}
	if fc.CallTimeout != "" {
		d, err := time.ParseDuration(fc.CallTimeout)
		if err != nil {
			return fmt.Errorf("parse call_timeout: %w", err)
		}
		c.CallTimeout = d
	}
	if fc.MaxUploadBytes != 0 {
		c.MaxUploadBytes = fc.MaxUploadBytes
	}

	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvInt("PORT", c.Port)
	c.DataPath = getEnv("DATA_PATH", c.DataPath)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.AdminUsername = getEnv("ADMIN_USERNAME", c.AdminUsername)
	c.AdminPassword = getEnv("ADMIN_PASSWORD", c.AdminPassword)

	// CORS origins: comma-separated list or "*"
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		parsed := make([]string, 0, len(origins))
		for _, o := range origins {
			o = strings.TrimSpace(o)
			if o != "" {
				parsed = append(parsed, o)
			}
		}
		c.CORSOrigins = parsed
	}

	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.GeminiAPIKey)
	c.GeminiModel = getEnv("GEMINI_MODEL", c.GeminiModel)
	c.GeminiBaseURL = getEnv("GEMINI_BASE_URL", c.GeminiBaseURL)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)

	c.ChunkMaxBytes = getEnvBytes("CHUNK_MAX_BYTES", c.ChunkMaxBytes)
	c.InlineMaxBytes = getEnvBytes("INLINE_MAX_BYTES", c.InlineMaxBytes)
	c.PollInterval = getEnvDuration("POLL_INTERVAL", c.PollInterval)
	c.PollMaxAttempts = getEnvInt("POLL_MAX_ATTEMPTS", c.PollMaxAttempts)
	c.CallTimeout = getEnvDuration("CALL_TIMEOUT", c.CallTimeout)
	c.MaxUploadBytes = int64(getEnvBytes("MAX_UPLOAD_BYTES", uint64(c.MaxUploadBytes)))
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
		log.Printf("[config] ignoring %s=%q: not a number", key, v)
	}
	return fallback
}

func getEnvBytes(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
		log.Printf("[config] ignoring %s=%q: not a byte count", key, v)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("[config] ignoring %s=%q: not a duration", key, v)
	}
	return fallback
}
