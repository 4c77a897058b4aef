// Package config loads server configuration from the environment.
//
// A .env file in the working directory is read first if it exists; real
// environment variables take precedence over it. Optional integrations
// (Redis, GitHub, SMTP, Gemini, uploads) stay disabled while their keys
// are empty.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const (
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
)

type Config struct {
	Port        int      `env:"PORT" envDefault:"8080"`
	FrontendURL string   `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`
	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	Log struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"text"`
	}

	Store struct {
		Driver   string `env:"STORE_DRIVER" envDefault:"sqlite"`
		DBPath   string `env:"DB_PATH" envDefault:"data/ecoloop.db"`
		MongoURI string `env:"MONGO_URI"`
		MongoDB  string `env:"MONGO_DB" envDefault:"ecoloop"`
	}

	Auth struct {
		JWTSecret string        `env:"JWT_SECRET,required"`
		TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	}

	GitHub struct {
		ClientID     string `env:"GITHUB_CLIENT_ID"`
		ClientSecret string `env:"GITHUB_CLIENT_SECRET"`
		CallbackURL  string `env:"GITHUB_CALLBACK_URL"`
	}

	Redis struct {
		Addr     string `env:"REDIS_ADDR"`
		Password string `env:"REDIS_PASSWORD"`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
		Channel  string `env:"REDIS_CHANNEL" envDefault:"ecoloop:realtime"`
	}

	SMTP struct {
		Host     string `env:"SMTP_HOST"`
		Port     int    `env:"SMTP_PORT" envDefault:"587"`
		Username string `env:"SMTP_USERNAME"`
		Password string `env:"SMTP_PASSWORD"`
		From     string `env:"SMTP_FROM" envDefault:"EcoLoop <no-reply@ecoloop.local>"`
	}

	Gemini struct {
		APIKey string `env:"GEMINI_API_KEY"`
		Model  string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	}

	Upload struct {
		Endpoint  string `env:"UPLOAD_ENDPOINT"`
		AccessKey string `env:"UPLOAD_ACCESS_KEY"`
		SecretKey string `env:"UPLOAD_SECRET_KEY"`
		Bucket    string `env:"UPLOAD_BUCKET" envDefault:"ecoloop-items"`
		Region    string `env:"UPLOAD_REGION" envDefault:"us-east-1"`
		UseSSL    bool   `env:"UPLOAD_USE_SSL" envDefault:"true"`
		PublicURL string `env:"UPLOAD_PUBLIC_URL"`
	}
}

// Load reads .env (if present) and the environment, then validates.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the tags cannot express.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	switch c.Store.Driver {
	case StoreSQLite:
	case StoreMongo:
		if c.Store.MongoURI == "" {
			return errors.New("MONGO_URI is required when STORE_DRIVER=mongo")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	return nil
}

func (c *Config) GitHubEnabled() bool {
	return c.GitHub.ClientID != "" && c.GitHub.ClientSecret != ""
}

func (c *Config) SMTPEnabled() bool { return c.SMTP.Host != "" }

func (c *Config) UploadEnabled() bool {
	return c.Upload.Endpoint != "" && c.Upload.AccessKey != "" && c.Upload.SecretKey != ""
}

// CallbackURL returns the GitHub callback, defaulting to this server.
func (c *Config) CallbackURL() string {
	if c.GitHub.CallbackURL != "" {
		return c.GitHub.CallbackURL
	}
	return fmt.Sprintf("http://localhost:%d/api/auth/github/callback", c.Port)
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.Log.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
