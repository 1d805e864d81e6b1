package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every environment-driven setting of the service.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	DBDriver   string `env:"DB_DRIVER" envDefault:"postgres"`
	DBHost     string `env:"DB_HOST"`
	DBUser     string `env:"DB_USER"`
	DBPass     string `env:"DB_PASS"`
	DBName     string `env:"DB_NAME"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"eventhub.db"`

	JWTSecret    string        `env:"JWT_SECRET,required,notEmpty"`
	SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	UserTokenTTL time.Duration `env:"USER_TOKEN_TTL" envDefault:"72h"`

	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:8080"`

	EmailHost         string `env:"EMAIL_HOST"`
	EmailPort         int    `env:"EMAIL_PORT" envDefault:"587"`
	EmailHostUser     string `env:"EMAIL_HOST_USER"`
	EmailHostPassword string `env:"EMAIL_HOST_PASSWORD"`
	DefaultFromEmail  string `env:"DEFAULT_FROM_EMAIL" envDefault:"noreply@eventhub.local"`

	RedisAddr    string        `env:"REDIS_ADDR"`
	RoleCacheTTL time.Duration `env:"ROLE_CACHE_TTL" envDefault:"10m"`

	MediaRoot string `env:"MEDIA_ROOT" envDefault:"media"`

	SuperuserUsername string `env:"SUPERUSER_USERNAME"`
	SuperuserEmail    string `env:"SUPERUSER_EMAIL"`
	SuperuserPassword string `env:"SUPERUSER_PASSWORD"`
}

var Cfg Config

// LoadConfig reads .env (when present) and parses the environment into a Config.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn(".env file not found, using system environment variables")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// PostgresDSN builds the connection string from the DB_* variables.
func (c Config) PostgresDSN() (string, error) {
	if c.DBHost == "" || c.DBUser == "" || c.DBPass == "" || c.DBName == "" || c.DBPort == "" {
		return "", fmt.Errorf("database env missing, check DB_HOST, DB_USER, DB_PASS, DB_NAME and DB_PORT")
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPass, c.DBName, c.DBPort,
	), nil
}
