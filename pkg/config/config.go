package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// devJWTSecret is only accepted outside production.
const devJWTSecret = "dev-insecure-secret-change"

type Config struct {
	Env          string
	Server       ServerConfig
	DB           DBConfig
	Storage      StorageConfig
	Upload       UploadConfig
	Auth         AuthConfig
	PublicDir    string
	WatchUploads bool
}

type ServerConfig struct {
	Host string
	Port string
}

// Addr is the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

type DBConfig struct {
	Driver      string // postgres, mysql or sqlite
	DSN         string // when set, overrides the individual parts
	Host        string
	Port        string
	User        string
	Password    string
	Name        string // schema name, or file path for sqlite
	AutoMigrate bool
}

type StorageConfig struct {
	Type     string // local or s3
	BasePath string
	S3       S3Config
}

type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

type UploadConfig struct {
	MaxBytes       int64
	RequireContact bool
}

type AuthConfig struct {
	JWTSecret         string
	SessionTTL        time.Duration
	CookieSecure      bool
	AdminUsername     string
	AdminPassword     string
	AdminPasswordHash string
}

// Load reads .env (without overriding variables already set) and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return FromViper(viper.New())
}

// FromViper builds a Config from v after applying defaults and env binding.
func FromViper(v *viper.Viper) (*Config, error) {
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("SERVER_HOST", "")
	v.SetDefault("SERVER_PORT", "3007")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "logo_qr")
	v.SetDefault("DB_AUTO_MIGRATE", true)
	v.SetDefault("STORAGE_TYPE", "local")
	v.SetDefault("UPLOAD_BASE", "uploads")
	v.SetDefault("UPLOAD_MAX_BYTES", 5*1024*1024) // 5 MiB
	v.SetDefault("UPLOAD_REQUIRE_CONTACT", true)
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_BUCKET", "logoqr")
	v.SetDefault("S3_ACCESS_KEY_ID", "")
	v.SetDefault("S3_SECRET_ACCESS_KEY", "")
	v.SetDefault("PUBLIC_DIR", "public")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("SESSION_TTL", 12*time.Hour)
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("ADMIN_USERNAME", "admin")
	v.SetDefault("ADMIN_PASSWORD", "")
	v.SetDefault("ADMIN_PASSWORD_HASH", "")
	v.SetDefault("WATCH_UPLOADS", true)

	v.AutomaticEnv()

	cfg := &Config{
		Env: v.GetString("APP_ENV"),
		Server: ServerConfig{
			Host: v.GetString("SERVER_HOST"),
			Port: v.GetString("SERVER_PORT"),
		},
		DB: DBConfig{
			Driver:      v.GetString("DB_DRIVER"),
			DSN:         v.GetString("DB_DSN"),
			Host:        v.GetString("DB_HOST"),
			Port:        v.GetString("DB_PORT"),
			User:        v.GetString("DB_USER"),
			Password:    v.GetString("DB_PASSWORD"),
			Name:        v.GetString("DB_NAME"),
			AutoMigrate: v.GetBool("DB_AUTO_MIGRATE"),
		},
		Storage: StorageConfig{
			Type:     v.GetString("STORAGE_TYPE"),
			BasePath: v.GetString("UPLOAD_BASE"),
			S3: S3Config{
				Endpoint:        v.GetString("S3_ENDPOINT"),
				Region:          v.GetString("S3_REGION"),
				Bucket:          v.GetString("S3_BUCKET"),
				AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
				SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
			},
		},
		Upload: UploadConfig{
			MaxBytes:       v.GetInt64("UPLOAD_MAX_BYTES"),
			RequireContact: v.GetBool("UPLOAD_REQUIRE_CONTACT"),
		},
		Auth: AuthConfig{
			JWTSecret:         v.GetString("JWT_SECRET"),
			SessionTTL:        v.GetDuration("SESSION_TTL"),
			CookieSecure:      v.GetBool("COOKIE_SECURE"),
			AdminUsername:     v.GetString("ADMIN_USERNAME"),
			AdminPassword:     v.GetString("ADMIN_PASSWORD"),
			AdminPasswordHash: v.GetString("ADMIN_PASSWORD_HASH"),
		},
		PublicDir:    v.GetString("PUBLIC_DIR"),
		WatchUploads: v.GetBool("WATCH_UPLOADS"),
	}

	if cfg.Auth.JWTSecret == "" {
		if cfg.Env == "production" {
			return nil, errors.New("JWT_SECRET is required in production")
		}
		cfg.Auth.JWTSecret = devJWTSecret
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DB.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	switch c.Storage.Type {
	case "local", "s3":
	default:
		return fmt.Errorf("unsupported STORAGE_TYPE %q", c.Storage.Type)
	}
	if c.Upload.MaxBytes <= 0 {
		return errors.New("UPLOAD_MAX_BYTES must be positive")
	}
	if c.Auth.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	return nil
}
