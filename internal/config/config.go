package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"

	minSecretLength = 32
	devSecret       = "development-only-secret-change-me-before-deploying"
)

type Config struct {
	Env       string                `mapstructure:"env"`
	Server    ServerConfig          `mapstructure:"server"`
	Database  DatabaseConfig        `mapstructure:"database"`
	JWT       JWTConfig             `mapstructure:"jwt"`
	Security  SecurityConfig        `mapstructure:"security"`
	Upload    UploadConfig          `mapstructure:"upload"`
	AI        AIConfig              `mapstructure:"ai"`
	RateLimit RateLimitConfig       `mapstructure:"rateLimit"`
	Plans     map[string]PlanConfig `mapstructure:"plans"`
	Redis     RedisConfig           `mapstructure:"redis"`
	Email     EmailConfig           `mapstructure:"email"`
	Sweep     SweepConfig           `mapstructure:"sweep"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	CORSOrigins     []string      `mapstructure:"corsOrigins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type DatabaseConfig struct {
	Type            string        `mapstructure:"type"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
}

type JWTConfig struct {
	Secret    string        `mapstructure:"secret"`
	ExpiresIn time.Duration `mapstructure:"expiresIn"`
	Issuer    string        `mapstructure:"issuer"`
}

type SecurityConfig struct {
	BcryptCost int `mapstructure:"bcryptCost"`
}

type UploadConfig struct {
	MaxSize           int64    `mapstructure:"maxSize"`
	AllowedExtensions []string `mapstructure:"allowedExtensions"`
	Storage           string   `mapstructure:"storage"`
	LocalPath         string   `mapstructure:"localPath"`
	S3                S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"accessKeyId"`
	SecretAccessKey string `mapstructure:"secretAccessKey"`
}

type AIConfig struct {
	Provider        string        `mapstructure:"provider"`
	AnthropicAPIKey string        `mapstructure:"anthropicApiKey"`
	Model           string        `mapstructure:"model"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxConcurrent   int64         `mapstructure:"maxConcurrent"`
	MaxTokens       int64         `mapstructure:"maxTokens"`
	Latency         time.Duration `mapstructure:"latency"`
}

type RateLimitConfig struct {
	Requests   int           `mapstructure:"requests"`
	Window     time.Duration `mapstructure:"window"`
	AIRequests int           `mapstructure:"aiRequests"`
	AIWindow   time.Duration `mapstructure:"aiWindow"`
}

// PlanConfig holds the monthly limits of one subscription tier. Negative
// values mean unlimited.
type PlanConfig struct {
	AIRequests  int   `mapstructure:"aiRequests"`
	FileUploads int   `mapstructure:"fileUploads"`
	MaxFileSize int64 `mapstructure:"maxFileSize"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type SweepConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	StuckAfter time.Duration `mapstructure:"stuckAfter"`
}

func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// LoadConfig loads the configuration from file and environment variables.
// Values from a .env file in the working directory are loaded first so they
// can be picked up as environment overrides.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env file", "error", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AGENCY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		slog.Warn("config file not found, using defaults and environment", "path", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that must be present before the server may
// start. Outside production a missing JWT secret is replaced by a fixed
// development secret.
func (c *Config) Validate() error {
	switch c.Env {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return fmt.Errorf("unknown environment %q", c.Env)
	}

	if c.JWT.Secret == "" {
		if c.IsProduction() {
			return errors.New("jwt.secret is required in production")
		}
		slog.Warn("jwt.secret not set, using development secret")
		c.JWT.Secret = devSecret
	}
	if c.IsProduction() && len(c.JWT.Secret) < minSecretLength {
		return fmt.Errorf("jwt.secret must be at least %d characters", minSecretLength)
	}
	if c.JWT.ExpiresIn <= 0 {
		return errors.New("jwt.expiresIn must be positive")
	}

	switch c.Database.Type {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	for _, plan := range []string{"free", "basic", "premium", "enterprise"} {
		if _, ok := c.Plans[plan]; !ok {
			return fmt.Errorf("plans.%s is not configured", plan)
		}
	}

	switch c.Upload.Storage {
	case "local", "s3":
	default:
		return fmt.Errorf("unsupported upload storage: %s", c.Upload.Storage)
	}
	if c.Upload.Storage == "s3" && c.Upload.S3.Bucket == "" {
		return errors.New("upload.s3.bucket is required for s3 storage")
	}

	switch c.AI.Provider {
	case "template":
	case "anthropic":
		if c.AI.AnthropicAPIKey == "" {
			return errors.New("ai.anthropicApiKey is required for the anthropic provider")
		}
	default:
		return fmt.Errorf("unsupported ai provider: %s", c.AI.Provider)
	}
	if c.AI.Timeout <= 0 {
		return errors.New("ai.timeout must be positive")
	}
	return nil
}
