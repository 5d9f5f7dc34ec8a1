package config

import (
	"time"

	"github.com/spf13/viper"
)

const mb = 1024 * 1024

// DefaultPlans mirrors the published pricing tiers.
var DefaultPlans = map[string]PlanConfig{
	"free":       {AIRequests: 50, FileUploads: 10, MaxFileSize: 5 * mb},
	"basic":      {AIRequests: 500, FileUploads: 100, MaxFileSize: 25 * mb},
	"premium":    {AIRequests: 2000, FileUploads: 500, MaxFileSize: 100 * mb},
	"enterprise": {AIRequests: -1, FileUploads: -1, MaxFileSize: 500 * mb},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", EnvDevelopment)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.corsOrigins", []string{"http://localhost:3000", "http://localhost:5000"})
	v.SetDefault("server.shutdownTimeout", 15*time.Second)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "data/agency.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.maxOpenConns", 10)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", 30*time.Minute)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiresIn", 7*24*time.Hour)
	v.SetDefault("jwt.issuer", "ai-agency")

	v.SetDefault("security.bcryptCost", 12)

	v.SetDefault("upload.maxSize", 10*mb)
	v.SetDefault("upload.allowedExtensions", []string{
		"jpeg", "jpg", "png", "gif", "pdf", "doc", "docx", "txt", "csv", "xlsx",
	})
	v.SetDefault("upload.storage", "local")
	v.SetDefault("upload.localPath", "uploads")
	v.SetDefault("upload.s3.endpoint", "")
	v.SetDefault("upload.s3.region", "us-east-1")
	v.SetDefault("upload.s3.bucket", "")
	v.SetDefault("upload.s3.accessKeyId", "")
	v.SetDefault("upload.s3.secretAccessKey", "")

	v.SetDefault("ai.provider", "template")
	v.SetDefault("ai.anthropicApiKey", "")
	v.SetDefault("ai.model", "claude-3-5-haiku-latest")
	v.SetDefault("ai.timeout", 30*time.Second)
	v.SetDefault("ai.maxConcurrent", 8)
	v.SetDefault("ai.maxTokens", 1024)
	v.SetDefault("ai.latency", 0)

	v.SetDefault("rateLimit.requests", 100)
	v.SetDefault("rateLimit.window", 15*time.Minute)
	v.SetDefault("rateLimit.aiRequests", 10)
	v.SetDefault("rateLimit.aiWindow", time.Minute)

	plans := make(map[string]any, len(DefaultPlans))
	for name, p := range DefaultPlans {
		plans[name] = map[string]any{
			"aiRequests":  p.AIRequests,
			"fileUploads": p.FileUploads,
			"maxFileSize": p.MaxFileSize,
		}
	}
	v.SetDefault("plans", plans)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", time.Minute)

	v.SetDefault("email.host", "")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.user", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "no-reply@ai-agency.local")

	v.SetDefault("sweep.interval", 5*time.Minute)
	v.SetDefault("sweep.stuckAfter", 10*time.Minute)
}

// bindLegacyEnv keeps the unprefixed variable names used by existing
// deployments working alongside the AGENCY_ prefixed ones.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("env", "AGENCY_ENV", "NODE_ENV")
	_ = v.BindEnv("server.port", "AGENCY_SERVER_PORT", "PORT")
	_ = v.BindEnv("jwt.secret", "AGENCY_JWT_SECRET", "JWT_SECRET")
	_ = v.BindEnv("database.dsn", "AGENCY_DATABASE_DSN", "DATABASE_URL")
	_ = v.BindEnv("ai.anthropicApiKey", "AGENCY_AI_ANTHROPICAPIKEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("redis.addr", "AGENCY_REDIS_ADDR", "REDIS_ADDR")
}
