package config

import "time"

// Config holds runtime configuration for the Forma API service.
type Config struct {
	Environment      string
	Addr             string
	DatabaseURL      string
	MigrationsDir    string
	JWTSecret        string
	EnvEncryptionKey string
	AccessTokenTTL   time.Duration

	// Provisioning platform (compute projects, services, builds, domains).
	ProvisionEndpoint string
	ProvisionToken    string
	ProvisionTimeout  time.Duration

	// Source-hosting platform used to stage deployable source.
	GitHubToken string
	GitHubOwner string

	// Remote build polling.
	BuildPollInterval time.Duration
	BuildPollTimeout  time.Duration

	// Background deployment scheduling.
	MaxConcurrentDeploys int64

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// Load constructs a Config from environment variables.
func Load() Config {
	return Config{
		Environment:          GetString("APP_ENV", "development"),
		Addr:                 GetString("API_ADDR", ":4000"),
		DatabaseURL:          GetString("DATABASE_URL", "postgres://forma:forma@db:5432/forma?sslmode=disable"),
		MigrationsDir:        GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:            GetString("JWT_SECRET", "supersecuresecret"),
		EnvEncryptionKey:     GetString("ENV_ENCRYPTION_KEY", "supersecuresecret"),
		AccessTokenTTL:       time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 60)) * time.Minute,
		ProvisionEndpoint:    GetString("PROVISION_API_URL", "https://backboard.railway.app/graphql/v2"),
		ProvisionToken:       GetString("PROVISION_API_TOKEN", ""),
		ProvisionTimeout:     time.Duration(GetInt("PROVISION_TIMEOUT_SECONDS", 30)) * time.Second,
		GitHubToken:          GetString("GITHUB_TOKEN", ""),
		GitHubOwner:          GetString("GITHUB_OWNER", ""),
		BuildPollInterval:    time.Duration(GetInt("BUILD_POLL_INTERVAL_SECONDS", 10)) * time.Second,
		BuildPollTimeout:     time.Duration(GetInt("BUILD_POLL_TIMEOUT_SECONDS", 300)) * time.Second,
		MaxConcurrentDeploys: int64(GetInt("MAX_CONCURRENT_DEPLOYS", 8)),
		RateLimitRedisAddr:   GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:   GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:     GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
