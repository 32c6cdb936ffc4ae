package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Groq      GroqConfig
	Replicate ReplicateConfig
	R2        R2Config
	Spotify   SpotifyConfig
	Lyrics    LyricsConfig
	Pricing   PricingConfig
	Worker    WorkerConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	Driver string // postgres, mysql or sqlite
	DSN    string
}

type JWTConfig struct {
	Secret string
}

type RateLimitConfig struct {
	TriggerPerHour int
	PreviewPerHour int
}

type GroqConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type ReplicateConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	PollInterval time.Duration
	Timeout      time.Duration
	MaxPollErrs  int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	TokenURL     string
	RatePerSec   float64
}

type LyricsConfig struct {
	BaseURL string
	Timeout time.Duration
}

// PricingConfig holds unit prices. LLM rates are USD per million tokens.
type PricingConfig struct {
	LLM               map[string]LLMRate
	Image             map[string]float64
	DefaultImagePrice float64
}

type LLMRate struct {
	InputPerMillion  float64 `mapstructure:"input_per_million"`
	OutputPerMillion float64 `mapstructure:"output_per_million"`
}

type WorkerConfig struct {
	Concurrency   int
	Queue         string
	CronSpec      string
	MaxPreview    int
	TargetTimeout time.Duration
	MaxTracks     int
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("DATABASE_DSN")
	readSecret("JWT_SECRET")
	readSecret("GROQ_API_KEY")
	readSecret("REPLICATE_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("SPOTIFY_CLIENT_SECRET")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.api_domain", "API_DOMAIN")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("database.driver", "DATABASE_DRIVER")
	_ = v.BindEnv("database.dsn", "DATABASE_DSN")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("groq.api_key", "GROQ_API_KEY")
	_ = v.BindEnv("groq.base_url", "GROQ_BASE_URL")
	_ = v.BindEnv("groq.model", "GROQ_MODEL")
	_ = v.BindEnv("replicate.api_key", "REPLICATE_API_KEY")
	_ = v.BindEnv("replicate.base_url", "REPLICATE_BASE_URL")
	_ = v.BindEnv("replicate.default_model", "REPLICATE_DEFAULT_MODEL")
	_ = v.BindEnv("replicate.timeout", "REPLICATE_TIMEOUT")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("spotify.client_id", "SPOTIFY_CLIENT_ID")
	_ = v.BindEnv("spotify.client_secret", "SPOTIFY_CLIENT_SECRET")
	_ = v.BindEnv("worker.cron_spec", "WORKER_CRON_SPEC")
	_ = v.BindEnv("worker.target_timeout", "WORKER_TARGET_TIMEOUT")
	_ = v.BindEnv("worker.max_tracks", "WORKER_MAX_TRACKS")
	_ = v.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "covers.db")
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("ratelimit.trigger_per_hour", 10)
	v.SetDefault("ratelimit.preview_per_hour", 20)

	// Groq defaults
	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.model", "llama-3.3-70b-versatile")

	// Replicate defaults
	v.SetDefault("replicate.base_url", "https://api.replicate.com")
	v.SetDefault("replicate.default_model", "black-forest-labs/flux-schnell")
	v.SetDefault("replicate.poll_interval", 2*time.Second)
	v.SetDefault("replicate.timeout", 3*time.Minute)
	v.SetDefault("replicate.max_poll_errors", 3)

	// Spotify defaults
	v.SetDefault("spotify.base_url", "https://api.spotify.com/v1")
	v.SetDefault("spotify.token_url", "https://accounts.spotify.com/api/token")
	v.SetDefault("spotify.rate_per_sec", 5.0)

	v.SetDefault("lyrics.base_url", "https://lrclib.net/api")
	v.SetDefault("lyrics.timeout", 10*time.Second)

	// Pricing defaults, USD
	v.SetDefault("pricing.llm", map[string]interface{}{
		"llama-3.3-70b-versatile": map[string]interface{}{"input_per_million": 0.59, "output_per_million": 0.79},
		"llama-3.1-8b-instant":    map[string]interface{}{"input_per_million": 0.05, "output_per_million": 0.08},
	})
	v.SetDefault("pricing.image", map[string]interface{}{
		"black-forest-labs/flux-schnell": 0.003,
		"black-forest-labs/flux-dev":     0.025,
		"black-forest-labs/flux-1.1-pro": 0.04,
	})
	v.SetDefault("pricing.default_image_price", 0.04)

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue", "covers")
	v.SetDefault("worker.cron_spec", "0 4 * * *")
	v.SetDefault("worker.max_preview", 4)
	v.SetDefault("worker.target_timeout", "10m")
	v.SetDefault("worker.max_tracks", 50)

	v.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			ApiDomain: v.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Database: DatabaseConfig{
			Driver: v.GetString("database.driver"),
			DSN:    v.GetString("database.dsn"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		RateLimit: RateLimitConfig{
			TriggerPerHour: v.GetInt("ratelimit.trigger_per_hour"),
			PreviewPerHour: v.GetInt("ratelimit.preview_per_hour"),
		},
		Groq: GroqConfig{
			APIKey:  v.GetString("groq.api_key"),
			BaseURL: v.GetString("groq.base_url"),
			Model:   v.GetString("groq.model"),
		},
		Replicate: ReplicateConfig{
			APIKey:       v.GetString("replicate.api_key"),
			BaseURL:      v.GetString("replicate.base_url"),
			DefaultModel: v.GetString("replicate.default_model"),
			PollInterval: v.GetDuration("replicate.poll_interval"),
			Timeout:      v.GetDuration("replicate.timeout"),
			MaxPollErrs:  v.GetInt("replicate.max_poll_errors"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Spotify: SpotifyConfig{
			ClientID:     v.GetString("spotify.client_id"),
			ClientSecret: v.GetString("spotify.client_secret"),
			BaseURL:      v.GetString("spotify.base_url"),
			TokenURL:     v.GetString("spotify.token_url"),
			RatePerSec:   v.GetFloat64("spotify.rate_per_sec"),
		},
		Lyrics: LyricsConfig{
			BaseURL: v.GetString("lyrics.base_url"),
			Timeout: v.GetDuration("lyrics.timeout"),
		},
		Pricing: PricingConfig{
			Image:             map[string]float64{},
			DefaultImagePrice: v.GetFloat64("pricing.default_image_price"),
		},
		Worker: WorkerConfig{
			Concurrency:   v.GetInt("worker.concurrency"),
			Queue:         v.GetString("worker.queue"),
			CronSpec:      v.GetString("worker.cron_spec"),
			MaxPreview:    v.GetInt("worker.max_preview"),
			TargetTimeout: v.GetDuration("worker.target_timeout"),
			MaxTracks:     v.GetInt("worker.max_tracks"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
	}

	if err := v.UnmarshalKey("pricing.llm", &cfg.Pricing.LLM); err != nil {
		return nil, err
	}
	if err := v.UnmarshalKey("pricing.image", &cfg.Pricing.Image); err != nil {
		return nil, err
	}

	return cfg, nil
}
