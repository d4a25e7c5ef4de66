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
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Zitadel   ZitadelConfig
	Gateway   GatewayConfig
	Storage   StorageConfig
	Signer    SignerConfig
	Firefly   FireflyConfig
	Pipeline  PipelineConfig
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

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	GenerationsPerHour int
	SignedURLsPerMin   int
	RelayPerHour       int
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

// GatewayConfig toggles header-based auth when running behind Traefik ForwardAuth.
type GatewayConfig struct {
	Enabled bool
}

// StorageConfig selects and configures the object store driver.
// Driver is one of "s3", "r2" or "minio".
type StorageConfig struct {
	Driver          string
	Endpoint        string
	Region          string
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
	UsePathStyle    bool
}

// SignerConfig points the pipeline at a signed URL gateway.
// When URL is empty the gateway is served in-process over the object store.
// RelayURL, when set, makes write-intent requests return the relay shape.
type SignerConfig struct {
	URL      string
	RelayURL string
	APIKey   string
}

type FireflyConfig struct {
	BaseURL      string
	SubmitPath   string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      int // seconds
}

type PipelineConfig struct {
	PollInterval    time.Duration
	MaxPollDuration time.Duration // 0 disables the cap
	ReadURLTTL      time.Duration
	WriteURLTTL     time.Duration
	SpoolDir        string
	SpoolMaxAge     time.Duration
	Concurrency     int
}

// IsConfigured reports whether render API credentials are present.
func (c FireflyConfig) IsConfigured() bool {
	return c.BaseURL != "" && c.ClientID != "" && c.ClientSecret != ""
}

// IsConfigured reports whether object store credentials are present.
func (c StorageConfig) IsConfigured() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != "" && c.BucketName != ""
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")
	readSecret("SIGNER_API_KEY")
	readSecret("FIREFLY_CLIENT_ID")
	readSecret("FIREFLY_CLIENT_SECRET")
	readSecret("ZITADEL_CLIENT_ID")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.generations_per_hour", "RATELIMIT_GENERATIONS_PER_HOUR")
	_ = viper.BindEnv("ratelimit.signed_urls_per_min", "RATELIMIT_SIGNED_URLS_PER_MIN")
	_ = viper.BindEnv("ratelimit.relay_per_hour", "RATELIMIT_RELAY_PER_HOUR")
	_ = viper.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = viper.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = viper.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = viper.BindEnv("storage.driver", "STORAGE_DRIVER")
	_ = viper.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = viper.BindEnv("storage.region", "STORAGE_REGION")
	_ = viper.BindEnv("storage.account_id", "STORAGE_ACCOUNT_ID")
	_ = viper.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.bucket_name", "STORAGE_BUCKET_NAME")
	_ = viper.BindEnv("storage.use_ssl", "STORAGE_USE_SSL")
	_ = viper.BindEnv("storage.use_path_style", "STORAGE_USE_PATH_STYLE")
	_ = viper.BindEnv("signer.url", "SIGNER_URL")
	_ = viper.BindEnv("signer.relay_url", "SIGNER_RELAY_URL")
	_ = viper.BindEnv("signer.api_key", "SIGNER_API_KEY")
	_ = viper.BindEnv("firefly.base_url", "FIREFLY_BASE_URL")
	_ = viper.BindEnv("firefly.submit_path", "FIREFLY_SUBMIT_PATH")
	_ = viper.BindEnv("firefly.token_url", "FIREFLY_TOKEN_URL")
	_ = viper.BindEnv("firefly.client_id", "FIREFLY_CLIENT_ID")
	_ = viper.BindEnv("firefly.client_secret", "FIREFLY_CLIENT_SECRET")
	_ = viper.BindEnv("firefly.scopes", "FIREFLY_SCOPES")
	_ = viper.BindEnv("firefly.timeout", "FIREFLY_TIMEOUT")
	_ = viper.BindEnv("pipeline.poll_interval", "PIPELINE_POLL_INTERVAL")
	_ = viper.BindEnv("pipeline.max_poll_duration", "PIPELINE_MAX_POLL_DURATION")
	_ = viper.BindEnv("pipeline.read_url_ttl", "PIPELINE_READ_URL_TTL")
	_ = viper.BindEnv("pipeline.write_url_ttl", "PIPELINE_WRITE_URL_TTL")
	_ = viper.BindEnv("pipeline.spool_dir", "PIPELINE_SPOOL_DIR")
	_ = viper.BindEnv("pipeline.spool_max_age", "PIPELINE_SPOOL_MAX_AGE")
	_ = viper.BindEnv("pipeline.concurrency", "PIPELINE_CONCURRENCY")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.generations_per_hour", 30)
	viper.SetDefault("ratelimit.signed_urls_per_min", 120)
	viper.SetDefault("ratelimit.relay_per_hour", 100)

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Storage defaults
	viper.SetDefault("storage.driver", "s3")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.use_ssl", true)
	viper.SetDefault("storage.use_path_style", false)

	// Firefly defaults
	viper.SetDefault("firefly.base_url", "https://image.adobe.io/pie/psdService")
	viper.SetDefault("firefly.submit_path", "/assets")
	viper.SetDefault("firefly.token_url", "https://ims-na1.adobelogin.com/ims/token/v3")
	viper.SetDefault("firefly.scopes", "openid,AdobeID,read_organizations")
	viper.SetDefault("firefly.timeout", 60)

	// Pipeline defaults
	viper.SetDefault("pipeline.poll_interval", "1s")
	viper.SetDefault("pipeline.max_poll_duration", "0s")
	viper.SetDefault("pipeline.read_url_ttl", "720s")
	viper.SetDefault("pipeline.write_url_ttl", "1h")
	viper.SetDefault("pipeline.spool_dir", os.TempDir()+"/assetgen-spool")
	viper.SetDefault("pipeline.spool_max_age", "24h")
	viper.SetDefault("pipeline.concurrency", 10)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			GenerationsPerHour: viper.GetInt("ratelimit.generations_per_hour"),
			SignedURLsPerMin:   viper.GetInt("ratelimit.signed_urls_per_min"),
			RelayPerHour:       viper.GetInt("ratelimit.relay_per_hour"),
		},
		Zitadel: ZitadelConfig{
			Domain:   viper.GetString("zitadel.domain"),
			ClientID: viper.GetString("zitadel.client_id"),
			Issuer:   viper.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
		Storage: StorageConfig{
			Driver:          strings.ToLower(viper.GetString("storage.driver")),
			Endpoint:        viper.GetString("storage.endpoint"),
			Region:          viper.GetString("storage.region"),
			AccountID:       viper.GetString("storage.account_id"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			BucketName:      viper.GetString("storage.bucket_name"),
			UseSSL:          viper.GetBool("storage.use_ssl"),
			UsePathStyle:    viper.GetBool("storage.use_path_style"),
		},
		Signer: SignerConfig{
			URL:      viper.GetString("signer.url"),
			RelayURL: viper.GetString("signer.relay_url"),
			APIKey:   viper.GetString("signer.api_key"),
		},
		Firefly: FireflyConfig{
			BaseURL:      strings.TrimRight(viper.GetString("firefly.base_url"), "/"),
			SubmitPath:   viper.GetString("firefly.submit_path"),
			TokenURL:     viper.GetString("firefly.token_url"),
			ClientID:     viper.GetString("firefly.client_id"),
			ClientSecret: viper.GetString("firefly.client_secret"),
			Scopes:       splitList(viper.GetString("firefly.scopes")),
			Timeout:      viper.GetInt("firefly.timeout"),
		},
		Pipeline: PipelineConfig{
			PollInterval:    viper.GetDuration("pipeline.poll_interval"),
			MaxPollDuration: viper.GetDuration("pipeline.max_poll_duration"),
			ReadURLTTL:      viper.GetDuration("pipeline.read_url_ttl"),
			WriteURLTTL:     viper.GetDuration("pipeline.write_url_ttl"),
			SpoolDir:        viper.GetString("pipeline.spool_dir"),
			SpoolMaxAge:     viper.GetDuration("pipeline.spool_max_age"),
			Concurrency:     viper.GetInt("pipeline.concurrency"),
		},
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
