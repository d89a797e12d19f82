package config

import (
	"context"
	"encoding/base32"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rail-service/rail_bridge/pkg/secrets"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverPebble   = "pebble"
	StoreDriverMemory   = "memory"
)

// Attestor modes.
const (
	AttestorModeKeySet    = "keyset"
	AttestorModePrincipal = "principal"
)

// Event publishers.
const (
	PublisherLog   = "log"
	PublisherRedis = "redis"
	PublisherSNS   = "sns"
)

const AlertProviderSendGrid = "sendgrid"

// Config holds all configuration for the application
type Config struct {
	Environment    string               `mapstructure:"environment"`
	LogLevel       string               `mapstructure:"log_level"`
	Server         ServerConfig         `mapstructure:"server"`
	Chain          ChainConfig          `mapstructure:"chain"`
	Store          StoreConfig          `mapstructure:"store"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	JWT            JWTConfig            `mapstructure:"jwt"`
	Security       SecurityConfig       `mapstructure:"security"`
	Policy         PolicyConfig         `mapstructure:"policy"`
	Attestor       AttestorConfig       `mapstructure:"attestor"`
	Events         EventsConfig         `mapstructure:"events"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
	Secrets        SecretsConfig        `mapstructure:"secrets"`
	Alerts         AlertsConfig         `mapstructure:"alerts"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Host            string   `mapstructure:"host"`
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`
	ShutdownTimeout int      `mapstructure:"shutdown_timeout"`
	EnableSwagger   bool     `mapstructure:"enable_swagger"`
	// SubjectRateLimitPerMin caps each authenticated caller across all nodes
	// when Redis is enabled.
	SubjectRateLimitPerMin int `mapstructure:"subject_rate_limit_per_min"`
}

// ChainConfig identifies the chain this node serves.
type ChainConfig struct {
	ID uint64 `mapstructure:"id"`
	// CustodyAccount holds locked value; empty means the default account.
	CustodyAccount string `mapstructure:"custody_account"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver        string `mapstructure:"driver"`
	PebblePath    string `mapstructure:"pebble_path"`
	MigrationsDir string `mapstructure:"migrations_dir"`
	// LockDriver is "local" or "redis"; redis is required when several
	// nodes share one store.
	LockDriver string `mapstructure:"lock_driver"`
	LockTTL    int    `mapstructure:"lock_ttl"`
	// IdempotencyDriver is "memory", "redis" or "postgres".
	IdempotencyDriver string `mapstructure:"idempotency_driver"`
	// IdempotencyTTL is how long, in seconds, a response is replayed.
	IdempotencyTTL int `mapstructure:"idempotency_ttl"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret    string `mapstructure:"secret"`
	AccessTTL int    `mapstructure:"access_token_ttl"`
	Issuer    string `mapstructure:"issuer"`
}

type SecurityConfig struct {
	EnableTokenBlacklist bool `mapstructure:"enable_token_blacklist"`
	// RequireAdminTOTP makes admin mutations carry a current X-TOTP-Code
	// generated from AdminTOTPSecret (base32).
	RequireAdminTOTP bool   `mapstructure:"require_admin_totp"`
	AdminTOTPSecret  string `mapstructure:"admin_totp_secret"`
}

// PolicyConfig seeds the policy the first time the node starts. A stored
// policy always wins over these values.
type PolicyConfig struct {
	SupportedAssets   []string `mapstructure:"supported_assets"`
	SupportedChains   []string `mapstructure:"supported_chains"`
	FeeRateBps        uint32   `mapstructure:"fee_rate_bps"`
	MinTransferAmount string   `mapstructure:"min_transfer_amount"`
	MaxTransferAmount string   `mapstructure:"max_transfer_amount"`
	Paused            bool     `mapstructure:"paused"`
}

// ChainIDs parses SupportedChains.
func (p PolicyConfig) ChainIDs() ([]uint64, error) {
	ids := make([]uint64, 0, len(p.SupportedChains))
	for _, s := range p.SupportedChains {
		id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid supported chain %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Limits parses the transfer bounds.
func (p PolicyConfig) Limits() (decimal.Decimal, decimal.Decimal, error) {
	min, err := decimal.NewFromString(p.MinTransferAmount)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid min transfer amount: %w", err)
	}
	max, err := decimal.NewFromString(p.MaxTransferAmount)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid max transfer amount: %w", err)
	}
	return min, max, nil
}

// AttestorConfig selects how relayed completions are trusted.
type AttestorConfig struct {
	Mode            string   `mapstructure:"mode"`
	PublicKeys      []string `mapstructure:"public_keys"`
	Threshold       int      `mapstructure:"threshold"`
	AllowedSubjects []string `mapstructure:"allowed_subjects"`
}

// EventsConfig configures outbox delivery.
type EventsConfig struct {
	Publisher     string `mapstructure:"publisher"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
	SNSTopicARN   string `mapstructure:"sns_topic_arn"`
	AWSRegion     string `mapstructure:"aws_region"`
	PollInterval  int    `mapstructure:"poll_interval_ms"`
	BatchSize     int    `mapstructure:"batch_size"`
	MaxAttempts   int    `mapstructure:"max_attempts"`
}

// ReconciliationConfig contains reconciliation service configuration
type ReconciliationConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"` // cron expression
}

// SecretsConfig names an external source for credentials left empty in the
// config file. Provider is "" or "aws".
type SecretsConfig struct {
	Provider  string `mapstructure:"provider"`
	AWSRegion string `mapstructure:"aws_region"`
	Prefix    string `mapstructure:"prefix"`
	CacheTTL  int    `mapstructure:"cache_ttl"`
}

// AlertsConfig routes reconciliation discrepancies to operators. Provider is
// "" (log only) or "sendgrid".
type AlertsConfig struct {
	Provider       string   `mapstructure:"provider"`
	SendGridAPIKey string   `mapstructure:"sendgrid_api_key"`
	FromEmail      string   `mapstructure:"from_email"`
	FromName       string   `mapstructure:"from_name"`
	Recipients     []string `mapstructure:"recipients"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Build database URL if not provided
	if config.Database.URL == "" && config.Store.Driver == StoreDriverPostgres {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if config.Secrets.Provider == "aws" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		provider, err := secrets.NewAWSSecretsManagerProvider(ctx, config.Secrets.AWSRegion, config.Secrets.Prefix,
			time.Duration(config.Secrets.CacheTTL)*time.Second)
		if err != nil {
			return nil, err
		}
		if err := ApplySecrets(ctx, &config, provider); err != nil {
			return nil, err
		}
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.rate_limit_per_min", 100)
	viper.SetDefault("server.subject_rate_limit_per_min", 60)
	viper.SetDefault("server.shutdown_timeout", 30)
	viper.SetDefault("server.allowed_origins", []string{"*"})
	viper.SetDefault("server.enable_swagger", false)

	viper.SetDefault("store.driver", StoreDriverPebble)
	viper.SetDefault("store.pebble_path", "data/bridge")
	viper.SetDefault("store.migrations_dir", "migrations")
	viper.SetDefault("store.lock_driver", "local")
	viper.SetDefault("store.lock_ttl", 30)
	viper.SetDefault("store.idempotency_driver", "memory")
	viper.SetDefault("store.idempotency_ttl", 86400)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "rail_bridge")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 300)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("jwt.access_token_ttl", 900)
	viper.SetDefault("jwt.issuer", "rail_bridge")

	viper.SetDefault("security.enable_token_blacklist", false)
	viper.SetDefault("security.require_admin_totp", false)

	viper.SetDefault("policy.supported_assets", []string{})
	viper.SetDefault("policy.supported_chains", []string{})
	viper.SetDefault("policy.fee_rate_bps", 30)
	viper.SetDefault("policy.min_transfer_amount", "1")
	viper.SetDefault("policy.max_transfer_amount", "1000000000000000000000000")

	viper.SetDefault("attestor.mode", AttestorModeKeySet)
	viper.SetDefault("attestor.threshold", 1)

	viper.SetDefault("events.publisher", PublisherLog)
	viper.SetDefault("events.channel_prefix", "rail_bridge")
	viper.SetDefault("events.aws_region", "us-east-1")
	viper.SetDefault("events.poll_interval_ms", 1000)
	viper.SetDefault("events.batch_size", 100)
	viper.SetDefault("events.max_attempts", 3)

	viper.SetDefault("reconciliation.enabled", true)
	viper.SetDefault("reconciliation.schedule", "*/15 * * * *")

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.collector_url", "localhost:4317")
	viper.SetDefault("tracing.sample_rate", 1.0)

	viper.SetDefault("secrets.provider", "")
	viper.SetDefault("secrets.aws_region", "us-east-1")
	viper.SetDefault("secrets.prefix", "rail_bridge/")
	viper.SetDefault("secrets.cache_ttl", 300)

	viper.SetDefault("alerts.provider", "")
	viper.SetDefault("alerts.from_name", "Rail Bridge")
}

func overrideFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}

	if chainID := os.Getenv("CHAIN_ID"); chainID != "" {
		if id, err := strconv.ParseUint(chainID, 10, 64); err == nil {
			viper.Set("chain.id", id)
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
		if os.Getenv("STORE_DRIVER") == "" {
			viper.Set("store.driver", StoreDriverPostgres)
		}
	}

	if os.Getenv("REDIS_HOST") != "" {
		viper.Set("redis.enabled", true)
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		viper.Set("jwt.secret", jwtSecret)
	}

	for env, key := range map[string]string{
		"POLICY_SUPPORTED_ASSETS":   "policy.supported_assets",
		"POLICY_SUPPORTED_CHAINS":   "policy.supported_chains",
		"ATTESTOR_PUBLIC_KEYS":      "attestor.public_keys",
		"ATTESTOR_ALLOWED_SUBJECTS": "attestor.allowed_subjects",
		"SERVER_ALLOWED_ORIGINS":    "server.allowed_origins",
		"ALERT_RECIPIENTS":          "alerts.recipients",
	} {
		if v := os.Getenv(env); v != "" {
			viper.Set(key, splitList(v))
		}
	}

	if key := os.Getenv("SENDGRID_API_KEY"); key != "" {
		viper.Set("alerts.sendgrid_api_key", key)
	}
	if secret := os.Getenv("ADMIN_TOTP_SECRET"); secret != "" {
		viper.Set("security.admin_totp_secret", secret)
	}

	if topic := os.Getenv("SNS_TOPIC_ARN"); topic != "" {
		viper.Set("events.sns_topic_arn", topic)
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		viper.Set("events.aws_region", region)
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		viper.Set("tracing.enabled", true)
		viper.Set("tracing.collector_url", endpoint)
	}
}

// Secret keys looked up by ApplySecrets.
const (
	SecretJWT                = "jwt_secret"
	SecretAttestorPublicKeys = "attestor_public_keys"
	SecretSendGridAPIKey     = "sendgrid_api_key"
	SecretAdminTOTP          = "admin_totp_secret"
)

// ApplySecrets fills credentials the config leaves empty from provider. A
// credential is only looked up when the feature using it is enabled.
func ApplySecrets(ctx context.Context, config *Config, provider secrets.Provider) error {
	if config.JWT.Secret == "" {
		v, err := provider.GetSecret(ctx, SecretJWT)
		if err != nil {
			return fmt.Errorf("resolve jwt secret: %w", err)
		}
		config.JWT.Secret = v
	}
	if config.Attestor.Mode == AttestorModeKeySet && len(config.Attestor.PublicKeys) == 0 {
		v, err := provider.GetSecret(ctx, SecretAttestorPublicKeys)
		if err != nil {
			return fmt.Errorf("resolve attestor public keys: %w", err)
		}
		config.Attestor.PublicKeys = splitList(v)
	}
	if config.Alerts.Provider == AlertProviderSendGrid && config.Alerts.SendGridAPIKey == "" {
		v, err := provider.GetSecret(ctx, SecretSendGridAPIKey)
		if err != nil {
			return fmt.Errorf("resolve sendgrid api key: %w", err)
		}
		config.Alerts.SendGridAPIKey = v
	}
	if config.Security.RequireAdminTOTP && config.Security.AdminTOTPSecret == "" {
		v, err := provider.GetSecret(ctx, SecretAdminTOTP)
		if err != nil {
			return fmt.Errorf("resolve admin totp secret: %w", err)
		}
		config.Security.AdminTOTPSecret = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func validate(config *Config) error {
	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if config.Chain.ID == 0 {
		return fmt.Errorf("chain id is required")
	}

	switch config.Store.Driver {
	case StoreDriverPostgres:
		if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
			return fmt.Errorf("database configuration is incomplete")
		}
	case StoreDriverPebble:
		if config.Store.PebblePath == "" {
			return fmt.Errorf("pebble path is required")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", config.Store.Driver)
	}

	switch config.Store.LockDriver {
	case "local":
	case "redis":
		if !config.Redis.Enabled {
			return fmt.Errorf("redis lock driver requires redis")
		}
	default:
		return fmt.Errorf("unknown lock driver %q", config.Store.LockDriver)
	}

	switch config.Store.IdempotencyDriver {
	case "memory":
	case "redis":
		if !config.Redis.Enabled {
			return fmt.Errorf("redis idempotency driver requires redis")
		}
	case "postgres":
		if config.Store.Driver != StoreDriverPostgres {
			return fmt.Errorf("postgres idempotency driver requires the postgres store")
		}
	default:
		return fmt.Errorf("unknown idempotency driver %q", config.Store.IdempotencyDriver)
	}

	if config.Policy.FeeRateBps > 1000 {
		return fmt.Errorf("fee rate %d bps exceeds 1000", config.Policy.FeeRateBps)
	}
	if _, err := config.Policy.ChainIDs(); err != nil {
		return err
	}
	if _, _, err := config.Policy.Limits(); err != nil {
		return err
	}

	switch config.Attestor.Mode {
	case AttestorModeKeySet:
		if len(config.Attestor.PublicKeys) == 0 {
			return fmt.Errorf("attestor public keys are required in keyset mode")
		}
		if config.Attestor.Threshold < 1 || config.Attestor.Threshold > len(config.Attestor.PublicKeys) {
			return fmt.Errorf("attestor threshold must be between 1 and %d", len(config.Attestor.PublicKeys))
		}
	case AttestorModePrincipal:
	default:
		return fmt.Errorf("unknown attestor mode %q", config.Attestor.Mode)
	}

	switch config.Events.Publisher {
	case PublisherLog:
	case PublisherRedis:
		if !config.Redis.Enabled {
			return fmt.Errorf("redis publisher requires redis")
		}
	case PublisherSNS:
		if config.Events.SNSTopicARN == "" {
			return fmt.Errorf("sns publisher requires a topic ARN")
		}
	default:
		return fmt.Errorf("unknown event publisher %q", config.Events.Publisher)
	}

	switch config.Alerts.Provider {
	case "":
	case AlertProviderSendGrid:
		if config.Alerts.SendGridAPIKey == "" || config.Alerts.FromEmail == "" {
			return fmt.Errorf("sendgrid alerts require an api key and a sender address")
		}
		if len(config.Alerts.Recipients) == 0 {
			return fmt.Errorf("sendgrid alerts require at least one recipient")
		}
	default:
		return fmt.Errorf("unknown alert provider %q", config.Alerts.Provider)
	}

	if config.Security.RequireAdminTOTP {
		secret := strings.ToUpper(strings.TrimRight(config.Security.AdminTOTPSecret, "="))
		if secret == "" {
			return fmt.Errorf("admin totp secret is required")
		}
		if _, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret); err != nil {
			return fmt.Errorf("admin totp secret must be base32: %w", err)
		}
	}

	return nil
}
