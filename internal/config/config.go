// Package config loads Config from environment variables via spf13/viper,
// in the BindEnv/SetDefault style of
// KilangDesaMurniBatik-service-marketplace's internal/config package.
// joho/godotenv loads a local .env file first so development runs without
// exporting a dozen variables by hand; it is a no-op in any environment
// where no .env file is present.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every tunable for one marketsync process.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Reverb     ReverbConfig     `mapstructure:"reverb"`
	Ebay       EbayConfig       `mapstructure:"ebay"`
	Shopify    ShopifyConfig    `mapstructure:"shopify"`
	VintageAndRare VintageAndRareConfig `mapstructure:"vintageandrare"`
}

// AppConfig holds process-wide settings.
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`

	// SchemaVersion gates startup against an incompatible ChangeData/
	// category-map shape; empty skips the check.
	SchemaVersion string `mapstructure:"schema_version"`
}

// DatabaseConfig holds the Postgres connection.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// DSN builds a lib/pq connection string from DatabaseConfig.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)
}

// RedisConfig holds the idempotency-cache connection.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the host:port pair redis.Options expects.
func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

// SyncConfig tunes the coordinator's concurrency and timeouts (spec §5).
type SyncConfig struct {
	DetectionConcurrency int           `mapstructure:"detection_concurrency"`
	DispatchConcurrency  int           `mapstructure:"dispatch_concurrency"`
	PerAdapterCallTimeout  time.Duration `mapstructure:"per_adapter_call_timeout"`
	PerDetectionTaskTimeout time.Duration `mapstructure:"per_detection_task_timeout"`
	PerRunTimeout          time.Duration `mapstructure:"per_run_timeout"`
	PriceMatchEpsilon      float64        `mapstructure:"price_match_epsilon"`

	// MatcherConfidenceThreshold overrides matcher.MinConfidence; a rogue
	// listing's best candidate below this score is left unmatched rather
	// than auto-linked.
	MatcherConfidenceThreshold int `mapstructure:"matcher_confidence_threshold"`

	// DefaultPriceAuthority names which platform's price is authoritative and
	// always propagates outward on drift. Empty (the spec §4.5/§6 default)
	// means no platform is authoritative: canonical base_price always wins and
	// every platform's drift is corrected back to it.
	DefaultPriceAuthority string `mapstructure:"default_price_authority"`

	// CategoryMapPath points at the YAML fixture internal/categorymap loads
	// at startup.
	CategoryMapPath string `mapstructure:"category_map_path"`
}

// ReverbConfig holds P2 (Reverb-shaped) credentials.
type ReverbConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// EbayConfig holds P1 (eBay-shaped) Trading API credentials.
type EbayConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	DevID    string `mapstructure:"dev_id"`
	AppID    string `mapstructure:"app_id"`
	CertID   string `mapstructure:"cert_id"`
	OAuthClientID     string `mapstructure:"oauth_client_id"`
	OAuthClientSecret string `mapstructure:"oauth_client_secret"`
	OAuthRefreshToken string `mapstructure:"oauth_refresh_token"`
}

// ShopifyConfig holds P3 (Shopify-shaped) Admin API credentials.
type ShopifyConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
}

// VintageAndRareConfig holds P4 session credentials.
type VintageAndRareConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Load reads a .env file if present, then builds Config from environment
// variables, applying the defaults below for anything unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvPrefix("")

	_ = v.BindEnv("app.name", "APP_NAME")
	_ = v.BindEnv("app.env", "APP_ENV")
	_ = v.BindEnv("app.log_level", "LOG_LEVEL")
	_ = v.BindEnv("app.schema_version", "APP_SCHEMA_VERSION")

	_ = v.BindEnv("database.host", "DB_HOST")
	_ = v.BindEnv("database.port", "DB_PORT")
	_ = v.BindEnv("database.user", "DB_USER")
	_ = v.BindEnv("database.password", "DB_PASSWORD")
	_ = v.BindEnv("database.name", "DB_NAME")
	_ = v.BindEnv("database.ssl_mode", "DB_SSLMODE")

	_ = v.BindEnv("redis.host", "REDIS_HOST")
	_ = v.BindEnv("redis.port", "REDIS_PORT")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")

	_ = v.BindEnv("sync.detection_concurrency", "SYNC_DETECTION_CONCURRENCY")
	_ = v.BindEnv("sync.dispatch_concurrency", "SYNC_DISPATCH_CONCURRENCY")
	_ = v.BindEnv("sync.per_adapter_call_timeout", "SYNC_PER_ADAPTER_CALL_TIMEOUT")
	_ = v.BindEnv("sync.per_detection_task_timeout", "SYNC_PER_DETECTION_TASK_TIMEOUT")
	_ = v.BindEnv("sync.per_run_timeout", "SYNC_PER_RUN_TIMEOUT")
	_ = v.BindEnv("sync.price_match_epsilon", "SYNC_PRICE_MATCH_EPSILON")
	_ = v.BindEnv("sync.matcher_confidence_threshold", "SYNC_MATCHER_CONFIDENCE_THRESHOLD")
	_ = v.BindEnv("sync.default_price_authority", "SYNC_DEFAULT_PRICE_AUTHORITY")
	_ = v.BindEnv("sync.category_map_path", "SYNC_CATEGORY_MAP_PATH")

	_ = v.BindEnv("reverb.base_url", "REVERB_BASE_URL")
	_ = v.BindEnv("reverb.token", "REVERB_TOKEN")

	_ = v.BindEnv("ebay.endpoint", "EBAY_ENDPOINT")
	_ = v.BindEnv("ebay.dev_id", "EBAY_DEV_ID")
	_ = v.BindEnv("ebay.app_id", "EBAY_APP_ID")
	_ = v.BindEnv("ebay.cert_id", "EBAY_CERT_ID")
	_ = v.BindEnv("ebay.oauth_client_id", "EBAY_OAUTH_CLIENT_ID")
	_ = v.BindEnv("ebay.oauth_client_secret", "EBAY_OAUTH_CLIENT_SECRET")
	_ = v.BindEnv("ebay.oauth_refresh_token", "EBAY_OAUTH_REFRESH_TOKEN")

	_ = v.BindEnv("shopify.endpoint", "SHOPIFY_ENDPOINT")
	_ = v.BindEnv("shopify.token", "SHOPIFY_TOKEN")

	_ = v.BindEnv("vintageandrare.base_url", "VANDR_BASE_URL")
	_ = v.BindEnv("vintageandrare.username", "VANDR_USERNAME")
	_ = v.BindEnv("vintageandrare.password", "VANDR_PASSWORD")

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "marketsync")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.schema_version", "1.0.0")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("sync.detection_concurrency", 4)
	v.SetDefault("sync.dispatch_concurrency", 8)
	v.SetDefault("sync.per_adapter_call_timeout", 60*time.Second)
	v.SetDefault("sync.per_detection_task_timeout", 15*time.Minute)
	v.SetDefault("sync.per_run_timeout", 60*time.Minute)
	v.SetDefault("sync.price_match_epsilon", 0.01)
	v.SetDefault("sync.matcher_confidence_threshold", 50)
	v.SetDefault("sync.default_price_authority", "")
	v.SetDefault("sync.category_map_path", "configs/platform_category_map.yaml")
}
