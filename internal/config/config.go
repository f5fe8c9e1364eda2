package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultWarehouse is used when no warehouse is configured anywhere.
const DefaultWarehouse = "FIVETRAN_WAREHOUSE"

// ErrMissingCredentials is returned when the warehouse account, user or password
// cannot be resolved from any configuration layer.
var ErrMissingCredentials = errors.New("missing snowflake credentials")

// Config captures the runtime configuration for the monitor service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Snowflake     SnowflakeConfig     `mapstructure:"snowflake"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Dashboard     DashboardConfig     `mapstructure:"dashboard"`
	RateLimits    RateLimitConfig     `mapstructure:"rate_limits"`
	Health        HealthConfig        `mapstructure:"health"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Logging       LoggingConfig       `mapstructure:"logging"`

	// Warnings lists recoverable problems hit while loading optional layers.
	Warnings []string `mapstructure:"-"`
}

// HealthConfig drives the background reachability checks behind /healthz.
type HealthConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	WriteTimeout          time.Duration `mapstructure:"write_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

type SnowflakeConfig struct {
	Account   string `mapstructure:"account"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	Warehouse string `mapstructure:"warehouse"`
	Database  string `mapstructure:"database"`
	Schema    string `mapstructure:"schema"`
	Role      string `mapstructure:"role"`

	QueryTimeout        time.Duration `mapstructure:"query_timeout"`
	MaxOpenConns        int           `mapstructure:"max_open_conns"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime     time.Duration `mapstructure:"conn_max_lifetime"`
	MaxQueriesPerSecond float64       `mapstructure:"max_queries_per_second"`
}

type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend  string        `mapstructure:"backend"`
	TTL      time.Duration `mapstructure:"ttl"`
	LiveTTL  time.Duration `mapstructure:"live_ttl"`
	Capacity uint64        `mapstructure:"capacity"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type DashboardConfig struct {
	Timezone               string `mapstructure:"timezone"`
	DefaultPreset          string `mapstructure:"default_preset"`
	DefaultFallbackMinutes int    `mapstructure:"default_fallback_minutes"`
	MaxConcurrentViews     int    `mapstructure:"max_concurrent_views"`
}

type RateLimitConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	RequestsPerMinute  int  `mapstructure:"requests_per_minute"`
	RefreshesPerMinute int  `mapstructure:"refreshes_per_minute"`
	ParallelRequests   int  `mapstructure:"parallel_requests"`
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile  string
	SecretsFile string
	EnvFile     string
}

// snowflakeEnv maps the connection keys onto their conventional environment names.
var snowflakeEnv = map[string]string{
	"account":   "SNOWFLAKE_ACCOUNT",
	"user":      "SNOWFLAKE_USER",
	"password":  "SNOWFLAKE_PASSWORD",
	"warehouse": "SNOWFLAKE_WAREHOUSE",
	"database":  "SNOWFLAKE_DATABASE",
	"schema":    "SNOWFLAKE_SCHEMA",
	"role":      "SNOWFLAKE_ROLE",
}

// Load resolves the configuration from defaults, the config file, the secrets file
// and the environment, in that order of precedence (last wins).
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	var warnings []string

	configFile := opts.ConfigFile
	if configFile == "" {
		configFile = os.Getenv("MONITOR_CONFIG_FILE")
	}
	if configFile == "" {
		configFile = "config.json"
	}
	if settings, warning := readLayer(configFile); warning != "" {
		warnings = append(warnings, warning)
	} else if settings != nil {
		if err := v.MergeConfigMap(liftFlatSnowflakeKeys(settings)); err != nil {
			warnings = append(warnings, fmt.Sprintf("config file %s ignored: %v", configFile, err))
		}
	}

	for _, secretsFile := range secretsCandidates(opts.SecretsFile) {
		settings, warning := readLayer(secretsFile)
		if warning != "" {
			warnings = append(warnings, warning)
			break
		}
		if settings == nil {
			continue
		}
		section, ok := settings["snowflake"].(map[string]any)
		if ok {
			if err := v.MergeConfigMap(map[string]any{"snowflake": section}); err != nil {
				warnings = append(warnings, fmt.Sprintf("secrets file %s ignored: %v", secretsFile, err))
			}
		}
		break
	}

	v.SetEnvPrefix("MONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range snowflakeEnv {
		_ = v.BindEnv("snowflake."+key, env, "MONITOR_SNOWFLAKE_"+strings.ToUpper(key))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Warnings = warnings

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set and fills derived defaults.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Snowflake.Account) == "" {
		missing = append(missing, "SNOWFLAKE_ACCOUNT")
	}
	if strings.TrimSpace(c.Snowflake.User) == "" {
		missing = append(missing, "SNOWFLAKE_USER")
	}
	if c.Snowflake.Password == "" {
		missing = append(missing, "SNOWFLAKE_PASSWORD")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}

	c.Snowflake.Warehouse = strings.TrimSpace(c.Snowflake.Warehouse)
	if c.Snowflake.Warehouse == "" {
		c.Snowflake.Warehouse = DefaultWarehouse
	}
	if c.Snowflake.MaxQueriesPerSecond < 0 {
		return fmt.Errorf("snowflake.max_queries_per_second must be >= 0")
	}

	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	switch c.Cache.Backend {
	case "":
		c.Cache.Backend = "memory"
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be memory or redis")
	}
	if c.Cache.Backend == "redis" && strings.TrimSpace(c.Redis.URL) == "" {
		return fmt.Errorf("redis.url must be provided when cache.backend is redis")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}
	if c.Cache.LiveTTL <= 0 {
		return fmt.Errorf("cache.live_ttl must be > 0")
	}
	if c.RateLimits.Enabled {
		if strings.TrimSpace(c.Redis.URL) == "" {
			return fmt.Errorf("redis.url must be provided when rate_limits.enabled is true")
		}
		if c.RateLimits.RequestsPerMinute <= 0 {
			return fmt.Errorf("rate_limits.requests_per_minute must be > 0")
		}
		if c.RateLimits.RefreshesPerMinute < 0 || c.RateLimits.ParallelRequests < 0 {
			return fmt.Errorf("rate_limits values must be >= 0")
		}
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}

	tz := strings.TrimSpace(c.Dashboard.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("invalid dashboard.timezone: %w", err)
	}
	c.Dashboard.Timezone = tz

	switch c.Dashboard.DefaultPreset {
	case "24h", "7d", "30d":
	default:
		return fmt.Errorf("dashboard.default_preset must be one of 24h, 7d, 30d")
	}
	switch c.Dashboard.DefaultFallbackMinutes {
	case 15, 30, 60, 120:
	default:
		return fmt.Errorf("dashboard.default_fallback_minutes must be one of 15, 30, 60, 120")
	}
	if c.Dashboard.MaxConcurrentViews <= 0 {
		c.Dashboard.MaxConcurrentViews = 4
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text")
	}
	return nil
}

// Location returns the dashboard reporting timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Dashboard.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Redacted returns a copy with secrets masked, suitable for printing.
func (c Config) Redacted() Config {
	out := c
	if out.Snowflake.Password != "" {
		out.Snowflake.Password = "********"
	}
	if out.Redis.URL != "" {
		out.Redis.URL = redactURL(out.Redis.URL)
	}
	out.Warnings = append([]string(nil), c.Warnings...)
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("snowflake.account", "")
	v.SetDefault("snowflake.user", "")
	v.SetDefault("snowflake.password", "")
	v.SetDefault("snowflake.warehouse", DefaultWarehouse)
	v.SetDefault("snowflake.database", "")
	v.SetDefault("snowflake.schema", "")
	v.SetDefault("snowflake.role", "")
	v.SetDefault("snowflake.query_timeout", "120s")
	v.SetDefault("snowflake.max_open_conns", 4)
	v.SetDefault("snowflake.max_idle_conns", 2)
	v.SetDefault("snowflake.conn_max_lifetime", "30m")
	v.SetDefault("snowflake.max_queries_per_second", 0)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "300s")
	v.SetDefault("cache.live_ttl", "60s")
	v.SetDefault("cache.capacity", 1024)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("dashboard.timezone", "UTC")
	v.SetDefault("dashboard.default_preset", "7d")
	v.SetDefault("dashboard.default_fallback_minutes", 60)
	v.SetDefault("dashboard.max_concurrent_views", 4)

	v.SetDefault("rate_limits.enabled", false)
	v.SetDefault("rate_limits.requests_per_minute", 120)
	v.SetDefault("rate_limits.refreshes_per_minute", 2)
	v.SetDefault("rate_limits.parallel_requests", 2)

	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.enable_metrics", true)

	v.SetDefault("health.check_interval", "30s")
	v.SetDefault("health.timeout", "5s")
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// readLayer loads an optional config file. A missing file yields (nil, "");
// an unreadable or malformed one yields a warning and no settings.
func readLayer(path string) (map[string]any, string) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ""
		}
		return nil, fmt.Sprintf("config file %s ignored: %v", path, err)
	}
	layer := viper.New()
	layer.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		layer.SetConfigType("json")
	}
	if err := layer.ReadInConfig(); err != nil {
		return nil, fmt.Sprintf("config file %s ignored: %v", path, err)
	}
	return layer.AllSettings(), ""
}

// liftFlatSnowflakeKeys accepts a file with connection keys at the top level and
// moves them under the snowflake section. Nested values take precedence.
func liftFlatSnowflakeKeys(settings map[string]any) map[string]any {
	section, _ := settings["snowflake"].(map[string]any)
	if section == nil {
		section = map[string]any{}
	}
	lifted := false
	for key := range snowflakeEnv {
		val, ok := settings[key]
		if !ok {
			continue
		}
		delete(settings, key)
		if _, exists := section[key]; !exists {
			section[key] = val
		}
		lifted = true
	}
	if lifted || len(section) > 0 {
		settings["snowflake"] = section
	}
	return settings
}

func secretsCandidates(explicit string) []string {
	if explicit != "" {
		return []string{explicit}
	}
	if env := os.Getenv("MONITOR_SECRETS_FILE"); env != "" {
		return []string{env}
	}
	return []string{"secrets.toml", filepath.Join(".streamlit", "secrets.toml")}
}

func redactURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	return raw[:scheme+3] + "****" + raw[at:]
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
