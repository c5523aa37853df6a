package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the harness looks for its configuration file.
const DefaultPath = "config/config.yml"

type Config struct {
	App      AppConfig      `yaml:"app"`
	Product  string         `yaml:"product"`
	Shops    ShopsConfig    `yaml:"shops"`
	Discount DiscountConfig `yaml:"discount"`
	Finder   FinderConfig   `yaml:"finder"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Writer   WriterConfig   `yaml:"writer"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// LatencyConfig describes the simulated network delay of a remote call.
// Mode is one of "fixed", "random" or "none"; random draws from [Min, Max].
type LatencyConfig struct {
	Mode  string        `yaml:"mode"`
	Fixed time.Duration `yaml:"fixed"`
	Min   time.Duration `yaml:"min"`
	Max   time.Duration `yaml:"max"`
}

type ShopsConfig struct {
	Names         []string      `yaml:"names"`
	DiscountCodes bool          `yaml:"discount_codes"`
	FailureRate   float64       `yaml:"failure_rate"`
	Latency       LatencyConfig `yaml:"latency"`
}

type DiscountConfig struct {
	Latency LatencyConfig `yaml:"latency"`
}

type FinderConfig struct {
	Strategies []string        `yaml:"strategies"`
	PoolSize   int             `yaml:"pool_size"`
	Timeout    time.Duration   `yaml:"timeout"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
	Retry      RetryConfig     `yaml:"retry"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type WriterConfig struct {
	Partitioning PartitioningConfig `yaml:"partitioning"`
	Formats      FormatsConfig      `yaml:"formats"`
}

type PartitioningConfig struct {
	TimeFormat     string   `yaml:"time_format"`
	AdditionalKeys []string `yaml:"additional_keys"`
}

type FormatsConfig struct {
	Parquet ParquetConfig `yaml:"parquet"`
}

type ParquetConfig struct {
	Compression string `yaml:"compression"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Default returns the configuration used when no file is present: the four
// shops of the original exercise, one second of latency per remote call and
// all three strategies.
func Default() Config {
	return Config{
		App:     AppConfig{Name: "bestprice", Version: "1.0.0"},
		Product: "myPhone27S",
		Shops: ShopsConfig{
			Names:         []string{"BestPrice", "LetsSaveBig", "MyFavoriteShop", "BuyItAll"},
			DiscountCodes: true,
			Latency:       LatencyConfig{Mode: "fixed", Fixed: time.Second},
		},
		Discount: DiscountConfig{
			Latency: LatencyConfig{Mode: "fixed", Fixed: time.Second},
		},
		Finder: FinderConfig{
			Strategies: []string{"sequential", "concurrent", "pipelined"},
			Timeout:    5 * time.Second,
			RateLimit:  RateLimitConfig{BurstSize: 1},
			Retry: RetryConfig{
				MaxAttempts:       1,
				BaseDelay:         100 * time.Millisecond,
				MaxDelay:          time.Second,
				BackoffMultiplier: 2,
			},
		},
		Metrics: MetricsConfig{
			CloudWatch: CloudWatchConfig{Namespace: "BestPrice", Dashboard: "BestPrice"},
		},
		Writer: WriterConfig{
			Partitioning: PartitioningConfig{
				TimeFormat:     "year={year}/month={month}/day={day}/hour={hour}",
				AdditionalKeys: []string{"product", "strategy"},
			},
			Formats: FormatsConfig{Parquet: ParquetConfig{Compression: "snappy"}},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stderr"},
	}
}

// LoadConfig reads path over Default, applies environment overrides and
// validates the result. When APP_ENV names an environment with its own file
// (config/config.<env>.yml) and path is the default, that file is used.
func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, DefaultPath, envSpecificPaths(DefaultPath))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// FromDefaults returns Default with environment overrides applied, for runs
// without a configuration file.
func FromDefaults() (*Config, error) {
	config := Default()
	applyEnvOverrides(&config)
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("BESTPRICE_PRODUCT"); v != "" {
		config.Product = strings.TrimSpace(v)
	}

	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if config.Metrics.CloudWatch.Enabled && config.Metrics.CloudWatch.Region == "" {
		config.Metrics.CloudWatch.Region = os.Getenv("AWS_REGION")
	}
}

var validStrategies = map[string]bool{"sequential": true, "concurrent": true, "pipelined": true}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if strings.TrimSpace(cfg.Product) == "" {
		return fmt.Errorf("product is required")
	}

	if len(cfg.Shops.Names) == 0 {
		return fmt.Errorf("shops.names must list at least one shop")
	}
	seen := make(map[string]bool, len(cfg.Shops.Names))
	for _, name := range cfg.Shops.Names {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("shops.names must not contain empty names")
		}
		if strings.Contains(name, ":") {
			return fmt.Errorf("shop name %q must not contain ':'", name)
		}
		if seen[name] {
			return fmt.Errorf("shop %q is listed twice", name)
		}
		seen[name] = true
	}
	if cfg.Shops.FailureRate < 0 || cfg.Shops.FailureRate > 1 {
		return fmt.Errorf("shops.failure_rate must be within [0, 1]")
	}
	if err := validateLatency("shops.latency", cfg.Shops.Latency); err != nil {
		return err
	}
	if err := validateLatency("discount.latency", cfg.Discount.Latency); err != nil {
		return err
	}

	if len(cfg.Finder.Strategies) == 0 {
		return fmt.Errorf("finder.strategies must list at least one strategy")
	}
	for _, s := range cfg.Finder.Strategies {
		if !validStrategies[strings.ToLower(s)] {
			return fmt.Errorf("finder.strategies: unknown strategy '%s'", s)
		}
	}
	if cfg.Finder.PoolSize < 0 {
		return fmt.Errorf("finder.pool_size must not be negative")
	}
	if cfg.Finder.Timeout < 0 {
		return fmt.Errorf("finder.timeout must not be negative")
	}
	if cfg.Finder.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("finder.rate_limit.requests_per_second must not be negative")
	}
	if cfg.Finder.Retry.MaxAttempts < 1 {
		return fmt.Errorf("finder.retry.max_attempts must be at least 1")
	}
	if cfg.Finder.Retry.MaxDelay < cfg.Finder.Retry.BaseDelay {
		return fmt.Errorf("finder.retry.max_delay must not be less than base_delay")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

func validateLatency(key string, l LatencyConfig) error {
	switch strings.ToLower(l.Mode) {
	case "", "none":
		return nil
	case "fixed":
		if l.Fixed < 0 {
			return fmt.Errorf("%s.fixed must not be negative", key)
		}
	case "random":
		if l.Min < 0 || l.Max < l.Min {
			return fmt.Errorf("%s requires 0 <= min <= max", key)
		}
	default:
		return fmt.Errorf("%s.mode '%s' is invalid", key, l.Mode)
	}
	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
