package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Catalog   CatalogConfig
	Matching  MatchingConfig
	Dataset   DatasetConfig
	Vision    VisionConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// CatalogConfig locates the product catalog snapshot
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// MatchingConfig holds the tunable matching constants. The acceptance floor
// and margin are empirical, not fixed invariants.
type MatchingConfig struct {
	TopK             int     `mapstructure:"top_k"`
	AcceptConfidence float64 `mapstructure:"accept_confidence"`
	AcceptMargin     float64 `mapstructure:"accept_margin"`
	ScoreSaturation  float64 `mapstructure:"score_saturation"`
}

// DatasetConfig holds scan-record persistence configuration
type DatasetConfig struct {
	Dir               string `mapstructure:"dir"`
	EnableScanLogging bool   `mapstructure:"enable_scan_logging"`
	EnableCropLogging bool   `mapstructure:"enable_crop_logging"`
}

// VisionConfig selects and parameterizes the detection provider
type VisionConfig struct {
	Provider          string   `mapstructure:"provider"`
	ConfThreshold     float64  `mapstructure:"conf_threshold"`
	RemoteBaseURL     string   `mapstructure:"remote_base_url"`
	RemotePredictPath string   `mapstructure:"remote_predict_path"`
	RemoteTimeoutMS   int      `mapstructure:"remote_timeout_ms"`
	RemoteRatePerSec  float64  `mapstructure:"remote_rate_per_sec"`
	RemoteBurst       int      `mapstructure:"remote_burst"`
	EnsembleProviders []string `mapstructure:"ensemble_providers"`
}

// RateLimitConfig holds per-IP rate limiting configuration
type RateLimitConfig struct {
	PerIPPerSecond float64 `mapstructure:"per_ip_per_second"`
	Burst          int     `mapstructure:"burst"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/foodscan/")

	// Environment variable settings
	v.SetEnvPrefix("FOODSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set default values
	setDefaults(v)

	// Read config file (optional - will use env vars if file doesn't exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using environment variables and defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Catalog defaults
	v.SetDefault("catalog.path", "data/products.json")

	// Matching defaults
	v.SetDefault("matching.top_k", 5)
	v.SetDefault("matching.accept_confidence", 0.6)
	v.SetDefault("matching.accept_margin", 0.08)
	v.SetDefault("matching.score_saturation", 1.8)

	// Dataset defaults
	v.SetDefault("dataset.dir", "dataset")
	v.SetDefault("dataset.enable_scan_logging", true)
	v.SetDefault("dataset.enable_crop_logging", true)

	// Vision defaults
	v.SetDefault("vision.provider", "dummy")
	v.SetDefault("vision.conf_threshold", 0.35)
	v.SetDefault("vision.remote_base_url", "")
	v.SetDefault("vision.remote_predict_path", "/model/predict")
	v.SetDefault("vision.remote_timeout_ms", 12000)
	v.SetDefault("vision.remote_rate_per_sec", 5.0)
	v.SetDefault("vision.remote_burst", 10)
	v.SetDefault("vision.ensemble_providers", []string{"remote"})

	// Rate limit defaults
	v.SetDefault("ratelimit.per_ip_per_second", 10.0)
	v.SetDefault("ratelimit.burst", 20)
}

// validate validates the configuration
func validate(config *Config) error {
	switch config.Vision.Provider {
	case "dummy", "remote", "ensemble":
	default:
		return fmt.Errorf("vision provider must be 'dummy', 'remote' or 'ensemble', got: %s", config.Vision.Provider)
	}

	if config.Vision.Provider == "remote" && config.Vision.RemoteBaseURL == "" {
		return fmt.Errorf("remote base URL is required when vision provider is 'remote'")
	}

	if config.Matching.TopK < 1 {
		return fmt.Errorf("matching top_k must be at least 1, got: %d", config.Matching.TopK)
	}
	if config.Matching.AcceptConfidence < 0 || config.Matching.AcceptConfidence > 1 {
		return fmt.Errorf("matching accept_confidence must be in [0,1], got: %v", config.Matching.AcceptConfidence)
	}
	if config.Matching.ScoreSaturation <= 0 {
		return fmt.Errorf("matching score_saturation must be positive, got: %v", config.Matching.ScoreSaturation)
	}

	if config.Dataset.Dir == "" {
		return fmt.Errorf("dataset dir is required")
	}

	return nil
}
