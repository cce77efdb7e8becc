package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SXAPI_API_EMAIL.
const EnvPrefix = "SXAPI"

const (
	defaultPublicEndpoint = "https://api.smaxtec.com/api/v1"
	maxPageSize           = 1000
)

// Load loads the configuration from file, .env and environment.
// Without an explicit path a missing config file is not an error, so the
// client can run from environment variables alone.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	// Set default values
	setDefaults(v)
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in standard locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		// Check current directory first
		v.AddConfigPath(".")

		// Check home directory
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".sxapi"))
		}

		// Check /etc
		v.AddConfigPath("/etc/sxapi/")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv exports the variables of a .env file that are not already set
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("error reading %s: %w", path, err)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// API defaults
	v.SetDefault("api.public_endpoint", defaultPublicEndpoint)
	v.SetDefault("api.intern_endpoint", "")
	v.SetDefault("api.email", "")
	v.SetDefault("api.password", "")
	v.SetDefault("api.api_key", "")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.page_size", 100)
	v.SetDefault("api.chunk_days", 100)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.color", true)
}

// bindEnv maps SXAPI_<SECTION>_<KEY> onto every config key
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// api.api_key would otherwise read SXAPI_API_API_KEY
	_ = v.BindEnv("api.api_key", EnvPrefix+"_API_KEY", EnvPrefix+"_API_API_KEY")
}

// validate checks if the configuration is valid
func validate(cfg *Config) error {
	if err := checkEndpoint("api.public_endpoint", cfg.API.PublicEndpoint); err != nil {
		return err
	}

	if cfg.API.InternEndpoint != "" {
		if err := checkEndpoint("api.intern_endpoint", cfg.API.InternEndpoint); err != nil {
			return err
		}
	}

	if cfg.API.PageSize < 1 || cfg.API.PageSize > maxPageSize {
		return fmt.Errorf("api.page_size must be between 1 and %d, got %d", maxPageSize, cfg.API.PageSize)
	}

	if cfg.API.ChunkDays < 1 {
		return fmt.Errorf("api.chunk_days must be at least 1, got %d", cfg.API.ChunkDays)
	}

	if cfg.API.Timeout < 0 {
		return fmt.Errorf("api.timeout must not be negative")
	}

	// Validate logging level
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", cfg.Logging.Level)
	}

	// Validate logging format
	validFormats := map[string]bool{
		"console": true,
		"json":    true,
	}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s", cfg.Logging.Format)
	}

	return nil
}

func checkEndpoint(key, endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", key, endpoint)
	}
	return nil
}
