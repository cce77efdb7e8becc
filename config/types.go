package config

import "time"

// Config represents the complete configuration structure
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// APIConfig holds the smaXtec endpoints, credentials and request tuning
type APIConfig struct {
	PublicEndpoint string        `mapstructure:"public_endpoint"`
	InternEndpoint string        `mapstructure:"intern_endpoint"`
	Email          string        `mapstructure:"email"`
	Password       string        `mapstructure:"password"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
	PageSize       int           `mapstructure:"page_size"`
	ChunkDays      int           `mapstructure:"chunk_days"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Color  bool   `mapstructure:"color"`
}
