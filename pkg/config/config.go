package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the archive crawler
type Config struct {
	// Document source (archive site + browser driver) settings
	Source SourceConfig `yaml:"source" json:"source"`

	// Crawl phase settings
	Crawl CrawlConfig `yaml:"crawl" json:"crawl"`

	// Rate limiting for page navigations
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Input settings
	Input InputConfig `yaml:"input" json:"input"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// SourceConfig holds archive-site and browser-driver configuration
type SourceConfig struct {
	Homepage          string        `yaml:"homepage" json:"homepage"`
	ChromePath        string        `yaml:"chrome_path" json:"chrome_path"`
	Headless          bool          `yaml:"headless" json:"headless"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" json:"navigation_timeout"`
}

// CrawlConfig holds crawl-phase configuration
type CrawlConfig struct {
	Workers      int           `yaml:"workers" json:"workers"`
	WaitTimeout  time.Duration `yaml:"wait_timeout" json:"wait_timeout"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	WaitAll      bool          `yaml:"wait_all" json:"wait_all"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int `yaml:"burst_size" json:"burst_size"`
}

// RefillPeriod converts the per-minute navigation budget into the token
// refill interval used by the limiter
func (r RateLimitConfig) RefillPeriod() time.Duration {
	if r.RequestsPerMinute <= 0 {
		return time.Second
	}
	return time.Minute / time.Duration(r.RequestsPerMinute)
}

// InputConfig holds input file configuration
type InputConfig struct {
	Files []string `yaml:"files" json:"files"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			Homepage:          "https://archive-binyan.tel-aviv.gov.il",
			Headless:          true,
			NavigationTimeout: 45 * time.Second,
		},
		Crawl: CrawlConfig{
			Workers:      8,
			WaitTimeout:  120 * time.Second,
			PollInterval: 10 * time.Second,
			WaitAll:      true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
		Output: OutputConfig{
			BaseDirectory: "./output",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if homepage := os.Getenv("ARCHIVECRAWL_HOMEPAGE"); homepage != "" {
		c.Source.Homepage = homepage
	}
	if chrome := os.Getenv("ARCHIVECRAWL_CHROME_PATH"); chrome != "" {
		c.Source.ChromePath = chrome
	}
	if workers := os.Getenv("ARCHIVECRAWL_WORKERS"); workers != "" {
		var val int
		fmt.Sscanf(workers, "%d", &val)
		if val > 0 {
			c.Crawl.Workers = val
		}
	}
	if rpm := os.Getenv("ARCHIVECRAWL_REQUESTS_PER_MINUTE"); rpm != "" {
		var val int
		fmt.Sscanf(rpm, "%d", &val)
		if val > 0 {
			c.RateLimit.RequestsPerMinute = val
		}
	}
	if inputs := os.Getenv("ARCHIVECRAWL_INPUT_FILES"); inputs != "" {
		c.Input.Files = splitList(inputs)
	}
	if outputDir := os.Getenv("ARCHIVECRAWL_OUTPUT_DIR"); outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if logLevel := os.Getenv("ARCHIVECRAWL_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	// Check in order of precedence
	locations := []string{
		".archivecrawl.yaml",
		".archivecrawl.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "archivecrawl", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".archivecrawl.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Source.Homepage == "" {
		errs = append(errs, errors.New("source homepage is required"))
	}
	if c.Source.NavigationTimeout <= 0 {
		errs = append(errs, errors.New("navigation timeout must be positive"))
	}

	if c.Crawl.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if c.Crawl.WaitTimeout <= 0 {
		errs = append(errs, errors.New("wait timeout must be positive"))
	}
	if c.Crawl.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}

	if len(c.Input.Files) == 0 {
		errs = append(errs, errors.New("at least one input file is required"))
	}
	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if chrome, ok := flags["driver"].(string); ok && chrome != "" {
		c.Source.ChromePath = chrome
	}
	if workers, ok := flags["workers"].(int); ok && workers > 0 {
		c.Crawl.Workers = workers
	}
	if input, ok := flags["input"].(string); ok && input != "" {
		c.Input.Files = splitList(input)
	}
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".archivecrawl.env"))

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Override with command line flags
	config.MergeCommandLineFlags(flags)

	// Validate final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
