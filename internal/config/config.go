package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Batch    BatchConfig   `yaml:"batch"`
	Browser  BrowserConfig `yaml:"browser"`
	Session  SessionConfig `yaml:"session"`
	Server   ServerConfig  `yaml:"server"`
	Redis    RedisConfig   `yaml:"redis"`
	LogLevel string        `yaml:"log_level"`
}

// BatchConfig holds the batch loop tuning
type BatchConfig struct {
	RootFolder      string        `yaml:"root_folder"`
	SelectedFolders []string      `yaml:"selected_folders"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	SettleDelay     time.Duration `yaml:"settle_delay"`
	SubmitSettle    time.Duration `yaml:"submit_settle"`
	StaleAfter      time.Duration `yaml:"stale_after"`
	FolderTimeout   time.Duration `yaml:"folder_timeout"`
	ActiveScanLimit int           `yaml:"active_scan_limit"`
	OutputExt       string        `yaml:"output_ext"`
	AutoStart       bool          `yaml:"auto_start"`
}

// BrowserConfig holds the remote session driver configuration
type BrowserConfig struct {
	Driver          string        `yaml:"driver"` // chrome or sim
	Headless        bool          `yaml:"headless"`
	BaseURL         string        `yaml:"base_url"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	SimRenderTime   time.Duration `yaml:"sim_render_time"`
}

// SessionConfig holds where the login session is persisted
type SessionConfig struct {
	Backend   string `yaml:"backend"` // file or redis
	Path      string `yaml:"path"`
	RedisKey  string `yaml:"redis_key"`
	KeysetB64 string `yaml:"keyset_b64"` // optional tink keyset, seals the blob at rest
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         int `yaml:"port"`
	ReadTimeout  int `yaml:"read_timeout"`
	WriteTimeout int `yaml:"write_timeout"`
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ConsumerGroup string `yaml:"consumer_group"`
	ConsumerName  string `yaml:"consumer_name"`
}

const (
	DriverChrome = "chrome"
	DriverSim    = "sim"

	BackendFile  = "file"
	BackendRedis = "redis"
)

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Batch: BatchConfig{
			MaxConcurrent:   2,
			PollInterval:    10 * time.Second,
			SettleDelay:     2 * time.Second,
			SubmitSettle:    4 * time.Second,
			StaleAfter:      30 * time.Minute,
			FolderTimeout:   20 * time.Minute,
			ActiveScanLimit: 36,
			OutputExt:       ".mp4",
		},
		Browser: BrowserConfig{
			Driver:          DriverChrome,
			BaseURL:         "https://higgsfield.ai/create/video",
			DownloadTimeout: 90 * time.Second,
			SimRenderTime:   5 * time.Second,
		},
		Session: SessionConfig{
			Backend:  BackendFile,
			Path:     "state.json",
			RedisKey: "batcher:session",
		},
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  10,
			WriteTimeout: 10,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			ConsumerGroup: "batcher",
		},
		LogLevel: "info",
	}
}

// Load loads configuration from built-in defaults, an optional YAML file
// named by CONFIG_FILE, then environment variables, in rising precedence.
func Load() (*Config, error) {
	// Load .env file if it exists (optional)
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	b := &c.Batch
	b.RootFolder = getEnv("ROOT_FOLDER", b.RootFolder)
	b.SelectedFolders = getEnvAsList("SELECTED_FOLDERS", b.SelectedFolders)
	b.MaxConcurrent = getEnvAsInt("MAX_CONCURRENT", b.MaxConcurrent)
	b.PollInterval = getEnvAsDuration("POLL_INTERVAL_SECONDS", b.PollInterval)
	b.SettleDelay = getEnvAsDuration("SETTLE_DELAY_SECONDS", b.SettleDelay)
	b.SubmitSettle = getEnvAsDuration("SUBMIT_SETTLE_SECONDS", b.SubmitSettle)
	b.StaleAfter = getEnvAsDuration("STALE_AFTER_SECONDS", b.StaleAfter)
	b.FolderTimeout = getEnvAsDuration("FOLDER_TIMEOUT_SECONDS", b.FolderTimeout)
	b.ActiveScanLimit = getEnvAsInt("ACTIVE_SCAN_LIMIT", b.ActiveScanLimit)
	b.OutputExt = getEnv("OUTPUT_EXT", b.OutputExt)
	b.AutoStart = getEnvAsBool("AUTO_START", b.AutoStart)

	br := &c.Browser
	br.Driver = getEnv("BROWSER_DRIVER", br.Driver)
	br.Headless = getEnvAsBool("HEADLESS", br.Headless)
	br.BaseURL = getEnv("BROWSER_BASE_URL", br.BaseURL)
	br.DownloadTimeout = getEnvAsDuration("BROWSER_DOWNLOAD_TIMEOUT_SECONDS", br.DownloadTimeout)
	br.SimRenderTime = getEnvAsDuration("SIM_RENDER_SECONDS", br.SimRenderTime)

	s := &c.Session
	s.Backend = getEnv("SESSION_BACKEND", s.Backend)
	s.Path = getEnv("SESSION_PATH", s.Path)
	s.RedisKey = getEnv("SESSION_REDIS_KEY", s.RedisKey)
	s.KeysetB64 = getEnv("SESSION_KEYSET_B64", s.KeysetB64)

	c.Server.Port = getEnvAsInt("SERVER_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvAsInt("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvAsInt("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)

	r := &c.Redis
	r.Enabled = getEnvAsBool("REDIS_ENABLED", r.Enabled)
	if os.Getenv("REDIS_URL") != "" || os.Getenv("REDIS_ADDR") != "" {
		r.Addr = getRedisAddr()
	}
	r.Password = getEnv("REDIS_PASSWORD", r.Password)
	r.DB = getEnvAsInt("REDIS_DB", r.DB)
	r.ConsumerGroup = getEnv("REDIS_CONSUMER_GROUP", r.ConsumerGroup)
	r.ConsumerName = getEnv("REDIS_CONSUMER_NAME", r.ConsumerName)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate checks the settings the worker cannot run without
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Batch.RootFolder) == "" {
		errs = append(errs, errors.New("ROOT_FOLDER is required"))
	}
	if c.Batch.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("max concurrent must be at least 1, got %d", c.Batch.MaxConcurrent))
	}
	if c.Batch.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.Batch.PollInterval))
	}
	if c.Batch.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("settle delay must not be negative, got %s", c.Batch.SettleDelay))
	}
	if c.Batch.SubmitSettle < 0 {
		errs = append(errs, fmt.Errorf("submit settle must not be negative, got %s", c.Batch.SubmitSettle))
	}
	switch c.Browser.Driver {
	case DriverChrome, DriverSim:
	default:
		errs = append(errs, fmt.Errorf("unknown browser driver %q", c.Browser.Driver))
	}
	switch c.Session.Backend {
	case BackendFile, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown session backend %q", c.Session.Backend))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as bool or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsFloat gets an environment variable as float64 or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvAsDuration reads a number of seconds, or a Go duration string such as "1m30s"
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds := getEnvAsFloat(key, -1); seconds >= 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// getRedisAddr resolves the Redis address from REDIS_URL or REDIS_ADDR
func getRedisAddr() string {
	if url := os.Getenv("REDIS_URL"); url != "" {
		return strings.TrimPrefix(url, "redis://")
	}
	return getEnv("REDIS_ADDR", "localhost:6379")
}
