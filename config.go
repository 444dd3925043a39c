package focuslog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPoolSize       = 5
	DefaultFlushThreshold = 50
	DefaultBusyTimeout    = 5 * time.Second
)

// Environment overrides, applied after the config file.
const (
	PoolSizeKey       = "FOCUSLOG_POOL_SIZE"
	FlushThresholdKey = "FOCUSLOG_FLUSH_THRESHOLD"
	StoragePathKey    = "FOCUSLOG_DB_PATH"
	AcquireTimeoutKey = "FOCUSLOG_ACQUIRE_TIMEOUT"
	BusyTimeoutKey    = "FOCUSLOG_BUSY_TIMEOUT"
	LogLevelKey       = "FOCUSLOG_LOG_LEVEL"
	OTLPEndpointKey   = "FOCUSLOG_OTLP_ENDPOINT"
	OTLPInsecureKey   = "FOCUSLOG_OTLP_INSECURE"
)

type Config struct {
	// PoolSize is the number of connections kept warm.
	PoolSize int `yaml:"pool_size"`
	// FlushThreshold is the buffered event count that triggers an auto-flush.
	FlushThreshold int    `yaml:"flush_threshold"`
	StoragePath    string `yaml:"storage_path"`
	// AcquireTimeout bounds how long Acquire waits for a free connection.
	// Zero waits until the caller's context is done.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	BusyTimeout    time.Duration `yaml:"busy_timeout"`

	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return Config{
		PoolSize:       DefaultPoolSize,
		FlushThreshold: DefaultFlushThreshold,
		StoragePath:    filepath.Join(home, ".local", "share", "focuslog", "focuslog.db"),
		BusyTimeout:    DefaultBusyTimeout,
		LogLevel:       "info",
	}
}

// LoadConfig builds a Config from defaults, the YAML file at path (if it
// exists) and FOCUSLOG_* environment variables, in that order. envFiles are
// loaded into the environment first; ".env" when none are given.
func LoadConfig(path string, envFiles ...string) (Config, error) {
	_ = godotenv.Load(envFiles...)

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.StoragePath = expandTilde(cfg.StoragePath)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be at least 1, got %d", c.PoolSize)
	}
	if c.FlushThreshold < 1 {
		return fmt.Errorf("flush_threshold must be at least 1, got %d", c.FlushThreshold)
	}
	if c.StoragePath == "" {
		return fmt.Errorf("required config: storage_path (or %s)", StoragePathKey)
	}
	if c.AcquireTimeout < 0 || c.BusyTimeout < 0 {
		return fmt.Errorf("timeouts must be non-negative")
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(PoolSizeKey); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", PoolSizeKey, err)
		}
		c.PoolSize = n
	}
	if v := os.Getenv(FlushThresholdKey); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", FlushThresholdKey, err)
		}
		c.FlushThreshold = n
	}
	if v := os.Getenv(StoragePathKey); v != "" {
		c.StoragePath = v
	}
	if v := os.Getenv(AcquireTimeoutKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", AcquireTimeoutKey, err)
		}
		c.AcquireTimeout = d
	}
	if v := os.Getenv(BusyTimeoutKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", BusyTimeoutKey, err)
		}
		c.BusyTimeout = d
	}
	if v := os.Getenv(LogLevelKey); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(OTLPEndpointKey); v != "" {
		c.OTLPEndpoint = v
	}
	if v := os.Getenv(OTLPInsecureKey); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", OTLPInsecureKey, err)
		}
		c.OTLPInsecure = b
	}
	return nil
}

func expandTilde(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
