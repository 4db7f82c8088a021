package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Game pins the major game version this instance tracks.
type Game struct {
	VersionNumber string `toml:"version_number"`
	VersionName   string `toml:"version_name"`
}

// Source describes the external scrape source.
type Source struct {
	Name           string `toml:"name"`
	BaseURL        string `toml:"base_url"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Resolver contains identity-resolution policy.
type Resolver struct {
	// ConfidenceThreshold is the minimum similarity score at which an
	// unverified source mapping is created instead of a new canonical entity.
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
}

// Scraper contains ingestion policy.
type Scraper struct {
	// GraceThreshold is the number of consecutive missed scrapes tolerated
	// before an entity is deactivated.
	GraceThreshold int `toml:"grace_threshold"`
	// Parallelism bounds concurrent per-faction resolution workers.
	Parallelism int `toml:"parallelism"`
	// Schedule is a cron expression for the daemon's periodic full crawl.
	Schedule string `toml:"schedule"`
}

// Publisher contains outbound message delivery settings.
type Publisher struct {
	RedisAddr      string `toml:"redis_addr"`
	RedisPassword  string `toml:"redis_password"`
	RedisDB        int    `toml:"redis_db"`
	ChannelPrefix  string `toml:"channel_prefix"`
	MaxRetries     int    `toml:"max_retries"`
	InitialBackoff int    `toml:"initial_backoff_seconds"`
	MaxBackoff     int    `toml:"max_backoff_seconds"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the scraper.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Game      Game      `toml:"game"`
	Source    Source    `toml:"source"`
	Resolver  Resolver  `toml:"resolver"`
	Scraper   Scraper   `toml:"scraper"`
	Publisher Publisher `toml:"publisher"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/waham/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		path = os.Getenv("WAHAM_CONFIG")
	}
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// WriteSample writes the embedded sample configuration to the given path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config already exists at %s", expanded)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func (c *Config) normalize() error {
	expanded, err := expandPath(c.Paths.DataDir)
	if err != nil {
		return err
	}
	c.Paths.DataDir = expanded

	expanded, err = expandPath(c.Paths.LogDir)
	if err != nil {
		return err
	}
	c.Paths.LogDir = expanded

	if addr := os.Getenv("WAHAM_REDIS_ADDR"); addr != "" {
		c.Publisher.RedisAddr = addr
	}
	if password := os.Getenv("WAHAM_REDIS_PASSWORD"); password != "" {
		c.Publisher.RedisPassword = password
	}

	c.Source.Name = strings.TrimSpace(c.Source.Name)
	c.Game.VersionNumber = strings.TrimSpace(c.Game.VersionNumber)
	return nil
}

// EnsureDirectories creates the configured data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the catalog SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "catalog.db")
}

// LockPath returns the daemon's single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "wahamd.lock")
}

func expandPath(pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", nil
	}
	if pathValue == "~" || strings.HasPrefix(pathValue, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			return home, nil
		}
		return filepath.Join(home, pathValue[2:]), nil
	}
	abs, err := filepath.Abs(pathValue)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", pathValue, err)
	}
	return abs, nil
}
