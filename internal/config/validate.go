package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateGame(); err != nil {
		return err
	}
	if err := c.validateSource(); err != nil {
		return err
	}
	if err := c.validateResolver(); err != nil {
		return err
	}
	if err := c.validateScraper(); err != nil {
		return err
	}
	if err := c.validatePublisher(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateGame() error {
	if c.Game.VersionNumber == "" {
		return errors.New("game.version_number must be set")
	}
	return nil
}

func (c *Config) validateSource() error {
	if c.Source.Name == "" {
		return errors.New("source.name must be set")
	}
	if c.Source.RequestTimeout <= 0 {
		return errors.New("source.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateResolver() error {
	if c.Resolver.ConfidenceThreshold < 0 || c.Resolver.ConfidenceThreshold > 1 {
		return errors.New("resolver.confidence_threshold must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateScraper() error {
	if c.Scraper.GraceThreshold < 1 {
		return errors.New("scraper.grace_threshold must be at least 1")
	}
	if c.Scraper.Parallelism < 1 {
		return errors.New("scraper.parallelism must be at least 1")
	}
	if strings.TrimSpace(c.Scraper.Schedule) == "" {
		return errors.New("scraper.schedule must be set")
	}
	return nil
}

func (c *Config) validatePublisher() error {
	if c.Publisher.RedisAddr == "" {
		return errors.New("publisher.redis_addr must be set")
	}
	if c.Publisher.ChannelPrefix == "" {
		return errors.New("publisher.channel_prefix must be set")
	}
	if c.Publisher.MaxRetries < 0 {
		return errors.New("publisher.max_retries must not be negative")
	}
	if c.Publisher.InitialBackoff <= 0 || c.Publisher.MaxBackoff <= 0 {
		return errors.New("publisher backoff values must be positive")
	}
	if c.Publisher.InitialBackoff > c.Publisher.MaxBackoff {
		return fmt.Errorf("publisher.initial_backoff_seconds (%d) exceeds max_backoff_seconds (%d)",
			c.Publisher.InitialBackoff, c.Publisher.MaxBackoff)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
