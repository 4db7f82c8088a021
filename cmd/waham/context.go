package main

import (
	"strings"
	"sync"

	"log/slog"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/catalog"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/config"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) openStore() (*catalog.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return catalog.Open(cfg)
}

// cliLogger keeps interactive output readable: warnings and errors only.
func (c *commandContext) cliLogger() *slog.Logger {
	logger, err := logging.New(logging.Options{Level: "warn", Format: "console", OutputPaths: []string{"stderr"}})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}
