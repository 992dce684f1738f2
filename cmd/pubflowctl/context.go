package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"

	"pubflow/api/internal/config"
	"pubflow/api/internal/logging"
	"pubflow/api/internal/platform"
	"pubflow/api/internal/store"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		path := os.Getenv("PUBFLOW_CONFIG")
		if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
			path = *c.configFlag
		}
		c.config, c.configErr = config.LoadFrom(path)
	})
	return c.config, c.configErr
}

// openDB connects without migrating, so migrate can control direction.
func (c *commandContext) openDB(ctx context.Context) (*sql.DB, store.Dialect, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, "", err
	}
	dialect, err := store.ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		return nil, "", err
	}
	db, err := store.Open(ctx, dialect, cfg.DatabaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("database connection failed: %w", err)
	}
	return db, dialect, nil
}

func (c *commandContext) openPlatform(ctx context.Context) (*platform.Platform, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: "text", Output: os.Stderr})
	if err != nil {
		return nil, err
	}
	return platform.Open(ctx, cfg, logger)
}
