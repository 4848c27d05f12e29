package main

import (
	"strings"
	"sync"

	"apflow/internal/config"
	"apflow/internal/logging"
	"apflow/internal/queue"
	"apflow/internal/storage"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, apiFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
	}
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

// apiBase resolves the daemon admin API base URL, preferring the
// --api flag over the configured bind address.
func (c *commandContext) apiBase() (string, error) {
	if c.apiFlag != nil {
		if base := strings.TrimSpace(*c.apiFlag); base != "" {
			return strings.TrimRight(base, "/"), nil
		}
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	bind := cfg.API.Bind
	if strings.HasPrefix(bind, ":") {
		bind = "127.0.0.1" + bind
	}
	return "http://" + bind, nil
}

func (c *commandContext) client() (*apiClient, error) {
	base, err := c.apiBase()
	if err != nil {
		return nil, err
	}
	token := ""
	if cfg, cfgErr := c.ensureConfig(); cfgErr == nil {
		token = cfg.API.Token
	}
	return newAPIClient(base, token), nil
}

// withQueueStore opens the queue database directly. Read and admin
// commands work this way even when the daemon is down; the daemon and
// CLI share the same SQLite file.
func (c *commandContext) withQueueStore(fn func(*storage.DB, *queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	db, err := storage.Open(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db, queue.NewStore(db, logging.NewNop()))
}
