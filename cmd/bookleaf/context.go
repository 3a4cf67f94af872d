package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/bookleaf/assist/internal/config"
	"github.com/bookleaf/assist/internal/connections"
	"github.com/bookleaf/assist/internal/identity"
	"github.com/bookleaf/assist/internal/llm"
	"github.com/bookleaf/assist/internal/logging"
	"github.com/bookleaf/assist/internal/storage"
)

const metricsNamespace = "bookleaf"

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	logger     *zap.Logger
	configErr  error

	genOnce sync.Once
	gen     llm.TextGenerator
	genErr  error

	store    storage.IdentityStore
	registry *prometheus.Registry
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

// ensureConfig loads the configuration file when --config is given, the
// environment otherwise, and builds the logger.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var cfg *config.Config
		var err error
		if path := strings.TrimSpace(*c.configFlag); path != "" {
			cfg, err = config.LoadFile(path)
		} else {
			cfg, err = config.LoadConfig()
		}
		if err != nil {
			c.configErr = err
			return
		}
		if lvl := strings.TrimSpace(*c.logLevelFlag); lvl != "" {
			cfg.Log.Level = lvl
		}

		logger, err := logging.New(cfg.Log.Level, cfg.Log.Environment)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.configErr
}

func (c *commandContext) openStore() (storage.IdentityStore, error) {
	if c.store != nil {
		return c.store, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := connections.Open(cfg.Storage, c.logger)
	if err != nil {
		return nil, err
	}
	c.store = store
	return store, nil
}

// generator returns the configured model client, or nil when the provider
// is "none".
func (c *commandContext) generator() (llm.TextGenerator, error) {
	c.genOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.genErr = err
			return
		}
		c.gen, c.genErr = llm.NewTextGenerator(cfg.LLM, c.logger)
	})
	return c.gen, c.genErr
}

// newResolver wires a resolver over the configured store. Without a model
// the rule arbiter settles ambiguous matches.
func (c *commandContext) newResolver() (*identity.Resolver, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := c.openStore()
	if err != nil {
		return nil, err
	}
	gen, err := c.generator()
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	var arbiter identity.Arbiter
	if gen != nil {
		arbiter = identity.NewLLMArbiter(gen, c.logger)
	}

	c.registry = prometheus.NewRegistry()
	metrics := identity.NewMetrics(metricsNamespace, c.registry)
	return identity.NewResolver(store, arbiter, cfg.Identity, c.logger, metrics), nil
}

func (c *commandContext) close() {
	if c.store != nil {
		if err := c.store.Close(); err != nil && c.logger != nil {
			c.logger.Warn("failed to close identity store", zap.Error(err))
		}
		c.store = nil
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}
