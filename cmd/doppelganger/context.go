package main

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/MrWong99/doppelganger/internal/config"
)

// commandContext carries state shared by all subcommands of one invocation.
type commandContext struct {
	configPath string

	// explicitConfig is true when --config was given. A missing default
	// config file then means built-in defaults; a missing explicit one is an
	// error.
	explicitConfig bool

	// level is shared by every logger so a config reload can change it.
	level *slog.LevelVar

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext() *commandContext {
	return &commandContext{level: new(slog.LevelVar)}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(c.configPath)
		if errors.Is(err, os.ErrNotExist) && !c.explicitConfig {
			cfg, err = config.LoadFromReader(strings.NewReader(""))
		}
		c.config, c.configErr = cfg, err
	})
	return c.config, c.configErr
}

// configFileExists reports whether the config path names an existing file.
func (c *commandContext) configFileExists() bool {
	info, err := os.Stat(c.configPath)
	return err == nil && !info.IsDir()
}
