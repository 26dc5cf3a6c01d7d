package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"

	"github.com/jacobedelsonuw/visionboard-ai/core"
	"github.com/jacobedelsonuw/visionboard-ai/logging"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

type commandContext struct {
	envFlag *string

	configOnce sync.Once
	config     *core.Config
	configErr  error
}

func newCommandContext(envFlag *string) *commandContext {
	return &commandContext{envFlag: envFlag}
}

// ensureConfig loads the env file once (a missing file is fine) and then
// the configuration. Variables already in the environment win over the file.
func (c *commandContext) ensureConfig() (*core.Config, error) {
	c.configOnce.Do(func() {
		if c.envFlag != nil {
			if path := strings.TrimSpace(*c.envFlag); path != "" {
				if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
					c.configErr = fmt.Errorf("load %s: %w", path, err)
					return
				}
			}
		}
		cfg, err := core.LoadConfig()
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// newLogger builds the process logger from cfg. console overrides stdout;
// the one-shot commands pass io.Discard so log lines do not interleave with
// their own output.
func newLogger(cfg *core.Config, console io.Writer) (*logging.Logger, error) {
	opts := logging.Options{
		FilePath:    cfg.LogFile,
		File:        logging.DefaultFileWriterConfig(),
		Console:     console,
		Development: cfg.IsDevelopment,
	}
	if cfg.LogLevel != "" {
		def := zapcore.InfoLevel
		if cfg.IsDevelopment {
			def = zapcore.DebugLevel
		}
		level := logging.ParseLogLevelString(cfg.LogLevel, def)
		opts.Level = &level
	}
	return logging.NewLoggerWithOptions(opts)
}
