// Package config loads engine settings from YAML.
package config

import (
	"os"

	"github.com/on-the-ground/query_ive_go/query"
	"go.trai.ch/zerr"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

var (
	ErrReadConfig  = zerr.New("failed to read config file")
	ErrParseConfig = zerr.New("failed to parse config")
	ErrLogLevel    = zerr.New("invalid log level")
)

type Config struct {
	Log       LogConfig                 `yaml:"log"`
	Functions map[string]FunctionConfig `yaml:"functions"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type FunctionConfig struct {
	// LRU bounds the function's memo table. Zero means unbounded.
	LRU int `yaml:"lru"`
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		wrapped := zerr.With(zerr.Wrap(ErrReadConfig, "read"), "path", path)
		return nil, zerr.With(wrapped, "cause", err.Error())
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, zerr.With(zerr.Wrap(ErrParseConfig, "yaml"), "cause", err.Error())
	}
	for name, fn := range cfg.Functions {
		if fn.LRU < 0 {
			err := zerr.Wrap(ErrParseConfig, "lru capacity must not be negative")
			return nil, zerr.With(err, "function", name)
		}
	}
	return &cfg, nil
}

// Apply sets the LRU capacity of every configured function the database
// knows. Unknown names are collected into the returned error.
func (c *Config) Apply(db *query.Database) error {
	var errs error
	for name, fn := range c.Functions {
		errs = multierr.Append(errs, db.SetLRUCapacity(name, fn.LRU))
	}
	return errs
}

// Logger builds a development logger at the configured level, info by default.
func (c *Config) Logger() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if c.Log.Level != "" {
		parsed, err := zapcore.ParseLevel(c.Log.Level)
		if err != nil {
			return nil, zerr.With(zerr.Wrap(ErrLogLevel, "parse failed"), "level", c.Log.Level)
		}
		level = parsed
	}

	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
