// Package config loads tonegen settings from an optional YAML file and
// TONEGEN_* environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tonegen/internal/cachemgr"
	"github.com/roach88/tonegen/internal/memo"
	"github.com/roach88/tonegen/internal/pipeline"
	"github.com/roach88/tonegen/internal/store"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "TONEGEN_"

// MinCheckInterval is the shortest memory check interval Validate accepts.
const MinCheckInterval = 5 * time.Second

// Config is the complete tonegen configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database" envPrefix:"DB_"`
	Cache    CacheConfig    `yaml:"cache" envPrefix:"CACHE_"`
	Memory   MemoryConfig   `yaml:"memory" envPrefix:"MEMORY_"`
	Catalog  CatalogConfig  `yaml:"catalog" envPrefix:"CATALOG_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
}

// DatabaseConfig locates the pattern store.
type DatabaseConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// CacheConfig bounds the in-process caches.
type CacheConfig struct {
	ParameterCapacity int `yaml:"parameter_capacity" env:"PARAMETER_CAPACITY"`
	StructureCapacity int `yaml:"structure_capacity" env:"STRUCTURE_CAPACITY"`
	CodeCapacity      int `yaml:"code_capacity" env:"CODE_CAPACITY"`
	PatternCapacity   int `yaml:"pattern_capacity" env:"PATTERN_CAPACITY"`
}

// MemoryConfig drives the cache manager.
type MemoryConfig struct {
	Low           float64       `yaml:"low" env:"LOW"`
	High          float64       `yaml:"high" env:"HIGH"`
	Critical      float64       `yaml:"critical" env:"CRITICAL"`
	CheckInterval time.Duration `yaml:"check_interval" env:"CHECK_INTERVAL"`
	Monitor       bool          `yaml:"monitor" env:"MONITOR"`
}

// CatalogConfig controls catalog initialization and use.
type CatalogConfig struct {
	ForceRecompile bool `yaml:"force_recompile" env:"FORCE_RECOMPILE"`
	PreferPatterns bool `yaml:"prefer_patterns" env:"PREFER_PATTERNS"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level       string `yaml:"level" env:"LEVEL"`
	Development bool   `yaml:"development" env:"DEVELOPMENT"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Path: "tonegen.db"},
		Cache: CacheConfig{
			ParameterCapacity: memo.DefaultCapacity,
			StructureCapacity: memo.DefaultCapacity,
			CodeCapacity:      memo.DefaultCapacity,
			PatternCapacity:   store.DefaultCacheSize,
		},
		Memory: MemoryConfig{
			Low:           cachemgr.DefaultLow,
			High:          cachemgr.DefaultHigh,
			Critical:      cachemgr.DefaultCritical,
			CheckInterval: cachemgr.DefaultCheckInterval,
			Monitor:       true,
		},
		Catalog: CatalogConfig{PreferPatterns: true},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads path, if not empty, over the defaults, then applies the
// environment and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, nil); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overlays environment variables. A nil environment means the
// process environment.
func applyEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// Validate checks every section.
func (c Config) Validate() error {
	var errs []error
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path must not be empty"))
	}
	for name, n := range map[string]int{
		"cache.parameter_capacity": c.Cache.ParameterCapacity,
		"cache.structure_capacity": c.Cache.StructureCapacity,
		"cache.code_capacity":      c.Cache.CodeCapacity,
		"cache.pattern_capacity":   c.Cache.PatternCapacity,
	} {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, n))
		}
	}
	if err := c.Memory.CacheManager().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Memory.CheckInterval < MinCheckInterval {
		errs = append(errs, fmt.Errorf("memory.check_interval must be at least %s, got %s",
			MinCheckInterval, c.Memory.CheckInterval))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// CacheManager returns the cache manager thresholds.
func (m MemoryConfig) CacheManager() cachemgr.Config {
	return cachemgr.Config{
		Low:           m.Low,
		High:          m.High,
		Critical:      m.Critical,
		CheckInterval: m.CheckInterval,
	}
}

// Capacities returns the pipeline cache sizes.
func (c CacheConfig) Capacities() pipeline.Capacities {
	return pipeline.Capacities{
		Parameter: c.ParameterCapacity,
		Structure: c.StructureCapacity,
		Code:      c.CodeCapacity,
		Pattern:   c.PatternCapacity,
	}
}

// Logger builds a zap logger at the configured level.
func (l LogConfig) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// Marshal returns the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
