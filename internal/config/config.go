package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"cdpintercept/internal/logger"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   struct {
			Path       string `yaml:"path"`
			MaxSizeMB  int    `yaml:"max_size_mb"`
			MaxBackups int    `yaml:"max_backups"`
			MaxAgeDays int    `yaml:"max_age_days"`
			Compress   bool   `yaml:"compress"`
		} `yaml:"file"`
	} `yaml:"log"`

	Intercept struct {
		DevToolsURL       string `yaml:"devtools_url"`
		Concurrency       int    `yaml:"concurrency"`
		QueueSize         int    `yaml:"queue_size"`
		ProcessTimeoutMS  int    `yaml:"process_timeout_ms"`
		DispatchTimeoutMS int    `yaml:"dispatch_timeout_ms"`
		RulesFile         string `yaml:"rules_file"`
	} `yaml:"intercept"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	cfg := &Config{Version: "1.0.0"}
	cfg.Sqlite.Dsn = "db.sqlite3"
	cfg.Sqlite.Prefix = "cdpintercept_"
	cfg.Log.Level = "debug"
	cfg.Log.Writer = []string{"console", "file"}
	cfg.Log.File.Path = "logs/cdpintercept.log"
	cfg.Log.File.MaxSizeMB = 50
	cfg.Log.File.MaxBackups = 5
	cfg.Log.File.MaxAgeDays = 14
	cfg.Intercept.DevToolsURL = "http://127.0.0.1:9222"
	cfg.Intercept.Concurrency = 8
	cfg.Intercept.QueueSize = 256
	cfg.Intercept.ProcessTimeoutMS = 3000
	cfg.Intercept.DispatchTimeoutMS = 1000
	return cfg
}

// Load 读取 YAML 配置文件并覆盖默认值，文件不存在时返回默认配置
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	if c.Intercept.Concurrency < 0 {
		return fmt.Errorf("intercept.concurrency must be >= 0, got %d", c.Intercept.Concurrency)
	}
	if c.Intercept.QueueSize < 0 {
		return fmt.Errorf("intercept.queue_size must be >= 0, got %d", c.Intercept.QueueSize)
	}
	if c.Intercept.ProcessTimeoutMS < 0 || c.Intercept.DispatchTimeoutMS < 0 {
		return errors.New("intercept timeouts must be >= 0")
	}
	for _, w := range c.Log.Writer {
		if w != "console" && w != "file" {
			return fmt.Errorf("unknown log writer %q", w)
		}
	}
	return nil
}

// LoggerOptions 转换为日志构建选项
func (c *Config) LoggerOptions() logger.Options {
	return logger.Options{
		Level:  c.Log.Level,
		Writer: c.Log.Writer,
		File: logger.FileOptions{
			Path:       c.Log.File.Path,
			MaxSizeMB:  c.Log.File.MaxSizeMB,
			MaxBackups: c.Log.File.MaxBackups,
			MaxAgeDays: c.Log.File.MaxAgeDays,
			Compress:   c.Log.File.Compress,
		},
	}
}
