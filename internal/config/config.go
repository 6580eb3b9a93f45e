// 包 config 负责加载与校验应用配置（settings.yaml），
// 并从 Postman 导出文件与环境变量解析出 HiBot 连接参数。
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// 默认值
const (
	DefaultPageSize    = 50
	DefaultConcurrency = 12
	DefaultBatchEvery  = 5
	DefaultTimeUnit    = "seconds"
	DefaultOutput      = "CSV/filtered_hibot_export.csv"
	DefaultDedupeKey   = "contact_id"
	DefaultDSN         = "./harvest.db"
)

type Config struct {
	HiBot        HiBot    `yaml:"HIBOT"`
	Harvest      Harvest  `yaml:"HARVEST"`
	Output       string   `yaml:"OUTPUT"`
	DedupeKey    string   `yaml:"DEDUPE_KEY"` // 为 "-" 时不做去重
	SimpleMode   bool     `yaml:"SIMPLE_MODE"`
	ResetOnStart bool     `yaml:"RESET_ON_START"`
	Database     Database `yaml:"DATABASE"`
	KeepRunsDays int      `yaml:"KEEP_RUNS_DAYS"`
	Proxy        Proxy    `yaml:"PROXY"`
	LogLevel     string   `yaml:"LOG_LEVEL"`
	LogFormat    string   `yaml:"LOG_FORMAT"` // text|json|pretty
	LogLocale    string   `yaml:"LOG_LOCALE"` // zh-CN|en|es
	LogColor     string   `yaml:"LOG_COLOR"`  // auto|always|never
}

// HiBot 为 Postman 导出文件路径；相对路径以配置文件所在目录为准。
type HiBot struct {
	Collection  string `yaml:"collection"`
	Environment string `yaml:"environment"`
}

type Harvest struct {
	PageSize    int    `yaml:"page_size"`
	Concurrency int    `yaml:"concurrency"`
	BatchEvery  int    `yaml:"batch_write_every"`
	TimeUnit    string `yaml:"time_unit"`
	StartPage   int    `yaml:"start_page"`
	MaxAttempts int    `yaml:"max_attempts"` // 0 表示无限重试
}

type Database struct {
	Type string `yaml:"type"` // sqlite (default)
	DSN  string `yaml:"dsn"`
}

type Proxy struct {
	HTTP  string `yaml:"http"`
	HTTPS string `yaml:"https"`
}

// Load 从文件读取 YAML 并反序列化为 Config，同时进行校验与默认值填充。
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Validate 负责合法性检查与默认值设置。
func (c *Config) Validate() error {
	h := &c.Harvest
	if h.PageSize < 0 || h.Concurrency < 0 || h.BatchEvery < 0 {
		return errors.New("HARVEST page_size/concurrency/batch_write_every must be >= 0")
	}
	if h.StartPage < 0 {
		return errors.New("HARVEST.start_page must be >= 0")
	}
	if h.MaxAttempts < 0 {
		return errors.New("HARVEST.max_attempts must be >= 0")
	}
	if c.KeepRunsDays < 0 {
		return errors.New("KEEP_RUNS_DAYS must be >= 0")
	}
	if h.PageSize == 0 {
		h.PageSize = DefaultPageSize
	}
	if h.Concurrency == 0 {
		h.Concurrency = DefaultConcurrency
	}
	if h.BatchEvery == 0 {
		h.BatchEvery = DefaultBatchEvery
	}
	if strings.TrimSpace(h.TimeUnit) == "" {
		h.TimeUnit = DefaultTimeUnit
	}
	if c.Output == "" {
		c.Output = DefaultOutput
	}
	if c.DedupeKey == "" {
		c.DedupeKey = DefaultDedupeKey
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Type != "sqlite" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Database.DSN == "" {
		c.Database.DSN = DefaultDSN
	}
	if c.LogFormat == "" {
		c.LogFormat = "pretty"
	}
	if c.LogLocale == "" {
		c.LogLocale = "zh-CN"
	}
	if c.LogColor == "" {
		c.LogColor = "auto"
	}
	return nil
}

// DedupeEnabled 报告采集后是否执行去重。
func (c *Config) DedupeEnabled() bool { return c.DedupeKey != "-" }
