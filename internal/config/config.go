package config

import (
	"fmt"
	"os"

	"cdpblock/pkg/rulespec"

	"gopkg.in/yaml.v3"
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
		File   string   `yaml:"file"`
	} `yaml:"log"`

	Interception struct {
		DevToolsURL      string `yaml:"devtoolsURL"`
		ProcessTimeoutMS int    `yaml:"processTimeoutMS"`
		LoopCapacity     int    `yaml:"loopCapacity"`
		ReplayTimeoutMS  int    `yaml:"replayTimeoutMS"`
	} `yaml:"interception"`

	Rules []rulespec.Rule `yaml:"rules"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Sqlite.Dsn = "db.sqlite3"
	c.Sqlite.Prefix = "cdpblock_"
	c.Log.Level = "debug"
	c.Log.Writer = []string{"console", "file"}
	c.Log.File = "logs/cdpblock.log"
	c.Interception.DevToolsURL = "http://127.0.0.1:9222"
	c.Interception.ProcessTimeoutMS = 3000
	c.Interception.LoopCapacity = 256
	c.Interception.ReplayTimeoutMS = 10000
	return c
}

// Load 读取 YAML 配置并覆盖默认值，path 为空时返回默认配置
func Load(path string) (*Config, error) {
	c := NewConfig()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.RuleSet().Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// RuleSet 把内嵌规则包装为规则集
func (c *Config) RuleSet() *rulespec.Config {
	return &rulespec.Config{Version: c.Version, Rules: c.Rules}
}
