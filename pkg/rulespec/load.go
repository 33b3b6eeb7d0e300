package rulespec

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

var (
	ErrMissingPattern = errors.New("rulespec: rule pattern is empty")
	ErrUnknownAction  = errors.New("rulespec: unknown action type")
	ErrReauthConfig   = errors.New("rulespec: reauth action needs url and tokenPath")
)

// Parse 解析 YAML（兼容 JSON）规则集并校验
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile 从文件读取规则集
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return Parse(data)
}

// Validate 校验每条规则的正则与行为配置
func (c *Config) Validate() error {
	for i := range c.Rules {
		if err := c.Rules[i].Validate(); err != nil {
			return fmt.Errorf("rule %d (%s): %w", i, c.Rules[i].ID, err)
		}
	}
	return nil
}

// Validate 校验单条规则
func (r *Rule) Validate() error {
	if r.Pattern == "" {
		return ErrMissingPattern
	}
	if _, err := regexp.Compile(r.Pattern); err != nil {
		return fmt.Errorf("compile pattern: %w", err)
	}
	switch r.Action.Type {
	case ActionRelay, ActionDiscard, ActionHold:
	case ActionReauth:
		if r.Action.Reauth == nil || r.Action.Reauth.URL == "" || r.Action.Reauth.TokenPath == "" {
			return ErrReauthConfig
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, r.Action.Type)
	}
	return nil
}

// Patterns 按首次出现顺序返回去重后的正则
func (c *Config) Patterns() []string {
	seen := make(map[string]bool, len(c.Rules))
	var out []string
	for _, r := range c.Rules {
		if !seen[r.Pattern] {
			seen[r.Pattern] = true
			out = append(out, r.Pattern)
		}
	}
	return out
}

// ForPattern 返回绑定到 pattern 的规则
func (c *Config) ForPattern(pattern string) []Rule {
	var out []Rule
	for _, r := range c.Rules {
		if r.Pattern == pattern {
			out = append(out, r)
		}
	}
	return out
}
