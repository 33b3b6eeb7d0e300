// Package rulespec 定义阻塞处理器的声明式规则。
//
// 每条规则绑定一个 URL 正则（即拦截引擎中的处理器正则），命中时根据条件选择行为：
// 放行、丢弃、延迟放行或重新认证后重放。
package rulespec

import "cdpblock/pkg/model"

// ConditionType 条件类型
type ConditionType string

const (
	ConditionURL            ConditionType = "url"
	ConditionMethod         ConditionType = "method"
	ConditionStatus         ConditionType = "status"
	ConditionHeader         ConditionType = "header"
	ConditionResponseHeader ConditionType = "response_header"
	ConditionText           ConditionType = "text"
	ConditionJSON           ConditionType = "json"
)

// Op 字符串比较方式，为空时只判断存在
type Op string

const (
	OpEquals   Op = "equals"
	OpContains Op = "contains"
	OpRegex    Op = "regex"
)

// URLMode url 条件的匹配方式，为空时按 glob 处理
type URLMode string

const (
	URLPrefix URLMode = "prefix"
	URLRegex  URLMode = "regex"
	URLExact  URLMode = "exact"
	URLGlob   URLMode = "glob"
)

// Condition 单个匹配条件
type Condition struct {
	Type    ConditionType `yaml:"type" json:"type"`
	Mode    URLMode       `yaml:"mode,omitempty" json:"mode,omitempty"`
	Pattern string        `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Key     string        `yaml:"key,omitempty" json:"key,omitempty"`
	Path    string        `yaml:"path,omitempty" json:"path,omitempty"` // gjson 路径
	Op      Op            `yaml:"op,omitempty" json:"op,omitempty"`
	Value   string        `yaml:"value,omitempty" json:"value,omitempty"`
	Values  []string      `yaml:"values,omitempty" json:"values,omitempty"`
	Codes   []int         `yaml:"codes,omitempty" json:"codes,omitempty"`
}

// Match 条件组合，三组之间为且关系
type Match struct {
	AllOf  []Condition `yaml:"allOf,omitempty" json:"allOf,omitempty"`
	AnyOf  []Condition `yaml:"anyOf,omitempty" json:"anyOf,omitempty"`
	NoneOf []Condition `yaml:"noneOf,omitempty" json:"noneOf,omitempty"`
}

// ActionType 行为类型
type ActionType string

const (
	ActionRelay   ActionType = "relay"
	ActionDiscard ActionType = "discard"
	ActionHold    ActionType = "hold"
	ActionReauth  ActionType = "reauth"
)

// Reauth 重新认证配置：请求刷新接口，取出令牌后写入重放请求
type Reauth struct {
	URL     string            `yaml:"url" json:"url"`
	Method  string            `yaml:"method,omitempty" json:"method,omitempty"`
	Body    string            `yaml:"body,omitempty" json:"body,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// TokenPath 令牌在刷新响应中的 gjson 路径
	TokenPath string `yaml:"tokenPath" json:"tokenPath"`
	// Header 注入令牌的请求头，默认 Authorization
	Header string `yaml:"header,omitempty" json:"header,omitempty"`
	// Prefix 令牌前缀，例如 "Bearer "
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	// BodyPath 不为空时同时用 sjson 写入重放请求体
	BodyPath string `yaml:"bodyPath,omitempty" json:"bodyPath,omitempty"`
	// TimeoutMS 刷新请求超时
	TimeoutMS int `yaml:"timeoutMS,omitempty" json:"timeoutMS,omitempty"`
}

// Action 命中后的行为
type Action struct {
	Type    ActionType `yaml:"type" json:"type"`
	DelayMS int        `yaml:"delayMS,omitempty" json:"delayMS,omitempty"`
	Reauth  *Reauth    `yaml:"reauth,omitempty" json:"reauth,omitempty"`
}

// Mode 规则评估模式
type Mode string

const (
	ModeAggregate    Mode = "aggregate"
	ModeShortCircuit Mode = "short_circuit"
)

// Rule 一条规则
type Rule struct {
	ID       model.RuleID `yaml:"id" json:"id"`
	Name     string       `yaml:"name,omitempty" json:"name,omitempty"`
	Pattern  string       `yaml:"pattern" json:"pattern"`
	Priority int          `yaml:"priority,omitempty" json:"priority,omitempty"`
	Mode     Mode         `yaml:"mode,omitempty" json:"mode,omitempty"`
	Match    Match        `yaml:"match,omitempty" json:"match,omitempty"`
	Action   Action       `yaml:"action" json:"action"`
}

// Config 规则集
type Config struct {
	Version string `yaml:"version" json:"version"`
	Rules   []Rule `yaml:"rules" json:"rules"`
}
