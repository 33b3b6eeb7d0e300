package rules

import (
	"slices"
	"strconv"
	"strings"

	"cdpblock/pkg/model"
	"cdpblock/pkg/rulespec"
	"cdpblock/pkg/traffic"

	"github.com/tidwall/gjson"
)

// Engine 规则评估引擎
type Engine struct {
	rules []rulespec.Rule
}

func New(rs []rulespec.Rule) *Engine { return &Engine{rules: rs} }

func (e *Engine) Update(rs []rulespec.Rule) { e.rules = rs }

func (e *Engine) Len() int { return len(e.rules) }

// Ctx 评估上下文，由被拦截的终态响应构建
type Ctx struct {
	URL             string
	Method          string
	Status          int
	Headers         *traffic.Header
	ResponseHeaders *traffic.Header
	Body            string
}

// Result 评估结果
type Result struct {
	RuleID model.RuleID
	Rule   *rulespec.Rule
	Action *rulespec.Action
}

// Eval 返回优先级最高的命中规则；命中 short_circuit 规则时立即停止
func (e *Engine) Eval(ctx Ctx) *Result {
	if len(e.rules) == 0 {
		return nil
	}
	var chosen *rulespec.Rule
	for i := range e.rules {
		r := &e.rules[i]
		if matchRule(ctx, r.Match) {
			if chosen == nil || r.Priority > chosen.Priority {
				chosen = r
				if r.Mode == rulespec.ModeShortCircuit {
					break
				}
			}
		}
	}
	if chosen == nil {
		return nil
	}
	return &Result{RuleID: chosen.ID, Rule: chosen, Action: &chosen.Action}
}

func matchRule(ctx Ctx, m rulespec.Match) bool {
	ok := true
	if len(m.AllOf) > 0 {
		ok = ok && allOf(ctx, m.AllOf)
	}
	if len(m.AnyOf) > 0 {
		ok = ok && anyOf(ctx, m.AnyOf)
	}
	if len(m.NoneOf) > 0 {
		ok = ok && noneOf(ctx, m.NoneOf)
	}
	return ok
}

func allOf(ctx Ctx, cs []rulespec.Condition) bool {
	for i := range cs {
		if !cond(ctx, cs[i]) {
			return false
		}
	}
	return true
}

func anyOf(ctx Ctx, cs []rulespec.Condition) bool {
	for i := range cs {
		if cond(ctx, cs[i]) {
			return true
		}
	}
	return false
}

func noneOf(ctx Ctx, cs []rulespec.Condition) bool { return !anyOf(ctx, cs) }

func cond(ctx Ctx, c rulespec.Condition) bool {
	switch c.Type {
	case rulespec.ConditionURL:
		switch c.Mode {
		case rulespec.URLPrefix:
			return strings.HasPrefix(ctx.URL, c.Pattern)
		case rulespec.URLRegex:
			return matchRegex(ctx.URL, c.Pattern)
		case rulespec.URLExact:
			return ctx.URL == c.Pattern
		default:
			return glob(ctx.URL, c.Pattern)
		}
	case rulespec.ConditionMethod:
		for _, v := range c.Values {
			if strings.EqualFold(ctx.Method, v) {
				return true
			}
		}
		return false
	case rulespec.ConditionStatus:
		if slices.Contains(c.Codes, ctx.Status) {
			return true
		}
		// values 支持 "4xx" 形式的区间
		s := strconv.Itoa(ctx.Status)
		for _, v := range c.Values {
			if statusClass(s, v) {
				return true
			}
		}
		return false
	case rulespec.ConditionHeader:
		return headerCond(ctx.Headers, c)
	case rulespec.ConditionResponseHeader:
		return headerCond(ctx.ResponseHeaders, c)
	case rulespec.ConditionText:
		if ctx.Body == "" {
			return false
		}
		return compare(ctx.Body, c.Op, c.Value)
	case rulespec.ConditionJSON:
		if ctx.Body == "" || !gjson.Valid(ctx.Body) {
			return false
		}
		res := gjson.Get(ctx.Body, c.Path)
		if !res.Exists() {
			return false
		}
		return compare(res.String(), c.Op, c.Value)
	default:
		return false
	}
}

func headerCond(h *traffic.Header, c rulespec.Condition) bool {
	if h == nil || !h.Has(c.Key) {
		return false
	}
	for _, v := range h.Values(c.Key) {
		if compare(v, c.Op, c.Value) {
			return true
		}
	}
	return false
}

func compare(v string, op rulespec.Op, want string) bool {
	switch op {
	case rulespec.OpEquals:
		return v == want
	case rulespec.OpContains:
		return strings.Contains(v, want)
	case rulespec.OpRegex:
		return matchRegex(v, want)
	default:
		return true
	}
}

func statusClass(code, class string) bool {
	if len(class) != len(code) {
		return false
	}
	for i := 0; i < len(class); i++ {
		if class[i] != 'x' && class[i] != 'X' && class[i] != code[i] {
			return false
		}
	}
	return true
}

func matchRegex(s, pattern string) bool {
	re, err := regexCache.Get(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func glob(s, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(s, strings.TrimPrefix(pattern, "*")) {
		return true
	}
	if strings.HasSuffix(pattern, "*") && strings.HasPrefix(s, strings.TrimSuffix(pattern, "*")) {
		return true
	}
	return s == pattern
}
