package interceptor

import (
	"fmt"
	"regexp"
)

// Handler 响应处理器。返回后阻塞状态保持，直到 Continuation 被调用。
type Handler interface {
	HandleResponse(c *Continuation, r *Request) error
}

// HandlerFunc 函数形式的 Handler
type HandlerFunc func(c *Continuation, r *Request) error

func (f HandlerFunc) HandleResponse(c *Continuation, r *Request) error {
	return f(c, r)
}

// Entry 一个 URL 正则对应的处理器条目
type Entry struct {
	pattern string
	re      *regexp.Regexp
	handler Handler
	context any
	blocked bool
}

func (e *Entry) Pattern() string { return e.pattern }

// Blocked 处理器已被调用且尚未继续
func (e *Entry) Blocked() bool { return e.blocked }

func (e *Entry) Context() any { return e.context }

// RegisterOption 注册选项
type RegisterOption func(*Entry)

// WithContext 指定处理器的调用上下文，默认为引擎本身
func WithContext(v any) RegisterOption {
	return func(e *Entry) { e.context = v }
}

// Registry 按插入顺序保存的处理器表，匹配时取第一个命中的条目
type Registry struct {
	entries []*Entry
}

func (r *Registry) add(pattern string, h Handler, defaultCtx any, opts ...RegisterOption) (*Entry, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	if _, ok := r.Lookup(pattern); ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicatePattern, pattern)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
	}
	e := &Entry{pattern: pattern, re: re, handler: h, context: defaultCtx}
	for _, opt := range opts {
		opt(e)
	}
	r.entries = append(r.entries, e)
	return e, nil
}

func (r *Registry) remove(pattern string) bool {
	for i, e := range r.entries {
		if e.pattern == pattern {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Lookup 按正则原文查找条目
func (r *Registry) Lookup(pattern string) (*Entry, bool) {
	for _, e := range r.entries {
		if e.pattern == pattern {
			return e, true
		}
	}
	return nil, false
}

// FindMatch 返回第一个正则命中 url 的条目，未命中返回 nil
func (r *Registry) FindMatch(url string) *Entry {
	for _, e := range r.entries {
		if e.re.MatchString(url) {
			return e
		}
	}
	return nil
}

// Patterns 按注册顺序返回所有正则
func (r *Registry) Patterns() []string {
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.pattern)
	}
	return out
}

// Blocked 返回当前处于阻塞状态的正则
func (r *Registry) Blocked() []string {
	var out []string
	for _, e := range r.entries {
		if e.blocked {
			out = append(out, e.pattern)
		}
	}
	return out
}
