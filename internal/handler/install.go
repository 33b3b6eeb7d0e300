package handler

import (
	"errors"

	"cdpblock/internal/interceptor"
	"cdpblock/pkg/rulespec"
)

// Install 为规则集中的每个正则注册一个处理器，返回成功注册的正则。
// 已存在的正则保持原处理器不变，错误被合并返回。
func Install(e *interceptor.Engine, cfg *rulespec.Config, opts Config) ([]string, error) {
	if cfg == nil {
		return nil, nil
	}
	var (
		installed []string
		errs      []error
	)
	for _, pattern := range cfg.Patterns() {
		h := New(pattern, cfg.ForPattern(pattern), opts)
		if err := e.Register(pattern, h, interceptor.WithContext(h)); err != nil {
			errs = append(errs, err)
			continue
		}
		installed = append(installed, pattern)
	}
	return installed, errors.Join(errs...)
}

// Uninstall 移除之前注册的正则
func Uninstall(e *interceptor.Engine, patterns []string) {
	for _, p := range patterns {
		e.Unregister(p)
	}
}
