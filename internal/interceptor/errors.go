package interceptor

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicatePattern = errors.New("interceptor: pattern already registered")
	ErrInvalidPattern   = errors.New("interceptor: invalid pattern")
	ErrNilHandler       = errors.New("interceptor: nil handler")
)

// HandlerFault 处理器同步返回错误或发生 panic
type HandlerFault struct {
	Pattern   string
	RequestID string
	Cause     error
}

func (e *HandlerFault) Error() string {
	return fmt.Sprintf("interceptor: handler for %q failed on request %s: %v", e.Pattern, e.RequestID, e.Cause)
}

func (e *HandlerFault) Unwrap() error {
	return e.Cause
}
