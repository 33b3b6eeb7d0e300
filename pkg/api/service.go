package api

import (
	"cdpblock/internal/interceptor"
	"cdpblock/internal/logger"
	"cdpblock/internal/loop"
	"cdpblock/internal/service"
	"cdpblock/pkg/model"
	"cdpblock/pkg/rulespec"
)

// Service 服务接口
type Service interface {
	// StartSession 启动会话
	StartSession(cfg model.SessionConfig) (model.SessionID, error)

	// StopSession 停止会话
	StopSession(id model.SessionID) error

	// AttachTarget 附加目标，target 为空时选择第一个页面
	AttachTarget(id model.SessionID, target model.TargetID) (model.TargetID, error)

	// DetachTarget 分离目标
	DetachTarget(id model.SessionID, target model.TargetID) error

	// ListTargets 列出目标
	ListTargets(id model.SessionID) ([]model.TargetInfo, error)

	// LoadRules 加载规则配置
	LoadRules(cfg *rulespec.Config) error

	// GetStats 获取引擎状态
	GetStats() (model.EngineStats, error)

	// SubscribeEvents 订阅事件
	SubscribeEvents(id model.SessionID) (<-chan model.Event, error)

	// Recent 最近持久化的事件
	Recent(limit int) ([]model.Event, error)

	// Engine 拦截引擎，只能在 Do 中使用
	Engine() *Engine

	// Loop 引擎所在的任务循环
	Loop() *loop.Loop

	// Do 在引擎 goroutine 上执行 fn 并等待完成
	Do(fn func()) error

	// Close 关闭服务
	Close() error
}

// NewService 创建并返回服务接口实现
func NewService(l logger.Logger, opts ...service.Option) Service {
	return service.New(l, opts...)
}

// 拦截引擎的公开别名，供模块外代码直接使用
type (
	Engine       = interceptor.Engine
	Request      = interceptor.Request
	Continuation = interceptor.Continuation
	Handler      = interceptor.Handler
	HandlerFunc  = interceptor.HandlerFunc
	Transport    = interceptor.Transport
	ReadyState   = interceptor.ReadyState
	ReadyEvent   = interceptor.Event
	Observer     = interceptor.Observer
	HandlerFault = interceptor.HandlerFault
)

const (
	Unsent          = interceptor.Unsent
	Opened          = interceptor.Opened
	HeadersReceived = interceptor.HeadersReceived
	Loading         = interceptor.Loading
	Done            = interceptor.Done
)

var (
	ErrDuplicatePattern = interceptor.ErrDuplicatePattern
	ErrInvalidPattern   = interceptor.ErrInvalidPattern
)

// NewEngine 创建独立于服务的拦截引擎
func NewEngine(l logger.Logger) *Engine {
	return interceptor.New(interceptor.WithLogger(l))
}

// WithContext 注册选项：指定处理器上下文
func WithContext(v any) interceptor.RegisterOption {
	return interceptor.WithContext(v)
}
