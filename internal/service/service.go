package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cdpblock/internal/cdp"
	"cdpblock/internal/handler"
	"cdpblock/internal/interceptor"
	"cdpblock/internal/logger"
	"cdpblock/internal/loop"
	"cdpblock/internal/session"
	"cdpblock/internal/storage"
	"cdpblock/pkg/model"
	"cdpblock/pkg/rulespec"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrServiceClosed   = errors.New("service closed")
)

const callTimeout = 5 * time.Second

// Option 服务构建选项
type Option func(*Service)

// WithJournal 把引擎事件写入日志库，服务关闭时一并关闭
func WithJournal(j *storage.Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithLoopCapacity 任务循环排队上限
func WithLoopCapacity(n int) Option {
	return func(s *Service) { s.loopCapacity = n }
}

// WithHTTPClient 重新认证与重放使用的 HTTP 客户端
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

// Service 服务实现：进程内唯一的拦截引擎与任务循环，会话对应 DevTools 连接
type Service struct {
	log          logger.Logger
	loop         *loop.Loop
	engine       *interceptor.Engine
	sessions     *session.Manager
	journal      *storage.Journal
	client       *http.Client
	loopCapacity int
	cancel       context.CancelFunc

	mu       sync.Mutex
	patterns []string
	closed   bool
}

// New 创建服务并启动任务循环
func New(l logger.Logger, opts ...Option) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	s := &Service{log: l, sessions: session.NewManager(l)}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = &http.Client{}
	}

	s.loop = loop.New(s.loopCapacity, l)
	engineOpts := []interceptor.Option{
		interceptor.WithLogger(l),
		interceptor.WithObserver(interceptor.ObserverFunc(s.sessions.Broadcast)),
	}
	if s.journal != nil {
		engineOpts = append(engineOpts, interceptor.WithObserver(s.journal))
	}
	s.engine = interceptor.New(engineOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.loop.Run(ctx)
	return s
}

// Engine 拦截引擎，只能在 Do 投递的任务中调用
func (s *Service) Engine() *interceptor.Engine { return s.engine }

// Loop 任务循环
func (s *Service) Loop() *loop.Loop { return s.loop }

// Do 在任务循环上执行 fn 并等待完成
func (s *Service) Do(fn func()) error {
	done := make(chan struct{})
	if !s.loop.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrServiceClosed
	}
	select {
	case <-done:
		return nil
	case <-s.loop.Done():
		return ErrServiceClosed
	}
}

// StartSession 启动会话
func (s *Service) StartSession(cfg model.SessionConfig) (model.SessionID, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", ErrServiceClosed
	}

	id := model.SessionID(uuid.NewString())
	sess := s.sessions.Create(id, cfg)

	events := make(chan model.Event, 64)
	bridge := cdp.New(cdp.Config{
		Session:          id,
		DevToolsURL:      cfg.DevToolsURL,
		Engine:           s.engine,
		Loop:             s.loop,
		Events:           events,
		ProcessTimeoutMS: cfg.ProcessTimeoutMS,
		ReplayTimeoutMS:  cfg.ReplayTimeoutMS,
		ReplayClient:     s.client,
		Logger:           s.log.With("sessionID", string(id)),
	})
	// 桥接层的事件通道永不关闭，转发到会话通道直到桥接关闭
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case evt := <-events:
				sess.Publish(evt)
			case <-stop:
				return
			}
		}
	}()
	sess.Bridge = &stoppingBridge{Manager: bridge, stop: stop}

	s.log.Info("会话已启动", "sessionID", string(id), "devtools", cfg.DevToolsURL)
	return id, nil
}

// StopSession 停止会话
func (s *Service) StopSession(id model.SessionID) error {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.sessions.Delete(id)
	return sess.Close()
}

// AttachTarget 附加目标
func (s *Service) AttachTarget(id model.SessionID, target model.TargetID) (model.TargetID, error) {
	b, err := s.bridge(id)
	if err != nil {
		return "", err
	}
	return b.AttachTarget(target)
}

// DetachTarget 分离目标
func (s *Service) DetachTarget(id model.SessionID, target model.TargetID) error {
	b, err := s.bridge(id)
	if err != nil {
		return err
	}
	return b.DetachTarget(target)
}

// ListTargets 列出目标
func (s *Service) ListTargets(id model.SessionID) ([]model.TargetInfo, error) {
	b, err := s.bridge(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return b.ListTargets(ctx)
}

// LoadRules 用新规则集替换之前由规则注册的处理器
func (s *Service) LoadRules(cfg *rulespec.Config) error {
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var installErr error
	err := s.Do(func() {
		handler.Uninstall(s.engine, s.patterns)
		s.patterns, installErr = handler.Install(s.engine, cfg, handler.Config{
			Scheduler: s.loop,
			Client:    s.client,
			Logger:    s.log,
		})
	})
	if err != nil {
		return err
	}
	if installErr != nil {
		return fmt.Errorf("install rules: %w", installErr)
	}
	s.log.Info("规则已加载", "patterns", len(s.patterns))
	return nil
}

// GetStats 引擎状态快照
func (s *Service) GetStats() (model.EngineStats, error) {
	var st model.EngineStats
	err := s.Do(func() { st = s.engine.Stats() })
	return st, err
}

// SubscribeEvents 订阅事件
func (s *Service) SubscribeEvents(id model.SessionID) (<-chan model.Event, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess.Events(), nil
}

// Recent 日志库中最近的事件，未配置日志库时返回空
func (s *Service) Recent(limit int) ([]model.Event, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.Recent(limit)
}

// Close 停止全部会话、任务循环与日志库
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for _, sess := range s.sessions.List() {
		s.sessions.Delete(sess.ID)
		if err := sess.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	// 等待会话关闭投递的任务执行完
	if err := s.Do(func() {}); err != nil {
		s.log.Warn("任务循环已停止，会话清理任务可能未执行", "error", err)
	}
	s.loop.Close()
	s.cancel()
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) bridge(id model.SessionID) (*stoppingBridge, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	b, ok := sess.Bridge.(*stoppingBridge)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return b, nil
}

// stoppingBridge 关闭桥接时同时停止事件转发
type stoppingBridge struct {
	*cdp.Manager
	stop chan struct{}
	once sync.Once
}

func (b *stoppingBridge) Close() error {
	err := b.Manager.Close()
	b.once.Do(func() { close(b.stop) })
	return err
}
