package session

import (
	"sync"
	"time"

	"cdpblock/pkg/model"
)

const defaultEventCapacity = 128

// Bridge 会话持有的浏览器连接
type Bridge interface {
	AttachTarget(target model.TargetID) (model.TargetID, error)
	DetachTarget(target model.TargetID) error
	Targets() []model.TargetID
	Close() error
}

// Session 一次 DevTools 连接会话
type Session struct {
	ID        model.SessionID
	Config    model.SessionConfig
	Bridge    Bridge
	CreatedAt time.Time

	mu     sync.Mutex
	events chan model.Event
	closed bool
}

// New 创建会话
func New(id model.SessionID, cfg model.SessionConfig) *Session {
	size := cfg.PendingCapacity
	if size <= 0 {
		size = defaultEventCapacity
	}
	return &Session{
		ID:        id,
		Config:    cfg,
		CreatedAt: time.Now(),
		events:    make(chan model.Event, size),
	}
}

// Events 事件通道，会话关闭后被关闭
func (s *Session) Events() <-chan model.Event { return s.events }

// Publish 非阻塞投递事件，通道满或会话已关闭时丢弃
func (s *Session) Publish(evt model.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	evt.Session = s.ID
	select {
	case s.events <- evt:
		return true
	default:
		return false
	}
}

// Close 关闭桥接与事件通道
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var err error
	if s.Bridge != nil {
		err = s.Bridge.Close()
	}
	s.mu.Lock()
	close(s.events)
	s.mu.Unlock()
	return err
}
