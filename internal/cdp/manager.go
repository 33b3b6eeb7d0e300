package cdp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"cdpblock/internal/interceptor"
	"cdpblock/internal/logger"
	"cdpblock/internal/loop"
	"cdpblock/pkg/model"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/rpcc"
)

var (
	ErrTargetNotFound = errors.New("target not found")
	ErrNotAttached    = errors.New("target not attached")
)

// fetchAPI 桥接用到的 Fetch 域方法，*cdp.Client 的 Fetch 字段满足该接口
type fetchAPI interface {
	ContinueRequest(ctx context.Context, args *fetch.ContinueRequestArgs) error
	ContinueResponse(ctx context.Context, args *fetch.ContinueResponseArgs) error
	FulfillRequest(ctx context.Context, args *fetch.FulfillRequestArgs) error
	FailRequest(ctx context.Context, args *fetch.FailRequestArgs) error
	GetResponseBody(ctx context.Context, args *fetch.GetResponseBodyArgs) (*fetch.GetResponseBodyReply, error)
}

// targetSession 单个浏览器目标的连接
type targetSession struct {
	id     model.TargetID
	conn   *rpcc.Conn
	client *cdp.Client
	api    fetchAPI
	ctx    context.Context
	cancel context.CancelFunc

	// inflight 以 Fetch 的 requestId 索引，只在任务循环上访问
	inflight map[fetch.RequestID]*cdpTransport
}

// Config 管理器配置
type Config struct {
	Session          model.SessionID
	DevToolsURL      string
	Engine           *interceptor.Engine
	Loop             *loop.Loop
	Events           chan model.Event
	ProcessTimeoutMS int
	ReplayTimeoutMS  int
	ReplayClient     *http.Client
	Logger           logger.Logger
}

// Manager 把浏览器中被 Fetch 暂停的请求交给拦截引擎处理
type Manager struct {
	session          model.SessionID
	devtoolsURL      string
	engine           *interceptor.Engine
	loop             *loop.Loop
	events           chan model.Event
	processTimeoutMS int
	replayTimeoutMS  int
	replay           *http.Client
	log              logger.Logger

	enabled   atomic.Bool
	targetsMu sync.Mutex
	targets   map[model.TargetID]*targetSession

	// requests 以引擎请求 ID 索引，只在任务循环上访问
	requests map[string]*cdpTransport
}

// New 创建管理器并在任务循环上注册为引擎观察者
func New(cfg Config) *Manager {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	client := cfg.ReplayClient
	if client == nil {
		client = &http.Client{}
	}
	m := &Manager{
		session:          cfg.Session,
		devtoolsURL:      cfg.DevToolsURL,
		engine:           cfg.Engine,
		loop:             cfg.Loop,
		events:           cfg.Events,
		processTimeoutMS: cfg.ProcessTimeoutMS,
		replayTimeoutMS:  cfg.ReplayTimeoutMS,
		replay:           client,
		log:              l,
		targets:          make(map[model.TargetID]*targetSession),
		requests:         make(map[string]*cdpTransport),
	}
	m.enabled.Store(true)
	m.loop.Post(func() { m.engine.AddObserver(m) })
	return m
}

// ListTargets 列出浏览器中的页面目标
func (m *Manager) ListTargets(ctx context.Context) ([]model.TargetInfo, error) {
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	out := make([]model.TargetInfo, 0, len(targets))
	for _, t := range targets {
		id := model.TargetID(t.ID)
		_, attached := m.targets[id]
		out = append(out, model.TargetInfo{
			ID:        id,
			Type:      string(t.Type),
			URL:       t.URL,
			Title:     t.Title,
			IsCurrent: attached,
			IsUser:    t.Type == devtool.Page,
		})
	}
	return out, nil
}

// AttachTarget 连接目标并启用 Fetch 拦截；target 为空时选择第一个页面
func (m *Manager) AttachTarget(target model.TargetID) (model.TargetID, error) {
	ctx, cancel := context.WithCancel(context.Background())
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		cancel()
		return "", fmt.Errorf("list targets: %w", err)
	}
	var sel *devtool.Target
	for _, t := range targets {
		if target == "" && t.Type == devtool.Page {
			sel = t
			break
		}
		if target != "" && model.TargetID(t.ID) == target {
			sel = t
			break
		}
	}
	if sel == nil {
		cancel()
		return "", fmt.Errorf("%w: %q", ErrTargetNotFound, target)
	}
	id := model.TargetID(sel.ID)

	m.targetsMu.Lock()
	if _, ok := m.targets[id]; ok {
		m.targetsMu.Unlock()
		cancel()
		return id, nil
	}
	m.targetsMu.Unlock()

	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		cancel()
		return "", fmt.Errorf("dial %s: %w", sel.WebSocketDebuggerURL, err)
	}
	client := cdp.NewClient(conn)
	ts := &targetSession{
		id:       id,
		conn:     conn,
		client:   client,
		api:      client.Fetch,
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[fetch.RequestID]*cdpTransport),
	}

	p := "*"
	patterns := []fetch.RequestPattern{
		{URLPattern: &p, RequestStage: fetch.RequestStageRequest},
		{URLPattern: &p, RequestStage: fetch.RequestStageResponse},
	}
	if err := client.Fetch.Enable(ctx, &fetch.EnableArgs{Patterns: patterns}); err != nil {
		m.closeTargetSession(ts)
		return "", fmt.Errorf("enable fetch: %w", err)
	}

	m.targetsMu.Lock()
	m.targets[id] = ts
	m.targetsMu.Unlock()

	go m.consume(ts)
	m.log.Info("已附加目标", "target", string(id), "url", sel.URL)
	return id, nil
}

// DetachTarget 断开目标，未附加时返回 ErrNotAttached
func (m *Manager) DetachTarget(target model.TargetID) error {
	m.targetsMu.Lock()
	ts, ok := m.targets[target]
	if ok {
		delete(m.targets, target)
	}
	m.targetsMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotAttached, target)
	}
	m.closeTargetSession(ts)
	m.log.Info("已分离目标", "target", string(target))
	return nil
}

// Targets 已附加的目标
func (m *Manager) Targets() []model.TargetID {
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	out := make([]model.TargetID, 0, len(m.targets))
	for id := range m.targets {
		out = append(out, id)
	}
	return out
}

// Close 分离全部目标并停止观察引擎
func (m *Manager) Close() error {
	m.enabled.Store(false)
	m.targetsMu.Lock()
	sessions := make([]*targetSession, 0, len(m.targets))
	for id, ts := range m.targets {
		sessions = append(sessions, ts)
		delete(m.targets, id)
	}
	m.targetsMu.Unlock()

	for _, ts := range sessions {
		m.closeTargetSession(ts)
	}
	m.loop.Post(func() { m.engine.RemoveObserver(m) })
	return nil
}

func (m *Manager) isEnabled() bool { return m.enabled.Load() }

// closeTargetSession 取消上下文并关闭连接，目标下未完成的请求在任务循环上被丢弃
func (m *Manager) closeTargetSession(ts *targetSession) {
	ts.cancel()
	if ts.conn != nil {
		if err := ts.conn.Close(); err != nil {
			m.log.Debug("关闭目标连接失败", "target", string(ts.id), "error", err)
		}
	}
	m.loop.Post(func() {
		for id, t := range ts.inflight {
			t.phase = phaseFinished
			if t.req != nil {
				delete(m.requests, t.req.ID)
			}
			delete(ts.inflight, id)
		}
	})
}

// consume 持续接收拦截事件并投递到任务循环
func (m *Manager) consume(ts *targetSession) {
	rp, err := ts.client.Fetch.RequestPaused(ts.ctx)
	if err != nil {
		m.log.Err(err, "订阅拦截事件流失败", "target", string(ts.id))
		m.handleTargetStreamClosed(ts, err)
		return
	}
	defer rp.Close()

	m.log.Info("开始消费拦截事件流", "target", string(ts.id))
	for {
		ev, err := rp.Recv()
		if err != nil {
			if ts.ctx.Err() == nil {
				m.log.Err(err, "接收拦截事件失败", "target", string(ts.id))
			}
			m.handleTargetStreamClosed(ts, err)
			return
		}
		m.dispatchPaused(ts, ev)
	}
}

// dispatchPaused 把拦截事件投递到任务循环，队列已满时降级放行
func (m *Manager) dispatchPaused(ts *targetSession, ev *fetch.RequestPausedReply) {
	submitted := m.loop.TrySubmit(func() {
		m.handle(ts, ev)
	})
	if !submitted {
		go m.degradeAndContinue(ts, ev, "任务队列已满")
	}
}

// handleTargetStreamClosed 处理单个目标的拦截流终止
func (m *Manager) handleTargetStreamClosed(ts *targetSession, err error) {
	if !m.isEnabled() || ts.ctx.Err() != nil {
		m.log.Info("拦截已停止，结束目标事件消费", "target", string(ts.id))
		return
	}

	m.log.Warn("拦截流被中断，自动移除目标", "target", string(ts.id), "error", err)

	m.targetsMu.Lock()
	cur, ok := m.targets[ts.id]
	if ok && cur == ts {
		delete(m.targets, ts.id)
	}
	m.targetsMu.Unlock()
	if ok && cur == ts {
		m.closeTargetSession(cur)
	}
}

// degradeAndContinue 统一的降级处理：不经过引擎直接放行
func (m *Manager) degradeAndContinue(ts *targetSession, ev *fetch.RequestPausedReply, reason string) {
	m.log.Warn("执行降级策略：直接放行", "target", string(ts.id), "reason", reason, "requestID", ev.RequestID)
	ctx, cancel := context.WithTimeout(ts.ctx, 1*time.Second)
	defer cancel()
	var err error
	if isResponseStage(ev) {
		err = ts.api.ContinueResponse(ctx, &fetch.ContinueResponseArgs{RequestID: ev.RequestID})
	} else {
		err = ts.api.ContinueRequest(ctx, &fetch.ContinueRequestArgs{RequestID: ev.RequestID})
	}
	if err != nil {
		m.log.Err(err, "降级放行失败", "requestID", ev.RequestID)
	}
	m.sendEvent(model.Event{Type: model.EventDegraded, Target: ts.id, URL: ev.Request.URL, Method: ev.Request.Method, Error: reason})
}

// sendEvent 安全发送事件到通道，自动添加时间戳
func (m *Manager) sendEvent(evt model.Event) {
	if m.events == nil {
		return
	}
	evt.Session = m.session
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}
	select {
	case m.events <- evt:
	default:
	}
}

func (m *Manager) processTimeout() time.Duration {
	if m.processTimeoutMS <= 0 {
		return 3 * time.Second
	}
	return time.Duration(m.processTimeoutMS) * time.Millisecond
}

func (m *Manager) replayTimeout() time.Duration {
	if m.replayTimeoutMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(m.replayTimeoutMS) * time.Millisecond
}

func isResponseStage(ev *fetch.RequestPausedReply) bool {
	return ev.ResponseStatusCode != nil || ev.ResponseErrorReason != nil
}
