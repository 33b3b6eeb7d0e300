package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cdpblock/internal/interceptor"
	"cdpblock/internal/logger"
	"cdpblock/internal/rules"
	"cdpblock/pkg/rulespec"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	defaultTokenHeader    = "Authorization"
	defaultRefreshTimeout = 10 * time.Second
)

var (
	ErrRefreshStatus = errors.New("refresh endpoint returned non-2xx status")
	ErrTokenMissing  = errors.New("token not found in refresh response")
)

// Scheduler 把回调投递回引擎 goroutine，通常是 *loop.Loop
type Scheduler interface {
	Post(fn func()) bool
	AfterFunc(d time.Duration, fn func()) *time.Timer
}

// Handler 绑定到一个 URL 正则的规则驱动处理器，负责选择行为并最终调用 Continuation
type Handler struct {
	pattern string
	engine  *rules.Engine
	sched   Scheduler
	client  *http.Client
	log     logger.Logger

	// token 最近一次刷新得到的令牌，只在引擎 goroutine 上读写
	token string
}

// Config 配置选项
type Config struct {
	Scheduler Scheduler
	Client    *http.Client
	Logger    logger.Logger
}

// New 创建处理器
func New(pattern string, rs []rulespec.Rule, cfg Config) *Handler {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &Handler{
		pattern: pattern,
		engine:  rules.New(rs),
		sched:   cfg.Scheduler,
		client:  client,
		log:     l.With("pattern", pattern),
	}
}

// SetRules 替换规则
func (h *Handler) SetRules(rs []rulespec.Rule) {
	h.engine.Update(rs)
}

// Token 最近一次刷新得到的令牌
func (h *Handler) Token() string { return h.token }

// HandleResponse 评估规则并执行行为，未命中规则时直接放行
func (h *Handler) HandleResponse(c *interceptor.Continuation, r *interceptor.Request) error {
	evalCtx := buildEvalContext(r)
	res := h.engine.Eval(evalCtx)
	if res == nil {
		h.log.Debug("无匹配规则，直接放行", "url", evalCtx.URL, "status", evalCtx.Status)
		c.Continue()
		return nil
	}

	a := res.Action
	h.log.Debug("规则命中", "rule", res.RuleID, "action", a.Type, "url", evalCtx.URL, "status", evalCtx.Status)
	switch a.Type {
	case rulespec.ActionRelay:
		c.Continue()
	case rulespec.ActionDiscard:
		c.Discard()
	case rulespec.ActionHold:
		h.hold(c, time.Duration(a.DelayMS)*time.Millisecond)
	case rulespec.ActionReauth:
		return h.reauth(c, r, a.Reauth)
	default:
		return fmt.Errorf("rule %s: %w: %q", res.RuleID, rulespec.ErrUnknownAction, a.Type)
	}
	return nil
}

// hold 保持阻塞 d 后放行
func (h *Handler) hold(c *interceptor.Continuation, d time.Duration) {
	if d <= 0 || h.sched == nil {
		c.Continue()
		return
	}
	h.log.Info("保持阻塞", "delay", d)
	h.sched.AfterFunc(d, c.Continue)
}

// reauth 刷新令牌后用新令牌重放请求，再丢弃原响应。
// 重放发生在阻塞解除之前，因此进入队列并在 Discard 的清空中第一个被发送。
func (h *Handler) reauth(c *interceptor.Continuation, r *interceptor.Request, ra *rulespec.Reauth) error {
	if ra == nil {
		return rulespec.ErrReauthConfig
	}
	if h.sched == nil {
		return errors.New("reauth requires a scheduler")
	}

	// 已持有更新的令牌，说明该请求是在上次刷新前发出的，直接重放
	if h.token != "" && !r.HeaderContains(tokenHeader(ra), ra.Prefix+h.token) {
		h.log.Debug("使用已刷新的令牌重放", "url", r.URL())
		if err := h.replay(r, ra, h.token); err != nil {
			return err
		}
		c.Discard()
		return nil
	}

	h.log.Info("开始刷新令牌", "url", r.URL(), "refreshURL", ra.URL)
	go func() {
		token, err := h.refresh(ra)
		posted := h.sched.Post(func() {
			if err != nil {
				h.log.Err(err, "刷新令牌失败，交付原响应", "refreshURL", ra.URL)
				c.Continue()
				return
			}
			h.token = token
			if err := h.replay(r, ra, token); err != nil {
				h.log.Err(err, "重放请求失败", "url", r.URL())
			}
			c.Discard()
		})
		if !posted {
			h.log.Warn("任务循环已关闭，放弃重新认证", "url", r.URL())
		}
	}()
	return nil
}

// replay 以原始参数重新打开请求，替换令牌后发送
func (h *Handler) replay(r *interceptor.Request, ra *rulespec.Reauth, token string) error {
	hdr := r.AllHeaders()
	body := r.LastBody()
	method, url := r.Method(), r.URL()

	hdr.Set(tokenHeader(ra), ra.Prefix+token)
	if ra.BodyPath != "" && gjson.ValidBytes(body) {
		b, err := sjson.SetBytes(body, ra.BodyPath, token)
		if err != nil {
			return fmt.Errorf("inject token into body: %w", err)
		}
		body = b
	}

	if err := r.Open(method, url); err != nil {
		return fmt.Errorf("reopen: %w", err)
	}
	r.AddHeaders(hdr)
	return r.Send(body)
}

// refresh 调用刷新接口并用 gjson 取出令牌，运行在独立 goroutine 上
func (h *Handler) refresh(ra *rulespec.Reauth) (string, error) {
	timeout := defaultRefreshTimeout
	if ra.TimeoutMS > 0 {
		timeout = time.Duration(ra.TimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	method := ra.Method
	if method == "" {
		method = http.MethodGet
		if ra.Body != "" {
			method = http.MethodPost
		}
	}
	var rd io.Reader
	if ra.Body != "" {
		rd = strings.NewReader(ra.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, ra.URL, rd)
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	for k, v := range ra.Headers {
		req.Header.Set(k, v)
	}
	if ra.Body != "" && req.Header.Get("Content-Type") == "" && gjson.Valid(ra.Body) {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read refresh response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %d", ErrRefreshStatus, resp.StatusCode)
	}
	res := gjson.GetBytes(data, ra.TokenPath)
	if !res.Exists() || res.String() == "" {
		return "", fmt.Errorf("%w: path %q", ErrTokenMissing, ra.TokenPath)
	}
	return res.String(), nil
}

func tokenHeader(ra *rulespec.Reauth) string {
	if ra.Header != "" {
		return ra.Header
	}
	return defaultTokenHeader
}

// buildEvalContext 从终态请求构建规则评估上下文
func buildEvalContext(r *interceptor.Request) rules.Ctx {
	return rules.Ctx{
		URL:             r.URL(),
		Method:          r.Method(),
		Status:          r.Status(),
		Headers:         r.AllHeaders(),
		ResponseHeaders: r.ResponseHeader(),
		Body:            string(r.ResponseBody()),
	}
}
