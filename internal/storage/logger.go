package storage

import (
	"context"
	"errors"
	"time"

	"cdpblock/internal/ctxkeys"
	logger2 "cdpblock/internal/logger"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultSlowThreshold = 200 * time.Millisecond

// GormLogger 把日志库的 SQL 日志转到 logger.Logger，附带正在写入的请求 ID 与事件类型
type GormLogger struct {
	logger2.Logger
	LogLevel      logger.LogLevel
	SlowThreshold time.Duration
}

// NewGormLogger 创建 GormLogger，默认只记录告警与错误
func NewGormLogger(l logger2.Logger) *GormLogger {
	return &GormLogger{
		Logger:        l,
		LogLevel:      logger.Warn,
		SlowThreshold: defaultSlowThreshold,
	}
}

// LogMode 设置日志级别
func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

// eventFields 取出上下文里的请求 ID 与事件类型，没有时不输出
func eventFields(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	var fields []any
	if id, ok := ctx.Value(ctxkeys.RequestIDKey{}).(string); ok && id != "" {
		fields = append(fields, "requestID", id)
	}
	if typ, ok := ctx.Value(ctxkeys.EventTypeKey{}).(string); ok && typ != "" {
		fields = append(fields, "event", typ)
	}
	return fields
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Info {
		l.Logger.Info(msg, append(eventFields(ctx), data...)...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Warn {
		l.Logger.Warn(msg, append(eventFields(ctx), data...)...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Error {
		l.Logger.Error(msg, append(eventFields(ctx), data...)...)
	}
}

// Trace 记录一次 SQL 执行。查询不到记录不算错误，Recent/ByRequest 的空结果很常见
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := append(eventFields(ctx),
		"sql", sql,
		"rows", rows,
		"timeMs", float64(elapsed.Nanoseconds())/1e6,
	)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.LogLevel >= logger.Error:
		l.Logger.Error("SQL执行错误", append(fields, "error", err)...)
	case l.SlowThreshold > 0 && elapsed > l.SlowThreshold && l.LogLevel >= logger.Warn:
		l.Logger.Warn("日志库写入缓慢", append(fields, "threshold", l.SlowThreshold.String())...)
	case l.LogLevel == logger.Info:
		l.Logger.Debug("SQL执行", fields...)
	}
}
