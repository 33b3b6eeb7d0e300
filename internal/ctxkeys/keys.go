package ctxkeys

// RequestIDKey 上下文中的引擎请求 ID，写入日志库时由 SQL 日志带出
type RequestIDKey struct{}

// EventTypeKey 上下文中正在写入的事件类型
type EventTypeKey struct{}
