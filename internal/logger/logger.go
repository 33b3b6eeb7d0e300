package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 统一日志接口，参数为 key/value 交替的结构化字段
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Err(err error, msg string, args ...any)
	With(args ...any) Logger
}

// Options 日志构建选项
type Options struct {
	Level   string   // debug/info/warn/error
	Writers []string // console/file
	File    string   // file 输出的路径
}

// ZeroLogger 基于 zerolog 的实现
type ZeroLogger struct {
	zl zerolog.Logger
}

// New 根据选项创建日志器
func New(opts Options) *ZeroLogger {
	var writers []io.Writer
	for _, w := range opts.Writers {
		switch strings.ToLower(w) {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
		case "file":
			name := opts.File
			if name == "" {
				name = "logs/cdpblock.log"
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   name,
				MaxSize:    25,
				MaxBackups: 10,
				MaxAge:     14,
				Compress:   true,
			})
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(opts.Level)).
		With().Timestamp().Logger()
	return &ZeroLogger{zl: zl}
}

// NewWithWriter 输出到指定 writer，主要用于测试
func NewWithWriter(w io.Writer, level string) *ZeroLogger {
	return &ZeroLogger{zl: zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()}
}

// NewNop 创建丢弃所有输出的日志器
func NewNop() Logger {
	return &ZeroLogger{zl: zerolog.Nop()}
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *ZeroLogger) Debug(msg string, args ...any) { l.emit(l.zl.Debug(), msg, args) }
func (l *ZeroLogger) Info(msg string, args ...any)  { l.emit(l.zl.Info(), msg, args) }
func (l *ZeroLogger) Warn(msg string, args ...any)  { l.emit(l.zl.Warn(), msg, args) }
func (l *ZeroLogger) Error(msg string, args ...any) { l.emit(l.zl.Error(), msg, args) }

// Err 记录携带错误的 error 级别日志
func (l *ZeroLogger) Err(err error, msg string, args ...any) {
	l.emit(l.zl.Error().Err(err), msg, args)
}

// With 返回附带固定字段的子日志器
func (l *ZeroLogger) With(args ...any) Logger {
	ctx := l.zl.With()
	for i := 0; i < len(args); i += 2 {
		key, val := pair(args, i)
		ctx = ctx.Interface(key, val)
	}
	return &ZeroLogger{zl: ctx.Logger()}
}

func (l *ZeroLogger) emit(ev *zerolog.Event, msg string, args []any) {
	if ev == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		key, val := pair(args, i)
		if err, ok := val.(error); ok {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, val)
	}
	ev.Msg(msg)
}

// pair 取出第 i 个字段，奇数个参数时最后一个值记为 !BADKEY
func pair(args []any, i int) (string, any) {
	if i+1 >= len(args) {
		return "!BADKEY", args[i]
	}
	key, ok := args[i].(string)
	if !ok {
		key = fmt.Sprint(args[i])
	}
	return key, args[i+1]
}
