package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cdpblock/internal/ctxkeys"
	"cdpblock/internal/logger"
	"cdpblock/pkg/model"

	"github.com/glebarez/sqlite"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

const defaultJournalBuffer = 1024

var ErrJournalClosed = errors.New("journal closed")

// EventRecord 拦截事件持久化模型。relay/pending/error 等附加字段以 JSON 存在 Detail 中
type EventRecord struct {
	ID         uint   `gorm:"primaryKey"`
	Type       string `gorm:"size:32;index"`
	Session    string `gorm:"size:64;index"`
	Target     string `gorm:"size:64"`
	RequestID  string `gorm:"size:64;index"`
	Pattern    string `gorm:"size:512;index"`
	URL        string
	Method     string `gorm:"size:16"`
	StatusCode int
	Detail     string
	Timestamp  int64 `gorm:"index"`
}

// JournalOptions 日志库配置
type JournalOptions struct {
	DSN    string
	Prefix string
	Buffer int
	Logger logger.Logger
}

// Journal 把引擎事件异步写入 sqlite，实现 interceptor.Observer
type Journal struct {
	db     *gorm.DB
	log    logger.Logger
	ch     chan model.Event
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// OpenJournal 打开（必要时创建）日志库并启动写入 goroutine
func OpenJournal(opts JournalOptions) (*Journal, error) {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(opts.DSN), &gorm.Config{
		Logger:         NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{TablePrefix: opts.Prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", opts.DSN, err)
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	size := opts.Buffer
	if size <= 0 {
		size = defaultJournalBuffer
	}
	j := &Journal{db: db, log: l, ch: make(chan model.Event, size)}
	j.wg.Add(1)
	go j.run()
	l.Info("事件日志库已打开", "dsn", opts.DSN, "prefix", opts.Prefix)
	return j, nil
}

// Observe 非阻塞入队，缓冲区满时丢弃
func (j *Journal) Observe(evt model.Event) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.ch <- evt:
	default:
		j.log.Warn("事件日志缓冲区已满，丢弃事件", "type", evt.Type, "requestID", evt.RequestID)
	}
}

func (j *Journal) run() {
	defer j.wg.Done()
	for evt := range j.ch {
		if err := j.write(evt); err != nil {
			j.log.Err(err, "写入事件日志失败", "type", evt.Type)
		}
	}
}

func (j *Journal) write(evt model.Event) error {
	rec, err := toRecord(evt)
	if err != nil {
		return err
	}
	ctx := context.WithValue(context.Background(), ctxkeys.EventTypeKey{}, string(evt.Type))
	if evt.RequestID != "" {
		ctx = context.WithValue(ctx, ctxkeys.RequestIDKey{}, evt.RequestID)
	}
	return j.db.WithContext(ctx).Create(&rec).Error
}

// Recent 按时间倒序返回最近的事件
func (j *Journal) Recent(limit int) ([]model.Event, error) {
	var recs []EventRecord
	if err := j.db.Order("id desc").Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	return fromRecords(recs), nil
}

// ByRequest 返回某个请求的全部事件，按写入顺序
func (j *Journal) ByRequest(requestID string) ([]model.Event, error) {
	var recs []EventRecord
	err := j.db.Where("request_id = ?", requestID).Order("id asc").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("query events of %s: %w", requestID, err)
	}
	return fromRecords(recs), nil
}

// Close 停止接收事件，等待缓冲写完后关闭数据库
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ErrJournalClosed
	}
	j.closed = true
	close(j.ch)
	j.mu.Unlock()

	j.wg.Wait()
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(evt model.Event) (EventRecord, error) {
	detail := "{}"
	var err error
	if evt.Relay {
		if detail, err = sjson.Set(detail, "relay", true); err != nil {
			return EventRecord{}, err
		}
	}
	if evt.Pending != 0 {
		if detail, err = sjson.Set(detail, "pending", evt.Pending); err != nil {
			return EventRecord{}, err
		}
	}
	if evt.Error != "" {
		if detail, err = sjson.Set(detail, "error", evt.Error); err != nil {
			return EventRecord{}, err
		}
	}
	return EventRecord{
		Type:       string(evt.Type),
		Session:    string(evt.Session),
		Target:     string(evt.Target),
		RequestID:  evt.RequestID,
		Pattern:    evt.Pattern,
		URL:        evt.URL,
		Method:     evt.Method,
		StatusCode: evt.StatusCode,
		Detail:     detail,
		Timestamp:  evt.Timestamp,
	}, nil
}

func fromRecords(recs []EventRecord) []model.Event {
	out := make([]model.Event, 0, len(recs))
	for _, r := range recs {
		d := gjson.Parse(r.Detail)
		out = append(out, model.Event{
			Type:       model.EventType(r.Type),
			Session:    model.SessionID(r.Session),
			Target:     model.TargetID(r.Target),
			RequestID:  r.RequestID,
			Pattern:    r.Pattern,
			URL:        r.URL,
			Method:     r.Method,
			StatusCode: r.StatusCode,
			Relay:      d.Get("relay").Bool(),
			Pending:    int(d.Get("pending").Int()),
			Error:      d.Get("error").String(),
			Timestamp:  r.Timestamp,
		})
	}
	return out
}
