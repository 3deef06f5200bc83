package repo

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"hammerhead/internal/logger"
	"hammerhead/internal/storage/model"
	"hammerhead/pkg/domain"

	"gorm.io/gorm"
)

// EventRepoOptions 事件仓库配置
type EventRepoOptions struct {
	BatchSize     int           // 缓冲达到该数量时立即刷新
	FlushInterval time.Duration // 定时刷新间隔
	MaxBufferSize int           // 缓冲上限，超出时丢弃新事件
}

func (o *EventRepoOptions) withDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.MaxBufferSize <= 0 {
		o.MaxBufferSize = 5000
	}
}

// EventRepo 审计事件仓库，异步批量写入
type EventRepo struct {
	BaseRepository[model.NetworkEventRecord]
	log  logger.Logger
	opts EventRepoOptions

	bufferMu sync.Mutex
	buffer   []*model.NetworkEventRecord
	dropped  int64

	flushCh  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEventRepo 创建事件仓库并启动写入协程
func NewEventRepo(db *gorm.DB, l logger.Logger, opts EventRepoOptions) *EventRepo {
	opts.withDefaults()
	if l == nil {
		l = logger.NewNop()
	}
	r := &EventRepo{
		BaseRepository: *NewBaseRepository[model.NetworkEventRecord](db),
		log:            l,
		opts:           opts,
		buffer:         make([]*model.NetworkEventRecord, 0, opts.BatchSize),
		flushCh:        make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
	}
	r.wg.Add(1)
	go r.asyncWriter()
	return r
}

func (r *EventRepo) asyncWriter() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.flush()
			return
		case <-ticker.C:
			r.flush()
		case <-r.flushCh:
			r.flush()
		}
	}
}

func (r *EventRepo) flush() {
	r.bufferMu.Lock()
	if len(r.buffer) == 0 {
		r.bufferMu.Unlock()
		return
	}
	toWrite := r.buffer
	r.buffer = make([]*model.NetworkEventRecord, 0, r.opts.BatchSize)
	r.bufferMu.Unlock()

	if err := r.CreateBatch(context.Background(), toWrite, 100); err != nil {
		r.log.Err(err, "[EventRepo] 批量写入事件失败", "count", len(toWrite))
	}
}

// Stop 停止写入协程，剩余事件在返回前落库
func (r *EventRepo) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Flush 请求立即刷新，不等待写入完成
func (r *EventRepo) Flush() {
	select {
	case r.flushCh <- struct{}{}:
	default:
	}
}

// Dropped 缓冲溢出丢弃的事件数
func (r *EventRepo) Dropped() int64 {
	r.bufferMu.Lock()
	defer r.bufferMu.Unlock()
	return r.dropped
}

// RecordEvent 缓冲一条审计事件，实现 audit.Sink
func (r *EventRepo) RecordEvent(evt *domain.NetworkEvent) {
	if evt == nil {
		return
	}
	record := toRecord(evt)

	r.bufferMu.Lock()
	if len(r.buffer) >= r.opts.MaxBufferSize {
		r.dropped++
		r.bufferMu.Unlock()
		r.log.Warn("[EventRepo] 事件缓冲已满，丢弃事件", "url", evt.Request.URL)
		return
	}
	r.buffer = append(r.buffer, record)
	needFlush := len(r.buffer) >= r.opts.BatchSize
	r.bufferMu.Unlock()

	if needFlush {
		r.Flush()
	}
}

func toRecord(evt *domain.NetworkEvent) *model.NetworkEventRecord {
	matchedRulesJSON, _ := json.Marshal(evt.MatchedRules)
	requestJSON, _ := json.Marshal(evt.Request)
	responseJSON, _ := json.Marshal(evt.Response)

	ts := evt.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	return &model.NetworkEventRecord{
		EventID:          evt.ID,
		SessionID:        string(evt.Session),
		URL:              evt.Request.URL,
		Method:           evt.Request.Method,
		ResourceType:     evt.Request.ResourceType,
		StatusCode:       evt.Response.StatusCode,
		FinalResult:      evt.FinalResult,
		IsMatched:        evt.IsMatched,
		MatchedRulesJSON: string(matchedRulesJSON),
		RequestJSON:      string(requestJSON),
		ResponseJSON:     string(responseJSON),
		Timestamp:        ts,
		CreatedAt:        time.Now(),
	}
}

// QueryOptions 查询选项
type QueryOptions struct {
	SessionID   string `json:"sessionId,omitempty"`
	FinalResult string `json:"finalResult,omitempty"`
	URL         string `json:"url,omitempty"` // 子串匹配
	Method      string `json:"method,omitempty"`
	MatchedOnly bool   `json:"matchedOnly,omitempty"`
	StartTime   int64  `json:"startTime,omitempty"`
	EndTime     int64  `json:"endTime,omitempty"`
	Offset      int    `json:"offset,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// Apply 实现 Filter
func (o QueryOptions) Apply(db *gorm.DB) *gorm.DB {
	if o.SessionID != "" {
		db = db.Where("session_id = ?", o.SessionID)
	}
	if o.FinalResult != "" {
		db = db.Where("final_result = ?", o.FinalResult)
	}
	if o.URL != "" {
		db = db.Where("url LIKE ?", "%"+o.URL+"%")
	}
	if o.Method != "" {
		db = db.Where("method = ?", o.Method)
	}
	if o.MatchedOnly {
		db = db.Where("is_matched = ?", true)
	}
	if o.StartTime > 0 {
		db = db.Where("timestamp >= ?", o.StartTime)
	}
	if o.EndTime > 0 {
		db = db.Where("timestamp <= ?", o.EndTime)
	}
	return db
}

// Query 分页查询事件，按时间倒序
func (r *EventRepo) Query(ctx context.Context, opts QueryOptions) ([]*model.NetworkEventRecord, int64, error) {
	total, err := r.Count(ctx, opts)
	if err != nil {
		return nil, 0, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}
	records, err := r.FindAll(ctx, opts, &Pagination{Offset: opts.Offset, Limit: opts.Limit},
		Order{Field: "timestamp", Sort: "DESC"}, Order{Field: "id", Sort: "DESC"})
	return records, total, err
}

type beforeFilter int64

func (b beforeFilter) Apply(db *gorm.DB) *gorm.DB { return db.Where("timestamp < ?", int64(b)) }

type sessionFilter string

func (s sessionFilter) Apply(db *gorm.DB) *gorm.DB { return db.Where("session_id = ?", string(s)) }

// DeleteOldEvents 删除早于给定毫秒时间戳的事件
func (r *EventRepo) DeleteOldEvents(ctx context.Context, beforeTimestamp int64) (int64, error) {
	return r.Delete(ctx, beforeFilter(beforeTimestamp))
}

// DeleteBySession 删除指定会话的事件
func (r *EventRepo) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	return r.Delete(ctx, sessionFilter(sessionID))
}

// CleanupOldEvents 按保留天数清理，retentionDays 非正数时保留 7 天
func (r *EventRepo) CleanupOldEvents(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	return r.DeleteOldEvents(ctx, cutoff)
}
