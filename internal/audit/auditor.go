// Package audit 记录代理往返事件，分发给实时观察者并交给持久化
package audit

import (
	"time"

	"hammerhead/internal/logger"
	"hammerhead/pkg/domain"
)

// Sink 事件持久化接口，实现方需保证非阻塞
type Sink interface {
	RecordEvent(evt *domain.NetworkEvent)
}

// Auditor 审计与观察者，负责流量快照的记录、持久化与分发
type Auditor struct {
	enabled     bool
	matchedOnly bool
	events      chan domain.NetworkEvent
	sink        Sink
	log         logger.Logger
}

// Option 审计器选项
type Option func(*Auditor)

// WithSink 设置持久化目标
func WithSink(s Sink) Option {
	return func(a *Auditor) { a.sink = s }
}

// MatchedOnly 只记录命中规则或钩子的事件
func MatchedOnly() Option {
	return func(a *Auditor) { a.matchedOnly = true }
}

// New 创建一个新的审计员，events 可为 nil
func New(events chan domain.NetworkEvent, l logger.Logger, opts ...Option) *Auditor {
	if l == nil {
		l = logger.NewNop()
	}
	a := &Auditor{
		enabled: true,
		events:  events,
		log:     l,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetEnabled 设置是否启用审计
func (a *Auditor) SetEnabled(enabled bool) {
	a.enabled = enabled
}

// Record 记录一个完整的代理往返
func (a *Auditor) Record(
	sessionID domain.SessionID,
	req *domain.Request,
	res *domain.Response,
	result string,
	matchedRules []domain.RuleMatch,
) {
	if !a.enabled || req == nil {
		return
	}
	if a.matchedOnly && len(matchedRules) == 0 {
		return
	}

	evt := domain.NetworkEvent{
		ID:           req.ID,
		Session:      sessionID,
		Timestamp:    time.Now().UnixMilli(),
		IsMatched:    len(matchedRules) > 0,
		FinalResult:  result,
		MatchedRules: matchedRules,
		Request:      domain.RequestInfoOf(req),
		Response:     domain.ResponseInfoOf(res),
	}

	if a.sink != nil {
		a.sink.RecordEvent(&evt)
	}
	a.dispatch(evt)
}

// dispatch 分发事件到实时观察通道，通道满时丢弃
func (a *Auditor) dispatch(evt domain.NetworkEvent) {
	if a.events == nil {
		return
	}

	select {
	case a.events <- evt:
	default:
		// 通道满时丢弃，防止阻塞代理请求
		a.log.Warn("[Auditor] 审计事件分发通道已满，丢弃事件", "id", evt.ID)
	}
}
