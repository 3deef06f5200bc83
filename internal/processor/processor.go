// Package processor 编排请求钩子与声明式规则，决定代理请求放行、修改还是模拟响应
package processor

import (
	"context"
	"errors"
	"sync"

	"hammerhead/internal/audit"
	"hammerhead/internal/engine"
	"hammerhead/internal/executor"
	"hammerhead/internal/filter"
	"hammerhead/internal/logger"
	"hammerhead/internal/mock"
	"hammerhead/internal/tracker"
	"hammerhead/pkg/domain"
	"hammerhead/pkg/rulespec"

	"github.com/google/uuid"
)

// Action 处理动作
type Action string

const (
	ActionPass   Action = "pass"
	ActionModify Action = "modify"
	ActionMock   Action = "mock"
)

// Result 处理结果
type Result struct {
	Action   Action
	Request  *domain.Request  // 修改后的请求（ActionModify）
	Response *domain.Response // 修改后的响应或模拟响应
}

// Hook 以过滤规则选定请求的程序化钩子
//
// Mock 不为空时命中即以模拟响应结束请求，OnRequest/OnResponse 不再执行。
type Hook struct {
	ID         string
	Rule       *filter.Rule
	Mock       *mock.ResponseMock
	OnRequest  func(ctx context.Context, req *domain.Request) error
	OnResponse func(ctx context.Context, req *domain.Request, res *domain.Response) error
}

// ErrNilHook 钩子为空
var ErrNilHook = errors.New("processor: nil hook")

// PendingState 暂存在 tracker 中的请求上下文
type PendingState struct {
	SessionID    domain.SessionID
	Request      *domain.Request
	Hooks        []*Hook
	MatchedRules []*engine.MatchedRule
	IsModified   bool
}

// IsMatched 判断请求是否匹配了任何钩子或规则
func (s *PendingState) IsMatched() bool {
	return len(s.Hooks) > 0 || len(s.MatchedRules) > 0
}

// Processor 业务处理编排中心
type Processor struct {
	tracker  *tracker.Tracker[*PendingState]
	engine   *engine.Engine
	executor *executor.Executor
	auditor  *audit.Auditor
	log      logger.Logger

	mu      sync.RWMutex
	global  []*Hook
	session map[domain.SessionID][]*Hook
}

// New 创建一个新的处理器，aud 可为 nil
func New(t *tracker.Tracker[*PendingState], e *engine.Engine, aud *audit.Auditor, l logger.Logger) *Processor {
	if l == nil {
		l = logger.NewNop()
	}
	if aud == nil {
		aud = audit.New(nil, l)
		aud.SetEnabled(false)
	}
	return &Processor{
		tracker:  t,
		engine:   e,
		executor: executor.New(),
		auditor:  aud,
		log:      l,
		session:  make(map[domain.SessionID][]*Hook),
	}
}

// AddHook 注册钩子，sessionID 为空时对所有会话生效；返回钩子 ID
func (p *Processor) AddHook(sessionID domain.SessionID, h *Hook) (string, error) {
	if h == nil {
		return "", ErrNilHook
	}
	if h.Rule == nil {
		h.Rule = filter.Any
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if sessionID == "" {
		p.global = append(p.global, h)
	} else {
		p.session[sessionID] = append(p.session[sessionID], h)
	}
	p.log.Debug("[Processor] 注册钩子", "hookID", h.ID, "session", sessionID, "rule", h.Rule.String())
	return h.ID, nil
}

// RemoveHook 按 ID 移除钩子
func (p *Processor) RemoveHook(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if hooks, ok := removeByID(p.global, id); ok {
		p.global = hooks
		return true
	}
	for sid, list := range p.session {
		if hooks, ok := removeByID(list, id); ok {
			if len(hooks) == 0 {
				delete(p.session, sid)
			} else {
				p.session[sid] = hooks
			}
			return true
		}
	}
	return false
}

// RemoveSessionHooks 移除会话的全部钩子
func (p *Processor) RemoveSessionHooks(sessionID domain.SessionID) {
	p.mu.Lock()
	delete(p.session, sessionID)
	p.mu.Unlock()
}

func removeByID(hooks []*Hook, id string) ([]*Hook, bool) {
	for i, h := range hooks {
		if h.ID == id {
			out := make([]*Hook, 0, len(hooks)-1)
			out = append(out, hooks[:i]...)
			return append(out, hooks[i+1:]...), true
		}
	}
	return hooks, false
}

// hooksFor 会话钩子优先于全局钩子
func (p *Processor) hooksFor(sessionID domain.SessionID) []*Hook {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Hook, 0, len(p.session[sessionID])+len(p.global))
	out = append(out, p.session[sessionID]...)
	return append(out, p.global...)
}

// ProcessRequest 处理请求阶段逻辑
//
// 过滤规则在此同步求值；非模拟结果的请求上下文存入 tracker，等待 ProcessResponse。
func (p *Processor) ProcessRequest(ctx context.Context, sessionID domain.SessionID, req *domain.Request) Result {
	state := &PendingState{SessionID: sessionID, Request: req}

	for _, h := range p.hooksFor(sessionID) {
		ok, err := h.Rule.Matches(ctx, req)
		if err != nil {
			p.log.Err(err, "[Processor] 过滤规则求值失败", "requestID", req.ID, "hookID", h.ID)
			continue
		}
		if !ok {
			continue
		}
		state.Hooks = append(state.Hooks, h)

		if h.Mock != nil {
			return p.respondWithMock(ctx, state, h.Mock)
		}
		if h.OnRequest != nil {
			if err := h.OnRequest(ctx, req); err != nil {
				p.log.Err(err, "[Processor] 请求钩子执行失败", "requestID", req.ID, "hookID", h.ID)
				continue
			}
			state.IsModified = true
		}
	}

	matched := p.engine.Eval(req, rulespec.StageRequest)
	p.engine.RecordStats(matched)
	state.MatchedRules = matched

	for _, mr := range matched {
		res, err := p.executor.ExecuteRequestActions(mr.Rule.Actions, req)
		if err != nil {
			p.log.Err(err, "[Processor] 规则行为执行失败", "requestID", req.ID, "ruleID", mr.Rule.ID)
		}
		if res.Modified {
			state.IsModified = true
		}
		if res.Mock != nil {
			p.log.Info("[Processor] 规则返回模拟响应", "requestID", req.ID, "ruleID", mr.Rule.ID, "statusCode", res.Mock.StatusCode())
			return p.respondWithMock(ctx, state, res.Mock)
		}
	}

	p.tracker.Set(req.ID, state)

	if state.IsModified {
		p.log.Debug("[Processor] 请求已修改", "requestID", req.ID, "hooks", len(state.Hooks), "rules", len(matched))
		return Result{Action: ActionModify, Request: req}
	}
	return Result{Action: ActionPass}
}

// respondWithMock 生成模拟响应并立即审计，响应阶段不会再执行
func (p *Processor) respondWithMock(ctx context.Context, state *PendingState, m *mock.ResponseMock) Result {
	res, err := m.Build(ctx, state.Request)
	if err != nil {
		p.log.Err(err, "[Processor] 模拟响应生成失败", "requestID", state.Request.ID)
		res = &domain.Response{StatusCode: 500, Headers: domain.Header{}}
		p.auditor.Record(state.SessionID, state.Request, res, domain.FinalResultFailed, toRuleMatches(state))
		return Result{Action: ActionMock, Response: res}
	}
	p.auditor.Record(state.SessionID, state.Request, res, domain.FinalResultMocked, toRuleMatches(state))
	return Result{Action: ActionMock, Response: res}
}

// ProcessResponse 处理响应阶段逻辑
func (p *Processor) ProcessResponse(ctx context.Context, reqID string, res *domain.Response) Result {
	state, ok := p.tracker.Get(reqID)
	if !ok {
		p.log.Warn("[Processor] 响应未找到对应请求", "requestID", reqID)
		return Result{Action: ActionPass}
	}

	modified := false
	for _, h := range state.Hooks {
		if h.OnResponse == nil {
			continue
		}
		if err := h.OnResponse(ctx, state.Request, res); err != nil {
			p.log.Err(err, "[Processor] 响应钩子执行失败", "requestID", reqID, "hookID", h.ID)
			continue
		}
		modified = true
	}

	matched := p.engine.Eval(state.Request, rulespec.StageResponse)
	p.engine.RecordStats(matched)
	for _, mr := range matched {
		r, err := p.executor.ExecuteResponseActions(mr.Rule.Actions, res)
		if err != nil {
			p.log.Err(err, "[Processor] 响应规则执行失败", "requestID", reqID, "ruleID", mr.Rule.ID)
		}
		if r.Modified {
			modified = true
		}
	}
	state.MatchedRules = append(state.MatchedRules, matched...)

	finalResult := domain.FinalResultPassed
	if state.IsModified || modified {
		finalResult = domain.FinalResultModified
	}
	p.auditor.Record(state.SessionID, state.Request, res, finalResult, toRuleMatches(state))

	if modified {
		return Result{Action: ActionModify, Response: res}
	}
	return Result{Action: ActionPass}
}

// ProcessFailure 请求在上游失败时记录审计并释放上下文
func (p *Processor) ProcessFailure(reqID string, res *domain.Response) {
	state, ok := p.tracker.Get(reqID)
	if !ok {
		return
	}
	p.auditor.Record(state.SessionID, state.Request, res, domain.FinalResultFailed, toRuleMatches(state))
}

// toRuleMatches 将命中的钩子与规则转换为领域模型
func toRuleMatches(state *PendingState) []domain.RuleMatch {
	out := make([]domain.RuleMatch, 0, len(state.Hooks)+len(state.MatchedRules))
	for _, h := range state.Hooks {
		var actions []string
		if h.Mock != nil {
			actions = append(actions, "mock")
		}
		if h.OnRequest != nil {
			actions = append(actions, "onRequest")
		}
		if h.OnResponse != nil {
			actions = append(actions, "onResponse")
		}
		out = append(out, domain.RuleMatch{RuleID: h.ID, RuleName: "hook:" + h.Rule.String(), Actions: actions})
	}
	for _, m := range state.MatchedRules {
		actions := make([]string, len(m.Rule.Actions))
		for j, action := range m.Rule.Actions {
			actions[j] = string(action.Type)
		}
		out = append(out, domain.RuleMatch{RuleID: m.Rule.ID, RuleName: m.Rule.Name, Actions: actions})
	}
	return out
}
