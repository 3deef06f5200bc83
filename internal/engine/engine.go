// Package engine 对代理请求评估声明式规则
package engine

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"hammerhead/internal/regexutil"
	"hammerhead/pkg/domain"
	"hammerhead/pkg/rulespec"

	"github.com/tidwall/gjson"
)

// MatchedRule 匹配成功的规则
type MatchedRule struct {
	Rule *rulespec.Rule
}

// Engine 规则决策引擎，规则集整体替换，统计按规则累计
type Engine struct {
	mu      sync.RWMutex
	config  *rulespec.Config
	total   int64
	matched int64
	byRule  map[string]int64
	regexps *regexutil.Cache
}

// New 创建规则引擎，config 可为 nil
func New(config *rulespec.Config) *Engine {
	return &Engine{
		config:  config,
		byRule:  make(map[string]int64),
		regexps: regexutil.New(0),
	}
}

// Update 替换规则集
func (e *Engine) Update(config *rulespec.Config) {
	e.mu.Lock()
	e.config = config
	e.mu.Unlock()
	e.regexps.Reset()
}

// Config 当前规则集
func (e *Engine) Config() *rulespec.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// Eval 返回该阶段命中的启用规则，按优先级降序，同优先级保持配置顺序
func (e *Engine) Eval(req *domain.Request, stage rulespec.Stage) []*MatchedRule {
	config := e.Config()
	if config == nil || len(config.Rules) == 0 {
		return nil
	}

	var host string
	if u, err := url.Parse(req.URL); err == nil {
		host = strings.ToLower(u.Hostname())
	}
	in := &input{req: req, host: host}

	var matched []*MatchedRule
	for i := range config.Rules {
		rule := &config.Rules[i]
		if !rule.Enabled || rule.Stage != stage {
			continue
		}
		if e.matchRule(in, &rule.Match) {
			matched = append(matched, &MatchedRule{Rule: rule})
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Rule.Priority > matched[j].Rule.Priority
	})
	return matched
}

// RecordStats 记录一次评估结果
func (e *Engine) RecordStats(matched []*MatchedRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.total++
	if len(matched) == 0 {
		return
	}
	e.matched++
	for _, m := range matched {
		e.byRule[m.Rule.ID]++
	}
}

// GetStats 获取统计信息
func (e *Engine) GetStats() domain.EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	byRule := make(map[domain.RuleID]int64, len(e.byRule))
	for k, v := range e.byRule {
		byRule[domain.RuleID(k)] = v
	}
	return domain.EngineStats{Total: e.total, Matched: e.matched, ByRule: byRule}
}

// ResetStats 清空统计
func (e *Engine) ResetStats() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.total, e.matched = 0, 0
	e.byRule = make(map[string]int64)
}

// input 单次评估的请求视图
type input struct {
	req  *domain.Request
	host string
}

// matchRule allOf 全部满足且 anyOf 至少满足一个；两者皆空视为命中
func (e *Engine) matchRule(in *input, m *rulespec.Match) bool {
	for i := range m.AllOf {
		if !e.evalCondition(in, &m.AllOf[i]) {
			return false
		}
	}
	if len(m.AnyOf) == 0 {
		return true
	}
	for i := range m.AnyOf {
		if e.evalCondition(in, &m.AnyOf[i]) {
			return true
		}
	}
	return false
}

func (e *Engine) evalCondition(in *input, c *rulespec.Condition) bool {
	req := in.req
	switch c.Type {
	case rulespec.ConditionURLEquals:
		return req.URL == c.Value
	case rulespec.ConditionURLPrefix:
		return strings.HasPrefix(req.URL, c.Value)
	case rulespec.ConditionURLSuffix:
		return strings.HasSuffix(req.URL, c.Value)
	case rulespec.ConditionURLContains:
		return strings.Contains(req.URL, c.Value)
	case rulespec.ConditionURLRegex:
		return e.regexps.MatchString(c.Pattern, req.URL)

	case rulespec.ConditionHostEquals:
		return in.host != "" && in.host == strings.ToLower(c.Value)
	case rulespec.ConditionHostSuffix:
		suffix := strings.TrimPrefix(strings.ToLower(c.Value), ".")
		return in.host != "" && suffix != "" && (in.host == suffix || strings.HasSuffix(in.host, "."+suffix))
	case rulespec.ConditionSession:
		return containsFold(c.Values, string(req.SessionID), false)

	case rulespec.ConditionMethod:
		return containsFold(c.Values, req.Method, true)
	case rulespec.ConditionResourceType:
		return containsFold(c.Values, string(req.ResourceType), true)
	case rulespec.ConditionIsAjax:
		want, err := strconv.ParseBool(c.Value)
		return err == nil && req.IsAjax == want

	case rulespec.ConditionHeaderExists, rulespec.ConditionHeaderNotExists, rulespec.ConditionHeaderEquals,
		rulespec.ConditionHeaderContains, rulespec.ConditionHeaderRegex:
		v := req.Headers.Get(c.Name)
		return e.matchField(c, v, v != "")

	case rulespec.ConditionQueryExists, rulespec.ConditionQueryNotExists, rulespec.ConditionQueryEquals,
		rulespec.ConditionQueryContains, rulespec.ConditionQueryRegex:
		v, ok := req.Query[c.Name]
		return e.matchField(c, v, ok)

	case rulespec.ConditionCookieExists, rulespec.ConditionCookieNotExists, rulespec.ConditionCookieEquals,
		rulespec.ConditionCookieContains, rulespec.ConditionCookieRegex:
		v, ok := req.Cookies[c.Name]
		return e.matchField(c, v, ok)

	case rulespec.ConditionBodyContains:
		return strings.Contains(string(req.Body), c.Value)
	case rulespec.ConditionBodyRegex:
		return e.regexps.MatchString(c.Pattern, string(req.Body))
	case rulespec.ConditionBodyJsonPath:
		v, ok := jsonPath(req.Body, c.Path)
		return ok && v == c.Value
	}
	return false
}

// matchField 统一处理 header/query/cookie 的 exists/notExists/equals/contains/regex
func (e *Engine) matchField(c *rulespec.Condition, v string, ok bool) bool {
	t := string(c.Type)
	switch {
	case strings.HasSuffix(t, "NotExists"):
		return !ok
	case strings.HasSuffix(t, "Exists"):
		return ok
	case !ok:
		return false
	case strings.HasSuffix(t, "Equals"):
		return v == c.Value
	case strings.HasSuffix(t, "Contains"):
		return strings.Contains(v, c.Value)
	case strings.HasSuffix(t, "Regex"):
		return e.regexps.MatchString(c.Pattern, v)
	}
	return false
}

func containsFold(values []string, s string, fold bool) bool {
	for _, v := range values {
		if v == s || (fold && strings.EqualFold(v, s)) {
			return true
		}
	}
	return false
}

// jsonPath 支持 "$." 前缀的 gjson 路径
func jsonPath(body []byte, path string) (string, bool) {
	if len(body) == 0 || path == "" {
		return "", false
	}
	r := gjson.GetBytes(body, strings.TrimPrefix(path, "$."))
	if !r.Exists() {
		return "", false
	}
	return r.String(), true
}
