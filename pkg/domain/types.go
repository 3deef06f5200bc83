package domain

import (
	"net/http"
	"strings"
)

// SessionID 会话ID
type SessionID string

// RuleID 规则ID
type RuleID string

// ResourceType 请求的资源类型（小写规范化名称）
type ResourceType string

const (
	ResourceTypePage          ResourceType = "page"
	ResourceTypeIframe        ResourceType = "iframe"
	ResourceTypeScript        ResourceType = "script"
	ResourceTypeStylesheet    ResourceType = "stylesheet"
	ResourceTypeForm          ResourceType = "form"
	ResourceTypeAjax          ResourceType = "ajax"
	ResourceTypeWebSocket     ResourceType = "websocket"
	ResourceTypeWorker        ResourceType = "worker"
	ResourceTypeServiceWorker ResourceType = "serviceWorker"
	ResourceTypeManifest      ResourceType = "manifest"
	ResourceTypeOther         ResourceType = "other"
)

// Header 小写键的头部映射，同名多值以 ", " 合并
type Header map[string]string

// HeaderFrom 将 http.Header 转换为小写键映射
func HeaderFrom(h http.Header) Header {
	out := make(Header, len(h))
	for k, vs := range h {
		out[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	return out
}

// Get 获取头部值（不区分大小写）
func (h Header) Get(name string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(name)]
}

// Set 设置头部值
func (h Header) Set(name, value string) {
	h[strings.ToLower(name)] = value
}

// Del 删除头部
func (h Header) Del(name string) {
	delete(h, strings.ToLower(name))
}

// Clone 复制头部
func (h Header) Clone() Header {
	out := make(Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Request 经过解码的代理请求（目标地址为真实源站地址）
type Request struct {
	ID           string            `json:"id"`
	SessionID    SessionID         `json:"sessionId"`
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Headers      Header            `json:"headers"`
	Query        map[string]string `json:"query,omitempty"`
	Cookies      map[string]string `json:"cookies,omitempty"`
	Body         []byte            `json:"body,omitempty"`
	ResourceType ResourceType      `json:"resourceType"`
	IsAjax       bool              `json:"isAjax"`
}

// Response 源站或模拟响应
type Response struct {
	StatusCode int    `json:"statusCode"`
	Headers    Header `json:"headers"`
	Body       []byte `json:"body,omitempty"`
}

// EngineStats 引擎统计信息
type EngineStats struct {
	Total   int64            `json:"total"`
	Matched int64            `json:"matched"`
	ByRule  map[RuleID]int64 `json:"byRule"`
}

// RequestInfo 请求信息
type RequestInfo struct {
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Headers      map[string]string `json:"headers"`
	Body         string            `json:"body"`
	ResourceType string            `json:"resourceType,omitempty"`
}

// ResponseInfo 响应信息
type ResponseInfo struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	Timing     ResponseTiming    `json:"timing,omitempty"`
}

// ResponseTiming 响应时间信息
type ResponseTiming struct {
	StartTime int64 `json:"startTime"`
	EndTime   int64 `json:"endTime"`
}

// RuleMatch 规则匹配信息
type RuleMatch struct {
	RuleID   string   `json:"ruleId"`
	RuleName string   `json:"ruleName"`
	Actions  []string `json:"actions"`
}

// 最终处理结果
const (
	FinalResultPassed   = "passed"
	FinalResultModified = "modified"
	FinalResultMocked   = "mocked"
	FinalResultFailed   = "failed"
)

// RequestInfoOf 生成请求快照
func RequestInfoOf(req *Request) RequestInfo {
	info := RequestInfo{
		URL:          req.URL,
		Method:       req.Method,
		Headers:      make(map[string]string, len(req.Headers)),
		Body:         string(req.Body),
		ResourceType: string(req.ResourceType),
	}
	for k, v := range req.Headers {
		info.Headers[k] = v
	}
	return info
}

// ResponseInfoOf 生成响应快照，res 为 nil 时返回零值
func ResponseInfoOf(res *Response) ResponseInfo {
	if res == nil {
		return ResponseInfo{}
	}
	info := ResponseInfo{
		StatusCode: res.StatusCode,
		Headers:    make(map[string]string, len(res.Headers)),
		Body:       string(res.Body),
	}
	for k, v := range res.Headers {
		info.Headers[k] = v
	}
	return info
}

// NetworkEvent 一次代理往返的审计事件
type NetworkEvent struct {
	ID           string       `json:"id"`
	Session      SessionID    `json:"session"`
	Timestamp    int64        `json:"timestamp"`
	IsMatched    bool         `json:"isMatched"`
	Request      RequestInfo  `json:"request"`
	Response     ResponseInfo `json:"response,omitempty"`
	FinalResult  string       `json:"finalResult,omitempty"`
	MatchedRules []RuleMatch  `json:"matchedRules,omitempty"`
}
