package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"hammerhead/internal/cookie"
	"hammerhead/internal/session"
	"hammerhead/internal/storage/model"
	"hammerhead/internal/storage/repo"
	"hammerhead/pkg/api"
	"hammerhead/pkg/domain"
	"hammerhead/pkg/errx"
	"hammerhead/pkg/rulespec"
)

// MetricsPath 指标接口路径
const MetricsPath = "/metrics"

// Server 控制接口入口
type Server struct {
	svc api.Service
}

// NewServer 创建控制接口服务
func NewServer(svc api.Service) *Server {
	return &Server{svc: svc}
}

// ServeHTTP 处理所有控制请求，GET /metrics 交给指标处理器
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == MetricsPath && r.Method == http.MethodGet {
		s.svc.MetricsHandler().ServeHTTP(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, &Response{Response: fail(ErrInvalidRequest.withError(err))})
		return
	}
	writeResponse(w, s.dispatch(r.Context(), &req))
}

// Request 表示通用请求结构
type Request struct {
	Method string          `json:"method"`
	ID     string          `json:"id,omitempty"`
	Params json.RawMessage `json:"params"`
}

// Response 表示通用响应结构
type Response struct {
	ID string `json:"id,omitempty"`
	api.Response[any]
}

// ApiError 表示接口层错误类型
type ApiError struct {
	Code string
	Err  error
}

func (e ApiError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e ApiError) withError(err error) ApiError {
	return ApiError{Code: e.Code, Err: err}
}

var (
	// ErrInvalidRequest 无效请求
	ErrInvalidRequest = ApiError{Code: "invalid_request"}
	// ErrMethodNotFound 方法不存在
	ErrMethodNotFound = ApiError{Code: "method_not_found"}
	// ErrInvalidParams 参数错误
	ErrInvalidParams = ApiError{Code: "invalid_params"}
	// ErrNotFound 资源不存在
	ErrNotFound = ApiError{Code: "not_found"}
	// ErrInternal 内部错误
	ErrInternal = ApiError{Code: "internal"}
)

// sessionCreateParams 会话创建参数
type sessionCreateParams struct {
	OwnerToken        string   `json:"ownerToken,omitempty"`
	UploadStoragePath string   `json:"uploadStoragePath,omitempty"`
	InjectedScripts   []string `json:"injectedScripts,omitempty"`
}

// sessionOnlyParams 仅包含会话标识的参数
type sessionOnlyParams struct {
	SessionID string `json:"sessionId"`
}

// sessionOpenParams 打开页面参数
type sessionOpenParams struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// ownerParams 所有者参数
type ownerParams struct {
	OwnerToken string `json:"ownerToken"`
}

// cookiesQueryParams Cookie 查询与删除参数
type cookiesQueryParams struct {
	SessionID string          `json:"sessionId"`
	Filters   []cookie.Filter `json:"filters,omitempty"`
	URLs      []string        `json:"urls,omitempty"`
}

// cookiesSetParams Cookie 写入参数
type cookiesSetParams struct {
	SessionID string          `json:"sessionId"`
	URL       string          `json:"url,omitempty"`
	Cookies   []cookie.Cookie `json:"cookies"`
}

// authSetParams 认证信息参数，用户名与密码均为空时删除
type authSetParams struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// rulesLoadParams 规则装载参数
type rulesLoadParams struct {
	Config rulespec.Config `json:"config"`
}

// sessionCreateResult 会话创建结果
type sessionCreateResult struct {
	SessionID  string `json:"sessionId"`
	OwnerToken string `json:"ownerToken"`
}

// sessionOpenResult 打开页面结果
type sessionOpenResult struct {
	ProxyURL string `json:"proxyUrl"`
}

// countResult 数量结果
type countResult struct {
	Count int `json:"count"`
}

// eventsQueryResult 事件查询结果
type eventsQueryResult struct {
	Total  int64                       `json:"total"`
	Events []*model.NetworkEventRecord `json:"events"`
}

// statsRulesResult 规则统计结果
type statsRulesResult struct {
	Total   int64            `json:"total"`
	Matched int64            `json:"matched"`
	ByRule  map[string]int64 `json:"byRule"`
}

// dispatch 根据 method 分发请求
func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	var (
		result any
		err    error
	)
	switch req.Method {
	case "session.create":
		result, err = s.handleSessionCreate(req.Params)
	case "session.open":
		result, err = s.handleSessionOpen(req.Params)
	case "session.close":
		result, err = s.handleSessionClose(req.Params)
	case "session.closeByOwner":
		result, err = s.handleSessionCloseByOwner(req.Params)
	case "cookies.get":
		result, err = s.handleCookiesGet(req.Params)
	case "cookies.set":
		result, err = s.handleCookiesSet(req.Params)
	case "cookies.delete":
		result, err = s.handleCookiesDelete(req.Params)
	case "auth.set":
		result, err = s.handleAuthSet(req.Params)
	case "rules.load":
		result, err = s.handleRulesLoad(ctx, req.Params)
	case "stats.rules":
		result, err = s.handleStatsRules()
	case "events.query":
		result, err = s.handleEventsQuery(ctx, req.Params)
	default:
		err = ErrMethodNotFound
	}
	if err != nil {
		return &Response{ID: req.ID, Response: fail(err)}
	}
	if result == nil {
		result = api.EmptyData{}
	}
	return &Response{ID: req.ID, Response: api.OK[any](result)}
}

// writeResponse 写出统一响应
func writeResponse(w http.ResponseWriter, res *Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	_ = enc.Encode(res)
}

// fail 将错误转换为失败响应：接口错误 > 错误码 > 领域错误 > internal
func fail(err error) api.Response[any] {
	var apiErr ApiError
	if errors.As(err, &apiErr) {
		return api.Fail[any](apiErr.Code, apiErr.Error())
	}
	fallback := ErrInternal.Code
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		fallback = ErrNotFound.Code
	case errors.Is(err, domain.ErrInvalidConfig):
		fallback = ErrInvalidParams.Code
	}
	return api.FromError[any](err, fallback)
}

func decode(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return ErrInvalidParams.withError(errors.New("params is required"))
	}
	if err := json.Unmarshal(params, v); err != nil {
		return ErrInvalidParams.withError(err)
	}
	return nil
}

// session 按参数中的会话 ID 取会话
func (s *Server) session(id string) (*session.Session, error) {
	if id == "" {
		return nil, ErrInvalidParams.withError(errors.New("sessionId is required"))
	}
	return s.svc.Session(domain.SessionID(id))
}

// handleSessionCreate 处理会话创建
func (s *Server) handleSessionCreate(params json.RawMessage) (any, error) {
	var p sessionCreateParams
	if len(params) > 0 {
		if err := decode(params, &p); err != nil {
			return nil, err
		}
	}
	ses := s.svc.CreateSession(p.OwnerToken, p.UploadStoragePath)
	if len(p.InjectedScripts) > 0 {
		ses.SetInjectedScripts(p.InjectedScripts)
	}
	return &sessionCreateResult{SessionID: string(ses.ID), OwnerToken: ses.OwnerToken}, nil
}

// handleSessionOpen 处理打开页面
func (s *Server) handleSessionOpen(params json.RawMessage) (any, error) {
	var p sessionOpenParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.URL == "" {
		return nil, ErrInvalidParams.withError(errors.New("url is required"))
	}
	ses, err := s.session(p.SessionID)
	if err != nil {
		return nil, err
	}
	u, err := s.svc.OpenSession(p.URL, ses)
	if err != nil {
		return nil, err
	}
	return &sessionOpenResult{ProxyURL: u}, nil
}

// handleSessionClose 处理会话销毁
func (s *Server) handleSessionClose(params json.RawMessage) (any, error) {
	var p sessionOnlyParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.SessionID == "" {
		return nil, ErrInvalidParams.withError(errors.New("sessionId is required"))
	}
	return nil, s.svc.CloseSession(domain.SessionID(p.SessionID))
}

// handleSessionCloseByOwner 处理按所有者销毁
func (s *Server) handleSessionCloseByOwner(params json.RawMessage) (any, error) {
	var p ownerParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.OwnerToken == "" {
		return nil, ErrInvalidParams.withError(errors.New("ownerToken is required"))
	}
	return &countResult{Count: s.svc.CloseSessionsByOwner(p.OwnerToken)}, nil
}

// handleCookiesGet 处理 Cookie 查询
func (s *Server) handleCookiesGet(params json.RawMessage) (any, error) {
	var p cookiesQueryParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	ses, err := s.session(p.SessionID)
	if err != nil {
		return nil, err
	}
	return ses.Cookies.GetCookies(p.Filters, p.URLs), nil
}

// handleCookiesSet 处理 Cookie 写入，非法 Cookie 以 MALFORMED_COOKIE 返回，其余照常写入
func (s *Server) handleCookiesSet(params json.RawMessage) (any, error) {
	var p cookiesSetParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	ses, err := s.session(p.SessionID)
	if err != nil {
		return nil, err
	}
	if err := ses.Cookies.SetCookies(p.Cookies, p.URL); err != nil {
		return nil, errx.Wrap(errx.CodeMalformedCookie, err, "set cookies")
	}
	return nil, nil
}

// handleCookiesDelete 处理 Cookie 删除
func (s *Server) handleCookiesDelete(params json.RawMessage) (any, error) {
	var p cookiesQueryParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	ses, err := s.session(p.SessionID)
	if err != nil {
		return nil, err
	}
	return &countResult{Count: ses.Cookies.DeleteCookies(p.Filters, p.URLs)}, nil
}

// handleAuthSet 处理认证信息设置
func (s *Server) handleAuthSet(params json.RawMessage) (any, error) {
	var p authSetParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	ses, err := s.session(p.SessionID)
	if err != nil {
		return nil, err
	}
	var creds *session.Credentials
	if p.Username != "" || p.Password != "" {
		creds = &session.Credentials{Username: p.Username, Password: p.Password}
	}
	if !ses.SetAuthCredentials(p.URL, creds) {
		return nil, ErrInvalidParams.withError(errors.New("invalid url " + p.URL))
	}
	return nil, nil
}

// handleRulesLoad 处理规则装载
func (s *Server) handleRulesLoad(ctx context.Context, params json.RawMessage) (any, error) {
	var p rulesLoadParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Config.ID == "" {
		return nil, ErrInvalidParams.withError(errors.New("config.id is required"))
	}
	if err := s.svc.LoadRules(ctx, &p.Config); err != nil {
		return nil, err
	}
	return nil, nil
}

// handleStatsRules 处理规则统计查询
func (s *Server) handleStatsRules() (any, error) {
	st := s.svc.RuleStats()
	res := statsRulesResult{
		Total:   st.Total,
		Matched: st.Matched,
		ByRule:  make(map[string]int64, len(st.ByRule)),
	}
	for k, v := range st.ByRule {
		res.ByRule[string(k)] = v
	}
	return res, nil
}

// handleEventsQuery 处理审计事件查询
func (s *Server) handleEventsQuery(ctx context.Context, params json.RawMessage) (any, error) {
	var p repo.QueryOptions
	if len(params) > 0 {
		if err := decode(params, &p); err != nil {
			return nil, err
		}
	}
	events, total, err := s.svc.QueryEvents(ctx, p)
	if err != nil {
		return nil, err
	}
	return &eventsQueryResult{Total: total, Events: events}, nil
}
