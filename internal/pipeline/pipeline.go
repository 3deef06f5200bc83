// Package pipeline 代理请求管线：解码代理 URL，经钩子与规则处理后转发到源站并改写响应
package pipeline

import (
	"context"
	"io"
	"net/http"
	"time"

	"hammerhead/internal/logger"
	"hammerhead/internal/metrics"
	"hammerhead/internal/pool"
	"hammerhead/internal/processor"
	"hammerhead/internal/rewriter"
	"hammerhead/internal/session"
	"hammerhead/internal/urlcodec"
	"hammerhead/pkg/domain"
	"hammerhead/pkg/errx"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// StatusAjaxFailed ajax 请求在网络或跨域层失败时返回给页面的哨兵状态码
const StatusAjaxFailed = 222

// statusClientClosed 客户端在响应前断开，仅用于审计
const statusClientClosed = 499

// ErrorHeader 携带错误码的响应头
const ErrorHeader = "X-Hammerhead-Error"

// ClientStatus 页面脚本看到的状态码，哨兵值映射为 0
func ClientStatus(code int) int {
	if code == StatusAjaxFailed {
		return 0
	}
	return code
}

// Config 管线配置
type Config struct {
	Hostname        string
	Port1           int // 主端口
	Port2           int // 跨域 iframe 端口
	UpstreamTimeout time.Duration
	MaxBodySize     int64 // 超出后响应体不再缓冲改写
	DetectCharset   bool

	Sessions  *session.Manager
	Processor *processor.Processor
	Rewriter  rewriter.Rewriter
	Pool      *pool.Pool
	Metrics   *metrics.Metrics
	Transport http.RoundTripper // 为空时使用带连接池的默认实现
	Logger    logger.Logger
}

// Pipeline 代理请求处理器，同时服务两个代理端口
type Pipeline struct {
	cfg      Config
	client   *http.Client
	dialer   *websocket.Dialer
	upgrader websocket.Upgrader
	log      logger.Logger
}

// New 创建管线
func New(cfg Config) *Pipeline {
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 30 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 32 << 20
	}
	if cfg.Rewriter == nil {
		cfg.Rewriter = rewriter.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Transport == nil {
		cfg.Transport = newTransport(cfg.UpstreamTimeout)
	}

	return &Pipeline{
		cfg: cfg,
		client: &http.Client{
			Transport: cfg.Transport,
			// 重定向交给页面处理，Location 会被重新编码
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: cfg.Logger,
	}
}

// exchange 一次代理往返的上下文
type exchange struct {
	pu       *urlcodec.ProxyURL
	sess     *session.Session
	req      *domain.Request
	kind     domain.ResourceType
	modified bool
	start    time.Time
	log      logger.Logger
}

// ServeHTTP 实现 http.Handler
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pu := urlcodec.Decode(requestURL(r))
	if pu == nil {
		p.log.Debug("[Pipeline] 非代理地址", "uri", r.RequestURI)
		writeError(w, http.StatusNotFound, errx.New(errx.CodeNotAProxyURL, r.RequestURI))
		return
	}

	sess, err := p.cfg.Sessions.Lookup(domain.SessionID(pu.SessionID), pu.OwnerToken)
	if err != nil {
		p.log.Debug("[Pipeline] 会话不存在", "session", pu.SessionID, "err", err.Error())
		writeError(w, http.StatusGone, err)
		return
	}

	if pu.ResourceType.Has(urlcodec.FlagWebSocket) || websocket.IsWebSocketUpgrade(r) {
		p.serveWebSocket(w, r, pu, sess)
		return
	}
	p.serveHTTP(w, r, pu, sess)
}

func (p *Pipeline) serveHTTP(w http.ResponseWriter, r *http.Request, pu *urlcodec.ProxyURL, sess *session.Session) {
	ctx := r.Context()
	req, err := p.buildRequest(r, pu, sess)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	x := &exchange{
		pu:    pu,
		sess:  sess,
		req:   req,
		kind:  req.ResourceType,
		start: time.Now(),
		log:   p.log.With("session", sess.ID, "requestID", req.ID),
	}

	result := p.cfg.Processor.ProcessRequest(ctx, sess.ID, req)
	switch result.Action {
	case processor.ActionMock:
		p.writeMock(w, x, result.Response)
		return
	case processor.ActionModify:
		x.modified = true
	}

	if err := sess.WaitOutbound(ctx); err != nil {
		x.log.Debug("[Pipeline] 等待出站配额时请求取消", "url", req.URL)
		p.cfg.Processor.ProcessFailure(req.ID, &domain.Response{StatusCode: statusClientClosed})
		return
	}

	upstreamCtx, cancel := context.WithTimeout(ctx, p.cfg.UpstreamTimeout)
	defer cancel()
	resp, err := p.roundTrip(upstreamCtx, req)
	if err != nil {
		p.fail(ctx, w, x, err)
		return
	}
	defer resp.Body.Close()
	p.cfg.Metrics.ObserveUpstream(string(x.kind), time.Since(x.start))

	p.respond(ctx, w, x, resp)
}

// writeMock 直接以模拟响应结束请求
func (p *Pipeline) writeMock(w http.ResponseWriter, x *exchange, res *domain.Response) {
	h := w.Header()
	for k, v := range res.Headers {
		h.Set(k, v)
	}
	w.WriteHeader(res.StatusCode)
	if len(res.Body) > 0 {
		_, _ = w.Write(res.Body)
	}
	x.log.Debug("[Pipeline] 返回模拟响应", "url", x.req.URL, "status", res.StatusCode)
	p.observe(x, domain.FinalResultMocked)
}

// fail 处理上游失败：ajax 返回 222，页面请求触发页面错误回调
func (p *Pipeline) fail(ctx context.Context, w http.ResponseWriter, x *exchange, err error) {
	if ctx.Err() != nil {
		x.log.Debug("[Pipeline] 客户端已断开", "url", x.req.URL)
		p.cfg.Processor.ProcessFailure(x.req.ID, &domain.Response{StatusCode: statusClientClosed})
		p.observe(x, domain.FinalResultFailed)
		return
	}

	status := http.StatusBadGateway
	if errx.Is(err, errx.CodeUpstreamTimeout) {
		status = http.StatusGatewayTimeout
	}
	x.log.Warn("[Pipeline] 上游请求失败", "url", x.req.URL, "status", status, "err", err.Error())

	if x.req.IsAjax {
		status = StatusAjaxFailed
	}
	p.cfg.Processor.ProcessFailure(x.req.ID, &domain.Response{StatusCode: status})
	if isDocument(x.kind) {
		pe := session.PageError{URL: x.req.URL, StatusCode: status, Err: err}
		sess := x.sess
		p.submit("pageError", func(ctx context.Context) { sess.HandlePageError(ctx, pe) })
	}
	p.observe(x, domain.FinalResultFailed)
	writeError(w, status, err)
}

// submit 将会话回调放入工作池，未配置工作池时直接起协程
func (p *Pipeline) submit(name string, fn pool.Task) {
	if p.cfg.Pool == nil {
		go fn(context.Background())
		p.cfg.Metrics.SideEffect(name, "queued")
		return
	}
	if !p.cfg.Pool.Submit(name, fn) {
		p.cfg.Metrics.SideEffect(name, "dropped")
		return
	}
	p.cfg.Metrics.SideEffect(name, "queued")
}

func (p *Pipeline) observe(x *exchange, result string) {
	p.cfg.Metrics.ObserveRequest(string(x.kind), result)
}

// requestURL 还原客户端请求的完整地址
func requestURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.RequestURI
	}
	return "http://" + r.Host + r.RequestURI
}

// writeError 以纯文本写出错误码
func writeError(w http.ResponseWriter, status int, err error) {
	code := errx.CodeOf(err)
	msg := string(code)
	if msg == "" {
		msg = http.StatusText(status)
	}
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	if code != "" {
		h.Set(ErrorHeader, string(code))
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

func newRequestID() string { return uuid.NewString() }
