package pipeline

import (
	"context"
	"errors"
	"net/http"
	"time"

	"hammerhead/internal/processor"
	"hammerhead/internal/session"
	"hammerhead/internal/urlcodec"
	"hammerhead/pkg/domain"
	"hammerhead/pkg/errx"

	"github.com/gorilla/websocket"
)

// wsForwardHeaders 握手时转发给源站的客户端头
var wsForwardHeaders = []string{
	"origin",
	"user-agent",
	"accept-language",
	"authorization",
	"referer",
	"cache-control",
	"pragma",
}

const wsCloseGrace = time.Second

// serveWebSocket 与源站建立 WebSocket 后再升级客户端连接，之后双向转发帧
func (p *Pipeline) serveWebSocket(w http.ResponseWriter, r *http.Request, pu *urlcodec.ProxyURL, sess *session.Session) {
	ctx := r.Context()
	dest := wsScheme(pu.DestURL)

	h := domain.HeaderFrom(r.Header)
	translateReferer(h, sess.StartURL())
	out := domain.Header{}
	for _, k := range wsForwardHeaders {
		if v := h.Get(k); v != "" {
			out.Set(k, v)
		}
	}
	if c := sess.Cookies.CookieHeader(httpScheme(pu.DestURL)); c != "" {
		out.Set("cookie", c)
	}
	if out.Get("authorization") == "" {
		if c := sess.GetAuthCredentials(httpScheme(pu.DestURL)); c != nil {
			out.Set("authorization", basicAuth(c))
		}
	}

	req := &domain.Request{
		ID:           newRequestID(),
		SessionID:    sess.ID,
		URL:          dest,
		Method:       http.MethodGet,
		Headers:      out,
		ResourceType: domain.ResourceTypeWebSocket,
	}
	x := &exchange{
		pu:    pu,
		sess:  sess,
		req:   req,
		kind:  domain.ResourceTypeWebSocket,
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
		p.cfg.Processor.ProcessFailure(req.ID, &domain.Response{StatusCode: statusClientClosed})
		return
	}

	header := http.Header{}
	for k, v := range req.Headers {
		header.Set(k, v)
	}
	dialer := *p.dialer
	dialer.Subprotocols = websocket.Subprotocols(r)

	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.UpstreamTimeout)
	upstream, resp, err := dialer.DialContext(dialCtx, req.URL, header)
	cancel()
	if resp != nil {
		if serr := sess.Cookies.SetFromResponse(resp.Header, httpScheme(req.URL)); serr != nil {
			x.log.Warn("[Pipeline] 同步 Set-Cookie 失败", "url", req.URL, "err", serr.Error())
		}
	}
	if err != nil {
		status := http.StatusBadGateway
		code := errx.CodeUpstreamUnreachable
		switch {
		case resp != nil && resp.StatusCode >= 400:
			// 源站拒绝升级，非错误状态码仍按 502 处理
			status = resp.StatusCode
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
			code = errx.CodeUpstreamTimeout
		}
		x.log.Warn("[Pipeline] WebSocket 握手失败", "url", req.URL, "status", status, "err", err.Error())
		p.cfg.Processor.ProcessFailure(req.ID, &domain.Response{StatusCode: status})
		p.observe(x, domain.FinalResultFailed)
		writeError(w, status, errx.Wrap(code, err, req.URL))
		return
	}
	p.cfg.Metrics.ObserveUpstream(string(x.kind), time.Since(x.start))
	p.cfg.Processor.ProcessResponse(ctx, req.ID, &domain.Response{
		StatusCode: resp.StatusCode,
		Headers:    domain.HeaderFrom(resp.Header),
	})

	respHeader := http.Header{}
	if proto := upstream.Subprotocol(); proto != "" {
		respHeader.Set("Sec-WebSocket-Protocol", proto)
	}
	client, err := p.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		x.log.Warn("[Pipeline] 客户端升级失败", "url", req.URL, "err", err.Error())
		_ = upstream.Close()
		p.observe(x, domain.FinalResultFailed)
		return
	}

	if x.modified {
		p.observe(x, domain.FinalResultModified)
	} else {
		p.observe(x, domain.FinalResultPassed)
	}
	p.cfg.Metrics.WSOpened()
	defer p.cfg.Metrics.WSClosed()

	x.log.Debug("[Pipeline] WebSocket 已建立", "url", req.URL)
	p.relay(client, upstream)
	x.log.Debug("[Pipeline] WebSocket 已关闭", "url", req.URL)
}

// relay 双向转发直到任一方向结束，随后关闭两端
func (p *Pipeline) relay(client, upstream *websocket.Conn) {
	errc := make(chan error, 2)
	go p.pump(client, upstream, "upstream", errc)
	go p.pump(upstream, client, "downstream", errc)

	<-errc
	_ = client.Close()
	_ = upstream.Close()
	<-errc
}

// pump 将 src 的消息写入 dst，src 关闭时把关闭帧转发给 dst
func (p *Pipeline) pump(src, dst *websocket.Conn, direction string, errc chan<- error) {
	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			_ = dst.WriteControl(websocket.CloseMessage, closeMessage(err), time.Now().Add(wsCloseGrace))
			errc <- err
			return
		}
		if err := dst.WriteMessage(mt, data); err != nil {
			errc <- err
			return
		}
		p.cfg.Metrics.WSMessage(direction)
	}
}

// closeMessage 保留对端的关闭码，不可发送的保留码替换为正常关闭
func closeMessage(err error) []byte {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
		default:
			return websocket.FormatCloseMessage(ce.Code, ce.Text)
		}
	}
	return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
}
