package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"hammerhead/internal/charset"
	"hammerhead/internal/session"
	"hammerhead/internal/transformer"
	"hammerhead/internal/urlcodec"
	"hammerhead/pkg/domain"
	"hammerhead/pkg/errx"
)

// hopByHopHeaders 不跨越代理转发的头部（小写）
var hopByHopHeaders = []string{
	"connection",
	"keep-alive",
	"proxy-authenticate",
	"proxy-authorization",
	"proxy-connection",
	"te",
	"trailer",
	"transfer-encoding",
	"upgrade",
}

// errBodyTooLarge 请求体超过上限
var errBodyTooLarge = errors.New("request body too large")

func newTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     false,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: time.Second,
		// 压缩由管线自行处理
		DisableCompression: true,
	}
}

// stripHopByHop 删除逐跳头以及 Connection 中列出的头
func stripHopByHop(h domain.Header) {
	for _, f := range strings.Split(h.Get("connection"), ",") {
		if f = strings.TrimSpace(f); f != "" {
			h.Del(f)
		}
	}
	for _, k := range hopByHopHeaders {
		h.Del(k)
	}
}

// buildRequest 将客户端请求转换为面向源站的请求
//
// Cookie 由会话的 cookie jar 提供，客户端发往代理主机的 Cookie 被丢弃。
func (p *Pipeline) buildRequest(r *http.Request, pu *urlcodec.ProxyURL, sess *session.Session) (*domain.Request, error) {
	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		b, err := io.ReadAll(io.LimitReader(r.Body, p.cfg.MaxBodySize+1))
		if err != nil {
			return nil, err
		}
		if int64(len(b)) > p.cfg.MaxBodySize {
			return nil, errBodyTooLarge
		}
		body = b
	}

	h := domain.HeaderFrom(r.Header)
	stripHopByHop(h)
	h.Del("host")
	h.Del("content-length")
	translateReferer(h, sess.StartURL())

	if c := sess.Cookies.CookieHeader(pu.DestURL); c != "" {
		h.Set("cookie", c)
	} else {
		h.Del("cookie")
	}
	if h.Get("authorization") == "" {
		if c := sess.GetAuthCredentials(pu.DestURL); c != nil {
			h.Set("authorization", basicAuth(c))
		}
	}
	if h.Get("accept-encoding") != "" {
		h.Set("accept-encoding", "gzip, deflate")
	}

	return &domain.Request{
		ID:           newRequestID(),
		SessionID:    sess.ID,
		URL:          pu.DestURL,
		Method:       r.Method,
		Headers:      h,
		Query:        transformer.ParseQuery(pu.DestURL),
		Cookies:      transformer.ParseCookies(h.Get("cookie")),
		Body:         body,
		ResourceType: pu.ResourceType.Kind(),
		IsAjax:       pu.ResourceType.Has(urlcodec.FlagAjax),
	}, nil
}

// translateReferer 将代理形式的 Referer 与 Origin 还原为目标站点的值
func translateReferer(h domain.Header, startURL string) {
	var pageURL string
	if ref := h.Get("referer"); ref != "" {
		if d := urlcodec.Decode(ref); d != nil {
			pageURL = d.DestURL
			h.Set("referer", pageURL)
		} else {
			h.Del("referer")
		}
	}
	if h.Get("origin") == "" {
		return
	}
	if pageURL == "" {
		pageURL = startURL
	}
	if o, ok := urlcodec.OriginOf(pageURL); ok {
		h.Set("origin", o.String())
		return
	}
	h.Del("origin")
}

func basicAuth(c *session.Credentials) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.Username+":"+c.Password))
}

// roundTrip 发送出站请求，不跟随重定向
func (p *Pipeline) roundTrip(ctx context.Context, req *domain.Request) (*http.Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	out, err := http.NewRequestWithContext(ctx, req.Method, httpScheme(req.URL), body)
	if err != nil {
		return nil, errx.Wrap(errx.CodeInvalidURL, err, req.URL)
	}
	for k, v := range req.Headers {
		out.Header.Set(k, v)
	}

	resp, err := p.client.Do(out)
	if err != nil {
		return nil, upstreamError(err)
	}
	return resp, nil
}

// upstreamError 区分超时与不可达
func upstreamError(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return errx.Wrap(errx.CodeUpstreamTimeout, domain.ErrUpstreamTimeout, err.Error())
	}
	return errx.Wrap(errx.CodeUpstreamUnreachable, domain.ErrUpstreamUnreachable, err.Error())
}

// httpScheme 将 ws/wss 地址映射为 http/https
func httpScheme(u string) string {
	switch {
	case strings.HasPrefix(u, "ws://"):
		return "http://" + u[len("ws://"):]
	case strings.HasPrefix(u, "wss://"):
		return "https://" + u[len("wss://"):]
	}
	return u
}

// wsScheme 将 http/https 地址映射为 ws/wss
func wsScheme(u string) string {
	switch {
	case strings.HasPrefix(u, "http://"):
		return "ws://" + u[len("http://"):]
	case strings.HasPrefix(u, "https://"):
		return "wss://" + u[len("https://"):]
	}
	return u
}

func isDocument(kind domain.ResourceType) bool {
	return charset.IsPageKind(kind)
}
