package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"hammerhead/internal/charset"
	"hammerhead/internal/processor"
	"hammerhead/internal/resolver"
	"hammerhead/internal/rewriter"
	"hammerhead/internal/session"
	"hammerhead/internal/transformer"
	"hammerhead/internal/urlcodec"
	"hammerhead/pkg/domain"
	"hammerhead/pkg/errx"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// sniffLen 缺少 Content-Type 时用于类型识别的字节数
const sniffLen = 3072

// cspHeaders 会阻止注入脚本执行的响应头
var cspHeaders = []string{
	"content-security-policy",
	"content-security-policy-report-only",
	"x-content-security-policy",
}

// respond 处理源站响应并写回客户端
func (p *Pipeline) respond(ctx context.Context, w http.ResponseWriter, x *exchange, resp *http.Response) {
	if err := x.sess.Cookies.SetFromResponse(resp.Header, x.req.URL); err != nil {
		x.log.Warn("[Pipeline] 同步 Set-Cookie 失败", "url", x.req.URL, "err", err.Error())
	}
	header := domain.HeaderFrom(resp.Header)
	header.Del("set-cookie")
	stripHopByHop(header)

	body := bufio.NewReaderSize(resp.Body, sniffLen)
	if header.Get("content-type") == "" && header.Get("content-encoding") == "" {
		if prefix, _ := body.Peek(sniffLen); len(prefix) > 0 {
			header.Set("content-type", mimetype.Detect(prefix).String())
		}
	}

	if loc := header.Get("location"); loc != "" {
		header.Set("location", encodeLocation(x, loc))
	}
	if disp := header.Get("content-disposition"); isAttachment(disp) {
		p.download(x, header, disp)
	}

	if x.req.IsAjax && !corsAllowed(x, header) {
		x.log.Info("[Pipeline] 跨域 ajax 响应未被允许", "url", x.req.URL)
		p.cfg.Processor.ProcessFailure(x.req.ID, &domain.Response{StatusCode: StatusAjaxFailed, Headers: header})
		p.observe(x, domain.FinalResultFailed)
		writeError(w, StatusAjaxFailed, errx.Wrap(errx.CodeCORSDenied, domain.ErrCORSDenied, x.req.URL))
		return
	}

	res := &domain.Response{StatusCode: resp.StatusCode, Headers: header}
	var stream io.Reader = body
	if p.shouldBuffer(x, resp) {
		raw, complete, err := readLimited(body, p.cfg.MaxBodySize)
		switch {
		case err != nil:
			p.fail(ctx, w, x, errx.Wrap(errx.CodeUpstreamUnreachable, err, "read upstream body"))
			return
		case !complete:
			// 超出上限，已读部分与剩余内容原样透传
			stream = io.MultiReader(bytes.NewReader(raw), body)
		default:
			decoded, err := decodeContent(raw, header.Get("content-encoding"))
			if err != nil {
				x.log.Warn("[Pipeline] 解压响应体失败，原样透传", "url", x.req.URL, "err", err.Error())
				stream = bytes.NewReader(raw)
				break
			}
			header.Del("content-encoding")
			res.Body = decoded
			if res.Body == nil {
				res.Body = []byte{}
			}
		}
	}

	result := p.cfg.Processor.ProcessResponse(ctx, x.req.ID, res)
	if result.Action == processor.ActionModify {
		x.modified = true
	}

	kind := textKind(x.kind, header.Get("content-type"))
	if res.Body != nil && kind != "" {
		res.Body = p.rewriteBody(x, kind, header, res.Body)
	}
	if isDocument(kind) {
		for _, k := range cspHeaders {
			header.Del(k)
		}
	}

	out := w.Header()
	for k, v := range header {
		out.Set(k, v)
	}
	if res.Body != nil {
		out.Set("Content-Length", strconv.Itoa(len(res.Body)))
	}
	w.WriteHeader(res.StatusCode)

	if res.Body != nil {
		_, _ = w.Write(res.Body)
	} else if _, err := io.Copy(w, stream); err != nil {
		x.log.Debug("[Pipeline] 转发响应体中断", "url", x.req.URL, "err", err.Error())
	}

	if x.modified {
		p.observe(x, domain.FinalResultModified)
	} else {
		p.observe(x, domain.FinalResultPassed)
	}
}

// shouldBuffer 文本类且大小可控的响应体才读入内存
func (p *Pipeline) shouldBuffer(x *exchange, resp *http.Response) bool {
	if x.req.Method == http.MethodHead {
		return false
	}
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusNotModified:
		return false
	}
	if resp.ContentLength > p.cfg.MaxBodySize {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity", "gzip", "x-gzip", "deflate":
	default:
		return false
	}
	ct := resp.Header.Get("Content-Type")
	if transformer.IsBinaryContentType(ct) {
		return false
	}
	return textKind(x.kind, ct) != "" || isTextual(ct)
}

func readLimited(r io.Reader, limit int64) ([]byte, bool, error) {
	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	return raw, int64(len(raw)) <= limit, nil
}

// decodeContent 解码 gzip/deflate 响应体
func decodeContent(raw []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case "deflate":
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			// 部分服务器发送不带 zlib 头的原始 deflate 流
			fr := flate.NewReader(bytes.NewReader(raw))
			defer fr.Close()
			return io.ReadAll(fr)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}
	return raw, nil
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mt
}

// textKind 结合请求类型与响应类型确定改写方式，返回空表示不改写
func textKind(reqKind domain.ResourceType, contentType string) domain.ResourceType {
	if reqKind == domain.ResourceTypeAjax || reqKind == domain.ResourceTypeWebSocket {
		return ""
	}
	mt := mediaType(contentType)
	switch {
	case strings.Contains(mt, "html"):
		if isDocument(reqKind) {
			return reqKind
		}
	case mt == "text/css":
		return domain.ResourceTypeStylesheet
	case mt == "text/cache-manifest" || reqKind == domain.ResourceTypeManifest:
		return domain.ResourceTypeManifest
	case strings.Contains(mt, "javascript"), strings.Contains(mt, "ecmascript"), reqKind == domain.ResourceTypeScript:
		return domain.ResourceTypeScript
	}
	return ""
}

func isTextual(contentType string) bool {
	mt := mediaType(contentType)
	return strings.HasPrefix(mt, "text/") ||
		strings.Contains(mt, "json") ||
		strings.Contains(mt, "xml") ||
		strings.Contains(mt, "javascript") ||
		mt == "application/x-www-form-urlencoded"
}

// rewriteBody 按字符集解码、改写地址、注入脚本后以原字符集编码
func (p *Pipeline) rewriteBody(x *exchange, kind domain.ResourceType, header domain.Header, body []byte) []byte {
	prefix := body
	if len(prefix) > charset.SniffSize {
		prefix = prefix[:charset.SniffSize]
	}
	cs := charset.Resolve(charset.Input{
		Prefix:      prefix,
		ContentType: header.Get("content-type"),
		URLCharset:  x.pu.Charset,
		Kind:        kind,
		Detect:      p.cfg.DetectCharset,
	})
	text, err := cs.Decode(body)
	if err != nil {
		x.log.Warn("[Pipeline] 响应体解码失败，跳过改写", "url", x.req.URL, "charset", cs.Name, "err", err.Error())
		return body
	}

	uctx, err := p.newURLContext(x)
	if err != nil {
		x.log.Warn("[Pipeline] 无法解析文档地址，跳过改写", "url", x.req.URL, "err", err.Error())
		return body
	}
	out := p.cfg.Rewriter.RewriteURLs(text, kind, uctx)
	if isDocument(kind) {
		out = rewriter.InjectScripts(out, x.sess.InjectedScripts())
	}
	if out == text {
		return body
	}

	encoded, err := cs.Encode(out)
	if err != nil {
		x.log.Warn("[Pipeline] 响应体编码失败，跳过改写", "url", x.req.URL, "charset", cs.Name, "err", err.Error())
		return body
	}
	p.cfg.Metrics.ObserveRewrite(string(kind), len(encoded))
	return encoded
}

// encodeLocation 重定向地址保持原请求的资源类型与字符集
func encodeLocation(x *exchange, loc string) string {
	r, err := resolver.New(x.req.URL)
	if err != nil {
		return loc
	}
	abs, err := r.Resolve(loc)
	if err != nil {
		return loc
	}
	opts := x.pu.Options()
	opts.ResourceType = x.pu.ResourceType
	opts.Charset = x.pu.Charset
	enc, err := urlcodec.Encode(abs, opts)
	if err != nil {
		return loc
	}
	return enc
}

// corsAllowed 跨域 ajax 响应需要匹配的 Access-Control-Allow-Origin
func corsAllowed(x *exchange, header domain.Header) bool {
	pageURL := x.req.Headers.Get("referer")
	if pageURL == "" {
		pageURL = x.sess.StartURL()
	}
	if pageURL == "" || urlcodec.SameOriginCheck(pageURL, x.req.URL) {
		return true
	}
	acao := strings.TrimSpace(header.Get("access-control-allow-origin"))
	if acao == "*" {
		return true
	}
	o, ok := urlcodec.OriginOf(pageURL)
	return ok && strings.EqualFold(acao, o.String())
}

func isAttachment(disposition string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(disposition)), "attachment")
}

// download 异步通知会话有附件下载
func (p *Pipeline) download(x *exchange, header domain.Header, disposition string) {
	info := session.DownloadInfo{
		URL:         x.req.URL,
		ContentType: header.Get("content-type"),
	}
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		info.Filename = params["filename"]
	}
	if n, err := strconv.ParseInt(header.Get("content-length"), 10, 64); err == nil {
		info.ContentLength = n
	}
	sess := x.sess
	p.submit("download", func(ctx context.Context) { sess.HandleFileDownload(ctx, info) })
}
