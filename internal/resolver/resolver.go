// Package resolver 将页面中的相对地址解析为绝对的目标地址
package resolver

import (
	"net/url"
	"strings"
	"sync"

	"hammerhead/internal/urlcodec"
	"hammerhead/pkg/errx"
)

var stripChars = strings.NewReplacer("\t", "", "\r", "", "\n", "")

// Resolver 文档级地址解析器，跟踪 <base href> 的变化
type Resolver struct {
	mu   sync.RWMutex
	doc  *url.URL
	base *url.URL
}

// New 以文档地址（可以是代理 URL）创建解析器
func New(documentURL string) (*Resolver, error) {
	doc, err := parseAbsolute(urlcodec.DestOf(clean(documentURL)))
	if err != nil {
		return nil, err
	}
	return &Resolver{doc: doc, base: doc}, nil
}

// Document 文档的目标地址
func (r *Resolver) Document() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doc.String()
}

// UpdateBase 同步 <base href>，空值恢复为文档地址
func (r *Resolver) UpdateBase(href string) error {
	href = clean(href)
	r.mu.Lock()
	defer r.mu.Unlock()
	if href == "" {
		r.base = r.doc
		return nil
	}
	b, err := r.doc.Parse(urlcodec.DestOf(href))
	if err != nil {
		return errx.Wrap(errx.CodeInvalidURL, err, "invalid base href")
	}
	r.base = b
	return nil
}

// Base 当前的基准地址
func (r *Resolver) Base() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.base.String()
}

// Resolve 基于当前基准地址解析，代理 URL 先还原为目标地址，特殊协议原样返回
func (r *Resolver) Resolve(raw string) (string, error) {
	s := clean(raw)
	if urlcodec.IsPassThrough(s) {
		return s, nil
	}
	s = urlcodec.DestOf(s)

	r.mu.RLock()
	base := r.base
	r.mu.RUnlock()

	u, err := base.Parse(s)
	if err != nil {
		return "", errx.Wrap(errx.CodeInvalidURL, err, "resolve "+raw)
	}
	return u.String(), nil
}

// ResolveAsOrigin 基于文档的源（忽略路径与 <base>）解析，失败时原样返回
func (r *Resolver) ResolveAsOrigin(raw string) string {
	s := clean(raw)
	if urlcodec.IsPassThrough(s) {
		return s
	}
	s = urlcodec.DestOf(s)

	r.mu.RLock()
	origin := &url.URL{Scheme: r.doc.Scheme, Host: r.doc.Host, Path: "/"}
	r.mu.RUnlock()

	u, err := origin.Parse(s)
	if err != nil {
		return raw
	}
	return u.String()
}

// IframeKind 根据 iframe 的 src 判断加载方式
func (r *Resolver) IframeKind(src, topURL string) IframeKind {
	s := clean(src)
	if isNoSrc(s) {
		return IframeNoSrc
	}
	abs, err := r.Resolve(s)
	if err != nil {
		return IframeNoSrc
	}
	return IframeKindOf(abs, topURL)
}

func clean(s string) string {
	return strings.TrimSpace(stripChars.Replace(s))
}

func parseAbsolute(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, errx.Wrap(errx.CodeInvalidURL, err, "parse document url")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errx.Newf(errx.CodeInvalidURL, "document url %q is not absolute", s)
	}
	return u, nil
}
