package pipeline

import (
	"strings"

	"hammerhead/internal/classifier"
	"hammerhead/internal/resolver"
	"hammerhead/internal/urlcodec"
)

// urlContext 将文档中的地址编码为当前会话的代理地址
type urlContext struct {
	res     *resolver.Resolver
	opts    urlcodec.Options
	top     string // 判断 iframe 是否跨域的顶层页面地址
	windows classifier.DocumentContext
	port1   int
	port2   int
}

func (p *Pipeline) newURLContext(x *exchange) (*urlContext, error) {
	r, err := resolver.New(x.req.URL)
	if err != nil {
		return nil, err
	}
	inIframe := x.pu.ResourceType.Has(urlcodec.FlagIframe)
	top := x.req.URL
	if inIframe {
		if start := x.sess.StartURL(); start != "" {
			top = start
		}
	}
	return &urlContext{
		res:     r,
		opts:    x.pu.Options(),
		top:     top,
		windows: classifier.DocumentContext{InIframe: inIframe},
		port1:   p.cfg.Port1,
		port2:   p.cfg.Port2,
	}, nil
}

// EncodeURL 实现 rewriter.Context
func (c *urlContext) EncodeURL(raw string, el classifier.Element) string {
	s := strings.TrimSpace(raw)
	if s == "" || urlcodec.IsPassThrough(s) {
		return raw
	}
	abs, err := c.res.Resolve(s)
	if err != nil || !urlcodec.IsSupportedProtocol(abs) {
		return raw
	}

	switch strings.ToLower(el.TagName) {
	case "iframe", "frame":
		el.CrossDomain = resolver.IframeKindOf(abs, c.top) == resolver.IframeCrossDomain
	}
	rt := classifier.Classify(el, c.windows)

	opts := c.opts
	opts.ResourceType = rt
	switch {
	case rt.Has(urlcodec.FlagCrossDomainIframe):
		if c.port2 > 0 {
			opts.ProxyPort = c.port2
		}
	case isTopNavigation(el.TagName, rt):
		// 离开跨域 iframe 的顶层导航回到主端口
		if c.port1 > 0 {
			opts.ProxyPort = c.port1
		}
	}

	enc, err := urlcodec.Encode(abs, opts)
	if err != nil {
		return raw
	}
	return enc
}

// UpdateBase 实现 rewriter.Context
func (c *urlContext) UpdateBase(href string) {
	_ = c.res.UpdateBase(href)
}

func isTopNavigation(tag string, rt urlcodec.ResourceType) bool {
	if rt.Has(urlcodec.FlagIframe) {
		return false
	}
	switch strings.ToLower(tag) {
	case "a", "area", "form":
		return true
	}
	return false
}
