package resolver

import (
	"strings"

	"hammerhead/internal/urlcodec"
)

// IframeKind iframe 的三种互斥状态
type IframeKind int

const (
	// IframeNoSrc 未设置 src 或为 about:blank，继承父文档的源，需要在本地重新初始化
	IframeNoSrc IframeKind = iota
	// IframeSameDomain 与顶层页面同源
	IframeSameDomain
	// IframeCrossDomain 与顶层页面跨域，经第二个代理端口加载
	IframeCrossDomain
)

func (k IframeKind) String() string {
	switch k {
	case IframeNoSrc:
		return "no-src"
	case IframeSameDomain:
		return "same-domain"
	case IframeCrossDomain:
		return "cross-domain"
	}
	return "unknown"
}

// IframeKindOf 对比 iframe 地址与顶层页面地址，两者都可以是代理 URL
func IframeKindOf(src, topURL string) IframeKind {
	s := clean(src)
	if isNoSrc(s) {
		return IframeNoSrc
	}
	if urlcodec.SameOriginCheck(topURL, s) {
		return IframeSameDomain
	}
	return IframeCrossDomain
}

func isNoSrc(s string) bool {
	if s == "" {
		return true
	}
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "about:") || strings.HasPrefix(l, "javascript:")
}
