// Package rewriter 改写页面、样式表与 manifest 中的地址
package rewriter

import (
	"regexp"
	"strings"

	"hammerhead/internal/classifier"
	"hammerhead/pkg/domain"
)

// ScriptClass 注入脚本标签的 class，用于在还原时识别
const ScriptClass = "hammerhead-script"

// Context 改写时由调用方提供的地址编码能力
type Context interface {
	// EncodeURL 将元素中的地址转换为代理地址，无法转换时原样返回
	EncodeURL(raw string, el classifier.Element) string
	// UpdateBase 同步 <base href>
	UpdateBase(href string)
}

// Rewriter 文本资源改写器
type Rewriter interface {
	RewriteURLs(text string, kind domain.ResourceType, ctx Context) string
	StripMarkers(text string) string
}

// Default 基于 HTML 分词器与正则的默认实现，脚本内容不做改写
type Default struct{}

// New 创建默认改写器
func New() *Default { return &Default{} }

// RewriteURLs 按资源类型改写文本中的地址
func (d *Default) RewriteURLs(text string, kind domain.ResourceType, ctx Context) string {
	switch kind {
	case domain.ResourceTypePage, domain.ResourceTypeIframe, domain.ResourceTypeForm:
		return rewriteHTML(text, ctx)
	case domain.ResourceTypeStylesheet:
		return rewriteCSS(text, ctx)
	case domain.ResourceTypeManifest:
		return rewriteManifest(text, ctx)
	}
	return text
}

var (
	proxyPrefixRe    = regexp.MustCompile(`https?://[^/\s"'<>()]+/[A-Za-z0-9_\-]*![A-Za-z0-9_\-]+(?:![a-z0-9]*)?(?:![A-Za-z0-9._:\-]+)?/`)
	injectedScriptRe = regexp.MustCompile(`<script[^>]*class="` + ScriptClass + `"[^>]*>\s*</script>`)
)

// StripMarkers 去除注入的脚本并把代理地址还原为目标地址
func (d *Default) StripMarkers(text string) string {
	text = injectedScriptRe.ReplaceAllString(text, "")
	// 只去除代理前缀，紧随其后的目标地址保持原样
	return proxyPrefixRe.ReplaceAllString(text, "")
}

var manifestSections = map[string]bool{
	"CACHE:":    true,
	"NETWORK:":  true,
	"FALLBACK:": true,
	"SETTINGS:": true,
}

// rewriteManifest 逐行改写 manifest 中的地址，注释与分节标题保持不变
func rewriteManifest(text string, ctx Context) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || trimmed == "*" ||
			strings.HasPrefix(trimmed, "CACHE MANIFEST") || manifestSections[trimmed] {
			continue
		}
		fields := strings.Fields(trimmed)
		for j, f := range fields {
			if f == "*" {
				continue
			}
			fields[j] = ctx.EncodeURL(f, classifier.Element{})
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		suffix := ""
		if strings.HasSuffix(line, "\r") {
			suffix = "\r"
		}
		lines[i] = indent + strings.Join(fields, " ") + suffix
	}
	return strings.Join(lines, "\n")
}
