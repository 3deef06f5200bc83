package rewriter

import (
	"regexp"

	"hammerhead/internal/classifier"
)

var (
	cssURLRe    = regexp.MustCompile(`url\(\s*(["']?)([^"')]+)(["']?)\s*\)`)
	cssImportRe = regexp.MustCompile(`@import\s+(["'])([^"']+)(["'])`)
)

// rewriteCSS 改写 url(...) 与 @import 中的地址
func rewriteCSS(text string, ctx Context) string {
	text = cssURLRe.ReplaceAllStringFunc(text, func(match string) string {
		m := cssURLRe.FindStringSubmatch(match)
		if m[1] != m[3] {
			return match
		}
		return "url(" + m[1] + ctx.EncodeURL(m[2], classifier.Element{}) + m[3] + ")"
	})
	return cssImportRe.ReplaceAllStringFunc(text, func(match string) string {
		m := cssImportRe.FindStringSubmatch(match)
		if m[1] != m[3] {
			return match
		}
		return "@import " + m[1] + ctx.EncodeURL(m[2], classifier.Element{}) + m[3]
	})
}
