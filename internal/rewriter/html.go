package rewriter

import (
	"html"
	"strings"

	"hammerhead/internal/classifier"

	xhtml "golang.org/x/net/html"
)

// urlAttrs 每个标签中需要改写的地址属性
var urlAttrs = map[string][]string{
	"a":      {"href"},
	"area":   {"href"},
	"link":   {"href"},
	"base":   {"href"},
	"script": {"src"},
	"img":    {"src", "srcset"},
	"source": {"src", "srcset"},
	"video":  {"src", "poster"},
	"audio":  {"src"},
	"track":  {"src"},
	"embed":  {"src"},
	"iframe": {"src"},
	"frame":  {"src"},
	"form":   {"action"},
	"input":  {"src", "formaction"},
	"button": {"formaction"},
	"object": {"data"},
	"html":   {"manifest"},
}

// rewriteHTML 逐个标签改写地址属性，未改动的片段按原始字节输出
func rewriteHTML(text string, ctx Context) string {
	z := xhtml.NewTokenizer(strings.NewReader(text))
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)

	baseTarget := ""
	inStyle := false
	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			break
		}
		raw := string(z.Raw())

		switch tt {
		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data == "style" && tt == xhtml.StartTagToken {
				inStyle = true
			}
			if tok.Data == "base" {
				if t, ok := attr(tok, "target"); ok {
					baseTarget = t
				}
			}
			if rewriteTag(&tok, baseTarget, ctx) {
				b.WriteString(tok.String())
				continue
			}
		case xhtml.EndTagToken:
			if name, _ := z.TagName(); string(name) == "style" {
				inStyle = false
			}
		case xhtml.TextToken:
			if inStyle {
				b.WriteString(rewriteCSS(raw, ctx))
				continue
			}
		}
		b.WriteString(raw)
	}
	return b.String()
}

// rewriteTag 改写标签属性，返回是否有改动
func rewriteTag(tok *xhtml.Token, baseTarget string, ctx Context) bool {
	names := urlAttrs[tok.Data]
	changed := false

	for i := range tok.Attr {
		a := &tok.Attr[i]
		key := strings.ToLower(a.Key)

		if key == "style" {
			if v := rewriteCSS(a.Val, ctx); v != a.Val {
				a.Val = v
				changed = true
			}
			continue
		}
		if !contains(names, key) || strings.TrimSpace(a.Val) == "" {
			continue
		}

		el := elementFor(tok, key, baseTarget)
		var v string
		if key == "srcset" {
			v = rewriteSrcset(a.Val, el, ctx)
		} else {
			v = ctx.EncodeURL(a.Val, el)
		}
		if tok.Data == "base" && key == "href" {
			ctx.UpdateBase(a.Val)
		}
		if v != a.Val {
			a.Val = v
			changed = true
		}
	}
	return changed
}

// elementFor 构造分类所需的元素上下文
func elementFor(tok *xhtml.Token, key, baseTarget string) classifier.Element {
	el := classifier.Element{TagName: tok.Data, BaseTarget: baseTarget}
	switch {
	case key == "formaction":
		el.Target, _ = attr(*tok, "formtarget")
	case tok.Data == "a" || tok.Data == "area" || tok.Data == "form":
		el.Target, _ = attr(*tok, "target")
	case tok.Data == "html" && key == "manifest":
		el.Kind = classifier.KindManifest
	case tok.Data == "link":
		if rel, _ := attr(*tok, "rel"); strings.EqualFold(strings.TrimSpace(rel), "manifest") {
			el.Kind = classifier.KindManifest
		} else {
			el.TagName = ""
		}
	case tok.Data == "input" && key == "src":
		el.TagName = ""
	case tok.Data == "base":
		el.TagName = "base"
	}
	return el
}

// rewriteSrcset 改写 "url 1x, url 2x" 形式的候选列表
func rewriteSrcset(v string, el classifier.Element, ctx Context) string {
	parts := strings.Split(v, ",")
	for i, p := range parts {
		fields := strings.Fields(p)
		if len(fields) == 0 {
			continue
		}
		fields[0] = ctx.EncodeURL(fields[0], el)
		parts[i] = strings.Join(fields, " ")
	}
	return strings.Join(parts, ", ")
}

// InjectScripts 在 <head> 开头插入脚本，没有 <head> 时插入到 <html> 之后或文档开头
func InjectScripts(text string, scripts []string) string {
	if len(scripts) == 0 {
		return text
	}
	var tags strings.Builder
	for _, s := range scripts {
		tags.WriteString(`<script type="text/javascript" class="` + ScriptClass + `" src="`)
		tags.WriteString(html.EscapeString(s))
		tags.WriteString(`"></script>`)
	}

	z := xhtml.NewTokenizer(strings.NewReader(text))
	offset := 0
	htmlEnd := -1
	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			break
		}
		offset += len(z.Raw())
		if tt != xhtml.StartTagToken {
			continue
		}
		name, _ := z.TagName()
		switch string(name) {
		case "head":
			return text[:offset] + tags.String() + text[offset:]
		case "html":
			htmlEnd = offset
			continue
		}
		// 第一个其它元素出现时已无 <head>
		break
	}
	if htmlEnd >= 0 {
		return text[:htmlEnd] + tags.String() + text[htmlEnd:]
	}
	return tags.String() + text
}

func attr(tok xhtml.Token, name string) (string, bool) {
	for _, a := range tok.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
