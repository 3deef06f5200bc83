package charset

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/saintfish/chardet"
)

var cssCharsetRe = regexp.MustCompile(`^@charset\s+["']([^"']+)["']\s*;`)

// FromMeta 从页面开头的 <meta charset> 或 <meta http-equiv="content-type"> 中读取字符集
func FromMeta(prefix []byte) string {
	if len(prefix) > SniffSize {
		prefix = prefix[:SniffSize]
	}
	if len(prefix) == 0 {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(prefix))
	if err != nil {
		return ""
	}

	var found string
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, ok := s.Attr("charset"); ok && strings.TrimSpace(v) != "" {
			found = strings.TrimSpace(v)
			return false
		}
		if equiv, _ := s.Attr("http-equiv"); strings.EqualFold(strings.TrimSpace(equiv), "content-type") {
			content, _ := s.Attr("content")
			if cs := charsetFromContent(content); cs != "" {
				found = cs
				return false
			}
		}
		return true
	})
	return found
}

// FromCSS 读取样式表开头的 @charset 规则
func FromCSS(prefix []byte) string {
	m := cssCharsetRe.FindSubmatch(prefix)
	if m == nil {
		return ""
	}
	return string(m[1])
}

// Detect 统计检测字符集，置信度不足时返回空
func Detect(prefix []byte) string {
	if len(prefix) == 0 {
		return ""
	}
	result, err := chardet.NewTextDetector().DetectBest(prefix)
	if err != nil || result == nil || result.Confidence < 50 {
		return ""
	}
	return strings.ToLower(result.Charset)
}

// charsetFromContent 解析 "text/html; charset=xxx"，容忍不规范的写法
func charsetFromContent(content string) string {
	if cs := FromContentType(content); cs != "" {
		return cs
	}
	l := strings.ToLower(content)
	i := strings.Index(l, "charset=")
	if i < 0 {
		return ""
	}
	v := strings.TrimSpace(content[i+len("charset="):])
	v = strings.Trim(v, `"'`)
	if j := strings.IndexAny(v, `;"' `); j >= 0 {
		v = v[:j]
	}
	return v
}
