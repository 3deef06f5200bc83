// Package charset 决定文本资源的字符集并负责解码与重新编码
//
// 优先级：BOM > Content-Type 或代理 URL 中的 charset > <meta>（样式表为 @charset）> 资源类型默认值。
// 重新编码时使用与输入相同的字符集并保留 BOM，输出与输入在编码上保持一致。
package charset

import (
	"bytes"
	"fmt"
	"mime"
	"strings"

	"hammerhead/pkg/domain"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Source 字符集的来源
type Source string

const (
	SourceBOM      Source = "bom"
	SourceHeader   Source = "header"
	SourceURL      Source = "url"
	SourceMeta     Source = "meta"
	SourceDetected Source = "detected"
	SourceDefault  Source = "default"
)

const (
	// DefaultPageCharset 页面未声明字符集时的默认值
	DefaultPageCharset = "iso-8859-1"
	// DefaultCharset 其它文本资源的默认值
	DefaultCharset = "utf-8"
)

// SniffSize 嗅探 <meta> 时读取的最大字节数
const SniffSize = 1024

var boms = []struct {
	name string
	bom  []byte
}{
	{"utf-8", []byte{0xEF, 0xBB, 0xBF}},
	{"utf-16be", []byte{0xFE, 0xFF}},
	{"utf-16le", []byte{0xFF, 0xFE}},
}

// 常见的非 WHATWG 写法
var aliases = map[string]string{
	"utf8":    "utf-8",
	"utf16":   "utf-16le",
	"utf16le": "utf-16le",
	"utf16be": "utf-16be",
	"ucs2":    "utf-16le",
	"latin1":  "iso-8859-1",
}

// Charset 已确定的字符集
type Charset struct {
	Name   string
	BOM    bool
	Source Source
	enc    encoding.Encoding
}

// Input 字符集决策所需的信息
type Input struct {
	Prefix      []byte // 响应体开头的若干字节
	ContentType string
	URLCharset  string // 代理 URL 中携带的字符集
	Kind        domain.ResourceType
	Detect      bool // 未声明时使用统计检测代替默认值
}

// Resolve 按优先级确定字符集，任何一步失败都会回落到下一步
func Resolve(in Input) *Charset {
	if name, _ := FromBOM(in.Prefix); name != "" {
		if c := lookup(name); c != nil {
			c.BOM, c.Source = true, SourceBOM
			return c
		}
	}
	if label := FromContentType(in.ContentType); label != "" {
		if c := lookup(label); c != nil {
			c.Source = SourceHeader
			return c
		}
	}
	if in.URLCharset != "" {
		if c := lookup(in.URLCharset); c != nil {
			c.Source = SourceURL
			return c
		}
	}
	var sniffed string
	switch {
	case IsPageKind(in.Kind):
		sniffed = FromMeta(in.Prefix)
	case in.Kind == domain.ResourceTypeStylesheet:
		sniffed = FromCSS(in.Prefix)
	}
	if sniffed != "" {
		if c := lookup(sniffed); c != nil {
			c.Source = SourceMeta
			return c
		}
	}
	if in.Detect {
		if label := Detect(in.Prefix); label != "" {
			if c := lookup(label); c != nil {
				c.Source = SourceDetected
				return c
			}
		}
	}
	c := lookup(DefaultFor(in.Kind))
	c.Source = SourceDefault
	return c
}

// Get 按名称获取字符集，未知名称返回 nil
func Get(label string) *Charset { return lookup(label) }

// DefaultFor 资源类型的默认字符集
func DefaultFor(kind domain.ResourceType) string {
	if IsPageKind(kind) {
		return DefaultPageCharset
	}
	return DefaultCharset
}

// IsPageKind 是否按 HTML 页面处理
func IsPageKind(kind domain.ResourceType) bool {
	switch kind {
	case domain.ResourceTypePage, domain.ResourceTypeIframe, domain.ResourceTypeForm:
		return true
	}
	return false
}

// FromBOM 识别 BOM，返回字符集名与 BOM 长度
func FromBOM(prefix []byte) (string, int) {
	for _, b := range boms {
		if bytes.HasPrefix(prefix, b.bom) {
			return b.name, len(b.bom)
		}
	}
	return "", 0
}

// FromContentType 提取 Content-Type 中的 charset 参数
func FromContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["charset"])
}

// Decode 解码为 UTF-8 文本，BOM 不包含在结果中
func (c *Charset) Decode(body []byte) (string, error) {
	if _, n := FromBOM(body); n > 0 && c.BOM {
		body = body[n:]
	}
	out, err := c.enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", c.Name, err)
	}
	return string(out), nil
}

// Encode 编码回原字符集，原始内容带 BOM 时补回 BOM；无法表示的字符被替换
func (c *Charset) Encode(text string) ([]byte, error) {
	out, err := encoding.ReplaceUnsupported(c.enc.NewEncoder()).Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.Name, err)
	}
	if c.BOM {
		for _, b := range boms {
			if b.name == c.Name {
				return append(append([]byte(nil), b.bom...), out...), nil
			}
		}
	}
	return out, nil
}

func lookup(label string) *Charset {
	l := strings.ToLower(strings.Trim(strings.TrimSpace(label), `"'`))
	if a, ok := aliases[strings.NewReplacer("-", "", "_", "").Replace(l)]; ok {
		l = a
	}
	switch l {
	case "":
		return nil
	case "iso-8859-1":
		// WHATWG 将 iso-8859-1 视为 windows-1252；这里保持逐字节映射
		return &Charset{Name: l, enc: charmap.ISO8859_1}
	case "utf-16be":
		return &Charset{Name: l, enc: unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)}
	case "utf-16le", "utf-16":
		return &Charset{Name: "utf-16le", enc: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)}
	}
	enc, name := charset.Lookup(l)
	if enc == nil {
		return nil
	}
	return &Charset{Name: name, enc: enc}
}
