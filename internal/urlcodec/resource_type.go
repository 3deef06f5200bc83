package urlcodec

import (
	"strconv"
	"strings"

	"hammerhead/pkg/domain"
)

// Flag 资源类型标记位
type Flag uint16

const (
	FlagIframe Flag = 1 << iota
	FlagCrossDomainIframe
	FlagScript
	FlagForm
	FlagAjax
	FlagWebSocket
	FlagWorker
	FlagServiceWorker
	FlagManifest
)

// flagCodes 标记字母表，顺序即编码时的规范顺序
var flagCodes = []struct {
	flag Flag
	code byte
}{
	{FlagIframe, 'i'},
	{FlagCrossDomainIframe, 'c'},
	{FlagScript, 's'},
	{FlagForm, 'f'},
	{FlagAjax, 'a'},
	{FlagWebSocket, 'w'},
	{FlagWorker, 'k'},
	{FlagServiceWorker, 'p'},
	{FlagManifest, 'm'},
}

// ResourceType 代理 URL 中携带的资源类型
type ResourceType struct {
	Flags   Flag
	AjaxSeq int // ajax 请求序号，0 表示未携带
}

// Of 由若干标记构造资源类型
func Of(flags ...Flag) ResourceType {
	var rt ResourceType
	for _, f := range flags {
		rt.Flags |= f
	}
	return rt
}

// Ajax 构造带序号的 ajax 资源类型
func Ajax(seq int) ResourceType {
	return ResourceType{Flags: FlagAjax, AjaxSeq: seq}
}

// Has 是否包含指定标记
func (rt ResourceType) Has(f Flag) bool { return rt.Flags&f != 0 }

// IsZero 是否未携带任何标记
func (rt ResourceType) IsZero() bool { return rt.Flags == 0 }

// Merge 合并两个资源类型（并集），o 的 ajax 序号优先
func (rt ResourceType) Merge(o ResourceType) ResourceType {
	out := ResourceType{Flags: rt.Flags | o.Flags, AjaxSeq: rt.AjaxSeq}
	if o.AjaxSeq > 0 {
		out.AjaxSeq = o.AjaxSeq
	}
	if !out.Has(FlagAjax) {
		out.AjaxSeq = 0
	}
	return out
}

// String 返回标记编码，例如 "ia12"
func (rt ResourceType) String() string {
	var b strings.Builder
	for _, fc := range flagCodes {
		if !rt.Has(fc.flag) {
			continue
		}
		b.WriteByte(fc.code)
		if fc.flag == FlagAjax && rt.AjaxSeq > 0 {
			b.WriteString(strconv.Itoa(rt.AjaxSeq))
		}
	}
	return b.String()
}

// ParseResourceType 解析标记编码，出现未知字符时返回 false
func ParseResourceType(s string) (ResourceType, bool) {
	var rt ResourceType
	for i := 0; i < len(s); i++ {
		c := s[i]
		found := false
		for _, fc := range flagCodes {
			if fc.code == c {
				rt.Flags |= fc.flag
				found = true
				break
			}
		}
		if !found {
			return ResourceType{}, false
		}
		if c != 'a' {
			continue
		}
		j := i + 1
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		if j > i+1 {
			n, err := strconv.Atoi(s[i+1 : j])
			if err != nil {
				return ResourceType{}, false
			}
			rt.AjaxSeq = n
			i = j - 1
		}
	}
	return rt, true
}

// Kind 将标记映射为流水线使用的资源类别
func (rt ResourceType) Kind() domain.ResourceType {
	switch {
	case rt.Has(FlagWebSocket):
		return domain.ResourceTypeWebSocket
	case rt.Has(FlagServiceWorker):
		return domain.ResourceTypeServiceWorker
	case rt.Has(FlagWorker):
		return domain.ResourceTypeWorker
	case rt.Has(FlagAjax):
		return domain.ResourceTypeAjax
	case rt.Has(FlagScript):
		return domain.ResourceTypeScript
	case rt.Has(FlagManifest):
		return domain.ResourceTypeManifest
	case rt.Has(FlagForm):
		return domain.ResourceTypeForm
	case rt.Has(FlagIframe), rt.Has(FlagCrossDomainIframe):
		return domain.ResourceTypeIframe
	default:
		return domain.ResourceTypePage
	}
}
