// Package classifier 根据元素上下文决定代理 URL 携带的资源类型
package classifier

import (
	"strings"

	"hammerhead/internal/urlcodec"
)

// Kind 地址的用途，为空时按标签名推断
type Kind string

const (
	KindInferred      Kind = ""
	KindScript        Kind = "script"
	KindIframe        Kind = "iframe"
	KindForm          Kind = "form"
	KindXHR           Kind = "xhr"
	KindFetch         Kind = "fetch"
	KindWebSocket     Kind = "websocket"
	KindWorker        Kind = "worker"
	KindServiceWorker Kind = "serviceworker"
	KindManifest      Kind = "manifest"
)

// Element 分类所需的元素上下文
type Element struct {
	TagName     string
	Kind        Kind
	Target      string // 元素自身的 target（表单按钮为 formtarget），为空表示未声明
	BaseTarget  string // <base target>
	CrossDomain bool   // iframe 的源与顶层页面不同源
	AjaxSeq     int
	Override    *urlcodec.ResourceType // 显式指定的资源类型，优先于推断结果
}

// EffectiveTarget 元素未声明 target 时继承 <base target>
func (el Element) EffectiveTarget() string {
	if t := strings.TrimSpace(el.Target); t != "" {
		return t
	}
	return strings.TrimSpace(el.BaseTarget)
}

// Classify 计算元素地址的资源类型
func Classify(el Element, windows WindowResolver) urlcodec.ResourceType {
	if el.Override != nil {
		return *el.Override
	}

	kind := el.Kind
	if kind == KindInferred {
		kind = inferKind(el.TagName)
	}

	switch kind {
	case KindScript:
		return urlcodec.Of(urlcodec.FlagScript)
	case KindIframe:
		if el.CrossDomain {
			return urlcodec.Of(urlcodec.FlagIframe, urlcodec.FlagCrossDomainIframe)
		}
		return urlcodec.Of(urlcodec.FlagIframe)
	case KindXHR, KindFetch:
		return urlcodec.Ajax(el.AjaxSeq)
	case KindWebSocket:
		return urlcodec.Of(urlcodec.FlagWebSocket)
	case KindWorker:
		return urlcodec.Of(urlcodec.FlagWorker)
	case KindServiceWorker:
		return urlcodec.Of(urlcodec.FlagServiceWorker)
	case KindManifest:
		return urlcodec.Of(urlcodec.FlagManifest)
	case KindForm:
		rt := urlcodec.Of(urlcodec.FlagForm)
		if OpensInIframe(el.EffectiveTarget(), windows) {
			rt.Flags |= urlcodec.FlagIframe
		}
		return rt
	}

	if isNavigationTag(el.TagName) && OpensInIframe(el.EffectiveTarget(), windows) {
		return urlcodec.Of(urlcodec.FlagIframe)
	}
	return urlcodec.ResourceType{}
}

// OpensInIframe 判断以 target 导航时目标文档是否位于子框架中
//
// 关键字不区分大小写；窗口名按大小写精确匹配。未声明的 target 按 _self 处理。
func OpensInIframe(target string, windows WindowResolver) bool {
	if windows == nil {
		return false
	}
	cur := windows.Current()
	switch strings.ToLower(target) {
	case "_blank", "_top":
		return false
	case "", "_self":
		return cur != nil && !cur.IsTop()
	case "_parent":
		if cur == nil || cur.IsTop() {
			return false
		}
		p := cur.Parent()
		return p != nil && !p.IsTop()
	}
	w := windows.ResolveWindowByName(target)
	return w != nil && !w.IsTop()
}

func inferKind(tag string) Kind {
	switch strings.ToLower(tag) {
	case "script":
		return KindScript
	case "iframe", "frame":
		return KindIframe
	case "form":
		return KindForm
	case "input", "button":
		// formaction 属性
		return KindForm
	}
	return KindInferred
}

func isNavigationTag(tag string) bool {
	switch strings.ToLower(tag) {
	case "a", "area":
		return true
	}
	return false
}
