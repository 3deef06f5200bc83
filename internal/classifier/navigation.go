package classifier

import (
	"sync"

	"hammerhead/internal/urlcodec"
)

// Navigation 链接或表单的导航地址
//
// 资源类型不在设置地址时固定，而是在点击时按当时的窗口树重新计算，
// 因此窗口在设置地址与点击之间被创建、删除或改名都会生效。
type Navigation struct {
	mu       sync.RWMutex
	el       Element
	proxyURL string
	windows  WindowResolver
}

// NewNavigation 创建导航
func NewNavigation(el Element, proxyURL string, windows WindowResolver) *Navigation {
	return &Navigation{el: el, proxyURL: proxyURL, windows: windows}
}

// SetTarget 元素 target 属性变化
func (n *Navigation) SetTarget(target string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.el.Target = target
}

// SetBaseTarget 文档 <base target> 变化
func (n *Navigation) SetBaseTarget(target string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.el.BaseTarget = target
}

// URL 设置时的代理地址
func (n *Navigation) URL() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.proxyURL
}

// URLAtClick 点击时实际导航的代理地址
func (n *Navigation) URLAtClick() string {
	n.mu.RLock()
	el, u, w := n.el, n.proxyURL, n.windows
	n.mu.RUnlock()
	return urlcodec.WithResourceType(u, Classify(el, w))
}
