// Package regexutil 缓存声明式规则中的正则表达式，避免每个代理请求重复编译
package regexutil

import (
	"regexp"
	"sync"
)

// DefaultMaxEntries 缓存条目上限，超过后整体清空重建
const DefaultMaxEntries = 1024

type entry struct {
	re  *regexp.Regexp
	err error
}

// Cache 并发安全的正则缓存，编译失败的结果同样缓存
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	max     int
}

// New 创建正则缓存，max <= 0 时使用 DefaultMaxEntries
func New(max int) *Cache {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &Cache{entries: make(map[string]entry), max: max}
}

// Get 获取编译后的正则
func (c *Cache) Get(pattern string) (*regexp.Regexp, error) {
	c.mu.RLock()
	e, ok := c.entries[pattern]
	c.mu.RUnlock()
	if ok {
		return e.re, e.err
	}

	re, err := regexp.Compile(pattern)
	c.mu.Lock()
	if len(c.entries) >= c.max {
		// 规则集整体替换后旧模式不再使用
		c.entries = make(map[string]entry)
	}
	c.entries[pattern] = entry{re: re, err: err}
	c.mu.Unlock()
	return re, err
}

// MatchString 非法模式视为不匹配
func (c *Cache) MatchString(pattern, s string) bool {
	re, err := c.Get(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// Len 当前缓存条目数
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reset 清空缓存
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}
