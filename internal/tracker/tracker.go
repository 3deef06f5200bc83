// Package tracker 在请求与响应之间暂存每个代理请求的处理上下文
package tracker

import (
	"sync"
	"time"

	"hammerhead/internal/logger"
)

type entry[T any] struct {
	startTime time.Time
	data      T
}

// Tracker 以请求 ID 为键的上下文池，超时条目由后台协程清理
type Tracker[T any] struct {
	mu      sync.Mutex
	pool    map[string]entry[T]
	timeout time.Duration
	onEvict func(id string, data T)
	log     logger.Logger
	done    chan struct{}
	once    sync.Once
}

// New 创建追踪器，timeout <= 0 时默认 60 秒
func New[T any](timeout time.Duration, l logger.Logger) *Tracker[T] {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if l == nil {
		l = logger.NewNop()
	}
	t := &Tracker[T]{
		pool:    make(map[string]entry[T]),
		timeout: timeout,
		log:     l,
		done:    make(chan struct{}),
	}
	go t.cleanupLoop()
	return t
}

// OnEvict 设置超时清理回调，回调在清理协程中执行
func (t *Tracker[T]) OnEvict(fn func(id string, data T)) {
	t.mu.Lock()
	t.onEvict = fn
	t.mu.Unlock()
}

// Set 存入请求上下文
func (t *Tracker[T]) Set(id string, data T) {
	t.mu.Lock()
	t.pool[id] = entry[T]{startTime: time.Now(), data: data}
	t.mu.Unlock()
}

// Get 获取并移除请求上下文
func (t *Tracker[T]) Get(id string) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.pool[id]
	if ok {
		delete(t.pool, id)
	}
	return e.data, ok
}

// Peek 仅获取请求上下文而不移除
func (t *Tracker[T]) Peek(id string) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.pool[id]
	return e.data, ok
}

// Delete 手动删除
func (t *Tracker[T]) Delete(id string) {
	t.mu.Lock()
	delete(t.pool, id)
	t.mu.Unlock()
}

// Len 当前暂存的条目数
func (t *Tracker[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pool)
}

// Stop 停止清理协程，可重复调用
func (t *Tracker[T]) Stop() {
	t.once.Do(func() { close(t.done) })
}

// Sweep 立即清理早于 now-timeout 的条目，返回清理数量
func (t *Tracker[T]) Sweep(now time.Time) int {
	t.mu.Lock()
	var evicted []string
	var data []T
	for id, e := range t.pool {
		if now.Sub(e.startTime) > t.timeout {
			evicted = append(evicted, id)
			data = append(data, e.data)
			delete(t.pool, id)
		}
	}
	fn := t.onEvict
	t.mu.Unlock()

	for i, id := range evicted {
		t.log.Debug("清理过期请求上下文", "id", id)
		if fn != nil {
			fn(id, data[i])
		}
	}
	return len(evicted)
}

func (t *Tracker[T]) cleanupLoop() {
	interval := t.timeout / 2
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case now := <-ticker.C:
			t.Sweep(now)
		}
	}
}
