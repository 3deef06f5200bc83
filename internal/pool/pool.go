// Package pool 执行代理请求之外的异步副作用（下载通知、页面错误回调等）
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hammerhead/internal/logger"
)

// Task 异步任务，ctx 在工作池停止时取消
type Task func(ctx context.Context)

// Stats 工作池统计
type Stats struct {
	QueueLen  int   `json:"queueLen"`
	QueueCap  int   `json:"queueCap"`
	Submitted int64 `json:"submitted"`
	Dropped   int64 `json:"dropped"`
	Panicked  int64 `json:"panicked"`
}

type job struct {
	name string
	fn   Task
}

// Pool 固定数量 worker 的工作池，队列满时丢弃任务
type Pool struct {
	size     int
	queue    chan job
	queueCap int
	log      logger.Logger

	mu        sync.Mutex
	submitted int64
	dropped   int64
	panicked  int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建工作池
// size: worker 数量，<=0 时每个任务独立起协程；queueCap: 队列容量，<=0 时为 size*8
func New(size, queueCap int, l logger.Logger) *Pool {
	if l == nil {
		l = logger.NewNop()
	}
	p := &Pool{size: size, log: l}
	if size <= 0 {
		return p
	}
	if queueCap <= 0 {
		queueCap = size * 8
	}
	p.queue = make(chan job, queueCap)
	p.queueCap = queueCap
	return p
}

// Start 启动 worker 与状态监控
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()
	if p.queue == nil {
		return
	}
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.wg.Add(1)
	go p.monitor()
}

// Stop 取消任务上下文并等待 worker 退出，队列中未执行的任务被丢弃
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Pool) monitor() {
	defer p.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			s := p.Stats()
			if s.Submitted > 0 {
				usage := float64(s.QueueLen) / float64(s.QueueCap) * 100
				p.log.Info("工作池状态监控", "queueLen", s.QueueLen, "queueCap", s.QueueCap,
					"usage", fmt.Sprintf("%.1f%%", usage), "submitted", s.Submitted, "dropped", s.Dropped)
			}
		}
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.queue:
			p.run(p.ctx, j)
		}
	}
}

// run 执行任务，任务 panic 只记录日志
func (p *Pool) run(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			p.mu.Lock()
			p.panicked++
			p.mu.Unlock()
			p.log.Error("异步任务 panic", "task", j.name, "panic", fmt.Sprint(r))
		}
	}()
	j.fn(ctx)
}

// Submit 提交任务，队列已满或工作池已停止时返回 false
func (p *Pool) Submit(name string, fn Task) bool {
	p.mu.Lock()
	p.submitted++
	ctx := p.ctx
	p.mu.Unlock()

	if p.queue == nil {
		if ctx == nil {
			ctx = context.Background()
		}
		go p.run(ctx, job{name: name, fn: fn})
		return true
	}
	if ctx == nil || ctx.Err() != nil {
		p.drop(name)
		return false
	}

	select {
	case p.queue <- job{name: name, fn: fn}:
		return true
	default:
		p.drop(name)
		return false
	}
}

func (p *Pool) drop(name string) {
	p.mu.Lock()
	p.dropped++
	dropped := p.dropped
	p.mu.Unlock()
	p.log.Warn("工作池队列已满，任务被丢弃", "task", name, "queueCap", p.queueCap, "dropped", dropped)
}

// Stats 返回统计信息
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		QueueLen:  len(p.queue),
		QueueCap:  p.queueCap,
		Submitted: p.submitted,
		Dropped:   p.dropped,
		Panicked:  p.panicked,
	}
}

// IsEnabled 是否限制并发
func (p *Pool) IsEnabled() bool {
	return p.queue != nil
}
