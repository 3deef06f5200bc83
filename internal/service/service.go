// Package service 组装代理的全部组件并管理两个代理端口的生命周期
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"hammerhead/internal/audit"
	"hammerhead/internal/config"
	"hammerhead/internal/engine"
	"hammerhead/internal/logger"
	"hammerhead/internal/metrics"
	"hammerhead/internal/pipeline"
	"hammerhead/internal/pool"
	"hammerhead/internal/processor"
	"hammerhead/internal/session"
	"hammerhead/internal/storage/db"
	"hammerhead/internal/storage/model"
	"hammerhead/internal/storage/repo"
	"hammerhead/internal/tracker"
	"hammerhead/internal/urlcodec"
	"hammerhead/pkg/domain"
	"hammerhead/pkg/errx"
	"hammerhead/pkg/rulespec"

	"gorm.io/gorm"
)

// eventRetentionDays 启动时清理早于该天数的审计事件
const eventRetentionDays = 7

// Proxy 代理服务
type Proxy struct {
	cfg *config.Config
	log logger.Logger

	sessions  *session.Manager
	tracker   *tracker.Tracker[*processor.PendingState]
	engine    *engine.Engine
	processor *processor.Processor
	pipeline  *pipeline.Pipeline
	pool      *pool.Pool
	metrics   *metrics.Metrics

	db         *gorm.DB
	eventRepo  *repo.EventRepo
	configRepo *repo.ConfigRepo

	mu      sync.Mutex
	servers []*http.Server
	started bool
	closed  bool
}

// New 按配置创建代理服务，配置了 sqlite 时打开数据库并恢复上次激活的规则
func New(cfg *config.Config, l logger.Logger) (*Proxy, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if l == nil {
		l = logger.NewNop()
	}

	p := &Proxy{
		cfg:     cfg,
		log:     l,
		metrics: metrics.New(),
		engine:  engine.New(nil),
	}

	var sink audit.Sink
	if cfg.Sqlite.Db != "" {
		if err := p.openStorage(); err != nil {
			return nil, err
		}
		sink = p.eventRepo
	}

	pending := time.Duration(cfg.Proxy.PendingTimeoutMS) * time.Millisecond
	if pending <= 0 {
		pending = time.Minute
	}
	p.tracker = tracker.New[*processor.PendingState](pending, l)
	p.tracker.OnEvict(func(id string, st *processor.PendingState) {
		l.Debug("[Service] 未收到响应的请求已过期", "requestID", id, "url", st.Request.URL)
	})

	var opts []audit.Option
	if sink != nil {
		opts = append(opts, audit.WithSink(sink))
	}
	p.processor = processor.New(p.tracker, p.engine, audit.New(nil, l, opts...), l)

	p.sessions = session.NewManager(l, session.WithRateLimit(cfg.Proxy.OutboundRPS, cfg.Proxy.OutboundBurst))
	p.sessions.OnDestroy(func(s *session.Session) {
		p.processor.RemoveSessionHooks(s.ID)
		p.metrics.SetSessions(p.sessions.Len())
	})

	p.pool = pool.New(cfg.Proxy.Workers, 0, l)
	p.pipeline = pipeline.New(pipeline.Config{
		Hostname:        cfg.Proxy.Hostname,
		Port1:           cfg.Proxy.Port1,
		Port2:           cfg.Proxy.Port2,
		UpstreamTimeout: time.Duration(cfg.Proxy.UpstreamTimeoutMS) * time.Millisecond,
		MaxBodySize:     cfg.Proxy.MaxBodySize,
		DetectCharset:   cfg.Proxy.DetectCharset,
		Sessions:        p.sessions,
		Processor:       p.processor,
		Pool:            p.pool,
		Metrics:         p.metrics,
		Logger:          l,
	})
	return p, nil
}

// openStorage 打开数据库、迁移表结构并加载激活的规则配置
func (p *Proxy) openStorage() error {
	opts := db.Options{Prefix: p.cfg.Sqlite.Prefix, Logger: db.NewLogger(p.log)}
	if name := p.cfg.Sqlite.Db; name != db.MemoryPath && (filepath.IsAbs(name) || strings.ContainsRune(name, filepath.Separator)) {
		opts.FullPath = name
	} else {
		opts.Name = name
	}
	gdb, err := db.New(opts)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if err := db.Migrate(gdb, model.All()...); err != nil {
		_ = db.Close(gdb)
		return fmt.Errorf("migrate storage: %w", err)
	}
	p.db = gdb
	p.eventRepo = repo.NewEventRepo(gdb, p.log, repo.EventRepoOptions{})
	p.configRepo = repo.NewConfigRepo(gdb)

	record, err := p.configRepo.GetActive(context.Background())
	if err != nil {
		p.log.Err(err, "[Service] 读取激活的规则配置失败")
		return nil
	}
	if record == nil {
		return nil
	}
	rc, err := p.configRepo.ToRulespecConfig(record)
	if err != nil {
		p.log.Err(err, "[Service] 解析激活的规则配置失败", "configID", record.ConfigID)
		return nil
	}
	p.engine.Update(rc)
	p.log.Info("[Service] 已恢复规则配置", "configID", rc.ID, "rules", len(rc.Rules))
	return nil
}

// Start 在两个代理端口上开始监听
func (p *Proxy) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("proxy closed")
	}
	if p.started {
		return nil
	}

	var listeners []net.Listener
	for _, port := range []int{p.cfg.Proxy.Port1, p.cfg.Proxy.Port2} {
		addr := net.JoinHostPort(p.cfg.Proxy.Hostname, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		listeners = append(listeners, ln)
	}

	p.pool.Start(ctx)
	for _, ln := range listeners {
		srv := &http.Server{
			Handler:           p.pipeline,
			ReadHeaderTimeout: 30 * time.Second,
			IdleTimeout:       2 * time.Minute,
		}
		p.servers = append(p.servers, srv)
		go func(srv *http.Server, ln net.Listener) {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				p.log.Err(err, "[Service] 代理端口异常退出", "addr", ln.Addr().String())
			}
		}(srv, ln)
	}
	p.started = true

	if p.eventRepo != nil {
		p.pool.Submit("cleanupEvents", func(ctx context.Context) {
			n, err := p.eventRepo.CleanupOldEvents(ctx, eventRetentionDays)
			if err != nil {
				p.log.Err(err, "[Service] 清理过期审计事件失败")
				return
			}
			if n > 0 {
				p.log.Info("[Service] 已清理过期审计事件", "count", n)
			}
		})
	}

	p.log.Info("[Service] 代理已启动", "hostname", p.cfg.Proxy.Hostname,
		"port1", p.cfg.Proxy.Port1, "port2", p.cfg.Proxy.Port2)
	return nil
}

// Close 停止监听、销毁全部会话并落盘审计事件
func (p *Proxy) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	servers := p.servers
	p.servers = nil
	p.mu.Unlock()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.sessions.Close()
	p.pool.Stop()
	p.tracker.Stop()
	if p.eventRepo != nil {
		p.eventRepo.Stop()
	}
	if p.db != nil {
		if err := db.Close(p.db); err != nil {
			errs = append(errs, err)
		}
	}
	p.log.Info("[Service] 代理已关闭")
	return errors.Join(errs...)
}

// CreateSession 创建会话，ownerToken 为空时生成新令牌
func (p *Proxy) CreateSession(ownerToken, uploadStoragePath string) *session.Session {
	var s *session.Session
	if ownerToken == "" {
		s = p.sessions.Create(uploadStoragePath)
	} else {
		s = p.sessions.CreateWithOwner(ownerToken, uploadStoragePath)
	}
	p.metrics.SetSessions(p.sessions.Len())
	return s
}

// Session 按 ID 获取会话
func (p *Proxy) Session(id domain.SessionID) (*session.Session, error) {
	return p.sessions.Get(id)
}

// OpenSession 返回会话首个页面在主端口上的代理地址
func (p *Proxy) OpenSession(rawURL string, s *session.Session) (string, error) {
	if s == nil {
		return "", domain.ErrSessionNotFound
	}
	proxied, err := urlcodec.Encode(rawURL, urlcodec.Options{
		ProxyHostname: p.cfg.Proxy.Hostname,
		ProxyPort:     p.cfg.Proxy.Port1,
		SessionID:     string(s.ID),
		OwnerToken:    s.OwnerToken,
	})
	if err != nil {
		return "", err
	}
	s.SetStartURL(urlcodec.DestOf(proxied))
	p.log.Info("[Service] 打开会话页面", "session", string(s.ID), "url", rawURL)
	return proxied, nil
}

// CloseSession 销毁会话
func (p *Proxy) CloseSession(id domain.SessionID) error {
	if !p.sessions.Destroy(id) {
		return errx.Wrap(errx.CodeUnknownSession, domain.ErrSessionNotFound, string(id))
	}
	return nil
}

// CloseSessionsByOwner 销毁所有者的全部会话
func (p *Proxy) CloseSessionsByOwner(ownerToken string) int {
	return p.sessions.DestroyByOwner(ownerToken)
}

// LoadRules 替换声明式规则，启用持久化时保存并设为激活配置
func (p *Proxy) LoadRules(ctx context.Context, cfg *rulespec.Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil rule config", domain.ErrInvalidConfig)
	}
	if cfg.Version == "" {
		cfg.Version = rulespec.DefaultConfigVersion
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	if p.configRepo != nil {
		record, err := p.configRepo.Upsert(ctx, cfg)
		if err != nil {
			return err
		}
		if err := p.configRepo.SetActive(ctx, record.ID); err != nil {
			return err
		}
	}
	p.engine.Update(cfg)
	p.engine.ResetStats()
	p.log.Info("[Service] 加载规则配置完成", "configID", cfg.ID, "count", len(cfg.Rules), "version", cfg.Version)
	return nil
}

// RuleStats 规则命中统计
func (p *Proxy) RuleStats() domain.EngineStats {
	return p.engine.GetStats()
}

// AddHook 注册请求钩子，sessionID 为空时对所有会话生效
func (p *Proxy) AddHook(sessionID domain.SessionID, h *processor.Hook) (string, error) {
	if sessionID != "" {
		if _, err := p.sessions.Get(sessionID); err != nil {
			return "", err
		}
	}
	return p.processor.AddHook(sessionID, h)
}

// RemoveHook 移除钩子
func (p *Proxy) RemoveHook(id string) bool {
	return p.processor.RemoveHook(id)
}

// QueryEvents 查询审计事件
func (p *Proxy) QueryEvents(ctx context.Context, opts repo.QueryOptions) ([]*model.NetworkEventRecord, int64, error) {
	if p.eventRepo == nil {
		return nil, 0, domain.ErrDatabaseNotInitialized
	}
	p.eventRepo.Flush()
	return p.eventRepo.Query(ctx, opts)
}

// MetricsHandler Prometheus 指标处理器
func (p *Proxy) MetricsHandler() http.Handler {
	return p.metrics.Handler()
}

// Handler 代理请求处理器，两个端口共用
func (p *Proxy) Handler() http.Handler {
	return p.pipeline
}
