package session

import (
	"strings"
	"sync"

	"hammerhead/internal/logger"
	"hammerhead/pkg/domain"
	"hammerhead/pkg/errx"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Manager 会话注册表，按会话 ID 索引
type Manager struct {
	mu        sync.RWMutex
	sessions  map[domain.SessionID]*Session
	log       logger.Logger
	rps       rate.Limit
	burst     int
	onDestroy []func(*Session)
}

// ManagerOption 注册表选项
type ManagerOption func(*Manager)

// WithRateLimit 为每个会话设置出站请求限速，rps <= 0 表示不限速
func WithRateLimit(rps, burst int) ManagerOption {
	return func(m *Manager) {
		if rps > 0 {
			m.rps = rate.Limit(rps)
			m.burst = max(burst, 1)
		}
	}
}

// NewManager 创建会话注册表
func NewManager(l logger.Logger, opts ...ManagerOption) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	m := &Manager{
		sessions: make(map[domain.SessionID]*Session),
		log:      l,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewID 生成 32 位字母数字标识
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Create 创建会话并生成新的所有者令牌
func (m *Manager) Create(uploadStoragePath string) *Session {
	return m.CreateWithOwner(NewID(), uploadStoragePath)
}

// CreateWithOwner 以指定所有者令牌创建会话，多个会话可以属于同一所有者
func (m *Manager) CreateWithOwner(ownerToken, uploadStoragePath string) *Session {
	s := New(domain.SessionID(NewID()), ownerToken, uploadStoragePath)
	if m.rps > 0 {
		s.setLimiter(rate.NewLimiter(m.rps, m.burst))
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.log.Info("创建代理会话", "sessionID", string(s.ID), "owner", ownerToken)
	return s
}

// Get 获取会话
func (m *Manager) Get(id domain.SessionID) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, errx.Wrap(errx.CodeUnknownSession, domain.ErrSessionNotFound, string(id))
	}
	return s, nil
}

// Lookup 获取会话并校验所有者令牌
func (m *Manager) Lookup(id domain.SessionID, ownerToken string) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if s.OwnerToken != ownerToken {
		return nil, errx.Wrap(errx.CodeUnknownSession, domain.ErrOwnerMismatch, string(id))
	}
	return s, nil
}

// OnDestroy 注册会话销毁回调
func (m *Manager) OnDestroy(fn func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDestroy = append(m.onDestroy, fn)
}

// Destroy 销毁会话，会话不存在时返回 false
func (m *Manager) Destroy(id domain.SessionID) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	hooks := m.onDestroy
	m.mu.Unlock()

	if !ok {
		return false
	}
	for _, fn := range hooks {
		fn(s)
	}
	m.log.Info("销毁代理会话", "sessionID", string(id))
	return true
}

// DestroyByOwner 销毁某个所有者的全部会话，返回销毁数量
func (m *Manager) DestroyByOwner(ownerToken string) int {
	m.mu.RLock()
	var ids []domain.SessionID
	for id, s := range m.sessions {
		if s.OwnerToken == ownerToken {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range ids {
		if m.Destroy(id) {
			n++
		}
	}
	return n
}

// List 返回所有活动会话
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	return list
}

// Len 活动会话数量
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close 销毁全部会话
func (m *Manager) Close() {
	for _, s := range m.List() {
		m.Destroy(s.ID)
	}
}
