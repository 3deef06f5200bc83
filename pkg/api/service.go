package api

import (
	"context"
	"net/http"

	"hammerhead/internal/config"
	"hammerhead/internal/logger"
	"hammerhead/internal/processor"
	"hammerhead/internal/service"
	"hammerhead/internal/session"
	"hammerhead/internal/storage/model"
	"hammerhead/internal/storage/repo"
	"hammerhead/pkg/domain"
	"hammerhead/pkg/rulespec"
)

// Service 代理服务接口
type Service interface {
	// Start 开始监听代理端口
	Start(ctx context.Context) error

	// Close 关闭代理并释放资源
	Close(ctx context.Context) error

	// CreateSession 创建会话，ownerToken 为空时生成新令牌
	CreateSession(ownerToken, uploadStoragePath string) *session.Session

	// Session 获取会话
	Session(id domain.SessionID) (*session.Session, error)

	// OpenSession 返回会话首个页面的代理地址
	OpenSession(rawURL string, s *session.Session) (string, error)

	// CloseSession 销毁会话
	CloseSession(id domain.SessionID) error

	// CloseSessionsByOwner 销毁所有者的全部会话
	CloseSessionsByOwner(ownerToken string) int

	// LoadRules 加载规则
	LoadRules(ctx context.Context, cfg *rulespec.Config) error

	// RuleStats 获取规则统计信息
	RuleStats() domain.EngineStats

	// AddHook 注册请求钩子
	AddHook(sessionID domain.SessionID, h *processor.Hook) (string, error)

	// RemoveHook 移除请求钩子
	RemoveHook(id string) bool

	// QueryEvents 查询审计事件
	QueryEvents(ctx context.Context, opts repo.QueryOptions) ([]*model.NetworkEventRecord, int64, error)

	// MetricsHandler 指标处理器
	MetricsHandler() http.Handler
}

// NewService 创建并返回服务接口实现
func NewService(cfg *config.Config, l logger.Logger) (Service, error) {
	p, err := service.New(cfg, l)
	if err != nil {
		return nil, err
	}
	return p, nil
}
