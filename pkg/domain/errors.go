package domain

import "errors"

// 会话相关错误
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrOwnerMismatch    = errors.New("session owner token mismatch")
	ErrRegistryShutdown = errors.New("session registry closed")
)

// 上游相关错误
var (
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	ErrCORSDenied          = errors.New("cross-origin request denied")
)

// 配置相关错误
var (
	ErrInvalidConfig  = errors.New("invalid config")
	ErrConfigNotFound = errors.New("config not found")
)

// 数据库相关错误
var (
	ErrDatabaseNotInitialized = errors.New("database not initialized")
	ErrRecordNotFound         = errors.New("record not found")
)
