// Package model 定义持久化表结构
package model

import (
	"time"
)

// ConfigRecord 规则配置表
type ConfigRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`                 // 数据库主键
	ConfigID   string    `gorm:"uniqueIndex;not null" json:"configId"` // 配置业务ID
	Name       string    `gorm:"not null" json:"name"`
	Version    string    `json:"version"`
	ConfigJSON string    `gorm:"type:text" json:"configJson"`   // 完整配置 JSON
	IsActive   bool      `gorm:"default:false" json:"isActive"` // 启动时加载的配置
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NetworkEventRecord 代理往返审计记录
type NetworkEventRecord struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	EventID          string    `gorm:"size:64;index" json:"eventId"`
	SessionID        string    `gorm:"index" json:"sessionId"`
	URL              string    `json:"url"`
	Method           string    `json:"method"`
	ResourceType     string    `json:"resourceType"`
	StatusCode       int       `json:"statusCode"`
	FinalResult      string    `gorm:"index" json:"finalResult"` // passed / modified / mocked / failed
	IsMatched        bool      `json:"isMatched"`
	MatchedRulesJSON string    `gorm:"type:text" json:"matchedRulesJson"`
	RequestJSON      string    `gorm:"type:text" json:"requestJson"`
	ResponseJSON     string    `gorm:"type:text" json:"responseJson"`
	Timestamp        int64     `gorm:"index" json:"timestamp"` // 毫秒
	CreatedAt        time.Time `json:"createdAt"`
}

// All 需要迁移的全部模型
func All() []any {
	return []any{&ConfigRecord{}, &NetworkEventRecord{}}
}
