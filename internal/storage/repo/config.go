package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hammerhead/internal/storage/model"
	"hammerhead/pkg/rulespec"

	"gorm.io/gorm"
)

// ErrEmptyConfigID 配置 ID 为空
var ErrEmptyConfigID = errors.New("repo: empty config id")

// ConfigRepo 规则配置仓库
type ConfigRepo struct {
	BaseRepository[model.ConfigRecord]
}

// NewConfigRepo 创建配置仓库实例
func NewConfigRepo(db *gorm.DB) *ConfigRepo {
	return &ConfigRepo{BaseRepository: *NewBaseRepository[model.ConfigRecord](db)}
}

func validate(cfg *rulespec.Config) error {
	if cfg == nil || cfg.ID == "" {
		return ErrEmptyConfigID
	}
	return cfg.Validate()
}

// Create 创建新配置
func (r *ConfigRepo) Create(ctx context.Context, cfg *rulespec.Config) (*model.ConfigRecord, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("序列化配置失败: %w", err)
	}

	now := time.Now()
	record := &model.ConfigRecord{
		ConfigID:   cfg.ID,
		Name:       cfg.Name,
		Version:    cfg.Version,
		ConfigJSON: string(configJSON),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.BaseRepository.Create(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Update 按数据库 ID 更新配置
func (r *ConfigRepo) Update(ctx context.Context, id uint, cfg *rulespec.Config) error {
	if err := validate(cfg); err != nil {
		return err
	}
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	return r.Db.WithContext(ctx).Model(&model.ConfigRecord{}).Where("id = ?", id).Updates(map[string]any{
		"config_id":   cfg.ID,
		"name":        cfg.Name,
		"version":     cfg.Version,
		"config_json": string(configJSON),
		"updated_at":  time.Now(),
	}).Error
}

type configIDFilter string

func (f configIDFilter) Apply(db *gorm.DB) *gorm.DB { return db.Where("config_id = ?", string(f)) }

type activeFilter struct{}

func (activeFilter) Apply(db *gorm.DB) *gorm.DB { return db.Where("is_active = ?", true) }

// GetByConfigID 根据配置业务 ID 获取配置，不存在时返回 nil
func (r *ConfigRepo) GetByConfigID(ctx context.Context, configID string) (*model.ConfigRecord, error) {
	return r.FindOne(ctx, configIDFilter(configID))
}

// List 按更新时间倒序列出所有配置
func (r *ConfigRepo) List(ctx context.Context) ([]*model.ConfigRecord, error) {
	return r.FindAll(ctx, nil, nil, Order{Field: "updated_at", Sort: "DESC"})
}

// SetActive 设置激活配置，同一时刻只有一个
func (r *ConfigRepo) SetActive(ctx context.Context, id uint) error {
	return r.Db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.ConfigRecord{}).Where("is_active = ?", true).Update("is_active", false).Error; err != nil {
			return err
		}
		res := tx.Model(&model.ConfigRecord{}).Where("id = ?", id).Update("is_active", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// GetActive 获取当前激活的配置，没有时返回 nil
func (r *ConfigRepo) GetActive(ctx context.Context) (*model.ConfigRecord, error) {
	return r.FindOne(ctx, activeFilter{})
}

// ToRulespecConfig 将记录解析为规则配置
func (r *ConfigRepo) ToRulespecConfig(record *model.ConfigRecord) (*rulespec.Config, error) {
	if record == nil || record.ConfigJSON == "" {
		return nil, nil
	}
	var cfg rulespec.Config
	if err := json.Unmarshal([]byte(record.ConfigJSON), &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return &cfg, nil
}

// Upsert 按配置业务 ID 覆盖或新增
func (r *ConfigRepo) Upsert(ctx context.Context, cfg *rulespec.Config) (*model.ConfigRecord, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	existing, err := r.GetByConfigID(ctx, cfg.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return r.Create(ctx, cfg)
	}
	if err := r.Update(ctx, existing.ID, cfg); err != nil {
		return nil, err
	}
	return r.FindOne(ctx, existing.ID)
}

// Rename 重命名配置
func (r *ConfigRepo) Rename(ctx context.Context, id uint, newName string) error {
	record, err := r.FindOne(ctx, id)
	if err != nil {
		return err
	}
	if record == nil {
		return gorm.ErrRecordNotFound
	}
	cfg, err := r.ToRulespecConfig(record)
	if err != nil {
		return err
	}
	cfg.Name = newName
	return r.Update(ctx, id, cfg)
}
