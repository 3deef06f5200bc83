// Package repo 基于 GORM 的数据仓库
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Filter 筛选器接口
type Filter interface {
	Apply(db *gorm.DB) *gorm.DB
}

// Pagination 分页参数
type Pagination struct {
	Offset int
	Limit  int
}

// Order 排序参数
type Order struct {
	Field string
	Sort  string
}

// BaseRepository 基础DAO层
type BaseRepository[T any] struct {
	Db *gorm.DB
}

// NewBaseRepository 创建基础DAO层
func NewBaseRepository[T any](db *gorm.DB) *BaseRepository[T] {
	return &BaseRepository[T]{Db: db}
}

// Create 创建记录
func (r *BaseRepository[T]) Create(ctx context.Context, item *T) error {
	return r.Db.WithContext(ctx).Create(item).Error
}

// CreateBatch 批量创建记录
func (r *BaseRepository[T]) CreateBatch(ctx context.Context, items []*T, size int) error {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = 100
	}
	return r.Db.WithContext(ctx).CreateInBatches(items, size).Error
}

// FindOne 根据主键或筛选器查询单条记录，不存在时返回 nil
func (r *BaseRepository[T]) FindOne(ctx context.Context, id any) (*T, error) {
	item := new(T)
	query := r.Db.WithContext(ctx)

	var err error
	if filter, ok := id.(Filter); ok {
		err = filter.Apply(query).First(item).Error
	} else {
		err = query.First(item, id).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// FindAll 查询记录
func (r *BaseRepository[T]) FindAll(ctx context.Context, filter Filter, page *Pagination, orders ...Order) ([]*T, error) {
	list := make([]*T, 0)
	query := r.Db.WithContext(ctx).Model(new(T))
	if filter != nil {
		query = filter.Apply(query)
	}
	if page != nil {
		query = query.Limit(page.Limit).Offset(page.Offset)
	}
	for _, o := range orders {
		query = query.Order(o.Field + " " + o.Sort)
	}
	if err := query.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// Count 统计记录数量
func (r *BaseRepository[T]) Count(ctx context.Context, filter Filter) (int64, error) {
	var count int64
	query := r.Db.WithContext(ctx).Model(new(T))
	if filter != nil {
		query = filter.Apply(query)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Delete 按主键或筛选器删除记录，返回影响行数
func (r *BaseRepository[T]) Delete(ctx context.Context, id any) (int64, error) {
	query := r.Db.WithContext(ctx)
	var res *gorm.DB
	if filter, ok := id.(Filter); ok {
		res = filter.Apply(query).Delete(new(T))
	} else {
		res = query.Delete(new(T), id)
	}
	return res.RowsAffected, res.Error
}
