package repository

import (
	"convoiq-go/internal/model"

	"gorm.io/gorm"
)

// SearchQueryRepository 接口定义了智能查询审计记录的持久化操作。
type SearchQueryRepository interface {
	Create(query *model.SearchQuery) error
	Count() (int64, error)
}

// searchQueryRepository 是 SearchQueryRepository 接口的 GORM 实现。
type searchQueryRepository struct {
	db *gorm.DB
}

// NewSearchQueryRepository 创建一个新的 SearchQueryRepository 实例。
func NewSearchQueryRepository(db *gorm.DB) SearchQueryRepository {
	return &searchQueryRepository{db: db}
}

// Create 记录一次智能查询。
func (r *searchQueryRepository) Create(query *model.SearchQuery) error {
	return r.db.Create(query).Error
}

// Count 统计全平台的查询总数。
func (r *searchQueryRepository) Count() (int64, error) {
	var total int64
	err := r.db.Model(&model.SearchQuery{}).Count(&total).Error
	return total, err
}
