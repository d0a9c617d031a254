package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SearchQuery 记录一次智能查询，用于审计和分析检索质量。
type SearchQuery struct {
	ID            string    `gorm:"type:char(36);primaryKey" json:"id"`
	UserID        uint      `gorm:"index;not null" json:"user_id"`
	QueryText     string    `gorm:"type:text;not null" json:"query_text"`
	ResultsCount  int       `gorm:"default:0" json:"results_count"`
	ExecutionTime float64   `json:"execution_time"` // 单位秒
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (SearchQuery) TableName() string {
	return "search_queries"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (q *SearchQuery) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	return nil
}
