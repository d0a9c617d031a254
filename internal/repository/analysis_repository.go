package repository

import (
	"errors"

	"convoiq-go/internal/model"

	"gorm.io/gorm"
)

// AnalysisRepository 接口定义了会话分析结果的持久化操作。
type AnalysisRepository interface {
	Upsert(analysis *model.ConversationAnalysis) error
	FindByConversation(conversationID string) (*model.ConversationAnalysis, error)
}

// analysisRepository 是 AnalysisRepository 接口的 GORM 实现。
type analysisRepository struct {
	db *gorm.DB
}

// NewAnalysisRepository 创建一个新的 AnalysisRepository 实例。
func NewAnalysisRepository(db *gorm.DB) AnalysisRepository {
	return &analysisRepository{db: db}
}

// Upsert 写入会话的分析结果，同一会话重复分析时覆盖旧结果。
func (r *analysisRepository) Upsert(analysis *model.ConversationAnalysis) error {
	var existing model.ConversationAnalysis
	err := r.db.Where("conversation_id = ?", analysis.ConversationID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.Create(analysis).Error
	}
	if err != nil {
		return err
	}

	// 复用已有记录的主键和首次分析时间
	analysis.ID = existing.ID
	analysis.AnalyzedAt = existing.AnalyzedAt
	return r.db.Save(analysis).Error
}

// FindByConversation 根据会话 ID 查找分析结果。
func (r *analysisRepository) FindByConversation(conversationID string) (*model.ConversationAnalysis, error) {
	var analysis model.ConversationAnalysis
	err := r.db.Where("conversation_id = ?", conversationID).First(&analysis).Error
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}
