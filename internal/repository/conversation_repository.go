package repository

import (
	"time"

	"convoiq-go/internal/model"

	"gorm.io/gorm"
)

// ConversationRepository 接口定义了会话数据的持久化操作。
type ConversationRepository interface {
	Create(conversation *model.Conversation) error
	FindByID(id string) (*model.Conversation, error)
	FindByIDForUser(id string, userID uint) (*model.Conversation, error)
	FindByUser(userID uint, status, search string, offset, limit int) ([]model.Conversation, int64, error)
	FindRecentByUser(userID uint, limit int) ([]model.Conversation, error)
	FindCandidates(userID uint, dateFrom, dateTo *time.Time) ([]model.Conversation, error)
	SearchByKeyword(userID uint, keyword string, dateFrom, dateTo *time.Time, limit int) ([]model.Conversation, error)
	FindAll(userID *uint, startTime, endTime *time.Time) ([]model.Conversation, error)
	Save(conversation *model.Conversation) error
	Delete(id string) error
	UpdateEmbedding(id string, embedding model.Vector) error
	CountByUser(userID uint) (int64, error)
	CountByUserAndStatus(userID uint, status string) (int64, error)
	SentimentCounts(userID uint) (map[string]int64, error)
	Count() (int64, error)
}

// conversationRepository 是 ConversationRepository 接口的 GORM 实现。
type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// Create 在数据库中创建一个新的会话记录。
func (r *conversationRepository) Create(conversation *model.Conversation) error {
	return r.db.Create(conversation).Error
}

// FindByID 根据会话 ID 查找会话，不限制归属用户。
// 供后台流水线使用，对外接口应使用 FindByIDForUser。
func (r *conversationRepository) FindByID(id string) (*model.Conversation, error) {
	var conversation model.Conversation
	err := r.db.Where("id = ?", id).First(&conversation).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

// FindByIDForUser 查找属于指定用户的会话。
func (r *conversationRepository) FindByIDForUser(id string, userID uint) (*model.Conversation, error) {
	var conversation model.Conversation
	err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&conversation).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

// FindByUser 分页检索用户的会话，按开始时间倒序排列。
// status 非空时按会话状态过滤，search 非空时模糊匹配标题或描述。
func (r *conversationRepository) FindByUser(userID uint, status, search string, offset, limit int) ([]model.Conversation, int64, error) {
	var conversations []model.Conversation
	var total int64

	db := r.db.Model(&model.Conversation{}).Where("user_id = ?", userID)
	if status != "" {
		db = db.Where("status = ?", status)
	}
	if search != "" {
		pattern := "%" + search + "%"
		db = db.Where("(title LIKE ? OR description LIKE ?)", pattern, pattern)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Order("started_at DESC").Offset(offset).Limit(limit).Find(&conversations).Error
	if err != nil {
		return nil, 0, err
	}

	return conversations, total, nil
}

// FindRecentByUser 检索用户最近开始的若干个会话。
func (r *conversationRepository) FindRecentByUser(userID uint, limit int) ([]model.Conversation, error) {
	var conversations []model.Conversation
	err := r.db.Where("user_id = ?", userID).
		Order("started_at DESC").
		Limit(limit).
		Find(&conversations).Error
	return conversations, err
}

// FindCandidates 检索参与语义搜索的候选会话，归档的会话不参与。
// dateFrom 按会话开始时间过滤，dateTo 按会话结束时间过滤（未结束的会话因此被排除）。
func (r *conversationRepository) FindCandidates(userID uint, dateFrom, dateTo *time.Time) ([]model.Conversation, error) {
	db := r.db.Where("user_id = ? AND status <> ?", userID, model.ConversationStatusArchived)
	if dateFrom != nil {
		db = db.Where("started_at >= ?", *dateFrom)
	}
	if dateTo != nil {
		db = db.Where("ended_at <= ?", *dateTo)
	}

	var conversations []model.Conversation
	err := db.Order("started_at DESC").Find(&conversations).Error
	return conversations, err
}

// SearchByKeyword 按关键词在标题和消息内容中检索会话，用于语义搜索不可用时的降级路径。
func (r *conversationRepository) SearchByKeyword(userID uint, keyword string, dateFrom, dateTo *time.Time, limit int) ([]model.Conversation, error) {
	pattern := "%" + keyword + "%"
	db := r.db.Model(&model.Conversation{}).
		Joins("LEFT JOIN messages ON messages.conversation_id = conversations.id").
		Where("conversations.user_id = ? AND conversations.status <> ?", userID, model.ConversationStatusArchived).
		Where("(conversations.title LIKE ? OR messages.content LIKE ?)", pattern, pattern)
	if dateFrom != nil {
		db = db.Where("conversations.started_at >= ?", *dateFrom)
	}
	if dateTo != nil {
		db = db.Where("conversations.ended_at <= ?", *dateTo)
	}

	var conversations []model.Conversation
	err := db.Distinct("conversations.*").
		Order("conversations.started_at DESC").
		Limit(limit).
		Find(&conversations).Error
	return conversations, err
}

// FindAll 跨用户查询会话，供管理端导出使用，可按用户和时间范围过滤。
func (r *conversationRepository) FindAll(userID *uint, startTime, endTime *time.Time) ([]model.Conversation, error) {
	db := r.db.Model(&model.Conversation{})
	if userID != nil {
		db = db.Where("user_id = ?", *userID)
	}
	if startTime != nil {
		db = db.Where("started_at >= ?", *startTime)
	}
	if endTime != nil {
		db = db.Where("started_at <= ?", *endTime)
	}

	var conversations []model.Conversation
	err := db.Order("started_at DESC").Find(&conversations).Error
	return conversations, err
}

// Save 保存会话的全部字段。
func (r *conversationRepository) Save(conversation *model.Conversation) error {
	return r.db.Save(conversation).Error
}

// Delete 删除会话及其级联数据（消息和分析结果）。
func (r *conversationRepository) Delete(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&model.ConversationAnalysis{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.Conversation{}).Error
	})
}

// UpdateEmbedding 更新会话的嵌入向量。
func (r *conversationRepository) UpdateEmbedding(id string, embedding model.Vector) error {
	return r.db.Model(&model.Conversation{}).Where("id = ?", id).Update("embedding", embedding).Error
}

// CountByUser 统计用户的会话总数。
func (r *conversationRepository) CountByUser(userID uint) (int64, error) {
	var total int64
	err := r.db.Model(&model.Conversation{}).Where("user_id = ?", userID).Count(&total).Error
	return total, err
}

// CountByUserAndStatus 统计用户处于指定状态的会话数。
func (r *conversationRepository) CountByUserAndStatus(userID uint, status string) (int64, error) {
	var total int64
	err := r.db.Model(&model.Conversation{}).
		Where("user_id = ? AND status = ?", userID, status).
		Count(&total).Error
	return total, err
}

// SentimentCounts 按情感标签分组统计用户的会话数。
func (r *conversationRepository) SentimentCounts(userID uint) (map[string]int64, error) {
	var rows []struct {
		Sentiment string
		Total     int64
	}
	err := r.db.Model(&model.Conversation{}).
		Select("sentiment, COUNT(*) AS total").
		Where("user_id = ? AND sentiment <> ''", userID).
		Group("sentiment").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Sentiment] = row.Total
	}
	return counts, nil
}

// Count 统计全平台的会话总数。
func (r *conversationRepository) Count() (int64, error) {
	var total int64
	err := r.db.Model(&model.Conversation{}).Count(&total).Error
	return total, err
}
