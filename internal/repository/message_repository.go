package repository

import (
	"convoiq-go/internal/model"

	"gorm.io/gorm"
)

// MessageRepository 接口定义了消息数据的持久化操作。
type MessageRepository interface {
	Create(message *model.Message) error
	FindByID(id string) (*model.Message, error)
	FindByConversation(conversationID string, offset, limit int) ([]model.Message, int64, error)
	FindAllByConversation(conversationID string) ([]model.Message, error)
	FindRecent(conversationID string, limit int) ([]model.Message, error)
	FindFirstMatching(conversationID, keyword string) (*model.Message, error)
	CountByConversation(conversationID string) (int64, error)
	CountByUser(userID uint) (int64, error)
	Count() (int64, error)
	UpdateEmbedding(id string, embedding model.Vector) error
}

// messageRepository 是 MessageRepository 接口的 GORM 实现。
type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Create 在数据库中创建一条新的消息记录。
func (r *messageRepository) Create(message *model.Message) error {
	return r.db.Create(message).Error
}

// FindByID 根据消息 ID 查找消息。
func (r *messageRepository) FindByID(id string) (*model.Message, error) {
	var message model.Message
	err := r.db.Where("id = ?", id).First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// FindByConversation 分页检索会话内的消息，按创建时间正序排列。
func (r *messageRepository) FindByConversation(conversationID string, offset, limit int) ([]model.Message, int64, error) {
	var messages []model.Message
	var total int64

	db := r.db.Model(&model.Message{}).Where("conversation_id = ?", conversationID)

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Order("created_at ASC").Offset(offset).Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

// FindAllByConversation 检索会话内的全部消息，按创建时间正序排列。
// 用于拼接完整的会话文本。
func (r *messageRepository) FindAllByConversation(conversationID string) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}

// FindRecent 检索会话内最近的若干条消息，按创建时间倒序返回。
// 调用方需要按时间正序使用时自行反转。
func (r *messageRepository) FindRecent(conversationID string, limit int) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// FindFirstMatching 查找会话内第一条包含关键词的消息。
func (r *messageRepository) FindFirstMatching(conversationID, keyword string) (*model.Message, error) {
	var message model.Message
	err := r.db.Where("conversation_id = ? AND content LIKE ?", conversationID, "%"+keyword+"%").
		Order("created_at ASC").
		First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// CountByConversation 统计会话内的消息数。
func (r *messageRepository) CountByConversation(conversationID string) (int64, error) {
	var total int64
	err := r.db.Model(&model.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&total).Error
	return total, err
}

// CountByUser 统计用户全部会话中的消息总数。
func (r *messageRepository) CountByUser(userID uint) (int64, error) {
	var total int64
	err := r.db.Model(&model.Message{}).
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("conversations.user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// Count 统计全平台的消息总数。
func (r *messageRepository) Count() (int64, error) {
	var total int64
	err := r.db.Model(&model.Message{}).Count(&total).Error
	return total, err
}

// UpdateEmbedding 更新消息的嵌入向量。
func (r *messageRepository) UpdateEmbedding(id string, embedding model.Vector) error {
	return r.db.Model(&model.Message{}).Where("id = ?", id).Update("embedding", embedding).Error
}
