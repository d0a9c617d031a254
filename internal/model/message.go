package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 消息发送方常量
const (
	SenderUser = "user"
	SenderAI   = "ai"
)

// Message 代表会话中的一条消息。
type Message struct {
	ID             string    `gorm:"type:char(36);primaryKey" json:"id"`
	ConversationID string    `gorm:"type:char(36);index;not null" json:"conversation_id"`
	Sender         string    `gorm:"type:varchar(10);not null" json:"sender"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	Metadata       JSONMap   `gorm:"type:json" json:"metadata"`
	Embedding      Vector    `gorm:"type:json" json:"-"`
	TokensUsed     int       `gorm:"default:0" json:"tokens_used"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// SenderDisplay 返回发送方的展示名称，用于拼接会话文本。
func (m *Message) SenderDisplay() string {
	if m.Sender == SenderAI {
		return "AI Assistant"
	}
	return "User"
}
