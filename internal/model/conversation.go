// Package model 包含了应用的数据模型定义。
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 会话状态常量
const (
	ConversationStatusActive   = "active"
	ConversationStatusEnded    = "ended"
	ConversationStatusArchived = "archived"
)

// Conversation 代表用户与 AI 之间的一次完整会话。
// 会话结束后由摘要流水线填充 Summary、KeyPoints 和 Sentiment。
type Conversation struct {
	ID          string     `gorm:"type:char(36);primaryKey" json:"id"`
	UserID      uint       `gorm:"index;not null" json:"user_id"`
	Title       string     `gorm:"type:varchar(255);index;not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Status      string     `gorm:"type:varchar(20);default:active" json:"status"`
	StartedAt   time.Time  `gorm:"autoCreateTime;index" json:"started_at"`
	EndedAt     *time.Time `json:"ended_at"`
	Summary     string     `gorm:"type:text" json:"summary"`
	KeyPoints   StringList `gorm:"type:json" json:"key_points"`
	Sentiment   string     `gorm:"type:varchar(20)" json:"sentiment"`
	Duration    int        `json:"duration"` // 会话时长，单位秒
	Embedding   Vector     `gorm:"type:json" json:"-"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// IsActive 判断会话是否处于进行中状态。
func (c *Conversation) IsActive() bool {
	return c.Status == ConversationStatusActive
}

// StatusDisplay 返回状态的展示名称。
func (c *Conversation) StatusDisplay() string {
	switch c.Status {
	case ConversationStatusActive:
		return "Active"
	case ConversationStatusEnded:
		return "Ended"
	case ConversationStatusArchived:
		return "Archived"
	}
	return c.Status
}

// End 将进行中的会话标记为已结束，并计算会话时长。
// 只修改内存中的字段，持久化由调用方负责。
func (c *Conversation) End() {
	if c.Status != ConversationStatusActive {
		return
	}
	now := time.Now()
	c.Status = ConversationStatusEnded
	c.EndedAt = &now
	if !c.StartedAt.IsZero() {
		c.Duration = int(now.Sub(c.StartedAt).Seconds())
	}
}
