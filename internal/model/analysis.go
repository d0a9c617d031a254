package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversationAnalysis 保存对单个会话的深度分析结果，与会话一一对应。
type ConversationAnalysis struct {
	ID              string     `gorm:"type:char(36);primaryKey" json:"id"`
	ConversationID  string     `gorm:"type:char(36);uniqueIndex;not null" json:"conversation_id"`
	Topics          StringList `gorm:"type:json" json:"topics"`
	Entities        StringList `gorm:"type:json" json:"entities"`
	Intent          string     `gorm:"type:varchar(100)" json:"intent"`
	Keywords        StringList `gorm:"type:json" json:"keywords"`
	SentimentScores ScoreMap   `gorm:"type:json" json:"sentiment_scores"`
	ActionItems     StringList `gorm:"type:json" json:"action_items"`
	QuestionsAsked  StringList `gorm:"type:json" json:"questions_asked"`
	AnalyzedAt      time.Time  `gorm:"autoCreateTime" json:"analyzed_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ConversationAnalysis) TableName() string {
	return "conversation_analyses"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (a *ConversationAnalysis) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
