// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"strings"

	"convoiq-go/internal/model"
	"convoiq-go/internal/repository"
	"convoiq-go/pkg/llm"
	"convoiq-go/pkg/log"
)

// 聊天上下文与系统提示词的固定参数。
const (
	maxContextMessages = 20
	chatSystemPrompt   = "You are a helpful AI assistant. Provide clear, concise, and helpful responses."
)

// questionKeywords 用于识别提问类消息，决定降级回复的措辞。
var questionKeywords = []string{
	"what", "how", "why", "when", "where", "who",
	"which", "can", "could", "would", "help",
}

// ChatService 定义了 AI 聊天回复的接口。
type ChatService interface {
	// Respond 为用户消息生成 AI 回复，模型不可用时返回降级回复。
	Respond(ctx context.Context, conversationID, userMessage string) string
	// ModelName 返回当前聊天模型名，写入 AI 消息的元数据。
	ModelName() string
}

type chatService struct {
	messageRepo repository.MessageRepository
	provider    llm.Provider
	modelName   string
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(messageRepo repository.MessageRepository, provider llm.Provider, modelName string) ChatService {
	return &chatService{
		messageRepo: messageRepo,
		provider:    provider,
		modelName:   modelName,
	}
}

func (s *chatService) ModelName() string {
	return s.modelName
}

// Respond 为用户消息生成 AI 回复。
// 调用失败时返回降级回复而不是错误，保证用户总能收到响应。
func (s *chatService) Respond(ctx context.Context, conversationID, userMessage string) string {
	messages := s.composeMessages(conversationID, userMessage)

	reply, err := s.provider.Chat(ctx, messages)
	if err != nil {
		log.Errorf("[ChatService] 获取 AI 回复失败, conversation: %s, error: %v", conversationID, err)
		return fallbackResponse(userMessage)
	}

	log.Infof("[ChatService] AI 回复生成成功, conversation: %s", conversationID)
	return reply
}

// composeMessages 构建发给模型的消息序列：system 提示词、最近的历史消息、当前用户消息。
func (s *chatService) composeMessages(conversationID, userMessage string) []llm.Message {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: chatSystemPrompt}}

	recent, err := s.messageRepo.FindRecent(conversationID, maxContextMessages)
	if err != nil {
		log.Warnf("[ChatService] 加载历史消息失败, conversation: %s, error: %v", conversationID, err)
		recent = nil
	}

	// FindRecent 按时间倒序返回，反转为对话原始顺序
	for i := len(recent) - 1; i >= 0; i-- {
		role := llm.RoleUser
		if recent[i].Sender == model.SenderAI {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: recent[i].Content})
	}

	return append(messages, llm.Message{Role: llm.RoleUser, Content: userMessage})
}

// fallbackResponse 在模型不可用时生成降级回复，提问类消息会带上问题摘录。
func fallbackResponse(userMessage string) string {
	lower := strings.ToLower(userMessage)
	for _, keyword := range questionKeywords {
		if strings.Contains(lower, keyword) {
			excerpt := []rune(userMessage)
			if len(excerpt) > 50 {
				excerpt = excerpt[:50]
			}
			return fmt.Sprintf("I appreciate your question about '%s...'. Unfortunately, I'm currently experiencing temporary service issues. Please try again in a moment.", string(excerpt))
		}
	}
	return "Thank you for your message. I'm temporarily unavailable, but I've recorded your message. Please try again shortly."
}
