// Package pipeline 定义了嵌入向量生成的后台处理流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"convoiq-go/internal/model"
	"convoiq-go/internal/repository"
	"convoiq-go/pkg/llm"
	"convoiq-go/pkg/log"
	"convoiq-go/pkg/tasks"

	"gorm.io/gorm"
)

// Processor 封装了嵌入任务处理的所有依赖和逻辑。
type Processor struct {
	conversationRepo repository.ConversationRepository
	messageRepo      repository.MessageRepository
	provider         llm.Provider
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	conversationRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	provider llm.Provider,
) *Processor {
	return &Processor{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		provider:         provider,
	}
}

// Process 是嵌入任务处理的主函数。
// 返回错误表示任务可以重试；目标缺失或后端不支持嵌入时返回 nil 直接完成任务。
func (p *Processor) Process(ctx context.Context, task tasks.EmbeddingTask) error {
	log.Infof("[Processor] 开始处理嵌入任务, TargetType: %s, TargetID: %s, UserID: %d", task.TargetType, task.TargetID, task.UserID)

	switch task.TargetType {
	case tasks.TargetConversation:
		return p.embedConversation(ctx, task.TargetID)
	case tasks.TargetMessage:
		return p.embedMessage(ctx, task.TargetID)
	default:
		log.Warnf("[Processor] 未知的任务目标类型, 跳过: %s", task.TargetType)
		return nil
	}
}

// embedConversation 为会话生成嵌入向量，向量来源是标题和摘要的拼接文本。
func (p *Processor) embedConversation(ctx context.Context, id string) error {
	// 1. 加载会话
	log.Infof("[Processor] 步骤1: 加载会话, ID: %s", id)
	conversation, err := p.conversationRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Processor] 会话不存在, 跳过任务, ID: %s", id)
			return nil
		}
		log.Errorf("[Processor] 加载会话失败, ID: %s, Error: %v", id, err)
		return fmt.Errorf("加载会话失败: %w", err)
	}

	// 2. 生成嵌入向量
	log.Info("[Processor] 步骤2: 生成会话嵌入向量")
	text := strings.TrimSpace(conversation.Title + " " + conversation.Summary)
	vector, err := p.embed(ctx, text)
	if err != nil {
		return err
	}
	if len(vector) == 0 {
		log.Warnf("[Processor] 嵌入后端未返回向量, 跳过, conversation: %s", id)
		return nil
	}

	// 3. 持久化
	log.Info("[Processor] 步骤3: 保存会话嵌入向量")
	if err := p.conversationRepo.UpdateEmbedding(id, vector); err != nil {
		log.Errorf("[Processor] 保存会话嵌入向量失败, ID: %s, Error: %v", id, err)
		return fmt.Errorf("保存会话嵌入向量失败: %w", err)
	}

	log.Infof("[Processor] 会话嵌入任务完成, ID: %s, 维度: %d", id, len(vector))
	return nil
}

// embedMessage 为单条消息的内容生成嵌入向量。
func (p *Processor) embedMessage(ctx context.Context, id string) error {
	// 1. 加载消息
	log.Infof("[Processor] 步骤1: 加载消息, ID: %s", id)
	message, err := p.messageRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Processor] 消息不存在, 跳过任务, ID: %s", id)
			return nil
		}
		log.Errorf("[Processor] 加载消息失败, ID: %s, Error: %v", id, err)
		return fmt.Errorf("加载消息失败: %w", err)
	}

	// 2. 生成嵌入向量
	log.Info("[Processor] 步骤2: 生成消息嵌入向量")
	vector, err := p.embed(ctx, message.Content)
	if err != nil {
		return err
	}
	if len(vector) == 0 {
		log.Warnf("[Processor] 嵌入后端未返回向量, 跳过, message: %s", id)
		return nil
	}

	// 3. 持久化
	log.Info("[Processor] 步骤3: 保存消息嵌入向量")
	if err := p.messageRepo.UpdateEmbedding(id, vector); err != nil {
		log.Errorf("[Processor] 保存消息嵌入向量失败, ID: %s, Error: %v", id, err)
		return fmt.Errorf("保存消息嵌入向量失败: %w", err)
	}

	log.Infof("[Processor] 消息嵌入任务完成, ID: %s, 维度: %d", id, len(vector))
	return nil
}

// embed 调用嵌入后端。空文本直接返回空向量，调用失败返回错误触发重试。
func (p *Processor) embed(ctx context.Context, text string) (model.Vector, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	vector, err := p.provider.Embed(ctx, text)
	if err != nil {
		log.Errorf("[Processor] 生成嵌入向量失败, Error: %v", err)
		return nil, fmt.Errorf("生成嵌入向量失败: %w", err)
	}
	return vector, nil
}
