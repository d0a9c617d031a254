package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"convoiq-go/internal/model"
	"convoiq-go/internal/repository"
	"convoiq-go/pkg/log"
	"convoiq-go/pkg/tasks"

	"gorm.io/gorm"
)

// 会话列表的分页参数。
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// EmbeddingTaskProducer 将嵌入任务投递到消息队列。
type EmbeddingTaskProducer func(task tasks.EmbeddingTask) error

// ConversationListItem 是会话在列表与统计场景下的精简视图。
type ConversationListItem struct {
	ID            string           `json:"id"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	Status        string           `json:"status"`
	StatusDisplay string           `json:"status_display"`
	StartedAt     model.LocalTime  `json:"started_at"`
	EndedAt       *model.LocalTime `json:"ended_at"`
	MessageCount  int64            `json:"message_count"`
	Sentiment     string           `json:"sentiment"`
	Duration      int              `json:"duration"`
}

// ConversationDetail 是单个会话的完整视图，包含全部消息。
type ConversationDetail struct {
	ID            string           `json:"id"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	Status        string           `json:"status"`
	StatusDisplay string           `json:"status_display"`
	StartedAt     model.LocalTime  `json:"started_at"`
	EndedAt       *model.LocalTime `json:"ended_at"`
	Summary       string           `json:"summary"`
	KeyPoints     []string         `json:"key_points"`
	Sentiment     string           `json:"sentiment"`
	Duration      int              `json:"duration"`
	Messages      []MessageItem    `json:"messages"`
	MessageCount  int64            `json:"message_count"`
}

// MessageItem 是消息的对外视图。
type MessageItem struct {
	ID            string          `json:"id"`
	Conversation  string          `json:"conversation"`
	Sender        string          `json:"sender"`
	SenderDisplay string          `json:"sender_display"`
	Content       string          `json:"content"`
	Metadata      model.JSONMap   `json:"metadata"`
	TokensUsed    int             `json:"tokens_used"`
	CreatedAt     model.LocalTime `json:"created_at"`
}

// ConversationListResponse 是会话列表的分页响应。
type ConversationListResponse struct {
	Content       []ConversationListItem `json:"content"`
	TotalElements int64                  `json:"totalElements"`
	TotalPages    int                    `json:"totalPages"`
	Size          int                    `json:"size"`
	Number        int                    `json:"number"`
}

// MessageListResponse 是消息列表的分页响应。
type MessageListResponse struct {
	Content       []MessageItem `json:"content"`
	TotalElements int64         `json:"totalElements"`
	TotalPages    int           `json:"totalPages"`
	Size          int           `json:"size"`
	Number        int           `json:"number"`
}

// SendMessageResult 保存一次发消息产生的用户消息和 AI 回复。
type SendMessageResult struct {
	UserMessage MessageItem `json:"user_message"`
	AIMessage   MessageItem `json:"ai_message"`
}

// ConversationService 定义了会话生命周期管理的接口。
type ConversationService interface {
	// Create 为用户创建一个新会话。
	Create(user *model.User, title, description string) (*ConversationDetail, error)
	// List 分页查询用户的会话，支持按状态过滤和关键词搜索。
	List(user *model.User, status, search string, page, pageSize int) (*ConversationListResponse, error)
	// Get 返回单个会话的完整视图。
	Get(user *model.User, id string) (*ConversationDetail, error)
	// Update 更新会话的可编辑字段，传 nil 的字段保持不变。
	Update(user *model.User, id string, title, description, status *string) (*ConversationListItem, error)
	// Delete 删除会话及其全部消息和分析。
	Delete(user *model.User, id string) error
	// End 结束会话，按需生成摘要与分析，并投递嵌入任务。
	End(ctx context.Context, user *model.User, id string, generateSummary bool) (*ConversationDetail, error)
	// SendMessage 保存用户消息并生成 AI 回复。
	SendMessage(ctx context.Context, user *model.User, id, content, clientIP string) (*SendMessageResult, error)
	// Messages 分页查询会话内的消息。
	Messages(user *model.User, id string, page, pageSize int) (*MessageListResponse, error)
}

type conversationService struct {
	conversationRepo repository.ConversationRepository
	messageRepo      repository.MessageRepository
	chatService      ChatService
	summarizer       SummarizerService
	queryService     QueryService
	produceTask      EmbeddingTaskProducer
}

// NewConversationService 创建一个新的 ConversationService 实例。
func NewConversationService(
	conversationRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	chatService ChatService,
	summarizer SummarizerService,
	queryService QueryService,
	produceTask EmbeddingTaskProducer,
) ConversationService {
	return &conversationService{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		chatService:      chatService,
		summarizer:       summarizer,
		queryService:     queryService,
		produceTask:      produceTask,
	}
}

// Create 为用户创建一个新会话，初始状态为 active。
func (s *conversationService) Create(user *model.User, title, description string) (*ConversationDetail, error) {
	conversation := &model.Conversation{
		UserID:      user.ID,
		Title:       title,
		Description: description,
		Status:      model.ConversationStatusActive,
	}
	if err := s.conversationRepo.Create(conversation); err != nil {
		log.Errorf("[ConversationService] 创建会话失败, user: %d, error: %v", user.ID, err)
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	log.Infof("[ConversationService] 会话已创建: %s, user: %s", conversation.ID, user.Username)
	return s.toDetail(conversation)
}

// List 分页查询用户的会话。
func (s *conversationService) List(user *model.User, status, search string, page, pageSize int) (*ConversationListResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	offset := (page - 1) * pageSize

	conversations, total, err := s.conversationRepo.FindByUser(user.ID, status, search, offset, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	items := make([]ConversationListItem, 0, len(conversations))
	for i := range conversations {
		count, err := s.messageRepo.CountByConversation(conversations[i].ID)
		if err != nil {
			log.Warnf("[ConversationService] 统计消息数失败, conversation: %s, error: %v", conversations[i].ID, err)
		}
		items = append(items, toConversationListItem(&conversations[i], count))
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return &ConversationListResponse{
		Content:       items,
		TotalElements: total,
		TotalPages:    totalPages,
		Size:          pageSize,
		Number:        page,
	}, nil
}

// Get 返回单个会话的完整视图。
func (s *conversationService) Get(user *model.User, id string) (*ConversationDetail, error) {
	conversation, err := s.findOwned(id, user.ID)
	if err != nil {
		return nil, err
	}
	return s.toDetail(conversation)
}

// Update 更新会话的可编辑字段。
func (s *conversationService) Update(user *model.User, id string, title, description, status *string) (*ConversationListItem, error) {
	conversation, err := s.findOwned(id, user.ID)
	if err != nil {
		return nil, err
	}

	if title != nil {
		conversation.Title = *title
	}
	if description != nil {
		conversation.Description = *description
	}
	if status != nil {
		switch *status {
		case model.ConversationStatusActive, model.ConversationStatusEnded, model.ConversationStatusArchived:
			conversation.Status = *status
		default:
			return nil, ErrInvalidStatus
		}
	}

	if err := s.conversationRepo.Save(conversation); err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}

	count, err := s.messageRepo.CountByConversation(conversation.ID)
	if err != nil {
		log.Warnf("[ConversationService] 统计消息数失败, conversation: %s, error: %v", conversation.ID, err)
	}
	item := toConversationListItem(conversation, count)
	return &item, nil
}

// Delete 删除会话及其全部消息和分析。
func (s *conversationService) Delete(user *model.User, id string) error {
	conversation, err := s.findOwned(id, user.ID)
	if err != nil {
		return err
	}

	if err := s.conversationRepo.Delete(conversation.ID); err != nil {
		log.Errorf("[ConversationService] 删除会话失败, conversation: %s, error: %v", conversation.ID, err)
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	log.Infof("[ConversationService] 会话已删除: %s", conversation.ID)
	return nil
}

// End 结束会话。
// 结束后按需生成摘要与分析，无论是否生成摘要都会投递会话嵌入任务。
func (s *conversationService) End(ctx context.Context, user *model.User, id string, generateSummary bool) (*ConversationDetail, error) {
	conversation, err := s.findOwned(id, user.ID)
	if err != nil {
		return nil, err
	}
	if !conversation.IsActive() {
		return nil, ErrConversationEnded
	}

	// 1. 结束会话并计算时长
	conversation.End()
	if err := s.conversationRepo.Save(conversation); err != nil {
		return nil, fmt.Errorf("failed to end conversation: %w", err)
	}
	log.Infof("[ConversationService] 会话已结束: %s, 时长 %d 秒", conversation.ID, conversation.Duration)

	// 2. 生成摘要与分析
	if generateSummary {
		messages, err := s.messageRepo.FindAllByConversation(conversation.ID)
		var result SummaryResult
		if err != nil {
			log.Errorf("[ConversationService] 加载会话消息失败, conversation: %s, error: %v", conversation.ID, err)
			result = SummaryResult{Summary: "Failed to generate summary.", KeyPoints: []string{}, Sentiment: "neutral"}
		} else {
			result = s.summarizer.Summarize(ctx, messages)
		}

		conversation.Summary = result.Summary
		conversation.KeyPoints = result.KeyPoints
		conversation.Sentiment = result.Sentiment
		if err := s.conversationRepo.Save(conversation); err != nil {
			return nil, fmt.Errorf("failed to save summary: %w", err)
		}

		// 分析失败不影响结束流程
		if _, err := s.queryService.AnalyzeConversation(ctx, conversation); err != nil {
			log.Errorf("[ConversationService] 会话分析失败, conversation: %s, error: %v", conversation.ID, err)
		}
	}

	// 3. 投递会话嵌入任务
	s.queueEmbedding(tasks.TargetConversation, conversation.ID, user.ID)

	return s.toDetail(conversation)
}

// SendMessage 保存用户消息，生成并保存 AI 回复。
func (s *conversationService) SendMessage(ctx context.Context, user *model.User, id, content, clientIP string) (*SendMessageResult, error) {
	conversation, err := s.findOwned(id, user.ID)
	if err != nil {
		return nil, err
	}
	if !conversation.IsActive() {
		return nil, ErrConversationNotActive
	}

	// 1. 保存用户消息
	userMessage := &model.Message{
		ConversationID: conversation.ID,
		Sender:         model.SenderUser,
		Content:        content,
		Metadata:       model.JSONMap{"ip": clientIP},
	}
	if err := s.messageRepo.Create(userMessage); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}
	s.queueEmbedding(tasks.TargetMessage, userMessage.ID, user.ID)

	// 2. 生成 AI 回复
	reply := s.chatService.Respond(ctx, conversation.ID, content)

	// 3. 保存 AI 消息，记录使用的模型
	aiMessage := &model.Message{
		ConversationID: conversation.ID,
		Sender:         model.SenderAI,
		Content:        reply,
		Metadata:       model.JSONMap{"model": s.chatService.ModelName()},
	}
	if err := s.messageRepo.Create(aiMessage); err != nil {
		return nil, fmt.Errorf("failed to save ai message: %w", err)
	}
	s.queueEmbedding(tasks.TargetMessage, aiMessage.ID, user.ID)

	log.Infof("[ConversationService] 消息已发送, conversation: %s", conversation.ID)
	return &SendMessageResult{
		UserMessage: toMessageItem(userMessage),
		AIMessage:   toMessageItem(aiMessage),
	}, nil
}

// Messages 分页查询会话内的消息，按时间升序返回。
func (s *conversationService) Messages(user *model.User, id string, page, pageSize int) (*MessageListResponse, error) {
	conversation, err := s.findOwned(id, user.ID)
	if err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	offset := (page - 1) * pageSize

	messages, total, err := s.messageRepo.FindByConversation(conversation.ID, offset, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	items := make([]MessageItem, 0, len(messages))
	for i := range messages {
		items = append(items, toMessageItem(&messages[i]))
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return &MessageListResponse{
		Content:       items,
		TotalElements: total,
		TotalPages:    totalPages,
		Size:          pageSize,
		Number:        page,
	}, nil
}

// findOwned 查找属于指定用户的会话，不存在或不属于该用户时返回 ErrConversationNotFound。
func (s *conversationService) findOwned(id string, userID uint) (*model.Conversation, error) {
	conversation, err := s.conversationRepo.FindByIDForUser(id, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return conversation, nil
}

// queueEmbedding 投递嵌入任务，失败时只记日志。
func (s *conversationService) queueEmbedding(targetType, targetID string, userID uint) {
	if s.produceTask == nil {
		return
	}
	task := tasks.EmbeddingTask{TargetType: targetType, TargetID: targetID, UserID: userID}
	if err := s.produceTask(task); err != nil {
		log.Errorf("[ConversationService] 投递嵌入任务失败, type: %s, id: %s, error: %v", targetType, targetID, err)
	}
}

// toDetail 组装会话的完整视图。
func (s *conversationService) toDetail(conversation *model.Conversation) (*ConversationDetail, error) {
	messages, err := s.messageRepo.FindAllByConversation(conversation.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	items := make([]MessageItem, 0, len(messages))
	for i := range messages {
		items = append(items, toMessageItem(&messages[i]))
	}

	keyPoints := conversation.KeyPoints
	if keyPoints == nil {
		keyPoints = []string{}
	}

	return &ConversationDetail{
		ID:            conversation.ID,
		Title:         conversation.Title,
		Description:   conversation.Description,
		Status:        conversation.Status,
		StatusDisplay: conversation.StatusDisplay(),
		StartedAt:     model.LocalTime(conversation.StartedAt),
		EndedAt:       toLocalTimePtr(conversation.EndedAt),
		Summary:       conversation.Summary,
		KeyPoints:     keyPoints,
		Sentiment:     conversation.Sentiment,
		Duration:      conversation.Duration,
		Messages:      items,
		MessageCount:  int64(len(items)),
	}, nil
}

// toConversationListItem 组装会话的精简视图。
func toConversationListItem(conversation *model.Conversation, messageCount int64) ConversationListItem {
	return ConversationListItem{
		ID:            conversation.ID,
		Title:         conversation.Title,
		Description:   conversation.Description,
		Status:        conversation.Status,
		StatusDisplay: conversation.StatusDisplay(),
		StartedAt:     model.LocalTime(conversation.StartedAt),
		EndedAt:       toLocalTimePtr(conversation.EndedAt),
		MessageCount:  messageCount,
		Sentiment:     conversation.Sentiment,
		Duration:      conversation.Duration,
	}
}

// toMessageItem 组装消息的对外视图。
func toMessageItem(message *model.Message) MessageItem {
	metadata := message.Metadata
	if metadata == nil {
		metadata = model.JSONMap{}
	}
	return MessageItem{
		ID:            message.ID,
		Conversation:  message.ConversationID,
		Sender:        message.Sender,
		SenderDisplay: message.SenderDisplay(),
		Content:       message.Content,
		Metadata:      metadata,
		TokensUsed:    message.TokensUsed,
		CreatedAt:     model.LocalTime(message.CreatedAt),
	}
}

func toLocalTimePtr(t *time.Time) *model.LocalTime {
	if t == nil {
		return nil
	}
	lt := model.LocalTime(*t)
	return &lt
}
