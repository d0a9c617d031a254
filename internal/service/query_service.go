package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"convoiq-go/internal/model"
	"convoiq-go/internal/repository"
	"convoiq-go/pkg/llm"
	"convoiq-go/pkg/log"

	"gorm.io/gorm"
)

// 语义搜索的固定参数。
const (
	// similarityThreshold 是语义命中的最低余弦相似度，必须严格大于该值。
	similarityThreshold = 0.5
	// keywordFallbackScore 是关键词搜索结果的固定相似度分数。
	keywordFallbackScore = 0.5
	// excerptMaxRunes 是消息摘录的最大长度。
	excerptMaxRunes = 150
	// recentConversationCount 是统计页展示的最近会话数量。
	recentConversationCount = 5
)

// 智能问答与会话分析的提示词。
const (
	answerSystemPrompt = "Answer the user's question about their past conversations based on the provided context."
	topicsPrompt       = "Extract main topics from the conversation. Return as JSON array of strings."
	entitiesPrompt     = "Extract important named entities (people, places, organizations) from the conversation. Return as JSON array."
	actionItemsPrompt  = "Extract action items or tasks mentioned in the conversation. Return as JSON array."
)

// SearchResult 是语义搜索的单条中间结果。
type SearchResult struct {
	Conversation *model.Conversation
	Similarity   float64
	Excerpt      string
}

// RelevantConversation 是智能查询响应中的单条相关会话。
type RelevantConversation struct {
	Conversation    ConversationListItem `json:"conversation"`
	SimilarityScore float64              `json:"similarity_score"`
	Excerpt         string               `json:"excerpt"`
	MessageCount    int64                `json:"message_count"`
}

// QueryResponse 是智能查询的完整响应。
type QueryResponse struct {
	Query                 string                 `json:"query"`
	AIResponse            string                 `json:"ai_response"`
	RelevantConversations []RelevantConversation `json:"relevant_conversations"`
	ResultsCount          int                    `json:"results_count"`
	ExecutionTime         float64                `json:"execution_time"`
}

// AnalyticsResponse 是会话统计页的完整响应。
type AnalyticsResponse struct {
	TotalConversations             int64                  `json:"total_conversations"`
	ActiveConversations            int64                  `json:"active_conversations"`
	EndedConversations             int64                  `json:"ended_conversations"`
	TotalMessages                  int64                  `json:"total_messages"`
	AverageMessagesPerConversation float64                `json:"average_messages_per_conversation"`
	SentimentDistribution          map[string]int64       `json:"sentiment_distribution"`
	RecentConversations            []ConversationListItem `json:"recent_conversations"`
}

// QueryService 定义了跨会话智能查询的接口。
type QueryService interface {
	// Query 执行一次完整的智能查询：检索、生成回答、记录审计。
	Query(ctx context.Context, user *model.User, query string, dateFrom, dateTo *time.Time, limit int) *QueryResponse
	// SearchConversations 按语义相似度检索会话，向量不可用时退回关键词搜索。
	SearchConversations(ctx context.Context, user *model.User, query string, dateFrom, dateTo *time.Time, limit int) []SearchResult
	// GenerateAnswer 基于检索结果生成回答。
	GenerateAnswer(ctx context.Context, query string, results []SearchResult) string
	// AnalyzeConversation 对单个会话做主题、实体和行动项分析并持久化。
	AnalyzeConversation(ctx context.Context, conversation *model.Conversation) (*model.ConversationAnalysis, error)
	// GetAnalytics 汇总用户的会话统计数据。
	GetAnalytics(user *model.User) (*AnalyticsResponse, error)
}

type queryService struct {
	conversationRepo repository.ConversationRepository
	messageRepo      repository.MessageRepository
	analysisRepo     repository.AnalysisRepository
	searchQueryRepo  repository.SearchQueryRepository
	embeddingService EmbeddingService
	provider         llm.Provider
}

// NewQueryService 创建一个新的 QueryService 实例。
func NewQueryService(
	conversationRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	analysisRepo repository.AnalysisRepository,
	searchQueryRepo repository.SearchQueryRepository,
	embeddingService EmbeddingService,
	provider llm.Provider,
) QueryService {
	return &queryService{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		analysisRepo:     analysisRepo,
		searchQueryRepo:  searchQueryRepo,
		embeddingService: embeddingService,
		provider:         provider,
	}
}

// Query 执行一次完整的智能查询。
// 检索和回答都有降级路径，本方法总是返回一个可用的响应。
func (s *queryService) Query(ctx context.Context, user *model.User, query string, dateFrom, dateTo *time.Time, limit int) *QueryResponse {
	log.Infof("[QueryService] 开始执行智能查询, query: '%s', user: %s", query, user.Username)
	start := time.Now()

	// 1. 检索相关会话
	log.Info("[QueryService] 步骤1: 检索相关会话")
	results := s.SearchConversations(ctx, user, query, dateFrom, dateTo, limit)

	// 2. 基于检索结果生成回答
	log.Info("[QueryService] 步骤2: 生成 AI 回答")
	answer := s.GenerateAnswer(ctx, query, results)

	// 3. 组装响应
	log.Info("[QueryService] 步骤3: 组装响应")
	relevant := make([]RelevantConversation, 0, len(results))
	for _, result := range results {
		count, err := s.messageRepo.CountByConversation(result.Conversation.ID)
		if err != nil {
			log.Warnf("[QueryService] 统计消息数失败, conversation: %s, error: %v", result.Conversation.ID, err)
		}
		relevant = append(relevant, RelevantConversation{
			Conversation:    toConversationListItem(result.Conversation, count),
			SimilarityScore: result.Similarity,
			Excerpt:         result.Excerpt,
			MessageCount:    count,
		})
	}
	executionTime := time.Since(start).Seconds()

	// 4. 记录查询审计，失败时只记日志不影响本次查询
	record := &model.SearchQuery{
		UserID:        user.ID,
		QueryText:     query,
		ResultsCount:  len(results),
		ExecutionTime: executionTime,
	}
	if err := s.searchQueryRepo.Create(record); err != nil {
		log.Errorf("[QueryService] 记录查询审计失败: %v", err)
	}

	log.Infof("[QueryService] 智能查询完成, 命中 %d 条, 耗时 %.3fs", len(results), executionTime)
	return &QueryResponse{
		Query:                 query,
		AIResponse:            answer,
		RelevantConversations: relevant,
		ResultsCount:          len(results),
		ExecutionTime:         executionTime,
	}
}

// SearchConversations 按语义相似度检索用户的会话。
// 查询向量不可用或候选加载失败时整体退回关键词搜索。
func (s *queryService) SearchConversations(ctx context.Context, user *model.User, query string, dateFrom, dateTo *time.Time, limit int) []SearchResult {
	queryEmbedding := s.embeddingService.Generate(ctx, query)
	if len(queryEmbedding) == 0 {
		log.Warnf("[QueryService] 查询向量不可用, 退回关键词搜索, query: '%s'", query)
		return s.keywordSearch(user, query, dateFrom, dateTo, limit)
	}

	candidates, err := s.conversationRepo.FindCandidates(user.ID, dateFrom, dateTo)
	if err != nil {
		log.Errorf("[QueryService] 加载候选会话失败: %v", err)
		return s.keywordSearch(user, query, dateFrom, dateTo, limit)
	}

	// 逐个计算余弦相似度，没有嵌入的会话直接跳过
	results := make([]SearchResult, 0)
	for i := range candidates {
		conversation := &candidates[i]
		if len(conversation.Embedding) == 0 {
			continue
		}
		similarity := s.embeddingService.Similarity(queryEmbedding, conversation.Embedding)
		if similarity > similarityThreshold {
			excerpt := conversation.Summary
			if excerpt == "" {
				excerpt = "No summary available"
			}
			results = append(results, SearchResult{
				Conversation: conversation,
				Similarity:   similarity,
				Excerpt:      excerpt,
			})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// keywordSearch 在会话标题和消息内容中做关键词匹配，所有命中使用固定分数。
func (s *queryService) keywordSearch(user *model.User, query string, dateFrom, dateTo *time.Time, limit int) []SearchResult {
	conversations, err := s.conversationRepo.SearchByKeyword(user.ID, query, dateFrom, dateTo, limit)
	if err != nil {
		log.Errorf("[QueryService] 关键词搜索失败: %v", err)
		return []SearchResult{}
	}

	results := make([]SearchResult, 0, len(conversations))
	for i := range conversations {
		conversation := &conversations[i]
		excerpt := conversation.Summary
		if excerpt == "" {
			excerpt = s.extractExcerpt(conversation, query)
		}
		results = append(results, SearchResult{
			Conversation: conversation,
			Similarity:   keywordFallbackScore,
			Excerpt:      excerpt,
		})
	}
	return results
}

// extractExcerpt 从会话中截取第一条包含关键词的消息作为摘录。
func (s *queryService) extractExcerpt(conversation *model.Conversation, query string) string {
	message, err := s.messageRepo.FindFirstMatching(conversation.ID, query)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[QueryService] 提取摘录失败, conversation: %s, error: %v", conversation.ID, err)
		}
		if conversation.Summary != "" {
			return conversation.Summary
		}
		return "No summary available"
	}

	content := []rune(message.Content)
	if len(content) > excerptMaxRunes {
		return string(content[:excerptMaxRunes]) + "..."
	}
	return message.Content
}

// GenerateAnswer 基于检索到的会话上下文回答用户的问题。
// 没有检索结果或模型不可用时返回固定文案。
func (s *queryService) GenerateAnswer(ctx context.Context, query string, results []SearchResult) string {
	if len(results) == 0 {
		return "No relevant conversations found for your query."
	}

	contextText := buildQueryContext(results)
	reply, err := s.provider.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: answerSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Context from past conversations:\n%s\n\nQuestion: %s", contextText, query)},
	})
	if err != nil {
		log.Errorf("[QueryService] 生成回答失败: %v", err)
		return "Unable to generate response. Please try again."
	}
	return reply
}

// buildQueryContext 将检索结果拼接成提供给模型的上下文。
func buildQueryContext(results []SearchResult) string {
	var sb strings.Builder
	for i, result := range results {
		conversation := result.Conversation
		sb.WriteString(fmt.Sprintf("\nConversation %d: %s\n", i+1, conversation.Title))
		sb.WriteString(fmt.Sprintf("Date: %s\n", conversation.StartedAt.Format(model.DateMinuteFormat)))
		sb.WriteString(fmt.Sprintf("Summary: %s\n", conversation.Summary))
		sb.WriteString(fmt.Sprintf("Sentiment: %s\n", conversation.Sentiment))
	}
	return sb.String()
}

// AnalyzeConversation 对单个会话做主题、实体和行动项分析并持久化结果。
// 每个会话只保留一份分析，重复分析会覆盖旧结果。
func (s *queryService) AnalyzeConversation(ctx context.Context, conversation *model.Conversation) (*model.ConversationAnalysis, error) {
	log.Infof("[QueryService] 开始分析会话: %s", conversation.ID)

	messages, err := s.messageRepo.FindAllByConversation(conversation.ID)
	if err != nil {
		log.Errorf("[QueryService] 加载会话消息失败, conversation: %s, error: %v", conversation.ID, err)
		messages = nil
	}

	lines := make([]string, 0, len(messages))
	for i := range messages {
		lines = append(lines, messages[i].SenderDisplay()+": "+messages[i].Content)
	}
	text := strings.Join(lines, "\n")

	topics := s.extractList(ctx, topicsPrompt, text)
	entities := s.extractList(ctx, entitiesPrompt, text)
	actionItems := s.extractList(ctx, actionItemsPrompt, text)

	// 用户消息中带问号的内容视为提问
	questions := make([]string, 0)
	for i := range messages {
		if messages[i].Sender == model.SenderUser && strings.Contains(messages[i].Content, "?") {
			questions = append(questions, messages[i].Content)
		}
	}

	keywords := topics
	if len(keywords) > 5 {
		keywords = keywords[:5]
	}

	analysis := &model.ConversationAnalysis{
		ConversationID:  conversation.ID,
		Topics:          topics,
		Entities:        entities,
		Keywords:        keywords,
		ActionItems:     actionItems,
		QuestionsAsked:  questions,
		Intent:          "general_conversation",
		SentimentScores: model.ScoreMap{"overall": 0.5},
	}
	if err := s.analysisRepo.Upsert(analysis); err != nil {
		log.Errorf("[QueryService] 保存会话分析失败, conversation: %s, error: %v", conversation.ID, err)
		return nil, fmt.Errorf("failed to save analysis: %w", err)
	}

	log.Infof("[QueryService] 会话分析完成: %s", conversation.ID)
	return analysis, nil
}

// extractList 让模型从会话文本中提取一个列表，解析失败时按逗号拆分。
func (s *queryService) extractList(ctx context.Context, prompt, text string) []string {
	reply, err := s.provider.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: prompt},
		{Role: llm.RoleUser, Content: "Conversation:\n" + text},
	})
	if err != nil {
		log.Errorf("[QueryService] 提取列表失败: %v", err)
		return []string{}
	}
	return parseListReply(reply, ",")
}

// GetAnalytics 汇总用户的会话统计数据。
func (s *queryService) GetAnalytics(user *model.User) (*AnalyticsResponse, error) {
	total, err := s.conversationRepo.CountByUser(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}
	active, err := s.conversationRepo.CountByUserAndStatus(user.ID, model.ConversationStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to count active conversations: %w", err)
	}
	ended, err := s.conversationRepo.CountByUserAndStatus(user.ID, model.ConversationStatusEnded)
	if err != nil {
		return nil, fmt.Errorf("failed to count ended conversations: %w", err)
	}
	totalMessages, err := s.messageRepo.CountByUser(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	// 情感分布固定包含四个标签，库里出现的其他标签原样计入
	distribution := map[string]int64{"positive": 0, "neutral": 0, "negative": 0, "mixed": 0}
	counts, err := s.conversationRepo.SentimentCounts(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count sentiments: %w", err)
	}
	for sentiment, count := range counts {
		distribution[sentiment] = count
	}

	recent, err := s.conversationRepo.FindRecentByUser(user.ID, recentConversationCount)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent conversations: %w", err)
	}
	recentItems := make([]ConversationListItem, 0, len(recent))
	for i := range recent {
		count, err := s.messageRepo.CountByConversation(recent[i].ID)
		if err != nil {
			log.Warnf("[QueryService] 统计消息数失败, conversation: %s, error: %v", recent[i].ID, err)
		}
		recentItems = append(recentItems, toConversationListItem(&recent[i], count))
	}

	denominator := total
	if denominator < 1 {
		denominator = 1
	}

	return &AnalyticsResponse{
		TotalConversations:             total,
		ActiveConversations:            active,
		EndedConversations:             ended,
		TotalMessages:                  totalMessages,
		AverageMessagesPerConversation: float64(totalMessages) / float64(denominator),
		SentimentDistribution:          distribution,
		RecentConversations:            recentItems,
	}, nil
}
