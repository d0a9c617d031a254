package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"convoiq-go/internal/model"
	"convoiq-go/pkg/llm"
	"convoiq-go/pkg/log"
)

// 摘要流水线的提示词。
const (
	summaryPrompt   = "Summarize the following conversation in 2-3 sentences."
	keyPointsPrompt = "Extract 3-5 key points from the conversation. Return as JSON array of strings."
	sentimentPrompt = "Analyze the sentiment of this conversation. Respond with one word: positive, negative, neutral, or mixed."
)

// validSentiments 是情感标签的合法取值，模型回复超出范围时回退到 neutral。
var validSentiments = []string{"positive", "negative", "neutral", "mixed"}

// SummaryResult 保存一次摘要流水线的完整输出。
type SummaryResult struct {
	Summary   string
	KeyPoints []string
	Sentiment string
}

// SummarizerService 定义了会话摘要的接口。
type SummarizerService interface {
	Summarize(ctx context.Context, messages []model.Message) SummaryResult
}

type summarizerService struct {
	provider llm.Provider
}

// NewSummarizerService 创建一个新的 SummarizerService 实例。
func NewSummarizerService(provider llm.Provider) SummarizerService {
	return &summarizerService{provider: provider}
}

// Summarize 为一段会话生成摘要、要点和情感标签。
// 三个步骤相互独立，任何一步失败都只使用该步骤的默认值，不影响其他步骤。
func (s *summarizerService) Summarize(ctx context.Context, messages []model.Message) SummaryResult {
	if len(messages) == 0 {
		return SummaryResult{
			Summary:   "No messages in conversation.",
			KeyPoints: []string{},
			Sentiment: "neutral",
		}
	}

	text := buildConversationText(messages)
	return SummaryResult{
		Summary:   s.generateSummary(ctx, text),
		KeyPoints: s.extractKeyPoints(ctx, text),
		Sentiment: s.analyzeSentiment(ctx, text),
	}
}

// buildConversationText 将消息列表拼接成 "User: ..." / "AI: ..." 形式的会话文本。
func buildConversationText(messages []model.Message) string {
	var sb strings.Builder
	for i := range messages {
		sender := "User"
		if messages[i].Sender == model.SenderAI {
			sender = "AI"
		}
		sb.WriteString(fmt.Sprintf("%s: %s\n\n", sender, messages[i].Content))
	}
	return sb.String()
}

func (s *summarizerService) generateSummary(ctx context.Context, text string) string {
	reply, err := s.provider.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: summaryPrompt},
		{Role: llm.RoleUser, Content: "Conversation:\n\n" + text},
	})
	if err != nil {
		log.Errorf("[Summarizer] 生成摘要失败: %v", err)
		return "Unable to generate summary."
	}
	return reply
}

// extractKeyPoints 提取会话要点，解析失败时按行拆分。
func (s *summarizerService) extractKeyPoints(ctx context.Context, text string) []string {
	reply, err := s.provider.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: keyPointsPrompt},
		{Role: llm.RoleUser, Content: "Conversation:\n\n" + text},
	})
	if err != nil {
		log.Errorf("[Summarizer] 提取要点失败: %v", err)
		return []string{}
	}
	return parseListReply(reply, "\n")
}

// parseListReply 将模型回复解析为字符串列表。
// 优先按 JSON 数组解析，解析失败时按分隔符拆分并丢弃空白项。
func parseListReply(reply, sep string) []string {
	var items []string
	if err := json.Unmarshal([]byte(reply), &items); err == nil {
		return items
	}

	items = make([]string, 0)
	for _, item := range strings.Split(reply, sep) {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func (s *summarizerService) analyzeSentiment(ctx context.Context, text string) string {
	reply, err := s.provider.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: sentimentPrompt},
		{Role: llm.RoleUser, Content: "Conversation:\n\n" + text},
	})
	if err != nil {
		log.Errorf("[Summarizer] 情感分析失败: %v", err)
		return "neutral"
	}

	sentiment := strings.ToLower(strings.TrimSpace(reply))
	for _, valid := range validSentiments {
		if sentiment == valid {
			return sentiment
		}
	}
	return "neutral"
}
