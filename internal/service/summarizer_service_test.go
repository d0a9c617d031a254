package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"convoiq-go/internal/model"
	"convoiq-go/pkg/llm"
)

func summaryMessages() []model.Message {
	return []model.Message{
		{Sender: model.SenderUser, Content: "hello"},
		{Sender: model.SenderAI, Content: "hi, how can I help?"},
	}
}

func TestSummarizeEmptyConversation(t *testing.T) {
	provider := &fakeProvider{}
	result := NewSummarizerService(provider).Summarize(context.Background(), nil)

	if result.Summary != "No messages in conversation." {
		t.Errorf("Summary = %q", result.Summary)
	}
	if result.KeyPoints == nil || len(result.KeyPoints) != 0 {
		t.Errorf("KeyPoints = %v, want empty slice", result.KeyPoints)
	}
	if result.Sentiment != "neutral" {
		t.Errorf("Sentiment = %q, want neutral", result.Sentiment)
	}
	if len(provider.chatCalls) != 0 {
		t.Error("empty conversation should not reach the provider")
	}
}

func TestSummarize(t *testing.T) {
	provider := &fakeProvider{chatFn: promptDispatch(map[string]string{
		summaryPrompt:   "User greeted the assistant.",
		keyPointsPrompt: `["greeting exchanged", "assistance offered"]`,
		sentimentPrompt: "Positive",
	})}

	result := NewSummarizerService(provider).Summarize(context.Background(), summaryMessages())

	if result.Summary != "User greeted the assistant." {
		t.Errorf("Summary = %q", result.Summary)
	}
	if len(result.KeyPoints) != 2 || result.KeyPoints[0] != "greeting exchanged" {
		t.Errorf("KeyPoints = %v", result.KeyPoints)
	}
	// 模型回复的大小写不限，统一规整为小写标签
	if result.Sentiment != "positive" {
		t.Errorf("Sentiment = %q, want positive", result.Sentiment)
	}

	// 三个步骤各调用一次模型，会话文本相同
	if len(provider.chatCalls) != 3 {
		t.Fatalf("chat calls = %d, want 3", len(provider.chatCalls))
	}
	for _, call := range provider.chatCalls {
		content := call[1].Content
		if !strings.HasPrefix(content, "Conversation:\n\n") {
			t.Errorf("user content %q should start with the conversation header", content)
		}
		if !strings.Contains(content, "User: hello\n\n") || !strings.Contains(content, "AI: hi, how can I help?\n\n") {
			t.Errorf("user content %q should contain both speakers", content)
		}
	}
}

func TestSummarizeKeyPointsPlainText(t *testing.T) {
	provider := &fakeProvider{chatFn: promptDispatch(map[string]string{
		summaryPrompt:   "s",
		keyPointsPrompt: "- first point\n\n- second point\n",
		sentimentPrompt: "neutral",
	})}

	result := NewSummarizerService(provider).Summarize(context.Background(), summaryMessages())
	if len(result.KeyPoints) != 2 || result.KeyPoints[0] != "- first point" || result.KeyPoints[1] != "- second point" {
		t.Errorf("KeyPoints = %v, want the two non-empty lines", result.KeyPoints)
	}
}

func TestSummarizeSentimentNormalization(t *testing.T) {
	provider := &fakeProvider{chatFn: promptDispatch(map[string]string{
		summaryPrompt:   "s",
		keyPointsPrompt: "[]",
		sentimentPrompt: "  MIXED \n",
	})}

	result := NewSummarizerService(provider).Summarize(context.Background(), summaryMessages())
	if result.Sentiment != "mixed" {
		t.Errorf("Sentiment = %q, want mixed", result.Sentiment)
	}
}

func TestSummarizeInvalidSentiment(t *testing.T) {
	provider := &fakeProvider{chatFn: promptDispatch(map[string]string{
		summaryPrompt:   "s",
		keyPointsPrompt: "[]",
		sentimentPrompt: "Very positive indeed!",
	})}

	result := NewSummarizerService(provider).Summarize(context.Background(), summaryMessages())
	if result.Sentiment != "neutral" {
		t.Errorf("Sentiment = %q, want the neutral fallback", result.Sentiment)
	}
}

func TestSummarizeStepsAreIsolated(t *testing.T) {
	// 摘要步骤失败，要点和情感不受影响
	provider := &fakeProvider{chatFn: func(messages []llm.Message) (string, error) {
		if messages[0].Content == summaryPrompt {
			return "", errors.New("model offline")
		}
		return promptDispatch(map[string]string{
			keyPointsPrompt: `["point"]`,
			sentimentPrompt: "mixed",
		})(messages)
	}}

	result := NewSummarizerService(provider).Summarize(context.Background(), summaryMessages())
	if result.Summary != "Unable to generate summary." {
		t.Errorf("Summary = %q, want the failure fallback", result.Summary)
	}
	if len(result.KeyPoints) != 1 || result.KeyPoints[0] != "point" {
		t.Errorf("KeyPoints = %v, want [point]", result.KeyPoints)
	}
	if result.Sentiment != "mixed" {
		t.Errorf("Sentiment = %q, want mixed", result.Sentiment)
	}
}
