// Package llm provides clients for interacting with Large Language Models.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"convoiq-go/internal/config"
)

// 消息角色常量
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// 聊天补全的固定生成参数
const (
	chatTemperature = 0.7
	chatMaxTokens   = 2000
)

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider 定义了大模型后端需要实现的能力。
// Chat 返回完整的回复文本；Embed 返回文本的嵌入向量。
// 后端不支持嵌入时，Embed 返回空向量且不报错，由调用方决定如何降级。
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// New 根据配置中的 provider 名称创建对应的大模型客户端。
// 未配置时默认使用 openai。
func New(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIProvider(cfg.OpenAI), nil
	case "lm_studio":
		return NewLMStudioProvider(cfg.LMStudio), nil
	case "gemini":
		return NewGeminiProvider(cfg.Gemini), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      *bool     `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// postChatCompletions 调用 OpenAI 兼容的 /chat/completions 接口并返回首条回复。
// apiKey 为空时不携带 Authorization 头（本地后端无需鉴权）。
func postChatCompletions(ctx context.Context, client *http.Client, baseURL, apiKey string, reqBody chatRequest) (string, error) {
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", errors.New("chat api returned no choices")
	}
	return chatResp.Choices[0].Message.Content, nil
}
