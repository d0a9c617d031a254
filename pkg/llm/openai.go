package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"convoiq-go/internal/config"
)

const openaiTimeout = 30 * time.Second

// openaiProvider 对接 OpenAI 及其它兼容 /chat/completions 协议的托管服务。
type openaiProvider struct {
	cfg    config.OpenAIConfig
	client *http.Client
}

// NewOpenAIProvider 创建一个 OpenAI 客户端。
func NewOpenAIProvider(cfg config.OpenAIConfig) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	return &openaiProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: openaiTimeout},
	}
}

func (p *openaiProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	reqBody := chatRequest{
		Model:       p.cfg.ChatModel,
		Messages:    messages,
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
	}
	return postChatCompletions(ctx, p.client, p.cfg.BaseURL, p.cfg.APIKey, reqBody)
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *openaiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBytes, err := json.Marshal(embeddingRequest{
		Model: p.cfg.EmbeddingModel,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var embedResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(embedResp.Data) == 0 {
		return nil, errors.New("embedding api returned no data")
	}
	return embedResp.Data[0].Embedding, nil
}
