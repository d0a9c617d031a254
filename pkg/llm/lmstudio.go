package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"convoiq-go/internal/config"
)

// 本地推理较慢，给更长的超时时间
const (
	lmStudioTimeout      = 60 * time.Second
	lmStudioEmbedTimeout = 30 * time.Second
)

// lmStudioProvider 对接本地运行的 LM Studio 服务。
type lmStudioProvider struct {
	cfg    config.LMStudioConfig
	client *http.Client
}

// NewLMStudioProvider 创建一个 LM Studio 客户端。
func NewLMStudioProvider(cfg config.LMStudioConfig) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:1234/v1"
	}
	return &lmStudioProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: lmStudioTimeout},
	}
}

func (p *lmStudioProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	// LM Studio 默认按流式返回，必须显式关闭
	stream := false
	reqBody := chatRequest{
		Model:       p.cfg.ChatModel,
		Messages:    messages,
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
		Stream:      &stream,
	}
	return postChatCompletions(ctx, p.client, p.cfg.BaseURL, "", reqBody)
}

// Embed 尝试调用 LM Studio 的 /embeddings 接口。
// 多数本地模型不提供该接口，任何失败都按"无嵌入"处理，返回空向量且不报错。
func (p *lmStudioProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, lmStudioEmbedTimeout)
	defer cancel()

	reqBytes, err := json.Marshal(embeddingRequest{
		Model: p.cfg.ChatModel,
		Input: text,
	})
	if err != nil {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	var embedResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, nil
	}
	if len(embedResp.Data) == 0 {
		return nil, nil
	}
	return embedResp.Data[0].Embedding, nil
}
