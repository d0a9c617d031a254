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
	"convoiq-go/pkg/log"
)

const geminiTimeout = 30 * time.Second

// DefaultGeminiModels 是未配置模型链时使用的降级顺序，从新到旧排列。
var DefaultGeminiModels = []string{"gemini-2.0-flash", "gemini-1.5-pro", "gemini-pro"}

const defaultGeminiEmbeddingModel = "embedding-001"

// geminiProvider 对接 Google Gemini 的 generateContent / embedContent 接口。
type geminiProvider struct {
	cfg    config.GeminiConfig
	client *http.Client
}

// NewGeminiProvider 创建一个 Gemini 客户端，未配置的字段使用默认值。
func NewGeminiProvider(cfg config.GeminiConfig) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if len(cfg.Models) == 0 {
		cfg.Models = DefaultGeminiModels
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultGeminiEmbeddingModel
	}
	return &geminiProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: geminiTimeout},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// toGeminiContents 将 role-based 消息转换为 Gemini 的 contents 结构。
// generateContent 不接受 system 角色，system 消息直接跳过；
// assistant 映射为 "model"。全部被跳过时补一条占位消息避免空请求。
func toGeminiContents(messages []Message) []geminiContent {
	contents := make([]geminiContent, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			continue
		}
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}
	if len(contents) == 0 {
		contents = append(contents, geminiContent{
			Role:  "user",
			Parts: []geminiPart{{Text: "Hello"}},
		})
	}
	return contents
}

// Chat 按配置的模型链依次尝试，模型返回 404 时降级到下一个。
func (p *geminiProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: toGeminiContents(messages),
		GenerationConfig: generationConfig{
			Temperature:     chatTemperature,
			MaxOutputTokens: chatMaxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	for _, model := range p.cfg.Models {
		text, notFound, err := p.generate(ctx, model, body)
		if err == nil {
			return text, nil
		}
		if !notFound {
			return "", err
		}
		log.Warnf("[Gemini] 模型 %s 不可用, 降级到下一个模型", model)
	}
	return "", errors.New("all gemini models are unavailable")
}

// generate 调用单个模型的 generateContent 接口。
// 第二个返回值表示失败原因是否为"模型不存在"，只有这种失败才继续尝试链上的下一个模型。
func (p *geminiProvider) generate(ctx context.Context, model string, body []byte) (string, bool, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.cfg.BaseURL, model, p.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("failed to create gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("failed to call gemini api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", true, fmt.Errorf("gemini model %s not found", model)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", false, fmt.Errorf("gemini api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", false, fmt.Errorf("failed to decode gemini response: %w", err)
	}
	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return "", false, errors.New("gemini api returned no candidates")
	}
	return genResp.Candidates[0].Content.Parts[0].Text, false, nil
}

type embedContentRequest struct {
	Model   string `json:"model"`
	Content struct {
		Parts []geminiPart `json:"parts"`
	} `json:"content"`
}

type embedContentResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// Embed 调用 embedContent 接口获取文本的嵌入向量。
// 响应中缺少 embedding 字段时返回空向量，不视为错误。
func (p *geminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	var reqBody embedContentRequest
	reqBody.Model = "models/" + p.cfg.EmbeddingModel
	reqBody.Content.Parts = []geminiPart{{Text: text}}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", p.cfg.BaseURL, p.cfg.EmbeddingModel, p.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var embedResp embedContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	return embedResp.Embedding.Values, nil
}
