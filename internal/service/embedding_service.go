package service

import (
	"context"
	"math"
	"strings"

	"convoiq-go/pkg/llm"
	"convoiq-go/pkg/log"
)

// EmbeddingService 接口定义了嵌入向量的生成与比较操作。
type EmbeddingService interface {
	// Generate 生成文本的嵌入向量，失败或后端不支持时返回空向量。
	Generate(ctx context.Context, text string) []float32
	// Similarity 计算两个向量的余弦相似度。
	Similarity(a, b []float32) float64
}

// embeddingService 是 EmbeddingService 接口的实现。
type embeddingService struct {
	provider llm.Provider
}

// NewEmbeddingService 创建一个新的 EmbeddingService 实例。
func NewEmbeddingService(provider llm.Provider) EmbeddingService {
	return &embeddingService{provider: provider}
}

// Generate 生成文本的嵌入向量。
// 空文本、后端不支持或调用失败时返回空向量，调用方按"无嵌入"降级处理。
func (s *embeddingService) Generate(ctx context.Context, text string) []float32 {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	vector, err := s.provider.Embed(ctx, text)
	if err != nil {
		log.Errorf("[EmbeddingService] 生成嵌入向量失败: %v", err)
		return nil
	}
	return vector
}

// Similarity 计算两个向量的余弦相似度。
// 任一向量为空、维度不一致或为零向量时返回 0。
func (s *embeddingService) Similarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
