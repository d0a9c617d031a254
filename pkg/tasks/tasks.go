// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// 嵌入任务的目标类型
const (
	TargetConversation = "conversation"
	TargetMessage      = "message"
)

// EmbeddingTask represents an asynchronous embedding generation job.
// TargetID 指向待生成嵌入的会话或消息。
type EmbeddingTask struct {
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	UserID     uint   `json:"user_id"`
}
