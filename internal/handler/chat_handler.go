// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"convoiq-go/internal/service"
	"convoiq-go/pkg/log"
	"convoiq-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理 WebSocket 实时聊天连接。
type ChatHandler struct {
	conversationService service.ConversationService
	userService         service.UserService
	jwtManager          *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(conversationService service.ConversationService, userService service.UserService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		conversationService: conversationService,
		userService:         userService,
		jwtManager:          jwtManager,
	}
}

// wsIncomingMessage 是客户端通过 WebSocket 发送的消息结构。
type wsIncomingMessage struct {
	Content string `json:"content"`
}

// Handle 处理一个传入的 WebSocket 连接。
// 连接建立后，每收到一条消息就走一次完整的"保存用户消息 + 生成 AI 回复"流程。
func (h *ChatHandler) Handle(c *gin.Context) {
	// 升级前完成认证，token 通过查询参数传递
	tokenString := c.Query("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	user, err := h.userService.GetProfile(claims.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	// 校验会话存在且属于当前用户
	conversationID := c.Param("conversationId")
	if _, err := h.conversationService.Get(user, conversationID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": service.ErrConversationNotFound.Error(), "data": nil})
		return
	}

	clientIP := c.ClientIP()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立, 用户: %s, 会话: %s", claims.Username, conversationID)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var incoming wsIncomingMessage
		if err := json.Unmarshal(raw, &incoming); err != nil {
			h.writeError(conn, "Invalid message format.")
			continue
		}

		content, errMessage := validateMessageContent(incoming.Content)
		if errMessage != "" {
			h.writeError(conn, errMessage)
			continue
		}

		result, err := h.conversationService.SendMessage(c.Request.Context(), user, conversationID, content, clientIP)
		if err != nil {
			log.Errorf("WebSocket 消息处理失败, conversation: %s, error: %v", conversationID, err)
			h.writeError(conn, err.Error())
			continue
		}

		h.writeFrame(conn, map[string]interface{}{
			"type":         "message",
			"user_message": result.UserMessage,
			"ai_message":   result.AIMessage,
			"timestamp":    time.Now().UnixMilli(),
		})
	}
}

// writeError 向客户端发送一个错误帧。
func (h *ChatHandler) writeError(conn *websocket.Conn, message string) {
	h.writeFrame(conn, map[string]interface{}{
		"type":    "error",
		"message": message,
	})
}

// writeFrame 将负载序列化为 JSON 并写入连接。
func (h *ChatHandler) writeFrame(conn *websocket.Conn, payload map[string]interface{}) {
	b, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("序列化 WebSocket 响应失败: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("向 WebSocket 写入消息失败: %v", err)
	}
}
