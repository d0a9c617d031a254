package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"convoiq-go/internal/model"
	"convoiq-go/internal/service"
	"convoiq-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chatTestServer 启动一个带 WebSocket 路由的测试服务器。
func chatTestServer(t *testing.T, convStub *conversationServiceStub, userStub *userServiceStub, manager *token.JWTManager) *httptest.Server {
	t.Helper()
	router := gin.New()
	h := NewChatHandler(convStub, userStub, manager)
	router.GET("/ws/chat/:conversationId", h.Handle)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func dialChat(t *testing.T, server *httptest.Server, conversationID, accessToken string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/chat/" + conversationID + "?token=" + accessToken
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

func TestChatRejectsInvalidToken(t *testing.T) {
	manager := token.NewJWTManager("ws-secret", 1, 7)
	router := gin.New()
	h := NewChatHandler(&conversationServiceStub{}, &userServiceStub{}, manager)
	router.GET("/ws/chat/:conversationId", h.Handle)

	w := performRequest(router, http.MethodGet, "/ws/chat/conv-1?token=garbage", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "无效的 token", decodeEnvelope(t, w).Message)
}

func TestChatRejectsUnknownConversation(t *testing.T) {
	manager := token.NewJWTManager("ws-secret", 1, 7)
	accessToken, err := manager.GenerateToken(1, "alice", model.RoleUser)
	require.NoError(t, err)

	convStub := &conversationServiceStub{getFn: func(user *model.User, id string) (*service.ConversationDetail, error) {
		return nil, service.ErrConversationNotFound
	}}
	userStub := &userServiceStub{profileFn: func(username string) (*model.User, error) {
		return &model.User{ID: 1, Username: username, Role: model.RoleUser}, nil
	}}
	router := gin.New()
	h := NewChatHandler(convStub, userStub, manager)
	router.GET("/ws/chat/:conversationId", h.Handle)

	w := performRequest(router, http.MethodGet, "/ws/chat/missing?token="+accessToken, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Conversation not found.", decodeEnvelope(t, w).Message)
}

func TestChatExchange(t *testing.T) {
	manager := token.NewJWTManager("ws-secret", 1, 7)
	accessToken, err := manager.GenerateToken(1, "alice", model.RoleUser)
	require.NoError(t, err)

	// 服务端处理发生在连接的 goroutine 里，捕获的内容要加锁
	var mu sync.Mutex
	var gotContent string
	convStub := &conversationServiceStub{
		sendFn: func(ctx context.Context, user *model.User, id, content, clientIP string) (*service.SendMessageResult, error) {
			if content == "boom" {
				return nil, errors.New("model backend is down")
			}
			mu.Lock()
			gotContent = content
			mu.Unlock()
			return &service.SendMessageResult{
				UserMessage: service.MessageItem{ID: "msg-1", Sender: "user", Content: content},
				AIMessage:   service.MessageItem{ID: "msg-2", Sender: "ai", Content: "pong"},
			}, nil
		},
	}
	lastContent := func() string {
		mu.Lock()
		defer mu.Unlock()
		return gotContent
	}
	userStub := &userServiceStub{profileFn: func(username string) (*model.User, error) {
		return &model.User{ID: 1, Username: username, Role: model.RoleUser}, nil
	}}
	server := chatTestServer(t, convStub, userStub, manager)

	conn := dialChat(t, server, "conv-1", accessToken)

	// 正常消息，收到包含双方消息的帧
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"content":"  ping  "}`)))
	frame := readFrame(t, conn)
	assert.Equal(t, "message", frame["type"])
	assert.Equal(t, "ping", lastContent())
	userMessage, ok := frame["user_message"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ping", userMessage["content"])
	aiMessage, ok := frame["ai_message"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "pong", aiMessage["content"])
	assert.NotZero(t, frame["timestamp"])

	// 非法 JSON 返回错误帧，连接保持
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{nope`)))
	frame = readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "Invalid message format.", frame["message"])

	// 空内容同样返回错误帧
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"content":"   "}`)))
	frame = readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "Message cannot be empty.", frame["message"])

	// 服务层失败时错误信息透传给客户端
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"content":"boom"}`)))
	frame = readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "model backend is down", frame["message"])

	// 连接仍然可用
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"content":"still alive"}`)))
	frame = readFrame(t, conn)
	assert.Equal(t, "message", frame["type"])
	assert.Equal(t, "still alive", lastContent())
}
