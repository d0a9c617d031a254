package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"convoiq-go/internal/model"
	"convoiq-go/internal/service"
	"convoiq-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

// envelope 对应统一响应结构 {code, message, data}。
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func performRequest(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "response body: %s", w.Body.String())
	return env
}

// injectUser 模拟 AuthMiddleware 注入的登录用户。
func injectUser(c *gin.Context) {
	c.Set("user", &model.User{ID: 1, Username: "alice", Email: "alice@example.com", Role: model.RoleUser})
}

// conversationServiceStub 按需覆盖单个方法，未覆盖的方法返回空的成功结果。
type conversationServiceStub struct {
	createFn   func(user *model.User, title, description string) (*service.ConversationDetail, error)
	listFn     func(user *model.User, status, search string, page, pageSize int) (*service.ConversationListResponse, error)
	getFn      func(user *model.User, id string) (*service.ConversationDetail, error)
	updateFn   func(user *model.User, id string, title, description, status *string) (*service.ConversationListItem, error)
	deleteFn   func(user *model.User, id string) error
	endFn      func(ctx context.Context, user *model.User, id string, generateSummary bool) (*service.ConversationDetail, error)
	sendFn     func(ctx context.Context, user *model.User, id, content, clientIP string) (*service.SendMessageResult, error)
	messagesFn func(user *model.User, id string, page, pageSize int) (*service.MessageListResponse, error)
}

var _ service.ConversationService = (*conversationServiceStub)(nil)

func (s *conversationServiceStub) Create(user *model.User, title, description string) (*service.ConversationDetail, error) {
	if s.createFn != nil {
		return s.createFn(user, title, description)
	}
	return &service.ConversationDetail{ID: "conv-1", Title: title, Description: description, Status: model.ConversationStatusActive}, nil
}

func (s *conversationServiceStub) List(user *model.User, status, search string, page, pageSize int) (*service.ConversationListResponse, error) {
	if s.listFn != nil {
		return s.listFn(user, status, search, page, pageSize)
	}
	return &service.ConversationListResponse{Content: []service.ConversationListItem{}}, nil
}

func (s *conversationServiceStub) Get(user *model.User, id string) (*service.ConversationDetail, error) {
	if s.getFn != nil {
		return s.getFn(user, id)
	}
	return &service.ConversationDetail{ID: id}, nil
}

func (s *conversationServiceStub) Update(user *model.User, id string, title, description, status *string) (*service.ConversationListItem, error) {
	if s.updateFn != nil {
		return s.updateFn(user, id, title, description, status)
	}
	return &service.ConversationListItem{ID: id}, nil
}

func (s *conversationServiceStub) Delete(user *model.User, id string) error {
	if s.deleteFn != nil {
		return s.deleteFn(user, id)
	}
	return nil
}

func (s *conversationServiceStub) End(ctx context.Context, user *model.User, id string, generateSummary bool) (*service.ConversationDetail, error) {
	if s.endFn != nil {
		return s.endFn(ctx, user, id, generateSummary)
	}
	return &service.ConversationDetail{ID: id, Status: model.ConversationStatusEnded}, nil
}

func (s *conversationServiceStub) SendMessage(ctx context.Context, user *model.User, id, content, clientIP string) (*service.SendMessageResult, error) {
	if s.sendFn != nil {
		return s.sendFn(ctx, user, id, content, clientIP)
	}
	return &service.SendMessageResult{}, nil
}

func (s *conversationServiceStub) Messages(user *model.User, id string, page, pageSize int) (*service.MessageListResponse, error) {
	if s.messagesFn != nil {
		return s.messagesFn(user, id, page, pageSize)
	}
	return &service.MessageListResponse{Content: []service.MessageItem{}}, nil
}

// conversationTestRouter 按照生产路由注册会话相关的端点。
func conversationTestRouter(stub *conversationServiceStub) *gin.Engine {
	router := gin.New()
	h := NewConversationHandler(stub)
	group := router.Group("/api/v1/conversations", injectUser)
	group.POST("", h.Create)
	group.GET("", h.List)
	group.GET("/:id", h.Get)
	group.PUT("/:id", h.Update)
	group.DELETE("/:id", h.Delete)
	group.POST("/:id/end", h.End)
	group.POST("/:id/send_message", h.SendMessage)
	group.GET("/:id/messages", h.Messages)
	return router
}

func TestCreateConversationEndpoint(t *testing.T) {
	var gotTitle, gotDescription string
	stub := &conversationServiceStub{createFn: func(user *model.User, title, description string) (*service.ConversationDetail, error) {
		gotTitle, gotDescription = title, description
		return &service.ConversationDetail{ID: "conv-1", Title: title, Description: description, Status: model.ConversationStatusActive}, nil
	}}
	router := conversationTestRouter(stub)

	w := performRequest(router, http.MethodPost, "/api/v1/conversations", `{"title":"  Trip planning  ","description":"summer"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, http.StatusCreated, env.Code)
	assert.Equal(t, "success", env.Message)
	// 标题先去除首尾空白再传给服务层
	assert.Equal(t, "Trip planning", gotTitle)
	assert.Equal(t, "summer", gotDescription)

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "conv-1", data["id"])
	assert.Equal(t, model.ConversationStatusActive, data["status"])
}

func TestCreateConversationValidation(t *testing.T) {
	router := conversationTestRouter(&conversationServiceStub{})

	w := performRequest(router, http.MethodPost, "/api/v1/conversations", `{"title":"   "}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Title cannot be empty.", decodeEnvelope(t, w).Message)

	longTitle := strings.Repeat("标", 256)
	w = performRequest(router, http.MethodPost, "/api/v1/conversations", `{"title":"`+longTitle+`"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Title cannot exceed 255 characters.", decodeEnvelope(t, w).Message)

	w = performRequest(router, http.MethodPost, "/api/v1/conversations", `{not json`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "无效的请求负载", decodeEnvelope(t, w).Message)
}

func TestCreateConversationServiceFailure(t *testing.T) {
	stub := &conversationServiceStub{createFn: func(*model.User, string, string) (*service.ConversationDetail, error) {
		return nil, assert.AnError
	}}
	router := conversationTestRouter(stub)

	w := performRequest(router, http.MethodPost, "/api/v1/conversations", `{"title":"t"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "创建会话失败", decodeEnvelope(t, w).Message)
}

func TestListConversationsQueryParams(t *testing.T) {
	var gotStatus, gotSearch string
	var gotPage, gotPageSize int
	stub := &conversationServiceStub{listFn: func(user *model.User, status, search string, page, pageSize int) (*service.ConversationListResponse, error) {
		gotStatus, gotSearch, gotPage, gotPageSize = status, search, page, pageSize
		return &service.ConversationListResponse{Content: []service.ConversationListItem{}}, nil
	}}
	router := conversationTestRouter(stub)

	w := performRequest(router, http.MethodGet, "/api/v1/conversations?page=3&page_size=7&status=ended&search=trip", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ended", gotStatus)
	assert.Equal(t, "trip", gotSearch)
	assert.Equal(t, 3, gotPage)
	assert.Equal(t, 7, gotPageSize)

	// 未提供时使用默认分页
	w = performRequest(router, http.MethodGet, "/api/v1/conversations", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, gotPage)
	assert.Equal(t, 20, gotPageSize)
}

func TestGetConversationErrors(t *testing.T) {
	stub := &conversationServiceStub{getFn: func(user *model.User, id string) (*service.ConversationDetail, error) {
		return nil, service.ErrConversationNotFound
	}}
	router := conversationTestRouter(stub)

	w := performRequest(router, http.MethodGet, "/api/v1/conversations/missing", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Conversation not found.", decodeEnvelope(t, w).Message)

	// 未识别的服务层错误统一返回 500
	stub.getFn = func(*model.User, string) (*service.ConversationDetail, error) { return nil, assert.AnError }
	w = performRequest(router, http.MethodGet, "/api/v1/conversations/conv-1", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "服务器内部错误", decodeEnvelope(t, w).Message)
}

func TestUpdateConversationEndpoint(t *testing.T) {
	var gotTitle, gotDescription, gotStatus *string
	stub := &conversationServiceStub{updateFn: func(user *model.User, id string, title, description, status *string) (*service.ConversationListItem, error) {
		gotTitle, gotDescription, gotStatus = title, description, status
		return &service.ConversationListItem{ID: id}, nil
	}}
	router := conversationTestRouter(stub)

	w := performRequest(router, http.MethodPut, "/api/v1/conversations/conv-1", `{"title":" renamed ","status":"archived"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, gotTitle)
	assert.Equal(t, "renamed", *gotTitle)
	require.NotNil(t, gotStatus)
	assert.Equal(t, "archived", *gotStatus)
	// 缺省字段以 nil 传递，服务层保持原值
	assert.Nil(t, gotDescription)
}

func TestUpdateConversationInvalidStatusResponse(t *testing.T) {
	stub := &conversationServiceStub{updateFn: func(*model.User, string, *string, *string, *string) (*service.ConversationListItem, error) {
		return nil, service.ErrInvalidStatus
	}}
	router := conversationTestRouter(stub)

	w := performRequest(router, http.MethodPut, "/api/v1/conversations/conv-1", `{"status":"paused"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid conversation status.", decodeEnvelope(t, w).Message)
}

func TestDeleteConversationEndpoint(t *testing.T) {
	var gotID string
	stub := &conversationServiceStub{deleteFn: func(user *model.User, id string) error {
		gotID = id
		return nil
	}}
	router := conversationTestRouter(stub)

	w := performRequest(router, http.MethodDelete, "/api/v1/conversations/conv-1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "conv-1", gotID)
	assert.Empty(t, w.Body.String())

	stub.deleteFn = func(*model.User, string) error { return service.ErrConversationNotFound }
	w = performRequest(router, http.MethodDelete, "/api/v1/conversations/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEndConversationEndpoint(t *testing.T) {
	var gotGenerate bool
	stub := &conversationServiceStub{endFn: func(ctx context.Context, user *model.User, id string, generateSummary bool) (*service.ConversationDetail, error) {
		gotGenerate = generateSummary
		return &service.ConversationDetail{ID: id, Status: model.ConversationStatusEnded}, nil
	}}
	router := conversationTestRouter(stub)

	// 请求体为空时默认生成摘要
	w := performRequest(router, http.MethodPost, "/api/v1/conversations/conv-1/end", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gotGenerate)

	w = performRequest(router, http.MethodPost, "/api/v1/conversations/conv-1/end", `{"generate_summary":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, gotGenerate)
}

func TestEndConversationAlreadyEnded(t *testing.T) {
	stub := &conversationServiceStub{endFn: func(context.Context, *model.User, string, bool) (*service.ConversationDetail, error) {
		return nil, service.ErrConversationEnded
	}}
	router := conversationTestRouter(stub)

	w := performRequest(router, http.MethodPost, "/api/v1/conversations/conv-1/end", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Conversation is already ended.", decodeEnvelope(t, w).Message)
}

func TestSendMessageEndpoint(t *testing.T) {
	var gotContent, gotIP string
	stub := &conversationServiceStub{sendFn: func(ctx context.Context, user *model.User, id, content, clientIP string) (*service.SendMessageResult, error) {
		gotContent, gotIP = content, clientIP
		return &service.SendMessageResult{
			UserMessage: service.MessageItem{ID: "msg-1", Content: content},
			AIMessage:   service.MessageItem{ID: "msg-2", Content: "reply"},
		}, nil
	}}
	router := conversationTestRouter(stub)

	w := performRequest(router, http.MethodPost, "/api/v1/conversations/conv-1/send_message", `{"content":"  Hello  "}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Hello", gotContent)
	// httptest 的默认远端地址
	assert.Equal(t, "192.0.2.1", gotIP)

	env := decodeEnvelope(t, w)
	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	aiMessage, ok := data["ai_message"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "reply", aiMessage["content"])
}

func TestSendMessageValidation(t *testing.T) {
	router := conversationTestRouter(&conversationServiceStub{})

	w := performRequest(router, http.MethodPost, "/api/v1/conversations/conv-1/send_message", `{"content":""}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Message cannot be empty.", decodeEnvelope(t, w).Message)

	long := strings.Repeat("x", 4001)
	w = performRequest(router, http.MethodPost, "/api/v1/conversations/conv-1/send_message", `{"content":"`+long+`"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Message cannot exceed 4000 characters.", decodeEnvelope(t, w).Message)
}

func TestSendMessageToEndedConversationResponse(t *testing.T) {
	stub := &conversationServiceStub{sendFn: func(context.Context, *model.User, string, string, string) (*service.SendMessageResult, error) {
		return nil, service.ErrConversationNotActive
	}}
	router := conversationTestRouter(stub)

	w := performRequest(router, http.MethodPost, "/api/v1/conversations/conv-1/send_message", `{"content":"hello"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Cannot send message to ended conversation.", decodeEnvelope(t, w).Message)
}

func TestMessagesEndpointQueryParams(t *testing.T) {
	var gotPage, gotPageSize int
	stub := &conversationServiceStub{messagesFn: func(user *model.User, id string, page, pageSize int) (*service.MessageListResponse, error) {
		gotPage, gotPageSize = page, pageSize
		return &service.MessageListResponse{Content: []service.MessageItem{}}, nil
	}}
	router := conversationTestRouter(stub)

	w := performRequest(router, http.MethodGet, "/api/v1/conversations/conv-1/messages?page=2&page_size=50", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, gotPage)
	assert.Equal(t, 50, gotPageSize)
}

func TestConversationEndpointsWithoutUser(t *testing.T) {
	// 没有认证中间件注入用户时返回 500
	router := gin.New()
	h := NewConversationHandler(&conversationServiceStub{})
	router.POST("/api/v1/conversations", h.Create)

	w := performRequest(router, http.MethodPost, "/api/v1/conversations", `{"title":"t"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "无法获取用户信息", decodeEnvelope(t, w).Message)
}
