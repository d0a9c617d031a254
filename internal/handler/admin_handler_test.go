package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"convoiq-go/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// adminServiceStub 按需覆盖单个方法，未覆盖的方法返回空结果。
type adminServiceStub struct {
	listUsersFn func(page, size int) (*service.UserListResponse, error)
	statsFn     func() (*service.PlatformStats, error)
	listConvFn  func(userID *uint, startTime, endTime *time.Time) ([]map[string]interface{}, error)
}

var _ service.AdminService = (*adminServiceStub)(nil)

func (s *adminServiceStub) ListUsers(page, size int) (*service.UserListResponse, error) {
	if s.listUsersFn != nil {
		return s.listUsersFn(page, size)
	}
	return &service.UserListResponse{Content: []service.UserDetailResponse{}}, nil
}

func (s *adminServiceStub) GetPlatformStats() (*service.PlatformStats, error) {
	if s.statsFn != nil {
		return s.statsFn()
	}
	return &service.PlatformStats{}, nil
}

func (s *adminServiceStub) ListAllConversations(userID *uint, startTime, endTime *time.Time) ([]map[string]interface{}, error) {
	if s.listConvFn != nil {
		return s.listConvFn(userID, startTime, endTime)
	}
	return []map[string]interface{}{}, nil
}

// adminTestRouter 按照生产路由注册管理员相关的端点。
func adminTestRouter(stub *adminServiceStub) *gin.Engine {
	router := gin.New()
	h := NewAdminHandler(stub)
	group := router.Group("/api/v1/admin")
	group.GET("/users/list", h.ListUsers)
	group.GET("/stats", h.PlatformStats)
	group.GET("/conversation", h.AllConversations)
	return router
}

func TestAdminListUsersEndpoint(t *testing.T) {
	var gotPage, gotSize int
	stub := &adminServiceStub{listUsersFn: func(page, size int) (*service.UserListResponse, error) {
		gotPage, gotSize = page, size
		return &service.UserListResponse{
			Content:       []service.UserDetailResponse{{UserID: 1, Username: "alice"}},
			TotalElements: 1,
			TotalPages:    1,
			Size:          size,
			Number:        page,
		}, nil
	}}
	router := adminTestRouter(stub)

	w := performRequest(router, http.MethodGet, "/api/v1/admin/users/list?page=2&size=25", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, gotPage)
	assert.Equal(t, 25, gotSize)

	env := decodeEnvelope(t, w)
	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	content, ok := data["content"].([]any)
	require.True(t, ok)
	require.Len(t, content, 1)
	row, ok := content[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", row["username"])

	// 缺省分页参数
	w = performRequest(router, http.MethodGet, "/api/v1/admin/users/list", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, gotPage)
	assert.Equal(t, 10, gotSize)
}

func TestAdminListUsersFailure(t *testing.T) {
	stub := &adminServiceStub{listUsersFn: func(int, int) (*service.UserListResponse, error) {
		return nil, assert.AnError
	}}
	router := adminTestRouter(stub)

	w := performRequest(router, http.MethodGet, "/api/v1/admin/users/list", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "获取用户列表失败", decodeEnvelope(t, w).Message)
}

func TestAdminPlatformStatsEndpoint(t *testing.T) {
	stub := &adminServiceStub{statsFn: func() (*service.PlatformStats, error) {
		return &service.PlatformStats{TotalUsers: 4, TotalConversations: 9, TotalMessages: 30, TotalQueries: 12}, nil
	}}
	router := adminTestRouter(stub)

	w := performRequest(router, http.MethodGet, "/api/v1/admin/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	var stats service.PlatformStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(4), stats.TotalUsers)
	assert.Equal(t, int64(12), stats.TotalQueries)
}

func TestAdminAllConversationsEndpoint(t *testing.T) {
	var gotUserID *uint
	var gotStart, gotEnd *time.Time
	stub := &adminServiceStub{listConvFn: func(userID *uint, startTime, endTime *time.Time) ([]map[string]interface{}, error) {
		gotUserID, gotStart, gotEnd = userID, startTime, endTime
		return []map[string]interface{}{{"id": "conv-1", "username": "bob"}}, nil
	}}
	router := adminTestRouter(stub)

	w := performRequest(router, http.MethodGet, "/api/v1/admin/conversation?userid=42&start_date=2025-02-01&end_date=2025-02-28", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, gotUserID)
	assert.Equal(t, uint(42), *gotUserID)
	require.NotNil(t, gotStart)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), *gotStart)
	// end_date 扩展到当天最后一秒
	require.NotNil(t, gotEnd)
	assert.Equal(t, time.Date(2025, 2, 28, 23, 59, 59, 0, time.UTC), *gotEnd)

	// 过滤参数全部可选
	w = performRequest(router, http.MethodGet, "/api/v1/admin/conversation", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, gotUserID)
	assert.Nil(t, gotStart)
	assert.Nil(t, gotEnd)
}

func TestAdminAllConversationsValidation(t *testing.T) {
	router := adminTestRouter(&adminServiceStub{})

	w := performRequest(router, http.MethodGet, "/api/v1/admin/conversation?userid=bob", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid user ID format", decodeEnvelope(t, w).Message)

	w = performRequest(router, http.MethodGet, "/api/v1/admin/conversation?start_date=02-01-2025", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid start_date format, use YYYY-MM-DD", decodeEnvelope(t, w).Message)

	w = performRequest(router, http.MethodGet, "/api/v1/admin/conversation?end_date=never", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid end_date format, use YYYY-MM-DD", decodeEnvelope(t, w).Message)
}

func TestAdminAllConversationsFailure(t *testing.T) {
	stub := &adminServiceStub{listConvFn: func(*uint, *time.Time, *time.Time) ([]map[string]interface{}, error) {
		return nil, errors.New("user with ID 99 not found")
	}}
	router := adminTestRouter(stub)

	w := performRequest(router, http.MethodGet, "/api/v1/admin/conversation", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "user with ID 99 not found", decodeEnvelope(t, w).Message)
}
