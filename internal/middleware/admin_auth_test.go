package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"convoiq-go/internal/model"
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

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), "response body: %s", w.Body.String())
	return body.Error
}

// adminRouter 在 AdminAuthMiddleware 之前插入一个设置上下文的中间件，模拟 AuthMiddleware 的行为。
func adminRouter(setup gin.HandlerFunc) (*gin.Engine, *bool) {
	reached := false
	router := gin.New()
	handlers := []gin.HandlerFunc{}
	if setup != nil {
		handlers = append(handlers, setup)
	}
	handlers = append(handlers, AdminAuthMiddleware(), func(c *gin.Context) {
		reached = true
		c.Status(http.StatusOK)
	})
	router.GET("/admin", handlers...)
	return router, &reached
}

func performGet(router http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAdminAuthMissingUser(t *testing.T) {
	router, reached := adminRouter(nil)

	w := performGet(router)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "无法获取用户信息", errorMessage(t, w))
	assert.False(t, *reached)
}

func TestAdminAuthWrongUserType(t *testing.T) {
	router, reached := adminRouter(func(c *gin.Context) {
		c.Set("user", "not a user struct")
	})

	w := performGet(router)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "用户数据类型错误", errorMessage(t, w))
	assert.False(t, *reached)
}

func TestAdminAuthForbidsRegularUser(t *testing.T) {
	router, reached := adminRouter(func(c *gin.Context) {
		c.Set("user", &model.User{ID: 1, Username: "alice", Role: model.RoleUser})
	})

	w := performGet(router)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "权限不足，需要管理员权限", errorMessage(t, w))
	assert.False(t, *reached)
}

func TestAdminAuthAllowsAdmin(t *testing.T) {
	router, reached := adminRouter(func(c *gin.Context) {
		c.Set("user", &model.User{ID: 1, Username: "root", Role: model.RoleAdmin})
	})

	w := performGet(router)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, *reached)
}
