package handler

import (
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"convoiq-go/internal/service"
	"convoiq-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// 智能查询的参数约束。
const (
	maxQueryLength    = 1000
	defaultQueryLimit = 5
	minQueryLimit     = 1
	maxQueryLimit     = 50
)

// queryTimeLayouts 是 date_from/date_to 支持的时间格式。
var queryTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// IntelligenceHandler 处理跨会话智能查询相关的 API 请求。
type IntelligenceHandler struct {
	queryService service.QueryService
}

// NewIntelligenceHandler 创建一个新的 IntelligenceHandler 实例。
func NewIntelligenceHandler(queryService service.QueryService) *IntelligenceHandler {
	return &IntelligenceHandler{queryService: queryService}
}

// IntelligenceQueryRequest 定义了智能查询 API 的请求体结构。
// topics 字段会被接受但当前未参与检索。
type IntelligenceQueryRequest struct {
	Query    string   `json:"query"`
	DateFrom string   `json:"date_from"`
	DateTo   string   `json:"date_to"`
	Limit    *int     `json:"limit"`
	Topics   []string `json:"topics"`
}

// Query 处理智能查询请求。
func (h *IntelligenceHandler) Query(c *gin.Context) {
	var req IntelligenceQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("IntelligenceQuery: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "Query cannot be empty.", "data": nil})
		return
	}
	if utf8.RuneCountInString(query) > maxQueryLength {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "Query cannot exceed 1000 characters.", "data": nil})
		return
	}

	limit := defaultQueryLimit
	if req.Limit != nil {
		if *req.Limit < minQueryLimit || *req.Limit > maxQueryLimit {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "Limit must be between 1 and 50.", "data": nil})
			return
		}
		limit = *req.Limit
	}

	dateFrom, ok := parseQueryTime(req.DateFrom)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "Invalid date_from format.", "data": nil})
		return
	}
	dateTo, ok := parseQueryTime(req.DateTo)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "Invalid date_to format.", "data": nil})
		return
	}
	if dateFrom != nil && dateTo != nil && dateFrom.After(*dateTo) {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "date_from must be before date_to", "data": nil})
		return
	}

	user := getCurrentUser(c)
	if user == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	response := h.queryService.Query(c.Request.Context(), user, query, dateFrom, dateTo, limit)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": response})
}

// Analytics 处理会话统计数据的请求。
func (h *IntelligenceHandler) Analytics(c *gin.Context) {
	user := getCurrentUser(c)
	if user == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	analytics, err := h.queryService.GetAnalytics(user)
	if err != nil {
		log.Errorf("Analytics: Failed for user '%s', error: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取统计数据失败", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": analytics})
}

// parseQueryTime 解析可选的时间参数，空串视为未提供。
func parseQueryTime(value string) (*time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, true
	}
	for _, layout := range queryTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, true
		}
	}
	return nil, false
}
