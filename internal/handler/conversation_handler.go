// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"convoiq-go/internal/service"
	"convoiq-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// 会话字段的长度上限，与存储列宽保持一致。
const (
	maxTitleLength   = 255
	maxMessageLength = 4000
)

// ConversationHandler 处理会话生命周期相关的 API 请求。
type ConversationHandler struct {
	conversationService service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(conversationService service.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversationService: conversationService}
}

// CreateConversationRequest 定义了创建会话 API 的请求体结构。
type CreateConversationRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Create 处理创建会话的请求。
func (h *ConversationHandler) Create(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("CreateConversation: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	title, errMessage := validateTitle(req.Title)
	if errMessage != "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": errMessage, "data": nil})
		return
	}

	user := getCurrentUser(c)
	if user == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	detail, err := h.conversationService.Create(user, title, req.Description)
	if err != nil {
		log.Errorf("CreateConversation: Failed for user '%s', error: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "创建会话失败", "data": nil})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "success", "data": detail})
}

// List 处理分页查询会话列表的请求。
// 支持 status 过滤和 search 关键词搜索。
func (h *ConversationHandler) List(c *gin.Context) {
	user := getCurrentUser(c)
	if user == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	status := c.Query("status")
	search := c.Query("search")

	result, err := h.conversationService.List(user, status, search, page, pageSize)
	if err != nil {
		log.Errorf("ListConversations: Failed for user '%s', error: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取会话列表失败", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": result})
}

// Get 处理查询单个会话详情的请求。
func (h *ConversationHandler) Get(c *gin.Context) {
	user := getCurrentUser(c)
	if user == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	detail, err := h.conversationService.Get(user, c.Param("id"))
	if err != nil {
		h.renderConversationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": detail})
}

// UpdateConversationRequest 定义了更新会话 API 的请求体结构，未提供的字段保持不变。
type UpdateConversationRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

// Update 处理更新会话的请求。
func (h *ConversationHandler) Update(c *gin.Context) {
	var req UpdateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("UpdateConversation: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	if req.Title != nil {
		title, errMessage := validateTitle(*req.Title)
		if errMessage != "" {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": errMessage, "data": nil})
			return
		}
		req.Title = &title
	}

	user := getCurrentUser(c)
	if user == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	item, err := h.conversationService.Update(user, c.Param("id"), req.Title, req.Description, req.Status)
	if err != nil {
		if errors.Is(err, service.ErrInvalidStatus) {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
			return
		}
		h.renderConversationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": item})
}

// Delete 处理删除会话的请求。
func (h *ConversationHandler) Delete(c *gin.Context) {
	user := getCurrentUser(c)
	if user == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	if err := h.conversationService.Delete(user, c.Param("id")); err != nil {
		h.renderConversationError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// EndConversationRequest 定义了结束会话 API 的请求体结构。
type EndConversationRequest struct {
	GenerateSummary *bool `json:"generate_summary"`
}

// End 处理结束会话的请求，默认在结束时生成摘要。
func (h *ConversationHandler) End(c *gin.Context) {
	var req EndConversationRequest
	// 请求体可以为空，绑定失败按默认值处理
	if err := c.ShouldBindJSON(&req); err != nil {
		req = EndConversationRequest{}
	}
	generateSummary := true
	if req.GenerateSummary != nil {
		generateSummary = *req.GenerateSummary
	}

	user := getCurrentUser(c)
	if user == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	detail, err := h.conversationService.End(c.Request.Context(), user, c.Param("id"), generateSummary)
	if err != nil {
		if errors.Is(err, service.ErrConversationEnded) {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
			return
		}
		h.renderConversationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": detail})
}

// SendMessageRequest 定义了发送消息 API 的请求体结构。
type SendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessage 处理发送消息的请求，返回用户消息和 AI 回复。
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("SendMessage: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	content, errMessage := validateMessageContent(req.Content)
	if errMessage != "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": errMessage, "data": nil})
		return
	}

	user := getCurrentUser(c)
	if user == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	result, err := h.conversationService.SendMessage(c.Request.Context(), user, c.Param("id"), content, c.ClientIP())
	if err != nil {
		if errors.Is(err, service.ErrConversationNotActive) {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
			return
		}
		h.renderConversationError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "success", "data": result})
}

// Messages 处理分页查询会话内消息的请求。
func (h *ConversationHandler) Messages(c *gin.Context) {
	user := getCurrentUser(c)
	if user == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.conversationService.Messages(user, c.Param("id"), page, pageSize)
	if err != nil {
		h.renderConversationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": result})
}

// renderConversationError 将服务层错误映射为 HTTP 响应。
func (h *ConversationHandler) renderConversationError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrConversationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": err.Error(), "data": nil})
		return
	}
	log.Errorf("ConversationHandler: request failed, error: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "服务器内部错误", "data": nil})
}

// validateTitle 校验并规整会话标题。
func validateTitle(title string) (string, string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", "Title cannot be empty."
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", "Title cannot exceed 255 characters."
	}
	return title, ""
}

// validateMessageContent 校验并规整消息内容。
func validateMessageContent(content string) (string, string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", "Message cannot be empty."
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		return "", "Message cannot exceed 4000 characters."
	}
	return content, ""
}
