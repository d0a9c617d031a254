package service

import (
	"errors"
	"fmt"
	"time"

	"convoiq-go/internal/model"
	"convoiq-go/internal/repository"
	"convoiq-go/pkg/log"
)

// UserListResponse 定义了用户列表 API 的响应结构。
type UserListResponse struct {
	Content       []UserDetailResponse `json:"content"`
	TotalElements int64                `json:"totalElements"`
	TotalPages    int                  `json:"totalPages"`
	Size          int                  `json:"size"`
	Number        int                  `json:"number"`
}

// UserDetailResponse 定义了用户列表项的详细结构。
type UserDetailResponse struct {
	UserID    uint            `json:"userId"`
	Username  string          `json:"username"`
	Email     string          `json:"email"`
	Role      string          `json:"role"`
	Status    int             `json:"status"`
	CreatedAt model.LocalTime `json:"createdAt"`
}

// PlatformStats 是平台级的汇总统计。
type PlatformStats struct {
	TotalUsers         int64 `json:"total_users"`
	TotalConversations int64 `json:"total_conversations"`
	TotalMessages      int64 `json:"total_messages"`
	TotalQueries       int64 `json:"total_queries"`
}

// AdminService 接口定义了所有管理员相关的业务操作。
type AdminService interface {
	ListUsers(page, size int) (*UserListResponse, error)
	GetPlatformStats() (*PlatformStats, error)
	// ListAllConversations 跨用户导出会话，可按用户和时间范围过滤。
	ListAllConversations(userID *uint, startTime, endTime *time.Time) ([]map[string]interface{}, error)
}

// adminService 是 AdminService 接口的实现。
type adminService struct {
	userRepo         repository.UserRepository
	conversationRepo repository.ConversationRepository
	messageRepo      repository.MessageRepository
	searchQueryRepo  repository.SearchQueryRepository
}

// NewAdminService 创建一个新的 AdminService 实例。
func NewAdminService(
	userRepo repository.UserRepository,
	conversationRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	searchQueryRepo repository.SearchQueryRepository,
) AdminService {
	return &adminService{
		userRepo:         userRepo,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		searchQueryRepo:  searchQueryRepo,
	}
}

// ListUsers 以分页的形式返回用户列表
func (s *adminService) ListUsers(page, size int) (*UserListResponse, error) {
	offset := (page - 1) * size
	users, total, err := s.userRepo.FindWithPagination(offset, size)
	if err != nil {
		return nil, err
	}

	userResponses := make([]UserDetailResponse, 0, len(users))
	for _, u := range users {
		// 转换角色为状态码
		status := 1 // 默认为 USER
		if u.Role == model.RoleAdmin {
			status = 0
		}

		userResponses = append(userResponses, UserDetailResponse{
			UserID:    u.ID,
			Username:  u.Username,
			Email:     u.Email,
			Role:      u.Role,
			Status:    status,
			CreatedAt: model.LocalTime(u.CreatedAt),
		})
	}

	totalPages := 0
	if total > 0 && size > 0 {
		totalPages = (int(total) + size - 1) / size
	}

	response := &UserListResponse{
		Content:       userResponses,
		TotalElements: total,
		TotalPages:    totalPages,
		Size:          size,
		Number:        page,
	}
	return response, nil
}

// GetPlatformStats 汇总全平台的用户、会话、消息和查询总量。
func (s *adminService) GetPlatformStats() (*PlatformStats, error) {
	totalUsers, err := s.userRepo.Count()
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	totalConversations, err := s.conversationRepo.Count()
	if err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}
	totalMessages, err := s.messageRepo.Count()
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	totalQueries, err := s.searchQueryRepo.Count()
	if err != nil {
		return nil, fmt.Errorf("failed to count queries: %w", err)
	}

	return &PlatformStats{
		TotalUsers:         totalUsers,
		TotalConversations: totalConversations,
		TotalMessages:      totalMessages,
		TotalQueries:       totalQueries,
	}, nil
}

// ListAllConversations 跨用户导出会话，可按用户和时间范围过滤。
func (s *adminService) ListAllConversations(userID *uint, startTime, endTime *time.Time) ([]map[string]interface{}, error) {
	if userID != nil {
		if _, err := s.userRepo.FindByID(*userID); err != nil {
			return nil, errors.New("user not found")
		}
	}

	conversations, err := s.conversationRepo.FindAll(userID, startTime, endTime)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}

	// 缓存 userID -> username，避免逐行查库
	usernames := make(map[uint]string)
	rows := make([]map[string]interface{}, 0, len(conversations))
	for i := range conversations {
		conversation := &conversations[i]

		username, ok := usernames[conversation.UserID]
		if !ok {
			user, err := s.userRepo.FindByID(conversation.UserID)
			if err != nil {
				log.Warnf("[AdminService] 查找会话所属用户失败, user: %d, error: %v", conversation.UserID, err)
				continue
			}
			username = user.Username
			usernames[conversation.UserID] = username
		}

		count, err := s.messageRepo.CountByConversation(conversation.ID)
		if err != nil {
			log.Warnf("[AdminService] 统计消息数失败, conversation: %s, error: %v", conversation.ID, err)
		}

		rows = append(rows, map[string]interface{}{
			"username":      username,
			"id":            conversation.ID,
			"title":         conversation.Title,
			"status":        conversation.Status,
			"sentiment":     conversation.Sentiment,
			"started_at":    model.LocalTime(conversation.StartedAt),
			"ended_at":      toLocalTimePtr(conversation.EndedAt),
			"message_count": count,
		})
	}
	return rows, nil
}
