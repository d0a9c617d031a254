package service

import "errors"

// 服务层的业务错误。
// 错误文本会原样写入 API 响应的 message 字段，属于对外契约，不要随意改动。
var (
	ErrUsernamePasswordRequired = errors.New("Username and password are required.")
	ErrEmailRequired            = errors.New("Email is required.")
	ErrUsernameExists           = errors.New("Username already exists.")
	ErrEmailExists              = errors.New("Email already exists.")
	ErrInvalidCredentials       = errors.New("Invalid credentials.")
	ErrInvalidRefreshToken      = errors.New("Invalid refresh token.")
	ErrConversationNotFound     = errors.New("Conversation not found.")
	ErrConversationEnded        = errors.New("Conversation is already ended.")
	ErrConversationNotActive    = errors.New("Cannot send message to ended conversation.")
	ErrInvalidStatus            = errors.New("Invalid conversation status.")
)
