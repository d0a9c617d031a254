package model

import "time"

// 用户角色常量
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// User 代表一个注册用户。
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"type:varchar(150);uniqueIndex;not null" json:"username"`
	Email     string    `gorm:"type:varchar(254);uniqueIndex;not null" json:"email"`
	Password  string    `gorm:"type:varchar(128);not null" json:"-"` // bcrypt 哈希，永远不序列化
	Role      string    `gorm:"type:varchar(20);default:USER" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (User) TableName() string {
	return "users"
}
