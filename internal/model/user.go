// Package model 包含了应用的数据模型定义。
package model

import "time"

// User 定义了 users 表的 ORM 模型。
type User struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Email         string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name          string    `gorm:"type:varchar(100)" json:"name"`
	Password      string    `gorm:"type:varchar(255);not null" json:"-"`
	Role          string    `gorm:"type:varchar(20);not null;default:'USER'" json:"role"` // USER / ADMIN
	IsActive      bool      `gorm:"not null;default:true" json:"isActive"`
	IsBanned      bool      `gorm:"not null;default:false" json:"isBanned"`
	EmailVerified bool      `gorm:"not null;default:false" json:"emailVerified"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "users"
}
