package models

import (
	"context"
	"time"

	"github.com/zonglinchua-ui/ampere-business-management-sub006/config"
)

type UserRole string

const (
	UserRoleAdmin    UserRole = "A"
	UserRoleOperator UserRole = "O"
	UserRoleClerk    UserRole = "C"
)

type User struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index" json:"business_id"`
	Username   string    `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email      *string   `gorm:"size:100;unique" json:"email"`
	Phone      string    `gorm:"size:20" json:"phone"`
	IsActive   *bool     `gorm:"not null" json:"is_active"`
	Role       UserRole  `gorm:"type:enum('A', 'O', 'C');default:C" json:"role"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetAdminUsers returns the active admins of a business. Used when a sync
// request needs a human operator.
func GetAdminUsers(ctx context.Context, businessId string) ([]User, error) {
	var admins []User
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ? AND role = ? AND is_active = ?", businessId, UserRoleAdmin, true).
		Find(&admins).Error
	if err != nil {
		return nil, err
	}
	return admins, nil
}

func GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return nil, err
	}
	if exists {
		return &user, nil
	}
	if err := config.GetDB().WithContext(ctx).
		Where("username = ?", username).
		Take(&user).Error; err != nil {
		return nil, err
	}
	_ = config.SetRedisObject("User:"+username, &user, time.Hour)
	return &user, nil
}
