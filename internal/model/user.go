package model

import (
	"time"
)

// User 계정 정보 (users)
type User struct {
	BaseModel
	UserID          string     `gorm:"size:50;uniqueIndex;not null" json:"userId"`
	Email           string     `gorm:"size:100;uniqueIndex;not null" json:"email"`
	Password        string     `gorm:"size:100;not null" json:"-"`
	FullName        string     `gorm:"size:100;not null" json:"fullName"`
	Phone           string     `gorm:"size:20" json:"phone,omitempty"`
	BirthDate       *time.Time `json:"birthDate,omitempty"`
	Gender          string     `gorm:"size:1" json:"gender,omitempty"`
	Bio             string     `gorm:"size:500" json:"bio,omitempty"`
	ProfileImageURL string     `gorm:"size:255" json:"profileImageUrl,omitempty"`
	IsActive        bool       `gorm:"default:true" json:"isActive"`
	IsVerified      bool       `gorm:"default:false" json:"isVerified"`
	LastLogin       *time.Time `json:"lastLogin,omitempty"`
}

func (User) TableName() string {
	return "users"
}

// RefreshToken 리프레시 토큰 (해시만 저장)
type RefreshToken struct {
	BaseModel
	UserID    string    `gorm:"size:50;index;not null" json:"userId"`
	TokenHash string    `gorm:"size:64;uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time `gorm:"index" json:"expiresAt"`
	IsRevoked bool      `gorm:"default:false" json:"isRevoked"`
}

func (RefreshToken) TableName() string {
	return "refresh_tokens"
}
