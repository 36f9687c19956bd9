package model

import "time"

// Profile is the minimal slice of the user directory the presence service reads
type Profile struct {
	ID          string `gorm:"primaryKey;size:64"`
	DisplayName string `gorm:"size:255;not null"`
	AvatarURL   string `gorm:"size:512"`
	Role        string `gorm:"size:32;not null;default:'user'"`
	Banned      bool   `gorm:"not null;default:false"`
	Suspended   bool   `gorm:"not null;default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Profile) TableName() string {
	return "profiles"
}

// AuthSession maps a bearer token to a user
type AuthSession struct {
	Token     string    `gorm:"primaryKey;size:128"`
	UserID    string    `gorm:"size:64;not null;index"`
	ExpiresAt time.Time `gorm:"not null"`
}

func (AuthSession) TableName() string {
	return "auth_sessions"
}
