package models

import "time"

// AdminSession stores a hashed session id so admin sessions can be expired and revoked server side.
type AdminSession struct {
	ID          uint `gorm:"primaryKey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	AdminUserID uint      `gorm:"index;not null"`
	AdminUser   AdminUser `gorm:"foreignKey:AdminUserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	TokenHash   string    `gorm:"size:128;not null;uniqueIndex"`
	ExpiresAt   time.Time `gorm:"index;not null"`
	Revoked     bool      `gorm:"default:false"`
}

// Active reports whether the session can still authenticate requests at now.
func (s AdminSession) Active(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}
