package models

import (
	"time"
)

// AdminUser is an operator allowed to open the administrative pages.
type AdminUser struct {
	ID             uint `gorm:"primaryKey"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Username       string `gorm:"size:255;not null;uniqueIndex"`
	HashedPassword []byte `gorm:"not null"`
}
