package models

import "gorm.io/gorm"

// User represents a registered account that owns trading sessions.
type User struct {
	gorm.Model
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
}
