package models

import (
	"time"
)

// NewsletterSignup is one subscribing email. Uniqueness lives in the store:
// the unique index rejects duplicates, the application only translates the
// resulting error.
type NewsletterSignup struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	Email     string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"email"`
	IP        string    `gorm:"type:varchar(45)" json:"ip"`
	CreatedAt time.Time `json:"date"`
}

func (NewsletterSignup) TableName() string {
	return "newsletter_signups"
}
