package models

import (
	"gorm.io/gorm"
)

// Recipient email statuses
const (
	EmailStatusActive      = "active"
	EmailStatusBlacklisted = "blacklisted"
)

// Recipient is a single contact in a campaign's recipient snapshot
type Recipient struct {
	gorm.Model
	UserID     uint `gorm:"not null;index" json:"user_id"`
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`

	Email     string `gorm:"not null;index" json:"email"`
	Name      string `json:"name"`
	GroupName string `json:"group_name"`

	// Health counters. A recovered recipient keeps its historical counts; success
	// never resets failures.
	EmailStatus       string `gorm:"default:'active'" json:"email_status"`
	SuccessCount      int    `gorm:"default:0" json:"success_count"`
	FailureCount      int    `gorm:"default:0" json:"failure_count"`
	BounceCount       int    `gorm:"default:0" json:"bounce_count"`
	IsBlacklisted     bool   `gorm:"default:false;index" json:"is_blacklisted"`
	LastFailureReason string `json:"last_failure_reason"`
}
