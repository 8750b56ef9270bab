package models

import (
	"time"

	"gorm.io/gorm"
)

// SentEmail statuses. Queued is transient: the row is created just before the
// transport call so tracking URLs can reference it, then settles to sent or
// failed with the outcome.
const (
	SentEmailStatusQueued = "queued"
	SentEmailStatusSent   = "sent"
	SentEmailStatusFailed = "failed"
)

// EmailProfile represents SMTP sending credentials and per-profile limits
type EmailProfile struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name      string `gorm:"not null" json:"name"`
	FromEmail string `gorm:"not null" json:"from_email"`
	FromName  string `gorm:"not null" json:"from_name"`

	// SMTP configuration
	SMTPHost     string `gorm:"not null" json:"smtp_host"`
	SMTPPort     int    `gorm:"not null" json:"smtp_port"`
	SMTPUsername string `gorm:"not null" json:"smtp_username"`
	SMTPPassword string `gorm:"not null" json:"-"`          // Encrypted in application layer
	Encryption   string `gorm:"not null" json:"encryption"` // SSL, TLS, STARTTLS

	// Rate limits
	SendInterval     int `gorm:"default:60" json:"send_interval"` // seconds between sends
	MaxEmailsPerHour int `gorm:"default:0" json:"max_emails_per_hour"`
	DailyLimit       int `gorm:"default:500" json:"daily_limit"`
	SentToday        int `gorm:"default:0" json:"sent_today"`
	TotalSent        int `gorm:"default:0" json:"total_sent"`

	// Status & verification
	Verified     bool       `gorm:"default:false" json:"verified"`
	LastTestedAt *time.Time `json:"last_tested_at"`
	LastError    *string    `json:"last_error"`
}

// Sanitize strips credentials before the profile leaves the API layer
func (p *EmailProfile) Sanitize() {
	p.SMTPPassword = ""
}

// SentEmail is one row per (campaign, recipient) send attempt. OpenedAt and
// ClickedAt are each set at most once (first-event-wins).
type SentEmail struct {
	gorm.Model
	CampaignID     uint `gorm:"not null;index" json:"campaign_id"`
	RecipientID    uint `gorm:"not null;index" json:"recipient_id"`
	EmailProfileID uint `gorm:"index" json:"email_profile_id"`

	Status       string `gorm:"not null" json:"status"`
	MessageID    string `gorm:"index" json:"message_id"`
	ErrorMessage string `json:"error_message"`

	SentAt    *time.Time `json:"sent_at"`
	OpenedAt  *time.Time `json:"opened_at"`
	ClickedAt *time.Time `json:"clicked_at"`
	BouncedAt *time.Time `json:"bounced_at"`
}
