package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign statuses. Exactly one status is set at a time; transitions follow the
// queue state machine (stopped, completed and failed are terminal for a queue
// instance, a stopped campaign needs a fresh queue to resume).
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusSending   = "sending"
	CampaignStatusPaused    = "paused"
	CampaignStatusStopped   = "stopped"
	CampaignStatusCompleted = "completed"
	CampaignStatusFailed    = "failed"
)

// Campaign represents a bulk email campaign
type Campaign struct {
	gorm.Model
	UserID         uint `gorm:"not null;index" json:"user_id"`
	EmailProfileID uint `gorm:"not null;index" json:"email_profile_id"`

	// Campaign details
	Name    string `gorm:"not null" json:"name"`
	Subject string `gorm:"not null" json:"subject"`
	Body    string `gorm:"type:text" json:"body"`

	// Scheduling
	Status      string     `gorm:"default:'draft';index" json:"status"`
	IsPaused    bool       `gorm:"default:false" json:"is_paused"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	LastSentAt  *time.Time `json:"last_sent_at"`

	// Durable send cursor. The running queue owns the in-memory copy; this one is
	// the source of truth on recovery, so a crash loses at most one in-flight send.
	LastProcessedIndex int `gorm:"default:0" json:"last_processed_index"`

	// Rate configuration
	EnableRandomInterval bool `gorm:"default:false" json:"enable_random_interval"`
	RandomIntervalMin    int  `gorm:"default:0" json:"random_interval_min"` // seconds
	RandomIntervalMax    int  `gorm:"default:0" json:"random_interval_max"` // seconds

	// Time-window configuration ("HH:MM", local time)
	EnableTimeLimit bool   `gorm:"default:false" json:"enable_time_limit"`
	SendStartTime   string `json:"send_start_time"`
	SendEndTime     string `json:"send_end_time"`

	// Statistics (denormalized for performance)
	TotalRecipients int `gorm:"default:0" json:"total_recipients"`
	SentCount       int `gorm:"default:0" json:"sent_count"`
	DeliveredCount  int `gorm:"default:0" json:"delivered_count"`
	FailedCount     int `gorm:"default:0" json:"failed_count"`
	OpenedCount     int `gorm:"default:0" json:"opened_count"`
	ClickedCount    int `gorm:"default:0" json:"clicked_count"`

	// Relations
	Recipients []Recipient   `gorm:"foreignKey:CampaignID" json:"recipients,omitempty"`
	SentEmails []SentEmail   `gorm:"foreignKey:CampaignID" json:"sent_emails,omitempty"`
	Logs       []CampaignLog `gorm:"foreignKey:CampaignID" json:"logs,omitempty"`
}

// CampaignLog is an append-only audit entry for state transitions, queue
// operations and errors.
type CampaignLog struct {
	gorm.Model
	CampaignID uint   `gorm:"not null;index" json:"campaign_id"`
	Level      string `gorm:"not null;default:'info'" json:"level"` // info, warn, error
	Message    string `gorm:"not null" json:"message"`
	Details    string `gorm:"type:text" json:"details"`
}
