package worker

import (
	"time"

	"mailhive/models"
)

// Store is the engine's persistence boundary. storage.GormStore implements it
// against Postgres; tests inject in-memory fakes.
type Store interface {
	// Campaigns
	GetCampaign(id uint) (*models.Campaign, error)
	UpdateCampaignFields(id uint, fields map[string]interface{}) error
	IncrementCampaignCounter(id uint, column string, delta int) error
	AppendCampaignLog(campaignID uint, level, message, details string) error

	// Recipients, in the queue's deterministic dispatch order. GetRecipient
	// serves the dispatch-time blacklist re-check: the snapshot from
	// ListCampaignRecipients goes stale as soon as another queue of the same
	// user blacklists an address.
	ListCampaignRecipients(campaignID uint) ([]models.Recipient, error)
	GetRecipient(id uint) (*models.Recipient, error)
	RecordRecipientSuccess(recipientID uint) (*models.Recipient, error)
	RecordRecipientFailure(recipientID uint, reason string, bounce bool) (*models.Recipient, error)
	BlacklistRecipient(userID uint, email string) error

	// Send attempts
	CreateSentEmail(e *models.SentEmail) error
	UpdateSentEmailFields(id uint, fields map[string]interface{}) error
	GetSentEmail(id uint) (*models.SentEmail, error)

	// Delivery tracking, first-event-wins. The bool reports whether this call was
	// the first event (and therefore incremented the campaign counter).
	MarkOpened(sentEmailID uint, at time.Time) (bool, error)
	MarkClicked(sentEmailID uint, at time.Time) (bool, error)

	// Profiles
	GetEmailProfile(id uint) (*models.EmailProfile, error)
	IncrementProfileUsage(profileID uint) error
	ResetDailyProfileCounters() error

	// Recovery: campaigns with status sending or paused, plus scheduled ones that
	// are due at now.
	ListRecoverableCampaigns(now time.Time) ([]models.Campaign, error)
}

// OutgoingEmail is one rendered message handed to the transport
type OutgoingEmail struct {
	To        string
	ToName    string
	Subject   string
	Body      string
	MessageID string
}

// Mailer is the mail transport capability supplied by an external collaborator
type Mailer interface {
	Connect(profile *models.EmailProfile) error
	Verify(profile *models.EmailProfile) error
	SendMail(profile *models.EmailProfile, email OutgoingEmail) (string, error)
}

// QueueStats is a point-in-time snapshot of a single queue
type QueueStats struct {
	CampaignID  uint   `json:"campaign_id"`
	State       string `json:"state"`
	QueueLength int    `json:"queue_length"`
	Processing  int    `json:"processing"`
	Completed   int    `json:"completed"`
	Failed      int    `json:"failed"`
	Pending     int    `json:"pending"`
}

// GlobalStats aggregates across every live queue
type GlobalStats struct {
	ActiveQueues int `json:"active_queues"`
	QueueLength  int `json:"queue_length"`
	Processing   int `json:"processing"`
	Completed    int `json:"completed"`
	Failed       int `json:"failed"`
	Pending      int `json:"pending"`
}
