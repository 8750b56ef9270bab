package storage

import (
	"time"

	"gorm.io/gorm"

	"mailhive/models"
)

// GormStore implements worker.Store against the relational database
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetCampaign(id uint) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := s.db.First(&campaign, id).Error; err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (s *GormStore) UpdateCampaignFields(id uint, fields map[string]interface{}) error {
	return s.db.Model(&models.Campaign{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (s *GormStore) IncrementCampaignCounter(id uint, column string, delta int) error {
	return s.db.Model(&models.Campaign{}).
		Where("id = ?", id).
		Update(column, gorm.Expr(column+" + ?", delta)).Error
}

func (s *GormStore) AppendCampaignLog(campaignID uint, level, message, details string) error {
	return s.db.Create(&models.CampaignLog{
		CampaignID: campaignID,
		Level:      level,
		Message:    message,
		Details:    details,
	}).Error
}

// ListCampaignRecipients returns the campaign's recipient snapshot in the
// queue's deterministic dispatch order: sort key first, creation time second.
func (s *GormStore) ListCampaignRecipients(campaignID uint) ([]models.Recipient, error) {
	var recipients []models.Recipient
	err := s.db.Where("campaign_id = ?", campaignID).
		Order("email ASC, created_at ASC, id ASC").
		Find(&recipients).Error
	return recipients, err
}

func (s *GormStore) GetRecipient(id uint) (*models.Recipient, error) {
	var recipient models.Recipient
	if err := s.db.First(&recipient, id).Error; err != nil {
		return nil, err
	}
	return &recipient, nil
}

func (s *GormStore) RecordRecipientSuccess(recipientID uint) (*models.Recipient, error) {
	var recipient models.Recipient
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Recipient{}).
			Where("id = ?", recipientID).
			Update("success_count", gorm.Expr("success_count + 1")).Error; err != nil {
			return err
		}
		return tx.First(&recipient, recipientID).Error
	})
	if err != nil {
		return nil, err
	}
	return &recipient, nil
}

func (s *GormStore) RecordRecipientFailure(recipientID uint, reason string, bounce bool) (*models.Recipient, error) {
	column := "failure_count"
	if bounce {
		column = "bounce_count"
	}
	var recipient models.Recipient
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Recipient{}).
			Where("id = ?", recipientID).
			Updates(map[string]interface{}{
				column:                gorm.Expr(column + " + 1"),
				"last_failure_reason": reason,
			}).Error; err != nil {
			return err
		}
		return tx.First(&recipient, recipientID).Error
	})
	if err != nil {
		return nil, err
	}
	return &recipient, nil
}

// BlacklistRecipient blacklists every recipient row sharing the user and email,
// so the user's other campaigns skip the address as well.
func (s *GormStore) BlacklistRecipient(userID uint, email string) error {
	return s.db.Model(&models.Recipient{}).
		Where("user_id = ? AND email = ?", userID, email).
		Updates(map[string]interface{}{
			"is_blacklisted": true,
			"email_status":   models.EmailStatusBlacklisted,
		}).Error
}

func (s *GormStore) CreateSentEmail(e *models.SentEmail) error {
	return s.db.Create(e).Error
}

func (s *GormStore) UpdateSentEmailFields(id uint, fields map[string]interface{}) error {
	return s.db.Model(&models.SentEmail{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (s *GormStore) GetSentEmail(id uint) (*models.SentEmail, error) {
	var sent models.SentEmail
	if err := s.db.First(&sent, id).Error; err != nil {
		return nil, err
	}
	return &sent, nil
}

// MarkOpened sets OpenedAt and bumps the campaign open counter exactly once.
// The conditional update keys on opened_at IS NULL, so concurrent pixel hits
// for one SentEmail increment the counter a single time.
func (s *GormStore) MarkOpened(sentEmailID uint, at time.Time) (bool, error) {
	first := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.SentEmail{}).
			Where("id = ? AND opened_at IS NULL", sentEmailID).
			Update("opened_at", at)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		first = true
		var sent models.SentEmail
		if err := tx.First(&sent, sentEmailID).Error; err != nil {
			return err
		}
		return tx.Model(&models.Campaign{}).
			Where("id = ?", sent.CampaignID).
			Update("opened_count", gorm.Expr("opened_count + 1")).Error
	})
	return first, err
}

// MarkClicked applies the same first-event-wins rule as MarkOpened
func (s *GormStore) MarkClicked(sentEmailID uint, at time.Time) (bool, error) {
	first := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.SentEmail{}).
			Where("id = ? AND clicked_at IS NULL", sentEmailID).
			Update("clicked_at", at)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		first = true
		var sent models.SentEmail
		if err := tx.First(&sent, sentEmailID).Error; err != nil {
			return err
		}
		return tx.Model(&models.Campaign{}).
			Where("id = ?", sent.CampaignID).
			Update("clicked_count", gorm.Expr("clicked_count + 1")).Error
	})
	return first, err
}

func (s *GormStore) GetEmailProfile(id uint) (*models.EmailProfile, error) {
	var profile models.EmailProfile
	if err := s.db.First(&profile, id).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *GormStore) IncrementProfileUsage(profileID uint) error {
	return s.db.Model(&models.EmailProfile{}).
		Where("id = ?", profileID).
		Updates(map[string]interface{}{
			"sent_today": gorm.Expr("sent_today + ?", 1),
			"total_sent": gorm.Expr("total_sent + ?", 1),
		}).Error
}

func (s *GormStore) ResetDailyProfileCounters() error {
	return s.db.Model(&models.EmailProfile{}).
		Where("sent_today > 0").
		Update("sent_today", 0).Error
}

// ListRecoverableCampaigns returns campaigns that should have a live queue:
// sending, paused, and scheduled campaigns whose start time has passed.
func (s *GormStore) ListRecoverableCampaigns(now time.Time) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := s.db.Where("status IN ?", []string{models.CampaignStatusSending, models.CampaignStatusPaused}).
		Or("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", models.CampaignStatusScheduled, now).
		Find(&campaigns).Error
	return campaigns, err
}
