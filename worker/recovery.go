package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"mailhive/models"
)

// QueueController is the slice of the QueueManager the recovery service needs.
type QueueController interface {
	StartCampaignQueue(campaignID uint) (*CampaignQueue, error)
	StopCampaignQueue(campaignID uint) error
	IsQueueRunning(campaignID uint) bool
	GetCampaignQueue(campaignID uint) (*CampaignQueue, error)
}

// RecoveryConfig tunes the reconciliation loop
type RecoveryConfig struct {
	Interval     time.Duration // tick between reconciliation passes
	StuckAfter   time.Duration // sending campaigns idle longer than this are stuck
	TeardownWait time.Duration // grace period after stopping a zombie queue
	VerifyWait   time.Duration // delay before verifying a restarted queue
	MaxAttempts  int           // restart attempts before marking the campaign failed
}

// DefaultRecoveryConfig returns the production tuning
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		Interval:     5 * time.Minute,
		StuckAfter:   30 * time.Minute,
		TeardownWait: 500 * time.Millisecond,
		VerifyWait:   250 * time.Millisecond,
		MaxAttempts:  2,
	}
}

// TaskRecoveryService reconciles persisted campaign state against live queues.
// It runs once on boot and then on a periodic tick, restarting orphaned work and
// repairing stuck campaigns with a bounded retry budget.
type TaskRecoveryService struct {
	store   Store
	manager QueueController
	cfg     RecoveryConfig
	log     *logrus.Entry
}

func NewTaskRecoveryService(store Store, manager QueueController, cfg RecoveryConfig, logger *logrus.Logger) *TaskRecoveryService {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRecoveryConfig().Interval
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = DefaultRecoveryConfig().StuckAfter
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRecoveryConfig().MaxAttempts
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TaskRecoveryService{
		store:   store,
		manager: manager,
		cfg:     cfg,
		log:     logger.WithField("component", "task_recovery"),
	}
}

// Start runs a reconciliation pass immediately, then on every tick until ctx is
// cancelled.
func (s *TaskRecoveryService) Start(ctx context.Context) {
	s.log.Info("Task recovery service started")
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Task recovery service shutting down")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single reconciliation pass and reports how many campaigns
// were recovered. It is also invoked on demand by the API layer.
func (s *TaskRecoveryService) RunOnce(ctx context.Context) (int, error) {
	now := time.Now()
	campaigns, err := s.store.ListRecoverableCampaigns(now)
	if err != nil {
		s.log.WithError(err).Error("Failed to list recoverable campaigns")
		return 0, err
	}

	recovered := 0
	for i := range campaigns {
		if ctx.Err() != nil {
			return recovered, ctx.Err()
		}
		campaign := &campaigns[i]
		running := s.manager.IsQueueRunning(campaign.ID)
		stuck := s.isStuck(campaign, now)
		if running && !stuck {
			continue
		}
		if running && stuck {
			// A queue idling inside its send-window or daily-limit wait is not
			// stuck, no matter how stale last_sent_at looks.
			if queue, err := s.manager.GetCampaignQueue(campaign.ID); err == nil && queue.Suspended() {
				continue
			}
		}

		reason := "no live queue"
		if stuck {
			reason = fmt.Sprintf("stuck: no send since %s", campaign.LastSentAt.Format(time.RFC3339))
		}
		if err := s.recoverCampaign(ctx, campaign, reason); err != nil {
			s.log.WithError(err).WithField("campaign_id", campaign.ID).Error("Campaign recovery failed")
			sentry.CaptureException(err)
			continue
		}
		recovered++
	}
	return recovered, nil
}

// GetCampaignTaskCount exposes the current queue depth for a campaign; API
// handlers use it to decide whether a start request would be a duplicate.
func (s *TaskRecoveryService) GetCampaignTaskCount(campaignID uint) int {
	queue, err := s.manager.GetCampaignQueue(campaignID)
	if err != nil {
		return 0
	}
	return queue.Stats().Pending
}

func (s *TaskRecoveryService) isStuck(c *models.Campaign, now time.Time) bool {
	if c.Status != models.CampaignStatusSending || c.LastSentAt == nil {
		return false
	}
	return now.Sub(*c.LastSentAt) > s.cfg.StuckAfter
}

// recoverCampaign runs the recovery sequence: stop any zombie queue, wait for
// teardown, restart, verify. Verification failure is retried within a bounded
// budget; exhausting it marks the campaign failed rather than looping forever.
func (s *TaskRecoveryService) recoverCampaign(ctx context.Context, campaign *models.Campaign, reason string) error {
	log := s.log.WithField("campaign_id", campaign.ID)
	log.WithField("reason", reason).Info("Recovering campaign")
	s.store.AppendCampaignLog(campaign.ID, "info", "recoverCampaign started", reason)

	// A half-dead queue may still be registered for this id.
	if err := s.manager.StopCampaignQueue(campaign.ID); err == nil {
		s.store.AppendCampaignLog(campaign.ID, "info", "recoverCampaign stopped zombie queue", "")
	} else if !errors.Is(err, ErrQueueNotFound) {
		s.store.AppendCampaignLog(campaign.ID, "warn", "recoverCampaign stop failed", err.Error())
	}
	if err := s.sleep(ctx, s.cfg.TeardownWait); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		_, err := s.manager.StartCampaignQueue(campaign.ID)
		if err != nil {
			lastErr = err
			s.store.AppendCampaignLog(campaign.ID, "error", "recoverCampaign start failed",
				fmt.Sprintf("attempt %d: %v", attempt, err))
			if waitErr := s.sleep(ctx, s.cfg.TeardownWait); waitErr != nil {
				return waitErr
			}
			continue
		}

		if err := s.sleep(ctx, s.cfg.VerifyWait); err != nil {
			return err
		}
		if s.manager.IsQueueRunning(campaign.ID) {
			log.WithField("attempt", attempt).Info("Campaign recovered")
			s.store.AppendCampaignLog(campaign.ID, "info", "recoverCampaign succeeded",
				fmt.Sprintf("queue verified running on attempt %d", attempt))
			return nil
		}

		lastErr = fmt.Errorf("queue verification failed on attempt %d", attempt)
		s.store.AppendCampaignLog(campaign.ID, "error", "recoverCampaign verification failed",
			fmt.Sprintf("attempt %d: queue not running after restart", attempt))
		s.manager.StopCampaignQueue(campaign.ID)
		if waitErr := s.sleep(ctx, s.cfg.TeardownWait); waitErr != nil {
			return waitErr
		}
	}

	if err := s.store.UpdateCampaignFields(campaign.ID, map[string]interface{}{
		"status": models.CampaignStatusFailed,
	}); err != nil {
		s.store.AppendCampaignLog(campaign.ID, "error", "recoverCampaign mark failed errored", err.Error())
	}
	s.store.AppendCampaignLog(campaign.ID, "error", "recoverCampaign gave up",
		fmt.Sprintf("campaign marked failed after %d attempts: %v", s.cfg.MaxAttempts, lastErr))
	return &RecoveryError{CampaignID: campaign.ID, Attempts: s.cfg.MaxAttempts, Err: lastErr}
}

func (s *TaskRecoveryService) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
