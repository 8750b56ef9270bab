package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mailhive/models"
)

// ManagerConfig carries the cross-queue settings every CampaignQueue inherits.
// An empty TrackingBaseURL disables open/click injection entirely.
type ManagerConfig struct {
	TrackingBaseURL string
	TrackingSecret  string
}

// QueueManager owns zero-or-one live queue per campaign id. The registry check
// and insert happen under one lock, so concurrent start requests for the same
// campaign yield exactly one queue and one ErrDuplicateStart.
type QueueManager struct {
	store  Store
	mailer Mailer
	health *RecipientHealthTracker
	cfg    ManagerConfig
	logger *logrus.Logger
	log    *logrus.Entry

	mu           sync.Mutex
	queues       map[uint]*CampaignQueue
	profileLocks map[uint]*sync.Mutex
}

func NewQueueManager(store Store, mailer Mailer, health *RecipientHealthTracker, cfg ManagerConfig, logger *logrus.Logger) *QueueManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &QueueManager{
		store:        store,
		mailer:       mailer,
		health:       health,
		cfg:          cfg,
		logger:       logger,
		log:          logger.WithField("component", "queue_manager"),
		queues:       make(map[uint]*CampaignQueue),
		profileLocks: make(map[uint]*sync.Mutex),
	}
}

// StartCampaignQueue creates and starts the worker queue for a campaign. It is
// rejected with ErrDuplicateStart while a live queue for that id exists, and
// with ErrCampaignFinished for campaigns in a terminal status.
func (m *QueueManager) StartCampaignQueue(campaignID uint) (*CampaignQueue, error) {
	campaign, err := m.store.GetCampaign(campaignID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCampaignNotFound, err)
	}
	if campaign.Status == models.CampaignStatusCompleted || campaign.Status == models.CampaignStatusFailed {
		return nil, fmt.Errorf("%w: campaign %d is %s", ErrCampaignFinished, campaignID, campaign.Status)
	}

	m.mu.Lock()
	if _, exists := m.queues[campaignID]; exists {
		m.mu.Unlock()
		return nil, ErrDuplicateStart
	}
	profileLock, ok := m.profileLocks[campaign.EmailProfileID]
	if !ok {
		profileLock = &sync.Mutex{}
		m.profileLocks[campaign.EmailProfileID] = profileLock
	}
	queue := newCampaignQueue(campaignID, m.store, m.mailer, m.health, profileLock, m.cfg, m.logger, m.removeQueue)
	m.queues[campaignID] = queue
	m.mu.Unlock()

	m.log.WithField("campaign_id", campaignID).Info("Starting campaign queue")
	go queue.Run()
	return queue, nil
}

// PauseCampaignQueue suspends the live queue for a campaign
func (m *QueueManager) PauseCampaignQueue(campaignID uint) error {
	queue, err := m.GetCampaignQueue(campaignID)
	if err != nil {
		return err
	}
	return queue.Pause()
}

// ResumeCampaignQueue resumes a paused queue
func (m *QueueManager) ResumeCampaignQueue(campaignID uint) error {
	queue, err := m.GetCampaignQueue(campaignID)
	if err != nil {
		return err
	}
	return queue.Resume()
}

// StopCampaignQueue cancels the live queue for a campaign. Pending waits are
// cancelled immediately; an in-flight send finishes first.
func (m *QueueManager) StopCampaignQueue(campaignID uint) error {
	queue, err := m.GetCampaignQueue(campaignID)
	if err != nil {
		return err
	}
	queue.Stop()
	return nil
}

// GetCampaignQueue returns the live queue for a campaign id
func (m *QueueManager) GetCampaignQueue(campaignID uint) (*CampaignQueue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue, ok := m.queues[campaignID]
	if !ok {
		return nil, ErrQueueNotFound
	}
	return queue, nil
}

// IsQueueRunning reports whether a live queue exists and is running or paused
func (m *QueueManager) IsQueueRunning(campaignID uint) bool {
	queue, err := m.GetCampaignQueue(campaignID)
	if err != nil {
		return false
	}
	return queue.IsRunning()
}

// GetAllStats returns a snapshot of every live queue
func (m *QueueManager) GetAllStats() []QueueStats {
	m.mu.Lock()
	queues := make([]*CampaignQueue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.Unlock()

	stats := make([]QueueStats, 0, len(queues))
	for _, q := range queues {
		stats = append(stats, q.Stats())
	}
	return stats
}

// GetGlobalStats aggregates across every live queue
func (m *QueueManager) GetGlobalStats() GlobalStats {
	var global GlobalStats
	for _, s := range m.GetAllStats() {
		global.ActiveQueues++
		global.QueueLength += s.QueueLength
		global.Processing += s.Processing
		global.Completed += s.Completed
		global.Failed += s.Failed
		global.Pending += s.Pending
	}
	return global
}

// Shutdown stops every live queue and waits for teardown or ctx expiry
func (m *QueueManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	queues := make([]*CampaignQueue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.Unlock()

	for _, q := range queues {
		q.Stop()
	}
	for _, q := range queues {
		select {
		case <-q.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// StartDailyReset resets per-profile daily send counters at midnight
func (m *QueueManager) StartDailyReset(ctx context.Context) {
	for {
		now := time.Now()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
		timer := time.NewTimer(time.Until(nextMidnight))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := m.store.ResetDailyProfileCounters(); err != nil {
			m.log.WithError(err).Error("Failed to reset profile daily counters")
		} else {
			m.log.Info("Profile daily counters reset")
		}
	}
}

func (m *QueueManager) removeQueue(campaignID uint) {
	m.mu.Lock()
	delete(m.queues, campaignID)
	m.mu.Unlock()
	m.log.WithField("campaign_id", campaignID).Info("Campaign queue deregistered")
}
