package worker

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/badoux/checkmail"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mailhive/models"
)

// Queue states. Paused and running are mutually reachable; stopped, completed and
// failed are terminal for this queue instance.
const (
	QueueStateRunning   = "running"
	QueueStatePaused    = "paused"
	QueueStateStopped   = "stopped"
	QueueStateCompleted = "completed"
	QueueStateFailed    = "failed"
)

// CampaignQueue is the per-campaign worker loop. It walks the recipient snapshot
// in a stable deterministic order, applies rate limiting and the time window,
// renders content, invokes the transport and persists every outcome. It is
// logically single-threaded: one send in flight at a time for its campaign.
type CampaignQueue struct {
	campaignID     uint
	store          Store
	mailer         Mailer
	health         *RecipientHealthTracker
	profileMu      *sync.Mutex
	log            *logrus.Entry
	rng            *rand.Rand
	trackingBase   string
	trackingSecret string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	onExit func(campaignID uint)

	mu         sync.Mutex
	state      string
	paused     bool
	suspended  bool
	resumeCh   chan struct{}
	total      int
	cursor     int
	completed  int
	failed     int
	processing int
}

func newCampaignQueue(campaignID uint, store Store, mailer Mailer, health *RecipientHealthTracker, profileMu *sync.Mutex, cfg ManagerConfig, logger *logrus.Logger, onExit func(uint)) *CampaignQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &CampaignQueue{
		campaignID:     campaignID,
		store:          store,
		mailer:         mailer,
		health:         health,
		profileMu:      profileMu,
		log:            logger.WithFields(logrus.Fields{"component": "campaign_queue", "campaign_id": campaignID}),
		rng:            rand.New(rand.NewSource(time.Now().UnixNano() + int64(campaignID))),
		trackingBase:   cfg.TrackingBaseURL,
		trackingSecret: cfg.TrackingSecret,
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		onExit:         onExit,
		state:          QueueStateRunning,
		resumeCh:       make(chan struct{}),
	}
}

// CampaignID returns the id of the campaign this queue owns
func (q *CampaignQueue) CampaignID() uint { return q.campaignID }

// Done is closed once the worker loop has fully torn down
func (q *CampaignQueue) Done() <-chan struct{} { return q.done }

// IsRunning reports whether the queue instance is still live (running or paused)
func (q *CampaignQueue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state == QueueStateRunning || q.state == QueueStatePaused
}

// State returns the current queue state
func (q *CampaignQueue) State() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Stats returns a point-in-time snapshot of queue progress
func (q *CampaignQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.total - q.cursor
	if pending < 0 {
		pending = 0
	}
	return QueueStats{
		CampaignID:  q.campaignID,
		State:       q.state,
		QueueLength: q.total,
		Processing:  q.processing,
		Completed:   q.completed,
		Failed:      q.failed,
		Pending:     pending,
	}
}

// Pause suspends the loop before its next send. The in-flight iteration finishes
// first; progress is preserved exactly.
func (q *CampaignQueue) Pause() error {
	q.mu.Lock()
	if q.state != QueueStateRunning {
		state := q.state
		q.mu.Unlock()
		return fmt.Errorf("cannot pause queue in state %s", state)
	}
	q.paused = true
	q.state = QueueStatePaused
	q.resumeCh = make(chan struct{})
	q.mu.Unlock()

	if err := q.store.UpdateCampaignFields(q.campaignID, map[string]interface{}{
		"status":    models.CampaignStatusPaused,
		"is_paused": true,
	}); err != nil {
		return err
	}
	q.logTransition(models.CampaignStatusPaused, "queue paused")
	return nil
}

// Resume lifts a pause and wakes the suspended loop
func (q *CampaignQueue) Resume() error {
	q.mu.Lock()
	if q.state != QueueStatePaused {
		state := q.state
		q.mu.Unlock()
		return fmt.Errorf("cannot resume queue in state %s", state)
	}
	q.paused = false
	q.state = QueueStateRunning
	close(q.resumeCh)
	q.mu.Unlock()

	if err := q.store.UpdateCampaignFields(q.campaignID, map[string]interface{}{
		"status":    models.CampaignStatusSending,
		"is_paused": false,
	}); err != nil {
		return err
	}
	q.logTransition(models.CampaignStatusSending, "queue resumed")
	return nil
}

// Stop cancels pending waits immediately. An in-flight transport call is allowed
// to finish before the queue transitions to stopped, so no send is left in an
// ambiguous half-sent state.
func (q *CampaignQueue) Stop() {
	q.cancel()
}

// Run executes the worker loop. It must be called exactly once, on its own
// goroutine.
func (q *CampaignQueue) Run() {
	defer close(q.done)
	defer func() {
		if q.onExit != nil {
			q.onExit(q.campaignID)
		}
	}()

	campaign, err := q.store.GetCampaign(q.campaignID)
	if err != nil {
		q.fail(fmt.Errorf("load campaign: %w", err))
		return
	}
	profile, err := q.store.GetEmailProfile(campaign.EmailProfileID)
	if err != nil {
		q.fail(fmt.Errorf("load email profile: %w", err))
		return
	}
	recipients, err := q.store.ListCampaignRecipients(q.campaignID)
	if err != nil {
		q.fail(fmt.Errorf("load recipients: %w", err))
		return
	}
	policy := PolicyFor(campaign, profile)

	q.mu.Lock()
	q.total = len(recipients)
	q.cursor = campaign.LastProcessedIndex
	q.mu.Unlock()

	// A campaign paused before a restart comes back up with its queue attached in
	// the paused state, waiting for an explicit resume.
	if campaign.IsPaused && campaign.Status == models.CampaignStatusPaused {
		q.mu.Lock()
		q.paused = true
		q.state = QueueStatePaused
		q.resumeCh = make(chan struct{})
		q.mu.Unlock()
		q.logTransition(models.CampaignStatusPaused, "queue attached in paused state")
	} else {
		now := time.Now()
		if err := q.store.UpdateCampaignFields(q.campaignID, map[string]interface{}{
			"status":           models.CampaignStatusSending,
			"is_paused":        false,
			"started_at":       &now,
			"total_recipients": len(recipients),
		}); err != nil {
			q.fail(fmt.Errorf("mark campaign sending: %w", err))
			return
		}
		q.logTransition(models.CampaignStatusSending, fmt.Sprintf("queue started at index %d of %d", campaign.LastProcessedIndex, len(recipients)))
	}

	for i := campaign.LastProcessedIndex; i < len(recipients); i++ {
		if err := q.waitWhilePaused(); err != nil {
			q.stopped()
			return
		}
		if err := q.waitForSendWindow(policy); err != nil {
			q.stopped()
			return
		}

		// Re-read the row at dispatch time: the snapshot goes stale when another
		// queue of the same user blacklists the address mid-run.
		recipient := recipients[i]
		if fresh, err := q.store.GetRecipient(recipient.ID); err == nil {
			recipient = *fresh
		}
		if recipient.IsBlacklisted {
			q.log.WithField("recipient_id", recipient.ID).Debug("Skipping blacklisted recipient")
			q.store.AppendCampaignLog(q.campaignID, "info", "recipient skipped",
				fmt.Sprintf("recipient %d (%s): %v", recipient.ID, recipient.Email, ErrRecipientBlacklisted))
			if err := q.advance(i); err != nil {
				q.fail(fmt.Errorf("persist progress: %w", err))
				return
			}
			continue
		}

		if err := q.waitForProfileCapacity(profile.ID); err != nil {
			q.stopped()
			return
		}
		if err := q.sleep(policy.NextDelay(q.rng)); err != nil {
			q.stopped()
			return
		}
		// The rate delay may have carried the loop past the window's closing edge.
		if err := q.waitForSendWindow(policy); err != nil {
			q.stopped()
			return
		}

		attempt, err := q.createAttempt(profile, &recipient)
		if err != nil {
			q.fail(fmt.Errorf("persist send attempt: %w", err))
			return
		}
		sendErr := q.send(campaign, profile, &recipient, attempt)
		if sendErr != nil {
			// Per-recipient transport errors never abort the loop; only a failed
			// store write does.
			if err := q.recordFailure(&recipient, attempt, sendErr); err != nil {
				q.fail(fmt.Errorf("persist send failure: %w", err))
				return
			}
		} else if err := q.recordSuccess(&recipient, profile, attempt); err != nil {
			q.fail(fmt.Errorf("persist send result: %w", err))
			return
		}

		if err := q.advance(i); err != nil {
			q.fail(fmt.Errorf("persist progress: %w", err))
			return
		}
		if q.ctx.Err() != nil {
			q.stopped()
			return
		}
	}

	q.complete()
}

// createAttempt persists the SentEmail row before the transport call so tracking
// URLs can reference its id.
func (q *CampaignQueue) createAttempt(profile *models.EmailProfile, recipient *models.Recipient) (*models.SentEmail, error) {
	sent := &models.SentEmail{
		CampaignID:     q.campaignID,
		RecipientID:    recipient.ID,
		EmailProfileID: profile.ID,
		Status:         models.SentEmailStatusQueued,
		MessageID:      uuid.New().String(),
	}
	if err := q.store.CreateSentEmail(sent); err != nil {
		return nil, err
	}
	return sent, nil
}

// send renders and dispatches one message. The returned error is a per-recipient
// transport (or address validation) failure.
func (q *CampaignQueue) send(campaign *models.Campaign, profile *models.EmailProfile, recipient *models.Recipient, attempt *models.SentEmail) error {
	if err := checkmail.ValidateFormat(recipient.Email); err != nil {
		return &SendError{Kind: SendErrorRejected, Err: fmt.Errorf("invalid address %q: %w", recipient.Email, err)}
	}

	now := time.Now()
	body := renderContent(campaign.Body, recipient, now)
	if q.trackingBase != "" {
		body = InjectTracking(body, q.trackingBase, attempt.ID, q.trackingSecret)
	}
	email := OutgoingEmail{
		To:        recipient.Email,
		ToName:    recipient.Name,
		Subject:   renderContent(campaign.Subject, recipient, now),
		Body:      body,
		MessageID: attempt.MessageID,
	}

	q.setProcessing(1)
	q.profileMu.Lock()
	returnedID, err := q.mailer.SendMail(profile, email)
	q.profileMu.Unlock()
	q.setProcessing(0)

	if returnedID != "" {
		attempt.MessageID = returnedID
	}
	return err
}

func (q *CampaignQueue) recordSuccess(recipient *models.Recipient, profile *models.EmailProfile, attempt *models.SentEmail) error {
	now := time.Now()
	if err := q.store.UpdateSentEmailFields(attempt.ID, map[string]interface{}{
		"status":     models.SentEmailStatusSent,
		"message_id": attempt.MessageID,
		"sent_at":    &now,
	}); err != nil {
		return err
	}
	if err := q.store.IncrementCampaignCounter(q.campaignID, "sent_count", 1); err != nil {
		return err
	}
	if err := q.store.IncrementCampaignCounter(q.campaignID, "delivered_count", 1); err != nil {
		return err
	}
	if err := q.store.UpdateCampaignFields(q.campaignID, map[string]interface{}{"last_sent_at": &now}); err != nil {
		return err
	}
	if err := q.store.IncrementProfileUsage(profile.ID); err != nil {
		return err
	}
	if err := q.health.RecordSuccess(recipient.ID); err != nil {
		return err
	}

	q.mu.Lock()
	q.completed++
	q.mu.Unlock()
	q.log.WithFields(logrus.Fields{"recipient_id": recipient.ID, "message_id": attempt.MessageID}).Info("Email sent")
	return nil
}

func (q *CampaignQueue) recordFailure(recipient *models.Recipient, attempt *models.SentEmail, sendErr error) error {
	classified := ClassifySendError(sendErr)
	now := time.Now()
	fields := map[string]interface{}{
		"status":        models.SentEmailStatusFailed,
		"error_message": classified.Error(),
		"sent_at":       &now,
	}
	if classified.IsBounce() {
		fields["bounced_at"] = &now
	}
	if err := q.store.UpdateSentEmailFields(attempt.ID, fields); err != nil {
		return err
	}
	if err := q.store.IncrementCampaignCounter(q.campaignID, "failed_count", 1); err != nil {
		return err
	}
	if err := q.health.RecordFailure(recipient.ID, classified.Error(), classified.IsBounce()); err != nil {
		return err
	}
	if err := q.store.AppendCampaignLog(q.campaignID, "error", "send failed",
		fmt.Sprintf("recipient %d (%s): %s", recipient.ID, recipient.Email, classified.Error())); err != nil {
		return err
	}

	q.mu.Lock()
	q.failed++
	q.mu.Unlock()
	q.log.WithFields(logrus.Fields{
		"recipient_id": recipient.ID,
		"error_kind":   string(classified.Kind),
	}).Warn("Email send failed")
	return nil
}

// advance durably moves the cursor past index i
func (q *CampaignQueue) advance(i int) error {
	if err := q.store.UpdateCampaignFields(q.campaignID, map[string]interface{}{
		"last_processed_index": i + 1,
	}); err != nil {
		return err
	}
	q.mu.Lock()
	q.cursor = i + 1
	q.mu.Unlock()
	return nil
}

func (q *CampaignQueue) complete() {
	q.setState(QueueStateCompleted)
	now := time.Now()
	if err := q.store.UpdateCampaignFields(q.campaignID, map[string]interface{}{
		"status":       models.CampaignStatusCompleted,
		"completed_at": &now,
	}); err != nil {
		q.log.WithError(err).Error("Failed to mark campaign completed")
	}
	q.logTransition(models.CampaignStatusCompleted, "all recipients processed")
}

func (q *CampaignQueue) stopped() {
	q.setState(QueueStateStopped)
	if err := q.store.UpdateCampaignFields(q.campaignID, map[string]interface{}{
		"status":    models.CampaignStatusStopped,
		"is_paused": false,
	}); err != nil {
		q.log.WithError(err).Error("Failed to mark campaign stopped")
	}
	q.logTransition(models.CampaignStatusStopped, "queue stopped")
}

// fail handles orchestration-level errors: the queue aborts and the campaign is
// marked failed. Never silently swallowed.
func (q *CampaignQueue) fail(err error) {
	q.setState(QueueStateFailed)
	q.log.WithError(err).Error("Campaign queue failed")
	sentry.CaptureException(err)
	if updErr := q.store.UpdateCampaignFields(q.campaignID, map[string]interface{}{
		"status": models.CampaignStatusFailed,
	}); updErr != nil {
		q.log.WithError(updErr).Error("Failed to mark campaign failed")
	}
	q.store.AppendCampaignLog(q.campaignID, "error", "campaign failed", err.Error())
	q.cancel()
}

func (q *CampaignQueue) setState(state string) {
	q.mu.Lock()
	q.state = state
	q.mu.Unlock()
}

// Suspended reports whether the loop is deliberately idle, waiting for its send
// window to open or for the profile's daily counter to reset. The recovery
// service uses this to tell intentional idleness apart from a stuck queue.
func (q *CampaignQueue) Suspended() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.suspended
}

func (q *CampaignQueue) setSuspended(v bool) {
	q.mu.Lock()
	q.suspended = v
	q.mu.Unlock()
}

func (q *CampaignQueue) setProcessing(n int) {
	q.mu.Lock()
	q.processing = n
	q.mu.Unlock()
}

func (q *CampaignQueue) logTransition(status, details string) {
	if err := q.store.AppendCampaignLog(q.campaignID, "info", "campaign status changed to "+status, details); err != nil {
		q.log.WithError(err).Warn("Failed to append campaign log")
	}
}

// waitWhilePaused suspends without busy-waiting until a resume signal or stop
func (q *CampaignQueue) waitWhilePaused() error {
	for {
		q.mu.Lock()
		if !q.paused {
			q.mu.Unlock()
			return nil
		}
		resume := q.resumeCh
		q.mu.Unlock()

		select {
		case <-q.ctx.Done():
			return q.ctx.Err()
		case <-resume:
		}
	}
}

// waitForSendWindow suspends until the configured time window opens
func (q *CampaignQueue) waitForSendWindow(policy SendPolicy) error {
	wait := policy.UntilWindowOpens(time.Now())
	if wait <= 0 {
		return nil
	}
	q.log.WithField("wait", wait.String()).Info("Outside send window, suspending")
	q.store.AppendCampaignLog(q.campaignID, "info", "send window closed",
		fmt.Sprintf("suspending for %s until window opens", wait))
	q.setSuspended(true)
	defer q.setSuspended(false)
	return q.sleep(wait)
}

// waitForProfileCapacity defers sends while the profile's daily limit is
// exhausted. Counters reset at midnight (see QueueManager.StartDailyReset).
func (q *CampaignQueue) waitForProfileCapacity(profileID uint) error {
	for {
		profile, err := q.store.GetEmailProfile(profileID)
		if err != nil {
			return nil // transient read failure falls through to the send attempt
		}
		if profile.DailyLimit <= 0 || profile.SentToday < profile.DailyLimit {
			return nil
		}
		now := time.Now()
		midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
		q.log.WithField("profile_id", profileID).Info("Profile daily limit reached, deferring sends")
		q.setSuspended(true)
		err = q.sleep(time.Until(midnight))
		q.setSuspended(false)
		if err != nil {
			return err
		}
	}
}

// sleep is a ctx-cancellable delay
func (q *CampaignQueue) sleep(d time.Duration) error {
	if d <= 0 {
		return q.ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-q.ctx.Done():
		return q.ctx.Err()
	case <-timer.C:
		return nil
	}
}

// renderContent substitutes recipient placeholders into subject or body text
func renderContent(text string, r *models.Recipient, now time.Time) string {
	name := r.Name
	if name == "" {
		if at := strings.Index(r.Email, "@"); at > 0 {
			name = r.Email[:at]
		} else {
			name = r.Email
		}
	}
	replacer := strings.NewReplacer(
		"{{name}}", name,
		"{{email}}", r.Email,
		"{{greeting}}", greetingFor(now),
		"{{date}}", now.Format("January 2, 2006"),
		"{{time}}", now.Format("15:04"),
	)
	return replacer.Replace(text)
}

func greetingFor(now time.Time) string {
	switch hour := now.Hour(); {
	case hour < 12:
		return "Good morning"
	case hour < 18:
		return "Good afternoon"
	default:
		return "Good evening"
	}
}
