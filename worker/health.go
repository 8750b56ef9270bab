package worker

import (
	"github.com/sirupsen/logrus"
)

// DefaultBlacklistThreshold is the canonical combined (bounce + failure) count at
// which a recipient is auto-blacklisted.
const DefaultBlacklistThreshold = 3

// RecipientHealthTracker updates per-recipient success/failure/bounce counters on
// every terminal send outcome and enforces auto-blacklisting. Once blacklisted, a
// recipient is skipped by every queue of the owning user until explicitly
// un-blacklisted by an external action.
type RecipientHealthTracker struct {
	store     Store
	threshold int
	log       *logrus.Entry
}

func NewRecipientHealthTracker(store Store, threshold int, logger *logrus.Logger) *RecipientHealthTracker {
	if threshold <= 0 {
		threshold = DefaultBlacklistThreshold
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RecipientHealthTracker{
		store:     store,
		threshold: threshold,
		log:       logger.WithField("component", "recipient_health"),
	}
}

// RecordSuccess increments the recipient's success counter. Historical failure
// and bounce counts are kept; a recovered recipient does not reset them.
func (t *RecipientHealthTracker) RecordSuccess(recipientID uint) error {
	_, err := t.store.RecordRecipientSuccess(recipientID)
	return err
}

// RecordFailure increments the failure or bounce counter and blacklists the
// recipient once the combined count reaches the threshold.
func (t *RecipientHealthTracker) RecordFailure(recipientID uint, reason string, bounce bool) error {
	r, err := t.store.RecordRecipientFailure(recipientID, reason, bounce)
	if err != nil {
		return err
	}
	if r.IsBlacklisted {
		return nil
	}
	if r.BounceCount+r.FailureCount >= t.threshold {
		if err := t.store.BlacklistRecipient(r.UserID, r.Email); err != nil {
			return err
		}
		t.log.WithFields(logrus.Fields{
			"recipient_id":  r.ID,
			"email":         r.Email,
			"bounce_count":  r.BounceCount,
			"failure_count": r.FailureCount,
		}).Warn("Recipient auto-blacklisted")
	}
	return nil
}
