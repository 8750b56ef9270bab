package worker

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrDuplicateStart is returned when a live queue already exists for the
	// campaign id. At most one live queue per campaign, system-wide.
	ErrDuplicateStart = errors.New("campaign queue is already running")

	// ErrQueueNotFound is returned by pause/resume/stop when no live queue exists.
	ErrQueueNotFound = errors.New("no live queue for campaign")

	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrCampaignFinished rejects starting a queue for a campaign already in a
	// terminal status (completed or failed). Stopped campaigns stay startable:
	// resuming one means attaching a fresh queue.
	ErrCampaignFinished = errors.New("campaign has already finished")

	// ErrRecipientBlacklisted marks a skip, not a failure.
	ErrRecipientBlacklisted = errors.New("recipient is blacklisted")
)

// SendErrorKind classifies transport failures
type SendErrorKind string

const (
	SendErrorAuth       SendErrorKind = "auth"
	SendErrorConnection SendErrorKind = "connection"
	SendErrorTimeout    SendErrorKind = "timeout"
	SendErrorRejected   SendErrorKind = "rejected"
	SendErrorOther      SendErrorKind = "other"
)

// SendError wraps a transport error with its classification
type SendError struct {
	Kind SendErrorKind
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed (%s): %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// IsBounce reports whether the failure counts toward the recipient's bounce
// counter rather than the failure counter.
func (e *SendError) IsBounce() bool { return e.Kind == SendErrorRejected }

// ClassifySendError maps an SMTP/transport error onto the send error taxonomy.
func ClassifySendError(err error) *SendError {
	var se *SendError
	if errors.As(err, &se) {
		return se
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &SendError{Kind: SendErrorTimeout, Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "535") || strings.Contains(msg, "534") ||
		strings.Contains(msg, "authentication") || strings.Contains(msg, "auth failed") ||
		strings.Contains(msg, "username and password"):
		return &SendError{Kind: SendErrorAuth, Err: err}
	case strings.Contains(msg, "550") || strings.Contains(msg, "551") ||
		strings.Contains(msg, "553") || strings.Contains(msg, "recipient") ||
		strings.Contains(msg, "mailbox") || strings.Contains(msg, "user unknown") ||
		strings.Contains(msg, "invalid address"):
		return &SendError{Kind: SendErrorRejected, Err: err}
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return &SendError{Kind: SendErrorTimeout, Err: err}
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "dial tcp") || strings.Contains(msg, "eof"):
		return &SendError{Kind: SendErrorConnection, Err: err}
	}
	return &SendError{Kind: SendErrorOther, Err: err}
}

// RecoveryError is returned when the recovery sequence exhausts its retry budget.
type RecoveryError struct {
	CampaignID uint
	Attempts   int
	Err        error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("recovery of campaign %d failed after %d attempts: %v", e.CampaignID, e.Attempts, e.Err)
}

func (e *RecoveryError) Unwrap() error { return e.Err }
