package worker

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"mailhive/models"
)

// SendPolicy is a pure function of campaign and profile config: how long to wait
// between sends and whether "now" falls inside the allowed send window.
type SendPolicy struct {
	EnableRandomInterval bool
	RandomIntervalMin    int // seconds
	RandomIntervalMax    int // seconds
	SendInterval         int // seconds, used when random intervals are off
	MaxEmailsPerHour     int // 0 disables the hourly cap

	EnableTimeLimit bool
	SendStartTime   string // "HH:MM"
	SendEndTime     string // "HH:MM"
}

// PolicyFor derives the effective policy from a campaign and its profile
func PolicyFor(c *models.Campaign, p *models.EmailProfile) SendPolicy {
	policy := SendPolicy{
		EnableRandomInterval: c.EnableRandomInterval,
		RandomIntervalMin:    c.RandomIntervalMin,
		RandomIntervalMax:    c.RandomIntervalMax,
		EnableTimeLimit:      c.EnableTimeLimit,
		SendStartTime:        c.SendStartTime,
		SendEndTime:          c.SendEndTime,
	}
	if p != nil {
		policy.SendInterval = p.SendInterval
		policy.MaxEmailsPerHour = p.MaxEmailsPerHour
	}
	return policy
}

// NextDelay returns the inter-send delay: uniform random in [min, max] seconds
// when random intervals are enabled, the profile's fixed interval otherwise.
// MaxEmailsPerHour, when set, imposes a floor of 3600/cap seconds so the profile
// never exceeds its hourly throughput.
func (p SendPolicy) NextDelay(rng *rand.Rand) time.Duration {
	var delay time.Duration
	if p.EnableRandomInterval && p.RandomIntervalMax >= p.RandomIntervalMin && p.RandomIntervalMin >= 0 {
		secs := p.RandomIntervalMin
		if span := p.RandomIntervalMax - p.RandomIntervalMin; span > 0 {
			secs += rng.Intn(span + 1)
		}
		delay = time.Duration(secs) * time.Second
	} else if p.SendInterval > 0 {
		delay = time.Duration(p.SendInterval) * time.Second
	}
	if p.MaxEmailsPerHour > 0 {
		if floor := time.Hour / time.Duration(p.MaxEmailsPerHour); delay < floor {
			delay = floor
		}
	}
	return delay
}

// InSendWindow reports whether now falls inside [SendStartTime, SendEndTime).
// Windows that cross midnight (22:00-06:00) are supported. A malformed window
// never blocks sending.
func (p SendPolicy) InSendWindow(now time.Time) bool {
	if !p.EnableTimeLimit {
		return true
	}
	start, err := parseClock(p.SendStartTime)
	if err != nil {
		return true
	}
	end, err := parseClock(p.SendEndTime)
	if err != nil {
		return true
	}
	minute := now.Hour()*60 + now.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

// UntilWindowOpens returns how long to suspend before the window opens, zero if
// it is already open. Deferred sends are never dropped.
func (p SendPolicy) UntilWindowOpens(now time.Time) time.Duration {
	if p.InSendWindow(now) {
		return 0
	}
	start, err := parseClock(p.SendStartTime)
	if err != nil {
		return 0
	}
	open := time.Date(now.Year(), now.Month(), now.Day(), start/60, start%60, 0, 0, now.Location())
	if !open.After(now) {
		open = open.Add(24 * time.Hour)
	}
	return open.Sub(now)
}

// parseClock parses "HH:MM" into minutes since midnight
func parseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour*60 + minute, nil
}
