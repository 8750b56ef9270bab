package worker

import (
	"fmt"
	"sync"
	"time"

	"mailhive/models"
)

// memStore is the in-memory Store used across the engine tests.
type memStore struct {
	mu         sync.Mutex
	campaigns  map[uint]*models.Campaign
	recipients map[uint]*models.Recipient
	order      map[uint][]uint // campaign id -> recipient ids in dispatch order
	profiles   map[uint]*models.EmailProfile
	sent       map[uint]*models.SentEmail
	nextSentID uint
	logs       []models.CampaignLog
	resetCalls int

	errOn map[string]error // operation name -> injected error
}

func newMemStore() *memStore {
	return &memStore{
		campaigns:  make(map[uint]*models.Campaign),
		recipients: make(map[uint]*models.Recipient),
		order:      make(map[uint][]uint),
		profiles:   make(map[uint]*models.EmailProfile),
		sent:       make(map[uint]*models.SentEmail),
		errOn:      make(map[string]error),
	}
}

func (s *memStore) failOn(op string, err error) {
	s.mu.Lock()
	s.errOn[op] = err
	s.mu.Unlock()
}

func (s *memStore) injected(op string) error {
	return s.errOn[op]
}

func (s *memStore) addCampaign(c *models.Campaign) {
	s.mu.Lock()
	s.campaigns[c.ID] = c
	s.mu.Unlock()
}

func (s *memStore) addProfile(p *models.EmailProfile) {
	s.mu.Lock()
	s.profiles[p.ID] = p
	s.mu.Unlock()
}

func (s *memStore) addRecipient(r *models.Recipient) {
	s.mu.Lock()
	s.recipients[r.ID] = r
	s.order[r.CampaignID] = append(s.order[r.CampaignID], r.ID)
	s.mu.Unlock()
}

func (s *memStore) campaignCopy(id uint) models.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaigns[id]
}

func (s *memStore) recipientCopy(id uint) models.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.recipients[id]
}

func (s *memStore) sentRows(campaignID uint) []models.SentEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []models.SentEmail
	for id := uint(1); id <= s.nextSentID; id++ {
		if row, ok := s.sent[id]; ok && row.CampaignID == campaignID {
			rows = append(rows, *row)
		}
	}
	return rows
}

func (s *memStore) logMessages(campaignID uint) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []string
	for _, l := range s.logs {
		if l.CampaignID == campaignID {
			msgs = append(msgs, l.Message)
		}
	}
	return msgs
}

func (s *memStore) GetCampaign(id uint) (*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("GetCampaign"); err != nil {
		return nil, err
	}
	c, ok := s.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %d not found", id)
	}
	copied := *c
	return &copied, nil
}

func (s *memStore) UpdateCampaignFields(id uint, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("UpdateCampaignFields"); err != nil {
		return err
	}
	c, ok := s.campaigns[id]
	if !ok {
		return fmt.Errorf("campaign %d not found", id)
	}
	for key, value := range fields {
		switch key {
		case "status":
			c.Status = value.(string)
		case "is_paused":
			c.IsPaused = value.(bool)
		case "started_at":
			c.StartedAt = value.(*time.Time)
		case "completed_at":
			c.CompletedAt = value.(*time.Time)
		case "last_sent_at":
			c.LastSentAt = value.(*time.Time)
		case "scheduled_at":
			c.ScheduledAt = value.(*time.Time)
		case "last_processed_index":
			c.LastProcessedIndex = value.(int)
		case "total_recipients":
			c.TotalRecipients = value.(int)
		}
	}
	return nil
}

func (s *memStore) IncrementCampaignCounter(id uint, column string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("IncrementCampaignCounter"); err != nil {
		return err
	}
	c, ok := s.campaigns[id]
	if !ok {
		return fmt.Errorf("campaign %d not found", id)
	}
	switch column {
	case "sent_count":
		c.SentCount += delta
	case "delivered_count":
		c.DeliveredCount += delta
	case "failed_count":
		c.FailedCount += delta
	case "opened_count":
		c.OpenedCount += delta
	case "clicked_count":
		c.ClickedCount += delta
	}
	return nil
}

func (s *memStore) AppendCampaignLog(campaignID uint, level, message, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, models.CampaignLog{
		CampaignID: campaignID,
		Level:      level,
		Message:    message,
		Details:    details,
	})
	return nil
}

func (s *memStore) ListCampaignRecipients(campaignID uint) ([]models.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("ListCampaignRecipients"); err != nil {
		return nil, err
	}
	recipients := make([]models.Recipient, 0, len(s.order[campaignID]))
	for _, id := range s.order[campaignID] {
		recipients = append(recipients, *s.recipients[id])
	}
	return recipients, nil
}

func (s *memStore) GetRecipient(id uint) (*models.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("GetRecipient"); err != nil {
		return nil, err
	}
	r, ok := s.recipients[id]
	if !ok {
		return nil, fmt.Errorf("recipient %d not found", id)
	}
	copied := *r
	return &copied, nil
}

func (s *memStore) RecordRecipientSuccess(recipientID uint) (*models.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[recipientID]
	if !ok {
		return nil, fmt.Errorf("recipient %d not found", recipientID)
	}
	r.SuccessCount++
	copied := *r
	return &copied, nil
}

func (s *memStore) RecordRecipientFailure(recipientID uint, reason string, bounce bool) (*models.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[recipientID]
	if !ok {
		return nil, fmt.Errorf("recipient %d not found", recipientID)
	}
	if bounce {
		r.BounceCount++
	} else {
		r.FailureCount++
	}
	r.LastFailureReason = reason
	copied := *r
	return &copied, nil
}

func (s *memStore) BlacklistRecipient(userID uint, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recipients {
		if r.UserID == userID && r.Email == email {
			r.IsBlacklisted = true
			r.EmailStatus = models.EmailStatusBlacklisted
		}
	}
	return nil
}

func (s *memStore) CreateSentEmail(e *models.SentEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("CreateSentEmail"); err != nil {
		return err
	}
	s.nextSentID++
	e.ID = s.nextSentID
	copied := *e
	s.sent[e.ID] = &copied
	return nil
}

func (s *memStore) UpdateSentEmailFields(id uint, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("UpdateSentEmailFields"); err != nil {
		return err
	}
	e, ok := s.sent[id]
	if !ok {
		return fmt.Errorf("sent email %d not found", id)
	}
	for key, value := range fields {
		switch key {
		case "status":
			e.Status = value.(string)
		case "message_id":
			e.MessageID = value.(string)
		case "error_message":
			e.ErrorMessage = value.(string)
		case "sent_at":
			e.SentAt = value.(*time.Time)
		case "bounced_at":
			e.BouncedAt = value.(*time.Time)
		}
	}
	return nil
}

func (s *memStore) GetSentEmail(id uint) (*models.SentEmail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sent[id]
	if !ok {
		return nil, fmt.Errorf("sent email %d not found", id)
	}
	copied := *e
	return &copied, nil
}

func (s *memStore) MarkOpened(sentEmailID uint, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sent[sentEmailID]
	if !ok {
		return false, fmt.Errorf("sent email %d not found", sentEmailID)
	}
	if e.OpenedAt != nil {
		return false, nil
	}
	e.OpenedAt = &at
	if c, ok := s.campaigns[e.CampaignID]; ok {
		c.OpenedCount++
	}
	return true, nil
}

func (s *memStore) MarkClicked(sentEmailID uint, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sent[sentEmailID]
	if !ok {
		return false, fmt.Errorf("sent email %d not found", sentEmailID)
	}
	if e.ClickedAt != nil {
		return false, nil
	}
	e.ClickedAt = &at
	if c, ok := s.campaigns[e.CampaignID]; ok {
		c.ClickedCount++
	}
	return true, nil
}

func (s *memStore) GetEmailProfile(id uint) (*models.EmailProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("GetEmailProfile"); err != nil {
		return nil, err
	}
	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("email profile %d not found", id)
	}
	copied := *p
	return &copied, nil
}

func (s *memStore) IncrementProfileUsage(profileID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[profileID]
	if !ok {
		return fmt.Errorf("email profile %d not found", profileID)
	}
	p.SentToday++
	p.TotalSent++
	return nil
}

func (s *memStore) ResetDailyProfileCounters() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.profiles {
		p.SentToday = 0
	}
	s.resetCalls++
	return nil
}

func (s *memStore) ListRecoverableCampaigns(now time.Time) ([]models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("ListRecoverableCampaigns"); err != nil {
		return nil, err
	}
	var campaigns []models.Campaign
	for _, c := range s.campaigns {
		switch {
		case c.Status == models.CampaignStatusSending || c.Status == models.CampaignStatusPaused:
			campaigns = append(campaigns, *c)
		case c.Status == models.CampaignStatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now):
			campaigns = append(campaigns, *c)
		}
	}
	return campaigns, nil
}

// fakeMailer records outgoing messages and can fail selected addresses.
type fakeMailer struct {
	mu     sync.Mutex
	sent   []OutgoingEmail
	errFor map[string]error
	onSend func(n int, email OutgoingEmail)
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{errFor: make(map[string]error)}
}

func (m *fakeMailer) Connect(*models.EmailProfile) error { return nil }
func (m *fakeMailer) Verify(*models.EmailProfile) error  { return nil }

func (m *fakeMailer) SendMail(_ *models.EmailProfile, email OutgoingEmail) (string, error) {
	m.mu.Lock()
	if err := m.errFor[email.To]; err != nil {
		m.mu.Unlock()
		return "", err
	}
	m.sent = append(m.sent, email)
	n := len(m.sent)
	cb := m.onSend
	m.mu.Unlock()

	if cb != nil {
		cb(n, email)
	}
	return fmt.Sprintf("<%d@fake.test>", n), nil
}

func (m *fakeMailer) sentTo() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	addrs := make([]string, len(m.sent))
	for i, e := range m.sent {
		addrs[i] = e.To
	}
	return addrs
}
