package utils

import (
	"crypto/tls"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"mailhive/models"
	"mailhive/worker"
)

// SMTPMailer is the production worker.Mailer backed by gomail. Each send dials
// with the campaign's email profile credentials, so one mailer instance serves
// every profile.
type SMTPMailer struct{}

func NewSMTPMailer() *SMTPMailer {
	return &SMTPMailer{}
}

func (m *SMTPMailer) dialer(profile *models.EmailProfile) *gomail.Dialer {
	dialer := gomail.NewDialer(
		profile.SMTPHost,
		profile.SMTPPort,
		profile.SMTPUsername,
		profile.SMTPPassword,
	)

	switch strings.ToUpper(profile.Encryption) {
	case "SSL", "TLS":
		dialer.SSL = true
		dialer.TLSConfig = &tls.Config{ServerName: profile.SMTPHost}
	case "STARTTLS":
		dialer.SSL = false
		dialer.TLSConfig = &tls.Config{ServerName: profile.SMTPHost}
	case "NONE":
		dialer.SSL = false
	default:
		dialer.TLSConfig = &tls.Config{ServerName: profile.SMTPHost}
	}

	return dialer
}

// Connect performs a dial-and-close round trip to check reachability and auth
func (m *SMTPMailer) Connect(profile *models.EmailProfile) error {
	closer, err := m.dialer(profile).Dial()
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	return closer.Close()
}

// Verify checks the profile can authenticate before a campaign starts using it
func (m *SMTPMailer) Verify(profile *models.EmailProfile) error {
	if profile.SMTPHost == "" || profile.SMTPPort == 0 {
		return fmt.Errorf("profile %d has no SMTP host configured", profile.ID)
	}
	return m.Connect(profile)
}

// SendMail dispatches one rendered message and returns the Message-ID it was
// sent with.
func (m *SMTPMailer) SendMail(profile *models.EmailProfile, email worker.OutgoingEmail) (string, error) {
	messageID := email.MessageID
	if messageID == "" {
		messageID = fmt.Sprintf("%d.%s", profile.ID, email.To)
	}
	domain := profile.FromEmail
	if at := strings.Index(domain, "@"); at >= 0 {
		domain = domain[at+1:]
	}
	formattedID := fmt.Sprintf("<%s@%s>", messageID, domain)

	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(profile.FromEmail, profile.FromName))
	if email.ToName != "" {
		msg.SetHeader("To", msg.FormatAddress(email.To, email.ToName))
	} else {
		msg.SetHeader("To", email.To)
	}
	msg.SetHeader("Subject", email.Subject)
	msg.SetHeader("Message-ID", formattedID)
	msg.SetBody("text/html", email.Body)

	if err := m.dialer(profile).DialAndSend(msg); err != nil {
		return "", fmt.Errorf("error sending email: %w", err)
	}
	return formattedID, nil
}
