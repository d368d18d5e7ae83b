// Package mailer sends transactional email over SMTP.
package mailer

import (
	"fmt"
	"net/smtp"

	"learnhub/config"
)

// Sender delivers one email. Implementations must be safe for concurrent use.
type Sender interface {
	Send(to, subject, body string) error
}

// SMTPSender sends HTML email through a plain-auth SMTP relay
type SMTPSender struct {
	host     string
	port     string
	username string
	password string
}

// NewSMTPSender creates a sender from config. Returns an error when the
// relay host is not configured; callers then run without email.
func NewSMTPSender(cfg config.SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host not configured")
	}
	return &SMTPSender{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
	}, nil
}

// Send delivers one HTML email through the relay
func (s *SMTPSender) Send(to, subject, body string) error {
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	auth := smtp.PlainAuth("", s.username, s.password, s.host)

	msg := []byte(
		"From: " + s.username + "\r\n" +
			"To: " + to + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n" +
			"\r\n" +
			body,
	)

	if err := smtp.SendMail(addr, auth, s.username, []string{to}, msg); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}
