package client

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/zwoods58/WebApp-sub006/internal/config"
)

// SMTPMailer delivers plain-text mail. Send satisfies the same transport
// shape as the SMS clients so email is just another channel.
type SMTPMailer struct {
	config config.SMTPConfig
	send   func(m *gomail.Message) error
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &SMTPMailer{
		config: cfg,
		send: func(m *gomail.Message) error {
			return d.DialAndSend(m)
		},
	}
}

func (s *SMTPMailer) Send(ctx context.Context, to, message string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.config.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", "Verification Code")
	m.SetBody("text/plain", message)

	if err := s.send(m); err != nil {
		return false, fmt.Errorf("failed to send email: %w", err)
	}
	return true, nil
}
