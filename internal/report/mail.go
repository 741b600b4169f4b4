package report

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"

	"github.com/spherical/sweetspot/internal/domain"
	"github.com/spherical/sweetspot/internal/observability"
)

// MailConfig holds SMTP settings
type MailConfig struct {
	Host     string
	Port     int
	Sender   string
	Password string
}

// sendFunc delivers one message; swapped out in tests.
type sendFunc func(addr string, auth smtp.Auth, e *email.Email) error

// Mailer sends the report to each recipient individually
type Mailer struct {
	cfg    MailConfig
	addr   string
	send   sendFunc
	logger *observability.Logger
}

// NewMailer creates a mailer that authenticates with PLAIN over STARTTLS
func NewMailer(cfg MailConfig, logger *observability.Logger) *Mailer {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Mailer{
		cfg:  cfg,
		addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		send: func(addr string, auth smtp.Auth, e *email.Email) error {
			return e.Send(addr, auth)
		},
		logger: logger.WithComponent("report"),
	}
}

// Send mails the HTML body, with optional attachments, to every non-empty
// recipient. Each recipient gets a separate message. Failures are collected
// and returned together after all recipients were tried.
func (m *Mailer) Send(subject, html string, recipients []string, attachments ...string) (int, error) {
	if m.cfg.Sender == "" || m.cfg.Password == "" {
		return 0, domain.ConfigError("EMAIL_SENDER and EMAIL_PASSWORD are required", nil)
	}

	auth := smtp.PlainAuth("", m.cfg.Sender, m.cfg.Password, m.cfg.Host)
	sent := 0
	var failed []string

	for _, to := range recipients {
		to = strings.TrimSpace(to)
		if to == "" {
			continue
		}

		e := email.NewEmail()
		e.From = m.cfg.Sender
		e.To = []string{to}
		e.Subject = subject
		e.HTML = []byte(html)
		for _, path := range attachments {
			if _, err := e.AttachFile(path); err != nil {
				return sent, domain.IOError("mailer: attach file", err)
			}
		}

		if err := m.send(m.addr, auth, e); err != nil {
			m.logger.Error().Err(err).Str("recipient", to).Msg("failed to send report")
			failed = append(failed, fmt.Sprintf("%s: %v", to, err))
			continue
		}
		sent++
		m.logger.Info().Str("recipient", to).Msg("report sent")
	}

	if sent == 0 && len(failed) == 0 {
		return 0, domain.ConfigError("no report recipients configured", nil)
	}
	if len(failed) > 0 {
		return sent, domain.NewError(domain.ErrorTypeIO, "failed to send report to "+strings.Join(failed, "; "), nil)
	}
	return sent, nil
}
