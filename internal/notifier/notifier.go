// Package notifier mails run reports.
package notifier

import (
	"fmt"

	"github.com/ibeckermayer/unrepost/internal/config"
	"github.com/ibeckermayer/unrepost/internal/report"
)

// Notifier handles sending report notifications
type Notifier struct {
	sender Sender
	to     string
}

// Sender defines the interface for email sending
type Sender interface {
	Send(to, subject, htmlBody, plainBody string) error
}

// New creates a new notifier that mails to the given address.
func New(sender Sender, to string) *Notifier {
	return &Notifier{sender: sender, to: to}
}

// NewFromConfig creates a notifier based on configuration. It returns nil
// when email is disabled.
func NewFromConfig(cfg config.EmailConfig) (*Notifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var sender Sender
	switch cfg.Provider {
	case "smtp", "":
		sender = NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.FromAddr)
	default:
		return nil, fmt.Errorf("unknown email provider: %s", cfg.Provider)
	}
	return New(sender, cfg.ToAddr), nil
}

// SendReport mails a run report.
func (n *Notifier) SendReport(r *report.Report) error {
	return n.sender.Send(n.to, r.Title, r.HTMLBody, r.PlainBody)
}
