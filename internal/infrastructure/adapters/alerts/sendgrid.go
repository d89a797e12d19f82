// Package alerts notifies operators about reconciliation findings.
package alerts

import (
	"context"
	"fmt"
	"strings"

	"github.com/rail-service/rail_bridge/internal/domain/entities"
	apperrors "github.com/rail-service/rail_bridge/pkg/errors"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// maxListedDiscrepancies bounds the body of one alert mail.
const maxListedDiscrepancies = 50

// MailSender is the subset of the SendGrid client used here.
type MailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Config addresses the alert mails.
type Config struct {
	APIKey     string
	FromEmail  string
	FromName   string
	Recipients []string
	ChainID    uint64
}

// SendGridAlerter mails a summary of every failed reconciliation run.
type SendGridAlerter struct {
	client MailSender
	cfg    Config
	logger *zap.Logger
}

func NewSendGridAlerter(cfg Config, logger *zap.Logger) (*SendGridAlerter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("sendgrid api key is required")
	}
	return NewSendGridAlerterWithClient(sendgrid.NewSendClient(cfg.APIKey), cfg, logger)
}

func NewSendGridAlerterWithClient(client MailSender, cfg Config, logger *zap.Logger) (*SendGridAlerter, error) {
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, fmt.Errorf("alert sender address is required")
	}
	if len(cfg.Recipients) == 0 {
		return nil, fmt.Errorf("at least one alert recipient is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendGridAlerter{client: client, cfg: cfg, logger: logger}, nil
}

// ReportDiscrepancies sends one mail for report to every recipient. Network
// failures and 5xx answers are retryable.
func (a *SendGridAlerter) ReportDiscrepancies(ctx context.Context, report *entities.ReconciliationReport) error {
	subject := fmt.Sprintf("[rail-bridge chain %d] reconciliation %s found %d discrepancies",
		a.cfg.ChainID, report.ID, report.Discrepancies)

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(a.cfg.FromName, a.cfg.FromEmail))
	m.Subject = subject
	p := mail.NewPersonalization()
	for _, r := range a.cfg.Recipients {
		p.AddTos(mail.NewEmail("", r))
	}
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/plain", RenderReport(a.cfg.ChainID, report)))

	resp, err := a.client.SendWithContext(ctx, m)
	if err != nil {
		return apperrors.Transient(fmt.Errorf("send reconciliation alert: %w", err))
	}
	if resp.StatusCode >= 400 {
		err := fmt.Errorf("sendgrid rejected alert: status %d: %s", resp.StatusCode, resp.Body)
		if resp.StatusCode >= 500 || resp.StatusCode == 429 {
			return apperrors.Transient(err)
		}
		return err
	}

	a.logger.Info("Reconciliation alert sent",
		zap.String("report_id", report.ID.String()),
		zap.Int("recipients", len(a.cfg.Recipients)),
		zap.Int("status_code", resp.StatusCode))
	return nil
}

// RenderReport formats report as the plain-text alert body.
func RenderReport(chainID uint64, report *entities.ReconciliationReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chain:         %d\n", chainID)
	fmt.Fprintf(&b, "Report:        %s (%s)\n", report.ID, report.RunType)
	fmt.Fprintf(&b, "Completed at:  %s\n", report.CompletedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Discrepancies: %d\n", report.Discrepancies)

	listed := 0
	for _, c := range report.Checks {
		if c.Passed {
			continue
		}
		fmt.Fprintf(&b, "\n%s (%d)\n", c.Check, len(c.Discrepancies))
		for _, d := range c.Discrepancies {
			if listed == maxListedDiscrepancies {
				fmt.Fprintf(&b, "  ... %d more, see the full report\n", report.Discrepancies-listed)
				return b.String()
			}
			listed++
			subject := d.Account
			if d.TransactionID != nil {
				subject = "tx " + d.TransactionID.String()
			}
			fmt.Fprintf(&b, "  - %s %s: expected %s, actual %s. %s\n", subject, d.Asset, d.Expected, d.Actual, d.Message)
		}
	}
	return b.String()
}
