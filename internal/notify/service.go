package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/stayware/cohost-platform/internal/conversation"
	"github.com/stayware/cohost-platform/pkg/logging"
)

// SMSSender sends SMS messages to hosts.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// HostContact holds who to reach when a property's conversation escalates.
type HostContact struct {
	PropertyName    string
	HostName        string
	EmailRecipients []string
	SMSRecipients   []string
}

// HostContactStore retrieves escalation contacts for a property.
type HostContactStore interface {
	GetHostContact(ctx context.Context, propertyID string) (*HostContact, error)
}

// Service turns escalation notices into host alerts. Email goes out for every
// escalation; SMS only for urgent and emergency severities.
type Service struct {
	email          EmailSender
	sms            SMSSender
	contacts       HostContactStore
	fallbackEmails []string
	logger         *logging.Logger
}

// ServiceOption customizes the notification service.
type ServiceOption func(*Service)

// WithFallbackEmails sets recipients used when a property carries no email
// contacts of its own.
func WithFallbackEmails(emails []string) ServiceOption {
	return func(s *Service) { s.fallbackEmails = emails }
}

// NewService creates a notification service.
func NewService(email EmailSender, sms SMSSender, contacts HostContactStore, logger *logging.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		email:    email,
		sms:      sms,
		contacts: contacts,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ conversation.EscalationNotifier = (*Service)(nil)

// NotifyEscalation alerts the property's host about a conversation that needs
// a human. A missing contact record is logged and swallowed so the engine's
// escalation path never fails on notification config.
func (s *Service) NotifyEscalation(ctx context.Context, notice conversation.EscalationNotice) error {
	if s.contacts == nil {
		s.logger.Debug("notify: contact store not configured, skipping escalation alert")
		return nil
	}

	contact, err := s.contacts.GetHostContact(ctx, notice.PropertyID)
	if err != nil {
		s.logger.Error("notify: failed to load host contact", "error", err, "property_id", notice.PropertyID)
		return fmt.Errorf("notify: get host contact: %w", err)
	}

	propertyName := contact.PropertyName
	if propertyName == "" {
		propertyName = notice.PropertyID
	}
	hostName := contact.HostName
	if hostName == "" {
		hostName = "there"
	}

	severityLabel := strings.ToUpper(notice.Severity.String())
	reasons := reasonSummary(notice.Reasons)
	occurredAt := notice.OccurredAt.Format("January 2, 2006 at 3:04 PM")

	emailRecipients := contact.EmailRecipients
	if len(emailRecipients) == 0 {
		emailRecipients = s.fallbackEmails
	}

	var errs []error

	if s.email != nil && len(emailRecipients) > 0 {
		subject := fmt.Sprintf("%s %s needs attention - %s", severityEmoji(notice.Severity), propertyName, reasons)
		body := fmt.Sprintf(`Hi %s,

A guest conversation at %s was escalated to you.

Severity: %s
Reason: %s
Platform: %s
Received: %s

Guest's message:
"%s"

The guest has been told you will follow up personally. Automated replies are
paused for this conversation until you mark it resolved.

— Stayware Co-Host`, hostName, propertyName, severityLabel, reasons, notice.Platform, occurredAt, notice.GuestMessage)

		html := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: %s;">%s Guest needs attention</h2>
<p>A guest conversation at <strong>%s</strong> was escalated to you.</p>
<table style="border-collapse: collapse; margin: 20px 0;">
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>Severity:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>Reason:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>Platform:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>Received:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>
</table>
<blockquote style="background: #f9fafb; padding: 12px; border-radius: 8px; border-left: 4px solid %s;">%s</blockquote>
<p style="color: #6b7280; font-size: 12px; margin-top: 20px;">Automated replies are paused until you mark this conversation resolved.<br>— Stayware Co-Host</p>
</div>`,
			severityColor(notice.Severity), severityEmoji(notice.Severity), propertyName,
			severityLabel, reasons, notice.Platform, occurredAt,
			severityColor(notice.Severity), notice.GuestMessage)

		for _, recipient := range emailRecipients {
			msg := EmailMessage{
				To:      recipient,
				ToName:  contact.HostName,
				Subject: subject,
				Body:    body,
				HTML:    html,
			}
			if err := s.email.Send(ctx, msg); err != nil {
				s.logger.Error("notify: failed to send escalation email", "error", err, "to", recipient)
				errs = append(errs, err)
			} else {
				s.logger.Info("notify: escalation email sent", "to", recipient, "conversation_id", notice.ConversationID)
			}
		}
	}

	if notice.Severity >= conversation.SeverityUrgent && s.sms != nil && len(contact.SMSRecipients) > 0 {
		smsBody := fmt.Sprintf("%s %s: guest at %s needs you (%s). \"%s\" Reply via your %s inbox.",
			severityEmoji(notice.Severity), severityLabel, propertyName, reasons,
			truncate(notice.GuestMessage, 80), notice.Platform)

		for _, recipient := range contact.SMSRecipients {
			if err := s.sms.SendSMS(ctx, recipient, smsBody); err != nil {
				s.logger.Error("notify: failed to send escalation SMS", "error", err, "to", recipient)
				errs = append(errs, err)
			} else {
				s.logger.Info("notify: escalation SMS sent", "to", recipient, "conversation_id", notice.ConversationID)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d notification(s) failed", len(errs))
	}
	return nil
}

func reasonSummary(reasons []conversation.ReasonCode) string {
	if len(reasons) == 0 {
		return "escalated"
	}
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = strings.ReplaceAll(string(r), "_", " ")
	}
	return strings.Join(parts, ", ")
}

func severityEmoji(s conversation.Severity) string {
	switch s {
	case conversation.SeverityEmergency:
		return "🚨"
	case conversation.SeverityUrgent:
		return "⚠️"
	default:
		return "📩"
	}
}

func severityColor(s conversation.Severity) string {
	switch s {
	case conversation.SeverityEmergency:
		return "#dc2626"
	case conversation.SeverityUrgent:
		return "#f59e0b"
	default:
		return "#3b82f6"
	}
}

// SimpleSMSSender provides a simple SMS sending implementation.
type SimpleSMSSender struct {
	sendFunc func(ctx context.Context, to, from, body string) error
	from     string
	logger   *logging.Logger
}

// NewSimpleSMSSender creates an SMS sender with a custom send function.
func NewSimpleSMSSender(from string, sendFunc func(ctx context.Context, to, from, body string) error, logger *logging.Logger) *SimpleSMSSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &SimpleSMSSender{
		sendFunc: sendFunc,
		from:     from,
		logger:   logger,
	}
}

// SendSMS sends an SMS message.
func (s *SimpleSMSSender) SendSMS(ctx context.Context, to, body string) error {
	if s.sendFunc == nil {
		s.logger.Warn("notify: SMS sender not configured")
		return nil
	}
	return s.sendFunc(ctx, to, s.from, body)
}

// StubSMSSender is a no-op sender for testing.
type StubSMSSender struct {
	logger *logging.Logger
}

// NewStubSMSSender creates a stub SMS sender.
func NewStubSMSSender(logger *logging.Logger) *StubSMSSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubSMSSender{logger: logger}
}

// SendSMS logs but doesn't send.
func (s *StubSMSSender) SendSMS(ctx context.Context, to, body string) error {
	s.logger.Info("stub SMS sender: would send", "to", to, "body_preview", truncate(body, 50))
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

var _ SMSSender = (*SimpleSMSSender)(nil)
var _ SMSSender = (*StubSMSSender)(nil)
