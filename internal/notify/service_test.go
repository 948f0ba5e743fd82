package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayware/cohost-platform/internal/conversation"
)

type fakeEmailSender struct {
	sent []EmailMessage
	err  error
}

func (f *fakeEmailSender) Send(_ context.Context, msg EmailMessage) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeSMSSender struct {
	sent []string
	to   []string
}

func (f *fakeSMSSender) SendSMS(_ context.Context, to, body string) error {
	f.to = append(f.to, to)
	f.sent = append(f.sent, body)
	return nil
}

type fakeContactStore struct {
	contact *HostContact
	err     error
}

func (f *fakeContactStore) GetHostContact(_ context.Context, _ string) (*HostContact, error) {
	return f.contact, f.err
}

func testNotice(severity conversation.Severity) conversation.EscalationNotice {
	return conversation.EscalationNotice{
		ConversationID: "airbnb:th-1",
		PropertyID:     "prop-1",
		Platform:       conversation.PlatformAirbnb,
		Severity:       severity,
		Reasons:        []conversation.ReasonCode{conversation.ReasonSafety},
		GuestMessage:   "I smell gas in the kitchen",
		OccurredAt:     time.Date(2025, 6, 14, 21, 30, 0, 0, time.UTC),
	}
}

func TestService_EmergencySendsEmailAndSMS(t *testing.T) {
	email := &fakeEmailSender{}
	sms := &fakeSMSSender{}
	contacts := &fakeContactStore{contact: &HostContact{
		PropertyName:    "Lakeview Cottage",
		HostName:        "Dana",
		EmailRecipients: []string{"dana@example.com"},
		SMSRecipients:   []string{"+15551230001", "+15551230002"},
	}}

	svc := NewService(email, sms, contacts, nil)
	err := svc.NotifyEscalation(context.Background(), testNotice(conversation.SeverityEmergency))
	require.NoError(t, err)

	require.Len(t, email.sent, 1)
	assert.Equal(t, "dana@example.com", email.sent[0].To)
	assert.Contains(t, email.sent[0].Subject, "Lakeview Cottage")
	assert.Contains(t, email.sent[0].Body, "I smell gas in the kitchen")
	assert.Contains(t, email.sent[0].Body, "EMERGENCY")

	require.Len(t, sms.sent, 2)
	assert.Equal(t, []string{"+15551230001", "+15551230002"}, sms.to)
	assert.Contains(t, sms.sent[0], "Lakeview Cottage")
}

func TestService_NoticeSeveritySkipsSMS(t *testing.T) {
	email := &fakeEmailSender{}
	sms := &fakeSMSSender{}
	contacts := &fakeContactStore{contact: &HostContact{
		EmailRecipients: []string{"dana@example.com"},
		SMSRecipients:   []string{"+15551230001"},
	}}

	svc := NewService(email, sms, contacts, nil)
	err := svc.NotifyEscalation(context.Background(), testNotice(conversation.SeverityNotice))
	require.NoError(t, err)

	assert.Len(t, email.sent, 1)
	assert.Empty(t, sms.sent, "notice severity should not page hosts by SMS")
}

func TestService_UrgentSendsSMS(t *testing.T) {
	sms := &fakeSMSSender{}
	contacts := &fakeContactStore{contact: &HostContact{
		SMSRecipients: []string{"+15551230001"},
	}}

	svc := NewService(nil, sms, contacts, nil)
	err := svc.NotifyEscalation(context.Background(), testNotice(conversation.SeverityUrgent))
	require.NoError(t, err)
	assert.Len(t, sms.sent, 1)
}

func TestService_FallbackEmailsUsedWhenContactHasNone(t *testing.T) {
	email := &fakeEmailSender{}
	contacts := &fakeContactStore{contact: &HostContact{PropertyName: "Lakeview Cottage"}}

	svc := NewService(email, nil, contacts, nil, WithFallbackEmails([]string{"oncall@example.com"}))
	err := svc.NotifyEscalation(context.Background(), testNotice(conversation.SeverityUrgent))
	require.NoError(t, err)
	require.Len(t, email.sent, 1)
	assert.Equal(t, "oncall@example.com", email.sent[0].To)
}

func TestService_ContactStoreErrorSurfaced(t *testing.T) {
	svc := NewService(&fakeEmailSender{}, nil, &fakeContactStore{err: errors.New("db down")}, nil)
	err := svc.NotifyEscalation(context.Background(), testNotice(conversation.SeverityUrgent))
	assert.Error(t, err)
}

func TestService_NoContactStoreIsNoop(t *testing.T) {
	svc := NewService(&fakeEmailSender{}, &fakeSMSSender{}, nil, nil)
	err := svc.NotifyEscalation(context.Background(), testNotice(conversation.SeverityEmergency))
	assert.NoError(t, err)
}

func TestService_EmailFailureReported(t *testing.T) {
	email := &fakeEmailSender{err: errors.New("sendgrid 500")}
	contacts := &fakeContactStore{contact: &HostContact{
		EmailRecipients: []string{"dana@example.com"},
	}}

	svc := NewService(email, nil, contacts, nil)
	err := svc.NotifyEscalation(context.Background(), testNotice(conversation.SeverityUrgent))
	assert.Error(t, err)
}

func TestReasonSummary(t *testing.T) {
	assert.Equal(t, "escalated", reasonSummary(nil))
	assert.Equal(t, "safety, delivery failure", reasonSummary([]conversation.ReasonCode{
		conversation.ReasonSafety, conversation.ReasonDeliveryFailure,
	}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "0123456789...", truncate("0123456789abcdef", 10))
}
