package property

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/stayware/cohost-platform/internal/conversation"
	"github.com/stayware/cohost-platform/internal/notify"
)

// Store reads property, booking, and host contact data from PostgreSQL. It
// backs context assembly and escalation notification.
type Store struct {
	db *sql.DB
}

// NewStore creates a property store. Panics on nil db; unlike the durable
// conversation mirror, the engine cannot answer anything without property
// data.
func NewStore(db *sql.DB) *Store {
	if db == nil {
		panic("property: db cannot be nil")
	}
	return &Store{db: db}
}

var (
	_ conversation.PropertyStore = (*Store)(nil)
	_ conversation.BookingStore  = (*Store)(nil)
	_ notify.HostContactStore    = (*Store)(nil)
)

// Record is the full property row, including host contact fields the
// conversation snapshot does not carry.
type Record struct {
	Summary    conversation.PropertySummary
	HostName   string
	HostEmails []string
	HostPhones []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// GetProperty returns the property snapshot used for context assembly.
// Missing properties map to conversation.ErrNotFound.
func (s *Store) GetProperty(ctx context.Context, propertyID string) (conversation.PropertySummary, error) {
	var p conversation.PropertySummary
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, timezone, check_in_time, check_out_time,
			   wifi_network, wifi_password, door_code, parking_info, house_rules,
			   config_version
		FROM properties
		WHERE id = $1
	`, propertyID).Scan(
		&p.ID, &p.Name, &p.Address, &p.TimeZone, &p.CheckInTime, &p.CheckOutTime,
		&p.WiFiNetwork, &p.WiFiPassword, &p.DoorCode, &p.ParkingInfo, &p.HouseRules,
		&p.ConfigVersion,
	)
	if err == sql.ErrNoRows {
		return conversation.PropertySummary{}, fmt.Errorf("property %s: %w", propertyID, conversation.ErrNotFound)
	}
	if err != nil {
		return conversation.PropertySummary{}, fmt.Errorf("property: failed to get %s: %w", propertyID, err)
	}
	return p, nil
}

// GetBookingByConversation returns the booking attached to a conversation.
// Absence is conversation.ErrNotFound; the assembler treats that as a normal
// pre-booking inquiry.
func (s *Store) GetBookingByConversation(ctx context.Context, conversationID string) (conversation.BookingSummary, error) {
	var b conversation.BookingSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, guest_name, check_in, check_out, party_size, status
		FROM bookings
		WHERE conversation_id = $1
	`, conversationID).Scan(
		&b.ConversationID, &b.GuestName, &b.CheckIn, &b.CheckOut, &b.PartySize, &b.Status,
	)
	if err == sql.ErrNoRows {
		return conversation.BookingSummary{}, fmt.Errorf("booking for %s: %w", conversationID, conversation.ErrNotFound)
	}
	if err != nil {
		return conversation.BookingSummary{}, fmt.Errorf("property: failed to get booking for %s: %w", conversationID, err)
	}
	return b, nil
}

// GetHostContact returns the escalation contacts for a property.
func (s *Store) GetHostContact(ctx context.Context, propertyID string) (*notify.HostContact, error) {
	var name, hostName, emails, phones string
	err := s.db.QueryRowContext(ctx, `
		SELECT name, host_name, COALESCE(host_emails, ''), COALESCE(host_phones, '')
		FROM properties
		WHERE id = $1
	`, propertyID).Scan(&name, &hostName, &emails, &phones)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("property %s: %w", propertyID, conversation.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("property: failed to get host contact for %s: %w", propertyID, err)
	}
	return &notify.HostContact{
		PropertyName:    name,
		HostName:        hostName,
		EmailRecipients: splitList(emails),
		SMSRecipients:   splitList(phones),
	}, nil
}

// UpsertProperty inserts or updates a property row. Every update bumps
// config_version so cached responses built on the old facts stop matching.
func (s *Store) UpsertProperty(ctx context.Context, rec Record) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO properties (
			id, name, address, timezone, check_in_time, check_out_time,
			wifi_network, wifi_password, door_code, parking_info, house_rules,
			host_name, host_emails, host_phones,
			config_version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1, $15, $15)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			address = EXCLUDED.address,
			timezone = EXCLUDED.timezone,
			check_in_time = EXCLUDED.check_in_time,
			check_out_time = EXCLUDED.check_out_time,
			wifi_network = EXCLUDED.wifi_network,
			wifi_password = EXCLUDED.wifi_password,
			door_code = EXCLUDED.door_code,
			parking_info = EXCLUDED.parking_info,
			house_rules = EXCLUDED.house_rules,
			host_name = EXCLUDED.host_name,
			host_emails = EXCLUDED.host_emails,
			host_phones = EXCLUDED.host_phones,
			config_version = properties.config_version + 1,
			updated_at = EXCLUDED.updated_at
	`, rec.Summary.ID, rec.Summary.Name, rec.Summary.Address, rec.Summary.TimeZone,
		rec.Summary.CheckInTime, rec.Summary.CheckOutTime,
		rec.Summary.WiFiNetwork, rec.Summary.WiFiPassword, rec.Summary.DoorCode,
		rec.Summary.ParkingInfo, rec.Summary.HouseRules,
		rec.HostName, joinList(rec.HostEmails), joinList(rec.HostPhones), now,
	)
	if err != nil {
		return fmt.Errorf("property: failed to upsert %s: %w", rec.Summary.ID, err)
	}
	return nil
}

// UpsertBooking inserts or updates the booking attached to a conversation.
func (s *Store) UpsertBooking(ctx context.Context, propertyID string, b conversation.BookingSummary) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (
			conversation_id, property_id, guest_name, check_in, check_out,
			party_size, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (conversation_id) DO UPDATE SET
			guest_name = EXCLUDED.guest_name,
			check_in = EXCLUDED.check_in,
			check_out = EXCLUDED.check_out,
			party_size = EXCLUDED.party_size,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`, b.ConversationID, propertyID, b.GuestName, b.CheckIn, b.CheckOut,
		b.PartySize, b.Status, now,
	)
	if err != nil {
		return fmt.Errorf("property: failed to upsert booking for %s: %w", b.ConversationID, err)
	}
	return nil
}

// BumpConfigVersion advances the property's config version without other
// edits. Booking changes route through here so stale cached replies stop
// matching.
func (s *Store) BumpConfigVersion(ctx context.Context, propertyID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE properties
		SET config_version = config_version + 1, updated_at = $1
		WHERE id = $2
	`, time.Now(), propertyID)
	if err != nil {
		return fmt.Errorf("property: failed to bump config version for %s: %w", propertyID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("property %s: %w", propertyID, conversation.ErrNotFound)
	}
	return nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func joinList(items []string) string {
	return strings.Join(items, ",")
}
