package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConversationStore persists conversations and turns to PostgreSQL for the
// durable record. The Redis history is the hot path; this store survives
// cache eviction and feeds archival.
type ConversationStore struct {
	db *sql.DB
}

// NewConversationStore creates a conversation store. Returns nil when db is
// nil so callers can run without durable persistence in local setups.
func NewConversationStore(db *sql.DB) *ConversationStore {
	if db == nil {
		return nil
	}
	return &ConversationStore{db: db}
}

// ConversationRecord is the durable row for one conversation.
type ConversationRecord struct {
	ID             uuid.UUID
	ConversationID string
	PropertyID     string
	Platform       Platform
	State          State
	TurnCount      int
	GuestTurnCount int
	AgentTurnCount int
	StartedAt      time.Time
	LastTurnAt     *time.Time
	ResolvedAt     *time.Time
}

// TurnRecord is the durable row for one turn.
type TurnRecord struct {
	ID             uuid.UUID
	ConversationID string
	Speaker        Speaker
	Text           string
	Channel        Platform
	Seq            int64
	Flags          []ReasonCode
	CreatedAt      time.Time
}

// EnsureConversation creates or touches the conversation row, returning its
// UUID.
func (s *ConversationStore) EnsureConversation(ctx context.Context, conversationID, propertyID string, platform Platform) (uuid.UUID, error) {
	if s == nil || s.db == nil {
		return uuid.Nil, nil
	}

	var existingID uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE conversation_id = $1`,
		conversationID,
	).Scan(&existingID)

	if err == nil {
		s.db.ExecContext(ctx,
			`UPDATE conversations SET updated_at = $1 WHERE id = $2`,
			time.Now(), existingID,
		)
		return existingID, nil
	}
	if err != sql.ErrNoRows {
		return uuid.Nil, fmt.Errorf("conversation: failed to check existing: %w", err)
	}

	newID := uuid.New()
	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (
			id, conversation_id, property_id, platform, state,
			turn_count, guest_turn_count, agent_turn_count,
			started_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, newID, conversationID, propertyID, string(platform), string(StateIdle),
		0, 0, 0, now, now, now,
	)
	if err != nil {
		// A concurrent insert may have won the race.
		if strings.Contains(err.Error(), "duplicate key") {
			return s.EnsureConversation(ctx, conversationID, propertyID, platform)
		}
		return uuid.Nil, fmt.Errorf("conversation: failed to create: %w", err)
	}
	return newID, nil
}

// AppendTurn persists a turn and bumps the conversation counters.
func (s *ConversationStore) AppendTurn(ctx context.Context, conversationID, propertyID string, turn Turn) error {
	if s == nil || s.db == nil {
		return nil
	}

	if _, err := s.EnsureConversation(ctx, conversationID, propertyID, turn.Channel); err != nil {
		return err
	}

	timestamp := turn.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	flags := make([]string, 0, len(turn.Flags))
	for _, f := range turn.Flags {
		flags = append(flags, string(f))
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_turns (
			id, conversation_id, speaker, content, channel, seq, flags, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (conversation_id, seq) DO NOTHING
	`, uuid.New(), conversationID, string(turn.Speaker), turn.Text,
		string(turn.Channel), turn.Seq, strings.Join(flags, ","), timestamp)
	if err != nil {
		return fmt.Errorf("conversation: failed to insert turn: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation: failed to read insert result: %w", err)
	}
	if rowsAffected == 0 {
		return nil
	}

	counterColumn := "agent_turn_count"
	if turn.Speaker == SpeakerGuest {
		counterColumn = "guest_turn_count"
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE conversations SET
			turn_count = turn_count + 1,
			%s = %s + 1,
			last_turn_at = $1,
			updated_at = $1
		WHERE conversation_id = $2
	`, counterColumn, counterColumn), timestamp, conversationID)
	if err != nil {
		return fmt.Errorf("conversation: failed to update counters: %w", err)
	}
	return nil
}

// UpdateState records a lifecycle transition in the durable row. Resolved
// conversations also get a resolved_at stamp.
func (s *ConversationStore) UpdateState(ctx context.Context, conversationID string, state State) error {
	if s == nil || s.db == nil {
		return nil
	}

	now := time.Now()
	var err error
	if state == StateResolved {
		_, err = s.db.ExecContext(ctx, `
			UPDATE conversations SET state = $1, resolved_at = $2, updated_at = $2
			WHERE conversation_id = $3
		`, string(state), now, conversationID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE conversations SET state = $1, resolved_at = NULL, updated_at = $2
			WHERE conversation_id = $3
		`, string(state), now, conversationID)
	}
	if err != nil {
		return fmt.Errorf("conversation: failed to update state: %w", err)
	}
	return nil
}

// GetConversation retrieves the durable row, or nil when absent.
func (s *ConversationStore) GetConversation(ctx context.Context, conversationID string) (*ConversationRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}

	var rec ConversationRecord
	var state, platform string
	var lastTurnAt, resolvedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, property_id, platform, state,
			   turn_count, guest_turn_count, agent_turn_count,
			   started_at, last_turn_at, resolved_at
		FROM conversations
		WHERE conversation_id = $1
	`, conversationID).Scan(
		&rec.ID, &rec.ConversationID, &rec.PropertyID, &platform, &state,
		&rec.TurnCount, &rec.GuestTurnCount, &rec.AgentTurnCount,
		&rec.StartedAt, &lastTurnAt, &resolvedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to get: %w", err)
	}

	rec.Platform = Platform(platform)
	rec.State = State(state)
	if lastTurnAt.Valid {
		rec.LastTurnAt = &lastTurnAt.Time
	}
	if resolvedAt.Valid {
		rec.ResolvedAt = &resolvedAt.Time
	}
	return &rec, nil
}

// GetTurns retrieves turns for a conversation in canonical order.
func (s *ConversationStore) GetTurns(ctx context.Context, conversationID string, limit int) ([]TurnRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}

	query := `
		SELECT id, conversation_id, speaker, content, channel, seq,
			   COALESCE(flags, ''), created_at
		FROM conversation_turns
		WHERE conversation_id = $1
		ORDER BY created_at ASC, seq ASC
	`
	args := []any{conversationID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to get turns: %w", err)
	}
	defer rows.Close()

	var turns []TurnRecord
	for rows.Next() {
		var rec TurnRecord
		var speaker, channel, flags string
		if err := rows.Scan(
			&rec.ID, &rec.ConversationID, &speaker, &rec.Text,
			&channel, &rec.Seq, &flags, &rec.CreatedAt,
		); err != nil {
			continue
		}
		rec.Speaker = Speaker(speaker)
		rec.Channel = Platform(channel)
		if flags != "" {
			for _, f := range strings.Split(flags, ",") {
				rec.Flags = append(rec.Flags, ReasonCode(f))
			}
		}
		turns = append(turns, rec)
	}
	return turns, nil
}
