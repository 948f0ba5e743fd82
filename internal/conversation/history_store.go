package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// HistoryStore is the hot-path turn log for a conversation, ordered and
// append-only. Backed by Redis; the durable record lives in Postgres.
type HistoryStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewHistoryStore creates the store. TTL bounds memory for conversations
// that go quiet; zero means the default of 72 hours.
func NewHistoryStore(rdb *redis.Client, ttl time.Duration) *HistoryStore {
	if rdb == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &HistoryStore{
		redis:  rdb,
		ttl:    ttl,
		tracer: otel.Tracer("cohost/history-store"),
	}
}

func historyKey(conversationID string) string {
	return fmt.Sprintf("history:%s", conversationID)
}

func historySeqKey(conversationID string) string {
	return fmt.Sprintf("history_seq:%s", conversationID)
}

// Append records one turn at the end of the conversation log. Seq is assigned
// atomically so concurrent appends keep a total order even when timestamps
// collide.
func (s *HistoryStore) Append(ctx context.Context, conversationID string, turn Turn) (Turn, error) {
	ctx, span := s.tracer.Start(ctx, "history.append")
	defer span.End()

	seq, err := s.redis.Incr(ctx, historySeqKey(conversationID)).Result()
	if err != nil {
		span.RecordError(err)
		return Turn{}, fmt.Errorf("conversation: failed to assign turn seq: %w", err)
	}
	turn.Seq = seq

	data, err := json.Marshal(turn)
	if err != nil {
		span.RecordError(err)
		return Turn{}, fmt.Errorf("conversation: failed to marshal turn: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, historyKey(conversationID), data)
	pipe.Expire(ctx, historyKey(conversationID), s.ttl)
	pipe.Expire(ctx, historySeqKey(conversationID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return Turn{}, fmt.Errorf("conversation: failed to persist turn: %w", err)
	}
	return turn, nil
}

// Recent returns the last limit turns in canonical order, plus every earlier
// turn carrying an escalation flag. Flagged turns stay visible to the
// classifier no matter how old they are.
func (s *HistoryStore) Recent(ctx context.Context, conversationID string, limit int) ([]Turn, error) {
	ctx, span := s.tracer.Start(ctx, "history.recent")
	defer span.End()

	raw, err := s.redis.LRange(ctx, historyKey(conversationID), 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to load history: %w", err)
	}

	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("conversation: failed to decode turn: %w", err)
		}
		turns = append(turns, t)
	}
	SortTurns(turns)

	if limit <= 0 || len(turns) <= limit {
		return turns, nil
	}

	cutoff := len(turns) - limit
	var out []Turn
	for _, t := range turns[:cutoff] {
		if len(t.Flags) > 0 {
			out = append(out, t)
		}
	}
	out = append(out, turns[cutoff:]...)
	return out, nil
}

// Flags returns the union of escalation flags across all stored turns.
func (s *HistoryStore) Flags(ctx context.Context, conversationID string) (map[ReasonCode]struct{}, error) {
	turns, err := s.Recent(ctx, conversationID, 0)
	if err != nil {
		return nil, err
	}
	flags := make(map[ReasonCode]struct{})
	for _, t := range turns {
		for _, f := range t.Flags {
			flags[f] = struct{}{}
		}
	}
	return flags, nil
}
