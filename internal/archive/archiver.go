package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/stayware/cohost-platform/internal/conversation"
	"github.com/stayware/cohost-platform/pkg/logging"
)

// S3Client interface for S3 operations (allows mocking in tests)
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// TranscriptSource reads the durable conversation record to export.
type TranscriptSource interface {
	GetConversation(ctx context.Context, conversationID string) (*conversation.ConversationRecord, error)
	GetTurns(ctx context.Context, conversationID string, limit int) ([]conversation.TurnRecord, error)
}

// Archiver exports resolved conversation transcripts to S3 as JSON. Exports
// are keyed by date and property so hosts can audit what the agent said.
type Archiver struct {
	source TranscriptSource
	s3     S3Client
	bucket string
	logger *logging.Logger
}

// Config holds configuration for the Archiver.
type Config struct {
	Source TranscriptSource
	S3     S3Client
	Bucket string
	Logger *logging.Logger
}

// NewArchiver creates a new Archiver instance.
func NewArchiver(cfg Config) *Archiver {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Archiver{
		source: cfg.Source,
		s3:     cfg.S3,
		bucket: cfg.Bucket,
		logger: cfg.Logger,
	}
}

var _ conversation.TranscriptArchiver = (*Archiver)(nil)

// Transcript is the exported conversation document.
type Transcript struct {
	ConversationID string             `json:"conversation_id"`
	PropertyID     string             `json:"property_id"`
	Platform       string             `json:"platform"`
	State          string             `json:"state"`
	Turns          []TranscriptTurn   `json:"turns"`
	Metadata       TranscriptMetadata `json:"metadata"`
	ArchivedAt     time.Time          `json:"archived_at"`
}

// TranscriptTurn is a single exported turn.
type TranscriptTurn struct {
	Speaker   string    `json:"speaker"`
	Content   string    `json:"content"`
	Seq       int64     `json:"seq"`
	Flags     []string  `json:"flags,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptMetadata summarizes the conversation.
type TranscriptMetadata struct {
	TurnCount      int    `json:"turn_count"`
	GuestTurnCount int    `json:"guest_turn_count"`
	AgentTurnCount int    `json:"agent_turn_count"`
	StartedAt      string `json:"started_at,omitempty"`
	ResolvedAt     string `json:"resolved_at,omitempty"`
}

// ArchiveConversation exports one conversation's transcript to S3. A
// conversation with no durable record is not an error; there is nothing to
// export.
func (a *Archiver) ArchiveConversation(ctx context.Context, conversationID string) error {
	if a == nil || a.source == nil || a.s3 == nil || a.bucket == "" {
		return fmt.Errorf("archive: archiver not configured")
	}

	rec, err := a.source.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("archive: fetch conversation: %w", err)
	}
	if rec == nil {
		a.logger.Info("archive: no durable record, skipping", "conversation_id", conversationID)
		return nil
	}

	turnRecords, err := a.source.GetTurns(ctx, conversationID, 0)
	if err != nil {
		return fmt.Errorf("archive: fetch turns: %w", err)
	}

	transcript := Transcript{
		ConversationID: rec.ConversationID,
		PropertyID:     rec.PropertyID,
		Platform:       string(rec.Platform),
		State:          string(rec.State),
		ArchivedAt:     time.Now().UTC(),
		Metadata: TranscriptMetadata{
			TurnCount:      rec.TurnCount,
			GuestTurnCount: rec.GuestTurnCount,
			AgentTurnCount: rec.AgentTurnCount,
			StartedAt:      formatTime(rec.StartedAt),
		},
	}
	if rec.ResolvedAt != nil {
		transcript.Metadata.ResolvedAt = formatTime(*rec.ResolvedAt)
	}
	for _, t := range turnRecords {
		flags := make([]string, 0, len(t.Flags))
		for _, f := range t.Flags {
			flags = append(flags, string(f))
		}
		transcript.Turns = append(transcript.Turns, TranscriptTurn{
			Speaker:   string(t.Speaker),
			Content:   t.Text,
			Seq:       t.Seq,
			Flags:     flags,
			Timestamp: t.CreatedAt,
		})
	}

	body, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("archive: marshal transcript: %w", err)
	}

	now := time.Now().UTC()
	s3Key := fmt.Sprintf("transcripts/%d/%02d/%02d/%s/%s.json",
		now.Year(), now.Month(), now.Day(), rec.PropertyID, sanitizeKey(conversationID))

	_, err = a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(s3Key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"conversation_id": rec.ConversationID,
			"property_id":     rec.PropertyID,
			"platform":        string(rec.Platform),
			"turn_count":      fmt.Sprintf("%d", len(transcript.Turns)),
		},
	})
	if err != nil {
		return fmt.Errorf("archive: s3 upload failed: %w", err)
	}

	a.logger.Info("archive: transcript exported",
		"conversation_id", conversationID,
		"turns", len(transcript.Turns),
		"s3_key", s3Key,
	)
	return nil
}

// sanitizeKey replaces the platform separator so ids stay one S3 path
// segment.
func sanitizeKey(conversationID string) string {
	out := make([]byte, len(conversationID))
	for i := 0; i < len(conversationID); i++ {
		c := conversationID[i]
		if c == ':' || c == '/' {
			c = '_'
		}
		out[i] = c
	}
	return string(out)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
