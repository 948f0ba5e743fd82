package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stayware/cohost-platform/internal/conversation"
	"github.com/stayware/cohost-platform/pkg/logging"
)

type resolvePublisher interface {
	EnqueueHumanResolve(ctx context.Context, evt conversation.HumanResolveEvent) error
}

type transcriptStore interface {
	GetConversation(ctx context.Context, conversationID string) (*conversation.ConversationRecord, error)
	GetTurns(ctx context.Context, conversationID string, limit int) ([]conversation.TurnRecord, error)
}

// OpsHandler serves the host-facing operational surface: health, transcript
// retrieval, and closing escalated conversations.
type OpsHandler struct {
	store    transcriptStore
	resolver resolvePublisher
	logger   *logging.Logger
}

// NewOpsHandler wires the ops surface. store may be nil when no durable
// persistence is configured; transcript routes then return 503.
func NewOpsHandler(store transcriptStore, resolver resolvePublisher, logger *logging.Logger) *OpsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &OpsHandler{
		store:    store,
		resolver: resolver,
		logger:   logger,
	}
}

// HealthCheck reports liveness.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type transcriptResponse struct {
	ConversationID string           `json:"conversation_id"`
	PropertyID     string           `json:"property_id"`
	Platform       string           `json:"platform"`
	State          string           `json:"state"`
	TurnCount      int              `json:"turn_count"`
	StartedAt      time.Time        `json:"started_at"`
	ResolvedAt     *time.Time       `json:"resolved_at,omitempty"`
	Turns          []transcriptTurn `json:"turns"`
}

type transcriptTurn struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Seq       int64     `json:"seq"`
	Flags     []string  `json:"flags,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// GetTranscript serves GET /ops/conversations/{conversationID}.
func (h *OpsHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "durable store not configured", http.StatusServiceUnavailable)
		return
	}
	conversationID := chi.URLParam(r, "conversationID")

	rec, err := h.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		h.logger.Error("transcript lookup failed", "conversation_id", conversationID, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}

	turns, err := h.store.GetTurns(r.Context(), conversationID, 0)
	if err != nil {
		h.logger.Error("turn lookup failed", "conversation_id", conversationID, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	resp := transcriptResponse{
		ConversationID: rec.ConversationID,
		PropertyID:     rec.PropertyID,
		Platform:       string(rec.Platform),
		State:          string(rec.State),
		TurnCount:      rec.TurnCount,
		StartedAt:      rec.StartedAt,
		ResolvedAt:     rec.ResolvedAt,
		Turns:          make([]transcriptTurn, 0, len(turns)),
	}
	for _, t := range turns {
		flags := make([]string, 0, len(t.Flags))
		for _, f := range t.Flags {
			flags = append(flags, string(f))
		}
		resp.Turns = append(resp.Turns, transcriptTurn{
			Speaker:   string(t.Speaker),
			Text:      t.Text,
			Seq:       t.Seq,
			Flags:     flags,
			Timestamp: t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
	Note       string `json:"note"`
}

// Resolve serves POST /ops/conversations/{conversationID}/resolve. The close
// runs through the queue so it serializes with in-flight automated turns.
func (h *OpsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if h.resolver == nil {
		http.Error(w, "resolver not configured", http.StatusServiceUnavailable)
		return
	}
	conversationID := chi.URLParam(r, "conversationID")

	var req resolveRequest
	if r.Body != nil {
		// Body is optional; a bare resolve is valid.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	err := h.resolver.EnqueueHumanResolve(r.Context(), conversation.HumanResolveEvent{
		ConversationID: conversationID,
		ResolvedBy:     req.ResolvedBy,
		Note:           req.Note,
	})
	if err != nil {
		h.logger.Error("resolve enqueue failed", "conversation_id", conversationID, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("human resolve accepted", "conversation_id", conversationID, "resolved_by", req.ResolvedBy)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
