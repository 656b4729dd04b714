package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
	nodex "github.com/mosopedev/chimedesk-api/agent/nodes"
	"github.com/mosopedev/chimedesk-api/agent/prompt"
	"github.com/mosopedev/chimedesk-api/agent/session"
	logx "github.com/mosopedev/chimedesk-api/pkg/logger"
	metricsx "github.com/mosopedev/chimedesk-api/pkg/metrics"
)

const maxCreateBodyBytes = 16 << 10

// Engine is what the chat channel needs from the orchestrator.
type Engine interface {
	FindAgent(ctx context.Context, agentID string, dialed string) (contractx.Agent, error)
	StartConversation(ctx context.Context, channel contractx.ChannelKind, agent contractx.Agent) (session.Session, error)
	HandleUtterance(ctx context.Context, sess session.Session, utterance string) (nodex.GraphOutput, error)
}

type Handler struct {
	engine     Engine
	store      session.Store
	hub        *session.Hub
	transcript contractx.Transcript
	phrases    prompt.PhraseSet
	metrics    *metricsx.Metrics

	upgrader    websocket.Upgrader
	readLimit   int64
	turnTimeout time.Duration
	now         func() time.Time
}

type Option func(*Handler)

func WithMetrics(m *metricsx.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithTranscript records every customer and bot message of a session.
func WithTranscript(t contractx.Transcript) Option {
	return func(h *Handler) {
		h.transcript = t
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func NewHandler(engine Engine, store session.Store, hub *session.Hub, phrases prompt.PhraseSet, cfg Config, opts ...Option) *Handler {
	readLimit := cfg.ReadLimit
	if readLimit <= 0 {
		readLimit = 64 << 10
	}
	h := &Handler{
		engine:  engine,
		store:   store,
		hub:     hub,
		phrases: phrases,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originAllowed(cfg.AllowedOrigins),
		},
		readLimit:   readLimit,
		turnTimeout: cfg.TurnTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST "+PathSession, h.handleCreateSession)
	mux.HandleFunc("GET "+PathSocket, h.handleSocket)
}

type createSessionRequest struct {
	Agent   string `json:"agent"`
	AgentID string `json:"agentId"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
	ThreadID  string `json:"threadId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := logx.WithConversation(r.Context(), logx.Fields{Channel: string(contractx.ChannelChat)})

	var req createSessionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCreateBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	agentID := strings.TrimSpace(req.Agent)
	if agentID == "" {
		agentID = strings.TrimSpace(req.AgentID)
	}
	if agentID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "agent is required"})
		return
	}

	agent, err := h.engine.FindAgent(ctx, agentID, "")
	if err != nil {
		h.failRequest(ctx, w, err)
		return
	}
	sess, err := h.engine.StartConversation(ctx, contractx.ChannelChat, agent)
	if err != nil {
		h.failRequest(ctx, w, err)
		return
	}

	rec := session.NewRecord(uuid.NewString(), agent, sess.ThreadID, sess.AssistantID, h.now())
	if err := h.store.Save(ctx, rec); err != nil {
		h.failRequest(ctx, w, err)
		return
	}

	zerolog.Ctx(ctx).Info().
		Str("session_id", rec.SessionID).
		Str("thread_id", rec.ThreadID).
		Str("agent_id", rec.AgentID).
		Msg("chat session created")
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: rec.SessionID, ThreadID: rec.ThreadID})
}

func (h *Handler) failRequest(ctx context.Context, w http.ResponseWriter, err error) {
	kind := contractx.ErrorKind(err)
	zerolog.Ctx(ctx).Warn().Err(err).Str("kind", kind).Msg("chat session create failed")
	h.metrics.ChannelError(string(contractx.ChannelChat), kind)

	switch {
	case errors.Is(err, contractx.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "agent not found"})
	case errors.Is(err, contractx.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not start chat session"})
	}
}

func (h *Handler) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("websocket upgrade rejected")
		return
	}
	ctx := logx.WithConversation(r.Context(), logx.Fields{Channel: string(contractx.ChannelChat)})
	newClient(ctx, h, conn).run()
}

// record appends one message to the transcript. Failures are logged only.
func (h *Handler) record(ctx context.Context, rec *session.Record, sender string, message string) {
	if h.transcript == nil {
		return
	}
	err := h.transcript.AppendChatMessage(ctx, contractx.ChatMessage{
		SessionID: rec.SessionID,
		AgentID:   rec.AgentID,
		Sender:    sender,
		Message:   message,
		Timestamp: h.now().UTC(),
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("sender", sender).Msg("chat transcript append failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
