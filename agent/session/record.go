package session

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
)

// Record is the server-held state of one chat session.
type Record struct {
	SessionID   string    `json:"session_id"`
	AgentID     string    `json:"agent_id"`
	BusinessID  string    `json:"business_id"`
	ThreadID    string    `json:"thread_id"`
	AssistantID string    `json:"assistant_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func NewRecord(sessionID string, agent contractx.Agent, threadID string, assistantID string, now time.Time) *Record {
	now = now.UTC()
	return &Record{
		SessionID:   sessionID,
		AgentID:     agent.ID,
		BusinessID:  agent.BusinessID,
		ThreadID:    threadID,
		AssistantID: assistantID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (r *Record) Validate() error {
	if r == nil {
		return ErrNilRecord
	}
	if strings.TrimSpace(r.SessionID) == "" {
		return ErrInvalidSession
	}
	if r.ThreadID == "" || r.AgentID == "" || r.BusinessID == "" || r.AssistantID == "" {
		return fmt.Errorf("%w: session %s is incomplete", contractx.ErrValidation, r.SessionID)
	}
	return nil
}

func (r *Record) Session() Session {
	return Session{
		Channel:     contractx.ChannelChat,
		SessionID:   r.SessionID,
		BusinessID:  r.BusinessID,
		ThreadID:    r.ThreadID,
		AssistantID: r.AssistantID,
		AgentID:     r.AgentID,
	}
}
