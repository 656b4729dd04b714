// Package session carries conversation continuity for both channels. Voice
// calls keep everything in callback query strings; chat keeps a record per
// session id for as long as the socket room lives.
package session

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
)

const (
	ParamBusinessID  = "businessId"
	ParamThreadID    = "threadId"
	ParamAssistantID = "assistantId"
	ParamAgentID     = "agentId"
	ParamRunID       = "runId"
	ParamReprompts   = "reprompts"
)

// legacyParams are the short names older callback URLs still carry.
var legacyParams = map[string]string{
	ParamBusinessID:  "bus_id",
	ParamThreadID:    "th_id",
	ParamAssistantID: "ass_id",
	ParamAgentID:     "agent_id",
	ParamRunID:       "run_id",
}

type Session struct {
	Channel     contractx.ChannelKind
	SessionID   string
	BusinessID  string
	ThreadID    string
	AssistantID string
	AgentID     string
	RunID       string
	// Reprompts is how many silent gathers in a row the caller has had.
	Reprompts int
}

// FromQuery rebuilds a voice session from a callback's query string. It
// holds no server state; everything comes from q.
func FromQuery(q url.Values) (Session, error) {
	s := Session{
		Channel:     contractx.ChannelVoice,
		BusinessID:  param(q, ParamBusinessID),
		ThreadID:    param(q, ParamThreadID),
		AssistantID: param(q, ParamAssistantID),
		AgentID:     param(q, ParamAgentID),
		RunID:       param(q, ParamRunID),
		Reprompts:   reprompts(q),
	}
	if err := s.Validate(); err != nil {
		return Session{}, err
	}
	return s, nil
}

func FromResume(p contractx.ResumeParams) Session {
	return Session{
		Channel:     contractx.ChannelVoice,
		BusinessID:  p.BusinessID,
		ThreadID:    p.ThreadID,
		AssistantID: p.AssistantID,
		AgentID:     p.AgentID,
		RunID:       p.RunID,
		Reprompts:   p.Reprompts,
	}
}

func reprompts(q url.Values) int {
	n, err := strconv.Atoi(strings.TrimSpace(q.Get(ParamReprompts)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func param(q url.Values, name string) string {
	if v := strings.TrimSpace(q.Get(name)); v != "" {
		return v
	}
	return strings.TrimSpace(q.Get(legacyParams[name]))
}

func (s Session) Validate() error {
	var missing []string
	if s.BusinessID == "" {
		missing = append(missing, ParamBusinessID)
	}
	if s.ThreadID == "" {
		missing = append(missing, ParamThreadID)
	}
	if s.AssistantID == "" {
		missing = append(missing, ParamAssistantID)
	}
	if s.AgentID == "" {
		missing = append(missing, ParamAgentID)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: session is missing %s", contractx.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// Query is the inverse of FromQuery. RunID and Reprompts are only emitted
// when set.
func (s Session) Query() url.Values {
	return Query(s.Resume())
}

func (s Session) Resume() contractx.ResumeParams {
	return contractx.ResumeParams{
		BusinessID:  s.BusinessID,
		ThreadID:    s.ThreadID,
		AssistantID: s.AssistantID,
		AgentID:     s.AgentID,
		RunID:       s.RunID,
		Reprompts:   s.Reprompts,
	}
}

func Query(p contractx.ResumeParams) url.Values {
	q := url.Values{}
	q.Set(ParamBusinessID, p.BusinessID)
	q.Set(ParamThreadID, p.ThreadID)
	q.Set(ParamAssistantID, p.AssistantID)
	q.Set(ParamAgentID, p.AgentID)
	if p.RunID != "" {
		q.Set(ParamRunID, p.RunID)
	}
	if p.Reprompts > 0 {
		q.Set(ParamReprompts, strconv.Itoa(p.Reprompts))
	}
	return q
}
