package contract

import (
	"encoding/json"
	"strings"
	"time"
)

type ChannelKind string

const (
	ChannelVoice ChannelKind = "voice"
	ChannelChat  ChannelKind = "chat"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCancelled      RunStatus = "cancelled"
	RunFailed         RunStatus = "failed"
	RunCompleted      RunStatus = "completed"
	RunIncomplete     RunStatus = "incomplete"
	RunExpired        RunStatus = "expired"
)

// Pending reports whether the run is still being worked on remotely.
func (s RunStatus) Pending() bool {
	switch s {
	case RunQueued, RunInProgress, RunCancelling:
		return true
	default:
		return false
	}
}

// Failed reports terminal statuses other than completed.
func (s RunStatus) Failed() bool {
	switch s {
	case RunFailed, RunCancelled, RunIncomplete, RunExpired:
		return true
	default:
		return false
	}
}

type Run struct {
	ID                string
	ThreadID          string
	Status            RunStatus
	RequiredToolCalls []ToolCall
	Usage             *Usage
	CompletedAt       int64
	LastError         string
}

type Usage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
}

func (u Usage) Total() int64 {
	return u.PromptTokens + u.CompletionTokens
}

type ToolCall struct {
	ID            string
	FunctionName  string
	ArgumentsJSON string
}

type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

type Message struct {
	ID    string
	Role  Role
	RunID string
	Text  string
}

// Envelope is the structured reply the assistant embeds in its final message.
type Envelope struct {
	BusinessID           string         `json:"businessId"`
	IntentUnderstood     bool           `json:"intentUnderstood"`
	IntentAllowed        bool           `json:"intentAllowed"`
	IsActionConfirmation bool           `json:"isActionConfirmation"`
	ResponseMessage      string         `json:"responseMessage"`
	Action               *string        `json:"action"`
	SchemaData           map[string]any `json:"schemaData,omitempty"`
	ActionResponse       *string        `json:"actionResponse,omitempty"`
}

// ActionName returns the trimmed action, or "" when the action is null or blank.
func (e Envelope) ActionName() string {
	if e.Action == nil {
		return ""
	}
	return strings.TrimSpace(*e.Action)
}

type ActionRequest struct {
	Action     string         `json:"action"`
	SchemaData map[string]any `json:"schemaData"`
}

/* ------------------------------ Directives ------------------------------ */

type DirectiveKind string

const (
	DirectiveSay      DirectiveKind = "say"
	DirectiveEnd      DirectiveKind = "end"
	DirectiveTransfer DirectiveKind = "transfer"
	DirectiveContinue DirectiveKind = "continue_listening"
	DirectiveAwaitRun DirectiveKind = "await_run"
)

// ResumeParams is everything a stateless callback needs to pick the
// conversation back up.
type ResumeParams struct {
	BusinessID  string `json:"businessId"`
	ThreadID    string `json:"threadId"`
	AssistantID string `json:"assistantId"`
	AgentID     string `json:"agentId"`
	RunID       string `json:"runId,omitempty"`
	// Reprompts counts consecutive silent gathers on a voice call.
	Reprompts int `json:"reprompts,omitempty"`
}

type Directive struct {
	Kind   DirectiveKind `json:"kind"`
	Text   string        `json:"text,omitempty"`
	Number string        `json:"number,omitempty"`
	Resume ResumeParams  `json:"resume,omitzero"`
}

func Say(text string) Directive {
	return Directive{Kind: DirectiveSay, Text: text}
}

func End() Directive {
	return Directive{Kind: DirectiveEnd}
}

func Transfer(number string) Directive {
	return Directive{Kind: DirectiveTransfer, Number: number}
}

func ContinueListening(p ResumeParams) Directive {
	p.RunID = ""
	return Directive{Kind: DirectiveContinue, Resume: p}
}

// AwaitRun asks the channel to come back for a run that was started but not
// waited on.
func AwaitRun(p ResumeParams) Directive {
	return Directive{Kind: DirectiveAwaitRun, Resume: p}
}

/* ---------------------------- Directory data ---------------------------- */

type SchemaField struct {
	Key         string `json:"key"`
	Description string `json:"keyDescription"`
}

type Action struct {
	Name       string        `json:"action"`
	Method     string        `json:"method,omitempty"`
	WebhookURL string        `json:"webhook,omitempty"`
	Schema     []SchemaField `json:"schemaData,omitempty"`
}

type Business struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	UniqueName           string   `json:"uniqueName"`
	Website              string   `json:"website,omitempty"`
	Email                string   `json:"email"`
	Country              string   `json:"country"`
	PrimaryLanguage      string   `json:"primaryLanguage,omitempty"`
	Webhook              string   `json:"webhook,omitempty"`
	HumanOperatorNumbers []string `json:"humanOperatorPhoneNumbers,omitempty"`
	AllowedActions       []Action `json:"allowedActions,omitempty"`
}

type Agent struct {
	ID                   string   `json:"id"`
	BusinessID           string   `json:"businessId"`
	Name                 string   `json:"agentName"`
	Type                 string   `json:"agentType"`
	Persona              string   `json:"agentPersona,omitempty"`
	PrimaryLanguage      string   `json:"agentPrimaryLanguage,omitempty"`
	Webhook              string   `json:"agentWebhook,omitempty"`
	AssistantID          string   `json:"-"`
	IsActive             bool     `json:"isActive"`
	PhoneNumbers         []string `json:"agentPhoneNumbers,omitempty"`
	HumanOperatorNumbers []string `json:"humanOperatorPhoneNumbers,omitempty"`
	AllowedActions       []Action `json:"allowedActions,omitempty"`
}

// FindAction looks name up in the agent's allow-list.
func (a Agent) FindAction(name string) (Action, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Action{}, false
	}
	for _, act := range a.AllowedActions {
		if strings.EqualFold(strings.TrimSpace(act.Name), name) {
			return act, true
		}
	}
	return Action{}, false
}

// OperatorNumbers prefers the agent's own operator list over the business list.
func OperatorNumbers(agent Agent, business Business) []string {
	src := agent.HumanOperatorNumbers
	if len(src) == 0 {
		src = business.HumanOperatorNumbers
	}
	out := make([]string, 0, len(src))
	for _, n := range src {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

type UsageRecord struct {
	BusinessID       string
	ThreadID         string
	AgentID          string
	RunID            string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	TotalPrice       float64
	Currency         string
	CreatedAt        time.Time
}

type ChatMessage struct {
	SessionID string
	AgentID   string
	Sender    string
	Message   string
	Timestamp time.Time
}

// ActionResult is an opaque webhook response body fed back into the thread.
type ActionResult = json.RawMessage
