package directory

import (
	"time"

	"github.com/uptrace/bun"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
)

type businessRow struct {
	bun.BaseModel `bun:"table:businesses,alias:b"`

	ID                   string             `bun:"id,pk"`
	Name                 string             `bun:"name,notnull"`
	UniqueName           string             `bun:"unique_name,notnull,unique"`
	Website              string             `bun:"website"`
	Email                string             `bun:"email"`
	Country              string             `bun:"country"`
	PrimaryLanguage      string             `bun:"primary_language"`
	Webhook              string             `bun:"webhook"`
	HumanOperatorNumbers []string           `bun:"human_operator_phone_numbers,array"`
	AllowedActions       []contractx.Action `bun:"allowed_actions,type:jsonb"`
	ParsedKnowledgeBase  string             `bun:"parsed_knowledge_base"`
	CreatedAt            time.Time          `bun:"created_at,notnull,default:current_timestamp"`
}

func (r businessRow) toContract() contractx.Business {
	return contractx.Business{
		ID:                   r.ID,
		Name:                 r.Name,
		UniqueName:           r.UniqueName,
		Website:              r.Website,
		Email:                r.Email,
		Country:              r.Country,
		PrimaryLanguage:      r.PrimaryLanguage,
		Webhook:              r.Webhook,
		HumanOperatorNumbers: r.HumanOperatorNumbers,
		AllowedActions:       r.AllowedActions,
	}
}

type agentRow struct {
	bun.BaseModel `bun:"table:agents,alias:a"`

	ID                   string             `bun:"id,pk"`
	BusinessID           string             `bun:"business_id,notnull"`
	Name                 string             `bun:"agent_name,notnull"`
	Type                 string             `bun:"agent_type"`
	Persona              string             `bun:"agent_persona"`
	PrimaryLanguage      string             `bun:"agent_primary_language"`
	Webhook              string             `bun:"agent_webhook"`
	AssistantID          string             `bun:"assistant_id"`
	IsActive             bool               `bun:"is_active,notnull,default:true"`
	PhoneNumbers         []string           `bun:"agent_phone_numbers,array"`
	HumanOperatorNumbers []string           `bun:"human_operator_phone_numbers,array"`
	AllowedActions       []contractx.Action `bun:"allowed_actions,type:jsonb"`
	CreatedAt            time.Time          `bun:"created_at,notnull,default:current_timestamp"`
}

func (r agentRow) toContract() contractx.Agent {
	return contractx.Agent{
		ID:                   r.ID,
		BusinessID:           r.BusinessID,
		Name:                 r.Name,
		Type:                 r.Type,
		Persona:              r.Persona,
		PrimaryLanguage:      r.PrimaryLanguage,
		Webhook:              r.Webhook,
		AssistantID:          r.AssistantID,
		IsActive:             r.IsActive,
		PhoneNumbers:         r.PhoneNumbers,
		HumanOperatorNumbers: r.HumanOperatorNumbers,
		AllowedActions:       r.AllowedActions,
	}
}

type usageRow struct {
	bun.BaseModel `bun:"table:usage_records,alias:u"`

	ID               string    `bun:"id,pk"`
	BusinessID       string    `bun:"business_id,notnull"`
	AgentID          string    `bun:"agent_id"`
	ThreadID         string    `bun:"thread_id,notnull"`
	RunID            string    `bun:"run_id,notnull,unique"`
	PromptTokens     int64     `bun:"prompt_tokens,notnull"`
	CompletionTokens int64     `bun:"completion_tokens,notnull"`
	TotalTokens      int64     `bun:"total_tokens,notnull"`
	TotalPrice       float64   `bun:"total_price,notnull"`
	Currency         string    `bun:"currency,notnull"`
	CreatedAt        time.Time `bun:"created_at,notnull"`
}

type chatMessageRow struct {
	bun.BaseModel `bun:"table:chat_messages,alias:cm"`

	ID        string    `bun:"id,pk"`
	SessionID string    `bun:"session_id,notnull"`
	AgentID   string    `bun:"agent_id"`
	Sender    string    `bun:"sender,notnull"`
	Message   string    `bun:"message,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}
