package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
)

// Capability is a function the assistant may call mid-run.
type Capability string

const (
	CapabilityGetBusiness      Capability = "getBusiness"
	CapabilityGetKnowledgeBase Capability = "getBusinessKnowledgeBase"
)

func Capabilities() []Capability {
	return []Capability{CapabilityGetBusiness, CapabilityGetKnowledgeBase}
}

func ParseCapability(name string) (Capability, bool) {
	c := Capability(strings.TrimSpace(name))
	switch c {
	case CapabilityGetBusiness, CapabilityGetKnowledgeBase:
		return c, true
	default:
		return "", false
	}
}

// Scope is what the engine knows about the conversation a tool call belongs to.
type Scope struct {
	BusinessID string
	AgentID    string
}

type Executor func(ctx context.Context, scope Scope, args gjson.Result) (any, error)

// NewCatalog binds every capability to the directory. A capability missing
// from the returned map is reported as unresolved.
func NewCatalog(dir contractx.Directory) map[Capability]Executor {
	return map[Capability]Executor{
		CapabilityGetBusiness:      getBusiness(dir),
		CapabilityGetKnowledgeBase: getKnowledgeBase(dir),
	}
}

type agentProfile struct {
	ID                   string             `json:"id"`
	Name                 string             `json:"agentName"`
	Type                 string             `json:"agentType,omitempty"`
	Persona              string             `json:"agentPersona,omitempty"`
	PrimaryLanguage      string             `json:"agentPrimaryLanguage,omitempty"`
	Webhook              string             `json:"agentWebhook,omitempty"`
	HumanOperatorNumbers []string           `json:"humanOperatorPhoneNumbers,omitempty"`
	AllowedActions       []contractx.Action `json:"allowedActions,omitempty"`
}

type businessProfile struct {
	ID                   string             `json:"id"`
	Name                 string             `json:"name"`
	UniqueName           string             `json:"uniqueName"`
	Website              string             `json:"website,omitempty"`
	HumanOperatorNumbers []string           `json:"humanOperatorPhoneNumbers"`
	Email                string             `json:"email"`
	Country              string             `json:"country"`
	AllowedActions       []contractx.Action `json:"allowedActions"`
	Webhook              string             `json:"webhook,omitempty"`
	Agent                *agentProfile      `json:"agent,omitempty"`
}

type knowledgeBase struct {
	ID                  string `json:"id"`
	ParsedKnowledgeBase string `json:"parsedKnowledgeBase"`
}

func getBusiness(dir contractx.Directory) Executor {
	return func(ctx context.Context, scope Scope, args gjson.Result) (any, error) {
		businessID, err := businessIDFrom(scope, args)
		if err != nil {
			return nil, err
		}

		b, err := dir.GetBusiness(ctx, businessID)
		if err != nil {
			return nil, err
		}

		out := businessProfile{
			ID:                   b.ID,
			Name:                 b.Name,
			UniqueName:           b.UniqueName,
			Website:              b.Website,
			HumanOperatorNumbers: nonNil(b.HumanOperatorNumbers),
			Email:                b.Email,
			Country:              b.Country,
			AllowedActions:       nonNil(b.AllowedActions),
			Webhook:              b.Webhook,
		}

		agentID := strings.TrimSpace(args.Get("agentId").String())
		if agentID == "" {
			return out, nil
		}
		a, err := dir.GetAgent(ctx, agentID)
		if err != nil {
			return nil, err
		}
		if a.BusinessID != "" && a.BusinessID != b.ID {
			return nil, fmt.Errorf("%w: agent %s does not belong to business %s", contractx.ErrNotFound, agentID, b.ID)
		}
		out.Agent = &agentProfile{
			ID:                   a.ID,
			Name:                 a.Name,
			Type:                 a.Type,
			Persona:              a.Persona,
			PrimaryLanguage:      a.PrimaryLanguage,
			Webhook:              a.Webhook,
			HumanOperatorNumbers: a.HumanOperatorNumbers,
			AllowedActions:       a.AllowedActions,
		}
		return out, nil
	}
}

func getKnowledgeBase(dir contractx.Directory) Executor {
	return func(ctx context.Context, scope Scope, args gjson.Result) (any, error) {
		businessID, err := businessIDFrom(scope, args)
		if err != nil {
			return nil, err
		}

		text, err := dir.GetKnowledgeBase(ctx, businessID)
		if err != nil {
			return nil, err
		}
		return knowledgeBase{ID: businessID, ParsedKnowledgeBase: text}, nil
	}
}

// businessIDFrom resolves the business a tool call may read. The
// conversation's own business always wins; an argument naming another one is
// refused. Arguments are only consulted when the scope has no business.
func businessIDFrom(scope Scope, args gjson.Result) (string, error) {
	own := strings.TrimSpace(scope.BusinessID)
	for _, key := range []string{"id", "businessId"} {
		v := strings.TrimSpace(args.Get(key).String())
		if v == "" {
			continue
		}
		if own == "" {
			return v, nil
		}
		if v != own {
			return "", fmt.Errorf("%w: business %s is outside this conversation", contractx.ErrNotFound, v)
		}
	}
	if own == "" {
		return "", fmt.Errorf("%w: business id is required", contractx.ErrValidation)
	}
	return own, nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
