package contract

import (
	"context"
	"encoding/json"
)

// ThreadGateway is the remote assistant completion service.
type ThreadGateway interface {
	CreateThread(ctx context.Context) (string, error)
	AppendMessage(ctx context.Context, threadID string, role Role, content string) error
	CreateRun(ctx context.Context, threadID string, assistantID string) (Run, error)
	GetRun(ctx context.Context, threadID string, runID string) (Run, error)
	SubmitToolOutputs(ctx context.Context, threadID string, runID string, outputs []ToolOutput) (Run, error)
	// ListMessages returns up to limit messages, latest first.
	ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error)
}

// Directory is the read side of the business/agent resource store.
type Directory interface {
	GetBusiness(ctx context.Context, businessID string) (Business, error)
	GetAgent(ctx context.Context, agentID string) (Agent, error)
	GetKnowledgeBase(ctx context.Context, businessID string) (string, error)
	FindAgentByPhoneNumber(ctx context.Context, phoneNumber string) (Agent, error)
}

type UsageRecorder interface {
	RecordUsage(ctx context.Context, rec UsageRecord) error
}

// ActionInvoker posts an action to a business webhook and returns the raw JSON reply.
type ActionInvoker interface {
	Invoke(ctx context.Context, webhookURL string, req ActionRequest) (json.RawMessage, error)
}

type Transcript interface {
	AppendChatMessage(ctx context.Context, msg ChatMessage) error
}
