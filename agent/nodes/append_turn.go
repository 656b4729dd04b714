package orchestratornode

import (
	"context"
	"encoding/json"
	"fmt"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
	"github.com/mosopedev/chimedesk-api/agent/envelope"
	"github.com/mosopedev/chimedesk-api/agent/tool"
)

// Runs is the part of the thread poller the pipeline drives.
type Runs interface {
	// Budget bounds every wait on one turn's run by a single deadline.
	Budget(ctx context.Context) context.Context
	Append(ctx context.Context, threadID string, role contractx.Role, content string) error
	Start(ctx context.Context, threadID string, assistantID string) (contractx.Run, error)
	RunToCompletion(ctx context.Context, threadID string, assistantID string) (contractx.Run, error)
	Await(ctx context.Context, threadID string, runID string) (contractx.Run, error)
	Submit(ctx context.Context, threadID string, runID string, outputs []contractx.ToolOutput) (contractx.Run, error)
	LatestReply(ctx context.Context, threadID string, runID string) (string, error)
}

type ToolResolver interface {
	Resolve(ctx context.Context, scope tool.Scope, calls []contractx.ToolCall) ([]contractx.ToolOutput, error)
}

func AppendTurn(ctx context.Context, in *GraphState, runs Runs) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Resume {
		return in, nil
	}
	if err := appendUserTurn(ctx, runs, in.Session.ThreadID, in.Session.BusinessID, in.Utterance, in.ActionResult); err != nil {
		return nil, err
	}
	return in, nil
}

func appendUserTurn(ctx context.Context, runs Runs, threadID, businessID, utterance string, actionResult json.RawMessage) error {
	content, err := envelope.BuildTurn(businessID, utterance, actionResult)
	if err != nil {
		return fmt.Errorf("build turn: %w", err)
	}
	if err := runs.Append(ctx, threadID, contractx.RoleUser, content); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}
