package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
)

// LoadContext fetches the agent and business the session points at.
func LoadContext(ctx context.Context, in *GraphState, dir contractx.Directory) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	agent, err := dir.GetAgent(ctx, in.Session.AgentID)
	if err != nil {
		return nil, fmt.Errorf("load agent %s: %w", in.Session.AgentID, err)
	}
	if agent.BusinessID != "" && agent.BusinessID != in.Session.BusinessID {
		return nil, fmt.Errorf("%w: agent %s does not belong to business %s", contractx.ErrValidation, agent.ID, in.Session.BusinessID)
	}

	business, err := dir.GetBusiness(ctx, in.Session.BusinessID)
	if err != nil {
		return nil, fmt.Errorf("load business %s: %w", in.Session.BusinessID, err)
	}

	in.Agent = agent
	in.Business = business
	return in, nil
}
