package orchestratornode

import (
	"fmt"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
	"github.com/mosopedev/chimedesk-api/agent/dispatch"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if len(in.Directives) == 0 && in.Outcome.Branch != dispatch.BranchUnclassified {
		return GraphOutput{}, fmt.Errorf("%w: turn produced no directives", contractx.ErrValidation)
	}

	return GraphOutput{
		Envelope:        in.Envelope,
		Branch:          in.Outcome.Branch,
		State:           in.Outcome.State,
		Directives:      in.Directives,
		ActionCompleted: in.ActionCompleted,
		RunID:           in.Run.ID,
	}, nil
}
