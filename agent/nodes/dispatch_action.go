package orchestratornode

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
	"github.com/mosopedev/chimedesk-api/agent/dispatch"
)

// FollowUp carries the conversation on once an action webhook has answered.
// It appends its directives to in.Directives.
type FollowUp func(ctx context.Context, in *GraphState, result json.RawMessage) error

// DispatchAction turns the parsed envelope into directives. Resumed runs are
// follow-ups of an executed action: their message is said and the channel
// keeps listening, whatever the envelope asks for.
func DispatchAction(
	ctx context.Context,
	in *GraphState,
	planner *dispatch.Dispatcher,
	invoker contractx.ActionInvoker,
	followUp FollowUp,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	resume := in.Session.Resume()
	if in.Resume {
		if name := in.Envelope.ActionName(); name != "" {
			zerolog.Ctx(ctx).Warn().Str("action", name).Msg("action requested by a follow-up reply was not executed")
		}
		in.Outcome = dispatch.Outcome{Branch: dispatch.BranchReply, State: dispatch.StateListening}
		in.Directives = []contractx.Directive{
			contractx.Say(in.Envelope.ResponseMessage),
			contractx.ContinueListening(resume),
		}
		in.ActionCompleted = true
		return in, nil
	}

	out := planner.Plan(ctx, dispatch.Input{
		Envelope:  in.Envelope,
		Resume:    resume,
		Operators: contractx.OperatorNumbers(in.Agent, in.Business),
	})
	in.Outcome = out
	in.Directives = append([]contractx.Directive(nil), out.Directives...)
	if out.State != dispatch.StateExecutingAction {
		return in, nil
	}

	result, err := ExecuteAction(ctx, in, invoker)
	if err != nil {
		return nil, err
	}
	if followUp == nil {
		return nil, fmt.Errorf("%w: no follow-up for action %s", contractx.ErrValidation, out.Action)
	}
	if err := followUp(ctx, in, result); err != nil {
		return nil, err
	}
	return in, nil
}

// ExecuteAction checks the envelope's action against the allow-list and
// posts it to the owning webhook. Nothing is sent for a disallowed action.
func ExecuteAction(ctx context.Context, in *GraphState, invoker contractx.ActionInvoker) (json.RawMessage, error) {
	logger := zerolog.Ctx(ctx)
	name := in.Envelope.ActionName()

	act, err := allowedAction(in.Agent, in.Business, name)
	if err != nil {
		logger.Warn().Err(err).Str("kind", contractx.ErrorKind(err)).Str("action", name).Msg("action rejected")
		return nil, err
	}
	target, err := webhookFor(act, in.Agent, in.Business)
	if err != nil {
		logger.Warn().Err(err).Str("kind", contractx.ErrorKind(err)).Str("action", name).Msg("action rejected")
		return nil, err
	}

	schema := in.Envelope.SchemaData
	if schema == nil {
		schema = map[string]any{}
	}
	result, err := invoker.Invoke(ctx, target, contractx.ActionRequest{Action: name, SchemaData: schema})
	if err != nil {
		logger.Warn().Err(err).Str("kind", contractx.ErrorKind(err)).Str("action", name).Msg("action webhook failed")
		return nil, fmt.Errorf("invoke action %s: %w", name, err)
	}
	logger.Info().Str("action", name).Int("result_bytes", len(result)).Msg("action executed")
	return result, nil
}
