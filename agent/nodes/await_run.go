package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
	"github.com/mosopedev/chimedesk-api/agent/tool"
)

// RunObserver sees how every awaited run ended.
type RunObserver func(outcome string, elapsed time.Duration)

const (
	RunOutcomeCompleted    = "completed"
	RunOutcomeFailed       = "failed"
	RunOutcomeTimeout      = "timeout"
	RunOutcomeBusy         = "busy"
	RunOutcomeHopsExceeded = "hops_exceeded"
	RunOutcomeError        = "error"
)

// AwaitRun starts a run (or resumes the one named by the session) and keeps
// answering tool calls until it completes. maxHops bounds the number of
// tool-output rounds.
func AwaitRun(
	ctx context.Context,
	in *GraphState,
	runs Runs,
	tools ToolResolver,
	maxHops int,
	observe RunObserver,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	ctx = runs.Budget(ctx)
	started := time.Now()
	var (
		run contractx.Run
		err error
	)
	if in.Resume {
		run, err = runs.Await(ctx, in.Session.ThreadID, in.Session.RunID)
	} else {
		run, err = runs.RunToCompletion(ctx, in.Session.ThreadID, in.Session.AssistantID)
	}
	if err == nil {
		run, err = answerToolCalls(ctx, in, runs, tools, run, maxHops)
	}
	if observe != nil {
		observe(RunOutcome(err), time.Since(started))
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().
			Err(err).
			Str("kind", contractx.ErrorKind(err)).
			Str("run_id", run.ID).
			Int("hops", in.Hops).
			Msg("run did not complete")
		return nil, err
	}

	in.Run = run
	return in, nil
}

func answerToolCalls(
	ctx context.Context,
	in *GraphState,
	runs Runs,
	tools ToolResolver,
	run contractx.Run,
	maxHops int,
) (contractx.Run, error) {
	scope := tool.Scope{BusinessID: in.Session.BusinessID, AgentID: in.Session.AgentID}
	for run.Status == contractx.RunRequiresAction {
		if in.Hops >= maxHops {
			return run, fmt.Errorf("%w: run %s still wants tools after %d rounds", contractx.ErrToolHopsExceeded, run.ID, in.Hops)
		}
		if len(run.RequiredToolCalls) == 0 {
			return run, fmt.Errorf("%w: run %s requires action without tool calls", contractx.ErrRunFailed, run.ID)
		}

		outputs, err := tools.Resolve(ctx, scope, run.RequiredToolCalls)
		if err != nil {
			return run, fmt.Errorf("resolve tool calls: %w", err)
		}
		zerolog.Ctx(ctx).Debug().
			Str("run_id", run.ID).
			Int("tool_calls", len(outputs)).
			Int("hop", in.Hops+1).
			Msg("submitting tool outputs")

		next, err := runs.Submit(ctx, in.Session.ThreadID, run.ID, outputs)
		if err != nil {
			return run, err
		}
		run = next
		in.Hops++
	}
	return run, nil
}

// RunOutcome labels err for the run metrics.
func RunOutcome(err error) string {
	switch {
	case err == nil:
		return RunOutcomeCompleted
	case errors.Is(err, contractx.ErrRunTimeout):
		return RunOutcomeTimeout
	case errors.Is(err, contractx.ErrRunFailed):
		return RunOutcomeFailed
	case errors.Is(err, contractx.ErrThreadBusy):
		return RunOutcomeBusy
	case errors.Is(err, contractx.ErrToolHopsExceeded):
		return RunOutcomeHopsExceeded
	default:
		return RunOutcomeError
	}
}
