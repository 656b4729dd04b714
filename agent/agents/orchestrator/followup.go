package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
	"github.com/mosopedev/chimedesk-api/agent/dispatch"
	nodex "github.com/mosopedev/chimedesk-api/agent/nodes"
)

// followUpFor picks how an executed action's result reaches the customer.
// Voice callbacks cannot hold the request open for a second run, so the run
// is started and the channel comes back for it; chat waits inline.
func (o *Orchestrator) followUpFor(channel contractx.ChannelKind) nodex.FollowUp {
	if channel == contractx.ChannelVoice {
		return o.deferFollowUp
	}
	return o.inlineFollowUp
}

func (o *Orchestrator) actionTurn(in *nodex.GraphState, result json.RawMessage) *nodex.GraphState {
	sess := in.Session
	sess.RunID = ""
	return &nodex.GraphState{
		Session:      sess,
		ActionResult: result,
		Now:          in.Now,
		Agent:        in.Agent,
		Business:     in.Business,
	}
}

func (o *Orchestrator) deferFollowUp(ctx context.Context, in *nodex.GraphState, result json.RawMessage) error {
	sub, err := nodex.AppendTurn(ctx, o.actionTurn(in, result), o.runs)
	if err != nil {
		return err
	}
	run, err := o.runs.Start(ctx, sub.Session.ThreadID, sub.Session.AssistantID)
	if err != nil {
		return fmt.Errorf("start follow-up run: %w", err)
	}

	resume := in.Session.Resume()
	resume.RunID = run.ID
	in.Directives = append(in.Directives,
		contractx.Say(o.phrases.Hold),
		contractx.AwaitRun(resume),
	)
	in.Run = run
	return nil
}

func (o *Orchestrator) inlineFollowUp(ctx context.Context, in *nodex.GraphState, result json.RawMessage) error {
	sub, err := o.resolve(ctx, o.actionTurn(in, result))
	if err != nil {
		return err
	}

	in.Directives = append(in.Directives,
		contractx.Say(sub.Envelope.ResponseMessage),
		contractx.ContinueListening(in.Session.Resume()),
	)
	in.Outcome.State = dispatch.StateListening
	in.ActionCompleted = true
	in.Run = sub.Run
	return nil
}
