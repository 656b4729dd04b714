// Package dispatch turns a parsed envelope into channel-neutral directives.
package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
)

const (
	ActionEndCall        = "end_call"
	ActionForwardToHuman = "forward_call_to_human_agent"
)

type State string

const (
	StateListening       State = "listening"
	StateEnded           State = "ended"
	StateTransferred     State = "transferred"
	StateExecutingAction State = "executing_action"
)

type Branch string

const (
	BranchReply                  Branch = "reply"
	BranchConfirmationWithAction Branch = "confirmation_with_action"
	BranchConfirmation           Branch = "confirmation"
	BranchEnd                    Branch = "end"
	BranchTransfer               Branch = "transfer"
	BranchExecuteAction          Branch = "execute_action"
	BranchUnclassified           Branch = "unclassified"
)

type actionKind uint8

const (
	actionNone actionKind = iota
	actionEndCall
	actionForward
	actionCustom
)

func kindOf(action string) actionKind {
	switch action {
	case "":
		return actionNone
	case ActionEndCall:
		return actionEndCall
	case ActionForwardToHuman:
		return actionForward
	default:
		return actionCustom
	}
}

type classKey struct {
	action       actionKind
	confirmation bool
}

// Classify maps (action, isActionConfirmation) to a branch. The three
// listening branches end up with the same directives; they stay separate so
// callers and logs can tell them apart.
func Classify(env contractx.Envelope) Branch {
	switch (classKey{action: kindOf(env.ActionName()), confirmation: env.IsActionConfirmation}) {
	case classKey{actionNone, false}:
		return BranchReply
	case classKey{actionEndCall, true}, classKey{actionForward, true}, classKey{actionCustom, true}:
		return BranchConfirmationWithAction
	case classKey{actionNone, true}:
		return BranchConfirmation
	case classKey{actionEndCall, false}:
		return BranchEnd
	case classKey{actionForward, false}:
		return BranchTransfer
	case classKey{actionCustom, false}:
		return BranchExecuteAction
	default:
		return BranchUnclassified
	}
}

type Input struct {
	Envelope  contractx.Envelope
	Resume    contractx.ResumeParams
	Operators []string
}

// Outcome is the plan for one envelope. For BranchExecuteAction the
// directives only cover the acknowledgement; the caller runs the action and
// appends the follow-up.
type Outcome struct {
	Branch     Branch
	State      State
	Action     string
	Directives []contractx.Directive
	Problem    error
}

type Dispatcher struct {
	apology string
	pick    func(n int) int
}

type Option func(*Dispatcher)

// WithPicker replaces the uniform random operator picker.
func WithPicker(pick func(n int) int) Option {
	return func(d *Dispatcher) {
		if pick != nil {
			d.pick = pick
		}
	}
}

func New(apology string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		apology: apology,
		pick:    rand.IntN,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Plan(ctx context.Context, in Input) Outcome {
	return d.plan(ctx, Classify(in.Envelope), in)
}

func (d *Dispatcher) plan(ctx context.Context, branch Branch, in Input) Outcome {
	env := in.Envelope
	logger := zerolog.Ctx(ctx).With().Str("branch", string(branch)).Str("action", env.ActionName()).Logger()

	switch branch {
	case BranchReply, BranchConfirmation:
		return Outcome{
			Branch:     branch,
			State:      StateListening,
			Directives: d.listen(env.ResponseMessage, in.Resume),
		}

	case BranchConfirmationWithAction:
		logger.Warn().Msg("action attached to a confirmation reply was not executed")
		return Outcome{
			Branch:     branch,
			State:      StateListening,
			Directives: d.listen(env.ResponseMessage, in.Resume),
		}

	case BranchEnd:
		return Outcome{
			Branch:     branch,
			State:      StateEnded,
			Directives: []contractx.Directive{contractx.Say(env.ResponseMessage), contractx.End()},
		}

	case BranchTransfer:
		if len(in.Operators) == 0 {
			problem := fmt.Errorf("%w: business %s has no human operator numbers", contractx.ErrTransferUnavailable, env.BusinessID)
			logger.Warn().Err(problem).Str("kind", contractx.ErrorKind(problem)).Msg("transfer requested without operators")
			return Outcome{
				Branch:     branch,
				State:      StateEnded,
				Directives: []contractx.Directive{contractx.Say(d.apology), contractx.End()},
				Problem:    problem,
			}
		}
		number := in.Operators[d.pick(len(in.Operators))]
		return Outcome{
			Branch:     branch,
			State:      StateTransferred,
			Directives: []contractx.Directive{contractx.Say(env.ResponseMessage), contractx.Transfer(number)},
		}

	case BranchExecuteAction:
		return Outcome{
			Branch:     branch,
			State:      StateExecutingAction,
			Action:     env.ActionName(),
			Directives: []contractx.Directive{contractx.Say(env.ResponseMessage)},
		}

	default:
		// No directives: the turn is logged and otherwise left alone.
		logger.Warn().Bool("confirmation", env.IsActionConfirmation).Msg("envelope did not match any dispatch branch")
		return Outcome{
			Branch: BranchUnclassified,
			State:  StateListening,
		}
	}
}

func (d *Dispatcher) listen(message string, resume contractx.ResumeParams) []contractx.Directive {
	return []contractx.Directive{contractx.Say(message), contractx.ContinueListening(resume)}
}
