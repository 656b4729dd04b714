package orchestratornode

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
	"github.com/mosopedev/chimedesk-api/agent/dispatch"
	"github.com/mosopedev/chimedesk-api/agent/session"
)

var (
	ErrInvalidMessage = fmt.Errorf("%w: utterance is empty", contractx.ErrValidation)
	ErrMissingRun     = fmt.Errorf("%w: resume without run id", contractx.ErrValidation)
)

type GraphInput struct {
	Session      session.Session
	Utterance    string
	ActionResult json.RawMessage
	// Resume picks up Session.RunID, a run started by an earlier request,
	// instead of appending a new turn.
	Resume bool
}

type GraphOutput struct {
	Envelope        contractx.Envelope
	Branch          dispatch.Branch
	State           dispatch.State
	Directives      []contractx.Directive
	ActionCompleted bool
	RunID           string
}

type GraphState struct {
	Session      session.Session
	Utterance    string
	ActionResult json.RawMessage
	Resume       bool
	Now          time.Time

	Agent    contractx.Agent
	Business contractx.Business

	Run      contractx.Run
	Hops     int
	Envelope contractx.Envelope

	Outcome         dispatch.Outcome
	Directives      []contractx.Directive
	ActionCompleted bool
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	if err := in.Session.Validate(); err != nil {
		return nil, err
	}

	sess := in.Session
	utterance := strings.TrimSpace(in.Utterance)
	if in.Resume {
		if strings.TrimSpace(sess.RunID) == "" {
			return nil, ErrMissingRun
		}
	} else {
		if utterance == "" && len(in.ActionResult) == 0 {
			return nil, ErrInvalidMessage
		}
		sess.RunID = ""
	}

	return &GraphState{
		Session:      sess,
		Utterance:    utterance,
		ActionResult: in.ActionResult,
		Resume:       in.Resume,
		Now:          nowFn().UTC(),
	}, nil
}
