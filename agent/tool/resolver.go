package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/errgroup"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
)

const (
	OutcomeOK         = "ok"
	OutcomeError      = "error"
	OutcomeUnresolved = "unresolved"
)

// Resolver answers the tool calls of one requires_action round.
type Resolver struct {
	catalog map[Capability]Executor
	limit   int
	observe func(name string, outcome string)
}

type Option func(*Resolver)

// WithLimit bounds how many calls of one round run at the same time.
func WithLimit(n int) Option {
	return func(r *Resolver) {
		r.limit = n
	}
}

func WithObserver(fn func(name string, outcome string)) Option {
	return func(r *Resolver) {
		if fn != nil {
			r.observe = fn
		}
	}
}

func NewResolver(catalog map[Capability]Executor, opts ...Option) *Resolver {
	r := &Resolver{
		catalog: catalog,
		observe: func(string, string) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve runs every call concurrently and returns one output per call id,
// in input order. A call that cannot be answered gets an {"error": ...}
// output instead of failing the round.
func (r *Resolver) Resolve(ctx context.Context, scope Scope, calls []contractx.ToolCall) ([]contractx.ToolOutput, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(calls))
	for _, call := range calls {
		if call.ID == "" {
			return nil, fmt.Errorf("%w: tool call without id", contractx.ErrValidation)
		}
		if _, dup := seen[call.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate tool call id %s", contractx.ErrValidation, call.ID)
		}
		seen[call.ID] = struct{}{}
	}

	outputs := make([]contractx.ToolOutput, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}
	for i, call := range calls {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outputs[i] = contractx.ToolOutput{
				ToolCallID: call.ID,
				Output:     r.resolveOne(gctx, scope, call),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := MatchOutputs(calls, outputs); err != nil {
		return nil, err
	}
	return outputs, nil
}

func (r *Resolver) resolveOne(ctx context.Context, scope Scope, call contractx.ToolCall) string {
	logger := zerolog.Ctx(ctx).With().
		Str("tool_call_id", call.ID).
		Str("tool", call.FunctionName).
		Logger()

	capability, ok := ParseCapability(call.FunctionName)
	exec := r.catalog[capability]
	if !ok || exec == nil {
		err := fmt.Errorf("%w: %s", contractx.ErrUnresolvedToolCall, call.FunctionName)
		logger.Warn().Err(err).Str("kind", contractx.ErrorKind(err)).Msg("tool call has no capability")
		r.observe(call.FunctionName, OutcomeUnresolved)
		return errorOutput(err)
	}

	args := gjson.Result{}
	if call.ArgumentsJSON != "" {
		if !gjson.Valid(call.ArgumentsJSON) {
			err := fmt.Errorf("%w: arguments are not valid json", contractx.ErrValidation)
			logger.Warn().Err(err).Msg("tool call rejected")
			r.observe(call.FunctionName, OutcomeError)
			return errorOutput(err)
		}
		args = gjson.Parse(call.ArgumentsJSON)
	}

	result, err := exec(ctx, scope, args)
	if err != nil {
		logger.Warn().Err(err).Msg("tool call failed")
		r.observe(call.FunctionName, OutcomeError)
		return errorOutput(err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		logger.Error().Err(err).Msg("tool result is not serializable")
		r.observe(call.FunctionName, OutcomeError)
		return errorOutput(err)
	}
	r.observe(call.FunctionName, OutcomeOK)
	return string(raw)
}

func errorOutput(err error) string {
	out, serr := sjson.Set(`{}`, "error", err.Error())
	if serr != nil {
		return `{"error":"tool call failed"}`
	}
	return out
}

// MatchOutputs checks that outputs and calls correspond one to one by id.
func MatchOutputs(calls []contractx.ToolCall, outputs []contractx.ToolOutput) error {
	if len(calls) != len(outputs) {
		return fmt.Errorf("%w: %d calls, %d outputs", contractx.ErrMissingToolOutput, len(calls), len(outputs))
	}
	pending := make(map[string]int, len(calls))
	for _, c := range calls {
		pending[c.ID]++
	}
	for _, o := range outputs {
		if pending[o.ToolCallID] == 0 {
			return fmt.Errorf("%w: unexpected or repeated output for %s", contractx.ErrMissingToolOutput, o.ToolCallID)
		}
		pending[o.ToolCallID]--
	}
	for id, n := range pending {
		if n != 0 {
			return fmt.Errorf("%w: %s", contractx.ErrMissingToolOutput, id)
		}
	}
	return nil
}
