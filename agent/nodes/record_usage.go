package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
	"github.com/mosopedev/chimedesk-api/agent/llm"
)

// UsageObserver sees the token counts of every recorded run.
type UsageObserver func(prompt int64, completion int64)

// RecordUsage writes one usage record for a completed run that reports
// usage. A failed write is logged and does not fail the turn.
func RecordUsage(
	ctx context.Context,
	in *GraphState,
	recorder contractx.UsageRecorder,
	pricing llm.Pricing,
	observe UsageObserver,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Run.Status != contractx.RunCompleted || in.Run.Usage == nil {
		return in, nil
	}

	usage := *in.Run.Usage
	rec := contractx.UsageRecord{
		BusinessID:       in.Session.BusinessID,
		ThreadID:         in.Session.ThreadID,
		AgentID:          in.Session.AgentID,
		RunID:            in.Run.ID,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.Total(),
		TotalPrice:       pricing.Cost(usage),
		Currency:         pricing.Currency,
		CreatedAt:        in.Now,
	}
	if observe != nil {
		observe(usage.PromptTokens, usage.CompletionTokens)
	}
	if err := recorder.RecordUsage(ctx, rec); err != nil {
		zerolog.Ctx(ctx).Error().
			Err(err).
			Str("run_id", rec.RunID).
			Int64("total_tokens", rec.TotalTokens).
			Msg("record usage")
	}
	return in, nil
}
