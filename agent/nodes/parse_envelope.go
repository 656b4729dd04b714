package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
	"github.com/mosopedev/chimedesk-api/agent/envelope"
)

func ParseEnvelope(ctx context.Context, in *GraphState, runs Runs) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	raw, err := runs.LatestReply(ctx, in.Session.ThreadID, in.Run.ID)
	if err != nil {
		return nil, fmt.Errorf("latest reply: %w", err)
	}
	env, err := envelope.Parse(raw)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("run_id", in.Run.ID).Msg("assistant reply rejected")
		return nil, err
	}

	in.Envelope = env
	return in, nil
}
