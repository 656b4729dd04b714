// Package thread drives assistant threads and runs on the completion service.
package thread

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
)

// OpenAIGateway implements contract.ThreadGateway on the Assistants beta API.
// The client is shared by every session and holds no per-call state.
type OpenAIGateway struct {
	client *openai.Client
}

func NewOpenAIGateway(client *openai.Client) *OpenAIGateway {
	return &OpenAIGateway{client: client}
}

func (g *OpenAIGateway) CreateThread(ctx context.Context) (string, error) {
	th, err := g.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", mapError("create thread", err)
	}
	return th.ID, nil
}

func (g *OpenAIGateway) AppendMessage(ctx context.Context, threadID string, role contractx.Role, content string) error {
	params := openai.BetaThreadMessageNewParams{
		Role:    openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{OfString: openai.String(content)},
	}
	if role == contractx.RoleAssistant {
		params.Role = openai.BetaThreadMessageNewParamsRoleAssistant
	}
	if _, err := g.client.Beta.Threads.Messages.New(ctx, threadID, params); err != nil {
		return mapError("append message", err)
	}
	return nil
}

func (g *OpenAIGateway) CreateRun(ctx context.Context, threadID string, assistantID string) (contractx.Run, error) {
	run, err := g.client.Beta.Threads.Runs.New(ctx, threadID, openai.BetaThreadRunNewParams{
		AssistantID: assistantID,
	})
	if err != nil {
		return contractx.Run{}, mapError("create run", err)
	}
	return toRun(run), nil
}

func (g *OpenAIGateway) GetRun(ctx context.Context, threadID string, runID string) (contractx.Run, error) {
	run, err := g.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return contractx.Run{}, mapError("get run", err)
	}
	return toRun(run), nil
}

func (g *OpenAIGateway) SubmitToolOutputs(
	ctx context.Context,
	threadID string,
	runID string,
	outputs []contractx.ToolOutput,
) (contractx.Run, error) {
	params := openai.BetaThreadRunSubmitToolOutputsParams{
		ToolOutputs: make([]openai.BetaThreadRunSubmitToolOutputsParamsToolOutput, 0, len(outputs)),
	}
	for _, o := range outputs {
		params.ToolOutputs = append(params.ToolOutputs, openai.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			ToolCallID: openai.String(o.ToolCallID),
			Output:     openai.String(o.Output),
		})
	}

	run, err := g.client.Beta.Threads.Runs.SubmitToolOutputs(ctx, threadID, runID, params)
	if err != nil {
		return contractx.Run{}, mapError("submit tool outputs", err)
	}
	return toRun(run), nil
}

func (g *OpenAIGateway) ListMessages(ctx context.Context, threadID string, limit int) ([]contractx.Message, error) {
	params := openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
	}
	if limit > 0 {
		params.Limit = openai.Int(int64(limit))
	}

	page, err := g.client.Beta.Threads.Messages.List(ctx, threadID, params)
	if err != nil {
		return nil, mapError("list messages", err)
	}

	out := make([]contractx.Message, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, contractx.Message{
			ID:    m.ID,
			Role:  contractx.Role(m.Role),
			RunID: m.RunID,
			Text:  messageText(m),
		})
	}
	return out, nil
}

func toRun(r *openai.Run) contractx.Run {
	out := contractx.Run{
		ID:          r.ID,
		ThreadID:    r.ThreadID,
		Status:      contractx.RunStatus(r.Status),
		CompletedAt: r.CompletedAt,
		LastError:   r.LastError.Message,
	}
	for _, tc := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
		out.RequiredToolCalls = append(out.RequiredToolCalls, contractx.ToolCall{
			ID:            tc.ID,
			FunctionName:  tc.Function.Name,
			ArgumentsJSON: tc.Function.Arguments,
		})
	}
	if r.JSON.Usage.Valid() {
		out.Usage = &contractx.Usage{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
		}
	}
	return out
}

// messageText joins the text blocks of m; image and refusal blocks are skipped.
func messageText(m openai.Message) string {
	var b strings.Builder
	for _, c := range m.Content {
		if c.Type != "text" {
			continue
		}
		b.WriteString(c.Text.Value)
	}
	return b.String()
}

func mapError(op string, err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch {
	case apiErr.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s: %v", contractx.ErrNotFound, op, err)
	case isBusy(apiErr):
		return fmt.Errorf("%w: %s: %v", contractx.ErrThreadBusy, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func isBusy(apiErr *openai.Error) bool {
	if apiErr.StatusCode != http.StatusBadRequest && apiErr.StatusCode != http.StatusConflict {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "active run") || strings.Contains(msg, "while a run")
}
