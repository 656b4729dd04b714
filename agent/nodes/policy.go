package orchestratornode

import (
	"fmt"
	"strings"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
)

// allowedAction looks name up in the agent's allow-list. Agents without a
// list of their own inherit the business list.
func allowedAction(agent contractx.Agent, business contractx.Business, name string) (contractx.Action, error) {
	if len(agent.AllowedActions) > 0 {
		if act, ok := agent.FindAction(name); ok {
			return act, nil
		}
		return contractx.Action{}, fmt.Errorf("%w: %q is not allowed for agent %s", contractx.ErrInvalidAction, name, agent.ID)
	}

	inherited := contractx.Agent{AllowedActions: business.AllowedActions}
	if act, ok := inherited.FindAction(name); ok {
		return act, nil
	}
	return contractx.Action{}, fmt.Errorf("%w: %q is not allowed for business %s", contractx.ErrInvalidAction, name, business.ID)
}

// webhookFor picks the most specific webhook configured for act.
func webhookFor(act contractx.Action, agent contractx.Agent, business contractx.Business) (string, error) {
	for _, candidate := range []string{act.WebhookURL, agent.Webhook, business.Webhook} {
		if v := strings.TrimSpace(candidate); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: no webhook configured for %q", contractx.ErrInvalidAction, act.Name)
}
