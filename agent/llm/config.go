// Package llm holds the knobs for driving assistant runs.
package llm

import (
	"fmt"
	"math"
	"strings"
	"time"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
	"github.com/mosopedev/chimedesk-api/agent/thread"
)

type Config struct {
	PollInterval   time.Duration `envconfig:"POLL_INTERVAL" split_words:"true" default:"400ms"`
	RunTimeout     time.Duration `envconfig:"RUN_TIMEOUT" split_words:"true" default:"30s"`
	MaxToolHops    int           `envconfig:"MAX_TOOL_HOPS" split_words:"true" default:"4"`
	BusyRetries    int           `envconfig:"BUSY_RETRIES" split_words:"true" default:"3"`
	BusyDelay      time.Duration `envconfig:"BUSY_DELAY" split_words:"true" default:"500ms"`
	ToolFanOut     int           `envconfig:"TOOL_FAN_OUT" split_words:"true" default:"8"`
	MessageLookups int           `envconfig:"MESSAGE_LOOKUPS" split_words:"true" default:"10"`

	PromptPricePer1K     float64 `envconfig:"PROMPT_PRICE_PER_1K" split_words:"true" default:"0.00015"`
	CompletionPricePer1K float64 `envconfig:"COMPLETION_PRICE_PER_1K" split_words:"true" default:"0.0006"`
	Currency             string  `envconfig:"CURRENCY" split_words:"true" default:"USD"`
}

func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", contractx.ErrValidation)
	}
	if c.RunTimeout < c.PollInterval {
		return fmt.Errorf("%w: run timeout %s is shorter than poll interval %s", contractx.ErrValidation, c.RunTimeout, c.PollInterval)
	}
	if c.MaxToolHops <= 0 {
		return fmt.Errorf("%w: max tool hops must be positive", contractx.ErrValidation)
	}
	if c.BusyRetries < 0 {
		return fmt.Errorf("%w: busy retries must be >= 0", contractx.ErrValidation)
	}
	if c.PromptPricePer1K < 0 || c.CompletionPricePer1K < 0 {
		return fmt.Errorf("%w: token prices must be >= 0", contractx.ErrValidation)
	}
	return nil
}

func (c Config) PollConfig() thread.PollConfig {
	return thread.PollConfig{
		Interval:    c.PollInterval,
		Timeout:     c.RunTimeout,
		BusyRetries: c.BusyRetries,
		BusyDelay:   c.BusyDelay,
		Lookups:     c.MessageLookups,
	}
}

// Pricing converts token usage to money.
type Pricing struct {
	PromptPer1K     float64
	CompletionPer1K float64
	Currency        string
}

func (c Config) Pricing() Pricing {
	currency := strings.ToUpper(strings.TrimSpace(c.Currency))
	if currency == "" {
		currency = "USD"
	}
	return Pricing{
		PromptPer1K:     c.PromptPricePer1K,
		CompletionPer1K: c.CompletionPricePer1K,
		Currency:        currency,
	}
}

// Cost is rounded to 1e-8.
func (p Pricing) Cost(u contractx.Usage) float64 {
	raw := float64(u.PromptTokens)/1000*p.PromptPer1K + float64(u.CompletionTokens)/1000*p.CompletionPer1K
	return math.Round(raw*1e8) / 1e8
}

// AssistantFor picks the agent's own assistant, falling back to the
// deployment default.
func AssistantFor(agent contractx.Agent, fallback string) string {
	if v := strings.TrimSpace(agent.AssistantID); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}
