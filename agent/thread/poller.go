package thread

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
)

type PollConfig struct {
	Interval    time.Duration
	Timeout     time.Duration
	BusyRetries int
	BusyDelay   time.Duration
	// Lookups caps how many recent messages LatestReply scans.
	Lookups int
}

func (c PollConfig) withDefaults() PollConfig {
	if c.Interval <= 0 {
		c.Interval = 400 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.BusyRetries < 0 {
		c.BusyRetries = 0
	}
	if c.BusyDelay <= 0 {
		c.BusyDelay = 500 * time.Millisecond
	}
	if c.Lookups <= 0 {
		c.Lookups = 10
	}
	return c
}

// Poller waits on runs with a bounded, ticker-driven poll.
type Poller struct {
	gateway contractx.ThreadGateway
	cfg     PollConfig
}

func NewPoller(gateway contractx.ThreadGateway, cfg PollConfig) *Poller {
	return &Poller{gateway: gateway, cfg: cfg.withDefaults()}
}

func (p *Poller) Gateway() contractx.ThreadGateway {
	return p.gateway
}

func (p *Poller) CreateThread(ctx context.Context) (string, error) {
	return p.gateway.CreateThread(ctx)
}

// Append adds a turn to the thread, waiting out a run that is still active.
func (p *Poller) Append(ctx context.Context, threadID string, role contractx.Role, content string) error {
	return p.retryBusy(ctx, "append message", func() error {
		return p.gateway.AppendMessage(ctx, threadID, role, content)
	})
}

// Start creates a run without waiting for it.
func (p *Poller) Start(ctx context.Context, threadID string, assistantID string) (contractx.Run, error) {
	var run contractx.Run
	err := p.retryBusy(ctx, "create run", func() error {
		var err error
		run, err = p.gateway.CreateRun(ctx, threadID, assistantID)
		return err
	})
	return run, err
}

type budgetKey struct{}

// Budget returns ctx carrying one run deadline, Timeout from now. Every
// Await under the returned context shares it, so tool rounds do not extend
// the bound. A context that already carries a budget is returned unchanged.
func (p *Poller) Budget(ctx context.Context) context.Context {
	if _, ok := ctx.Value(budgetKey{}).(time.Time); ok {
		return ctx
	}
	return context.WithValue(ctx, budgetKey{}, time.Now().Add(p.cfg.Timeout))
}

func (p *Poller) RunToCompletion(ctx context.Context, threadID string, assistantID string) (contractx.Run, error) {
	ctx = p.Budget(ctx)
	run, err := p.Start(ctx, threadID, assistantID)
	if err != nil {
		return contractx.Run{}, err
	}
	return p.Await(ctx, threadID, run.ID)
}

// Submit hands tool outputs back and waits for the run's next stop.
func (p *Poller) Submit(ctx context.Context, threadID string, runID string, outputs []contractx.ToolOutput) (contractx.Run, error) {
	run, err := p.gateway.SubmitToolOutputs(ctx, threadID, runID, outputs)
	if err != nil {
		return contractx.Run{}, err
	}
	if !run.Status.Pending() {
		return p.settle(run)
	}
	return p.Await(ctx, threadID, run.ID)
}

// Await polls until the run leaves the queued/in-progress states. It returns
// completed and requires_action runs, ErrRunFailed for other terminal states
// and ErrRunTimeout once the configured timeout, or the earlier deadline of a
// Budget context, passes.
func (p *Poller) Await(ctx context.Context, threadID string, runID string) (contractx.Run, error) {
	deadline := time.Now().Add(p.cfg.Timeout)
	if budget, ok := ctx.Value(budgetKey{}).(time.Time); ok && budget.Before(deadline) {
		deadline = budget
	}
	pollCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		run, err := p.gateway.GetRun(pollCtx, threadID, runID)
		if err != nil {
			if errors.Is(pollCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return contractx.Run{}, fmt.Errorf("%w: run %s after %s", contractx.ErrRunTimeout, runID, p.cfg.Timeout)
			}
			return contractx.Run{}, err
		}
		if !run.Status.Pending() {
			return p.settle(run)
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return contractx.Run{}, ctx.Err()
			}
			return contractx.Run{}, fmt.Errorf("%w: run %s still %s after %s", contractx.ErrRunTimeout, runID, run.Status, p.cfg.Timeout)
		case <-ticker.C:
		}
	}
}

func (p *Poller) settle(run contractx.Run) (contractx.Run, error) {
	switch {
	case run.Status == contractx.RunCompleted, run.Status == contractx.RunRequiresAction:
		return run, nil
	case run.Status.Failed():
		return run, fmt.Errorf("%w: run %s %s: %s", contractx.ErrRunFailed, run.ID, run.Status, run.LastError)
	default:
		return run, fmt.Errorf("%w: run %s has unknown status %q", contractx.ErrRunFailed, run.ID, run.Status)
	}
}

// LatestReply returns the newest assistant message produced by runID. A run
// that left no message of its own is an error; older runs' replies are never
// returned in its place.
func (p *Poller) LatestReply(ctx context.Context, threadID string, runID string) (string, error) {
	msgs, err := p.gateway.ListMessages(ctx, threadID, p.cfg.Lookups)
	if err != nil {
		return "", err
	}

	for _, m := range msgs {
		if m.Role != contractx.RoleAssistant {
			continue
		}
		if runID == "" || m.RunID == runID {
			return m.Text, nil
		}
	}
	if runID != "" {
		return "", fmt.Errorf("%w: run %s left no assistant message on thread %s", contractx.ErrMalformedEnvelope, runID, threadID)
	}
	return "", fmt.Errorf("%w: no assistant message on thread %s", contractx.ErrMalformedEnvelope, threadID)
}

func (p *Poller) retryBusy(ctx context.Context, op string, fn func() error) error {
	delay := p.cfg.BusyDelay
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, contractx.ErrThreadBusy) || attempt >= p.cfg.BusyRetries {
			return err
		}

		zerolog.Ctx(ctx).Warn().
			Err(err).
			Str("kind", contractx.ErrorKind(err)).
			Str("op", op).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("thread busy, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}
