package thread

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
)

type fakeGateway struct {
	mu        sync.Mutex
	statuses  []contractx.RunStatus
	busyTimes int
	getCalls  int
	created   int
	submitted [][]contractx.ToolOutput
	messages  []contractx.Message
}

func (f *fakeGateway) CreateThread(context.Context) (string, error) { return "thread_1", nil }

func (f *fakeGateway) AppendMessage(context.Context, string, contractx.Role, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busyTimes > 0 {
		f.busyTimes--
		return contractx.ErrThreadBusy
	}
	return nil
}

func (f *fakeGateway) CreateRun(_ context.Context, threadID string, _ string) (contractx.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busyTimes > 0 {
		f.busyTimes--
		return contractx.Run{}, contractx.ErrThreadBusy
	}
	f.created++
	return contractx.Run{ID: "run_1", ThreadID: threadID, Status: contractx.RunQueued}, nil
}

func (f *fakeGateway) GetRun(_ context.Context, threadID string, runID string) (contractx.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	status := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return contractx.Run{ID: runID, ThreadID: threadID, Status: status, LastError: "boom"}, nil
}

func (f *fakeGateway) SubmitToolOutputs(_ context.Context, threadID string, runID string, outputs []contractx.ToolOutput) (contractx.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, outputs)
	return contractx.Run{ID: runID, ThreadID: threadID, Status: contractx.RunQueued}, nil
}

func (f *fakeGateway) ListMessages(context.Context, string, int) ([]contractx.Message, error) {
	return f.messages, nil
}

func fastConfig() PollConfig {
	return PollConfig{Interval: 2 * time.Millisecond, Timeout: time.Second, BusyRetries: 3, BusyDelay: time.Millisecond}
}

func TestRunToCompletion(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{statuses: []contractx.RunStatus{contractx.RunQueued, contractx.RunInProgress, contractx.RunCompleted}}
	run, err := NewPoller(gw, fastConfig()).RunToCompletion(context.Background(), "thread_1", "asst_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != contractx.RunCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	if gw.getCalls != 3 {
		t.Fatalf("get calls = %d, want 3", gw.getCalls)
	}
}

func TestAwaitReturnsRequiresAction(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{statuses: []contractx.RunStatus{contractx.RunRequiresAction}}
	run, err := NewPoller(gw, fastConfig()).Await(context.Background(), "thread_1", "run_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != contractx.RunRequiresAction {
		t.Fatalf("status = %s", run.Status)
	}
}

func TestAwaitTimeout(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{statuses: []contractx.RunStatus{contractx.RunInProgress}}
	cfg := fastConfig()
	cfg.Timeout = 30 * time.Millisecond

	start := time.Now()
	_, err := NewPoller(gw, cfg).Await(context.Background(), "thread_1", "run_1")
	if !errors.Is(err, contractx.ErrRunTimeout) {
		t.Fatalf("expected ErrRunTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("poll did not honour timeout, took %s", elapsed)
	}
	if gw.getCalls < 2 {
		t.Fatalf("expected repeated polls, got %d", gw.getCalls)
	}
}

func TestAwaitFailedStatuses(t *testing.T) {
	t.Parallel()

	for _, status := range []contractx.RunStatus{contractx.RunFailed, contractx.RunCancelled, contractx.RunExpired, contractx.RunIncomplete} {
		gw := &fakeGateway{statuses: []contractx.RunStatus{status}}
		_, err := NewPoller(gw, fastConfig()).Await(context.Background(), "thread_1", "run_1")
		if !errors.Is(err, contractx.ErrRunFailed) {
			t.Fatalf("%s: expected ErrRunFailed, got %v", status, err)
		}
	}
}

func TestAwaitParentCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	gw := &fakeGateway{statuses: []contractx.RunStatus{contractx.RunInProgress}}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := NewPoller(gw, fastConfig()).Await(ctx, "thread_1", "run_1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStartRetriesBusyThread(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{busyTimes: 2, statuses: []contractx.RunStatus{contractx.RunCompleted}}
	run, err := NewPoller(gw, fastConfig()).Start(context.Background(), "thread_1", "asst_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.ID != "run_1" || gw.created != 1 {
		t.Fatalf("run = %#v, created = %d", run, gw.created)
	}
}

func TestAppendGivesUpAfterBusyRetries(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{busyTimes: 10}
	err := NewPoller(gw, fastConfig()).Append(context.Background(), "thread_1", contractx.RoleUser, "{}")
	if !errors.Is(err, contractx.ErrThreadBusy) {
		t.Fatalf("expected ErrThreadBusy, got %v", err)
	}
	if gw.busyTimes != 6 {
		t.Fatalf("expected 4 attempts, %d busy responses left", gw.busyTimes)
	}
}

func TestSubmitResumesPolling(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{statuses: []contractx.RunStatus{contractx.RunInProgress, contractx.RunCompleted}}
	outputs := []contractx.ToolOutput{{ToolCallID: "call_1", Output: "{}"}}

	run, err := NewPoller(gw, fastConfig()).Submit(context.Background(), "thread_1", "run_1", outputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != contractx.RunCompleted || len(gw.submitted) != 1 {
		t.Fatalf("run = %#v, submitted = %d", run, len(gw.submitted))
	}
}

func TestLatestReply(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{messages: []contractx.Message{
		{ID: "m3", Role: contractx.RoleUser, Text: "user"},
		{ID: "m2", Role: contractx.RoleAssistant, RunID: "run_other", Text: "older"},
		{ID: "m1", Role: contractx.RoleAssistant, RunID: "run_1", Text: "mine"},
	}}
	p := NewPoller(gw, fastConfig())

	got, err := p.LatestReply(context.Background(), "thread_1", "run_1")
	if err != nil || got != "mine" {
		t.Fatalf("LatestReply(run_1) = %q, %v", got, err)
	}
	if got, err := p.LatestReply(context.Background(), "thread_1", ""); err != nil || got != "older" {
		t.Fatalf("LatestReply(\"\") = %q, %v", got, err)
	}

	empty := NewPoller(&fakeGateway{}, fastConfig())
	if _, err := empty.LatestReply(context.Background(), "thread_1", ""); !errors.Is(err, contractx.ErrMalformedEnvelope) {
		t.Fatalf("expected ErrMalformedEnvelope, got %v", err)
	}
}

func TestLatestReplyIgnoresOtherRuns(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{messages: []contractx.Message{
		{ID: "m2", Role: contractx.RoleUser, Text: "never mind"},
		{ID: "m1", Role: contractx.RoleAssistant, RunID: "run_1", Text: `{"action":{"name":"book_appointment"}}`},
	}}

	got, err := NewPoller(gw, fastConfig()).LatestReply(context.Background(), "thread_1", "run_2")
	if !errors.Is(err, contractx.ErrMalformedEnvelope) {
		t.Fatalf("LatestReply(run_2) = %q, %v; want ErrMalformedEnvelope", got, err)
	}
}

func TestBudgetSpansAwaits(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.Timeout = 40 * time.Millisecond
	p := NewPoller(&fakeGateway{statuses: []contractx.RunStatus{contractx.RunInProgress}}, cfg)
	ctx := p.Budget(context.Background())

	if _, err := p.Await(ctx, "thread_1", "run_1"); !errors.Is(err, contractx.ErrRunTimeout) {
		t.Fatalf("first Await: expected ErrRunTimeout, got %v", err)
	}

	gw := &fakeGateway{statuses: []contractx.RunStatus{contractx.RunInProgress}}
	p.gateway = gw
	start := time.Now()
	if _, err := p.Await(p.Budget(ctx), "thread_1", "run_1"); !errors.Is(err, contractx.ErrRunTimeout) {
		t.Fatalf("second Await: expected ErrRunTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed >= cfg.Timeout {
		t.Fatalf("second Await got a fresh timeout, took %s", elapsed)
	}
	if gw.getCalls != 1 {
		t.Fatalf("second Await polled %d times, want 1", gw.getCalls)
	}
}
