package tool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/tidwall/gjson"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
)

func TestResolveBijection(t *testing.T) {
	t.Parallel()

	r := NewResolver(NewCatalog(newFakeDirectory()), WithLimit(3))

	for n := 1; n <= 12; n++ {
		calls := make([]contractx.ToolCall, n)
		for i := range calls {
			name := string(CapabilityGetBusiness)
			if i%3 == 1 {
				name = string(CapabilityGetKnowledgeBase)
			}
			if i%5 == 4 {
				name = "notARealFunction"
			}
			calls[i] = contractx.ToolCall{ID: fmt.Sprintf("call_%d", i), FunctionName: name, ArgumentsJSON: `{"id":"biz_1"}`}
		}

		outputs, err := r.Resolve(context.Background(), Scope{BusinessID: "biz_1"}, calls)
		if err != nil {
			t.Fatalf("n=%d: unexpected error: %v", n, err)
		}
		if len(outputs) != n {
			t.Fatalf("n=%d: got %d outputs", n, len(outputs))
		}
		matched := map[string]int{}
		for _, o := range outputs {
			matched[o.ToolCallID]++
		}
		for _, c := range calls {
			if matched[c.ID] != 1 {
				t.Fatalf("n=%d: call %s matched %d outputs", n, c.ID, matched[c.ID])
			}
		}
	}
}

func TestResolveUnknownFunctionFailsOnlyThatCall(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	outcomes := map[string]string{}
	r := NewResolver(NewCatalog(newFakeDirectory()), WithObserver(func(name, outcome string) {
		mu.Lock()
		defer mu.Unlock()
		outcomes[name] = outcome
	}))

	outputs, err := r.Resolve(context.Background(), Scope{BusinessID: "biz_1"}, []contractx.ToolCall{
		{ID: "a", FunctionName: "getBusiness", ArgumentsJSON: `{"id":"biz_1"}`},
		{ID: "b", FunctionName: "sendInvoice", ArgumentsJSON: `{}`},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := gjson.Get(outputs[0].Output, "name").String(); got != "Acme Dental" {
		t.Fatalf("first output name = %q", got)
	}
	if !gjson.Get(outputs[1].Output, "error").Exists() {
		t.Fatalf("unknown function must produce an error output, got %s", outputs[1].Output)
	}
	if outcomes["sendInvoice"] != OutcomeUnresolved || outcomes["getBusiness"] != OutcomeOK {
		t.Fatalf("unexpected outcomes: %#v", outcomes)
	}
}

func TestResolveInvalidArgumentsAndLookupErrors(t *testing.T) {
	t.Parallel()

	r := NewResolver(NewCatalog(newFakeDirectory()))
	outputs, err := r.Resolve(context.Background(), Scope{}, []contractx.ToolCall{
		{ID: "a", FunctionName: "getBusiness", ArgumentsJSON: `{not json`},
		{ID: "b", FunctionName: "getBusiness", ArgumentsJSON: `{"id":"missing"}`},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, o := range outputs {
		if !gjson.Get(o.Output, "error").Exists() {
			t.Fatalf("expected error output for %s, got %s", o.ToolCallID, o.Output)
		}
	}
}

func TestResolveRejectsDuplicateIDs(t *testing.T) {
	t.Parallel()

	r := NewResolver(NewCatalog(newFakeDirectory()))
	_, err := r.Resolve(context.Background(), Scope{}, []contractx.ToolCall{
		{ID: "a", FunctionName: "getBusiness"},
		{ID: "a", FunctionName: "getBusiness"},
	})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestResolveCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewResolver(NewCatalog(newFakeDirectory()))
	_, err := r.Resolve(ctx, Scope{}, []contractx.ToolCall{{ID: "a", FunctionName: "getBusiness"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMatchOutputs(t *testing.T) {
	t.Parallel()

	calls := []contractx.ToolCall{{ID: "a"}, {ID: "b"}}

	if err := MatchOutputs(calls, []contractx.ToolOutput{{ToolCallID: "b"}, {ToolCallID: "a"}}); err != nil {
		t.Fatalf("reordered outputs must match: %v", err)
	}
	if err := MatchOutputs(calls, []contractx.ToolOutput{{ToolCallID: "a"}}); !errors.Is(err, contractx.ErrMissingToolOutput) {
		t.Fatalf("short outputs: got %v", err)
	}
	if err := MatchOutputs(calls, []contractx.ToolOutput{{ToolCallID: "a"}, {ToolCallID: "a"}}); !errors.Is(err, contractx.ErrMissingToolOutput) {
		t.Fatalf("repeated output: got %v", err)
	}
	if err := MatchOutputs(calls, []contractx.ToolOutput{{ToolCallID: "a"}, {ToolCallID: "c"}}); !errors.Is(err, contractx.ErrMissingToolOutput) {
		t.Fatalf("foreign output: got %v", err)
	}
}

func TestResolveKeepsToolCallsInsideScope(t *testing.T) {
	t.Parallel()

	r := NewResolver(NewCatalog(newFakeDirectory()))
	outputs, err := r.Resolve(context.Background(), Scope{BusinessID: "biz_1"}, []contractx.ToolCall{
		{ID: "a", FunctionName: string(CapabilityGetKnowledgeBase), ArgumentsJSON: `{"id":"biz_other"}`},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outputs) != 1 || !gjson.Get(outputs[0].Output, "error").Exists() {
		t.Fatalf("expected an error output, got %#v", outputs)
	}
	if gjson.Get(outputs[0].Output, "parsedKnowledgeBase").Exists() {
		t.Fatalf("foreign knowledge base leaked: %s", outputs[0].Output)
	}
}
