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

type fakeDirectory struct {
	mu         sync.Mutex
	businesses map[string]contractx.Business
	agents     map[string]contractx.Agent
	knowledge  map[string]string
	calls      int
}

func (f *fakeDirectory) GetBusiness(_ context.Context, id string) (contractx.Business, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	b, ok := f.businesses[id]
	if !ok {
		return contractx.Business{}, fmt.Errorf("%w: business %s", contractx.ErrNotFound, id)
	}
	return b, nil
}

func (f *fakeDirectory) GetAgent(_ context.Context, id string) (contractx.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok {
		return contractx.Agent{}, fmt.Errorf("%w: agent %s", contractx.ErrNotFound, id)
	}
	return a, nil
}

func (f *fakeDirectory) GetKnowledgeBase(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	kb, ok := f.knowledge[id]
	if !ok {
		return "", fmt.Errorf("%w: business %s", contractx.ErrNotFound, id)
	}
	return kb, nil
}

func (f *fakeDirectory) FindAgentByPhoneNumber(context.Context, string) (contractx.Agent, error) {
	return contractx.Agent{}, contractx.ErrNotFound
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		businesses: map[string]contractx.Business{
			"biz_1": {
				ID:                   "biz_1",
				Name:                 "Acme Dental",
				UniqueName:           "acme-dental",
				Email:                "front@acme.test",
				Country:              "US",
				HumanOperatorNumbers: []string{"+15550000001"},
				AllowedActions:       []contractx.Action{{Name: "schedule_appointment"}},
			},
		},
		agents: map[string]contractx.Agent{
			"agent_1": {ID: "agent_1", BusinessID: "biz_1", Name: "Ada"},
			"agent_x": {ID: "agent_x", BusinessID: "biz_other", Name: "Eve"},
		},
		knowledge: map[string]string{
			"biz_1":     "Open 9-5 on weekdays.",
			"biz_other": "Internal pricing sheet.",
		},
	}
}

func TestParseCapability(t *testing.T) {
	t.Parallel()

	for _, c := range Capabilities() {
		got, ok := ParseCapability(string(c))
		if !ok || got != c {
			t.Fatalf("ParseCapability(%q) = %q, %v", c, got, ok)
		}
	}
	if _, ok := ParseCapability("deleteBusiness"); ok {
		t.Fatal("unknown name must not parse")
	}
}

func TestGetBusinessProjection(t *testing.T) {
	t.Parallel()

	catalog := NewCatalog(newFakeDirectory())
	out, err := catalog[CapabilityGetBusiness](context.Background(), Scope{}, gjson.Parse(`{"id":"biz_1","agentId":"agent_1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	profile, ok := out.(businessProfile)
	if !ok {
		t.Fatalf("unexpected result type: %T", out)
	}
	if profile.UniqueName != "acme-dental" || len(profile.AllowedActions) != 1 {
		t.Fatalf("unexpected profile: %#v", profile)
	}
	if profile.Agent == nil || profile.Agent.Name != "Ada" {
		t.Fatalf("expected owning agent in profile, got %#v", profile.Agent)
	}
}

func TestGetBusinessRejectsForeignAgent(t *testing.T) {
	t.Parallel()

	catalog := NewCatalog(newFakeDirectory())
	_, err := catalog[CapabilityGetBusiness](context.Background(), Scope{}, gjson.Parse(`{"id":"biz_1","agentId":"agent_x"}`))
	if !errors.Is(err, contractx.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetKnowledgeBaseFallsBackToScope(t *testing.T) {
	t.Parallel()

	catalog := NewCatalog(newFakeDirectory())
	out, err := catalog[CapabilityGetKnowledgeBase](context.Background(), Scope{BusinessID: "biz_1"}, gjson.Result{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	kb := out.(knowledgeBase)
	if kb.ParsedKnowledgeBase != "Open 9-5 on weekdays." {
		t.Fatalf("unexpected knowledge base: %#v", kb)
	}
}

func TestCatalogRefusesOtherBusiness(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory()
	catalog := NewCatalog(dir)
	scope := Scope{BusinessID: "biz_1"}

	for _, capability := range Capabilities() {
		for _, args := range []string{`{"id":"biz_other"}`, `{"businessId":"biz_other"}`} {
			_, err := catalog[capability](context.Background(), scope, gjson.Parse(args))
			if !errors.Is(err, contractx.ErrNotFound) {
				t.Fatalf("%s %s: expected ErrNotFound, got %v", capability, args, err)
			}
		}
	}
	if dir.calls != 0 {
		t.Fatalf("directory was queried %d times for a foreign business", dir.calls)
	}

	out, err := catalog[CapabilityGetKnowledgeBase](context.Background(), scope, gjson.Parse(`{"id":"biz_1"}`))
	if err != nil || out.(knowledgeBase).ID != "biz_1" {
		t.Fatalf("own business lookup = %#v, %v", out, err)
	}
}
