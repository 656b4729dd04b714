package session

import (
	"errors"
	"net/url"
	"reflect"
	"testing"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
)

func TestFromQueryRoundTrip(t *testing.T) {
	t.Parallel()

	in := Session{
		Channel:     contractx.ChannelVoice,
		BusinessID:  "biz_1",
		ThreadID:    "thread_1",
		AssistantID: "asst_1",
		AgentID:     "agent_1",
		RunID:       "run_1",
	}

	got, err := FromQuery(in.Query())
	if err != nil {
		t.Fatalf("FromQuery() error = %v", err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("FromQuery() = %#v, want %#v", got, in)
	}
}

func TestQueryOmitsEmptyRunID(t *testing.T) {
	t.Parallel()

	q := Session{BusinessID: "b", ThreadID: "t", AssistantID: "a", AgentID: "g"}.Query()
	if q.Has(ParamRunID) {
		t.Fatalf("runId must be omitted, got %s", q.Encode())
	}
}

func TestFromQueryLegacyNames(t *testing.T) {
	t.Parallel()

	q, _ := url.ParseQuery("bus_id=biz_1&th_id=thread_1&ass_id=asst_1&agentId=agent_1&run_id=run_9")
	got, err := FromQuery(q)
	if err != nil {
		t.Fatalf("FromQuery() error = %v", err)
	}
	if got.BusinessID != "biz_1" || got.ThreadID != "thread_1" || got.AssistantID != "asst_1" || got.RunID != "run_9" {
		t.Fatalf("unexpected session: %#v", got)
	}
}

func TestFromQueryMissingParams(t *testing.T) {
	t.Parallel()

	q, _ := url.ParseQuery("businessId=biz_1&threadId=thread_1")
	_, err := FromQuery(q)
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("FromQuery() error = %v, want ErrValidation", err)
	}
}

func TestResumeConversion(t *testing.T) {
	t.Parallel()

	p := contractx.ResumeParams{BusinessID: "b", ThreadID: "t", AssistantID: "a", AgentID: "g", RunID: "r", Reprompts: 3}
	if got := FromResume(p).Resume(); got != p {
		t.Fatalf("Resume() = %#v, want %#v", got, p)
	}
	if got := Query(p).Get(ParamRunID); got != "r" {
		t.Fatalf("runId = %q", got)
	}
	sess, err := FromQuery(Query(p))
	if err != nil || sess.Reprompts != 3 {
		t.Fatalf("FromQuery() reprompts = %d, %v", sess.Reprompts, err)
	}

	p.Reprompts = 0
	if Query(p).Has(ParamReprompts) {
		t.Fatalf("zero reprompts should not be emitted")
	}
}
