package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
	nodex "github.com/mosopedev/chimedesk-api/agent/nodes"
	"github.com/mosopedev/chimedesk-api/agent/prompt"
	"github.com/mosopedev/chimedesk-api/agent/session"
)

type fakeEngine struct {
	mu         sync.Mutex
	out        nodex.GraphOutput
	err        error
	utterances []string
	sessions   []session.Session
}

func (f *fakeEngine) FindAgent(_ context.Context, agentID string, _ string) (contractx.Agent, error) {
	if agentID != "agent_1" {
		return contractx.Agent{}, fmt.Errorf("%w: agent %s", contractx.ErrNotFound, agentID)
	}
	return contractx.Agent{ID: "agent_1", BusinessID: "biz_1", AssistantID: "asst_1"}, nil
}

func (f *fakeEngine) StartConversation(_ context.Context, channel contractx.ChannelKind, agent contractx.Agent) (session.Session, error) {
	return session.Session{
		Channel:     channel,
		BusinessID:  agent.BusinessID,
		ThreadID:    "thread_new",
		AssistantID: "asst_1",
		AgentID:     agent.ID,
	}, nil
}

func (f *fakeEngine) HandleUtterance(_ context.Context, sess session.Session, utterance string) (nodex.GraphOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utterances = append(f.utterances, utterance)
	f.sessions = append(f.sessions, sess)
	return f.out, f.err
}

func (f *fakeEngine) calls() []session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.Session(nil), f.sessions...)
}

type fakeTranscript struct {
	mu       sync.Mutex
	messages []contractx.ChatMessage
}

func (f *fakeTranscript) AppendChatMessage(_ context.Context, msg contractx.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeTranscript) all() []contractx.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]contractx.ChatMessage(nil), f.messages...)
}

type fixture struct {
	engine     *fakeEngine
	store      *session.MemoryStore
	hub        *session.Hub
	transcript *fakeTranscript
	server     *httptest.Server
}

func newFixture(t *testing.T, engine *fakeEngine, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		engine:     engine,
		store:      session.NewMemoryStore(),
		hub:        session.NewHub(),
		transcript: &fakeTranscript{},
	}
	mux := http.NewServeMux()
	NewHandler(engine, f.store, f.hub, prompt.LoadPhraseSet(), cfg, WithTranscript(f.transcript)).Register(mux)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) createSession(t *testing.T) createSessionResponse {
	t.Helper()
	resp, err := http.Post(f.server.URL+PathSession, "application/json", bytes.NewBufferString(`{"agent":"agent_1"}`))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d", resp.StatusCode)
	}
	var out createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return out
}

func (f *fixture) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	u, err := url.Parse(f.server.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	u.Scheme = "ws"
	u.Path = PathSocket

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("encode %s: %v", event, err)
	}
	if err := conn.WriteJSON(Frame{Event: event, Data: raw}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func readServerMessage(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	f := readFrame(t, conn)
	if f.Event != EventServerMessage {
		t.Fatalf("event = %q, want %q (data %s)", f.Event, EventServerMessage, f.Data)
	}
	var msg ServerMessage
	if err := json.Unmarshal(f.Data, &msg); err != nil {
		t.Fatalf("decode server message: %v", err)
	}
	return msg
}

func join(t *testing.T, conn *websocket.Conn, sessionID string) {
	t.Helper()
	writeFrame(t, conn, EventJoinSession, JoinSession{SessionID: sessionID})
	if f := readFrame(t, conn); f.Event != EventSessionJoined {
		t.Fatalf("event = %q, want %q (data %s)", f.Event, EventSessionJoined, f.Data)
	}
	greeting := readServerMessage(t, conn)
	if greeting.Sender != senderBot || greeting.Message != prompt.LoadPhraseSet().ChatGreeting {
		t.Fatalf("greeting = %+v", greeting)
	}
}

func TestCreateSessionPersistsRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeEngine{}, Config{})
	out := f.createSession(t)

	if out.SessionID == "" || out.ThreadID != "thread_new" {
		t.Fatalf("response = %+v", out)
	}
	rec, err := f.store.Load(context.Background(), out.SessionID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec.AgentID != "agent_1" || rec.BusinessID != "biz_1" || rec.ThreadID != "thread_new" || rec.AssistantID != "asst_1" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestCreateSessionRejectsBadRequests(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeEngine{}, Config{})
	cases := map[string]int{
		`{"agent":"agent_404"}`: http.StatusNotFound,
		`{"agent":""}`:          http.StatusBadRequest,
		`not json`:              http.StatusBadRequest,
	}
	for body, want := range cases {
		resp, err := http.Post(f.server.URL+PathSession, "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("post %s: %v", body, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("body %s: status = %d, want %d", body, resp.StatusCode, want)
		}
	}
}

func TestJoinUnknownSessionErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeEngine{}, Config{})
	conn := f.dial(t, nil)

	writeFrame(t, conn, EventJoinSession, JoinSession{SessionID: "missing"})
	if got := readFrame(t, conn); got.Event != EventError {
		t.Fatalf("event = %q, want error", got.Event)
	}
}

func TestMessageBeforeJoinErrors(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	f := newFixture(t, engine, Config{})
	conn := f.dial(t, nil)

	writeFrame(t, conn, EventClientMessage, ClientMessage{Message: "hello"})
	if got := readFrame(t, conn); got.Event != EventError {
		t.Fatalf("event = %q, want error", got.Event)
	}
	if len(engine.calls()) != 0 {
		t.Fatalf("engine ran before join")
	}
}

func TestMessageRoundTrip(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{out: nodex.GraphOutput{
		Directives: []contractx.Directive{
			contractx.Say("Booking that now."),
			contractx.Say("You're booked for Friday."),
			contractx.ContinueListening(contractx.ResumeParams{}),
		},
		ActionCompleted: true,
	}}
	f := newFixture(t, engine, Config{})
	created := f.createSession(t)
	conn := f.dial(t, nil)
	join(t, conn, created.SessionID)

	writeFrame(t, conn, EventClientMessage, ClientMessage{Message: " book me in ", Thread: "ignored"})

	first := readServerMessage(t, conn)
	if first.Message != "Booking that now." || first.ActionCompleted {
		t.Fatalf("first = %+v", first)
	}
	second := readServerMessage(t, conn)
	if second.Message != "You're booked for Friday." || !second.ActionCompleted {
		t.Fatalf("second = %+v", second)
	}

	calls := engine.calls()
	if len(calls) != 1 {
		t.Fatalf("engine calls = %d", len(calls))
	}
	if calls[0].ThreadID != "thread_new" || calls[0].SessionID != created.SessionID || calls[0].Channel != contractx.ChannelChat {
		t.Fatalf("session = %+v", calls[0])
	}
	if engine.utterances[0] != "book me in" {
		t.Fatalf("utterance = %q", engine.utterances[0])
	}

	messages := f.transcript.all()
	if len(messages) != 3 || messages[0].Sender != senderCustomer || messages[2].Sender != senderBot {
		t.Fatalf("transcript = %+v", messages)
	}
}

func TestEngineFailureKeepsSocketOpen(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{err: fmt.Errorf("%w: run run_1", contractx.ErrRunTimeout)}
	f := newFixture(t, engine, Config{})
	created := f.createSession(t)
	conn := f.dial(t, nil)
	join(t, conn, created.SessionID)

	writeFrame(t, conn, EventClientMessage, ClientMessage{Message: "hello"})
	msg := readServerMessage(t, conn)
	if !msg.Error || msg.Message != prompt.LoadPhraseSet().Apology {
		t.Fatalf("message = %+v", msg)
	}

	join(t, conn, created.SessionID)
}

func TestRoomBroadcastReachesEveryMember(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{out: nodex.GraphOutput{Directives: []contractx.Directive{
		contractx.Say("Transferring you now."),
		contractx.Transfer("+15550001111"),
	}}}
	f := newFixture(t, engine, Config{})
	created := f.createSession(t)

	a := f.dial(t, nil)
	b := f.dial(t, nil)
	join(t, a, created.SessionID)
	join(t, b, created.SessionID)
	if n := f.hub.Members(created.SessionID); n != 2 {
		t.Fatalf("members = %d", n)
	}

	writeFrame(t, a, EventClientMessage, ClientMessage{Message: "a human please"})

	for name, conn := range map[string]*websocket.Conn{"a": a, "b": b} {
		if msg := readServerMessage(t, conn); msg.Message != "Transferring you now." {
			t.Fatalf("%s: message = %+v", name, msg)
		}
		frame := readFrame(t, conn)
		if frame.Event != EventTransferNeeded {
			t.Fatalf("%s: event = %q", name, frame.Event)
		}
		var transfer Transfer
		if err := json.Unmarshal(frame.Data, &transfer); err != nil || transfer.Number != "+15550001111" {
			t.Fatalf("%s: transfer = %s", name, frame.Data)
		}
	}
}

func TestCrossOriginUpgradeRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeEngine{}, Config{})
	u, _ := url.Parse(f.server.URL)
	u.Scheme = "ws"
	u.Path = PathSocket

	headers := http.Header{}
	headers.Set("Origin", "http://evil.example")
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), headers)
	if err == nil {
		_ = conn.Close()
		t.Fatalf("expected cross-origin websocket upgrade failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for cross-origin upgrade, got %v", resp)
	}
}

func TestAllowedOriginAccepted(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeEngine{}, Config{AllowedOrigins: []string{"https://shop.example/"}})
	headers := http.Header{}
	headers.Set("Origin", "https://shop.example")
	f.dial(t, headers)
}

func TestFramesMapDirectives(t *testing.T) {
	t.Parallel()

	frames, err := Frames([]contractx.Directive{
		contractx.Say(" "),
		contractx.Say("Goodbye"),
		contractx.End(),
	}, false)
	if err != nil {
		t.Fatalf("Frames() error = %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	var last Frame
	if err := json.Unmarshal(frames[1], &last); err != nil || last.Event != EventSessionEnded {
		t.Fatalf("last frame = %s", frames[1])
	}

	if _, err := Frames([]contractx.Directive{{Kind: "dance"}}, false); err == nil {
		t.Fatalf("expected error for unknown directive")
	}
}
