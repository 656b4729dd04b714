package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
	"github.com/mosopedev/chimedesk-api/agent/dispatch"
	"github.com/mosopedev/chimedesk-api/agent/llm"
	nodex "github.com/mosopedev/chimedesk-api/agent/nodes"
	"github.com/mosopedev/chimedesk-api/agent/prompt"
	"github.com/mosopedev/chimedesk-api/agent/session"
	logx "github.com/mosopedev/chimedesk-api/pkg/logger"
	metricsx "github.com/mosopedev/chimedesk-api/pkg/metrics"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrMissingRun     = nodex.ErrMissingRun
)

// Threads is the thread poller plus thread creation.
type Threads interface {
	nodex.Runs
	CreateThread(ctx context.Context) (string, error)
}

type Config struct {
	MaxToolHops        int
	Pricing            llm.Pricing
	Phrases            prompt.PhraseSet
	DefaultAssistantID string
}

type Option func(*Orchestrator)

func WithMetrics(m *metricsx.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(o *Orchestrator) {
		if d != nil {
			o.dispatcher = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

type Orchestrator struct {
	runs      Threads
	tools     nodex.ToolResolver
	directory contractx.Directory
	usage     contractx.UsageRecorder
	actions   contractx.ActionInvoker

	dispatcher *dispatch.Dispatcher
	metrics    *metricsx.Metrics

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	maxToolHops      int
	pricing          llm.Pricing
	phrases          prompt.PhraseSet
	defaultAssistant string

	now func() time.Time
}

func New(
	runs Threads,
	tools nodex.ToolResolver,
	directory contractx.Directory,
	usage contractx.UsageRecorder,
	actions contractx.ActionInvoker,
	cfg Config,
	opts ...Option,
) (*Orchestrator, error) {
	if runs == nil {
		return nil, errors.New("thread poller is required")
	}
	if tools == nil {
		return nil, errors.New("tool resolver is required")
	}
	if directory == nil {
		return nil, errors.New("directory is required")
	}
	if usage == nil {
		return nil, errors.New("usage recorder is required")
	}
	if actions == nil {
		return nil, errors.New("action invoker is required")
	}

	maxHops := cfg.MaxToolHops
	if maxHops <= 0 {
		maxHops = 4
	}
	phrases := cfg.Phrases
	if phrases == (prompt.PhraseSet{}) {
		phrases = prompt.LoadPhraseSet()
	}

	o := &Orchestrator{
		runs:             runs,
		tools:            tools,
		directory:        directory,
		usage:            usage,
		actions:          actions,
		dispatcher:       dispatch.New(phrases.Apology),
		maxToolHops:      maxHops,
		pricing:          cfg.Pricing,
		phrases:          phrases,
		defaultAssistant: strings.TrimSpace(cfg.DefaultAssistantID),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	graphRunner, err := o.compileHandleUtteranceGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

func (o *Orchestrator) Phrases() prompt.PhraseSet {
	return o.phrases
}

// FindAgent resolves the agent a conversation is for, by id when given and
// by the dialed number otherwise. Inactive agents are not found.
func (o *Orchestrator) FindAgent(ctx context.Context, agentID string, dialed string) (contractx.Agent, error) {
	if agentID = strings.TrimSpace(agentID); agentID != "" {
		agent, err := o.directory.GetAgent(ctx, agentID)
		if err != nil {
			return contractx.Agent{}, err
		}
		if !agent.IsActive {
			return contractx.Agent{}, fmt.Errorf("%w: agent %s is inactive", contractx.ErrNotFound, agentID)
		}
		return agent, nil
	}
	if dialed = strings.TrimSpace(dialed); dialed != "" {
		return o.directory.FindAgentByPhoneNumber(ctx, dialed)
	}
	return contractx.Agent{}, fmt.Errorf("%w: agent id or phone number is required", contractx.ErrValidation)
}

// StartConversation opens a thread for agent and returns the session that
// the channel carries from then on.
func (o *Orchestrator) StartConversation(ctx context.Context, channel contractx.ChannelKind, agent contractx.Agent) (session.Session, error) {
	if strings.TrimSpace(agent.ID) == "" || strings.TrimSpace(agent.BusinessID) == "" {
		return session.Session{}, fmt.Errorf("%w: agent and business ids are required", contractx.ErrValidation)
	}
	assistantID := llm.AssistantFor(agent, o.defaultAssistant)
	if assistantID == "" {
		return session.Session{}, fmt.Errorf("%w: agent %s has no assistant", contractx.ErrValidation, agent.ID)
	}

	threadID, err := o.runs.CreateThread(ctx)
	if err != nil {
		return session.Session{}, fmt.Errorf("create thread: %w", err)
	}

	sess := session.Session{
		Channel:     channel,
		BusinessID:  agent.BusinessID,
		ThreadID:    threadID,
		AssistantID: assistantID,
		AgentID:     agent.ID,
	}
	zerolog.Ctx(o.withLogger(ctx, sess)).Info().Msg("conversation started")
	return sess, nil
}

// ResolveIntent runs one turn against the assistant and returns its parsed
// reply without acting on it.
func (o *Orchestrator) ResolveIntent(ctx context.Context, sess session.Session, utterance string, priorActionResult json.RawMessage) (contractx.Envelope, error) {
	ctx = o.withLogger(ctx, sess)
	st, err := nodex.ValidateRequest(nodex.GraphInput{
		Session:      sess,
		Utterance:    utterance,
		ActionResult: priorActionResult,
	}, o.now)
	if err != nil {
		return contractx.Envelope{}, err
	}
	st, err = o.resolve(ctx, st)
	if err != nil {
		return contractx.Envelope{}, err
	}
	return st.Envelope, nil
}

// HandleUtterance runs one customer utterance through the full pipeline and
// returns the directives for the channel.
func (o *Orchestrator) HandleUtterance(ctx context.Context, sess session.Session, utterance string) (nodex.GraphOutput, error) {
	return o.invoke(o.withLogger(ctx, sess), nodex.GraphInput{
		Session:   sess,
		Utterance: utterance,
	})
}

// ResumeRun waits on the follow-up run named by sess.RunID and returns its
// reply.
func (o *Orchestrator) ResumeRun(ctx context.Context, sess session.Session) (nodex.GraphOutput, error) {
	return o.invoke(o.withLogger(ctx, sess), nodex.GraphInput{
		Session: sess,
		Resume:  true,
	})
}

func (o *Orchestrator) invoke(ctx context.Context, in nodex.GraphInput) (nodex.GraphOutput, error) {
	out, err := o.graphRunner.Invoke(ctx, in)
	if err != nil {
		return nodex.GraphOutput{}, err
	}
	zerolog.Ctx(ctx).Info().
		Str("branch", string(out.Branch)).
		Str("state", string(out.State)).
		Str("run_id", out.RunID).
		Int("directives", len(out.Directives)).
		Msg("turn handled")
	return out, nil
}

// resolve appends the state's turn and carries it to a parsed envelope.
func (o *Orchestrator) resolve(ctx context.Context, st *nodex.GraphState) (*nodex.GraphState, error) {
	st, err := nodex.AppendTurn(ctx, st, o.runs)
	if err != nil {
		return nil, err
	}
	st, err = nodex.AwaitRun(ctx, st, o.runs, o.tools, o.maxToolHops, o.metrics.Run)
	if err != nil {
		return nil, err
	}
	st, err = nodex.RecordUsage(ctx, st, o.usage, o.pricing, o.metrics.Tokens)
	if err != nil {
		return nil, err
	}
	return nodex.ParseEnvelope(ctx, st, o.runs)
}

func (o *Orchestrator) withLogger(ctx context.Context, sess session.Session) context.Context {
	return logx.WithConversation(ctx, logx.Fields{
		SessionID:  sess.SessionID,
		ThreadID:   sess.ThreadID,
		BusinessID: sess.BusinessID,
		AgentID:    sess.AgentID,
		Channel:    string(sess.Channel),
	})
}
