package voice

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
	nodex "github.com/mosopedev/chimedesk-api/agent/nodes"
	"github.com/mosopedev/chimedesk-api/agent/prompt"
	"github.com/mosopedev/chimedesk-api/agent/session"
	logx "github.com/mosopedev/chimedesk-api/pkg/logger"
	metricsx "github.com/mosopedev/chimedesk-api/pkg/metrics"
)

// Engine is what the voice callbacks need from the orchestrator.
type Engine interface {
	FindAgent(ctx context.Context, agentID string, dialed string) (contractx.Agent, error)
	StartConversation(ctx context.Context, channel contractx.ChannelKind, agent contractx.Agent) (session.Session, error)
	HandleUtterance(ctx context.Context, sess session.Session, utterance string) (nodex.GraphOutput, error)
	ResumeRun(ctx context.Context, sess session.Session) (nodex.GraphOutput, error)
}

type Handler struct {
	engine      Engine
	renderer    *Renderer
	phrases     prompt.PhraseSet
	metrics     *metricsx.Metrics
	turnTimeout time.Duration
	// maxReprompts is how many silent gathers a call gets before hanging up.
	maxReprompts int
}

type Option func(*Handler)

func WithMetrics(m *metricsx.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithTurnTimeout bounds one callback.
func WithTurnTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.turnTimeout = d
	}
}

// WithMaxReprompts bounds consecutive silent gathers. Zero hangs up on the
// first silence.
func WithMaxReprompts(n int) Option {
	return func(h *Handler) {
		if n >= 0 {
			h.maxReprompts = n
		}
	}
}

func NewHandler(engine Engine, renderer *Renderer, phrases prompt.PhraseSet, opts ...Option) *Handler {
	h := &Handler{
		engine:       engine,
		renderer:     renderer,
		phrases:      phrases,
		maxReprompts: 2,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the three callbacks on mux, wrapped in middleware.
func (h *Handler) Register(mux *http.ServeMux, middleware ...func(http.Handler) http.Handler) {
	wrap := func(fn http.HandlerFunc) http.Handler {
		var next http.Handler = fn
		for i := len(middleware) - 1; i >= 0; i-- {
			next = middleware[i](next)
		}
		return next
	}
	mux.Handle("POST "+PathAccept, wrap(h.handleAccept))
	mux.Handle("POST "+PathAnalyze, wrap(h.handleAnalyze))
	mux.Handle("POST "+PathResponder, wrap(h.handleResponder))
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.turnContext(r)
	defer cancel()

	if err := r.ParseForm(); err != nil {
		h.fail(ctx, w, err)
		return
	}
	agentID := firstNonEmpty(r.URL.Query().Get(session.ParamAgentID), r.URL.Query().Get("agent_id"), r.PostForm.Get("agentId"))
	dialed := r.PostForm.Get("To")

	agent, err := h.engine.FindAgent(ctx, agentID, dialed)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	sess, err := h.engine.StartConversation(ctx, contractx.ChannelVoice, agent)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	ctx = withSession(ctx, sess)
	zerolog.Ctx(ctx).Info().Str("call_sid", r.PostForm.Get("CallSid")).Msg("call accepted")

	h.respond(ctx, w, []contractx.Directive{
		contractx.Say(h.phrases.Greeting),
		contractx.ContinueListening(sess.Resume()),
	})
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.turnContext(r)
	defer cancel()

	if err := r.ParseForm(); err != nil {
		h.fail(ctx, w, err)
		return
	}
	sess, err := session.FromQuery(r.URL.Query())
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	ctx = withSession(ctx, sess)

	speech := strings.TrimSpace(r.PostForm.Get("SpeechResult"))
	if speech == "" {
		if sess.Reprompts >= h.maxReprompts {
			zerolog.Ctx(ctx).Info().Int("reprompts", sess.Reprompts).Msg("caller silent, ending call")
			h.respond(ctx, w, []contractx.Directive{
				contractx.Say(h.phrases.NoInput),
				contractx.End(),
			})
			return
		}
		resume := sess.Resume()
		resume.Reprompts++
		h.respond(ctx, w, []contractx.Directive{
			contractx.Say(h.phrases.Reprompt),
			contractx.ContinueListening(resume),
		})
		return
	}
	sess.Reprompts = 0

	out, err := h.engine.HandleUtterance(ctx, sess, speech)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	h.respond(ctx, w, out.Directives)
}

func (h *Handler) handleResponder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.turnContext(r)
	defer cancel()

	sess, err := session.FromQuery(r.URL.Query())
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	ctx = withSession(ctx, sess)
	sess.Reprompts = 0
	out, err := h.engine.ResumeRun(ctx, sess)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	h.respond(ctx, w, out.Directives)
}

func (h *Handler) turnContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.turnTimeout > 0 {
		return context.WithTimeout(r.Context(), h.turnTimeout)
	}
	return context.WithCancel(r.Context())
}

func (h *Handler) respond(ctx context.Context, w http.ResponseWriter, directives []contractx.Directive) {
	body, err := h.renderer.Render(directives)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	for _, d := range directives {
		h.metrics.Directive(string(contractx.ChannelVoice), string(d.Kind))
	}
	writeTwiML(w, body)
}

// fail answers with an apology and a hangup. Twilio reads non-2xx replies as
// an application error and plays its own message, so the status stays 200.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	kind := contractx.ErrorKind(err)
	event := zerolog.Ctx(ctx).Warn()
	if errors.Is(err, contractx.ErrRunFailed) || kind == "internal" {
		event = zerolog.Ctx(ctx).Error()
	}
	event.Err(err).Str("kind", kind).Msg("voice turn failed")
	h.metrics.ChannelError(string(contractx.ChannelVoice), kind)

	body, rerr := h.renderer.Render([]contractx.Directive{contractx.Say(h.phrases.Apology), contractx.End()})
	if rerr != nil {
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	writeTwiML(w, body)
}

func writeTwiML(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func withSession(ctx context.Context, sess session.Session) context.Context {
	return logx.WithConversation(ctx, logx.Fields{
		Channel:    string(contractx.ChannelVoice),
		ThreadID:   sess.ThreadID,
		BusinessID: sess.BusinessID,
		AgentID:    sess.AgentID,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
