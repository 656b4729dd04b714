// Package metrics exposes Prometheus instruments for the conversation engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chimedesk"

type Metrics struct {
	// Labels: outcome (completed|failed|timeout|busy|error)
	RunsTotal *prometheus.CounterVec

	RunDuration prometheus.Histogram

	// Labels: tool, outcome (ok|error|unresolved)
	ToolCallsTotal *prometheus.CounterVec

	// Labels: type (prompt|completion)
	TokensTotal *prometheus.CounterVec

	// Labels: channel (voice|chat), kind (say|end|transfer|continue_listening|await_run)
	DirectivesTotal *prometheus.CounterVec

	// Labels: outcome (ok|error|invalid_url)
	WebhookCallsTotal *prometheus.CounterVec

	// Labels: channel, kind (configuration|transient|internal)
	ChannelErrorsTotal *prometheus.CounterVec

	ActiveChatRooms prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Assistant runs by final outcome.",
		}, []string{"outcome"}),

		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Time from run start to a terminal status, tool rounds included.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),

		ToolCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls answered for the assistant.",
		}, []string{"tool", "outcome"}),

		TokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens reported by completed runs.",
		}, []string{"type"}),

		DirectivesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directives_total",
			Help:      "Directives rendered per channel.",
		}, []string{"channel", "kind"}),

		WebhookCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_calls_total",
			Help:      "Business webhook invocations.",
		}, []string{"outcome"}),

		ChannelErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_errors_total",
			Help:      "Errors recovered at a channel boundary.",
		}, []string{"channel", "kind"}),

		ActiveChatRooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_chat_rooms",
			Help:      "Chat sessions with at least one connected socket.",
		}),
	}
}

func (m *Metrics) Run(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ToolCall(tool string, outcome string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) Tokens(prompt int64, completion int64) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues("prompt").Add(float64(prompt))
	m.TokensTotal.WithLabelValues("completion").Add(float64(completion))
}

func (m *Metrics) Directive(channel string, kind string) {
	if m == nil {
		return
	}
	m.DirectivesTotal.WithLabelValues(channel, kind).Inc()
}

func (m *Metrics) Webhook(outcome string) {
	if m == nil {
		return
	}
	m.WebhookCallsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ChannelError(channel string, kind string) {
	if m == nil {
		return
	}
	m.ChannelErrorsTotal.WithLabelValues(channel, kind).Inc()
}

func (m *Metrics) SetActiveChatRooms(n int) {
	if m == nil {
		return
	}
	m.ActiveChatRooms.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
