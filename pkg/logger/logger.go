package logx

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Debug        bool `split_words:"true" default:"false"`
	PrettyFormat bool `split_words:"true" default:"false"`
}

var DefaultConfig = &Config{
	Debug:        false,
	PrettyFormat: false,
}

func safe(opts ...Config) *Config {
	if len(opts) == 0 {
		return DefaultConfig
	}
	return &opts[0]
}

func Init(opts ...Config) {
	conf := safe(opts...)

	if conf.PrettyFormat {
		log.Logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	if conf.Debug {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	log.Logger = log.Logger.With().Caller().Stack().Logger()
	zerolog.DefaultContextLogger = &log.Logger
}

// Fields identifies one conversation in log lines.
type Fields struct {
	SessionID  string
	ThreadID   string
	BusinessID string
	AgentID    string
	Channel    string
}

// WithConversation returns ctx carrying a child of the context logger tagged
// with the non-empty conversation fields.
func WithConversation(ctx context.Context, f Fields) context.Context {
	lc := zerolog.Ctx(ctx).With()
	if f.Channel != "" {
		lc = lc.Str("channel", f.Channel)
	}
	if f.SessionID != "" {
		lc = lc.Str("session_id", f.SessionID)
	}
	if f.ThreadID != "" {
		lc = lc.Str("thread_id", f.ThreadID)
	}
	if f.BusinessID != "" {
		lc = lc.Str("business_id", f.BusinessID)
	}
	if f.AgentID != "" {
		lc = lc.Str("agent_id", f.AgentID)
	}
	logger := lc.Logger()
	return logger.WithContext(ctx)
}
