package chat

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	PathSession = "/agent/chat/session"
	PathSocket  = "/agent/chat/ws"
)

type Config struct {
	ReadLimit      int64         `envconfig:"READ_LIMIT" split_words:"true" default:"65536"`
	SendBuffer     int           `envconfig:"SEND_BUFFER" split_words:"true" default:"16"`
	AllowedOrigins []string      `envconfig:"ALLOWED_ORIGINS" split_words:"true"`
	TurnTimeout    time.Duration `envconfig:"TURN_TIMEOUT" split_words:"true" default:"60s"`
}

// originAllowed accepts requests without an Origin header, any origin when the
// list holds "*", a listed origin, and otherwise only the server's own host.
func originAllowed(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			a = strings.TrimSpace(a)
			if a == "*" || strings.EqualFold(strings.TrimRight(a, "/"), origin) {
				return true
			}
		}
		if len(allowed) > 0 {
			return false
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
