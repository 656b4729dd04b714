// Package voice serves the telephony callbacks. Every request rebuilds its
// session from the query string and answers with TwiML.
package voice

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
	"github.com/mosopedev/chimedesk-api/agent/session"
)

const (
	PathAccept    = "/agent/call/accept"
	PathAnalyze   = "/agent/call/analyze"
	PathResponder = "/agent/call/responder"
)

type Config struct {
	AuthToken     string        `envconfig:"AUTH_TOKEN" split_words:"true"`
	SpeechTimeout string        `envconfig:"SPEECH_TIMEOUT" split_words:"true" default:"auto"`
	SpeechModel   string        `envconfig:"SPEECH_MODEL" split_words:"true" default:"experimental_conversations"`
	Language      string        `envconfig:"LANGUAGE" split_words:"true" default:"en-US"`
	TurnTimeout   time.Duration `envconfig:"TURN_TIMEOUT" split_words:"true" default:"45s"`
	MaxReprompts  int           `envconfig:"MAX_REPROMPTS" split_words:"true" default:"2"`
}

type say struct {
	Text string `xml:",chardata"`
}

type gather struct {
	Input         string `xml:"input,attr"`
	Action        string `xml:"action,attr"`
	Method        string `xml:"method,attr"`
	SpeechTimeout string `xml:"speechTimeout,attr,omitempty"`
	SpeechModel   string `xml:"speechModel,attr,omitempty"`
	Language      string `xml:"language,attr,omitempty"`
}

type dial struct {
	Number string `xml:"Number"`
}

type hangup struct{}

type redirect struct {
	Method string `xml:"method,attr"`
	URL    string `xml:",chardata"`
}

// Renderer turns directives into TwiML whose callbacks point back at this
// service.
type Renderer struct {
	baseURL       string
	speechTimeout string
	speechModel   string
	language      string
}

func NewRenderer(baseURL string, cfg Config) *Renderer {
	return &Renderer{
		baseURL:       strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		speechTimeout: cfg.SpeechTimeout,
		speechModel:   cfg.SpeechModel,
		language:      cfg.Language,
	}
}

// CallbackURL is path on the public base URL carrying the session params.
func (r *Renderer) CallbackURL(path string, p contractx.ResumeParams) string {
	return r.baseURL + path + "?" + session.Query(p).Encode()
}

// Render writes one <Response>. ContinueListening becomes a speech <Gather>
// followed by a <Redirect> to the same analyze URL, so silence re-prompts
// instead of dropping the call.
func (r *Renderer) Render(directives []contractx.Directive) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)
	root := xml.StartElement{Name: xml.Name{Local: "Response"}}
	if err := enc.EncodeToken(root); err != nil {
		return nil, err
	}
	for _, d := range directives {
		if err := r.encode(enc, d); err != nil {
			return nil, err
		}
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *Renderer) encode(enc *xml.Encoder, d contractx.Directive) error {
	switch d.Kind {
	case contractx.DirectiveSay:
		if strings.TrimSpace(d.Text) == "" {
			return nil
		}
		return enc.EncodeElement(say{Text: d.Text}, element("Say"))
	case contractx.DirectiveEnd:
		return enc.EncodeElement(hangup{}, element("Hangup"))
	case contractx.DirectiveTransfer:
		return enc.EncodeElement(dial{Number: d.Number}, element("Dial"))
	case contractx.DirectiveContinue:
		next := r.CallbackURL(PathAnalyze, d.Resume)
		if err := enc.EncodeElement(gather{
			Input:         "speech",
			Action:        next,
			Method:        "POST",
			SpeechTimeout: r.speechTimeout,
			SpeechModel:   r.speechModel,
			Language:      r.language,
		}, element("Gather")); err != nil {
			return err
		}
		return enc.EncodeElement(redirect{Method: "POST", URL: next}, element("Redirect"))
	case contractx.DirectiveAwaitRun:
		return enc.EncodeElement(redirect{Method: "POST", URL: r.CallbackURL(PathResponder, d.Resume)}, element("Redirect"))
	default:
		return fmt.Errorf("%w: unknown directive %q", contractx.ErrValidation, d.Kind)
	}
}

func element(name string) xml.StartElement {
	return xml.StartElement{Name: xml.Name{Local: name}}
}
