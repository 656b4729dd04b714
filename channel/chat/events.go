// Package chat serves the web chat: a REST call opens a session and a
// websocket carries the conversation, one room per session id.
package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
)

const (
	EventJoinSession   = "joinSession"
	EventClientMessage = "clientMessage"

	EventServerMessage  = "serverMessage"
	EventSessionJoined  = "sessionJoined"
	EventSessionEnded   = "sessionEnded"
	EventTransferNeeded = "transferRequested"
	EventError          = "error"
)

const senderBot = "bot"
const senderCustomer = "customer"

// Frame is the envelope of every socket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinSession struct {
	SessionID string `json:"sessionId"`
}

// ClientMessage may repeat the session's business, agent and thread ids;
// the server trusts its own record over them.
type ClientMessage struct {
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
	Business  string `json:"business,omitempty"`
	Agent     string `json:"agent,omitempty"`
	Thread    string `json:"thread,omitempty"`
}

type ServerMessage struct {
	Sender          string `json:"sender"`
	Message         string `json:"message"`
	ActionCompleted bool   `json:"actionCompleted,omitempty"`
	Error           bool   `json:"error,omitempty"`
}

type SessionJoined struct {
	SessionID string `json:"sessionId"`
	ThreadID  string `json:"threadId"`
}

type Transfer struct {
	Number string `json:"number"`
}

type ErrorData struct {
	Message string `json:"message"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

func decodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: invalid frame: %v", contractx.ErrValidation, err)
	}
	f.Event = strings.TrimSpace(f.Event)
	if f.Event == "" {
		return Frame{}, fmt.Errorf("%w: frame has no event", contractx.ErrValidation)
	}
	return f, nil
}

// Frames maps one turn's directives to outbound frames. ContinueListening
// needs nothing on a socket. actionCompleted rides on the last message.
func Frames(directives []contractx.Directive, actionCompleted bool) ([][]byte, error) {
	lastSay := -1
	for i, d := range directives {
		if d.Kind == contractx.DirectiveSay && strings.TrimSpace(d.Text) != "" {
			lastSay = i
		}
	}

	var frames [][]byte
	for i, d := range directives {
		var (
			event string
			data  any
		)
		switch d.Kind {
		case contractx.DirectiveSay:
			if strings.TrimSpace(d.Text) == "" {
				continue
			}
			event = EventServerMessage
			data = ServerMessage{Sender: senderBot, Message: d.Text, ActionCompleted: actionCompleted && i == lastSay}
		case contractx.DirectiveEnd:
			event, data = EventSessionEnded, struct{}{}
		case contractx.DirectiveTransfer:
			event, data = EventTransferNeeded, Transfer{Number: d.Number}
		case contractx.DirectiveContinue:
			continue
		default:
			return nil, fmt.Errorf("%w: directive %q has no chat rendering", contractx.ErrValidation, d.Kind)
		}

		frame, err := encodeFrame(event, data)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}
