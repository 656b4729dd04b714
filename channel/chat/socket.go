package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
	"github.com/mosopedev/chimedesk-api/agent/session"
	logx "github.com/mosopedev/chimedesk-api/pkg/logger"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 45 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	pendingMsgs = 8
)

type turn struct {
	sessionID string
	message   string
}

// client is one websocket connection. Reads happen on the serving goroutine,
// turns run one at a time on a worker and every write holds writeMu.
type client struct {
	h    *Handler
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	memberMu sync.Mutex
	member   *session.Member

	turns chan turn
	wg    sync.WaitGroup
}

func newClient(ctx context.Context, h *Handler, conn *websocket.Conn) *client {
	ctx, cancel := context.WithCancel(ctx)
	return &client{
		h:      h,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		turns:  make(chan turn, pendingMsgs),
	}
}

func (c *client) run() {
	c.wg.Add(2)
	go c.pingLoop()
	go c.turnLoop()
	c.readLoop()
	c.close()
}

func (c *client) close() {
	c.cancel()
	close(c.turns)
	c.h.hub.Leave(c.current())
	_ = c.conn.Close()
	c.wg.Wait()
}

func (c *client) readLoop() {
	c.conn.SetReadLimit(c.h.readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zerolog.Ctx(c.ctx).Debug().Err(err).Msg("chat socket closed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := decodeFrame(data)
		if err != nil {
			c.sendError(err.Error())
			continue
		}

		switch frame.Event {
		case EventJoinSession:
			c.handleJoin(frame.Data)
		case EventClientMessage:
			c.handleMessage(frame.Data)
		default:
			c.sendError("unsupported event " + frame.Event)
		}
	}
}

func (c *client) handleJoin(data json.RawMessage) {
	var req JoinSession
	if err := json.Unmarshal(data, &req); err != nil || strings.TrimSpace(req.SessionID) == "" {
		c.sendError("sessionId is required")
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)

	rec, err := c.h.store.Load(c.ctx, sessionID)
	if err != nil {
		if errors.Is(err, contractx.ErrNotFound) {
			c.sendError("unknown session")
			return
		}
		zerolog.Ctx(c.ctx).Error().Err(err).Str("session_id", sessionID).Msg("chat session load failed")
		c.sendError("session unavailable")
		return
	}

	m := c.h.hub.Join(sessionID)
	c.memberMu.Lock()
	prev := c.member
	c.member = m
	c.memberMu.Unlock()
	c.h.hub.Leave(prev)

	c.wg.Add(1)
	go c.pump(m)

	zerolog.Ctx(c.ctx).Info().Str("session_id", sessionID).Msg("chat session joined")
	c.send(EventSessionJoined, SessionJoined{SessionID: rec.SessionID, ThreadID: rec.ThreadID})
	c.send(EventServerMessage, ServerMessage{Sender: senderBot, Message: c.h.phrases.ChatGreeting})
}

func (c *client) handleMessage(data json.RawMessage) {
	m := c.current()
	if m == nil {
		c.sendError("join a session first")
		return
	}
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("invalid message")
		return
	}
	text := strings.TrimSpace(msg.Message)
	if text == "" {
		c.sendError("message is empty")
		return
	}

	select {
	case c.turns <- turn{sessionID: m.SessionID(), message: text}:
	default:
		c.sendError("too many pending messages")
	}
}

func (c *client) turnLoop() {
	defer c.wg.Done()
	for t := range c.turns {
		if c.ctx.Err() != nil {
			continue
		}
		c.h.handleTurn(c.ctx, t.sessionID, t.message)
	}
}

// handleTurn runs one customer message and broadcasts the reply to the room.
// Turns on the same session are serialised across connections.
func (h *Handler) handleTurn(ctx context.Context, sessionID string, message string) {
	unlock := h.hub.LockTurn(sessionID)
	defer unlock()

	if h.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.turnTimeout)
		defer cancel()
	}

	rec, err := h.store.Load(ctx, sessionID)
	if err != nil {
		h.failTurn(ctx, sessionID, err)
		return
	}
	sess := rec.Session()
	ctx = logx.WithConversation(ctx, logx.Fields{
		SessionID:  sess.SessionID,
		ThreadID:   sess.ThreadID,
		BusinessID: sess.BusinessID,
		AgentID:    sess.AgentID,
	})
	h.record(ctx, rec, senderCustomer, message)

	out, err := h.engine.HandleUtterance(ctx, sess, message)
	if err != nil {
		h.failTurn(ctx, sessionID, err)
		return
	}

	frames, err := Frames(out.Directives, out.ActionCompleted)
	if err != nil {
		h.failTurn(ctx, sessionID, err)
		return
	}
	for _, d := range out.Directives {
		h.metrics.Directive(string(contractx.ChannelChat), string(d.Kind))
		if d.Kind == contractx.DirectiveSay && strings.TrimSpace(d.Text) != "" {
			h.record(ctx, rec, senderBot, d.Text)
		}
	}
	for _, frame := range frames {
		h.hub.Broadcast(sessionID, frame)
	}

	rec.UpdatedAt = h.now().UTC()
	if err := h.store.Save(ctx, rec); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("chat session touch failed")
	}
}

// failTurn tells the room the turn failed. The socket stays open.
func (h *Handler) failTurn(ctx context.Context, sessionID string, err error) {
	kind := contractx.ErrorKind(err)
	event := zerolog.Ctx(ctx).Warn()
	if errors.Is(err, contractx.ErrRunFailed) || kind == "internal" {
		event = zerolog.Ctx(ctx).Error()
	}
	event.Err(err).Str("kind", kind).Msg("chat turn failed")
	h.metrics.ChannelError(string(contractx.ChannelChat), kind)

	frame, ferr := encodeFrame(EventServerMessage, ServerMessage{Sender: senderBot, Message: h.phrases.Apology, Error: true})
	if ferr != nil {
		return
	}
	h.hub.Broadcast(sessionID, frame)
}

// pump forwards room broadcasts to the socket until the member leaves. A
// member evicted for falling behind loses its connection.
func (c *client) pump(m *session.Member) {
	defer c.wg.Done()
	for payload := range m.Outbox() {
		if err := c.write(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	if c.current() == m && c.ctx.Err() == nil {
		zerolog.Ctx(c.ctx).Warn().Str("session_id", m.SessionID()).Msg("chat client evicted")
		_ = c.conn.Close()
	}
}

func (c *client) pingLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) current() *session.Member {
	c.memberMu.Lock()
	defer c.memberMu.Unlock()
	return c.member
}

func (c *client) write(messageType int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, payload)
}

func (c *client) send(event string, data any) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		zerolog.Ctx(c.ctx).Error().Err(err).Msg("chat frame encode failed")
		return
	}
	if err := c.write(websocket.TextMessage, frame); err != nil {
		zerolog.Ctx(c.ctx).Debug().Err(err).Msg("chat write failed")
	}
}

func (c *client) sendError(message string) {
	c.send(EventError, ErrorData{Message: message})
}
