package session

import (
	"sync"
	"sync/atomic"
)

const defaultSendBuffer = 16

var memberSeq atomic.Uint64

// Member is one socket joined to a chat session room.
type Member struct {
	id        uint64
	sessionID string
	send      chan []byte
	closeOnce sync.Once
}

func (m *Member) SessionID() string { return m.sessionID }

// Outbox yields payloads broadcast to the member's room. It is closed when
// the member leaves or is evicted for falling behind.
func (m *Member) Outbox() <-chan []byte { return m.send }

func (m *Member) close() {
	m.closeOnce.Do(func() { close(m.send) })
}

type turnLock struct {
	mu   sync.Mutex
	refs int
}

// Hub is the chat room registry. Rooms are keyed by session id and never
// share members or turn locks.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[uint64]*Member
	buffer int

	turnsMu sync.Mutex
	turns   map[string]*turnLock

	onRoomsChanged func(active int)
}

type HubOption func(*Hub)

func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithRoomGauge is called with the number of non-empty rooms after every
// join or leave.
func WithRoomGauge(fn func(active int)) HubOption {
	return func(h *Hub) {
		if fn != nil {
			h.onRoomsChanged = fn
		}
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		rooms:          make(map[string]map[uint64]*Member),
		buffer:         defaultSendBuffer,
		turns:          make(map[string]*turnLock),
		onRoomsChanged: func(int) {},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Join(sessionID string) *Member {
	m := &Member{
		id:        memberSeq.Add(1),
		sessionID: sessionID,
		send:      make(chan []byte, h.buffer),
	}

	h.mu.Lock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[uint64]*Member)
		h.rooms[sessionID] = room
	}
	room[m.id] = m
	active := len(h.rooms)
	h.mu.Unlock()

	h.onRoomsChanged(active)
	return m
}

// Leave removes m from its room. It is safe to call more than once.
func (h *Hub) Leave(m *Member) {
	if m == nil {
		return
	}
	h.mu.Lock()
	removed := h.removeLocked(m)
	active := len(h.rooms)
	h.mu.Unlock()

	if removed {
		h.onRoomsChanged(active)
	}
}

func (h *Hub) removeLocked(m *Member) bool {
	room, ok := h.rooms[m.sessionID]
	if !ok {
		return false
	}
	if _, ok := room[m.id]; !ok {
		return false
	}
	delete(room, m.id)
	if len(room) == 0 {
		delete(h.rooms, m.sessionID)
	}
	m.close()
	return true
}

// Broadcast queues payload for every member of the session's room and returns
// how many members received it. A member whose outbox is full is evicted
// rather than allowed to stall the room.
func (h *Hub) Broadcast(sessionID string, payload []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[sessionID]
	delivered := 0
	var evicted []*Member
	for _, m := range room {
		select {
		case m.send <- payload:
			delivered++
		default:
			evicted = append(evicted, m)
		}
	}
	for _, m := range evicted {
		h.removeLocked(m)
	}
	if len(evicted) > 0 {
		active := len(h.rooms)
		go h.onRoomsChanged(active)
	}
	return delivered
}

func (h *Hub) Members(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// LockTurn serialises turns on one session: the next utterance is not
// handled until the previous reply has been produced. Call the returned
// function to release.
func (h *Hub) LockTurn(sessionID string) func() {
	h.turnsMu.Lock()
	tl, ok := h.turns[sessionID]
	if !ok {
		tl = &turnLock{}
		h.turns[sessionID] = tl
	}
	tl.refs++
	h.turnsMu.Unlock()

	tl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			tl.mu.Unlock()
			h.turnsMu.Lock()
			tl.refs--
			if tl.refs == 0 {
				delete(h.turns, sessionID)
			}
			h.turnsMu.Unlock()
		})
	}
}
