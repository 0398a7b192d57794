package network

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/QYUbit/Expanse/pkg/axlog"
	"github.com/QYUbit/Expanse/pkg/clock"
	"github.com/QYUbit/Expanse/pkg/ids"
	"github.com/QYUbit/Expanse/pkg/wire"
)

const (
	DefaultConnectionLimit   = 8
	DefaultHeartbeatAfter    = 400 * time.Millisecond
	DefaultInactivityTimeout = 5 * time.Second

	// index 0 is never handed out, so session id 0 never names a live session
	maxSessionIndex = 0xFFFF
)

// SessionID packs a slot index and its token.
func SessionID(index, token uint16) uint32 {
	return uint32(index)<<16 | uint32(token)
}

// SplitSessionID is the inverse of SessionID.
func SplitSessionID(id uint32) (index, token uint16) {
	return uint16(id >> 16), uint16(id)
}

type session struct {
	token    uint16
	connID   uint32
	parent   uint32
	children []uint32
	handler  Terminal[*wire.Frame]
}

func (s *session) live() bool { return s.handler != nil }

type connection struct {
	up            bool
	sessions      []uint32
	lastInbound   uint64
	lastHeartbeat uint64
}

func (c *connection) root() uint32 {
	if len(c.sessions) == 0 {
		return 0
	}
	return c.sessions[0]
}

type closeNote struct {
	sessionID uint32
	connID    uint32
	handler   Terminal[*wire.Frame]
	root      bool
}

// SessionMux spreads logical sessions over the connections of one player.
//
// Toward the connection layer it is a Terminal keyed by connection id; toward modules it offers
// a Channel keyed by session id (see Channel). A single mutex guards both tables.
type SessionMux struct {
	logger axlog.Logger
	clock  clock.Source

	heartbeatAfterUs uint64
	inactivityUs     uint64

	mu          sync.Mutex
	downstream  Channel[*wire.Frame]
	connections []connection
	sessions    []session
	free        *ids.Pool[uint16]
}

type MuxOption func(*SessionMux)

func WithMuxLogger(l axlog.Logger) MuxOption {
	return func(m *SessionMux) { m.logger = l }
}

// WithLiveness sets the silence after which a heartbeat is sent and the silence after which the
// connection is dropped.
func WithLiveness(heartbeatAfter, inactivity time.Duration) MuxOption {
	return func(m *SessionMux) {
		m.heartbeatAfterUs = uint64(heartbeatAfter.Microseconds())
		m.inactivityUs = uint64(inactivity.Microseconds())
	}
}

func NewSessionMux(connectionLimit int, src clock.Source, opts ...MuxOption) *SessionMux {
	if connectionLimit <= 0 {
		connectionLimit = DefaultConnectionLimit
	}

	m := &SessionMux{
		clock:            src,
		heartbeatAfterUs: uint64(DefaultHeartbeatAfter.Microseconds()),
		inactivityUs:     uint64(DefaultInactivityTimeout.Microseconds()),
		connections:      make([]connection, connectionLimit),
		sessions:         make([]session, 1, 64),
		free:             ids.NewPool[uint16](1, maxSessionIndex),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = axlog.OrNop(m.logger)
	return m
}

// AttachToChannel sets the connection level channel frames are forwarded to.
func (m *SessionMux) AttachToChannel(ch Channel[*wire.Frame]) {
	m.mu.Lock()
	m.downstream = ch
	m.mu.Unlock()
}

func (m *SessionMux) ConnectionLimit() int {
	return len(m.connections)
}

// ====================================================================================
// Session table
// ====================================================================================

// AddConnection opens connID and its root session, bound to handler.
func (m *SessionMux) AddConnection(connID uint32, handler Terminal[*wire.Frame]) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if connID >= uint32(len(m.connections)) {
		return 0, ErrInvalidConnection
	}
	if m.downstream == nil {
		return 0, ErrChannelDetached
	}
	conn := &m.connections[connID]
	if conn.up {
		return 0, ErrConnectionInUse
	}

	id, err := m.allocLocked(connID, 0, handler)
	if err != nil {
		return 0, err
	}

	now := m.clock.Now()
	*conn = connection{
		up:            true,
		sessions:      append(conn.sessions[:0], id),
		lastInbound:   now,
		lastHeartbeat: now,
	}

	m.logger.Debug("connection opened", "connection", connID, "session", id)
	return id, nil
}

// CreateSession opens a session on the connection of parentID, bound to handler.
func (m *SessionMux) CreateSession(parentID uint32, handler Terminal[*wire.Frame]) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent := m.lookupLocked(parentID)
	if parent == nil {
		return 0, ErrInvalidSession
	}
	connID := parent.connID

	id, err := m.allocLocked(connID, parentID, handler)
	if err != nil {
		return 0, err
	}

	// parent may have moved when the table grew
	parent = m.lookupLocked(parentID)
	parent.children = append(parent.children, id)
	m.connections[connID].sessions = append(m.connections[connID].sessions, id)
	return id, nil
}

func (m *SessionMux) allocLocked(connID, parentID uint32, handler Terminal[*wire.Frame]) (uint32, error) {
	index, ok := m.free.Next()
	if !ok {
		return 0, ErrNoFreeSession
	}

	if int(index) == len(m.sessions) {
		m.sessions = append(m.sessions, session{token: uint16(rand.N(maxSessionIndex)) + 1})
	} else {
		s := &m.sessions[index]
		s.token++
		if s.token == 0 {
			s.token = 1
		}
	}

	s := &m.sessions[index]
	s.connID = connID
	s.parent = parentID
	s.children = s.children[:0]
	s.handler = handler

	id := SessionID(index, s.token)
	if !handler.OpenSession(id) {
		s.handler = nil
		m.free.Release(index)
		return 0, ErrSessionRejected
	}
	return id, nil
}

// lookupLocked returns the live session addressed by id, or nil for stale and unknown ids.
func (m *SessionMux) lookupLocked(id uint32) *session {
	index, token := SplitSessionID(id)
	if index == 0 || int(index) >= len(m.sessions) {
		return nil
	}
	s := &m.sessions[index]
	if !s.live() || s.token != token {
		return nil
	}
	return s
}

// IsValid reports whether id addresses a live session.
func (m *SessionMux) IsValid(id uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupLocked(id) != nil
}

// ConnectionOf returns the connection a live session belongs to.
func (m *SessionMux) ConnectionOf(id uint32) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.lookupLocked(id)
	if s == nil {
		return 0, false
	}
	return s.connID, true
}

// Sessions counts live sessions.
func (m *SessionMux) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.free.InUse()
}

// Connections counts open connections.
func (m *SessionMux) Connections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := range m.connections {
		if m.connections[i].up {
			n++
		}
	}
	return n
}

// ====================================================================================
// Sending and closing
// ====================================================================================

// Send stamps frame with the session id and the current in-game time and forwards it on the
// session's connection. It returns false if the session does not exist anymore, and also when
// the connection refused the frame, for example because its outbox is full. The session stays
// open in the second case; use IsValid to tell the two apart.
func (m *SessionMux) Send(id uint32, frame *wire.Frame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.lookupLocked(id)
	if s == nil || m.downstream == nil || !m.connections[s.connID].up {
		return false
	}

	frame.TunnelID = id
	frame.Timestamp = m.clock.Now()
	if !m.downstream.Send(s.connID, frame) {
		m.logger.Warn("connection refused frame", "connection", s.connID, "session", id)
		return false
	}
	return true
}

// CloseSession closes id and every session opened below it. Closing a root session closes the
// whole connection.
func (m *SessionMux) CloseSession(id uint32) bool {
	m.mu.Lock()
	notes, ok := m.closeLocked(id, nil)
	ch := m.downstream
	m.mu.Unlock()

	m.notify(ch, notes)
	return ok
}

// CloseConnection closes every session of connID, root first, and the connection itself.
func (m *SessionMux) CloseConnection(connID uint32) bool {
	m.mu.Lock()
	if connID >= uint32(len(m.connections)) || !m.connections[connID].up {
		m.mu.Unlock()
		return false
	}
	notes, ok := m.closeLocked(m.connections[connID].root(), nil)
	ch := m.downstream
	m.mu.Unlock()

	m.notify(ch, notes)
	return ok
}

func (m *SessionMux) closeLocked(id uint32, notes []closeNote) ([]closeNote, bool) {
	s := m.lookupLocked(id)
	if s == nil {
		return notes, false
	}

	if s.parent == 0 {
		conn := &m.connections[s.connID]
		order := append([]uint32(nil), conn.sessions...)
		for _, sid := range order {
			notes = m.killLocked(sid, notes)
		}
		conn.up = false
		conn.sessions = conn.sessions[:0]
		return notes, true
	}

	// children close before their parent
	for _, sid := range m.subtreeLocked(id, nil) {
		notes = m.killLocked(sid, notes)
	}
	return notes, true
}

// subtreeLocked appends the sessions below id and then id itself to order, deepest first.
func (m *SessionMux) subtreeLocked(id uint32, order []uint32) []uint32 {
	if s := m.lookupLocked(id); s != nil {
		for _, c := range s.children {
			order = m.subtreeLocked(c, order)
		}
	}
	return append(order, id)
}

func (m *SessionMux) killLocked(id uint32, notes []closeNote) []closeNote {
	s := m.lookupLocked(id)
	if s == nil {
		return notes
	}
	index, _ := SplitSessionID(id)

	if p := m.lookupLocked(s.parent); p != nil {
		for i, c := range p.children {
			if c == id {
				p.children = append(p.children[:i], p.children[i+1:]...)
				break
			}
		}
	}

	conn := &m.connections[s.connID]
	for i, sid := range conn.sessions {
		if sid == id {
			conn.sessions = append(conn.sessions[:i], conn.sessions[i+1:]...)
			break
		}
	}

	notes = append(notes, closeNote{
		sessionID: id,
		connID:    s.connID,
		handler:   s.handler,
		root:      s.parent == 0,
	})

	// the token stays: a new one is only drawn when the slot is revived
	s.handler = nil
	s.children = s.children[:0]
	m.free.Release(index)
	return notes
}

// notify tells peers and handlers about closed sessions. It runs without the lock.
func (m *SessionMux) notify(ch Channel[*wire.Frame], notes []closeNote) {
	for _, n := range notes {
		if ch != nil {
			ind := &wire.Frame{
				TunnelID:  n.sessionID,
				Timestamp: m.clock.Now(),
				Body:      &wire.SessionControl{Kind: wire.ClosedInd},
			}
			ch.Send(n.connID, ind)
		}
		n.handler.OnSessionClosed(n.sessionID)
	}

	for _, n := range notes {
		if !n.root {
			continue
		}
		m.logger.Debug("connection closed", "connection", n.connID, "session", n.sessionID)
		if ch != nil {
			ch.CloseSession(n.connID)
		}
	}
}

// ====================================================================================
// Connection side terminal
// ====================================================================================

// OpenSession reports whether connID is free to be added.
func (m *SessionMux) OpenSession(connID uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return connID < uint32(len(m.connections)) && !m.connections[connID].up
}

// OnMessageReceived routes an inbound frame of connID to the handler of its session.
func (m *SessionMux) OnMessageReceived(connID uint32, frame *wire.Frame) {
	m.mu.Lock()
	if connID >= uint32(len(m.connections)) || !m.connections[connID].up {
		m.mu.Unlock()
		return
	}
	m.connections[connID].lastInbound = m.clock.Now()

	if ctl, ok := frame.Body.(*wire.SessionControl); ok {
		var notes []closeNote
		if ctl.Kind == wire.Close {
			if s := m.lookupLocked(frame.TunnelID); s != nil && s.connID == connID {
				notes, _ = m.closeLocked(frame.TunnelID, nil)
			}
		}
		ch := m.downstream
		m.mu.Unlock()
		m.notify(ch, notes)
		return
	}

	s := m.lookupLocked(frame.TunnelID)
	if s == nil || s.connID != connID {
		m.mu.Unlock()
		m.logger.Debug("frame for unknown session dropped", "connection", connID, "session", frame.TunnelID)
		return
	}
	handler := s.handler
	m.mu.Unlock()

	handler.OnMessageReceived(frame.TunnelID, frame)
}

// OnSessionClosed is called by the connection layer when connID is gone.
func (m *SessionMux) OnSessionClosed(connID uint32) {
	m.CloseConnection(connID)
}

// ====================================================================================
// Liveness
// ====================================================================================

// CheckLiveness sends heartbeats to quiet connections and closes silent ones.
func (m *SessionMux) CheckLiveness() {
	m.mu.Lock()
	now := m.clock.Now()
	ch := m.downstream

	var notes []closeNote
	for connID := range m.connections {
		conn := &m.connections[connID]
		if !conn.up {
			continue
		}

		silent := since(now, conn.lastInbound)
		if silent >= m.inactivityUs {
			m.logger.Debug("connection timed out", "connection", connID, "silent_us", silent)
			notes, _ = m.closeLocked(conn.root(), notes)
			continue
		}

		if silent >= m.heartbeatAfterUs && since(now, conn.lastHeartbeat) >= m.heartbeatAfterUs && ch != nil {
			ch.Send(uint32(connID), &wire.Frame{
				TunnelID:  conn.root(),
				Timestamp: now,
				Body:      &wire.SessionControl{Kind: wire.Heartbeat},
			})
			conn.lastHeartbeat = now
		}
	}
	m.mu.Unlock()

	m.notify(ch, notes)
}

func since(now, then uint64) uint64 {
	if then > now {
		return 0
	}
	return now - then
}

// ====================================================================================
// Session side channel
// ====================================================================================

// Channel returns the session keyed channel modules send through.
func (m *SessionMux) Channel() Channel[*wire.Frame] {
	return sessionChannel{m}
}

type sessionChannel struct {
	m *SessionMux
}

func (c sessionChannel) Send(id uint32, frame *wire.Frame) bool { return c.m.Send(id, frame) }

func (c sessionChannel) CloseSession(id uint32) { c.m.CloseSession(id) }

func (c sessionChannel) Valid() bool {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return c.m.downstream != nil && c.m.downstream.Valid()
}
