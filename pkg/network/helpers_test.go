package network

import (
	"sync"
	"sync/atomic"

	"github.com/QYUbit/Expanse/pkg/wire"
)

type manualClock struct {
	now atomic.Uint64
}

func (c *manualClock) Now() uint64       { return c.now.Load() }
func (c *manualClock) advance(us uint64) { c.now.Add(us) }
func (c *manualClock) set(us uint64)     { c.now.Store(us) }

type sentFrame struct {
	connID uint32
	frame  *wire.Frame
}

type recordingChannel struct {
	mu     sync.Mutex
	sent   []sentFrame
	closed []uint32
}

func (c *recordingChannel) Send(connID uint32, frame *wire.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentFrame{connID: connID, frame: frame})
	return true
}

func (c *recordingChannel) CloseSession(connID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, connID)
}

func (c *recordingChannel) Valid() bool { return true }

// control returns the session ids that received a session control frame of kind.
func (c *recordingChannel) control(kind wire.SessionControlKind) []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []uint32
	for _, s := range c.sent {
		if ctl, ok := s.frame.Body.(*wire.SessionControl); ok && ctl.Kind == kind {
			out = append(out, s.frame.TunnelID)
		}
	}
	return out
}

type recordingTerminal struct {
	mu       sync.Mutex
	reject   bool
	opened   []uint32
	received map[uint32]int
	closed   []uint32
}

func newRecordingTerminal() *recordingTerminal {
	return &recordingTerminal{received: make(map[uint32]int)}
}

func (t *recordingTerminal) OpenSession(id uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reject {
		return false
	}
	t.opened = append(t.opened, id)
	return true
}

func (t *recordingTerminal) OnMessageReceived(id uint32, _ *wire.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.received[id]++
}

func (t *recordingTerminal) OnSessionClosed(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = append(t.closed, id)
}

func (t *recordingTerminal) count(id uint32) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.received[id]
}

func (t *recordingTerminal) closedIDs() []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]uint32(nil), t.closed...)
}

func payload(tunnel uint32) *wire.Frame {
	return &wire.Frame{TunnelID: tunnel, Body: &wire.Opaque{Field: 17, Data: []byte{1}}}
}
