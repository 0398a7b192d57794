package modules

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/QYUbit/Expanse/pkg/network"
	"github.com/QYUbit/Expanse/pkg/wire"
)

type fakeClock struct {
	now atomic.Uint64
}

func (c *fakeClock) Now() uint64      { return c.now.Load() }
func (c *fakeClock) set(us uint64)    { c.now.Store(us) }
func (c *fakeClock) advance(us int64) { c.now.Add(uint64(us)) }

type captured struct {
	id    uint32
	frame *wire.Frame
}

// captureChannel records frames by the id they were sent to; below a SessionMux that id is the
// connection, so the session is read from the frame.
type captureChannel struct {
	mu     sync.Mutex
	frames []captured
	closed []uint32
}

func (c *captureChannel) Send(id uint32, frame *wire.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, captured{id: id, frame: frame})
	return true
}

func (c *captureChannel) CloseSession(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, id)
}

func (c *captureChannel) Valid() bool { return true }

func (c *captureChannel) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func (c *captureChannel) commutator(session uint32) []*wire.Commutator {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*wire.Commutator
	for _, f := range c.frames {
		if msg, ok := f.frame.Body.(*wire.Commutator); ok && f.frame.TunnelID == session {
			out = append(out, msg)
		}
	}
	return out
}

func (c *captureChannel) clock(session uint32) []*wire.SystemClock {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*wire.SystemClock
	for _, f := range c.frames {
		if msg, ok := f.frame.Body.(*wire.SystemClock); ok && f.frame.TunnelID == session {
			out = append(out, msg)
		}
	}
	return out
}

func (c *captureChannel) lastCommutator(t *testing.T, session uint32) *wire.Commutator {
	t.Helper()
	replies := c.commutator(session)
	if len(replies) == 0 {
		t.Fatalf("no commutator reply on session %d", session)
	}
	return replies[len(replies)-1]
}

// beacon counts what the manager does with it. Every handled frame activates it for one proceed.
type beacon struct {
	*BaseModule
	handled  atomic.Int32
	proceeds atomic.Int32
}

func newBeacon(name string, c *fakeClock) *beacon {
	p := &beacon{}
	p.BaseModule = NewBaseModule("Beacon", name, c, p)
	return p
}

func (p *beacon) HandleMessage(uint32, *wire.Frame) {
	p.handled.Add(1)
	p.SwitchToActive()
}

func (p *beacon) Proceed(uint32, uint64) {
	p.proceeds.Add(1)
	p.SwitchToIdle()
}

type commutatorRig struct {
	clock   *fakeClock
	out     *captureChannel
	mux     *network.SessionMux
	comm    *Commutator
	beacons []*beacon
	root    uint32
}

// newCommutatorRig builds a commutator with n beacons attached and a connection whose root
// session is bound to the commutator.
func newCommutatorRig(t *testing.T, n int) *commutatorRig {
	t.Helper()
	r := &commutatorRig{clock: &fakeClock{}, out: &captureChannel{}}
	r.mux = network.NewSessionMux(4, r.clock)
	r.mux.AttachToChannel(r.out)
	r.comm = NewCommutator("ship", r.mux, r.clock, nil)

	for i := 0; i < n; i++ {
		p := newBeacon("beacon", r.clock)
		if slot := r.comm.Attach(p); slot != uint32(i) {
			t.Fatalf("beacon %d attached to slot %d", i, slot)
		}
		r.beacons = append(r.beacons, p)
	}

	root, err := r.mux.AddConnection(0, r.comm)
	if err != nil {
		t.Fatal(err)
	}
	r.root = root
	return r
}

// request delivers a commutator request from the client on session.
func (r *commutatorRig) request(session uint32, kind wire.CommutatorKind, value uint32) {
	r.mux.OnMessageReceived(0, &wire.Frame{
		TunnelID: session,
		Body:     &wire.Commutator{Kind: kind, Value: value},
	})
}

// openTunnel asks for a tunnel to slot and handles the request at once.
func (r *commutatorRig) openTunnel(t *testing.T, session, slot uint32) *wire.Commutator {
	t.Helper()
	r.request(session, wire.OpenTunnel, slot)
	r.comm.HandleBufferedMessages()
	return r.out.lastCommutator(t, session)
}
