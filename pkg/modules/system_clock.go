package modules

import (
	"sync"

	"github.com/QYUbit/Expanse/pkg/clock"
	"github.com/QYUbit/Expanse/pkg/subscriptions"
	"github.com/QYUbit/Expanse/pkg/wire"
)

const SystemClockType = "SystemClock"

type ring struct {
	sessionID uint32
	when      uint64
}

// SystemClock tells clients the in-game time, rings them at a requested time and streams the
// time to monitoring sessions.
type SystemClock struct {
	*BaseModule
	clock clock.Source

	mu       sync.Mutex
	rings    []ring // latest first, so the next ring is at the end
	monitors subscriptions.Box
}

func NewSystemClock(name string, src clock.Source) *SystemClock {
	c := &SystemClock{clock: src}
	c.BaseModule = NewBaseModule(SystemClockType, name, src, c)
	return c
}

func (c *SystemClock) HandleMessage(sessionID uint32, frame *wire.Frame) {
	req, ok := frame.Body.(*wire.SystemClock)
	if !ok {
		return
	}

	now := c.clock.Now()
	switch req.Kind {
	case wire.ClockTimeReq:
		c.sendTime(sessionID, now)
	case wire.ClockWaitUntil:
		c.addRing(sessionID, req.Value)
	case wire.ClockWaitFor:
		c.addRing(sessionID, now+req.Value)
	case wire.ClockMonitor:
		c.mu.Lock()
		c.monitors.Add(sessionID, uint32(req.Value), now)
		c.mu.Unlock()
		c.sendTime(sessionID, now)
		c.SwitchToActive()
	}
}

func (c *SystemClock) addRing(sessionID uint32, when uint64) {
	c.mu.Lock()
	c.rings = append(c.rings, ring{sessionID: sessionID, when: when})
	for i := len(c.rings) - 1; i > 0 && c.rings[i-1].when <= c.rings[i].when; i-- {
		c.rings[i-1], c.rings[i] = c.rings[i], c.rings[i-1]
	}
	c.mu.Unlock()
	c.SwitchToActive()
}

func (c *SystemClock) Proceed(uint32, uint64) {
	now := c.clock.Now()

	c.mu.Lock()
	var rings []uint32
	for len(c.rings) > 0 && c.rings[len(c.rings)-1].when <= now {
		rings = append(rings, c.rings[len(c.rings)-1].sessionID)
		c.rings = c.rings[:len(c.rings)-1]
	}
	var ticks []uint32
	for {
		id, ok := c.monitors.NextUpdate(now)
		if !ok {
			break
		}
		ticks = append(ticks, id)
	}
	idle := len(c.rings) == 0 && c.monitors.Total() == 0
	c.mu.Unlock()

	for _, id := range rings {
		c.Send(id, &wire.SystemClock{Kind: wire.ClockRing, Value: now})
	}
	for _, id := range ticks {
		c.sendTime(id, now)
	}
	if idle {
		c.SwitchToIdle()
	}
}

func (c *SystemClock) sendTime(sessionID uint32, now uint64) {
	c.Send(sessionID, &wire.SystemClock{Kind: wire.ClockTime, Value: now})
}

// OnSessionClosed drops the rings and the subscription of a closed session.
func (c *SystemClock) OnSessionClosed(sessionID uint32) {
	c.mu.Lock()
	kept := c.rings[:0]
	for _, r := range c.rings {
		if r.sessionID != sessionID {
			kept = append(kept, r)
		}
	}
	c.rings = kept
	c.monitors.Remove(sessionID)
	c.mu.Unlock()

	c.BaseModule.OnSessionClosed(sessionID)
}
