// Package modules holds the session addressable, schedulable objects of the world and the
// managers that drive them through the conveyor.
package modules

import (
	"sync"
	"sync/atomic"

	"github.com/QYUbit/Expanse/pkg/clock"
	"github.com/QYUbit/Expanse/pkg/network"
	"github.com/QYUbit/Expanse/pkg/wire"
)

const DefaultSessionLimit = 16

type Status int32

const (
	Online Status = iota
	Offline
	Destroyed
)

func (s Status) String() string {
	switch s {
	case Online:
		return "online"
	case Offline:
		return "offline"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// State tells a manager whether a module needs to be proceeded every tick.
type State int32

const (
	Idle State = iota
	Activating
	Active
	Deactivating
)

// Module is anything a Commutator can expose and a Manager can drive.
type Module interface {
	network.Terminal[*wire.Frame]
	Base() *BaseModule
	Proceed(intervalUs uint32, now uint64)
}

// BaseModule is embedded by every module. Frames are buffered as they arrive and handed to the
// module's handler only when its manager drains them during the message stage.
type BaseModule struct {
	*network.BufferedTerminal

	kind    string
	name    string
	handler network.MessageHandler

	status       atomic.Int32
	state        atomic.Int32
	sessionLimit atomic.Int32

	chMu    sync.RWMutex
	channel network.Channel[*wire.Frame]
}

type discard struct{}

func (discard) HandleMessage(uint32, *wire.Frame) {}

// NewBaseModule creates an online, idle module. h receives the drained frames; a nil h drops them.
func NewBaseModule(kind, name string, src clock.Source, h network.MessageHandler) *BaseModule {
	if h == nil {
		h = discard{}
	}
	b := &BaseModule{
		BufferedTerminal: network.NewBufferedTerminal(src),
		kind:             kind,
		name:             name,
		handler:          h,
	}
	b.sessionLimit.Store(DefaultSessionLimit)
	return b
}

func (b *BaseModule) Base() *BaseModule { return b }

func (b *BaseModule) Type() string { return b.kind }

func (b *BaseModule) Name() string { return b.name }

// Proceed is called by the manager while the module is active. The default goes idle at once.
func (b *BaseModule) Proceed(uint32, uint64) {
	b.SwitchToIdle()
}

// HandleBufferedMessages drains every buffered frame into the module's handler.
func (b *BaseModule) HandleBufferedMessages() int {
	return b.BufferedTerminal.HandleBufferedMessages(b.handler)
}

// ------------------------------------------------------------------------------------
// Sessions
// ------------------------------------------------------------------------------------

func (b *BaseModule) SetSessionLimit(n int) {
	b.sessionLimit.Store(int32(n))
}

func (b *BaseModule) SessionLimit() int {
	return int(b.sessionLimit.Load())
}

func (b *BaseModule) CanOpenSession() bool {
	return b.IsOnline() && b.OpenedCount() < b.SessionLimit()
}

// OpenSession accepts sessions while the module is online and below its session limit.
func (b *BaseModule) OpenSession(sessionID uint32) bool {
	if !b.CanOpenSession() {
		return false
	}
	return b.BufferedTerminal.OpenSession(sessionID)
}

func (b *BaseModule) HasOpenedSessions() bool {
	return b.OpenedCount() > 0
}

func (b *BaseModule) AttachToChannel(ch network.Channel[*wire.Frame]) {
	b.chMu.Lock()
	b.channel = ch
	b.chMu.Unlock()
}

func (b *BaseModule) DetachFromChannel() {
	b.AttachToChannel(nil)
}

func (b *BaseModule) Channel() network.Channel[*wire.Frame] {
	b.chMu.RLock()
	defer b.chMu.RUnlock()
	return b.channel
}

// Send wraps body in a frame and sends it on sessionID. It returns false when the module is
// detached or the session is gone.
func (b *BaseModule) Send(sessionID uint32, body wire.Body) bool {
	ch := b.Channel()
	if ch == nil {
		return false
	}
	return ch.Send(sessionID, wire.NewFrame(sessionID, body))
}

// CloseActiveSessions closes every session opened on the module.
func (b *BaseModule) CloseActiveSessions() {
	ch := b.Channel()
	if ch == nil {
		return
	}
	for _, id := range b.OpenedSessions() {
		ch.CloseSession(id)
	}
}

// ------------------------------------------------------------------------------------
// Status
// ------------------------------------------------------------------------------------

func (b *BaseModule) Status() Status { return Status(b.status.Load()) }

func (b *BaseModule) PutOffline() { b.status.Store(int32(Offline)) }
func (b *BaseModule) PutOnline()  { b.status.Store(int32(Online)) }
func (b *BaseModule) Destroy()    { b.status.Store(int32(Destroyed)) }

func (b *BaseModule) IsOnline() bool    { return b.Status() == Online }
func (b *BaseModule) IsOffline() bool   { return b.Status() == Offline }
func (b *BaseModule) IsDestroyed() bool { return b.Status() == Destroyed }

// ------------------------------------------------------------------------------------
// Activity
// ------------------------------------------------------------------------------------

func (b *BaseModule) State() State { return State(b.state.Load()) }

// SwitchToActive asks the manager to proceed the module from the next proceeding stage on.
func (b *BaseModule) SwitchToActive() {
	b.switchState(func(s State) State {
		switch s {
		case Idle, Activating:
			return Activating
		default:
			return Active
		}
	})
}

// SwitchToIdle lets the manager drop the module from its busy list.
func (b *BaseModule) SwitchToIdle() {
	b.switchState(func(s State) State {
		switch s {
		case Active, Deactivating:
			return Deactivating
		default:
			return Idle
		}
	})
}

func (b *BaseModule) switchState(next func(State) State) {
	for {
		cur := b.state.Load()
		if b.state.CompareAndSwap(cur, int32(next(State(cur)))) {
			return
		}
	}
}

func (b *BaseModule) onActivated() bool {
	return b.state.CompareAndSwap(int32(Activating), int32(Active))
}

func (b *BaseModule) onDeactivated() bool {
	return b.state.CompareAndSwap(int32(Deactivating), int32(Idle))
}
