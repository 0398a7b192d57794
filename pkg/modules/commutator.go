package modules

import (
	"errors"
	"sync"

	"github.com/QYUbit/Expanse/pkg/axlog"
	"github.com/QYUbit/Expanse/pkg/clock"
	"github.com/QYUbit/Expanse/pkg/ids"
	"github.com/QYUbit/Expanse/pkg/network"
	"github.com/QYUbit/Expanse/pkg/wire"
)

const (
	CommutatorType = "Commutator"

	CommutatorSessionLimit = 8
	MonitorLimit           = 8

	// reported by module_info_req for an empty slot
	emptySlotType = "empty"
)

// Sessions is the part of a SessionMux a Commutator opens tunnels with.
type Sessions interface {
	CreateSession(parentID uint32, handler network.Terminal[*wire.Frame]) (uint32, error)
	CloseSession(id uint32) bool
	IsValid(id uint32) bool
	Channel() network.Channel[*wire.Frame]
}

type tunnelKey struct {
	parent uint32
	slot   uint32
}

// Commutator exposes the modules attached to its slots. A client holding a session to the
// commutator opens a tunnel to a slot and then talks to that module directly over the tunnel.
//
// Lock order: Commutator.mu is taken before the SessionMux lock. Sessions are never closed while
// mu is held, because closing notifies handlers, the commutator included.
type Commutator struct {
	*BaseModule

	logger   axlog.Logger
	sessions Sessions

	mu       sync.Mutex
	slots    []Module
	tunnels  map[tunnelKey]uint32
	monitors ids.UnorderedVector[uint32]
}

func NewCommutator(name string, sessions Sessions, src clock.Source, logger axlog.Logger) *Commutator {
	c := &Commutator{
		logger:   axlog.OrNop(logger),
		sessions: sessions,
		tunnels:  make(map[tunnelKey]uint32),
	}
	c.BaseModule = NewBaseModule(CommutatorType, name, src, c)
	c.SetSessionLimit(CommutatorSessionLimit)
	c.AttachToChannel(sessions.Channel())
	return c
}

// ====================================================================================
// Slots
// ====================================================================================

// Attach puts m into the first empty or destroyed slot, or a new one, and returns the slot id.
func (c *Commutator) Attach(m Module) uint32 {
	m.Base().AttachToChannel(c.sessions.Channel())

	c.mu.Lock()
	slot := uint32(len(c.slots))
	var replaced Module
	for i, s := range c.slots {
		if s == nil || s.Base().IsDestroyed() {
			slot, replaced = uint32(i), s
			break
		}
	}
	if slot == uint32(len(c.slots)) {
		c.slots = append(c.slots, m)
	} else {
		c.slots[slot] = m
	}
	c.forgetSlotLocked(slot)
	monitors := c.monitorsLocked()
	c.mu.Unlock()

	if replaced != nil {
		c.closeSessionsOf(replaced)
		replaced.Base().DetachFromChannel()
	}

	base := m.Base()
	update := &wire.Commutator{
		Kind: wire.ModuleAttached,
		Info: wire.ModuleInfo{SlotID: slot, Type: base.Type(), Name: base.Name()},
	}
	for _, id := range monitors {
		c.Send(id, update)
	}

	c.logger.Debug("module attached", "commutator", c.Name(), "slot", slot, "type", base.Type())
	return slot
}

// Detach removes m from slot, closing every session opened to it.
func (c *Commutator) Detach(slot uint32, m Module) error {
	c.mu.Lock()
	if slot >= uint32(len(c.slots)) || c.slots[slot] == nil {
		c.mu.Unlock()
		return ErrInvalidSlot
	}
	if c.slots[slot] != m {
		c.mu.Unlock()
		return ErrUnexpectedModule
	}
	c.slots[slot] = nil
	c.forgetSlotLocked(slot)
	monitors := c.monitorsLocked()
	c.mu.Unlock()

	c.closeSessionsOf(m)
	m.Base().DetachFromChannel()

	for _, id := range monitors {
		c.Send(id, &wire.Commutator{Kind: wire.ModuleDetached, Value: slot})
	}

	c.logger.Debug("module detached", "commutator", c.Name(), "slot", slot)
	return nil
}

func (c *Commutator) closeSessionsOf(m Module) {
	for _, id := range m.Base().OpenedSessions() {
		c.sessions.CloseSession(id)
	}
}

func (c *Commutator) forgetSlotLocked(slot uint32) {
	for k := range c.tunnels {
		if k.slot == slot {
			delete(c.tunnels, k)
		}
	}
}

func (c *Commutator) monitorsLocked() []uint32 {
	return append([]uint32(nil), c.monitors.Items()...)
}

func (c *Commutator) TotalSlots() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

func (c *Commutator) ModuleInSlot(slot uint32) (Module, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slot >= uint32(len(c.slots)) || c.slots[slot] == nil {
		return nil, false
	}
	return c.slots[slot], true
}

// Modules returns the attached modules indexed by slot; empty slots are nil.
func (c *Commutator) Modules() []Module {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Module(nil), c.slots...)
}

// FindByName scans the slots, so it is meant for setup code.
func (c *Commutator) FindByName(name string) (Module, bool) {
	return c.find(func(b *BaseModule) bool { return b.Name() == name })
}

func (c *Commutator) FindByType(kind string) (Module, bool) {
	return c.find(func(b *BaseModule) bool { return b.Type() == kind })
}

func (c *Commutator) find(match func(*BaseModule) bool) (Module, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.slots {
		if m != nil && match(m.Base()) {
			return m, true
		}
	}
	return nil, false
}

// CheckSlots closes the sessions of modules that went offline and detaches destroyed ones.
func (c *Commutator) CheckSlots() {
	type stale struct {
		slot   uint32
		module Module
	}

	c.mu.Lock()
	var toClose []uint32
	var destroyed []stale
	for slot, m := range c.slots {
		if m == nil {
			continue
		}
		base := m.Base()
		if base.IsDestroyed() {
			destroyed = append(destroyed, stale{uint32(slot), m})
			continue
		}
		if base.IsOnline() || !base.HasOpenedSessions() {
			continue
		}
		toClose = append(toClose, base.OpenedSessions()...)
	}
	for k, id := range c.tunnels {
		if !c.sessions.IsValid(id) {
			delete(c.tunnels, k)
		}
	}
	c.mu.Unlock()

	for _, id := range toClose {
		c.sessions.CloseSession(id)
	}
	for _, d := range destroyed {
		if err := c.Detach(d.slot, d.module); err != nil {
			c.logger.Debug("destroyed module already gone", "slot", d.slot, "error", err)
		}
	}
}

// OnSessionClosed forgets monitors and tunnels bound to a closed commutator session.
func (c *Commutator) OnSessionClosed(sessionID uint32) {
	c.mu.Lock()
	c.monitors.RemoveAll(sessionID)
	for k := range c.tunnels {
		if k.parent == sessionID {
			delete(c.tunnels, k)
		}
	}
	c.mu.Unlock()

	c.BaseModule.OnSessionClosed(sessionID)
}

// ====================================================================================
// Requests
// ====================================================================================

func (c *Commutator) HandleMessage(sessionID uint32, frame *wire.Frame) {
	req, ok := frame.Body.(*wire.Commutator)
	if !ok {
		return
	}

	switch req.Kind {
	case wire.TotalSlotsReq:
		c.Send(sessionID, &wire.Commutator{Kind: wire.TotalSlots, Value: uint32(c.TotalSlots())})
	case wire.ModuleInfoReq:
		c.sendModuleInfo(sessionID, req.Value)
	case wire.AllModulesInfoReq:
		c.sendAllModulesInfo(sessionID)
	case wire.OpenTunnel:
		c.openTunnel(sessionID, req.Value)
	case wire.CloseTunnel:
		c.closeTunnel(sessionID, req.Value)
	case wire.MonitorModules:
		c.monitor(sessionID)
	}
}

func (c *Commutator) sendModuleInfo(sessionID, slot uint32) {
	info := wire.ModuleInfo{SlotID: slot, Type: emptySlotType}
	if m, ok := c.ModuleInSlot(slot); ok {
		info.Type, info.Name = m.Base().Type(), m.Base().Name()
	}
	c.Send(sessionID, &wire.Commutator{Kind: wire.ModuleInfoReport, Info: info})
}

func (c *Commutator) sendAllModulesInfo(sessionID uint32) {
	for slot, m := range c.Modules() {
		if m == nil {
			continue
		}
		c.Send(sessionID, &wire.Commutator{
			Kind: wire.ModuleInfoReport,
			Info: wire.ModuleInfo{SlotID: uint32(slot), Type: m.Base().Type(), Name: m.Base().Name()},
		})
	}
}

func (c *Commutator) openTunnel(sessionID, slot uint32) {
	status, tunnel := c.tryOpenTunnel(sessionID, slot)
	if status != wire.StatusSuccess {
		c.Send(sessionID, &wire.Commutator{Kind: wire.OpenTunnelFailed, Status: status})
		return
	}
	c.Send(sessionID, &wire.Commutator{Kind: wire.OpenTunnelReport, Value: tunnel})
}

func (c *Commutator) tryOpenTunnel(sessionID, slot uint32) (wire.Status, uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsOnline() {
		return wire.StatusCommutatorOffline, 0
	}
	if slot >= uint32(len(c.slots)) {
		return wire.StatusInvalidSlot, 0
	}
	m := c.slots[slot]
	if m == nil || !m.Base().IsOnline() {
		return wire.StatusModuleOffline, 0
	}

	key := tunnelKey{parent: sessionID, slot: slot}
	if id, ok := c.tunnels[key]; ok {
		if c.sessions.IsValid(id) {
			return wire.StatusTunnelAlreadyOpen, 0
		}
		delete(c.tunnels, key)
	}
	if m.Base().OpenedCount() >= m.Base().SessionLimit() {
		return wire.StatusTooManySessions, 0
	}

	tunnel, err := c.sessions.CreateSession(sessionID, m)
	switch {
	case err == nil:
	case errors.Is(err, network.ErrSessionRejected):
		return wire.StatusRejectedByModule, 0
	case errors.Is(err, network.ErrNoFreeSession):
		return wire.StatusTooManySessions, 0
	default:
		c.logger.Debug("failed to open tunnel", "session", sessionID, "slot", slot, "error", err)
		return wire.StatusInvalidTunnel, 0
	}

	c.tunnels[key] = tunnel
	c.logger.Debug("tunnel opened", "session", sessionID, "slot", slot, "tunnel", tunnel)
	return wire.StatusSuccess, tunnel
}

func (c *Commutator) closeTunnel(sessionID, tunnel uint32) {
	c.mu.Lock()
	known := false
	for k, id := range c.tunnels {
		if id == tunnel {
			delete(c.tunnels, k)
			known = true
		}
	}
	c.mu.Unlock()

	status := wire.StatusSuccess
	if !known || !c.sessions.CloseSession(tunnel) {
		status = wire.StatusInvalidTunnel
	}
	c.Send(sessionID, &wire.Commutator{Kind: wire.CloseTunnelStatus, Status: status})
}

func (c *Commutator) monitor(sessionID uint32) {
	c.mu.Lock()
	status := wire.StatusSuccess
	if !c.monitors.Has(sessionID) {
		if c.monitors.Len() >= MonitorLimit {
			status = wire.StatusTooManySessions
		} else {
			c.monitors.Push(sessionID)
		}
	}
	c.mu.Unlock()

	c.Send(sessionID, &wire.Commutator{Kind: wire.MonitorAck, Status: status})
}
