package modules

import (
	"github.com/QYUbit/Expanse/pkg/conveyor"
	"github.com/QYUbit/Expanse/pkg/ids"
)

// Cooldowns of the module managers, in in-game microseconds.
const (
	CooldownSystemClock = 0
	CooldownCommutator  = 0
	CooldownDefault     = 10100
)

const (
	stageHandleMessages uint16 = iota
	stageProceeding
	managerStages
)

// Manager is the conveyor logic of one module kind.
//
// The first stage drains the buffered frames of every online instance. Instances that became
// active while handling their frames join the busy list, and the second stage proceeds the busy
// instances until they go idle again.
type Manager[T Module] struct {
	registry   *Registry[T]
	cooldownUs uint64
	cursor     conveyor.Cursor
	busy       *ids.IdArray
}

func NewManager[T Module](registry *Registry[T], cooldownUs uint64) *Manager[T] {
	return &Manager[T]{
		registry:   registry,
		cooldownUs: cooldownUs,
		busy:       ids.NewIdArray(),
	}
}

func (m *Manager[T]) Registry() *Registry[T] { return m.registry }

func (m *Manager[T]) Stages() uint16 { return managerStages }

func (m *Manager[T]) CooldownUs() uint64 { return m.cooldownUs }

func (m *Manager[T]) Prepare(stage uint16, _ uint32, _ uint64) bool {
	switch stage {
	case stageHandleMessages:
		m.cursor.Reset()
		return m.registry.Len() > 0
	case stageProceeding:
		m.busy.Begin()
		return m.busy.Len() > 0
	}
	return false
}

func (m *Manager[T]) Proceed(stage uint16, intervalUs uint32, now uint64) {
	switch stage {
	case stageHandleMessages:
		m.handleMessages()
	case stageProceeding:
		m.proceedBusy(intervalUs, now)
	}
}

func (m *Manager[T]) handleMessages() {
	size := m.registry.Size()
	for {
		pos, ok := m.cursor.Claim(size)
		if !ok {
			return
		}
		module, ok := m.registry.Get(uint32(pos))
		if !ok {
			continue
		}
		base := module.Base()
		if !base.IsOnline() {
			continue
		}
		base.HandleBufferedMessages()
		if base.onActivated() {
			m.busy.Push(uint32(pos))
		}
	}
}

func (m *Manager[T]) proceedBusy(intervalUs uint32, now uint64) {
	for {
		pos, id, ok := m.busy.Next()
		if !ok {
			return
		}
		module, ok := m.registry.Get(id)
		if !ok {
			m.busy.Forget(pos)
			continue
		}
		module.Proceed(intervalUs, now)
		if base := module.Base(); base.onDeactivated() || base.State() == Idle {
			m.busy.Forget(pos)
		}
	}
}
