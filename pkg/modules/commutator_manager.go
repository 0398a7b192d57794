package modules

import "github.com/QYUbit/Expanse/pkg/conveyor"

const stageCheckSlots = managerStages

// CommutatorManager drives commutators like any other module kind and adds a third stage that
// checks their slots.
type CommutatorManager struct {
	*Manager[*Commutator]
	slotsCursor conveyor.Cursor
}

func NewCommutatorManager(registry *Registry[*Commutator]) *CommutatorManager {
	return &CommutatorManager{Manager: NewManager(registry, CooldownCommutator)}
}

func (m *CommutatorManager) Stages() uint16 { return managerStages + 1 }

func (m *CommutatorManager) Prepare(stage uint16, intervalUs uint32, now uint64) bool {
	if stage != stageCheckSlots {
		return m.Manager.Prepare(stage, intervalUs, now)
	}
	m.slotsCursor.Reset()
	return m.registry.Len() > 0
}

func (m *CommutatorManager) Proceed(stage uint16, intervalUs uint32, now uint64) {
	if stage != stageCheckSlots {
		m.Manager.Proceed(stage, intervalUs, now)
		return
	}

	size := m.registry.Size()
	for {
		pos, ok := m.slotsCursor.Claim(size)
		if !ok {
			return
		}
		if c, ok := m.registry.Get(uint32(pos)); ok {
			c.CheckSlots()
		}
	}
}
