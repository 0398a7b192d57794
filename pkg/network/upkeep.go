package network

import (
	"sync"

	"github.com/QYUbit/Expanse/pkg/conveyor"
)

// UpkeepCooldownUs keeps liveness checks well below the heartbeat resolution.
const UpkeepCooldownUs = 50000

// Upkeep is the conveyor logic that runs the liveness checks of every registered SessionMux.
type Upkeep struct {
	mu     sync.RWMutex
	muxes  []*SessionMux
	cursor conveyor.Cursor
}

func NewUpkeep() *Upkeep {
	return &Upkeep{}
}

func (u *Upkeep) Add(m *SessionMux) {
	u.mu.Lock()
	u.muxes = append(u.muxes, m)
	u.mu.Unlock()
}

func (u *Upkeep) Stages() uint16 { return 1 }

func (u *Upkeep) CooldownUs() uint64 { return UpkeepCooldownUs }

func (u *Upkeep) Prepare(uint16, uint32, uint64) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	u.cursor.Reset()
	return len(u.muxes) > 0
}

func (u *Upkeep) Proceed(uint16, uint32, uint64) {
	u.mu.RLock()
	muxes := u.muxes
	u.mu.RUnlock()

	for {
		i, ok := u.cursor.Claim(len(muxes))
		if !ok {
			return
		}
		muxes[i].CheckLiveness()
	}
}
