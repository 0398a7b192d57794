package conveyor

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// DefaultCooldownUs is the throttle of a logic that does not ask for anything else.
const DefaultCooldownUs = 10000

// Logic is one schedulable unit of the chain.
//
// For every stage the conveyor calls Prepare once on the driving goroutine. If it returns true,
// Proceed is then called once on every worker of the pool at the same time; the stage ends when all
// of those calls returned. Proceed implementations share the work among themselves, usually
// through a Cursor that Prepare resets.
type Logic interface {
	Stages() uint16
	Prepare(stage uint16, intervalUs uint32, now uint64) bool
	Proceed(stage uint16, intervalUs uint32, now uint64)
	CooldownUs() uint64
}

// DefaultCooldown can be embedded by logic types that are fine with DefaultCooldownUs.
type DefaultCooldown struct{}

func (DefaultCooldown) CooldownUs() uint64 { return DefaultCooldownUs }

// Cursor hands out consecutive positions to concurrent workers. It is padded so that it does not
// share a cache line with its neighbours.
type Cursor struct {
	_    cpu.CacheLinePad
	next atomic.Int64
	_    cpu.CacheLinePad
}

func (c *Cursor) Reset() {
	c.next.Store(0)
}

// Claim returns the next unclaimed position below limit.
func (c *Cursor) Claim(limit int) (int, bool) {
	pos := int(c.next.Add(1) - 1)
	if pos >= limit {
		return 0, false
	}
	return pos, true
}
