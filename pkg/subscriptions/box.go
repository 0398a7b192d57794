// Package subscriptions keeps periodic per-session subscriptions ordered by their next due time.
package subscriptions

// Box is a small sorted collection of (session, period, next due) entries. It is meant for tens
// of subscribers: every mutation is an insertion-sort pass. Times are in-game microseconds.
// Box is not safe for concurrent use.
type Box struct {
	items []subscription
}

type subscription struct {
	sessionID uint32
	periodUs  uint64
	nextDue   uint64
}

// Add subscribes sessionID with the given period. An existing subscription of the same session
// gets the new period and is rescheduled from now.
func (b *Box) Add(sessionID uint32, periodMs uint32, now uint64) {
	if periodMs == 0 {
		periodMs = 1
	}
	periodUs := uint64(periodMs) * 1000

	for i := range b.items {
		if b.items[i].sessionID == sessionID {
			b.items[i].periodUs = periodUs
			b.items[i].nextDue = now + periodUs
			b.place(i)
			return
		}
	}

	b.items = append(b.items, subscription{sessionID: sessionID, periodUs: periodUs, nextDue: now + periodUs})
	b.place(len(b.items) - 1)
}

func (b *Box) Remove(sessionID uint32) bool {
	for i := range b.items {
		if b.items[i].sessionID == sessionID {
			copy(b.items[i:], b.items[i+1:])
			b.items = b.items[:len(b.items)-1]
			return true
		}
	}
	return false
}

// NextUpdate pops the earliest subscription if it is due at now, moves its due time past now and
// returns its session id. Call it in a loop until it reports false.
func (b *Box) NextUpdate(now uint64) (uint32, bool) {
	if len(b.items) == 0 || b.items[0].nextDue > now {
		return 0, false
	}

	s := b.items[0]
	for s.nextDue <= now {
		s.nextDue += s.periodUs
	}

	i := 1
	for ; i < len(b.items) && s.nextDue > b.items[i].nextDue; i++ {
		b.items[i-1] = b.items[i]
	}
	b.items[i-1] = s
	return s.sessionID, true
}

func (b *Box) Total() int { return len(b.items) }

func (b *Box) Has(sessionID uint32) bool {
	for _, s := range b.items {
		if s.sessionID == sessionID {
			return true
		}
	}
	return false
}

// place moves item i left or right until the slice is sorted again.
func (b *Box) place(i int) {
	item := b.items[i]
	for i > 0 && b.items[i-1].nextDue > item.nextDue {
		b.items[i] = b.items[i-1]
		i--
	}
	for i < len(b.items)-1 && item.nextDue > b.items[i+1].nextDue {
		b.items[i] = b.items[i+1]
		i++
	}
	b.items[i] = item
}
