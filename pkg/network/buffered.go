package network

import (
	"container/heap"
	"sync"

	"github.com/eapache/queue"

	"github.com/QYUbit/Expanse/pkg/clock"
	"github.com/QYUbit/Expanse/pkg/ids"
	"github.com/QYUbit/Expanse/pkg/wire"
)

const (
	DefaultSessionQueueLimit = 256
	DefaultDelayedLimit      = 1024
)

// MessageHandler handles one drained frame.
type MessageHandler interface {
	HandleMessage(sessionID uint32, frame *wire.Frame)
}

// BufferedTerminal is a Terminal that only queues. Frames are handed to a MessageHandler when the
// owner calls HandleBufferedMessages, once per tick.
//
// Frames of one session keep their order. Frames stamped with a time in the future are held back
// until that time.
type BufferedTerminal struct {
	clock        clock.Source
	queueLimit   int
	delayedLimit int

	mu      sync.Mutex
	opened  ids.UnorderedVector[uint32]
	queues  map[uint32]*queue.Queue
	order   []uint32
	delayed delayedFrames
	dropped uint64
}

func NewBufferedTerminal(src clock.Source) *BufferedTerminal {
	return &BufferedTerminal{
		clock:        src,
		queueLimit:   DefaultSessionQueueLimit,
		delayedLimit: DefaultDelayedLimit,
		queues:       make(map[uint32]*queue.Queue),
	}
}

func (t *BufferedTerminal) SetLimits(perSession, delayed int) {
	t.mu.Lock()
	t.queueLimit, t.delayedLimit = perSession, delayed
	t.mu.Unlock()
}

func (t *BufferedTerminal) OpenSession(sessionID uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opened.PushUnique(sessionID)
	return true
}

func (t *BufferedTerminal) OnSessionClosed(sessionID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opened.Remove(sessionID)
	if _, ok := t.queues[sessionID]; ok {
		delete(t.queues, sessionID)
		for i, id := range t.order {
			if id == sessionID {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
}

// OnMessageReceived queues frame. Frames of sessions that are not open, and frames beyond the
// queue limits, are dropped.
func (t *BufferedTerminal) OnMessageReceived(sessionID uint32, frame *wire.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.opened.Has(sessionID) {
		t.dropped++
		return
	}

	if frame.Timestamp > t.clock.Now() {
		if t.delayed.Len() >= t.delayedLimit {
			t.dropped++
			return
		}
		heap.Push(&t.delayed, delayedFrame{sessionID: sessionID, frame: frame})
		return
	}
	t.enqueueLocked(sessionID, frame)
}

func (t *BufferedTerminal) enqueueLocked(sessionID uint32, frame *wire.Frame) {
	q, ok := t.queues[sessionID]
	if !ok {
		q = queue.New()
		t.queues[sessionID] = q
		t.order = append(t.order, sessionID)
	}
	if q.Length() >= t.queueLimit {
		t.dropped++
		return
	}
	q.Add(frame)
}

type pending struct {
	sessionID uint32
	frame     *wire.Frame
}

// HandleBufferedMessages hands every queued frame to h, session by session, and returns how many
// frames were handled. The lock is not held while h runs, so h may send or open sessions.
func (t *BufferedTerminal) HandleBufferedMessages(h MessageHandler) int {
	t.mu.Lock()
	now := t.clock.Now()
	for t.delayed.Len() > 0 && t.delayed[0].frame.Timestamp <= now {
		d := heap.Pop(&t.delayed).(delayedFrame)
		if t.opened.Has(d.sessionID) {
			t.enqueueLocked(d.sessionID, d.frame)
		}
	}

	var batch []pending
	for _, id := range t.order {
		q := t.queues[id]
		for q.Length() > 0 {
			batch = append(batch, pending{sessionID: id, frame: q.Remove().(*wire.Frame)})
		}
	}
	t.mu.Unlock()

	for _, p := range batch {
		h.HandleMessage(p.sessionID, p.frame)
	}
	return len(batch)
}

// HasBufferedMessages reports frames that are waiting, delayed ones included.
func (t *BufferedTerminal) HasBufferedMessages() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.delayed.Len() > 0 {
		return true
	}
	for _, q := range t.queues {
		if q.Length() > 0 {
			return true
		}
	}
	return false
}

func (t *BufferedTerminal) IsOpened(sessionID uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opened.Has(sessionID)
}

// OpenedSessions returns a copy of the open session ids.
func (t *BufferedTerminal) OpenedSessions() []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]uint32(nil), t.opened.Items()...)
}

func (t *BufferedTerminal) OpenedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opened.Len()
}

// Dropped counts frames discarded since creation.
func (t *BufferedTerminal) Dropped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

type delayedFrame struct {
	sessionID uint32
	frame     *wire.Frame
}

// delayedFrames is a min-heap on frame timestamps.
type delayedFrames []delayedFrame

func (d delayedFrames) Len() int           { return len(d) }
func (d delayedFrames) Less(i, j int) bool { return d[i].frame.Timestamp < d[j].frame.Timestamp }
func (d delayedFrames) Swap(i, j int)      { d[i], d[j] = d[j], d[i] }

func (d *delayedFrames) Push(x any) { *d = append(*d, x.(delayedFrame)) }

func (d *delayedFrames) Pop() any {
	old := *d
	x := old[len(old)-1]
	*d = old[:len(old)-1]
	return x
}
