// Package clock tracks in-game time and turns elapsed wall time into tick intervals.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

type Mode int

const (
	RealTime Mode = iota
	Debug
	Terminated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "real-time"
	case Debug:
		return "debug"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Source is anything that can tell the current in-game time in microseconds.
type Source interface {
	Now() uint64
}

// Stat is a snapshot exported by Clock.ExportStat. Period fields cover the time since the
// previous export.
type Stat struct {
	Ticks            uint64
	RealTime         time.Duration
	InGameTime       time.Duration
	Deviation        time.Duration
	PeriodTicks      uint64
	AvgTickPerPeriod time.Duration
}

const (
	DefaultMaxTick   = 20 * time.Millisecond
	DefaultDebugTick = 10 * time.Millisecond
)

type Clock struct {
	wall func() time.Time

	mu             sync.Mutex
	mode           Mode
	startedAt      time.Time
	maxTickUs      uint64
	debugTickUs    uint64
	debugTicksLeft uint32
	deviationUs    int64

	ticks          uint64
	periodTicks    uint64
	periodDuration uint64

	inGameUs atomic.Uint64
}

type Option func(*Clock)

// WithWallClock replaces time.Now, mostly for tests.
func WithWallClock(now func() time.Time) Option {
	return func(c *Clock) { c.wall = now }
}

func WithMaxTick(d time.Duration) Option {
	return func(c *Clock) { c.maxTickUs = uint64(d.Microseconds()) }
}

func WithDebugTick(d time.Duration) Option {
	return func(c *Clock) { c.debugTickUs = uint64(d.Microseconds()) }
}

func New(opts ...Option) *Clock {
	c := &Clock{
		wall:        time.Now,
		maxTickUs:   uint64(DefaultMaxTick.Microseconds()),
		debugTickUs: uint64(DefaultDebugTick.Microseconds()),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.startedAt = c.wall()
	return c
}

// Start resets the clock. A cold start begins in debug mode with the in-game time frozen.
func (c *Clock) Start(coldStart bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mode = RealTime
	if coldStart {
		c.mode = Debug
	}
	c.startedAt = c.wall()
	c.deviationUs = 0
	c.ticks, c.periodTicks, c.periodDuration = 0, 0, 0
	c.inGameUs.Store(0)
}

// Now returns the in-game time in microseconds. Safe for concurrent use.
func (c *Clock) Now() uint64 {
	return c.inGameUs.Load()
}

func (c *Clock) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// NextInterval returns the in-game microseconds the next tick should cover and advances the
// in-game time by that amount. Only the driver loop calls it.
func (c *Clock) NextInterval() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	inGame := c.inGameUs.Load()
	expected := int64(inGame) + c.deviationUs
	elapsed := c.wall().Sub(c.startedAt).Microseconds()
	dt := elapsed - expected
	if dt < 0 {
		// wall clock stepped backwards
		c.deviationUs += dt
		dt = 0
	}

	var interval uint64
	switch c.mode {
	case RealTime:
		interval = uint64(dt)
		if interval > c.maxTickUs {
			c.deviationUs += int64(interval - c.maxTickUs)
			interval = c.maxTickUs
		}
		c.ticks++
		c.periodTicks++
	case Debug:
		c.deviationUs += dt
		if c.debugTicksLeft > 0 {
			interval = c.debugTickUs
			c.debugTicksLeft--
			c.ticks++
			c.periodTicks++
		}
		c.deviationUs -= int64(interval)
	case Terminated:
		return 0
	}

	c.periodDuration += interval
	c.inGameUs.Store(inGame + interval)
	return uint32(interval)
}

func (c *Clock) SetDebugTick(d time.Duration) {
	c.mu.Lock()
	c.debugTickUs = uint64(d.Microseconds())
	c.mu.Unlock()
}

// ProceedRequest schedules ticks debug ticks. It fails outside debug mode and while a previous
// request is still in progress.
func (c *Clock) ProceedRequest(ticks uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.mode == Terminated:
		return ErrClockTerminated
	case c.mode != Debug:
		return ErrNotDebugMode
	case c.debugTicksLeft > 0:
		return ErrDebugTicksPending
	}
	c.debugTicksLeft = ticks
	return nil
}

// PendingTicks reports the debug ticks not yet handed out.
func (c *Clock) PendingTicks() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.debugTicksLeft
}

func (c *Clock) SwitchToRealTime() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.mode {
	case Terminated:
		return ErrClockTerminated
	case Debug:
		if c.debugTicksLeft > 0 {
			return ErrDebugTicksPending
		}
		c.mode = RealTime
	}
	return nil
}

func (c *Clock) SwitchToDebug() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == Terminated {
		return ErrClockTerminated
	}
	c.mode = Debug
	return nil
}

func (c *Clock) Terminate() {
	c.mu.Lock()
	c.mode = Terminated
	c.mu.Unlock()
}

// ExportStat returns the current statistics and resets the period counters.
func (c *Clock) ExportStat() Stat {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stat{
		Ticks:       c.ticks,
		RealTime:    c.wall().Sub(c.startedAt),
		InGameTime:  time.Duration(c.inGameUs.Load()) * time.Microsecond,
		Deviation:   time.Duration(c.deviationUs) * time.Microsecond,
		PeriodTicks: c.periodTicks,
	}
	if c.periodTicks > 0 {
		s.AvgTickPerPeriod = time.Duration(c.periodDuration/c.periodTicks) * time.Microsecond
	}

	c.periodTicks = 0
	c.periodDuration = 0
	return s
}
