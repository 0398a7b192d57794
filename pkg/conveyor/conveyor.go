// Package conveyor drives a chain of logic components through their stages once per tick,
// spreading every stage over a fixed pool of workers.
package conveyor

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/QYUbit/Expanse/pkg/axlog"
)

type job struct {
	logic    Logic
	stage    uint16
	interval uint32
	now      uint64
}

type logicContext struct {
	logic     Logic
	lastRunAt uint64
	notBefore uint64
	runs      atomic.Uint64
}

// Stat describes how often each logic of the chain has run.
type Stat struct {
	Ticks uint64
	Now   uint64
	Logic []LogicStat
}

type LogicStat struct {
	Name string
	Runs uint64
}

type Conveyor struct {
	logger  axlog.Logger
	chain   []*logicContext
	now     uint64
	ticks   atomic.Uint64
	workers []chan job
	pending sync.WaitGroup

	closeOnce sync.Once
	closed    atomic.Bool
}

type Option func(*Conveyor)

func WithLogger(l axlog.Logger) Option {
	return func(c *Conveyor) { c.logger = l }
}

// New starts threads-1 worker goroutines. The goroutine calling Proceed is the last worker.
func New(threads int, opts ...Option) *Conveyor {
	if threads < 1 {
		threads = 1
	}

	c := &Conveyor{logger: axlog.Nop{}}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = axlog.OrNop(c.logger)

	c.workers = make([]chan job, threads-1)
	for i := range c.workers {
		ch := make(chan job)
		c.workers[i] = ch
		go c.work(ch)
	}

	c.logger.Debug("conveyor started", "threads", threads)
	return c
}

// AddLogicToChain appends l to the chain. It must not be called while a tick is running.
func (c *Conveyor) AddLogicToChain(l Logic) {
	c.chain = append(c.chain, &logicContext{
		logic:     l,
		lastRunAt: c.now,
	})
}

// Threads returns the size of the worker pool, the caller of Proceed included.
func (c *Conveyor) Threads() int {
	return len(c.workers) + 1
}

// Now returns the in-game time reached by the last tick.
func (c *Conveyor) Now() uint64 {
	return c.now
}

// Proceed runs one tick covering intervalUs of in-game time.
//
// A logic runs at most once every CooldownUs microseconds. When it runs, its stages receive the
// in-game time elapsed since its previous run. A panic inside Proceed is not recovered.
func (c *Conveyor) Proceed(intervalUs uint32) {
	if c.closed.Load() {
		return
	}

	c.now += uint64(intervalUs)
	c.ticks.Add(1)

	for _, lc := range c.chain {
		if c.now < lc.notBefore {
			continue
		}

		// stages take a 32 bit interval, about 71 minutes
		elapsed := uint32(min(c.now-lc.lastRunAt, math.MaxUint32))
		stages := lc.logic.Stages()
		for stage := uint16(0); stage < stages; stage++ {
			if !lc.logic.Prepare(stage, elapsed, c.now) {
				continue
			}
			c.runStage(job{logic: lc.logic, stage: stage, interval: elapsed, now: c.now})
		}

		lc.notBefore = c.now + lc.logic.CooldownUs()
		lc.lastRunAt = c.now
		lc.runs.Add(1)
	}
}

func (c *Conveyor) runStage(j job) {
	c.pending.Add(len(c.workers))
	for _, w := range c.workers {
		w <- j
	}
	j.logic.Proceed(j.stage, j.interval, j.now)
	c.pending.Wait()
}

func (c *Conveyor) work(jobs <-chan job) {
	for j := range jobs {
		j.logic.Proceed(j.stage, j.interval, j.now)
		c.pending.Done()
	}
}

func (c *Conveyor) Stats() Stat {
	s := Stat{
		Ticks: c.ticks.Load(),
		Now:   c.now,
		Logic: make([]LogicStat, 0, len(c.chain)),
	}
	for _, lc := range c.chain {
		s.Logic = append(s.Logic, LogicStat{
			Name: fmt.Sprintf("%T", lc.logic),
			Runs: lc.runs.Load(),
		})
	}
	return s
}

// Close stops the workers. It must not be called while a tick is running.
func (c *Conveyor) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		for _, w := range c.workers {
			close(w)
		}
		c.logger.Debug("conveyor stopped")
	})
}
