// Package server runs the simulation: it owns the clock and the conveyor, registers every player's
// modules with their managers and accepts clients on any number of transports.
package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/QYUbit/Expanse/pkg/axlog"
	"github.com/QYUbit/Expanse/pkg/clock"
	"github.com/QYUbit/Expanse/pkg/config"
	"github.com/QYUbit/Expanse/pkg/conveyor"
	"github.com/QYUbit/Expanse/pkg/modules"
	"github.com/QYUbit/Expanse/pkg/network"
	"github.com/QYUbit/Expanse/pkg/players"
	"github.com/QYUbit/Expanse/pkg/transport"
	"github.com/QYUbit/Expanse/pkg/wire"
)

// ModuleLimit bounds the instances of every module kind.
const ModuleLimit = 1 << 12

type Server struct {
	cfg    config.Config
	logger axlog.Logger
	codec  wire.FrameCodec

	clock    *clock.Clock
	conveyor *conveyor.Conveyor
	upkeep   *network.Upkeep

	commutators *modules.Registry[*modules.Commutator]
	clocks      *modules.Registry[*modules.SystemClock]

	players  *players.Storage
	gateways []*Gateway

	mu      sync.Mutex
	cancel  context.CancelFunc
	running atomic.Bool
	closed  atomic.Bool
}

type Option func(*Server)

func WithClock(c *clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

func WithCodec(c wire.FrameCodec) Option {
	return func(s *Server) { s.codec = c }
}

func New(cfg config.Config, logger axlog.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:         cfg,
		logger:      axlog.OrNop(logger),
		codec:       wire.NewDefaultCodec(),
		upkeep:      network.NewUpkeep(),
		commutators: modules.NewRegistry[*modules.Commutator](ModuleLimit),
		clocks:      modules.NewRegistry[*modules.SystemClock](ModuleLimit),
		players:     players.NewStorage(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clock.New(clock.WithMaxTick(cfg.MaxTick))
	}

	s.conveyor = conveyor.New(cfg.Threads, conveyor.WithLogger(s.logger))
	s.conveyor.AddLogicToChain(s.upkeep)
	s.conveyor.AddLogicToChain(modules.NewCommutatorManager(s.commutators))
	s.conveyor.AddLogicToChain(modules.NewManager(s.clocks, modules.CooldownSystemClock))
	return s
}

func (s *Server) Clock() *clock.Clock { return s.clock }

func (s *Server) Conveyor() *conveyor.Conveyor { return s.conveyor }

func (s *Server) Players() *players.Storage { return s.players }

// AddTransport registers a gateway accepting clients on t. It must be called before Run.
func (s *Server) AddTransport(name string, t transport.Transport) (*Gateway, error) {
	if s.running.Load() {
		return nil, ErrAlreadyStarted
	}
	g := NewGateway(name, t, s.players, s.codec,
		WithGatewayLogger(s.logger),
		WithLoginRate(s.cfg.LoginRate, s.cfg.LoginBurst),
	)

	s.mu.Lock()
	s.gateways = append(s.gateways, g)
	s.mu.Unlock()
	return g, nil
}

// AddPlayer creates a player and registers its modules with the conveyor.
func (s *Server) AddPlayer(login, password string) (*players.Player, error) {
	if s.closed.Load() {
		return nil, ErrServerClosed
	}
	p, err := players.New(login, password, s.clock, s.playerOptions())
	if err != nil {
		return nil, err
	}
	if err := s.register(p); err != nil {
		return nil, err
	}
	return p, nil
}

// AddPlayerHash is like AddPlayer for a bcrypt hashed password.
func (s *Server) AddPlayerHash(login string, passwordHash []byte) (*players.Player, error) {
	if s.closed.Load() {
		return nil, ErrServerClosed
	}
	p, err := players.NewWithHash(login, passwordHash, s.clock, s.playerOptions())
	if err != nil {
		return nil, err
	}
	if err := s.register(p); err != nil {
		return nil, err
	}
	return p, nil
}

// AddRoster adds every player of entries.
func (s *Server) AddRoster(entries []config.RosterEntry) error {
	for _, e := range entries {
		var err error
		if e.PasswordHash != "" {
			_, err = s.AddPlayerHash(e.Login, []byte(e.PasswordHash))
		} else {
			_, err = s.AddPlayer(e.Login, e.Password)
		}
		if err != nil {
			return fmt.Errorf("add player %s: %w", e.Login, err)
		}
	}
	return nil
}

func (s *Server) playerOptions() players.Options {
	return players.Options{
		ConnectionLimit:   s.cfg.ConnectionsPerPlayer,
		HeartbeatAfter:    s.cfg.HeartbeatAfter,
		InactivityTimeout: s.cfg.InactivityTimeout,
		Codec:             s.codec,
		Logger:            s.logger,
		PasswordCost:      s.cfg.PasswordCost,
	}
}

func (s *Server) register(p *players.Player) error {
	if err := s.players.Add(p); err != nil {
		return err
	}

	commID, err := s.commutators.Add(p.Commutator())
	if err != nil {
		s.players.Remove(p.Login())
		return fmt.Errorf("register commutator: %w", err)
	}
	if _, err := s.clocks.Add(p.SystemClock()); err != nil {
		s.players.Remove(p.Login())
		s.commutators.Remove(commID)
		return fmt.Errorf("register system clock: %w", err)
	}
	s.upkeep.Add(p.SessionMux())

	s.logger.Info("player added", "player", p.Login())
	return nil
}

// Step runs one tick and returns the in-game microseconds it covered.
func (s *Server) Step() uint32 {
	interval := s.clock.NextInterval()
	if interval > 0 {
		s.conveyor.Proceed(interval)
	}
	return interval
}

// Run starts the clock, the tick loop and every gateway. It returns when ctx is done or a gateway
// fails, after shutting everything down.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if s.closed.Load() {
		return ErrServerClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	if s.closed.Load() {
		cancel()
	}

	s.clock.Start(s.cfg.DebugStart)
	s.logger.Info("server started", "threads", s.conveyor.Threads(), "clock", s.clock.Mode().String())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.tickLoop(ctx)
		return nil
	})

	s.mu.Lock()
	gateways := append([]*Gateway(nil), s.gateways...)
	s.mu.Unlock()
	for _, gw := range gateways {
		g.Go(func() error {
			if err := gw.Run(ctx); err != nil {
				return fmt.Errorf("gateway %s: %w", gw.Name(), err)
			}
			return nil
		})
	}

	err := g.Wait()
	s.Shutdown()
	s.conveyor.Close()

	if err != nil {
		s.logger.Error("server stopped", "error", err)
	} else {
		s.logger.Info("server stopped")
	}
	return err
}

func (s *Server) tickLoop(ctx context.Context) {
	minTick := s.cfg.MinTick
	if minTick <= 0 {
		minTick = time.Millisecond
	}

	var statsC <-chan time.Time
	if s.cfg.StatsPeriod > 0 {
		stats := time.NewTicker(s.cfg.StatsPeriod)
		defer stats.Stop()
		statsC = stats.C
	}

	for {
		started := time.Now()
		s.Step()

		wait := minTick - time.Since(started)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-statsC:
			s.logStats()
		case <-time.After(wait):
		}
	}
}

func (s *Server) logStats() {
	st := s.clock.ExportStat()
	s.logger.Info("clock",
		"ticks", st.Ticks,
		"in_game", st.InGameTime,
		"real", st.RealTime,
		"deviation", st.Deviation,
		"period_ticks", st.PeriodTicks,
		"avg_tick", st.AvgTickPerPeriod,
	)
	for _, l := range s.conveyor.Stats().Logic {
		s.logger.Info("logic", "name", l.Name, "runs", l.Runs)
	}
}

// Shutdown stops the gateways and the tick loop and drops every client. It is safe to call more
// than once.
func (s *Server) Shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	for _, g := range s.gateways {
		if err := g.Close(); err != nil {
			s.logger.Warn("failed to close gateway", "gateway", g.Name(), "error", err)
		}
	}
	s.mu.Unlock()

	for _, p := range s.players.All() {
		p.Close()
	}
	s.clock.Terminate()

	// a running server closes the conveyor once its tick loop is gone
	if !s.running.Load() {
		s.conveyor.Close()
	}
}
