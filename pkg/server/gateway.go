package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/QYUbit/Expanse/pkg/axlog"
	"github.com/QYUbit/Expanse/pkg/network"
	"github.com/QYUbit/Expanse/pkg/players"
	"github.com/QYUbit/Expanse/pkg/transport"
	"github.com/QYUbit/Expanse/pkg/wire"
)

const (
	DefaultLoginTimeout = 5 * time.Second

	limiterSweepInterval = time.Minute

	rejectUnknownPlayer = "unknown login or wrong password"
	rejectRateLimited   = "too many attempts"
	rejectNoConnection  = "no free connection"
)

// Gateway accepts peers of one transport and hands authenticated ones to their player.
type Gateway struct {
	name      string
	transport transport.Transport
	storage   *players.Storage
	codec     wire.FrameCodec
	logger    axlog.Logger

	loginTimeout time.Duration
	loginRate    rate.Limit
	loginBurst   int

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	lastSweep time.Time

	closed atomic.Bool
	wg     sync.WaitGroup
}

type GatewayOption func(*Gateway)

func WithGatewayLogger(l axlog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

func WithLoginTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.loginTimeout = d }
}

// WithLoginRate limits login attempts per remote host.
func WithLoginRate(perSecond float64, burst int) GatewayOption {
	return func(g *Gateway) {
		g.loginRate = rate.Limit(perSecond)
		g.loginBurst = burst
	}
}

func NewGateway(name string, t transport.Transport, storage *players.Storage, codec wire.FrameCodec, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		name:         name,
		transport:    t,
		storage:      storage,
		codec:        codec,
		loginTimeout: DefaultLoginTimeout,
		loginRate:    1,
		loginBurst:   3,
		limiters:     make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = axlog.With(axlog.OrNop(g.logger), "gateway", name)
	return g
}

func (g *Gateway) Name() string { return g.name }

func (g *Gateway) Addr() net.Addr { return g.transport.Addr() }

// Run listens and accepts peers until ctx is done or the transport fails.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.transport.Listen(); err != nil {
		return err
	}
	defer g.wg.Wait()
	defer g.transport.Close()

	g.logger.Info("gateway listening", "addr", g.transport.Addr().String())

	for {
		peer, err := g.transport.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || g.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			g.logger.Error("failed to accept new peer", "error", err)
			continue
		}

		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.handle(ctx, peer)
		}()
	}
}

// Close stops accepting. Peers already handed to players stay connected.
func (g *Gateway) Close() error {
	g.closed.Store(true)
	return g.transport.Close()
}

func (g *Gateway) handle(ctx context.Context, peer transport.Peer) {
	logger := axlog.With(g.logger, "trace", uuid.NewString(), "peer", peer.RemoteAddr().String())

	if err := g.admit(peer.RemoteAddr(), time.Now()); err != nil {
		logger.Warn("login rejected", "error", err)
		g.reject(peer, rejectRateLimited)
		return
	}

	r := bufio.NewReader(peer)
	login, err := g.readLogin(ctx, r)
	if err != nil {
		logger.Warn("login failed", "error", err)
		switch {
		case errors.Is(err, ErrLoginTimeout):
			peer.Close(transport.CloseTimeout, err.Error())
		case errors.Is(err, ErrLoginExpected):
			peer.Close(transport.CloseProtocolError, err.Error())
		default:
			peer.Close(transport.CloseGoingAway, "")
		}
		return
	}

	p, ok := g.storage.Get(login.Login)
	if !ok || !p.Authenticate(login.Password) {
		logger.Warn("access rejected", "login", login.Login)
		g.reject(peer, rejectUnknownPlayer)
		return
	}

	connID, rootID, err := p.Connect(peer, r)
	if err != nil {
		logger.Warn("access rejected", "login", login.Login, "error", err)
		// the player kicks peers it attached but could not open
		if errors.Is(err, network.ErrNoFreeConnection) || errors.Is(err, network.ErrSocketClosed) {
			g.reject(peer, rejectNoConnection)
		}
		return
	}

	granted := wire.NewFrame(0, &wire.AccessPanel{Kind: wire.AccessGranted, SessionID: rootID})
	if !p.Socket().Send(connID, granted) {
		logger.Warn("connection lost before access was granted", "login", login.Login)
		return
	}
	p.Serve(connID)

	logger.Info("access granted", "login", login.Login, "connection", connID, "session", rootID)
}

func (g *Gateway) readLogin(ctx context.Context, r *bufio.Reader) (*wire.AccessPanel, error) {
	type result struct {
		frame *wire.Frame
		err   error
	}
	done := make(chan result, 1)
	go func() {
		f, err := g.codec.ReadFrame(r)
		done <- result{f, err}
	}()

	timer := time.NewTimer(g.loginTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		panel, ok := res.frame.Body.(*wire.AccessPanel)
		if !ok || panel.Kind != wire.Login {
			return nil, ErrLoginExpected
		}
		return panel, nil
	case <-timer.C:
		return nil, ErrLoginTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *Gateway) reject(peer transport.Peer, reason string) {
	f := wire.NewFrame(0, &wire.AccessPanel{Kind: wire.AccessRejected, Reason: reason})
	if err := g.codec.WriteFrame(peer, f); err != nil {
		g.logger.Debug("failed to send rejection", "error", err)
	}
	peer.Close(transport.CloseRejected, reason)
}

// admit takes a login token of the remote host. Hosts whose bucket refilled are forgotten once
// per limiterSweepInterval, a fresh limiter behaves the same.
func (g *Gateway) admit(addr net.Addr, now time.Time) error {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}

	g.limiterMu.Lock()
	defer g.limiterMu.Unlock()

	if now.Sub(g.lastSweep) >= limiterSweepInterval {
		for h, l := range g.limiters {
			if l.TokensAt(now) >= float64(l.Burst()) {
				delete(g.limiters, h)
			}
		}
		g.lastSweep = now
	}

	limiter, ok := g.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(g.loginRate, g.loginBurst)
		g.limiters[host] = limiter
	}
	if !limiter.AllowN(now, 1) {
		return ErrRateLimited
	}
	return nil
}
