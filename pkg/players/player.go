// Package players holds the per-player network stack: the connection table, the session mux and
// the root commutator every client starts from.
package players

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/QYUbit/Expanse/pkg/axlog"
	"github.com/QYUbit/Expanse/pkg/clock"
	"github.com/QYUbit/Expanse/pkg/modules"
	"github.com/QYUbit/Expanse/pkg/network"
	"github.com/QYUbit/Expanse/pkg/transport"
	"github.com/QYUbit/Expanse/pkg/wire"
)

const SystemClockName = "SystemClock"

type Options struct {
	ConnectionLimit   int
	HeartbeatAfter    time.Duration
	InactivityTimeout time.Duration
	Codec             wire.FrameCodec
	Logger            axlog.Logger

	// PasswordCost is the bcrypt cost New hashes passwords with.
	PasswordCost int
}

func (o *Options) withDefaults() {
	if o.ConnectionLimit <= 0 {
		o.ConnectionLimit = network.DefaultConnectionLimit
	}
	if o.HeartbeatAfter <= 0 {
		o.HeartbeatAfter = network.DefaultHeartbeatAfter
	}
	if o.InactivityTimeout <= 0 {
		o.InactivityTimeout = network.DefaultInactivityTimeout
	}
	if o.PasswordCost == 0 {
		o.PasswordCost = bcrypt.DefaultCost
	}
	if o.Codec == nil {
		o.Codec = wire.NewDefaultCodec()
	}
	o.Logger = axlog.OrNop(o.Logger)
}

type Player struct {
	login        string
	passwordHash []byte
	logger       axlog.Logger

	socket      *network.Socket
	mux         *network.SessionMux
	root        *rootSession
	commutator  *modules.Commutator
	systemClock *modules.SystemClock
}

// New hashes password and wires the network stack of a player. The root commutator starts with the
// player's system clock attached; both still have to be registered with their managers.
func New(login, password string, src clock.Source, opts Options) (*Player, error) {
	if login == "" {
		return nil, ErrEmptyLogin
	}
	opts.withDefaults()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), opts.PasswordCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return newPlayer(login, hash, src, opts), nil
}

// NewWithHash is like New for a password that is already bcrypt hashed.
func NewWithHash(login string, passwordHash []byte, src clock.Source, opts Options) (*Player, error) {
	if login == "" {
		return nil, ErrEmptyLogin
	}
	if _, err := bcrypt.Cost(passwordHash); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	opts.withDefaults()
	return newPlayer(login, passwordHash, src, opts), nil
}

func newPlayer(login string, passwordHash []byte, src clock.Source, opts Options) *Player {
	logger := axlog.With(opts.Logger, "player", login)

	p := &Player{
		login:        login,
		passwordHash: passwordHash,
		logger:       logger,
		socket:       network.NewSocket(opts.ConnectionLimit, opts.Codec, logger),
		mux: network.NewSessionMux(opts.ConnectionLimit, src,
			network.WithMuxLogger(logger),
			network.WithLiveness(opts.HeartbeatAfter, opts.InactivityTimeout),
		),
	}
	p.socket.AttachToTerminal(p.mux)
	p.mux.AttachToChannel(p.socket)

	p.commutator = modules.NewCommutator(login, p.mux, src, logger)
	p.systemClock = modules.NewSystemClock(SystemClockName, src)
	p.commutator.Attach(p.systemClock)

	p.root = &rootSession{mux: p.mux, commutator: p.commutator, logger: logger}
	return p
}

func (p *Player) Login() string { return p.login }

func (p *Player) Authenticate(password string) bool {
	return bcrypt.CompareHashAndPassword(p.passwordHash, []byte(password)) == nil
}

func (p *Player) SessionMux() *network.SessionMux { return p.mux }

func (p *Player) Socket() *network.Socket { return p.socket }

func (p *Player) Commutator() *modules.Commutator { return p.commutator }

func (p *Player) SystemClock() *modules.SystemClock { return p.systemClock }

// Connect attaches peer and opens its root session. r must wrap peer and may already hold
// buffered bytes of it. Frames sent to the returned root session are queued until Serve is called.
func (p *Player) Connect(peer transport.Peer, r io.Reader) (connID, rootID uint32, err error) {
	connID, err = p.socket.Attach(peer, r)
	if err != nil {
		return 0, 0, err
	}

	rootID, err = p.mux.AddConnection(connID, p.root)
	if err != nil {
		p.socket.Kick(connID, transport.CloseRejected, "no free session")
		return 0, 0, err
	}

	p.logger.Info("client connected", "connection", connID, "session", rootID, "peer", peer.RemoteAddr().String())
	return connID, rootID, nil
}

// Serve starts reading the frames of connID.
func (p *Player) Serve(connID uint32) bool {
	return p.socket.Serve(connID)
}

// Close drops every connection of the player.
func (p *Player) Close() {
	for connID := 0; connID < p.mux.ConnectionLimit(); connID++ {
		p.mux.CloseConnection(uint32(connID))
	}
	p.socket.Close()
}

// rootSession answers requests on root sessions. It handles them at once, on the reading
// goroutine of the connection.
type rootSession struct {
	mux        *network.SessionMux
	commutator *modules.Commutator
	logger     axlog.Logger
}

func (r *rootSession) OpenSession(uint32) bool { return true }

func (r *rootSession) OnSessionClosed(uint32) {}

func (r *rootSession) OnMessageReceived(sessionID uint32, frame *wire.Frame) {
	req, ok := frame.Body.(*wire.RootSession)
	if !ok || req.Kind != wire.NewCommutatorSession {
		return
	}

	// session id 0 tells the client that no session could be opened
	child, err := r.mux.CreateSession(sessionID, r.commutator)
	if err != nil {
		r.logger.Warn("failed to open commutator session", "session", sessionID, "error", err)
		child = 0
	}
	r.mux.Send(sessionID, &wire.Frame{Body: &wire.RootSession{Kind: wire.CommutatorSession, SessionID: child}})
}
