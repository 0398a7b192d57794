package network

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/QYUbit/Expanse/pkg/axlog"
	"github.com/QYUbit/Expanse/pkg/ids"
	"github.com/QYUbit/Expanse/pkg/transport"
	"github.com/QYUbit/Expanse/pkg/wire"
)

const DefaultOutboxSize = 256

var ErrSocketClosed = errors.New("socket is closed")

type link struct {
	peer   transport.Peer
	reader io.Reader
	out    chan []byte
	done   chan struct{}

	closeOnce sync.Once
	code      transport.CloseCode
	reason    string
}

func (l *link) shutdown(code transport.CloseCode, reason string) {
	l.closeOnce.Do(func() {
		l.code, l.reason = code, reason
		close(l.done)
	})
}

// Socket is the connection table of one player. Connection ids are small integers below the
// table limit; an id stays reserved until the owning SessionMux closes the connection.
//
// Socket is the Channel a SessionMux forwards to: Send and CloseSession take connection ids.
type Socket struct {
	logger     axlog.Logger
	codec      wire.FrameCodec
	outboxSize int

	mu       sync.Mutex
	links    []*link
	free     *ids.Pool[uint32]
	terminal Terminal[*wire.Frame]
	closed   atomic.Bool
}

func NewSocket(limit int, codec wire.FrameCodec, logger axlog.Logger) *Socket {
	if limit <= 0 {
		limit = DefaultConnectionLimit
	}
	return &Socket{
		logger:     axlog.OrNop(logger),
		codec:      codec,
		outboxSize: DefaultOutboxSize,
		links:      make([]*link, limit),
		free:       ids.NewPool[uint32](0, uint32(limit-1)),
	}
}

// AttachToTerminal sets where inbound frames and disconnects are reported.
func (s *Socket) AttachToTerminal(t Terminal[*wire.Frame]) {
	s.mu.Lock()
	s.terminal = t
	s.mu.Unlock()
}

// Attach reserves a connection id for peer and starts its writer. Inbound frames are read from r,
// which must wrap peer, once Serve is called.
func (s *Socket) Attach(peer transport.Peer, r io.Reader) (uint32, error) {
	if s.closed.Load() {
		return 0, ErrSocketClosed
	}
	if r == nil {
		r = bufio.NewReader(peer)
	}

	s.mu.Lock()
	connID, ok := s.free.Next()
	if !ok {
		s.mu.Unlock()
		return 0, ErrNoFreeConnection
	}
	l := &link{
		peer:   peer,
		reader: r,
		out:    make(chan []byte, s.outboxSize),
		done:   make(chan struct{}),
	}
	s.links[connID] = l
	s.mu.Unlock()

	go s.writeLoop(connID, l)
	return connID, nil
}

// Serve starts delivering inbound frames of connID to the terminal.
func (s *Socket) Serve(connID uint32) bool {
	s.mu.Lock()
	l := s.linkLocked(connID)
	s.mu.Unlock()
	if l == nil {
		return false
	}
	go s.readLoop(connID, l)
	return true
}

func (s *Socket) linkLocked(connID uint32) *link {
	if connID >= uint32(len(s.links)) {
		return nil
	}
	return s.links[connID]
}

// Send encodes frame and queues it for connID. A full outbox drops the frame.
func (s *Socket) Send(connID uint32, frame *wire.Frame) bool {
	var buf bytes.Buffer
	if err := s.codec.WriteFrame(&buf, frame); err != nil {
		s.logger.Warn("failed to encode frame", "connection", connID, "error", err)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.linkLocked(connID)
	if l == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.out <- buf.Bytes():
		return true
	default:
		s.logger.Warn("outbox full, frame dropped", "connection", connID)
		return false
	}
}

// CloseSession closes connection connID after its queued frames are written, and frees the id.
func (s *Socket) CloseSession(connID uint32) {
	s.closeLink(connID, nil, transport.CloseNormal, "")
}

// Kick closes connID with a specific close code.
func (s *Socket) Kick(connID uint32, code transport.CloseCode, reason string) {
	s.closeLink(connID, nil, code, reason)
}

// closeLink closes connID if it is still served by want (any link when want is nil).
func (s *Socket) closeLink(connID uint32, want *link, code transport.CloseCode, reason string) bool {
	s.mu.Lock()
	l := s.linkLocked(connID)
	if l == nil || (want != nil && l != want) {
		s.mu.Unlock()
		return false
	}
	s.links[connID] = nil
	s.free.Release(connID)
	s.mu.Unlock()

	l.shutdown(code, reason)
	return true
}

func (s *Socket) Valid() bool {
	return !s.closed.Load()
}

// Connections counts attached peers.
func (s *Socket) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.free.InUse()
}

// Close drops every peer and refuses new ones.
func (s *Socket) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	for connID := range s.links {
		s.closeLink(uint32(connID), nil, transport.CloseGoingAway, "server shutdown")
	}
}

func (s *Socket) readLoop(connID uint32, l *link) {
	for {
		frame, err := s.codec.ReadFrame(l.reader)
		if err != nil {
			select {
			case <-l.done:
			default:
				if !errors.Is(err, io.EOF) {
					s.logger.Debug("connection read failed", "connection", connID, "error", err)
				}
			}
			break
		}

		s.mu.Lock()
		t := s.terminal
		current := s.linkLocked(connID) == l
		s.mu.Unlock()
		if !current {
			return
		}
		if t != nil {
			t.OnMessageReceived(connID, frame)
		}
	}

	s.mu.Lock()
	t := s.terminal
	current := s.linkLocked(connID) == l
	s.mu.Unlock()
	if !current {
		return
	}

	if t != nil {
		t.OnSessionClosed(connID)
	}
	// the terminal did not know the connection
	s.closeLink(connID, l, transport.CloseProtocolError, "connection lost")
}

func (s *Socket) writeLoop(connID uint32, l *link) {
	defer func() {
		if err := l.peer.Close(l.code, l.reason); err != nil {
			s.logger.Debug("failed to close peer", "connection", connID, "error", err)
		}
	}()

	for {
		select {
		case b := <-l.out:
			if _, err := l.peer.Write(b); err != nil {
				s.logger.Debug("connection write failed", "connection", connID, "error", err)
				l.shutdown(transport.CloseProtocolError, "write failed")
				return
			}
		case <-l.done:
			for {
				select {
				case b := <-l.out:
					if _, err := l.peer.Write(b); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
